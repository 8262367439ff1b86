package main

import (
	"fmt"

	"github.com/juju/errors"
	"github.com/spf13/cobra"

	"github.com/warriorguo/blockflow/runtime"
)

var renderCmd = &cobra.Command{
	Use:   "render FILE",
	Short: "Print a workflow document as a DOT graph",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wf, err := readWorkflow(args[0])
		if err != nil {
			return errors.Trace(err)
		}
		dot, err := runtime.RenderDOT(wf, nil)
		if err != nil {
			return errors.Trace(err)
		}
		fmt.Fprint(cmd.OutOrStdout(), dot)
		return nil
	},
}
