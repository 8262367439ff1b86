package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/warriorguo/blockflow"
	"github.com/warriorguo/blockflow/multirun"
	"github.com/warriorguo/blockflow/types"
)

var (
	runWorkflowFile string
	runWorkflowID   string
	runInput        string
	runCount        int
	runPrint        bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a workflow N times through the remote API",
	Long: `Runs a saved workflow, or the workflow document given with --file
after saving it, --runs times in a row. The usage quota is checked along
the way and the batch stops once it is exceeded. Interrupting the
command lets the current run finish and cancels the rest.`,
	RunE: runBatch,
}

func init() {
	runCmd.Flags().StringVarP(&runWorkflowFile, "file", "f", "", "workflow document to save and run")
	runCmd.Flags().StringVar(&runWorkflowID, "id", "", "id of a saved workflow")
	runCmd.Flags().StringVarP(&runInput, "input", "i", "{}", "input of every run as a JSON object")
	runCmd.Flags().IntVarP(&runCount, "runs", "n", 1, "number of runs")
	runCmd.Flags().BoolVarP(&runPrint, "print", "p", false, "print the response of the last successful run")
}

func readWorkflow(path string) (*types.Workflow, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	doc := &types.WorkflowDocument{}
	if err := json.Unmarshal(b, doc); err != nil {
		return nil, errors.NotValidf("workflow document %s: %v", path, err)
	}
	return doc.Workflow(), nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	if (runWorkflowFile == "") == (runWorkflowID == "") {
		return errors.BadRequestf("exactly one of --file and --id is required")
	}
	input := types.Data{}
	if err := json.Unmarshal([]byte(runInput), &input); err != nil {
		return errors.BadRequestf("input: %v", err)
	}

	ctx := context.Background()
	c := blockflow.NewClient(cfg.ClientOptions()...)

	workflowID := runWorkflowID
	if runWorkflowFile != "" {
		wf, err := readWorkflow(runWorkflowFile)
		if err != nil {
			return errors.Trace(err)
		}
		saved, err := c.SaveWorkflow(ctx, wf)
		if err != nil {
			return errors.Trace(err)
		}
		workflowID = saved.ID
		log.WithField("workflowId", workflowID).Info("workflow saved")
	}

	token := multirun.NewCancelToken()
	sigCtx, stop := signalContext()
	defer stop()
	go func() {
		<-sigCtx.Done()
		token.Cancel()
	}()

	quota := multirun.NewQuotaChecker(c, multirun.NewCache(time.Minute), time.Minute)
	controller := multirun.NewController(c, quota, c)
	var last *types.ExecutionResult
	controller.OnProgress = func(p multirun.Progress) {
		if p.Result != nil && p.Result.Success {
			last = p.Result
		}
		entry := log.WithFields(log.Fields{"completed": p.Completed, "total": p.Total})
		switch {
		case p.Err != nil:
			entry.WithError(p.Err).Warn("run failed")
		case p.Result != nil && !p.Result.Success:
			entry.Warnf("run failed: %s", p.Result.Error)
		default:
			entry.Info("run completed")
		}
	}

	report, err := controller.Run(ctx, multirun.Batch{
		WorkflowID: workflowID,
		Input:      input,
		Runs:       runCount,
	}, token)
	if err != nil {
		return errors.Trace(err)
	}
	controller.Wait()

	out := cmd.OutOrStdout()
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(map[string]any{
		"workflowId":    report.WorkflowID,
		"state":         report.State,
		"runs":          report.Runs,
		"completedRuns": report.CompletedRuns,
		"failures":      report.Failures,
		"usage":         report.Usage,
		"elapsedMs":     report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
	}); err != nil {
		return errors.Trace(err)
	}
	if runPrint && last != nil {
		return printContent(out, last.Content())
	}
	return nil
}

// printContent writes text as is and json indented, an empty response as a marker line.
func printContent(w io.Writer, c types.Content) error {
	var err error
	switch c.Kind {
	case types.ContentText, types.ContentJSON:
		_, err = fmt.Fprintln(w, c.String())
	default:
		_, err = fmt.Fprintln(w, "(empty response)")
	}
	return errors.Trace(err)
}
