package main

import (
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/warriorguo/blockflow"
	"github.com/warriorguo/blockflow/store"
)

var servePoll bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the workflow API over HTTP",
	Long: `Serves workflows, executions, webhooks and usage on server.addr.
With --poll the configured subscriptions are polled in the same process
and the poll metrics are exposed next to the HTTP ones.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&servePoll, "poll", false, "also poll the configured subscriptions")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	opts, err := cfg.EngineOptions()
	if err != nil {
		return errors.Trace(err)
	}
	engine, err := blockflow.NewEngineWithOptions(ctx, opts)
	if err != nil {
		return errors.Trace(err)
	}
	defer store.Close(engine.Store())

	srv, err := blockflow.NewServer(engine, cfg.ServerOptions()...)
	if err != nil {
		return errors.Trace(err)
	}

	if servePoll {
		scheduler, err := newPollScheduler(engine.Store(), srv.Metrics())
		if err != nil {
			return errors.Trace(err)
		}
		if err := scheduler.Start(ctx); err != nil {
			return errors.Trace(err)
		}
		defer scheduler.Shutdown()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen(cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		return errors.Annotatef(err, "server stopped")
	case <-ctx.Done():
		log.Info("shutting down")
		return errors.Trace(srv.Shutdown())
	}
}
