package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/warriorguo/blockflow"
	"github.com/warriorguo/blockflow/gmail"
	"github.com/warriorguo/blockflow/metrics"
	"github.com/warriorguo/blockflow/poller"
	"github.com/warriorguo/blockflow/store"
)

var pollOnce bool

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll mailboxes and trigger workflow webhooks with new mail",
	Long: `Watches the subscriptions of poller.subscriptions and every
subscription saved in the store. Each new message is posted to the
webhook trigger path of its subscription on the remote server.`,
	RunE: runPoll,
}

func init() {
	pollCmd.Flags().BoolVar(&pollOnce, "once", false, "poll every subscription once and print the results")
}

/**
 * newPollScheduler wires the gmail feed, the webhook deliverer and the
 * poll state in s. The configured subscriptions are saved first so that
 * they survive in the store next to the ones added at runtime.
 */
func newPollScheduler(s store.Store, m *metrics.Metrics) (*poller.Scheduler, error) {
	feed := gmail.NewFeed(
		gmail.WithBaseURL(cfg.Poller.Gmail.BaseURL),
		gmail.WithRateLimit(cfg.Poller.Gmail.RequestsPerSecond, cfg.Poller.Gmail.Burst),
	)
	token := cfg.Poller.Gmail.AccessToken
	creds := poller.CredentialFunc(func(ctx context.Context, sub *poller.Subscription) (string, error) {
		if token == "" {
			return "", errors.NotFoundf("access token for %s", sub.Account)
		}
		return token, nil
	})
	deliverer := poller.NewWebhookDeliverer(blockflow.NewClient(cfg.ClientOptions()...))

	states := poller.NewStateStore(s)
	for _, sub := range cfg.Subscriptions() {
		if err := states.SaveSubscription(context.Background(), sub); err != nil {
			return nil, errors.Annotatef(err, "failed to save subscription %s", sub.ID)
		}
	}

	reconciler := poller.NewReconciler(feed, creds, deliverer, states, cfg.ReconcilerOptions()...)
	reconciler.SetMetrics(m)

	scheduler, err := poller.NewScheduler(reconciler, states.Subscriptions, cfg.Poller.Interval)
	if err != nil {
		return nil, errors.Trace(err)
	}
	scheduler.OnRound = func(results []*poller.TickResult) {
		for _, result := range results {
			log.WithFields(log.Fields{
				"subscriptionId": result.SubscriptionID,
				"delivered":      result.Delivered,
				"failed":         result.Failed,
				"duplicates":     result.Duplicates,
			}).Debug("subscription polled")
		}
	}
	return scheduler, nil
}

func runPoll(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	opts, err := cfg.EngineOptions()
	if err != nil {
		return errors.Trace(err)
	}
	s, err := blockflow.NewStore(ctx, opts)
	if err != nil {
		return errors.Trace(err)
	}
	defer store.Close(s)

	scheduler, err := newPollScheduler(s, nil)
	if err != nil {
		return errors.Trace(err)
	}

	if pollOnce {
		results := scheduler.Round(ctx)
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		for _, result := range results {
			if err := encoder.Encode(tickOutput(result)); err != nil {
				return errors.Trace(err)
			}
		}
		return nil
	}

	if err := scheduler.Start(ctx); err != nil {
		return errors.Trace(err)
	}
	<-ctx.Done()
	log.Info("stopping poller")
	return errors.Trace(scheduler.Shutdown())
}

func tickOutput(result *poller.TickResult) map[string]any {
	out := map[string]any{
		"subscriptionId": result.SubscriptionID,
		"fetched":        result.Fetched,
		"duplicates":     result.Duplicates,
		"skipped":        result.Skipped,
		"delivered":      result.Delivered,
		"failed":         result.Failed,
		"usedSearch":     result.UsedSearch,
	}
	if result.Err != nil {
		out["error"] = result.Err.Error()
	}
	return out
}
