package poller

import (
	"context"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/blockflow/metrics"
	"github.com/warriorguo/blockflow/types"
)

/**
 * Reconciler forwards new upstream items of every subscription to their
 * trigger endpoint. A subscription is never ticked twice at once, ticks
 * of different subscriptions run concurrently.
 */
type Reconciler struct {
	opts      *types.ReconcilerOptions
	feed      Feed
	creds     CredentialResolver
	deliverer Deliverer
	states    *StateStore
	metrics   *metrics.Metrics
	now       func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewReconciler(feed Feed, creds CredentialResolver, deliverer Deliverer, states *StateStore, options ...types.ReconcilerOption) *Reconciler {
	opts := types.NewReconcilerOptions()
	for _, option := range options {
		option(opts)
	}
	return &Reconciler{
		opts:      opts,
		feed:      feed,
		creds:     creds,
		deliverer: deliverer,
		states:    states,
		now:       time.Now,
		inflight:  make(map[string]struct{}),
	}
}

func (r *Reconciler) SetMetrics(m *metrics.Metrics) {
	r.metrics = m
}

func (r *Reconciler) Options() *types.ReconcilerOptions {
	return r.opts
}

func (r *Reconciler) acquire(subscriptionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.inflight[subscriptionID]; exists {
		return errors.Annotatef(ErrTickInFlight, "subscription %s", subscriptionID)
	}
	r.inflight[subscriptionID] = struct{}{}
	return nil
}

func (r *Reconciler) release(subscriptionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, subscriptionID)
}

/**
 * PollAll ticks every subscription on a worker pool and waits for all of
 * them. Results are in the order of subs, a failing subscription only
 * fails its own result.
 */
func (r *Reconciler) PollAll(ctx context.Context, subs []*Subscription) []*TickResult {
	results := make([]*TickResult, len(subs))
	if len(subs) == 0 {
		return results
	}

	concurrency := r.opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	wp := workerpool.New(concurrency)
	for i, sub := range subs {
		i, sub := i, sub
		wp.Submit(func() {
			result, err := r.Tick(ctx, sub)
			if result == nil {
				result = &TickResult{SubscriptionID: sub.ID}
			}
			result.Err = err
			results[i] = result
		})
	}
	wp.StopWait()
	return results
}

/**
 * Tick polls one subscription:
 *   - a stored cursor asks the feed for the changes since it, an invalid
 *     cursor or no cursor at all falls back to a bounded search
 *   - items already processed are dropped, in single item mode only the
 *     most recent one is kept
 *   - every remaining item is delivered, a failed delivery is counted
 *     and the tick goes on
 *   - the cursor and the processed ids are saved once at the end
 */
func (r *Reconciler) Tick(ctx context.Context, sub *Subscription) (*TickResult, error) {
	if err := r.acquire(sub.ID); err != nil {
		return nil, err
	}
	defer r.release(sub.ID)

	r.metrics.TickStarted()
	defer r.metrics.TickFinished()

	result, err := r.tick(ctx, sub)
	r.metrics.RecordTick(err)
	if result != nil {
		r.metrics.RecordItems(result.Delivered, result.Failed, result.Duplicates)
	}
	return result, err
}

func (r *Reconciler) tick(ctx context.Context, sub *Subscription) (*TickResult, error) {
	logger := log.WithFields(log.Fields{"subscriptionId": sub.ID, "workflowId": sub.WorkflowID})
	result := &TickResult{SubscriptionID: sub.ID}

	state, err := r.states.Load(ctx, sub.ID)
	if err != nil {
		return result, errors.Trace(err)
	}

	credential, err := r.creds.Credential(ctx, sub)
	if err != nil {
		logger.WithError(err).Warn("no credential, skipping subscription")
		return result, errors.Annotatef(err, "failed to resolve credential of %s", sub.ID)
	}

	changes, err := r.fetch(ctx, credential, sub, state, result, logger)
	if err != nil {
		return result, errors.Trace(err)
	}
	result.Fetched = len(changes.Items)

	processed := NewProcessedSet(r.opts.MaxProcessedIDs, state.ProcessedIDs...)
	fresh := make([]*Item, 0, len(changes.Items))
	for _, item := range changes.Items {
		if processed.Contains(item.ID) || containsItem(fresh, item.ID) {
			result.Duplicates++
			continue
		}
		fresh = append(fresh, item)
	}

	if sub.SingleItem && len(fresh) > 1 {
		latest := mostRecent(fresh)
		for _, item := range fresh {
			if item != latest {
				processed.Add(item.ID)
				result.Skipped++
			}
		}
		fresh = []*Item{latest}
	}

	for _, item := range fresh {
		if err := r.deliverer.Deliver(ctx, sub, item); err != nil {
			result.Failed++
			logger.WithError(err).WithField("itemId", item.ID).Warn("delivery failed")
			if r.opts.RetryFailedDeliveries {
				continue
			}
		} else {
			result.Delivered++
		}
		processed.Add(item.ID)
	}

	// a retried delivery needs the feed to return the item again
	if changes.Cursor != "" && !(r.opts.RetryFailedDeliveries && result.Failed > 0) {
		state.HistoryID = changes.Cursor
	}
	state.ProcessedIDs = processed.IDs()
	state.LastCheckedTimestamp = r.now()
	result.Cursor = state.HistoryID

	if err := r.states.Save(ctx, sub.ID, state); err != nil {
		return result, errors.Annotatef(err, "failed to save poll state of %s", sub.ID)
	}

	if result.Delivered > 0 || result.Failed > 0 {
		logger.WithFields(log.Fields{
			"delivered":  result.Delivered,
			"failed":     result.Failed,
			"duplicates": result.Duplicates,
		}).Info("subscription polled")
	}
	return result, nil
}

func (r *Reconciler) fetch(ctx context.Context, credential string, sub *Subscription, state *PollState, result *TickResult, logger *log.Entry) (*ChangeSet, error) {
	if state.HistoryID != "" {
		changes, err := r.feed.Changes(ctx, credential, state.HistoryID)
		if err == nil {
			return changes, nil
		}
		if !errors.Is(err, ErrCursorInvalid) {
			return nil, errors.Annotatef(err, "failed to fetch changes of %s", sub.ID)
		}
		logger.Info("cursor expired, falling back to search")
		state.HistoryID = ""
	}

	result.UsedSearch = true
	changes, err := r.feed.Search(ctx, credential, Query{
		IncludeLabels: sub.IncludeLabels,
		ExcludeLabels: sub.ExcludeLabels,
		After:         state.LastCheckedTimestamp,
		Limit:         r.opts.SearchLimit,
	})
	if err != nil {
		return nil, errors.Annotatef(err, "failed to search items of %s", sub.ID)
	}
	return changes, nil
}

func containsItem(items []*Item, id string) bool {
	for _, item := range items {
		if item.ID == id {
			return true
		}
	}
	return false
}

// mostRecent keeps the first of equally recent items.
func mostRecent(items []*Item) *Item {
	latest := items[0]
	for _, item := range items[1:] {
		if item.ReceivedAt.After(latest.ReceivedAt) {
			latest = item
		}
	}
	return latest
}
