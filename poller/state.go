package poller

import (
	"context"
	"time"

	"github.com/juju/errors"

	"github.com/warriorguo/blockflow/store"
)

const (
	PollStatePath    = "/poll_state/"
	SubscriptionPath = "/subscription/"
)

type PollState struct {
	LastCheckedTimestamp time.Time `json:"lastCheckedTimestamp"`
	HistoryID            string    `json:"historyId,omitempty"`
	ProcessedIDs         []string  `json:"processedIds"`
}

// StateStore keeps poll states and subscriptions in a store.Store.
type StateStore struct {
	store store.Store
}

func NewStateStore(s store.Store) *StateStore {
	return &StateStore{store: s}
}

// Load returns an empty state for a subscription never polled.
func (s *StateStore) Load(ctx context.Context, subscriptionID string) (*PollState, error) {
	state := &PollState{}
	if err := store.GetJSON(ctx, s.store, PollStatePath, subscriptionID, state); err != nil {
		if errors.Is(err, errors.NotFound) {
			return &PollState{}, nil
		}
		return nil, errors.Annotatef(err, "failed to load poll state of %s", subscriptionID)
	}
	return state, nil
}

func (s *StateStore) Save(ctx context.Context, subscriptionID string, state *PollState) error {
	return errors.Trace(store.SetJSON(ctx, s.store, PollStatePath, subscriptionID, state))
}

func (s *StateStore) Reset(ctx context.Context, subscriptionID string) error {
	return errors.Trace(s.store.Remove(ctx, PollStatePath, subscriptionID))
}

func (s *StateStore) SaveSubscription(ctx context.Context, sub *Subscription) error {
	if sub.ID == "" {
		return errors.NotValidf("subscription without id")
	}
	return errors.Trace(store.SetJSON(ctx, s.store, SubscriptionPath, sub.ID, sub))
}

func (s *StateStore) RemoveSubscription(ctx context.Context, subscriptionID string) error {
	if err := s.store.Remove(ctx, SubscriptionPath, subscriptionID); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(s.Reset(ctx, subscriptionID))
}

func (s *StateStore) Subscriptions(ctx context.Context) ([]*Subscription, error) {
	ids := make([]string, 0)
	if err := s.store.List(ctx, SubscriptionPath, func(key string) bool {
		ids = append(ids, key)
		return true
	}); err != nil {
		return nil, errors.Annotatef(err, "failed to list subscriptions")
	}

	subs := make([]*Subscription, 0, len(ids))
	for _, id := range ids {
		sub := &Subscription{}
		if err := store.GetJSON(ctx, s.store, SubscriptionPath, id, sub); err != nil {
			if errors.Is(err, errors.NotFound) {
				continue
			}
			return nil, errors.Trace(err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}
