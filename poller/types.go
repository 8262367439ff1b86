package poller

import (
	"context"
	"time"

	"github.com/juju/errors"

	"github.com/warriorguo/blockflow/types"
)

const (
	// ErrCursorInvalid is returned by Feed.Changes when the cursor is too old to resume from.
	ErrCursorInvalid = errors.ConstError("change cursor is no longer valid")
	// ErrTickInFlight is reported for a subscription whose previous tick has not finished.
	ErrTickInFlight = errors.ConstError("tick already in flight")
)

/**
 * Subscription is one upstream source watched on behalf of a workflow,
 * typically one connected mailbox. New items are posted to TriggerPath.
 */
type Subscription struct {
	ID            string   `json:"id"`
	WorkflowID    string   `json:"workflowId"`
	Account       string   `json:"account,omitempty"`
	TriggerPath   string   `json:"triggerPath"`
	Secret        string   `json:"secret,omitempty"`
	IncludeLabels []string `json:"includeLabels,omitempty"`
	ExcludeLabels []string `json:"excludeLabels,omitempty"`
	// SingleItem delivers only the most recent new item of a tick.
	SingleItem bool `json:"singleItem,omitempty"`
}

type Item struct {
	ID         string     `json:"id"`
	ThreadID   string     `json:"threadId,omitempty"`
	ReceivedAt time.Time  `json:"receivedAt"`
	Data       types.Data `json:"data,omitempty"`
}

// Payload is the body delivered for the item, its fields plus the delivery timestamp.
func (i *Item) Payload(now time.Time) types.Data {
	payload := i.Data.Clone()
	if payload == nil {
		payload = types.Data{}
	}
	payload["id"] = i.ID
	if i.ThreadID != "" {
		payload["threadId"] = i.ThreadID
	}
	if !i.ReceivedAt.IsZero() {
		payload["receivedAt"] = i.ReceivedAt.UTC().Format(time.RFC3339)
	}
	payload["timestamp"] = now.UTC().Format(time.RFC3339)
	return payload
}

type ChangeSet struct {
	Items []*Item
	// Cursor resumes the feed after these items, empty when unknown.
	Cursor string
}

type Query struct {
	IncludeLabels []string
	ExcludeLabels []string
	After         time.Time
	Limit         int
}

type Feed interface {
	Changes(ctx context.Context, credential, cursor string) (*ChangeSet, error)
	Search(ctx context.Context, credential string, query Query) (*ChangeSet, error)
}

type CredentialResolver interface {
	Credential(ctx context.Context, sub *Subscription) (string, error)
}

type CredentialFunc func(ctx context.Context, sub *Subscription) (string, error)

func (f CredentialFunc) Credential(ctx context.Context, sub *Subscription) (string, error) {
	return f(ctx, sub)
}

type Deliverer interface {
	Deliver(ctx context.Context, sub *Subscription, item *Item) error
}

/**
 * TickResult describes one tick of one subscription. Err is set when the
 * tick could not fetch anything, per item delivery failures only count
 * in Failed.
 */
type TickResult struct {
	SubscriptionID string
	Fetched        int
	Duplicates     int
	Skipped        int
	Delivered      int
	Failed         int
	UsedSearch     bool
	Cursor         string
	Err            error
}
