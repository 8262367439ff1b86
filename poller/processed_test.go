package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warriorguo/blockflow/store/mem"
	"github.com/warriorguo/blockflow/types"
)

func TestProcessedSet(t *testing.T) {
	s := NewProcessedSet(3, "a", "b")
	assert.True(t, s.Contains("a"))
	assert.False(t, s.Contains("c"))

	s.Add("b")
	assert.Equal(t, []string{"a", "b"}, s.IDs())

	s.Add("c")
	s.Add("d")
	assert.Equal(t, 3, s.Len())
	assert.False(t, s.Contains("a"))
	assert.Equal(t, []string{"b", "c", "d"}, s.IDs())

	// restoring more ids than the capacity keeps the most recent
	s = NewProcessedSet(2, "1", "2", "3", "4")
	assert.Equal(t, []string{"3", "4"}, s.IDs())
}

type recordedTrigger struct {
	path    string
	secret  string
	payload types.Data
	err     error
}

func (r *recordedTrigger) TriggerWebhook(ctx context.Context, path, secret string, payload types.Data) error {
	r.path, r.secret, r.payload = path, secret, payload
	return r.err
}

func TestWebhookDeliverer(t *testing.T) {
	trigger := &recordedTrigger{}
	d := NewWebhookDeliverer(trigger)
	d.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	item := &Item{
		ID:         "m1",
		ThreadID:   "t1",
		ReceivedAt: time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC),
		Data:       types.Data{"subject": "hello"},
	}
	sub := &Subscription{ID: "s1", TriggerPath: "gmail-hook", Secret: "s3cr3t"}
	require.Nil(t, d.Deliver(context.Background(), sub, item))

	assert.Equal(t, "gmail-hook", trigger.path)
	assert.Equal(t, "s3cr3t", trigger.secret)
	assert.Equal(t, types.Data{
		"id":         "m1",
		"threadId":   "t1",
		"subject":    "hello",
		"receivedAt": "2024-03-01T11:00:00Z",
		"timestamp":  "2024-03-01T12:00:00Z",
	}, trigger.payload)
	assert.Nil(t, item.Data["timestamp"])

	trigger.err = errors.New("status 500")
	err := d.Deliver(context.Background(), sub, item)
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "deliver m1 to gmail-hook")

	assert.NotNil(t, d.Deliver(context.Background(), &Subscription{ID: "s2"}, item))
}

func TestScheduler(t *testing.T) {
	feed := &fakeFeed{search: func(q Query) (*ChangeSet, error) {
		return &ChangeSet{Items: items("m1")}, nil
	}}
	deliverer := &fakeDeliverer{}
	states := NewStateStore(mem.NewMemStore())
	require.Nil(t, states.SaveSubscription(context.Background(), &Subscription{ID: "s1", TriggerPath: "hook"}))
	r := NewReconciler(feed, staticCredential, deliverer, states)

	_, err := NewScheduler(r, states.Subscriptions, 0)
	assert.NotNil(t, err)

	s, err := NewScheduler(r, states.Subscriptions, 20*time.Millisecond)
	require.Nil(t, err)

	var once sync.Once
	rounds := make(chan []*TickResult)
	s.OnRound = func(results []*TickResult) {
		once.Do(func() { rounds <- results })
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.Nil(t, s.Start(ctx))

	select {
	case results := <-rounds:
		require.Len(t, results, 1)
		assert.Nil(t, results[0].Err)
		assert.Equal(t, 1, results[0].Delivered)
	case <-time.After(5 * time.Second):
		t.Fatal("no poll round ran")
	}
	cancel()
	assert.Nil(t, s.Shutdown())
	assert.Equal(t, []string{"s1/m1"}, deliverer.Delivered())
}
