package gmail

import (
	"context"

	"github.com/warriorguo/blockflow/poller"
	"github.com/warriorguo/blockflow/store"
	"github.com/warriorguo/blockflow/store/mem"
)

type deliverFunc func(ctx context.Context, sub *poller.Subscription, item *poller.Item) error

func (f deliverFunc) Deliver(ctx context.Context, sub *poller.Subscription, item *poller.Item) error {
	return f(ctx, sub, item)
}

func newMemStore() store.Store {
	return mem.NewMemStore()
}
