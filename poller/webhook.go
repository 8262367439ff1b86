package poller

import (
	"context"
	"time"

	"github.com/juju/errors"

	"github.com/warriorguo/blockflow/types"
)

type WebhookTrigger interface {
	TriggerWebhook(ctx context.Context, path, secret string, payload types.Data) error
}

// WebhookDeliverer posts every item to the trigger path of its subscription.
type WebhookDeliverer struct {
	trigger WebhookTrigger
	now     func() time.Time
}

func NewWebhookDeliverer(trigger WebhookTrigger) *WebhookDeliverer {
	return &WebhookDeliverer{trigger: trigger, now: time.Now}
}

func (d *WebhookDeliverer) Deliver(ctx context.Context, sub *Subscription, item *Item) error {
	if sub.TriggerPath == "" {
		return errors.NotValidf("subscription %s without trigger path", sub.ID)
	}
	err := d.trigger.TriggerWebhook(ctx, sub.TriggerPath, sub.Secret, item.Payload(d.now()))
	return errors.Annotatef(err, "deliver %s to %s", item.ID, sub.TriggerPath)
}
