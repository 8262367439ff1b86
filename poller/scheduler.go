package poller

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
)

// SubscriptionSource lists the subscriptions to poll on every tick.
type SubscriptionSource func(ctx context.Context) ([]*Subscription, error)

/**
 * Scheduler runs PollAll on a fixed interval. A round still running when
 * the next one is due makes gocron reschedule instead of overlapping.
 */
type Scheduler struct {
	reconciler *Reconciler
	source     SubscriptionSource
	interval   time.Duration
	scheduler  gocron.Scheduler

	// OnRound receives the results of every round.
	OnRound func([]*TickResult)
}

func NewScheduler(reconciler *Reconciler, source SubscriptionSource, interval time.Duration) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.NotValidf("poll interval %s", interval)
	}
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, errors.Annotatef(err, "failed to create scheduler")
	}
	return &Scheduler{
		reconciler: reconciler,
		source:     source,
		interval:   interval,
		scheduler:  scheduler,
	}, nil
}

// Start schedules the rounds, the first one runs right away.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			s.Round(ctx)
		}),
		gocron.WithName("poll-subscriptions"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return errors.Annotatef(err, "failed to create poll job")
	}
	s.scheduler.Start()
	log.Infof("poll scheduler started, interval %s", s.interval)
	return nil
}

// Round polls every subscription once.
func (s *Scheduler) Round(ctx context.Context) []*TickResult {
	if ctx.Err() != nil {
		return nil
	}
	subs, err := s.source(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to list subscriptions")
		return nil
	}

	results := s.reconciler.PollAll(ctx, subs)
	for _, result := range results {
		if result.Err != nil && !errors.Is(result.Err, ErrTickInFlight) {
			log.WithError(result.Err).WithField("subscriptionId", result.SubscriptionID).Warn("poll failed")
		}
	}
	if s.OnRound != nil {
		s.OnRound(results)
	}
	return results
}

func (s *Scheduler) Shutdown() error {
	return s.scheduler.Shutdown()
}
