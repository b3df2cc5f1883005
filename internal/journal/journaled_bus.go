package journal

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/quantfabric/twapd/internal/bus/eventbus"
	"github.com/quantfabric/twapd/internal/observability"
	"github.com/quantfabric/twapd/internal/schema"
)

const (
	defaultReplayInterval  = 5 * time.Second
	defaultReplayBatchSize = 128
	maxReplayBackoff       = 2 * time.Second
)

// Option configures the journaled bus wrapper.
type Option func(*JournaledBus)

// WithReplayInterval tweaks the polling cadence for replaying undelivered rows.
func WithReplayInterval(interval time.Duration) Option {
	return func(b *JournaledBus) {
		if interval > 0 {
			b.replayInterval = interval
		}
	}
}

// WithReplayBatchSize configures the number of rows fetched per replay pass.
func WithReplayBatchSize(size int) Option {
	return func(b *JournaledBus) {
		if size > 0 {
			b.replayBatchSize = size
		}
	}
}

// WithReplayDisabled skips starting the background replay worker.
func WithReplayDisabled() Option {
	return func(b *JournaledBus) {
		b.replayDisabled = true
	}
}

// JournaledBus wraps an event bus with journal-backed at-least-once
// publication: every event is persisted before delivery and replayed until a
// delivery succeeds.
type JournaledBus struct {
	inner eventbus.Bus
	store Store

	replayInterval  time.Duration
	replayBatchSize int
	replayDisabled  bool

	replayCtx    context.Context
	replayCancel context.CancelFunc
	replayWG     sync.WaitGroup
	closeOnce    sync.Once
}

// NewJournaledBus wraps inner with journal persistence. A nil store returns
// the inner bus unchanged.
func NewJournaledBus(inner eventbus.Bus, store Store, opts ...Option) eventbus.Bus {
	if inner == nil {
		return nil
	}
	if store == nil {
		return inner
	}
	b := new(JournaledBus)
	b.inner = inner
	b.store = store
	b.replayInterval = defaultReplayInterval
	b.replayBatchSize = defaultReplayBatchSize
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	if !b.replayDisabled {
		b.startReplayWorker()
	}
	return b
}

// Publish journals the event and then delegates to the inner bus. A failed
// delivery leaves the row pending for the replay worker; the publish itself
// succeeds once the event is durable.
func (b *JournaledBus) Publish(ctx context.Context, evt *schema.Event) error {
	if evt == nil {
		return nil
	}
	raw, err := EncodeEvent(evt)
	if err != nil {
		return err
	}
	record, err := b.store.Append(ctx, Entry{
		EventID:   evt.EventID,
		EventType: evt.Type,
		Topic:     evt.Topic,
		OrderID:   evt.OrderID,
		Payload:   raw,
	})
	if err != nil {
		return err
	}
	observability.Count(observability.MetricEventsJournaled, nil)

	if err := b.inner.Publish(ctx, evt); err != nil {
		if markErr := b.store.MarkFailed(ctx, record.ID, err.Error()); markErr != nil {
			observability.Log().Error("journal mark-failed failed",
				observability.F("journal_id", record.ID),
				observability.F("error", markErr))
		}
		return nil
	}
	if err := b.store.MarkDelivered(ctx, record.ID); err != nil {
		// The replay worker will republish; consumers dedupe.
		observability.Log().Error("journal mark-delivered failed",
			observability.F("journal_id", record.ID),
			observability.F("error", err))
	}
	return nil
}

// Subscribe delegates to the inner bus.
func (b *JournaledBus) Subscribe(ctx context.Context, topic schema.Topic) (eventbus.SubscriptionID, <-chan *schema.Event, error) {
	return b.inner.Subscribe(ctx, topic)
}

// Unsubscribe delegates to the inner bus.
func (b *JournaledBus) Unsubscribe(id eventbus.SubscriptionID) {
	b.inner.Unsubscribe(id)
}

// Close stops the replay worker and closes the inner bus.
func (b *JournaledBus) Close() {
	b.closeOnce.Do(func() {
		if b.replayCancel != nil {
			b.replayCancel()
			b.replayWG.Wait()
		}
		b.inner.Close()
	})
}

// ReplayPending publishes undelivered journal rows. Each row retries with
// exponential backoff before being deferred to the next pass.
func (b *JournaledBus) ReplayPending(ctx context.Context) error {
	pending, err := b.store.ListPending(ctx, b.replayBatchSize)
	if err != nil {
		return err
	}
	for _, row := range pending {
		evt, err := DecodeEvent(row.Payload)
		if err != nil {
			if markErr := b.store.MarkFailed(ctx, row.ID, err.Error()); markErr != nil {
				observability.Log().Error("journal mark-failed failed",
					observability.F("journal_id", row.ID),
					observability.F("error", markErr))
			}
			continue
		}
		if err := b.republish(ctx, evt); err != nil {
			if markErr := b.store.MarkFailed(ctx, row.ID, err.Error()); markErr != nil {
				observability.Log().Error("journal mark-failed failed",
					observability.F("journal_id", row.ID),
					observability.F("error", markErr))
			}
			continue
		}
		if err := b.store.MarkDelivered(ctx, row.ID); err != nil {
			observability.Log().Error("journal mark-delivered failed",
				observability.F("journal_id", row.ID),
				observability.F("error", err))
			continue
		}
		observability.Count(observability.MetricEventsReplayed, nil)
	}
	return nil
}

func (b *JournaledBus) republish(ctx context.Context, evt *schema.Event) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = maxReplayBackoff

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if err := b.inner.Publish(ctx, evt); err == nil {
			return nil
		} else {
			lastErr = err
		}
		sleep := policy.NextBackOff()
		if sleep == backoff.Stop {
			sleep = maxReplayBackoff
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
	return lastErr
}

func (b *JournaledBus) startReplayWorker() {
	b.replayCtx, b.replayCancel = context.WithCancel(context.Background())
	b.replayWG.Add(1)
	go func() {
		defer b.replayWG.Done()
		ticker := time.NewTicker(b.replayInterval)
		defer ticker.Stop()
		for {
			select {
			case <-b.replayCtx.Done():
				return
			case <-ticker.C:
				if err := b.ReplayPending(b.replayCtx); err != nil {
					observability.Log().Error("journal replay failed",
						observability.F("error", err))
				}
			}
		}
	}()
}
