// Package clock provides the periodic-timer substrate for the trigger domain:
// a logical tick counter fanned out across a fixed table of interval topics.
package clock

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/quantfabric/twapd/errs"
	"github.com/quantfabric/twapd/internal/bus/eventbus"
	"github.com/quantfabric/twapd/internal/observability"
	"github.com/quantfabric/twapd/internal/schema"
)

// Interval selects one of the fixed tick streams. The table is static: agents
// bind to a stream at construction and the binding never changes.
type Interval int

const (
	// IntervalEveryTick fires on every logical tick.
	IntervalEveryTick Interval = iota
	// IntervalEvery10 fires on every 10th tick.
	IntervalEvery10
	// IntervalEvery100 fires on every 100th tick.
	IntervalEvery100
	// IntervalEvery1000 fires on every 1000th tick.
	IntervalEvery1000
	// IntervalEvery10000 fires on every 10000th tick.
	IntervalEvery10000

	intervalCount
)

var intervalModuli = [intervalCount]uint64{1, 10, 100, 1_000, 10_000}

// Every returns the tick modulus of the interval.
func (iv Interval) Every() uint64 {
	if iv < 0 || iv >= intervalCount {
		return 0
	}
	return intervalModuli[iv]
}

// TopicFor resolves the interval selector to its tick topic. Out-of-range
// selectors fail with CodeInvalidInterval.
func TopicFor(iv Interval) (schema.Topic, error) {
	if iv < 0 || iv >= intervalCount {
		return "", errs.New("clock/topic", errs.CodeInvalidInterval,
			errs.WithMessage("interval selector out of range"))
	}
	return schema.Topic("TICK." + strconv.FormatUint(intervalModuli[iv], 10)), nil
}

// Scheduler advances a logical tick counter and publishes a Tick event on
// every interval topic whose modulus divides the counter.
type Scheduler struct {
	bus eventbus.Bus
	seq uint64

	mu      sync.Mutex
	running bool
}

// NewScheduler constructs a scheduler publishing into the trigger-domain bus.
func NewScheduler(bus eventbus.Bus) *Scheduler {
	s := new(Scheduler)
	s.bus = bus
	return s
}

// Tick advances the logical clock one unit and fans the notification out to
// the matching interval topics. Tests drive this directly for determinism.
func (s *Scheduler) Tick(ctx context.Context) error {
	seq := atomic.AddUint64(&s.seq, 1)
	for iv := IntervalEveryTick; iv < intervalCount; iv++ {
		if seq%iv.Every() != 0 {
			continue
		}
		topic, err := TopicFor(iv)
		if err != nil {
			return err
		}
		evt := &schema.Event{
			EventID: uuid.NewString(),
			Type:    schema.EventTypeTick,
			Topic:   topic,
			Seq:     seq,
			EmitTS:  time.Now().UTC(),
			Payload: schema.TickPayload{Sequence: seq},
		}
		if err := s.bus.Publish(ctx, evt); err != nil {
			// A slow subscriber loses this tick; the next one catches it up.
			observability.Log().Debug("tick dropped",
				observability.F("topic", topic),
				observability.F("seq", seq),
				observability.F("error", err))
		}
	}
	return nil
}

// Sequence returns the current logical tick count.
func (s *Scheduler) Sequence() uint64 {
	return atomic.LoadUint64(&s.seq)
}

// Run drives the logical clock from wall time until the context ends.
func (s *Scheduler) Run(ctx context.Context, period time.Duration) error {
	if period <= 0 {
		return errs.New("clock/run", errs.CodeInvalid, errs.WithMessage("tick period must be positive"))
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errs.New("clock/run", errs.CodeUnavailable, errs.WithMessage("scheduler already running"))
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				return err
			}
		}
	}
}
