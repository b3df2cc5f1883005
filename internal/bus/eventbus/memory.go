package eventbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/quantfabric/twapd/errs"
	"github.com/quantfabric/twapd/internal/schema"
)

// MemoryBus is an in-memory implementation of the event fabric backed by
// bounded per-subscriber channels.
type MemoryBus struct {
	cfg MemoryConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.RWMutex
	subscribers  map[schema.Topic]map[SubscriptionID]*subscriber
	shutdownOnce sync.Once
	nextID       uint64
}

type subscriber struct {
	ctx    context.Context
	cancel context.CancelFunc
	ch     chan *schema.Event
	once   sync.Once
}

// NewMemoryBus constructs a memory-backed event bus.
func NewMemoryBus(cfg MemoryConfig) *MemoryBus {
	cfg = cfg.normalize()
	ctx, cancel := context.WithCancel(context.Background())
	bus := new(MemoryBus)
	bus.cfg = cfg
	bus.ctx = ctx
	bus.cancel = cancel
	bus.subscribers = make(map[schema.Topic]map[SubscriptionID]*subscriber)
	return bus
}

// Publish fans the event out to every subscriber of its topic. Each
// subscriber receives its own clone so later mutation cannot leak across
// consumers.
func (b *MemoryBus) Publish(ctx context.Context, evt *schema.Event) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if evt == nil {
		return nil
	}
	if evt.Topic == "" {
		return errs.New("eventbus/publish", errs.CodeInvalid, errs.WithMessage("event topic required"))
	}

	// Snapshot subscribers to avoid holding the lock during delivery.
	b.mu.RLock()
	subscribers := make([]*subscriber, 0, len(b.subscribers[evt.Topic]))
	for _, sub := range b.subscribers[evt.Topic] {
		subscribers = append(subscribers, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subscribers {
		if sub == nil {
			continue
		}
		if err := b.deliver(ctx, sub, evt); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers for events on the given topic and returns a
// subscription ID and receive channel.
func (b *MemoryBus) Subscribe(ctx context.Context, topic schema.Topic) (SubscriptionID, <-chan *schema.Event, error) {
	if topic == "" {
		return "", nil, errs.New("eventbus/subscribe", errs.CodeInvalid, errs.WithMessage("topic required"))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)

	sub := new(subscriber)
	sub.ctx = ctx
	sub.cancel = cancel
	sub.ch = make(chan *schema.Event, b.cfg.BufferSize)

	id := SubscriptionID(fmt.Sprintf("sub-%d", atomic.AddUint64(&b.nextID, 1)))

	b.mu.Lock()
	if _, ok := b.subscribers[topic]; !ok {
		b.subscribers[topic] = make(map[SubscriptionID]*subscriber)
	}
	b.subscribers[topic][id] = sub
	b.mu.Unlock()

	go b.observe(topic, id, sub)
	return id, sub.ch, nil
}

// Unsubscribe removes the subscription and closes its channel.
func (b *MemoryBus) Unsubscribe(id SubscriptionID) {
	if id == "" {
		return
	}
	b.mu.Lock()
	for topic, subs := range b.subscribers {
		if sub, ok := subs[id]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.subscribers, topic)
			}
			b.mu.Unlock()
			sub.close()
			return
		}
	}
	b.mu.Unlock()
}

// Close shuts down the bus and all subscriptions.
func (b *MemoryBus) Close() {
	b.shutdownOnce.Do(func() {
		b.cancel()
		b.mu.Lock()
		for topic, subs := range b.subscribers {
			for id, sub := range subs {
				if sub != nil {
					sub.close()
				}
				delete(subs, id)
			}
			delete(b.subscribers, topic)
		}
		b.mu.Unlock()
	})
}

func (b *MemoryBus) observe(topic schema.Topic, id SubscriptionID, sub *subscriber) {
	<-sub.ctx.Done()
	b.mu.Lock()
	subs := b.subscribers[topic]
	if subs != nil {
		if stored, ok := subs[id]; ok && stored == sub {
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.subscribers, topic)
			}
		}
	}
	b.mu.Unlock()
	sub.close()
}

func (b *MemoryBus) deliver(ctx context.Context, sub *subscriber, evt *schema.Event) error {
	if sub.ctx.Err() != nil {
		return nil
	}
	select {
	case <-b.ctx.Done():
		return errs.New("eventbus/publish", errs.CodeUnavailable, errs.WithMessage("bus closed"))
	case <-ctx.Done():
		return fmt.Errorf("deliver context: %w", ctx.Err())
	case <-sub.ctx.Done():
		return nil
	case sub.ch <- evt.Clone():
		return nil
	default:
		return errs.New("eventbus/publish", errs.CodeUnavailable, errs.WithMessage("subscriber buffer full"))
	}
}

func (s *subscriber) close() {
	s.once.Do(func() {
		s.cancel()
		close(s.ch)
	})
}
