// Package eventbus provides the in-process event fabric joining the trigger
// and order-execution domains. Delivery is asynchronous and per-subscriber
// buffered; publishers get no ordering guarantee across topics and consumers
// must tolerate duplicates.
package eventbus

import (
	"context"

	"github.com/quantfabric/twapd/internal/schema"
)

// SubscriptionID uniquely identifies a bus subscription.
type SubscriptionID string

// Bus delivers events to subscribers registered on a topic.
type Bus interface {
	Publish(ctx context.Context, evt *schema.Event) error
	Subscribe(ctx context.Context, topic schema.Topic) (SubscriptionID, <-chan *schema.Event, error)
	Unsubscribe(id SubscriptionID)
	Close()
}

// MemoryConfig configures the in-memory bus buffers.
type MemoryConfig struct {
	BufferSize int
}

func (c MemoryConfig) normalize() MemoryConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
	return c
}
