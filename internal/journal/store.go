// Package journal gives the ledger-domain event stream at-least-once
// durability: events are persisted before publication and undelivered rows
// are replayed until they reach the bus. Consumers already tolerate
// duplicates, so replay after a partial failure is safe.
package journal

import (
	"context"
	"time"

	json "github.com/goccy/go-json"

	"github.com/quantfabric/twapd/internal/schema"
)

// Entry is a journal row ready to be appended.
type Entry struct {
	EventID     string
	EventType   schema.EventType
	Topic       schema.Topic
	OrderID     uint64
	Payload     json.RawMessage
	AvailableAt time.Time
}

// Record captures the persisted state of a journal row.
type Record struct {
	ID          int64
	EventID     string
	EventType   schema.EventType
	Topic       schema.Topic
	OrderID     uint64
	Payload     json.RawMessage
	Delivered   bool
	Attempts    int
	LastError   string
	AvailableAt time.Time
	PublishedAt *time.Time
	CreatedAt   time.Time
}

// Store abstracts journal persistence.
type Store interface {
	Append(ctx context.Context, entry Entry) (Record, error)
	ListPending(ctx context.Context, limit int) ([]Record, error)
	MarkDelivered(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, lastError string) error
}
