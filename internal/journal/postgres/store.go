// Package postgres persists the event journal in PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfabric/twapd/internal/journal"
	"github.com/quantfabric/twapd/internal/schema"
)

// Store is a journal.Store backed by the events_journal table.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store backed by the provided pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const (
	defaultListLimit = 128
	maxListLimit     = 1024
	retryInterval    = 30 * time.Second
)

const (
	insertSQL = `
INSERT INTO events_journal (
    event_id,
    event_type,
    topic,
    order_id,
    payload,
    available_at
)
VALUES ($1, $2, $3, $4, COALESCE($5::jsonb, '{}'::jsonb), $6)
ON CONFLICT (event_id) DO UPDATE SET event_id = EXCLUDED.event_id
RETURNING
    id,
    event_id,
    event_type,
    topic,
    order_id,
    payload,
    delivered,
    attempts,
    last_error,
    available_at,
    published_at,
    created_at;
`

	listPendingSQL = `
SELECT
    id,
    event_id,
    event_type,
    topic,
    order_id,
    payload,
    delivered,
    attempts,
    last_error,
    available_at,
    published_at,
    created_at
FROM events_journal
WHERE delivered = FALSE
  AND available_at <= NOW()
ORDER BY id ASC
LIMIT $1;
`

	markDeliveredSQL = `
UPDATE events_journal
SET delivered = TRUE,
    published_at = NOW(),
    attempts = attempts + 1
WHERE id = $1;
`

	markFailedSQL = `
UPDATE events_journal
SET attempts = attempts + 1,
    last_error = $2,
    available_at = $3
WHERE id = $1;
`
)

// Append inserts a journal row. Re-appending an event id is a no-op returning
// the existing row, which keeps duplicate publications idempotent.
func (s *Store) Append(ctx context.Context, entry journal.Entry) (journal.Record, error) {
	if s.pool == nil {
		return journal.Record{}, fmt.Errorf("journal store: nil pool")
	}
	eventID := strings.TrimSpace(entry.EventID)
	if eventID == "" {
		return journal.Record{}, fmt.Errorf("journal store: event id required")
	}
	availableAt := entry.AvailableAt
	if availableAt.IsZero() {
		availableAt = time.Now()
	}
	row := s.pool.QueryRow(ctx, insertSQL,
		eventID, string(entry.EventType), string(entry.Topic), int64(entry.OrderID),
		[]byte(entry.Payload), availableAt)
	return scanRecord(row)
}

// ListPending returns undelivered rows that are ready for replay, oldest first.
func (s *Store) ListPending(ctx context.Context, limit int) ([]journal.Record, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("journal store: nil pool")
	}
	if limit <= 0 {
		limit = defaultListLimit
	} else if limit > maxListLimit {
		limit = maxListLimit
	}
	rows, err := s.pool.Query(ctx, listPendingSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("journal store: list pending: %w", err)
	}
	defer rows.Close()

	var records []journal.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal store: iterate pending: %w", err)
	}
	return records, nil
}

// MarkDelivered flags a stored row as successfully published.
func (s *Store) MarkDelivered(ctx context.Context, id int64) error {
	if s.pool == nil {
		return fmt.Errorf("journal store: nil pool")
	}
	tag, err := s.pool.Exec(ctx, markDeliveredSQL, id)
	if err != nil {
		return fmt.Errorf("journal store: mark delivered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("journal store: mark delivered: no rows updated")
	}
	return nil
}

// MarkFailed records a failed publish attempt and schedules a retry.
func (s *Store) MarkFailed(ctx context.Context, id int64, lastError string) error {
	if s.pool == nil {
		return fmt.Errorf("journal store: nil pool")
	}
	nextAttempt := time.Now().Add(retryInterval)
	tag, err := s.pool.Exec(ctx, markFailedSQL, id, strings.TrimSpace(lastError), nextAttempt)
	if err != nil {
		return fmt.Errorf("journal store: mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("journal store: mark failed: no rows updated")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (journal.Record, error) {
	var (
		record      journal.Record
		eventType   string
		topic       string
		orderID     int64
		payload     []byte
		publishedAt pgtype.Timestamptz
		lastError   pgtype.Text
	)
	if err := row.Scan(
		&record.ID,
		&record.EventID,
		&eventType,
		&topic,
		&orderID,
		&payload,
		&record.Delivered,
		&record.Attempts,
		&lastError,
		&record.AvailableAt,
		&publishedAt,
		&record.CreatedAt,
	); err != nil {
		return journal.Record{}, fmt.Errorf("journal store: scan record: %w", err)
	}
	record.EventType = schema.EventType(eventType)
	record.Topic = schema.Topic(topic)
	record.OrderID = uint64(orderID)
	record.Payload = payload
	if publishedAt.Valid {
		t := publishedAt.Time
		record.PublishedAt = &t
	}
	if lastError.Valid {
		record.LastError = lastError.String
	}
	return record, nil
}

var _ journal.Store = (*Store)(nil)
