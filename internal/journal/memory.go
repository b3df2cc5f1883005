package journal

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/quantfabric/twapd/errs"
)

// MemoryStore is an in-memory journal used by tests and journal-less deployments.
type MemoryStore struct {
	mu      sync.Mutex
	rows    map[int64]*Record
	nextID  int64
	nowFunc func() time.Time
}

// NewMemoryStore constructs an empty in-memory journal.
func NewMemoryStore() *MemoryStore {
	store := new(MemoryStore)
	store.rows = make(map[int64]*Record)
	store.nowFunc = time.Now
	return store
}

// Append inserts a journal row.
func (s *MemoryStore) Append(_ context.Context, entry Entry) (Record, error) {
	if entry.EventID == "" {
		return Record{}, errs.New("journal/append", errs.CodeInvalid, errs.WithMessage("event id required"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc().UTC()
	available := entry.AvailableAt
	if available.IsZero() {
		available = now
	}
	s.nextID++
	row := &Record{
		ID:          s.nextID,
		EventID:     entry.EventID,
		EventType:   entry.EventType,
		Topic:       entry.Topic,
		OrderID:     entry.OrderID,
		Payload:     append([]byte(nil), entry.Payload...),
		AvailableAt: available,
		CreatedAt:   now,
	}
	s.rows[row.ID] = row
	return *row, nil
}

// ListPending returns undelivered rows whose availability has passed, oldest first.
func (s *MemoryStore) ListPending(_ context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 128
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc().UTC()
	pending := make([]Record, 0, limit)
	for _, row := range s.rows {
		if row.Delivered || row.AvailableAt.After(now) {
			continue
		}
		pending = append(pending, *row)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// MarkDelivered flags the row as published.
func (s *MemoryStore) MarkDelivered(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return errs.New("journal/mark-delivered", errs.CodeNotFound, errs.WithMessage("unknown journal row"))
	}
	now := s.nowFunc().UTC()
	row.Delivered = true
	row.PublishedAt = &now
	row.Attempts++
	return nil
}

// MarkFailed records a failed publication attempt and defers the row.
func (s *MemoryStore) MarkFailed(_ context.Context, id int64, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return errs.New("journal/mark-failed", errs.CodeNotFound, errs.WithMessage("unknown journal row"))
	}
	row.Attempts++
	row.LastError = lastError
	row.AvailableAt = s.nowFunc().UTC().Add(retryDelay)
	return nil
}

// retryDelay defers failed rows so replay does not spin on a dead subscriber.
const retryDelay = 5 * time.Second
