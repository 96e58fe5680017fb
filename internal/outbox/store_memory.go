package outbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps outbox entries in process memory. Useful for tests and
// local development.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*Entry
	order   []uuid.UUID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[uuid.UUID]*Entry),
	}
}

func (s *InMemoryStore) Append(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneEntry(entry)
	s.entries[stored.ID] = stored
	s.order = append(s.order, stored.ID)
	return nil
}

func (s *InMemoryStore) FetchUnprocessed(ctx context.Context, limit int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		return nil, nil
	}

	out := make([]*Entry, 0, limit)
	for _, id := range s.order {
		entry := s.entries[id]
		if !entry.IsPending() {
			continue
		}
		out = append(out, cloneEntry(entry))
		if len(out) == limit {
			break
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) MarkProcessed(ctx context.Context, id uuid.UUID, processedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("outbox entry not found: %s", id)
	}
	if entry.ProcessedAt != nil {
		return fmt.Errorf("outbox entry not found or already processed: %s", id)
	}

	t := processedAt
	entry.ProcessedAt = &t
	return nil
}

func (s *InMemoryStore) CountPending(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, entry := range s.entries {
		if entry.IsPending() {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	remaining := s.order[:0]
	for _, id := range s.order {
		entry := s.entries[id]
		if entry.ProcessedAt != nil && entry.ProcessedAt.Before(before) {
			delete(s.entries, id)
			deleted++
			continue
		}
		remaining = append(remaining, id)
	}
	s.order = remaining
	return deleted, nil
}

func cloneEntry(entry *Entry) *Entry {
	out := *entry
	if entry.Payload != nil {
		out.Payload = append([]byte(nil), entry.Payload...)
	}
	if entry.ProcessedAt != nil {
		t := *entry.ProcessedAt
		out.ProcessedAt = &t
	}
	return &out
}

var _ Store = (*InMemoryStore)(nil)
