package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"arbiter/internal/ledger/models"
	"arbiter/internal/sentinel"
)

// InMemoryStore keeps audit records in process memory. Useful for tests and
// local development.
type InMemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	byID    map[int64]*models.AuditRecord
	byEvent map[uuid.UUID]int64
	ids     []int64
}

func New() *InMemoryStore {
	return &InMemoryStore{
		nextID:  1,
		byID:    make(map[int64]*models.AuditRecord),
		byEvent: make(map[uuid.UUID]int64),
	}
}

func (s *InMemoryStore) Append(ctx context.Context, rec *models.AuditRecord) (*models.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byEvent[rec.EventID]; ok {
		return cloneRecord(s.byID[id]), sentinel.ErrConflict
	}

	stored := cloneRecord(rec)
	stored.AuditID = s.nextID
	s.nextID++

	s.byID[stored.AuditID] = stored
	s.byEvent[stored.EventID] = stored.AuditID
	s.ids = append(s.ids, stored.AuditID)

	return cloneRecord(stored), nil
}

func (s *InMemoryStore) Get(ctx context.Context, auditID int64) (*models.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[auditID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *InMemoryStore) GetByEventID(ctx context.Context, eventID uuid.UUID) (*models.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEvent[eventID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneRecord(s.byID[id]), nil
}

func (s *InMemoryStore) TransitionStatus(ctx context.Context, auditID int64, from, to models.Status, patch Patch) (*models.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[auditID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if rec.Status != from {
		return cloneRecord(rec), sentinel.ErrStaleStatus
	}

	rec.Status = to
	if patch.ExecutedAt != nil {
		t := *patch.ExecutedAt
		rec.ExecutedAt = &t
	}
	if patch.ResolvedBy != nil {
		v := *patch.ResolvedBy
		rec.ResolvedBy = &v
	}
	if patch.Error != nil {
		v := *patch.Error
		rec.Error = &v
	}

	return cloneRecord(rec), nil
}

func (s *InMemoryStore) IncrementAttempts(ctx context.Context, auditID int64, status models.Status) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[auditID]
	if !ok {
		return 0, sentinel.ErrNotFound
	}
	if rec.Status != status {
		return rec.Attempts, sentinel.ErrStaleStatus
	}

	rec.Attempts++
	return rec.Attempts, nil
}

func (s *InMemoryStore) List(ctx context.Context, filter Filter, page Page) ([]*models.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	page = page.Normalize()
	offset := page.Offset()

	matched := 0
	out := make([]*models.AuditRecord, 0, page.Limit)
	for _, id := range s.ids {
		rec := s.byID[id]
		if !matchesFilter(rec, filter) {
			continue
		}
		if matched >= offset && len(out) < page.Limit {
			out = append(out, cloneRecord(rec))
		}
		matched++
		if len(out) == page.Limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) Count(ctx context.Context, filter Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, id := range s.ids {
		if matchesFilter(s.byID[id], filter) {
			n++
		}
	}
	return n, nil
}

func matchesFilter(rec *models.AuditRecord, filter Filter) bool {
	if filter.Status != "" && rec.Status != filter.Status {
		return false
	}
	if filter.EntityType != "" && rec.EntityType != filter.EntityType {
		return false
	}
	if !filter.From.IsZero() && rec.CreatedAt.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && !rec.CreatedAt.Before(filter.To) {
		return false
	}
	return true
}

func cloneRecord(rec *models.AuditRecord) *models.AuditRecord {
	out := *rec
	if rec.ExecutedAt != nil {
		t := *rec.ExecutedAt
		out.ExecutedAt = &t
	}
	if rec.ResolvedBy != nil {
		v := *rec.ResolvedBy
		out.ResolvedBy = &v
	}
	if rec.Error != nil {
		v := *rec.Error
		out.Error = &v
	}
	return &out
}

var _ Store = (*InMemoryStore)(nil)
