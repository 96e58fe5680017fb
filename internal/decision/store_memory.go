package decision

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"arbiter/internal/sentinel"
)

// InMemoryStore is a thread-safe decision store for development and tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]*Decision
	byEvent map[uuid.UUID]uuid.UUID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:    make(map[uuid.UUID]*Decision),
		byEvent: make(map[uuid.UUID]uuid.UUID),
	}
}

func (s *InMemoryStore) Insert(_ context.Context, d *Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEvent[d.EventID]; exists {
		return sentinel.ErrConflict
	}
	stored := *d
	s.byID[d.DecisionID] = &stored
	s.byEvent[d.EventID] = d.DecisionID
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, decisionID uuid.UUID) (*Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.byID[decisionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := *d
	return &out, nil
}

func (s *InMemoryStore) GetByEventID(_ context.Context, eventID uuid.UUID) (*Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEvent[eventID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := *s.byID[id]
	return &out, nil
}
