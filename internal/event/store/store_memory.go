package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"arbiter/internal/event/models"
	"arbiter/internal/sentinel"
)

// InMemoryStore stores change events in memory for tests and single-node runs.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[uuid.UUID]*models.ChangeEvent
}

// New constructs an empty in-memory event store.
func New() *InMemoryStore {
	return &InMemoryStore{events: make(map[uuid.UUID]*models.ChangeEvent)}
}

func (s *InMemoryStore) Insert(_ context.Context, event *models.ChangeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[event.EventID]; ok {
		return sentinel.ErrConflict
	}
	copyEvent := *event
	s.events[event.EventID] = &copyEvent
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, eventID uuid.UUID) (*models.ChangeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.events[eventID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copyEvent := *event
	return &copyEvent, nil
}

func (s *InMemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, event := range s.events {
		if event.ReceivedAt.Before(cutoff) {
			delete(s.events, id)
			deleted++
		}
	}
	return deleted, nil
}
