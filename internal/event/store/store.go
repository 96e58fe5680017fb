package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"arbiter/internal/event/models"
)

// Store persists change events.
//
// Error contract: Insert returns sentinel.ErrConflict when an event with the
// same id already exists; Get returns sentinel.ErrNotFound for unknown ids.
type Store interface {
	Insert(ctx context.Context, event *models.ChangeEvent) error
	Get(ctx context.Context, eventID uuid.UUID) (*models.ChangeEvent, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
