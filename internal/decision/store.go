package decision

import (
	"context"

	"github.com/google/uuid"
)

// Store defines the persistence interface for decisions.
// Error Contract:
// - Insert returns sentinel.ErrConflict when a decision already exists for
//   the event id
// - Get and GetByEventID return sentinel.ErrNotFound when no decision matches
type Store interface {
	Insert(ctx context.Context, d *Decision) error
	Get(ctx context.Context, decisionID uuid.UUID) (*Decision, error)
	GetByEventID(ctx context.Context, eventID uuid.UUID) (*Decision, error)
}
