package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"arbiter/internal/ledger/models"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Filter narrows List and Count to matching records. Zero values mean
// "any".
type Filter struct {
	Status     models.Status
	EntityType string
	From       time.Time
	To         time.Time
}

// Page selects a window of results ordered by ascending audit id.
type Page struct {
	Page  int
	Limit int
}

// Normalize applies the default and maximum page limits.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = defaultPageLimit
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	return p
}

// Offset returns the row offset for the normalized page.
func (p Page) Offset() int {
	return (p.Page - 1) * p.Limit
}

// Patch carries the optional fields a status transition may set. Nil fields
// are left untouched.
type Patch struct {
	ExecutedAt *time.Time
	ResolvedBy *string
	Error      *string
}

// Store defines the persistence interface for audit records. Records are
// append-only: rows are never deleted and identity fields never change.
// Error Contract:
// - Append returns the existing record and sentinel.ErrConflict when the
//   event id is already recorded
// - Get and GetByEventID return sentinel.ErrNotFound when no record matches
// - TransitionStatus and IncrementAttempts return sentinel.ErrNotFound for
//   unknown ids and sentinel.ErrStaleStatus (with the current record, for
//   TransitionStatus) when the compare-and-swap guard fails
type Store interface {
	Append(ctx context.Context, rec *models.AuditRecord) (*models.AuditRecord, error)
	Get(ctx context.Context, auditID int64) (*models.AuditRecord, error)
	GetByEventID(ctx context.Context, eventID uuid.UUID) (*models.AuditRecord, error)
	TransitionStatus(ctx context.Context, auditID int64, from, to models.Status, patch Patch) (*models.AuditRecord, error)
	IncrementAttempts(ctx context.Context, auditID int64, status models.Status) (int, error)
	List(ctx context.Context, filter Filter, page Page) ([]*models.AuditRecord, error)
	Count(ctx context.Context, filter Filter) (int64, error)
}
