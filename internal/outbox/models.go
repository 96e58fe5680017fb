// Package outbox implements the transactional outbox pattern for publishing
// audit ledger changes to the downstream Kafka stream.
package outbox

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies what happened to the audit record an entry describes.
type Kind string

const (
	// KindAuditAppended marks a freshly recorded dispatch outcome.
	KindAuditAppended Kind = "audit.appended"
	// KindStatusChanged marks a status transition on an existing record.
	KindStatusChanged Kind = "audit.status_changed"
)

// Entry represents a pending event in the outbox table.
// It follows the transactional outbox pattern for reliable event publishing.
type Entry struct {
	ID          uuid.UUID
	AuditID     int64
	EventID     uuid.UUID
	Kind        Kind
	Payload     []byte     // JSON-encoded audit record snapshot
	CreatedAt   time.Time  // When the entry was created
	ProcessedAt *time.Time // NULL = pending, non-NULL = published to Kafka
}

// IsPending returns true if this entry has not been processed yet.
func (e *Entry) IsPending() bool {
	return e.ProcessedAt == nil
}

// NewEntry creates a new outbox entry with a generated UUID.
func NewEntry(auditID int64, eventID uuid.UUID, kind Kind, payload []byte) *Entry {
	return &Entry{
		ID:        uuid.New(),
		AuditID:   auditID,
		EventID:   eventID,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}
