// Package models defines the inbound change event and its identity rules.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Operation is the kind of mutation the ERP reported.
type Operation string

const (
	OperationCreated Operation = "created"
	OperationUpdated Operation = "updated"
	OperationDeleted Operation = "deleted"
)

// Valid reports whether the operation is one of the known kinds.
func (o Operation) Valid() bool {
	switch o {
	case OperationCreated, OperationUpdated, OperationDeleted:
		return true
	}
	return false
}

// eventNamespace is the UUIDv5 namespace for derived event ids.
// Fixed so that every deployment derives the same id for the same raw body.
var eventNamespace = uuid.MustParse("9c3b86f1-4a04-4f4e-9d21-8b2f6a1a6e7d")

// DeriveEventID computes the deterministic event id for a raw signed body.
// Resubmission of identical bytes always yields the same id, which is what
// makes duplicate webhook deliveries detectable at the uniqueness constraint.
func DeriveEventID(rawBody []byte) uuid.UUID {
	return uuid.NewSHA1(eventNamespace, rawBody)
}

// ChangeEvent represents one ERP record mutation notification.
// Immutable after ingress; downstream records reference it by EventID.
type ChangeEvent struct {
	EventID    uuid.UUID       `json:"event_id"`
	EntityType string          `json:"entity_type"`
	EntityID   int64           `json:"entity_id"`
	Operation  Operation       `json:"operation"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	TraceID    string          `json:"trace_id,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}
