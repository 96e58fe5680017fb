package models

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an audit record.
type Status string

const (
	// StatusPending means the record awaits routing: execution, approval
	// or the logged mark.
	StatusPending Status = "pending"
	// StatusLogged is terminal for LOG_ONLY verdicts.
	StatusLogged Status = "logged"
	// StatusExecuted is terminal: the ERP action was applied.
	StatusExecuted Status = "executed"
	// StatusApproved means an operator released the action; execution is
	// in flight.
	StatusApproved Status = "approved"
	// StatusRejected is terminal: an operator declined the action.
	StatusRejected Status = "rejected"
	// StatusFailed is terminal: execution exhausted its attempts or hit a
	// permanent error.
	StatusFailed Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusLogged, StatusExecuted, StatusApproved, StatusRejected, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition may leave s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusLogged, StatusExecuted, StatusRejected, StatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether the status graph permits s -> to.
// pending fans out to every other status; approved may only complete
// as executed or failed; terminal statuses never move.
func (s Status) CanTransitionTo(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusLogged || to == StatusExecuted || to == StatusApproved ||
			to == StatusRejected || to == StatusFailed
	case StatusApproved:
		return to == StatusExecuted || to == StatusFailed
	default:
		return false
	}
}

// AuditRecord is one append-only ledger row: what was decided for an event,
// how it was gated, and what happened to it. audit_id is assigned by the
// store and strictly increases with insertion order. The row's identity
// fields never change after Append; only status, attempts and the resolution
// fields move.
type AuditRecord struct {
	AuditID         int64      `json:"audit_id"`
	EventID         uuid.UUID  `json:"event_id"`
	DecisionID      uuid.UUID  `json:"decision_id"`
	EntityType      string     `json:"entity_type"`
	EntityID        int64      `json:"entity_id"`
	Action          string     `json:"action"`
	Confidence      float64    `json:"confidence"`
	Rationale       string     `json:"rationale,omitempty"`
	Verdict         string     `json:"verdict"`
	RuleID          uuid.UUID  `json:"rule_id,omitempty"`
	ThresholdAuto   float64    `json:"threshold_auto"`
	ThresholdReview float64    `json:"threshold_review"`
	Status          Status     `json:"status"`
	Attempts        int        `json:"attempts"`
	ExecutedAt      *time.Time `json:"executed_at,omitempty"`
	ResolvedBy      *string    `json:"resolved_by,omitempty"`
	Error           *string    `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}
