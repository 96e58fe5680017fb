package decision

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// ActionNone is the proposed action when no automation should run. Fallback
// decisions always carry it.
const ActionNone = "none"

// Decision is the reasoning outcome for a single change event. Exactly one
// decision exists per event id; replays return the stored decision instead
// of re-running the reasoner.
type Decision struct {
	DecisionID uuid.UUID `json:"decision_id"`
	EventID    uuid.UUID `json:"event_id"`
	Action     string    `json:"action"`
	Confidence float64   `json:"confidence"`
	Rationale  string    `json:"rationale,omitempty"`
	Fallback   bool      `json:"fallback"`
	ProducedAt time.Time `json:"produced_at"`
}

// ClampConfidence coerces a reasoner confidence into [0, 1]. NaN and
// infinities collapse to zero so a misbehaving model can never auto-execute.
func ClampConfidence(c float64) float64 {
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return 0
	}
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
