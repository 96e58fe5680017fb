package ports

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// Request carries the change event context sent to the reasoning model.
type Request struct {
	EventID    uuid.UUID       `json:"event_id"`
	EntityType string          `json:"entity_type"`
	EntityID   int64           `json:"entity_id"`
	Operation  string          `json:"operation"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Analysis is the reasoning model's proposed action for a change event.
type Analysis struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`
}

// Reasoner defines the interface for action proposals. This port allows the
// decision engine to consult a reasoning model without depending on HTTP or
// a specific vendor client. Implementations must honor context cancellation;
// the engine enforces a hard deadline around every call.
type Reasoner interface {
	Analyze(ctx context.Context, req Request) (*Analysis, error)
}
