// Package models defines operator-configured automation rules.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "arbiter/pkg/domain-errors"
)

// AutomationRule controls gating for one (entity_type, action_name) pair.
// Read (never mutated) by the pipeline; managed by operators via the rules API.
type AutomationRule struct {
	RuleID          uuid.UUID      `json:"rule_id"`
	EntityType      string         `json:"entity_type"`
	ActionName      string         `json:"action_name"`
	Enabled         bool           `json:"enabled"`
	ThresholdAuto   float64        `json:"threshold_auto"`
	ThresholdReview float64        `json:"threshold_review"`
	Config          map[string]any `json:"config,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Normalize trims identifier whitespace.
func (r *AutomationRule) Normalize() {
	r.EntityType = strings.TrimSpace(r.EntityType)
	r.ActionName = strings.TrimSpace(r.ActionName)
}

// Validate enforces the rule invariants: non-empty identifiers and
// 0 <= threshold_review <= threshold_auto <= 1.
func (r *AutomationRule) Validate() error {
	if r.EntityType == "" {
		return dErrors.New(dErrors.CodeValidation, "entity_type cannot be empty")
	}
	if r.ActionName == "" {
		return dErrors.New(dErrors.CodeValidation, "action_name cannot be empty")
	}
	if r.ThresholdReview < 0 || r.ThresholdReview > 1 {
		return dErrors.New(dErrors.CodeValidation, "threshold_review must be within [0, 1]")
	}
	if r.ThresholdAuto < 0 || r.ThresholdAuto > 1 {
		return dErrors.New(dErrors.CodeValidation, "threshold_auto must be within [0, 1]")
	}
	if r.ThresholdReview > r.ThresholdAuto {
		return dErrors.New(dErrors.CodeValidation, "threshold_review cannot exceed threshold_auto")
	}
	return nil
}
