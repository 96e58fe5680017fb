package handler

import (
	"strings"

	"arbiter/internal/rule/models"
	dErrors "arbiter/pkg/domain-errors"
)

// HTTP Request DTOs - contain JSON tags for API serialization.
// These are converted to domain models before processing. Threshold
// semantics are enforced by models.AutomationRule.Validate in the service.

type CreateRuleRequest struct {
	EntityType      string         `json:"entity_type"`
	ActionName      string         `json:"action_name"`
	Enabled         *bool          `json:"enabled"`
	ThresholdAuto   float64        `json:"threshold_auto"`
	ThresholdReview float64        `json:"threshold_review"`
	Config          map[string]any `json:"config,omitempty"`
}

func (r *CreateRuleRequest) Normalize() {
	if r == nil {
		return
	}
	r.EntityType = strings.TrimSpace(r.EntityType)
	r.ActionName = strings.TrimSpace(r.ActionName)
}

func (r *CreateRuleRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.EntityType == "" {
		return dErrors.New(dErrors.CodeValidation, "entity_type is required")
	}
	if r.ActionName == "" {
		return dErrors.New(dErrors.CodeValidation, "action_name is required")
	}
	return nil
}

// ToModel converts the HTTP request to a domain rule. Enabled defaults
// to true when omitted.
func (r *CreateRuleRequest) ToModel() *models.AutomationRule {
	return &models.AutomationRule{
		EntityType:      r.EntityType,
		ActionName:      r.ActionName,
		Enabled:         r.Enabled == nil || *r.Enabled,
		ThresholdAuto:   r.ThresholdAuto,
		ThresholdReview: r.ThresholdReview,
		Config:          r.Config,
	}
}

type UpdateRuleRequest struct {
	EntityType      string         `json:"entity_type"`
	ActionName      string         `json:"action_name"`
	Enabled         bool           `json:"enabled"`
	ThresholdAuto   float64        `json:"threshold_auto"`
	ThresholdReview float64        `json:"threshold_review"`
	Config          map[string]any `json:"config,omitempty"`
}

func (r *UpdateRuleRequest) Normalize() {
	if r == nil {
		return
	}
	r.EntityType = strings.TrimSpace(r.EntityType)
	r.ActionName = strings.TrimSpace(r.ActionName)
}

func (r *UpdateRuleRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.EntityType == "" {
		return dErrors.New(dErrors.CodeValidation, "entity_type is required")
	}
	if r.ActionName == "" {
		return dErrors.New(dErrors.CodeValidation, "action_name is required")
	}
	return nil
}

// ToModel converts the HTTP request to a domain rule. The rule ID is
// taken from the URL, not the body.
func (r *UpdateRuleRequest) ToModel() *models.AutomationRule {
	return &models.AutomationRule{
		EntityType:      r.EntityType,
		ActionName:      r.ActionName,
		Enabled:         r.Enabled,
		ThresholdAuto:   r.ThresholdAuto,
		ThresholdReview: r.ThresholdReview,
		Config:          r.Config,
	}
}
