package handler

import (
	"time"

	"arbiter/internal/rule/models"
)

type RuleResponse struct {
	RuleID          string         `json:"rule_id"`
	EntityType      string         `json:"entity_type"`
	ActionName      string         `json:"action_name"`
	Enabled         bool           `json:"enabled"`
	ThresholdAuto   float64        `json:"threshold_auto"`
	ThresholdReview float64        `json:"threshold_review"`
	Config          map[string]any `json:"config,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

type RuleListResponse struct {
	Rules []*RuleResponse `json:"rules"`
}

// Response mapping functions - convert domain objects to HTTP DTOs

func toRuleResponse(rule *models.AutomationRule) *RuleResponse {
	return &RuleResponse{
		RuleID:          rule.RuleID.String(),
		EntityType:      rule.EntityType,
		ActionName:      rule.ActionName,
		Enabled:         rule.Enabled,
		ThresholdAuto:   rule.ThresholdAuto,
		ThresholdReview: rule.ThresholdReview,
		Config:          rule.Config,
		CreatedAt:       rule.CreatedAt,
		UpdatedAt:       rule.UpdatedAt,
	}
}

func toRuleListResponse(rules []*models.AutomationRule) *RuleListResponse {
	resp := &RuleListResponse{Rules: make([]*RuleResponse, 0, len(rules))}
	for _, rule := range rules {
		resp.Rules = append(resp.Rules, toRuleResponse(rule))
	}
	return resp
}
