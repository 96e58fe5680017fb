package handler

import (
	"time"

	"github.com/google/uuid"

	"arbiter/internal/ledger/models"
)

type AuditRecordResponse struct {
	AuditID         int64      `json:"audit_id"`
	EventID         string     `json:"event_id"`
	DecisionID      string     `json:"decision_id"`
	EntityType      string     `json:"entity_type"`
	EntityID        int64      `json:"entity_id"`
	Action          string     `json:"action"`
	Confidence      float64    `json:"confidence"`
	Rationale       string     `json:"rationale,omitempty"`
	Verdict         string     `json:"verdict"`
	RuleID          string     `json:"rule_id,omitempty"`
	ThresholdAuto   float64    `json:"threshold_auto"`
	ThresholdReview float64    `json:"threshold_review"`
	Status          string     `json:"status"`
	Attempts        int        `json:"attempts"`
	ExecutedAt      *time.Time `json:"executed_at,omitempty"`
	ResolvedBy      *string    `json:"resolved_by,omitempty"`
	Error           *string    `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type AuditListResponse struct {
	Records []*AuditRecordResponse `json:"records"`
	Total   int64                  `json:"total"`
	Page    int                    `json:"page"`
	Limit   int                    `json:"limit"`
}

// Response mapping functions - convert domain objects to HTTP DTOs

func toAuditResponse(rec *models.AuditRecord) *AuditRecordResponse {
	resp := &AuditRecordResponse{
		AuditID:         rec.AuditID,
		EventID:         rec.EventID.String(),
		DecisionID:      rec.DecisionID.String(),
		EntityType:      rec.EntityType,
		EntityID:        rec.EntityID,
		Action:          rec.Action,
		Confidence:      rec.Confidence,
		Rationale:       rec.Rationale,
		Verdict:         rec.Verdict,
		ThresholdAuto:   rec.ThresholdAuto,
		ThresholdReview: rec.ThresholdReview,
		Status:          string(rec.Status),
		Attempts:        rec.Attempts,
		ExecutedAt:      rec.ExecutedAt,
		ResolvedBy:      rec.ResolvedBy,
		Error:           rec.Error,
		CreatedAt:       rec.CreatedAt,
	}
	if rec.RuleID != uuid.Nil {
		resp.RuleID = rec.RuleID.String()
	}
	return resp
}

func toAuditListResponse(records []*models.AuditRecord, total int64, page, limit int) *AuditListResponse {
	resp := &AuditListResponse{
		Records: make([]*AuditRecordResponse, 0, len(records)),
		Total:   total,
		Page:    page,
		Limit:   limit,
	}
	for _, rec := range records {
		resp.Records = append(resp.Records, toAuditResponse(rec))
	}
	return resp
}
