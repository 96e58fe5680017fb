package handler

import (
	"strings"

	dErrors "arbiter/pkg/domain-errors"
)

// HTTP Request DTOs - contain JSON tags for API serialization.

// ResolveRequest carries an operator's decision on a pending audit record.
// Approved is a pointer so an omitted field is rejected instead of silently
// reading as a rejection.
type ResolveRequest struct {
	Approved   *bool  `json:"approved"`
	ResolvedBy string `json:"resolved_by,omitempty"`
}

func (r *ResolveRequest) Normalize() {
	if r == nil {
		return
	}
	r.ResolvedBy = strings.TrimSpace(r.ResolvedBy)
}

func (r *ResolveRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.Approved == nil {
		return dErrors.New(dErrors.CodeValidation, "approved is required")
	}
	return nil
}
