package service

import (
	"context"
	"fmt"

	"arbiter/internal/gate"
	"arbiter/internal/ledger/models"
	"arbiter/internal/ledger/store"
	dErrors "arbiter/pkg/domain-errors"
)

const (
	resolutionApproved = "approved"
	resolutionRejected = "rejected"
)

// Resolve records an operator's verdict on a record held for approval.
// Approval triggers execution synchronously, so the returned record reflects
// the final outcome (executed or failed). Rejection is terminal. Only
// pending records with a needs-approval verdict can be resolved; everything
// else reports the state the record is already in.
func (s *Service) Resolve(ctx context.Context, auditID int64, approved bool, resolvedBy string) (*models.AuditRecord, error) {
	rec, err := s.Get(ctx, auditID)
	if err != nil {
		return nil, err
	}

	if rec.Verdict != string(gate.VerdictNeedsApproval) {
		return nil, dErrors.New(dErrors.CodeConflict,
			fmt.Sprintf("audit record with verdict %s does not require approval", rec.Verdict))
	}
	if rec.Status != models.StatusPending {
		return nil, dErrors.New(dErrors.CodeAlreadyResolved,
			fmt.Sprintf("audit record already %s", rec.Status))
	}

	target := models.StatusApproved
	outcome := resolutionApproved
	if !approved {
		target = models.StatusRejected
		outcome = resolutionRejected
	}

	current, err := s.Transition(ctx, auditID, models.StatusPending, target, store.Patch{ResolvedBy: &resolvedBy})
	if err != nil {
		// Another operator resolved this record between our read and the
		// transition. Report what it became.
		if dErrors.HasCode(err, dErrors.CodeConflict) && current != nil {
			return nil, dErrors.New(dErrors.CodeAlreadyResolved,
				fmt.Sprintf("audit record already %s", current.Status))
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementResolutions(outcome)
	}
	s.logger.InfoContext(ctx, "audit record resolved",
		"audit_id", auditID,
		"outcome", outcome,
		"resolved_by", resolvedBy,
	)

	if !approved {
		return current, nil
	}

	if s.executor == nil {
		s.logger.WarnContext(ctx, "no executor wired, approved action not executed",
			"audit_id", auditID,
		)
		return current, nil
	}

	executed, err := s.executor.Execute(ctx, current, models.StatusApproved)
	if err != nil {
		return nil, err
	}
	return executed, nil
}
