// Package gate maps a decision's confidence onto an automation verdict
// using the thresholds of the rule that governs the proposed action.
//
// Evaluate is pure: no I/O, no clock reads, no randomness in the verdict.
// Everything that feeds an audit record is captured in the returned
// Disposition so the ledger can reproduce the gate's reasoning later.
package gate

import (
	"time"

	"github.com/google/uuid"

	"arbiter/internal/decision"
	rulemodels "arbiter/internal/rule/models"
)

// Verdict is the gate's routing outcome for a decision.
type Verdict string

const (
	// VerdictAutoExecute routes the action to the executor immediately.
	VerdictAutoExecute Verdict = "AUTO_EXECUTE"
	// VerdictNeedsApproval parks the action until an operator resolves it.
	VerdictNeedsApproval Verdict = "NEEDS_APPROVAL"
	// VerdictLogOnly records the decision without ever executing it.
	VerdictLogOnly Verdict = "LOG_ONLY"
)

// Valid reports whether v is one of the three known verdicts.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictAutoExecute, VerdictNeedsApproval, VerdictLogOnly:
		return true
	}
	return false
}

// Disposition records how a decision was gated: the verdict plus the exact
// thresholds in force at evaluation time. Rule edits after this moment do
// not retroactively change the disposition.
type Disposition struct {
	DispositionID   uuid.UUID `json:"disposition_id"`
	DecisionID      uuid.UUID `json:"decision_id"`
	RuleID          uuid.UUID `json:"rule_id"`
	Verdict         Verdict   `json:"verdict"`
	ThresholdAuto   float64   `json:"threshold_auto"`
	ThresholdReview float64   `json:"threshold_review"`
	DecidedAt       time.Time `json:"decided_at"`
}

// Evaluate gates a decision against its governing rule.
//
// A nil rule means no rule matches the (entity type, action) pair: the
// verdict is LOG_ONLY with a zero rule id and thresholds pinned to 1.0.
// A disabled rule is LOG_ONLY regardless of confidence. Otherwise both
// boundaries are inclusive: confidence >= threshold_auto auto-executes,
// and confidence >= threshold_review needs approval.
func Evaluate(d *decision.Decision, rule *rulemodels.AutomationRule, now time.Time) Disposition {
	disp := Disposition{
		DispositionID:   uuid.New(),
		DecisionID:      d.DecisionID,
		ThresholdAuto:   1.0,
		ThresholdReview: 1.0,
		Verdict:         VerdictLogOnly,
		DecidedAt:       now,
	}

	if rule == nil {
		return disp
	}

	disp.RuleID = rule.RuleID
	disp.ThresholdAuto = rule.ThresholdAuto
	disp.ThresholdReview = rule.ThresholdReview

	if !rule.Enabled {
		return disp
	}

	c := decision.ClampConfidence(d.Confidence)
	switch {
	case c >= rule.ThresholdAuto:
		disp.Verdict = VerdictAutoExecute
	case c >= rule.ThresholdReview:
		disp.Verdict = VerdictNeedsApproval
	default:
		disp.Verdict = VerdictLogOnly
	}
	return disp
}
