package gate

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"arbiter/internal/decision"
	rulemodels "arbiter/internal/rule/models"
)

func testDecision(confidence float64) *decision.Decision {
	return &decision.Decision{
		DecisionID: uuid.New(),
		EventID:    uuid.New(),
		Action:     "approve_payment",
		Confidence: confidence,
	}
}

func testRule(auto, review float64, enabled bool) *rulemodels.AutomationRule {
	return &rulemodels.AutomationRule{
		RuleID:          uuid.New(),
		EntityType:      "invoice",
		ActionName:      "approve_payment",
		Enabled:         enabled,
		ThresholdAuto:   auto,
		ThresholdReview: review,
	}
}

func TestEvaluateVerdicts(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		auto       float64
		review     float64
		enabled    bool
		want       Verdict
	}{
		{"well above auto", 0.99, 0.9, 0.6, true, VerdictAutoExecute},
		{"exactly at auto boundary", 0.9, 0.9, 0.6, true, VerdictAutoExecute},
		{"just below auto", 0.8999, 0.9, 0.6, true, VerdictNeedsApproval},
		{"between review and auto", 0.75, 0.9, 0.6, true, VerdictNeedsApproval},
		{"exactly at review boundary", 0.6, 0.9, 0.6, true, VerdictNeedsApproval},
		{"just below review", 0.5999, 0.9, 0.6, true, VerdictLogOnly},
		{"zero confidence", 0, 0.9, 0.6, true, VerdictLogOnly},
		{"full confidence", 1, 0.9, 0.6, true, VerdictAutoExecute},
		{"equal thresholds at boundary auto wins", 0.7, 0.7, 0.7, true, VerdictAutoExecute},
		{"equal thresholds below boundary", 0.6999, 0.7, 0.7, true, VerdictLogOnly},
		{"disabled rule high confidence", 0.99, 0.9, 0.6, false, VerdictLogOnly},
		{"disabled rule mid confidence", 0.75, 0.9, 0.6, false, VerdictLogOnly},
		{"zero thresholds auto-execute everything", 0, 0, 0, true, VerdictAutoExecute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := testRule(tt.auto, tt.review, tt.enabled)
			disp := Evaluate(testDecision(tt.confidence), rule, time.Now())
			assert.Equal(t, tt.want, disp.Verdict)
			assert.Equal(t, rule.RuleID, disp.RuleID)
			assert.Equal(t, tt.auto, disp.ThresholdAuto)
			assert.Equal(t, tt.review, disp.ThresholdReview)
		})
	}
}

func TestEvaluateNilRule(t *testing.T) {
	d := testDecision(1.0)
	now := time.Now()

	disp := Evaluate(d, nil, now)

	assert.Equal(t, VerdictLogOnly, disp.Verdict)
	assert.Equal(t, uuid.Nil, disp.RuleID)
	assert.Equal(t, 1.0, disp.ThresholdAuto)
	assert.Equal(t, 1.0, disp.ThresholdReview)
	assert.Equal(t, d.DecisionID, disp.DecisionID)
	assert.Equal(t, now, disp.DecidedAt)
}

func TestEvaluateCapturesThresholdsAtDecisionTime(t *testing.T) {
	rule := testRule(0.9, 0.6, true)

	disp := Evaluate(testDecision(0.75), rule, time.Now())

	rule.ThresholdAuto = 0.5
	rule.ThresholdReview = 0.1

	assert.Equal(t, 0.9, disp.ThresholdAuto)
	assert.Equal(t, 0.6, disp.ThresholdReview)
	assert.Equal(t, VerdictNeedsApproval, disp.Verdict)
}

func TestEvaluateClampsWildConfidence(t *testing.T) {
	rule := testRule(0.9, 0.6, true)

	above := Evaluate(testDecision(42), rule, time.Now())
	assert.Equal(t, VerdictAutoExecute, above.Verdict)

	below := Evaluate(testDecision(-3), rule, time.Now())
	assert.Equal(t, VerdictLogOnly, below.Verdict)
}

func TestVerdictValid(t *testing.T) {
	assert.True(t, VerdictAutoExecute.Valid())
	assert.True(t, VerdictNeedsApproval.Valid())
	assert.True(t, VerdictLogOnly.Valid())
	assert.False(t, Verdict("EXECUTE").Valid())
	assert.False(t, Verdict("").Valid())
}
