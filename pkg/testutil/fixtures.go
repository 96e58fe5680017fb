package testutil

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	eventmodels "arbiter/internal/event/models"
	"arbiter/internal/gate"
	ledgermodels "arbiter/internal/ledger/models"
	rulemodels "arbiter/internal/rule/models"
)

// TestIDs provides convenient pre-generated IDs for tests.
// Use these for deterministic test data.
var TestIDs = struct {
	EventID1    uuid.UUID
	EventID2    uuid.UUID
	DecisionID1 uuid.UUID
	DecisionID2 uuid.UUID
	RuleID1     uuid.UUID
	RuleID2     uuid.UUID
}{
	EventID1:    uuid.MustParse("11111111-1111-1111-1111-111111111111"),
	EventID2:    uuid.MustParse("22222222-2222-2222-2222-222222222222"),
	DecisionID1: uuid.MustParse("dddd0000-0000-0000-0000-000000000001"),
	DecisionID2: uuid.MustParse("dddd0000-0000-0000-0000-000000000002"),
	RuleID1:     uuid.MustParse("aaaa0000-0000-0000-0000-000000000001"),
	RuleID2:     uuid.MustParse("aaaa0000-0000-0000-0000-000000000002"),
}

// EventBuilder provides a fluent interface for building test change events.
type EventBuilder struct {
	event *eventmodels.ChangeEvent
}

// NewEventBuilder creates a new EventBuilder with sensible defaults.
func NewEventBuilder() *EventBuilder {
	return &EventBuilder{
		event: &eventmodels.ChangeEvent{
			EventID:    uuid.New(),
			EntityType: "invoice",
			EntityID:   42,
			Operation:  eventmodels.OperationUpdated,
			Payload:    json.RawMessage(`{"status":"posted","amount":120.50}`),
			ReceivedAt: time.Now().UTC(),
		},
	}
}

func (b *EventBuilder) WithID(eventID uuid.UUID) *EventBuilder {
	b.event.EventID = eventID
	return b
}

func (b *EventBuilder) WithEntity(entityType string, entityID int64) *EventBuilder {
	b.event.EntityType = entityType
	b.event.EntityID = entityID
	return b
}

func (b *EventBuilder) WithOperation(op eventmodels.Operation) *EventBuilder {
	b.event.Operation = op
	return b
}

func (b *EventBuilder) WithPayload(payload string) *EventBuilder {
	b.event.Payload = json.RawMessage(payload)
	return b
}

func (b *EventBuilder) WithTraceID(traceID string) *EventBuilder {
	b.event.TraceID = traceID
	return b
}

func (b *EventBuilder) Build() *eventmodels.ChangeEvent {
	return b.event
}

// RuleBuilder provides a fluent interface for building test automation rules.
type RuleBuilder struct {
	rule *rulemodels.AutomationRule
}

// NewRuleBuilder creates a new RuleBuilder with sensible defaults.
func NewRuleBuilder() *RuleBuilder {
	now := time.Now().UTC()
	return &RuleBuilder{
		rule: &rulemodels.AutomationRule{
			RuleID:          uuid.New(),
			EntityType:      "invoice",
			ActionName:      "approve_payment",
			Enabled:         true,
			ThresholdAuto:   0.9,
			ThresholdReview: 0.6,
			CreatedAt:       now,
			UpdatedAt:       now,
		},
	}
}

func (b *RuleBuilder) WithID(ruleID uuid.UUID) *RuleBuilder {
	b.rule.RuleID = ruleID
	return b
}

func (b *RuleBuilder) WithPair(entityType, actionName string) *RuleBuilder {
	b.rule.EntityType = entityType
	b.rule.ActionName = actionName
	return b
}

func (b *RuleBuilder) WithThresholds(auto, review float64) *RuleBuilder {
	b.rule.ThresholdAuto = auto
	b.rule.ThresholdReview = review
	return b
}

func (b *RuleBuilder) Disabled() *RuleBuilder {
	b.rule.Enabled = false
	return b
}

func (b *RuleBuilder) WithConfig(config map[string]any) *RuleBuilder {
	b.rule.Config = config
	return b
}

func (b *RuleBuilder) Build() *rulemodels.AutomationRule {
	return b.rule
}

// AuditBuilder provides a fluent interface for building test audit records.
type AuditBuilder struct {
	record *ledgermodels.AuditRecord
}

// NewAuditBuilder creates a new AuditBuilder with sensible defaults. The
// record is pending with a needs-approval verdict, the shape most transition
// tests start from.
func NewAuditBuilder() *AuditBuilder {
	return &AuditBuilder{
		record: &ledgermodels.AuditRecord{
			EventID:         uuid.New(),
			DecisionID:      uuid.New(),
			EntityType:      "invoice",
			EntityID:        42,
			Action:          "approve_payment",
			Confidence:      0.75,
			Rationale:       "vendor and amount match an open purchase order",
			Verdict:         string(gate.VerdictNeedsApproval),
			RuleID:          TestIDs.RuleID1,
			ThresholdAuto:   0.9,
			ThresholdReview: 0.6,
			Status:          ledgermodels.StatusPending,
			CreatedAt:       time.Now().UTC(),
		},
	}
}

func (b *AuditBuilder) WithEventID(eventID uuid.UUID) *AuditBuilder {
	b.record.EventID = eventID
	return b
}

func (b *AuditBuilder) WithEntity(entityType string, entityID int64) *AuditBuilder {
	b.record.EntityType = entityType
	b.record.EntityID = entityID
	return b
}

func (b *AuditBuilder) WithAction(action string) *AuditBuilder {
	b.record.Action = action
	return b
}

func (b *AuditBuilder) WithConfidence(confidence float64) *AuditBuilder {
	b.record.Confidence = confidence
	return b
}

func (b *AuditBuilder) WithVerdict(verdict gate.Verdict) *AuditBuilder {
	b.record.Verdict = string(verdict)
	return b
}

func (b *AuditBuilder) WithStatus(status ledgermodels.Status) *AuditBuilder {
	b.record.Status = status
	return b
}

func (b *AuditBuilder) WithCreatedAt(t time.Time) *AuditBuilder {
	b.record.CreatedAt = t
	return b
}

func (b *AuditBuilder) Build() *ledgermodels.AuditRecord {
	return b.record
}

// Quick helper functions for simple test cases

// NewTestEvent creates a change event for the given entity.
func NewTestEvent(entityType string, entityID int64) *eventmodels.ChangeEvent {
	return NewEventBuilder().
		WithEntity(entityType, entityID).
		Build()
}

// NewTestRule creates an enabled rule for the given entity/action pair.
func NewTestRule(entityType, actionName string) *rulemodels.AutomationRule {
	return NewRuleBuilder().
		WithPair(entityType, actionName).
		Build()
}

// NewTestAuditRecord creates a pending audit record keyed to the given event.
func NewTestAuditRecord(eventID uuid.UUID) *ledgermodels.AuditRecord {
	return NewAuditBuilder().
		WithEventID(eventID).
		Build()
}
