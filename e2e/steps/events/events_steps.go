package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cucumber/godog"

	"arbiter/internal/ingress"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POSTRaw(path string, data []byte, headers map[string]string) error
	SignBody(body []byte) string
	GetResponseField(field string) (interface{}, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	GetLastEventBody() []byte
	SetLastEventBody(body []byte)
	SetEventID(id string)
}

// RegisterSteps registers webhook ingress step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &eventSteps{tc: tc}

	// Submission steps
	ctx.Step(`^I submit a change event for "([^"]*)" entity (\d+) operation "([^"]*)"$`, steps.submitChangeEvent)
	ctx.Step(`^I submit the same change event again$`, steps.submitSameChangeEvent)
	ctx.Step(`^I submit a change event with signature "([^"]*)"$`, steps.submitWithSignature)
	ctx.Step(`^I submit an unsigned change event$`, steps.submitUnsigned)
	ctx.Step(`^I submit a signed body that is not a change event$`, steps.submitNonEvent)

	// Assertion steps
	ctx.Step(`^the event should be accepted$`, steps.eventShouldBeAccepted)
	ctx.Step(`^the event should be acknowledged as a duplicate$`, steps.eventShouldBeDuplicate)
}

type eventSteps struct {
	tc TestContext
}

// buildEvent marshals a change event body. The payload carries a nonce so
// repeated suite runs never collide on the derived event id.
func (s *eventSteps) buildEvent(entityType string, entityID int, operation string) ([]byte, error) {
	body := map[string]interface{}{
		"entity_type": entityType,
		"entity_id":   entityID,
		"operation":   operation,
		"payload": map[string]interface{}{
			"source": "e2e",
			"nonce":  fmt.Sprintf("%d", time.Now().UnixNano()),
		},
	}
	return json.Marshal(body)
}

func (s *eventSteps) submitChangeEvent(ctx context.Context, entityType string, entityID int, operation string) error {
	raw, err := s.buildEvent(entityType, entityID, operation)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	s.tc.SetLastEventBody(raw)

	if err := s.tc.POSTRaw("/events", raw, map[string]string{
		ingress.SignatureHeader: s.tc.SignBody(raw),
	}); err != nil {
		return err
	}

	// Remember the assigned event id for follow-up audit steps.
	if s.tc.GetLastResponseStatus() < 300 {
		id, err := s.tc.GetResponseField("event_id")
		if err != nil {
			return err
		}
		s.tc.SetEventID(fmt.Sprint(id))
	}
	return nil
}

func (s *eventSteps) submitSameChangeEvent(ctx context.Context) error {
	raw := s.tc.GetLastEventBody()
	if raw == nil {
		return fmt.Errorf("no previous change event to resubmit")
	}
	return s.tc.POSTRaw("/events", raw, map[string]string{
		ingress.SignatureHeader: s.tc.SignBody(raw),
	})
}

func (s *eventSteps) submitWithSignature(ctx context.Context, signature string) error {
	raw, err := s.buildEvent("invoice", 1001, "updated")
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return s.tc.POSTRaw("/events", raw, map[string]string{
		ingress.SignatureHeader: signature,
	})
}

func (s *eventSteps) submitUnsigned(ctx context.Context) error {
	raw, err := s.buildEvent("invoice", 1001, "updated")
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return s.tc.POSTRaw("/events", raw, nil)
}

func (s *eventSteps) submitNonEvent(ctx context.Context) error {
	raw := []byte(`{"flavor":"grape","count":3}`)
	return s.tc.POSTRaw("/events", raw, map[string]string{
		ingress.SignatureHeader: s.tc.SignBody(raw),
	})
}

func (s *eventSteps) eventShouldBeAccepted(ctx context.Context) error {
	if status := s.tc.GetLastResponseStatus(); status != 202 {
		return fmt.Errorf("expected status 202 but got %d\nResponse: %s",
			status, string(s.tc.GetLastResponseBody()))
	}
	accepted, err := s.tc.GetResponseField("accepted")
	if err != nil {
		return err
	}
	if accepted != true {
		return fmt.Errorf("expected accepted=true, got %v", accepted)
	}
	return nil
}

func (s *eventSteps) eventShouldBeDuplicate(ctx context.Context) error {
	if status := s.tc.GetLastResponseStatus(); status != 200 {
		return fmt.Errorf("expected status 200 but got %d\nResponse: %s",
			status, string(s.tc.GetLastResponseBody()))
	}
	accepted, err := s.tc.GetResponseField("accepted")
	if err != nil {
		return err
	}
	if accepted != false {
		return fmt.Errorf("expected accepted=false, got %v", accepted)
	}
	return nil
}
