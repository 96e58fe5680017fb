package rules

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	GET(path string, headers map[string]string) error
	POSTWithHeaders(path string, body interface{}, headers map[string]string) error
	PUT(path string, body interface{}, headers map[string]string) error
	DELETE(path string, headers map[string]string) error
	OperatorHeaders() (map[string]string, error)
	GetResponseField(field string) (interface{}, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	GetRuleID() string
	SetRuleID(id string)
}

// RegisterSteps registers automation rule step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &ruleSteps{tc: tc}

	// Setup steps
	ctx.Step(`^a rule exists for "([^"]*)" action "([^"]*)" with auto threshold ([0-9.]+) and review threshold ([0-9.]+)$`, steps.ruleExists)
	ctx.Step(`^no rule exists for "([^"]*)" action "([^"]*)"$`, steps.noRuleExists)

	// CRUD steps
	ctx.Step(`^I create a rule for "([^"]*)" action "([^"]*)" with auto threshold ([0-9.]+) and review threshold ([0-9.]+)$`, steps.createRule)
	ctx.Step(`^I create the same rule again$`, steps.createSameRule)
	ctx.Step(`^I fetch the rule$`, steps.fetchRule)
	ctx.Step(`^I update the rule with auto threshold ([0-9.]+) and review threshold ([0-9.]+)$`, steps.updateRule)
	ctx.Step(`^I delete the rule$`, steps.deleteRule)
	ctx.Step(`^I list rules$`, steps.listRules)
	ctx.Step(`^I list rules without a token$`, steps.listRulesWithoutToken)
}

type ruleSteps struct {
	tc TestContext

	// last rule payload, reused by update and duplicate-create steps
	entityType string
	actionName string
}

type ruleListResponse struct {
	Rules []map[string]interface{} `json:"rules"`
}

func rulePayload(entityType, actionName string, auto, review float64) map[string]interface{} {
	return map[string]interface{}{
		"entity_type":      entityType,
		"action_name":      actionName,
		"enabled":          true,
		"threshold_auto":   auto,
		"threshold_review": review,
	}
}

// findRule returns the id of the rule for (entityType, actionName), or ""
// when no such rule is registered.
func (s *ruleSteps) findRule(headers map[string]string, entityType, actionName string) (string, error) {
	if err := s.tc.GET("/rules", headers); err != nil {
		return "", err
	}
	if status := s.tc.GetLastResponseStatus(); status != 200 {
		return "", fmt.Errorf("rule list returned status %d: %s", status, string(s.tc.GetLastResponseBody()))
	}
	var decoded ruleListResponse
	if err := json.Unmarshal(s.tc.GetLastResponseBody(), &decoded); err != nil {
		return "", fmt.Errorf("failed to parse rule list: %w", err)
	}
	for _, rule := range decoded.Rules {
		if fmt.Sprint(rule["entity_type"]) == entityType && fmt.Sprint(rule["action_name"]) == actionName {
			return fmt.Sprint(rule["rule_id"]), nil
		}
	}
	return "", nil
}

// ruleExists creates the rule, or updates the existing one so its
// thresholds match. Scenarios stay rerunnable against a persistent stack.
func (s *ruleSteps) ruleExists(ctx context.Context, entityType, actionName string, auto, review float64) error {
	headers, err := s.tc.OperatorHeaders()
	if err != nil {
		return err
	}
	s.entityType, s.actionName = entityType, actionName

	body := rulePayload(entityType, actionName, auto, review)
	if err := s.tc.POSTWithHeaders("/rules", body, headers); err != nil {
		return err
	}
	switch s.tc.GetLastResponseStatus() {
	case 201:
		id, err := s.tc.GetResponseField("rule_id")
		if err != nil {
			return err
		}
		s.tc.SetRuleID(fmt.Sprint(id))
		return nil
	case 409:
		id, err := s.findRule(headers, entityType, actionName)
		if err != nil {
			return err
		}
		if id == "" {
			return fmt.Errorf("rule creation conflicted but no rule found for %s/%s", entityType, actionName)
		}
		s.tc.SetRuleID(id)
		if err := s.tc.PUT("/rules/"+id, body, headers); err != nil {
			return err
		}
		if status := s.tc.GetLastResponseStatus(); status != 200 {
			return fmt.Errorf("failed to update existing rule: status %d: %s", status, string(s.tc.GetLastResponseBody()))
		}
		return nil
	default:
		return fmt.Errorf("unexpected status %d creating rule: %s",
			s.tc.GetLastResponseStatus(), string(s.tc.GetLastResponseBody()))
	}
}

func (s *ruleSteps) noRuleExists(ctx context.Context, entityType, actionName string) error {
	headers, err := s.tc.OperatorHeaders()
	if err != nil {
		return err
	}
	id, err := s.findRule(headers, entityType, actionName)
	if err != nil {
		return err
	}
	if id == "" {
		return nil
	}
	if err := s.tc.DELETE("/rules/"+id, headers); err != nil {
		return err
	}
	if status := s.tc.GetLastResponseStatus(); status != 204 {
		return fmt.Errorf("failed to delete rule %s: status %d", id, status)
	}
	return nil
}

func (s *ruleSteps) createRule(ctx context.Context, entityType, actionName string, auto, review float64) error {
	headers, err := s.tc.OperatorHeaders()
	if err != nil {
		return err
	}
	s.entityType, s.actionName = entityType, actionName

	if err := s.tc.POSTWithHeaders("/rules", rulePayload(entityType, actionName, auto, review), headers); err != nil {
		return err
	}
	if s.tc.GetLastResponseStatus() == 201 {
		id, err := s.tc.GetResponseField("rule_id")
		if err != nil {
			return err
		}
		s.tc.SetRuleID(fmt.Sprint(id))
	}
	return nil
}

func (s *ruleSteps) createSameRule(ctx context.Context) error {
	if s.entityType == "" {
		return fmt.Errorf("no rule created in this scenario")
	}
	headers, err := s.tc.OperatorHeaders()
	if err != nil {
		return err
	}
	return s.tc.POSTWithHeaders("/rules", rulePayload(s.entityType, s.actionName, 0.9, 0.6), headers)
}

func (s *ruleSteps) fetchRule(ctx context.Context) error {
	headers, err := s.tc.OperatorHeaders()
	if err != nil {
		return err
	}
	if s.tc.GetRuleID() == "" {
		return fmt.Errorf("no rule created in this scenario")
	}
	return s.tc.GET("/rules/"+s.tc.GetRuleID(), headers)
}

func (s *ruleSteps) updateRule(ctx context.Context, auto, review float64) error {
	headers, err := s.tc.OperatorHeaders()
	if err != nil {
		return err
	}
	if s.tc.GetRuleID() == "" {
		return fmt.Errorf("no rule created in this scenario")
	}
	return s.tc.PUT("/rules/"+s.tc.GetRuleID(), rulePayload(s.entityType, s.actionName, auto, review), headers)
}

func (s *ruleSteps) deleteRule(ctx context.Context) error {
	headers, err := s.tc.OperatorHeaders()
	if err != nil {
		return err
	}
	if s.tc.GetRuleID() == "" {
		return fmt.Errorf("no rule created in this scenario")
	}
	return s.tc.DELETE("/rules/"+s.tc.GetRuleID(), headers)
}

func (s *ruleSteps) listRules(ctx context.Context) error {
	headers, err := s.tc.OperatorHeaders()
	if err != nil {
		return err
	}
	return s.tc.GET("/rules", headers)
}

func (s *ruleSteps) listRulesWithoutToken(ctx context.Context) error {
	return s.tc.GET("/rules", nil)
}
