package e2e

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cucumber/godog"
)

// RegisterSteps registers the generic step definitions shared by every
// feature. Domain steps live in the steps subpackages.
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Background steps
	ctx.Step(`^the dispatch service is running$`, tc.dispatchServiceIsRunning)

	// Assertion steps
	ctx.Step(`^the response status should be (\d+)$`, tc.responseStatusShouldBe)
	ctx.Step(`^the response should contain "([^"]*)"$`, tc.responseShouldContain)
	ctx.Step(`^the response field "([^"]*)" should equal "([^"]*)"$`, tc.responseFieldShouldEqual)

	ctx.Step(`^log "([^"]*)"$`, tc.logMessage)
}

func (tc *TestContext) dispatchServiceIsRunning(ctx context.Context) error {
	if err := tc.GET("/health", nil); err != nil {
		return fmt.Errorf("dispatch service unreachable at %s: %w", tc.BaseURL, err)
	}
	if tc.LastResponse.StatusCode != 200 {
		return fmt.Errorf("dispatch service unhealthy: status %d", tc.LastResponse.StatusCode)
	}
	return nil
}

func (tc *TestContext) responseStatusShouldBe(ctx context.Context, expectedStatus int) error {
	if tc.LastResponse.StatusCode != expectedStatus {
		return fmt.Errorf("expected status %d but got %d\nResponse: %s",
			expectedStatus, tc.LastResponse.StatusCode, string(tc.LastResponseBody))
	}
	return nil
}

func (tc *TestContext) responseShouldContain(ctx context.Context, field string) error {
	if !tc.ResponseContains(field) {
		return fmt.Errorf("response does not contain field: %s\nResponse: %s", field, string(tc.LastResponseBody))
	}
	return nil
}

func (tc *TestContext) responseFieldShouldEqual(ctx context.Context, field, expectedValue string) error {
	var data map[string]interface{}
	if err := json.Unmarshal(tc.LastResponseBody, &data); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	actualValue, ok := data[field]
	if !ok {
		return fmt.Errorf("field %s not found in response", field)
	}

	if fmt.Sprint(actualValue) != expectedValue {
		return fmt.Errorf("field %s: expected %s but got %v", field, expectedValue, actualValue)
	}
	return nil
}

func (tc *TestContext) logMessage(ctx context.Context, message string) error {
	fmt.Println(message)
	return nil
}
