package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"arbiter/internal/ingress"
	"arbiter/internal/token"
)

// TestContext holds state between test steps
type TestContext struct {
	BaseURL          string
	WebhookSecret    []byte
	OperatorSecret   string
	HTTPClient       *http.Client
	LastResponse     *http.Response
	LastResponseBody []byte
	LastEventBody    []byte
	EventID          string
	AuditID          int64
	RuleID           string
	OperatorToken    string
}

// NewTestContext creates a new test context. The secrets default to the
// server's development defaults so the suite runs against a locally started
// stack without any configuration.
func NewTestContext() *TestContext {
	baseURL := os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	webhookSecret := os.Getenv("WEBHOOK_SECRET")
	if webhookSecret == "" {
		webhookSecret = "dev-webhook-secret-change-in-production"
	}
	operatorSecret := os.Getenv("OPERATOR_JWT_SECRET")
	if operatorSecret == "" {
		operatorSecret = "dev-operator-secret-change-in-production"
	}

	return &TestContext{
		BaseURL:        baseURL,
		WebhookSecret:  []byte(webhookSecret),
		OperatorSecret: operatorSecret,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Reset clears per-scenario state while keeping connection settings.
func (tc *TestContext) Reset() {
	tc.LastResponse = nil
	tc.LastResponseBody = nil
	tc.LastEventBody = nil
	tc.EventID = ""
	tc.AuditID = 0
	tc.RuleID = ""
}

// POST makes a POST request and stores the response
func (tc *TestContext) POST(path string, body interface{}) error {
	return tc.POSTWithHeaders(path, body, nil)
}

// POSTWithHeaders makes a POST request with optional headers
func (tc *TestContext) POSTWithHeaders(path string, body interface{}, headers map[string]string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	return tc.POSTRaw(path, data, headers)
}

// POSTRaw posts pre-marshaled bytes. Webhook steps use it so the signature
// covers the exact bytes on the wire.
func (tc *TestContext) POSTRaw(path string, data []byte, headers map[string]string) error {
	req, err := http.NewRequestWithContext(context.Background(), "POST", tc.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return tc.send(req)
}

// GET makes a GET request and stores the response
func (tc *TestContext) GET(path string, headers map[string]string) error {
	return tc.request("GET", path, nil, headers)
}

// PUT makes a PUT request and stores the response
func (tc *TestContext) PUT(path string, body interface{}, headers map[string]string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	return tc.request("PUT", path, data, headers)
}

// DELETE makes a DELETE request and stores the response
func (tc *TestContext) DELETE(path string, headers map[string]string) error {
	return tc.request("DELETE", path, nil, headers)
}

func (tc *TestContext) request(method, path string, data []byte, headers map[string]string) error {
	var body io.Reader
	if data != nil {
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, tc.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return tc.send(req)
}

func (tc *TestContext) send(req *http.Request) error {
	resp, err := tc.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}

	tc.LastResponse = resp
	tc.LastResponseBody, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	return nil
}

// SignBody returns the webhook signature header value for body.
func (tc *TestContext) SignBody(body []byte) string {
	return ingress.ComputeSignature(tc.WebhookSecret, body)
}

// OperatorHeaders returns Authorization headers with a minted operator
// token. The token is cached for the lifetime of the context.
func (tc *TestContext) OperatorHeaders() (map[string]string, error) {
	if tc.OperatorToken == "" {
		minted, err := token.NewService(tc.OperatorSecret, "arbiter", time.Hour).Mint("e2e-operator", "approver")
		if err != nil {
			return nil, fmt.Errorf("failed to mint operator token: %w", err)
		}
		tc.OperatorToken = minted
	}
	return map[string]string{"Authorization": "Bearer " + tc.OperatorToken}, nil
}

// GetResponseField extracts a field from the JSON response
func (tc *TestContext) GetResponseField(field string) (interface{}, error) {
	var data map[string]interface{}
	if err := json.Unmarshal(tc.LastResponseBody, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	value, ok := data[field]
	if !ok {
		return nil, fmt.Errorf("field %s not found in response", field)
	}

	return value, nil
}

// ResponseContains checks if the response body contains a field or text
func (tc *TestContext) ResponseContains(text string) bool {
	if strings.Contains(string(tc.LastResponseBody), text) {
		return true
	}

	var data map[string]interface{}
	if err := json.Unmarshal(tc.LastResponseBody, &data); err == nil {
		if _, ok := data[text]; ok {
			return true
		}
	}

	return false
}

// Getter methods for step package interfaces

func (tc *TestContext) GetEventID() string {
	return tc.EventID
}

func (tc *TestContext) SetEventID(id string) {
	tc.EventID = id
}

func (tc *TestContext) GetLastEventBody() []byte {
	return tc.LastEventBody
}

func (tc *TestContext) SetLastEventBody(body []byte) {
	tc.LastEventBody = body
}

func (tc *TestContext) GetAuditID() int64 {
	return tc.AuditID
}

func (tc *TestContext) SetAuditID(id int64) {
	tc.AuditID = id
}

func (tc *TestContext) GetRuleID() string {
	return tc.RuleID
}

func (tc *TestContext) SetRuleID(id string) {
	tc.RuleID = id
}

func (tc *TestContext) GetLastResponseStatus() int {
	if tc.LastResponse == nil {
		return 0
	}
	return tc.LastResponse.StatusCode
}

func (tc *TestContext) GetLastResponseBody() []byte {
	return tc.LastResponseBody
}
