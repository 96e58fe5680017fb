// Package erp is the outbound connector for applying approved actions to
// the ERP system.
package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"arbiter/internal/platform/tracer"
)

const maxResponseBytes = 1 << 20

// Request describes one action application against the ERP. IdempotencyKey
// is sent as the Idempotency-Key header so the ERP can deduplicate retries
// of the same decision.
type Request struct {
	Action         string
	EntityType     string
	EntityID       int64
	Payload        json.RawMessage
	IdempotencyKey string
}

// Result is the ERP's acknowledgement of an applied action.
type Result struct {
	Reference string
}

// TransientError marks a failure worth retrying: timeouts, connection
// problems, throttling and 5xx responses.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure retrying cannot fix, such as the ERP
// rejecting the action as invalid.
type PermanentError struct {
	StatusCode int
	Message    string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("erp rejected action: status %d: %s", e.StatusCode, e.Message)
}

// IsTransient reports whether err may succeed on a retry.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// HTTPDoer is the minimal interface needed from an HTTP client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client applies actions to the ERP over HTTP. Retries and the circuit
// breaker live in the executor; the client only transports, decodes, and
// classifies failures.
type Client struct {
	baseURL string
	client  HTTPDoer
	tracer  tracer.Tracer
	logger  *slog.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(c HTTPDoer) Option {
	return func(cl *Client) {
		cl.client = c
	}
}

// WithTracer sets the tracer used for ERP call spans.
func WithTracer(t tracer.Tracer) Option {
	return func(cl *Client) {
		cl.tracer = t
	}
}

// WithLogger sets the logger instance for the client.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

// New constructs an ERP client for the given base URL.
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cl := &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		tracer:  tracer.NewNoop(),
	}
	for _, opt := range opts {
		opt(cl)
	}
	if cl.logger == nil {
		cl.logger = slog.Default()
	}
	return cl
}

type applyRequest struct {
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   int64           `json:"entity_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type applyResponse struct {
	Reference string `json:"reference"`
}

// Apply posts the action to the ERP. Failures come back as *TransientError
// or *PermanentError so the executor can decide whether to retry.
func (c *Client) Apply(ctx context.Context, req Request) (result *Result, err error) {
	ctx, span := c.tracer.Start(ctx, tracer.SpanERPCall,
		tracer.String(tracer.AttrAction, req.Action),
		tracer.String(tracer.AttrEntityType, req.EntityType),
	)
	defer func() { span.End(err) }()

	bodyBytes, err := json.Marshal(applyRequest{
		Action:     req.Action,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		Payload:    req.Payload,
	})
	if err != nil {
		return nil, &PermanentError{StatusCode: 0, Message: fmt.Sprintf("marshal apply request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/actions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, &PermanentError{StatusCode: 0, Message: fmt.Sprintf("create apply request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("erp request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("read erp response: %w", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return nil, &TransientError{Err: fmt.Errorf("erp returned status %d", resp.StatusCode)}
	default:
		return nil, &PermanentError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	var decoded applyResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		// The write may have landed; the idempotency key makes a retry safe.
		return nil, &TransientError{Err: fmt.Errorf("unmarshal erp response: %w", err)}
	}

	c.logger.DebugContext(ctx, "erp action applied",
		"action", req.Action,
		"entity_type", req.EntityType,
		"entity_id", req.EntityID,
		"reference", decoded.Reference,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	return &Result{Reference: decoded.Reference}, nil
}

func errorMessage(body []byte) string {
	var decoded struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &decoded); err == nil && decoded.Message != "" {
		return decoded.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = "no error detail"
	}
	return msg
}
