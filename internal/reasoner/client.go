package reasoner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"arbiter/internal/decision/ports"
	"arbiter/internal/platform/tracer"
)

// maxResponseBytes caps how much of a reasoner response is read. Anything
// larger is malformed by definition.
const maxResponseBytes = 1 << 20

// HTTPDoer is the minimal interface needed from an HTTP client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client calls the reasoning model service over HTTP. It implements the
// decision engine's Reasoner port; the engine owns timeouts and fallback,
// so the client only transports and decodes.
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

// WithTracer sets the tracer used for reasoner call spans.
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

// New constructs a reasoner client for the given base URL. The timeout
// bounds a single HTTP exchange; callers normally also carry a context
// deadline.
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
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

type analyzeResponse struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// Analyze posts the change event to the reasoning service and decodes its
// proposed action.
func (c *Client) Analyze(ctx context.Context, req ports.Request) (analysis *ports.Analysis, err error) {
	ctx, span := c.tracer.Start(ctx, tracer.SpanReasonerCall,
		tracer.String(tracer.AttrEventID, req.EventID.String()),
		tracer.String(tracer.AttrEntityType, req.EntityType),
	)
	defer func() { span.End(err) }()

	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal analyze request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create analyze request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("reasoner request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read reasoner response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reasoner returned status %d", resp.StatusCode)
	}

	var decoded analyzeResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("unmarshal reasoner response: %w", err)
	}

	c.logger.DebugContext(ctx, "reasoner analysis received",
		"event_id", req.EventID,
		"action", decoded.Action,
		"confidence", decoded.Confidence,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	span.SetAttributes(
		tracer.String(tracer.AttrAction, decoded.Action),
		tracer.Float64(tracer.AttrConfidence, decoded.Confidence),
	)

	return &ports.Analysis{
		Action:     decoded.Action,
		Confidence: decoded.Confidence,
		Rationale:  decoded.Rationale,
	}, nil
}
