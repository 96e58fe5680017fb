package decision

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"arbiter/internal/decision/metrics"
	"arbiter/internal/decision/ports"
	eventmodels "arbiter/internal/event/models"
	"arbiter/internal/sentinel"
	dErrors "arbiter/pkg/domain-errors"
	"arbiter/pkg/platform/circuit"
)

// defaultReasonerTimeout is the hard deadline for a single reasoner call.
// A reasoner that cannot answer within it is treated as unavailable.
const defaultReasonerTimeout = 30 * time.Second

// Fallback reasons recorded on the fallback metric and rationale.
const (
	fallbackReasonTimeout     = "reasoner_timeout"
	fallbackReasonError       = "reasoner_error"
	fallbackReasonMalformed   = "reasoner_malformed"
	fallbackReasonBreakerOpen = "breaker_open"
)

// Service turns change events into stored decisions. It owns the
// only call site of the reasoner and guarantees that every event id maps to
// exactly one decision, that confidence is always within [0, 1], and that a
// dead or misbehaving reasoner degrades to a zero-confidence decision rather
// than an error.
type Service struct {
	store    Store
	reasoner ports.Reasoner
	breaker  *circuit.Breaker
	metrics  *metrics.Metrics
	logger   *slog.Logger
	timeout  time.Duration
}

// Option configures the Service.
type Option func(*Service)

// WithMetrics sets the metrics collector for the service.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLogger sets the logger for the service.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithBreaker sets the circuit breaker guarding reasoner calls.
func WithBreaker(b *circuit.Breaker) Option {
	return func(s *Service) {
		s.breaker = b
	}
}

// WithTimeout overrides the per-call reasoner deadline.
// If not set or set to zero/negative, defaults to 30 seconds.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New creates a decision service with required dependencies.
// Panics if required dependencies are nil - fail fast at startup.
func New(store Store, reasoner ports.Reasoner, opts ...Option) *Service {
	if store == nil {
		panic("decision.New: store is required")
	}
	if reasoner == nil {
		panic("decision.New: reasoner port is required")
	}

	s := &Service{
		store:    store,
		reasoner: reasoner,
		timeout:  defaultReasonerTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Decide returns the decision for a change event, producing one if none is
// stored yet. The store is consulted before the reasoner, so replays and
// redeliveries of the same event never trigger a second reasoner call.
func (s *Service) Decide(ctx context.Context, event *eventmodels.ChangeEvent) (*Decision, error) {
	existing, err := s.store.GetByEventID(ctx, event.EventID)
	if err == nil {
		s.incrementDecisions("replay")
		return existing, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read decision")
	}

	analysis, fallback := s.analyze(ctx, event)

	d := &Decision{
		DecisionID: uuid.New(),
		EventID:    event.EventID,
		Action:     analysis.Action,
		Confidence: ClampConfidence(analysis.Confidence),
		Rationale:  analysis.Rationale,
		Fallback:   fallback,
		ProducedAt: time.Now().UTC(),
	}

	if err := s.store.Insert(ctx, d); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// Another worker decided this event first. Its decision wins.
			winner, err := s.store.GetByEventID(ctx, event.EventID)
			if err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read winning decision")
			}
			s.incrementDecisions("replay")
			return winner, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store decision")
	}

	if fallback {
		s.incrementDecisions("fallback")
	} else {
		s.incrementDecisions("reasoner")
	}
	return d, nil
}

// analyze consults the reasoner under the breaker and deadline. It never
// returns an error: any failure collapses to a zero-confidence analysis with
// action "none", which the gate can only ever route to LOG_ONLY.
func (s *Service) analyze(ctx context.Context, event *eventmodels.ChangeEvent) (*ports.Analysis, bool) {
	if s.breaker != nil && !s.breaker.Allow() {
		s.setBreakerOpen(true)
		s.logger.WarnContext(ctx, "reasoner circuit open, using fallback decision",
			"event_id", event.EventID,
		)
		return s.fallbackAnalysis(fallbackReasonBreakerOpen, "reasoner circuit open"), true
	}
	s.setBreakerOpen(false)

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	analysis, err := s.reasoner.Analyze(callCtx, ports.Request{
		EventID:    event.EventID,
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
		Operation:  string(event.Operation),
		Payload:    event.Payload,
	})
	s.observeReasonerLatency(time.Since(start))

	if err != nil {
		s.recordFailure()
		reason := fallbackReasonError
		if errors.Is(err, context.DeadlineExceeded) {
			reason = fallbackReasonTimeout
		}
		s.logger.WarnContext(ctx, "reasoner call failed, using fallback decision",
			"event_id", event.EventID,
			"reason", reason,
			"error", err,
		)
		return s.fallbackAnalysis(reason, "reasoner unavailable: "+err.Error()), true
	}

	if analysis == nil || strings.TrimSpace(analysis.Action) == "" {
		s.recordFailure()
		s.logger.WarnContext(ctx, "reasoner returned malformed analysis, using fallback decision",
			"event_id", event.EventID,
		)
		return s.fallbackAnalysis(fallbackReasonMalformed, "reasoner returned malformed analysis"), true
	}

	if s.breaker != nil {
		s.breaker.RecordSuccess()
	}
	return analysis, false
}

func (s *Service) fallbackAnalysis(reason, rationale string) *ports.Analysis {
	if s.metrics != nil {
		s.metrics.IncrementFallbacks(reason)
	}
	return &ports.Analysis{
		Action:     ActionNone,
		Confidence: 0,
		Rationale:  rationale,
	}
}

func (s *Service) recordFailure() {
	if s.breaker == nil {
		return
	}
	if opened := s.breaker.RecordFailure(); opened {
		s.setBreakerOpen(true)
	}
}

func (s *Service) incrementDecisions(source string) {
	if s.metrics != nil {
		s.metrics.IncrementDecisions(source)
	}
}

func (s *Service) observeReasonerLatency(d time.Duration) {
	if s.metrics != nil {
		s.metrics.ObserveReasonerLatency(d)
	}
}

func (s *Service) setBreakerOpen(open bool) {
	if s.metrics != nil {
		s.metrics.SetBreakerOpen(open)
	}
}
