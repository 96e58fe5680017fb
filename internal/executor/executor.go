// Package executor applies gated actions to the ERP with bounded retries.
//
// An execution is a small state machine on the audit record: the attempt
// counter is incremented before every outbound call, success lands the
// record in executed, a permanent rejection or retry exhaustion lands it in
// failed. Both moves are compare-and-swap transitions, so a concurrent
// worker or operator racing on the same record loses cleanly instead of
// double-applying. The ERP itself deduplicates on the decision id carried
// as the idempotency key.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"arbiter/internal/erp"
	"arbiter/internal/executor/metrics"
	eventmodels "arbiter/internal/event/models"
	"arbiter/internal/ledger/models"
	"arbiter/internal/ledger/store"
	"arbiter/internal/platform/tracer"
	"arbiter/internal/sentinel"
	dErrors "arbiter/pkg/domain-errors"
	"arbiter/pkg/platform/circuit"

	"github.com/google/uuid"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 250 * time.Millisecond
	defaultMaxDelay    = 5 * time.Second

	outcomeExecuted = "executed"
	outcomeFailed   = "failed"
)

// ERP is the outbound port for applying actions.
type ERP interface {
	Apply(ctx context.Context, req erp.Request) (*erp.Result, error)
}

// Ledger is the slice of the audit ledger the executor needs: the guarded
// attempt counter and the status compare-and-swap.
type Ledger interface {
	Transition(ctx context.Context, auditID int64, from, to models.Status, patch store.Patch) (*models.AuditRecord, error)
	IncrementAttempts(ctx context.Context, auditID int64, status models.Status) (int, error)
}

// EventSource loads the original change event whose payload is forwarded to
// the ERP.
type EventSource interface {
	Get(ctx context.Context, eventID uuid.UUID) (*eventmodels.ChangeEvent, error)
}

// Executor drives a single audit record from its source status to executed
// or failed.
type Executor struct {
	erp         ERP
	ledger      Ledger
	events      EventSource
	breaker     *circuit.Breaker
	metrics     *metrics.Metrics
	logger      *slog.Logger
	tracer      tracer.Tracer
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option configures the Executor.
type Option func(*Executor)

// WithMaxAttempts sets how many ERP calls a single execution may make.
func WithMaxAttempts(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithBaseDelay sets the first backoff delay; later attempts double it.
func WithBaseDelay(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.baseDelay = d
		}
	}
}

// WithMaxDelay caps the backoff delay.
func WithMaxDelay(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.maxDelay = d
		}
	}
}

// WithBreaker sets the circuit breaker guarding ERP calls.
func WithBreaker(b *circuit.Breaker) Option {
	return func(e *Executor) {
		e.breaker = b
	}
}

// WithMetrics sets the metrics collector for the executor.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

// WithLogger sets the logger for the executor.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = l
	}
}

// WithTracer sets the tracer for execution spans.
func WithTracer(t tracer.Tracer) Option {
	return func(e *Executor) {
		e.tracer = t
	}
}

// WithSleep overrides the backoff sleeper, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) {
		if fn != nil {
			e.sleep = fn
		}
	}
}

// New constructs an Executor. The ERP port, ledger and event source are
// required.
func New(erpPort ERP, ledger Ledger, events EventSource, opts ...Option) *Executor {
	if erpPort == nil {
		panic("executor.New: erp port is required")
	}
	if ledger == nil {
		panic("executor.New: ledger is required")
	}
	if events == nil {
		panic("executor.New: event source is required")
	}

	e := &Executor{
		erp:         erpPort,
		ledger:      ledger,
		events:      events,
		tracer:      tracer.NewNoop(),
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Execute applies the record's action to the ERP and lands the record in a
// terminal status. from is the expected current status (pending for
// auto-executed actions, approved after an operator resolution); a record
// that moved away from it fails the guarded attempt increment with a
// conflict.
//
// A terminal outcome, including failed, returns the final record with a nil
// error. A non-nil error means the execution could not run to completion
// (lost CAS race, ledger unavailable, context canceled) and the record may
// still be in the source status.
func (e *Executor) Execute(ctx context.Context, rec *models.AuditRecord, from models.Status) (final *models.AuditRecord, err error) {
	ctx, span := e.tracer.Start(ctx, tracer.SpanExecutorApply,
		tracer.Int64(tracer.AttrAuditID, rec.AuditID),
		tracer.String(tracer.AttrAction, rec.Action),
		tracer.String(tracer.AttrEntityType, rec.EntityType),
	)
	defer func() { span.End(err) }()

	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.ObserveApplyDuration(time.Since(start))
		}
	}()

	event, err := e.events.Get(ctx, rec.EventID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return e.fail(ctx, span, rec, from, "change event no longer available")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load change event")
	}

	req := erp.Request{
		Action:         rec.Action,
		EntityType:     rec.EntityType,
		EntityID:       rec.EntityID,
		Payload:        event.Payload,
		IdempotencyKey: rec.DecisionID.String(),
	}

	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		// Record the attempt before the call so a crash in between is
		// visible as attempts > 0 with no executed_at.
		if _, err := e.ledger.IncrementAttempts(ctx, rec.AuditID, from); err != nil {
			return nil, err
		}
		if e.metrics != nil {
			e.metrics.IncrementAttempts()
		}

		result, callErr := e.apply(ctx, req)
		if callErr == nil {
			now := time.Now().UTC()
			final, err := e.ledger.Transition(ctx, rec.AuditID, from, models.StatusExecuted, store.Patch{ExecutedAt: &now})
			if err != nil {
				return nil, err
			}
			if e.metrics != nil {
				e.metrics.IncrementExecutions(outcomeExecuted)
			}
			e.logger.InfoContext(ctx, "action executed",
				"audit_id", rec.AuditID,
				"action", rec.Action,
				"entity_type", rec.EntityType,
				"entity_id", rec.EntityID,
				"reference", result.Reference,
				"attempt", attempt,
			)
			span.SetAttributes(
				tracer.String(tracer.AttrOutcome, outcomeExecuted),
				tracer.Int64(tracer.AttrAttempt, int64(attempt)),
			)
			return final, nil
		}

		if !erp.IsTransient(callErr) {
			e.logger.WarnContext(ctx, "erp rejected action",
				"audit_id", rec.AuditID,
				"action", rec.Action,
				"error", callErr,
			)
			return e.fail(ctx, span, rec, from, callErr.Error())
		}

		lastErr = callErr
		if attempt < e.maxAttempts {
			delay := e.backoff(attempt)
			e.logger.DebugContext(ctx, "erp attempt failed, backing off",
				"audit_id", rec.AuditID,
				"attempt", attempt,
				"delay", delay,
				"error", callErr,
			)
			span.AddEvent(tracer.EventRetryBackoff, tracer.Duration("delay", delay))
			if e.metrics != nil {
				e.metrics.IncrementRetryBackoffs()
			}
			if err := e.sleep(ctx, delay); err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "execution aborted during backoff")
			}
		}
	}

	e.logger.WarnContext(ctx, "erp attempts exhausted",
		"audit_id", rec.AuditID,
		"action", rec.Action,
		"attempts", e.maxAttempts,
		"error", lastErr,
	)
	return e.fail(ctx, span, rec, from, fmt.Sprintf("attempts exhausted: %v", lastErr))
}

// apply makes one ERP call under the circuit breaker. An open breaker is a
// transient failure so retries and backoff apply to it uniformly.
func (e *Executor) apply(ctx context.Context, req erp.Request) (*erp.Result, error) {
	if e.breaker != nil && !e.breaker.Allow() {
		if e.metrics != nil {
			e.metrics.IncrementBreakerRejections()
			e.metrics.SetBreakerOpen(true)
		}
		return nil, &erp.TransientError{Err: errors.New("erp circuit open")}
	}

	result, err := e.erp.Apply(ctx, req)
	if err != nil {
		// Permanent rejections mean the ERP is healthy; only transient
		// failures count against the breaker.
		if e.breaker != nil && erp.IsTransient(err) {
			if opened := e.breaker.RecordFailure(); opened {
				e.logger.WarnContext(ctx, "erp circuit opened", "breaker", e.breaker.Name())
				if e.metrics != nil {
					e.metrics.SetBreakerOpen(true)
				}
			}
		}
		return nil, err
	}

	if e.breaker != nil {
		e.breaker.RecordSuccess()
		if e.metrics != nil {
			e.metrics.SetBreakerOpen(false)
		}
	}
	return result, nil
}

func (e *Executor) fail(ctx context.Context, span tracer.Span, rec *models.AuditRecord, from models.Status, reason string) (*models.AuditRecord, error) {
	final, err := e.ledger.Transition(ctx, rec.AuditID, from, models.StatusFailed, store.Patch{Error: &reason})
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.IncrementExecutions(outcomeFailed)
	}
	span.SetAttributes(tracer.String(tracer.AttrOutcome, outcomeFailed))
	return final, nil
}

// backoff returns the delay before the next attempt: exponential doubling
// from baseDelay, capped at maxDelay, jittered to half-to-full range so
// simultaneous retries spread out.
func (e *Executor) backoff(attempt int) time.Duration {
	delay := e.baseDelay << (attempt - 1)
	if delay > e.maxDelay || delay <= 0 {
		delay = e.maxDelay
	}
	half := delay / 2
	return half + rand.N(delay-half+1)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
