// Package pipeline drives queued change events through decision, gating,
// auditing and execution.
//
// A bounded pool of workers leases messages from the work queue, so one slow
// reasoner or ERP call never stalls the rest of the stream. Processing is
// idempotent per event: decisions are stored before use, audit appends
// dedupe on event id, and redeliveries route on the stored record. Events
// are not ordered relative to each other; per-entity ordering is the
// upstream system's concern.
//
// Errors never escape a worker. A failed delivery is requeued until its
// delivery budget runs out, then recorded as a failed audit record and
// dropped, so a poison message cannot wedge the queue.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"arbiter/internal/decision"
	eventmodels "arbiter/internal/event/models"
	"arbiter/internal/gate"
	ledgermodels "arbiter/internal/ledger/models"
	ledgerstore "arbiter/internal/ledger/store"
	"arbiter/internal/pipeline/metrics"
	"arbiter/internal/platform/tracer"
	"arbiter/internal/queue"
	rulemodels "arbiter/internal/rule/models"
	"arbiter/internal/sentinel"
	dErrors "arbiter/pkg/domain-errors"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	defaultWorkers       = 4
	defaultLeaseTTL      = 60 * time.Second
	defaultPollInterval  = 100 * time.Millisecond
	defaultReapInterval  = 5 * time.Second
	defaultMaxDeliveries = 5
)

// EventSource loads the stored change event for a queued message.
type EventSource interface {
	Get(ctx context.Context, eventID uuid.UUID) (*eventmodels.ChangeEvent, error)
}

// Decider produces the decision for a change event, replaying the stored
// one on redelivery.
type Decider interface {
	Decide(ctx context.Context, event *eventmodels.ChangeEvent) (*decision.Decision, error)
}

// RuleFinder resolves the rule governing a proposed action. CodeNotFound
// means no rule matches; the gate turns that into LOG_ONLY.
type RuleFinder interface {
	FindForDecision(ctx context.Context, entityType, actionName string) (*rulemodels.AutomationRule, error)
}

// Ledger is the slice of the audit ledger the pipeline writes through.
type Ledger interface {
	Append(ctx context.Context, rec *ledgermodels.AuditRecord) (*ledgermodels.AuditRecord, error)
	Transition(ctx context.Context, auditID int64, from, to ledgermodels.Status, patch ledgerstore.Patch) (*ledgermodels.AuditRecord, error)
	GetByEventID(ctx context.Context, eventID uuid.UUID) (*ledgermodels.AuditRecord, error)
}

// Executor settles AUTO_EXECUTE records against the ERP.
type Executor interface {
	Execute(ctx context.Context, rec *ledgermodels.AuditRecord, from ledgermodels.Status) (*ledgermodels.AuditRecord, error)
}

// Pipeline is the worker pool that turns queued change events into settled
// audit records.
type Pipeline struct {
	queue    queue.Queue
	events   EventSource
	decider  Decider
	rules    RuleFinder
	ledger   Ledger
	executor Executor
	metrics  *metrics.Metrics
	logger   *slog.Logger
	tracer   tracer.Tracer
	now      func() time.Time

	workers       int
	leaseTTL      time.Duration
	pollInterval  time.Duration
	reapInterval  time.Duration
	maxDeliveries int
}

// Option configures the Pipeline.
type Option func(*Pipeline)

// WithWorkers sets the number of concurrent workers.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithLeaseTTL sets the visibility timeout for dequeued messages. It must
// comfortably exceed the worst-case processing time of one event, or the
// reaper will redeliver messages that are still being worked on.
func WithLeaseTTL(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.leaseTTL = d
		}
	}
}

// WithPollInterval sets how long an idle worker waits before polling again.
func WithPollInterval(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithReapInterval sets how often expired leases are swept back into the
// queue.
func WithReapInterval(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.reapInterval = d
		}
	}
}

// WithMaxDeliveries bounds how often one message is delivered before it is
// quarantined as poison.
func WithMaxDeliveries(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxDeliveries = n
		}
	}
}

// WithMetrics sets the metrics collector for the pipeline.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithLogger sets the logger for the pipeline.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithTracer sets the tracer for per-event spans.
func WithTracer(t tracer.Tracer) Option {
	return func(p *Pipeline) {
		p.tracer = t
	}
}

// WithClock injects the clock used for gate evaluation timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// New constructs the pipeline. All ports are required.
func New(q queue.Queue, events EventSource, decider Decider, rules RuleFinder, ledger Ledger, exec Executor, opts ...Option) *Pipeline {
	if q == nil {
		panic("pipeline.New: queue is required")
	}
	if events == nil {
		panic("pipeline.New: event source is required")
	}
	if decider == nil {
		panic("pipeline.New: decider is required")
	}
	if rules == nil {
		panic("pipeline.New: rule finder is required")
	}
	if ledger == nil {
		panic("pipeline.New: ledger is required")
	}
	if exec == nil {
		panic("pipeline.New: executor is required")
	}

	p := &Pipeline{
		queue:         q,
		events:        events,
		decider:       decider,
		rules:         rules,
		ledger:        ledger,
		executor:      exec,
		now:           time.Now,
		workers:       defaultWorkers,
		leaseTTL:      defaultLeaseTTL,
		pollInterval:  defaultPollInterval,
		reapInterval:  defaultReapInterval,
		maxDeliveries: defaultMaxDeliveries,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.tracer == nil {
		p.tracer = tracer.NewNoop()
	}
	return p
}

// Run starts the worker pool and the lease reaper and blocks until ctx is
// canceled. In-flight deliveries are abandoned on shutdown; their leases
// expire and the messages are redelivered on the next run.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "pipeline starting",
		"workers", p.workers,
		"lease_ttl", p.leaseTTL,
		"max_deliveries", p.maxDeliveries,
	)

	g, ctx := errgroup.WithContext(ctx)
	for range p.workers {
		g.Go(func() error {
			p.workerLoop(ctx)
			return nil
		})
	}
	g.Go(func() error {
		p.reapLoop(ctx)
		return nil
	})
	err := g.Wait()

	p.logger.Info("pipeline stopped")
	return err
}

func (p *Pipeline) workerLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		lease, err := p.queue.Dequeue(ctx, p.leaseTTL)
		if err != nil {
			if !errors.Is(err, sentinel.ErrEmpty) && ctx.Err() == nil {
				p.logger.ErrorContext(ctx, "dequeue failed", "error", err)
			}
			if !p.sleep(ctx, p.pollInterval) {
				return
			}
			continue
		}

		p.handle(ctx, lease)
	}
}

// handle settles one delivery. Every path acks or requeues the lease;
// processing errors never escape to the worker loop.
func (p *Pipeline) handle(ctx context.Context, lease *queue.Lease) {
	if p.metrics != nil {
		p.metrics.IncBusyWorkers()
		defer p.metrics.DecBusyWorkers()
	}

	err := p.process(ctx, lease)
	if err == nil {
		p.ack(ctx, lease)
		return
	}

	if ctx.Err() != nil {
		// Shutdown interrupted processing. Leave the lease to expire so the
		// message is redelivered instead of counting this as a failure.
		return
	}

	p.logger.ErrorContext(ctx, "event processing failed",
		"event_id", lease.EventID,
		"trace_id", lease.TraceID,
		"attempt", lease.Attempt,
		"error", err,
	)

	if dErrors.HasCode(err, dErrors.CodeNotFound) || lease.Attempt >= p.maxDeliveries {
		p.quarantine(ctx, lease, err)
		p.ack(ctx, lease)
		if p.metrics != nil {
			p.metrics.IncrementPoisoned()
		}
		return
	}

	if err := p.queue.Requeue(ctx, lease); err != nil {
		// Lease expired mid-processing; the reaper already returned the
		// message to the queue.
		p.logger.WarnContext(ctx, "requeue failed",
			"event_id", lease.EventID,
			"error", err,
		)
		return
	}
	if p.metrics != nil {
		p.metrics.IncrementRetried()
	}
}

// process runs one delivery end to end: load the event, decide, gate,
// record, route. Each stage is a replay of stored state on redelivery, so
// running it twice for the same event converges on the same record.
func (p *Pipeline) process(ctx context.Context, lease *queue.Lease) (err error) {
	ctx, span := p.tracer.Start(ctx, tracer.SpanPipelineProcess,
		tracer.String(tracer.AttrEventID, lease.EventID.String()),
		tracer.Int64(tracer.AttrAttempt, int64(lease.Attempt)),
	)
	defer func() { span.End(err) }()
	start := time.Now()

	event, err := p.events.Get(ctx, lease.EventID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			// The event row outlives its queue message by design, so a
			// missing row cannot heal on retry.
			return dErrors.Wrap(err, dErrors.CodeNotFound, "change event not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "load change event")
	}
	span.SetAttributes(tracer.String(tracer.AttrEntityType, event.EntityType))

	d, err := p.decider.Decide(ctx, event)
	if err != nil {
		return err
	}
	span.SetAttributes(
		tracer.String(tracer.AttrAction, d.Action),
		tracer.Float64(tracer.AttrConfidence, d.Confidence),
		tracer.Bool(tracer.AttrFallback, d.Fallback),
	)

	rule, err := p.findRule(ctx, event.EntityType, d.Action)
	if err != nil {
		return err
	}

	disp := gate.Evaluate(d, rule, p.now().UTC())

	stored, err := p.ledger.Append(ctx, buildRecord(event, d, disp))
	if err != nil {
		return err
	}
	span.AddEvent(tracer.EventAuditRecorded,
		tracer.Int64(tracer.AttrAuditID, stored.AuditID),
	)
	span.SetAttributes(tracer.String(tracer.AttrOutcome, stored.Verdict))

	if err := p.route(ctx, stored); err != nil {
		return err
	}

	if p.metrics != nil {
		p.metrics.IncrementProcessed(stored.Verdict)
		p.metrics.ObserveProcessDuration(time.Since(start))
	}
	return nil
}

// findRule resolves the governing rule, treating "no rule" as nil. Fallback
// decisions propose no action, so nothing is looked up for them.
func (p *Pipeline) findRule(ctx context.Context, entityType, action string) (*rulemodels.AutomationRule, error) {
	if action == decision.ActionNone {
		return nil, nil
	}

	rule, err := p.rules.FindForDecision(ctx, entityType, action)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return rule, nil
}

// route settles a pending record according to its stored verdict. The stored
// verdict wins over anything recomputed on redelivery: rule edits between
// deliveries must not change how an already recorded dispatch is routed.
// Records past pending were settled by an earlier delivery or an operator
// and are left untouched.
func (p *Pipeline) route(ctx context.Context, rec *ledgermodels.AuditRecord) error {
	if rec.Status != ledgermodels.StatusPending {
		p.logger.DebugContext(ctx, "audit record already settled",
			"audit_id", rec.AuditID,
			"status", rec.Status,
		)
		return nil
	}

	switch gate.Verdict(rec.Verdict) {
	case gate.VerdictLogOnly:
		_, err := p.ledger.Transition(ctx, rec.AuditID,
			ledgermodels.StatusPending, ledgermodels.StatusLogged, ledgerstore.Patch{})
		if err != nil && !dErrors.HasCode(err, dErrors.CodeConflict) {
			return err
		}
		return nil

	case gate.VerdictNeedsApproval:
		p.logger.InfoContext(ctx, "action parked for approval",
			"audit_id", rec.AuditID,
			"action", rec.Action,
			"confidence", rec.Confidence,
		)
		return nil

	case gate.VerdictAutoExecute:
		final, err := p.executor.Execute(ctx, rec, ledgermodels.StatusPending)
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeConflict) {
				// Another delivery of the same event got there first.
				return nil
			}
			return err
		}
		p.logger.InfoContext(ctx, "auto execution settled",
			"audit_id", final.AuditID,
			"status", final.Status,
		)
		return nil

	default:
		return dErrors.New(dErrors.CodeInternal,
			fmt.Sprintf("unknown verdict %q on audit record %d", rec.Verdict, rec.AuditID))
	}
}

// quarantine records a dropped delivery as a failed audit record so the
// event's fate stays visible after its message is gone. If processing died
// before anything was recorded, a minimal record is appended carrying
// whatever identity the event row still offers.
func (p *Pipeline) quarantine(ctx context.Context, lease *queue.Lease, cause error) {
	reason := cause.Error()

	rec, err := p.ledger.GetByEventID(ctx, lease.EventID)
	if err == nil {
		if rec.Status != ledgermodels.StatusPending {
			return
		}
		_, err := p.ledger.Transition(ctx, rec.AuditID,
			ledgermodels.StatusPending, ledgermodels.StatusFailed,
			ledgerstore.Patch{Error: &reason})
		if err != nil && !dErrors.HasCode(err, dErrors.CodeConflict) {
			p.logger.ErrorContext(ctx, "failed to mark audit record failed",
				"audit_id", rec.AuditID,
				"event_id", lease.EventID,
				"error", err,
			)
		}
		return
	}
	if !dErrors.HasCode(err, dErrors.CodeNotFound) {
		p.logger.ErrorContext(ctx, "quarantine lookup failed",
			"event_id", lease.EventID,
			"error", err,
		)
		return
	}

	rec = &ledgermodels.AuditRecord{
		EventID:   lease.EventID,
		Action:    decision.ActionNone,
		Status:    ledgermodels.StatusFailed,
		Error:     &reason,
		CreatedAt: p.now().UTC(),
	}
	if event, err := p.events.Get(ctx, lease.EventID); err == nil {
		rec.EntityType = event.EntityType
		rec.EntityID = event.EntityID
	}
	if _, err := p.ledger.Append(ctx, rec); err != nil {
		p.logger.ErrorContext(ctx, "failed to append quarantine record",
			"event_id", lease.EventID,
			"error", err,
		)
	}
}

func (p *Pipeline) ack(ctx context.Context, lease *queue.Lease) {
	if err := p.queue.Ack(ctx, lease); err != nil {
		p.logger.WarnContext(ctx, "ack failed, message may be redelivered",
			"event_id", lease.EventID,
			"error", err,
		)
	}
}

func (p *Pipeline) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(p.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.queue.ReapExpired(ctx)
			if err != nil {
				p.logger.WarnContext(ctx, "lease reap failed", "error", err)
				continue
			}
			if n > 0 {
				p.logger.InfoContext(ctx, "expired leases requeued", "count", n)
			}
			if depth, err := p.queue.Depth(ctx); err == nil {
				p.logger.DebugContext(ctx, "queue depth", "depth", depth)
			}
		}
	}
}

func (p *Pipeline) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// buildRecord assembles the denormalized ledger row for one gated decision.
// The row snapshots the thresholds in force so later rule edits cannot
// change how this dispatch reads.
func buildRecord(event *eventmodels.ChangeEvent, d *decision.Decision, disp gate.Disposition) *ledgermodels.AuditRecord {
	return &ledgermodels.AuditRecord{
		EventID:         event.EventID,
		DecisionID:      d.DecisionID,
		EntityType:      event.EntityType,
		EntityID:        event.EntityID,
		Action:          d.Action,
		Confidence:      d.Confidence,
		Rationale:       d.Rationale,
		Verdict:         string(disp.Verdict),
		RuleID:          disp.RuleID,
		ThresholdAuto:   disp.ThresholdAuto,
		ThresholdReview: disp.ThresholdReview,
		Status:          ledgermodels.StatusPending,
		CreatedAt:       disp.DecidedAt,
	}
}
