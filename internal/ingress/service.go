// Package ingress authenticates, validates and admits inbound ERP change
// events.
//
// Admission is idempotent: the event id is derived from the raw body, so a
// webhook redelivery maps onto the same ChangeEvent row and is not enqueued
// a second time. The one exception is an event that was persisted but never
// made it into an audit record, which a redelivery re-enqueues to close the
// persist-then-crash window.
package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"arbiter/internal/event/models"
	"arbiter/internal/event/schema"
	"arbiter/internal/ingress/metrics"
	ledgermodels "arbiter/internal/ledger/models"
	"arbiter/internal/queue"
	"arbiter/internal/sentinel"
	dErrors "arbiter/pkg/domain-errors"
)

const (
	resultAccepted  = "accepted"
	resultDuplicate = "duplicate"
	resultReplayed  = "replayed"

	reasonSignature = "signature"
	reasonSchema    = "schema"
)

// EventStore persists admitted change events.
type EventStore interface {
	Insert(ctx context.Context, event *models.ChangeEvent) error
}

// AuditLookup checks whether an event already produced an audit record.
type AuditLookup interface {
	GetByEventID(ctx context.Context, eventID uuid.UUID) (*ledgermodels.AuditRecord, error)
}

// Enqueuer hands admitted events to the work queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg queue.Message) error
}

// Result is the admission outcome returned to the webhook caller.
type Result struct {
	EventID  uuid.UUID
	Accepted bool
}

// Service is the event ingress: signature check, schema validation,
// deterministic identity, persistence and enqueue.
type Service struct {
	secret  []byte
	store   EventStore
	ledger  AuditLookup
	queue   Enqueuer
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithMetrics sets the metrics collector for ingress.
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

// WithClock overrides the received-at clock for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs the ingress service. The webhook secret, event
// store, audit lookup and queue are all required.
func NewService(secret []byte, store EventStore, ledger AuditLookup, q Enqueuer, opts ...Option) *Service {
	if len(secret) == 0 {
		panic("ingress.NewService: webhook secret is required")
	}
	if store == nil {
		panic("ingress.NewService: event store is required")
	}
	if ledger == nil {
		panic("ingress.NewService: audit lookup is required")
	}
	if q == nil {
		panic("ingress.NewService: queue is required")
	}

	s := &Service{
		secret: secret,
		store:  store,
		ledger: ledger,
		queue:  q,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

type eventEnvelope struct {
	EntityType string          `json:"entity_type"`
	EntityID   int64           `json:"entity_id"`
	Operation  string          `json:"operation"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Ingest admits one webhook delivery. The signature covers the raw bytes,
// so rawBody must be exactly what arrived on the wire.
func (s *Service) Ingest(ctx context.Context, rawBody []byte, signature, traceID string) (*Result, error) {
	if !VerifySignature(s.secret, rawBody, signature) {
		s.incrementRejected(reasonSignature)
		s.logger.WarnContext(ctx, "webhook signature rejected", "trace_id", traceID)
		return nil, dErrors.New(dErrors.CodeSignatureInvalid, "signature verification failed")
	}

	if err := schema.Validate(rawBody); err != nil {
		s.incrementRejected(reasonSchema)
		s.logger.WarnContext(ctx, "webhook body rejected by schema", "trace_id", traceID, "error", err)
		return nil, dErrors.New(dErrors.CodeSchemaInvalid, err.Error())
	}

	var env eventEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		s.incrementRejected(reasonSchema)
		return nil, dErrors.New(dErrors.CodeSchemaInvalid, "body is not a change event")
	}

	event := &models.ChangeEvent{
		EventID:    models.DeriveEventID(rawBody),
		EntityType: env.EntityType,
		EntityID:   env.EntityID,
		Operation:  models.Operation(env.Operation),
		Payload:    env.Payload,
		TraceID:    traceID,
		ReceivedAt: s.now().UTC(),
	}

	if err := s.store.Insert(ctx, event); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return s.handleDuplicate(ctx, event)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "persist change event")
	}

	if err := s.enqueue(ctx, event); err != nil {
		// The event row is durable; a redelivery of the same body will
		// re-enqueue it through the duplicate path.
		return nil, err
	}

	s.incrementEvents(resultAccepted)
	s.observeBodyBytes(len(rawBody))
	s.logger.InfoContext(ctx, "event accepted",
		"event_id", event.EventID,
		"entity_type", event.EntityType,
		"entity_id", event.EntityID,
		"operation", event.Operation,
		"trace_id", traceID,
	)
	return &Result{EventID: event.EventID, Accepted: true}, nil
}

// handleDuplicate decides whether a redelivered event needs another ride
// through the pipeline. If an audit record exists the event completed (or is
// in flight holding a queue lease); otherwise the first delivery died
// between persist and enqueue and we re-enqueue.
func (s *Service) handleDuplicate(ctx context.Context, event *models.ChangeEvent) (*Result, error) {
	_, err := s.ledger.GetByEventID(ctx, event.EventID)
	switch {
	case err == nil:
		s.incrementEvents(resultDuplicate)
		s.logger.DebugContext(ctx, "duplicate event ignored", "event_id", event.EventID)
		return &Result{EventID: event.EventID, Accepted: false}, nil
	case dErrors.HasCode(err, dErrors.CodeNotFound) || errors.Is(err, sentinel.ErrNotFound):
		if err := s.enqueue(ctx, event); err != nil {
			return nil, err
		}
		s.incrementEvents(resultReplayed)
		s.logger.InfoContext(ctx, "duplicate event re-enqueued, no audit record yet",
			"event_id", event.EventID,
		)
		return &Result{EventID: event.EventID, Accepted: false}, nil
	default:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "check audit record for duplicate event")
	}
}

func (s *Service) enqueue(ctx context.Context, event *models.ChangeEvent) error {
	msg := queue.Message{
		EventID:    event.EventID,
		TraceID:    event.TraceID,
		EnqueuedAt: s.now().UTC(),
	}
	if err := s.queue.Enqueue(ctx, msg); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "enqueue change event")
	}
	return nil
}

func (s *Service) incrementEvents(result string) {
	if s.metrics != nil {
		s.metrics.IncrementEvents(result)
	}
}

func (s *Service) incrementRejected(reason string) {
	if s.metrics != nil {
		s.metrics.IncrementRejected(reason)
	}
}

func (s *Service) observeBodyBytes(n int) {
	if s.metrics != nil {
		s.metrics.ObserveBodyBytes(n)
	}
}
