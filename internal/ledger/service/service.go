package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"arbiter/internal/ledger/metrics"
	"arbiter/internal/ledger/models"
	"arbiter/internal/ledger/store"
	"arbiter/internal/outbox"
	"arbiter/internal/sentinel"
	dErrors "arbiter/pkg/domain-errors"
)

// Store defines the persistence interface for audit records.
// Error Contract:
// - Append returns the existing record and sentinel.ErrConflict when the
//   event id is already recorded
// - Get and GetByEventID return sentinel.ErrNotFound when no record matches
// - TransitionStatus and IncrementAttempts return sentinel.ErrNotFound for
//   unknown ids and sentinel.ErrStaleStatus when the status guard fails,
//   TransitionStatus with the current record
type Store interface {
	Append(ctx context.Context, rec *models.AuditRecord) (*models.AuditRecord, error)
	Get(ctx context.Context, auditID int64) (*models.AuditRecord, error)
	GetByEventID(ctx context.Context, eventID uuid.UUID) (*models.AuditRecord, error)
	TransitionStatus(ctx context.Context, auditID int64, from, to models.Status, patch store.Patch) (*models.AuditRecord, error)
	IncrementAttempts(ctx context.Context, auditID int64, status models.Status) (int, error)
	List(ctx context.Context, filter store.Filter, page store.Page) ([]*models.AuditRecord, error)
	Count(ctx context.Context, filter store.Filter) (int64, error)
}

// OutboxAppender records ledger changes for asynchronous publishing.
type OutboxAppender interface {
	Append(ctx context.Context, entry *outbox.Entry) error
}

// Executor applies an approved action against the ERP and reports the
// outcome back through this service. Wired after construction because the
// executor needs the ledger to record attempts.
type Executor interface {
	Execute(ctx context.Context, rec *models.AuditRecord, from models.Status) (*models.AuditRecord, error)
}

type Option func(*Service)

// Service owns the append-only audit ledger: every dispatched event ends as
// exactly one record here, and all later status changes go through the
// compare-and-swap transition below.
type Service struct {
	store    Store
	outbox   OutboxAppender
	executor Executor
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewService(store Store, logger *slog.Logger, opts ...Option) *Service {
	if store == nil {
		panic("ledger service requires a store")
	}
	svc := &Service{
		store:  store,
		logger: logger,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	return svc
}

// WithLogger sets the logger instance for the service.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithOutbox sets the outbox used to publish ledger changes downstream.
func WithOutbox(appender OutboxAppender) Option {
	return func(s *Service) {
		s.outbox = appender
	}
}

// SetExecutor wires the action executor. Must be called before any approval
// can trigger execution.
func (s *Service) SetExecutor(exec Executor) {
	s.executor = exec
}

// Append records a dispatch outcome. Appending the same event twice returns
// the already stored record, so redelivered queue messages cannot produce
// duplicate ledger rows.
func (s *Service) Append(ctx context.Context, rec *models.AuditRecord) (*models.AuditRecord, error) {
	if rec.Status == "" {
		rec.Status = models.StatusPending
	}
	if !rec.Status.Valid() {
		return nil, dErrors.New(dErrors.CodeBadRequest,
			fmt.Sprintf("invalid audit status %q", rec.Status))
	}

	stored, err := s.store.Append(ctx, rec)
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			s.logger.DebugContext(ctx, "audit record already exists for event",
				"event_id", rec.EventID,
				"audit_id", stored.AuditID,
			)
			return stored, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to append audit record")
	}

	if s.metrics != nil {
		s.metrics.IncrementAppends(stored.Verdict)
	}
	s.logger.InfoContext(ctx, "audit record appended",
		"audit_id", stored.AuditID,
		"event_id", stored.EventID,
		"action", stored.Action,
		"verdict", stored.Verdict,
		"status", stored.Status,
	)

	s.publishChange(ctx, stored, outbox.KindAuditAppended)
	return stored, nil
}

// Transition moves a record from one status to another. The from status is
// a guard: if another writer moved the record first, the call fails with a
// conflict carrying the current record state.
func (s *Service) Transition(ctx context.Context, auditID int64, from, to models.Status, patch store.Patch) (*models.AuditRecord, error) {
	if !from.CanTransitionTo(to) {
		return nil, dErrors.New(dErrors.CodeBadRequest,
			fmt.Sprintf("illegal status transition %s to %s", from, to))
	}

	current, err := s.store.TransitionStatus(ctx, auditID, from, to, patch)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.New(dErrors.CodeNotFound, "audit record not found")
		case errors.Is(err, sentinel.ErrStaleStatus):
			if s.metrics != nil {
				s.metrics.IncrementStaleTransitions()
			}
			return current, dErrors.New(dErrors.CodeConflict,
				fmt.Sprintf("audit record status is %s, expected %s", current.Status, from))
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to transition audit record")
		}
	}

	if s.metrics != nil {
		s.metrics.IncrementTransitions(string(from), string(to))
	}
	s.logger.InfoContext(ctx, "audit record transitioned",
		"audit_id", auditID,
		"from", from,
		"to", to,
	)

	s.publishChange(ctx, current, outbox.KindStatusChanged)
	return current, nil
}

// IncrementAttempts bumps the attempt counter while the record is still in
// the given status. Recording the attempt before the ERP call means a crash
// mid-call is visible in the ledger.
func (s *Service) IncrementAttempts(ctx context.Context, auditID int64, status models.Status) (int, error) {
	n, err := s.store.IncrementAttempts(ctx, auditID, status)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return 0, dErrors.New(dErrors.CodeNotFound, "audit record not found")
		case errors.Is(err, sentinel.ErrStaleStatus):
			return n, dErrors.New(dErrors.CodeConflict,
				fmt.Sprintf("audit record no longer %s", status))
		default:
			return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to increment attempts")
		}
	}
	return n, nil
}

func (s *Service) Get(ctx context.Context, auditID int64) (*models.AuditRecord, error) {
	rec, err := s.store.Get(ctx, auditID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "audit record not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read audit record")
	}
	return rec, nil
}

func (s *Service) GetByEventID(ctx context.Context, eventID uuid.UUID) (*models.AuditRecord, error) {
	rec, err := s.store.GetByEventID(ctx, eventID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "audit record not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read audit record")
	}
	return rec, nil
}

// List returns a page of records matching the filter plus the total match
// count for pagination.
func (s *Service) List(ctx context.Context, filter store.Filter, page store.Page) ([]*models.AuditRecord, int64, error) {
	records, err := s.store.List(ctx, filter, page)
	if err != nil {
		return nil, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit records")
	}
	total, err := s.store.Count(ctx, filter)
	if err != nil {
		return nil, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count audit records")
	}
	return records, total, nil
}

// publishChange writes an outbox entry for the record's new state. Outbox
// failures are logged, not returned: the ledger write already happened and
// must not be rolled back by a publishing problem.
func (s *Service) publishChange(ctx context.Context, rec *models.AuditRecord, kind outbox.Kind) {
	if s.outbox == nil {
		return
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to encode audit record for outbox",
			"audit_id", rec.AuditID,
			"error", err,
		)
		return
	}

	entry := outbox.NewEntry(rec.AuditID, rec.EventID, kind, payload)
	if err := s.outbox.Append(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "failed to append outbox entry",
			"audit_id", rec.AuditID,
			"kind", kind,
			"error", err,
		)
	}
}
