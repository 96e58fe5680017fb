// Package retention periodically removes aged-out rows: change events past
// their window and outbox entries long since published. Audit records are
// never deleted; the ledger is the compliance trail and is only counted here
// for visibility.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	ledgerstore "arbiter/internal/ledger/store"
)

// EventStore exposes cleanup for stored change events.
type EventStore interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// OutboxStore exposes cleanup for published outbox entries.
type OutboxStore interface {
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}

// LedgerStore exposes the audit record count reported with each run.
type LedgerStore interface {
	Count(ctx context.Context, filter ledgerstore.Filter) (int64, error)
}

// Result summarizes the deletions performed by one retention run.
type Result struct {
	DeletedEvents        int64
	DeletedOutboxEntries int64
	AuditRecords         int64
}

// Service periodically sweeps expired rows.
type Service struct {
	events       EventStore
	outbox       OutboxStore
	ledger       LedgerStore
	interval     time.Duration
	eventWindow  time.Duration
	outboxWindow time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithInterval overrides the sweep interval when greater than zero.
func WithInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithEventWindow sets how long change events are kept.
func WithEventWindow(window time.Duration) Option {
	return func(s *Service) {
		if window > 0 {
			s.eventWindow = window
		}
	}
}

// WithOutboxWindow sets how long processed outbox entries are kept.
func WithOutboxWindow(window time.Duration) Option {
	return func(s *Service) {
		if window > 0 {
			s.outboxWindow = window
		}
	}
}

// WithLogger overrides the logger used for sweep reports.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock injects the clock cutoffs are computed from.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a retention service with required stores and options applied.
func New(events EventStore, outbox OutboxStore, ledger LedgerStore, opts ...Option) (*Service, error) {
	if events == nil || outbox == nil || ledger == nil {
		return nil, fmt.Errorf("events, outbox, and ledger stores are required")
	}
	svc := &Service{
		events:       events,
		outbox:       outbox,
		ledger:       ledger,
		interval:     time.Hour,
		eventWindow:  30 * 24 * time.Hour,
		outboxWindow: 7 * 24 * time.Hour,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc, nil
}

// Start sweeps periodically until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			res, err := s.RunOnce(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "retention sweep failed", "error", err)
				continue
			}
			if res.DeletedEvents > 0 || res.DeletedOutboxEntries > 0 {
				s.logger.InfoContext(ctx, "retention sweep completed",
					"deleted_events", res.DeletedEvents,
					"deleted_outbox_entries", res.DeletedOutboxEntries,
					"audit_records", res.AuditRecords,
				)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunOnce performs a single sweep. Errors from the individual stores are
// aggregated so one failing store never blocks the others' cleanup.
func (s *Service) RunOnce(ctx context.Context) (Result, error) {
	now := s.now().UTC()
	var res Result
	var errs []error

	deletedEvents, err := s.events.DeleteOlderThan(ctx, now.Add(-s.eventWindow))
	if err != nil {
		errs = append(errs, fmt.Errorf("delete expired change events: %w", err))
	} else {
		res.DeletedEvents = deletedEvents
	}

	deletedEntries, err := s.outbox.DeleteProcessedBefore(ctx, now.Add(-s.outboxWindow))
	if err != nil {
		errs = append(errs, fmt.Errorf("delete processed outbox entries: %w", err))
	} else {
		res.DeletedOutboxEntries = deletedEntries
	}

	total, err := s.ledger.Count(ctx, ledgerstore.Filter{})
	if err != nil {
		errs = append(errs, fmt.Errorf("count audit records: %w", err))
	} else {
		res.AuditRecords = total
	}

	if len(errs) > 0 {
		return res, errors.Join(errs...)
	}
	return res, nil
}
