package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"arbiter/internal/event/models"
	"arbiter/internal/sentinel"
)

// PostgresStore persists change events in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed event store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, event *models.ChangeEvent) error {
	if event == nil {
		return fmt.Errorf("change event is required")
	}
	query := `
		INSERT INTO change_events (event_id, entity_type, entity_id, operation, payload, trace_id, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING
		RETURNING event_id
	`
	var storedID uuid.UUID
	err := s.db.QueryRowContext(ctx, query,
		event.EventID,
		event.EntityType,
		event.EntityID,
		string(event.Operation),
		nullableJSON(event.Payload),
		event.TraceID,
		event.ReceivedAt,
	).Scan(&storedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert change event: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, eventID uuid.UUID) (*models.ChangeEvent, error) {
	query := `
		SELECT event_id, entity_type, entity_id, operation, payload, trace_id, received_at
		FROM change_events
		WHERE event_id = $1
	`
	var event models.ChangeEvent
	var operation string
	var payload []byte
	var traceID sql.NullString
	err := s.db.QueryRowContext(ctx, query, eventID).Scan(
		&event.EventID,
		&event.EntityType,
		&event.EntityID,
		&operation,
		&payload,
		&traceID,
		&event.ReceivedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get change event: %w", err)
	}
	event.Operation = models.Operation(operation)
	event.Payload = payload
	if traceID.Valid {
		event.TraceID = traceID.String
	}
	return &event, nil
}

func (s *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM change_events WHERE received_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old change events: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete old change events rows: %w", err)
	}
	return deleted, nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
