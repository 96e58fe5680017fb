package decision

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"arbiter/internal/sentinel"
)

// PostgresStore persists decisions in PostgreSQL. The UNIQUE constraint on
// event_id is what makes Decide idempotent across concurrent workers.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, d *Decision) error {
	query := `
		INSERT INTO decisions (decision_id, event_id, action, confidence, rationale, fallback, produced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING
		RETURNING decision_id
	`
	var storedID uuid.UUID
	err := s.db.QueryRowContext(ctx, query,
		d.DecisionID,
		d.EventID,
		d.Action,
		d.Confidence,
		d.Rationale,
		d.Fallback,
		d.ProducedAt,
	).Scan(&storedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, decisionID uuid.UUID) (*Decision, error) {
	query := decisionSelect + ` WHERE decision_id = $1`
	d, err := scanDecision(s.db.QueryRowContext(ctx, query, decisionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get decision: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) GetByEventID(ctx context.Context, eventID uuid.UUID) (*Decision, error) {
	query := decisionSelect + ` WHERE event_id = $1`
	d, err := scanDecision(s.db.QueryRowContext(ctx, query, eventID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get decision by event: %w", err)
	}
	return d, nil
}

const decisionSelect = `
	SELECT decision_id, event_id, action, confidence, rationale, fallback, produced_at
	FROM decisions
`

type decisionRow interface {
	Scan(dest ...any) error
}

func scanDecision(row decisionRow) (*Decision, error) {
	var d Decision
	var rationale sql.NullString
	if err := row.Scan(
		&d.DecisionID,
		&d.EventID,
		&d.Action,
		&d.Confidence,
		&rationale,
		&d.Fallback,
		&d.ProducedAt,
	); err != nil {
		return nil, err
	}
	d.Rationale = rationale.String
	return &d, nil
}
