package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"arbiter/internal/ledger/models"
	"arbiter/internal/sentinel"
)

// PostgresStore implements Store backed by PostgreSQL. Audit ids come from
// a BIGSERIAL column, so they are assigned in insertion order.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const auditSelect = `
	SELECT audit_id, event_id, decision_id, entity_type, entity_id, action,
	       confidence, rationale, verdict, rule_id, threshold_auto,
	       threshold_review, status, attempts, executed_at, resolved_by,
	       last_error, created_at
	FROM audit_records
`

func (s *PostgresStore) Append(ctx context.Context, rec *models.AuditRecord) (*models.AuditRecord, error) {
	query := `
		INSERT INTO audit_records (
			event_id, decision_id, entity_type, entity_id, action,
			confidence, rationale, verdict, rule_id, threshold_auto,
			threshold_review, status, attempts, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (event_id) DO NOTHING
		RETURNING audit_id
	`

	var ruleID uuid.NullUUID
	if rec.RuleID != uuid.Nil {
		ruleID = uuid.NullUUID{UUID: rec.RuleID, Valid: true}
	}

	var auditID int64
	err := s.db.QueryRowContext(ctx, query,
		rec.EventID,
		rec.DecisionID,
		rec.EntityType,
		rec.EntityID,
		rec.Action,
		rec.Confidence,
		nullString(rec.Rationale),
		rec.Verdict,
		ruleID,
		rec.ThresholdAuto,
		rec.ThresholdReview,
		string(rec.Status),
		rec.Attempts,
		rec.CreatedAt,
	).Scan(&auditID)
	if errors.Is(err, sql.ErrNoRows) {
		existing, getErr := s.GetByEventID(ctx, rec.EventID)
		if getErr != nil {
			return nil, fmt.Errorf("fetch conflicting audit record: %w", getErr)
		}
		return existing, sentinel.ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("insert audit record: %w", err)
	}

	stored := *rec
	stored.AuditID = auditID
	return &stored, nil
}

func (s *PostgresStore) Get(ctx context.Context, auditID int64) (*models.AuditRecord, error) {
	row := s.db.QueryRowContext(ctx, auditSelect+` WHERE audit_id = $1`, auditID)

	rec, err := scanAudit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get audit record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) GetByEventID(ctx context.Context, eventID uuid.UUID) (*models.AuditRecord, error) {
	row := s.db.QueryRowContext(ctx, auditSelect+` WHERE event_id = $1`, eventID)

	rec, err := scanAudit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get audit record by event: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) TransitionStatus(ctx context.Context, auditID int64, from, to models.Status, patch Patch) (*models.AuditRecord, error) {
	query := `
		UPDATE audit_records
		SET status = $3,
		    executed_at = COALESCE($4, executed_at),
		    resolved_by = COALESCE($5, resolved_by),
		    last_error = COALESCE($6, last_error)
		WHERE audit_id = $1 AND status = $2
		RETURNING audit_id, event_id, decision_id, entity_type, entity_id,
		          action, confidence, rationale, verdict, rule_id,
		          threshold_auto, threshold_review, status, attempts,
		          executed_at, resolved_by, last_error, created_at
	`

	row := s.db.QueryRowContext(ctx, query,
		auditID,
		string(from),
		string(to),
		patch.ExecutedAt,
		patch.ResolvedBy,
		patch.Error,
	)

	rec, err := scanAudit(row)
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := s.Get(ctx, auditID)
		if getErr != nil {
			return nil, getErr
		}
		return current, sentinel.ErrStaleStatus
	}
	if err != nil {
		return nil, fmt.Errorf("transition audit record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) IncrementAttempts(ctx context.Context, auditID int64, status models.Status) (int, error) {
	query := `
		UPDATE audit_records
		SET attempts = attempts + 1
		WHERE audit_id = $1 AND status = $2
		RETURNING attempts
	`

	var attempts int
	err := s.db.QueryRowContext(ctx, query, auditID, string(status)).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := s.Get(ctx, auditID)
		if getErr != nil {
			return 0, getErr
		}
		return current.Attempts, sentinel.ErrStaleStatus
	}
	if err != nil {
		return 0, fmt.Errorf("increment audit attempts: %w", err)
	}
	return attempts, nil
}

func (s *PostgresStore) List(ctx context.Context, filter Filter, page Page) ([]*models.AuditRecord, error) {
	page = page.Normalize()

	where, args := buildFilter(filter)
	args = append(args, page.Limit, page.Offset())
	query := auditSelect + where + fmt.Sprintf(
		" ORDER BY audit_id ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	records := make([]*models.AuditRecord, 0, page.Limit)
	for rows.Next() {
		rec, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) Count(ctx context.Context, filter Filter) (int64, error) {
	where, args := buildFilter(filter)

	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_records`+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count audit records: %w", err)
	}
	return n, nil
}

func buildFilter(filter Filter) (string, []any) {
	var conds []string
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.EntityType != "" {
		args = append(args, filter.EntityType)
		conds = append(conds, fmt.Sprintf("entity_type = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		conds = append(conds, fmt.Sprintf("created_at < $%d", len(args)))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type auditRow interface {
	Scan(dest ...any) error
}

func scanAudit(row auditRow) (*models.AuditRecord, error) {
	var (
		rec        models.AuditRecord
		status     string
		rationale  sql.NullString
		ruleID     uuid.NullUUID
		executedAt sql.NullTime
		resolvedBy sql.NullString
		lastError  sql.NullString
	)

	err := row.Scan(
		&rec.AuditID,
		&rec.EventID,
		&rec.DecisionID,
		&rec.EntityType,
		&rec.EntityID,
		&rec.Action,
		&rec.Confidence,
		&rationale,
		&rec.Verdict,
		&ruleID,
		&rec.ThresholdAuto,
		&rec.ThresholdReview,
		&status,
		&rec.Attempts,
		&executedAt,
		&resolvedBy,
		&lastError,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = models.Status(status)
	if rationale.Valid {
		rec.Rationale = rationale.String
	}
	if ruleID.Valid {
		rec.RuleID = ruleID.UUID
	}
	if executedAt.Valid {
		t := executedAt.Time
		rec.ExecutedAt = &t
	}
	if resolvedBy.Valid {
		v := resolvedBy.String
		rec.ResolvedBy = &v
	}
	if lastError.Valid {
		v := lastError.String
		rec.Error = &v
	}
	return &rec, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var _ Store = (*PostgresStore)(nil)
