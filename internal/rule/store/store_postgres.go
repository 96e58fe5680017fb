package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"arbiter/internal/rule/models"
	"arbiter/internal/sentinel"
)

// PostgresStore persists automation rules in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed rule store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, rule *models.AutomationRule) error {
	config, err := marshalConfig(rule.Config)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO automation_rules (rule_id, entity_type, action_name, enabled, threshold_auto, threshold_review, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (entity_type, action_name) DO NOTHING
		RETURNING rule_id
	`
	var storedID uuid.UUID
	err = s.db.QueryRowContext(ctx, query,
		rule.RuleID,
		rule.EntityType,
		rule.ActionName,
		rule.Enabled,
		rule.ThresholdAuto,
		rule.ThresholdReview,
		config,
		rule.CreatedAt,
		rule.UpdatedAt,
	).Scan(&storedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create rule: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, ruleID uuid.UUID) (*models.AutomationRule, error) {
	query := ruleSelect + ` WHERE rule_id = $1`
	rule, err := scanRule(s.db.QueryRowContext(ctx, query, ruleID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return rule, nil
}

func (s *PostgresStore) GetByEntityAction(ctx context.Context, entityType, actionName string) (*models.AutomationRule, error) {
	query := ruleSelect + ` WHERE entity_type = $1 AND action_name = $2`
	rule, err := scanRule(s.db.QueryRowContext(ctx, query, entityType, actionName))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get rule by entity/action: %w", err)
	}
	return rule, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.AutomationRule, error) {
	query := ruleSelect + ` ORDER BY entity_type, action_name`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.AutomationRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return rules, nil
}

func (s *PostgresStore) Update(ctx context.Context, rule *models.AutomationRule) error {
	config, err := marshalConfig(rule.Config)
	if err != nil {
		return err
	}
	query := `
		UPDATE automation_rules
		SET entity_type = $2, action_name = $3, enabled = $4, threshold_auto = $5, threshold_review = $6, config = $7, updated_at = $8
		WHERE rule_id = $1
	`
	res, err := s.db.ExecContext(ctx, query,
		rule.RuleID,
		rule.EntityType,
		rule.ActionName,
		rule.Enabled,
		rule.ThresholdAuto,
		rule.ThresholdReview,
		config,
		rule.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("update rule: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update rule rows: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, ruleID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM automation_rules WHERE rule_id = $1`, ruleID)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rule rows: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

const ruleSelect = `
	SELECT rule_id, entity_type, action_name, enabled, threshold_auto, threshold_review, config, created_at, updated_at
	FROM automation_rules
`

type ruleRow interface {
	Scan(dest ...any) error
}

func scanRule(row ruleRow) (*models.AutomationRule, error) {
	var rule models.AutomationRule
	var config []byte
	if err := row.Scan(
		&rule.RuleID,
		&rule.EntityType,
		&rule.ActionName,
		&rule.Enabled,
		&rule.ThresholdAuto,
		&rule.ThresholdReview,
		&config,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &rule.Config); err != nil {
			return nil, fmt.Errorf("decode rule config: %w", err)
		}
	}
	return &rule, nil
}

func marshalConfig(config map[string]any) (any, error) {
	if config == nil {
		return nil, nil
	}
	raw, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("encode rule config: %w", err)
	}
	return raw, nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation (23505).
func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
