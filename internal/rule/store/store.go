package store

import (
	"context"

	"github.com/google/uuid"

	"arbiter/internal/rule/models"
)

// Store persists automation rules.
//
// Error contract: Create and Update return sentinel.ErrConflict when another
// rule already claims the (entity_type, action_name) pair; lookups return
// sentinel.ErrNotFound for unknown rules.
type Store interface {
	Create(ctx context.Context, rule *models.AutomationRule) error
	Get(ctx context.Context, ruleID uuid.UUID) (*models.AutomationRule, error)
	GetByEntityAction(ctx context.Context, entityType, actionName string) (*models.AutomationRule, error)
	List(ctx context.Context) ([]*models.AutomationRule, error)
	Update(ctx context.Context, rule *models.AutomationRule) error
	Delete(ctx context.Context, ruleID uuid.UUID) error
}
