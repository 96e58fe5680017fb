package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"arbiter/internal/rule/models"
	"arbiter/internal/sentinel"
	dErrors "arbiter/pkg/domain-errors"
)

// Store defines the persistence interface for automation rules.
// Error Contract:
// - Create returns sentinel.ErrConflict when a rule for the same
//   (entity_type, action_name) pair already exists
// - Get, GetByEntityAction, Update and Delete return sentinel.ErrNotFound
//   when no rule matches
// - Update returns sentinel.ErrConflict when re-keying onto an existing pair
type Store interface {
	Create(ctx context.Context, rule *models.AutomationRule) error
	Get(ctx context.Context, ruleID uuid.UUID) (*models.AutomationRule, error)
	GetByEntityAction(ctx context.Context, entityType, actionName string) (*models.AutomationRule, error)
	List(ctx context.Context) ([]*models.AutomationRule, error)
	Update(ctx context.Context, rule *models.AutomationRule) error
	Delete(ctx context.Context, ruleID uuid.UUID) error
}

type Option func(*Service)

// Service manages automation rule lifecycle and lookup.
type Service struct {
	store  Store
	logger *slog.Logger
}

func NewService(store Store, logger *slog.Logger, opts ...Option) *Service {
	if store == nil {
		panic("rule service requires a store")
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

func (s *Service) Create(ctx context.Context, rule *models.AutomationRule) (*models.AutomationRule, error) {
	rule.Normalize()
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if rule.RuleID == uuid.Nil {
		rule.RuleID = uuid.New()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	if err := s.store.Create(ctx, rule); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict,
				fmt.Sprintf("rule already exists for %s/%s", rule.EntityType, rule.ActionName))
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create rule")
	}

	s.logger.InfoContext(ctx, "rule created",
		"rule_id", rule.RuleID,
		"entity_type", rule.EntityType,
		"action_name", rule.ActionName,
		"enabled", rule.Enabled,
	)
	return rule, nil
}

func (s *Service) Get(ctx context.Context, ruleID uuid.UUID) (*models.AutomationRule, error) {
	rule, err := s.store.Get(ctx, ruleID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "rule not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read rule")
	}
	return rule, nil
}

func (s *Service) List(ctx context.Context) ([]*models.AutomationRule, error) {
	rules, err := s.store.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list rules")
	}
	return rules, nil
}

// Update replaces the mutable fields of an existing rule. The stored
// creation timestamp is preserved.
func (s *Service) Update(ctx context.Context, rule *models.AutomationRule) (*models.AutomationRule, error) {
	rule.Normalize()
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.store.Get(ctx, rule.RuleID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "rule not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read rule")
	}

	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, rule); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.New(dErrors.CodeNotFound, "rule not found")
		case errors.Is(err, sentinel.ErrConflict):
			return nil, dErrors.New(dErrors.CodeConflict,
				fmt.Sprintf("rule already exists for %s/%s", rule.EntityType, rule.ActionName))
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update rule")
		}
	}

	s.logger.InfoContext(ctx, "rule updated",
		"rule_id", rule.RuleID,
		"entity_type", rule.EntityType,
		"action_name", rule.ActionName,
		"enabled", rule.Enabled,
	)
	return rule, nil
}

func (s *Service) Delete(ctx context.Context, ruleID uuid.UUID) error {
	if err := s.store.Delete(ctx, ruleID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "rule not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete rule")
	}
	s.logger.InfoContext(ctx, "rule deleted", "rule_id", ruleID)
	return nil
}

// FindForDecision looks up the rule governing a proposed action on an
// entity type. Callers treat CodeNotFound as "no matching rule".
func (s *Service) FindForDecision(ctx context.Context, entityType, actionName string) (*models.AutomationRule, error) {
	rule, err := s.store.GetByEntityAction(ctx, entityType, actionName)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no rule for entity/action")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read rule")
	}
	return rule, nil
}
