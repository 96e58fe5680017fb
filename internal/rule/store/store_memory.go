package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"arbiter/internal/rule/models"
	"arbiter/internal/sentinel"
)

type pairKey struct {
	entityType string
	actionName string
}

// InMemoryStore stores automation rules in memory.
type InMemoryStore struct {
	mu     sync.RWMutex
	rules  map[uuid.UUID]*models.AutomationRule
	byPair map[pairKey]uuid.UUID
}

// New constructs an empty in-memory rule store.
func New() *InMemoryStore {
	return &InMemoryStore{
		rules:  make(map[uuid.UUID]*models.AutomationRule),
		byPair: make(map[pairKey]uuid.UUID),
	}
}

func (s *InMemoryStore) Create(_ context.Context, rule *models.AutomationRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{rule.EntityType, rule.ActionName}
	if _, ok := s.byPair[key]; ok {
		return sentinel.ErrConflict
	}
	copyRule := cloneRule(rule)
	s.rules[rule.RuleID] = copyRule
	s.byPair[key] = rule.RuleID
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, ruleID uuid.UUID) (*models.AutomationRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[ruleID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneRule(rule), nil
}

func (s *InMemoryStore) GetByEntityAction(_ context.Context, entityType, actionName string) (*models.AutomationRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ruleID, ok := s.byPair[pairKey{entityType, actionName}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneRule(s.rules[ruleID]), nil
}

func (s *InMemoryStore) List(_ context.Context) ([]*models.AutomationRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rules := make([]*models.AutomationRule, 0, len(s.rules))
	for _, rule := range s.rules {
		rules = append(rules, cloneRule(rule))
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].EntityType != rules[j].EntityType {
			return rules[i].EntityType < rules[j].EntityType
		}
		return rules[i].ActionName < rules[j].ActionName
	})
	return rules, nil
}

func (s *InMemoryStore) Update(_ context.Context, rule *models.AutomationRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.rules[rule.RuleID]
	if !ok {
		return sentinel.ErrNotFound
	}
	newKey := pairKey{rule.EntityType, rule.ActionName}
	oldKey := pairKey{existing.EntityType, existing.ActionName}
	if newKey != oldKey {
		if _, taken := s.byPair[newKey]; taken {
			return sentinel.ErrConflict
		}
		delete(s.byPair, oldKey)
		s.byPair[newKey] = rule.RuleID
	}
	s.rules[rule.RuleID] = cloneRule(rule)
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, ruleID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[ruleID]
	if !ok {
		return sentinel.ErrNotFound
	}
	delete(s.byPair, pairKey{rule.EntityType, rule.ActionName})
	delete(s.rules, ruleID)
	return nil
}

func cloneRule(rule *models.AutomationRule) *models.AutomationRule {
	copyRule := *rule
	if rule.Config != nil {
		copyRule.Config = make(map[string]any, len(rule.Config))
		for k, v := range rule.Config {
			copyRule.Config[k] = v
		}
	}
	return &copyRule
}
