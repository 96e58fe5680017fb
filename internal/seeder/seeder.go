package seeder

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"arbiter/internal/rule/models"
	dErrors "arbiter/pkg/domain-errors"
)

// RuleCreator defines the rule operations needed for seeding.
type RuleCreator interface {
	Create(ctx context.Context, rule *models.AutomationRule) (*models.AutomationRule, error)
}

// Seeder populates the rule store from a declarative YAML file at startup.
type Seeder struct {
	rules  RuleCreator
	logger *slog.Logger
}

// New creates a new seeder
func New(rules RuleCreator, logger *slog.Logger) *Seeder {
	return &Seeder{
		rules:  rules,
		logger: logger,
	}
}

type seedFile struct {
	Rules []seedRule `yaml:"rules"`
}

type seedRule struct {
	EntityType      string         `yaml:"entity_type"`
	ActionName      string         `yaml:"action_name"`
	Enabled         *bool          `yaml:"enabled"`
	ThresholdAuto   float64        `yaml:"threshold_auto"`
	ThresholdReview float64        `yaml:"threshold_review"`
	Config          map[string]any `yaml:"config"`
}

// SeedFromFile loads automation rules from a YAML file. Rules whose
// (entity_type, action_name) pair already exists are left untouched, so
// the file can be applied on every boot without clobbering operator edits.
func (s *Seeder) SeedFromFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read rules file: %w", err)
	}

	var file seedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse rules file: %w", err)
	}

	var created, skipped int
	for i, seed := range file.Rules {
		rule := &models.AutomationRule{
			EntityType:      seed.EntityType,
			ActionName:      seed.ActionName,
			Enabled:         seed.Enabled == nil || *seed.Enabled,
			ThresholdAuto:   seed.ThresholdAuto,
			ThresholdReview: seed.ThresholdReview,
			Config:          seed.Config,
		}
		if _, err := s.rules.Create(ctx, rule); err != nil {
			if dErrors.HasCode(err, dErrors.CodeConflict) {
				skipped++
				continue
			}
			return fmt.Errorf("seed rule %d (%s/%s): %w", i, seed.EntityType, seed.ActionName, err)
		}
		created++
	}

	s.logger.Info("rule seeds applied",
		"path", path,
		"created", created,
		"skipped", skipped,
	)
	return nil
}
