// Package config loads the workflow policy file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/dukex/contentflow/pkg/llm"
	"github.com/dukex/contentflow/pkg/models"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Policy is the tunable behaviour of the content pipeline.
type Policy struct {
	Quality   QualityPolicy  `yaml:"quality"`
	QC        QCPolicy       `yaml:"qc"`
	LLM       LLMPolicy      `yaml:"llm"`
	Engine    EnginePolicy   `yaml:"engine"`
	Reminders ReminderPolicy `yaml:"reminders"`
}

// QualityPolicy drives the quality decision after QC.
type QualityPolicy struct {
	MinBrandScore    int `yaml:"min_brand_score"   validate:"min=0,max=100"`
	MinFactScore     int `yaml:"min_fact_score"    validate:"min=0,max=100"`
	MaxRegenerations int `yaml:"max_regenerations" validate:"min=0,max=10"`
}

// QCPolicy configures the quality-control step.
type QCPolicy struct {
	// EnabledAgents run in the QC pass. Brand and fact agents score the
	// article in their own pipeline steps.
	EnabledAgents      []models.AgentType `yaml:"enabled_agents"       validate:"dive,oneof=proofreader brand_guardian fact_checker regulatory"`
	AutoApplyThreshold int                `yaml:"auto_apply_threshold" validate:"min=0,max=100"`
	Concurrency        int                `yaml:"concurrency"          validate:"min=0"`
}

type LLMPolicy struct {
	Model           string          `yaml:"model"             validate:"required"`
	Retry           llm.RetryPolicy `yaml:"retry"`
	CacheTTL        time.Duration   `yaml:"cache_ttl"         validate:"min=0"`
	MaxCacheEntries int             `yaml:"max_cache_entries" validate:"min=0"`
}

type EnginePolicy struct {
	MaxSteps int `yaml:"max_steps" validate:"min=1"`
}

// ReminderPolicy controls approval reminders for suspended threads.
type ReminderPolicy struct {
	Schedule string        `yaml:"schedule" validate:"required"`
	After    time.Duration `yaml:"after"    validate:"gt=0"`
}

// Default returns the built-in policy.
func Default() Policy {
	return Policy{
		Quality: QualityPolicy{
			MinBrandScore:    70,
			MinFactScore:     75,
			MaxRegenerations: 2,
		},
		QC: QCPolicy{
			EnabledAgents:      []models.AgentType{models.AgentProofreader, models.AgentRegulatory},
			AutoApplyThreshold: 85,
		},
		LLM: LLMPolicy{
			Model:           "gpt-4o-mini",
			Retry:           llm.DefaultRetryPolicy(),
			CacheTTL:        time.Hour,
			MaxCacheEntries: 1000,
		},
		Engine: EnginePolicy{
			MaxSteps: 100,
		},
		Reminders: ReminderPolicy{
			Schedule: "@every 1h",
			After:    24 * time.Hour,
		},
	}
}

// Load reads a YAML policy file over the defaults and validates the result.
func Load(path string) (Policy, error) {
	policy := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}

	err = yaml.Unmarshal(data, &policy)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}

	err = Validate(policy)
	if err != nil {
		return Policy{}, err
	}

	return policy, nil
}

// LoadOrDefault is Load, except that an empty path or a missing file yields Default.
func LoadOrDefault(path string) (Policy, error) {
	if path == "" {
		return Default(), nil
	}

	policy, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}

	return policy, err
}

// Validate checks every field of the policy.
func Validate(policy Policy) error {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(policy)
	if err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}

	return nil
}
