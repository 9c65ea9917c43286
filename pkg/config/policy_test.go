package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/contentflow/pkg/config"
	"github.com/dukex/contentflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePolicy(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, config.Validate(config.Default()))
}

func TestDefault_QCPassLeavesScoringAgentsToTheirSteps(t *testing.T) {
	agents := config.Default().QC.EnabledAgents

	assert.Equal(t, []models.AgentType{models.AgentProofreader, models.AgentRegulatory}, agents)
	assert.NotContains(t, agents, models.AgentBrandGuardian)
	assert.NotContains(t, agents, models.AgentFactChecker)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writePolicy(t, `
quality:
  min_brand_score: 80
  max_regenerations: 1
qc:
  enabled_agents: [proofreader, brand_guardian, fact_checker, regulatory]
llm:
  retry:
    max_attempts: 5
    initial_interval: 500ms
reminders:
  after: 2h
`)

	policy, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 80, policy.Quality.MinBrandScore)
	assert.Equal(t, 75, policy.Quality.MinFactScore, "unset keys keep defaults")
	assert.Equal(t, 1, policy.Quality.MaxRegenerations)
	assert.Equal(t, models.AllAgents, policy.QC.EnabledAgents)
	assert.Equal(t, 5, policy.LLM.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, policy.LLM.Retry.InitialInterval)
	assert.Equal(t, 10*time.Second, policy.LLM.Retry.MaxInterval)
	assert.Equal(t, 2*time.Hour, policy.Reminders.After)
	assert.Equal(t, "@every 1h", policy.Reminders.Schedule)
}

func TestLoad_RejectsInvalidPolicy(t *testing.T) {
	for name, body := range map[string]string{
		"score out of range": "quality:\n  min_fact_score: 140\n",
		"unknown agent":      "qc:\n  enabled_agents: [spellcheck]\n",
		"no model":           "llm:\n  model: \"\"\n",
		"malformed":          "quality: [",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := config.Load(writePolicy(t, body))
			require.Error(t, err)
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	policy, err := config.LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), policy)

	policy, err = config.LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), policy)

	_, err = config.LoadOrDefault(writePolicy(t, "engine:\n  max_steps: 0\n"))
	require.Error(t, err)
}
