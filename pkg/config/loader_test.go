package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFiles(t *testing.T, mainYAML, providersYAML string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "majordome.yaml"), []byte(mainYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "llm-providers.yaml"), []byte(providersYAML), 0o644))
	return dir
}

const minimalProvidersYAML = `
llm_providers:
  test-fast:
    type: anthropic
    model: test-model-small
    max_output_tokens: 1024
  test-strong:
    type: anthropic
    model: test-model-large
    max_output_tokens: 4096
tiers:
  fast:
    provider: test-fast
  balanced:
    provider: test-fast
  strong:
    provider: test-strong
`

func TestInitializeAppliesDefaults(t *testing.T) {
	dir := writeConfigFiles(t, "", minimalProvidersYAML)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.True(t, cfg.Orchestrator.IsEnabled())
	assert.Equal(t, 30, cfg.Orchestrator.TimeoutSeconds)
	assert.Equal(t, 4, cfg.Orchestrator.MaxStages)
	assert.Equal(t, 8000, cfg.Stages.V1.MaxInputChars)
	assert.Equal(t, 5, cfg.Stages.V2.MaxContextNotes)
	assert.Equal(t, 4000, cfg.Stages.V3.MaxInputChars)
	assert.InDelta(t, 0.95, cfg.Stopping.V1EarlyStopOverall, 1e-9)
	assert.InDelta(t, 0.90, cfg.Stopping.V3TerminateOverall, 1e-9)
	assert.Equal(t, "fast", cfg.Models.V1)
	assert.Equal(t, "strong", cfg.Models.V4)
	assert.InDelta(t, 0.80, cfg.Models.AdaptiveEscalationThreshold, 1e-9)
	assert.Equal(t, 5, cfg.Context.TopK)
	assert.InDelta(t, 0.3, cfg.Context.MinRelevance, 1e-9)
	assert.Equal(t, 900, cfg.CrossSource.CacheTTLSeconds)
	assert.Equal(t, 10, cfg.CrossSource.AdapterTimeoutSeconds)
	assert.Equal(t, 50, cfg.CrossSource.MaxTotalResults)
	assert.Equal(t, 3, cfg.Executor.MaxParallelPerPlan)
	assert.Equal(t, 30, cfg.Executor.ActionTimeoutSeconds)
	assert.Equal(t, 300, cfg.Queue.UndoWindowSeconds)
	assert.Equal(t, 4, cfg.Workers.WorkerCount)
	assert.Equal(t, 64, cfg.Knowledge.LockStripes)
}

func TestInitializeUserOverrides(t *testing.T) {
	mainYAML := `
orchestrator:
  enabled: false
  timeout_seconds: 60
stopping:
  v3_terminate_overall: 0.85
models:
  v3: balanced
context:
  top_k: 3
  weights:
    entity: 0.5
    semantic: 0.3
    thread: 0.2
cross_source:
  cache_ttl_seconds: 120
workers:
  worker_count: 2
`
	dir := writeConfigFiles(t, mainYAML, minimalProvidersYAML)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.False(t, cfg.Orchestrator.IsEnabled())
	assert.Equal(t, 60, cfg.Orchestrator.TimeoutSeconds)
	// Untouched fields keep their defaults.
	assert.Equal(t, 4, cfg.Orchestrator.MaxStages)
	assert.InDelta(t, 0.85, cfg.Stopping.V3TerminateOverall, 1e-9)
	assert.InDelta(t, 0.95, cfg.Stopping.V1EarlyStopOverall, 1e-9)
	assert.Equal(t, "balanced", cfg.Models.V3)
	assert.Equal(t, "fast", cfg.Models.V1)
	assert.Equal(t, 3, cfg.Context.TopK)
	assert.InDelta(t, 0.5, cfg.Context.Weights.Entity, 1e-9)
	assert.Equal(t, 120, cfg.CrossSource.CacheTTLSeconds)
	assert.Equal(t, 2, cfg.Workers.WorkerCount)
}

func TestInitializeExpandsEnvironment(t *testing.T) {
	t.Setenv("NOTES_ROOT", "/srv/notes")

	mainYAML := `
knowledge:
  root_dir: "{{.NOTES_ROOT}}"
`
	dir := writeConfigFiles(t, mainYAML, minimalProvidersYAML)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "/srv/notes", cfg.Knowledge.RootDir)
}

func TestInitializeMissingConfigFile(t *testing.T) {
	dir := t.TempDir()

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestInitializeInvalidYAML(t *testing.T) {
	dir := writeConfigFiles(t, "orchestrator: [not a mapping", minimalProvidersYAML)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestInitializeUserProviderOverridesBuiltin(t *testing.T) {
	providersYAML := `
llm_providers:
  anthropic-haiku:
    type: anthropic
    model: my-pinned-model
    max_output_tokens: 512
tiers:
  fast:
    provider: anthropic-haiku
  balanced:
    provider: anthropic-haiku
  strong:
    provider: anthropic-haiku
`
	dir := writeConfigFiles(t, "", providersYAML)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	p, err := cfg.GetLLMProvider("anthropic-haiku")
	require.NoError(t, err)
	assert.Equal(t, "my-pinned-model", p.Model)
	assert.Equal(t, 512, p.MaxOutputTokens)
	// API key env dropped by the override, so no env requirement.
	assert.Empty(t, p.APIKeyEnv)

	// Built-in providers not overridden are still present.
	assert.True(t, cfg.LLMProviderRegistry.Has("openai-mini"))
}

func TestInitializeTierBindingGuardDefaults(t *testing.T) {
	providersYAML := `
llm_providers:
  test-fast:
    type: openai
    model: test-model
    max_output_tokens: 1024
tiers:
  fast:
    provider: test-fast
  balanced:
    provider: test-fast
  strong:
    provider: test-fast
`
	dir := writeConfigFiles(t, "", providersYAML)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	binding := cfg.TierBinding("fast")
	require.NotNil(t, binding)
	assert.Equal(t, "test-fast", binding.Provider)
	// Unset guard fields fall back to defaults.
	assert.Equal(t, 60, binding.RequestsPerMinute)
	assert.Equal(t, 10, binding.Burst)
	assert.Equal(t, 5, binding.BreakerFailures)
	assert.Equal(t, 30, binding.BreakerCooldownSeconds)
}

func TestStageTier(t *testing.T) {
	dir := writeConfigFiles(t, "", minimalProvidersYAML)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, "fast", cfg.StageTier("v1"))
	assert.Equal(t, "fast", cfg.StageTier("v2"))
	assert.Equal(t, "fast", cfg.StageTier("v3"))
	assert.Equal(t, "strong", cfg.StageTier("v4"))
	assert.Empty(t, cfg.StageTier("v9"))
}
