package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigProviderAccessors(t *testing.T) {
	providers := map[string]*LLMProviderConfig{
		"test-provider": {Type: LLMProviderTypeAnthropic, Model: "test-model", MaxOutputTokens: 1024},
	}
	cfg := &Config{
		Models:              DefaultModelsConfig(),
		LLMProviderRegistry: NewLLMProviderRegistry(providers),
		TierBindings: map[string]*TierBinding{
			TierFast: {Provider: "test-provider", RequestsPerMinute: 60, Burst: 10, BreakerFailures: 5},
		},
	}

	t.Run("GetLLMProvider success", func(t *testing.T) {
		provider, err := cfg.GetLLMProvider("test-provider")
		require.NoError(t, err)
		assert.Equal(t, "test-model", provider.Model)
	})

	t.Run("GetLLMProvider not found", func(t *testing.T) {
		_, err := cfg.GetLLMProvider("nonexistent")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrLLMProviderNotFound)
	})

	t.Run("TierBinding bound and unbound", func(t *testing.T) {
		require.NotNil(t, cfg.TierBinding(TierFast))
		assert.Equal(t, "test-provider", cfg.TierBinding(TierFast).Provider)
		assert.Nil(t, cfg.TierBinding(TierStrong))
	})

	t.Run("StageTier", func(t *testing.T) {
		assert.Equal(t, TierFast, cfg.StageTier("v1"))
		assert.Equal(t, TierStrong, cfg.StageTier("v4"))
		assert.Equal(t, "", cfg.StageTier("v9"))
	})
}

func TestConfigStats(t *testing.T) {
	cfg := &Config{
		LLMProviderRegistry: NewLLMProviderRegistry(map[string]*LLMProviderConfig{
			"a": {}, "b": {},
		}),
		TierBindings: map[string]*TierBinding{
			TierFast: {}, TierBalanced: {}, TierStrong: {},
		},
		Sources: &SourcesConfig{Enabled: []string{"email", "calendar"}},
		Workers: &WorkersConfig{WorkerCount: 4},
	}

	stats := cfg.Stats()
	assert.Equal(t, 2, stats.LLMProviders)
	assert.Equal(t, 3, stats.TiersBound)
	assert.Equal(t, 2, stats.SourcesEnabled)
	assert.Equal(t, 4, stats.Workers)
}

func TestConfigStatsToleratesNilSections(t *testing.T) {
	stats := (&Config{}).Stats()
	assert.Zero(t, stats.LLMProviders)
	assert.Zero(t, stats.Workers)
}
