package config

import (
	"sync"
)

// BuiltinConfig holds all built-in configuration data: default LLM providers
// and tier bindings available without any user configuration.
type BuiltinConfig struct {
	LLMProviders map[string]LLMProviderConfig
	TierBindings map[string]TierBinding
}

var (
	builtinConfig     *BuiltinConfig
	builtinConfigOnce sync.Once
)

// GetBuiltinConfig returns the singleton built-in configuration (thread-safe, lazy-initialized)
func GetBuiltinConfig() *BuiltinConfig {
	builtinConfigOnce.Do(initBuiltinConfig)
	return builtinConfig
}

func initBuiltinConfig() {
	builtinConfig = &BuiltinConfig{
		LLMProviders: initBuiltinLLMProviders(),
		TierBindings: initBuiltinTierBindings(),
	}
}

func initBuiltinLLMProviders() map[string]LLMProviderConfig {
	return map[string]LLMProviderConfig{
		"anthropic-haiku": {
			Type:            LLMProviderTypeAnthropic,
			Model:           "claude-3-5-haiku-latest",
			APIKeyEnv:       "ANTHROPIC_API_KEY",
			MaxOutputTokens: 2048,
		},
		"anthropic-sonnet": {
			Type:            LLMProviderTypeAnthropic,
			Model:           "claude-sonnet-4-5",
			APIKeyEnv:       "ANTHROPIC_API_KEY",
			MaxOutputTokens: 4096,
		},
		"anthropic-opus": {
			Type:            LLMProviderTypeAnthropic,
			Model:           "claude-opus-4-1",
			APIKeyEnv:       "ANTHROPIC_API_KEY",
			MaxOutputTokens: 8192,
		},
		"openai-mini": {
			Type:            LLMProviderTypeOpenAI,
			Model:           "gpt-4o-mini",
			APIKeyEnv:       "OPENAI_API_KEY",
			MaxOutputTokens: 2048,
		},
		"openai-4o": {
			Type:            LLMProviderTypeOpenAI,
			Model:           "gpt-4o",
			APIKeyEnv:       "OPENAI_API_KEY",
			MaxOutputTokens: 4096,
		},
	}
}

func initBuiltinTierBindings() map[string]TierBinding {
	return map[string]TierBinding{
		TierFast: {
			Provider:               "anthropic-haiku",
			RequestsPerMinute:      120,
			Burst:                  20,
			BreakerFailures:        5,
			BreakerCooldownSeconds: 30,
		},
		TierBalanced: {
			Provider:               "anthropic-sonnet",
			RequestsPerMinute:      60,
			Burst:                  10,
			BreakerFailures:        5,
			BreakerCooldownSeconds: 30,
		},
		TierStrong: {
			Provider:               "anthropic-opus",
			RequestsPerMinute:      30,
			Burst:                  5,
			BreakerFailures:        3,
			BreakerCooldownSeconds: 60,
		},
	}
}
