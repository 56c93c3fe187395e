package config

import (
	"fmt"
	"sync"
	"time"
)

// LLMProviderType defines supported LLM providers
type LLMProviderType string

const (
	// LLMProviderTypeAnthropic is Anthropic Claude API
	LLMProviderTypeAnthropic LLMProviderType = "anthropic"
	// LLMProviderTypeOpenAI is OpenAI API
	LLMProviderTypeOpenAI LLMProviderType = "openai"
)

// IsValid checks if the LLM provider type is valid
func (t LLMProviderType) IsValid() bool {
	return t == LLMProviderTypeAnthropic || t == LLMProviderTypeOpenAI
}

// Tier names recognized in tier bindings and stage assignments.
const (
	TierFast     = "fast"
	TierBalanced = "balanced"
	TierStrong   = "strong"
)

// IsValidTier reports whether name is a recognized model tier.
func IsValidTier(name string) bool {
	return name == TierFast || name == TierBalanced || name == TierStrong
}

// LLMProviderConfig defines LLM provider configuration
type LLMProviderConfig struct {
	// Provider type (required)
	Type LLMProviderType `yaml:"type"`

	// Model name (required)
	Model string `yaml:"model"`

	// Environment variable name for API key
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// Optional custom endpoint/base URL
	BaseURL string `yaml:"base_url,omitempty"`

	// Maximum output tokens per completion
	MaxOutputTokens int `yaml:"max_output_tokens"`

	// Sampling temperature; nil means provider default
	Temperature *float64 `yaml:"temperature,omitempty"`
}

// TierBinding binds a logical tier to a provider plus its runtime guards.
type TierBinding struct {
	// Provider is the name of an entry in llm_providers.
	Provider string `yaml:"provider"`

	// RequestsPerMinute refills the tier's token bucket.
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// Burst is the bucket capacity.
	Burst int `yaml:"burst"`

	// BreakerFailures is how many consecutive failures open the tier's
	// circuit breaker.
	BreakerFailures int `yaml:"breaker_failures"`

	// BreakerCooldownSeconds is how long the breaker stays open before
	// allowing a half-open probe.
	BreakerCooldownSeconds int `yaml:"breaker_cooldown_seconds"`
}

// BreakerCooldown returns the breaker open duration.
func (b *TierBinding) BreakerCooldown() time.Duration {
	return time.Duration(b.BreakerCooldownSeconds) * time.Second
}

// DefaultTierBinding returns runtime guard defaults for a tier bound to the
// named provider.
func DefaultTierBinding(provider string) *TierBinding {
	return &TierBinding{
		Provider:               provider,
		RequestsPerMinute:      60,
		Burst:                  10,
		BreakerFailures:        5,
		BreakerCooldownSeconds: 30,
	}
}

// LLMProviderRegistry stores LLM provider configurations in memory with thread-safe access
type LLMProviderRegistry struct {
	providers map[string]*LLMProviderConfig
	mu        sync.RWMutex
}

// NewLLMProviderRegistry creates a new LLM provider registry
func NewLLMProviderRegistry(providers map[string]*LLMProviderConfig) *LLMProviderRegistry {
	// Defensive copy to prevent external mutation
	copied := make(map[string]*LLMProviderConfig, len(providers))
	for k, v := range providers {
		copied[k] = v
	}
	return &LLMProviderRegistry{
		providers: copied,
	}
}

// Get retrieves an LLM provider configuration by name (thread-safe)
func (r *LLMProviderRegistry) Get(name string) (*LLMProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrLLMProviderNotFound, name)
	}
	return provider, nil
}

// GetAll returns all LLM provider configurations (thread-safe, returns copy)
func (r *LLMProviderRegistry) GetAll() map[string]*LLMProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*LLMProviderConfig, len(r.providers))
	for k, v := range r.providers {
		result[k] = v
	}
	return result
}

// Has checks if an LLM provider exists in the registry (thread-safe)
func (r *LLMProviderRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.providers[name]
	return exists
}

// Len returns the number of LLM providers in the registry (thread-safe)
func (r *LLMProviderRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
