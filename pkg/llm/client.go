// Package llm routes completion requests to model providers through logical
// tiers, with per-tier rate limiting, circuit breaking, and adaptive
// escalation.
package llm

import (
	"context"
	"fmt"
	"os"

	"github.com/majordome-ai/majordome/pkg/config"
)

// Request is one completion call. The system prompt and user prompt travel
// separately because providers encode them differently.
type Request struct {
	System      string
	User        string
	MaxTokens   int
	Temperature *float64
}

// Response is the provider-normalized completion outcome.
type Response struct {
	Text       string
	Model      string
	TokensUsed int
}

// Client is a single provider binding: one concrete model behind one API.
type Client interface {
	// Name identifies the provider binding for logs and health output.
	Name() string

	// Complete issues a blocking completion call.
	Complete(ctx context.Context, req Request) (Response, error)
}

// NewClient builds the provider client for a configuration entry.
func NewClient(name string, cfg *config.LLMProviderConfig) (Client, error) {
	switch cfg.Type {
	case config.LLMProviderTypeAnthropic:
		return newAnthropicClient(name, cfg)
	case config.LLMProviderTypeOpenAI:
		return newOpenAIClient(name, cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider type: %s", cfg.Type)
	}
}

// resolveAPIKey reads the provider's key from its configured environment
// variable, falling back to the provider-conventional one.
func resolveAPIKey(cfg *config.LLMProviderConfig, fallbackEnv string) (string, error) {
	env := cfg.APIKeyEnv
	if env == "" {
		env = fallbackEnv
	}
	key := os.Getenv(env)
	if key == "" {
		return "", fmt.Errorf("environment variable %s is not set", env)
	}
	return key, nil
}
