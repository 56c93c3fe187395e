package config

import (
	"fmt"
	"math"
	"os"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validateOrchestrator(); err != nil {
		return fmt.Errorf("orchestrator validation failed: %w", err)
	}

	if err := v.validateStopping(); err != nil {
		return fmt.Errorf("stopping validation failed: %w", err)
	}

	if err := v.validateModels(); err != nil {
		return fmt.Errorf("models validation failed: %w", err)
	}

	if err := v.validateContext(); err != nil {
		return fmt.Errorf("context validation failed: %w", err)
	}

	if err := v.validateCrossSource(); err != nil {
		return fmt.Errorf("cross-source validation failed: %w", err)
	}

	if err := v.validateExecutor(); err != nil {
		return fmt.Errorf("executor validation failed: %w", err)
	}

	if err := v.validateWorkers(); err != nil {
		return fmt.Errorf("workers validation failed: %w", err)
	}

	if err := v.validateKnowledge(); err != nil {
		return fmt.Errorf("knowledge validation failed: %w", err)
	}

	if err := v.validateLLMProviders(); err != nil {
		return fmt.Errorf("LLM provider validation failed: %w", err)
	}

	return nil
}

func (v *ConfigValidator) validateOrchestrator() error {
	o := v.cfg.Orchestrator

	if o.TimeoutSeconds < 1 {
		return NewValidationError("orchestrator", "", "timeout_seconds", fmt.Errorf("must be at least 1"))
	}
	if o.ConfidenceThreshold < 0 || o.ConfidenceThreshold > 1 {
		return NewValidationError("orchestrator", "", "confidence_threshold", fmt.Errorf("must be in [0,1]"))
	}
	if o.MaxStages < 1 || o.MaxStages > 4 {
		return NewValidationError("orchestrator", "", "max_stages", fmt.Errorf("must be in 1..4"))
	}

	s := v.cfg.Stages
	if s.V1.MaxInputChars < 1 {
		return NewValidationError("stages", "v1", "max_input_chars", fmt.Errorf("must be positive"))
	}
	if s.V2.MaxContextNotes < 1 {
		return NewValidationError("stages", "v2", "max_context_notes", fmt.Errorf("must be positive"))
	}
	if s.V3.MaxInputChars < 1 {
		return NewValidationError("stages", "v3", "max_input_chars", fmt.Errorf("must be positive"))
	}

	return nil
}

func (v *ConfigValidator) validateStopping() error {
	s := v.cfg.Stopping

	for field, value := range map[string]float64{
		"v1_early_stop_overall": s.V1EarlyStopOverall,
		"v3_terminate_overall":  s.V3TerminateOverall,
		"v4_queue_overall":      s.V4QueueOverall,
	} {
		if value < 0 || value > 1 {
			return NewValidationError("stopping", "", field, fmt.Errorf("must be in [0,1]"))
		}
	}

	return nil
}

func (v *ConfigValidator) validateModels() error {
	m := v.cfg.Models

	for stage, tier := range map[string]string{
		"v1": m.V1, "v2": m.V2, "v3": m.V3, "v4": m.V4,
	} {
		if !IsValidTier(tier) {
			return NewValidationError("models", stage, "", fmt.Errorf("invalid tier: %s", tier))
		}
		if v.cfg.TierBindings[tier] == nil {
			return NewValidationError("models", stage, "", fmt.Errorf("%w: %s", ErrTierNotBound, tier))
		}
	}

	if m.AdaptiveEscalationThreshold < 0 || m.AdaptiveEscalationThreshold > 1 {
		return NewValidationError("models", "", "adaptive_escalation_threshold", fmt.Errorf("must be in [0,1]"))
	}

	return nil
}

func (v *ConfigValidator) validateContext() error {
	c := v.cfg.Context

	if c.TopK < 1 {
		return NewValidationError("context", "", "top_k", fmt.Errorf("must be at least 1"))
	}
	if c.MinRelevance < 0 || c.MinRelevance > 1 {
		return NewValidationError("context", "", "min_relevance", fmt.Errorf("must be in [0,1]"))
	}

	sum := c.Weights.Entity + c.Weights.Semantic + c.Weights.Thread
	if math.Abs(sum-1.0) > 0.001 {
		return NewValidationError("context", "", "weights", fmt.Errorf("must sum to 1.0, got %.3f", sum))
	}

	return nil
}

func (v *ConfigValidator) validateCrossSource() error {
	c := v.cfg.CrossSource

	if c.CacheTTLSeconds < 0 {
		return NewValidationError("cross_source", "", "cache_ttl_seconds", fmt.Errorf("must not be negative"))
	}
	if c.AdapterTimeoutSeconds < 1 {
		return NewValidationError("cross_source", "", "adapter_timeout_seconds", fmt.Errorf("must be at least 1"))
	}
	if c.MaxTotalResults < 1 {
		return NewValidationError("cross_source", "", "max_total_results", fmt.Errorf("must be at least 1"))
	}
	for source, weight := range c.SourceWeights {
		if weight <= 0 || weight > 1 {
			return NewValidationError("cross_source", source, "source_weights", fmt.Errorf("must be in (0,1]"))
		}
	}
	if lf := c.LocalFiles; lf != nil && lf.MaxFileSizeBytes < 1 {
		return NewValidationError("cross_source", "", "local_files.max_file_size_bytes", fmt.Errorf("must be positive"))
	}

	return nil
}

func (v *ConfigValidator) validateExecutor() error {
	e := v.cfg.Executor

	if e.MaxParallelPerPlan < 1 {
		return NewValidationError("executor", "", "max_parallel_per_plan", fmt.Errorf("must be at least 1"))
	}
	if e.ActionTimeoutSeconds < 1 {
		return NewValidationError("executor", "", "action_timeout_seconds", fmt.Errorf("must be at least 1"))
	}
	if v.cfg.Queue.UndoWindowSeconds < 1 {
		return NewValidationError("queue", "", "undo_window_seconds", fmt.Errorf("must be at least 1"))
	}

	return nil
}

func (v *ConfigValidator) validateWorkers() error {
	w := v.cfg.Workers

	if w.WorkerCount < 1 {
		return NewValidationError("workers", "", "worker_count", fmt.Errorf("must be at least 1"))
	}
	if w.PollInterval <= 0 {
		return NewValidationError("workers", "", "poll_interval", fmt.Errorf("must be positive"))
	}
	if w.PollIntervalJitter < 0 || w.PollIntervalJitter >= w.PollInterval {
		return NewValidationError("workers", "", "poll_interval_jitter", fmt.Errorf("must be in [0, poll_interval)"))
	}
	if w.HeartbeatInterval <= 0 {
		return NewValidationError("workers", "", "heartbeat_interval", fmt.Errorf("must be positive"))
	}
	if w.OrphanThreshold <= w.HeartbeatInterval {
		return NewValidationError("workers", "", "orphan_threshold", fmt.Errorf("must exceed heartbeat_interval"))
	}
	if w.IngestBuffer < 1 {
		return NewValidationError("workers", "", "ingest_buffer", fmt.Errorf("must be at least 1"))
	}

	return nil
}

func (v *ConfigValidator) validateKnowledge() error {
	k := v.cfg.Knowledge

	if k.RootDir == "" {
		return NewValidationError("knowledge", "", "root_dir", ErrMissingRequiredField)
	}
	if k.IndexDir == "" {
		return NewValidationError("knowledge", "", "index_dir", ErrMissingRequiredField)
	}
	if k.LockStripes < 1 {
		return NewValidationError("knowledge", "", "lock_stripes", fmt.Errorf("must be at least 1"))
	}

	switch k.Embedding.Provider {
	case "local", "openai":
	default:
		return NewValidationError("knowledge", "", "embedding.provider", fmt.Errorf("must be 'local' or 'openai'"))
	}
	if k.Embedding.Dimensions < 1 {
		return NewValidationError("knowledge", "", "embedding.dimensions", fmt.Errorf("must be positive"))
	}
	if k.Embedding.Provider == "openai" && k.Embedding.APIKeyEnv != "" {
		if value := os.Getenv(k.Embedding.APIKeyEnv); value == "" {
			return NewValidationError("knowledge", "", "embedding.api_key_env", fmt.Errorf("environment variable %s is not set", k.Embedding.APIKeyEnv))
		}
	}

	return nil
}

// validateLLMProviders checks every provider bound to a tier. Unbound
// providers only need a valid shape; their API keys are not required.
func (v *ConfigValidator) validateLLMProviders() error {
	bound := make(map[string]bool)
	for tier, binding := range v.cfg.TierBindings {
		if !IsValidTier(tier) {
			return NewValidationError("tiers", tier, "", fmt.Errorf("unknown tier name"))
		}
		if binding.Provider == "" {
			return NewValidationError("tiers", tier, "provider", ErrMissingRequiredField)
		}
		if !v.cfg.LLMProviderRegistry.Has(binding.Provider) {
			return NewValidationError("tiers", tier, "provider", fmt.Errorf("%w: %s", ErrLLMProviderNotFound, binding.Provider))
		}
		if binding.RequestsPerMinute < 1 {
			return NewValidationError("tiers", tier, "requests_per_minute", fmt.Errorf("must be at least 1"))
		}
		if binding.Burst < 1 {
			return NewValidationError("tiers", tier, "burst", fmt.Errorf("must be at least 1"))
		}
		if binding.BreakerFailures < 1 {
			return NewValidationError("tiers", tier, "breaker_failures", fmt.Errorf("must be at least 1"))
		}
		bound[binding.Provider] = true
	}

	for name, provider := range v.cfg.LLMProviderRegistry.GetAll() {
		if !provider.Type.IsValid() {
			return NewValidationError("llm_provider", name, "type", fmt.Errorf("invalid provider type: %s", provider.Type))
		}
		if provider.Model == "" {
			return NewValidationError("llm_provider", name, "model", fmt.Errorf("model required"))
		}
		if provider.MaxOutputTokens < 1 {
			return NewValidationError("llm_provider", name, "max_output_tokens", fmt.Errorf("must be positive"))
		}
		if provider.Temperature != nil && (*provider.Temperature < 0 || *provider.Temperature > 2) {
			return NewValidationError("llm_provider", name, "temperature", fmt.Errorf("must be in [0,2]"))
		}

		// API keys are required only for providers actually reachable
		// through a tier binding.
		if bound[name] && provider.APIKeyEnv != "" {
			if value := os.Getenv(provider.APIKeyEnv); value == "" {
				return NewValidationError("llm_provider", name, "api_key_env", fmt.Errorf("environment variable %s is not set", provider.APIKeyEnv))
			}
		}
	}

	return nil
}
