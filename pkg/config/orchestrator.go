package config

import "time"

// OrchestratorConfig controls the staged analysis pipeline.
type OrchestratorConfig struct {
	// Enabled turns staged analysis on. When false, events are ingested but
	// not analyzed. Pointer so an explicit false survives default merging.
	Enabled *bool `yaml:"enabled,omitempty"`

	// TimeoutSeconds is the wall-clock deadline for one full orchestration.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// ConfidenceThreshold is the default stop threshold stages are measured
	// against when no stage-specific value applies.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// MaxStages caps how many stages may run (1..4).
	MaxStages int `yaml:"max_stages"`

	// FallbackOnFailure re-runs a failed orchestration as a single-shot
	// analysis at the balanced tier.
	FallbackOnFailure *bool `yaml:"fallback_on_failure,omitempty"`
}

// Timeout returns the orchestration deadline as a duration.
func (c *OrchestratorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// IsEnabled reports whether staged analysis is on (default true).
func (c *OrchestratorConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ShouldFallback reports whether a failed orchestration falls back to a
// single-shot analysis (default true).
func (c *OrchestratorConfig) ShouldFallback() bool {
	return c.FallbackOnFailure == nil || *c.FallbackOnFailure
}

// DefaultOrchestratorConfig returns production defaults.
func DefaultOrchestratorConfig() *OrchestratorConfig {
	return &OrchestratorConfig{
		TimeoutSeconds:      30,
		ConfidenceThreshold: 0.90,
		MaxStages:           4,
	}
}

// StageV1Config bounds the first stage's input.
type StageV1Config struct {
	MaxInputChars int `yaml:"max_input_chars"`
}

// StageV2Config bounds how much retrieved context the second stage sees.
type StageV2Config struct {
	MaxContextNotes int `yaml:"max_context_notes"`
}

// StageV3Config bounds the critic stage's input.
type StageV3Config struct {
	MaxInputChars int `yaml:"max_input_chars"`
}

// StagesConfig groups per-stage input bounds.
type StagesConfig struct {
	V1 StageV1Config `yaml:"v1"`
	V2 StageV2Config `yaml:"v2"`
	V3 StageV3Config `yaml:"v3"`
}

// DefaultStagesConfig returns production defaults.
func DefaultStagesConfig() *StagesConfig {
	return &StagesConfig{
		V1: StageV1Config{MaxInputChars: 8000},
		V2: StageV2Config{MaxContextNotes: 5},
		V3: StageV3Config{MaxInputChars: 4000},
	}
}

// StoppingConfig holds the per-stage termination thresholds.
type StoppingConfig struct {
	// V1EarlyStopOverall is the minimum overall confidence for a stage-one
	// early stop on ephemeral content.
	V1EarlyStopOverall float64 `yaml:"v1_early_stop_overall"`

	// V3TerminateOverall is the minimum overall confidence for the critic to
	// end the chain.
	V3TerminateOverall float64 `yaml:"v3_terminate_overall"`

	// V4QueueOverall is the threshold below which the arbiter must recommend
	// queueing for review.
	V4QueueOverall float64 `yaml:"v4_queue_overall"`
}

// DefaultStoppingConfig returns production defaults.
func DefaultStoppingConfig() *StoppingConfig {
	return &StoppingConfig{
		V1EarlyStopOverall: 0.95,
		V3TerminateOverall: 0.90,
		V4QueueOverall:     0.90,
	}
}

// ModelsConfig maps each stage to a logical model tier and controls
// adaptive escalation.
type ModelsConfig struct {
	V1 string `yaml:"v1"`
	V2 string `yaml:"v2"`
	V3 string `yaml:"v3"`
	V4 string `yaml:"v4"`

	// AdaptiveEscalationThreshold: a stage result below this overall
	// confidence is re-run once at the next-higher tier.
	AdaptiveEscalationThreshold float64 `yaml:"adaptive_escalation_threshold"`
}

// DefaultModelsConfig returns production defaults.
func DefaultModelsConfig() *ModelsConfig {
	return &ModelsConfig{
		V1:                          "fast",
		V2:                          "fast",
		V3:                          "fast",
		V4:                          "strong",
		AdaptiveEscalationThreshold: 0.80,
	}
}
