package config

// Config is the umbrella configuration object that encapsulates all loaded,
// merged, and validated settings. This is the primary object returned by
// Initialize() and used throughout the application.
type Config struct {
	configDir string // Configuration directory path (for reference)

	// Analysis pipeline
	Orchestrator *OrchestratorConfig
	Stages       *StagesConfig
	Stopping     *StoppingConfig
	Models       *ModelsConfig

	// Retrieval
	Context     *ContextConfig
	CrossSource *CrossSourceConfig

	// Actions and approval
	Executor *ExecutorConfig
	Queue    *QueueConfig

	// Ingestion and workers
	Workers *WorkersConfig
	Sources *SourcesConfig

	// Knowledge store
	Knowledge *KnowledgeConfig

	// Housekeeping
	Retention *RetentionConfig

	// Model providers
	LLMProviderRegistry *LLMProviderRegistry
	TierBindings        map[string]*TierBinding
}

// Stats contains statistics about loaded configuration
type Stats struct {
	LLMProviders   int
	TiersBound     int
	SourcesEnabled int
	Workers        int
}

// Stats returns configuration statistics for logging/monitoring
func (c *Config) Stats() Stats {
	s := Stats{}
	if c.LLMProviderRegistry != nil {
		s.LLMProviders = c.LLMProviderRegistry.Len()
	}
	s.TiersBound = len(c.TierBindings)
	if c.Sources != nil {
		s.SourcesEnabled = len(c.Sources.Enabled)
	}
	if c.Workers != nil {
		s.Workers = c.Workers.WorkerCount
	}
	return s
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetLLMProvider retrieves an LLM provider configuration by name.
// This is a convenience method that wraps LLMProviderRegistry.Get().
func (c *Config) GetLLMProvider(name string) (*LLMProviderConfig, error) {
	return c.LLMProviderRegistry.Get(name)
}

// TierBinding returns the binding for a tier, or nil when unbound.
func (c *Config) TierBinding(tier string) *TierBinding {
	return c.TierBindings[tier]
}

// StageTier returns the configured tier for a stage key ("v1".."v4").
func (c *Config) StageTier(stage string) string {
	switch stage {
	case "v1":
		return c.Models.V1
	case "v2":
		return c.Models.V2
	case "v3":
		return c.Models.V3
	case "v4":
		return c.Models.V4
	default:
		return ""
	}
}
