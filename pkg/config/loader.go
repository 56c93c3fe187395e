package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// MajordomeYAMLConfig represents the complete majordome.yaml file structure
type MajordomeYAMLConfig struct {
	Orchestrator *OrchestratorConfig `yaml:"orchestrator"`
	Stages       *StagesConfig       `yaml:"stages"`
	Stopping     *StoppingConfig     `yaml:"stopping"`
	Models       *ModelsConfig       `yaml:"models"`
	Context      *ContextConfig      `yaml:"context"`
	CrossSource  *CrossSourceConfig  `yaml:"cross_source"`
	Executor     *ExecutorConfig     `yaml:"executor"`
	Queue        *QueueConfig        `yaml:"queue"`
	Workers      *WorkersConfig      `yaml:"workers"`
	Sources      *SourcesConfig      `yaml:"sources"`
	Knowledge    *KnowledgeConfig    `yaml:"knowledge"`
	Retention    *RetentionConfig    `yaml:"retention"`
}

// LLMProvidersYAMLConfig represents the complete llm-providers.yaml file structure
type LLMProvidersYAMLConfig struct {
	LLMProviders map[string]LLMProviderConfig `yaml:"llm_providers"`
	Tiers        map[string]TierBinding       `yaml:"tiers"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load YAML files from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge built-in defaults under user-defined values
//  5. Build the provider registry and tier bindings
//  6. Validate all configuration
//  7. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"llm_providers", stats.LLMProviders,
		"tiers_bound", stats.TiersBound,
		"sources_enabled", stats.SourcesEnabled,
		"workers", stats.Workers)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	// 1. Load majordome.yaml (pipeline, retrieval, actions, workers, store)
	mainConfig, err := loader.loadMajordomeYAML()
	if err != nil {
		return nil, NewLoadError("majordome.yaml", err)
	}

	// 2. Load llm-providers.yaml
	providersConfig, err := loader.loadLLMProvidersYAML()
	if err != nil {
		return nil, NewLoadError("llm-providers.yaml", err)
	}

	// 3. Get built-in configuration
	builtin := GetBuiltinConfig()

	// 4. Merge built-in + user-defined providers (user overrides built-in)
	providers := mergeLLMProviders(builtin.LLMProviders, providersConfig.LLMProviders)
	tiers := mergeTierBindings(builtin.TierBindings, providersConfig.Tiers)

	// 5. Build registry
	llmProviderRegistry := NewLLMProviderRegistry(providers)

	// 6. Resolve each section: defaults first, user values merged on top so
	// unset fields keep their defaults.
	orchestrator, err := resolveSection(DefaultOrchestratorConfig(), mainConfig.Orchestrator, "orchestrator")
	if err != nil {
		return nil, err
	}
	stages, err := resolveSection(DefaultStagesConfig(), mainConfig.Stages, "stages")
	if err != nil {
		return nil, err
	}
	stopping, err := resolveSection(DefaultStoppingConfig(), mainConfig.Stopping, "stopping")
	if err != nil {
		return nil, err
	}
	modelsCfg, err := resolveSection(DefaultModelsConfig(), mainConfig.Models, "models")
	if err != nil {
		return nil, err
	}
	contextCfg, err := resolveSection(DefaultContextConfig(), mainConfig.Context, "context")
	if err != nil {
		return nil, err
	}
	crossSource, err := resolveSection(DefaultCrossSourceConfig(), mainConfig.CrossSource, "cross_source")
	if err != nil {
		return nil, err
	}
	executor, err := resolveSection(DefaultExecutorConfig(), mainConfig.Executor, "executor")
	if err != nil {
		return nil, err
	}
	queue, err := resolveSection(DefaultQueueConfig(), mainConfig.Queue, "queue")
	if err != nil {
		return nil, err
	}
	workers, err := resolveSection(DefaultWorkersConfig(), mainConfig.Workers, "workers")
	if err != nil {
		return nil, err
	}
	sources, err := resolveSection(DefaultSourcesConfig(), mainConfig.Sources, "sources")
	if err != nil {
		return nil, err
	}
	knowledge, err := resolveSection(DefaultKnowledgeConfig(), mainConfig.Knowledge, "knowledge")
	if err != nil {
		return nil, err
	}
	retention, err := resolveSection(DefaultRetentionConfig(), mainConfig.Retention, "retention")
	if err != nil {
		return nil, err
	}

	return &Config{
		configDir:           configDir,
		Orchestrator:        orchestrator,
		Stages:              stages,
		Stopping:            stopping,
		Models:              modelsCfg,
		Context:             contextCfg,
		CrossSource:         crossSource,
		Executor:            executor,
		Queue:               queue,
		Workers:             workers,
		Sources:             sources,
		Knowledge:           knowledge,
		Retention:           retention,
		LLMProviderRegistry: llmProviderRegistry,
		TierBindings:        tiers,
	}, nil
}

// resolveSection merges a user-provided section into its defaults. Non-zero
// user values override defaults; a nil section keeps defaults as-is.
func resolveSection[T any](defaults *T, user *T, name string) (*T, error) {
	if user == nil {
		return defaults, nil
	}
	if err := mergo.Merge(defaults, user, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge %s config: %w", name, err)
	}
	return defaults, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax
	// Note: ExpandEnv passes through original data on parse/execution errors,
	// allowing YAML parser to handle the content (or fail with clearer error message)
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadMajordomeYAML() (*MajordomeYAMLConfig, error) {
	var config MajordomeYAMLConfig

	if err := l.loadYAML("majordome.yaml", &config); err != nil {
		return nil, err
	}

	return &config, nil
}

func (l *configLoader) loadLLMProvidersYAML() (*LLMProvidersYAMLConfig, error) {
	var config LLMProvidersYAMLConfig

	// Initialize maps to avoid nil maps
	config.LLMProviders = make(map[string]LLMProviderConfig)
	config.Tiers = make(map[string]TierBinding)

	if err := l.loadYAML("llm-providers.yaml", &config); err != nil {
		return nil, err
	}

	return &config, nil
}
