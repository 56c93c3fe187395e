package config

import "time"

// ContextWeights composes the three retrieval pool scores. The weights are
// expected to sum to 1.
type ContextWeights struct {
	Entity   float64 `yaml:"entity"`
	Semantic float64 `yaml:"semantic"`
	Thread   float64 `yaml:"thread"`
}

// ContextConfig controls context retrieval over the knowledge store.
type ContextConfig struct {
	TopK         int            `yaml:"top_k"`
	MinRelevance float64        `yaml:"min_relevance"`
	Weights      ContextWeights `yaml:"weights"`
}

// DefaultContextConfig returns production defaults.
func DefaultContextConfig() *ContextConfig {
	return &ContextConfig{
		TopK:         5,
		MinRelevance: 0.3,
		Weights:      ContextWeights{Entity: 0.4, Semantic: 0.4, Thread: 0.2},
	}
}

// LocalFilesConfig bounds the local-file search adapter.
type LocalFilesConfig struct {
	// Roots are the directories the adapter may search.
	Roots []string `yaml:"roots,omitempty"`

	// Exclusions are path patterns never searched or returned: credential
	// stores, key material, build caches.
	Exclusions []string `yaml:"exclusions,omitempty"`

	// MaxFileSizeBytes caps the size of any single searched file.
	MaxFileSizeBytes int64 `yaml:"max_file_size_bytes"`

	// RipgrepPath overrides the rg binary location.
	RipgrepPath string `yaml:"ripgrep_path,omitempty"`
}

// CrossSourceConfig controls the cross-source search fan-out.
type CrossSourceConfig struct {
	CacheTTLSeconds       int                `yaml:"cache_ttl_seconds"`
	AdapterTimeoutSeconds int                `yaml:"adapter_timeout_seconds"`
	MaxTotalResults       int                `yaml:"max_total_results"`
	MaxPerSource          int                `yaml:"max_per_source"`
	SourceWeights         map[string]float64 `yaml:"source_weights,omitempty"`
	LocalFiles            *LocalFilesConfig  `yaml:"local_files,omitempty"`
}

// CacheTTL returns the cache lifetime as a duration.
func (c *CrossSourceConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// AdapterTimeout returns the per-adapter deadline as a duration.
func (c *CrossSourceConfig) AdapterTimeout() time.Duration {
	return time.Duration(c.AdapterTimeoutSeconds) * time.Second
}

// WeightFor returns the configured weight of a source, defaulting to 1.
func (c *CrossSourceConfig) WeightFor(source string) float64 {
	if w, ok := c.SourceWeights[source]; ok {
		return w
	}
	return 1.0
}

// DefaultCrossSourceConfig returns production defaults.
func DefaultCrossSourceConfig() *CrossSourceConfig {
	return &CrossSourceConfig{
		CacheTTLSeconds:       900,
		AdapterTimeoutSeconds: 10,
		MaxTotalResults:       50,
		MaxPerSource:          20,
		SourceWeights: map[string]float64{
			"email":    1.0,
			"calendar": 0.9,
			"teams":    0.8,
			"files":    0.7,
			"whatsapp": 0.6,
			"linkedin": 0.5,
			"web":      0.4,
		},
		LocalFiles: &LocalFilesConfig{
			MaxFileSizeBytes: 10 * 1024 * 1024,
			Exclusions: []string{
				".ssh", ".gnupg", ".aws", ".kube", "node_modules",
				".git", "target", "__pycache__", ".cache",
				"*.pem", "*.key", "*.p12", "id_rsa*", "*credentials*",
			},
		},
	}
}
