package config

// EmbeddingConfig selects and tunes the embedding backend for the semantic
// index.
type EmbeddingConfig struct {
	// Provider is "openai" or "local". The local provider is deterministic
	// and needs no network; it exists for tests and offline operation.
	Provider string `yaml:"provider"`

	Model     string `yaml:"model,omitempty"`
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// Dimensions of the embedding vectors. All notes in one index share it.
	Dimensions int `yaml:"dimensions"`
}

// KnowledgeConfig controls the file-backed knowledge store.
type KnowledgeConfig struct {
	// RootDir is where note files live, one file per note under its folder.
	RootDir string `yaml:"root_dir"`

	// IndexDir is where the vector index file and its sidecar map live.
	IndexDir string `yaml:"index_dir"`

	// Watch enables the filesystem watcher that reconciles out-of-band edits
	// into the index. Pointer so an explicit false survives default merging.
	Watch *bool `yaml:"watch,omitempty"`

	// LockStripes is the number of stripes serializing per-note writes.
	LockStripes int `yaml:"lock_stripes"`

	Embedding EmbeddingConfig `yaml:"embedding"`
}

// WatchEnabled reports whether the filesystem watcher is on (default true).
func (c *KnowledgeConfig) WatchEnabled() bool {
	return c.Watch == nil || *c.Watch
}

// DefaultKnowledgeConfig returns production defaults.
func DefaultKnowledgeConfig() *KnowledgeConfig {
	return &KnowledgeConfig{
		RootDir:     "./data/notes",
		IndexDir:    "./data/index",
		LockStripes: 64,
		Embedding: EmbeddingConfig{
			Provider:   "local",
			Dimensions: 256,
		},
	}
}

// SourcesConfig carries perception-side settings: which sources ingest, who
// matters, and what reads as urgent.
type SourcesConfig struct {
	// Enabled lists ingesting sources by name.
	Enabled []string `yaml:"enabled,omitempty"`

	// SpoolDir is where mirror processes drop raw records for ingestion,
	// one JSON file per record under a per-source subdirectory.
	SpoolDir string `yaml:"spool_dir"`

	// VIPs are identities whose events get an importance bonus.
	VIPs []string `yaml:"vips,omitempty"`

	// UrgencyKeywords raise the importance prior when present in subject or
	// body.
	UrgencyKeywords []string `yaml:"urgency_keywords,omitempty"`

	// AddressBook maps identities to display names for entity extraction.
	AddressBook map[string]string `yaml:"address_book,omitempty"`

	// ProjectLexicon lists project names recognized as entities.
	ProjectLexicon []string `yaml:"project_lexicon,omitempty"`

	// ContinuityWindow is how many prior events per thread the continuity
	// detector surfaces.
	ContinuityWindow int `yaml:"continuity_window"`

	// ContinuityCapacity bounds the in-memory continuity index.
	ContinuityCapacity int `yaml:"continuity_capacity"`
}

// DefaultSourcesConfig returns production defaults.
func DefaultSourcesConfig() *SourcesConfig {
	return &SourcesConfig{
		Enabled:  []string{"email", "calendar", "teams"},
		SpoolDir: "./data/spool",
		UrgencyKeywords: []string{
			"urgent", "asap", "deadline", "action required",
			"urgence", "au plus vite", "dès que possible",
		},
		ContinuityWindow:   3,
		ContinuityCapacity: 4096,
	}
}
