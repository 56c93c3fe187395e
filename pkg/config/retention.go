package config

import "time"

// RetentionConfig controls data retention and cleanup behavior.
type RetentionConfig struct {
	// BacklogRetentionDays is how many days terminal backlog rows
	// (completed or errored analyses) are kept before deletion.
	BacklogRetentionDays int `yaml:"backlog_retention_days"`

	// JournalTTL is the maximum age of journal rows. The journal exists for
	// subscriber catchup and audit, not as a permanent record.
	JournalTTL time.Duration `yaml:"journal_ttl"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		BacklogRetentionDays: 90,
		JournalTTL:           72 * time.Hour,
		CleanupInterval:      12 * time.Hour,
	}
}
