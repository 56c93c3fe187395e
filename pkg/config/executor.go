package config

import "time"

// ExecutorConfig bounds action plan execution.
type ExecutorConfig struct {
	// MaxParallelPerPlan caps how many independent actions of one plan run
	// concurrently.
	MaxParallelPerPlan int `yaml:"max_parallel_per_plan"`

	// ActionTimeoutSeconds bounds each individual action.
	ActionTimeoutSeconds int `yaml:"action_timeout_seconds"`
}

// ActionTimeout returns the per-action deadline as a duration.
func (c *ExecutorConfig) ActionTimeout() time.Duration {
	return time.Duration(c.ActionTimeoutSeconds) * time.Second
}

// DefaultExecutorConfig returns production defaults.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		MaxParallelPerPlan:   3,
		ActionTimeoutSeconds: 30,
	}
}

// QueueConfig controls the approval queue.
type QueueConfig struct {
	// UndoWindowSeconds is how long compensation handles stay alive after an
	// execution, during which undo is honored.
	UndoWindowSeconds int `yaml:"undo_window_seconds"`

	// DueScanInterval is how often snoozed items and expired undo tokens are
	// scanned.
	DueScanInterval time.Duration `yaml:"due_scan_interval"`
}

// UndoWindow returns the undo validity as a duration.
func (c *QueueConfig) UndoWindow() time.Duration {
	return time.Duration(c.UndoWindowSeconds) * time.Second
}

// DefaultQueueConfig returns production defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		UndoWindowSeconds: 300,
		DueScanInterval:   30 * time.Second,
	}
}

// WorkersConfig controls the analysis worker pool.
type WorkersConfig struct {
	// WorkerCount is the number of concurrent analysis workers.
	WorkerCount int `yaml:"worker_count"`

	// PollInterval is how often an idle worker polls the backlog.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter randomizes polling to avoid thundering herd across
	// workers. Effective interval is PollInterval ± jitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// HeartbeatInterval is how often a worker refreshes the heartbeat of the
	// event it is analyzing.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// GracefulShutdownTimeout bounds the drain of in-flight analyses on
	// shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// OrphanDetectionInterval is how often the backlog is scanned for events
	// claimed by dead instances.
	OrphanDetectionInterval time.Duration `yaml:"orphan_detection_interval"`

	// OrphanThreshold is how stale a heartbeat must be before the event is
	// considered orphaned.
	OrphanThreshold time.Duration `yaml:"orphan_threshold"`

	// IngestBuffer is the capacity of the in-memory ingest channel. A full
	// buffer pauses source adapters (their cursor is not advanced).
	IngestBuffer int `yaml:"ingest_buffer"`
}

// DefaultWorkersConfig returns production defaults.
func DefaultWorkersConfig() *WorkersConfig {
	return &WorkersConfig{
		WorkerCount:             4,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		HeartbeatInterval:       15 * time.Second,
		GracefulShutdownTimeout: 2 * time.Minute,
		OrphanDetectionInterval: 1 * time.Minute,
		OrphanThreshold:         5 * time.Minute,
		IngestBuffer:            256,
	}
}
