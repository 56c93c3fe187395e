package queue

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/majordome-ai/majordome/pkg/config"
)

// WorkerPool manages the analysis workers and the orphan-recovery loop for
// one process instance.
type WorkerPool struct {
	instanceID string
	db         *sql.DB
	store      *Store
	config     *config.WorkersConfig
	executor   EventExecutor
	logger     *slog.Logger

	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool

	orphans orphanState
}

// NewInstanceID derives a claim identity for this process. Rows claimed
// under it are recovered on the next startup after a crash.
func NewInstanceID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// NewWorkerPool creates a pool. Workers are spawned by Start.
func NewWorkerPool(instanceID string, db *sql.DB, cfg *config.WorkersConfig,
	executor EventExecutor, logger *slog.Logger) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		instanceID: instanceID,
		db:         db,
		store:      NewStore(db, logger),
		config:     cfg,
		executor:   executor,
		logger:     logger.With("component", "worker_pool", "instance_id", instanceID),
		workers:    make([]*Worker, 0, cfg.WorkerCount),
		stopCh:     make(chan struct{}),
	}
}

// Store exposes the backlog store, for wiring the retention task.
func (p *WorkerPool) Store() *Store {
	return p.store
}

// Start recovers rows left claimed by a previous run of this instance, then
// spawns the workers and the orphan-detection loop. Safe to call multiple
// times; subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		p.logger.Warn("Worker pool already started, ignoring duplicate Start call")
		return nil
	}
	p.started = true

	recovered, err := p.store.RecoverInstance(ctx, p.instanceID)
	if err != nil {
		return fmt.Errorf("failed to recover startup orphans: %w", err)
	}
	if recovered > 0 {
		p.logger.Warn("Recovered events claimed before a previous crash", "count", recovered)
	}

	p.logger.Info("Starting worker pool", "worker_count", p.config.WorkerCount)
	for i := 0; i < p.config.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.instanceID, i)
		worker := NewWorker(workerID, p.instanceID, p.store, p.config, p.executor, p.logger)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runOrphanDetection(ctx)
	}()

	p.logger.Info("Worker pool started")
	return nil
}

// Stop signals all workers and waits for in-flight analyses to drain, up to
// the configured graceful shutdown timeout.
func (p *WorkerPool) Stop() {
	p.logger.Info("Stopping worker pool gracefully")
	p.stopOnce.Do(func() { close(p.stopCh) })

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, worker := range p.workers {
			worker.Stop()
		}
		p.wg.Wait()
	}()

	select {
	case <-done:
		p.logger.Info("Worker pool stopped gracefully")
	case <-time.After(p.config.GracefulShutdownTimeout):
		p.logger.Warn("Worker pool shutdown timed out with analyses still in flight",
			"timeout", p.config.GracefulShutdownTimeout)
	}
}

// Health reports database reachability, backlog depth, and per-worker state.
func (p *WorkerPool) Health(ctx context.Context) PoolHealth {
	health := PoolHealth{
		InstanceID:   p.instanceID,
		TotalWorkers: len(p.workers),
		DBReachable:  true,
	}

	if err := p.db.PingContext(ctx); err != nil {
		health.DBReachable = false
		health.DBError = err.Error()
	}

	if health.DBReachable {
		depth, err := p.store.Depth(ctx)
		if err != nil {
			p.logger.Warn("Failed to read backlog depth for health", "error", err)
		} else {
			health.BacklogDepth = depth
		}
	}

	for _, worker := range p.workers {
		stat := worker.Health()
		health.WorkerStats = append(health.WorkerStats, stat)
		if stat.Status == workerStatusWorking {
			health.ActiveWorkers++
		}
	}

	p.orphans.mu.Lock()
	health.LastOrphanScan = p.orphans.lastScan
	health.OrphansRecovered = p.orphans.recovered
	p.orphans.mu.Unlock()

	health.IsHealthy = health.DBReachable
	return health
}
