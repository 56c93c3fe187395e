package queue

import (
	"context"
	"sync"
	"time"
)

// orphanState tracks orphan detection metrics (thread-safe).
type orphanState struct {
	mu        sync.Mutex
	lastScan  time.Time
	recovered int
}

// runOrphanDetection periodically marks in-flight events with stale
// heartbeats as errored. Idempotent, so every instance runs it.
func (p *WorkerPool) runOrphanDetection(ctx context.Context) {
	ticker := time.NewTicker(p.config.OrphanDetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			recovered, err := p.store.RecoverOrphans(ctx, p.config.OrphanThreshold)
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Error("Orphan detection failed", "error", err)
				}
				continue
			}
			if recovered > 0 {
				p.logger.Warn("Recovered orphaned events", "count", recovered)
			}

			p.orphans.mu.Lock()
			p.orphans.lastScan = time.Now()
			p.orphans.recovered += recovered
			p.orphans.mu.Unlock()
		}
	}
}
