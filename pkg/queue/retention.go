package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/majordome-ai/majordome/pkg/config"
	"github.com/majordome-ai/majordome/pkg/events"
)

// Retention prunes data past its useful life: journal rows older than the
// journal TTL and terminal backlog rows past the backlog window.
type Retention struct {
	store   *Store
	journal *events.Journal
	config  *config.RetentionConfig
	logger  *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRetention creates the cleanup task.
func NewRetention(store *Store, journal *events.Journal, cfg *config.RetentionConfig,
	logger *slog.Logger) *Retention {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retention{
		store:   store,
		journal: journal,
		config:  cfg,
		logger:  logger.With("component", "retention"),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the cleanup loop. One pass runs immediately so a restart
// after long downtime catches up without waiting a full interval.
func (r *Retention) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.cleanup(ctx)

		ticker := time.NewTicker(r.config.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.cleanup(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (r *Retention) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *Retention) cleanup(ctx context.Context) {
	backlogCutoff := time.Now().AddDate(0, 0, -r.config.BacklogRetentionDays)
	pruned, err := r.store.PruneTerminal(ctx, backlogCutoff)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("Failed to prune terminal backlog rows", "error", err)
		}
	} else if pruned > 0 {
		r.logger.Info("Pruned terminal backlog rows", "count", pruned, "cutoff", backlogCutoff)
	}

	journalCutoff := time.Now().Add(-r.config.JournalTTL)
	prunedJournal, err := r.journal.Prune(ctx, journalCutoff)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("Failed to prune event journal", "error", err)
		}
	} else if prunedJournal > 0 {
		r.logger.Info("Pruned journal rows", "count", prunedJournal, "cutoff", journalCutoff)
	}
}
