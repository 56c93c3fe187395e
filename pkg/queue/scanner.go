package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/majordome-ai/majordome/pkg/services"
)

// DueScanner is the background loop behind the approval queue's clock:
// snoozed items come back when due, undo tokens expire after their window,
// and approval executions stranded in_progress are marked errored.
type DueScanner struct {
	queue        *services.QueueService
	interval     time.Duration
	stalledAfter time.Duration
	logger       *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDueScanner creates the scanner. stalledAfter bounds how long an
// approval may stay in_progress before it is considered orphaned.
func NewDueScanner(queue *services.QueueService, interval, stalledAfter time.Duration,
	logger *slog.Logger) *DueScanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &DueScanner{
		queue:        queue,
		interval:     interval,
		stalledAfter: stalledAfter,
		logger:       logger.With("component", "due_scanner"),
		stopCh:       make(chan struct{}),
	}
}

// Start launches the scan loop.
func (s *DueScanner) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.scan(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight scan to finish.
func (s *DueScanner) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *DueScanner) scan(ctx context.Context) {
	released, err := s.queue.ReleaseDueSnoozes(ctx)
	if err != nil {
		s.logger.Error("Failed to release due snoozes", "error", err)
	} else if released > 0 {
		s.logger.Info("Released due snoozes", "count", released)
	}

	expired, err := s.queue.ExpireUndoTokens(ctx)
	if err != nil {
		s.logger.Error("Failed to expire undo tokens", "error", err)
	} else if expired > 0 {
		s.logger.Debug("Expired undo tokens", "count", expired)
	}

	stalled, err := s.queue.RecoverStalledApprovals(ctx, s.stalledAfter)
	if err != nil {
		s.logger.Error("Failed to recover stalled approvals", "error", err)
	} else if stalled > 0 {
		s.logger.Warn("Recovered stalled approval executions", "count", stalled)
	}
}
