package queue

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/majordome-ai/majordome/pkg/config"
)

const (
	workerStatusIdle    = "idle"
	workerStatusWorking = "working"
)

// Worker polls the backlog, claims one event at a time, and drives it to a
// terminal status. The event pipeline itself lives in the EventExecutor.
type Worker struct {
	id         string
	instanceID string
	store      *Store
	config     *config.WorkersConfig
	executor   EventExecutor
	logger     *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu              sync.Mutex
	status          string
	currentEventID  string
	eventsProcessed int
	lastActivity    time.Time
}

// NewWorker creates a worker. Claims are recorded under the pool's instance
// id so startup recovery can find them; the worker id is for logs and
// health.
func NewWorker(id, instanceID string, store *Store, cfg *config.WorkersConfig,
	executor EventExecutor, logger *slog.Logger) *Worker {
	return &Worker{
		id:           id,
		instanceID:   instanceID,
		store:        store,
		config:       cfg,
		executor:     executor,
		logger:       logger.With("worker_id", id),
		stopCh:       make(chan struct{}),
		status:       workerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start launches the polling loop.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Stop signals the worker and waits for its current event to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	w.logger.Info("Worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Worker stopping: context cancelled")
			return
		case <-w.stopCh:
			w.logger.Info("Worker stopping: shutdown requested")
			return
		default:
		}

		claim, err := w.store.ClaimNext(ctx, w.instanceID)
		if err != nil {
			if !errors.Is(err, ErrNoEventsAvailable) && ctx.Err() == nil {
				w.logger.Error("Failed to claim event", "error", err)
			}
			w.sleep(ctx)
			continue
		}

		w.process(ctx, claim)
	}
}

// sleep waits one poll interval with jitter, so idle workers do not hit the
// database in lockstep.
func (w *Worker) sleep(ctx context.Context) {
	interval := w.config.PollInterval
	if jitter := w.config.PollIntervalJitter; jitter > 0 {
		interval = interval - jitter + time.Duration(rand.Int64N(int64(2*jitter)))
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-w.stopCh:
	case <-timer.C:
	}
}

func (w *Worker) process(ctx context.Context, claim *Claim) {
	eventID := claim.Event.EventID
	log := w.logger.With("event_id", eventID)
	log.Info("Claimed event for analysis",
		"source", claim.Event.Source,
		"thread_id", claim.Event.ThreadID,
		"attempts", claim.Attempts,
		"force_tier", claim.ForceTier)

	w.setWorking(eventID)
	defer w.setIdle()

	heartbeatDone := make(chan struct{})
	go w.runHeartbeat(ctx, eventID, heartbeatDone)

	err := w.executor.Execute(ctx, claim)
	close(heartbeatDone)

	// Terminal status is written even when the pipeline's context is gone,
	// so shutdown never leaves the row in progress.
	terminalCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err != nil {
		log.Error("Analysis pipeline failed", "error", err)
		if failErr := w.store.Fail(terminalCtx, eventID, err); failErr != nil {
			log.Error("Failed to record errored status", "error", failErr)
		}
		return
	}

	if err := w.store.Complete(terminalCtx, eventID); err != nil {
		log.Error("Failed to record completed status", "error", err)
		return
	}
	log.Info("Event analysis completed")
}

// runHeartbeat refreshes the event's lease until processing ends.
func (w *Worker) runHeartbeat(ctx context.Context, eventID string, done <-chan struct{}) {
	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.Heartbeat(ctx, eventID, w.instanceID); err != nil {
				w.logger.Warn("Heartbeat failed", "event_id", eventID, "error", err)
			}
		}
	}
}

func (w *Worker) setWorking(eventID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = workerStatusWorking
	w.currentEventID = eventID
	w.lastActivity = time.Now()
}

func (w *Worker) setIdle() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = workerStatusIdle
	w.currentEventID = ""
	w.eventsProcessed++
	w.lastActivity = time.Now()
}

// Health returns a snapshot of the worker's state.
func (w *Worker) Health() WorkerHealth {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WorkerHealth{
		ID:              w.id,
		Status:          w.status,
		CurrentEventID:  w.currentEventID,
		EventsProcessed: w.eventsProcessed,
		LastActivity:    w.lastActivity,
	}
}
