// Package e2e drives the whole pipeline against a real database: ingestion,
// the worker pool, staged analysis with a scripted model, planning,
// execution, and the approval queue.
package e2e

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/majordome-ai/majordome/pkg/actions"
	"github.com/majordome-ai/majordome/pkg/bus"
	"github.com/majordome-ai/majordome/pkg/config"
	"github.com/majordome-ai/majordome/pkg/embedding"
	"github.com/majordome-ai/majordome/pkg/knowledge"
	"github.com/majordome-ai/majordome/pkg/models"
	"github.com/majordome-ai/majordome/pkg/perceive"
	"github.com/majordome-ai/majordome/pkg/planner"
	"github.com/majordome-ai/majordome/pkg/queue"
	"github.com/majordome-ai/majordome/pkg/retrieval"
	"github.com/majordome-ai/majordome/pkg/services"
	"github.com/majordome-ai/majordome/pkg/valet"
	"github.com/majordome-ai/majordome/test/util"
)

const waitTimeout = 15 * time.Second

// recordedAction is one call that reached the source/task/calendar boundary.
type recordedAction struct {
	Kind     models.ActionKind
	SourceID string
	Summary  string
}

// recordingActuator is the outbound boundary of the tests: every call is
// recorded, selected kinds can be made to fail, and every compensation
// records its rollback.
type recordingActuator struct {
	mu         sync.Mutex
	fail       map[models.ActionKind]error
	executed   []recordedAction
	rolledBack []models.ActionKind
}

func newRecordingActuator() *recordingActuator {
	return &recordingActuator{fail: make(map[models.ActionKind]error)}
}

func (a *recordingActuator) failOn(kind models.ActionKind, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fail[kind] = err
}

func (a *recordingActuator) record(kind models.ActionKind, sourceID, summary string) (actions.CompensationHandle, error) {
	a.mu.Lock()
	if err := a.fail[kind]; err != nil {
		a.mu.Unlock()
		return nil, err
	}
	a.executed = append(a.executed, recordedAction{Kind: kind, SourceID: sourceID, Summary: summary})
	a.mu.Unlock()

	return actions.CompensationFunc(func(context.Context) error {
		a.mu.Lock()
		a.rolledBack = append(a.rolledBack, kind)
		a.mu.Unlock()
		return nil
	}), nil
}

func (a *recordingActuator) Archive(ctx context.Context, source models.Source, sourceID string) (actions.CompensationHandle, error) {
	return a.record(models.ActionKindArchive, sourceID, "")
}

func (a *recordingActuator) Delete(ctx context.Context, source models.Source, sourceID string) (actions.CompensationHandle, error) {
	return a.record(models.ActionKindDelete, sourceID, "")
}

func (a *recordingActuator) Flag(ctx context.Context, source models.Source, sourceID string) (actions.CompensationHandle, error) {
	return a.record(models.ActionKindFlag, sourceID, "")
}

func (a *recordingActuator) Snooze(ctx context.Context, source models.Source, sourceID string) (actions.CompensationHandle, error) {
	return a.record(models.ActionKindSnooze, sourceID, "")
}

func (a *recordingActuator) Move(ctx context.Context, source models.Source, sourceID string) (actions.CompensationHandle, error) {
	return a.record(models.ActionKindMove, sourceID, "")
}

func (a *recordingActuator) DraftReply(ctx context.Context, source models.Source, sourceID string) (actions.CompensationHandle, error) {
	return a.record(models.ActionKindDraftReply, sourceID, "")
}

func (a *recordingActuator) SendReply(ctx context.Context, source models.Source, sourceID string) (actions.CompensationHandle, error) {
	return a.record(models.ActionKindSendReply, sourceID, "")
}

func (a *recordingActuator) CreateTask(ctx context.Context, summary, dueDate string) (actions.CompensationHandle, error) {
	return a.record(models.ActionKindCreateTask, "", summary)
}

func (a *recordingActuator) CreateCalendarEvent(ctx context.Context, summary, date, timeOfDay string) (actions.CompensationHandle, error) {
	return a.record(models.ActionKindCreateCalendar, "", summary)
}

func (a *recordingActuator) executedKinds() []models.ActionKind {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.ActionKind, len(a.executed))
	for i, r := range a.executed {
		out[i] = r.Kind
	}
	return out
}

func (a *recordingActuator) rolledBackKinds() []models.ActionKind {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.ActionKind(nil), a.rolledBack...)
}

// harnessOptions tunes one full-stack fixture.
type harnessOptions struct {
	// fallback keeps the single-shot rescue enabled after a chain failure.
	fallback bool
}

// harness is the full stack wired the way the daemon wires it, with the
// model router replaced by a script and the outbound actuator by a recorder.
type harness struct {
	t        *testing.T
	logger   *slog.Logger
	db       *sql.DB
	bus      *bus.Bus
	store    *knowledge.Store
	model    *scriptedModel
	actuator *recordingActuator

	backlog   *services.IngestService
	feedback  *services.FeedbackService
	approvals *services.QueueService
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	if testing.Short() {
		t.Skip("end-to-end pipeline needs a database")
	}
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db := util.SetupTestDatabase(t)

	eventBus := bus.New()
	t.Cleanup(eventBus.Close)

	embCfg := config.EmbeddingConfig{Provider: "local", Dimensions: 64}
	engine, err := embedding.NewEngine(embCfg)
	require.NoError(t, err)

	watch := false
	store, err := knowledge.Open(config.KnowledgeConfig{
		RootDir:     filepath.Join(t.TempDir(), "notes"),
		IndexDir:    filepath.Join(t.TempDir(), "index"),
		Watch:       &watch,
		LockStripes: 8,
		Embedding:   embCfg,
	}, engine, logger)
	require.NoError(t, err)

	backlog := services.NewIngestService(db, logger)
	feedback := services.NewFeedbackService(db, eventBus, config.DefaultStoppingConfig(), logger)

	model := newScriptedModel()
	orchCfg := config.DefaultOrchestratorConfig()
	orchCfg.FallbackOnFailure = &opts.fallback
	orch, err := valet.NewOrchestrator(valet.Options{
		Router:       model,
		Retriever:    retrieval.NewRetriever(store, config.DefaultContextConfig(), logger),
		Priors:       feedback,
		Thresholds:   feedback,
		Bus:          eventBus,
		Orchestrator: orchCfg,
		Logger:       logger,
	})
	require.NoError(t, err)

	actuator := newRecordingActuator()
	registry := actions.NewRegistry()
	require.NoError(t, actions.RegisterNoteHandlers(registry, store))
	require.NoError(t, actions.RegisterSourceHandlers(registry, actuator))
	require.NoError(t, actions.RegisterSideEffectHandlers(registry, actuator, actuator))
	require.NoError(t, actions.RegisterReviewHandler(registry))

	executor := actions.NewExecutor(registry, config.DefaultExecutorConfig(), eventBus, logger)
	undo := actions.NewUndoRegistry(time.Minute, logger)
	plannerSvc := planner.NewPlanner(eventBus, logger)
	approvals := services.NewQueueService(db, plannerSvc, executor, undo, feedback, eventBus,
		config.DefaultQueueConfig(), logger)
	runner := queue.NewAnalysisRunner(orch, plannerSvc, executor, undo, approvals, logger)

	workersCfg := &config.WorkersConfig{
		WorkerCount:             2,
		PollInterval:            25 * time.Millisecond,
		PollIntervalJitter:      5 * time.Millisecond,
		HeartbeatInterval:       250 * time.Millisecond,
		GracefulShutdownTimeout: 5 * time.Second,
		OrphanDetectionInterval: time.Second,
		OrphanThreshold:         2 * time.Second,
		IngestBuffer:            16,
	}
	pool := queue.NewWorkerPool(queue.NewInstanceID(), db, workersCfg, runner, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, pool.Start(ctx))
	t.Cleanup(pool.Stop)

	return &harness{
		t:         t,
		logger:    logger,
		db:        db,
		bus:       eventBus,
		store:     store,
		model:     model,
		actuator:  actuator,
		backlog:   backlog,
		feedback:  feedback,
		approvals: approvals,
	}
}

// startSpoolIngestor runs the perception pipeline over a fresh spool
// directory and returns the directory mirror processes would write to.
func (h *harness) startSpoolIngestor(sources *config.SourcesConfig) string {
	h.t.Helper()
	dir := h.t.TempDir()

	ing := perceive.NewIngestor(perceive.IngestorOptions{
		Adapters:      []perceive.SourceAdapter{perceive.NewSpoolAdapter(models.SourceEmail, dir, h.logger)},
		Normalizer:    perceive.NewNormalizer(sources),
		Continuity:    perceive.NewContinuity(sources),
		Backlog:       h.backlog,
		Bus:           h.bus,
		Logger:        h.logger,
		FetchInterval: 25 * time.Millisecond,
		Buffer:        16,
	})

	ctx, cancel := context.WithCancel(context.Background())
	ing.Start(ctx)
	// Cleanups run LIFO: cancel must run before Stop, which waits for the
	// loops to exit after the context is cancelled.
	h.t.Cleanup(ing.Stop)
	h.t.Cleanup(cancel)
	return dir
}

// insertEvent drops an already normalized event straight into the backlog,
// where the worker pool picks it up.
func (h *harness) insertEvent(event *models.PerceivedEvent) {
	h.t.Helper()
	_, err := h.backlog.InsertEvent(context.Background(), event)
	require.NoError(h.t, err)
}

// waitForStatus polls the backlog until the event reaches the wanted status.
func (h *harness) waitForStatus(eventID string, want services.BacklogStatus) *services.BacklogRow {
	h.t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		row, err := h.backlog.GetEvent(context.Background(), eventID)
		if err == nil && row.Status == want {
			return row
		}
		time.Sleep(25 * time.Millisecond)
	}
	h.t.Fatalf("event %s never reached status %s", eventID, want)
	return nil
}

// waitForQueueItem polls until the event has an approval queue item.
func (h *harness) waitForQueueItem(eventID string) *models.QueueItem {
	h.t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		items, err := h.approvals.ListByTab(context.Background(), models.TabToProcess, 50, 0)
		require.NoError(h.t, err)
		for _, item := range items {
			if item.EventID == eventID {
				return item
			}
		}
		time.Sleep(25 * time.Millisecond)
	}
	h.t.Fatalf("event %s never reached the approval queue", eventID)
	return nil
}

func (h *harness) queueStats() *models.QueueStats {
	h.t.Helper()
	stats, err := h.approvals.Stats(context.Background())
	require.NoError(h.t, err)
	return stats
}

// emailEvent builds a normalized email event with one sender participant.
func emailEvent(sourceID, from, fromName, subject, body string, entities ...models.Entity) *models.PerceivedEvent {
	return &models.PerceivedEvent{
		EventID:    models.EventIDFor(models.SourceEmail, sourceID),
		Source:     models.SourceEmail,
		SourceID:   sourceID,
		Kind:       models.KindMessage,
		OccurredAt: time.Now().Add(-time.Hour),
		Participants: []models.Participant{
			{Identity: from, DisplayName: fromName, Role: models.RoleFrom},
		},
		Subject:   subject,
		BodyPlain: body,
		Entities:  entities,
	}
}

// drainEvents empties a subscription without blocking.
func drainEvents(sub *bus.Subscription) []bus.Event {
	var out []bus.Event
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func countKind(events []bus.Event, kind bus.Kind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}
