package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majordome-ai/majordome/pkg/actions"
	"github.com/majordome-ai/majordome/pkg/bus"
	"github.com/majordome-ai/majordome/pkg/config"
	"github.com/majordome-ai/majordome/pkg/models"
	"github.com/majordome-ai/majordome/pkg/planner"
	testdb "github.com/majordome-ai/majordome/test/database"
)

// actionRecorder registers handlers for every plannable kind and records
// executions and rollbacks.
type actionRecorder struct {
	mu       sync.Mutex
	executed []models.ActionKind
	rolled   []models.ActionKind
	failKind models.ActionKind
}

func (r *actionRecorder) registry() *actions.Registry {
	reg := actions.NewRegistry()
	kinds := []models.ActionKind{
		models.ActionKindCreateNote, models.ActionKindEnrichNote,
		models.ActionKindArchive, models.ActionKindDelete,
		models.ActionKindFlag, models.ActionKindSnooze,
		models.ActionKindDraftReply, models.ActionKindCreateTask,
		models.ActionKindCreateCalendar, models.ActionKindQueueForReview,
	}
	for _, kind := range kinds {
		kind := kind
		_ = reg.Register(actions.HandlerFunc{
			ActionKind: kind,
			Fn: func(ctx context.Context, action models.PlannedAction) (actions.CompensationHandle, error) {
				r.mu.Lock()
				defer r.mu.Unlock()
				if kind == r.failKind {
					return nil, errors.New("handler exploded")
				}
				r.executed = append(r.executed, kind)
				return actions.CompensationFunc(func(context.Context) error {
					r.mu.Lock()
					defer r.mu.Unlock()
					r.rolled = append(r.rolled, kind)
					return nil
				}), nil
			},
		})
	}
	return reg
}

func (r *actionRecorder) executedKinds() []models.ActionKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ActionKind(nil), r.executed...)
}

func (r *actionRecorder) rolledKinds() []models.ActionKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ActionKind(nil), r.rolled...)
}

type queueFixture struct {
	svc      *QueueService
	feedback *FeedbackService
	recorder *actionRecorder
	eventBus *bus.Bus
}

func newQueueFixture(t *testing.T) *queueFixture {
	t.Helper()
	db := testdb.NewTestDB(t)
	logger := discardLogger()
	eventBus := bus.New()
	t.Cleanup(eventBus.Close)

	recorder := &actionRecorder{}
	executor := actions.NewExecutor(recorder.registry(), config.DefaultExecutorConfig(), eventBus, logger)
	undo := actions.NewUndoRegistry(5*time.Minute, logger)
	feedback := NewFeedbackService(db, eventBus, config.DefaultStoppingConfig(), logger)
	svc := NewQueueService(db, planner.NewPlanner(eventBus, logger), executor, undo,
		feedback, eventBus, config.DefaultQueueConfig(), logger)
	return &queueFixture{svc: svc, feedback: feedback, recorder: recorder, eventBus: eventBus}
}

func TestEnqueueDeduplicatesBySourceID(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	first, err := f.svc.Enqueue(ctx, testEvent("msg-1"), testAnalysis(models.ActionQueueForReview, 0.7))
	require.NoError(t, err)
	assert.Equal(t, models.QueuePending, first.Status)
	assert.NotEmpty(t, first.Options)

	second, err := f.svc.Enqueue(ctx, testEvent("msg-1"), testAnalysis(models.ActionArchive, 0.9))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "same source record returns the existing item")

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ToProcess)
}

func TestEnqueueOptionsFlagRecommended(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	item, err := f.svc.Enqueue(ctx, testEvent("msg-1"), testAnalysis(models.ActionArchive, 0.8))
	require.NoError(t, err)

	require.NotEmpty(t, item.Options)
	assert.Equal(t, models.ActionArchive, item.Options[0].Action)
	assert.True(t, item.Options[0].Recommended)
	for _, opt := range item.Options[1:] {
		assert.False(t, opt.Recommended)
	}
}

func TestApproveExecutesPlanAndArmsUndo(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	item, err := f.svc.Enqueue(ctx, testEvent("msg-1"), testAnalysis(models.ActionArchive, 0.8))
	require.NoError(t, err)

	approved, err := f.svc.Approve(ctx, item.ID, "archive")
	require.NoError(t, err)
	assert.Equal(t, models.QueueExecuted, approved.Status)
	assert.NotEmpty(t, approved.UndoToken)
	require.NotNil(t, approved.UndoExpiresAt)
	require.NotNil(t, approved.ExecutedAt)

	// The enrich extraction runs before the source archive.
	assert.Equal(t, []models.ActionKind{models.ActionKindEnrichNote, models.ActionKindArchive},
		f.recorder.executedKinds())

	// The agreeing verdict landed in calibration.
	buckets, err := f.feedback.Buckets(ctx, models.SourceEmail)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, 1, buckets[0].Agreements)
}

func TestApproveOtherOptionRecordsDisagreement(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	item, err := f.svc.Enqueue(ctx, testEvent("msg-1"), testAnalysis(models.ActionArchive, 0.8))
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, item.ID, "flag")
	require.NoError(t, err)

	buckets, err := f.feedback.Buckets(ctx, models.SourceEmail)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, 1, buckets[0].Samples)
	assert.Equal(t, 0, buckets[0].Agreements, "choosing another option counts as disagreement")
}

func TestApproveUnknownOption(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	item, err := f.svc.Enqueue(ctx, testEvent("msg-1"), testAnalysis(models.ActionArchive, 0.8))
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, item.ID, "teleport")
	assert.True(t, IsValidationError(err))
}

func TestApproveFailureMarksErrored(t *testing.T) {
	f := newQueueFixture(t)
	f.recorder.failKind = models.ActionKindArchive
	ctx := context.Background()

	item, err := f.svc.Enqueue(ctx, testEvent("msg-1"), testAnalysis(models.ActionArchive, 0.8))
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, item.ID, "archive")
	require.Error(t, err)

	reloaded, err := f.svc.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueErrored, reloaded.Status)
	assert.NotEmpty(t, reloaded.LastError)
	assert.Equal(t, []models.ActionKind{models.ActionKindEnrichNote}, f.recorder.rolledKinds(),
		"completed prefix rolled back")
}

func TestApproveTwiceIsConflict(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	item, err := f.svc.Enqueue(ctx, testEvent("msg-1"), testAnalysis(models.ActionArchive, 0.8))
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, item.ID, "archive")
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, item.ID, "archive")
	assert.ErrorIs(t, err, ErrConcurrentModification)
}

func TestUndoRollsBackAndRequeues(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	item, err := f.svc.Enqueue(ctx, testEvent("msg-1"), testAnalysis(models.ActionArchive, 0.8))
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, item.ID, "archive")
	require.NoError(t, err)

	undone, err := f.svc.Undo(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueuePending, undone.Status)
	assert.Empty(t, undone.UndoToken)
	assert.Nil(t, undone.ExecutedAt)

	// Rollback runs in reverse completion order.
	assert.Equal(t, []models.ActionKind{models.ActionKindArchive, models.ActionKindEnrichNote},
		f.recorder.rolledKinds())

	_, err = f.svc.Undo(ctx, item.ID)
	assert.ErrorIs(t, err, ErrInvalidInput, "undo token is single use")
}

func TestRejectIsTerminal(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()
	sub := f.eventBus.Subscribe(bus.KindQueueRejected)
	defer f.eventBus.Unsubscribe(sub)

	item, err := f.svc.Enqueue(ctx, testEvent("msg-1"), testAnalysis(models.ActionArchive, 0.8))
	require.NoError(t, err)

	rejected, err := f.svc.Reject(ctx, item.ID, "not relevant")
	require.NoError(t, err)
	assert.Equal(t, models.QueueRejected, rejected.Status)
	assert.Empty(t, f.recorder.executedKinds(), "nothing executes on reject")

	ev := <-sub.C()
	payload := ev.Payload.(bus.QueuePayload)
	assert.Equal(t, "not relevant", payload.Reason)

	buckets, err := f.feedback.Buckets(ctx, models.SourceEmail)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, 0, buckets[0].Agreements)
}

func TestSnoozeLifecycle(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	item, err := f.svc.Enqueue(ctx, testEvent("msg-1"), testAnalysis(models.ActionArchive, 0.8))
	require.NoError(t, err)

	_, err = f.svc.Snooze(ctx, item.ID, time.Now().Add(-time.Hour))
	assert.True(t, IsValidationError(err), "snooze time must be in the future")

	snoozed, err := f.svc.Snooze(ctx, item.ID, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.QueueSnoozed, snoozed.Status)

	tab, err := f.svc.ListByTab(ctx, models.TabSnoozed, 10, 0)
	require.NoError(t, err)
	require.Len(t, tab, 1)

	resumed, err := f.svc.CancelSnooze(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueuePending, resumed.Status)
	assert.Nil(t, resumed.SnoozedUntil)
}

func TestReleaseDueSnoozes(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	item, err := f.svc.Enqueue(ctx, testEvent("msg-1"), testAnalysis(models.ActionArchive, 0.8))
	require.NoError(t, err)
	_, err = f.svc.Snooze(ctx, item.ID, time.Now().Add(time.Hour))
	require.NoError(t, err)

	// Not due yet.
	released, err := f.svc.ReleaseDueSnoozes(ctx)
	require.NoError(t, err)
	assert.Zero(t, released)

	_, err = f.svc.db.ExecContext(ctx,
		`UPDATE queue_items SET snoozed_until = now() - interval '1 minute' WHERE id = $1`, item.ID)
	require.NoError(t, err)

	released, err = f.svc.ReleaseDueSnoozes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	reloaded, err := f.svc.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueuePending, reloaded.Status)
}

func TestExpireUndoTokens(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	item, err := f.svc.Enqueue(ctx, testEvent("msg-1"), testAnalysis(models.ActionArchive, 0.8))
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, item.ID, "archive")
	require.NoError(t, err)

	_, err = f.svc.db.ExecContext(ctx,
		`UPDATE queue_items SET undo_expires_at = now() - interval '1 second' WHERE id = $1`, item.ID)
	require.NoError(t, err)

	expired, err := f.svc.ExpireUndoTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	reloaded, err := f.svc.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Empty(t, reloaded.UndoToken)
	assert.Equal(t, models.QueueExecuted, reloaded.Status, "expiry clears the token, not the outcome")
}

func TestListByTabPagination(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := f.svc.Enqueue(ctx, testEvent(id), testAnalysis(models.ActionArchive, 0.8))
		require.NoError(t, err)
	}

	page, err := f.svc.ListByTab(ctx, models.TabToProcess, 2, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	rest, err := f.svc.ListByTab(ctx, models.TabToProcess, 2, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 1)

	_, err = f.svc.ListByTab(ctx, models.QueueTab("bogus"), 10, 0)
	assert.True(t, IsValidationError(err))
}

func TestRecoverStalledApprovals(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	item, err := f.svc.Enqueue(ctx, testEvent("msg-1"), testAnalysis(models.ActionArchive, 0.8))
	require.NoError(t, err)

	_, err = f.svc.db.ExecContext(ctx, `
		UPDATE queue_items
		SET status = 'in_progress', updated_at = now() - interval '10 minutes'
		WHERE id = $1`, item.ID)
	require.NoError(t, err)

	recovered, err := f.svc.RecoverStalledApprovals(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	reloaded, err := f.svc.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueErrored, reloaded.Status)
}
