package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testdb "github.com/majordome-ai/majordome/test/database"
)

func TestInsertEventIdempotent(t *testing.T) {
	db := testdb.NewTestDB(t)
	svc := NewIngestService(db, discardLogger())
	ctx := context.Background()

	inserted, err := svc.InsertEvent(ctx, testEvent("msg-1"))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = svc.InsertEvent(ctx, testEvent("msg-1"))
	require.NoError(t, err)
	assert.False(t, inserted, "duplicate event id is a no-op")

	depth, err := svc.BacklogDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestGetEventRoundTrip(t *testing.T) {
	db := testdb.NewTestDB(t)
	svc := NewIngestService(db, discardLogger())
	ctx := context.Background()

	event := testEvent("msg-1")
	_, err := svc.InsertEvent(ctx, event)
	require.NoError(t, err)

	row, err := svc.GetEvent(ctx, "email:msg-1")
	require.NoError(t, err)
	assert.Equal(t, BacklogPending, row.Status)
	assert.Empty(t, row.ForceTier)
	assert.Equal(t, event.Subject, row.Event.Subject)
	assert.Equal(t, event.ThreadID, row.Event.ThreadID)
	assert.Len(t, row.Event.Participants, 2)

	_, err = svc.GetEvent(ctx, "email:nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReanalyzeResetsRow(t *testing.T) {
	db := testdb.NewTestDB(t)
	svc := NewIngestService(db, discardLogger())
	ctx := context.Background()

	_, err := svc.InsertEvent(ctx, testEvent("msg-1"))
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `
		UPDATE perceived_events
		SET status = 'completed', claimed_by = 'worker-1',
		    last_error = 'old', completed_at = now()
		WHERE event_id = 'email:msg-1'`)
	require.NoError(t, err)

	require.NoError(t, svc.Reanalyze(ctx, "email:msg-1"))

	row, err := svc.GetEvent(ctx, "email:msg-1")
	require.NoError(t, err)
	assert.Equal(t, BacklogPending, row.Status)
	assert.Equal(t, "strong", row.ForceTier)
	assert.Empty(t, row.LastError)

	assert.ErrorIs(t, svc.Reanalyze(ctx, "email:nope"), ErrNotFound)
}

func TestStatusCounts(t *testing.T) {
	db := testdb.NewTestDB(t)
	svc := NewIngestService(db, discardLogger())
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := svc.InsertEvent(ctx, testEvent(id))
		require.NoError(t, err)
	}
	_, err := db.ExecContext(ctx,
		`UPDATE perceived_events SET status = 'errored' WHERE event_id = 'email:c'`)
	require.NoError(t, err)

	counts, err := svc.StatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[BacklogPending])
	assert.Equal(t, 1, counts[BacklogErrored])
}
