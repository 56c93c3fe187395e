package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majordome-ai/majordome/pkg/config"
	testdb "github.com/majordome-ai/majordome/test/database"
)

// executorStub completes instantly and records what it saw. Events listed in
// failIDs return an error.
type executorStub struct {
	mu      sync.Mutex
	seen    []string
	failIDs map[string]bool
}

func (e *executorStub) Execute(_ context.Context, claim *Claim) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seen = append(e.seen, claim.Event.EventID)
	if e.failIDs[claim.Event.EventID] {
		return errors.New("pipeline blew up")
	}
	return nil
}

func (e *executorStub) seenIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.seen...)
}

func fastPoolConfig() *config.WorkersConfig {
	return &config.WorkersConfig{
		WorkerCount:             2,
		PollInterval:            20 * time.Millisecond,
		PollIntervalJitter:      5 * time.Millisecond,
		HeartbeatInterval:       50 * time.Millisecond,
		GracefulShutdownTimeout: 5 * time.Second,
		OrphanDetectionInterval: 50 * time.Millisecond,
		OrphanThreshold:         5 * time.Minute,
		IngestBuffer:            16,
	}
}

func TestPoolDrainsBacklog(t *testing.T) {
	db := testdb.NewTestDB(t)
	stub := &executorStub{failIDs: map[string]bool{"email:bad": true}}
	pool := NewWorkerPool("inst-1", db, fastPoolConfig(), stub, discardLogger())

	insertBacklog(t, db, backlogEvent("good", ""), 3*time.Minute)
	insertBacklog(t, db, backlogEvent("bad", ""), 2*time.Minute)
	insertBacklog(t, db, backlogEvent("later", ""), time.Minute)

	ctx := context.Background()
	require.NoError(t, pool.Start(ctx))
	defer pool.Stop()

	require.Eventually(t, func() bool {
		var remaining int
		err := db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM perceived_events WHERE status IN ('pending', 'in_progress')`).
			Scan(&remaining)
		return err == nil && remaining == 0
	}, 10*time.Second, 50*time.Millisecond, "backlog drains")

	assert.ElementsMatch(t, []string{"email:good", "email:bad", "email:later"}, stub.seenIDs())

	status, lastError := backlogStatus(t, db, "email:bad")
	assert.Equal(t, "errored", status)
	assert.Contains(t, lastError.String, "pipeline blew up")

	status, _ = backlogStatus(t, db, "email:good")
	assert.Equal(t, "completed", status)
}

func TestPoolStartRecoversOwnClaims(t *testing.T) {
	db := testdb.NewTestDB(t)
	ctx := context.Background()

	// A row claimed under this instance id simulates a crash mid-analysis.
	insertBacklog(t, db, backlogEvent("stranded", ""), time.Minute)
	store := NewStore(db, discardLogger())
	_, err := store.ClaimNext(ctx, "inst-1")
	require.NoError(t, err)

	pool := NewWorkerPool("inst-1", db, fastPoolConfig(), &executorStub{}, discardLogger())
	require.NoError(t, pool.Start(ctx))
	defer pool.Stop()

	status, lastError := backlogStatus(t, db, "email:stranded")
	assert.Equal(t, "errored", status)
	assert.Contains(t, lastError.String, "restarted mid-analysis")
}

func TestPoolHealth(t *testing.T) {
	db := testdb.NewTestDB(t)
	pool := NewWorkerPool("inst-1", db, fastPoolConfig(), &executorStub{}, discardLogger())

	ctx := context.Background()
	require.NoError(t, pool.Start(ctx))
	defer pool.Stop()

	insertBacklog(t, db, backlogEvent("queued", ""), time.Minute)

	health := pool.Health(ctx)
	assert.True(t, health.IsHealthy)
	assert.True(t, health.DBReachable)
	assert.Equal(t, "inst-1", health.InstanceID)
	assert.Equal(t, 2, health.TotalWorkers)
	require.Len(t, health.WorkerStats, 2)
	assert.True(t, strings.HasPrefix(health.WorkerStats[0].ID, "inst-1-worker-"))
}

func TestPoolStopIsIdempotent(t *testing.T) {
	db := testdb.NewTestDB(t)
	pool := NewWorkerPool("inst-1", db, fastPoolConfig(), &executorStub{}, discardLogger())

	require.NoError(t, pool.Start(context.Background()))
	pool.Stop()
	pool.Stop()
}
