package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/majordome-ai/majordome/pkg/models"
)

// Store is the SQL surface of the analysis backlog: claiming, heartbeats,
// terminal writes, and recovery. Ingestion writes rows through the ingest
// service; the store only moves them through their lifecycle.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore creates a backlog store.
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     db,
		logger: logger.With("component", "backlog_store"),
	}
}

// ClaimNext leases the oldest claimable pending event for the given
// instance. Events whose thread already has an analysis in flight are
// skipped, so two events of one thread are never claimed concurrently.
// Returns ErrNoEventsAvailable when the backlog has nothing claimable.
func (s *Store) ClaimNext(ctx context.Context, instanceID string) (*Claim, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var (
		eventID   string
		payload   []byte
		forceTier sql.NullString
		attempts  int
	)
	err = tx.QueryRowContext(ctx, `
		SELECT e.event_id, e.payload, e.force_tier, e.attempts
		FROM perceived_events AS e
		WHERE e.status = 'pending'
		  AND NOT EXISTS (
		      SELECT 1 FROM perceived_events AS f
		      WHERE f.status = 'in_progress' AND f.thread_id = e.thread_id)
		ORDER BY e.created_at
		FOR UPDATE OF e SKIP LOCKED
		LIMIT 1`).
		Scan(&eventID, &payload, &forceTier, &attempts)
	if err == sql.ErrNoRows {
		return nil, ErrNoEventsAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select claimable event: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE perceived_events
		SET status = 'in_progress', claimed_by = $2,
		    heartbeat_at = now(), attempts = attempts + 1
		WHERE event_id = $1`, eventID, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark event %s in progress: %w", eventID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim of event %s: %w", eventID, err)
	}

	var event models.PerceivedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		// The row is claimed but undecodable; park it as errored so it does
		// not wedge the queue.
		s.Fail(ctx, eventID, fmt.Errorf("undecodable payload: %w", err))
		return nil, fmt.Errorf("failed to decode event %s: %w", eventID, err)
	}

	return &Claim{
		Event:     &event,
		ForceTier: forceTier.String,
		Attempts:  attempts + 1,
	}, nil
}

// Heartbeat refreshes the lease of an in-flight event. A no-op when the row
// is no longer in progress or owned by another instance.
func (s *Store) Heartbeat(ctx context.Context, eventID, instanceID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE perceived_events
		SET heartbeat_at = now()
		WHERE event_id = $1 AND claimed_by = $2 AND status = 'in_progress'`,
		eventID, instanceID)
	if err != nil {
		return fmt.Errorf("failed to heartbeat event %s: %w", eventID, err)
	}
	return nil
}

// Complete marks an event's analysis done and clears the reanalysis marker.
func (s *Store) Complete(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE perceived_events
		SET status = 'completed', completed_at = now(),
		    force_tier = NULL, last_error = NULL
		WHERE event_id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("failed to complete event %s: %w", eventID, err)
	}
	return nil
}

// Fail marks an event errored with the cause. The row stays for inspection
// and explicit reanalysis.
func (s *Store) Fail(ctx context.Context, eventID string, cause error) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE perceived_events
		SET status = 'errored', completed_at = now(),
		    force_tier = NULL, last_error = $2
		WHERE event_id = $1`, eventID, cause.Error())
	if err != nil {
		return fmt.Errorf("failed to mark event %s errored: %w", eventID, err)
	}
	return nil
}

// Depth returns the number of pending events.
func (s *Store) Depth(ctx context.Context) (int, error) {
	var depth int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM perceived_events WHERE status = 'pending'`).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("failed to count backlog: %w", err)
	}
	return depth, nil
}

// RecoverOrphans marks in-flight events with stale heartbeats errored and
// returns how many were recovered. Safe to run from every instance; the
// predicate makes it idempotent.
func (s *Store) RecoverOrphans(ctx context.Context, threshold time.Duration) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE perceived_events
		SET status = 'errored', completed_at = now(), force_tier = NULL,
		    last_error = 'orphaned: no heartbeat from ' || COALESCE(claimed_by, 'unknown')
		WHERE status = 'in_progress'
		  AND (heartbeat_at IS NULL OR heartbeat_at < $1)`,
		time.Now().Add(-threshold))
	if err != nil {
		return 0, fmt.Errorf("failed to recover orphaned events: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read orphan recovery result: %w", err)
	}
	return int(n), nil
}

// RecoverInstance marks events still claimed by the given instance errored.
// Called once at startup: any such row was in flight when this instance
// previously crashed, and its plan may have partially executed, so it is not
// silently re-run.
func (s *Store) RecoverInstance(ctx context.Context, instanceID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE perceived_events
		SET status = 'errored', completed_at = now(), force_tier = NULL,
		    last_error = 'orphaned: instance ' || claimed_by || ' restarted mid-analysis'
		WHERE status = 'in_progress' AND claimed_by = $1`, instanceID)
	if err != nil {
		return 0, fmt.Errorf("failed to recover events of instance %s: %w", instanceID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read instance recovery result: %w", err)
	}
	return int(n), nil
}

// PruneTerminal deletes completed and errored rows older than the cutoff and
// returns the count.
func (s *Store) PruneTerminal(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM perceived_events
		WHERE status IN ('completed', 'errored')
		  AND COALESCE(completed_at, created_at) < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune terminal backlog rows: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read prune result: %w", err)
	}
	return n, nil
}
