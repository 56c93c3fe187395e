package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/majordome-ai/majordome/pkg/models"
)

// BacklogStatus is the lifecycle state of a perceived event in the analysis
// backlog.
type BacklogStatus string

const (
	BacklogPending    BacklogStatus = "pending"
	BacklogInProgress BacklogStatus = "in_progress"
	BacklogCompleted  BacklogStatus = "completed"
	BacklogErrored    BacklogStatus = "errored"
)

// BacklogRow is one backlog entry: the event plus its processing state.
type BacklogRow struct {
	Event     *models.PerceivedEvent `json:"event"`
	Status    BacklogStatus          `json:"status"`
	ForceTier string                 `json:"force_tier,omitempty"`
	Attempts  int                    `json:"attempts"`
	LastError string                 `json:"last_error,omitempty"`
}

// IngestService owns the durable analysis backlog. Ingested events land here
// and workers drain it. Insertion is idempotent on event_id, so re-fetching
// an already seen source record is a no-op.
type IngestService struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewIngestService creates the service.
func NewIngestService(db *sql.DB, logger *slog.Logger) *IngestService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestService{
		db:     db,
		logger: logger.With("service", "ingest"),
	}
}

// InsertEvent persists a perceived event as pending. Returns false when the
// event id already exists.
func (s *IngestService) InsertEvent(ctx context.Context, event *models.PerceivedEvent) (bool, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return false, fmt.Errorf("failed to marshal event %s: %w", event.EventID, err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO perceived_events (event_id, source, source_id, thread_id, payload)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		ON CONFLICT (event_id) DO NOTHING`,
		event.EventID, string(event.Source), event.SourceID, event.ThreadID, payload)
	if err != nil {
		return false, fmt.Errorf("failed to insert event %s: %w", event.EventID, err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return inserted > 0, nil
}

// GetEvent loads one backlog row by event id.
func (s *IngestService) GetEvent(ctx context.Context, eventID string) (*BacklogRow, error) {
	var (
		payload   []byte
		status    string
		forceTier sql.NullString
		attempts  int
		lastError sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT payload, status, force_tier, attempts, last_error
		FROM perceived_events
		WHERE event_id = $1`, eventID).
		Scan(&payload, &status, &forceTier, &attempts, &lastError)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("event %s: %w", eventID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load event %s: %w", eventID, err)
	}

	var event models.PerceivedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to decode event %s: %w", eventID, err)
	}
	return &BacklogRow{
		Event:     &event,
		Status:    BacklogStatus(status),
		ForceTier: forceTier.String,
		Attempts:  attempts,
		LastError: lastError.String,
	}, nil
}

// Reanalyze resets a terminal backlog row to pending with a strong-tier
// marker, so the next worker re-runs the full chain at the highest tier.
func (s *IngestService) Reanalyze(ctx context.Context, eventID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE perceived_events
		SET status = 'pending', force_tier = 'strong',
		    claimed_by = NULL, heartbeat_at = NULL,
		    last_error = NULL, completed_at = NULL
		WHERE event_id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("failed to reset event %s for reanalysis: %w", eventID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read reset result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("event %s: %w", eventID, ErrNotFound)
	}
	s.logger.Info("Event queued for reanalysis", "event_id", eventID)
	return nil
}

// BacklogDepth returns the number of pending events awaiting analysis.
func (s *IngestService) BacklogDepth(ctx context.Context) (int, error) {
	var depth int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM perceived_events WHERE status = 'pending'`).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("failed to count backlog: %w", err)
	}
	return depth, nil
}

// StatusCounts returns the backlog broken down by status.
func (s *IngestService) StatusCounts(ctx context.Context) (map[BacklogStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM perceived_events GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count backlog by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[BacklogStatus]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan backlog count: %w", err)
		}
		counts[BacklogStatus(status)] = count
	}
	return counts, rows.Err()
}
