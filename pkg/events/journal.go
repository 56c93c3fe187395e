// Package events persists bus events to the durable journal and serves
// catchup reads for reconnecting stream subscribers.
//
// Journal writes are best-effort: a failed insert is logged and never fails
// the publisher. The journal exists so a consumer that reconnects with a
// last_event_id receives the events it missed before the live stream
// resumes, and as an audit trail of what the pipeline did.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/majordome-ai/majordome/pkg/bus"
)

// Journal subscribes to the bus and appends every event to the bus_events
// table.
type Journal struct {
	db *sql.DB

	mu      sync.Mutex
	sub     *bus.Subscription
	stopped chan struct{}
}

// NewJournal creates a journal over the given database connection.
func NewJournal(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// Start subscribes to all bus kinds and persists events until ctx is
// cancelled or Stop is called.
func (j *Journal) Start(ctx context.Context, b *bus.Bus) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.sub != nil {
		return
	}
	j.sub = b.Subscribe()
	j.stopped = make(chan struct{})

	go func(sub *bus.Subscription, stopped chan struct{}) {
		defer close(stopped)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.C():
				if !ok {
					return
				}
				if err := j.persist(ctx, ev); err != nil {
					slog.Warn("Journal write failed",
						"event_kind", ev.Kind,
						"correlation_id", ev.CorrelationID,
						"error", err)
				}
			}
		}
	}(j.sub, j.stopped)
}

// Stop detaches the journal from the bus and waits for the writer to drain.
func (j *Journal) Stop(b *bus.Bus) {
	j.mu.Lock()
	sub := j.sub
	stopped := j.stopped
	j.sub = nil
	j.mu.Unlock()

	if sub == nil {
		return
	}
	b.Unsubscribe(sub)
	<-stopped
}

func (j *Journal) persist(ctx context.Context, ev bus.Event) error {
	var payload []byte
	if ev.Payload != nil {
		var err error
		payload, err = json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO bus_events (event_id, type, correlation_id, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, string(ev.Kind), nullable(ev.CorrelationID), payload, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert journal row: %w", err)
	}
	return nil
}

// Entry is one journalled event with its monotonic sequence number.
type Entry struct {
	Seq   int64     `json:"seq"`
	Event bus.Event `json:"event"`
}

// SeqOf resolves a bus event id to its journal sequence number. Returns 0
// when the id is unknown (pruned or never journalled); catchup then starts
// from the live stream only.
func (j *Journal) SeqOf(ctx context.Context, eventID string) (int64, error) {
	var seq int64
	err := j.db.QueryRowContext(ctx,
		`SELECT seq FROM bus_events WHERE event_id = $1`, eventID).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve event id: %w", err)
	}
	return seq, nil
}

// ListSince returns up to limit journalled events with seq greater than
// afterSeq, optionally filtered to the given kinds, oldest first.
func (j *Journal) ListSince(ctx context.Context, afterSeq int64, kinds []bus.Kind, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 500
	}

	query := `SELECT seq, event_id, type, correlation_id, payload, created_at
		FROM bus_events WHERE seq > $1`
	args := []any{afterSeq}
	if len(kinds) > 0 {
		names := make([]string, len(kinds))
		for i, k := range kinds {
			names[i] = string(k)
		}
		query += ` AND type = ANY($2)`
		args = append(args, names)
	}
	query += fmt.Sprintf(` ORDER BY seq ASC LIMIT %d`, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e             Entry
			kind          string
			correlationID sql.NullString
			payload       []byte
		)
		if err := rows.Scan(&e.Seq, &e.Event.ID, &kind, &correlationID, &payload, &e.Event.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		e.Event.Kind = bus.Kind(kind)
		e.Event.CorrelationID = correlationID.String
		if len(payload) > 0 {
			var p map[string]any
			if err := json.Unmarshal(payload, &p); err == nil {
				e.Event.Payload = p
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes journal rows older than the cutoff and returns the count.
func (j *Journal) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		`DELETE FROM bus_events WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune journal: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
