// Package queue drains the durable analysis backlog. Workers claim pending
// events with FOR UPDATE SKIP LOCKED, run the staged analysis chain, and
// either auto-execute the resulting plan or hand it to the approval queue.
// Claimed rows carry heartbeats so events stranded by a crashed instance are
// detected and marked errored.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/majordome-ai/majordome/pkg/models"
)

// ErrNoEventsAvailable indicates no claimable pending events are in the
// backlog.
var ErrNoEventsAvailable = errors.New("no events available")

// Claim is one backlog entry leased by a worker.
type Claim struct {
	// Event is the perceived event to analyze.
	Event *models.PerceivedEvent

	// ForceTier, when set, overrides every stage's model tier. Set by
	// explicit reanalysis requests.
	ForceTier string

	// Attempts counts claims of this event, including this one.
	Attempts int
}

// EventExecutor runs the full pipeline for one claimed event: analysis,
// planning, and either execution or enqueueing for approval.
//
// A nil return marks the backlog row completed; an error marks it errored
// with the error text as last_error. The worker only handles claiming,
// heartbeats, and the terminal status write.
type EventExecutor interface {
	Execute(ctx context.Context, claim *Claim) error
}

// PoolHealth is a point-in-time snapshot of the worker pool.
type PoolHealth struct {
	IsHealthy        bool           `json:"is_healthy"`
	DBReachable      bool           `json:"db_reachable"`
	DBError          string         `json:"db_error,omitempty"`
	InstanceID       string         `json:"instance_id"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	BacklogDepth     int            `json:"backlog_depth"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
	LastOrphanScan   time.Time      `json:"last_orphan_scan"`
	OrphansRecovered int            `json:"orphans_recovered"`
}

// WorkerHealth is a point-in-time snapshot of a single worker.
type WorkerHealth struct {
	ID              string    `json:"id"`
	Status          string    `json:"status"` // "idle" or "working"
	CurrentEventID  string    `json:"current_event_id,omitempty"`
	EventsProcessed int       `json:"events_processed"`
	LastActivity    time.Time `json:"last_activity"`
}
