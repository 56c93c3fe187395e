package actions

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUndoUnknown means no live undo entry matches the token.
var ErrUndoUnknown = errors.New("unknown or expired undo token")

// ErrUndoFailed means at least one compensation failed during undo.
var ErrUndoFailed = errors.New("undo incomplete")

type undoEntry struct {
	planID    string
	executed  []Executed
	expiresAt time.Time
}

// UndoRegistry keeps compensation handles of executed plans alive for the
// undo window. After the window lapses the handles are dropped and the
// effects become permanent.
type UndoRegistry struct {
	ttl    time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*undoEntry
	now     func() time.Time
}

// NewUndoRegistry creates a registry whose tokens live for ttl.
func NewUndoRegistry(ttl time.Duration, logger *slog.Logger) *UndoRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &UndoRegistry{
		ttl:     ttl,
		logger:  logger.With("component", "undo_registry"),
		entries: make(map[string]*undoEntry),
		now:     time.Now,
	}
}

// Register stores a plan's handles and returns the undo token.
func (r *UndoRegistry) Register(planID string, executed []Executed) string {
	token := uuid.New().String()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgeLocked()
	r.entries[token] = &undoEntry{
		planID:    planID,
		executed:  executed,
		expiresAt: r.now().Add(r.ttl),
	}
	return token
}

// Undo rolls back the plan behind the token, in reverse completion order.
// The token is consumed either way; a second undo is not possible.
func (r *UndoRegistry) Undo(ctx context.Context, token string) error {
	r.mu.Lock()
	r.purgeLocked()
	entry, ok := r.entries[token]
	if ok {
		delete(r.entries, token)
	}
	r.mu.Unlock()
	if !ok {
		return ErrUndoUnknown
	}

	failed := 0
	for i := len(entry.executed) - 1; i >= 0; i-- {
		step := entry.executed[i]
		if err := step.Handle.Rollback(ctx); err != nil {
			failed++
			r.logger.Error("Undo rollback failed",
				"plan_id", entry.planID,
				"action_id", step.Action.ID,
				"kind", step.Action.Kind,
				"error", err)
		}
	}
	if failed > 0 {
		return ErrUndoFailed
	}
	r.logger.Info("Plan undone", "plan_id", entry.planID, "actions", len(entry.executed))
	return nil
}

// Live reports whether the token is still valid.
func (r *UndoRegistry) Live(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[token]
	return ok && r.now().Before(entry.expiresAt)
}

func (r *UndoRegistry) purgeLocked() {
	now := r.now()
	for token, entry := range r.entries {
		if !now.Before(entry.expiresAt) {
			delete(r.entries, token)
		}
	}
}
