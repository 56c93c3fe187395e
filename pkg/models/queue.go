package models

import "time"

// QueueStatus is the lifecycle state of an approval queue item.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueInProgress QueueStatus = "in_progress"
	QueueSnoozed    QueueStatus = "snoozed"
	QueueExecuted   QueueStatus = "executed"
	QueueRejected   QueueStatus = "rejected"
	QueueErrored    QueueStatus = "errored"
)

// QueueTab is a user-facing view derived from status, snooze time, and last
// error. Tabs are derived, never stored.
type QueueTab string

const (
	TabToProcess  QueueTab = "to_process"
	TabInProgress QueueTab = "in_progress"
	TabSnoozed    QueueTab = "snoozed"
	TabHistory    QueueTab = "history"
	TabErrors     QueueTab = "errors"
)

// QueueOption is one selectable disposition offered to the user.
type QueueOption struct {
	ID          string      `json:"id"`
	Label       string      `json:"label"`
	Action      ActionClass `json:"action"`
	Recommended bool        `json:"recommended,omitempty"`
}

// QueueItem is the persisted envelope for an item awaiting human decision.
// (Source, SourceID) is unique: re-enqueueing the same source record is a
// no-op.
type QueueItem struct {
	ID            string          `json:"id"`
	Source        Source          `json:"source"`
	SourceID      string          `json:"source_id"`
	EventID       string          `json:"event_id"`
	Event         *PerceivedEvent `json:"event,omitempty"`
	Analysis      *AnalysisResult `json:"analysis,omitempty"`
	Options       []QueueOption   `json:"options,omitempty"`
	Status        QueueStatus     `json:"status"`
	SnoozedUntil  *time.Time      `json:"snoozed_until,omitempty"`
	UndoToken     string          `json:"undo_token,omitempty"`
	UndoExpiresAt *time.Time      `json:"undo_expires_by,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	ExecutedAt    *time.Time      `json:"executed_at,omitempty"`
}

// Tab derives the user-facing tab for this item at the given time.
func (q *QueueItem) Tab(now time.Time) QueueTab {
	switch q.Status {
	case QueuePending:
		return TabToProcess
	case QueueInProgress:
		return TabInProgress
	case QueueSnoozed:
		if q.SnoozedUntil != nil && q.SnoozedUntil.After(now) {
			return TabSnoozed
		}
		return TabToProcess
	case QueueErrored:
		return TabErrors
	default:
		return TabHistory
	}
}

// QueueStats summarizes the queue by derived tab.
type QueueStats struct {
	ToProcess  int `json:"to_process"`
	InProgress int `json:"in_progress"`
	Snoozed    int `json:"snoozed"`
	History    int `json:"history"`
	Errors     int `json:"errors"`
}
