package actions

import (
	"context"
	"log/slog"

	"github.com/majordome-ai/majordome/pkg/models"
)

// SourceActuator applies dispositions to items at their source. Every
// method returns a compensation handle that restores the item.
type SourceActuator interface {
	Archive(ctx context.Context, source models.Source, sourceID string) (CompensationHandle, error)
	Delete(ctx context.Context, source models.Source, sourceID string) (CompensationHandle, error)
	Flag(ctx context.Context, source models.Source, sourceID string) (CompensationHandle, error)
	Snooze(ctx context.Context, source models.Source, sourceID string) (CompensationHandle, error)
	Move(ctx context.Context, source models.Source, sourceID string) (CompensationHandle, error)
	DraftReply(ctx context.Context, source models.Source, sourceID string) (CompensationHandle, error)
	SendReply(ctx context.Context, source models.Source, sourceID string) (CompensationHandle, error)
}

// TaskCreator creates tasks from extraction side effects.
type TaskCreator interface {
	CreateTask(ctx context.Context, summary, dueDate string) (CompensationHandle, error)
}

// CalendarCreator creates calendar entries from extraction side effects.
type CalendarCreator interface {
	CreateCalendarEvent(ctx context.Context, summary, date, timeOfDay string) (CompensationHandle, error)
}

// RegisterSourceHandlers wires the source-side dispositions.
func RegisterSourceHandlers(reg *Registry, actuator SourceActuator) error {
	type binding struct {
		kind models.ActionKind
		fn   func(ctx context.Context, source models.Source, sourceID string) (CompensationHandle, error)
	}
	bindings := []binding{
		{models.ActionKindArchive, actuator.Archive},
		{models.ActionKindDelete, actuator.Delete},
		{models.ActionKindFlag, actuator.Flag},
		{models.ActionKindSnooze, actuator.Snooze},
		{models.ActionKindMove, actuator.Move},
		{models.ActionKindDraftReply, actuator.DraftReply},
		{models.ActionKindSendReply, actuator.SendReply},
	}
	for _, b := range bindings {
		h := HandlerFunc{ActionKind: b.kind, Fn: func(ctx context.Context, action models.PlannedAction) (CompensationHandle, error) {
			return b.fn(ctx, models.Source(stringInput(action, "source")), stringInput(action, "source_id"))
		}}
		if err := reg.Register(h); err != nil {
			return err
		}
	}
	return nil
}

// RegisterReviewHandler wires queue_for_review as a no-op. The kind is a
// routing marker consumed before execution; a plan that still carries it by
// the time it runs has nothing to do at the source.
func RegisterReviewHandler(reg *Registry) error {
	return reg.Register(HandlerFunc{
		ActionKind: models.ActionKindQueueForReview,
		Fn: func(ctx context.Context, action models.PlannedAction) (CompensationHandle, error) {
			return NoCompensation, nil
		},
	})
}

// RegisterSideEffectHandlers wires create_task and create_calendar_event.
func RegisterSideEffectHandlers(reg *Registry, tasks TaskCreator, calendar CalendarCreator) error {
	taskHandler := HandlerFunc{ActionKind: models.ActionKindCreateTask, Fn: func(ctx context.Context, action models.PlannedAction) (CompensationHandle, error) {
		return tasks.CreateTask(ctx, stringInput(action, "summary"), stringInput(action, "due_date"))
	}}
	if err := reg.Register(taskHandler); err != nil {
		return err
	}
	calHandler := HandlerFunc{ActionKind: models.ActionKindCreateCalendar, Fn: func(ctx context.Context, action models.PlannedAction) (CompensationHandle, error) {
		return calendar.CreateCalendarEvent(ctx, stringInput(action, "summary"), stringInput(action, "date"), stringInput(action, "time"))
	}}
	return reg.Register(calHandler)
}

// JournalActuator records dispositions and side effects as structured log
// entries instead of touching the read-only source mirrors. Used until real
// write-capable connectors are wired.
type JournalActuator struct {
	logger *slog.Logger
}

// NewJournalActuator creates a journaling actuator.
func NewJournalActuator(logger *slog.Logger) *JournalActuator {
	if logger == nil {
		logger = slog.Default()
	}
	return &JournalActuator{logger: logger.With("component", "source_actuator")}
}

func (j *JournalActuator) journal(op string, source models.Source, sourceID string) (CompensationHandle, error) {
	j.logger.Info("Source disposition recorded", "op", op, "source", source, "source_id", sourceID)
	return CompensationFunc(func(context.Context) error {
		j.logger.Info("Source disposition reverted", "op", op, "source", source, "source_id", sourceID)
		return nil
	}), nil
}

// Archive journals an archive disposition.
func (j *JournalActuator) Archive(ctx context.Context, source models.Source, sourceID string) (CompensationHandle, error) {
	return j.journal("archive", source, sourceID)
}

// Delete journals a delete disposition.
func (j *JournalActuator) Delete(ctx context.Context, source models.Source, sourceID string) (CompensationHandle, error) {
	return j.journal("delete", source, sourceID)
}

// Flag journals a flag disposition.
func (j *JournalActuator) Flag(ctx context.Context, source models.Source, sourceID string) (CompensationHandle, error) {
	return j.journal("flag", source, sourceID)
}

// Snooze journals a snooze disposition.
func (j *JournalActuator) Snooze(ctx context.Context, source models.Source, sourceID string) (CompensationHandle, error) {
	return j.journal("snooze", source, sourceID)
}

// Move journals a move disposition.
func (j *JournalActuator) Move(ctx context.Context, source models.Source, sourceID string) (CompensationHandle, error) {
	return j.journal("move", source, sourceID)
}

// DraftReply journals a reply draft.
func (j *JournalActuator) DraftReply(ctx context.Context, source models.Source, sourceID string) (CompensationHandle, error) {
	return j.journal("draft_reply", source, sourceID)
}

// SendReply journals an outbound reply.
func (j *JournalActuator) SendReply(ctx context.Context, source models.Source, sourceID string) (CompensationHandle, error) {
	return j.journal("send_reply", source, sourceID)
}

// CreateTask journals a task creation.
func (j *JournalActuator) CreateTask(ctx context.Context, summary, dueDate string) (CompensationHandle, error) {
	j.logger.Info("Task recorded", "summary", summary, "due", dueDate)
	return NoCompensation, nil
}

// CreateCalendarEvent journals a calendar entry creation.
func (j *JournalActuator) CreateCalendarEvent(ctx context.Context, summary, date, timeOfDay string) (CompensationHandle, error) {
	j.logger.Info("Calendar entry recorded", "summary", summary, "date", date, "time", timeOfDay)
	return NoCompensation, nil
}
