package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/majordome-ai/majordome/pkg/actions"
	"github.com/majordome-ai/majordome/pkg/bus"
	"github.com/majordome-ai/majordome/pkg/config"
	"github.com/majordome-ai/majordome/pkg/models"
	"github.com/majordome-ai/majordome/pkg/planner"
)

const defaultQueuePageSize = 50

// QueueService owns the approval queue: items the analysis pipeline was not
// confident enough to execute on its own. Approval builds and executes a
// plan for the chosen option and hands back an undo token; every verdict is
// recorded as calibration feedback.
type QueueService struct {
	db       *sql.DB
	planner  *planner.Planner
	executor *actions.Executor
	undo     *actions.UndoRegistry
	feedback *FeedbackService
	eventBus *bus.Bus
	cfg      *config.QueueConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewQueueService creates the service.
func NewQueueService(db *sql.DB, plannerSvc *planner.Planner, executor *actions.Executor,
	undo *actions.UndoRegistry, feedback *FeedbackService, eventBus *bus.Bus,
	cfg *config.QueueConfig, logger *slog.Logger) *QueueService {
	if cfg == nil {
		cfg = config.DefaultQueueConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueService{
		db:       db,
		planner:  plannerSvc,
		executor: executor,
		undo:     undo,
		feedback: feedback,
		eventBus: eventBus,
		cfg:      cfg,
		logger:   logger.With("service", "queue"),
		now:      time.Now,
	}
}

// Enqueue inserts an item for human decision. Re-enqueueing the same
// (source, source_id) returns the existing item unchanged.
func (s *QueueService) Enqueue(ctx context.Context, event *models.PerceivedEvent, analysis *models.AnalysisResult) (*models.QueueItem, error) {
	if event == nil {
		return nil, NewValidationError("event", "is required")
	}

	item := &models.QueueItem{
		ID:       uuid.New().String(),
		Source:   event.Source,
		SourceID: event.SourceID,
		EventID:  event.EventID,
		Event:    event,
		Analysis: analysis,
		Options:  buildOptions(analysis),
		Status:   models.QueuePending,
	}

	eventJSON, analysisJSON, optionsJSON, err := marshalItemBlobs(item)
	if err != nil {
		return nil, err
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO queue_items (id, source, source_id, event_id, event, analysis, options)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source, source_id) DO NOTHING`,
		item.ID, string(item.Source), item.SourceID, item.EventID,
		eventJSON, analysisJSON, optionsJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue item: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read enqueue result: %w", err)
	}
	if inserted == 0 {
		return s.getBySourceID(ctx, event.Source, event.SourceID)
	}

	s.publish(bus.KindQueueEnqueued, item.ID, bus.QueuePayload{ItemID: item.ID, Status: string(item.Status)})
	s.logger.Info("Item enqueued", "item_id", item.ID, "event_id", item.EventID)
	return s.Get(ctx, item.ID)
}

// Get loads one item with its full analysis snapshot.
func (s *QueueService) Get(ctx context.Context, id string) (*models.QueueItem, error) {
	return s.scanItem(s.db.QueryRowContext(ctx, queueItemColumns+` WHERE id = $1`, id), id)
}

func (s *QueueService) getBySourceID(ctx context.Context, source models.Source, sourceID string) (*models.QueueItem, error) {
	row := s.db.QueryRowContext(ctx, queueItemColumns+` WHERE source = $1 AND source_id = $2`,
		string(source), sourceID)
	return s.scanItem(row, sourceID)
}

// ListByTab returns items of one derived tab, newest first.
func (s *QueueService) ListByTab(ctx context.Context, tab models.QueueTab, limit, offset int) ([]*models.QueueItem, error) {
	if limit <= 0 {
		limit = defaultQueuePageSize
	}
	if offset < 0 {
		offset = 0
	}

	where, err := tabPredicate(tab)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		queueItemColumns+` WHERE `+where+` ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue tab %s: %w", tab, err)
	}
	defer rows.Close()

	var items []*models.QueueItem
	for rows.Next() {
		item, err := s.scanItem(rows, "")
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Stats returns item counts per derived tab.
func (s *QueueService) Stats(ctx context.Context) (*models.QueueStats, error) {
	stats := &models.QueueStats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'
				OR (status = 'snoozed' AND snoozed_until <= now())),
			COUNT(*) FILTER (WHERE status = 'in_progress'),
			COUNT(*) FILTER (WHERE status = 'snoozed' AND snoozed_until > now()),
			COUNT(*) FILTER (WHERE status IN ('executed', 'rejected')),
			COUNT(*) FILTER (WHERE status = 'errored')
		FROM queue_items`).
		Scan(&stats.ToProcess, &stats.InProgress, &stats.Snoozed, &stats.History, &stats.Errors)
	if err != nil {
		return nil, fmt.Errorf("failed to compute queue stats: %w", err)
	}
	return stats, nil
}

// Approve executes the chosen option for an item: the item transitions to
// in_progress, the planner and executor run, and on success the item is
// marked executed with a live undo token. The verdict is recorded as
// calibration feedback either way the human chose.
func (s *QueueService) Approve(ctx context.Context, id, optionID string) (*models.QueueItem, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	option, err := findOption(item, optionID)
	if err != nil {
		return nil, err
	}
	if item.Analysis == nil || item.Analysis.Final == nil {
		return nil, NewValidationError("analysis", "item has no analysis to approve")
	}

	if err := s.transition(ctx, id, item.Status, models.QueueInProgress); err != nil {
		return nil, err
	}

	hyp := *item.Analysis.Final
	hyp.Action = option.Action

	plan, err := s.planner.Build(item.Event, &hyp)
	if err != nil {
		s.markErrored(ctx, id, err)
		return nil, fmt.Errorf("failed to plan approved option: %w", err)
	}

	report, executed, err := s.executor.Execute(ctx, plan)
	if err != nil {
		s.markErrored(ctx, id, err)
		return nil, fmt.Errorf("failed to execute approved plan: %w", err)
	}

	token := s.undo.Register(plan.PlanID, executed)
	expires := s.now().Add(s.cfg.UndoWindow())
	_, err = s.db.ExecContext(ctx, `
		UPDATE queue_items
		SET status = 'executed', executed_at = now(), undo_token = $2,
		    undo_expires_at = $3, last_error = NULL, updated_at = now()
		WHERE id = $1`, id, token, expires)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize approved item: %w", err)
	}

	s.recordVerdict(ctx, item, approveVerdict(option))
	s.publish(bus.KindQueueApproved, id, bus.QueuePayload{
		ItemID: id,
		Status: string(models.QueueExecuted),
		Option: option.ID,
	})
	s.logger.Info("Item approved and executed",
		"item_id", id, "option", option.ID, "plan_id", report.PlanID)
	return s.Get(ctx, id)
}

// Reject terminally dismisses an item and records the disagreement.
func (s *QueueService) Reject(ctx context.Context, id, reason string) (*models.QueueItem, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, id, item.Status, models.QueueRejected); err != nil {
		return nil, err
	}

	s.recordVerdict(ctx, item, models.VerdictReject)
	s.publish(bus.KindQueueRejected, id, bus.QueuePayload{
		ItemID: id,
		Status: string(models.QueueRejected),
		Reason: reason,
	})
	return s.Get(ctx, id)
}

// Snooze parks an item until the given time.
func (s *QueueService) Snooze(ctx context.Context, id string, until time.Time) (*models.QueueItem, error) {
	if !until.After(s.now()) {
		return nil, NewValidationError("until", "must be in the future")
	}
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status != models.QueuePending && item.Status != models.QueueSnoozed {
		return nil, fmt.Errorf("cannot snooze item in status %s: %w", item.Status, ErrConcurrentModification)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE queue_items
		SET status = 'snoozed', snoozed_until = $2, updated_at = now()
		WHERE id = $1`, id, until)
	if err != nil {
		return nil, fmt.Errorf("failed to snooze item: %w", err)
	}
	return s.Get(ctx, id)
}

// CancelSnooze returns a snoozed item to the to-process tab immediately.
func (s *QueueService) CancelSnooze(ctx context.Context, id string) (*models.QueueItem, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE queue_items
		SET status = 'pending', snoozed_until = NULL, updated_at = now()
		WHERE id = $1 AND status = 'snoozed'`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel snooze: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read snooze result: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("item %s is not snoozed: %w", id, ErrConcurrentModification)
	}
	return s.Get(ctx, id)
}

// Undo rolls back an executed item while its undo token is live, then
// returns it to the to-process tab.
func (s *QueueService) Undo(ctx context.Context, id string) (*models.QueueItem, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status != models.QueueExecuted || item.UndoToken == "" {
		return nil, fmt.Errorf("item %s has nothing to undo: %w", id, ErrInvalidInput)
	}

	if err := s.undo.Undo(ctx, item.UndoToken); err != nil {
		return nil, fmt.Errorf("failed to undo item %s: %w", id, err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE queue_items
		SET status = 'pending', undo_token = NULL, undo_expires_at = NULL,
		    executed_at = NULL, updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to reset undone item: %w", err)
	}

	s.publish(bus.KindQueueUndone, id, bus.QueuePayload{ItemID: id, Status: string(models.QueuePending)})
	s.logger.Info("Item undone", "item_id", id)
	return s.Get(ctx, id)
}

// ReleaseDueSnoozes returns snoozed items whose time elapsed to pending.
// Called by the due-scanner.
func (s *QueueService) ReleaseDueSnoozes(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE queue_items
		SET status = 'pending', snoozed_until = NULL, updated_at = now()
		WHERE status = 'snoozed' AND snoozed_until <= now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to release due snoozes: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read snooze scan result: %w", err)
	}
	return int(affected), nil
}

// ExpireUndoTokens clears undo tokens past the undo window.
func (s *QueueService) ExpireUndoTokens(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE queue_items
		SET undo_token = NULL, undo_expires_at = NULL, updated_at = now()
		WHERE undo_expires_at IS NOT NULL AND undo_expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to expire undo tokens: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read undo expiry result: %w", err)
	}
	return int(affected), nil
}

// RecoverStalledApprovals marks approvals stuck in in_progress longer than
// the threshold as errored. Run at startup and by the orphan scanner.
func (s *QueueService) RecoverStalledApprovals(ctx context.Context, olderThan time.Duration) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE queue_items
		SET status = 'errored', last_error = 'approval orphaned', updated_at = now()
		WHERE status = 'in_progress' AND updated_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("failed to recover stalled approvals: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read recovery result: %w", err)
	}
	if affected > 0 {
		s.logger.Warn("Recovered stalled approvals", "count", affected)
	}
	return int(affected), nil
}

// transition moves an item between statuses with an optimistic guard on the
// status it was loaded at.
func (s *QueueService) transition(ctx context.Context, id string, from, to models.QueueStatus) error {
	switch from {
	case models.QueuePending, models.QueueSnoozed, models.QueueErrored:
	default:
		return fmt.Errorf("item %s is %s: %w", id, from, ErrConcurrentModification)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE queue_items SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("failed to transition item %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read transition result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("item %s changed concurrently: %w", id, ErrConcurrentModification)
	}
	return nil
}

func (s *QueueService) markErrored(ctx context.Context, id string, cause error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE queue_items
		SET status = 'errored', last_error = $2, updated_at = now()
		WHERE id = $1`, id, cause.Error())
	if err != nil {
		s.logger.Error("Failed to mark item errored", "item_id", id, "error", err)
	}
}

// recordVerdict files the human decision as calibration feedback. Feedback
// failures are logged, never surfaced: the decision itself already stuck.
func (s *QueueService) recordVerdict(ctx context.Context, item *models.QueueItem, verdict models.Verdict) {
	if s.feedback == nil || item.Analysis == nil || item.Analysis.Final == nil {
		return
	}
	record := &models.FeedbackRecord{
		ItemID:              item.ID,
		Source:              item.Source,
		ActionClass:         item.Analysis.Final.Action,
		Verdict:             verdict,
		SuggestedConfidence: item.Analysis.Final.Overall,
		Analysis:            item.Analysis,
	}
	sender := ""
	if item.Event != nil {
		sender = item.Event.Sender()
	}
	if err := s.feedback.Record(ctx, record, sender); err != nil {
		s.logger.Warn("Failed to record feedback", "item_id", item.ID, "error", err)
	}
}

func (s *QueueService) publish(kind bus.Kind, itemID string, payload bus.QueuePayload) {
	if s.eventBus != nil {
		s.eventBus.Publish(kind, itemID, payload)
	}
}

func approveVerdict(option *models.QueueOption) models.Verdict {
	if option.Recommended {
		return models.VerdictApproveAsSuggested
	}
	return models.VerdictApproveOtherOption
}

func findOption(item *models.QueueItem, optionID string) (*models.QueueOption, error) {
	for i := range item.Options {
		if item.Options[i].ID == optionID {
			return &item.Options[i], nil
		}
	}
	return nil, NewValidationError("option", fmt.Sprintf("unknown option %q", optionID))
}

// buildOptions derives the selectable dispositions. The analyzed action is
// flagged recommended; the remaining standard dispositions ride along so the
// user can always choose differently.
func buildOptions(analysis *models.AnalysisResult) []models.QueueOption {
	recommended := models.ActionClass("")
	if analysis != nil && analysis.Final != nil {
		recommended = analysis.Final.Action
	}

	classes := []models.ActionClass{
		models.ActionArchive, models.ActionFlag, models.ActionReply,
		models.ActionSnooze, models.ActionDelete, models.ActionNone,
	}

	var options []models.QueueOption
	appendOption := func(class models.ActionClass, isRecommended bool) {
		options = append(options, models.QueueOption{
			ID:          string(class),
			Label:       optionLabel(class),
			Action:      class,
			Recommended: isRecommended,
		})
	}

	if recommended != "" && recommended != models.ActionQueueForReview {
		appendOption(recommended, true)
	}
	for _, class := range classes {
		if class == recommended {
			continue
		}
		appendOption(class, false)
	}
	return options
}

func optionLabel(class models.ActionClass) string {
	label := strings.ReplaceAll(string(class), "_", " ")
	if label == "" {
		return label
	}
	return strings.ToUpper(label[:1]) + label[1:]
}

const queueItemColumns = `
	SELECT id, source, source_id, event_id, event, analysis, options, status,
	       snoozed_until, undo_token, undo_expires_at, last_error,
	       created_at, updated_at, executed_at
	FROM queue_items`

// rowScanner lets scanItem work for both QueryRow and Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *QueueService) scanItem(row rowScanner, ref string) (*models.QueueItem, error) {
	var (
		item          models.QueueItem
		eventJSON     []byte
		analysisJSON  []byte
		optionsJSON   []byte
		snoozedUntil  sql.NullTime
		undoToken     sql.NullString
		undoExpiresAt sql.NullTime
		lastError     sql.NullString
		executedAt    sql.NullTime
	)
	err := row.Scan(&item.ID, &item.Source, &item.SourceID, &item.EventID,
		&eventJSON, &analysisJSON, &optionsJSON, &item.Status,
		&snoozedUntil, &undoToken, &undoExpiresAt, &lastError,
		&item.CreatedAt, &item.UpdatedAt, &executedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("queue item %s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan queue item: %w", err)
	}

	if len(eventJSON) > 0 {
		if err := json.Unmarshal(eventJSON, &item.Event); err != nil {
			return nil, fmt.Errorf("failed to decode item event: %w", err)
		}
	}
	if len(analysisJSON) > 0 {
		if err := json.Unmarshal(analysisJSON, &item.Analysis); err != nil {
			return nil, fmt.Errorf("failed to decode item analysis: %w", err)
		}
	}
	if len(optionsJSON) > 0 {
		if err := json.Unmarshal(optionsJSON, &item.Options); err != nil {
			return nil, fmt.Errorf("failed to decode item options: %w", err)
		}
	}
	if snoozedUntil.Valid {
		item.SnoozedUntil = &snoozedUntil.Time
	}
	item.UndoToken = undoToken.String
	if undoExpiresAt.Valid {
		item.UndoExpiresAt = &undoExpiresAt.Time
	}
	item.LastError = lastError.String
	if executedAt.Valid {
		item.ExecutedAt = &executedAt.Time
	}
	return &item, nil
}

func tabPredicate(tab models.QueueTab) (string, error) {
	switch tab {
	case models.TabToProcess:
		return `(status = 'pending' OR (status = 'snoozed' AND snoozed_until <= now()))`, nil
	case models.TabInProgress:
		return `status = 'in_progress'`, nil
	case models.TabSnoozed:
		return `status = 'snoozed' AND snoozed_until > now()`, nil
	case models.TabHistory:
		return `status IN ('executed', 'rejected')`, nil
	case models.TabErrors:
		return `status = 'errored'`, nil
	default:
		return "", NewValidationError("tab", fmt.Sprintf("unknown tab %q", tab))
	}
}

func marshalItemBlobs(item *models.QueueItem) (eventJSON, analysisJSON, optionsJSON []byte, err error) {
	if item.Event != nil {
		if eventJSON, err = json.Marshal(item.Event); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal item event: %w", err)
		}
	}
	if item.Analysis != nil {
		if analysisJSON, err = json.Marshal(item.Analysis); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal item analysis: %w", err)
		}
	}
	if len(item.Options) > 0 {
		if optionsJSON, err = json.Marshal(item.Options); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal item options: %w", err)
		}
	}
	return eventJSON, analysisJSON, optionsJSON, nil
}
