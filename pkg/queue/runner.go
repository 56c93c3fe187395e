package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/majordome-ai/majordome/pkg/actions"
	"github.com/majordome-ai/majordome/pkg/models"
	"github.com/majordome-ai/majordome/pkg/planner"
	"github.com/majordome-ai/majordome/pkg/services"
	"github.com/majordome-ai/majordome/pkg/valet"
)

// Analyzer is the orchestration surface the runner drives.
type Analyzer interface {
	Analyze(ctx context.Context, event *models.PerceivedEvent, opts valet.AnalyzeOptions) (*models.AnalysisResult, error)
}

// AnalysisRunner is the event pipeline behind each worker: analyze the
// event, build the plan, then execute it directly in auto mode or enqueue it
// for approval in review and manual modes.
type AnalysisRunner struct {
	analyzer Analyzer
	planner  *planner.Planner
	executor *actions.Executor
	undo     *actions.UndoRegistry
	queue    *services.QueueService
	logger   *slog.Logger
}

// NewAnalysisRunner wires the pipeline.
func NewAnalysisRunner(analyzer Analyzer, plannerSvc *planner.Planner, executor *actions.Executor,
	undo *actions.UndoRegistry, queue *services.QueueService, logger *slog.Logger) *AnalysisRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalysisRunner{
		analyzer: analyzer,
		planner:  plannerSvc,
		executor: executor,
		undo:     undo,
		queue:    queue,
		logger:   logger.With("component", "analysis_runner"),
	}
}

// Execute runs one claimed event through the full pipeline.
func (r *AnalysisRunner) Execute(ctx context.Context, claim *Claim) error {
	event := claim.Event

	result, err := r.analyzer.Analyze(ctx, event, valet.AnalyzeOptions{ForceTier: claim.ForceTier})
	if err != nil {
		return fmt.Errorf("failed to analyze event %s: %w", event.EventID, err)
	}
	if result.Final == nil {
		return fmt.Errorf("analysis of event %s produced no hypothesis", event.EventID)
	}

	plan, err := r.planner.Build(event, result.Final)
	if err != nil {
		return fmt.Errorf("failed to plan event %s: %w", event.EventID, err)
	}

	// queue_for_review is always a human decision, whatever the derived
	// mode says.
	if plan.Mode == models.ModeAuto && result.Final.Action != models.ActionQueueForReview {
		return r.autoExecute(ctx, event, plan)
	}

	item, err := r.queue.Enqueue(ctx, event, result)
	if err != nil {
		return fmt.Errorf("failed to enqueue event %s for approval: %w", event.EventID, err)
	}
	r.logger.Info("Event queued for approval",
		"event_id", event.EventID,
		"item_id", item.ID,
		"mode", plan.Mode,
		"action", result.Final.Action,
		"overall", result.Final.Overall)
	return nil
}

func (r *AnalysisRunner) autoExecute(ctx context.Context, event *models.PerceivedEvent, plan *models.ActionPlan) error {
	report, executed, err := r.executor.Execute(ctx, plan)
	if err != nil {
		status := models.PlanStatus("")
		if report != nil {
			status = report.Status
		}
		return fmt.Errorf("failed to execute plan %s (status %s): %w", plan.PlanID, status, err)
	}

	// Compensation handles stay alive for the undo window so the effect can
	// still be taken back.
	token := r.undo.Register(plan.PlanID, executed)
	r.logger.Info("Plan auto-executed",
		"event_id", event.EventID,
		"plan_id", plan.PlanID,
		"actions", len(executed),
		"undo_token", token)
	return nil
}
