package actions

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/majordome-ai/majordome/pkg/bus"
	"github.com/majordome-ai/majordome/pkg/config"
	"github.com/majordome-ai/majordome/pkg/models"
	"github.com/majordome-ai/majordome/pkg/planner"
)

// Executed pairs a completed action with its compensation handle. Kept in
// completion order; rollback walks it in reverse.
type Executed struct {
	Action models.PlannedAction
	Handle CompensationHandle
}

// Executor runs plans: independent actions in parallel up to the per-plan
// cap, dependents only after their dependencies, rollback of completed work
// on any failure.
type Executor struct {
	registry *Registry
	config   *config.ExecutorConfig
	bus      *bus.Bus
	logger   *slog.Logger
}

// NewExecutor creates an executor. The bus may be nil.
func NewExecutor(registry *Registry, cfg *config.ExecutorConfig, eventBus *bus.Bus, logger *slog.Logger) *Executor {
	if cfg == nil {
		cfg = config.DefaultExecutorConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry: registry,
		config:   cfg,
		bus:      eventBus,
		logger:   logger.With("component", "executor"),
	}
}

// Execute runs the plan. On success the returned Executed slice holds every
// compensation handle, in completion order, for a later undo. On failure
// completed actions are rolled back in reverse order and the report says how
// far that got; the handles are not returned because they are spent.
func (e *Executor) Execute(ctx context.Context, plan *models.ActionPlan) (*models.ExecutionReport, []Executed, error) {
	if err := planner.Validate(plan); err != nil {
		return nil, nil, fmt.Errorf("invalid plan %s: %w", plan.PlanID, err)
	}

	report := &models.ExecutionReport{PlanID: plan.PlanID, Status: models.PlanExecuted}

	run := &planRun{
		executor: e,
		plan:     plan,
		pending:  make(map[string]int, len(plan.Actions)),
		byID:     make(map[string]models.PlannedAction, len(plan.Actions)),
		outcomes: make(map[string]*models.ActionOutcome, len(plan.Actions)),
	}
	for _, a := range plan.Actions {
		run.byID[a.ID] = a
		run.pending[a.ID] = len(a.DependsOn)
	}

	execErr := run.execute(ctx)

	if execErr != nil {
		report.Error = execErr.Error()
		report.Status = models.PlanRolledBack
		if !e.rollback(run.executed, run.outcomes) {
			report.Status = models.PlanPartiallyRolledBack
		}
	}

	for _, a := range plan.Actions {
		outcome := run.outcomes[a.ID]
		if outcome == nil {
			outcome = &models.ActionOutcome{ActionID: a.ID, Kind: a.Kind, Status: "skipped"}
		}
		report.Outcomes = append(report.Outcomes, *outcome)
	}

	if execErr != nil {
		return report, nil, execErr
	}
	return report, run.executed, nil
}

// rollback compensates completed actions in reverse completion order,
// best-effort, and reports whether every rollback succeeded. Rollbacks get
// a fresh deadline: the plan context may already be cancelled.
func (e *Executor) rollback(executed []Executed, outcomes map[string]*models.ActionOutcome) bool {
	allOK := true
	for i := len(executed) - 1; i >= 0; i-- {
		step := executed[i]
		ctx, cancel := context.WithTimeout(context.Background(), e.config.ActionTimeout())
		err := step.Handle.Rollback(ctx)
		cancel()

		outcome := outcomes[step.Action.ID]
		outcome.RolledBack = true
		outcome.RollbackOK = err == nil
		if err != nil {
			allOK = false
			e.logger.Error("Rollback failed",
				"action_id", step.Action.ID, "kind", step.Action.Kind, "error", err)
		}
	}
	return allOK
}

// planRun is the mutable state of one plan execution.
type planRun struct {
	executor *Executor
	plan     *models.ActionPlan

	mu       sync.Mutex
	pending  map[string]int // action id -> unmet dependency count
	byID     map[string]models.PlannedAction
	executed []Executed
	outcomes map[string]*models.ActionOutcome
}

// execute schedules actions wave by wave: everything whose dependencies are
// met runs concurrently up to the parallelism cap, then the next wave. A
// failed wave stops scheduling.
func (r *planRun) execute(ctx context.Context) error {
	remaining := len(r.pending)
	for remaining > 0 {
		ready := r.takeReady()
		if len(ready) == 0 {
			return fmt.Errorf("plan %s stalled with %d actions blocked", r.plan.PlanID, remaining)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.executor.config.MaxParallelPerPlan)
		for _, action := range ready {
			g.Go(func() error { return r.runAction(gctx, action) })
		}
		if err := g.Wait(); err != nil {
			return err
		}
		remaining -= len(ready)
	}
	return nil
}

// takeReady removes and returns every action with no unmet dependencies, in
// plan order.
func (r *planRun) takeReady() []models.PlannedAction {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ready []models.PlannedAction
	for _, a := range r.plan.Actions {
		if n, ok := r.pending[a.ID]; ok && n == 0 {
			ready = append(ready, a)
			delete(r.pending, a.ID)
		}
	}
	return ready
}

func (r *planRun) runAction(ctx context.Context, action models.PlannedAction) error {
	e := r.executor
	e.publish(bus.KindActionStarted, bus.ActionPayload{
		PlanID: r.plan.PlanID, ActionID: action.ID, Kind: string(action.Kind),
	})

	start := time.Now()
	handle, err := e.runWithRetry(ctx, action)
	outcome := &models.ActionOutcome{
		ActionID:   action.ID,
		Kind:       action.Kind,
		Status:     "completed",
		DurationMS: time.Since(start).Milliseconds(),
	}

	if err != nil {
		outcome.Status = "failed"
		outcome.Error = err.Error()
		r.mu.Lock()
		r.outcomes[action.ID] = outcome
		r.mu.Unlock()
		e.publish(bus.KindActionFailed, bus.ActionPayload{
			PlanID: r.plan.PlanID, ActionID: action.ID, Kind: string(action.Kind), Error: err.Error(),
		})
		return fmt.Errorf("action %s (%s): %w", action.ID, action.Kind, err)
	}

	r.mu.Lock()
	r.outcomes[action.ID] = outcome
	r.executed = append(r.executed, Executed{Action: action, Handle: handle})
	for _, other := range r.plan.Actions {
		for _, dep := range other.DependsOn {
			if dep == action.ID {
				if n, ok := r.pending[other.ID]; ok {
					r.pending[other.ID] = n - 1
				}
			}
		}
	}
	r.mu.Unlock()

	e.publish(bus.KindActionCompleted, bus.ActionPayload{
		PlanID: r.plan.PlanID, ActionID: action.ID, Kind: string(action.Kind),
	})
	return nil
}

// runWithRetry executes the action under its individual timeout. Only
// idempotent actions get a second attempt.
func (e *Executor) runWithRetry(ctx context.Context, action models.PlannedAction) (CompensationHandle, error) {
	handler, err := e.registry.Resolve(action.Kind)
	if err != nil {
		return nil, err
	}

	attempts := 1
	if action.Idempotent {
		attempts = 2
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		actionCtx, cancel := context.WithTimeout(ctx, e.config.ActionTimeout())
		handle, err := handler.Execute(actionCtx, action)
		cancel()
		if err == nil {
			if handle == nil {
				handle = NoCompensation
			}
			return handle, nil
		}
		lastErr = err
		if attempt+1 < attempts {
			e.logger.Warn("Action failed, retrying",
				"action_id", action.ID, "kind", action.Kind, "error", err)
		}
	}
	return nil, lastErr
}

func (e *Executor) publish(kind bus.Kind, payload bus.ActionPayload) {
	if e.bus != nil {
		e.bus.Publish(kind, payload.PlanID, payload)
	}
}
