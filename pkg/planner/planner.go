// Package planner turns a terminal analysis hypothesis into an executable
// action plan: a DAG of planned actions with per-action risk and a derived
// execution mode.
package planner

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/majordome-ai/majordome/pkg/bus"
	"github.com/majordome-ai/majordome/pkg/models"
)

// ErrCycle means a plan's depends_on edges do not form a partial order.
var ErrCycle = errors.New("action plan contains a cycle")

// ErrUnknownDependency means an action depends on an id not in the plan.
var ErrUnknownDependency = errors.New("action depends on unknown action")

// actionProfile is the fixed risk table entry for one action kind.
type actionProfile struct {
	risk       float64
	reversible bool
	idempotent bool
}

// riskTable fixes risk per action kind. Delete scores below full
// irreversibility because source items land in a recoverable trash;
// send_reply is the one action that cannot be taken back.
var riskTable = map[models.ActionKind]actionProfile{
	models.ActionKindCreateNote:     {risk: 0.05, reversible: true, idempotent: true},
	models.ActionKindEnrichNote:     {risk: 0.05, reversible: true},
	models.ActionKindCreateTask:     {risk: 0.1, reversible: true, idempotent: true},
	models.ActionKindCreateCalendar: {risk: 0.2, reversible: true, idempotent: true},
	models.ActionKindArchive:        {risk: 0.1, reversible: true, idempotent: true},
	models.ActionKindDelete:         {risk: 0.7, reversible: true, idempotent: true},
	models.ActionKindMove:           {risk: 0.2, reversible: true, idempotent: true},
	models.ActionKindFlag:           {risk: 0.05, reversible: true, idempotent: true},
	models.ActionKindSnooze:         {risk: 0.05, reversible: true, idempotent: true},
	models.ActionKindDraftReply:     {risk: 0.1, reversible: true},
	models.ActionKindSendReply:      {risk: 0.9, reversible: false},
	models.ActionKindQueueForReview: {risk: 0, reversible: true, idempotent: true},
}

// Profile returns the fixed risk entry for a kind. Unknown kinds get the
// most conservative profile.
func Profile(kind models.ActionKind) (float64, bool, bool) {
	p, ok := riskTable[kind]
	if !ok {
		return 1.0, false, false
	}
	return p.risk, p.reversible, p.idempotent
}

// earlyStopAutoOverall is the confidence floor for auto-executing an
// early-stop delete despite delete's risk score.
const earlyStopAutoOverall = 0.95

// Planner builds action plans from terminal hypotheses.
type Planner struct {
	bus    *bus.Bus
	logger *slog.Logger
	now    func() time.Time
}

// NewPlanner creates a planner. The bus may be nil.
func NewPlanner(eventBus *bus.Bus, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		bus:    eventBus,
		logger: logger.With("component", "planner"),
		now:    time.Now,
	}
}

// Build converts the terminal hypothesis into a plan. The returned actions
// are topologically sorted; dependencies always precede their dependents.
func (p *Planner) Build(event *models.PerceivedEvent, hyp *models.Hypothesis) (*models.ActionPlan, error) {
	b := &planBuilder{event: event}

	for _, ex := range hyp.Extractions {
		b.addExtraction(ex)
	}
	b.addSourceAction(hyp.Action)

	plan := &models.ActionPlan{
		PlanID:    uuid.New().String(),
		EventID:   event.EventID,
		Overall:   hyp.Overall,
		CreatedAt: p.now(),
	}

	if hyp.Action == models.ActionQueueForReview {
		// Nothing executes: the built actions ride along as payload so the
		// reviewer sees what approval would do.
		plan.IntendedEffects = b.actions
		plan.Actions = []models.PlannedAction{newAction("act-1", models.ActionKindQueueForReview, map[string]any{
			"event_id": event.EventID,
			"reason":   hyp.Critique,
		}, nil)}
	} else {
		plan.Actions = b.actions
	}

	sorted, err := TopoSort(plan.Actions)
	if err != nil {
		return nil, fmt.Errorf("failed to order plan for event %s: %w", event.EventID, err)
	}
	plan.Actions = sorted

	plan.MaxRisk = maxRisk(plan.Actions)
	plan.Mode = deriveMode(plan.Overall, plan.MaxRisk)
	if hyp.EarlyStop && hyp.Action == models.ActionDelete && hyp.Overall >= earlyStopAutoOverall {
		// The one exception to the risk gate: an early-stop delete is the
		// near-certain junk verdict, and it executes without approval.
		plan.Mode = models.ModeAuto
	}

	if p.bus != nil {
		p.bus.Publish(bus.KindPlanBuilt, event.EventID, bus.PlanBuiltPayload{
			PlanID:  plan.PlanID,
			Mode:    string(plan.Mode),
			Actions: len(plan.Actions),
			MaxRisk: plan.MaxRisk,
		})
	}
	p.logger.Info("Built action plan",
		"event_id", event.EventID,
		"plan_id", plan.PlanID,
		"actions", len(plan.Actions),
		"mode", plan.Mode,
		"max_risk", plan.MaxRisk)
	return plan, nil
}

// deriveMode applies the execution-mode matrix.
func deriveMode(overall, maxRisk float64) models.PlanMode {
	switch {
	case overall >= 0.90 && maxRisk <= 0.1:
		return models.ModeAuto
	case overall >= 0.75 && maxRisk <= 0.3:
		return models.ModeReview
	default:
		return models.ModeManual
	}
}

func maxRisk(actions []models.PlannedAction) float64 {
	max := 0.0
	for _, a := range actions {
		if a.Risk > max {
			max = a.Risk
		}
	}
	return max
}

// planBuilder accumulates actions with sequential ids so dependency edges
// stay readable in traces.
type planBuilder struct {
	event *models.PerceivedEvent
	// persistenceIDs collects note/task/calendar actions the source-side
	// action must wait for.
	persistenceIDs []string
	actions        []models.PlannedAction
}

func (b *planBuilder) nextID() string {
	return fmt.Sprintf("act-%d", len(b.actions)+1)
}

func (b *planBuilder) add(kind models.ActionKind, inputs map[string]any, deps []string) string {
	id := b.nextID()
	b.actions = append(b.actions, newAction(id, kind, inputs, deps))
	return id
}

func newAction(id string, kind models.ActionKind, inputs map[string]any, deps []string) models.PlannedAction {
	risk, reversible, idempotent := Profile(kind)
	return models.PlannedAction{
		ID:         id,
		Kind:       kind,
		Inputs:     inputs,
		Risk:       risk,
		Reversible: reversible,
		Idempotent: idempotent,
		DependsOn:  deps,
	}
}

// addExtraction plans the note write plus any side effects. Side effects
// depend on the note write so a task never references a note that failed to
// materialize.
func (b *planBuilder) addExtraction(ex models.Extraction) {
	kind := models.ActionKindEnrichNote
	if ex.WriteMode == models.WriteCreate {
		kind = models.ActionKindCreateNote
	}

	target := ex.TargetNote
	if target == "" {
		target = ex.MemoryHint.TargetNote
	}
	section := ex.TargetSection
	if section == "" {
		section = ex.MemoryHint.TargetSection
	}

	noteID := b.add(kind, map[string]any{
		"event_id":    b.event.EventID,
		"target_note": target,
		"section":     section,
		"summary":     ex.PayloadSummary,
		"format":      string(ex.MemoryHint.Format),
		"importance":  string(ex.Importance),
		"type":        string(ex.Type),
	}, nil)
	b.persistenceIDs = append(b.persistenceIDs, noteID)

	if ex.SideEffects.Task {
		id := b.add(models.ActionKindCreateTask, map[string]any{
			"event_id": b.event.EventID,
			"summary":  ex.PayloadSummary,
			"due_date": ex.SideEffects.Date,
		}, []string{noteID})
		b.persistenceIDs = append(b.persistenceIDs, id)
	}
	if ex.SideEffects.Calendar {
		id := b.add(models.ActionKindCreateCalendar, map[string]any{
			"event_id": b.event.EventID,
			"summary":  ex.PayloadSummary,
			"date":     ex.SideEffects.Date,
			"time":     ex.SideEffects.Time,
		}, []string{noteID})
		b.persistenceIDs = append(b.persistenceIDs, id)
	}
}

// addSourceAction plans the single source-side disposition. It depends on
// every persistence action: the source item must not disappear before its
// contents are saved.
func (b *planBuilder) addSourceAction(class models.ActionClass) {
	var kind models.ActionKind
	switch class {
	case models.ActionArchive:
		kind = models.ActionKindArchive
	case models.ActionDelete:
		kind = models.ActionKindDelete
	case models.ActionFlag:
		kind = models.ActionKindFlag
	case models.ActionReply:
		kind = models.ActionKindDraftReply
	case models.ActionSnooze:
		kind = models.ActionKindSnooze
	default:
		// none and queue_for_review plan no source-side action here.
		return
	}

	b.add(kind, map[string]any{
		"event_id":  b.event.EventID,
		"source":    string(b.event.Source),
		"source_id": b.event.SourceID,
	}, append([]string(nil), b.persistenceIDs...))
}

// TopoSort returns the actions in dependency order via Kahn's algorithm,
// preserving input order among ready actions so plans stay deterministic.
func TopoSort(actions []models.PlannedAction) ([]models.PlannedAction, error) {
	byID := make(map[string]models.PlannedAction, len(actions))
	indegree := make(map[string]int, len(actions))
	dependents := make(map[string][]string, len(actions))

	for _, a := range actions {
		if _, dup := byID[a.ID]; dup {
			return nil, fmt.Errorf("duplicate action id %q", a.ID)
		}
		byID[a.ID] = a
		indegree[a.ID] = 0
	}
	for _, a := range actions {
		for _, dep := range a.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("%w: %s depends on %s", ErrUnknownDependency, a.ID, dep)
			}
			indegree[a.ID]++
			dependents[dep] = append(dependents[dep], a.ID)
		}
	}

	var queue []string
	for _, a := range actions {
		if indegree[a.ID] == 0 {
			queue = append(queue, a.ID)
		}
	}

	sorted := make([]models.PlannedAction, 0, len(actions))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		sorted = append(sorted, byID[id])
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(sorted) != len(actions) {
		return nil, ErrCycle
	}
	return sorted, nil
}

// Validate checks a stored plan's DAG without reordering it.
func Validate(plan *models.ActionPlan) error {
	_, err := TopoSort(plan.Actions)
	return err
}
