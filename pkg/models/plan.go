package models

import "time"

// ActionKind is the concrete operation a planned action performs.
type ActionKind string

const (
	ActionKindArchive        ActionKind = "archive"
	ActionKindDelete         ActionKind = "delete"
	ActionKindMove           ActionKind = "move"
	ActionKindDraftReply     ActionKind = "draft_reply"
	ActionKindSendReply      ActionKind = "send_reply"
	ActionKindCreateTask     ActionKind = "create_task"
	ActionKindCreateCalendar ActionKind = "create_calendar_event"
	ActionKindEnrichNote     ActionKind = "enrich_note"
	ActionKindCreateNote     ActionKind = "create_note"
	ActionKindQueueForReview ActionKind = "queue_for_review"
	ActionKindFlag           ActionKind = "flag"
	ActionKindSnooze         ActionKind = "snooze"
)

// PlanMode is the execution mode derived from confidence and risk.
type PlanMode string

const (
	ModeAuto   PlanMode = "auto"   // execute without asking
	ModeReview PlanMode = "review" // queue for one-click approval
	ModeManual PlanMode = "manual" // queue, user must choose
)

// PlannedAction is one node of an action plan DAG. Inputs reference the
// event and extractions rather than copying them.
type PlannedAction struct {
	ID         string         `json:"id"`
	Kind       ActionKind     `json:"kind"`
	Inputs     map[string]any `json:"inputs,omitempty"`
	Risk       float64        `json:"risk"`
	Reversible bool           `json:"reversible"`
	Idempotent bool           `json:"idempotent,omitempty"`
	DependsOn  []string       `json:"depends_on,omitempty"`
}

// ActionPlan is an acyclic set of planned actions with a derived execution
// mode. IntendedEffects is populated only for queue_for_review plans: the
// actions that would run on approval, carried as payload, not executed.
type ActionPlan struct {
	PlanID          string          `json:"plan_id"`
	EventID         string          `json:"event_id"`
	Actions         []PlannedAction `json:"actions"`
	Mode            PlanMode        `json:"mode"`
	MaxRisk         float64         `json:"max_risk"`
	Overall         float64         `json:"overall"`
	IntendedEffects []PlannedAction `json:"intended_effects,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// PlanStatus is the terminal disposition of an executed plan.
type PlanStatus string

const (
	PlanExecuted            PlanStatus = "executed"
	PlanRolledBack          PlanStatus = "rolled_back"
	PlanPartiallyRolledBack PlanStatus = "partially_rolled_back"
	PlanFailed              PlanStatus = "failed"
)

// ActionOutcome records one action's execution and, when applicable, its
// rollback result.
type ActionOutcome struct {
	ActionID   string     `json:"action_id"`
	Kind       ActionKind `json:"kind"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	RolledBack bool       `json:"rolled_back,omitempty"`
	RollbackOK bool       `json:"rollback_ok,omitempty"`
	DurationMS int64      `json:"duration_ms,omitempty"`
}

// ExecutionReport is the executor's account of a plan run.
type ExecutionReport struct {
	PlanID   string          `json:"plan_id"`
	Status   PlanStatus      `json:"status"`
	Outcomes []ActionOutcome `json:"outcomes"`
	Error    string          `json:"error,omitempty"`
}
