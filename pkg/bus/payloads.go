package bus

// EventIngestedPayload accompanies event_ingested events.
type EventIngestedPayload struct {
	Source   string `json:"source"`
	SourceID string `json:"source_id"`
	ThreadID string `json:"thread_id,omitempty"`
}

// StageCompletedPayload accompanies stage_completed events.
type StageCompletedPayload struct {
	Stage      string  `json:"stage"`
	Index      int     `json:"i"`
	Confidence float64 `json:"confidence"`
	TokensUsed int64   `json:"tokens_used"`
	DurationMS int64   `json:"duration_ms"`
}

// AnalysisCompletedPayload accompanies analysis_completed events.
type AnalysisCompletedPayload struct {
	Action         string  `json:"action"`
	Overall        float64 `json:"overall"`
	StagesExecuted int     `json:"stages_executed"`
	FallbackUsed   bool    `json:"fallback_used,omitempty"`
}

// AnalysisFailedPayload accompanies analysis_failed events.
type AnalysisFailedPayload struct {
	Stage string `json:"stage,omitempty"`
	Error string `json:"error"`
}

// PlanBuiltPayload accompanies plan_built events.
type PlanBuiltPayload struct {
	PlanID  string  `json:"plan_id"`
	Mode    string  `json:"mode"`
	Actions int     `json:"actions"`
	MaxRisk float64 `json:"max_risk"`
}

// ActionPayload accompanies action_started, action_completed, and
// action_failed events.
type ActionPayload struct {
	PlanID   string `json:"plan_id"`
	ActionID string `json:"action_id"`
	Kind     string `json:"kind"`
	Error    string `json:"error,omitempty"`
}

// QueuePayload accompanies queue_* events.
type QueuePayload struct {
	ItemID string `json:"item_id"`
	Status string `json:"status,omitempty"`
	Option string `json:"option,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// CalibrationUpdatedPayload accompanies calibration_updated events.
type CalibrationUpdatedPayload struct {
	Source      string  `json:"source"`
	ActionClass string  `json:"action_class"`
	Bucket      float64 `json:"bucket"`
	Agreement   float64 `json:"agreement"`
	Samples     int     `json:"samples"`
}
