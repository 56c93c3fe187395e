package models

// StageID identifies one of the four analysis stages.
type StageID string

const (
	StageV1 StageID = "v1" // silent observer: fast, no context
	StageV2 StageID = "v2" // archivist: fast, with context
	StageV3 StageID = "v3" // critic
	StageV4 StageID = "v4" // arbiter: strong, terminal
)

// Tier is the logical model tier a stage runs at.
type Tier string

const (
	TierFast     Tier = "fast"
	TierBalanced Tier = "balanced"
	TierStrong   Tier = "strong"
)

// ActionClass is a stage's recommended disposition for the source item.
type ActionClass string

const (
	ActionDelete         ActionClass = "delete"
	ActionArchive        ActionClass = "archive"
	ActionFlag           ActionClass = "flag"
	ActionReply          ActionClass = "reply"
	ActionSnooze         ActionClass = "snooze"
	ActionNone           ActionClass = "none"
	ActionQueueForReview ActionClass = "queue_for_review"
)

// Confidence carries the four calibrated components of a stage's
// self-assessment. Components lie in [0,1].
type Confidence struct {
	Entity       float64 `json:"entity"`
	Action       float64 `json:"action"`
	Extraction   float64 `json:"extraction"`
	Completeness float64 `json:"completeness"`
}

// Weights of the overall confidence composition. Action carries the most
// weight: it drives plan risk.
const (
	confWeightEntity       = 0.25
	confWeightAction       = 0.30
	confWeightExtraction   = 0.25
	confWeightCompleteness = 0.20
)

// Overall derives the composite confidence as the weighted mean of the four
// components. Deterministic: equal component values yield that value.
func (c Confidence) Overall() float64 {
	return confWeightEntity*c.Entity +
		confWeightAction*c.Action +
		confWeightExtraction*c.Extraction +
		confWeightCompleteness*c.Completeness
}

// ExtractionType classifies an atomic fact or intent produced by analysis.
type ExtractionType string

const (
	ExtractionFact       ExtractionType = "fact"
	ExtractionDecision   ExtractionType = "decision"
	ExtractionCommitment ExtractionType = "commitment"
	ExtractionDeadline   ExtractionType = "deadline"
	ExtractionEvent      ExtractionType = "event"
	ExtractionRelation   ExtractionType = "relation"
	ExtractionContact    ExtractionType = "contact"
	ExtractionAmount     ExtractionType = "amount"
	ExtractionReference  ExtractionType = "reference"
	ExtractionRequest    ExtractionType = "request"
)

// Importance grades an extraction.
type Importance string

const (
	ImportanceHigh   Importance = "high"
	ImportanceMedium Importance = "medium"
	ImportanceLow    Importance = "low"
)

// WriteMode says whether an extraction enriches an existing note or creates
// a new one.
type WriteMode string

const (
	WriteEnrich WriteMode = "enrich"
	WriteCreate WriteMode = "create"
)

// NoteFormat is how an extraction should be rendered into its target
// section.
type NoteFormat string

const (
	FormatBullet     NoteFormat = "bullet"
	FormatBulletDate NoteFormat = "bullet_date"
	FormatParagraph  NoteFormat = "paragraph"
	FormatTable      NoteFormat = "table"
)

// ValidationState records what later stages decided about an extraction.
type ValidationState string

const (
	ValidationOK          ValidationState = "ok"
	ValidationCorrected   ValidationState = "corrected"
	ValidationDedupIgnore ValidationState = "dedup_ignored"
)

// MemoryHint dictates where and how the knowledge store should integrate an
// extraction.
type MemoryHint struct {
	TargetNote    string     `json:"target_note,omitempty"`
	TargetSection string     `json:"target_section,omitempty"`
	Format        NoteFormat `json:"format,omitempty"`
}

// SideEffects marks the external actions an extraction implies beyond the
// note write.
type SideEffects struct {
	Task     bool   `json:"task,omitempty"`
	Calendar bool   `json:"calendar,omitempty"`
	Date     string `json:"date,omitempty"`
	Time     string `json:"time,omitempty"`
}

// Extraction is a single atomic fact or intent destined for the knowledge
// store or a side effect. Invariant: it names an existing target note or
// carries write_mode=create.
type Extraction struct {
	Type            ExtractionType  `json:"type"`
	PayloadSummary  string          `json:"payload_summary"`
	Importance      Importance      `json:"importance"`
	TargetNote      string          `json:"target_note,omitempty"`
	TargetSection   string          `json:"target_section,omitempty"`
	WriteMode       WriteMode       `json:"write_mode"`
	SideEffects     SideEffects     `json:"side_effects,omitempty"`
	MemoryHint      MemoryHint      `json:"memory_hint,omitempty"`
	ValidationState ValidationState `json:"validation_state,omitempty"`
}

// Hypothesis is the structured output of one analysis stage.
type Hypothesis struct {
	StageID          StageID      `json:"stage_id"`
	Action           ActionClass  `json:"action"`
	Extractions      []Extraction `json:"extractions,omitempty"`
	Confidence       Confidence   `json:"confidence"`
	Overall          float64      `json:"overall"`
	NotesUsed        []string     `json:"notes_used,omitempty"`
	NotesIgnored     []string     `json:"notes_ignored,omitempty"`
	Critique         string       `json:"critique,omitempty"`
	EarlyStop        bool         `json:"early_stop,omitempty"`
	EarlyStopReason  string       `json:"early_stop_reason,omitempty"`
	NeedsNextStage   bool         `json:"needs_next_stage,omitempty"`
	QuestionsForNext []string     `json:"questions_for_next,omitempty"`
	Winner           string       `json:"winner,omitempty"`
	ModelUsed        string       `json:"model_used,omitempty"`
	TokensUsed       int64        `json:"tokens_used,omitempty"`
	DurationMS       int64        `json:"duration_ms,omitempty"`
}

// StageTrace is the persisted record of one executed stage, kept with the
// analysis snapshot even when the stage failed.
type StageTrace struct {
	StageID    StageID     `json:"stage_id"`
	Status     string      `json:"status"`
	Hypothesis *Hypothesis `json:"hypothesis,omitempty"`
	Error      string      `json:"error,omitempty"`
	ModelUsed  string      `json:"model_used,omitempty"`
	TokensUsed int64       `json:"tokens_used,omitempty"`
	DurationMS int64       `json:"duration_ms,omitempty"`
}

// AnalysisResult is the terminal outcome of a full orchestration: the
// hypothesis of the stage that ended the chain plus the full trace.
type AnalysisResult struct {
	EventID        string       `json:"event_id"`
	Final          *Hypothesis  `json:"final,omitempty"`
	StagesExecuted int          `json:"stages_executed"`
	Stages         []StageTrace `json:"stages"`
	FallbackUsed   bool         `json:"fallback_used,omitempty"`
	Errored        bool         `json:"errored,omitempty"`
	Error          string       `json:"error,omitempty"`
}
