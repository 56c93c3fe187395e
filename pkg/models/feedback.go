package models

import "time"

// Verdict is the human decision recorded against a queue item.
type Verdict string

const (
	VerdictApproveAsSuggested Verdict = "approve_as_suggested"
	VerdictApproveOtherOption Verdict = "approve_other_option"
	VerdictReject             Verdict = "reject"
	VerdictCorrectedManually  Verdict = "corrected_manually"
)

// FeedbackRecord pairs a human verdict with the pre-decision analysis it
// judged.
type FeedbackRecord struct {
	ID                  string          `json:"id"`
	ItemID              string          `json:"item_id"`
	Source              Source          `json:"source"`
	ActionClass         ActionClass     `json:"action_class"`
	Verdict             Verdict         `json:"verdict"`
	SuggestedConfidence float64         `json:"suggested_confidence"`
	Analysis            *AnalysisResult `json:"analysis,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

// CalibrationBucket aggregates observed agreement for one
// (source, action class, confidence bucket) cell.
type CalibrationBucket struct {
	Source      Source      `json:"source"`
	ActionClass ActionClass `json:"action_class"`
	Bucket      float64     `json:"bucket"`
	Samples     int         `json:"samples"`
	Agreements  int         `json:"agreements"`
}

// AgreementRate returns observed agreement, or 0 with no samples.
func (b CalibrationBucket) AgreementRate() float64 {
	if b.Samples == 0 {
		return 0
	}
	return float64(b.Agreements) / float64(b.Samples)
}

// SenderPattern is a recurring sender-to-action mapping that earned its way
// into stage-one prompt priors.
type SenderPattern struct {
	Source      Source      `json:"source"`
	Sender      string      `json:"sender"`
	ActionClass ActionClass `json:"action_class"`
	Samples     int         `json:"samples"`
	Agreements  int         `json:"agreements"`
	Active      bool        `json:"active"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// AgreementRate returns observed agreement, or 0 with no samples.
func (p SenderPattern) AgreementRate() float64 {
	if p.Samples == 0 {
		return 0
	}
	return float64(p.Agreements) / float64(p.Samples)
}
