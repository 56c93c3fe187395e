// Package bus provides the in-process typed pub/sub that carries progress
// events from the pipeline to consumers (HTTP stream, journal, metrics).
// Delivery is fire-and-forget: each subscriber owns a bounded buffer that
// drops the oldest event on overflow, so a slow consumer can never block a
// publisher.
package bus

import "time"

// Kind identifies a bus event type.
type Kind string

// Event kinds emitted by the pipeline.
const (
	KindEventIngested      Kind = "event_ingested"
	KindAnalysisStarted    Kind = "analysis_started"
	KindStageCompleted     Kind = "stage_completed"
	KindAnalysisCompleted  Kind = "analysis_completed"
	KindAnalysisFailed     Kind = "analysis_failed"
	KindPlanBuilt          Kind = "plan_built"
	KindActionStarted      Kind = "action_started"
	KindActionCompleted    Kind = "action_completed"
	KindActionFailed       Kind = "action_failed"
	KindQueueEnqueued      Kind = "queue_enqueued"
	KindQueueApproved      Kind = "queue_approved"
	KindQueueRejected      Kind = "queue_rejected"
	KindQueueUndone        Kind = "queue_undone"
	KindCalibrationUpdated Kind = "calibration_updated"
)

// AllKinds returns every known event kind. Subscribers passing no kinds get
// all of them.
func AllKinds() []Kind {
	return []Kind{
		KindEventIngested,
		KindAnalysisStarted,
		KindStageCompleted,
		KindAnalysisCompleted,
		KindAnalysisFailed,
		KindPlanBuilt,
		KindActionStarted,
		KindActionCompleted,
		KindActionFailed,
		KindQueueEnqueued,
		KindQueueApproved,
		KindQueueRejected,
		KindQueueUndone,
		KindCalibrationUpdated,
	}
}

// Event is one bus message. CorrelationID is the perceived event id for
// per-event kinds, the queue item id for queue kinds.
type Event struct {
	ID            string    `json:"id"`
	Kind          Kind      `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Payload       any       `json:"payload,omitempty"`
}
