package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/majordome-ai/majordome/pkg/bus"
	"github.com/majordome-ai/majordome/pkg/config"
	"github.com/majordome-ai/majordome/pkg/models"
)

// Calibration policy. A pattern or a threshold adjustment only activates
// once enough samples back it.
const (
	calibrationBucketWidth = 0.1
	calibrationMinSamples  = 20
	patternMinSamples      = 20
	patternMinAgreement    = 0.95

	// Threshold adjustment at the 0.90 bucket: strong observed agreement
	// lowers the critic stop threshold by one step, poor agreement raises it.
	thresholdBucket     = 0.9
	thresholdStep       = 0.02
	thresholdLowCutoff  = 0.80
	thresholdHighCutoff = 0.95
)

// FeedbackService records human verdicts and maintains the calibration
// tables derived from them: per-bucket agreement rates and sender-to-action
// patterns. It feeds the orchestrator's priors and stop thresholds.
type FeedbackService struct {
	db       *sql.DB
	eventBus *bus.Bus
	stopping *config.StoppingConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewFeedbackService creates the service.
func NewFeedbackService(db *sql.DB, eventBus *bus.Bus, stopping *config.StoppingConfig, logger *slog.Logger) *FeedbackService {
	if stopping == nil {
		stopping = config.DefaultStoppingConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedbackService{
		db:       db,
		eventBus: eventBus,
		stopping: stopping,
		logger:   logger.With("service", "feedback"),
		now:      time.Now,
	}
}

// Record persists one verdict and folds it into the calibration tables.
// Sender is the event's sender identity; it drives the pattern table.
func (s *FeedbackService) Record(ctx context.Context, record *models.FeedbackRecord, sender string) error {
	if record.ItemID == "" {
		return NewValidationError("item_id", "is required")
	}
	if record.Source == "" {
		return NewValidationError("source", "is required")
	}
	if record.ActionClass == "" {
		return NewValidationError("action_class", "is required")
	}
	switch record.Verdict {
	case models.VerdictApproveAsSuggested, models.VerdictApproveOtherOption,
		models.VerdictReject, models.VerdictCorrectedManually:
	default:
		return NewValidationError("verdict", fmt.Sprintf("unknown verdict %q", record.Verdict))
	}

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	agreed := record.Verdict == models.VerdictApproveAsSuggested

	var analysis []byte
	if record.Analysis != nil {
		var err error
		analysis, err = json.Marshal(record.Analysis)
		if err != nil {
			return fmt.Errorf("failed to marshal analysis snapshot: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback_records (id, item_id, source, action_class, verdict, suggested_confidence, analysis)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		record.ID, record.ItemID, string(record.Source), string(record.ActionClass),
		string(record.Verdict), record.SuggestedConfidence, analysis)
	if err != nil {
		return fmt.Errorf("failed to insert feedback record: %w", err)
	}

	bucket, err := s.updateBucket(ctx, record, agreed)
	if err != nil {
		return err
	}
	if sender != "" {
		if err := s.updatePattern(ctx, record, sender, agreed); err != nil {
			return err
		}
	}

	if s.eventBus != nil {
		s.eventBus.Publish(bus.KindCalibrationUpdated, record.ItemID, bus.CalibrationUpdatedPayload{
			Source:      string(record.Source),
			ActionClass: string(record.ActionClass),
			Bucket:      bucket.Bucket,
			Agreement:   bucket.AgreementRate(),
			Samples:     bucket.Samples,
		})
	}
	return nil
}

// updateBucket folds one verdict into its confidence bucket and returns the
// updated cell.
func (s *FeedbackService) updateBucket(ctx context.Context, record *models.FeedbackRecord, agreed bool) (models.CalibrationBucket, error) {
	bucket := models.CalibrationBucket{
		Source:      record.Source,
		ActionClass: record.ActionClass,
		Bucket:      bucketFor(record.SuggestedConfidence),
	}
	agree := 0
	if agreed {
		agree = 1
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO calibration_buckets (source, action_class, bucket, samples, agreements, updated_at)
		VALUES ($1, $2, $3, 1, $4, now())
		ON CONFLICT (source, action_class, bucket) DO UPDATE
		SET samples = calibration_buckets.samples + 1,
		    agreements = calibration_buckets.agreements + $4,
		    updated_at = now()
		RETURNING samples, agreements`,
		string(bucket.Source), string(bucket.ActionClass), bucket.Bucket, agree).
		Scan(&bucket.Samples, &bucket.Agreements)
	if err != nil {
		return bucket, fmt.Errorf("failed to update calibration bucket: %w", err)
	}
	return bucket, nil
}

// updatePattern folds one verdict into the sender pattern table. A verdict
// for a different action class resets the pattern to the new class; patterns
// activate only after sustained agreement.
func (s *FeedbackService) updatePattern(ctx context.Context, record *models.FeedbackRecord, sender string, agreed bool) error {
	agree := 0
	if agreed {
		agree = 1
	}
	sender = strings.ToLower(strings.TrimSpace(sender))

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sender_patterns (source, sender, action_class, samples, agreements, active, updated_at)
		VALUES ($1, $2, $3, 1, $4, FALSE, now())
		ON CONFLICT (source, sender) DO UPDATE
		SET action_class = $3,
		    samples = CASE WHEN sender_patterns.action_class = $3
		                   THEN sender_patterns.samples + 1 ELSE 1 END,
		    agreements = CASE WHEN sender_patterns.action_class = $3
		                      THEN sender_patterns.agreements + $4 ELSE $4 END,
		    updated_at = now()`,
		string(record.Source), sender, string(record.ActionClass), agree)
	if err != nil {
		return fmt.Errorf("failed to update sender pattern: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE sender_patterns
		SET active = samples >= $3 AND agreements::float / samples > $4
		WHERE source = $1 AND sender = $2`,
		string(record.Source), sender, patternMinSamples, patternMinAgreement)
	if err != nil {
		return fmt.Errorf("failed to refresh pattern activation: %w", err)
	}
	return nil
}

// ActivePatterns returns the activated sender-to-action patterns for one
// sender, for insertion into the observer's prompt.
func (s *FeedbackService) ActivePatterns(ctx context.Context, source models.Source, sender string) ([]models.SenderPattern, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source, sender, action_class, samples, agreements, active, updated_at
		FROM sender_patterns
		WHERE source = $1 AND sender = $2 AND active`,
		string(source), strings.ToLower(strings.TrimSpace(sender)))
	if err != nil {
		return nil, fmt.Errorf("failed to load sender patterns: %w", err)
	}
	defer rows.Close()

	var patterns []models.SenderPattern
	for rows.Next() {
		var p models.SenderPattern
		if err := rows.Scan(&p.Source, &p.Sender, &p.ActionClass, &p.Samples,
			&p.Agreements, &p.Active, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sender pattern: %w", err)
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// V3StopThreshold returns the critic's stop threshold for one source,
// adjusted by observed agreement at the 0.90 bucket. Falls back to the
// configured default on any error: calibration must never block analysis.
func (s *FeedbackService) V3StopThreshold(ctx context.Context, source models.Source) float64 {
	base := s.stopping.V3TerminateOverall

	var samples, agreements int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(samples), 0), COALESCE(SUM(agreements), 0)
		FROM calibration_buckets
		WHERE source = $1 AND bucket = $2`,
		string(source), thresholdBucket).
		Scan(&samples, &agreements)
	if err != nil {
		s.logger.Warn("Failed to load calibration for threshold", "source", source, "error", err)
		return base
	}
	if samples < calibrationMinSamples {
		return base
	}

	rate := float64(agreements) / float64(samples)
	switch {
	case rate > thresholdHighCutoff:
		return base - thresholdStep
	case rate < thresholdLowCutoff:
		return base + thresholdStep
	default:
		return base
	}
}

// Buckets returns the calibration table of one source for inspection.
func (s *FeedbackService) Buckets(ctx context.Context, source models.Source) ([]models.CalibrationBucket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source, action_class, bucket, samples, agreements
		FROM calibration_buckets
		WHERE source = $1
		ORDER BY action_class, bucket`, string(source))
	if err != nil {
		return nil, fmt.Errorf("failed to load calibration buckets: %w", err)
	}
	defer rows.Close()

	var buckets []models.CalibrationBucket
	for rows.Next() {
		var b models.CalibrationBucket
		if err := rows.Scan(&b.Source, &b.ActionClass, &b.Bucket, &b.Samples, &b.Agreements); err != nil {
			return nil, fmt.Errorf("failed to scan calibration bucket: %w", err)
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// TableSizes reports row counts of the calibration tables for the stats
// surface.
func (s *FeedbackService) TableSizes(ctx context.Context) (buckets, patterns int, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM calibration_buckets`).Scan(&buckets); err != nil {
		return 0, 0, fmt.Errorf("failed to count calibration buckets: %w", err)
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sender_patterns`).Scan(&patterns); err != nil {
		return 0, 0, fmt.Errorf("failed to count sender patterns: %w", err)
	}
	return buckets, patterns, nil
}

// bucketFor maps a confidence value to its calibration bucket floor.
func bucketFor(confidence float64) float64 {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return math.Floor(confidence/calibrationBucketWidth) * calibrationBucketWidth
}
