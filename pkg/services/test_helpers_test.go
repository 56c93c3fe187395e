package services

import (
	"io"
	"log/slog"
	"time"

	"github.com/majordome-ai/majordome/pkg/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testEvent returns a minimal perceived event for queue and backlog tests.
func testEvent(sourceID string) *models.PerceivedEvent {
	return &models.PerceivedEvent{
		EventID:    "email:" + sourceID,
		Source:     models.SourceEmail,
		SourceID:   sourceID,
		Kind:       models.KindMessage,
		ThreadID:   "email:thr-1",
		OccurredAt: time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC),
		IngestedAt: time.Date(2026, 8, 20, 9, 1, 0, 0, time.UTC),
		Subject:    "Acme budget",
		BodyPlain:  "Please archive once read.",
		Participants: []models.Participant{
			{Identity: "anna@example.com", DisplayName: "Anna", Role: models.RoleFrom},
			{Identity: "me@example.com", Role: models.RoleTo},
		},
	}
}

// testAnalysis returns a completed analysis recommending the given action
// with uniform component confidence.
func testAnalysis(action models.ActionClass, confidence float64) *models.AnalysisResult {
	hyp := &models.Hypothesis{
		StageID: models.StageV3,
		Action:  action,
		Confidence: models.Confidence{
			Entity:       confidence,
			Action:       confidence,
			Extraction:   confidence,
			Completeness: confidence,
		},
		Overall: confidence,
		Extractions: []models.Extraction{
			{
				Type:           models.ExtractionFact,
				PayloadSummary: "Budget approved at 50k",
				Importance:     models.ImportanceMedium,
				TargetNote:     "clients-acme",
				TargetSection:  "Budget",
				WriteMode:      models.WriteEnrich,
			},
		},
	}
	return &models.AnalysisResult{
		EventID:        "email:msg-1",
		Final:          hyp,
		StagesExecuted: 3,
		Stages: []models.StageTrace{
			{StageID: models.StageV1, Status: "completed"},
			{StageID: models.StageV2, Status: "completed"},
			{StageID: models.StageV3, Status: "completed", Hypothesis: hyp},
		},
	}
}
