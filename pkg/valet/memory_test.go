package valet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majordome-ai/majordome/pkg/models"
)

func extraction(target, section, summary string) models.Extraction {
	return models.Extraction{
		Type:           models.ExtractionFact,
		PayloadSummary: summary,
		TargetNote:     target,
		TargetSection:  section,
		WriteMode:      models.WriteEnrich,
	}
}

func hypWith(stage models.StageID, exs ...models.Extraction) *models.Hypothesis {
	return &models.Hypothesis{StageID: stage, Action: models.ActionNone, Extractions: exs}
}

func TestMergedExtractionsLaterStageSupersedes(t *testing.T) {
	first := extraction("clients-acme", "## Facts", "budget is 50k")
	first.Importance = models.ImportanceLow
	revised := extraction("clients-acme", "## Facts", "budget is 50k")
	revised.Importance = models.ImportanceHigh

	mem := &WorkingMemory{}
	mem.Record(hypWith(models.StageV2, first))
	mem.Record(hypWith(models.StageV3, revised))

	merged := mem.MergedExtractions()
	require.Len(t, merged, 1)
	assert.Equal(t, models.ImportanceHigh, merged[0].Importance)
}

func TestMergedExtractionsKeepsFirstAppearanceOrder(t *testing.T) {
	a := extraction("note-a", "", "first fact")
	b := extraction("note-b", "", "second fact")
	aRevised := extraction("note-a", "", "first fact")
	aRevised.Importance = models.ImportanceHigh

	mem := &WorkingMemory{}
	mem.Record(hypWith(models.StageV2, a, b))
	mem.Record(hypWith(models.StageV3, aRevised))

	merged := mem.MergedExtractions()
	require.Len(t, merged, 2)
	assert.Equal(t, "note-a", merged[0].TargetNote, "revision keeps the original slot")
	assert.Equal(t, models.ImportanceHigh, merged[0].Importance)
	assert.Equal(t, "note-b", merged[1].TargetNote)
}

func TestMergedExtractionsDistinctSummariesBothKept(t *testing.T) {
	mem := &WorkingMemory{}
	mem.Record(hypWith(models.StageV2,
		extraction("note-a", "## Facts", "budget is 50k"),
		extraction("note-a", "## Facts", "kickoff moved to March")))

	assert.Len(t, mem.MergedExtractions(), 2)
}

func TestMergedExtractionsSkipsDedupIgnored(t *testing.T) {
	kept := extraction("note-a", "", "already in the note")
	dropped := extraction("note-a", "", "already in the note")
	dropped.ValidationState = models.ValidationDedupIgnore

	mem := &WorkingMemory{}
	mem.Record(hypWith(models.StageV2, kept))
	mem.Record(hypWith(models.StageV3, dropped))

	assert.Empty(t, mem.MergedExtractions())
}

func TestExtractionKeyFallsBackToMemoryHint(t *testing.T) {
	direct := extraction("note-a", "## Log", "call scheduled")
	hinted := models.Extraction{
		Type:           models.ExtractionFact,
		PayloadSummary: "Call Scheduled  ",
		MemoryHint:     models.MemoryHint{TargetNote: "note-a", TargetSection: "## Log"},
	}

	assert.Equal(t, extractionKey(direct), extractionKey(hinted),
		"hint targets and case-insensitive summary match the direct form")
}

func TestWorkingMemoryLatestAndQuestions(t *testing.T) {
	mem := &WorkingMemory{}
	assert.Nil(t, mem.Latest())
	assert.Empty(t, mem.OpenQuestions())

	mem.Record(&models.Hypothesis{StageID: models.StageV1, Action: models.ActionFlag})
	mem.Record(&models.Hypothesis{
		StageID:          models.StageV3,
		Action:           models.ActionFlag,
		QuestionsForNext: []string{"is the deadline still valid?"},
	})

	assert.Equal(t, models.StageV3, mem.Latest().StageID)
	assert.Equal(t, []string{"is the deadline still valid?"}, mem.OpenQuestions())
}
