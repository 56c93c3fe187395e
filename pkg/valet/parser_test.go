package valet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majordome-ai/majordome/pkg/models"
)

func TestParseHypothesisCleanJSON(t *testing.T) {
	text := `{
		"action": "flag",
		"extractions": [{"type": "deadline", "payload_summary": "report due Friday", "importance": "high"}],
		"confidence": {"entity": 0.8, "action": 0.8, "extraction": 0.8, "completeness": 0.8},
		"needs_next_stage": true
	}`

	h, err := ParseHypothesis(models.StageV1, text)
	require.NoError(t, err)
	assert.Equal(t, models.StageV1, h.StageID)
	assert.Equal(t, models.ActionFlag, h.Action)
	assert.True(t, h.NeedsNextStage)
	assert.InDelta(t, 0.8, h.Overall, 1e-9)
	require.Len(t, h.Extractions, 1)
	assert.Equal(t, models.WriteEnrich, h.Extractions[0].WriteMode, "write_mode defaults to enrich")
}

func TestParseHypothesisFencedJSON(t *testing.T) {
	text := "Here is my analysis:\n```json\n" +
		`{"action": "archive", "confidence": {"entity": 1, "action": 1, "extraction": 1, "completeness": 1}}` +
		"\n```\nLet me know if you need more."

	h, err := ParseHypothesis(models.StageV3, text)
	require.NoError(t, err)
	assert.Equal(t, models.ActionArchive, h.Action)
	assert.InDelta(t, 1.0, h.Overall, 1e-9)
}

func TestParseHypothesisBracesInsideStrings(t *testing.T) {
	text := `{"action": "none", "critique": "the payload {looks} odd", "confidence": {"entity": 0.5, "action": 0.5, "extraction": 0.5, "completeness": 0.5}}`

	h, err := ParseHypothesis(models.StageV3, text)
	require.NoError(t, err)
	assert.Equal(t, "the payload {looks} odd", h.Critique)
}

func TestParseHypothesisErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"no JSON at all", "I could not analyze this item."},
		{"unterminated object", `{"action": "flag"`},
		{"missing action", `{"confidence": {"entity": 0.5, "action": 0.5, "extraction": 0.5, "completeness": 0.5}}`},
		{"unknown action", `{"action": "escalate_to_human"}`},
		{"not an object", `["flag"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseHypothesis(models.StageV1, tt.text)
			assert.ErrorIs(t, err, ErrParse)
		})
	}
}

func TestParseHypothesisRecomputesOverall(t *testing.T) {
	// A model-reported overall is ignored; the weighted composition wins.
	text := `{"action": "reply", "overall": 0.1,
		"confidence": {"entity": 1.0, "action": 0.5, "extraction": 0.6, "completeness": 0.5}}`

	h, err := ParseHypothesis(models.StageV2, text)
	require.NoError(t, err)
	want := 0.25*1.0 + 0.30*0.5 + 0.25*0.6 + 0.20*0.5
	assert.InDelta(t, want, h.Overall, 1e-9)
}
