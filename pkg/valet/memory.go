package valet

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/majordome-ai/majordome/pkg/models"
)

// WorkingMemory accumulates what the four stages produce and consume for a
// single event: the hypotheses so far, the retrieved context, and the
// cross-source hits. One per orchestration; never shared.
type WorkingMemory struct {
	Event        *models.PerceivedEvent
	AgeBucket    models.AgeBucket
	Hypotheses   []*models.Hypothesis
	ContextItems []models.ContextItem
	SearchHits   []models.SearchResult
	SenderPriors []models.SenderPattern
}

// Latest returns the most recent hypothesis, or nil before V1 completes.
func (m *WorkingMemory) Latest() *models.Hypothesis {
	if len(m.Hypotheses) == 0 {
		return nil
	}
	return m.Hypotheses[len(m.Hypotheses)-1]
}

// Record appends a stage's hypothesis.
func (m *WorkingMemory) Record(h *models.Hypothesis) {
	m.Hypotheses = append(m.Hypotheses, h)
}

// OpenQuestions returns the latest stage's questions for its successor.
func (m *WorkingMemory) OpenQuestions() []string {
	if latest := m.Latest(); latest != nil {
		return latest.QuestionsForNext
	}
	return nil
}

// MergedExtractions folds every stage's extractions into one list. Later
// stages supersede earlier ones on a matching identity key; order follows
// first appearance, so the final list reads in discovery order.
func (m *WorkingMemory) MergedExtractions() []models.Extraction {
	var order []string
	byKey := make(map[string]models.Extraction)

	for _, h := range m.Hypotheses {
		for _, ex := range h.Extractions {
			key := extractionKey(ex)
			if _, seen := byKey[key]; !seen {
				order = append(order, key)
			}
			byKey[key] = ex
		}
	}

	merged := make([]models.Extraction, 0, len(order))
	for _, key := range order {
		ex := byKey[key]
		if ex.ValidationState == models.ValidationDedupIgnore {
			continue
		}
		merged = append(merged, ex)
	}
	return merged
}

// extractionKey identifies an extraction across stages: same target note,
// same section, same summary digest means the later stage's version wins.
func extractionKey(ex models.Extraction) string {
	target := ex.TargetNote
	section := ex.TargetSection
	if target == "" {
		target = ex.MemoryHint.TargetNote
	}
	if section == "" {
		section = ex.MemoryHint.TargetSection
	}
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(ex.PayloadSummary))))
	return target + "\x00" + section + "\x00" + hex.EncodeToString(sum[:8])
}
