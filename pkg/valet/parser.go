package valet

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/majordome-ai/majordome/pkg/models"
)

// ErrParse means a model response could not be read as a hypothesis. One
// strict retry is attempted before the stage fails.
var ErrParse = errors.New("hypothesis parse error")

// ParseHypothesis reads a stage's JSON answer. Models wrap JSON in prose or
// code fences often enough that the parser extracts the outermost object
// instead of demanding a clean payload.
func ParseHypothesis(stage models.StageID, text string) (*models.Hypothesis, error) {
	raw := extractJSONObject(text)
	if raw == "" {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrParse)
	}

	var h models.Hypothesis
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	if h.Action == "" {
		return nil, fmt.Errorf("%w: missing action", ErrParse)
	}
	if !validAction(h.Action) {
		return nil, fmt.Errorf("%w: unknown action %q", ErrParse, h.Action)
	}
	for i := range h.Extractions {
		if h.Extractions[i].WriteMode == "" {
			h.Extractions[i].WriteMode = models.WriteEnrich
		}
	}

	h.StageID = stage
	h.Overall = h.Confidence.Overall()
	return &h, nil
}

// extractJSONObject returns the outermost {...} in text, tolerating fences
// and surrounding prose. String-aware so braces inside values don't
// unbalance the scan.
func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

func validAction(a models.ActionClass) bool {
	switch a {
	case models.ActionDelete, models.ActionArchive, models.ActionFlag,
		models.ActionReply, models.ActionSnooze, models.ActionNone,
		models.ActionQueueForReview:
		return true
	}
	return false
}
