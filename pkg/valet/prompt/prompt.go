// Package prompt renders the staged analysis prompts. Each stage has a
// fixed system prompt describing its role and a templated user prompt
// carrying the event, the prior hypotheses, and whatever context the stage
// is entitled to see.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/majordome-ai/majordome/pkg/models"
)

// StageInput is everything a stage prompt can draw on. Fields irrelevant to
// a stage stay empty.
type StageInput struct {
	Event        *models.PerceivedEvent
	AgeBucket    models.AgeBucket
	Prior        []*models.Hypothesis
	ContextItems []models.ContextItem
	SearchHits   []models.SearchResult
	// SenderPriors are calibrated sender-to-action mappings surfaced to V1.
	SenderPriors []models.SenderPattern
	// Questions are V3's open questions, answered by V4.
	Questions []string
	// MaxEventChars truncates the event body; 0 means no truncation.
	MaxEventChars int
}

// hypothesisSchema is the JSON contract every stage answers with. Kept in
// one place so the four prompts never drift apart.
const hypothesisSchema = `Respond with a single JSON object and nothing else:
{
  "action": "delete|archive|flag|reply|snooze|none|queue_for_review",
  "extractions": [{
    "type": "fact|decision|commitment|deadline|event|relation|contact|amount|reference|request",
    "payload_summary": "one sentence",
    "importance": "high|medium|low",
    "target_note": "existing note id, or empty",
    "target_section": "markdown header, or empty",
    "write_mode": "enrich|create",
    "side_effects": {"task": false, "calendar": false, "date": "", "time": ""},
    "memory_hint": {"target_note": "", "target_section": "", "format": "bullet|bullet_date|paragraph|table"}
  }],
  "confidence": {"entity": 0.0, "action": 0.0, "extraction": 0.0, "completeness": 0.0},
  "early_stop": false,
  "early_stop_reason": "",
  "needs_next_stage": true,
  "questions_for_next": [],
  "notes_used": [],
  "notes_ignored": [],
  "critique": "",
  "winner": ""
}`

// System prompts. V1 sees no context on purpose: its judgment must come
// from the event alone.
var systemPrompts = map[models.StageID]string{
	models.StageV1: `You are the silent observer, the first of four analysts triaging one incoming item for a personal assistant.
You see only the raw item. Extract the raw facts, classify the action, and flag clearly ephemeral content (one-time codes, spam, automated notifications) with early_stop=true and a reason.
Calibrate confidence honestly: 0.95-0.99 only for unmistakably ephemeral content; 0.60-0.80 is the normal range.
` + hypothesisSchema,

	models.StageV2: `You are the archivist, the second of four analysts. You receive the observer's hypothesis plus candidate notes retrieved from the personal knowledge base.
Retrieval returns near-matches that may be false positives: explicitly sort every candidate note into notes_used or notes_ignored.
Resolve name ambiguities against known entities, detect duplicates of existing extractions, and fill memory_hint (target note, section, format) for each extraction you keep.
You never terminate the analysis; set needs_next_stage=true.
` + hypothesisSchema,

	models.StageV3: `You are the critic, the third of four analysts. Challenge the archivist's work: missing elements, over-aggressive actions, contradictions, and age concerns - is an item older than 30 days still actionable?
You may revise extractions. Set needs_next_stage=false only when every open question is resolved and your overall confidence is at least 0.90; otherwise record pointed questions_for_next.
` + hypothesisSchema,

	models.StageV4: `You are the arbiter, the last of four analysts, with the full history and context. Answer the critic's questions explicitly, resolve conflicts between stages and name the winner, and decide whether the item's age still makes it actionable.
Yours is the terminal hypothesis. If your overall confidence is below 0.90, the action must be queue_for_review.
` + hypothesisSchema,
}

// fallbackSystem drives the single-shot analysis used when the staged chain
// fails.
const fallbackSystem = `You are a personal assistant analyzing one incoming item in a single pass. Extract the facts, classify the action, and calibrate confidence honestly.
` + hypothesisSchema

var userTemplate = template.Must(template.New("stage").Parse(
	`# Item
source: {{.Source}}
kind: {{.Kind}}
age: {{.AgeBucket}}{{if eq .AgeBucket "old"}} (treat with heightened skepticism: deadlines are likely missed and duplicates likely exist){{end}}
occurred_at: {{.OccurredAt}}
{{if .Sender}}sender: {{.Sender}}
{{end}}{{if .Subject}}subject: {{.Subject}}
{{end}}{{if .Entities}}entities: {{.Entities}}
{{end}}
{{.Body}}
{{if .SenderPriors}}
# Sender history
{{range .SenderPriors}}- {{.}}
{{end}}{{end}}{{if .Prior}}
# Prior hypotheses
{{.Prior}}
{{end}}{{if .ContextItems}}
# Candidate notes from the knowledge base
{{range .ContextItems}}- [{{.NoteID}}] {{.Title}} (relevance {{printf "%.2f" .Score}}): {{.Snippet}}
{{end}}{{end}}{{if .SearchHits}}
# Related items found across sources
{{range .SearchHits}}- [{{.Source}}:{{.Identifier}}] {{.Title}}: {{.Snippet}}
{{end}}{{end}}{{if .Questions}}
# Open questions you must answer
{{range .Questions}}- {{.}}
{{end}}{{end}}`))

type templateData struct {
	Source       models.Source
	Kind         models.EventKind
	AgeBucket    models.AgeBucket
	OccurredAt   string
	Sender       string
	Subject      string
	Entities     string
	Body         string
	SenderPriors []string
	Prior        string
	ContextItems []models.ContextItem
	SearchHits   []models.SearchResult
	Questions    []string
}

// System returns the stage's system prompt.
func System(stage models.StageID) string {
	return systemPrompts[stage]
}

// FallbackSystem returns the single-shot fallback system prompt.
func FallbackSystem() string {
	return fallbackSystem
}

// Render builds the user prompt for a stage.
func Render(stage models.StageID, input StageInput) (string, error) {
	event := input.Event

	body := event.BodyPlain
	if input.MaxEventChars > 0 && len(body) > input.MaxEventChars {
		body = body[:input.MaxEventChars] + "\n[truncated]"
	}

	data := templateData{
		Source:       event.Source,
		Kind:         event.Kind,
		AgeBucket:    input.AgeBucket,
		OccurredAt:   event.OccurredAt.Format(time.RFC3339),
		Sender:       event.Sender(),
		Subject:      event.Subject,
		Body:         body,
		ContextItems: input.ContextItems,
		SearchHits:   input.SearchHits,
		Questions:    input.Questions,
	}

	if len(event.Entities) > 0 {
		parts := make([]string, len(event.Entities))
		for i, e := range event.Entities {
			parts[i] = fmt.Sprintf("%s(%s)", e.Value, e.Type)
		}
		data.Entities = strings.Join(parts, ", ")
	}

	for _, p := range input.SenderPriors {
		data.SenderPriors = append(data.SenderPriors, fmt.Sprintf(
			"%s usually gets action %q (%d/%d past decisions agreed)",
			p.Sender, p.ActionClass, p.Agreements, p.Samples))
	}

	if len(input.Prior) > 0 {
		encoded, err := json.MarshalIndent(input.Prior, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to encode prior hypotheses: %w", err)
		}
		data.Prior = string(encoded)
	}

	var out strings.Builder
	if err := userTemplate.Execute(&out, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", stage, err)
	}
	return out.String(), nil
}

// RetrySuffix is appended to the user prompt when the first response failed
// to parse as the hypothesis JSON.
const RetrySuffix = "\n\nYour previous answer was not valid JSON matching the schema. Respond with ONLY the JSON object, no prose, no code fences."
