package valet

import (
	"time"

	"github.com/majordome-ai/majordome/pkg/models"
	"github.com/majordome-ai/majordome/pkg/valet/prompt"
)

const promptRetrySuffix = prompt.RetrySuffix

func stageSystem(stage models.StageID) string {
	return prompt.System(stage)
}

func fallbackSystemPrompt() string {
	return prompt.FallbackSystem()
}

// renderPrompt assembles the stage's input from working memory. Each stage
// sees only what its contract entitles it to: the observer gets the bare
// event and sender history, the archivist adds retrieved context, the
// critic and arbiter see the accumulated chain.
func (o *Orchestrator) renderPrompt(stage models.StageID, mem *WorkingMemory) (string, error) {
	input := prompt.StageInput{
		Event:     mem.Event,
		AgeBucket: mem.AgeBucket,
	}

	switch stage {
	case models.StageV1:
		input.SenderPriors = mem.SenderPriors
		input.MaxEventChars = o.opts.Stages.V1.MaxInputChars
	case models.StageV2:
		input.Prior = mem.Hypotheses
		input.ContextItems = mem.ContextItems
		input.SearchHits = mem.SearchHits
	case models.StageV3:
		input.Prior = mem.Hypotheses
		input.ContextItems = mem.ContextItems
		input.MaxEventChars = o.opts.Stages.V3.MaxInputChars
	default:
		input.Prior = mem.Hypotheses
		input.ContextItems = mem.ContextItems
		input.SearchHits = mem.SearchHits
		input.Questions = mem.OpenQuestions()
	}

	return prompt.Render(stage, input)
}

// renderFallbackPrompt builds the single-shot prompt: the event alone, no
// retrieved context, since the chain that gathers context already failed.
func renderFallbackPrompt(event *models.PerceivedEvent, now time.Time) (string, error) {
	return prompt.Render(models.StageV4, prompt.StageInput{
		Event:     event,
		AgeBucket: event.AgeBucket(now),
	})
}
