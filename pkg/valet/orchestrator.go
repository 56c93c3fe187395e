// Package valet runs the four-stage analysis chain over incoming events:
// observer, archivist, critic, arbiter. Each stage is one model call that
// returns a structured hypothesis; the chain stops as soon as a stage's
// contract allows it to.
package valet

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/majordome-ai/majordome/pkg/bus"
	"github.com/majordome-ai/majordome/pkg/config"
	"github.com/majordome-ai/majordome/pkg/llm"
	"github.com/majordome-ai/majordome/pkg/models"
	"github.com/majordome-ai/majordome/pkg/retrieval"
)

// ContextRetriever is the context-retrieval surface the archivist uses.
type ContextRetriever interface {
	Retrieve(ctx context.Context, q retrieval.Query) ([]models.ContextItem, error)
}

// SourceSearcher is the cross-source search surface the archivist uses.
type SourceSearcher interface {
	Search(ctx context.Context, req models.SearchRequest) (models.SearchResponse, error)
}

// PriorProvider supplies calibrated sender-to-action priors for the
// observer's prompt.
type PriorProvider interface {
	ActivePatterns(ctx context.Context, source models.Source, sender string) ([]models.SenderPattern, error)
}

// ThresholdProvider supplies the calibration-adjusted critic stop threshold
// per source.
type ThresholdProvider interface {
	V3StopThreshold(ctx context.Context, source models.Source) float64
}

// ModelCaller is the router surface the orchestrator needs.
type ModelCaller interface {
	Call(ctx context.Context, tier string, req llm.Request) (llm.Response, error)
	CallWithEscalation(ctx context.Context, tier string, req llm.Request, threshold float64,
		score func(llm.Response) (float64, bool)) (llm.ScoredCall, error)
}

// Options wires an Orchestrator. Retriever, Searcher, Priors, and
// Thresholds may be nil; the corresponding prompt sections stay empty and
// the configured thresholds apply unadjusted.
type Options struct {
	Router     ModelCaller
	Retriever  ContextRetriever
	Searcher   SourceSearcher
	Priors     PriorProvider
	Thresholds ThresholdProvider
	Bus        *bus.Bus

	Orchestrator *config.OrchestratorConfig
	Stages       *config.StagesConfig
	Stopping     *config.StoppingConfig
	Models       *config.ModelsConfig

	Logger *slog.Logger
}

// AnalyzeOptions tunes one orchestration.
type AnalyzeOptions struct {
	// ForceTier overrides every stage's tier, used by explicit re-analysis.
	ForceTier string
}

// Orchestrator drives the staged chain. Safe for concurrent use; events on
// the same thread serialize through a striped lock so per-thread FIFO
// holds even when the worker pool runs them side by side.
type Orchestrator struct {
	opts        Options
	logger      *slog.Logger
	threadLocks []sync.Mutex
	now         func() time.Time
}

const threadLockStripes = 64

// NewOrchestrator validates options and applies config defaults.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Router == nil {
		return nil, fmt.Errorf("model router is required")
	}
	if opts.Orchestrator == nil {
		opts.Orchestrator = config.DefaultOrchestratorConfig()
	}
	if opts.Stages == nil {
		opts.Stages = config.DefaultStagesConfig()
	}
	if opts.Stopping == nil {
		opts.Stopping = config.DefaultStoppingConfig()
	}
	if opts.Models == nil {
		opts.Models = config.DefaultModelsConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		opts:        opts,
		logger:      logger.With("component", "orchestrator"),
		threadLocks: make([]sync.Mutex, threadLockStripes),
		now:         time.Now,
	}, nil
}

// Analyze runs the chain for one event and returns the terminal result.
// A non-nil error means the analysis failed even after fallback; the
// returned result still carries the partial trace for persistence.
func (o *Orchestrator) Analyze(ctx context.Context, event *models.PerceivedEvent, opts AnalyzeOptions) (*models.AnalysisResult, error) {
	if event.ThreadID != "" {
		lock := o.threadLock(event.ThreadID)
		lock.Lock()
		defer lock.Unlock()
	}

	ctx, cancel := context.WithTimeout(ctx, o.opts.Orchestrator.Timeout())
	defer cancel()

	o.publish(bus.KindAnalysisStarted, event.EventID, nil)

	result, err := o.runChain(ctx, event, opts)
	if err == nil {
		final := result.Final
		o.publish(bus.KindAnalysisCompleted, event.EventID, bus.AnalysisCompletedPayload{
			Action:         string(final.Action),
			Overall:        final.Overall,
			StagesExecuted: result.StagesExecuted,
			FallbackUsed:   result.FallbackUsed,
		})
		return result, nil
	}

	if o.opts.Orchestrator.ShouldFallback() {
		o.logger.Warn("Staged analysis failed, falling back to single-shot",
			"event_id", event.EventID, "error", err)
		if fallback, fbErr := o.runFallback(ctx, event, result); fbErr == nil {
			o.publish(bus.KindAnalysisCompleted, event.EventID, bus.AnalysisCompletedPayload{
				Action:         string(fallback.Final.Action),
				Overall:        fallback.Final.Overall,
				StagesExecuted: fallback.StagesExecuted,
				FallbackUsed:   true,
			})
			return fallback, nil
		} else {
			o.logger.Error("Fallback analysis failed", "event_id", event.EventID, "error", fbErr)
		}
	}

	result.Errored = true
	result.Error = err.Error()
	o.publish(bus.KindAnalysisFailed, event.EventID, bus.AnalysisFailedPayload{
		Stage: string(failedStage(result)),
		Error: err.Error(),
	})
	return result, err
}

// runChain executes V1..V4 per the staged contract. The returned result
// carries the trace of every stage that ran, even on error.
func (o *Orchestrator) runChain(ctx context.Context, event *models.PerceivedEvent, opts AnalyzeOptions) (*models.AnalysisResult, error) {
	mem := &WorkingMemory{
		Event:     event,
		AgeBucket: event.AgeBucket(o.now()),
	}
	result := &models.AnalysisResult{EventID: event.EventID}

	if o.opts.Priors != nil {
		if sender := event.Sender(); sender != "" {
			priors, err := o.opts.Priors.ActivePatterns(ctx, event.Source, sender)
			if err != nil {
				o.logger.Warn("Sender priors unavailable", "event_id", event.EventID, "error", err)
			} else {
				mem.SenderPriors = priors
			}
		}
	}

	maxStages := o.opts.Orchestrator.MaxStages
	if maxStages < 1 || maxStages > 4 {
		maxStages = 4
	}

	for i, stage := range []models.StageID{models.StageV1, models.StageV2, models.StageV3, models.StageV4} {
		if i >= maxStages {
			break
		}
		if stage == models.StageV2 {
			o.gatherContext(ctx, mem)
		}

		hyp, trace, err := o.runStage(ctx, stage, mem, opts)
		result.Stages = append(result.Stages, trace)
		result.StagesExecuted++
		if err != nil {
			return result, fmt.Errorf("stage %s: %w", stage, err)
		}
		if stage == models.StageV4 && hyp.Overall < o.opts.Stopping.V4QueueOverall {
			hyp.Action = models.ActionQueueForReview
		}
		mem.Record(hyp)

		o.publish(bus.KindStageCompleted, event.EventID, bus.StageCompletedPayload{
			Stage:      string(stage),
			Index:      i + 1,
			Confidence: hyp.Overall,
			TokensUsed: hyp.TokensUsed,
			DurationMS: hyp.DurationMS,
		})

		if o.terminates(ctx, stage, hyp, event.Source) {
			break
		}
	}

	o.finalize(mem, result)
	return result, nil
}

// terminates applies the staged stop contract.
func (o *Orchestrator) terminates(ctx context.Context, stage models.StageID, h *models.Hypothesis, source models.Source) bool {
	switch stage {
	case models.StageV1:
		return h.EarlyStop &&
			h.Action == models.ActionDelete &&
			h.Overall >= o.opts.Stopping.V1EarlyStopOverall
	case models.StageV2:
		// The archivist only enriches.
		return false
	case models.StageV3:
		threshold := o.opts.Stopping.V3TerminateOverall
		if o.opts.Thresholds != nil {
			threshold = o.opts.Thresholds.V3StopThreshold(ctx, source)
		}
		return !h.NeedsNextStage && h.Overall >= threshold
	default:
		return true
	}
}

// finalize sets the terminal hypothesis: the last stage's verdict with the
// merged extraction set. Confidence stays the terminal stage's own.
func (o *Orchestrator) finalize(mem *WorkingMemory, result *models.AnalysisResult) {
	final := *mem.Latest()
	final.Extractions = mem.MergedExtractions()
	result.Final = &final
}

// runStage renders the stage prompt, calls the model, and parses the
// hypothesis with one strict retry on malformed JSON.
func (o *Orchestrator) runStage(ctx context.Context, stage models.StageID, mem *WorkingMemory, opts AnalyzeOptions) (*models.Hypothesis, models.StageTrace, error) {
	trace := models.StageTrace{StageID: stage, Status: "failed"}

	tier := o.stageTier(stage, opts)
	userPrompt, err := o.renderPrompt(stage, mem)
	if err != nil {
		trace.Error = err.Error()
		return nil, trace, err
	}

	start := o.now()
	resp, usedTier, err := o.callModel(ctx, stage, tier, userPrompt)
	if err != nil {
		trace.Error = err.Error()
		return nil, trace, err
	}

	hyp, err := ParseHypothesis(stage, resp.Text)
	if err != nil {
		// One strict retry at the same tier.
		o.logger.Warn("Stage response failed to parse, retrying",
			"stage", stage, "error", err)
		resp, err = o.opts.Router.Call(ctx, usedTier, o.stageRequest(stage, userPrompt+promptRetrySuffix))
		if err == nil {
			hyp, err = ParseHypothesis(stage, resp.Text)
		}
		if err != nil {
			trace.Error = err.Error()
			return nil, trace, err
		}
	}

	hyp.ModelUsed = resp.Model
	hyp.TokensUsed = int64(resp.TokensUsed)
	hyp.DurationMS = o.now().Sub(start).Milliseconds()

	trace.Status = "completed"
	trace.Hypothesis = hyp
	trace.ModelUsed = hyp.ModelUsed
	trace.TokensUsed = hyp.TokensUsed
	trace.DurationMS = hyp.DurationMS
	return hyp, trace, nil
}

// callModel issues the stage's completion. The critic may escalate when its
// confidence lands below the adaptive threshold; the other stages run their
// configured tier as-is.
func (o *Orchestrator) callModel(ctx context.Context, stage models.StageID, tier, userPrompt string) (llm.Response, string, error) {
	req := o.stageRequest(stage, userPrompt)

	if stage == models.StageV3 {
		scored, err := o.opts.Router.CallWithEscalation(ctx, tier, req,
			o.opts.Models.AdaptiveEscalationThreshold,
			func(r llm.Response) (float64, bool) {
				h, parseErr := ParseHypothesis(stage, r.Text)
				if parseErr != nil {
					return 0, false
				}
				return h.Overall, true
			})
		if err != nil {
			return llm.Response{}, tier, err
		}
		return scored.Response, scored.Tier, nil
	}

	resp, err := o.opts.Router.Call(ctx, tier, req)
	return resp, tier, err
}

func (o *Orchestrator) stageRequest(stage models.StageID, userPrompt string) llm.Request {
	return llm.Request{
		System: stageSystem(stage),
		User:   userPrompt,
	}
}

func (o *Orchestrator) stageTier(stage models.StageID, opts AnalyzeOptions) string {
	if opts.ForceTier != "" {
		return opts.ForceTier
	}
	switch stage {
	case models.StageV1:
		return o.opts.Models.V1
	case models.StageV2:
		return o.opts.Models.V2
	case models.StageV3:
		return o.opts.Models.V3
	default:
		return o.opts.Models.V4
	}
}

// gatherContext fills the working memory for the archivist: knowledge-base
// retrieval plus a cross-source search. Both degrade to empty on failure;
// the stage still runs.
func (o *Orchestrator) gatherContext(ctx context.Context, mem *WorkingMemory) {
	event := mem.Event

	if o.opts.Retriever != nil {
		entities := make([]string, 0, len(event.Entities))
		for _, e := range event.Entities {
			entities = append(entities, e.Value)
		}
		items, err := o.opts.Retriever.Retrieve(ctx, retrieval.Query{
			Entities: entities,
			Semantic: event.Subject + "\n" + excerptForQuery(event.BodyPlain),
			ThreadID: event.ThreadID,
		})
		if err != nil {
			o.logger.Warn("Context retrieval failed", "event_id", event.EventID, "error", err)
		} else {
			if max := o.opts.Stages.V2.MaxContextNotes; max > 0 && len(items) > max {
				items = items[:max]
			}
			mem.ContextItems = items
		}
	}

	if o.opts.Searcher != nil {
		query := event.Subject
		if query == "" && len(event.Entities) > 0 {
			query = event.Entities[0].Value
		}
		if query != "" {
			resp, err := o.opts.Searcher.Search(ctx, models.SearchRequest{
				Query:          query,
				ExcludeSources: []models.Source{event.Source},
			})
			if err != nil {
				o.logger.Warn("Cross-source search failed", "event_id", event.EventID, "error", err)
			} else {
				mem.SearchHits = resp.Results
			}
		}
	}
}

// runFallback re-runs the event as a single-shot analysis at the balanced
// tier, preserving the failed chain's trace.
func (o *Orchestrator) runFallback(ctx context.Context, event *models.PerceivedEvent, partial *models.AnalysisResult) (*models.AnalysisResult, error) {
	userPrompt, err := renderFallbackPrompt(event, o.now())
	if err != nil {
		return nil, err
	}

	start := o.now()
	resp, err := o.opts.Router.Call(ctx, config.TierBalanced, llm.Request{
		System: fallbackSystemPrompt(),
		User:   userPrompt,
	})
	if err != nil {
		return nil, err
	}

	hyp, err := ParseHypothesis(models.StageV4, resp.Text)
	if err != nil {
		resp, err = o.opts.Router.Call(ctx, config.TierBalanced, llm.Request{
			System: fallbackSystemPrompt(),
			User:   userPrompt + promptRetrySuffix,
		})
		if err == nil {
			hyp, err = ParseHypothesis(models.StageV4, resp.Text)
		}
		if err != nil {
			return nil, err
		}
	}

	hyp.ModelUsed = resp.Model
	hyp.TokensUsed = int64(resp.TokensUsed)
	hyp.DurationMS = o.now().Sub(start).Milliseconds()

	result := &models.AnalysisResult{
		EventID:        event.EventID,
		Final:          hyp,
		StagesExecuted: partial.StagesExecuted,
		Stages:         partial.Stages,
		FallbackUsed:   true,
	}
	return result, nil
}

func (o *Orchestrator) publish(kind bus.Kind, correlationID string, payload any) {
	if o.opts.Bus != nil {
		o.opts.Bus.Publish(kind, correlationID, payload)
	}
}

func (o *Orchestrator) threadLock(threadID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(threadID))
	return &o.threadLocks[h.Sum32()%uint32(len(o.threadLocks))]
}

func failedStage(result *models.AnalysisResult) models.StageID {
	for _, trace := range result.Stages {
		if trace.Status == "failed" {
			return trace.StageID
		}
	}
	return ""
}

// excerptForQuery keeps semantic queries bounded.
func excerptForQuery(body string) string {
	const maxLen = 500
	if len(body) <= maxLen {
		return body
	}
	return body[:maxLen]
}
