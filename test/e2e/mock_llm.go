package e2e

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/majordome-ai/majordome/pkg/llm"
	"github.com/majordome-ai/majordome/pkg/models"
)

// stageOf identifies which stage a request belongs to from the persona line
// each system prompt opens with.
func stageOf(system string) models.StageID {
	switch {
	case strings.Contains(system, "silent observer"):
		return models.StageV1
	case strings.Contains(system, "archivist"):
		return models.StageV2
	case strings.Contains(system, "critic"):
		return models.StageV3
	case strings.Contains(system, "arbiter"):
		return models.StageV4
	default:
		return "fallback"
	}
}

// modelCall is one recorded request.
type modelCall struct {
	Tier  string
	Stage models.StageID
	User  string
}

type scriptStep func(tier string, req llm.Request) (llm.Response, error)

// stepList replays steps in order; once exhausted the last step repeats, so
// escalation retries of the same stage see the same answer.
type stepList struct {
	steps []scriptStep
	next  int
}

func (l *stepList) take() scriptStep {
	if l.next < len(l.steps) {
		s := l.steps[l.next]
		l.next++
		return s
	}
	return l.steps[len(l.steps)-1]
}

// scriptedModel stands in for the model router. Responses are scripted per
// (event marker, stage): the marker is a substring of the user prompt, so
// concurrent events each follow their own script.
type scriptedModel struct {
	mu      sync.Mutex
	scripts map[string]map[models.StageID]*stepList
	calls   []modelCall
}

func newScriptedModel() *scriptedModel {
	return &scriptedModel{scripts: make(map[string]map[models.StageID]*stepList)}
}

// stub registers the scripted steps for one stage of the event whose
// rendered prompt contains marker.
func (m *scriptedModel) stub(marker string, stage models.StageID, steps ...scriptStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scripts[marker] == nil {
		m.scripts[marker] = make(map[models.StageID]*stepList)
	}
	m.scripts[marker][stage] = &stepList{steps: steps}
}

func (m *scriptedModel) Call(ctx context.Context, tier string, req llm.Request) (llm.Response, error) {
	stage := stageOf(req.System)

	m.mu.Lock()
	m.calls = append(m.calls, modelCall{Tier: tier, Stage: stage, User: req.User})
	var step scriptStep
	for marker, stages := range m.scripts {
		if !strings.Contains(req.User, marker) {
			continue
		}
		if list, ok := stages[stage]; ok {
			step = list.take()
			break
		}
	}
	m.mu.Unlock()

	if step == nil {
		return llm.Response{}, fmt.Errorf("unscripted %s call at tier %s", stage, tier)
	}
	return step(tier, req)
}

// CallWithEscalation mirrors the real router: an open breaker escalates to
// the next tier, and a low-scoring answer is retried one tier up, keeping
// whichever response scores higher.
func (m *scriptedModel) CallWithEscalation(ctx context.Context, tier string, req llm.Request, threshold float64,
	score func(llm.Response) (float64, bool)) (llm.ScoredCall, error) {

	resp, err := m.Call(ctx, tier, req)
	if err != nil {
		if errors.Is(err, llm.ErrBreakerOpen) {
			if next := llm.NextTier(tier); next != "" {
				return m.CallWithEscalation(ctx, next, req, threshold, score)
			}
		}
		return llm.ScoredCall{}, err
	}

	first := llm.ScoredCall{Response: resp, Tier: tier}
	s, ok := score(resp)
	if !ok {
		return first, nil
	}
	first.Score = s

	next := llm.NextTier(tier)
	if s >= threshold || next == "" {
		return first, nil
	}

	retried, err := m.Call(ctx, next, req)
	if err != nil {
		return first, nil
	}
	if s2, ok := score(retried); ok && s2 >= s {
		return llm.ScoredCall{Response: retried, Tier: next, Score: s2}, nil
	}
	return first, nil
}

// callsFor returns the recorded requests of one stage.
func (m *scriptedModel) callsFor(stage models.StageID) []modelCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []modelCall
	for _, c := range m.calls {
		if c.Stage == stage {
			out = append(out, c)
		}
	}
	return out
}

func (m *scriptedModel) totalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// respond scripts a well-formed hypothesis answer. conf fills all four
// confidence components, so the derived overall equals conf; extra is
// spliced into the JSON object verbatim.
func respond(action string, conf float64, extra string) scriptStep {
	text := fmt.Sprintf(
		`{"action": %q, "confidence": {"entity": %[2]v, "action": %[2]v, "extraction": %[2]v, "completeness": %[2]v}%[3]s}`,
		action, conf, extra)
	return func(string, llm.Request) (llm.Response, error) {
		return llm.Response{Text: text, Model: "scripted", TokensUsed: 40}, nil
	}
}

func failWith(err error) scriptStep {
	return func(string, llm.Request) (llm.Response, error) {
		return llm.Response{}, err
	}
}
