package crosssource

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/majordome-ai/majordome/pkg/config"
	"github.com/majordome-ai/majordome/pkg/models"
)

// ContextNoteReader resolves the optional context note whose linked sources
// seed adapter filters.
type ContextNoteReader interface {
	Get(id string) (*models.Note, error)
}

// Searcher fans a query out to every enabled adapter in parallel, scores and
// merges the results, and caches the merged response.
type Searcher struct {
	adapters map[models.Source]Adapter
	notes    ContextNoteReader
	config   *config.CrossSourceConfig
	cache    *resultCache
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	degraded map[models.Source]time.Time
}

// NewSearcher builds a searcher over the given adapters. notes may be nil
// when no knowledge store is attached.
func NewSearcher(adapters []Adapter, notes ContextNoteReader, cfg *config.CrossSourceConfig, logger *slog.Logger) *Searcher {
	if cfg == nil {
		cfg = config.DefaultCrossSourceConfig()
	}
	bySource := make(map[models.Source]Adapter, len(adapters))
	for _, a := range adapters {
		bySource[a.SourceName()] = a
	}
	return &Searcher{
		adapters: bySource,
		notes:    notes,
		config:   cfg,
		cache:    newResultCache(cfg.CacheTTL(), 100),
		logger:   logger.With("component", "cross_source_search"),
		now:      time.Now,
		degraded: make(map[models.Source]time.Time),
	}
}

// Search runs the fan-out. Failing or timed-out adapters land in
// SourcesFailed; surviving adapters still contribute. Cache hits are served
// when the enabled-source set and normalized query match.
func (s *Searcher) Search(ctx context.Context, req models.SearchRequest) (models.SearchResponse, error) {
	enabled := s.enabledSources(req)
	if len(enabled) == 0 {
		return models.SearchResponse{}, nil
	}

	key := cacheKey(req.Query, enabled)
	if resp, ok := s.cache.get(key); ok {
		resp.FromCache = true
		return resp, nil
	}

	filters := s.sourceFilters(req.ContextNoteID)

	maxPerSource := req.MaxPerSource
	if maxPerSource <= 0 {
		maxPerSource = s.config.MaxPerSource
	}

	type adapterOutcome struct {
		source  models.Source
		results []models.SearchResult
		err     error
	}

	outcomes := make(chan adapterOutcome, len(enabled))
	var wg sync.WaitGroup
	for _, source := range enabled {
		adapter := s.adapters[source]
		wg.Add(1)
		go func() {
			defer wg.Done()
			adapterCtx, cancel := context.WithTimeout(ctx, s.config.AdapterTimeout())
			defer cancel()

			results, err := adapter.Search(adapterCtx, req.Query, maxPerSource, SearchOptions{
				Filter: filters[adapter.SourceName()],
			})
			outcomes <- adapterOutcome{source: adapter.SourceName(), results: results, err: err}
		}()
	}
	wg.Wait()
	close(outcomes)

	now := s.now()
	merged := make(map[string]models.SearchResult)
	var failed []models.Source
	for outcome := range outcomes {
		if outcome.err != nil {
			s.logger.Warn("Source adapter failed",
				"source", outcome.source, "error", outcome.err)
			failed = append(failed, outcome.source)
			s.markDegraded(outcome.source)
			continue
		}
		s.clearDegraded(outcome.source)

		weight := s.config.WeightFor(string(outcome.source))
		for _, r := range outcome.results {
			r.Score = r.Score * weight * freshnessDecay(r.OccurredAt, now)
			dedupeKey := string(r.Source) + "\x00" + r.Identifier
			if have, ok := merged[dedupeKey]; !ok || r.Score > have.Score {
				merged[dedupeKey] = r
			}
		}
	}

	results := make([]models.SearchResult, 0, len(merged))
	for _, r := range merged {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Source != results[j].Source {
			return results[i].Source < results[j].Source
		}
		return results[i].Identifier < results[j].Identifier
	})
	if len(results) > s.config.MaxTotalResults {
		results = results[:s.config.MaxTotalResults]
	}

	sort.Slice(failed, func(i, j int) bool { return failed[i] < failed[j] })
	resp := models.SearchResponse{Results: results, SourcesFailed: failed}
	s.cache.put(key, resp)
	return resp, nil
}

// enabledSources resolves which adapters participate: preferred sources when
// given, otherwise every registered one; exclusions always win; the web
// adapter joins only on explicit request.
func (s *Searcher) enabledSources(req models.SearchRequest) []models.Source {
	excluded := make(map[models.Source]bool, len(req.ExcludeSources))
	for _, src := range req.ExcludeSources {
		excluded[src] = true
	}

	candidates := req.PreferredSources
	if len(candidates) == 0 {
		for src := range s.adapters {
			candidates = append(candidates, src)
		}
	}
	if req.IncludeWeb && !containsSource(candidates, models.SourceWeb) {
		candidates = append(candidates, models.SourceWeb)
	}

	var enabled []models.Source
	for _, src := range candidates {
		if excluded[src] {
			continue
		}
		if src == models.SourceWeb && !req.IncludeWeb {
			continue
		}
		adapter, ok := s.adapters[src]
		if !ok || !adapter.IsAvailable() {
			continue
		}
		enabled = append(enabled, src)
	}
	sort.Slice(enabled, func(i, j int) bool { return enabled[i] < enabled[j] })
	return enabled
}

// sourceFilters reads the context note's linked sources into per-source
// filter hints.
func (s *Searcher) sourceFilters(noteID string) map[models.Source]string {
	if noteID == "" || s.notes == nil {
		return nil
	}
	note, err := s.notes.Get(noteID)
	if err != nil {
		s.logger.Warn("Context note unavailable", "note_id", noteID, "error", err)
		return nil
	}
	filters := make(map[models.Source]string, len(note.LinkedSources))
	for _, ls := range note.LinkedSources {
		if _, seen := filters[ls.Source]; !seen {
			filters[ls.Source] = ls.Filter
		}
	}
	return filters
}

// DegradedSources returns sources whose last fan-out attempt failed, with
// the time of first consecutive failure. Served by the health endpoint.
func (s *Searcher) DegradedSources() map[models.Source]time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[models.Source]time.Time, len(s.degraded))
	for src, since := range s.degraded {
		out[src] = since
	}
	return out
}

func (s *Searcher) markDegraded(source models.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.degraded[source]; !ok {
		s.degraded[source] = s.now()
	}
}

func (s *Searcher) clearDegraded(source models.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.degraded, source)
}

// freshnessDecay down-weights old results linearly to a floor of 0.5 at 30
// days. Results without a timestamp pass through undecayed.
func freshnessDecay(occurredAt, now time.Time) float64 {
	if occurredAt.IsZero() || occurredAt.After(now) {
		return 1.0
	}
	days := now.Sub(occurredAt).Hours() / 24
	decay := 1 - 0.5*days/30
	if decay < 0.5 {
		return 0.5
	}
	return decay
}

func containsSource(list []models.Source, s models.Source) bool {
	for _, have := range list {
		if have == s {
			return true
		}
	}
	return false
}
