package crosssource

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majordome-ai/majordome/pkg/config"
	"github.com/majordome-ai/majordome/pkg/models"
)

type fakeAdapter struct {
	source    models.Source
	available bool
	results   []models.SearchResult
	err       error
	delay     time.Duration
	gotFilter string
	calls     int
}

func (f *fakeAdapter) SourceName() models.Source { return f.source }
func (f *fakeAdapter) IsAvailable() bool         { return f.available }

func (f *fakeAdapter) Search(ctx context.Context, query string, limit int, opts SearchOptions) ([]models.SearchResult, error) {
	f.calls++
	f.gotFilter = opts.Filter
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.results, f.err
}

type fakeNotes struct {
	notes map[string]*models.Note
}

func (f *fakeNotes) Get(id string) (*models.Note, error) {
	if n, ok := f.notes[id]; ok {
		return n, nil
	}
	return nil, errors.New("not found")
}

func testConfig() *config.CrossSourceConfig {
	cfg := config.DefaultCrossSourceConfig()
	cfg.AdapterTimeoutSeconds = 1
	return cfg
}

func newTestSearcher(cfg *config.CrossSourceConfig, notes ContextNoteReader, adapters ...Adapter) *Searcher {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewSearcher(adapters, notes, cfg, logger)
}

func hit(source models.Source, id string, score float64, age time.Duration) models.SearchResult {
	return models.SearchResult{
		Source:     source,
		Identifier: id,
		Score:      score,
		OccurredAt: time.Now().Add(-age),
	}
}

func TestSearchMergesAndScores(t *testing.T) {
	cfg := testConfig()
	mail := &fakeAdapter{source: models.SourceEmail, available: true, results: []models.SearchResult{
		hit(models.SourceEmail, "m1", 1.0, 0),
	}}
	chat := &fakeAdapter{source: models.SourceTeams, available: true, results: []models.SearchResult{
		hit(models.SourceTeams, "c1", 1.0, 0),
	}}

	resp, err := newTestSearcher(cfg, nil, mail, chat).Search(context.Background(), models.SearchRequest{Query: "budget"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)

	// email weight 1.0 beats teams weight 0.8 at equal relevance.
	assert.Equal(t, models.SourceEmail, resp.Results[0].Source)
	assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-9)
	assert.InDelta(t, 0.8, resp.Results[1].Score, 1e-9)
	assert.Empty(t, resp.SourcesFailed)
}

func TestSearchAppliesFreshnessDecay(t *testing.T) {
	cfg := testConfig()
	mail := &fakeAdapter{source: models.SourceEmail, available: true, results: []models.SearchResult{
		hit(models.SourceEmail, "fresh", 1.0, 0),
		hit(models.SourceEmail, "month-old", 1.0, 30*24*time.Hour),
		hit(models.SourceEmail, "ancient", 1.0, 365*24*time.Hour),
	}}

	resp, err := newTestSearcher(cfg, nil, mail).Search(context.Background(), models.SearchRequest{Query: "x"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)

	byID := map[string]float64{}
	for _, r := range resp.Results {
		byID[r.Identifier] = r.Score
	}
	assert.InDelta(t, 1.0, byID["fresh"], 0.01)
	assert.InDelta(t, 0.5, byID["month-old"], 0.01)
	assert.InDelta(t, 0.5, byID["ancient"], 1e-9, "decay floors at 0.5")
}

func TestSearchReportsFailedSources(t *testing.T) {
	cfg := testConfig()
	mail := &fakeAdapter{source: models.SourceEmail, available: true, results: []models.SearchResult{
		hit(models.SourceEmail, "m1", 1.0, 0),
	}}
	broken := &fakeAdapter{source: models.SourceCalendar, available: true, err: errors.New("boom")}

	searcher := newTestSearcher(cfg, nil, mail, broken)
	resp, err := searcher.Search(context.Background(), models.SearchRequest{Query: "x"})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)
	assert.Equal(t, []models.Source{models.SourceCalendar}, resp.SourcesFailed)

	degraded := searcher.DegradedSources()
	assert.Contains(t, degraded, models.SourceCalendar)
	assert.NotContains(t, degraded, models.SourceEmail)
}

func TestSearchTimesOutSlowAdapter(t *testing.T) {
	cfg := testConfig()
	slow := &fakeAdapter{
		source:    models.SourceTeams,
		available: true,
		delay:     3 * time.Second,
		results:   []models.SearchResult{hit(models.SourceTeams, "never", 1.0, 0)},
	}
	fast := &fakeAdapter{source: models.SourceEmail, available: true, results: []models.SearchResult{
		hit(models.SourceEmail, "m1", 1.0, 0),
	}}

	start := time.Now()
	resp, err := newTestSearcher(cfg, nil, slow, fast).Search(context.Background(), models.SearchRequest{Query: "x"})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2500*time.Millisecond)
	assert.Len(t, resp.Results, 1)
	assert.Equal(t, []models.Source{models.SourceTeams}, resp.SourcesFailed)
}

func TestSearchWebRequiresExplicitOptIn(t *testing.T) {
	cfg := testConfig()
	web := &fakeAdapter{source: models.SourceWeb, available: true, results: []models.SearchResult{
		hit(models.SourceWeb, "https://example.com", 1.0, 0),
	}}

	searcher := newTestSearcher(cfg, nil, web)

	resp, err := searcher.Search(context.Background(), models.SearchRequest{Query: "x"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Zero(t, web.calls)

	resp, err = searcher.Search(context.Background(), models.SearchRequest{Query: "x", IncludeWeb: true})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)
}

func TestSearchHonorsExclusions(t *testing.T) {
	cfg := testConfig()
	mail := &fakeAdapter{source: models.SourceEmail, available: true, results: []models.SearchResult{
		hit(models.SourceEmail, "m1", 1.0, 0),
	}}
	chat := &fakeAdapter{source: models.SourceTeams, available: true, results: []models.SearchResult{
		hit(models.SourceTeams, "c1", 1.0, 0),
	}}

	resp, err := newTestSearcher(cfg, nil, mail, chat).Search(context.Background(), models.SearchRequest{
		Query:          "x",
		ExcludeSources: []models.Source{models.SourceTeams},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, models.SourceEmail, resp.Results[0].Source)
	assert.Zero(t, chat.calls)
}

func TestSearchDeduplicatesBySourceAndIdentifier(t *testing.T) {
	cfg := testConfig()
	mail := &fakeAdapter{source: models.SourceEmail, available: true, results: []models.SearchResult{
		hit(models.SourceEmail, "m1", 0.4, 0),
		hit(models.SourceEmail, "m1", 0.9, 0),
	}}

	resp, err := newTestSearcher(cfg, nil, mail).Search(context.Background(), models.SearchRequest{Query: "x"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.InDelta(t, 0.9, resp.Results[0].Score, 0.01, "highest score wins the dedupe")
}

func TestSearchCapsTotalResults(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTotalResults = 5

	var many []models.SearchResult
	for i := 0; i < 20; i++ {
		many = append(many, hit(models.SourceEmail, string(rune('a'+i)), 1.0, 0))
	}
	mail := &fakeAdapter{source: models.SourceEmail, available: true, results: many}

	resp, err := newTestSearcher(cfg, nil, mail).Search(context.Background(), models.SearchRequest{Query: "x"})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 5)
}

func TestSearchServesFromCache(t *testing.T) {
	cfg := testConfig()
	mail := &fakeAdapter{source: models.SourceEmail, available: true, results: []models.SearchResult{
		hit(models.SourceEmail, "m1", 1.0, 0),
	}}

	searcher := newTestSearcher(cfg, nil, mail)

	first, err := searcher.Search(context.Background(), models.SearchRequest{Query: "Budget  Review"})
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := searcher.Search(context.Background(), models.SearchRequest{Query: "budget review"})
	require.NoError(t, err)
	assert.True(t, second.FromCache, "normalized query hits the same entry")
	assert.Equal(t, 1, mail.calls)
}

func TestSearchSeedsFiltersFromContextNote(t *testing.T) {
	cfg := testConfig()
	mail := &fakeAdapter{source: models.SourceEmail, available: true}

	notes := &fakeNotes{notes: map[string]*models.Note{
		"acme-renewal-abc123": {
			ID: "acme-renewal-abc123",
			LinkedSources: []models.LinkedSource{
				{Source: models.SourceEmail, Filter: "Clients/Acme"},
			},
		},
	}}

	_, err := newTestSearcher(cfg, notes, mail).Search(context.Background(), models.SearchRequest{
		Query:         "renewal",
		ContextNoteID: "acme-renewal-abc123",
	})
	require.NoError(t, err)
	assert.Equal(t, "Clients/Acme", mail.gotFilter)
}

func TestSearchSkipsUnavailableAdapters(t *testing.T) {
	cfg := testConfig()
	offline := &fakeAdapter{source: models.SourceEmail, available: false}

	resp, err := newTestSearcher(cfg, nil, offline).Search(context.Background(), models.SearchRequest{Query: "x"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Zero(t, offline.calls)
}
