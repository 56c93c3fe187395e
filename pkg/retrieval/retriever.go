// Package retrieval ranks knowledge-store notes as context for an incoming
// event. Three candidate pools (entity match, semantic similarity, thread
// affinity) are fetched independently and composed into a single weighted
// score per note.
package retrieval

import (
	"context"
	"log/slog"
	"sort"

	"github.com/majordome-ai/majordome/pkg/config"
	"github.com/majordome-ai/majordome/pkg/models"
)

// NoteSearcher is the slice of the knowledge store that retrieval needs.
type NoteSearcher interface {
	ByEntity(entity string, k int) []models.ContextItem
	SearchSemantic(ctx context.Context, query string, k int) ([]models.ContextItem, error)
	SearchText(query string, k int) []models.ContextItem
}

// Query describes what to retrieve context for.
type Query struct {
	Entities []string
	// Semantic is free text embedded for the similarity pool; empty skips
	// that pool.
	Semantic string
	// ThreadID keys the thread-affinity pool; empty skips it.
	ThreadID string
}

// Retriever composes the three pools per the configured weights.
type Retriever struct {
	store  NoteSearcher
	config *config.ContextConfig
	logger *slog.Logger
}

func NewRetriever(store NoteSearcher, cfg *config.ContextConfig, logger *slog.Logger) *Retriever {
	if cfg == nil {
		cfg = config.DefaultContextConfig()
	}
	return &Retriever{
		store:  store,
		config: cfg,
		logger: logger.With("component", "context_retrieval"),
	}
}

// poolScores accumulates the best per-pool score each note achieved.
type poolScores struct {
	item     models.ContextItem
	entity   float64
	semantic float64
	thread   float64
}

// Retrieve returns the top-k context items for the query, ordered by
// composed score. Items below the relevance floor are dropped.
func (r *Retriever) Retrieve(ctx context.Context, q Query) ([]models.ContextItem, error) {
	perPool := r.config.TopK * 3
	if perPool < 10 {
		perPool = 10
	}

	pools := map[string]*poolScores{}
	merge := func(items []models.ContextItem, assign func(*poolScores, float64)) {
		for _, item := range items {
			p, ok := pools[item.NoteID]
			if !ok {
				p = &poolScores{item: item}
				pools[item.NoteID] = p
			}
			assign(p, item.Score)
		}
	}

	for _, entity := range q.Entities {
		merge(r.store.ByEntity(entity, perPool), func(p *poolScores, s float64) {
			if s > p.entity {
				p.entity = s
			}
		})
	}

	if q.Semantic != "" {
		items, err := r.store.SearchSemantic(ctx, q.Semantic, perPool)
		if err != nil {
			// The semantic pool is one signal of three; degrade rather
			// than fail the whole retrieval.
			r.logger.Warn("Semantic pool unavailable", "error", err)
		} else {
			merge(items, func(p *poolScores, s float64) {
				if s > p.semantic {
					p.semantic = s
				}
			})
		}
	}

	if q.ThreadID != "" {
		merge(r.store.SearchText("thread:"+q.ThreadID, perPool), func(p *poolScores, s float64) {
			if s > p.thread {
				p.thread = s
			}
		})
	}

	w := r.config.Weights
	results := make([]models.ContextItem, 0, len(pools))
	for _, p := range pools {
		item := p.item
		item.Score = w.Entity*p.entity + w.Semantic*p.semantic + w.Thread*p.thread
		if item.Score < r.config.MinRelevance {
			continue
		}
		results = append(results, item)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].UpdatedAt.Equal(results[j].UpdatedAt) {
			return results[i].UpdatedAt.After(results[j].UpdatedAt)
		}
		return results[i].NoteID < results[j].NoteID
	})
	if len(results) > r.config.TopK {
		results = results[:r.config.TopK]
	}

	r.logger.Debug("Context retrieved",
		"entities", len(q.Entities),
		"candidates", len(pools),
		"returned", len(results))
	return results, nil
}
