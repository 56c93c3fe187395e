package models

import "time"

// SearchRequest is a cross-source search query.
type SearchRequest struct {
	Query            string   `json:"query"`
	PreferredSources []Source `json:"preferred_sources,omitempty"`
	ExcludeSources   []Source `json:"exclude_sources,omitempty"`
	IncludeWeb       bool     `json:"include_web,omitempty"`
	ContextNoteID    string   `json:"context_note_id,omitempty"`
	MaxPerSource     int      `json:"max_per_source,omitempty"`
}

// SearchResult is one scored hit from a source adapter.
type SearchResult struct {
	Source     Source            `json:"source"`
	Identifier string            `json:"identifier"`
	Title      string            `json:"title,omitempty"`
	Snippet    string            `json:"snippet,omitempty"`
	Score      float64           `json:"score"`
	OccurredAt time.Time         `json:"occurred_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// SearchResponse is the merged, deduplicated outcome of a cross-source
// search. SourcesFailed lists adapters that timed out or errored; surviving
// adapters still contribute.
type SearchResponse struct {
	Results       []SearchResult `json:"results"`
	SourcesFailed []Source       `json:"sources_failed,omitempty"`
	FromCache     bool           `json:"from_cache,omitempty"`
}
