// Package crosssource fans a query out to per-source search adapters and
// merges their results into one scored, deduplicated list.
package crosssource

import (
	"context"

	"github.com/majordome-ai/majordome/pkg/models"
)

// SearchOptions narrows an adapter's search using hints from the context
// note's linked sources.
type SearchOptions struct {
	// Filter is adapter-specific: a mail folder, a chat or contact name, a
	// directory under the allowed roots.
	Filter string
}

// Adapter searches one source. Implementations must honor ctx cancellation
// cooperatively; the orchestrator enforces a per-adapter deadline.
type Adapter interface {
	// SourceName identifies the source this adapter covers.
	SourceName() models.Source

	// IsAvailable reports whether the adapter can serve queries right now.
	IsAvailable() bool

	// Search returns up to limit hits with adapter-relative relevance in
	// [0,1]. The orchestrator applies source weights and freshness decay.
	Search(ctx context.Context, query string, limit int, opts SearchOptions) ([]models.SearchResult, error)
}
