package services

import (
	"context"
	"log/slog"
	"strings"

	"github.com/majordome-ai/majordome/pkg/crosssource"
	"github.com/majordome-ai/majordome/pkg/models"
)

// SearchService fronts cross-source search for the API. Adapter failures
// reported by the searcher are mirrored into the warnings registry so the
// health surface shows degraded sources.
type SearchService struct {
	searcher *crosssource.Searcher
	warnings *SystemWarningsService
	logger   *slog.Logger
}

// NewSearchService creates the service. warnings may be nil.
func NewSearchService(searcher *crosssource.Searcher, warnings *SystemWarningsService, logger *slog.Logger) *SearchService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchService{
		searcher: searcher,
		warnings: warnings,
		logger:   logger.With("service", "search"),
	}
}

// Search runs a cross-source query. Failed adapters degrade the response,
// never fail it.
func (s *SearchService) Search(ctx context.Context, req models.SearchRequest) (models.SearchResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return models.SearchResponse{}, NewValidationError("query", "is required")
	}

	resp, err := s.searcher.Search(ctx, req)
	if err != nil {
		return models.SearchResponse{}, err
	}

	if s.warnings != nil {
		for _, source := range resp.SourcesFailed {
			s.warnings.MarkDegraded(source, nil)
		}
	}
	return resp, nil
}

// DegradedSources reports search adapters currently marked degraded by the
// searcher's own backoff tracking.
func (s *SearchService) DegradedSources() []models.Source {
	degraded := s.searcher.DegradedSources()
	sources := make([]models.Source, 0, len(degraded))
	for source := range degraded {
		sources = append(sources, source)
	}
	return sources
}
