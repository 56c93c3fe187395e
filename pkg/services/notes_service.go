package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/majordome-ai/majordome/pkg/knowledge"
	"github.com/majordome-ai/majordome/pkg/models"
)

// NotesService is the API-facing surface over the knowledge store: hybrid
// search, version history, spaced-repetition reviews, and index rebuilds.
type NotesService struct {
	store  *knowledge.Store
	logger *slog.Logger
}

// NewNotesService creates the service.
func NewNotesService(store *knowledge.Store, logger *slog.Logger) *NotesService {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotesService{
		store:  store,
		logger: logger.With("service", "notes"),
	}
}

// Get loads one note.
func (s *NotesService) Get(_ context.Context, id string) (*models.Note, error) {
	note, err := s.store.Get(id)
	if err != nil {
		return nil, mapKnowledgeError(id, err)
	}
	return note, nil
}

// Search runs hybrid text plus semantic search over live notes, merged by
// best score. Soft-deleted notes never surface.
func (s *NotesService) Search(ctx context.Context, query string, k int) ([]models.ContextItem, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, NewValidationError("query", "is required")
	}
	if k <= 0 {
		k = 10
	}

	best := make(map[string]models.ContextItem)
	for _, item := range s.store.SearchText(query, k) {
		best[item.NoteID] = item
	}

	semantic, err := s.store.SearchSemantic(ctx, query, k)
	if err != nil {
		// Text results still serve; semantic search needs the embedder.
		s.logger.Warn("Semantic search failed, text-only results", "error", err)
	}
	for _, item := range semantic {
		if existing, ok := best[item.NoteID]; !ok || item.Score > existing.Score {
			best[item.NoteID] = item
		}
	}

	items := make([]models.ContextItem, 0, len(best))
	for _, item := range best {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].NoteID < items[j].NoteID
	})
	if len(items) > k {
		items = items[:k]
	}
	return items, nil
}

// Review applies an SM-2 review with the given quality (0..5) and returns
// the note with its new review schedule.
func (s *NotesService) Review(ctx context.Context, id string, quality int) (*models.Note, error) {
	if quality < 0 || quality > 5 {
		return nil, NewValidationError("quality", "must be between 0 and 5")
	}
	note, err := s.store.RecordReview(ctx, id, quality)
	if err != nil {
		return nil, mapKnowledgeError(id, err)
	}
	return note, nil
}

// ListVersions returns a note's version history, newest last.
func (s *NotesService) ListVersions(_ context.Context, id string) ([]models.NoteVersion, error) {
	versions, err := s.store.ListVersions(id)
	if err != nil {
		return nil, mapKnowledgeError(id, err)
	}
	return versions, nil
}

// Restore rolls a note back to an earlier version (as a new version).
func (s *NotesService) Restore(ctx context.Context, id string, version int) (*models.Note, error) {
	note, err := s.store.Restore(ctx, id, version)
	if err != nil {
		return nil, mapKnowledgeError(id, err)
	}
	return note, nil
}

// RebuildIndex re-embeds every live note into a fresh semantic index and
// swaps it in atomically.
func (s *NotesService) RebuildIndex(ctx context.Context) error {
	if err := s.store.RebuildIndex(ctx); err != nil {
		return fmt.Errorf("failed to rebuild index: %w", err)
	}
	s.logger.Info("Semantic index rebuilt")
	return nil
}

// Counts reports live and soft-deleted note counts.
func (s *NotesService) Counts(_ context.Context) (live, deleted int) {
	return s.store.Count()
}

func mapKnowledgeError(id string, err error) error {
	if errors.Is(err, knowledge.ErrNoteNotFound) {
		return fmt.Errorf("note %s: %w", id, ErrNotFound)
	}
	return err
}
