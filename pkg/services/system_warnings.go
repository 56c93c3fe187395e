package services

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/majordome-ai/majordome/pkg/models"
)

// Warning categories.
const (
	// WarningCategorySourceDegraded marks a source adapter that is failing
	// with SourceUnavailable (ingest or search side).
	WarningCategorySourceDegraded = "source_degraded"
)

// SystemWarning is a non-fatal condition surfaced on the health endpoint.
type SystemWarning struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SystemWarningsService manages in-memory system warnings.
// Thread-safe. Not persisted — warnings are transient and reset on restart.
type SystemWarningsService struct {
	mu       sync.RWMutex
	warnings map[string]*SystemWarning
}

// NewSystemWarningsService creates a new SystemWarningsService.
func NewSystemWarningsService() *SystemWarningsService {
	return &SystemWarningsService{
		warnings: make(map[string]*SystemWarning),
	}
}

// AddWarning adds a warning and returns its ID. An existing warning with the
// same category and source is replaced, so a flapping source never piles up.
func (s *SystemWarningsService) AddWarning(category, message, details, source string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, w := range s.warnings {
		if w.Category == category && w.Source == source {
			delete(s.warnings, id)
			break
		}
	}

	id := uuid.New().String()
	s.warnings[id] = &SystemWarning{
		ID:        id,
		Category:  category,
		Message:   message,
		Details:   details,
		Source:    source,
		CreatedAt: time.Now(),
	}
	return id
}

// GetWarnings returns all active warnings as value copies.
func (s *SystemWarningsService) GetWarnings() []*SystemWarning {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*SystemWarning, 0, len(s.warnings))
	for _, w := range s.warnings {
		cp := *w
		result = append(result, &cp)
	}
	return result
}

// ClearBySource removes a warning matching category and source. Returns
// true if a warning was removed.
func (s *SystemWarningsService) ClearBySource(category, source string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, w := range s.warnings {
		if w.Category == category && w.Source == source {
			delete(s.warnings, id)
			return true
		}
	}
	return false
}

// MarkDegraded records a degraded source. Implements the ingestor's health
// sink.
func (s *SystemWarningsService) MarkDegraded(source models.Source, err error) {
	details := ""
	if err != nil {
		details = err.Error()
	}
	s.AddWarning(WarningCategorySourceDegraded,
		"source is unavailable and backing off", details, string(source))
}

// MarkHealthy clears the degraded warning of a recovered source.
func (s *SystemWarningsService) MarkHealthy(source models.Source) {
	s.ClearBySource(WarningCategorySourceDegraded, string(source))
}

// DegradedSources lists sources currently flagged degraded.
func (s *SystemWarningsService) DegradedSources() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sources []string
	for _, w := range s.warnings {
		if w.Category == WarningCategorySourceDegraded && w.Source != "" {
			sources = append(sources, w.Source)
		}
	}
	return sources
}
