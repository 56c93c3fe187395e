package knowledge

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/majordome-ai/majordome/pkg/config"
	"github.com/majordome-ai/majordome/pkg/embedding"
	"github.com/majordome-ai/majordome/pkg/models"
)

const versionsDirName = ".versions"

// CreateSpec describes a new note.
type CreateSpec struct {
	Title         string
	Body          string
	Type          string
	Folder        string
	Tags          []string
	Frontmatter   map[string]any
	LinkedSources []models.LinkedSource
	Summary       string
}

// EditSpec describes one write against an existing note. Exactly one of
// ReplaceBody or Append should be set for a body change; metadata fields
// apply either way. BaseVersion, when non-zero, makes the write conditional.
type EditSpec struct {
	ReplaceBody *string
	Append      *AppendSpec
	Title       string
	Tags        []string
	AddSources  []models.LinkedSource
	Frontmatter map[string]any
	Summary     string
	BaseVersion int
}

// AppendSpec adds a formatted entry to a Markdown section of the body.
type AppendSpec struct {
	Section string
	Text    string
	Format  models.NoteFormat
	When    time.Time
}

type catalogEntry struct {
	note *models.Note
}

// Store is the file-backed knowledge store: one Markdown file per note with
// YAML frontmatter, an append-only version history under .versions/, and a
// vector index for semantic lookup. Writes are serialized per note id.
type Store struct {
	rootDir string
	index   *VectorIndex
	engine  embedding.Engine
	locks   *stripedLock
	logger  *slog.Logger

	mu      sync.RWMutex
	catalog map[string]*catalogEntry
	now     func() time.Time
}

// Open loads every note under cfg.RootDir into the catalog and opens the
// vector index. Notes missing from the index are embedded lazily by
// RebuildIndex; Open itself does no network I/O.
func Open(cfg config.KnowledgeConfig, engine embedding.Engine, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(cfg.RootDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create knowledge root: %w", err)
	}

	indexDir := cfg.IndexDir
	if indexDir == "" {
		indexDir = filepath.Join(cfg.RootDir, ".index")
	}
	index, err := OpenVectorIndex(indexDir, engine.Dimensions())
	if err != nil {
		return nil, err
	}

	s := &Store{
		rootDir: cfg.RootDir,
		index:   index,
		engine:  engine,
		locks:   newStripedLock(cfg.LockStripes),
		logger:  logger.With("component", "knowledge_store"),
		catalog: make(map[string]*catalogEntry),
		now:     time.Now,
	}
	if err := s.loadCatalog(); err != nil {
		return nil, err
	}
	s.logger.Info("Knowledge store opened", "notes", len(s.catalog), "indexed", index.Len())
	return s, nil
}

func (s *Store) loadCatalog() error {
	return filepath.WalkDir(s.rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if name == versionsDirName || strings.HasPrefix(name, ".") && path != s.rootDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		note, err := s.readNoteFile(path)
		if err != nil {
			s.logger.Warn("Skipping unreadable note file", "path", path, "error", err)
			return nil
		}
		s.catalog[note.ID] = &catalogEntry{note: note}
		return nil
	})
}

func (s *Store) readNoteFile(path string) (*models.Note, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	note, err := decodeNote(data)
	if err != nil {
		return nil, err
	}
	rel, err := filepath.Rel(s.rootDir, filepath.Dir(path))
	if err != nil || rel == "." {
		rel = ""
	}
	note.Folder = filepath.ToSlash(rel)
	return note, nil
}

func (s *Store) notePath(n *models.Note) string {
	dir := s.rootDir
	if n.Folder != "" {
		dir = filepath.Join(dir, filepath.FromSlash(n.Folder))
	}
	return filepath.Join(dir, n.ID+".md")
}

func (s *Store) versionPath(id string, version int) string {
	return filepath.Join(s.rootDir, versionsDirName, id, strconv.Itoa(version)+".md")
}

// Get returns the note by id. Soft-deleted notes return ErrNoteDeleted.
func (s *Store) Get(id string) (*models.Note, error) {
	s.mu.RLock()
	entry, ok := s.catalog[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNoteNotFound
	}
	if entry.note.Deleted {
		return nil, ErrNoteDeleted
	}
	return cloneNote(entry.note), nil
}

// Create writes a new note and its first version. The id derives from the
// title and never changes afterward.
func (s *Store) Create(ctx context.Context, spec CreateSpec) (*models.Note, error) {
	if strings.TrimSpace(spec.Title) == "" {
		return nil, fmt.Errorf("note title is required")
	}

	id := NoteID(spec.Title)
	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	s.mu.RLock()
	_, exists := s.catalog[id]
	s.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("%w: note %s already exists", ErrNoteConflict, id)
	}

	now := s.now().UTC()
	note := &models.Note{
		ID:            id,
		Title:         spec.Title,
		Folder:        filepath.ToSlash(spec.Folder),
		Type:          spec.Type,
		Tags:          spec.Tags,
		LinkedSources: spec.LinkedSources,
		Frontmatter:   spec.Frontmatter,
		Body:          spec.Body,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.persist(ctx, note, spec.Summary); err != nil {
		return nil, err
	}
	return cloneNote(note), nil
}

// Update applies an edit to a note, producing a new immutable version and a
// refreshed embedding. A non-zero BaseVersion that no longer matches the
// current version fails with ErrNoteConflict.
func (s *Store) Update(ctx context.Context, id string, edit EditSpec) (*models.Note, error) {
	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	s.mu.RLock()
	entry, ok := s.catalog[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNoteNotFound
	}
	if entry.note.Deleted {
		return nil, ErrNoteDeleted
	}
	if edit.BaseVersion != 0 && edit.BaseVersion != entry.note.Version {
		return nil, fmt.Errorf("%w: note %s is at version %d, edit expected %d",
			ErrNoteConflict, id, entry.note.Version, edit.BaseVersion)
	}

	note := cloneNote(entry.note)
	switch {
	case edit.ReplaceBody != nil:
		note.Body = *edit.ReplaceBody
	case edit.Append != nil:
		when := edit.Append.When
		if when.IsZero() {
			when = s.now()
		}
		entryText := formatEntry(edit.Append.Format, edit.Append.Text, when)
		note.Body = appendToSection(note.Body, edit.Append.Section, entryText)
	}
	if edit.Title != "" {
		note.Title = edit.Title
	}
	if edit.Tags != nil {
		note.Tags = edit.Tags
	}
	for _, src := range edit.AddSources {
		if !hasLinkedSource(note.LinkedSources, src) {
			note.LinkedSources = append(note.LinkedSources, src)
		}
	}
	if edit.Frontmatter != nil {
		if note.Frontmatter == nil {
			note.Frontmatter = map[string]any{}
		}
		for k, v := range edit.Frontmatter {
			note.Frontmatter[k] = v
		}
	}

	note.Version++
	note.UpdatedAt = s.now().UTC()

	if err := s.persist(ctx, note, edit.Summary); err != nil {
		return nil, err
	}
	return cloneNote(note), nil
}

// persist writes the note file, appends the version snapshot, refreshes the
// catalog, and re-embeds. Caller holds the note's stripe lock.
func (s *Store) persist(ctx context.Context, note *models.Note, summary string) error {
	data, err := encodeNote(note)
	if err != nil {
		return err
	}

	path := s.notePath(note)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create note directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write note %s: %w", note.ID, err)
	}

	if err := s.writeVersion(note, summary); err != nil {
		return err
	}

	s.mu.Lock()
	s.catalog[note.ID] = &catalogEntry{note: cloneNote(note)}
	s.mu.Unlock()

	if err := s.embed(ctx, note); err != nil {
		// The canonical store stays authoritative; index catches up on the
		// next write or rebuild.
		s.logger.Warn("Failed to refresh embedding", "note_id", note.ID, "error", err)
	}
	return nil
}

func (s *Store) writeVersion(note *models.Note, summary string) error {
	snapshot := cloneNote(note)
	if summary != "" {
		if snapshot.Frontmatter == nil {
			snapshot.Frontmatter = map[string]any{}
		}
		snapshot.Frontmatter["summary"] = summary
	}
	data, err := encodeNote(snapshot)
	if err != nil {
		return err
	}
	path := s.versionPath(note.ID, note.Version)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create versions directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write version %d of %s: %w", note.Version, note.ID, err)
	}
	return nil
}

func (s *Store) embed(ctx context.Context, note *models.Note) error {
	if note.Deleted {
		return s.index.Remove(note.ID)
	}
	vec, err := s.engine.Embed(ctx, note.Title+"\n\n"+note.Body)
	if err != nil {
		return err
	}
	return s.index.Upsert(note.ID, vec)
}

// ListVersions returns the version history of a note, oldest first.
func (s *Store) ListVersions(id string) ([]models.NoteVersion, error) {
	s.mu.RLock()
	_, ok := s.catalog[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNoteNotFound
	}

	dir := filepath.Join(s.rootDir, versionsDirName, id)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list versions of %s: %w", id, err)
	}

	versions := make([]models.NoteVersion, 0, len(entries))
	for _, e := range entries {
		v, err := strconv.Atoi(strings.TrimSuffix(e.Name(), ".md"))
		if err != nil {
			continue
		}
		note, err := s.readNoteFile(filepath.Join(dir, e.Name()))
		if err != nil {
			s.logger.Warn("Skipping unreadable version file", "note_id", id, "version", v, "error", err)
			continue
		}
		nv := models.NoteVersion{
			NoteID:    id,
			Version:   v,
			Title:     note.Title,
			Body:      note.Body,
			CreatedAt: note.UpdatedAt,
		}
		if summary, ok := note.Frontmatter["summary"].(string); ok {
			nv.Summary = summary
		}
		versions = append(versions, nv)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })
	return versions, nil
}

func (s *Store) getVersion(id string, version int) (*models.Note, error) {
	note, err := s.readNoteFile(s.versionPath(id, version))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: note %s has no version %d", ErrVersionNotFound, id, version)
		}
		return nil, err
	}
	return note, nil
}

// Diff returns a line-oriented diff between two versions of a note.
func (s *Store) Diff(id string, v1, v2 int) (string, error) {
	a, err := s.getVersion(id, v1)
	if err != nil {
		return "", err
	}
	b, err := s.getVersion(id, v2)
	if err != nil {
		return "", err
	}
	return diffLines(a.Body, b.Body), nil
}

// Restore makes an old version's content the newest version. History stays
// append-only: restoring version 2 of a note at version 5 produces version 6.
func (s *Store) Restore(ctx context.Context, id string, version int) (*models.Note, error) {
	old, err := s.getVersion(id, version)
	if err != nil {
		return nil, err
	}
	body := old.Body
	return s.Update(ctx, id, EditSpec{
		ReplaceBody: &body,
		Title:       old.Title,
		Summary:     fmt.Sprintf("restored from version %d", version),
	})
}

// RecordReview applies an SM-2 review outcome to the note's schedule.
// Quality must be in 0..5.
func (s *Store) RecordReview(ctx context.Context, id string, quality int) (*models.Note, error) {
	if quality < 0 || quality > 5 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuality, quality)
	}

	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	s.mu.RLock()
	entry, ok := s.catalog[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNoteNotFound
	}
	if entry.note.Deleted {
		return nil, ErrNoteDeleted
	}

	note := cloneNote(entry.note)
	note.Review = NextReview(note.Review, quality, s.now())
	note.Version++
	note.UpdatedAt = s.now().UTC()

	if err := s.persist(ctx, note, fmt.Sprintf("review quality %d", quality)); err != nil {
		return nil, err
	}
	return cloneNote(note), nil
}

// ListDue returns notes whose next review is at or before now, soonest
// first. Notes never reviewed are not due.
func (s *Store) ListDue(now time.Time) []*models.Note {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*models.Note
	for _, entry := range s.catalog {
		n := entry.note
		if n.Deleted || n.Review.NextReview.IsZero() || n.Review.NextReview.After(now) {
			continue
		}
		due = append(due, cloneNote(n))
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].Review.NextReview.Equal(due[j].Review.NextReview) {
			return due[i].Review.NextReview.Before(due[j].Review.NextReview)
		}
		return due[i].ID < due[j].ID
	})
	return due
}

// SoftDelete marks a note deleted and drops it from the index. The file and
// its history remain on disk so the delete can be undone by a restore.
func (s *Store) SoftDelete(ctx context.Context, id string) error {
	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	s.mu.RLock()
	entry, ok := s.catalog[id]
	s.mu.RUnlock()
	if !ok {
		return ErrNoteNotFound
	}
	if entry.note.Deleted {
		return nil
	}

	note := cloneNote(entry.note)
	note.Deleted = true
	note.Version++
	note.UpdatedAt = s.now().UTC()
	return s.persist(ctx, note, "soft-deleted")
}

// Undelete clears the deleted flag, bringing the note back into search.
func (s *Store) Undelete(ctx context.Context, id string) (*models.Note, error) {
	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	s.mu.RLock()
	entry, ok := s.catalog[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNoteNotFound
	}
	if !entry.note.Deleted {
		return cloneNote(entry.note), nil
	}

	note := cloneNote(entry.note)
	note.Deleted = false
	note.Version++
	note.UpdatedAt = s.now().UTC()
	if err := s.persist(ctx, note, "undeleted"); err != nil {
		return nil, err
	}
	return cloneNote(note), nil
}

// SearchText scores notes by token overlap against title, tags, and body.
// Title hits weigh double. Scores are normalized into [0,1].
func (s *Store) SearchText(query string, k int) []models.ContextItem {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var items []models.ContextItem
	for _, entry := range s.catalog {
		n := entry.note
		if n.Deleted {
			continue
		}
		titleLower := strings.ToLower(n.Title)
		bodyLower := strings.ToLower(n.Body)
		var hits float64
		for _, tok := range tokens {
			if strings.Contains(titleLower, tok) {
				hits += 2
			} else if strings.Contains(bodyLower, tok) || containsTag(n.Tags, tok) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		items = append(items, models.ContextItem{
			NoteID:    n.ID,
			Title:     n.Title,
			Score:     hits / float64(2*len(tokens)),
			Snippet:   snippetFor(n.Body, tokens),
			UpdatedAt: n.UpdatedAt,
		})
	}
	return rankItems(items, k)
}

// ByEntity returns notes mentioning the entity in title, tags, body, or the
// frontmatter `entities` list. An exact title or entity-list match scores 1.
func (s *Store) ByEntity(entity string, k int) []models.ContextItem {
	needle := strings.ToLower(strings.TrimSpace(entity))
	if needle == "" {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var items []models.ContextItem
	for _, entry := range s.catalog {
		n := entry.note
		if n.Deleted {
			continue
		}
		score := entityScore(n, needle)
		if score == 0 {
			continue
		}
		items = append(items, models.ContextItem{
			NoteID:    n.ID,
			Title:     n.Title,
			Score:     score,
			Snippet:   snippetFor(n.Body, []string{needle}),
			UpdatedAt: n.UpdatedAt,
		})
	}
	return rankItems(items, k)
}

func entityScore(n *models.Note, needle string) float64 {
	if strings.EqualFold(strings.TrimSpace(n.Title), needle) {
		return 1
	}
	for _, e := range frontmatterEntities(n.Frontmatter) {
		if strings.EqualFold(strings.TrimSpace(e), needle) {
			return 1
		}
	}
	if containsTag(n.Tags, needle) {
		return 0.9
	}
	if strings.Contains(strings.ToLower(n.Title), needle) {
		return 0.8
	}
	if strings.Contains(strings.ToLower(n.Body), needle) {
		return 0.6
	}
	return 0
}

// SearchSemantic embeds the query and returns nearest notes from the index.
func (s *Store) SearchSemantic(ctx context.Context, query string, k int) ([]models.ContextItem, error) {
	vec, err := s.engine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return s.SearchVector(vec, k), nil
}

// SearchVector returns nearest notes to a pre-computed query vector.
func (s *Store) SearchVector(vec []float32, k int) []models.ContextItem {
	if k <= 0 {
		k = 5
	}
	// Over-fetch so deleted or stale index entries do not shrink the result.
	hits := s.index.Search(vec, k*2)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var items []models.ContextItem
	for _, hit := range hits {
		entry, ok := s.catalog[hit.ID]
		if !ok || entry.note.Deleted {
			continue
		}
		items = append(items, models.ContextItem{
			NoteID:    hit.ID,
			Title:     entry.note.Title,
			Score:     hit.Score,
			Snippet:   snippetFor(entry.note.Body, nil),
			UpdatedAt: entry.note.UpdatedAt,
		})
		if len(items) == k {
			break
		}
	}
	return items
}

// All returns every live note. Used by the watcher and index rebuild.
func (s *Store) All() []*models.Note {
	s.mu.RLock()
	defer s.mu.RUnlock()
	notes := make([]*models.Note, 0, len(s.catalog))
	for _, entry := range s.catalog {
		if !entry.note.Deleted {
			notes = append(notes, cloneNote(entry.note))
		}
	}
	return notes
}

// Count returns live and deleted note counts.
func (s *Store) Count() (live, deleted int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, entry := range s.catalog {
		if entry.note.Deleted {
			deleted++
		} else {
			live++
		}
	}
	return live, deleted
}

// RebuildIndex re-embeds every live note and atomically swaps the vector
// index. Searches keep serving the old index until the swap.
func (s *Store) RebuildIndex(ctx context.Context) error {
	notes := s.All()

	texts := make([]string, len(notes))
	for i, n := range notes {
		texts[i] = n.Title + "\n\n" + n.Body
	}

	vectors := make(map[string][]float32, len(notes))
	// Batch in chunks to keep request sizes bounded.
	const batchSize = 64
	for start := 0; start < len(notes); start += batchSize {
		end := min(start+batchSize, len(notes))
		vecs, err := s.engine.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return fmt.Errorf("failed to embed notes for rebuild: %w", err)
		}
		for i, vec := range vecs {
			vectors[notes[start+i].ID] = vec
		}
	}

	if err := s.index.Rebuild(vectors); err != nil {
		return err
	}
	s.logger.Info("Vector index rebuilt", "notes", len(vectors))
	return nil
}

// reload refreshes one note from disk after an external edit. Used by the
// watcher; the note keeps its version counter from the file.
func (s *Store) reload(ctx context.Context, path string) error {
	note, err := s.readNoteFile(path)
	if err != nil {
		return err
	}

	s.locks.Lock(note.ID)
	defer s.locks.Unlock(note.ID)

	s.mu.Lock()
	s.catalog[note.ID] = &catalogEntry{note: note}
	s.mu.Unlock()

	return s.embed(ctx, note)
}

// forget drops a note whose file disappeared from disk.
func (s *Store) forget(id string) error {
	s.mu.Lock()
	delete(s.catalog, id)
	s.mu.Unlock()
	return s.index.Remove(id)
}

func rankItems(items []models.ContextItem, k int) []models.ContextItem {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		if !items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].UpdatedAt.After(items[j].UpdatedAt)
		}
		return items[i].NoteID < items[j].NoteID
	})
	if k > 0 && len(items) > k {
		items = items[:k]
	}
	return items
}

func tokenize(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	tokens := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?\"'()[]")
		if len(f) >= 2 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// frontmatterEntities reads the optional `entities` list, tolerating both
// the YAML-decoded []any form and a []string set programmatically.
func frontmatterEntities(fm map[string]any) []string {
	switch v := fm["entities"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func containsTag(tags []string, needle string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, needle) {
			return true
		}
	}
	return false
}

// snippetFor returns a short excerpt of the body, preferring the first line
// containing one of the tokens.
func snippetFor(body string, tokens []string) string {
	const maxLen = 160
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		lower := strings.ToLower(trimmed)
		for _, tok := range tokens {
			if strings.Contains(lower, tok) {
				return truncate(trimmed, maxLen)
			}
		}
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			return truncate(trimmed, maxLen)
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func cloneNote(n *models.Note) *models.Note {
	c := *n
	c.Tags = append([]string(nil), n.Tags...)
	c.LinkedSources = append([]models.LinkedSource(nil), n.LinkedSources...)
	if n.Frontmatter != nil {
		c.Frontmatter = make(map[string]any, len(n.Frontmatter))
		for k, v := range n.Frontmatter {
			c.Frontmatter[k] = v
		}
	}
	return &c
}

func hasLinkedSource(list []models.LinkedSource, s models.LinkedSource) bool {
	for _, have := range list {
		if have == s {
			return true
		}
	}
	return false
}

// diffLines produces a minimal line diff in the familiar -/+ form, with
// unchanged lines prefixed by two spaces.
func diffLines(a, b string) string {
	al := strings.Split(a, "\n")
	bl := strings.Split(b, "\n")

	// LCS table; note bodies are small enough for the quadratic approach.
	lcs := make([][]int, len(al)+1)
	for i := range lcs {
		lcs[i] = make([]int, len(bl)+1)
	}
	for i := len(al) - 1; i >= 0; i-- {
		for j := len(bl) - 1; j >= 0; j-- {
			if al[i] == bl[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else {
				lcs[i][j] = max(lcs[i+1][j], lcs[i][j+1])
			}
		}
	}

	var out strings.Builder
	i, j := 0, 0
	for i < len(al) && j < len(bl) {
		switch {
		case al[i] == bl[j]:
			out.WriteString("  " + al[i] + "\n")
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			out.WriteString("- " + al[i] + "\n")
			i++
		default:
			out.WriteString("+ " + bl[j] + "\n")
			j++
		}
	}
	for ; i < len(al); i++ {
		out.WriteString("- " + al[i] + "\n")
	}
	for ; j < len(bl); j++ {
		out.WriteString("+ " + bl[j] + "\n")
	}
	return out.String()
}
