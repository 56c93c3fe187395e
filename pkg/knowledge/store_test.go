package knowledge

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
	"github.com/majordome-ai/majordome/pkg/embedding"
	"github.com/majordome-ai/majordome/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.KnowledgeConfig{
		RootDir:     t.TempDir(),
		LockStripes: 8,
	}
	store, err := Open(cfg, embedding.NewLocalEngine(64), testLogger())
	require.NoError(t, err)
	return store
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)

	note, err := store.Create(context.Background(), CreateSpec{
		Title:       "Acme Renewal",
		Body:        "## Status\n\n- kickoff done\n",
		Type:        "project",
		Folder:      "projects",
		Tags:        []string{"acme"},
		Frontmatter: map[string]any{"owner": "me"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, note.Version)
	assert.NotEmpty(t, note.ID)

	got, err := store.Get(note.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Renewal", got.Title)
	assert.Equal(t, "projects", got.Folder)
	assert.Equal(t, "me", got.Frontmatter["owner"])
}

func TestGetUnknownNote(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get("no-such-note")
	assert.ErrorIs(t, err, ErrNoteNotFound)
}

func TestCreateDuplicateTitleConflicts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, CreateSpec{Title: "Standup Notes", Body: "a\n"})
	require.NoError(t, err)
	_, err = store.Create(ctx, CreateSpec{Title: "Standup Notes", Body: "b\n"})
	assert.ErrorIs(t, err, ErrNoteConflict)
}

func TestUpdateAppendsVersion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	note, err := store.Create(ctx, CreateSpec{
		Title: "Acme Renewal",
		Body:  "## History\n\n- created\n",
	})
	require.NoError(t, err)

	updated, err := store.Update(ctx, note.ID, EditSpec{
		Append: &AppendSpec{
			Section: "## History",
			Text:    "kickoff moved to Friday",
			Format:  models.FormatBulletDate,
			When:    time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC),
		},
		Summary: "logged schedule change",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.Contains(t, updated.Body, "- 2026-08-20 — kickoff moved to Friday")
	assert.Contains(t, updated.Body, "- created")

	versions, err := store.ListVersions(note.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 1, versions[0].Version)
	assert.Equal(t, 2, versions[1].Version)
	assert.Equal(t, "logged schedule change", versions[1].Summary)
}

func TestUpdateConflictOnStaleBaseVersion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	note, err := store.Create(ctx, CreateSpec{Title: "Contacts", Body: "x\n"})
	require.NoError(t, err)

	body := "y\n"
	_, err = store.Update(ctx, note.ID, EditSpec{ReplaceBody: &body})
	require.NoError(t, err)

	stale := "z\n"
	_, err = store.Update(ctx, note.ID, EditSpec{ReplaceBody: &stale, BaseVersion: 1})
	assert.ErrorIs(t, err, ErrNoteConflict)
}

func TestDiffAndRestore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	note, err := store.Create(ctx, CreateSpec{Title: "Plan", Body: "first draft\n"})
	require.NoError(t, err)

	replacement := "second draft\n"
	_, err = store.Update(ctx, note.ID, EditSpec{ReplaceBody: &replacement})
	require.NoError(t, err)

	diff, err := store.Diff(note.ID, 1, 2)
	require.NoError(t, err)
	assert.Contains(t, diff, "- first draft")
	assert.Contains(t, diff, "+ second draft")

	restored, err := store.Restore(ctx, note.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, restored.Version, "restore appends, never rewrites history")
	assert.Contains(t, restored.Body, "first draft")

	versions, err := store.ListVersions(note.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 3)
}

func TestDiffUnknownVersion(t *testing.T) {
	store := newTestStore(t)
	note, err := store.Create(context.Background(), CreateSpec{Title: "Plan", Body: "x\n"})
	require.NoError(t, err)

	_, err = store.Diff(note.ID, 1, 9)
	assert.ErrorIs(t, err, ErrVersionNotFound)
}

func TestRecordReviewSchedules(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	note, err := store.Create(ctx, CreateSpec{Title: "Spanish Vocab", Body: "hola\n"})
	require.NoError(t, err)

	reviewed, err := store.RecordReview(ctx, note.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, reviewed.Review.Repetition)
	assert.Equal(t, 1, reviewed.Review.IntervalDays)
	assert.True(t, reviewed.Review.NextReview.After(time.Now()))

	_, err = store.RecordReview(ctx, note.ID, 6)
	assert.ErrorIs(t, err, ErrInvalidQuality)
}

func TestListDueOrdersBySchedule(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	early, err := store.Create(ctx, CreateSpec{Title: "Early", Body: "x\n"})
	require.NoError(t, err)
	late, err := store.Create(ctx, CreateSpec{Title: "Late", Body: "x\n"})
	require.NoError(t, err)
	_, err = store.Create(ctx, CreateSpec{Title: "Never Reviewed", Body: "x\n"})
	require.NoError(t, err)

	_, err = store.RecordReview(ctx, early.ID, 3)
	require.NoError(t, err)
	_, err = store.RecordReview(ctx, late.ID, 3)
	require.NoError(t, err)

	due := store.ListDue(time.Now().AddDate(0, 0, 2))
	require.Len(t, due, 2, "unreviewed notes are never due")
}

func TestSoftDeleteExcludesFromSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	note, err := store.Create(ctx, CreateSpec{Title: "Acme Renewal", Body: "contract details\n"})
	require.NoError(t, err)

	require.NotEmpty(t, store.SearchText("contract", 5))

	require.NoError(t, store.SoftDelete(ctx, note.ID))

	assert.Empty(t, store.SearchText("contract", 5))
	assert.Empty(t, store.ByEntity("Acme Renewal", 5))

	_, err = store.Get(note.ID)
	assert.ErrorIs(t, err, ErrNoteDeleted)

	items, err := store.SearchSemantic(ctx, "contract details", 5)
	require.NoError(t, err)
	for _, item := range items {
		assert.NotEqual(t, note.ID, item.NoteID)
	}
}

func TestUndeleteRestoresVisibility(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	note, err := store.Create(ctx, CreateSpec{Title: "Acme Renewal", Body: "contract details\n"})
	require.NoError(t, err)
	require.NoError(t, store.SoftDelete(ctx, note.ID))

	restored, err := store.Undelete(ctx, note.ID)
	require.NoError(t, err)
	assert.False(t, restored.Deleted)
	assert.NotEmpty(t, store.SearchText("contract", 5))
}

func TestSearchTextRanksTitleAboveBody(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	titled, err := store.Create(ctx, CreateSpec{Title: "Budget Review", Body: "numbers\n"})
	require.NoError(t, err)
	_, err = store.Create(ctx, CreateSpec{Title: "Meeting Notes", Body: "we discussed the budget\n"})
	require.NoError(t, err)

	items := store.SearchText("budget", 5)
	require.Len(t, items, 2)
	assert.Equal(t, titled.ID, items[0].NoteID)
	assert.Greater(t, items[0].Score, items[1].Score)
}

func TestByEntityExactMatchScoresHighest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	exact, err := store.Create(ctx, CreateSpec{Title: "Jane Doe", Body: "runs procurement at Acme\n"})
	require.NoError(t, err)
	_, err = store.Create(ctx, CreateSpec{
		Title: "Acme Renewal",
		Body:  "counterpart is Jane Doe\n",
	})
	require.NoError(t, err)

	items := store.ByEntity("Jane Doe", 5)
	require.Len(t, items, 2)
	assert.Equal(t, exact.ID, items[0].NoteID)
	assert.Equal(t, 1.0, items[0].Score)
}

func TestByEntityFrontmatterList(t *testing.T) {
	store := newTestStore(t)

	note, err := store.Create(context.Background(), CreateSpec{
		Title:       "Q3 Planning",
		Body:        "agenda\n",
		Frontmatter: map[string]any{"entities": []string{"Acme Corp"}},
	})
	require.NoError(t, err)

	items := store.ByEntity("acme corp", 5)
	require.Len(t, items, 1)
	assert.Equal(t, note.ID, items[0].NoteID)
	assert.Equal(t, 1.0, items[0].Score)
}

func TestSearchSemanticFindsRelatedNote(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	target, err := store.Create(ctx, CreateSpec{
		Title: "Kitchen Renovation",
		Body:  "contractor quotes for the kitchen renovation project\n",
	})
	require.NoError(t, err)
	_, err = store.Create(ctx, CreateSpec{
		Title: "Spanish Vocab",
		Body:  "hola buenos dias gracias\n",
	})
	require.NoError(t, err)

	items, err := store.SearchSemantic(ctx, "kitchen renovation contractor quotes", 2)
	require.NoError(t, err)
	require.NotEmpty(t, items)
	assert.Equal(t, target.ID, items[0].NoteID)
}

func TestReopenLoadsCatalogFromDisk(t *testing.T) {
	dir := t.TempDir()
	cfg := config.KnowledgeConfig{RootDir: dir, LockStripes: 8}
	engine := embedding.NewLocalEngine(64)

	store, err := Open(cfg, engine, testLogger())
	require.NoError(t, err)
	note, err := store.Create(context.Background(), CreateSpec{
		Title:  "Persistent Note",
		Body:   "survives restarts\n",
		Folder: "misc",
	})
	require.NoError(t, err)

	reopened, err := Open(cfg, engine, testLogger())
	require.NoError(t, err)

	got, err := reopened.Get(note.ID)
	require.NoError(t, err)
	assert.Equal(t, "Persistent Note", got.Title)
	assert.Equal(t, "misc", got.Folder)
	assert.Contains(t, got.Body, "survives restarts")
}

func TestRebuildIndex(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, title := range []string{"One", "Two", "Three"} {
		_, err := store.Create(ctx, CreateSpec{Title: title, Body: title + " body\n"})
		require.NoError(t, err)
	}
	note, err := store.Create(ctx, CreateSpec{Title: "Doomed", Body: "x\n"})
	require.NoError(t, err)
	require.NoError(t, store.SoftDelete(ctx, note.ID))

	require.NoError(t, store.RebuildIndex(ctx))
	assert.Equal(t, 3, store.index.Len(), "rebuild drops soft-deleted notes")
}

func TestConcurrentUpdatesSerializePerNote(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	note, err := store.Create(ctx, CreateSpec{Title: "Busy Note", Body: "## Log\n"})
	require.NoError(t, err)

	const writers = 8
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		go func() {
			_, err := store.Update(ctx, note.ID, EditSpec{
				Append: &AppendSpec{Section: "## Log", Text: "entry", Format: models.FormatBullet},
			})
			errs <- err
		}()
	}
	for i := 0; i < writers; i++ {
		require.NoError(t, <-errs)
	}

	got, err := store.Get(note.ID)
	require.NoError(t, err)
	assert.Equal(t, 1+writers, got.Version)

	versions, err := store.ListVersions(note.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 1+writers)
}

func TestUpdateDeletedNote(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	note, err := store.Create(ctx, CreateSpec{Title: "Gone", Body: "x\n"})
	require.NoError(t, err)
	require.NoError(t, store.SoftDelete(ctx, note.ID))

	body := "y\n"
	_, err = store.Update(ctx, note.ID, EditSpec{ReplaceBody: &body})
	assert.True(t, errors.Is(err, ErrNoteDeleted))
}
