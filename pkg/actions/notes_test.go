package actions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majordome-ai/majordome/pkg/knowledge"
	"github.com/majordome-ai/majordome/pkg/models"
)

// fakeNoteWriter records knowledge-store calls.
type fakeNoteWriter struct {
	notes       map[string]*models.Note
	created     []knowledge.CreateSpec
	updated     []knowledge.EditSpec
	softDeleted []string
	restored    [][2]any // id, version
}

func newFakeNoteWriter() *fakeNoteWriter {
	return &fakeNoteWriter{notes: make(map[string]*models.Note)}
}

func (f *fakeNoteWriter) Get(id string) (*models.Note, error) {
	n, ok := f.notes[id]
	if !ok {
		return nil, knowledge.ErrNoteNotFound
	}
	return n, nil
}

func (f *fakeNoteWriter) Create(ctx context.Context, spec knowledge.CreateSpec) (*models.Note, error) {
	f.created = append(f.created, spec)
	n := &models.Note{ID: knowledge.NoteID(spec.Title), Title: spec.Title, Body: spec.Body, Version: 1}
	f.notes[n.ID] = n
	return n, nil
}

func (f *fakeNoteWriter) Update(ctx context.Context, id string, edit knowledge.EditSpec) (*models.Note, error) {
	f.updated = append(f.updated, edit)
	n := f.notes[id]
	n.Version++
	return n, nil
}

func (f *fakeNoteWriter) Restore(ctx context.Context, id string, version int) (*models.Note, error) {
	f.restored = append(f.restored, [2]any{id, version})
	return f.notes[id], nil
}

func (f *fakeNoteWriter) SoftDelete(ctx context.Context, id string) error {
	f.softDeleted = append(f.softDeleted, id)
	return nil
}

func registryWithNotes(t *testing.T, writer NoteWriter) *Registry {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, RegisterNoteHandlers(reg, writer))
	return reg
}

func TestCreateNoteHandler(t *testing.T) {
	writer := newFakeNoteWriter()
	reg := registryWithNotes(t, writer)

	h, err := reg.Resolve(models.ActionKindCreateNote)
	require.NoError(t, err)

	handle, err := h.Execute(context.Background(), models.PlannedAction{
		ID:   "act-1",
		Kind: models.ActionKindCreateNote,
		Inputs: map[string]any{
			"target_note": "Clients/Acme",
			"summary":     "new client relationship",
			"section":     "## Facts",
			"event_id":    "email:msg-1",
		},
	})
	require.NoError(t, err)
	require.Len(t, writer.created, 1)
	assert.Equal(t, "Clients/Acme", writer.created[0].Title)
	assert.Contains(t, writer.created[0].Body, "## Facts")
	assert.Contains(t, writer.created[0].Body, "- new client relationship")

	// Compensation soft-deletes the created note.
	require.NoError(t, handle.Rollback(context.Background()))
	require.Len(t, writer.softDeleted, 1)
}

func TestCreateNoteHandlerMissingTitle(t *testing.T) {
	reg := registryWithNotes(t, newFakeNoteWriter())
	h, _ := reg.Resolve(models.ActionKindCreateNote)

	_, err := h.Execute(context.Background(), models.PlannedAction{
		ID: "act-1", Kind: models.ActionKindCreateNote,
	})
	assert.Error(t, err)
}

func TestEnrichNoteHandler(t *testing.T) {
	writer := newFakeNoteWriter()
	writer.notes["clients-acme"] = &models.Note{ID: "clients-acme", Title: "Clients/Acme", Version: 4}
	reg := registryWithNotes(t, writer)

	h, err := reg.Resolve(models.ActionKindEnrichNote)
	require.NoError(t, err)

	handle, err := h.Execute(context.Background(), models.PlannedAction{
		ID:   "act-1",
		Kind: models.ActionKindEnrichNote,
		Inputs: map[string]any{
			"target_note": "clients-acme",
			"summary":     "budget raised to 60k",
			"section":     "## Log",
			"format":      "bullet_date",
			"event_id":    "email:msg-2",
		},
	})
	require.NoError(t, err)

	require.Len(t, writer.updated, 1)
	edit := writer.updated[0]
	require.NotNil(t, edit.Append)
	assert.Equal(t, "## Log", edit.Append.Section)
	assert.Equal(t, "budget raised to 60k", edit.Append.Text)
	assert.Equal(t, models.FormatBulletDate, edit.Append.Format)
	assert.Equal(t, 4, edit.BaseVersion, "write is conditional on the observed version")

	// Compensation restores the pre-write version.
	require.NoError(t, handle.Rollback(context.Background()))
	require.Len(t, writer.restored, 1)
	assert.Equal(t, "clients-acme", writer.restored[0][0])
	assert.Equal(t, 4, writer.restored[0][1])
}

func TestEnrichNoteHandlerUnknownTarget(t *testing.T) {
	reg := registryWithNotes(t, newFakeNoteWriter())
	h, _ := reg.Resolve(models.ActionKindEnrichNote)

	_, err := h.Execute(context.Background(), models.PlannedAction{
		ID: "act-1", Kind: models.ActionKindEnrichNote,
		Inputs: map[string]any{"target_note": "ghost", "summary": "x"},
	})
	assert.ErrorIs(t, err, knowledge.ErrNoteNotFound)
}

func TestJournalActuatorProvidesCompensation(t *testing.T) {
	actuator := NewJournalActuator(discardLogger())
	handle, err := actuator.Archive(context.Background(), models.SourceEmail, "msg-1")
	require.NoError(t, err)
	assert.NoError(t, handle.Rollback(context.Background()))
}
