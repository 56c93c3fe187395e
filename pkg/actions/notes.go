package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/majordome-ai/majordome/pkg/knowledge"
	"github.com/majordome-ai/majordome/pkg/models"
)

// NoteWriter is the knowledge-store surface the note handlers need.
type NoteWriter interface {
	Get(id string) (*models.Note, error)
	Create(ctx context.Context, spec knowledge.CreateSpec) (*models.Note, error)
	Update(ctx context.Context, id string, edit knowledge.EditSpec) (*models.Note, error)
	Restore(ctx context.Context, id string, version int) (*models.Note, error)
	SoftDelete(ctx context.Context, id string) error
}

// RegisterNoteHandlers wires create_note and enrich_note against the
// knowledge store.
func RegisterNoteHandlers(reg *Registry, notes NoteWriter) error {
	handlers := []Handler{
		HandlerFunc{ActionKind: models.ActionKindCreateNote, Fn: createNote(notes)},
		HandlerFunc{ActionKind: models.ActionKindEnrichNote, Fn: enrichNote(notes)},
	}
	for _, h := range handlers {
		if err := reg.Register(h); err != nil {
			return err
		}
	}
	return nil
}

// createNote materializes a new note from an extraction. Compensation
// soft-deletes it, which keeps the file and history recoverable.
func createNote(notes NoteWriter) func(context.Context, models.PlannedAction) (CompensationHandle, error) {
	return func(ctx context.Context, action models.PlannedAction) (CompensationHandle, error) {
		title := stringInput(action, "target_note")
		summary := stringInput(action, "summary")
		if title == "" {
			title = summary
		}
		if title == "" {
			return nil, fmt.Errorf("create_note action %s has no title", action.ID)
		}

		body := "- " + summary
		if section := stringInput(action, "section"); section != "" {
			body = section + "\n\n" + body
		}

		note, err := notes.Create(ctx, knowledge.CreateSpec{
			Title:   title,
			Body:    body,
			Type:    stringInput(action, "type"),
			Summary: "created from " + stringInput(action, "event_id"),
		})
		if err != nil {
			return nil, err
		}
		return CompensationFunc(func(ctx context.Context) error {
			return notes.SoftDelete(ctx, note.ID)
		}), nil
	}
}

// enrichNote appends an extraction to its target note. Compensation restores
// the pre-write version, which itself lands as a new version so the history
// shows both the write and the undo.
func enrichNote(notes NoteWriter) func(context.Context, models.PlannedAction) (CompensationHandle, error) {
	return func(ctx context.Context, action models.PlannedAction) (CompensationHandle, error) {
		target := stringInput(action, "target_note")
		if target == "" {
			return nil, fmt.Errorf("enrich_note action %s has no target note", action.ID)
		}

		prior, err := notes.Get(target)
		if err != nil {
			return nil, fmt.Errorf("failed to load note %s: %w", target, err)
		}
		priorVersion := prior.Version

		format := models.NoteFormat(stringInput(action, "format"))
		if format == "" {
			format = models.FormatBullet
		}

		_, err = notes.Update(ctx, target, knowledge.EditSpec{
			Append: &knowledge.AppendSpec{
				Section: stringInput(action, "section"),
				Text:    stringInput(action, "summary"),
				Format:  format,
				When:    time.Now(),
			},
			Summary:     "captured from " + stringInput(action, "event_id"),
			BaseVersion: priorVersion,
		})
		if err != nil {
			return nil, err
		}
		return CompensationFunc(func(ctx context.Context) error {
			_, err := notes.Restore(ctx, target, priorVersion)
			return err
		}), nil
	}
}

func stringInput(action models.PlannedAction, key string) string {
	if action.Inputs == nil {
		return ""
	}
	s, _ := action.Inputs[key].(string)
	return s
}
