package knowledge

import "errors"

var (
	// ErrNoteNotFound indicates no live note carries the requested id.
	ErrNoteNotFound = errors.New("note not found")

	// ErrNoteDeleted indicates the note exists but is soft-deleted.
	ErrNoteDeleted = errors.New("note is deleted")

	// ErrVersionNotFound indicates the requested revision does not exist.
	ErrVersionNotFound = errors.New("note version not found")

	// ErrNoteConflict indicates a concurrent writer got there first.
	// Callers retry: per-note locks are held only briefly.
	ErrNoteConflict = errors.New("note conflict")

	// ErrInvalidQuality indicates a review quality outside 0..5.
	ErrInvalidQuality = errors.New("review quality must be in 0..5")
)
