package models

import "time"

// LinkedSource is a declared pointer from a note into an external store,
// used to seed cross-source search filters.
type LinkedSource struct {
	Source Source `json:"source" yaml:"source"`
	// Filter is adapter-specific: a folder path for mail, a chat or contact
	// name for messaging, a directory for files.
	Filter string `json:"filter" yaml:"filter"`
}

// ReviewState carries the SM-2 spaced-repetition metadata of a note.
type ReviewState struct {
	Easiness     float64   `json:"easiness" yaml:"easiness"`
	IntervalDays int       `json:"interval_days" yaml:"interval_days"`
	Repetition   int       `json:"repetition" yaml:"repetition"`
	NextReview   time.Time `json:"next_review" yaml:"next_review"`
}

// Note is a file-backed knowledge unit. The canonical id never changes;
// the folder may. Notes are created and edited only through the knowledge
// store; each edit appends an immutable version.
type Note struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Folder        string         `json:"folder"`
	Type          string         `json:"type,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	LinkedSources []LinkedSource `json:"linked_sources,omitempty"`
	Frontmatter   map[string]any `json:"frontmatter,omitempty"`
	Body          string         `json:"body"`
	Review        ReviewState    `json:"review"`
	Version       int            `json:"version"`
	Deleted       bool           `json:"deleted,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// NoteVersion is one immutable revision of a note.
type NoteVersion struct {
	NoteID    string    `json:"note_id"`
	Version   int       `json:"version"`
	Body      string    `json:"body"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ContextItem is one ranked note surfaced by context retrieval.
type ContextItem struct {
	NoteID    string    `json:"note_id"`
	Title     string    `json:"title"`
	Score     float64   `json:"score"`
	Snippet   string    `json:"snippet,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
