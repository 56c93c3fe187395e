// Package perceive turns source-native records into canonical perceived
// events: adapters fetch raw records, the normalizer maps them to events,
// the continuity detector threads them, and the ingestor persists them to
// the analysis backlog.
package perceive

import (
	"context"
	"errors"
	"time"

	"github.com/majordome-ai/majordome/pkg/models"
)

// ErrMalformedRecord means a raw record cannot be decoded into an event.
// Policy: log and drop, never enqueue.
var ErrMalformedRecord = errors.New("malformed source record")

// ErrSourceUnavailable means an adapter cannot reach its source. The
// ingestor backs off without advancing the cursor and reports the source
// as degraded.
var ErrSourceUnavailable = errors.New("source unavailable")

// RawRecord is one source-native record with provenance, as fetched by an
// adapter before normalization.
type RawRecord struct {
	Source     models.Source
	SourceID   string
	Kind       models.EventKind
	OccurredAt time.Time

	// ThreadHint is the native threading identifier when the source has one
	// (e.g. mail References). Empty means the continuity detector derives
	// the thread from subject and participants.
	ThreadHint string

	Subject  string
	Body     string
	BodyRich string

	From     string
	FromName string
	To       []string
	CC       []string
	Mentions []string

	Attachments []models.Attachment
}

// SourceAdapter fetches raw records from one source mirror. FetchSince
// returns records newer than the cursor plus the next cursor; an unchanged
// cursor with no records means the source is drained.
type SourceAdapter interface {
	SourceName() models.Source
	FetchSince(ctx context.Context, cursor string) ([]RawRecord, string, error)
}
