package perceive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/majordome-ai/majordome/pkg/models"
)

// spoolBatchLimit bounds how many records one FetchSince call returns.
const spoolBatchLimit = 200

// spoolRecord is the on-disk shape of one spooled record. Mirror processes
// write one JSON file per record; the filename orders arrival, so cursors
// are just the last consumed filename.
type spoolRecord struct {
	SourceID   string    `json:"source_id"`
	Kind       string    `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`
	ThreadHint string    `json:"thread_hint,omitempty"`

	Subject  string `json:"subject,omitempty"`
	Body     string `json:"body"`
	BodyRich string `json:"body_rich,omitempty"`

	From     string   `json:"from,omitempty"`
	FromName string   `json:"from_name,omitempty"`
	To       []string `json:"to,omitempty"`
	CC       []string `json:"cc,omitempty"`
	Mentions []string `json:"mentions,omitempty"`

	Attachments []models.Attachment `json:"attachments,omitempty"`
}

// SpoolAdapter reads raw records from a spool directory, one JSON file per
// record. Mirror processes append files with lexicographically increasing
// names; the adapter consumes them in name order and never deletes them.
// A missing directory reads as a drained source, not an unavailable one,
// so a mirror that has not run yet does not mark the source degraded.
type SpoolAdapter struct {
	source models.Source
	dir    string
	logger *slog.Logger
}

// NewSpoolAdapter creates an adapter over dir for the given source.
func NewSpoolAdapter(source models.Source, dir string, logger *slog.Logger) *SpoolAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SpoolAdapter{
		source: source,
		dir:    dir,
		logger: logger.With("component", "spool_adapter", "source", string(source)),
	}
}

func (a *SpoolAdapter) SourceName() models.Source { return a.source }

// FetchSince returns records from files named after cursor, in name order.
// Undecodable files are logged and skipped; the cursor advances past them
// so one bad file cannot wedge the source.
func (a *SpoolAdapter) FetchSince(ctx context.Context, cursor string) ([]RawRecord, string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cursor, nil
		}
		return nil, cursor, fmt.Errorf("%w: failed to read spool %s: %v", ErrSourceUnavailable, a.dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || name <= cursor {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > spoolBatchLimit {
		names = names[:spoolBatchLimit]
	}

	records := make([]RawRecord, 0, len(names))
	next := cursor
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return records, next, err
		}
		next = name
		record, err := a.readRecord(filepath.Join(a.dir, name))
		if err != nil {
			a.logger.Warn("Dropping malformed spool file", "file", name, "error", err)
			continue
		}
		records = append(records, record)
	}
	return records, next, nil
}

func (a *SpoolAdapter) readRecord(path string) (RawRecord, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return RawRecord{}, fmt.Errorf("failed to read spool file: %w", err)
	}
	var rec spoolRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return RawRecord{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if rec.SourceID == "" {
		return RawRecord{}, fmt.Errorf("%w: missing source_id", ErrMalformedRecord)
	}
	kind := models.EventKind(rec.Kind)
	if kind == "" {
		kind = models.KindMessage
	}
	return RawRecord{
		Source:      a.source,
		SourceID:    rec.SourceID,
		Kind:        kind,
		OccurredAt:  rec.OccurredAt,
		ThreadHint:  rec.ThreadHint,
		Subject:     rec.Subject,
		Body:        rec.Body,
		BodyRich:    rec.BodyRich,
		From:        rec.From,
		FromName:    rec.FromName,
		To:          rec.To,
		CC:          rec.CC,
		Mentions:    rec.Mentions,
		Attachments: rec.Attachments,
	}, nil
}
