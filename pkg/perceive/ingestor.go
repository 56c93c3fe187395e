package perceive

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/majordome-ai/majordome/pkg/bus"
	"github.com/majordome-ai/majordome/pkg/models"
)

const (
	defaultFetchInterval = 30 * time.Second
	maxFetchBackoff      = 5 * time.Minute
)

// Backlog persists perceived events for analysis. InsertEvent reports false
// when the event id already exists (idempotent re-ingest).
type Backlog interface {
	InsertEvent(ctx context.Context, event *models.PerceivedEvent) (bool, error)
}

// SourceHealth tracks degraded sources for the health surface.
type SourceHealth interface {
	MarkDegraded(source models.Source, err error)
	MarkHealthy(source models.Source)
}

// IngestorOptions wires an Ingestor.
type IngestorOptions struct {
	Adapters   []SourceAdapter
	Normalizer *Normalizer
	Continuity *Continuity
	Backlog    Backlog
	Bus        *bus.Bus
	Health     SourceHealth
	Logger     *slog.Logger

	// FetchInterval is the idle poll period per adapter.
	FetchInterval time.Duration
	// Buffer is the in-memory channel capacity between fetching and
	// persistence. A full buffer blocks the adapter loop before its cursor
	// advances, which is the back-pressure contract.
	Buffer int
}

// Ingestor runs the perception pipeline: fetch, normalize, thread, persist,
// announce. One fetch loop per adapter feeds a single writer through a
// bounded channel.
type Ingestor struct {
	opts   IngestorOptions
	logger *slog.Logger

	mu      sync.Mutex
	cursors map[models.Source]string

	wg      sync.WaitGroup
	records chan RawRecord
}

// NewIngestor creates an ingestor. Normalizer and Continuity default to
// fresh instances when unset.
func NewIngestor(opts IngestorOptions) *Ingestor {
	if opts.Normalizer == nil {
		opts.Normalizer = NewNormalizer(nil)
	}
	if opts.Continuity == nil {
		opts.Continuity = NewContinuity(nil)
	}
	if opts.FetchInterval <= 0 {
		opts.FetchInterval = defaultFetchInterval
	}
	if opts.Buffer < 1 {
		opts.Buffer = 256
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		opts:    opts,
		logger:  logger.With("component", "ingestor"),
		cursors: make(map[models.Source]string),
		records: make(chan RawRecord, opts.Buffer),
	}
}

// Start launches the adapter loops and the writer. It returns immediately;
// Stop waits for drain.
func (in *Ingestor) Start(ctx context.Context) {
	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		in.writeLoop(ctx)
	}()

	for _, adapter := range in.opts.Adapters {
		in.wg.Add(1)
		go func() {
			defer in.wg.Done()
			in.fetchLoop(ctx, adapter)
		}()
	}
	in.logger.Info("Ingestion started", "adapters", len(in.opts.Adapters))
}

// Stop waits for the loops to exit. Call after cancelling the context
// passed to Start.
func (in *Ingestor) Stop() {
	in.wg.Wait()
	in.logger.Info("Ingestion stopped")
}

// Cursor returns the current cursor of one source.
func (in *Ingestor) Cursor(source models.Source) string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.cursors[source]
}

// fetchLoop polls one adapter. The cursor advances only after every record
// of the batch is accepted by the buffer; an unavailable source backs off
// exponentially without advancing.
func (in *Ingestor) fetchLoop(ctx context.Context, adapter SourceAdapter) {
	source := adapter.SourceName()
	logger := in.logger.With("source", source)
	backoff := in.opts.FetchInterval

	for {
		records, next, err := adapter.FetchSince(ctx, in.Cursor(source))
		switch {
		case err == nil:
			if in.opts.Health != nil {
				in.opts.Health.MarkHealthy(source)
			}
			backoff = in.opts.FetchInterval
			for _, record := range records {
				select {
				case in.records <- record:
				case <-ctx.Done():
					return
				}
			}
			in.mu.Lock()
			in.cursors[source] = next
			in.mu.Unlock()
			if len(records) > 0 {
				logger.Debug("Fetched records", "count", len(records), "cursor", next)
			}
		case errors.Is(err, context.Canceled):
			return
		case errors.Is(err, ErrSourceUnavailable):
			if in.opts.Health != nil {
				in.opts.Health.MarkDegraded(source, err)
			}
			backoff *= 2
			if backoff > maxFetchBackoff {
				backoff = maxFetchBackoff
			}
			logger.Warn("Source unavailable, backing off", "backoff", backoff, "error", err)
		default:
			logger.Error("Fetch failed", "error", err)
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
	}
}

// writeLoop normalizes, threads, and persists fetched records.
func (in *Ingestor) writeLoop(ctx context.Context) {
	for {
		select {
		case record := <-in.records:
			in.process(ctx, record)
		case <-ctx.Done():
			return
		}
	}
}

func (in *Ingestor) process(ctx context.Context, record RawRecord) {
	event, err := in.opts.Normalizer.Normalize(record)
	if err != nil {
		// Malformed records are dropped, never enqueued.
		in.logger.Warn("Dropping malformed record",
			"source", record.Source, "source_id", record.SourceID, "error", err)
		return
	}

	in.opts.Continuity.Observe(event)
	event.IngestedAt = time.Now().UTC()

	inserted, err := in.opts.Backlog.InsertEvent(ctx, event)
	if err != nil {
		in.logger.Error("Failed to persist event", "event_id", event.EventID, "error", err)
		return
	}
	if !inserted {
		return
	}

	if in.opts.Bus != nil {
		in.opts.Bus.Publish(bus.KindEventIngested, event.EventID, bus.EventIngestedPayload{
			Source:   string(event.Source),
			SourceID: event.SourceID,
			ThreadID: event.ThreadID,
		})
	}
}
