package perceive

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majordome-ai/majordome/pkg/bus"
	"github.com/majordome-ai/majordome/pkg/models"
)

// scriptedAdapter serves pre-built batches keyed by cursor and records which
// cursors were requested.
type scriptedAdapter struct {
	source  models.Source
	mu      sync.Mutex
	batches map[string]fetchResult
	seen    []string
}

type fetchResult struct {
	records []RawRecord
	next    string
	err     error
}

func (a *scriptedAdapter) SourceName() models.Source { return a.source }

func (a *scriptedAdapter) FetchSince(_ context.Context, cursor string) ([]RawRecord, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seen = append(a.seen, cursor)
	result, ok := a.batches[cursor]
	if !ok {
		return nil, cursor, nil
	}
	return result.records, result.next, result.err
}

type memoryBacklog struct {
	mu     sync.Mutex
	events map[string]*models.PerceivedEvent
	order  []string
}

func newMemoryBacklog() *memoryBacklog {
	return &memoryBacklog{events: make(map[string]*models.PerceivedEvent)}
}

func (b *memoryBacklog) InsertEvent(_ context.Context, event *models.PerceivedEvent) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.events[event.EventID]; exists {
		return false, nil
	}
	b.events[event.EventID] = event
	b.order = append(b.order, event.EventID)
	return true, nil
}

func (b *memoryBacklog) ids() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.order...)
}

type healthRecorder struct {
	mu       sync.Mutex
	degraded map[models.Source]int
	healthy  map[models.Source]int
}

func newHealthRecorder() *healthRecorder {
	return &healthRecorder{
		degraded: make(map[models.Source]int),
		healthy:  make(map[models.Source]int),
	}
}

func (h *healthRecorder) MarkDegraded(source models.Source, _ error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.degraded[source]++
}

func (h *healthRecorder) MarkHealthy(source models.Source) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.healthy[source]++
}

func (h *healthRecorder) degradedCount(source models.Source) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.degraded[source]
}

func rawMail(id, subject string) RawRecord {
	return RawRecord{
		Source:     models.SourceEmail,
		SourceID:   id,
		OccurredAt: time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC),
		Subject:    subject,
		Body:       "body of " + id,
		From:       "anna@example.com",
		To:         []string{"me@example.com"},
	}
}

func waitForEvents(t *testing.T, backlog *memoryBacklog, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(backlog.ids()) >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.GreaterOrEqual(t, len(backlog.ids()), want, "timed out waiting for events")
}

func TestIngestorPersistsAndAnnounces(t *testing.T) {
	adapter := &scriptedAdapter{
		source: models.SourceEmail,
		batches: map[string]fetchResult{
			"": {records: []RawRecord{rawMail("m1", "Budget Q1"), rawMail("m2", "Re: Budget Q1")}, next: "c1"},
		},
	}
	backlog := newMemoryBacklog()
	eventBus := bus.New()
	defer eventBus.Close()
	sub := eventBus.Subscribe(bus.KindEventIngested)
	defer eventBus.Unsubscribe(sub)

	ingestor := NewIngestor(IngestorOptions{
		Adapters:      []SourceAdapter{adapter},
		Backlog:       backlog,
		Bus:           eventBus,
		FetchInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	ingestor.Start(ctx)
	waitForEvents(t, backlog, 2)
	cancel()
	ingestor.Stop()

	assert.Equal(t, []string{"email:m1", "email:m2"}, backlog.ids())
	assert.Equal(t, "c1", ingestor.Cursor(models.SourceEmail))

	first := <-sub.C()
	assert.Equal(t, bus.KindEventIngested, first.Kind)
	assert.Equal(t, "email:m1", first.CorrelationID)
	payload, ok := first.Payload.(bus.EventIngestedPayload)
	require.True(t, ok)
	assert.Equal(t, "email", payload.Source)

	event := backlog.events["email:m1"]
	assert.False(t, event.IngestedAt.IsZero(), "ingestion stamps IngestedAt")
	assert.NotEmpty(t, event.ThreadID, "continuity assigns a thread")
	assert.Equal(t, event.ThreadID, backlog.events["email:m2"].ThreadID,
		"reply joins the original thread")
}

func TestIngestorSkipsDuplicates(t *testing.T) {
	adapter := &scriptedAdapter{
		source: models.SourceEmail,
		batches: map[string]fetchResult{
			"":   {records: []RawRecord{rawMail("m1", "hello")}, next: "c1"},
			"c1": {records: []RawRecord{rawMail("m1", "hello")}, next: "c2"},
		},
	}
	backlog := newMemoryBacklog()
	eventBus := bus.New()
	defer eventBus.Close()
	sub := eventBus.Subscribe(bus.KindEventIngested)
	defer eventBus.Unsubscribe(sub)

	ingestor := NewIngestor(IngestorOptions{
		Adapters:      []SourceAdapter{adapter},
		Backlog:       backlog,
		Bus:           eventBus,
		FetchInterval: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	ingestor.Start(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && ingestor.Cursor(models.SourceEmail) != "c2" {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	ingestor.Stop()

	assert.Equal(t, "c2", ingestor.Cursor(models.SourceEmail))
	assert.Equal(t, []string{"email:m1"}, backlog.ids(), "re-ingest dedupes on event id")
	assert.Len(t, drainEvents(sub), 1, "duplicate insert is not announced")
}

func TestIngestorDropsMalformedRecords(t *testing.T) {
	malformed := rawMail("", "no id")
	adapter := &scriptedAdapter{
		source: models.SourceEmail,
		batches: map[string]fetchResult{
			"": {records: []RawRecord{malformed, rawMail("m2", "fine")}, next: "c1"},
		},
	}
	backlog := newMemoryBacklog()

	ingestor := NewIngestor(IngestorOptions{
		Adapters:      []SourceAdapter{adapter},
		Backlog:       backlog,
		FetchInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	ingestor.Start(ctx)
	waitForEvents(t, backlog, 1)
	cancel()
	ingestor.Stop()

	assert.Equal(t, []string{"email:m2"}, backlog.ids())
}

func TestIngestorBacksOffUnavailableSource(t *testing.T) {
	adapter := &scriptedAdapter{
		source: models.SourceEmail,
		batches: map[string]fetchResult{
			"": {err: ErrSourceUnavailable},
		},
	}
	health := newHealthRecorder()

	ingestor := NewIngestor(IngestorOptions{
		Adapters:      []SourceAdapter{adapter},
		Backlog:       newMemoryBacklog(),
		Health:        health,
		FetchInterval: time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	ingestor.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && health.degradedCount(models.SourceEmail) < 2 {
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	ingestor.Stop()

	assert.GreaterOrEqual(t, health.degradedCount(models.SourceEmail), 2)
	assert.Empty(t, ingestor.Cursor(models.SourceEmail), "cursor never advances on failure")
}

func drainEvents(sub *bus.Subscription) []bus.Event {
	var out []bus.Event
	for {
		select {
		case ev := <-sub.C():
			out = append(out, ev)
		default:
			return out
		}
	}
}
