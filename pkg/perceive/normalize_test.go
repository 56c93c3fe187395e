package perceive

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majordome-ai/majordome/pkg/config"
	"github.com/majordome-ai/majordome/pkg/models"
)

func testSourcesConfig() *config.SourcesConfig {
	cfg := config.DefaultSourcesConfig()
	cfg.VIPs = []string{"boss@example.com"}
	cfg.AddressBook = map[string]string{
		"marie@example.com": "Marie Dupont",
		"anna@example.com":  "Anna Schmidt",
	}
	cfg.ProjectLexicon = []string{"Budget Q1"}
	return cfg
}

func testNormalizer(now time.Time) *Normalizer {
	n := NewNormalizer(testSourcesConfig())
	n.now = func() time.Time { return now }
	return n
}

func mailRecord() RawRecord {
	return RawRecord{
		Source:     models.SourceEmail,
		SourceID:   "msg-1",
		OccurredAt: time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC),
		Subject:    "Budget Q1 — réunion jeudi",
		Body:       "Marie Dupont propose jeudi 10h. Le budget est 50k€. Deadline 2026-09-01.",
		From:       "marie@example.com",
		To:         []string{"me@example.com"},
	}
}

func TestNormalizeProducesCanonicalEvent(t *testing.T) {
	n := testNormalizer(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))

	event, err := n.Normalize(mailRecord())
	require.NoError(t, err)

	assert.Equal(t, "email:msg-1", event.EventID)
	assert.Equal(t, models.KindMessage, event.Kind, "kind defaults to message")
	assert.Equal(t, "marie@example.com", event.Sender())

	require.Len(t, event.Participants, 2)
	assert.Equal(t, "Marie Dupont", event.Participants[0].DisplayName, "display name from address book")
}

func TestNormalizeIsDeterministic(t *testing.T) {
	n := testNormalizer(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))

	first, err := n.Normalize(mailRecord())
	require.NoError(t, err)
	second, err := n.Normalize(mailRecord())
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b), "re-normalizing yields a byte-identical event")
}

func TestNormalizeMalformedRecords(t *testing.T) {
	n := testNormalizer(time.Now())
	tests := []struct {
		name   string
		mutate func(*RawRecord)
	}{
		{"missing source id", func(r *RawRecord) { r.SourceID = "" }},
		{"missing source", func(r *RawRecord) { r.Source = "" }},
		{"missing timestamp", func(r *RawRecord) { r.OccurredAt = time.Time{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := mailRecord()
			tt.mutate(&record)
			_, err := n.Normalize(record)
			assert.ErrorIs(t, err, ErrMalformedRecord)
		})
	}
}

func TestNormalizeStripsHTML(t *testing.T) {
	n := testNormalizer(time.Now())
	record := mailRecord()
	record.Body = ""
	record.BodyRich = `<html><body><p>Hello &amp; welcome.</p><br><div>Second line.</div><style>p{color:red}</style></body></html>`

	event, err := n.Normalize(record)
	require.NoError(t, err)
	assert.Contains(t, event.BodyPlain, "Hello & welcome.")
	assert.Contains(t, event.BodyPlain, "Second line.")
	assert.NotContains(t, event.BodyPlain, "<")
	assert.NotContains(t, event.BodyPlain, "color:red")
}

func TestExtractEntities(t *testing.T) {
	n := testNormalizer(time.Now())

	event, err := n.Normalize(mailRecord())
	require.NoError(t, err)

	byType := make(map[models.EntityType][]string)
	for _, e := range event.Entities {
		byType[e.Type] = append(byType[e.Type], e.Value)
	}

	assert.Contains(t, byType[models.EntityPerson], "Marie Dupont")
	assert.Contains(t, byType[models.EntityProject], "Budget Q1")
	assert.Contains(t, byType[models.EntityDate], "2026-09-01")
	require.NotEmpty(t, byType[models.EntityAmount])
	assert.Contains(t, byType[models.EntityAmount][0], "50k")
}

func TestEntitiesDeduplicated(t *testing.T) {
	n := testNormalizer(time.Now())
	record := mailRecord()
	record.Body = "Marie Dupont et Marie Dupont. 2026-09-01 puis 2026-09-01."

	event, err := n.Normalize(record)
	require.NoError(t, err)

	seen := make(map[string]int)
	for _, e := range event.Entities {
		seen[string(e.Type)+":"+e.Value]++
	}
	for key, count := range seen {
		assert.Equal(t, 1, count, "duplicate entity %s", key)
	}
}

func TestImportancePriorRubric(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	n := testNormalizer(now)

	base := mailRecord()
	base.From = "nobody@example.com"
	base.Subject = "hello"
	base.Body = "nothing pressing"
	base.OccurredAt = now.Add(-72 * time.Hour)
	event, err := n.Normalize(base)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, event.ImportancePrior, 1e-9)

	vip := base
	vip.From = "boss@example.com"
	event, err = n.Normalize(vip)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, event.ImportancePrior, 1e-9)

	urgent := base
	urgent.Subject = "URGENT: hello"
	event, err = n.Normalize(urgent)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, event.ImportancePrior, 1e-9)

	urgentBody := base
	urgentBody.Body = "please treat this asap"
	event, err = n.Normalize(urgentBody)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, event.ImportancePrior, 1e-9)

	mentioned := base
	mentioned.Mentions = []string{"me@example.com"}
	event, err = n.Normalize(mentioned)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, event.ImportancePrior, 1e-9)

	fresh := base
	fresh.OccurredAt = now.Add(-time.Hour)
	event, err = n.Normalize(fresh)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, event.ImportancePrior, 1e-9)

	everything := base
	everything.From = "boss@example.com"
	everything.Subject = "URGENT deadline"
	everything.Mentions = []string{"me@example.com"}
	everything.OccurredAt = now.Add(-time.Hour)
	event, err = n.Normalize(everything)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, event.ImportancePrior, 1e-9, "clamped at 1")
}
