package perceive

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/majordome-ai/majordome/pkg/config"
	"github.com/majordome-ai/majordome/pkg/models"
)

// Normalizer maps raw source records into canonical perceived events.
// Normalization is deterministic: the same record always yields the same
// event, so re-ingestion dedupes cleanly on event_id. IngestedAt is left
// zero here and stamped by the backlog on first insert.
type Normalizer struct {
	config *config.SourcesConfig
	now    func() time.Time
}

// NewNormalizer creates a normalizer over the source settings.
func NewNormalizer(cfg *config.SourcesConfig) *Normalizer {
	if cfg == nil {
		cfg = config.DefaultSourcesConfig()
	}
	return &Normalizer{config: cfg, now: time.Now}
}

// Normalize converts one raw record. Unrecoverable decode problems return
// ErrMalformedRecord.
func (n *Normalizer) Normalize(raw RawRecord) (*models.PerceivedEvent, error) {
	if raw.Source == "" || raw.SourceID == "" {
		return nil, fmt.Errorf("%w: missing source identity", ErrMalformedRecord)
	}
	if raw.OccurredAt.IsZero() {
		return nil, fmt.Errorf("%w: record %s has no timestamp", ErrMalformedRecord, raw.SourceID)
	}

	kind := raw.Kind
	if kind == "" {
		kind = models.KindMessage
	}

	body := decodeBody(raw.Body, raw.BodyRich)
	participants := n.participants(raw)

	event := &models.PerceivedEvent{
		EventID:      models.EventIDFor(raw.Source, raw.SourceID),
		Source:       raw.Source,
		SourceID:     raw.SourceID,
		Kind:         kind,
		OccurredAt:   raw.OccurredAt.UTC(),
		ThreadID:     raw.ThreadHint,
		Participants: participants,
		Subject:      strings.TrimSpace(raw.Subject),
		BodyPlain:    body,
		BodyRich:     raw.BodyRich,
		Attachments:  raw.Attachments,
	}
	event.Entities = n.extractEntities(event.Subject, body, participants)
	event.ImportancePrior = n.importancePrior(raw, event)
	return event, nil
}

// participants assembles the typed participant list, resolving display
// names through the address book.
func (n *Normalizer) participants(raw RawRecord) []models.Participant {
	var out []models.Participant
	add := func(identity, displayName string, role models.ParticipantRole) {
		identity = strings.TrimSpace(identity)
		if identity == "" {
			return
		}
		if displayName == "" {
			displayName = n.config.AddressBook[strings.ToLower(identity)]
		}
		out = append(out, models.Participant{
			Identity:    strings.ToLower(identity),
			DisplayName: displayName,
			Role:        role,
		})
	}

	add(raw.From, raw.FromName, models.RoleFrom)
	for _, to := range raw.To {
		add(to, "", models.RoleTo)
	}
	for _, cc := range raw.CC {
		add(cc, "", models.RoleCC)
	}
	for _, mention := range raw.Mentions {
		add(mention, "", models.RoleMention)
	}
	return out
}

var (
	htmlTagPattern   = regexp.MustCompile(`(?s)<(script|style)\b.*?</(script|style)>`)
	htmlBreakPattern = regexp.MustCompile(`(?i)<(br\s*/?|/p|/div|/li|/tr|/h[1-6])>`)
	anyTagPattern    = regexp.MustCompile(`<[^>]+>`)
	blankRunPattern  = regexp.MustCompile(`\n{3,}`)
	spaceRunPattern  = regexp.MustCompile(`[ \t]+`)
)

// decodeBody produces the plaintext body. Rich bodies are stripped to text
// when no plain part exists; plain bodies that carry markup get the same
// treatment.
func decodeBody(plain, rich string) string {
	body := plain
	if strings.TrimSpace(body) == "" {
		body = rich
	}
	if looksLikeHTML(body) {
		body = htmlTagPattern.ReplaceAllString(body, " ")
		body = htmlBreakPattern.ReplaceAllString(body, "\n")
		body = anyTagPattern.ReplaceAllString(body, " ")
		body = html.UnescapeString(body)
	}

	lines := strings.Split(body, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRunPattern.ReplaceAllString(line, " "))
	}
	body = strings.Join(lines, "\n")
	body = blankRunPattern.ReplaceAllString(body, "\n\n")
	return strings.TrimSpace(body)
}

func looksLikeHTML(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "<html") ||
		strings.Contains(lower, "<body") ||
		strings.Contains(lower, "<div") ||
		strings.Contains(lower, "<p>") ||
		strings.Contains(lower, "<br")
}
