package perceive

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/majordome-ai/majordome/pkg/config"
	"github.com/majordome-ai/majordome/pkg/models"
)

var replyPrefixPattern = regexp.MustCompile(`(?i)^(re|fwd?|fw|tr|aw|sv)\s*:\s*`)

// Continuity is the in-memory index of recently observed events, keyed by
// thread. It assigns deterministic thread ids and surfaces the most recent
// prior events of the same thread into working memory. Bounded: the oldest
// threads are evicted once capacity is reached.
type Continuity struct {
	window   int
	capacity int

	mu      sync.Mutex
	threads map[string][]*models.PerceivedEvent
	order   []string // thread ids, oldest first
}

// NewContinuity creates the detector from source settings.
func NewContinuity(cfg *config.SourcesConfig) *Continuity {
	if cfg == nil {
		cfg = config.DefaultSourcesConfig()
	}
	window := cfg.ContinuityWindow
	if window < 1 {
		window = 3
	}
	capacity := cfg.ContinuityCapacity
	if capacity < 1 {
		capacity = 4096
	}
	return &Continuity{
		window:   window,
		capacity: capacity,
		threads:  make(map[string][]*models.PerceivedEvent),
	}
}

// Observe assigns the event's thread id (keeping a native hint when the
// normalizer set one) and returns up to the configured window of prior
// events in the same thread, newest first. The event is then recorded.
func (c *Continuity) Observe(event *models.PerceivedEvent) []*models.PerceivedEvent {
	if event.ThreadID == "" {
		event.ThreadID = DeriveThreadID(event)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, known := c.threads[event.ThreadID]

	prior := make([]*models.PerceivedEvent, 0, len(existing))
	for i := len(existing) - 1; i >= 0; i-- {
		prior = append(prior, existing[i])
	}

	if !known {
		if len(c.order) >= c.capacity {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.threads, oldest)
		}
		c.order = append(c.order, event.ThreadID)
	}

	updated := append(existing, event)
	if len(updated) > c.window {
		updated = updated[len(updated)-c.window:]
	}
	c.threads[event.ThreadID] = updated

	return prior
}

// DeriveThreadID builds the deterministic thread id for an event without a
// native hint: source plus a digest of the normalized subject and the
// participant-set fingerprint.
func DeriveThreadID(event *models.PerceivedEvent) string {
	subject := normalizeSubject(event.Subject)

	identities := make([]string, 0, len(event.Participants))
	for _, p := range event.Participants {
		identities = append(identities, strings.ToLower(p.Identity))
	}
	sort.Strings(identities)

	sum := sha256.Sum256([]byte(subject + "\x00" + strings.Join(identities, ",")))
	return string(event.Source) + ":" + hex.EncodeToString(sum[:8])
}

// normalizeSubject strips reply and forward prefixes, repeatedly, and
// collapses case and whitespace.
func normalizeSubject(subject string) string {
	s := strings.TrimSpace(strings.ToLower(subject))
	for {
		stripped := replyPrefixPattern.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}
	return strings.Join(strings.Fields(s), " ")
}
