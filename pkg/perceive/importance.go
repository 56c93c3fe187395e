package perceive

import (
	"strings"
	"time"

	"github.com/majordome-ai/majordome/pkg/models"
)

// Importance rubric weights. Fixed: the prior is a cheap heuristic the
// analysis stages are free to override.
const (
	importanceBase        = 0.3
	importanceVIPBonus    = 0.3
	importanceUrgencySubj = 0.2
	importanceUrgencyBody = 0.1
	importanceMention     = 0.1
	importanceRecency     = 0.1
	recencyWindow         = 24 * time.Hour
)

// importancePrior applies the fixed rubric: VIP sender, urgency keywords,
// direct mentions, recency. Clamped to [0,1].
func (n *Normalizer) importancePrior(raw RawRecord, event *models.PerceivedEvent) float64 {
	score := importanceBase

	sender := strings.ToLower(strings.TrimSpace(raw.From))
	for _, vip := range n.config.VIPs {
		if strings.EqualFold(vip, sender) {
			score += importanceVIPBonus
			break
		}
	}

	subject := strings.ToLower(event.Subject)
	body := strings.ToLower(event.BodyPlain)
	for _, keyword := range n.config.UrgencyKeywords {
		kw := strings.ToLower(keyword)
		if strings.Contains(subject, kw) {
			score += importanceUrgencySubj
			break
		}
		if strings.Contains(body, kw) {
			score += importanceUrgencyBody
			break
		}
	}

	for _, p := range event.Participants {
		if p.Role == models.RoleMention {
			score += importanceMention
			break
		}
	}

	if n.now().Sub(event.OccurredAt) <= recencyWindow {
		score += importanceRecency
	}

	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}
