package perceive

import (
	"regexp"
	"sort"
	"strings"

	"github.com/majordome-ai/majordome/pkg/models"
)

var (
	isoDatePattern   = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	slashDatePattern = regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`)
	amountPattern    = regexp.MustCompile(`(?i)(?:[$€£]\s?\d+(?:[.,]\d+)?\s?[km]?|\b\d+(?:[.,]\d+)?\s?[km]?\s?(?:€|\$|£|eur|usd|chf)\b)`)
)

// extractEntities recognizes typed entities in event content: people via
// the address book, projects via the lexicon, dates and amounts via
// patterns. The order is fixed (people, projects, dates, amounts) so
// normalization stays deterministic.
func (n *Normalizer) extractEntities(subject, body string, participants []models.Participant) []models.Entity {
	content := subject + "\n" + body
	lowered := strings.ToLower(content)

	var entities []models.Entity
	seen := make(map[string]struct{})
	add := func(t models.EntityType, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		key := string(t) + "\x00" + strings.ToLower(value)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		entities = append(entities, models.Entity{Type: t, Value: value})
	}

	// People: any participant with a known display name, plus address-book
	// names mentioned in the content.
	for _, p := range participants {
		if p.DisplayName != "" {
			add(models.EntityPerson, p.DisplayName)
		}
	}
	for _, name := range sortedAddressBookNames(n.config.AddressBook) {
		if strings.Contains(lowered, strings.ToLower(name)) {
			add(models.EntityPerson, name)
		}
	}

	for _, project := range n.config.ProjectLexicon {
		if project != "" && strings.Contains(lowered, strings.ToLower(project)) {
			add(models.EntityProject, project)
		}
	}

	for _, match := range isoDatePattern.FindAllString(content, -1) {
		add(models.EntityDate, match)
	}
	for _, match := range slashDatePattern.FindAllString(content, -1) {
		add(models.EntityDate, match)
	}

	for _, match := range amountPattern.FindAllString(content, -1) {
		add(models.EntityAmount, strings.TrimSpace(match))
	}

	return entities
}

// sortedAddressBookNames returns the known display names in a stable order
// so entity extraction is deterministic across runs.
func sortedAddressBookNames(book map[string]string) []string {
	names := make([]string, 0, len(book))
	for _, name := range book {
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
