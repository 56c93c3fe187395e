package knowledge

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/majordome-ai/majordome/pkg/models"
)

const frontmatterDelimiter = "---"

// noteFrontmatter is the YAML header of a note file. Unknown keys survive
// round-trips through Extra.
type noteFrontmatter struct {
	ID            string                `yaml:"id"`
	Title         string                `yaml:"title"`
	Type          string                `yaml:"type,omitempty"`
	Tags          []string              `yaml:"tags,omitempty"`
	LinkedSources []models.LinkedSource `yaml:"linked_sources,omitempty"`
	Review        *models.ReviewState   `yaml:"review,omitempty"`
	Version       int                   `yaml:"version"`
	Deleted       bool                  `yaml:"deleted,omitempty"`
	CreatedAt     time.Time             `yaml:"created_at"`
	UpdatedAt     time.Time             `yaml:"updated_at"`
	Extra         map[string]any        `yaml:",inline"`
}

// encodeNote renders a note to its on-disk form: YAML frontmatter between
// --- delimiters followed by the Markdown body. The rendering is
// deterministic so identical notes produce identical bytes.
func encodeNote(n *models.Note) ([]byte, error) {
	fm := noteFrontmatter{
		ID:            n.ID,
		Title:         n.Title,
		Type:          n.Type,
		Tags:          n.Tags,
		LinkedSources: n.LinkedSources,
		Version:       n.Version,
		Deleted:       n.Deleted,
		CreatedAt:     n.CreatedAt.UTC(),
		UpdatedAt:     n.UpdatedAt.UTC(),
		Extra:         n.Frontmatter,
	}
	if n.Review != (models.ReviewState{}) {
		review := n.Review
		fm.Review = &review
	}

	head, err := yaml.Marshal(&fm)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal frontmatter: %w", err)
	}

	var b strings.Builder
	b.WriteString(frontmatterDelimiter)
	b.WriteString("\n")
	b.Write(head)
	b.WriteString(frontmatterDelimiter)
	b.WriteString("\n\n")
	b.WriteString(strings.TrimLeft(n.Body, "\n"))
	if !strings.HasSuffix(n.Body, "\n") {
		b.WriteString("\n")
	}
	return []byte(b.String()), nil
}

// decodeNote parses a note file back into a Note. Folder is filled in by
// the caller from the file's location.
func decodeNote(data []byte) (*models.Note, error) {
	text := string(data)
	if !strings.HasPrefix(text, frontmatterDelimiter+"\n") {
		return nil, fmt.Errorf("missing frontmatter delimiter")
	}
	rest := text[len(frontmatterDelimiter)+1:]
	end := strings.Index(rest, "\n"+frontmatterDelimiter+"\n")
	if end < 0 {
		return nil, fmt.Errorf("unterminated frontmatter")
	}
	head := rest[:end+1]
	body := strings.TrimLeft(rest[end+len(frontmatterDelimiter)+2:], "\n")

	var fm noteFrontmatter
	if err := yaml.Unmarshal([]byte(head), &fm); err != nil {
		return nil, fmt.Errorf("failed to parse frontmatter: %w", err)
	}
	if fm.ID == "" {
		return nil, fmt.Errorf("frontmatter has no id")
	}

	n := &models.Note{
		ID:            fm.ID,
		Title:         fm.Title,
		Type:          fm.Type,
		Tags:          fm.Tags,
		LinkedSources: fm.LinkedSources,
		Frontmatter:   fm.Extra,
		Body:          body,
		Version:       fm.Version,
		Deleted:       fm.Deleted,
		CreatedAt:     fm.CreatedAt,
		UpdatedAt:     fm.UpdatedAt,
	}
	if fm.Review != nil {
		n.Review = *fm.Review
	}
	return n, nil
}

// appendToSection inserts text at the end of the named section (a Markdown
// header line such as "## History"), creating the section at the end of the
// body when absent.
func appendToSection(body, section, text string) string {
	if section == "" {
		return strings.TrimRight(body, "\n") + "\n\n" + text + "\n"
	}

	lines := strings.Split(body, "\n")
	start := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == section {
			start = i
			break
		}
	}
	if start < 0 {
		trimmed := strings.TrimRight(body, "\n")
		if trimmed == "" {
			return section + "\n\n" + text + "\n"
		}
		return trimmed + "\n\n" + section + "\n\n" + text + "\n"
	}

	// Section ends at the next header of the same or shallower depth.
	depth := headerDepth(section)
	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		if d := headerDepth(strings.TrimSpace(lines[i])); d > 0 && d <= depth {
			end = i
			break
		}
	}

	// Insert before trailing blank lines of the section.
	insert := end
	for insert > start+1 && strings.TrimSpace(lines[insert-1]) == "" {
		insert--
	}

	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:insert]...)
	out = append(out, text)
	out = append(out, lines[insert:]...)
	return strings.Join(out, "\n")
}

func headerDepth(line string) int {
	n := 0
	for n < len(line) && line[n] == '#' {
		n++
	}
	if n == 0 || n >= len(line) || line[n] != ' ' {
		return 0
	}
	return n
}

// formatEntry renders an extraction payload into the requested section
// format.
func formatEntry(format models.NoteFormat, text string, when time.Time) string {
	switch format {
	case models.FormatBulletDate:
		return fmt.Sprintf("- %s — %s", when.Format("2006-01-02"), text)
	case models.FormatParagraph:
		return text
	case models.FormatTable:
		return fmt.Sprintf("| %s | %s |", when.Format("2006-01-02"), text)
	default:
		return "- " + text
	}
}
