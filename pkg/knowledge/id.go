package knowledge

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NoteID derives the canonical id of a note from its title: a stable slug
// plus a short hash suffix so distinct notes with equal titles stay
// distinct. The id never changes once assigned.
func NoteID(title string) string {
	slug := Slugify(title)
	sum := sha256.Sum256([]byte(title))
	suffix := hex.EncodeToString(sum[:])[:6]
	if slug == "" {
		return "note-" + suffix
	}
	return slug + "-" + suffix
}

// Slugify lowercases, strips diacritics, and replaces runs of
// non-alphanumerics with single dashes.
func Slugify(s string) string {
	s = stripDiacritics(strings.ToLower(s))

	var b strings.Builder
	lastDash := true
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteRune('-')
			lastDash = true
		}
	}
	out := strings.Trim(b.String(), "-")
	if len(out) > 64 {
		out = strings.Trim(out[:64], "-")
	}
	return out
}

func stripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
