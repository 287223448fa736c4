// Package fuzzy derives deduplication keys from display names.
package fuzzy

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonWordRegex    = regexp.MustCompile(`[^\p{L}\p{N}]+`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Key returns the NormalizedName for a display name: lowercase, diacritics removed,
// every non letter/digit dropped. A non-empty input never yields an empty key.
func (n *Normalizer) Key(name string) string {
	if name == "" {
		return ""
	}

	key := n.stripMarks(name)
	key = strings.ToLower(key)
	key = nonWordRegex.ReplaceAllString(key, "")
	if key != "" {
		return key
	}

	// Names made only of punctuation or symbols must not collapse onto one shared key.
	fallback := strings.ToLower(whitespaceRegex.ReplaceAllString(name, ""))
	if fallback == "" {
		return strings.ToLower(name)
	}
	return fallback
}

// Equal reports whether two display names share a key.
func (n *Normalizer) Equal(a, b string) bool {
	return n.Key(a) == n.Key(b)
}

func (n *Normalizer) stripMarks(text string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.Predicate(unicode.IsMark)), norm.NFC)
	result, _, err := transform.String(t, text)
	if err != nil {
		return text
	}
	return result
}

var defaultNormalizer = NewNormalizer()

// Key is a shorthand for NewNormalizer().Key.
func Key(name string) string {
	return defaultNormalizer.Key(name)
}
