// Package naming builds canonical "Artist - Track (Album)" display names and filesystem-safe strings.
package naming

import (
	"regexp"
	"strings"
)

const (
	// MaxFieldLength caps every sanitized metadata field, in runes.
	MaxFieldLength = 100
	ellipsis       = "..."

	// UnknownArtist stands in for an empty artist component.
	UnknownArtist = "Unknown Artist"
	// UnknownTrack stands in for an empty track component.
	UnknownTrack = "Unknown Track"

	defaultFolder = "playlist"

	// trimmed from both ends of every name component
	edgeChars = " ."
)

var (
	trailingMarkerRegex = regexp.MustCompile(`(?i)\s*[\(\[](?:dup|copy|\d+)[\)\]]\s*$`)
	embeddedMarkerRegex = regexp.MustCompile(`(?i)\s*[\(\[](?:dup|copy|\d+)[\)\]]\s*`)
	unsafeRegex         = regexp.MustCompile(`[<>:"/\\|?*]`)
	whitespaceRegex     = regexp.MustCompile(`\s+`)
)

// Format renders the canonical display name. Each component is cleaned independently.
func Format(artist, track, album string) string {
	a := CleanComponent(artist)
	if a == "" {
		a = UnknownArtist
	}
	t := CleanComponent(track)
	if t == "" {
		t = UnknownTrack
	}
	if al := CleanComponent(album); al != "" {
		return a + " - " + t + " (" + al + ")"
	}
	return a + " - " + t
}

// CleanComponent strips duplicate markers such as "(copy)", "(dup)" or "(2)" until nothing changes,
// then collapses whitespace and replaces filesystem-unsafe characters.
// If cleaning removes everything the original value is kept.
func CleanComponent(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}

	original := s
	cleaned := StripDuplicateMarkers(s)
	if cleaned == "" {
		cleaned = original
	}

	cleaned = unsafeRegex.ReplaceAllString(cleaned, "_")
	cleaned = whitespaceRegex.ReplaceAllString(cleaned, " ")
	return strings.Trim(cleaned, edgeChars)
}

// StripDuplicateMarkers removes trailing and embedded duplicate markers, including nested ones.
// Every pass either shortens the string or stops, so the loop is bounded by its length.
func StripDuplicateMarkers(s string) string {
	text := strings.TrimSpace(s)
	for i := 0; i <= len(s); i++ {
		next := trailingMarkerRegex.ReplaceAllString(text, "")
		next = embeddedMarkerRegex.ReplaceAllString(next, " ")
		next = whitespaceRegex.ReplaceAllString(next, " ")
		next = strings.TrimSpace(next)
		if next == text {
			break
		}
		text = next
	}
	return text
}

// Sanitize makes a metadata field safe for filenames: unsafe characters become "_",
// whitespace collapses, surrounding spaces and dots are trimmed and the result is capped at MaxFieldLength runes.
func Sanitize(s string) string {
	if s == "" {
		return ""
	}
	s = unsafeRegex.ReplaceAllString(s, "_")
	s = whitespaceRegex.ReplaceAllString(s, " ")
	s = strings.Trim(s, edgeChars)

	runes := []rune(s)
	if len(runes) > MaxFieldLength {
		s = string(runes[:MaxFieldLength-len(ellipsis)]) + ellipsis
	}
	return s
}

// SanitizeFolder turns a playlist name into a folder name, defaulting to "playlist".
func SanitizeFolder(name string) string {
	cleaned := unsafeRegex.ReplaceAllString(name, "_")
	cleaned = strings.TrimSpace(cleaned)
	cleaned = strings.TrimRight(cleaned, ".")
	if cleaned == "" {
		return defaultFolder
	}
	return cleaned
}

// FileName builds "{display} [{identity}]{ext}", omitting the bracket suffix when identity is unknown.
// ext is lowercased and must include its leading dot.
func FileName(display, identity, ext string) string {
	ext = strings.ToLower(ext)
	if identity == "" {
		return display + ext
	}
	return display + " [" + identity + "]" + ext
}
