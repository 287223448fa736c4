package metadata

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"tubesync/pkg/naming"
)

// maxSplitTrackLength bounds the track half of a last-resort " - " split.
const maxSplitTrackLength = 200

var (
	noiseBracketRegex = regexp.MustCompile(
		`(?i)[\(\[]\s*(?:official\s+(?:music\s+)?(?:video|audio)|lyrics?(?:\s+video)?|visuali[sz]er|audio|music\s+video)\s*[\)\]]`)
	bracketTagRegex    = regexp.MustCompile(`\[[^\]]*\]`)
	noisePhraseRegex   = regexp.MustCompile(`(?i)\b(?:official\s+(?:music\s+)?(?:video|audio)|lyric\s+video|lyrics|visuali[sz]er|music\s+video)\b`)
	resolutionRegex    = regexp.MustCompile(`(?i)\b(?:hd|4k|8k|\d{3,4}p)\b`)
	featBracketRegex   = regexp.MustCompile(`(?i)[\(\[]\s*(?:feat|ft|featuring)\.?\s[^\)\]]*[\)\]]`)
	featClauseRegex    = regexp.MustCompile(`(?i)\s+(?:feat\.?|ft\.?|featuring)\s+.*?(\s+-\s+|$)`)
	separatorRegex     = regexp.MustCompile(`\s*[|–—]\s*`)
	emptyParensRegex   = regexp.MustCompile(`\(\s*\)`)
	collapseSpaceRegex = regexp.MustCompile(`\s+`)
	danglingDashRegex  = regexp.MustCompile(`^(?:\s*-\s+)+|(?:\s+-\s*)+$`)

	dashPattern  = regexp.MustCompile(`^(.+?)\s+-\s+(.+?)(?:\s*\(([^()]*)\))?$`)
	quotePattern = regexp.MustCompile(`^(.+?)\s*["“”](.+?)["“”](?:\s*\(([^()]*)\))?$`)
	byPattern    = regexp.MustCompile(`(?i)^(.+?)\s+by\s+(.+?)(?:\s*\(([^()]*)\))?$`)
)

// Parsed is the heuristic split of a cleaned title. Artist is empty when no pattern matched.
type Parsed struct {
	Artist string
	Track  string
	Album  string
}

// CleanTitle strips video noise from a raw title: bracketed tags, "official video" style phrases,
// resolution markers, feat. clauses and duplicate markers. Separator glyphs become " - ".
// A title made only of noise is returned trimmed rather than emptied.
func CleanTitle(title string) string {
	original := strings.TrimSpace(norm.NFKC.String(title))
	if original == "" {
		return ""
	}

	clean := naming.StripDuplicateMarkers(original)
	clean = noiseBracketRegex.ReplaceAllString(clean, "")
	clean = featBracketRegex.ReplaceAllString(clean, "")
	clean = bracketTagRegex.ReplaceAllString(clean, "")
	clean = noisePhraseRegex.ReplaceAllString(clean, "")
	clean = resolutionRegex.ReplaceAllString(clean, "")
	clean = separatorRegex.ReplaceAllString(clean, " - ")
	clean = featClauseRegex.ReplaceAllString(clean, "${1}")
	clean = emptyParensRegex.ReplaceAllString(clean, "")
	clean = collapseSpaceRegex.ReplaceAllString(clean, " ")
	clean = strings.TrimSpace(danglingDashRegex.ReplaceAllString(clean, ""))

	if clean == "" {
		return original
	}
	return clean
}

// ParseTitle splits a cleaned title into artist, track and album. Patterns are tried in order:
// "Artist - Track (Album)", `Artist "Track" (Album)`, "Track by Artist (Album)", then a plain " - " split.
// Every field is sanitized.
func ParseTitle(title string) Parsed {
	title = strings.TrimSpace(title)
	if title == "" {
		return Parsed{}
	}

	if m := dashPattern.FindStringSubmatch(title); m != nil {
		return sanitized(m[1], m[2], m[3])
	}
	if m := quotePattern.FindStringSubmatch(title); m != nil {
		return sanitized(m[1], m[2], m[3])
	}
	if m := byPattern.FindStringSubmatch(title); m != nil {
		return sanitized(m[2], m[1], m[3])
	}
	if artist, track, ok := strings.Cut(title, " - "); ok && len(track) < maxSplitTrackLength {
		if p := sanitized(artist, track, ""); p.Artist != "" && p.Track != "" {
			return p
		}
	}

	return Parsed{Track: naming.Sanitize(title)}
}

func sanitized(artist, track, album string) Parsed {
	p := Parsed{
		Artist: naming.Sanitize(artist),
		Track:  naming.Sanitize(track),
		Album:  naming.Sanitize(album),
	}
	if p.Track == "" {
		// "Artist - (Album)" style leftovers: keep the text as the track.
		p.Track = naming.Sanitize(strings.TrimSpace(track + " " + album))
		p.Album = ""
	}
	return p
}
