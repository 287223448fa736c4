// Package text provides URL normalization and classification for user supplied playlist links.
package text

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	playlistIDRegex = regexp.MustCompile(`list=([A-Za-z0-9_-]+)`)

	trackingParams = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "si", "feature"}
)

// NormalizeURL trims user input and prepends https:// to scheme-less YouTube links.
// Anything else is returned unchanged apart from whitespace and tracking parameters.
func NormalizeURL(raw string) string {
	value := strings.TrimSpace(norm.NFKC.String(raw))
	if value == "" {
		return ""
	}

	u, err := url.Parse(value)
	if err != nil {
		return value
	}
	if u.Scheme == "" {
		lowered := strings.ToLower(value)
		if !strings.HasPrefix(lowered, "www.") && !strings.Contains(lowered, "youtube.") &&
			!strings.Contains(lowered, "youtu.be") {
			return value
		}
		value = "https://" + strings.TrimLeft(value, "/")
		if u, err = url.Parse(value); err != nil {
			return value
		}
	}

	return cleanURL(u)
}

func cleanURL(u *url.URL) string {
	if u.RawQuery == "" {
		return u.String()
	}
	q := u.Query()
	changed := false
	for _, param := range trackingParams {
		if q.Has(param) {
			q.Del(param)
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// IsProbablyURL reports whether raw is an obvious http(s) URL with a host.
func IsProbablyURL(raw string) bool {
	value := NormalizeURL(raw)
	if value == "" {
		return false
	}
	u, err := url.Parse(value)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// LooksLikePlaylistURL detects playlist links so single-item downloads can reject them.
func LooksLikePlaylistURL(raw string) bool {
	value := NormalizeURL(raw)
	if value == "" {
		return false
	}
	u, err := url.Parse(value)
	if err != nil {
		return false
	}
	if u.Query().Get("list") != "" {
		return true
	}
	return strings.Contains(u.Path, "playlist")
}

// ExtractPlaylistID returns the list= parameter of a playlist URL, or "".
func ExtractPlaylistID(raw string) string {
	if raw == "" {
		return ""
	}
	if u, err := url.Parse(raw); err == nil {
		if id := u.Query().Get("list"); id != "" {
			return id
		}
	}
	if m := playlistIDRegex.FindStringSubmatch(raw); len(m) > 1 {
		return m[1]
	}
	return ""
}
