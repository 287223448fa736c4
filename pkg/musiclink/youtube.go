// Package musiclink extracts YouTube video identities and resolves lightweight metadata for them.
package musiclink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"tubesync/internal/core"
)

const (
	// YouTubeOEmbedURL is the YouTube oEmbed API endpoint.
	YouTubeOEmbedURL = "https://www.youtube.com/oembed"
	// YouTubeRequestTimeout is the timeout for YouTube API requests.
	YouTubeRequestTimeout = 10 * time.Second
	// IdentityLength is the length of a YouTube video ID.
	IdentityLength = 11
)

var (
	// identityPatterns are tried in order; the first match wins.
	identityPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\[([A-Za-z0-9_-]{11})\]`),
		regexp.MustCompile(`[?&]v=([A-Za-z0-9_-]{11})`),
		regexp.MustCompile(`youtu\.be/([A-Za-z0-9_-]{11})`),
		regexp.MustCompile(`watch\?v=([A-Za-z0-9_-]{11})`),
	}
	identityRegex  = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	camelCaseRegex = regexp.MustCompile(`([a-z])([A-Z])`)
)

// ExtractIdentity returns the video ID embedded in a filename or URL, or "" when none matches.
func ExtractIdentity(s string) string {
	for _, pattern := range identityPatterns {
		if m := pattern.FindStringSubmatch(s); len(m) > 1 {
			return m[1]
		}
	}
	return ""
}

// IsIdentity reports whether s has the shape of a video ID.
func IsIdentity(s string) bool {
	return identityRegex.MatchString(s)
}

// WatchURL returns the canonical watch URL for a video ID.
func WatchURL(identity string) string {
	return "https://www.youtube.com/watch?v=" + identity
}

// ArtistFromChannel derives an artist name from an uploader/channel name.
// VEVO and auto-generated "- Topic" channels are unwrapped; anything else is returned as-is.
func ArtistFromChannel(channel string) string {
	channel = strings.TrimSpace(channel)
	if strings.HasSuffix(channel, "VEVO") {
		// "RickAstleyVEVO" -> "Rick Astley".
		return camelCaseRegex.ReplaceAllString(strings.TrimSuffix(channel, "VEVO"), "$1 $2")
	}
	if strings.HasSuffix(channel, " - Topic") {
		return strings.TrimSuffix(channel, " - Topic")
	}
	return channel
}

// YouTubeOEmbedResponse represents the response from YouTube's oEmbed API.
type YouTubeOEmbedResponse struct {
	Title      string `json:"title"`
	AuthorName string `json:"author_name"`
}

// YouTubeResolver looks up titles through the public oEmbed endpoint.
// It is a lightweight fallback when the downloader cannot dump metadata.
type YouTubeResolver struct {
	client   *http.Client
	endpoint string
}

// NewYouTubeResolver creates a new oEmbed resolver.
func NewYouTubeResolver() *YouTubeResolver {
	return &YouTubeResolver{
		client: &http.Client{
			Timeout: YouTubeRequestTimeout,
		},
		endpoint: YouTubeOEmbedURL,
	}
}

// Lookup fetches the title and channel for a video ID.
func (r *YouTubeResolver) Lookup(ctx context.Context, identity string) (*core.RemoteInfo, error) {
	if !IsIdentity(identity) {
		return nil, fmt.Errorf("not a video ID: %q", identity)
	}

	resp, err := r.fetchOEmbed(ctx, WatchURL(identity))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch oEmbed data: %w", err)
	}
	if resp.Title == "" {
		return nil, errors.New("oEmbed response has no title")
	}

	return &core.RemoteInfo{
		Title:    resp.Title,
		Uploader: resp.AuthorName,
	}, nil
}

// fetchOEmbed fetches metadata from YouTube's oEmbed API.
func (r *YouTubeResolver) fetchOEmbed(ctx context.Context, videoURL string) (*YouTubeOEmbedResponse, error) {
	reqURL := fmt.Sprintf("%s?url=%s&format=json", r.endpoint, url.QueryEscape(videoURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oEmbed API returned status %d", resp.StatusCode)
	}

	var oembedResp YouTubeOEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&oembedResp); err != nil {
		return nil, fmt.Errorf("failed to decode oEmbed response: %w", err)
	}

	return &oembedResp, nil
}
