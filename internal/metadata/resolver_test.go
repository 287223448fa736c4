package metadata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"tubesync/internal/core"
	"tubesync/internal/store"
	"tubesync/pkg/naming"
)

type fakeSource struct {
	mu    sync.Mutex
	infos map[string]*core.RemoteInfo
	err   error
	block bool
	calls int
}

func (f *fakeSource) Lookup(ctx context.Context, identity string) (*core.RemoteInfo, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	info, ok := f.infos[identity]
	if !ok {
		return nil, errors.New("not found")
	}
	return info, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestResolver(sources ...core.InfoSource) (*Resolver, *store.MemoryCache) {
	cache := store.NewMemoryCache()
	return NewResolver(cache, sources, 50*time.Millisecond, zap.NewNop()), cache
}

func TestResolver_CachedValueReturnedUnchanged(t *testing.T) {
	source := &fakeSource{}
	resolver, cache := newTestResolver(source)

	cached := core.TrackMetadata{Artist: "Cached", Track: "Value", OriginalTitle: "whatever"}
	_ = cache.Put("dQw4w9WgXcQ", cached)

	result := resolver.Resolve(context.Background(), "dQw4w9WgXcQ", "Completely Different - Title")
	if result.Source != SourceCached {
		t.Errorf("Source = %s, want %s", result.Source, SourceCached)
	}
	if result.Metadata != cached {
		t.Errorf("Metadata = %+v, want %+v", result.Metadata, cached)
	}
	if source.callCount() != 0 {
		t.Errorf("Cached identity triggered %d lookups", source.callCount())
	}
}

func TestResolver_AuthoritativeLookup(t *testing.T) {
	source := &fakeSource{infos: map[string]*core.RemoteInfo{
		"dQw4w9WgXcQ": {Artist: "Rick Astley", Track: "Never Gonna Give You Up", Album: "Whenever You Need Somebody"},
	}}
	resolver, cache := newTestResolver(source)

	result := resolver.Resolve(context.Background(), "dQw4w9WgXcQ", "Rick Astley - Never Gonna Give You Up (Official Video)")
	if result.Source != SourceAuthoritative {
		t.Fatalf("Source = %s, want %s", result.Source, SourceAuthoritative)
	}
	want := "Rick Astley - Never Gonna Give You Up (Whenever You Need Somebody)"
	if got := result.Metadata.DisplayName(); got != want {
		t.Errorf("DisplayName() = %q, want %q", got, want)
	}
	if result.Metadata.OriginalTitle != "Rick Astley - Never Gonna Give You Up" {
		t.Errorf("OriginalTitle = %q", result.Metadata.OriginalTitle)
	}

	if _, ok := cache.Get("dQw4w9WgXcQ"); !ok {
		t.Error("Authoritative result should be cached")
	}

	// Second call is served from the cache.
	again := resolver.Resolve(context.Background(), "dQw4w9WgXcQ", "ignored")
	if again.Source != SourceCached || source.callCount() != 1 {
		t.Errorf("Second resolve source=%s calls=%d", again.Source, source.callCount())
	}
}

func TestResolver_TitleAndChannelFallback(t *testing.T) {
	source := &fakeSource{infos: map[string]*core.RemoteInfo{
		"AAAAAAAAAAA": {Title: "Song Name (Official Audio)", Uploader: "Some Band - Topic"},
		"BBBBBBBBBBB": {Title: "Other Artist - Other Song [4K]", Uploader: "RandomUploader"},
	}}
	resolver, _ := newTestResolver(source)

	tests := []struct {
		identity string
		want     string
	}{
		{"AAAAAAAAAAA", "Some Band - Song Name"},
		{"BBBBBBBBBBB", "Other Artist - Other Song"},
	}
	for _, tt := range tests {
		t.Run(tt.identity, func(t *testing.T) {
			result := resolver.Resolve(context.Background(), tt.identity, "raw")
			if got := result.Metadata.DisplayName(); got != tt.want {
				t.Errorf("DisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolver_LookupFailureFallsBackToHeuristic(t *testing.T) {
	tests := []struct {
		name   string
		source *fakeSource
	}{
		{"error", &fakeSource{err: errors.New("exit status 1")}},
		{"timeout", &fakeSource{block: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver, cache := newTestResolver(tt.source)

			result := resolver.Resolve(context.Background(), "dQw4w9WgXcQ", "Daft Punk - One More Time [HD]")
			if result.Source != SourceHeuristic {
				t.Errorf("Source = %s, want %s", result.Source, SourceHeuristic)
			}
			if got := result.Metadata.DisplayName(); got != "Daft Punk - One More Time" {
				t.Errorf("DisplayName() = %q", got)
			}
			if _, ok := cache.Get("dQw4w9WgXcQ"); !ok {
				t.Error("Heuristic result for an identity should be cached")
			}
		})
	}
}

func TestResolver_SecondSourceUsedAfterFailure(t *testing.T) {
	failing := &fakeSource{err: errors.New("boom")}
	working := &fakeSource{infos: map[string]*core.RemoteInfo{
		"dQw4w9WgXcQ": {Title: "Rick Astley - Never Gonna Give You Up", Uploader: "RickAstleyVEVO"},
	}}
	resolver, _ := newTestResolver(failing, working)

	result := resolver.Resolve(context.Background(), "dQw4w9WgXcQ", "raw")
	if result.Source != SourceAuthoritative {
		t.Fatalf("Source = %s, want %s", result.Source, SourceAuthoritative)
	}
	if result.Metadata.Artist != "Rick Astley" {
		t.Errorf("Artist = %q", result.Metadata.Artist)
	}
}

func TestResolver_NoIdentityNeverLooksUp(t *testing.T) {
	source := &fakeSource{}
	resolver, cache := newTestResolver(source)

	result := resolver.Resolve(context.Background(), "", "Just A Title")
	if result.Metadata.Artist != "" || result.Metadata.Track != "Just A Title" {
		t.Errorf("Metadata = %+v", result.Metadata)
	}
	if result.Metadata.DisplayName() != "Unknown Artist - Just A Title" {
		t.Errorf("DisplayName() = %q", result.Metadata.DisplayName())
	}
	if source.callCount() != 0 || cache.Len() != 0 {
		t.Errorf("Identity-less resolve touched lookup (%d) or cache (%d)", source.callCount(), cache.Len())
	}
}

func TestResolver_ResolveLocalPrefersTags(t *testing.T) {
	resolver, _ := newTestResolver()

	file := core.LocalFile{
		Path: "/music/track01.mp3",
		Tags: core.TrackMetadata{Artist: "Tagged Artist", Track: "Tagged Song"},
	}
	result := resolver.ResolveLocal(context.Background(), file)
	if result.Source != SourceTags {
		t.Errorf("Source = %s, want %s", result.Source, SourceTags)
	}
	if got := result.Metadata.DisplayName(); got != "Tagged Artist - Tagged Song" {
		t.Errorf("DisplayName() = %q", got)
	}

	untagged := core.LocalFile{Path: "/music/Artist - Song [dQw4w9WgXcQ].mp3", Identity: "dQw4w9WgXcQ"}
	if got := resolver.ResolveLocal(context.Background(), untagged).Metadata.DisplayName(); got != "Artist - Song" {
		t.Errorf("Untagged DisplayName() = %q", got)
	}
}

// Formatting a name, turning it into a file name and resolving that file again must be stable.
func TestFormatParseRoundTripIsIdempotent(t *testing.T) {
	resolver, _ := newTestResolver()

	samples := []core.TrackMetadata{
		{Artist: "Rick Astley", Track: "Never Gonna Give You Up"},
		{Artist: "Daft Punk", Track: "One More Time", Album: "Discovery"},
		{Artist: "Jay-Z", Track: "Empire State of Mind"},
		{Artist: "Artist", Track: "Track - Extended Mix"},
		{Artist: "AC/DC", Track: "Back In Black"},
		{Artist: "Björk", Track: "Jóga", Album: "Homogenic"},
		{Track: "No Artist"},
		{Artist: "Somebody", Track: "Song (Live)"},
		{Artist: "-M-", Track: "Qui de nous deux"},
		{Artist: "Artist", Track: "_Intro_"},
	}

	for _, m := range samples {
		first := m.DisplayName()
		stem := naming.FileName(first, "", "")
		again := resolver.Resolve(context.Background(), "", stem).Metadata.DisplayName()
		if again != first {
			t.Errorf("format(parse(format(m))) = %q, want %q", again, first)
		}
		if third := resolver.Resolve(context.Background(), "", again).Metadata.DisplayName(); third != again {
			t.Errorf("Not a fixed point: %q -> %q", again, third)
		}
	}
}
