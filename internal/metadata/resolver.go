// Package metadata derives clean artist/track/album metadata for playlist entries and local files.
package metadata

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"tubesync/internal/core"
	"tubesync/pkg/musiclink"
	"tubesync/pkg/naming"
)

// Source tells where a resolved value came from.
type Source string

const (
	SourceAuthoritative Source = "authoritative"
	SourceCached        Source = "cached"
	SourceTags          Source = "tags"
	SourceHeuristic     Source = "heuristic"
)

const defaultMemoSize = 2048

// Result is a best-effort resolution. It is always usable; Source only explains it.
type Result struct {
	Metadata core.TrackMetadata
	Source   Source
}

// Store is the identity-keyed persistent cache the resolver reads through.
type Store interface {
	Get(identity string) (core.TrackMetadata, bool)
	Put(identity string, meta core.TrackMetadata) error
}

// Resolver turns (identity, raw title) pairs into TrackMetadata.
// It is safe for concurrent use.
type Resolver struct {
	store       Store
	sources     []core.InfoSource
	memo        *lru.Cache[string, core.TrackMetadata]
	infoTimeout time.Duration
	logger      *zap.Logger
}

// NewResolver creates a resolver. Sources are consulted in order for identities missing from the store.
func NewResolver(store Store, sources []core.InfoSource, infoTimeout time.Duration, logger *zap.Logger) *Resolver {
	memo, _ := lru.New[string, core.TrackMetadata](defaultMemoSize)
	if infoTimeout <= 0 {
		infoTimeout = core.DefaultInfoTimeout
	}
	return &Resolver{
		store:       store,
		sources:     sources,
		memo:        memo,
		infoTimeout: infoTimeout,
		logger:      logger.Named("metadata"),
	}
}

// Resolve returns metadata for one entry. Cached values for an identity are returned unchanged.
// Lookup failures are logged and fall back to parsing the title; Resolve never fails.
func (r *Resolver) Resolve(ctx context.Context, identity, rawTitle string) Result {
	if identity != "" {
		if meta, ok := r.store.Get(identity); ok {
			return Result{Metadata: meta, Source: SourceCached}
		}
	} else if meta, ok := r.memo.Get(rawTitle); ok {
		return Result{Metadata: meta, Source: SourceHeuristic}
	}

	clean := CleanTitle(rawTitle)

	if identity != "" {
		if meta, ok := r.lookup(ctx, identity, clean); ok {
			r.save(identity, meta)
			return Result{Metadata: meta, Source: SourceAuthoritative}
		}
	}

	meta := Heuristic(clean)
	if identity != "" {
		r.save(identity, meta)
	} else {
		r.memo.Add(rawTitle, meta)
	}
	return Result{Metadata: meta, Source: SourceHeuristic}
}

// ResolveLocal resolves a library file. Embedded tags, when read, are preferred over the file name
// for files whose identity is not already cached.
func (r *Resolver) ResolveLocal(ctx context.Context, f core.LocalFile) Result {
	if f.Identity != "" {
		if meta, ok := r.store.Get(f.Identity); ok {
			return Result{Metadata: meta, Source: SourceCached}
		}
	}
	if f.Tags.Artist != "" && f.Tags.Track != "" {
		return Result{
			Metadata: core.TrackMetadata{
				Artist:        naming.Sanitize(f.Tags.Artist),
				Track:         naming.Sanitize(f.Tags.Track),
				Album:         naming.Sanitize(f.Tags.Album),
				OriginalTitle: naming.Sanitize(f.Stem()),
			},
			Source: SourceTags,
		}
	}
	return r.Resolve(ctx, f.Identity, f.Stem())
}

func (r *Resolver) lookup(ctx context.Context, identity, clean string) (core.TrackMetadata, bool) {
	for _, source := range r.sources {
		lookupCtx, cancel := context.WithTimeout(ctx, r.infoTimeout)
		info, err := source.Lookup(lookupCtx, identity)
		cancel()
		if err != nil {
			r.logger.Debug("Metadata lookup failed, trying next source",
				zap.String("identity", identity), zap.Error(err))
			continue
		}
		if meta, ok := FromRemoteInfo(info, clean); ok {
			return meta, true
		}
	}
	return core.TrackMetadata{}, false
}

func (r *Resolver) save(identity string, meta core.TrackMetadata) {
	if err := r.store.Put(identity, meta); err != nil {
		r.logger.Warn("Could not persist metadata cache", zap.String("identity", identity), zap.Error(err))
	}
}

// FromRemoteInfo builds metadata from an authoritative lookup. Explicit artist/track fields win;
// a missing track is parsed out of the video title and a missing artist falls back to the channel name.
func FromRemoteInfo(info *core.RemoteInfo, clean string) (core.TrackMetadata, bool) {
	if info == nil {
		return core.TrackMetadata{}, false
	}

	artist := info.Artist
	track := info.Track
	album := info.Album

	if track == "" {
		title := CleanTitle(info.Title)
		if title == "" {
			title = clean
		}
		parsed := ParseTitle(title)
		track = parsed.Track
		if artist == "" {
			artist = parsed.Artist
		}
		if album == "" && parsed.Artist != "" {
			album = parsed.Album
		}
	}
	if artist == "" {
		artist = musiclink.ArtistFromChannel(info.Uploader)
	}

	meta := core.TrackMetadata{
		Artist:        naming.Sanitize(artist),
		Track:         naming.Sanitize(track),
		Album:         naming.Sanitize(album),
		OriginalTitle: naming.Sanitize(clean),
	}
	if meta.Artist == "" || meta.Track == "" {
		return core.TrackMetadata{}, false
	}
	return meta, true
}

// Heuristic parses a cleaned title. The artist stays empty when no pattern matched.
func Heuristic(clean string) core.TrackMetadata {
	parsed := ParseTitle(clean)
	track := parsed.Track
	if track == "" {
		track = naming.Sanitize(clean)
	}
	return core.TrackMetadata{
		Artist:        parsed.Artist,
		Track:         track,
		Album:         parsed.Album,
		OriginalTitle: naming.Sanitize(clean),
	}
}
