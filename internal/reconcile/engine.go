// Package reconcile compares a remote playlist with a library folder and decides what to fetch,
// what is already present and what no longer belongs.
package reconcile

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"tubesync/internal/core"
	"tubesync/internal/metadata"
	"tubesync/internal/store"
	"tubesync/pkg/fuzzy"
	"tubesync/pkg/naming"
)

// Resolver supplies metadata for remote entries and local files.
type Resolver interface {
	Resolve(ctx context.Context, identity, rawTitle string) metadata.Result
	ResolveLocal(ctx context.Context, f core.LocalFile) metadata.Result
}

// Rename moves a kept file to its canonical name.
type Rename struct {
	File   core.LocalFile
	Target string
	// Display is the canonical name without identity suffix or extension.
	Display string
	// Metadata is zero when the name came from the file name fallback.
	Metadata core.TrackMetadata
}

// OrganizePlan is the outcome of the intra-library pass.
type OrganizePlan struct {
	Renames    []Rename
	Duplicates []core.LocalFile
	// Scanned is the number of files the plan was computed from.
	Scanned int
}

// Engine makes reconciliation decisions. It never touches the filesystem.
type Engine struct {
	resolver   Resolver
	normalizer *fuzzy.Normalizer
	logger     *zap.Logger
}

// NewEngine creates an engine.
func NewEngine(resolver Resolver, logger *zap.Logger) *Engine {
	return &Engine{
		resolver:   resolver,
		normalizer: fuzzy.NewNormalizer(),
		logger:     logger.Named("reconcile"),
	}
}

// Plan decides, entry by entry in playlist order, which remote entries to fetch.
// Entries whose identity is on disk are already present; entries whose name matches a local file
// (or an earlier entry) are duplicates by name. Fetch candidates recorded in the archive without a
// file on disk are marked for archive pruning.
func (e *Engine) Plan(ctx context.Context, entries []core.RemoteEntry, files []core.LocalFile, archived *store.KeySet) core.SyncPlan {
	diskIDs := store.NewKeySet(len(files)*2, store.DefaultFalsePositiveRate)
	for _, f := range files {
		if f.Identity != "" {
			diskIDs.Add(f.Identity)
		}
	}

	archiveOnly := store.NewKeySet(0, store.DefaultFalsePositiveRate)
	if archived != nil {
		for _, id := range archived.Keys() {
			if !diskIDs.Has(id) {
				archiveOnly.Add(id)
			}
		}
	}
	if archiveOnly.Size() > 0 {
		e.logger.Warn("Archive lists identities missing on disk; they will be fetched again if still in the playlist",
			zap.Int("count", archiveOnly.Size()))
	}

	existing := store.NewKeySet(len(files)*2, store.DefaultFalsePositiveRate)
	for _, f := range files {
		existing.Add(e.normalizer.Key(e.LocalName(ctx, f)))
	}

	var plan core.SyncPlan
	planned := store.NewKeySet(len(entries)*2, store.DefaultFalsePositiveRate)
	for _, entry := range entries {
		if entry.Identity == "" {
			e.logger.Warn("Skipping playlist entry without identity", zap.String("title", entry.RawTitle))
			continue
		}
		if diskIDs.Has(entry.Identity) {
			plan.AlreadyPresent = append(plan.AlreadyPresent, entry)
			continue
		}
		if !planned.Add(entry.Identity) {
			e.logger.Debug("Playlist lists identity twice", zap.String("identity", entry.Identity))
			continue
		}

		name := e.EntryName(ctx, entry)
		key := e.normalizer.Key(name)
		if existing.Has(key) {
			e.logger.Info("Already have song from a different video",
				zap.String("name", name), zap.String("identity", entry.Identity))
			plan.DuplicatesByName = append(plan.DuplicatesByName, entry)
			continue
		}
		existing.Add(key)

		plan.ToFetch = append(plan.ToFetch, entry)
		if archiveOnly.Has(entry.Identity) {
			plan.ArchivePrune = append(plan.ArchivePrune, entry.Identity)
		}
	}

	e.logger.Info("Reconciliation planned",
		zap.Int("remote", len(entries)),
		zap.Int("local", len(files)),
		zap.Int("to_fetch", len(plan.ToFetch)),
		zap.Int("already_present", len(plan.AlreadyPresent)),
		zap.Int("duplicates_by_name", len(plan.DuplicatesByName)),
		zap.Int("archive_prune", len(plan.ArchivePrune)))

	return plan
}

// Orphans returns the local files that no longer belong to the playlist: files with an identity
// the playlist lacks, and identity-less files whose name matches no playlist entry.
// It refuses to run on an empty playlist.
func (e *Engine) Orphans(ctx context.Context, entries []core.RemoteEntry, files []core.LocalFile) ([]core.LocalFile, error) {
	if len(entries) == 0 {
		return nil, core.ErrEmptyPlaylist
	}

	ids := store.NewKeySet(len(entries)*2, store.DefaultFalsePositiveRate)
	names := store.NewKeySet(len(entries)*2, store.DefaultFalsePositiveRate)
	for _, entry := range entries {
		ids.Add(entry.Identity)
		names.Add(e.normalizer.Key(e.EntryName(ctx, entry)))
	}

	var orphans []core.LocalFile
	for _, f := range files {
		if f.Identity != "" {
			if !ids.Has(f.Identity) {
				orphans = append(orphans, f)
			}
			continue
		}
		if key := e.normalizer.Key(e.LocalName(ctx, f)); key != "" && !names.Has(key) {
			orphans = append(orphans, f)
		}
	}

	if len(orphans) > 0 {
		e.logger.Info("Found files no longer in the playlist", zap.Int("count", len(orphans)))
	}
	return orphans, nil
}

// Organize walks files with an identity first, then in path order. The first file claiming a name
// is kept (and renamed when its name is not canonical); later files with the same name are duplicates.
func (e *Engine) Organize(ctx context.Context, files []core.LocalFile) OrganizePlan {
	ordered := append([]core.LocalFile(nil), files...)
	sort.SliceStable(ordered, func(i, j int) bool {
		hasI, hasJ := ordered[i].Identity != "", ordered[j].Identity != ""
		if hasI != hasJ {
			return hasI
		}
		return ordered[i].Path < ordered[j].Path
	})

	plan := OrganizePlan{Scanned: len(ordered)}
	claimed := make(map[string]string, len(ordered))
	for _, f := range ordered {
		meta, display := e.localMetadata(ctx, f)
		key := e.normalizer.Key(display)

		if first, dup := claimed[key]; dup {
			e.logger.Info("Duplicate detected",
				zap.String("file", f.Name()), zap.String("name", display), zap.String("kept", filepath.Base(first)))
			plan.Duplicates = append(plan.Duplicates, f)
			continue
		}
		claimed[key] = f.Path

		if rename, ok := e.renameFor(f, display, meta); ok {
			plan.Renames = append(plan.Renames, rename)
		}
	}
	return plan
}

// Renames plans canonical names for files without deduplicating them.
// Used after a download to tidy only the fresh files.
func (e *Engine) Renames(ctx context.Context, files []core.LocalFile) []Rename {
	var out []Rename
	for _, f := range files {
		meta, display := e.localMetadata(ctx, f)
		if rename, ok := e.renameFor(f, display, meta); ok {
			out = append(out, rename)
		}
	}
	return out
}

// renameFor returns the rename for f unless its current name already normalizes to display.
func (e *Engine) renameFor(f core.LocalFile, display string, meta core.TrackMetadata) (Rename, bool) {
	current := naming.StripDuplicateMarkers(f.Stem())
	if e.normalizer.Equal(current, display) {
		return Rename{}, false
	}

	target := filepath.Join(filepath.Dir(f.Path), naming.FileName(display, f.Identity, f.Ext))
	if target == f.Path {
		return Rename{}, false
	}
	return Rename{File: f, Target: target, Display: display, Metadata: meta}, true
}

// LocalName is the canonical display name of a library file. A failing resolution degrades to
// the cleaned file name so one bad file cannot stop a pass.
func (e *Engine) LocalName(ctx context.Context, f core.LocalFile) string {
	_, name := e.localMetadata(ctx, f)
	return name
}

func (e *Engine) localMetadata(ctx context.Context, f core.LocalFile) (meta core.TrackMetadata, name string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("Failed to resolve file metadata, using file name",
				zap.String("file", f.Name()), zap.String("panic", fmt.Sprint(r)))
			meta, name = core.TrackMetadata{}, FallbackName(f.Stem())
		}
	}()
	meta = e.resolver.ResolveLocal(ctx, f).Metadata
	return meta, meta.DisplayName()
}

// EntryName is the canonical display name of a remote entry, resolving it when the scan did not.
func (e *Engine) EntryName(ctx context.Context, entry core.RemoteEntry) (name string) {
	if !entry.Metadata.IsZero() {
		return entry.Metadata.DisplayName()
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("Failed to resolve entry metadata, using raw title",
				zap.String("identity", entry.Identity), zap.String("panic", fmt.Sprint(r)))
			name = FallbackName(entry.RawTitle)
		}
	}()
	return e.resolver.Resolve(ctx, entry.Identity, entry.RawTitle).Metadata.DisplayName()
}

// FallbackName is the degraded name used when metadata cannot be resolved.
func FallbackName(raw string) string {
	name := naming.CleanComponent(raw)
	if name == "" {
		return naming.UnknownTrack
	}
	return name
}
