package core

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"tubesync/pkg/naming"
)

// Mode selects which parts of the sync pipeline run for a playlist.
type Mode string

const (
	// ModeDownload fetches new entries, tidies only the fresh downloads and applies playlist removals.
	ModeDownload Mode = "download"
	// ModeOrganize renames and deduplicates the existing library without touching the network.
	ModeOrganize Mode = "organize"
	// ModeComplete runs a download pass followed by a full organize pass.
	ModeComplete Mode = "complete"
)

// TrackMetadata is the cleaned artist/track/album triple derived for a track.
type TrackMetadata struct {
	Artist        string `json:"artist"`
	Track         string `json:"track"`
	Album         string `json:"album"`
	OriginalTitle string `json:"original_title"`
}

// DisplayName returns the canonical "Artist - Track (Album)" form.
func (m TrackMetadata) DisplayName() string {
	return naming.Format(m.Artist, m.Track, m.Album)
}

// IsZero reports whether no field was ever populated.
func (m TrackMetadata) IsZero() bool {
	return m.Artist == "" && m.Track == "" && m.Album == "" && m.OriginalTitle == ""
}

// PlaylistItem is one entry of a flat playlist listing as reported by the downloader.
type PlaylistItem struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// RemoteEntry is a playlist entry enriched with resolved metadata. It lives for one sync run.
type RemoteEntry struct {
	Identity string
	RawTitle string
	URL      string
	Metadata TrackMetadata
	// Index is the entry's position in the remote playlist.
	Index int
}

// RemoteInfo is the subset of an authoritative single-item lookup used for naming.
type RemoteInfo struct {
	Title    string
	Artist   string
	Track    string
	Album    string
	Uploader string
}

// LocalFile is an audio file found in a library folder.
type LocalFile struct {
	Path     string
	Identity string
	ModTime  time.Time
	Ext      string
	// Tags holds embedded artist/title/album when tag reading is enabled.
	Tags TrackMetadata
}

// Name returns the file's base name.
func (f LocalFile) Name() string {
	return filepath.Base(f.Path)
}

// Stem returns the base name without extension.
func (f LocalFile) Stem() string {
	name := f.Name()
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// SyncPlan is the reconciliation outcome for one playlist.
type SyncPlan struct {
	ToFetch          []RemoteEntry
	AlreadyPresent   []RemoteEntry
	DuplicatesByName []RemoteEntry
	ArchivePrune     []string
}

// Sorted returns a copy of the plan with every collection ordered by identity.
func (p SyncPlan) Sorted() SyncPlan {
	out := SyncPlan{
		ToFetch:          sortEntries(p.ToFetch),
		AlreadyPresent:   sortEntries(p.AlreadyPresent),
		DuplicatesByName: sortEntries(p.DuplicatesByName),
		ArchivePrune:     append([]string(nil), p.ArchivePrune...),
	}
	sort.Strings(out.ArchivePrune)
	return out
}

func sortEntries(entries []RemoteEntry) []RemoteEntry {
	out := append([]RemoteEntry(nil), entries...)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Identity < out[j].Identity
	})
	return out
}

// FetchFailure describes one item the downloader could not fetch.
type FetchFailure struct {
	Identity string
	URL      string
	Reason   string
}

// FetchRequest describes one batch download.
type FetchRequest struct {
	URLs        []string
	Dir         string
	ArchivePath string
	Debug       bool
	LogPath     string
	// Progress is called with the number of items processed so far.
	Progress func(done int)
}

// FetchResult aggregates the outcome of one batch download.
type FetchResult struct {
	Success         bool
	Downloaded      int
	SkippedExisting int
	SkippedArchive  int
	Failures        []FetchFailure
}

// SyncResult is the per-playlist summary of a sync invocation.
type SyncResult struct {
	Playlist          string `json:"playlist"`
	Mode              Mode   `json:"mode"`
	NewDownloads      int    `json:"new_downloads"`
	Renamed           int    `json:"renamed"`
	DuplicatesRemoved int    `json:"duplicates_removed"`
	RemovedMissing    int    `json:"removed_missing"`
	Success           bool   `json:"success"`
	DryRun            bool   `json:"dry_run"`
	Error             string `json:"error,omitempty"`
}

// Downloader is the external downloader tool boundary.
type Downloader interface {
	ScanPlaylist(ctx context.Context, url string) ([]PlaylistItem, error)
	Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error)
}

// InfoSource provides authoritative metadata for a single identity.
type InfoSource interface {
	Lookup(ctx context.Context, identity string) (*RemoteInfo, error)
}

// Confirmer gates destructive actions behind an explicit yes.
type Confirmer interface {
	Confirm(prompt string) bool
}

// Recorder receives run metrics.
type Recorder interface {
	RecordDownloads(playlist string, n int)
	RecordDuplicates(source string, n int)
	RecordQuarantined(reason string, n int)
	RecordRenamed(n int)
	RecordFetchFailures(n int)
	RecordArchivePruned(n int)
	RecordError(component, errorType string)
	RecordSyncDuration(mode Mode, d time.Duration)
	SetPlaylistSize(playlist string, n int)
}

// NopRecorder discards all metrics.
type NopRecorder struct{}

func (NopRecorder) RecordDownloads(string, int)            {}
func (NopRecorder) RecordDuplicates(string, int)           {}
func (NopRecorder) RecordQuarantined(string, int)          {}
func (NopRecorder) RecordRenamed(int)                      {}
func (NopRecorder) RecordFetchFailures(int)                {}
func (NopRecorder) RecordArchivePruned(int)                {}
func (NopRecorder) RecordError(string, string)             {}
func (NopRecorder) RecordSyncDuration(Mode, time.Duration) {}
func (NopRecorder) SetPlaylistSize(string, int)            {}
