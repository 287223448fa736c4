// Package playlist runs the per-playlist sync pipeline: scan the remote playlist, reconcile it with
// the library folder, fetch what is missing and tidy the folder.
package playlist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tubesync/internal/archive"
	"tubesync/internal/core"
	"tubesync/internal/inventory"
	"tubesync/internal/organize"
	"tubesync/internal/reconcile"
	"tubesync/pkg/musiclink"
	"tubesync/pkg/naming"
	"tubesync/pkg/text"
)

const (
	// FailureReportFile collects download failures across runs.
	FailureReportFile = "failed_downloads.txt"
	// DebugLogDir holds one downloader log per playlist in debug mode.
	DebugLogDir = "yt-dlp-logs"
)

// Options tunes a Syncer.
type Options struct {
	DryRun        bool
	Debug         bool
	RemoveMissing bool
	Retag         bool
	MaxWorkers    int
	// RecentWindow scopes post-download renames to files written this recently.
	RecentWindow time.Duration
	ArchiveFile  string
}

// Deps are the collaborators of a Syncer.
type Deps struct {
	Downloader core.Downloader
	Resolver   reconcile.Resolver
	Scanner    *inventory.Scanner
	Confirmer  core.Confirmer
	Recorder   core.Recorder
}

// Syncer syncs one playlist at a time. It assumes it is the only process touching a folder.
type Syncer struct {
	deps     Deps
	opts     Options
	engine   *reconcile.Engine
	executor *organize.Executor
	logger   *zap.Logger
	now      func() time.Time
}

// NewSyncer creates a syncer.
func NewSyncer(deps Deps, opts Options, logger *zap.Logger) *Syncer {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = core.DefaultMaxWorkers
	}
	if opts.RecentWindow <= 0 {
		opts.RecentWindow = core.DefaultRecentMinutes * time.Minute
	}
	if opts.ArchiveFile == "" {
		opts.ArchiveFile = core.DefaultArchiveFile
	}
	if deps.Recorder == nil {
		deps.Recorder = core.NopRecorder{}
	}
	if deps.Scanner == nil {
		deps.Scanner = inventory.NewScanner(false, logger)
	}

	return &Syncer{
		deps:     deps,
		opts:     opts,
		engine:   reconcile.NewEngine(deps.Resolver, logger),
		executor: organize.NewExecutor(opts.DryRun, opts.Retag, logger),
		logger:   logger.Named("playlist"),
		now:      time.Now,
	}
}

// job is the state of one playlist sync.
type job struct {
	playlist core.PlaylistConfig
	folder   string
	ledger   *archive.Ledger
	logger   *zap.Logger
}

func (s *Syncer) newJob(pl core.PlaylistConfig, folder string) *job {
	logger := s.logger.With(zap.String("playlist", pl.Name))
	return &job{
		playlist: pl,
		folder:   folder,
		ledger:   archive.NewLedger(filepath.Join(folder, s.opts.ArchiveFile), logger),
		logger:   logger,
	}
}

// Sync runs mode for one playlist in folder. Failures are reported in the result, never returned,
// so a batch of playlists keeps going.
func (s *Syncer) Sync(ctx context.Context, pl core.PlaylistConfig, folder string, mode core.Mode) core.SyncResult {
	result := core.SyncResult{
		Playlist: pl.Name,
		Mode:     mode,
		Success:  true,
		DryRun:   s.opts.DryRun,
	}

	start := s.now()
	defer func() {
		s.deps.Recorder.RecordSyncDuration(mode, s.now().Sub(start))
	}()

	j := s.newJob(pl, folder)
	j.logger.Info("Syncing playlist", zap.String("mode", string(mode)), zap.String("folder", folder),
		zap.Bool("dry_run", s.opts.DryRun))

	err := core.ValidatePlaylistURL(text.NormalizeURL(pl.URL))
	if err == nil {
		err = os.MkdirAll(folder, 0o755)
	}
	if err == nil {
		switch mode {
		case core.ModeDownload:
			err = s.download(ctx, j, &result)
		case core.ModeOrganize:
			err = s.organizeOnly(ctx, j, &result)
		case core.ModeComplete:
			err = s.complete(ctx, j, &result)
		default:
			err = fmt.Errorf("unknown sync mode %q", mode)
		}
	}

	if err != nil {
		j.logger.Error("Sync failed", zap.Error(err))
		s.deps.Recorder.RecordError("playlist", errorType(err))
		result.Success = false
		result.Error = err.Error()
	}

	j.logger.Info("Playlist done",
		zap.Int("new_downloads", result.NewDownloads),
		zap.Int("renamed", result.Renamed),
		zap.Int("duplicates_removed", result.DuplicatesRemoved),
		zap.Int("removed_missing", result.RemovedMissing),
		zap.Bool("success", result.Success))
	return result
}

func errorType(err error) string {
	switch {
	case errors.Is(err, core.ErrInvalidURL):
		return "invalid_url"
	case errors.Is(err, core.ErrEmptyPlaylist):
		return "empty_playlist"
	case errors.Is(err, core.ErrScanFailed):
		return "scan"
	default:
		return "fetch"
	}
}

func (s *Syncer) download(ctx context.Context, j *job, result *core.SyncResult) error {
	entries, err := s.scan(ctx, j)
	if err != nil {
		return err
	}

	plan, fetchErr := s.fetchNew(ctx, j, entries)
	result.NewDownloads = plannedDownloads(plan, fetchErr)

	result.Renamed = s.renameRecent(ctx, j)
	s.cleanup(j)
	result.RemovedMissing = s.removeMissing(ctx, j, entries)
	return fetchErr
}

func (s *Syncer) organizeOnly(ctx context.Context, j *job, result *core.SyncResult) error {
	renamed, duplicates, err := s.organizeAll(ctx, j)
	if err != nil {
		return err
	}
	result.Renamed, result.DuplicatesRemoved = renamed, duplicates
	s.cleanup(j)
	return nil
}

func (s *Syncer) complete(ctx context.Context, j *job, result *core.SyncResult) error {
	entries, err := s.scan(ctx, j)
	if err != nil {
		return err
	}

	plan, fetchErr := s.fetchNew(ctx, j, entries)
	result.NewDownloads = plannedDownloads(plan, fetchErr)

	renamed, duplicates, err := s.organizeAll(ctx, j)
	if err != nil {
		return err
	}
	result.Renamed, result.DuplicatesRemoved = renamed, duplicates
	s.cleanup(j)
	result.RemovedMissing = s.removeMissing(ctx, j, entries)
	return fetchErr
}

func plannedDownloads(plan core.SyncPlan, fetchErr error) int {
	if fetchErr != nil {
		return 0
	}
	return len(plan.ToFetch)
}

// scan lists the remote playlist and resolves every entry's metadata on a bounded worker pool.
// Every entry with an ID yields exactly one result, even when its resolution fails.
func (s *Syncer) scan(ctx context.Context, j *job) ([]core.RemoteEntry, error) {
	url := text.NormalizeURL(j.playlist.URL)
	if err := core.ValidatePlaylistURL(url); err != nil {
		return nil, err
	}

	items, err := s.deps.Downloader.ScanPlaylist(ctx, url)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, core.ErrEmptyPlaylist
	}

	slots := make([]*core.RemoteEntry, len(items))
	skipped := 0

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxWorkers)
	for i, item := range items {
		if item.ID == "" {
			j.logger.Warn("Skipping playlist entry without ID", zap.String("title", item.Title))
			skipped++
			continue
		}
		i, item := i, item
		g.Go(func() error {
			entry := s.resolveEntry(gCtx, j, item, i)
			slots[i] = &entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	entries := make([]core.RemoteEntry, 0, len(items))
	for _, entry := range slots {
		if entry != nil {
			entries = append(entries, *entry)
		}
	}
	if len(entries) == 0 {
		return nil, core.ErrEmptyPlaylist
	}

	s.deps.Recorder.SetPlaylistSize(j.playlist.Name, len(entries))
	j.logger.Info("Found songs in playlist", zap.Int("count", len(entries)), zap.Int("skipped", skipped))
	return entries, nil
}

func (s *Syncer) resolveEntry(ctx context.Context, j *job, item core.PlaylistItem, index int) (entry core.RemoteEntry) {
	title := item.Title
	if title == "" {
		title = "(No title)"
	}
	entry = core.RemoteEntry{
		Identity: item.ID,
		RawTitle: title,
		URL:      musiclink.WatchURL(item.ID),
		Index:    index,
	}

	// without metadata the engine names the entry from its raw title
	defer func() {
		if r := recover(); r != nil {
			j.logger.Warn("Failed to resolve playlist entry, using raw title",
				zap.String("id", item.ID), zap.String("panic", fmt.Sprint(r)))
			entry.Metadata = core.TrackMetadata{}
		}
	}()

	entry.Metadata = s.deps.Resolver.Resolve(ctx, item.ID, title).Metadata
	return entry
}

// fetchNew plans the sync against the folder and downloads the missing entries.
func (s *Syncer) fetchNew(ctx context.Context, j *job, entries []core.RemoteEntry) (core.SyncPlan, error) {
	files, err := s.deps.Scanner.Scan(j.folder)
	if err != nil {
		return core.SyncPlan{}, fmt.Errorf("failed to scan %s: %w", j.folder, err)
	}

	plan := s.engine.Plan(ctx, entries, files, j.ledger.Identities())
	s.deps.Recorder.RecordDuplicates("remote", len(plan.DuplicatesByName))

	if len(plan.ToFetch) == 0 {
		j.logger.Info("All songs already downloaded")
		return plan, nil
	}
	if s.opts.DryRun {
		j.logger.Info("Dry run, skipping downloads", zap.Int("count", len(plan.ToFetch)))
		return plan, nil
	}

	return plan, s.fetch(ctx, j, plan)
}

func (s *Syncer) fetch(ctx context.Context, j *job, plan core.SyncPlan) error {
	j.logger.Info("Downloading new songs", zap.Int("count", len(plan.ToFetch)))

	if pruned := j.ledger.Prune(plan.ArchivePrune); pruned > 0 {
		j.logger.Warn("Removed stale IDs from the download archive so missing files are downloaded again",
			zap.Int("pruned", pruned))
		s.deps.Recorder.RecordArchivePruned(pruned)
	}

	urls := make([]string, 0, len(plan.ToFetch))
	for _, entry := range plan.ToFetch {
		url := entry.URL
		if url == "" {
			url = musiclink.WatchURL(entry.Identity)
		}
		urls = append(urls, url)
	}

	req := core.FetchRequest{
		URLs:        urls,
		Dir:         j.folder,
		ArchivePath: j.ledger.Path(),
		Debug:       s.opts.Debug,
		Progress: func(done int) {
			j.logger.Debug("Download progress", zap.Int("done", done), zap.Int("total", len(urls)))
		},
	}
	if s.opts.Debug {
		req.LogPath = filepath.Join(j.folder, DebugLogDir, naming.SanitizeFolder(j.playlist.Name)+".log")
		j.logger.Info("Debug download enabled, keeping yt-dlp log and batch file", zap.String("log", req.LogPath))
	}

	res, err := s.deps.Downloader.Fetch(ctx, req)
	if res != nil {
		j.logger.Info("Download finished",
			zap.Int("downloaded", res.Downloaded),
			zap.Int("already_present", res.SkippedExisting),
			zap.Int("skipped_archive", res.SkippedArchive),
			zap.Int("failed", len(res.Failures)))
		s.deps.Recorder.RecordDownloads(j.playlist.Name, res.Downloaded)
		s.deps.Recorder.RecordFetchFailures(len(res.Failures))
		s.reportFailures(j, res.Failures, req.LogPath)
	}
	if err != nil {
		return fmt.Errorf("download issues occurred: %w", err)
	}
	if res != nil && !res.Success {
		return errors.New("download issues occurred")
	}
	return nil
}

// reportFailures appends a timestamped block to the playlist's failure report.
func (s *Syncer) reportFailures(j *job, failures []core.FetchFailure, logPath string) {
	if len(failures) == 0 {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] Playlist: %s\n", s.now().Format("2006-01-02 15:04:05"), j.playlist.Name)
	for _, failure := range failures {
		label := failure.Identity
		if label == "" {
			label = failure.URL
		}
		if label == "" {
			label = "unknown"
		}
		j.logger.Warn("Download failed", zap.String("item", label), zap.String("reason", failure.Reason))
		fmt.Fprintf(&b, "- %s: %s\n", label, failure.Reason)
	}
	b.WriteString("\n")

	path := filepath.Join(j.folder, FailureReportFile)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		j.logger.Warn("Failed to write failure report", zap.String("path", path), zap.Error(err))
		return
	}
	defer f.Close()
	if _, err := f.WriteString(b.String()); err != nil {
		j.logger.Warn("Failed to write failure report", zap.String("path", path), zap.Error(err))
	}

	fields := []zap.Field{zap.Int("count", len(failures)), zap.String("report", path)}
	if logPath != "" {
		fields = append(fields, zap.String("log", logPath))
	}
	j.logger.Error("Some downloads failed", fields...)
}

// renameRecent gives freshly downloaded files their canonical names.
func (s *Syncer) renameRecent(ctx context.Context, j *job) int {
	files, err := s.deps.Scanner.Scan(j.folder)
	if err != nil {
		j.logger.Warn("Could not list new downloads", zap.Error(err))
		return 0
	}
	recent := inventory.Recent(files, s.opts.RecentWindow, s.now())
	if len(recent) == 0 {
		return 0
	}

	j.logger.Info("Cleaning newly downloaded files", zap.Int("count", len(recent)))
	renamed := s.applyRenames(j, s.engine.Renames(ctx, recent))
	s.deps.Recorder.RecordRenamed(renamed)
	return renamed
}

func (s *Syncer) applyRenames(j *job, renames []reconcile.Rename) int {
	renamed := 0
	for _, r := range renames {
		if err := s.executor.Rename(r); err != nil {
			if errors.Is(err, organize.ErrTargetExists) {
				j.logger.Debug("Skipping rename, target exists", zap.String("file", r.File.Name()), zap.String("target", r.Target))
			} else {
				j.logger.Error("Failed to rename", zap.String("file", r.File.Name()), zap.Error(err))
			}
			continue
		}
		renamed++
	}
	return renamed
}

// organizeAll deduplicates and renames every audio file in the folder after confirmation.
func (s *Syncer) organizeAll(ctx context.Context, j *job) (renamed, duplicates int, err error) {
	files, err := s.deps.Scanner.Scan(j.folder)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to scan %s: %w", j.folder, err)
	}
	if len(files) == 0 {
		j.logger.Info("No audio files to organize")
		return 0, 0, nil
	}

	if !s.opts.DryRun && !s.confirm(fmt.Sprintf("About to process %d files. Continue?", len(files))) {
		j.logger.Info("Operation cancelled")
		return 0, 0, nil
	}

	j.logger.Info("Organizing files", zap.Int("count", len(files)))
	plan := s.engine.Organize(ctx, files)

	for _, dup := range plan.Duplicates {
		if _, err := s.executor.Quarantine(j.folder, dup, "duplicate"); err != nil {
			j.logger.Error("Failed to quarantine duplicate, leaving it in place", zap.String("file", dup.Name()), zap.Error(err))
			continue
		}
		duplicates++
	}
	renamed = s.applyRenames(j, plan.Renames)

	s.deps.Recorder.RecordDuplicates("library", len(plan.Duplicates))
	s.deps.Recorder.RecordQuarantined("duplicate", duplicates)
	s.deps.Recorder.RecordRenamed(renamed)

	if !s.opts.DryRun {
		after, err := s.deps.Scanner.Scan(j.folder)
		if err != nil {
			j.logger.Warn("Could not recount files", zap.Error(err))
		} else if !s.executor.CheckConservation(plan.Scanned, duplicates, len(after)) {
			s.deps.Recorder.RecordError("organize", "conservation")
		}
	}

	j.logger.Info("Organized files", zap.Int("renamed", renamed), zap.Int("duplicates_removed", duplicates))
	return renamed, duplicates, nil
}

func (s *Syncer) confirm(prompt string) bool {
	if s.deps.Confirmer == nil {
		return false
	}
	return s.deps.Confirmer.Confirm(prompt)
}

func (s *Syncer) cleanup(j *job) {
	if s.opts.DryRun {
		j.logger.Debug("Dry run, skipping temp file and image deletions")
		return
	}
	if n := s.executor.DeleteTemp(j.folder, s.opts.Debug); n > 0 {
		j.logger.Info("Deleted temporary files", zap.Int("count", n))
	}
	if n := s.executor.DeleteImages(j.folder); n > 0 {
		j.logger.Info("Deleted image files", zap.Int("count", n))
	}
}

// removeMissing quarantines files that left the playlist and forgets their archive records.
func (s *Syncer) removeMissing(ctx context.Context, j *job, entries []core.RemoteEntry) int {
	if !s.opts.RemoveMissing {
		return 0
	}

	files, err := s.deps.Scanner.Scan(j.folder)
	if err != nil {
		j.logger.Warn("Could not list files for removal pass", zap.Error(err))
		return 0
	}

	orphans, err := s.engine.Orphans(ctx, entries, files)
	if errors.Is(err, core.ErrEmptyPlaylist) {
		j.logger.Warn("Skipping removals: playlist scan returned 0 items")
		return 0
	}
	if len(orphans) == 0 {
		return 0
	}

	j.logger.Info("Removing files no longer in the playlist", zap.Int("count", len(orphans)))
	removed := 0
	for _, orphan := range orphans {
		if _, err := s.executor.Quarantine(j.folder, orphan, "orphan"); err != nil {
			j.logger.Error("Failed to remove", zap.String("file", orphan.Name()), zap.Error(err))
			continue
		}
		removed++
		if orphan.Identity != "" && !s.opts.DryRun {
			j.ledger.Remove(orphan.Identity)
		}
	}

	s.deps.Recorder.RecordQuarantined("orphan", removed)
	if removed > 0 && !s.opts.DryRun {
		j.logger.Info("Removed files are stored in quarantine", zap.String("dir", filepath.Join(j.folder, organize.QuarantineDir)))
	}
	return removed
}

// Purge permanently deletes a folder's quarantine after its own confirmation.
func (s *Syncer) Purge(folder string) (int, error) {
	if !s.opts.DryRun && !s.confirm(fmt.Sprintf("Permanently delete everything in %s?", filepath.Join(folder, organize.QuarantineDir))) {
		return 0, core.ErrCancelled
	}
	return s.executor.Purge(folder)
}
