package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tubesync/internal/core"
	httpserver "tubesync/internal/http"
	"tubesync/internal/inventory"
	"tubesync/internal/metadata"
	"tubesync/internal/playlist"
	"tubesync/internal/store"
	"tubesync/internal/ytdlp"
	"tubesync/pkg/musiclink"
)

func newSyncCmd() *cobra.Command {
	var complete, keepMissing, asJSON bool

	cmd := &cobra.Command{
		Use:   "sync [playlist names...]",
		Short: "Download new playlist entries and tidy the new files",
		Long: `Scan every configured playlist (or only the named ones), download what is missing,
rename the fresh downloads and quarantine files that left the playlist.
With --complete the whole library folder is deduplicated and renamed as well.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := core.ModeDownload
			if complete {
				mode = core.ModeComplete
			}
			if keepMissing {
				config.App.RemoveMissing = false
			}
			return runPlaylists(cmd.Context(), mode, args, asJSON)
		},
	}
	cmd.Flags().BoolVar(&complete, "complete", false, "also organize and deduplicate the whole library folder")
	cmd.Flags().BoolVar(&keepMissing, "no-remove-missing", false, "keep files that are no longer in the playlist")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the results as JSON")
	return cmd
}

func newOrganizeCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "organize [playlist names...]",
		Short: "Rename and deduplicate existing library folders without downloading",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlaylists(cmd.Context(), core.ModeOrganize, args, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the results as JSON")
	return cmd
}

func newGetCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "get URL",
		Short: "Download a single video as audio, outside any playlist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = config.DownloadPath
			}
			return runGet(cmd.Context(), args[0], expandHome(dir))
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "destination folder (default is the download path)")
	return cmd
}

func newPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge [playlist names...]",
		Short: "Permanently delete the quarantine folder of playlists",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPurge(cmd.Context(), args)
		},
	}
}

// services are the collaborators shared by all playlists of one run.
type services struct {
	cache   store.Cache
	client  *ytdlp.Client
	metrics *httpserver.Server
	syncer  *playlist.Syncer
}

func (s *services) Close() {
	if err := s.cache.Close(); err != nil {
		logger.Warn("Failed to close metadata cache", zap.Error(err))
	}
}

func initializeServices() (*services, error) {
	for _, note := range config.NormalizePlaylists() {
		logger.Warn("Adjusted playlist settings", zap.String("change", note))
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cache, err := store.Open(config.Cache.Backend, config.Cache.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata cache: %w", err)
	}

	jsRuntime := config.YTDLP.JSRuntime
	if jsRuntime == "" {
		jsRuntime = ytdlp.DetectJSRuntime()
	}
	client := ytdlp.NewClient(ytdlp.Options{
		Binary:      config.YTDLP.Binary,
		Cookies:     config.YTDLP.Cookies,
		JSRuntime:   jsRuntime,
		Retries:     config.YTDLP.Retries,
		ScanTimeout: config.YTDLP.ScanTimeout,
		InfoTimeout: config.YTDLP.InfoTimeout,
	}, nil, logger)
	client.CheckTools()

	sources := []core.InfoSource{client}
	if config.Metadata.OEmbedFallback {
		sources = append(sources, musiclink.NewYouTubeResolver())
	}

	var recorder core.Recorder = core.NopRecorder{}
	var metrics *httpserver.Server
	if config.Server.Addr != "" {
		metrics = httpserver.NewServer(&config.Server, logger)
		recorder = metrics
	}

	syncer := playlist.NewSyncer(playlist.Deps{
		Downloader: client,
		Resolver:   metadata.NewResolver(cache, sources, config.YTDLP.InfoTimeout, logger),
		Scanner:    inventory.NewScanner(config.Inventory.ReadTags, logger),
		Confirmer:  newPromptConfirmer(os.Stdin, os.Stdout, config.App.AssumeYes),
		Recorder:   recorder,
	}, playlist.Options{
		DryRun:        config.App.DryRun,
		Debug:         config.App.Debug,
		RemoveMissing: config.App.RemoveMissing,
		Retag:         config.Organize.Retag,
		MaxWorkers:    config.MaxWorkers,
		RecentWindow:  time.Duration(config.Organize.RecentMinutes) * time.Minute,
		ArchiveFile:   core.DefaultArchiveFile,
	}, logger)

	return &services{
		cache:   cache,
		client:  client,
		metrics: metrics,
		syncer:  syncer,
	}, nil
}

// selectPlaylists returns the configured playlists matching names, or all of them when names is empty.
func selectPlaylists(all []core.PlaylistConfig, names []string) ([]core.PlaylistConfig, error) {
	if len(all) == 0 {
		return nil, errors.New("no playlists configured")
	}
	if len(names) == 0 {
		return all, nil
	}

	var selected []core.PlaylistConfig
	for _, name := range names {
		found := false
		for _, pl := range all {
			if strings.EqualFold(pl.Name, name) {
				selected = append(selected, pl)
				found = true
				break
			}
		}
		if !found {
			known := make([]string, 0, len(all))
			for _, pl := range all {
				known = append(known, pl.Name)
			}
			return nil, fmt.Errorf("unknown playlist %q (configured: %s)", name, strings.Join(known, ", "))
		}
	}
	return selected, nil
}

func runPlaylists(parent context.Context, mode core.Mode, names []string, asJSON bool) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer func() { _ = logger.Sync() }()

	svcs, err := initializeServices()
	if err != nil {
		return err
	}
	defer svcs.Close()

	playlists, err := selectPlaylists(config.Playlists, names)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(config.DownloadPath, 0o755); err != nil {
		return fmt.Errorf("failed to create download path: %w", err)
	}

	logger.Info("Starting tubesync",
		zap.String("mode", string(mode)),
		zap.Int("playlists", len(playlists)),
		zap.String("download_path", config.DownloadPath),
		zap.Bool("dry_run", config.App.DryRun),
		zap.Bool("debug", config.App.Debug))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(runCtx)

	if svcs.metrics != nil {
		g.Go(func() error {
			return svcs.metrics.Start(gCtx)
		})
	}

	results := make([]core.SyncResult, 0, len(playlists))
	g.Go(func() error {
		defer cancel()
		for i, pl := range playlists {
			if gCtx.Err() != nil {
				return gCtx.Err()
			}
			color.New(color.FgBlue).Printf("\n[%d/%d] %s\n", i+1, len(playlists), pl.Name)
			results = append(results, svcs.syncer.Sync(gCtx, pl, pl.FolderPath(config.DownloadPath), mode))
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("tubesync stopped with error", zap.Error(err))
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return fmt.Errorf("failed to encode results: %w", err)
		}
	} else {
		printSummary(os.Stdout, mode, results, config.DownloadPath)
	}

	if failed := countFailed(results); failed > 0 {
		return fmt.Errorf("%d of %d playlists failed", failed, len(results))
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

func runGet(parent context.Context, rawURL, dir string) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer func() { _ = logger.Sync() }()

	jsRuntime := config.YTDLP.JSRuntime
	if jsRuntime == "" {
		jsRuntime = ytdlp.DetectJSRuntime()
	}
	client := ytdlp.NewClient(ytdlp.Options{
		Binary:    config.YTDLP.Binary,
		Cookies:   config.YTDLP.Cookies,
		JSRuntime: jsRuntime,
		Retries:   config.YTDLP.Retries,
	}, nil, logger)
	client.CheckTools()

	if config.App.DryRun {
		logger.Info("Dry run, skipping single download", zap.String("url", rawURL), zap.String("dir", dir))
		return nil
	}

	path, err := client.DownloadSingle(ctx, rawURL, dir, func(percent float64) {
		fmt.Fprintf(os.Stderr, "\r%s %5.1f%%", color.CyanString("Downloading"), percent)
	})
	fmt.Fprintln(os.Stderr)
	if err != nil {
		color.Red("Download failed: %v", err)
		return err
	}

	color.Green("Saved %s", path)
	return nil
}

func runPurge(_ context.Context, names []string) error {
	defer func() { _ = logger.Sync() }()

	svcs, err := initializeServices()
	if err != nil {
		return err
	}
	defer svcs.Close()

	playlists, err := selectPlaylists(config.Playlists, names)
	if err != nil {
		return err
	}

	total := 0
	for _, pl := range playlists {
		folder := pl.FolderPath(config.DownloadPath)
		n, err := svcs.syncer.Purge(folder)
		if errors.Is(err, core.ErrCancelled) {
			color.Yellow("Skipped %s", pl.Name)
			continue
		}
		if err != nil {
			logger.Error("Failed to purge quarantine", zap.String("playlist", pl.Name), zap.Error(err))
			continue
		}
		total += n
		logger.Info("Purged quarantine", zap.String("playlist", pl.Name), zap.String("folder", filepath.Base(folder)), zap.Int("files", n))
	}

	if config.App.DryRun {
		color.Yellow("Would permanently delete %d quarantined files", total)
	} else {
		color.Green("Permanently deleted %d quarantined files", total)
	}
	return nil
}
