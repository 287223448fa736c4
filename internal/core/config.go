package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tubesync/pkg/naming"
	"tubesync/pkg/text"
)

const (
	// DefaultMaxWorkers bounds concurrent metadata lookups during a playlist scan.
	DefaultMaxWorkers = 4
	// DefaultInfoTimeout bounds a single-item metadata dump.
	DefaultInfoTimeout = 12 * time.Second
	// DefaultScanTimeout bounds a flat playlist listing.
	DefaultScanTimeout = 30 * time.Second
	// DefaultRecentMinutes scopes post-download renaming to freshly written files.
	DefaultRecentMinutes = 10
	// DefaultRetries is passed to the downloader for both retries and fragment retries.
	DefaultRetries = 3
	// DefaultCacheFile is the metadata cache location when none is configured.
	DefaultCacheFile = "metadata_cache.json"
	// DefaultArchiveFile is the per-playlist download archive name shared with the downloader.
	DefaultArchiveFile = "downloaded.txt"
	// DefaultCookiesFile is picked up from the working directory when present.
	DefaultCookiesFile = "cookies.txt"
	// DefaultBinary is the downloader executable.
	DefaultBinary = "yt-dlp"
)

// Cache backends.
const (
	CacheBackendJSON   = "json"
	CacheBackendSQLite = "sqlite"
	CacheBackendMemory = "memory"
)

type Config struct {
	DownloadPath string
	Playlists    []PlaylistConfig
	MaxWorkers   int
	Cache        CacheConfig
	YTDLP        YTDLPConfig
	Organize     OrganizeConfig
	Inventory    InventoryConfig
	Metadata     MetadataConfig
	Server       ServerConfig
	Log          LogConfig
	App          AppConfig
}

// PlaylistConfig is one configured remote playlist.
type PlaylistConfig struct {
	Name   string `mapstructure:"name" json:"name"`
	URL    string `mapstructure:"url" json:"url"`
	Folder string `mapstructure:"folder" json:"folder,omitempty"`
}

// FolderPath returns the playlist's working folder under base.
func (p PlaylistConfig) FolderPath(base string) string {
	hint := p.Folder
	if hint == "" {
		hint = p.Name
	}
	return filepath.Join(base, naming.SanitizeFolder(hint))
}

type CacheConfig struct {
	Backend string
	Path    string
}

type YTDLPConfig struct {
	Binary      string
	Cookies     string
	JSRuntime   string
	Retries     int
	InfoTimeout time.Duration
	ScanTimeout time.Duration
}

type OrganizeConfig struct {
	RecentMinutes int
	Retag         bool
}

type InventoryConfig struct {
	ReadTags bool
}

type MetadataConfig struct {
	OEmbedFallback bool
}

type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type AppConfig struct {
	DryRun        bool
	Debug         bool
	AssumeYes     bool
	RemoveMissing bool
}

func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		DownloadPath: filepath.Join(home, "Music", "YouTube Playlists"),
		MaxWorkers:   DefaultMaxWorkers,
		Cache: CacheConfig{
			Backend: CacheBackendJSON,
			Path:    DefaultCacheFile,
		},
		YTDLP: YTDLPConfig{
			Binary:      DefaultBinary,
			Cookies:     DefaultCookiesFile,
			Retries:     DefaultRetries,
			InfoTimeout: DefaultInfoTimeout,
			ScanTimeout: DefaultScanTimeout,
		},
		Organize: OrganizeConfig{
			RecentMinutes: DefaultRecentMinutes,
		},
		Server: ServerConfig{
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		App: AppConfig{
			RemoveMissing: true,
		},
	}
}

// NormalizePlaylists fixes scheme-less URLs and collapses entries pointing at the same playlist.
// It returns a human readable note for every change it made.
func (c *Config) NormalizePlaylists() []string {
	var notes []string
	seen := make(map[string]bool, len(c.Playlists))
	kept := c.Playlists[:0]

	for _, pl := range c.Playlists {
		normalized := text.NormalizeURL(pl.URL)
		if normalized != pl.URL {
			notes = append(notes, fmt.Sprintf("normalized URL for %q to %s", pl.Name, normalized))
			pl.URL = normalized
		}
		key := text.ExtractPlaylistID(pl.URL)
		if key == "" {
			key = pl.URL
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			kept = append(kept, pl)
			continue
		}
		if seen[key] {
			notes = append(notes, fmt.Sprintf("dropped duplicate playlist %q", pl.Name))
			continue
		}
		seen[key] = true
		kept = append(kept, pl)
	}

	c.Playlists = kept
	return notes
}

// Validate rejects configuration that must not reach the network or the filesystem.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DownloadPath) == "" {
		errs = append(errs, errors.New("download path is empty"))
	}
	if c.MaxWorkers <= 0 {
		errs = append(errs, fmt.Errorf("max workers must be positive, got %d", c.MaxWorkers))
	}
	switch c.Cache.Backend {
	case CacheBackendJSON, CacheBackendSQLite, CacheBackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend %q", c.Cache.Backend))
	}
	for _, pl := range c.Playlists {
		if err := ValidatePlaylistURL(pl.URL); err != nil {
			errs = append(errs, fmt.Errorf("playlist %q: %w", pl.Name, err))
		}
	}
	return errors.Join(errs...)
}

// ValidatePlaylistURL accepts only obvious http(s) URLs.
func ValidatePlaylistURL(rawURL string) error {
	if !text.IsProbablyURL(rawURL) {
		return fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	return nil
}
