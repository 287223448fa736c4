package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"tubesync/internal/core"
)

const settingsJSON = `{
  "download_path": "/srv/music",
  "max_workers": 2,
  "playlists": [
    {"name": "Road Trip", "url": "https://www.youtube.com/playlist?list=PLroad"},
    {"name": "Chill", "url": "youtube.com/playlist?list=PLchill", "folder": "chill-out"}
  ],
  "cache": {"backend": "SQLite", "path": "/srv/cache.db"},
  "ytdlp": {"info_timeout": "5s", "js_runtime": "deno"},
  "organize": {"retag": true}
}`

func loadSettings(t *testing.T, content string) *viper.Viper {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig() error = %v", err)
	}
	return v
}

func TestBuildConfig(t *testing.T) {
	cfg, err := buildConfig(loadSettings(t, settingsJSON))
	if err != nil {
		t.Fatalf("buildConfig() error = %v", err)
	}

	if cfg.DownloadPath != "/srv/music" || cfg.MaxWorkers != 2 {
		t.Errorf("DownloadPath/MaxWorkers = %q/%d", cfg.DownloadPath, cfg.MaxWorkers)
	}
	if len(cfg.Playlists) != 2 || cfg.Playlists[1].Folder != "chill-out" || cfg.Playlists[0].Name != "Road Trip" {
		t.Errorf("Playlists = %+v", cfg.Playlists)
	}
	if cfg.Cache.Backend != core.CacheBackendSQLite || cfg.Cache.Path != "/srv/cache.db" {
		t.Errorf("Cache = %+v", cfg.Cache)
	}
	if cfg.YTDLP.InfoTimeout != 5*time.Second || cfg.YTDLP.ScanTimeout != core.DefaultScanTimeout {
		t.Errorf("timeouts = %v/%v", cfg.YTDLP.InfoTimeout, cfg.YTDLP.ScanTimeout)
	}
	if cfg.YTDLP.JSRuntime != "deno" || cfg.YTDLP.Binary != core.DefaultBinary {
		t.Errorf("YTDLP = %+v", cfg.YTDLP)
	}
	if !cfg.Organize.Retag || cfg.Organize.RecentMinutes != core.DefaultRecentMinutes {
		t.Errorf("Organize = %+v", cfg.Organize)
	}
	if !cfg.App.RemoveMissing || cfg.App.DryRun {
		t.Errorf("App = %+v", cfg.App)
	}
}

func TestBuildConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("TUBESYNC_MAX_WORKERS", "7")
	t.Setenv("TUBESYNC_APP_REMOVE_MISSING", "false")

	v := loadSettings(t, settingsJSON)
	v.SetEnvPrefix("TUBESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	cfg, err := buildConfig(v)
	if err != nil {
		t.Fatalf("buildConfig() error = %v", err)
	}
	if cfg.MaxWorkers != 7 {
		t.Errorf("MaxWorkers = %d, want 7", cfg.MaxWorkers)
	}
	if cfg.App.RemoveMissing {
		t.Error("RemoveMissing should be overridden by the environment")
	}
}

func TestBuildConfig_NormalizesAndValidates(t *testing.T) {
	cfg, err := buildConfig(loadSettings(t, settingsJSON))
	if err != nil {
		t.Fatal(err)
	}
	notes := cfg.NormalizePlaylists()
	if len(notes) != 1 || !strings.HasPrefix(cfg.Playlists[1].URL, "https://") {
		t.Errorf("notes = %v, playlists = %+v", notes, cfg.Playlists)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if got := cfg.Playlists[1].FolderPath(cfg.DownloadPath); got != filepath.Join("/srv/music", "chill-out") {
		t.Errorf("FolderPath() = %q", got)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		in, want string
	}{
		{"~", home},
		{"~/Music", filepath.Join(home, "Music")},
		{"/abs/path", "/abs/path"},
		{"rel/~path", "rel/~path"},
	}
	for _, tt := range tests {
		if got := expandHome(tt.in); got != tt.want {
			t.Errorf("expandHome(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuildLogger(t *testing.T) {
	tests := []struct {
		level   string
		format  string
		debug   bool
		enabled zapcore.Level
	}{
		{"debug", "console", true, zapcore.DebugLevel},
		{"warn", "json", false, zapcore.WarnLevel},
		{"bogus", "console", false, zapcore.InfoLevel},
	}
	for _, tt := range tests {
		l := buildLogger(tt.level, tt.format)
		if l.Core().Enabled(zapcore.DebugLevel) != tt.debug {
			t.Errorf("buildLogger(%q) debug enabled = %v", tt.level, !tt.debug)
		}
		if !l.Core().Enabled(tt.enabled) {
			t.Errorf("buildLogger(%q) should enable %v", tt.level, tt.enabled)
		}
	}
}

func TestSelectPlaylists(t *testing.T) {
	all := []core.PlaylistConfig{{Name: "Road Trip"}, {Name: "Chill"}}

	tests := []struct {
		name    string
		names   []string
		want    []string
		wantErr bool
	}{
		{"all by default", nil, []string{"Road Trip", "Chill"}, false},
		{"case insensitive", []string{"chill"}, []string{"Chill"}, false},
		{"unknown", []string{"Gym"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := selectPlaylists(all, tt.names)
			if (err != nil) != tt.wantErr {
				t.Fatalf("selectPlaylists() error = %v, wantErr %v", err, tt.wantErr)
			}
			var names []string
			for _, pl := range got {
				names = append(names, pl.Name)
			}
			if strings.Join(names, ",") != strings.Join(tt.want, ",") {
				t.Errorf("selectPlaylists() = %v, want %v", names, tt.want)
			}
		})
	}

	if _, err := selectPlaylists(nil, nil); err == nil {
		t.Error("An empty configuration should be an error")
	}
}

func TestPromptConfirmer(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		assumeYes bool
		want      bool
	}{
		{"yes", "y\n", false, true},
		{"long yes", " YES \n", false, true},
		{"enter declines", "\n", false, false},
		{"no", "n\n", false, false},
		{"eof declines", "", false, false},
		{"answer without newline", "y", false, true},
		{"assume yes", "", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			c := newPromptConfirmer(strings.NewReader(tt.input), &out, tt.assumeYes)
			if got := c.Confirm("About to process 3 files. Continue?"); got != tt.want {
				t.Errorf("Confirm() = %v, want %v", got, tt.want)
			}
			if !strings.Contains(out.String(), "About to process 3 files. Continue? (y/N)") {
				t.Errorf("prompt = %q", out.String())
			}
		})
	}
}

func TestPrintSummary(t *testing.T) {
	noColor := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = noColor }()

	results := []core.SyncResult{
		{Playlist: "Road Trip", NewDownloads: 3, Renamed: 3, RemovedMissing: 1, Success: true},
		{Playlist: "Chill", Success: false, Error: "playlist scan failed"},
	}

	var out bytes.Buffer
	printSummary(&out, core.ModeDownload, results, "/srv/music")
	got := out.String()

	for _, want := range []string{
		"✗ Chill: playlist scan failed",
		"Sync & auto-download complete",
		"Successfully processed: 1/2 playlists",
		"New songs downloaded: 3",
		"Playlist removals applied: 1",
		"Location: /srv/music",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q:\n%s", want, got)
		}
	}
	if countFailed(results) != 1 {
		t.Errorf("countFailed() = %d", countFailed(results))
	}
}
