package core

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.MaxWorkers != DefaultMaxWorkers {
		t.Errorf("Expected default workers %d, got %d", DefaultMaxWorkers, config.MaxWorkers)
	}
	if config.Cache.Backend != CacheBackendJSON || config.Cache.Path != DefaultCacheFile {
		t.Errorf("Unexpected cache defaults: %+v", config.Cache)
	}
	if config.YTDLP.Binary != DefaultBinary || config.YTDLP.Retries != DefaultRetries {
		t.Errorf("Unexpected yt-dlp defaults: %+v", config.YTDLP)
	}
	if !config.App.RemoveMissing {
		t.Error("Expected playlist removals to be applied by default")
	}
	if config.App.DryRun || config.App.AssumeYes {
		t.Error("Expected destructive defaults to stay off")
	}
	if !strings.HasSuffix(config.DownloadPath, filepath.Join("Music", "YouTube Playlists")) {
		t.Errorf("Unexpected download path %q", config.DownloadPath)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
}

func TestPlaylistConfig_FolderPath(t *testing.T) {
	tests := []struct {
		name     string
		playlist PlaylistConfig
		expected string
	}{
		{"name", PlaylistConfig{Name: "Road Trip"}, "Road Trip"},
		{"folder override", PlaylistConfig{Name: "Road Trip", Folder: "trips"}, "trips"},
		{"unsafe characters", PlaylistConfig{Name: "Rock/Metal: 2024?"}, "Rock_Metal_ 2024_"},
		{"empty", PlaylistConfig{Name: "  "}, "playlist"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.playlist.FolderPath("/music"); got != filepath.Join("/music", tt.expected) {
				t.Errorf("FolderPath() = %q, expected %q", got, filepath.Join("/music", tt.expected))
			}
		})
	}
}

func TestNormalizePlaylists(t *testing.T) {
	config := DefaultConfig()
	config.Playlists = []PlaylistConfig{
		{Name: "Road Trip", URL: "www.youtube.com/playlist?list=PLroad"},
		{Name: "Road Trip again", URL: "https://www.youtube.com/playlist?list=PLroad"},
		{Name: "Chill", URL: "https://www.youtube.com/playlist?list=PLchill"},
	}

	notes := config.NormalizePlaylists()

	if len(config.Playlists) != 2 {
		t.Fatalf("Expected duplicate playlist to be dropped, got %+v", config.Playlists)
	}
	if config.Playlists[0].URL != "https://www.youtube.com/playlist?list=PLroad" {
		t.Errorf("Expected scheme to be added, got %q", config.Playlists[0].URL)
	}
	if len(notes) != 2 {
		t.Errorf("Expected a note per change, got %v", notes)
	}
}

func TestConfigValidate(t *testing.T) {
	config := DefaultConfig()
	config.DownloadPath = " "
	config.MaxWorkers = 0
	config.Cache.Backend = "redis"
	config.Playlists = []PlaylistConfig{{Name: "Broken", URL: "not a url"}}

	err := config.Validate()
	if err == nil {
		t.Fatal("Expected validation to fail")
	}
	if !errors.Is(err, ErrInvalidURL) {
		t.Errorf("Expected ErrInvalidURL in %v", err)
	}
	for _, want := range []string{"download path", "max workers", "redis", "Broken"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Expected %q in %v", want, err)
		}
	}
}

func TestValidatePlaylistURL(t *testing.T) {
	tests := []struct {
		url   string
		valid bool
	}{
		{"https://www.youtube.com/playlist?list=PL123", true},
		{"youtube.com/playlist?list=PL123", true},
		{"ftp://example.com/list", false},
		{"my favourite songs", false},
		{"", false},
	}

	for _, tt := range tests {
		err := ValidatePlaylistURL(tt.url)
		if (err == nil) != tt.valid {
			t.Errorf("ValidatePlaylistURL(%q) = %v, expected valid=%v", tt.url, err, tt.valid)
		}
	}
}
