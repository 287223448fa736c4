// Package inventory lists the audio files of a library folder.
package inventory

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"go.uber.org/zap"

	"tubesync/internal/core"
	"tubesync/pkg/musiclink"
)

var (
	// AudioExtensions are the file types treated as library tracks.
	AudioExtensions = []string{".mp3", ".m4a", ".webm", ".opus", ".flac", ".wav", ".ogg"}
	// ImageExtensions are thumbnails and cover art left behind by the downloader.
	ImageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".webp"}
	// TempPatterns match downloader leftovers.
	TempPatterns = []string{"batch_*.txt", "*.part", "*.ytdl", "*.tmp"}

	// identityTagKeys are raw tag frames the downloader fills with the source URL.
	identityTagKeys = []string{"purl", "PURL", "WXXX", "WOAS", "comment", "COMM", "©cmt", "description", "TXXX"}
)

// Scanner lists library folders.
type Scanner struct {
	readTags bool
	logger   *zap.Logger
}

// NewScanner creates a scanner. When readTags is set, embedded tags are read for
// artist/title/album and to recover identities missing from file names.
func NewScanner(readTags bool, logger *zap.Logger) *Scanner {
	return &Scanner{
		readTags: readTags,
		logger:   logger.Named("inventory"),
	}
}

// Scan returns the audio files directly inside dir, sorted by path.
// A missing directory is an empty library.
func (s *Scanner) Scan(dir string) ([]core.LocalFile, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	files := make([]core.LocalFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !IsAudio(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// Removed between listing and stat.
			s.logger.Debug("Skipping unreadable file", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}

		path := filepath.Join(dir, entry.Name())
		file := core.LocalFile{
			Path:     path,
			Identity: musiclink.ExtractIdentity(entry.Name()),
			ModTime:  info.ModTime(),
			Ext:      filepath.Ext(entry.Name()),
		}
		if s.readTags {
			s.applyTags(&file)
		}
		files = append(files, file)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})
	return files, nil
}

func (s *Scanner) applyTags(file *core.LocalFile) {
	f, err := os.Open(file.Path)
	if err != nil {
		s.logger.Debug("Could not open file for tags", zap.String("file", file.Path), zap.Error(err))
		return
	}
	defer func() { _ = f.Close() }()

	metadata, err := tag.ReadFrom(f)
	if err != nil {
		// Untagged or unsupported container.
		return
	}

	file.Tags = core.TrackMetadata{
		Artist: strings.TrimSpace(metadata.Artist()),
		Track:  strings.TrimSpace(metadata.Title()),
		Album:  strings.TrimSpace(metadata.Album()),
	}

	if file.Identity != "" {
		return
	}
	if id := musiclink.ExtractIdentity(metadata.Comment()); id != "" {
		file.Identity = id
		return
	}
	if raw := metadata.Raw(); raw != nil {
		for _, key := range identityTagKeys {
			val, exists := raw[key]
			if !exists {
				continue
			}
			if id := musiclink.ExtractIdentity(fmt.Sprint(val)); id != "" {
				file.Identity = id
				return
			}
		}
	}
}

// Recent keeps the files modified within the given window before now.
func Recent(files []core.LocalFile, within time.Duration, now time.Time) []core.LocalFile {
	cutoff := now.Add(-within)
	var out []core.LocalFile
	for _, f := range files {
		if f.ModTime.After(cutoff) {
			out = append(out, f)
		}
	}
	return out
}

// IsAudio reports whether name has an audio extension, in any case.
func IsAudio(name string) bool {
	return hasExtension(name, AudioExtensions)
}

// IsImage reports whether name has an image extension, in any case.
func IsImage(name string) bool {
	return hasExtension(name, ImageExtensions)
}

func hasExtension(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// Images lists image files directly inside dir.
func Images(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, entry := range entries {
		if !entry.IsDir() && IsImage(entry.Name()) {
			out = append(out, filepath.Join(dir, entry.Name()))
		}
	}
	return out, nil
}

// TempFiles lists downloader leftovers directly inside dir. Batch files are skipped when keepBatch is set.
func TempFiles(dir string, keepBatch bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		for _, pattern := range TempPatterns {
			if keepBatch && strings.HasPrefix(pattern, "batch_") {
				continue
			}
			// Match on the base name so brackets in dir are not read as glob syntax.
			if ok, _ := filepath.Match(pattern, entry.Name()); ok {
				out = append(out, filepath.Join(dir, entry.Name()))
				break
			}
		}
	}
	return out, nil
}
