// Package organize applies reconciliation decisions to a library folder: renames, quarantine moves
// and cleanup. Every mutation branches on dry-run at the point of action.
package organize

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bogem/id3v2/v2"
	"go.uber.org/zap"

	"tubesync/internal/core"
	"tubesync/internal/inventory"
	"tubesync/internal/reconcile"
	"tubesync/pkg/musiclink"
)

// QuarantineDir is the library subfolder receiving removed files.
const QuarantineDir = "quarantine"

// ErrTargetExists is returned when a rename would overwrite another file.
var ErrTargetExists = errors.New("target already exists")

// Executor performs filesystem actions for one library folder.
type Executor struct {
	dryRun bool
	retag  bool
	logger *zap.Logger
	now    func() time.Time
}

// NewExecutor creates an executor. With retag, renamed MP3 files get their canonical
// artist/title/album written to ID3v2 frames.
func NewExecutor(dryRun, retag bool, logger *zap.Logger) *Executor {
	return &Executor{
		dryRun: dryRun,
		retag:  retag,
		logger: logger.Named("organize"),
		now:    time.Now,
	}
}

// Rename moves a file to its canonical name. It never overwrites an existing file.
func (x *Executor) Rename(r reconcile.Rename) error {
	source, target := r.File.Path, r.Target
	if source == target {
		return nil
	}

	if targetInfo, err := os.Lstat(target); err == nil {
		// a case-only rename on a case-insensitive filesystem sees the source as the target
		sourceInfo, serr := os.Lstat(source)
		if serr != nil || !os.SameFile(sourceInfo, targetInfo) {
			return fmt.Errorf("%w: %s", ErrTargetExists, filepath.Base(target))
		}
	}

	if x.dryRun {
		x.logger.Info("Would rename", zap.String("from", r.File.Name()), zap.String("to", filepath.Base(target)))
		return nil
	}

	if err := os.Rename(source, target); err != nil {
		return fmt.Errorf("failed to rename %s: %w", r.File.Name(), err)
	}
	x.logger.Info("Renamed", zap.String("from", r.File.Name()), zap.String("to", filepath.Base(target)))

	if x.retag && strings.EqualFold(filepath.Ext(target), ".mp3") && r.Metadata.Track != "" {
		if err := writeTags(target, r.Metadata, r.File.Identity); err != nil {
			x.logger.Warn("Failed to update tags", zap.String("file", filepath.Base(target)), zap.Error(err))
		}
	}
	return nil
}

func writeTags(path string, meta core.TrackMetadata, identity string) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("failed to open MP3 file: %w", err)
	}
	defer tag.Close()

	tag.SetVersion(4)
	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	tag.SetTitle(meta.Track)
	if meta.Artist != "" {
		tag.SetArtist(meta.Artist)
	}
	if meta.Album != "" {
		tag.SetAlbum(meta.Album)
	}
	if identity != "" {
		tag.AddCommentFrame(id3v2.CommentFrame{
			Encoding:    id3v2.EncodingUTF8,
			Language:    "eng",
			Description: "source",
			Text:        musiclink.WatchURL(identity),
		})
	}
	return tag.Save()
}

// Quarantine moves a file into the quarantine subfolder of dir and returns its new path.
// A name already taken inside quarantine gets a unix timestamp suffix.
func (x *Executor) Quarantine(dir string, f core.LocalFile, reason string) (string, error) {
	qdir := filepath.Join(dir, QuarantineDir)
	target := x.freeQuarantineName(qdir, f.Name())

	if x.dryRun {
		x.logger.Info("Would quarantine",
			zap.String("file", f.Name()), zap.String("reason", reason))
		return target, nil
	}

	if err := os.MkdirAll(qdir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create quarantine folder: %w", err)
	}
	if err := os.Rename(f.Path, target); err != nil {
		return "", fmt.Errorf("failed to quarantine %s: %w", f.Name(), err)
	}
	x.logger.Info("Quarantined",
		zap.String("file", f.Name()), zap.String("reason", reason), zap.String("to", target))
	return target, nil
}

// freeQuarantineName returns a path in qdir that no file occupies yet.
func (x *Executor) freeQuarantineName(qdir, name string) string {
	target := filepath.Join(qdir, name)
	if !exists(target) {
		return target
	}
	ext := filepath.Ext(name)
	base := fmt.Sprintf("%s_%d", strings.TrimSuffix(name, ext), x.now().Unix())
	target = filepath.Join(qdir, base+ext)
	for n := 2; exists(target); n++ {
		target = filepath.Join(qdir, fmt.Sprintf("%s_%d%s", base, n, ext))
	}
	return target
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// remove deletes paths, skipping the ones that vanished, and returns how many were (or would be) deleted.
func (x *Executor) remove(paths []string, kind string) int {
	removed := 0
	for _, path := range paths {
		if x.dryRun {
			x.logger.Info("Would delete", zap.String("kind", kind), zap.String("file", filepath.Base(path)))
			removed++
			continue
		}
		if err := os.Remove(path); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				x.logger.Warn("Failed to delete", zap.String("kind", kind), zap.String("path", path), zap.Error(err))
			}
			continue
		}
		removed++
	}
	if removed > 0 {
		x.logger.Debug("Cleaned up files", zap.String("kind", kind), zap.Int("count", removed))
	}
	return removed
}

// DeleteTemp removes downloader leftovers (partial downloads, batch files) from dir.
func (x *Executor) DeleteTemp(dir string, keepBatch bool) int {
	paths, err := inventory.TempFiles(dir, keepBatch)
	if err != nil {
		x.logger.Warn("Could not list temporary files", zap.String("dir", dir), zap.Error(err))
		return 0
	}
	return x.remove(paths, "temp")
}

// DeleteImages removes thumbnails and cover images from dir.
func (x *Executor) DeleteImages(dir string) int {
	paths, err := inventory.Images(dir)
	if err != nil {
		x.logger.Warn("Could not list image files", zap.String("dir", dir), zap.Error(err))
		return 0
	}
	return x.remove(paths, "image")
}

// Purge permanently deletes the quarantine folder of dir and returns how many files it held.
func (x *Executor) Purge(dir string) (int, error) {
	qdir := filepath.Join(dir, QuarantineDir)
	entries, err := os.ReadDir(qdir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read quarantine folder: %w", err)
	}

	if x.dryRun {
		x.logger.Info("Would purge quarantine", zap.String("dir", qdir), zap.Int("files", len(entries)))
		return len(entries), nil
	}
	if err := os.RemoveAll(qdir); err != nil {
		return 0, fmt.Errorf("failed to purge quarantine folder: %w", err)
	}
	x.logger.Info("Purged quarantine", zap.String("dir", qdir), zap.Int("files", len(entries)))
	return len(entries), nil
}

// CheckConservation verifies that a deduplication pass removed exactly the files it claimed to.
// A mismatch is logged and reported, never fatal.
func (x *Executor) CheckConservation(before, removed, after int) bool {
	if x.dryRun {
		return true
	}
	expected := before - removed
	if after != expected {
		x.logger.Error(fmt.Sprintf("CRITICAL: Expected %d files, found %d", expected, after),
			zap.Int("before", before), zap.Int("removed", removed), zap.Int("after", after))
		return false
	}
	return true
}
