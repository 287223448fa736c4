package organize

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bogem/id3v2/v2"
	"go.uber.org/zap"

	"tubesync/internal/core"
	"tubesync/internal/reconcile"
)

func writeFile(t *testing.T, dir, name string) core.LocalFile {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("not really audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	return core.LocalFile{Path: path, Ext: filepath.Ext(name)}
}

func newExecutor(dryRun, retag bool) *Executor {
	x := NewExecutor(dryRun, retag, zap.NewNop())
	x.now = func() time.Time { return time.Unix(1700000000, 0) }
	return x
}

func TestExecutor_Rename(t *testing.T) {
	dir := t.TempDir()
	f := writeFile(t, dir, "Rick_Astley_-_Never_Gonna_Give_You_Up [dQw4w9WgXcQ].webm")
	target := filepath.Join(dir, "Rick Astley - Never Gonna Give You Up [dQw4w9WgXcQ].webm")

	if err := newExecutor(false, false).Rename(reconcile.Rename{File: f, Target: target}); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if exists(f.Path) || !exists(target) {
		t.Error("File was not moved to its canonical name")
	}
}

func TestExecutor_RenameNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	f := writeFile(t, dir, "a.mp3")
	taken := writeFile(t, dir, "Artist - Song.mp3")

	err := newExecutor(false, false).Rename(reconcile.Rename{File: f, Target: taken.Path})
	if !errors.Is(err, ErrTargetExists) {
		t.Errorf("Rename() error = %v, want ErrTargetExists", err)
	}
	if !exists(f.Path) {
		t.Error("Source must stay in place")
	}

	if err := newExecutor(false, false).Rename(reconcile.Rename{File: f, Target: f.Path}); err != nil {
		t.Errorf("Rename() onto itself error = %v", err)
	}
}

func TestExecutor_DryRunDoesNotMutate(t *testing.T) {
	dir := t.TempDir()
	f := writeFile(t, dir, "a.mp3")
	writeFile(t, dir, "song.webm.part")
	writeFile(t, dir, "cover.jpg")
	x := newExecutor(true, false)

	if err := x.Rename(reconcile.Rename{File: f, Target: filepath.Join(dir, "b.mp3")}); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if _, err := x.Quarantine(dir, f, "orphan"); err != nil {
		t.Fatalf("Quarantine() error = %v", err)
	}
	if n := x.DeleteTemp(dir, false); n != 1 {
		t.Errorf("DeleteTemp() = %d, want 1", n)
	}
	if n := x.DeleteImages(dir); n != 1 {
		t.Errorf("DeleteImages() = %d, want 1", n)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 3 {
		t.Errorf("dry run changed the folder: %d entries", len(entries))
	}
	if !x.CheckConservation(3, 1, 3) {
		t.Error("Conservation is not checked in dry runs")
	}
}

func TestExecutor_QuarantineCollision(t *testing.T) {
	dir := t.TempDir()
	x := newExecutor(false, false)

	first := writeFile(t, dir, "Song [dQw4w9WgXcQ].mp3")
	got, err := x.Quarantine(dir, first, "duplicate")
	if err != nil {
		t.Fatalf("Quarantine() error = %v", err)
	}
	if got != filepath.Join(dir, QuarantineDir, "Song [dQw4w9WgXcQ].mp3") {
		t.Errorf("Quarantine() = %q", got)
	}

	second := writeFile(t, dir, "Song [dQw4w9WgXcQ].mp3")
	got, err = x.Quarantine(dir, second, "duplicate")
	if err != nil {
		t.Fatalf("Quarantine() error = %v", err)
	}
	if got != filepath.Join(dir, QuarantineDir, "Song [dQw4w9WgXcQ]_1700000000.mp3") {
		t.Errorf("Quarantine() on collision = %q", got)
	}

	third := writeFile(t, dir, "Song [dQw4w9WgXcQ].mp3")
	if err := os.WriteFile(third.Path, []byte("third"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err = x.Quarantine(dir, third, "duplicate")
	if err != nil {
		t.Fatalf("Quarantine() error = %v", err)
	}
	if got != filepath.Join(dir, QuarantineDir, "Song [dQw4w9WgXcQ]_1700000000_2.mp3") {
		t.Errorf("Quarantine() on second collision = %q", got)
	}

	entries, _ := os.ReadDir(filepath.Join(dir, QuarantineDir))
	if len(entries) != 3 {
		t.Errorf("quarantine holds %d files, want 3", len(entries))
	}
	earlier, _ := os.ReadFile(filepath.Join(dir, QuarantineDir, "Song [dQw4w9WgXcQ]_1700000000.mp3"))
	if string(earlier) != "not really audio" {
		t.Errorf("earlier quarantined file was overwritten: %q", earlier)
	}
}

func TestExecutor_QuarantineFailureLeavesFile(t *testing.T) {
	dir := t.TempDir()
	missing := core.LocalFile{Path: filepath.Join(dir, "gone.mp3")}

	if _, err := newExecutor(false, false).Quarantine(dir, missing, "orphan"); err == nil {
		t.Error("Quarantine() of a missing file should fail")
	}
}

func TestExecutor_CleanupAndPurge(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "batch_20240101_120000.txt")
	writeFile(t, dir, "song.webm.part")
	writeFile(t, dir, "thumb.webp")
	keep := writeFile(t, dir, "keep.mp3")
	x := newExecutor(false, false)

	if n := x.DeleteTemp(dir, true); n != 1 {
		t.Errorf("DeleteTemp(keepBatch) = %d, want 1", n)
	}
	if n := x.DeleteTemp(dir, false); n != 1 {
		t.Errorf("DeleteTemp() = %d, want 1", n)
	}
	if n := x.DeleteImages(dir); n != 1 {
		t.Errorf("DeleteImages() = %d, want 1", n)
	}
	if _, err := x.Quarantine(dir, keep, "orphan"); err != nil {
		t.Fatal(err)
	}

	if n, err := newExecutor(true, false).Purge(dir); err != nil || n != 1 {
		t.Errorf("dry Purge() = %d, %v", n, err)
	}
	if n, err := x.Purge(dir); err != nil || n != 1 {
		t.Errorf("Purge() = %d, %v", n, err)
	}
	if exists(filepath.Join(dir, QuarantineDir)) {
		t.Error("Quarantine folder should be gone")
	}
	if n, err := x.Purge(dir); err != nil || n != 0 {
		t.Errorf("Purge() without quarantine = %d, %v", n, err)
	}
}

func TestExecutor_CheckConservation(t *testing.T) {
	x := newExecutor(false, false)

	if !x.CheckConservation(10, 3, 7) {
		t.Error("Balanced counts should pass")
	}
	if x.CheckConservation(10, 3, 6) {
		t.Error("A lost file should be reported")
	}
}

func TestExecutor_RetagsRenamedMP3(t *testing.T) {
	dir := t.TempDir()
	f := writeFile(t, dir, "rick astley never gonna [dQw4w9WgXcQ].mp3")
	f.Identity = "dQw4w9WgXcQ"
	target := filepath.Join(dir, "Rick Astley - Never Gonna Give You Up [dQw4w9WgXcQ].mp3")

	err := newExecutor(false, true).Rename(reconcile.Rename{
		File:     f,
		Target:   target,
		Metadata: core.TrackMetadata{Artist: "Rick Astley", Track: "Never Gonna Give You Up", Album: "Whenever You Need Somebody"},
	})
	if err != nil {
		t.Fatalf("Rename() error = %v", err)
	}

	tag, err := id3v2.Open(target, id3v2.Options{Parse: true})
	if err != nil {
		t.Fatalf("id3v2.Open() error = %v", err)
	}
	defer tag.Close()

	if tag.Artist() != "Rick Astley" || tag.Title() != "Never Gonna Give You Up" || tag.Album() != "Whenever You Need Somebody" {
		t.Errorf("tags = %q / %q / %q", tag.Artist(), tag.Title(), tag.Album())
	}
	comments := tag.GetFrames(tag.CommonID("Comments"))
	if len(comments) != 1 {
		t.Fatalf("Expected one comment frame, got %d", len(comments))
	}
	if cf, ok := comments[0].(id3v2.CommentFrame); !ok || cf.Text != "https://www.youtube.com/watch?v=dQw4w9WgXcQ" {
		t.Errorf("comment = %+v", comments[0])
	}
}
