// Package ytdlp drives the yt-dlp command line tool: flat playlist listing, single item
// metadata dumps and batch audio downloads.
package ytdlp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"tubesync/internal/core"
	"tubesync/pkg/musiclink"
	"tubesync/pkg/naming"
	"tubesync/pkg/text"
)

// ErrToolFailed is returned when the downloader could not be run or exited unsuccessfully.
var ErrToolFailed = errors.New("yt-dlp failed")

// JSRuntimes are probed in order when no runtime is configured.
var JSRuntimes = []string{"node", "deno", "quickjs", "bun"}

const (
	audioFormat       = "bestaudio[ext=webm]/bestaudio[ext=m4a]/bestaudio"
	singleAudioFormat = "bestaudio/best"
	outputTemplate    = "%(title)s [%(id)s].%(ext)s"
	batchTimeLayout   = "20060102_150405"
	debugLogName      = "yt-dlp-debug.log"
	fallbackTitle     = "downloaded_track"
	titleTimeout      = 15 * time.Second
)

var lookPath = exec.LookPath

// Options configures a Client.
type Options struct {
	Binary      string
	Cookies     string
	JSRuntime   string
	Retries     int
	ScanTimeout time.Duration
	InfoTimeout time.Duration
}

// Client wraps the yt-dlp binary. It implements core.Downloader and core.InfoSource.
type Client struct {
	opts   Options
	runner Runner
	logger *zap.Logger
	now    func() time.Time
}

// NewClient creates a client. A nil runner executes commands on the host.
func NewClient(opts Options, runner Runner, logger *zap.Logger) *Client {
	if opts.Binary == "" {
		opts.Binary = core.DefaultBinary
	}
	if opts.Retries <= 0 {
		opts.Retries = core.DefaultRetries
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = core.DefaultScanTimeout
	}
	if opts.InfoTimeout <= 0 {
		opts.InfoTimeout = core.DefaultInfoTimeout
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Client{
		opts:   opts,
		runner: runner,
		logger: logger.Named("ytdlp"),
		now:    time.Now,
	}
}

// DetectJSRuntime returns the first JS runtime found on PATH, or "".
func DetectJSRuntime() string {
	for _, runtime := range JSRuntimes {
		if _, err := lookPath(runtime); err == nil {
			return runtime
		}
	}
	return ""
}

// CookiesPath returns the cookie file when it exists.
func (c *Client) CookiesPath() string {
	if c.opts.Cookies == "" {
		return ""
	}
	if _, err := os.Stat(c.opts.Cookies); err != nil {
		return ""
	}
	return c.opts.Cookies
}

// CheckTools warns about a missing binary, JS runtime or cookie file.
func (c *Client) CheckTools() {
	if _, err := lookPath(c.opts.Binary); err != nil {
		c.logger.Warn("yt-dlp binary not found on PATH", zap.String("binary", c.opts.Binary), zap.Error(err))
	}
	if c.opts.JSRuntime == "" {
		c.logger.Warn("No JavaScript runtime found; some YouTube formats may be unavailable",
			zap.Strings("tried", JSRuntimes))
	}
	if c.CookiesPath() == "" {
		c.logger.Warn("Cookie file not found; age-restricted or private items may fail",
			zap.String("path", c.opts.Cookies))
	}
}

func commonFlags(debug bool) []string {
	if debug {
		return []string{"-v"}
	}
	return []string{"--quiet", "--no-warnings", "--progress", "--newline"}
}

type flatPlaylist struct {
	Title   string              `json:"title"`
	Entries []core.PlaylistItem `json:"entries"`
}

// ScanPlaylist returns the flat listing of a playlist. A failed or empty listing is an error
// so callers never reconcile against a partial view.
func (c *Client) ScanPlaylist(ctx context.Context, url string) ([]core.PlaylistItem, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ScanTimeout)
	defer cancel()

	out, err := c.runner.Output(ctx, c.opts.Binary, "--flat-playlist", "--dump-single-json", "--quiet", "--no-warnings", url)
	if err != nil {
		stderr := "(no error message)"
		var exitErr *ExitError
		if errors.As(err, &exitErr) && exitErr.Stderr != "" {
			stderr = exitErr.Stderr
		}
		if ctx.Err() != nil {
			c.logger.Error("Timeout getting playlist info", zap.String("url", url), zap.Duration("timeout", c.opts.ScanTimeout))
		} else {
			c.logger.Error("yt-dlp playlist scan failed", zap.String("url", url), zap.String("stderr", stderr))
		}
		return nil, fmt.Errorf("%w: %v", core.ErrScanFailed, err)
	}

	var listing flatPlaylist
	if err := json.Unmarshal(out, &listing); err != nil {
		c.logger.Error("Failed to parse yt-dlp output",
			zap.String("url", url), zap.Int("bytes", len(out)), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", core.ErrScanFailed, err)
	}
	if len(listing.Entries) == 0 {
		c.logger.Warn("Playlist listing contained no entries", zap.String("url", url))
		return nil, fmt.Errorf("%w: %s", core.ErrEmptyPlaylist, url)
	}

	c.logger.Debug("Scanned playlist",
		zap.String("url", url), zap.String("title", listing.Title), zap.Int("entries", len(listing.Entries)))
	return listing.Entries, nil
}

type infoDump struct {
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Track    string `json:"track"`
	Album    string `json:"album"`
	Uploader string `json:"uploader"`
	Channel  string `json:"channel"`
}

// Lookup dumps the metadata of a single item.
func (c *Client) Lookup(ctx context.Context, identity string) (*core.RemoteInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.InfoTimeout)
	defer cancel()

	out, err := c.runner.Output(ctx, c.opts.Binary, "--dump-json", "--no-warnings", musiclink.WatchURL(identity))
	if err != nil {
		return nil, fmt.Errorf("%w: dump %s: %v", ErrToolFailed, identity, err)
	}

	var dump infoDump
	if err := json.Unmarshal(out, &dump); err != nil {
		return nil, fmt.Errorf("failed to decode info for %s: %w", identity, err)
	}

	uploader := dump.Uploader
	if uploader == "" {
		uploader = dump.Channel
	}
	return &core.RemoteInfo{
		Title:    dump.Title,
		Artist:   dump.Artist,
		Track:    dump.Track,
		Album:    dump.Album,
		Uploader: uploader,
	}, nil
}

func (c *Client) fetchArgs(req core.FetchRequest, batchFile string) []string {
	var args []string
	if c.opts.JSRuntime != "" {
		args = append(args, "--js-runtime", c.opts.JSRuntime)
	}
	args = append(args, commonFlags(req.Debug)...)
	retries := fmt.Sprint(c.opts.Retries)
	args = append(args,
		"-f", audioFormat,
		"--add-metadata",
		"--restrict-filenames",
		"--download-archive", req.ArchivePath,
		"--no-overwrites",
		"--retries", retries,
		"--fragment-retries", retries,
		"--concurrent-fragments", "2",
		"--no-playlist",
		"-P", req.Dir,
		"-o", outputTemplate,
		"-a", batchFile,
	)
	if cookies := c.CookiesPath(); cookies != "" {
		args = append(args, "--cookies", cookies)
	}
	return args
}

// Fetch downloads a batch of URLs in one yt-dlp run and classifies its output.
// The returned result is meaningful even when the run failed.
func (c *Client) Fetch(ctx context.Context, req core.FetchRequest) (*core.FetchResult, error) {
	if len(req.URLs) == 0 {
		return &core.FetchResult{Success: true}, nil
	}

	batchFile := filepath.Join(req.Dir, "batch_"+c.now().Format(batchTimeLayout)+".txt")
	defer func() {
		if req.Debug {
			return
		}
		if err := os.Remove(batchFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("Failed to delete batch file", zap.String("path", batchFile), zap.Error(err))
		}
	}()

	failed := func(err error) (*core.FetchResult, error) {
		c.logger.Error("Download failed", zap.Error(err))
		return &core.FetchResult{
			Failures: []core.FetchFailure{{Reason: err.Error()}},
		}, fmt.Errorf("%w: %v", ErrToolFailed, err)
	}

	if err := os.WriteFile(batchFile, []byte(strings.Join(req.URLs, "\n")+"\n"), 0o644); err != nil {
		return failed(fmt.Errorf("failed to write batch file: %w", err))
	}

	args := c.fetchArgs(req, batchFile)
	debugLog := c.openDebugLog(req, args)
	if debugLog != nil {
		defer debugLog.Close()
	}

	tally := NewTally(req.URLs)
	code, err := c.runner.Stream(ctx, c.opts.Binary, args, func(raw string) {
		line := strings.TrimRight(raw, "\r\n")
		if line == "" {
			return
		}
		if debugLog != nil {
			_, _ = io.WriteString(debugLog, line+"\n")
		}
		if strings.Contains(strings.ToLower(line), "[error]") {
			c.logger.Error("yt-dlp error", zap.String("line", line))
		}
		if _, advanced := tally.Observe(line); advanced && req.Progress != nil {
			req.Progress(tally.Processed())
		}
	})
	if err != nil {
		if debugLog != nil {
			_, _ = fmt.Fprintf(debugLog, "Exception: %v\n", err)
		}
		result, wrapped := failed(err)
		if partial := tally.Result(-1); len(partial.Failures) > 0 {
			result.Failures = partial.Failures
		}
		return result, wrapped
	}

	if debugLog != nil {
		writeRunFooter(debugLog, req.Dir, code)
	}

	result := tally.Result(code)
	c.logger.Info("yt-dlp run finished",
		zap.Int("exit_code", code),
		zap.Int("downloaded", result.Downloaded),
		zap.Int("skipped_existing", result.SkippedExisting),
		zap.Int("skipped_archive", result.SkippedArchive),
		zap.Int("failures", len(result.Failures)))
	if !result.Success {
		return result, fmt.Errorf("%w: exit status %d", ErrToolFailed, code)
	}
	return result, nil
}

func (c *Client) openDebugLog(req core.FetchRequest, args []string) *os.File {
	if !req.Debug {
		return nil
	}
	path := req.LogPath
	if path == "" {
		path = filepath.Join(req.Dir, debugLogName)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		c.logger.Warn("Could not open debug log", zap.String("path", path), zap.Error(err))
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		c.logger.Warn("Could not open debug log", zap.String("path", path), zap.Error(err))
		return nil
	}
	_, _ = fmt.Fprintf(f, "---- yt-dlp run: %s ----\n", c.now().Format(time.RFC3339))
	_, _ = fmt.Fprintf(f, "Command: %s %s\n", c.opts.Binary, strings.Join(args, " "))
	return f
}

func writeRunFooter(w io.Writer, dir string, code int) {
	_, _ = fmt.Fprintf(w, "Return code: %d\n", code)
	_, _ = io.WriteString(w, "Contents:\n")
	entries, _ := os.ReadDir(dir)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, entry := range entries {
		if info, err := entry.Info(); err == nil {
			_, _ = fmt.Fprintf(w, "%s  %d\n", entry.Name(), info.Size())
		} else {
			_, _ = fmt.Fprintf(w, "%s\n", entry.Name())
		}
	}
	_, _ = io.WriteString(w, "---- end run ----\n\n")
}

// Title asks yt-dlp for the original title of a single item. It returns "" when unavailable.
func (c *Client) Title(ctx context.Context, url string) string {
	ctx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()

	out, err := c.runner.Output(ctx, c.opts.Binary, "--no-playlist", "--skip-download", "--print", "%(title)s", url)
	if err != nil {
		c.logger.Debug("Could not fetch title", zap.String("url", url), zap.Error(err))
		return ""
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(lines[0])
}

// DownloadSingle fetches one item outside any playlist into dir, named after its title.
// Playlist URLs are rejected.
func (c *Client) DownloadSingle(ctx context.Context, rawURL, dir string, progress func(percent float64)) (string, error) {
	url := text.NormalizeURL(rawURL)
	if !text.IsProbablyURL(url) {
		return "", fmt.Errorf("%w: %q", core.ErrInvalidURL, rawURL)
	}
	if text.LooksLikePlaylistURL(url) {
		return "", fmt.Errorf("%w: %q is a playlist, use sync instead", core.ErrInvalidURL, rawURL)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}

	title := c.Title(ctx, url)
	if title == "" {
		c.logger.Warn("Could not detect the title, using a generic name", zap.String("url", url))
	}
	stem := naming.Sanitize(title)
	if stem == "" {
		stem = fallbackTitle
	}

	var args []string
	if c.opts.JSRuntime != "" {
		args = append(args, "--js-runtime", c.opts.JSRuntime)
	}
	args = append(args, commonFlags(false)...)
	args = append(args,
		"-f", singleAudioFormat,
		"--add-metadata",
		"--no-playlist",
		"-o", filepath.Join(dir, stem+".%(ext)s"),
		url,
	)
	if cookies := c.CookiesPath(); cookies != "" {
		args = append(args, "--cookies", cookies)
	}

	var lastError string
	code, err := c.runner.Stream(ctx, c.opts.Binary, args, func(raw string) {
		line := ClassifyLine(raw)
		switch {
		case (line.Kind == LineProgress || line.Kind == LineDownloaded) && progress != nil:
			progress(line.Percent)
		case strings.HasPrefix(strings.TrimSpace(raw), "ERROR:"):
			lastError = strings.TrimSpace(raw)
		}
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrToolFailed, err)
	}
	if code != 0 {
		if lastError != "" {
			return "", fmt.Errorf("%w: %s", ErrToolFailed, lastError)
		}
		return "", fmt.Errorf("%w: exit status %d", ErrToolFailed, code)
	}

	c.logger.Info("Single download complete", zap.String("url", url), zap.String("name", stem))
	return stem, nil
}
