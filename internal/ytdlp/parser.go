package ytdlp

import (
	"regexp"
	"strconv"
	"strings"

	"tubesync/internal/core"
)

// LineKind classifies one line of downloader output.
type LineKind int

const (
	LineOther LineKind = iota
	LineProgress
	LineDownloaded
	LineArchived
	LineAlreadyDownloaded
	LineError
)

func (k LineKind) String() string {
	switch k {
	case LineProgress:
		return "progress"
	case LineDownloaded:
		return "downloaded"
	case LineArchived:
		return "archived"
	case LineAlreadyDownloaded:
		return "already_downloaded"
	case LineError:
		return "error"
	default:
		return "other"
	}
}

var (
	errorLineRegex = regexp.MustCompile(`ERROR:\s+\[[^\]]+\]\s+([A-Za-z0-9_-]{11}):\s+(.*)`)
	progressRegex  = regexp.MustCompile(`\[download\]\s+(\d{1,3}(?:\.\d+)?)%`)
)

// Line is a classified output line.
type Line struct {
	Kind LineKind
	// Percent is set for progress lines.
	Percent float64
	// Identity and Reason are set for error lines.
	Identity string
	Reason   string
}

// ClassifyLine maps one output line to its kind. Matching is case-insensitive except for the
// identity captured from error lines.
func ClassifyLine(raw string) Line {
	line := strings.TrimSpace(raw)
	lower := strings.ToLower(line)

	switch {
	case strings.Contains(lower, "has already been recorded in the archive"):
		return Line{Kind: LineArchived}
	case strings.Contains(lower, "has already been downloaded"):
		return Line{Kind: LineAlreadyDownloaded}
	case strings.Contains(lower, "[download] 100%"):
		return Line{Kind: LineDownloaded, Percent: 100}
	}

	if m := errorLineRegex.FindStringSubmatch(line); m != nil {
		return Line{Kind: LineError, Identity: m[1], Reason: strings.TrimSpace(m[2])}
	}
	if m := progressRegex.FindStringSubmatch(lower); m != nil {
		pct, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			return Line{Kind: LineProgress, Percent: pct}
		}
	}
	return Line{Kind: LineOther}
}

// Tally aggregates classified lines of one batch run.
type Tally struct {
	urls      []string
	processed int
	result    core.FetchResult
	seenError map[string]bool
}

// NewTally starts a tally for a batch of requested URLs.
func NewTally(urls []string) *Tally {
	return &Tally{
		urls:      urls,
		seenError: make(map[string]bool),
	}
}

// Observe folds one line into the tally and reports whether the processed count changed.
func (t *Tally) Observe(raw string) (Line, bool) {
	line := ClassifyLine(raw)
	switch line.Kind {
	case LineArchived:
		t.result.SkippedArchive++
	case LineAlreadyDownloaded:
		t.result.SkippedExisting++
	case LineDownloaded:
		t.result.Downloaded++
	case LineError:
		if !t.seenError[line.Identity] {
			t.seenError[line.Identity] = true
			t.result.Failures = append(t.result.Failures, core.FetchFailure{
				Identity: line.Identity,
				URL:      t.urlFor(line.Identity),
				Reason:   line.Reason,
			})
		}
		return line, false
	default:
		return line, false
	}
	t.processed++
	return line, true
}

func (t *Tally) urlFor(identity string) string {
	for _, u := range t.urls {
		if strings.Contains(u, identity) {
			return u
		}
	}
	return ""
}

// Processed is the number of items that reached a terminal state.
func (t *Tally) Processed() int {
	return t.processed
}

// Result returns the aggregate with success taken from the exit code.
func (t *Tally) Result(exitCode int) *core.FetchResult {
	out := t.result
	out.Failures = append([]core.FetchFailure(nil), t.result.Failures...)
	out.Success = exitCode == 0
	return &out
}
