package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"tubesync/internal/core"
)

const rule = "============================================================"

func countFailed(results []core.SyncResult) int {
	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	return failed
}

// printSummary renders per-playlist results and the run totals.
func printSummary(w io.Writer, mode core.Mode, results []core.SyncResult, base string) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)
	bold := color.New(color.Bold)

	var total core.SyncResult
	succeeded := 0
	for _, r := range results {
		line := fmt.Sprintf("%-24s new %-4d renamed %-4d duplicates %-4d removed %-4d",
			r.Playlist, r.NewDownloads, r.Renamed, r.DuplicatesRemoved, r.RemovedMissing)
		if r.Success {
			succeeded++
			green.Fprintln(w, "✓ "+strings.TrimRight(line, " "))
		} else {
			red.Fprintf(w, "✗ %s: %s\n", r.Playlist, r.Error)
			continue
		}
		total.NewDownloads += r.NewDownloads
		total.Renamed += r.Renamed
		total.DuplicatesRemoved += r.DuplicatesRemoved
		total.RemovedMissing += r.RemovedMissing
	}

	fmt.Fprintln(w)
	green.Fprintln(w, rule)
	title := fmt.Sprintf("%s complete", modeTitle(mode))
	if len(results) > 0 && results[0].DryRun {
		title += " (dry run, nothing was changed)"
	}
	bold.Fprintln(w, title)
	green.Fprintf(w, "Successfully processed: %d/%d playlists\n", succeeded, len(results))

	if mode != core.ModeOrganize {
		if total.NewDownloads > 0 {
			green.Fprintf(w, "New songs downloaded: %d\n", total.NewDownloads)
		} else {
			yellow.Fprintln(w, "No new songs found to download")
		}
	}
	if total.Renamed > 0 {
		green.Fprintf(w, "Files renamed: %d\n", total.Renamed)
	}
	if total.DuplicatesRemoved > 0 {
		yellow.Fprintf(w, "Duplicates quarantined: %d\n", total.DuplicatesRemoved)
	}
	if total.RemovedMissing > 0 {
		red.Fprintf(w, "Playlist removals applied: %d\n", total.RemovedMissing)
	}
	green.Fprintf(w, "Location: %s\n", base)
	green.Fprintln(w, rule)
}

func modeTitle(mode core.Mode) string {
	switch mode {
	case core.ModeOrganize:
		return "Organize"
	case core.ModeComplete:
		return "Complete sync"
	default:
		return "Sync & auto-download"
	}
}
