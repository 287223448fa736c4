// Package archive reads and prunes the downloader's download-archive file.
package archive

import (
	"bufio"
	"bytes"
	"errors"
	"os"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"tubesync/internal/store"
	"tubesync/pkg/musiclink"
)

var tokenSplitRegex = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Ledger is one playlist's archive file, shared with the downloader.
// Read and write failures are logged and degrade to an empty set or zero pruned lines.
type Ledger struct {
	path   string
	logger *zap.Logger
}

// NewLedger creates a ledger for the archive file at path.
func NewLedger(path string, logger *zap.Logger) *Ledger {
	return &Ledger{
		path:   path,
		logger: logger.Named("archive"),
	}
}

// Path returns the archive file location.
func (l *Ledger) Path() string {
	return l.path
}

// Identities returns every identity recorded in the archive.
func (l *Ledger) Identities() *store.KeySet {
	ids := store.NewKeySet(0, store.DefaultFalsePositiveRate)

	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return ids
	}
	if err != nil {
		l.logger.Warn("Could not read download archive", zap.String("path", l.path), zap.Error(err))
		return ids
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if id := LineIdentity(scanner.Text()); id != "" {
			ids.Add(id)
		}
	}
	if err := scanner.Err(); err != nil {
		l.logger.Warn("Could not parse download archive", zap.String("path", l.path), zap.Error(err))
	}
	return ids
}

// LineIdentity extracts the identity of one "extractor ID" archive line.
// The second field wins when it looks like an ID; otherwise the first 11-character token of the line is used.
func LineIdentity(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}

	if fields := strings.Fields(line); len(fields) >= 2 && musiclink.IsIdentity(fields[1]) {
		return fields[1]
	}
	for _, token := range tokenSplitRegex.Split(line, -1) {
		if musiclink.IsIdentity(token) {
			return token
		}
	}
	return ""
}

// lineReferences reports whether any token of line is in ids.
func lineReferences(line string, ids map[string]struct{}) bool {
	for _, token := range tokenSplitRegex.Split(line, -1) {
		if _, ok := ids[token]; ok {
			return true
		}
	}
	return false
}

// Prune rewrites the archive without the lines referencing any of ids and returns how many were removed.
// The new content replaces the file in one rename.
func (l *Ledger) Prune(ids []string) int {
	if len(ids) == 0 {
		return 0
	}

	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0
	}
	if err != nil {
		l.logger.Warn("Could not read download archive for pruning", zap.String("path", l.path), zap.Error(err))
		return 0
	}

	remove := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			remove[id] = struct{}{}
		}
	}

	var kept bytes.Buffer
	removed := 0
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) != "" && lineReferences(line, remove) {
			removed++
			continue
		}
		kept.WriteString(line)
		kept.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		l.logger.Warn("Could not parse download archive for pruning", zap.String("path", l.path), zap.Error(err))
		return 0
	}

	if removed == 0 {
		return 0
	}

	info, err := os.Stat(l.path)
	perm := os.FileMode(0o644)
	if err == nil {
		perm = info.Mode().Perm()
	}
	if err := store.WriteFileAtomic(l.path, kept.Bytes(), perm); err != nil {
		l.logger.Warn("Could not rewrite download archive", zap.String("path", l.path), zap.Error(err))
		return 0
	}

	l.logger.Info("Pruned download archive", zap.String("path", l.path), zap.Int("removed", removed))
	return removed
}

// Remove drops a single identity from the archive.
func (l *Ledger) Remove(id string) bool {
	return l.Prune([]string{id}) > 0
}
