package linklog

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// SkipEntry is one line of the skipped-link ledger.
type SkipEntry struct {
	At     time.Time
	Link   string
	Reason string
}

// Skipped is an append-only ledger of links the detail pipeline gave up on.
// Operators re-queue entries from it by hand; nothing retries them automatically.
type Skipped struct {
	path string
}

// NewSkipped returns a ledger backed by path.
func NewSkipped(path string) *Skipped {
	return &Skipped{path: path}
}

// Record appends a tab-separated line: timestamp, link, reason.
func (s *Skipped) Record(entry SkipEntry) error {
	reason := strings.NewReplacer("\t", " ", "\n", " ", "\r", " ").Replace(entry.Reason)
	line := fmt.Sprintf("%s\t%s\t%s\n", entry.At.UTC().Format(time.RFC3339), entry.Link, reason)
	return appendSynced(s.path, []byte(line))
}

// Load returns every ledger entry in file order. Malformed lines are ignored.
func (s *Skipped) Load() ([]SkipEntry, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open skipped ledger: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	var out []SkipEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), "\t", 3)
		if len(parts) != 3 {
			continue
		}
		at, err := time.Parse(time.RFC3339, parts[0])
		if err != nil {
			continue
		}
		out = append(out, SkipEntry{At: at, Link: parts[1], Reason: parts[2]})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan skipped ledger: %w", err)
	}
	return out, nil
}

// Reset removes the ledger file.
func (s *Skipped) Reset() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove skipped ledger: %w", err)
	}
	return nil
}
