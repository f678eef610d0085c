// Package linklog stores discovered links as an append-only, newline-delimited file.
package linklog

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/storage/local"
)

// Log is the durable link sequence shared by discovery and the detail pipeline.
type Log struct {
	path string
}

// New returns a Log backed by path. The file is created lazily on first append.
func New(path string) *Log {
	return &Log{path: path}
}

// Path returns the backing file path.
func (l *Log) Path() string {
	return l.path
}

// Append writes links in order and syncs the file before returning.
func (l *Log) Append(links []crawler.Link) error {
	if len(links) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, link := range links {
		link = strings.TrimSpace(link)
		if link == "" {
			continue
		}
		if strings.ContainsAny(link, "\r\n") {
			return fmt.Errorf("link %q contains a line break", link)
		}
		buf.WriteString(link)
		buf.WriteByte('\n')
	}
	return appendSynced(l.path, buf.Bytes())
}

// Load reads every link in file order, skipping blank lines.
func (l *Log) Load() ([]crawler.Link, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []crawler.Link{}, nil
		}
		return nil, fmt.Errorf("open link log: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	links := make([]crawler.Link, 0, 256)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		links = append(links, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan link log: %w", err)
	}
	return links, nil
}

// Count returns the number of links currently stored.
func (l *Log) Count() (int, error) {
	links, err := l.Load()
	if err != nil {
		return 0, err
	}
	return len(links), nil
}

// Truncate keeps the first n links and drops the rest. It returns how many links
// were discarded. The rewrite is atomic; a missing file with n == 0 is a no-op.
func (l *Log) Truncate(n int) (int, error) {
	if n < 0 {
		return 0, fmt.Errorf("truncate to negative length %d", n)
	}
	links, err := l.Load()
	if err != nil {
		return 0, err
	}
	if len(links) <= n {
		return 0, nil
	}
	var buf bytes.Buffer
	for _, link := range links[:n] {
		buf.WriteString(link)
		buf.WriteByte('\n')
	}
	if err := local.WriteFileAtomic(l.path, buf.Bytes(), 0o600); err != nil {
		return 0, fmt.Errorf("truncate link log: %w", err)
	}
	return len(links) - n, nil
}

// Reset removes the link file.
func (l *Log) Reset() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove link log: %w", err)
	}
	return nil
}

func appendSynced(path string, data []byte) (err error) {
	if len(data) == 0 {
		return nil
	}
	if err := local.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	// #nosec G304 -- path comes from configured state locations.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open %s for append: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("append to %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	return nil
}
