package linklog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAppendPreservesOrderAcrossCalls(t *testing.T) {
	t.Parallel()

	log := New(filepath.Join(t.TempDir(), "state", "links.txt"))
	require.NoError(t, log.Append([]string{"https://x/1", "https://x/2"}))
	require.NoError(t, log.Append(nil))
	require.NoError(t, log.Append([]string{"https://x/3"}))

	links, err := log.Load()
	require.NoError(t, err)
	require.Equal(t, []string{"https://x/1", "https://x/2", "https://x/3"}, links)

	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err := os.ReadFile(log.Path())
	require.NoError(t, err)
	require.Equal(t, "https://x/1\nhttps://x/2\nhttps://x/3\n", string(raw))
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	links, err := New(filepath.Join(t.TempDir(), "links.txt")).Load()
	require.NoError(t, err)
	require.Empty(t, links)
}

func TestLoadSkipsBlankLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "links.txt")
	require.NoError(t, os.WriteFile(path, []byte("a\n\n  b  \n\n"), 0o600))
	links, err := New(path).Load()
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, links)
}

func TestAppendRejectsEmbeddedNewline(t *testing.T) {
	t.Parallel()

	log := New(filepath.Join(t.TempDir(), "links.txt"))
	require.Error(t, log.Append([]string{"https://x/1\rhttps://x/2"}))
}

func TestTruncateDropsUncommittedTail(t *testing.T) {
	t.Parallel()

	log := New(filepath.Join(t.TempDir(), "links.txt"))
	require.NoError(t, log.Append([]string{"a", "b", "c", "d"}))

	dropped, err := log.Truncate(2)
	require.NoError(t, err)
	require.Equal(t, 2, dropped)

	links, err := log.Load()
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, links)

	dropped, err = log.Truncate(5)
	require.NoError(t, err)
	require.Zero(t, dropped)

	_, err = log.Truncate(-1)
	require.Error(t, err)
}

func TestTruncateMissingFileToZero(t *testing.T) {
	t.Parallel()

	log := New(filepath.Join(t.TempDir(), "links.txt"))
	dropped, err := log.Truncate(0)
	require.NoError(t, err)
	require.Zero(t, dropped)
}

func TestSkippedLedgerRoundTrip(t *testing.T) {
	t.Parallel()

	ledger := NewSkipped(filepath.Join(t.TempDir(), "skipped.txt"))
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, ledger.Record(SkipEntry{At: at, Link: "https://x/2", Reason: "fetch failed:\tstatus 503"}))
	require.NoError(t, ledger.Record(SkipEntry{At: at.Add(time.Minute), Link: "https://x/9", Reason: "identity not found"}))

	entries, err := ledger.Load()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "https://x/2", entries[0].Link)
	require.Equal(t, "fetch failed: status 503", entries[0].Reason)
	require.True(t, entries[1].At.Equal(at.Add(time.Minute)))

	require.NoError(t, ledger.Reset())
	entries, err = ledger.Load()
	require.NoError(t, err)
	require.Empty(t, entries)
}
