package export

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/hash/sha256"
	"github.com/JakeFAU/catalog-crawler/internal/storage/local"
	"github.com/JakeFAU/catalog-crawler/internal/storage/memory"
)

type fakeSnapshot struct {
	records []crawler.Record
	err     error
}

func (f fakeSnapshot) Encode() ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return json.Marshal(f.records)
}

func (f fakeSnapshot) Records() []crawler.Record { return f.records }

type fakeWriter struct {
	schemaErr error
	inserted  int
	got       []crawler.Record
}

func (w *fakeWriter) EnsureSchema(context.Context) error { return w.schemaErr }

func (w *fakeWriter) InsertRecords(_ context.Context, records []crawler.Record) (int, error) {
	w.got = records
	return w.inserted, nil
}

func snapshot() fakeSnapshot {
	return fakeSnapshot{records: []crawler.Record{
		{Identity: "Aspirin", SourceURL: "https://x/1"},
		{Identity: "Avil", SourceURL: "https://x/2"},
	}}
}

func TestObjectSinkWritesSnapshotWithDigest(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	sink, err := NewObjectSink(SinkGCS, store, "exports/results.json", sha256.New(), nil)
	require.NoError(t, err)

	result, err := sink.Export(context.Background(), snapshot())
	require.NoError(t, err)
	require.Equal(t, "memory://exports/results.json", result.Location)
	require.Equal(t, 2, result.Records)

	obj, ok := store.Get("exports/results.json")
	require.True(t, ok)
	require.Equal(t, "application/json", obj.ContentType)
	want, _ := sha256.New().Hash(obj.Data)
	require.Equal(t, want, result.Hash)
	require.Equal(t, want, obj.Metadata["sha256"])
	require.Equal(t, "2", obj.Metadata["records"])
}

func TestObjectSinkWithLocalStore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	sink, err := NewObjectSink(SinkLocal, store, "snapshots/results.json", sha256.New(), nil)
	require.NoError(t, err)

	result, err := sink.Export(context.Background(), snapshot())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "snapshots", "results.json"))
	require.NoError(t, err)
	var records []crawler.Record
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 2)
	require.NotEmpty(t, result.Location)
}

func TestObjectSinkErrors(t *testing.T) {
	t.Parallel()

	_, err := NewObjectSink(SinkLocal, nil, "k", nil, nil)
	require.Error(t, err)
	_, err = NewObjectSink(SinkLocal, memory.NewBlobStore(), "", nil, nil)
	require.Error(t, err)

	failing := memory.NewBlobStore()
	failing.FailWith(errors.New("denied"))
	sink, err := NewObjectSink(SinkGCS, failing, "k", nil, nil)
	require.NoError(t, err)
	_, err = sink.Export(context.Background(), snapshot())
	require.ErrorContains(t, err, "denied")

	_, err = sink.Export(context.Background(), fakeSnapshot{err: errors.New("boom")})
	require.ErrorContains(t, err, "encode snapshot")
}

func TestTableSink(t *testing.T) {
	t.Parallel()

	writer := &fakeWriter{inserted: 1}
	sink, err := NewTableSink(writer, nil)
	require.NoError(t, err)
	require.Equal(t, SinkPostgres, sink.Name())

	result, err := sink.Export(context.Background(), snapshot())
	require.NoError(t, err)
	require.Equal(t, 2, result.Records)
	require.Equal(t, 1, result.Inserted)
	require.Len(t, writer.got, 2)

	failing, err := NewTableSink(&fakeWriter{schemaErr: errors.New("no db")}, nil)
	require.NoError(t, err)
	_, err = failing.Export(context.Background(), snapshot())
	require.ErrorContains(t, err, "no db")
}
