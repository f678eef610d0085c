// Package export copies the result collection to an external destination.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Sink names accepted by the export command.
const (
	SinkLocal    = "local"
	SinkGCS      = "gcs"
	SinkPostgres = "postgres"
)

const contentTypeJSON = "application/json"

// Snapshot is the result collection as seen by an export.
type Snapshot interface {
	Encode() ([]byte, error)
	Records() []crawler.Record
}

// ObjectStore stores an encoded snapshot and returns its location.
type ObjectStore interface {
	PutObject(ctx context.Context, name string, contentType string, r io.Reader, metadata map[string]string) (string, error)
}

// RecordWriter stores records one row per identity.
type RecordWriter interface {
	EnsureSchema(ctx context.Context) error
	InsertRecords(ctx context.Context, records []crawler.Record) (int, error)
}

// Result describes a completed export.
type Result struct {
	Sink     string
	Location string
	Records  int
	Inserted int
	Hash     string
}

// Sink is an export destination.
type Sink interface {
	Name() string
	Export(ctx context.Context, snap Snapshot) (Result, error)
}

// ObjectSink writes the encoded collection as a single JSON object.
type ObjectSink struct {
	name   string
	store  ObjectStore
	key    string
	hasher crawler.Hasher
	logger *zap.Logger
}

// NewObjectSink returns a sink that writes the snapshot under key.
func NewObjectSink(name string, store ObjectStore, key string, hasher crawler.Hasher, logger *zap.Logger) (*ObjectSink, error) {
	if store == nil {
		return nil, errors.New("object store is required")
	}
	if key == "" {
		return nil, errors.New("object key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ObjectSink{name: name, store: store, key: key, hasher: hasher, logger: logger}, nil
}

// Name implements Sink.
func (s *ObjectSink) Name() string { return s.name }

// Export implements Sink.
func (s *ObjectSink) Export(ctx context.Context, snap Snapshot) (Result, error) {
	payload, err := snap.Encode()
	if err != nil {
		return Result{}, fmt.Errorf("encode snapshot: %w", err)
	}
	result := Result{Sink: s.name, Records: len(snap.Records())}
	metadata := map[string]string{"records": fmt.Sprint(result.Records)}
	if s.hasher != nil {
		sum, err := s.hasher.Hash(payload)
		if err != nil {
			return Result{}, fmt.Errorf("hash snapshot: %w", err)
		}
		result.Hash = sum
		metadata["sha256"] = sum
	}
	location, err := s.store.PutObject(ctx, s.key, contentTypeJSON, bytes.NewReader(payload), metadata)
	if err != nil {
		return Result{}, fmt.Errorf("%s export: %w", s.name, err)
	}
	result.Location = location
	result.Inserted = result.Records
	s.logger.Info("snapshot exported",
		zap.String("sink", s.name),
		zap.String("location", location),
		zap.Int("records", result.Records),
		zap.Int("bytes", len(payload)))
	return result, nil
}

// TableSink mirrors records into a table keyed by identity.
type TableSink struct {
	writer RecordWriter
	logger *zap.Logger
}

// NewTableSink returns a sink backed by writer.
func NewTableSink(writer RecordWriter, logger *zap.Logger) (*TableSink, error) {
	if writer == nil {
		return nil, errors.New("record writer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TableSink{writer: writer, logger: logger}, nil
}

// Name implements Sink.
func (s *TableSink) Name() string { return SinkPostgres }

// Export implements Sink. Rows already present are left as they are.
func (s *TableSink) Export(ctx context.Context, snap Snapshot) (Result, error) {
	if err := s.writer.EnsureSchema(ctx); err != nil {
		return Result{}, fmt.Errorf("postgres export: %w", err)
	}
	records := snap.Records()
	inserted, err := s.writer.InsertRecords(ctx, records)
	if err != nil {
		return Result{}, fmt.Errorf("postgres export: %w", err)
	}
	s.logger.Info("records exported",
		zap.String("sink", SinkPostgres),
		zap.Int("records", len(records)),
		zap.Int("inserted", inserted))
	return Result{Sink: SinkPostgres, Records: len(records), Inserted: inserted}, nil
}
