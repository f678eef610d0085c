// Package results implements the deduplicated, ordered result collection.
package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/storage/local"
)

// Document is the on-disk layout of the result collection.
type Document struct {
	Source    string           `json:"source"`
	UpdatedAt time.Time        `json:"updated_at"`
	Count     int              `json:"count"`
	Records   []crawler.Record `json:"records"`
}

// Config controls where the collection is persisted.
type Config struct {
	Path   string
	Source string
}

// Store keeps records in insertion order with an identity index for O(1) merges.
// It is owned by a single pipeline and is not safe for concurrent use.
type Store struct {
	cfg     Config
	clock   crawler.Clock
	logger  *zap.Logger
	records []crawler.Record
	index   map[string]int
}

// New returns an empty Store. Call Load to read persisted records.
func New(cfg Config, clock crawler.Clock, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		cfg:    cfg,
		clock:  clock,
		logger: logger,
		index:  make(map[string]int),
	}
}

// Load replaces the in-memory collection with the persisted one. A missing or
// corrupt document yields an empty collection; the failure is logged only.
func (s *Store) Load(_ context.Context) {
	s.records = nil
	s.index = make(map[string]int)

	data, err := os.ReadFile(s.cfg.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Info("no result document found, starting empty", zap.String("path", s.cfg.Path))
			return
		}
		s.logger.Error("result document unreadable, starting empty", zap.String("path", s.cfg.Path), zap.Error(err))
		return
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Error("result document corrupt, starting empty", zap.String("path", s.cfg.Path), zap.Error(err))
		return
	}
	for _, rec := range doc.Records {
		// Keep the first occurrence if the file was edited by hand.
		s.Merge(rec)
	}
	s.logger.Info("result document loaded", zap.String("path", s.cfg.Path), zap.Int("records", len(s.records)))
}

// Merge inserts record unless its identity is already present. The first
// record merged for an identity wins and is never modified.
func (s *Store) Merge(record crawler.Record) crawler.MergeOutcome {
	if _, exists := s.index[record.Identity]; exists {
		return crawler.MergeDuplicate
	}
	s.index[record.Identity] = len(s.records)
	s.records = append(s.records, record)
	return crawler.MergeInserted
}

// Save rewrites the full document atomically.
func (s *Store) Save(_ context.Context) error {
	payload, err := json.MarshalIndent(s.document(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	if err := local.WriteFileAtomic(s.cfg.Path, payload, 0o600); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}

// Encode returns the current document as indented JSON (used by exports).
func (s *Store) Encode() ([]byte, error) {
	payload, err := json.MarshalIndent(s.document(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal results: %w", err)
	}
	return payload, nil
}

func (s *Store) document() Document {
	records := s.records
	if records == nil {
		records = []crawler.Record{}
	}
	var updated time.Time
	if s.clock != nil {
		updated = s.clock.Now()
	}
	return Document{
		Source:    s.cfg.Source,
		UpdatedAt: updated,
		Count:     len(records),
		Records:   records,
	}
}

// Get returns the record stored for identity.
func (s *Store) Get(identity string) (crawler.Record, bool) {
	i, ok := s.index[identity]
	if !ok {
		return crawler.Record{}, false
	}
	return s.records[i], true
}

// Contains reports whether identity has been merged.
func (s *Store) Contains(identity string) bool {
	_, ok := s.index[identity]
	return ok
}

// Len returns the number of records.
func (s *Store) Len() int {
	return len(s.records)
}

// Records returns a copy of the records in insertion order.
func (s *Store) Records() []crawler.Record {
	out := make([]crawler.Record, len(s.records))
	copy(out, s.records)
	return out
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.cfg.Path
}

// Reset removes the persisted document and clears memory.
func (s *Store) Reset(_ context.Context) error {
	s.records = nil
	s.index = make(map[string]int)
	if err := os.Remove(s.cfg.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove results: %w", err)
	}
	return nil
}
