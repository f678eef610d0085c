// Package postgres mirrors the result collection into a Postgres table.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "catalog_records"

// RecordStoreConfig controls the Postgres connection pool used for record rows.
type RecordStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// RecordStore writes records into Postgres keyed by identity.
type RecordStore struct {
	pool  execCloser
	table string
}

// NewRecordStore creates a Postgres-backed RecordStore using the provided config.
func NewRecordStore(ctx context.Context, cfg RecordStoreConfig) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("export.postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RecordStore{pool: pool, table: table}, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(pool execCloser, table string) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RecordStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the record table when it does not exist.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	name TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	fields JSONB NOT NULL,
	source TEXT NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL,
	content_hash TEXT NOT NULL DEFAULT ''
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// InsertRecords inserts records in order. An identity already in the table is
// left untouched, matching the first-wins rule of the result collection. It
// returns how many rows were inserted.
func (s *RecordStore) InsertRecords(ctx context.Context, records []crawler.Record) (int, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("record store is not configured")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (name, url, fields, source, fetched_at, content_hash)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (name) DO NOTHING`, s.table)

	inserted := 0
	for _, record := range records {
		if record.Identity == "" {
			return inserted, fmt.Errorf("record for %s has no identity", record.SourceURL)
		}
		fields, err := json.Marshal(record.Fields)
		if err != nil {
			return inserted, fmt.Errorf("marshal fields for %q: %w", record.Identity, err)
		}
		tag, err := s.pool.Exec(ctx, query,
			record.Identity,
			record.SourceURL,
			fields,
			record.Metadata.Source,
			record.Metadata.FetchedAt,
			record.Metadata.ContentHash,
		)
		if err != nil {
			return inserted, fmt.Errorf("insert record %q: %w", record.Identity, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}
