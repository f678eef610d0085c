// Package checkpoint persists resumable cursors as small JSON documents.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/storage/local"
)

// Store is a file-backed checkpoint for one cursor type.
//
// Load never fails: a missing, unreadable, or structurally invalid file yields the
// default value. Save replaces the file atomically so a failed write keeps the
// previous checkpoint intact.
type Store[T any] struct {
	path     string
	def      func() T
	validate func(T) error
	logger   *zap.Logger
}

// Option customises a Store.
type Option[T any] func(*Store[T])

// WithValidator rejects decoded values that are structurally invalid.
func WithValidator[T any](fn func(T) error) Option[T] {
	return func(s *Store[T]) {
		s.validate = fn
	}
}

// New builds a Store at path. def produces the start-of-space value.
func New[T any](path string, def func() T, logger *zap.Logger, opts ...Option[T]) *Store[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store[T]{
		path:   path,
		def:    def,
		logger: logger.With(zap.String("checkpoint", path)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the backing file path.
func (s *Store[T]) Path() string {
	return s.path
}

// Load returns the persisted value, or the default when none is usable.
func (s *Store[T]) Load(_ context.Context) T {
	value, found, err := s.read()
	switch {
	case err != nil:
		s.logger.Error("checkpoint unreadable, starting from default", zap.Error(err))
		return s.def()
	case !found:
		s.logger.Info("no checkpoint found, starting from default")
		return s.def()
	default:
		return value
	}
}

// Exists reports whether a checkpoint file is present and usable.
func (s *Store[T]) Exists() bool {
	_, found, err := s.read()
	return found && err == nil
}

func (s *Store[T]) read() (T, bool, error) {
	var zero T
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("read checkpoint: %w", err)
	}
	value := s.def()
	if err := json.Unmarshal(data, &value); err != nil {
		return zero, true, fmt.Errorf("decode checkpoint: %w", err)
	}
	if s.validate != nil {
		if err := s.validate(value); err != nil {
			return zero, true, fmt.Errorf("invalid checkpoint: %w", err)
		}
	}
	return value, true, nil
}

// Save durably replaces the checkpoint with value. It ignores context cancellation
// so the fatal path can still re-persist the last good cursor after a shutdown signal.
func (s *Store[T]) Save(_ context.Context, value T) error {
	if s.validate != nil {
		if err := s.validate(value); err != nil {
			return fmt.Errorf("refusing to save invalid checkpoint: %w", err)
		}
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := local.WriteFileAtomic(s.path, payload, 0o600); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// Reset removes the checkpoint so the next Load returns the default.
func (s *Store[T]) Reset(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}
