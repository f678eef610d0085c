// Package ratelimit paces sequential requests with a random politeness delay and an
// optional token-bucket ceiling.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// Config holds pacing configuration for one stage.
type Config struct {
	// Stage labels the delay histogram ("listing" or "detail").
	Stage    string
	MinDelay time.Duration
	MaxDelay time.Duration
	// RPS caps the request rate on top of the random delay. Zero disables the ceiling.
	RPS   float64
	Burst int
}

// Validate rejects inverted or negative delay bounds.
func (c Config) Validate() error {
	if c.MinDelay < 0 || c.MaxDelay < 0 {
		return fmt.Errorf("delay bounds must be non-negative")
	}
	if c.MaxDelay < c.MinDelay {
		return fmt.Errorf("max delay %s is below min delay %s", c.MaxDelay, c.MinDelay)
	}
	if c.RPS < 0 {
		return fmt.Errorf("rps must be non-negative")
	}
	return nil
}

// Limiter implements crawler.Delayer.
type Limiter struct {
	cfg     Config
	limiter *rate.Limiter
	jitter  func(n int64) int64
	pause   func(ctx context.Context, d time.Duration) error
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithJitter replaces the random source; fn returns a value in [0, n).
func WithJitter(fn func(n int64) int64) Option {
	return func(l *Limiter) {
		l.jitter = fn
	}
}

// WithPause replaces the timer used for the random delay.
func WithPause(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) {
		l.pause = fn
	}
}

// New creates a new Limiter.
func New(cfg Config, opts ...Option) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Limiter{
		cfg:    cfg,
		jitter: rand.Int64N,
		pause:  timerPause,
	}
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Next returns the random delay for the next request, uniform in [MinDelay, MaxDelay].
func (l *Limiter) Next() time.Duration {
	span := int64(l.cfg.MaxDelay - l.cfg.MinDelay)
	if span <= 0 {
		return l.cfg.MinDelay
	}
	return l.cfg.MinDelay + time.Duration(l.jitter(span+1))
}

// Wait blocks for the random delay, then for a token when a ceiling is configured.
// It returns early with the context error on cancellation.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := l.pause(ctx, l.Next()); err != nil {
		return fmt.Errorf("politeness wait: %w", err)
	}
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
	metrics.ObservePolitenessDelay(l.cfg.Stage, time.Since(start))
	return nil
}

func timerPause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
