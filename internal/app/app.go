// Package app builds the crawler's long-lived services from configuration, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/checkpoint"
	"github.com/JakeFAU/catalog-crawler/internal/clock/system"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/discovery"
	"github.com/JakeFAU/catalog-crawler/internal/export"
	"github.com/JakeFAU/catalog-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/catalog-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/catalog-crawler/internal/hash/sha256"
	"github.com/JakeFAU/catalog-crawler/internal/id/uuid"
	"github.com/JakeFAU/catalog-crawler/internal/logging"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/pipeline"
	"github.com/JakeFAU/catalog-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/catalog-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/catalog-crawler/internal/status"
	"github.com/JakeFAU/catalog-crawler/internal/storage/gcs"
	"github.com/JakeFAU/catalog-crawler/internal/storage/linklog"
	"github.com/JakeFAU/catalog-crawler/internal/storage/local"
	"github.com/JakeFAU/catalog-crawler/internal/storage/postgres"
	"github.com/JakeFAU/catalog-crawler/internal/storage/results"
)

// Reset targets.
const (
	ResetLinks   = "links"
	ResetDetails = "details"
	ResetAll     = "all"
)

// App holds the configuration, logger and per-run identity shared by every command.
// Components are built on demand so a command only dials the services it uses.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	runID   string
	clock   crawler.Clock
	closers []namedCloser
	// closeLog runs after the final logger flush.
	closeLog func() error
}

type namedCloser struct {
	name string
	fn   func() error
}

// New builds the logger described by cfg and returns an App.
func New(cfg config.Config) (*App, error) {
	logFile := cfg.Logging.File
	if logFile != "" {
		logFile = cfg.State.Path(logFile)
	}
	logger, closeLog, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
		File:        logFile,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := NewWithLogger(cfg, logger)
	a.closeLog = closeLog
	return a, nil
}

// NewWithLogger returns an App that logs to logger.
func NewWithLogger(cfg config.Config, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	runID := uuid.New().RunID()
	return &App{
		cfg:    cfg,
		logger: logger.With(zap.String("run_id", runID)),
		runID:  runID,
		clock:  system.New(),
	}
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the run-scoped logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// RunID identifies this process in logs and notifications.
func (a *App) RunID() string { return a.runID }

func (a *App) path(name string) string {
	return a.cfg.State.Path(name)
}

func (a *App) ensureStateDir() error {
	if a.cfg.State.Dir == "" || a.cfg.State.Dir == "." {
		return nil
	}
	if err := local.EnsureDir(a.cfg.State.Dir); err != nil {
		return fmt.Errorf("prepare state dir: %w", err)
	}
	return nil
}

// Fetcher builds the HTTP page fetcher.
func (a *App) Fetcher() *collyfetcher.Fetcher {
	return collyfetcher.New(collyfetcher.Config{
		UserAgent:      a.cfg.HTTP.UserAgent,
		Timeout:        a.cfg.FetchTimeout(),
		MaxRetries:     a.cfg.HTTP.MaxRetries,
		RetryBaseDelay: time.Duration(a.cfg.HTTP.BackoffInitialMs) * time.Millisecond,
		RetryMaxDelay:  time.Duration(a.cfg.HTTP.BackoffMaxMs) * time.Millisecond,
	}, a.logger)
}

// Parser builds the listing and detail parser for the configured site.
func (a *App) Parser() (*extract.Parser, error) {
	profile, err := a.cfg.Site.Profile()
	if err != nil {
		return nil, fmt.Errorf("site profile: %w", err)
	}
	parser, err := extract.New(profile)
	if err != nil {
		return nil, fmt.Errorf("build parser: %w", err)
	}
	return parser, nil
}

func (a *App) limiter(stage string, sc config.StageConfig) (*ratelimit.Limiter, error) {
	l, err := ratelimit.New(ratelimit.Config{
		Stage:    stage,
		MinDelay: sc.MinDelay(),
		MaxDelay: sc.MaxDelay(),
		RPS:      sc.RPS,
		Burst:    sc.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("%s pacing: %w", stage, err)
	}
	return l, nil
}

// Links returns the link file.
func (a *App) Links() *linklog.Log {
	return linklog.New(a.path(a.cfg.State.LinksFile))
}

// PaginationCursor returns the discovery checkpoint store.
func (a *App) PaginationCursor() *checkpoint.Store[crawler.PaginationCursor] {
	return checkpoint.NewPagination(a.path(a.cfg.State.DiscoveryFile), a.cfg.Site.Buckets, a.logger)
}

// LinkCursor returns the detail checkpoint store.
func (a *App) LinkCursor() *checkpoint.Store[crawler.LinkCursor] {
	return checkpoint.NewLinks(a.path(a.cfg.State.DetailsFile), a.logger)
}

// Results returns an unloaded result collection.
func (a *App) Results() *results.Store {
	return results.New(results.Config{
		Path:   a.path(a.cfg.State.ResultsFile),
		Source: a.cfg.Site.ListingURL,
	}, a.clock, a.logger.Named("results"))
}

// Skipped returns the skipped-link ledger.
func (a *App) Skipped() *linklog.Skipped {
	return linklog.NewSkipped(a.path(a.cfg.State.SkippedFile))
}

// Discovery builds the link discovery crawler.
func (a *App) Discovery() (*discovery.Crawler, error) {
	if err := a.ensureStateDir(); err != nil {
		return nil, err
	}
	parser, err := a.Parser()
	if err != nil {
		return nil, err
	}
	delayer, err := a.limiter(metrics.StageListing, a.cfg.Discovery)
	if err != nil {
		return nil, err
	}
	return discovery.New(discovery.Config{
		ListingURL:        a.cfg.Site.ListingURL,
		BucketParam:       a.cfg.Site.BucketParam,
		PageParam:         a.cfg.Site.PageParam,
		Buckets:           a.cfg.Site.Buckets,
		MaxPagesPerBucket: a.cfg.Discovery.MaxPagesPerBucket,
	}, discovery.Deps{
		Fetcher: a.Fetcher(),
		Parser:  parser,
		Delayer: delayer,
		Links:   a.Links(),
		Cursor:  a.PaginationCursor(),
		Logger:  a.logger,
	})
}

// Pipeline builds the detail extraction pipeline. limit overrides details.limit when positive.
func (a *App) Pipeline(ctx context.Context, limit int) (*pipeline.Pipeline, error) {
	if err := a.ensureStateDir(); err != nil {
		return nil, err
	}
	parser, err := a.Parser()
	if err != nil {
		return nil, err
	}
	delayer, err := a.limiter(metrics.StageDetail, a.cfg.Details)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = a.cfg.Details.Limit
	}
	deps := pipeline.Deps{
		Fetcher: a.Fetcher(),
		Parser:  parser,
		Delayer: delayer,
		Links:   a.Links(),
		Cursor:  a.LinkCursor(),
		Results: a.Results(),
		Skipped: a.Skipped(),
		Hasher:  sha256.New(),
		Clock:   a.clock,
		Logger:  a.logger,
	}
	topic := ""
	if a.cfg.PubSub.Enabled() {
		pub, err := pubsub.Dial(ctx, pubsub.Config{
			ProjectID: a.cfg.PubSub.ProjectID,
			TopicID:   a.cfg.PubSub.TopicID,
			Endpoint:  a.cfg.PubSub.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("init record notifications: %w", err)
		}
		a.closers = append(a.closers, namedCloser{name: "pubsub", fn: pub.Close})
		deps.Publisher = pub
		topic = a.cfg.PubSub.TopicID
	}
	return pipeline.New(pipeline.Config{Limit: limit, Topic: topic, RunID: a.runID}, deps)
}

// Status reads every artifact and reports progress for both stages.
func (a *App) Status(ctx context.Context) (status.Report, error) {
	return status.Collect(ctx, status.Sources{
		Buckets:    a.cfg.Site.Buckets,
		Pagination: a.PaginationCursor(),
		LinkCursor: a.LinkCursor(),
		Links:      a.Links(),
		Results:    a.Results(),
		Skipped:    a.Skipped(),
	})
}

// Reset deletes the artifacts of one stage, or both.
func (a *App) Reset(ctx context.Context, target string) error {
	var errs []error
	resetLinks := func() {
		errs = append(errs, a.PaginationCursor().Reset(ctx), a.Links().Reset())
	}
	resetDetails := func() {
		errs = append(errs, a.LinkCursor().Reset(ctx), a.Results().Reset(ctx), a.Skipped().Reset())
	}
	switch target {
	case ResetLinks:
		resetLinks()
	case ResetDetails:
		resetDetails()
	case ResetAll:
		resetLinks()
		resetDetails()
	default:
		return fmt.Errorf("unknown reset target %q (want %s, %s or %s)", target, ResetLinks, ResetDetails, ResetAll)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("reset %s: %w", target, err)
	}
	a.logger.Info("state reset", zap.String("target", target))
	return nil
}

// ExportSink builds the named export destination.
func (a *App) ExportSink(ctx context.Context, name string) (export.Sink, error) {
	ec := a.cfg.Export
	switch name {
	case export.SinkLocal:
		store, err := local.New(local.Config{BaseDir: a.path(ec.Local.Dir)})
		if err != nil {
			return nil, fmt.Errorf("local export: %w", err)
		}
		return export.NewObjectSink(export.SinkLocal, store, ec.Key, sha256.New(), a.logger)
	case export.SinkGCS:
		store, err := gcs.Dial(ctx, gcs.Config{Bucket: ec.GCS.Bucket, Prefix: ec.GCS.Prefix, Endpoint: ec.GCS.Endpoint})
		if err != nil {
			return nil, fmt.Errorf("gcs export: %w", err)
		}
		a.closers = append(a.closers, namedCloser{name: "gcs", fn: store.Close})
		return export.NewObjectSink(export.SinkGCS, store, ec.Key, sha256.New(), a.logger)
	case export.SinkPostgres:
		store, err := postgres.NewRecordStore(ctx, postgres.RecordStoreConfig{
			DSN:      ec.Postgres.DSN,
			Table:    ec.Postgres.Table,
			MaxConns: ec.Postgres.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres export: %w", err)
		}
		a.closers = append(a.closers, namedCloser{name: "postgres", fn: func() error {
			store.Close()
			return nil
		}})
		return export.NewTableSink(store, a.logger)
	default:
		return nil, fmt.Errorf("unknown export sink %q", name)
	}
}

// Close releases everything the App opened, newest first, then flushes the logger.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("error closing service", zap.String("service", c.name), zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
	if a.closeLog != nil {
		_ = a.closeLog()
		a.closeLog = nil
	}
}
