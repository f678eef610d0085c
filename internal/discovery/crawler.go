// Package discovery walks the paginated catalog index and records detail links.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// Config describes the listing address space.
type Config struct {
	// ListingURL is the index endpoint; bucket and page are added as query parameters.
	ListingURL  string
	BucketParam string
	PageParam   string
	Buckets     []string
	// MaxPagesPerBucket stops a bucket after this many pages. Zero means no cap.
	MaxPagesPerBucket int
}

// Validate checks the address space is usable.
func (c Config) Validate() error {
	if c.ListingURL == "" {
		return errors.New("listing url is required")
	}
	if _, err := url.Parse(c.ListingURL); err != nil {
		return fmt.Errorf("parse listing url: %w", err)
	}
	if c.BucketParam == "" || c.PageParam == "" {
		return errors.New("bucket and page parameter names are required")
	}
	if len(c.Buckets) == 0 {
		return errors.New("at least one bucket is required")
	}
	seen := make(map[string]struct{}, len(c.Buckets))
	for _, b := range c.Buckets {
		if b == "" {
			return errors.New("bucket names must be non-empty")
		}
		if _, dup := seen[b]; dup {
			return fmt.Errorf("bucket %q listed twice", b)
		}
		seen[b] = struct{}{}
	}
	if c.MaxPagesPerBucket < 0 {
		return errors.New("max pages per bucket must be non-negative")
	}
	return nil
}

// LinkLog is the append-only link sequence shared with the detail pipeline.
type LinkLog interface {
	Append(links []crawler.Link) error
	Truncate(n int) (int, error)
}

// CursorStore persists the pagination cursor.
type CursorStore interface {
	Load(ctx context.Context) crawler.PaginationCursor
	Save(ctx context.Context, cursor crawler.PaginationCursor) error
}

// Deps bundles the collaborators of a Crawler.
type Deps struct {
	Fetcher crawler.Fetcher
	Parser  crawler.ListingParser
	Delayer crawler.Delayer
	Links   LinkLog
	Cursor  CursorStore
	Logger  *zap.Logger
}

// Summary reports what one Run did.
type Summary struct {
	Pages       int
	FailedPages int
	EmptyPages  int
	Links       int
	Cursor      crawler.PaginationCursor
}

// Crawler is the link discovery state machine. It is not safe for concurrent use.
type Crawler struct {
	cfg     Config
	base    *url.URL
	fetcher crawler.Fetcher
	parser  crawler.ListingParser
	delayer crawler.Delayer
	links   LinkLog
	cursor  CursorStore
	logger  *zap.Logger
}

// New builds a Crawler.
func New(cfg Config, deps Deps) (*Crawler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("discovery config: %w", err)
	}
	if deps.Fetcher == nil || deps.Parser == nil || deps.Links == nil || deps.Cursor == nil {
		return nil, errors.New("discovery requires fetcher, parser, link log and cursor store")
	}
	base, err := url.Parse(cfg.ListingURL)
	if err != nil {
		return nil, fmt.Errorf("parse listing url: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{
		cfg:     cfg,
		base:    base,
		fetcher: deps.Fetcher,
		parser:  deps.Parser,
		delayer: deps.Delayer,
		links:   deps.Links,
		cursor:  deps.Cursor,
		logger:  logger.Named("discovery"),
	}, nil
}

// PageURL builds the listing URL for (bucket, page).
func (c *Crawler) PageURL(bucket string, page int) string {
	u := *c.base
	q := u.Query()
	q.Set(c.cfg.BucketParam, bucket)
	q.Set(c.cfg.PageParam, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

// Run resumes discovery from the persisted cursor and walks every remaining
// (bucket, page) in order. The cursor is persisted after each page. On an
// unexpected error or panic the last good cursor is persisted again before the
// error is returned.
func (c *Crawler) Run(ctx context.Context) (summary Summary, err error) {
	state := c.cursor.Load(ctx)
	summary.Cursor = state
	if state.Complete {
		c.logger.Info("discovery already complete, nothing to do",
			zap.Int("committed_links", state.CommittedLinks))
		return summary, nil
	}

	dropped, err := c.links.Truncate(state.CommittedLinks)
	if err != nil {
		return summary, fmt.Errorf("reconcile link file: %w", err)
	}
	if dropped > 0 {
		c.logger.Warn("dropped links from an uncheckpointed page",
			zap.Int("dropped", dropped),
			zap.Int("committed_links", state.CommittedLinks))
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("discovery panic: %v", r)
		}
		summary.Cursor = state
		if err != nil {
			c.persistOnFailure(state, err)
		}
	}()

	c.logger.Info("discovery starting",
		zap.String("bucket", state.Bucket),
		zap.Int("page", state.Page),
		zap.Int("committed_links", state.CommittedLinks))

	first := true
	pagesInBucket := 0
	for !state.Complete {
		if !first && c.delayer != nil {
			if err := c.delayer.Wait(ctx); err != nil {
				return summary, fmt.Errorf("wait before listing page: %w", err)
			}
		}
		first = false

		next, outcome, err := c.step(ctx, state, pagesInBucket)
		if err != nil {
			return summary, err
		}
		switch outcome.kind {
		case pageFailed:
			summary.FailedPages++
		case pageEmpty:
			summary.EmptyPages++
		case pageOK:
			summary.Pages++
			summary.Links += outcome.links
		}
		if next.Bucket != state.Bucket || next.Complete {
			pagesInBucket = 0
		} else {
			pagesInBucket++
		}
		state = next
		c.persist(ctx, state)
	}

	c.logger.Info("discovery complete",
		zap.Int("pages", summary.Pages),
		zap.Int("links", summary.Links),
		zap.Int("failed_pages", summary.FailedPages),
		zap.Int("committed_links", state.CommittedLinks))
	return summary, nil
}

type pageKind int

const (
	pageOK pageKind = iota
	pageFailed
	pageEmpty
)

type pageOutcome struct {
	kind  pageKind
	links int
}

// step processes the page named by state and returns the next position.
func (c *Crawler) step(ctx context.Context, state crawler.PaginationCursor, pagesInBucket int) (crawler.PaginationCursor, pageOutcome, error) {
	pageURL := c.PageURL(state.Bucket, state.Page)
	log := c.logger.With(zap.String("bucket", state.Bucket), zap.Int("page", state.Page), zap.String("url", pageURL))
	log.Info("fetching listing page")

	resp, err := c.fetcher.Fetch(ctx, crawler.FetchRequest{URL: pageURL})
	if err != nil {
		if ctx.Err() != nil {
			return state, pageOutcome{}, fmt.Errorf("fetch listing page: %w", err)
		}
		metrics.ObservePage(metrics.StageListing, "error", 0)
		log.Warn("listing fetch failed, ending bucket", zap.Error(err))
		return c.advanceBucket(state), pageOutcome{kind: pageFailed}, nil
	}
	metrics.ObservePage(metrics.StageListing, "ok", len(resp.Body))

	listing, err := c.parser.ParseListing(pageURL, resp.Body)
	if err != nil {
		log.Warn("listing parse failed, ending bucket", zap.Error(err))
		return c.advanceBucket(state), pageOutcome{kind: pageFailed}, nil
	}
	if len(listing.Links) == 0 {
		log.Info("no links on listing page, ending bucket")
		return c.advanceBucket(state), pageOutcome{kind: pageEmpty}, nil
	}

	if err := c.links.Append(listing.Links); err != nil {
		return state, pageOutcome{}, fmt.Errorf("append links: %w", err)
	}
	metrics.AddLinksDiscovered(len(listing.Links))
	log.Info("links recorded", zap.Int("links", len(listing.Links)), zap.Bool("has_next_page", listing.HasNextPage))

	next := state
	next.CommittedLinks += len(listing.Links)
	capped := c.cfg.MaxPagesPerBucket > 0 && pagesInBucket+1 >= c.cfg.MaxPagesPerBucket
	switch {
	case !listing.HasNextPage:
		log.Info("no more pages for bucket")
		next = c.advanceBucket(next)
	case capped:
		log.Warn("page cap reached, ending bucket", zap.Int("max_pages", c.cfg.MaxPagesPerBucket))
		next = c.advanceBucket(next)
	default:
		next.Page++
	}
	return next, pageOutcome{kind: pageOK, links: len(listing.Links)}, nil
}

// advanceBucket moves to page 0 of the next bucket, or marks the walk complete.
func (c *Crawler) advanceBucket(state crawler.PaginationCursor) crawler.PaginationCursor {
	i := slices.Index(c.cfg.Buckets, state.Bucket)
	if i < 0 || i+1 >= len(c.cfg.Buckets) {
		state.Page = 0
		state.Complete = true
		return state
	}
	state.Bucket = c.cfg.Buckets[i+1]
	state.Page = 0
	return state
}

func (c *Crawler) persist(ctx context.Context, state crawler.PaginationCursor) {
	err := c.cursor.Save(ctx, state)
	metrics.ObserveCheckpointWrite("discovery_state", err)
	if err != nil {
		c.logger.Error("failed to save pagination cursor", zap.Error(err),
			zap.String("bucket", state.Bucket), zap.Int("page", state.Page))
		return
	}
	if !state.Complete {
		metrics.SetDiscoveryPosition(state.Bucket, state.Page)
	}
}

func (c *Crawler) persistOnFailure(state crawler.PaginationCursor, cause error) {
	c.logger.Error("discovery stopped, persisting last good cursor",
		zap.Error(cause),
		zap.String("bucket", state.Bucket),
		zap.Int("page", state.Page),
		zap.Int("committed_links", state.CommittedLinks))
	c.persist(context.Background(), state)
}
