// Package pipeline fetches every discovered detail link, extracts its record and
// merges it into the result collection, checkpointing after each link.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/storage/linklog"
)

// EventRecordMerged is the notification type published for each new record.
const EventRecordMerged = "record.merged"

// LinkSource yields the discovered link sequence.
type LinkSource interface {
	Load() ([]crawler.Link, error)
}

// CursorStore persists the link cursor.
type CursorStore interface {
	Load(ctx context.Context) crawler.LinkCursor
	Save(ctx context.Context, cursor crawler.LinkCursor) error
}

// ResultStore is the deduplicated record collection.
type ResultStore interface {
	Load(ctx context.Context)
	Merge(record crawler.Record) crawler.MergeOutcome
	Save(ctx context.Context) error
	Len() int
}

// SkipLedger records links that were skipped.
type SkipLedger interface {
	Record(entry linklog.SkipEntry) error
}

// Config tunes one pipeline run.
type Config struct {
	// Limit stops the run after this many links. Zero processes every remaining link.
	Limit int
	// Topic receives a RecordEvent per inserted record when a Publisher is set.
	Topic string
	RunID string
}

// Deps bundles the collaborators of a Pipeline.
type Deps struct {
	Fetcher   crawler.Fetcher
	Parser    crawler.DetailParser
	Delayer   crawler.Delayer
	Links     LinkSource
	Cursor    CursorStore
	Results   ResultStore
	Skipped   SkipLedger
	Publisher crawler.Publisher
	Hasher    crawler.Hasher
	Clock     crawler.Clock
	Logger    *zap.Logger
}

// RecordEvent is the payload published for each inserted record.
type RecordEvent struct {
	Type        string    `json:"type"`
	RunID       string    `json:"run_id,omitempty"`
	Identity    string    `json:"name"`
	URL         string    `json:"url"`
	FetchedAt   time.Time `json:"fetched_at"`
	ContentHash string    `json:"content_hash,omitempty"`
}

// EventType names the event for transport attributes.
func (e RecordEvent) EventType() string { return e.Type }

// Summary reports what one Run did.
type Summary struct {
	Processed  int
	Inserted   int
	Duplicates int
	Skipped    int
	Remaining  int
	Cursor     crawler.LinkCursor
}

// Pipeline is the detail extraction loop. It is not safe for concurrent use.
type Pipeline struct {
	cfg  Config
	deps Deps
	log  *zap.Logger
}

// New builds a Pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Fetcher == nil || deps.Parser == nil || deps.Links == nil || deps.Cursor == nil || deps.Results == nil {
		return nil, errors.New("pipeline requires fetcher, parser, links, cursor and results")
	}
	if cfg.Limit < 0 {
		return nil, errors.New("limit must be non-negative")
	}
	if deps.Clock == nil {
		deps.Clock = systemClock{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RunID != "" {
		logger = logger.With(zap.String("run_id", cfg.RunID))
	}
	return &Pipeline{cfg: cfg, deps: deps, log: logger.Named("pipeline")}, nil
}

// runState tracks durability within one Run. latest is the cursor after the last
// merged link; good is the newest cursor whose records are known to be on disk.
type runState struct {
	latest crawler.LinkCursor
	good   crawler.LinkCursor
	dirty  bool
}

// ResumeIndex returns where processing resumes: one past the checkpointed link,
// or 0 when there is no checkpoint or the link is absent. The recorded position
// is used when the link file still holds that link there; otherwise the first
// occurrence of the link wins.
func ResumeIndex(links []crawler.Link, cursor crawler.LinkCursor) (int, bool) {
	last, ok := cursor.Last()
	if !ok {
		return 0, true
	}
	if pos, ok := cursor.At(); ok && pos < len(links) && links[pos] == last {
		return pos + 1, true
	}
	i := slices.Index(links, last)
	if i < 0 {
		return 0, false
	}
	return i + 1, true
}

// Run resumes from the persisted link cursor and processes the remaining links in
// order. Fetch and extraction failures skip the link. Context cancellation, link
// file errors and panics end the run after the last good cursor is persisted again.
func (p *Pipeline) Run(ctx context.Context) (summary Summary, err error) {
	links, err := p.deps.Links.Load()
	if err != nil {
		return summary, fmt.Errorf("load links: %w", err)
	}
	cursor := p.deps.Cursor.Load(ctx)
	start, found := ResumeIndex(links, cursor)
	if !found {
		last, _ := cursor.Last()
		p.log.Warn("checkpointed link not in link file, starting from the beginning", zap.String("link", last))
	}
	p.deps.Results.Load(ctx)

	state := &runState{latest: cursor, good: cursor}
	summary.Cursor = cursor
	end := len(links)
	if p.cfg.Limit > 0 && start+p.cfg.Limit < end {
		end = start + p.cfg.Limit
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
		}
		if err != nil {
			p.persistOnFailure(state, err)
		}
		summary.Cursor = state.good
		summary.Remaining = len(links) - start - summary.Processed
	}()

	p.log.Info("detail pipeline starting",
		zap.Int("links", len(links)),
		zap.Int("start_index", start),
		zap.Int("records", p.deps.Results.Len()))

	for i := start; i < end; i++ {
		if p.deps.Delayer != nil {
			if err := p.deps.Delayer.Wait(ctx); err != nil {
				return summary, fmt.Errorf("wait before detail page: %w", err)
			}
		}
		metrics.SetDetailCursor(i)
		outcome, err := p.process(ctx, state, links[i], i)
		if err != nil {
			return summary, err
		}
		summary.Processed++
		switch outcome {
		case outcomeInserted:
			summary.Inserted++
		case outcomeDuplicate:
			summary.Duplicates++
		case outcomeSkipped:
			summary.Skipped++
		}
	}

	p.log.Info("detail pipeline finished",
		zap.Int("processed", summary.Processed),
		zap.Int("inserted", summary.Inserted),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("skipped", summary.Skipped),
		zap.Int("records", p.deps.Results.Len()))
	return summary, nil
}

type linkOutcome int

const (
	outcomeInserted linkOutcome = iota + 1
	outcomeDuplicate
	outcomeSkipped
)

func (p *Pipeline) process(ctx context.Context, state *runState, link crawler.Link, position int) (linkOutcome, error) {
	log := p.log.With(zap.String("url", link))
	log.Info("processing link")

	resp, err := p.deps.Fetcher.Fetch(ctx, crawler.FetchRequest{URL: link})
	if err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("fetch detail page: %w", err)
		}
		metrics.ObservePage(metrics.StageDetail, "error", 0)
		p.skip(log, link, "fetch failed", err)
		return outcomeSkipped, nil
	}
	metrics.ObservePage(metrics.StageDetail, "ok", len(resp.Body))

	extraction, err := p.deps.Parser.ParseDetail(link, resp.Body)
	if err != nil {
		reason := "extraction failed"
		if errors.Is(err, crawler.ErrNoIdentity) {
			reason = "identity not found"
		}
		p.skip(log, link, reason, err)
		return outcomeSkipped, nil
	}

	record := crawler.Record{
		Identity:  extraction.Identity,
		SourceURL: link,
		Fields:    extraction.Fields,
		Metadata: crawler.RecordMetadata{
			Source:    link,
			FetchedAt: p.deps.Clock.Now().UTC(),
		},
	}
	if p.deps.Hasher != nil {
		if sum, err := p.deps.Hasher.Hash(resp.Body); err == nil {
			record.Metadata.ContentHash = sum
		} else {
			log.Warn("content hash failed", zap.Error(err))
		}
	}

	merged := p.deps.Results.Merge(record)
	metrics.ObserveRecord(merged.String())
	if merged == crawler.MergeInserted {
		state.dirty = true
		log.Info("record merged", zap.String("name", record.Identity))
	} else {
		log.Info("duplicate record ignored", zap.String("name", record.Identity))
	}
	state.latest = crawler.NewLinkCursorAt(link, position)

	durable := p.commit(ctx, state)
	if merged == crawler.MergeInserted {
		if durable {
			p.notify(ctx, log, record)
		}
		return outcomeInserted, nil
	}
	return outcomeDuplicate, nil
}

// commit writes pending results, then the cursor. The cursor is never written
// while merged records are still unsaved. It reports whether the records up to
// state.latest are on disk.
func (p *Pipeline) commit(ctx context.Context, state *runState) bool {
	if state.dirty {
		err := p.deps.Results.Save(ctx)
		metrics.ObserveCheckpointWrite("results", err)
		if err != nil {
			p.log.Error("failed to save results, cursor not advanced", zap.Error(err))
			return false
		}
		state.dirty = false
	}
	state.good = state.latest
	err := p.deps.Cursor.Save(ctx, state.latest)
	metrics.ObserveCheckpointWrite("details_state", err)
	if err != nil {
		last, _ := state.latest.Last()
		p.log.Error("failed to save link cursor", zap.Error(err), zap.String("link", last))
	}
	return true
}

func (p *Pipeline) skip(log *zap.Logger, link crawler.Link, reason string, cause error) {
	metrics.ObserveRecord("skipped")
	log.Warn("skipping link", zap.String("reason", reason), zap.Error(cause))
	if p.deps.Skipped == nil {
		return
	}
	entry := linklog.SkipEntry{
		At:     p.deps.Clock.Now().UTC(),
		Link:   link,
		Reason: fmt.Sprintf("%s: %v", reason, cause),
	}
	if err := p.deps.Skipped.Record(entry); err != nil {
		log.Error("failed to record skipped link", zap.Error(err))
	}
}

func (p *Pipeline) notify(ctx context.Context, log *zap.Logger, record crawler.Record) {
	if p.deps.Publisher == nil || p.cfg.Topic == "" {
		return
	}
	event := RecordEvent{
		Type:        EventRecordMerged,
		RunID:       p.cfg.RunID,
		Identity:    record.Identity,
		URL:         record.SourceURL,
		FetchedAt:   record.Metadata.FetchedAt,
		ContentHash: record.Metadata.ContentHash,
	}
	id, err := p.deps.Publisher.Publish(ctx, p.cfg.Topic, event)
	if err != nil {
		log.Warn("record notification failed", zap.Error(err))
		return
	}
	log.Debug("record notification published", zap.String("message_id", id))
}

func (p *Pipeline) persistOnFailure(state *runState, cause error) {
	ctx := context.Background()
	if state.dirty {
		if err := p.deps.Results.Save(ctx); err != nil {
			p.log.Error("failed to flush results on shutdown", zap.Error(err))
		} else {
			state.dirty = false
			state.good = state.latest
		}
	}
	last, _ := state.good.Last()
	p.log.Error("detail pipeline stopped, persisting last good cursor", zap.Error(cause), zap.String("link", last))
	err := p.deps.Cursor.Save(ctx, state.good)
	metrics.ObserveCheckpointWrite("details_state", err)
	if err != nil {
		p.log.Error("failed to persist link cursor on shutdown", zap.Error(err))
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
