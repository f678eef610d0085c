// Package status summarises crawl progress from the on-disk artifacts.
package status

import (
	"context"
	"fmt"
	"slices"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/pipeline"
	"github.com/JakeFAU/catalog-crawler/internal/storage/linklog"
)

// Sources are the artifacts a Report is built from.
type Sources struct {
	Buckets    []string
	Pagination interface {
		Load(ctx context.Context) crawler.PaginationCursor
	}
	LinkCursor interface {
		Load(ctx context.Context) crawler.LinkCursor
	}
	Links interface {
		Load() ([]crawler.Link, error)
	}
	Results interface {
		Load(ctx context.Context)
		Len() int
	}
	Skipped interface {
		Load() ([]linklog.SkipEntry, error)
	}
}

// Discovery is link discovery progress.
type Discovery struct {
	Bucket         string `json:"bucket"`
	Page           int    `json:"page"`
	BucketIndex    int    `json:"bucket_index"`
	Buckets        int    `json:"buckets"`
	CommittedLinks int    `json:"committed_links"`
	Complete       bool   `json:"complete"`
}

// Details is detail pipeline progress.
type Details struct {
	LastProcessedLink *string `json:"last_processed_link"`
	NextIndex         int     `json:"next_index"`
	Links             int     `json:"links"`
	Remaining         int     `json:"remaining"`
	CheckpointFound   bool    `json:"checkpoint_found"`
}

// Report is a point-in-time view of both stages.
type Report struct {
	Discovery Discovery `json:"discovery"`
	Details   Details   `json:"details"`
	Records   int       `json:"records"`
	Skipped   int       `json:"skipped"`
}

// Collect reads every artifact and builds a Report. Results are loaded into the
// supplied store, so callers should pass a store that no pipeline is using.
func Collect(ctx context.Context, src Sources) (Report, error) {
	var report Report

	cursor := src.Pagination.Load(ctx)
	report.Discovery = Discovery{
		Bucket:         cursor.Bucket,
		Page:           cursor.Page,
		BucketIndex:    slices.Index(src.Buckets, cursor.Bucket),
		Buckets:        len(src.Buckets),
		CommittedLinks: cursor.CommittedLinks,
		Complete:       cursor.Complete,
	}

	links, err := src.Links.Load()
	if err != nil {
		return report, fmt.Errorf("load links: %w", err)
	}
	linkCursor := src.LinkCursor.Load(ctx)
	next, found := pipeline.ResumeIndex(links, linkCursor)
	report.Details = Details{
		LastProcessedLink: linkCursor.LastProcessedLink,
		NextIndex:         next,
		Links:             len(links),
		Remaining:         len(links) - next,
		CheckpointFound:   found,
	}

	src.Results.Load(ctx)
	report.Records = src.Results.Len()

	if src.Skipped != nil {
		skipped, err := src.Skipped.Load()
		if err != nil {
			return report, fmt.Errorf("load skipped ledger: %w", err)
		}
		report.Skipped = len(skipped)
	}
	return report, nil
}
