package checkpoint

import (
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// NewPagination builds the discovery-side checkpoint. The default cursor is the
// first bucket at page 0; a cursor naming an unknown bucket is rejected on load.
func NewPagination(path string, buckets []string, logger *zap.Logger) *Store[crawler.PaginationCursor] {
	def := func() crawler.PaginationCursor {
		first := ""
		if len(buckets) > 0 {
			first = buckets[0]
		}
		return crawler.PaginationCursor{Bucket: first}
	}
	validate := func(c crawler.PaginationCursor) error {
		if c.Page < 0 {
			return fmt.Errorf("page %d is negative", c.Page)
		}
		if c.CommittedLinks < 0 {
			return fmt.Errorf("committed_links %d is negative", c.CommittedLinks)
		}
		if c.Complete {
			return nil
		}
		if !slices.Contains(buckets, c.Bucket) {
			return fmt.Errorf("bucket %q is not configured", c.Bucket)
		}
		return nil
	}
	return New(path, def, logger, WithValidator(validate))
}

// NewLinks builds the detail-side checkpoint. The default cursor has no link.
func NewLinks(path string, logger *zap.Logger) *Store[crawler.LinkCursor] {
	def := func() crawler.LinkCursor {
		return crawler.LinkCursor{}
	}
	return New(path, def, logger)
}
