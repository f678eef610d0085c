package crawler

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrFetch marks a page that could not be retrieved (transport error or non-2xx).
	ErrFetch = errors.New("fetch failed")
	// ErrNoIdentity marks a detail page whose mandatory identity locator is absent.
	ErrNoIdentity = errors.New("identity not found")
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// ListingParser extracts item links and the next-page signal from a listing page.
type ListingParser interface {
	ParseListing(pageURL string, body []byte) (Listing, error)
}

// DetailParser extracts the identity and schema fields from a detail page.
type DetailParser interface {
	ParseDetail(pageURL string, body []byte) (Extraction, error)
}

// Delayer blocks between requests to smooth the request rate.
type Delayer interface {
	Wait(ctx context.Context) error
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for record metadata.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
