package crawler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Link is a detail-page URL discovered on a listing page.
type Link = string

// PaginationCursor identifies the next listing page the discovery crawler should fetch.
type PaginationCursor struct {
	Bucket string `json:"bucket"`
	Page   int    `json:"page"`
	// CommittedLinks is the number of link-file lines written by fully checkpointed pages.
	CommittedLinks int `json:"committed_links"`
	// Complete is set once every bucket has been exhausted.
	Complete bool `json:"complete,omitempty"`
}

// LinkCursor records the last link the detail pipeline merged (or skipped past).
// Position is the link's zero-based line in the link file. Cursors written
// without it resume at the first occurrence of the link.
type LinkCursor struct {
	LastProcessedLink *string `json:"last_processed_link"`
	Position          *int    `json:"position,omitempty"`
}

// NewLinkCursor returns a cursor pointing at link.
func NewLinkCursor(link Link) LinkCursor {
	l := link
	return LinkCursor{LastProcessedLink: &l}
}

// NewLinkCursorAt returns a cursor pointing at link on line position of the link file.
func NewLinkCursorAt(link Link, position int) LinkCursor {
	c := NewLinkCursor(link)
	c.Position = &position
	return c
}

// At returns the recorded link file position, if any.
func (c LinkCursor) At() (int, bool) {
	if c.Position == nil || *c.Position < 0 {
		return 0, false
	}
	return *c.Position, true
}

// Last returns the checkpointed link and whether one is set.
func (c LinkCursor) Last() (Link, bool) {
	if c.LastProcessedLink == nil || *c.LastProcessedLink == "" {
		return "", false
	}
	return *c.LastProcessedLink, true
}

// FieldValue holds either a scalar string or an ordered list of strings.
type FieldValue struct {
	Text   string
	List   []string
	IsList bool
}

// TextValue builds a scalar FieldValue.
func TextValue(s string) FieldValue {
	return FieldValue{Text: s}
}

// ListValue builds a list FieldValue. A nil slice is normalised to empty.
func ListValue(items []string) FieldValue {
	if items == nil {
		items = []string{}
	}
	return FieldValue{List: items, IsList: true}
}

// MarshalJSON encodes the value as a JSON string or array.
func (v FieldValue) MarshalJSON() ([]byte, error) {
	if v.IsList {
		list := v.List
		if list == nil {
			list = []string{}
		}
		data, err := json.Marshal(list)
		if err != nil {
			return nil, fmt.Errorf("marshal list field: %w", err)
		}
		return data, nil
	}
	data, err := json.Marshal(v.Text)
	if err != nil {
		return nil, fmt.Errorf("marshal text field: %w", err)
	}
	return data, nil
}

// UnmarshalJSON accepts a JSON string or an array of strings.
func (v *FieldValue) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []string
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return fmt.Errorf("unmarshal list field: %w", err)
		}
		*v = ListValue(list)
		return nil
	}
	var text string
	if err := json.Unmarshal(trimmed, &text); err != nil {
		return fmt.Errorf("unmarshal text field: %w", err)
	}
	*v = TextValue(text)
	return nil
}

// RecordMetadata describes where and when a record was captured.
type RecordMetadata struct {
	Source      string    `json:"source"`
	FetchedAt   time.Time `json:"fetched_at"`
	ContentHash string    `json:"content_hash,omitempty"`
}

// Record is one extracted catalog item. Identity is the dedup key.
type Record struct {
	Identity  string                `json:"name"`
	SourceURL string                `json:"url"`
	Fields    map[string]FieldValue `json:"fields"`
	Metadata  RecordMetadata        `json:"metadata"`
}

// Extraction is what a DetailParser returns for one page.
type Extraction struct {
	Identity string
	Fields   map[string]FieldValue
}

// Listing is what a ListingParser returns for one listing page.
type Listing struct {
	Links       []Link
	HasNextPage bool
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL string
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
	Attempts   int
}

// MergeOutcome reports what a Result Store merge did.
type MergeOutcome int

// Merge outcomes.
const (
	MergeInserted MergeOutcome = iota + 1
	MergeDuplicate
)

func (o MergeOutcome) String() string {
	switch o {
	case MergeInserted:
		return "inserted"
	case MergeDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}
