package extract

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// ErrParse marks markup that goquery could not read at all.
var ErrParse = errors.New("parse html")

// Profile is the site-specific description of listing and detail markup.
type Profile struct {
	// LinkBase resolves relative item hrefs. Empty means "relative to the page URL".
	LinkBase string
	// ListingItem selects one item container on a listing page.
	ListingItem string
	// ListingLink selects the item anchor inside a container.
	ListingLink string
	// NextPage matches any element whose presence means another page exists.
	NextPage string
	// Identity selects the mandatory display-name element on a detail page.
	Identity string
	// Details selects the container holding every schema section.
	Details   string
	Selectors Selectors
	Fields    []Field
}

// Validate checks that the profile can drive both parsers.
func (p Profile) Validate() error {
	required := []struct{ name, value string }{
		{"listing_item", p.ListingItem},
		{"listing_link", p.ListingLink},
		{"next_page", p.NextPage},
		{"identity", p.Identity},
		{"details", p.Details},
		{"selectors.text", p.Selectors.Text},
		{"selectors.list_item", p.Selectors.ListItem},
		{"selectors.hidden", p.Selectors.Hidden},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("site.%s selector is required", r.name)
		}
	}
	if len(p.Fields) == 0 {
		return fmt.Errorf("site.fields must declare at least one field")
	}
	seen := make(map[string]struct{}, len(p.Fields))
	for _, f := range p.Fields {
		if f.Name == "" || f.Locator == "" {
			return fmt.Errorf("site.fields entries need name and locator")
		}
		if _, ok := strategies[f.Kind]; !ok {
			return fmt.Errorf("field %q has unsupported kind %s", f.Name, f.Kind)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("field %q declared twice", f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	if p.LinkBase != "" {
		if _, err := url.Parse(p.LinkBase); err != nil {
			return fmt.Errorf("site.link_base: %w", err)
		}
	}
	return nil
}

// Parser implements crawler.ListingParser and crawler.DetailParser for a Profile.
type Parser struct {
	profile Profile
	base    *url.URL
}

// New builds a Parser. The profile is validated up front.
func New(profile Profile) (*Parser, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	p := &Parser{profile: profile}
	if profile.LinkBase != "" {
		base, err := url.Parse(profile.LinkBase)
		if err != nil {
			return nil, fmt.Errorf("parse link base: %w", err)
		}
		p.base = base
	}
	return p, nil
}

// ParseListing returns the item links on a listing page, in document order, and
// whether the page advertises a next page.
func (p *Parser) ParseListing(pageURL string, body []byte) (crawler.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.Listing{}, fmt.Errorf("%w: %w", ErrParse, err)
	}
	base := p.base
	if base == nil {
		base, _ = url.Parse(pageURL)
	}

	links := make([]crawler.Link, 0)
	doc.Find(p.profile.ListingItem).Each(func(_ int, item *goquery.Selection) {
		anchor := item.Find(p.profile.ListingLink).First()
		href, ok := anchor.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		if resolved := resolve(base, strings.TrimSpace(href)); resolved != "" {
			links = append(links, resolved)
		}
	})

	return crawler.Listing{
		Links:       links,
		HasNextPage: doc.Find(p.profile.NextPage).Length() > 0,
	}, nil
}

// ParseDetail returns the identity and every schema field for a detail page.
// A missing details container yields all-default fields; a missing identity
// fails the whole page with crawler.ErrNoIdentity.
func (p *Parser) ParseDetail(_ string, body []byte) (crawler.Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.Extraction{}, fmt.Errorf("%w: %w", ErrParse, err)
	}

	identity := normalize(doc.Find(p.profile.Identity).First().Text())
	if identity == "" {
		return crawler.Extraction{}, crawler.ErrNoIdentity
	}

	fields := make(map[string]crawler.FieldValue, len(p.profile.Fields))
	container := doc.Find(p.profile.Details).First()
	for _, f := range p.profile.Fields {
		if container.Length() == 0 {
			fields[f.Name] = f.Kind.Default()
			continue
		}
		section := container.Find("#" + cssEscapeID(f.Locator)).First()
		if section.Length() == 0 {
			fields[f.Name] = f.Kind.Default()
			continue
		}
		fields[f.Name] = strategies[f.Kind](section, p.profile.Selectors)
	}

	return crawler.Extraction{Identity: identity, Fields: fields}, nil
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if !ref.IsAbs() {
		return ""
	}
	link, err := NormalizeLink(ref.String())
	if err != nil {
		return ""
	}
	return link
}

// cssEscapeID escapes characters that would break an #id selector.
func cssEscapeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteString(`\`)
			b.WriteRune(r)
		}
	}
	return b.String()
}
