package extract

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

func testProfile() Profile {
	return Profile{
		LinkBase:    "https://catalog.example",
		ListingItem: "div.browse-item",
		ListingLink: "a.browse-link",
		NextPage:    `a[href*="page="]`,
		Identity:    "h1.product-name",
		Details:     "div.description",
		Selectors: Selectors{
			Text:     "div.text",
			ListItem: "div.text.list-item",
			Hidden:   "span[hidden]",
		},
		Fields: []Field{
			{Name: "uses", Locator: "uses", Kind: KindTextWithHidden},
			{Name: "side_effects", Locator: "sideEffects", Kind: KindList},
			{Name: "how_it_works", Locator: "modeOfAction", Kind: KindText},
			{Name: "consumption", Locator: "directionsForUse", Kind: KindList},
		},
	}
}

func newTestParser(t *testing.T) *Parser {
	t.Helper()
	p, err := New(testProfile())
	require.NoError(t, err)
	return p
}

const listingPage = `<html><body>
<div class="browse-item"><a class="browse-link" href="/online-medicine-order/aspirin-75">Aspirin</a></div>
<div class="browse-item"><a class="browse-link" href="HTTPS://Catalog.Example/online-medicine-order/avil#overview">Avil</a></div>
<div class="browse-item"><span>no anchor here</span></div>
<div class="browse-item"><a class="browse-link" href="  ">blank</a></div>
<a href="/browse?alphabet=a&page=2">Next</a>
</body></html>`

func TestParseListing(t *testing.T) {
	t.Parallel()

	listing, err := newTestParser(t).ParseListing("https://catalog.example/browse?alphabet=a&page=1", []byte(listingPage))
	require.NoError(t, err)
	require.Equal(t, []crawler.Link{
		"https://catalog.example/online-medicine-order/aspirin-75",
		"https://catalog.example/online-medicine-order/avil",
	}, listing.Links)
	require.True(t, listing.HasNextPage)
}

func TestParseListingLastPage(t *testing.T) {
	t.Parallel()

	body := `<div class="browse-item"><a class="browse-link" href="/item/1">One</a></div>`
	listing, err := newTestParser(t).ParseListing("https://catalog.example/browse", []byte(body))
	require.NoError(t, err)
	require.Equal(t, []crawler.Link{"https://catalog.example/item/1"}, listing.Links)
	require.False(t, listing.HasNextPage)
}

func TestParseListingEmptyPage(t *testing.T) {
	t.Parallel()

	listing, err := newTestParser(t).ParseListing("https://catalog.example/browse", []byte(`<html></html>`))
	require.NoError(t, err)
	require.Empty(t, listing.Links)
	require.NotNil(t, listing.Links)
	require.False(t, listing.HasNextPage)
}

func TestParseListingResolvesAgainstPageWithoutBase(t *testing.T) {
	t.Parallel()

	profile := testProfile()
	profile.LinkBase = ""
	p, err := New(profile)
	require.NoError(t, err)

	body := `<div class="browse-item"><a class="browse-link" href="item/7">Seven</a></div>`
	listing, err := p.ParseListing("https://other.example/catalog/browse", []byte(body))
	require.NoError(t, err)
	require.Equal(t, []crawler.Link{"https://other.example/catalog/item/7"}, listing.Links)
}

const detailPage = `<html><body>
<h1 class="product-name">  Aspirin
 75mg Tablet </h1>
<div class="description">
  <div id="uses"><div class="text">Relieves   pain <span hidden>and reduces fever.</span></div></div>
  <div id="sideEffects">
    <div class="text list-item">Nausea</div>
    <div class="text list-item"> Stomach
      upset </div>
    <div class="text list-item">   </div>
  </div>
  <div id="modeOfAction"><div class="text">Blocks prostaglandin synthesis.</div><div class="text">ignored</div></div>
</div>
</body></html>`

func TestParseDetail(t *testing.T) {
	t.Parallel()

	got, err := newTestParser(t).ParseDetail("https://catalog.example/item/aspirin", []byte(detailPage))
	require.NoError(t, err)
	require.Equal(t, "Aspirin 75mg Tablet", got.Identity)
	require.Equal(t, map[string]crawler.FieldValue{
		"uses":         crawler.TextValue("Relieves pain and reduces fever."),
		"side_effects": crawler.ListValue([]string{"Nausea", "Stomach upset"}),
		"how_it_works": crawler.TextValue("Blocks prostaglandin synthesis."),
		"consumption":  crawler.ListValue(nil),
	}, got.Fields)
}

func TestParseDetailHiddenOnly(t *testing.T) {
	t.Parallel()

	body := `<h1 class="product-name">X</h1>
<div class="description"><div id="uses"><div class="text"><span hidden>only hidden</span></div></div></div>`
	got, err := newTestParser(t).ParseDetail("u", []byte(body))
	require.NoError(t, err)
	require.Equal(t, "only hidden", got.Fields["uses"].Text)
}

func TestParseDetailMissingIdentity(t *testing.T) {
	t.Parallel()

	body := `<div class="description"><div id="uses"><div class="text">text</div></div></div>`
	_, err := newTestParser(t).ParseDetail("u", []byte(body))
	require.True(t, errors.Is(err, crawler.ErrNoIdentity))
}

func TestParseDetailMissingContainerUsesDefaults(t *testing.T) {
	t.Parallel()

	got, err := newTestParser(t).ParseDetail("u", []byte(`<h1 class="product-name">Avil</h1>`))
	require.NoError(t, err)
	require.Equal(t, "Avil", got.Identity)
	require.Len(t, got.Fields, 4)
	require.Equal(t, crawler.TextValue(""), got.Fields["uses"])
	require.Equal(t, crawler.ListValue(nil), got.Fields["side_effects"])
	require.Equal(t, crawler.TextValue(""), got.Fields["how_it_works"])
	require.Equal(t, crawler.ListValue(nil), got.Fields["consumption"])
}

func TestParseDetailSectionWithoutTextNode(t *testing.T) {
	t.Parallel()

	body := `<h1 class="product-name">Avil</h1><div class="description"><div id="modeOfAction"><p>bare</p></div></div>`
	got, err := newTestParser(t).ParseDetail("u", []byte(body))
	require.NoError(t, err)
	require.Equal(t, crawler.TextValue(""), got.Fields["how_it_works"])
}

func TestProfileValidate(t *testing.T) {
	t.Parallel()

	cases := map[string]func(p *Profile){
		"missing identity":  func(p *Profile) { p.Identity = "" },
		"missing next page": func(p *Profile) { p.NextPage = " " },
		"no fields":         func(p *Profile) { p.Fields = nil },
		"bad kind":          func(p *Profile) { p.Fields[0].Kind = Kind(42) },
		"duplicate field":   func(p *Profile) { p.Fields[1].Name = p.Fields[0].Name },
		"missing locator":   func(p *Profile) { p.Fields[2].Locator = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			p := testProfile()
			mutate(&p)
			_, err := New(p)
			require.Error(t, err)
		})
	}
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	for _, kind := range []Kind{KindText, KindTextWithHidden, KindList} {
		got, err := ParseKind(" " + kind.String() + " ")
		require.NoError(t, err)
		require.Equal(t, kind, got)
	}
	_, err := ParseKind("table")
	require.Error(t, err)
	require.Equal(t, "kind(9)", Kind(9).String())
}

func TestCSSEscapeID(t *testing.T) {
	t.Parallel()

	require.Equal(t, "sideEffects", cssEscapeID("sideEffects"))
	require.Equal(t, `a\.b\:c`, cssEscapeID("a.b:c"))
}
