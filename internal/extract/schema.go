// Package extract turns raw listing and detail pages into links and records using goquery.
package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Kind selects the extraction strategy for one schema field.
type Kind int

// Supported field kinds.
const (
	KindText Kind = iota + 1
	KindTextWithHidden
	KindList
)

var kindNames = map[Kind]string{
	KindText:           "text",
	KindTextWithHidden: "text_with_hidden",
	KindList:           "list",
}

// ParseKind maps a config name to a Kind.
func ParseKind(name string) (Kind, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for kind, n := range kindNames {
		if n == normalized {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown field kind %q", name)
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Field declares one schema entry: the output name, the element id of its
// section inside the details container, and how to read it.
type Field struct {
	Name    string
	Locator string
	Kind    Kind
}

// Selectors holds the site-specific CSS selectors used inside a section.
type Selectors struct {
	Text     string
	ListItem string
	Hidden   string
}

type strategy func(section *goquery.Selection, sel Selectors) crawler.FieldValue

// strategies is the closed dispatch table; adding a field never adds control flow.
var strategies = map[Kind]strategy{
	KindText:           extractText,
	KindTextWithHidden: extractTextWithHidden,
	KindList:           extractList,
}

// Default returns the value used when a field's section is absent.
func (k Kind) Default() crawler.FieldValue {
	if k == KindList {
		return crawler.ListValue(nil)
	}
	return crawler.TextValue("")
}

func extractText(section *goquery.Selection, sel Selectors) crawler.FieldValue {
	node := section.Find(sel.Text).First()
	if node.Length() == 0 {
		return crawler.TextValue("")
	}
	return crawler.TextValue(normalize(node.Text()))
}

func extractTextWithHidden(section *goquery.Selection, sel Selectors) crawler.FieldValue {
	node := section.Find(sel.Text).First()
	if node.Length() == 0 {
		return crawler.TextValue("")
	}
	hidden := node.Find(sel.Hidden)
	hiddenText := normalize(hidden.Text())
	visible := node.Clone()
	visible.Find(sel.Hidden).Remove()
	visibleText := normalize(visible.Text())
	switch {
	case hiddenText == "":
		return crawler.TextValue(visibleText)
	case visibleText == "":
		return crawler.TextValue(hiddenText)
	default:
		return crawler.TextValue(visibleText + " " + hiddenText)
	}
}

func extractList(section *goquery.Selection, sel Selectors) crawler.FieldValue {
	items := make([]string, 0)
	section.Find(sel.ListItem).Each(func(_ int, item *goquery.Selection) {
		if text := normalize(item.Text()); text != "" {
			items = append(items, text)
		}
	})
	return crawler.ListValue(items)
}

// normalize collapses whitespace runs to single spaces and trims the ends.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
