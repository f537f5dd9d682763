package crawl

import (
	"strings"

	"github.com/AlfredBerg/rod-maps-scraper/internal/browser"
	"github.com/AlfredBerg/rod-maps-scraper/internal/listing"
	"github.com/AlfredBerg/rod-maps-scraper/internal/session"
)

// Selectors locate each listing-phase field inside one rendered item.
type Selectors struct {
	Name        string
	Address     string
	Category    string
	MapsLink    string
	Phone       string
	Rating      string
	ReviewCount string
}

var DefaultSelectors = Selectors{
	Name:        ".fontHeadlineSmall",
	Address:     `.W4Efsd > span:last-of-type span[dir="ltr"]`,
	Category:    ".W4Efsd > span:first-child span",
	MapsLink:    "a[href]",
	Phone:       ".UsdlK",
	Rating:      ".MW4etd",
	ReviewCount: `.UY7F9 span[dir="ltr"]`,
}

type Extractor struct {
	Selectors Selectors
}

// Extract reads one candidate record per item and admits the named ones into the session in
// encounter order. A stop request ends extraction with the records gathered so far.
func (x Extractor) Extract(sess *session.Session, items []browser.Element) []listing.Record {
	var records []listing.Record
	for _, item := range items {
		if sess.Stopped() {
			break
		}

		r := x.read(item)
		if sess.Admit(r) {
			records = append(records, r)
		}
	}
	return records
}

func (x Extractor) read(item browser.Element) listing.Record {
	sel := x.Selectors
	return listing.Record{
		BusinessName: tryText(item, sel.Name),
		Address:      tryText(item, sel.Address),
		Category:     trimmed(tryText(item, sel.Category), " \t\n"),
		MapsLink:     tryAttr(item, sel.MapsLink, "href"),
		Phone:        tryText(item, sel.Phone),
		Rating:       tryText(item, sel.Rating),
		ReviewCount:  trimmed(tryText(item, sel.ReviewCount), "() \t\n"),
	}
}

// tryText reads the text of the first node matching selector under root. Any failure is absence.
func tryText(root browser.Element, selector string) listing.Field {
	el := tryElement(root, selector)
	if el == nil {
		return listing.Field{}
	}
	text, err := el.Text()
	if err != nil || strings.TrimSpace(text) == "" {
		return listing.Field{}
	}
	return listing.Value(text)
}

func tryAttr(root browser.Element, selector, name string) listing.Field {
	el := tryElement(root, selector)
	if el == nil {
		return listing.Field{}
	}
	v, err := el.Attribute(name)
	if err != nil || v == nil || *v == "" {
		return listing.Field{}
	}
	return listing.Value(*v)
}

func tryElement(root browser.Element, selector string) browser.Element {
	if selector == "" {
		return nil
	}
	el, err := root.Element(selector)
	if err != nil {
		return nil
	}
	return el
}

func trimmed(f listing.Field, cutset string) listing.Field {
	if !f.Valid {
		return f
	}
	s := strings.Trim(f.String, cutset)
	if s == "" {
		return listing.Field{}
	}
	return listing.Value(s)
}
