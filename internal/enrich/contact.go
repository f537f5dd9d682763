package enrich

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/AlfredBerg/rod-maps-scraper/internal/listing"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

const maxWebsiteResponseBytes = 2 * 1024 * 1024

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// ContactFetcher retrieves a website and mines it for a contact email.
type ContactFetcher interface {
	FetchEmail(ctx context.Context, website string) (listing.Field, error)
}

// HTTPContactFetcher fetches the website with a short timeout. Non-success statuses are errors.
type HTTPContactFetcher struct {
	client *resty.Client
}

func NewHTTPContactFetcher(userAgent string, timeout time.Duration) *HTTPContactFetcher {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml").
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))

	return &HTTPContactFetcher{client: client}
}

func (f *HTTPContactFetcher) FetchEmail(ctx context.Context, website string) (listing.Field, error) {
	res, err := f.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(website)
	if err != nil {
		return listing.Field{}, fmt.Errorf("fetching %s: %w", website, err)
	}
	body := res.RawBody()
	defer body.Close()

	if res.IsError() {
		return listing.Field{}, fmt.Errorf("website %s responded with status %d", website, res.StatusCode())
	}

	html, err := io.ReadAll(io.LimitReader(body, maxWebsiteResponseBytes))
	if err != nil {
		return listing.Field{}, fmt.Errorf("reading %s: %w", website, err)
	}
	return MineEmail(html), nil
}

// MineEmail returns the first address in the raw HTML, falling back to percent-encoded mailto links.
func MineEmail(html []byte) listing.Field {
	if m := emailPattern.Find(html); m != nil {
		return listing.Value(string(m))
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return listing.Field{}
	}
	email := listing.Field{}
	doc.Find(`a[href]`).EachWithBreak(func(i int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if !strings.HasPrefix(strings.ToLower(href), "mailto:") {
			return true
		}
		addr := href[len("mailto:"):]
		if decoded, err := url.PathUnescape(addr); err == nil {
			addr = decoded
		}
		if m := emailPattern.FindString(addr); m != "" {
			email = listing.Value(m)
			return false
		}
		return true
	})
	return email
}

// NormalizeWebsite unwraps Google redirect links and adds a missing scheme.
func NormalizeWebsite(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if parsed, err := url.Parse(raw); err == nil && strings.HasSuffix(parsed.Hostname(), "google.com") && parsed.Path == "/url" {
		if target := parsed.Query().Get("q"); target != "" {
			raw = target
		}
	}
	if !strings.HasPrefix(strings.ToLower(raw), "http") {
		raw = "https://" + strings.TrimLeft(raw, "/")
	}
	return raw
}
