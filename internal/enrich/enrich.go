// Package enrich revisits harvested records to resolve their website and mine it for a contact email.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/AlfredBerg/rod-maps-scraper/internal/browser"
	"github.com/AlfredBerg/rod-maps-scraper/internal/listing"
	"github.com/AlfredBerg/rod-maps-scraper/internal/session"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultWebsiteSelector = `a[data-item-id="authority"]`
	// DefaultPlaceSelector is the place title, drawn together with the contact block
	DefaultPlaceSelector = "h1.DUwDvf"
)

var errStopped = errors.New("session stopped")

// PageOpener hands out pages. browser.Browser satisfies it.
type PageOpener interface {
	NewPage() (browser.Page, error)
}

type Enricher struct {
	// Workers is the page pool size, never more than the number of records
	Workers int

	WebsiteSelector string
	PlaceSelector   string
	// PlaceTimeout bounds the wait for the place panel to render after navigation
	PlaceTimeout time.Duration

	Contacts ContactFetcher
	// Limiter, if set, paces navigations across the whole pool
	Limiter *rate.Limiter
	Logger  *zap.Logger
}

type Stats struct {
	Pages      int
	Dispatched int
	Enriched   int
	Failed     int
}

// Enrich updates records in place. Every failure leaves that record's website and email absent, and
// after a stop request no further record is dispatched.
func (e *Enricher) Enrich(ctx context.Context, sess *session.Session, opener PageOpener, records []listing.Record) Stats {
	logger := e.logger().With(zap.String("session", sess.ID))
	stats := Stats{}

	size := min(e.Workers, len(records))
	if size <= 0 {
		return stats
	}

	pages := make(chan browser.Page, size)
	for i := 0; i < size; i++ {
		p, err := opener.NewPage()
		if err != nil {
			logger.Warn("failed opening enrichment page", zap.Error(err))
			continue
		}
		pages <- p
	}
	stats.Pages = len(pages)
	defer func() {
		close(pages)
		for p := range pages {
			if err := p.Close(); err != nil {
				logger.Debug("failed closing enrichment page", zap.Error(err))
			}
		}
	}()
	if stats.Pages == 0 {
		logger.Warn("no enrichment pages could be opened, skipping enrichment")
		return stats
	}

	var enriched, failed atomic.Int64
	p := pool.New().WithMaxGoroutines(stats.Pages)
	for i := range records {
		if sess.Stopped() {
			logger.Info("enrichment stopped", zap.Int("dispatched", stats.Dispatched), zap.Int("records", len(records)))
			break
		}
		stats.Dispatched++

		p.Go(func() {
			// a page is owned by exactly one task at a time
			page := <-pages
			defer func() { pages <- page }()

			var rec listing.Record
			var err error
			var pc panics.Catcher
			pc.Try(func() {
				rec, err = e.enrichOne(ctx, sess, page, records[i])
			})
			if r := pc.Recovered(); r != nil {
				rec, err = cleared(records[i]), r.AsError()
			}
			records[i] = rec

			switch {
			case errors.Is(err, errStopped):
			case err != nil:
				failed.Add(1)
				logger.Debug("enrichment failed",
					zap.String("business", records[i].BusinessName.String), zap.Error(err))
			case rec.Website.Valid:
				enriched.Add(1)
			}
		})
	}
	p.Wait()

	stats.Enriched = int(enriched.Load())
	stats.Failed = int(failed.Load())
	return stats
}

// enrichOne resolves one record on one page. The returned record has website and email either
// both from this attempt or both absent.
func (e *Enricher) enrichOne(ctx context.Context, sess *session.Session, page browser.Page, rec listing.Record) (listing.Record, error) {
	out := cleared(rec)
	if !rec.MapsLink.Valid {
		return out, nil
	}
	if sess.Stopped() {
		return out, errStopped
	}

	if e.Limiter != nil {
		if err := e.Limiter.Wait(ctx); err != nil {
			return out, err
		}
	}
	if err := page.Navigate(rec.MapsLink.String); err != nil {
		return out, fmt.Errorf("navigating to place: %w", err)
	}

	e.waitForPlace(page, rec)

	selector := e.WebsiteSelector
	if selector == "" {
		selector = DefaultWebsiteSelector
	}
	el, err := page.Element(selector)
	if err != nil {
		return out, fmt.Errorf("looking up website link: %w", err)
	}
	if el == nil {
		return out, nil
	}
	href, err := el.Attribute("href")
	if err != nil {
		return out, fmt.Errorf("reading website link: %w", err)
	}
	if href == nil || *href == "" {
		return out, nil
	}
	website := NormalizeWebsite(*href)

	if sess.Stopped() {
		return out, errStopped
	}
	email, err := e.Contacts.FetchEmail(ctx, website)
	if err != nil {
		return out, err
	}

	out.Website = listing.Value(website)
	out.Email = email
	return out, nil
}

// waitForPlace blocks until the place panel is drawn. The panel renders after the load event, a
// website lookup before that finds nothing.
func (e *Enricher) waitForPlace(page browser.Page, rec listing.Record) {
	selector := e.PlaceSelector
	if selector == "" {
		selector = DefaultPlaceSelector
	}
	_, err := page.WaitElement(selector, e.PlaceTimeout)
	if errors.Is(err, browser.ErrNotFound) {
		e.logger().Debug("place panel did not render", zap.String("business", rec.BusinessName.String))
		return
	}
	if err != nil {
		e.logger().Debug("waiting for place panel failed", zap.String("business", rec.BusinessName.String), zap.Error(err))
	}
}

func cleared(rec listing.Record) listing.Record {
	rec.Website = listing.Field{}
	rec.Email = listing.Field{}
	return rec
}

func (e *Enricher) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}
