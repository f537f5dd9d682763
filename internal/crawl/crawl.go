package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/AlfredBerg/rod-maps-scraper/internal/browser"
	"github.com/AlfredBerg/rod-maps-scraper/internal/listing"
	"github.com/AlfredBerg/rod-maps-scraper/internal/outputHandlers/sqlite"
	"go.uber.org/zap"
)

// Crawl runs the session to completion and returns the artifact name. The artifact is written even
// when the session is stopped; scraping_done is only published for sessions that were not.
func (j *Job) Crawl(ctx context.Context) (filename string, err error) {
	logger := j.logger().With(zap.String("session", j.Session.ID), zap.String("query", j.Session.Query))
	sess := j.Session

	var records []listing.Record
	defer func() {
		j.record(records, filename, err)
	}()

	if !sess.Stopped() {
		records, err = j.harvest(logger)
		if err != nil {
			return "", err
		}
	}

	if j.Enricher != nil && len(records) > 0 && !sess.Stopped() {
		stats := j.Enricher.Enrich(ctx, sess, j.Browser, records)
		logger.Info("enrichment finished", zap.Int("pages", stats.Pages), zap.Int("dispatched", stats.Dispatched),
			zap.Int("enriched", stats.Enriched), zap.Int("failed", stats.Failed))
	}

	filename, err = j.Sink.Write(sess.Query, records)
	if err != nil {
		return "", fmt.Errorf("writing results: %w", err)
	}

	if sess.Stopped() {
		logger.Info("scraping stopped", zap.Int("count", sess.Count()), zap.String("filename", filename))
		return filename, nil
	}
	sess.Done(filename)
	logger.Info("scraping completed", zap.Int("count", sess.Count()), zap.String("filename", filename))
	return filename, nil
}

// harvest runs the sequential listing phase on a page of its own.
func (j *Job) harvest(logger *zap.Logger) ([]listing.Record, error) {
	page, err := j.Browser.NewPage()
	if err != nil {
		return nil, fmt.Errorf("opening search page: %w", err)
	}
	defer page.Close()

	target := fmt.Sprintf(j.SearchURL, url.PathEscape(j.Session.Query))
	if err := page.Navigate(target); err != nil {
		return nil, fmt.Errorf("navigating to %s: %w", target, err)
	}

	j.dismissConsent(page, logger)

	feedEl, err := page.WaitElement(j.FeedSelector, j.FeedTimeout)
	if errors.Is(err, browser.ErrNotFound) {
		logger.Info("no results feed rendered, nothing to extract", zap.Duration("waited", j.FeedTimeout))
		return nil, nil
	}
	if err != nil {
		logger.Warn("feed lookup failed", zap.Error(err))
		return nil, nil
	}

	feed := &pageFeed{page: page, feed: feedEl, itemSelector: j.ItemSelector}
	scroller := j.Scroller
	scroller.Logger = logger
	res := scroller.Scroll(j.Session, feed)
	logger.Info("feed scrolled", zap.Int("iterations", res.Iterations), zap.Int("items", res.Count),
		zap.Bool("converged", res.Converged), zap.Bool("cancelled", res.Cancelled))
	if res.Cancelled {
		return nil, nil
	}

	items, err := page.Elements(j.ItemSelector)
	if err != nil {
		logger.Warn("collecting rendered items failed", zap.Error(err))
		return nil, nil
	}
	return j.Extractor.Extract(j.Session, items), nil
}

// dismissConsent clicks through a consent interstitial when one shows up.
func (j *Job) dismissConsent(page browser.Page, logger *zap.Logger) {
	if j.ConsentSelector == "" {
		return
	}
	el, err := page.WaitElement(j.ConsentSelector, j.ConsentTimeout)
	if errors.Is(err, browser.ErrNotFound) {
		return
	}
	if err != nil {
		logger.Debug("consent lookup failed", zap.Error(err))
		return
	}
	if err := el.Click(); err != nil {
		logger.Debug("consent click failed", zap.Error(err))
	}
}

func (j *Job) record(records []listing.Record, filename string, err error) {
	if j.History == nil {
		return
	}
	status := sqlite.StatusDone
	switch {
	case err != nil:
		status = sqlite.StatusFailed
	case j.Session.Stopped():
		status = sqlite.StatusStopped
	}

	summary := sqlite.SessionSummary{
		ID:         j.Session.ID,
		Query:      j.Session.Query,
		StartedAt:  j.Session.StartedAt,
		FinishedAt: time.Now(),
		Status:     status,
		Count:      j.Session.Count(),
		Filename:   filename,
	}
	if herr := j.History.HandleSession(summary, records); herr != nil {
		j.logger().Warn("failed recording session history", zap.String("session", j.Session.ID), zap.Error(herr))
	}
}

func (j *Job) logger() *zap.Logger {
	if j.Logger == nil {
		return zap.NewNop()
	}
	return j.Logger
}

// pageFeed samples the item count of a feed rendered on a page.
type pageFeed struct {
	page         browser.Page
	feed         browser.Element
	itemSelector string
}

func (f *pageFeed) ScrollBy(dy int) error {
	return f.feed.ScrollBy(dy)
}

// Count samples in the page so that no item handles pile up while converging.
func (f *pageFeed) Count() (int, error) {
	return f.page.Count(f.itemSelector)
}
