package crawl

import (
	"time"

	"github.com/AlfredBerg/rod-maps-scraper/internal/browser"
	"github.com/AlfredBerg/rod-maps-scraper/internal/enrich"
	"github.com/AlfredBerg/rod-maps-scraper/internal/outputHandlers/csv"
	"github.com/AlfredBerg/rod-maps-scraper/internal/outputHandlers/sqlite"
	"github.com/AlfredBerg/rod-maps-scraper/internal/session"
	"go.uber.org/zap"
)

// Job is one session's trip through the pipeline: scroll the feed, extract, enrich, write.
type Job struct {
	Browser browser.Browser
	Session *session.Session

	// SearchURL is a format string receiving the path-escaped query
	SearchURL       string
	ConsentSelector string
	ConsentTimeout  time.Duration
	FeedSelector    string
	// FeedTimeout bounds the wait for the feed, which is drawn after the load event
	FeedTimeout  time.Duration
	ItemSelector string

	Scroller  Scroller
	Extractor Extractor
	// Enricher is optional, without it website and email stay absent
	Enricher *enrich.Enricher

	Sink csv.Sink
	// History is optional
	History *sqlite.SqliteOutput
	Logger  *zap.Logger
}
