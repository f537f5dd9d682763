package cmd

import (
	"context"

	"github.com/AlfredBerg/rod-maps-scraper/internal/browser/rodengine"
	"github.com/AlfredBerg/rod-maps-scraper/internal/config"
	"github.com/AlfredBerg/rod-maps-scraper/internal/crawl"
	"github.com/AlfredBerg/rod-maps-scraper/internal/enrich"
	"github.com/AlfredBerg/rod-maps-scraper/internal/outputHandlers/csv"
	"github.com/AlfredBerg/rod-maps-scraper/internal/outputHandlers/sqlite"
	"github.com/AlfredBerg/rod-maps-scraper/internal/session"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// pipeline holds what sessions share; every session gets a browser of its own.
type pipeline struct {
	cfg     config.Config
	logger  *zap.Logger
	sink    csv.Sink
	history *sqlite.SqliteOutput

	contacts enrich.ContactFetcher
	limiter  *rate.Limiter
}

func newPipeline(cfg config.Config, logger *zap.Logger) (*pipeline, error) {
	p := &pipeline{
		cfg:      cfg,
		logger:   logger,
		sink:     csv.Sink{Fs: afero.NewOsFs(), Dir: cfg.ResultsDir},
		contacts: enrich.NewHTTPContactFetcher(cfg.Enrich.UserAgent, cfg.Enrich.FetchTimeout),
	}
	if cfg.Enrich.Rate > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.Enrich.Rate), 1)
	}
	if cfg.HistoryDB != "" {
		p.history = &sqlite.SqliteOutput{Database: cfg.HistoryDB, Logger: logger.Named("history")}
		if err := p.history.Init(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *pipeline) close() {
	if p.history == nil {
		return
	}
	if err := p.history.Cleanup(); err != nil {
		p.logger.Error("failed closing session history", zap.Error(err))
	}
}

// run drives one session through a freshly launched browser.
func (p *pipeline) run(ctx context.Context, sess *session.Session) (string, error) {
	cfg := p.cfg
	logger := p.logger.With(zap.String("session", sess.ID))

	engine, err := rodengine.Launch(rodengine.Options{
		Headless:      cfg.Browser.Headless,
		ActionTimeout: cfg.Browser.ActionTimeout,
		UserAgent:     cfg.Browser.UserAgent,
		Logger:        logger.Named("browser"),
	})
	if err != nil {
		return "", err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Warn("failed closing browser", zap.Error(err))
		}
	}()

	job := &crawl.Job{
		Browser:         engine,
		Session:         sess,
		SearchURL:       cfg.Search.URL,
		ConsentSelector: cfg.Search.ConsentSelector,
		ConsentTimeout:  cfg.Search.ConsentTimeout,
		FeedSelector:    cfg.Search.FeedSelector,
		FeedTimeout:     cfg.Search.FeedTimeout,
		ItemSelector:    cfg.Search.ItemSelector,
		Scroller: crawl.Scroller{
			Step:            cfg.Scroll.Step,
			Settle:          cfg.Scroll.Settle,
			StableThreshold: cfg.Scroll.StableThreshold,
			MaxIterations:   cfg.Scroll.MaxIterations,
		},
		Extractor: crawl.Extractor{Selectors: crawl.DefaultSelectors},
		Sink:      p.sink,
		History:   p.history,
		Logger:    logger,
	}
	if cfg.Enrich.Enabled {
		job.Enricher = &enrich.Enricher{
			Workers:      cfg.Enrich.Workers,
			PlaceTimeout: cfg.Enrich.PlaceTimeout,
			Contacts:     p.contacts,
			Limiter:      p.limiter,
			Logger:       logger.Named("enrich"),
		}
	}
	return job.Crawl(ctx)
}
