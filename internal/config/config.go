package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

type Config struct {
	ResultsDir string `mapstructure:"results_dir"`
	// HistoryDB is the sqlite file sessions are recorded in, empty disables the history
	HistoryDB string `mapstructure:"history_db"`

	Log     Log     `mapstructure:"log"`
	Browser Browser `mapstructure:"browser"`
	Search  Search  `mapstructure:"search"`
	Scroll  Scroll  `mapstructure:"scroll"`
	Enrich  Enrich  `mapstructure:"enrich"`
	Server  Server  `mapstructure:"server"`
}

type Log struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type Browser struct {
	Headless      bool          `mapstructure:"headless"`
	ActionTimeout time.Duration `mapstructure:"action_timeout"`
	UserAgent     string        `mapstructure:"user_agent"`
}

type Search struct {
	// URL is a format string receiving the path-escaped query
	URL             string        `mapstructure:"url"`
	ConsentSelector string        `mapstructure:"consent_selector"`
	ConsentTimeout  time.Duration `mapstructure:"consent_timeout"`
	FeedSelector    string        `mapstructure:"feed_selector"`
	FeedTimeout     time.Duration `mapstructure:"feed_timeout"`
	ItemSelector    string        `mapstructure:"item_selector"`
}

type Scroll struct {
	Step            int           `mapstructure:"step"`
	Settle          time.Duration `mapstructure:"settle"`
	StableThreshold int           `mapstructure:"stable_threshold"`
	MaxIterations   int           `mapstructure:"max_iterations"`
}

type Enrich struct {
	Enabled      bool          `mapstructure:"enabled"`
	Workers      int           `mapstructure:"workers"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	PlaceTimeout time.Duration `mapstructure:"place_timeout"`
	UserAgent    string        `mapstructure:"user_agent"`
	// Rate is the allowed navigations per second across the pool, 0 is unlimited
	Rate float64 `mapstructure:"rate"`
}

type Server struct {
	Addr        string `mapstructure:"addr"`
	MaxSessions int    `mapstructure:"max_sessions"`
}

// SetDefaults registers every key so that environment variables can override keys absent from the config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("results_dir", "Results")
	v.SetDefault("history_db", "history.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.action_timeout", 10*time.Second)
	v.SetDefault("browser.user_agent", "")

	v.SetDefault("search.url", "https://www.google.com/maps/search/%s/")
	v.SetDefault("search.consent_selector", "form:nth-child(2)")
	v.SetDefault("search.consent_timeout", 5*time.Second)
	v.SetDefault("search.feed_selector", `div[role="feed"]`)
	v.SetDefault("search.feed_timeout", 15*time.Second)
	v.SetDefault("search.item_selector", `div[role="feed"] > div > div[jsaction]`)

	v.SetDefault("scroll.step", 1000)
	v.SetDefault("scroll.settle", 3*time.Second)
	v.SetDefault("scroll.stable_threshold", 10)
	v.SetDefault("scroll.max_iterations", 500)

	v.SetDefault("enrich.enabled", true)
	v.SetDefault("enrich.workers", 5)
	v.SetDefault("enrich.fetch_timeout", 10*time.Second)
	v.SetDefault("enrich.place_timeout", 5*time.Second)
	v.SetDefault("enrich.user_agent", "Mozilla/5.0")
	v.SetDefault("enrich.rate", 0.0)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.max_sessions", 2)
}

func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decoding config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c Config) Validate() error {
	var err error
	if c.ResultsDir == "" {
		err = multierr.Append(err, errors.New("results_dir must be set"))
	}
	if c.Scroll.StableThreshold <= 0 {
		err = multierr.Append(err, fmt.Errorf("scroll.stable_threshold must be positive, got %d", c.Scroll.StableThreshold))
	}
	if c.Scroll.Step <= 0 {
		err = multierr.Append(err, fmt.Errorf("scroll.step must be positive, got %d", c.Scroll.Step))
	}
	if c.Scroll.Settle < 0 {
		err = multierr.Append(err, fmt.Errorf("scroll.settle must not be negative, got %s", c.Scroll.Settle))
	}
	if c.Search.FeedTimeout < 0 || c.Enrich.PlaceTimeout < 0 {
		err = multierr.Append(err, fmt.Errorf("search.feed_timeout and enrich.place_timeout must not be negative, got %s and %s",
			c.Search.FeedTimeout, c.Enrich.PlaceTimeout))
	}
	if c.Enrich.Workers <= 0 {
		err = multierr.Append(err, fmt.Errorf("enrich.workers must be positive, got %d", c.Enrich.Workers))
	}
	if c.Enrich.FetchTimeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("enrich.fetch_timeout must be positive, got %s", c.Enrich.FetchTimeout))
	}
	if c.Server.MaxSessions <= 0 {
		err = multierr.Append(err, fmt.Errorf("server.max_sessions must be positive, got %d", c.Server.MaxSessions))
	}
	return err
}
