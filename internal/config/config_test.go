package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load(viper.New())
	require.NoError(t, err)

	require.Equal(t, "Results", c.ResultsDir)
	require.Equal(t, 10, c.Scroll.StableThreshold)
	require.Equal(t, 3*time.Second, c.Scroll.Settle)
	require.Equal(t, 5, c.Enrich.Workers)
	require.Equal(t, 10*time.Second, c.Enrich.FetchTimeout)
	require.Equal(t, "Mozilla/5.0", c.Enrich.UserAgent)
	require.True(t, c.Browser.Headless)
	require.True(t, c.Enrich.Enabled)
	require.Equal(t, 15*time.Second, c.Search.FeedTimeout)
	require.Equal(t, 5*time.Second, c.Enrich.PlaceTimeout)
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	err := os.WriteFile(path, []byte(`
results_dir: out
scroll:
  settle: 500ms
  stable_threshold: 4
enrich:
  workers: 2
  rate: 1.5
`), 0o644)
	require.NoError(t, err)

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	c, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, "out", c.ResultsDir)
	require.Equal(t, 500*time.Millisecond, c.Scroll.Settle)
	require.Equal(t, 4, c.Scroll.StableThreshold)
	require.Equal(t, 2, c.Enrich.Workers)
	require.Equal(t, 1.5, c.Enrich.Rate)
	// untouched keys keep their defaults
	require.Equal(t, 1000, c.Scroll.Step)
}

func TestValidateRejectsNonPositive(t *testing.T) {
	v := viper.New()
	v.Set("scroll.stable_threshold", 0)
	v.Set("enrich.workers", -1)

	_, err := Load(v)
	require.Error(t, err)
	require.Contains(t, err.Error(), "scroll.stable_threshold")
	require.Contains(t, err.Error(), "enrich.workers")
}

func TestValidateReportsEveryProblem(t *testing.T) {
	v := viper.New()
	v.Set("scroll.stable_threshold", 0)
	v.Set("enrich.workers", 0)
	v.Set("search.feed_timeout", "-1s")

	_, err := Load(v)
	require.Len(t, multierr.Errors(err), 3)
}
