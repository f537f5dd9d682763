package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/AlfredBerg/rod-maps-scraper/internal/config"
	"github.com/AlfredBerg/rod-maps-scraper/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.rod-maps-scraper.yaml)")
	flags.String("log-level", "info", "Log level: debug, info, warn or error.")
	flags.Bool("dev", false, "Human readable console logging.")
	flags.String("results-dir", "Results", "Directory the csv artifacts are written to.")
	flags.String("history-db", "history.db", "Sqlite file finished sessions are recorded in. Empty disables the history.")
	flags.Bool("headless", true, "Run the browser without a window.")
	flags.Int("workers", 5, "The number of pages used at the same time while enriching records.")

	bind := map[string]string{
		"log.level":        "log-level",
		"log.development":  "dev",
		"results_dir":      "results-dir",
		"history_db":       "history-db",
		"browser.headless": "headless",
		"enrich.workers":   "workers",
	}
	for key, flag := range bind {
		cobra.CheckErr(viper.BindPFlag(key, flags.Lookup(flag)))
	}

	rootCmd.AddCommand(scrapeCmd, serveCmd)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".rod-maps-scraper" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".rod-maps-scraper")
	}

	// e.g. RODMAPS_SCROLL_STABLE_THRESHOLD overrides scroll.stable_threshold
	viper.SetEnvPrefix("RODMAPS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

var rootCmd = &cobra.Command{
	Use:   "rod-maps-scraper",
	Short: "Scrapes business listings from a maps results feed and enriches them with website contacts",

	SilenceUsage: true,
}

func loadRuntime() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return cfg, nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, logger, nil
}
