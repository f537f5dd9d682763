package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/AlfredBerg/rod-maps-scraper/internal/session"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape <query>",
	Short: "Scrape one query in the foreground and write its csv artifact",
	Long: "Scrape one query in the foreground. The first interrupt stops the session after in-flight work, " +
		"the records gathered so far are still written.",
	Args: cobra.MinimumNArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		return scrape(strings.Join(args, " "))
	},
}

func scrape(query string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync()

	p, err := newPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer p.close()

	sess := session.New(query, session.LogNotifier(logger))

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-sigs:
			logger.Info("stopping session after in-flight work", zap.String("session", sess.ID))
			sess.Stop()
		case <-finished:
		}
	}()

	filename, err := p.run(context.Background(), sess)
	if err != nil {
		return err
	}
	fmt.Println(filepath.Join(cfg.ResultsDir, filename))
	return nil
}
