package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AlfredBerg/rod-maps-scraper/internal/server"
	"github.com/AlfredBerg/rod-maps-scraper/internal/session"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the start, stop, download and status endpoints with a websocket progress stream",

	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "Address to listen on.")
	serveCmd.Flags().Int("max-sessions", 2, "The number of scraping sessions allowed to run at the same time.")
	cobra.CheckErr(viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr")))
	cobra.CheckErr(viper.BindPFlag("server.max_sessions", serveCmd.Flags().Lookup("max-sessions")))
}

func serve() error {
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

	hub := server.NewHub(logger.Named("hub"))
	manager := server.NewManager(p.run, cfg.Server.MaxSessions, session.Multi(hub, session.LogNotifier(logger)), logger)
	srv := &server.Server{
		Manager: manager,
		Hub:     hub,
		Sink:    p.sink,
		History: p.history,
		Logger:  logger.Named("http"),
	}
	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpSrv.RegisterOnShutdown(hub.Close)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down, stopping active sessions")
		manager.Stop("")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpSrv.Shutdown(shutdownCtx)
		// sessions still write their artifacts and history
		manager.Wait()
		return err
	})
	return g.Wait()
}
