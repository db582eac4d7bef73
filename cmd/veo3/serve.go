package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"

	"github.com/veo3pk/studio/internal/api"
	"github.com/veo3pk/studio/internal/bootstrap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server and background jobs",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	bootTime := time.Now().UTC()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger(cfg)

	var routerOpts []api.RouterOption
	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      cfg.Log.Environment,
			Release:          Version,
			EnableTracing:    cfg.Sentry.TracesSampleRate > 0,
			TracesSampleRate: cfg.Sentry.TracesSampleRate,
		}); err != nil {
			logger.Warn("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
			routerOpts = append(routerOpts, api.WithSentry())
		}
	}

	a, err := newApp(ctx, cfg, logger, bootTime)
	if err != nil {
		return err
	}
	defer a.Close()

	a.scheduler.Start()

	routerOpts = append(routerOpts,
		api.WithMetricsRegistry(a.registry),
		api.WithJobs(a.scheduler),
		api.WithReadiness(a.db.PingContext),
		api.WithUI(api.UIOptions{
			Enabled: cfg.UI.Enabled,
			Dir:     cfg.UI.Dir,
			BaseURL: cfg.HTTP.PublicURL,
			Title:   cfg.UI.Title,
		}),
	)
	router := api.NewRouter(logger, a.services, *cfg, routerOpts...)
	server := bootstrap.NewHTTPServer(cfg, router)

	go func() {
		logger.Info("http server starting", "addr", cfg.HTTP.Addr, "env", cfg.Log.Environment, "version", Version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	stopCtx := a.scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	logger.Info("shutting down http server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	select {
	case <-stopCtx.Done():
	case <-shutdownCtx.Done():
		logger.Warn("background jobs still running at shutdown")
	}
	logger.Info("server exited cleanly")
	return nil
}
