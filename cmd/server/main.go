package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/smukkama/water-risk/internal/api"
	"github.com/smukkama/water-risk/internal/app"
	"github.com/smukkama/water-risk/internal/logging"
	"github.com/smukkama/water-risk/pkg/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to init application", zap.Error(err))
	}
	defer application.Close()

	if err := application.StartSchedules(ctx); err != nil {
		logger.Fatal("failed to schedule jobs", zap.Error(err))
	}

	server := api.NewServer(api.Deps{
		Store:    application.Store,
		Paths:    application.Paths,
		Sites:    cfg.Monitoring.Sites,
		Calendar: application.Calendar,
		Hourly:   application.Hourly,
		Daily:    application.Daily,
		Resolver: application.Resolver,
		Tracker:  application.Tracker,
		Logger:   logger,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Listen(fmt.Sprintf(":%d", cfg.HTTP.Port))
	}()

	select {
	case err := <-errCh:
		logger.Error("http server stopped", zap.Error(err))
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}
}
