package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/smukkama/water-risk/internal/app"
	"github.com/smukkama/water-risk/internal/logging"
	"github.com/smukkama/water-risk/pkg/config"
)

// aggregator runs the hourly and daily schedules without the HTTP surface.
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

	logger.Info("aggregation service running",
		zap.String("hourly", cfg.Schedule.HourlyCron),
		zap.String("daily", cfg.Schedule.DailyCron),
	)
	<-ctx.Done()
	logger.Info("shutting down")
}
