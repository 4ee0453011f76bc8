package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/water-risk/internal/app"
	"github.com/smukkama/water-risk/internal/database"
	"github.com/smukkama/water-risk/internal/logging"
	"github.com/smukkama/water-risk/internal/observability"
	"github.com/smukkama/water-risk/internal/queue"
	"github.com/smukkama/water-risk/internal/season"
	"github.com/smukkama/water-risk/pkg/config"
)

// samplewriter consumes field-sample messages and writes them to the store
// where the hourly job picks them up.
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

	if !cfg.Kafka.Enabled() {
		logger.Fatal("KAFKA_BROKERS is required")
	}

	store, db, err := app.OpenStore(cfg, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	if db != nil {
		defer db.Close()
	}

	if err := queue.CreateTopic(cfg.Kafka.Brokers, cfg.Kafka.TopicFieldSamples, cfg.Kafka.NumPartitions, 1, logger); err != nil {
		logger.Warn("topic creation failed", zap.String("topic", cfg.Kafka.TopicFieldSamples), zap.Error(err))
	}

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicFieldSamples, cfg.Kafka.GroupSampleWriter)
	defer consumer.Close()

	writer := queue.NewBatchWriter(consumer, queue.BatchWriterConfig{
		Store:         store,
		Paths:         database.NewPaths(cfg.Monitoring.StoreRoot),
		Sites:         cfg.Monitoring.Sites,
		Calendar:      season.NewCalendar(cfg.Monitoring.Location, nil),
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
		Metrics:       observability.NewMetrics(),
		Logger:        logger,
	})
	// Stop drains the pending batch, so the writer outlives the signal context.
	writer.Start(context.Background())

	logger.Info("sample writer running",
		zap.String("topic", cfg.Kafka.TopicFieldSamples),
		zap.String("group", cfg.Kafka.GroupSampleWriter),
	)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			writer.Stop()
			return
		case <-ticker.C:
			stats := consumer.Stats()
			logger.Info("consumer stats",
				zap.Int64("messages", stats.Messages),
				zap.Int64("bytes", stats.Bytes),
				zap.Int64("errors", stats.Errors),
			)
		}
	}
}
