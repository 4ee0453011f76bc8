package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/smukkama/water-risk/internal/logging"
	"github.com/smukkama/water-risk/internal/notification"
	"github.com/smukkama/water-risk/internal/protocol"
	"github.com/smukkama/water-risk/internal/queue"
	"github.com/smukkama/water-risk/pkg/config"
)

const sendRetry = 30 * time.Second

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

	notifier := notification.NewEmailNotifier(&cfg.SMTP, logger)

	// Test SMTP connection (optional, will skip if not configured)
	if err := notifier.TestConnection(); err != nil {
		logger.Warn("notifications will be logged only", zap.Error(err))
	}

	clock := clockwork.NewRealClock()
	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicRiskEvents, cfg.Kafka.GroupNotification)
	defer consumer.Close()

	logger.Info("notification service running",
		zap.String("topic", cfg.Kafka.TopicRiskEvents),
		zap.String("group", cfg.Kafka.GroupNotification),
	)

	for {
		msg, err := consumer.Consume(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				logger.Info("shutting down")
				return
			}
			logger.Error("failed to consume message", zap.Error(err))
			continue
		}

		event, err := protocol.DecodeRiskEvent(msg.Value)
		if err != nil {
			logger.Warn("dropping undecodable risk event", zap.Int64("offset", msg.Offset), zap.Error(err))
			if err := consumer.Commit(ctx, msg); err != nil {
				logger.Error("failed to commit offset", zap.Error(err))
			}
			continue
		}

		// Offsets commit per partition, so a failed send is retried here
		// rather than skipped.
		sent, err := notifier.Deliver(ctx, event, clock, sendRetry)
		switch {
		case errors.Is(err, notification.ErrUnknownEventType):
			logger.Warn("dropping risk event", zap.Int64("offset", msg.Offset), zap.Error(err))
		case err != nil:
			logger.Info("shutting down with undelivered risk event",
				zap.String("site_id", event.SiteID),
				zap.String("type", event.Type),
				zap.Error(err),
			)
			return
		}
		logger.Info("risk event handled",
			zap.String("site_id", event.SiteID),
			zap.String("type", event.Type),
			zap.String("to", event.To),
			zap.Bool("emailed", sent),
		)

		if err := consumer.Commit(ctx, msg); err != nil {
			logger.Error("failed to commit offset", zap.Error(err))
		}
	}
}
