package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/smukkama/water-risk/internal/database"
	"github.com/smukkama/water-risk/internal/observability"
	"github.com/smukkama/water-risk/internal/protocol"
	"github.com/smukkama/water-risk/internal/season"
	"github.com/smukkama/water-risk/pkg/config"
)

// MessageSource is the consumer side the batch writer reads from.
type MessageSource interface {
	Consume(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
}

// ErrUnknownSite rejects samples for sites that are not monitored.
var ErrUnknownSite = errors.New("unknown site")

// BatchWriterConfig holds the batch writer collaborators and limits.
type BatchWriterConfig struct {
	Store         database.Store
	Paths         database.Paths
	Sites         []config.Site
	Calendar      season.Calendar
	Clock         clockwork.Clock
	BatchSize     int
	FlushInterval time.Duration
	Metrics       *observability.Metrics
	Logger        *zap.Logger
}

// BatchWriter consumes field samples and batch-writes them to the store
type BatchWriter struct {
	source        MessageSource
	store         database.Store
	paths         database.Paths
	sites         map[string]struct{}
	cal           season.Calendar
	clock         clockwork.Clock
	batchSize     int
	flushInterval time.Duration
	metrics       *observability.Metrics
	logger        *zap.Logger

	cancel   context.CancelFunc
	stopCh   chan struct{}
	runWg    sync.WaitGroup
	readerWg sync.WaitGroup
}

// NewBatchWriter creates a new batch writer
func NewBatchWriter(source MessageSource, cfg BatchWriterConfig) *BatchWriter {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewMetricsForTesting()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	sites := make(map[string]struct{}, len(cfg.Sites))
	for _, s := range cfg.Sites {
		sites[s.ID] = struct{}{}
	}
	return &BatchWriter{
		source:        source,
		store:         cfg.Store,
		paths:         cfg.Paths,
		sites:         sites,
		cal:           cfg.Calendar,
		clock:         cfg.Clock,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger.With(zap.String("component", "sample-writer")),
		stopCh:        make(chan struct{}),
	}
}

// Start begins consuming and writing to the store
func (bw *BatchWriter) Start(ctx context.Context) {
	ctx, bw.cancel = context.WithCancel(ctx)
	msgChan := make(chan kafka.Message, bw.batchSize)

	bw.readerWg.Add(1)
	go bw.read(ctx, msgChan)

	bw.runWg.Add(1)
	go bw.run(ctx, msgChan)
}

// Stop flushes the pending batch and stops consuming
func (bw *BatchWriter) Stop() {
	close(bw.stopCh)
	bw.runWg.Wait()
	bw.cancel()
	bw.readerWg.Wait()
}

func (bw *BatchWriter) read(ctx context.Context, out chan<- kafka.Message) {
	defer bw.readerWg.Done()
	for {
		msg, err := bw.source.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			bw.logger.Warn("consumer error", zap.Error(err))
			continue
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (bw *BatchWriter) run(ctx context.Context, msgChan <-chan kafka.Message) {
	defer bw.runWg.Done()

	var batch []kafka.Message
	ticker := bw.clock.NewTicker(bw.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-bw.stopCh:
			if _, pending := bw.Flush(ctx, batch); len(pending) > 0 {
				bw.logger.Warn("stopping with unwritten field samples", zap.Int("messages", len(pending)))
			}
			return

		case <-ticker.Chan():
			if len(batch) > 0 {
				bw.logger.Debug("flush interval reached", zap.Int("messages", len(batch)))
				_, batch = bw.Flush(ctx, batch)
			}

		case msg := <-msgChan:
			batch = append(batch, msg)
			if len(batch) >= bw.batchSize {
				_, batch = bw.Flush(ctx, batch)
			}
		}
	}
}

// Flush writes the messages in batch in order, committing each offset.
// Undecodable samples and samples for unknown sites are committed and
// dropped. A store failure stops the flush: offsets commit per partition, so
// committing anything after the failed message would skip it. The failed
// message and everything after it are returned for the next flush.
func (bw *BatchWriter) Flush(ctx context.Context, batch []kafka.Message) (written int, pending []kafka.Message) {
	for i, msg := range batch {
		err := bw.processMessage(ctx, msg)
		switch {
		case err == nil:
			written++
		case errors.Is(err, errPoison):
			bw.logger.Warn("dropping field sample",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		default:
			bw.logger.Error("failed to write field sample, holding batch for retry",
				zap.Int64("offset", msg.Offset),
				zap.Int("pending", len(batch)-i),
				zap.Error(err),
			)
			pending = batch[i:]
		}
		if pending != nil {
			break
		}

		if err := bw.source.Commit(ctx, msg); err != nil {
			bw.logger.Warn("failed to commit offset", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}

	if len(batch) > 0 {
		bw.metrics.SamplesWritten.Add(float64(written))
		bw.logger.Info("flushed field samples",
			zap.Int("batch", len(batch)),
			zap.Int("written", written),
			zap.Int("pending", len(pending)),
		)
	}
	return written, pending
}

var errPoison = errors.New("unprocessable message")

func (bw *BatchWriter) processMessage(ctx context.Context, msg kafka.Message) error {
	sample, err := protocol.DecodeFieldSample(msg.Value)
	if err != nil {
		return fmt.Errorf("%w: %v", errPoison, err)
	}
	if _, ok := bw.sites[sample.SiteID]; !ok {
		return fmt.Errorf("%w: %w %q", errPoison, ErrUnknownSite, sample.SiteID)
	}

	submitted := sample.SubmittedAt
	if submitted.IsZero() {
		submitted = bw.clock.Now()
	}
	date := sample.Date
	if date == "" {
		date = submitted.In(bw.cal.Location()).Format(time.DateOnly)
	}

	data, err := database.Encode(database.FieldSample{
		PH:        sample.PH,
		Turbidity: sample.Turbidity,
		EColi:     sample.EColi,
		WorkerID:  sample.WorkerID,
		UpdatedAt: database.FormatTimestamp(submitted),
	})
	if err != nil {
		return err
	}
	if err := bw.store.Set(ctx, bw.paths.FieldSample(date, sample.SiteID), data); err != nil {
		return fmt.Errorf("failed to write field sample: %w", err)
	}
	return nil
}
