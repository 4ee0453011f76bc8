// Package app wires the risk jobs and their collaborators from configuration.
package app

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smukkama/water-risk/internal/aggregation"
	"github.com/smukkama/water-risk/internal/alerting"
	"github.com/smukkama/water-risk/internal/cases"
	"github.com/smukkama/water-risk/internal/database"
	"github.com/smukkama/water-risk/internal/observability"
	"github.com/smukkama/water-risk/internal/queue"
	"github.com/smukkama/water-risk/internal/season"
	"github.com/smukkama/water-risk/internal/timer"
	"github.com/smukkama/water-risk/pkg/config"
)

// Timer task ids.
const (
	JobHourly    = "hourly-risk"
	JobDaily     = "daily-risk"
	JobBootstrap = "hourly-bootstrap"
)

// sharedRand draws from the goroutine-safe top-level source.
type sharedRand struct{}

func (sharedRand) Float64() float64 { return rand.Float64() }

// App holds the long-lived components shared by the server and the headless
// scheduler.
type App struct {
	Config   *config.Config
	Store    database.Store
	Paths    database.Paths
	Calendar season.Calendar
	Metrics  *observability.Metrics
	Resolver *cases.Resolver
	Tracker  *alerting.Tracker
	Hourly   *aggregation.HourlyAggregator
	Daily    *aggregation.DailyAggregator

	clock    clockwork.Clock
	db       *database.DB
	redis    *redis.Client
	producer *queue.Producer
	timers   *timer.TimerManager
	logger   *zap.Logger
}

// New constructs application components. Resources opened before a failure
// are released.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	clock := clockwork.NewRealClock()
	a := &App{
		Config:   cfg,
		Paths:    database.NewPaths(cfg.Monitoring.StoreRoot),
		Calendar: season.NewCalendar(cfg.Monitoring.Location, clock),
		Metrics:  observability.NewMetrics(),
		clock:    clock,
		logger:   logger,
	}

	if err := a.openStore(); err != nil {
		return nil, err
	}
	states, err := a.openStatusStore()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Tracker = alerting.NewTracker(states, a.openPublisher(), clock, a.Metrics, logger)

	a.Resolver = cases.NewResolver(a.Store, a.Paths, cfg.Monitoring.ReportCollections, logger)
	deps := aggregation.Deps{
		Store:    a.Store,
		Paths:    a.Paths,
		Sites:    cfg.Monitoring.Sites,
		Calendar: a.Calendar,
		Resolver: a.Resolver,
		Metrics:  a.Metrics,
		Logger:   logger,
	}
	a.Hourly = aggregation.NewHourlyAggregator(deps, sharedRand{}, cfg.Monitoring.DemoBias, a.Tracker)
	a.Daily = aggregation.NewDailyAggregator(deps)
	a.timers = timer.NewTimerManager(2, clock, logger)

	logger.Info("application initialised",
		zap.String("store", cfg.Monitoring.StoreBackend),
		zap.String("timezone", cfg.Monitoring.Timezone),
		zap.Int("sites", len(cfg.Monitoring.Sites)),
		zap.Bool("demo_bias", cfg.Monitoring.DemoBias),
		zap.Bool("redis", a.redis != nil),
		zap.Bool("kafka", a.producer != nil),
	)
	return a, nil
}

func (a *App) openStore() error {
	store, db, err := OpenStore(a.Config, a.logger)
	if err != nil {
		return err
	}
	a.Store, a.db = store, db
	return nil
}

// OpenStore opens the configured document store. db is the Postgres handle
// to close, nil for the memory backend.
func OpenStore(cfg *config.Config, logger *zap.Logger) (store database.Store, db *database.DB, err error) {
	if cfg.Monitoring.StoreBackend == config.StoreBackendMemory {
		logger.Warn("using in-memory store, data is lost on restart")
		return database.NewMemoryStore(), nil, nil
	}
	db, err = database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		return nil, nil, err
	}
	if err := db.RunMigrations(cfg.Database.MigrationsDir, logger); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, db, nil
}

func (a *App) openStatusStore() (alerting.StatusStore, error) {
	rc := a.Config.Redis
	if rc.Addr == "" {
		a.logger.Info("redis not configured, keeping last published status in memory")
		return alerting.NewMemoryStatusStore(), nil
	}
	client, err := NewRedisClient(rc.Addr, rc.Password, rc.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.redis = client
	return alerting.NewRedisStatusStore(client, rc.TTL), nil
}

func (a *App) openPublisher() alerting.EventPublisher {
	kc := a.Config.Kafka
	if !kc.Enabled() {
		a.logger.Info("kafka not configured, risk transitions are tracked but not published")
		return nil
	}
	if err := queue.CreateTopic(kc.Brokers, kc.TopicRiskEvents, kc.NumPartitions, 1, a.logger); err != nil {
		a.logger.Warn("topic creation failed", zap.String("topic", kc.TopicRiskEvents), zap.Error(err))
	}
	a.producer = queue.NewProducer(kc.Brokers, kc.TopicRiskEvents, a.Config.Breaker, a.logger)
	return a.producer
}

// StartSchedules starts the timer manager and schedules the hourly and daily
// jobs. With RunOnStart an hourly run is queued immediately. Jobs stop being
// rescheduled once ctx is done.
func (a *App) StartSchedules(ctx context.Context) error {
	loc := a.Calendar.Location()
	hourly, err := aggregation.ParseSchedule(a.Config.Schedule.HourlyCron, loc)
	if err != nil {
		return err
	}
	daily, err := aggregation.ParseSchedule(a.Config.Schedule.DailyCron, loc)
	if err != nil {
		return err
	}

	a.timers.Start()
	scheduler := aggregation.NewScheduler(a.timers, a.clock, a.logger)

	runHourly := func(ctx context.Context) error { return a.Hourly.Run(ctx, nil) }
	runDaily := func(ctx context.Context) error { return a.Daily.Run(ctx, a.Calendar.Today()) }

	if err := scheduler.Add(ctx, aggregation.Job{Name: JobHourly, Schedule: hourly, Run: runHourly}); err != nil {
		return err
	}
	if err := scheduler.Add(ctx, aggregation.Job{Name: JobDaily, Schedule: daily, Run: runDaily}); err != nil {
		return err
	}

	if a.Config.Schedule.RunOnStart {
		err := a.timers.Schedule(JobBootstrap, a.clock.Now(), func() {
			if err := runHourly(ctx); err != nil {
				a.logger.Error("bootstrap hourly run failed", zap.Error(err))
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Close stops the schedules and releases connections.
func (a *App) Close() {
	if a.timers != nil {
		a.timers.Stop()
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("failed to close kafka producer", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
}
