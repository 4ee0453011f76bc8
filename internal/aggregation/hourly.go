// Package aggregation runs the hourly risk job and the daily roll-up.
//
// The hourly job writes one record per site per UTC hour bucket, scores it,
// smooths the level against recent history and publishes the site status.
// The daily job averages a local day's hourly records into a daily record
// and purges them.
package aggregation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smukkama/water-risk/internal/cases"
	"github.com/smukkama/water-risk/internal/database"
	"github.com/smukkama/water-risk/internal/generator"
	"github.com/smukkama/water-risk/internal/observability"
	"github.com/smukkama/water-risk/internal/risk"
	"github.com/smukkama/water-risk/internal/season"
	"github.com/smukkama/water-risk/pkg/config"
)

// ErrNoStore is returned when a job is run without a document store.
var ErrNoStore = errors.New("document store not configured")

// Deps are the collaborators shared by both jobs.
type Deps struct {
	Store    database.Store
	Paths    database.Paths
	Sites    []config.Site
	Calendar season.Calendar
	Resolver *cases.Resolver
	Metrics  *observability.Metrics
	Logger   *zap.Logger
}

func (d Deps) withDefaults(component string) Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = observability.NewMetricsForTesting()
	}
	d.Logger = d.Logger.With(zap.String("component", component))
	return d
}

// StatusObserver is told about every status the hourly job writes.
type StatusObserver interface {
	Observe(ctx context.Context, site config.Site, status database.StatusRecord) error
}

// HourlyAggregator performs the hourly risk run
type HourlyAggregator struct {
	Deps
	engine   *risk.Engine
	smoother *risk.Smoother
	gen      *generator.Generator
	demoBias bool
	observer StatusObserver
}

// NewHourlyAggregator creates the hourly job. With demoBias set, sites
// without a requested bias get a deterministic per-hour colour; otherwise
// they draw unbiased seasonal samples. observer may be nil.
func NewHourlyAggregator(deps Deps, rng generator.Rand, demoBias bool, observer StatusObserver) *HourlyAggregator {
	deps = deps.withDefaults("hourly")
	engine := risk.NewEngine(deps.Calendar)
	return &HourlyAggregator{
		Deps:     deps,
		engine:   engine,
		smoother: risk.NewSmoother(engine, NewStoreHistory(deps.Store, deps.Paths), deps.Logger),
		gen:      generator.New(rng, deps.Calendar),
		demoBias: demoBias,
		observer: observer,
	}
}

// HourlyOutcome describes what the hourly job did for one site.
type HourlyOutcome struct {
	SiteID   string
	Bucket   string
	Source   string
	Bias     generator.Bias
	Cases    cases.Result
	Raw      risk.Assessment
	Decision risk.Decision
}

// Run processes every configured site for the current hour. biases requests
// a demo colour per site id. Sites are processed in order and a failing site
// does not stop the rest; their errors are returned joined.
func (h *HourlyAggregator) Run(ctx context.Context, biases map[string]generator.Bias) error {
	_, err := h.RunWithOutcomes(ctx, biases)
	return err
}

// RunWithOutcomes is Run that also reports per-site results.
func (h *HourlyAggregator) RunWithOutcomes(ctx context.Context, biases map[string]generator.Bias) ([]HourlyOutcome, error) {
	if h.Store == nil {
		return nil, ErrNoStore
	}
	logger := h.Logger.With(zap.String("run_id", uuid.NewString()))
	started := h.Calendar.Now()

	if err := h.Store.Ping(ctx); err != nil {
		h.record(observability.OutcomeFailed, started)
		return nil, fmt.Errorf("store unavailable: %w", err)
	}

	now := h.Calendar.Now()
	logger.Info("hourly run started",
		zap.String("bucket", database.HourBucket(now)),
		zap.Int("sites", len(h.Sites)),
	)

	var (
		outcomes []HourlyOutcome
		errs     []error
	)
	for _, site := range h.Sites {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		out, err := h.runSite(ctx, site, now, biases[site.ID])
		if err != nil {
			logger.Error("hourly site failed", zap.String("site_id", site.ID), zap.Error(err))
			h.Metrics.SiteFailures.WithLabelValues(observability.JobHourly).Inc()
			errs = append(errs, fmt.Errorf("site %s: %w", site.ID, err))
			continue
		}
		logger.Info("hourly site processed",
			zap.String("site_id", site.ID),
			zap.String("source", out.Source),
			zap.String("bias", string(out.Bias)),
			zap.Int("daily_cases", out.Cases.Count),
			zap.String("cases_source", out.Cases.Source),
			zap.Int("score", out.Raw.Score),
			zap.String("raw_risk", string(out.Decision.Raw)),
			zap.String("risk", string(out.Decision.Adjusted)),
		)
		outcomes = append(outcomes, out)
	}

	outcome := observability.OutcomeSuccess
	if len(errs) > 0 {
		outcome = observability.OutcomePartial
	}
	h.record(outcome, started)
	logger.Info("hourly run finished", zap.Int("processed", len(outcomes)), zap.Int("failed", len(errs)))

	return outcomes, errors.Join(errs...)
}

func (h *HourlyAggregator) record(outcome string, started time.Time) {
	h.Metrics.JobRuns.WithLabelValues(observability.JobHourly, outcome).Inc()
	h.Metrics.JobDuration.WithLabelValues(observability.JobHourly).Observe(h.Calendar.Now().Sub(started).Seconds())
}

func (h *HourlyAggregator) runSite(ctx context.Context, site config.Site, now time.Time, requested generator.Bias) (HourlyOutcome, error) {
	date := now.Format(time.DateOnly)
	bucket := database.HourBucket(now)
	recordPath := h.Paths.HourlyRecord(site.ID, bucket)
	out := HourlyOutcome{SiteID: site.ID, Bucket: bucket}

	out.Cases = h.Resolver.Resolve(ctx, site, date)
	h.Metrics.CaseSources.WithLabelValues(out.Cases.Source).Inc()

	existing, found, err := h.existingRecord(ctx, recordPath)
	if err != nil {
		return out, err
	}

	rain := h.gen.Rainfall(now, site.Lat)

	var rec database.HourlyRecord
	if found && existing.Source == database.SourceManual {
		rec = existing
		rec.RainfallMM = rain
		if err := h.Store.Set(ctx, recordPath, map[string]any{"rainfall_mm": rain}); err != nil {
			return out, fmt.Errorf("failed to refresh manual record: %w", err)
		}
	} else {
		rec, out.Bias = h.compose(ctx, site, date, now, rain, requested)
		rec.DailyCases = &out.Cases.Count
		data, err := database.Encode(rec)
		if err != nil {
			return out, err
		}
		if err := h.Store.Set(ctx, recordPath, data); err != nil {
			return out, fmt.Errorf("failed to write hourly record: %w", err)
		}
	}
	out.Source = rec.Source
	h.Metrics.HourlySources.WithLabelValues(rec.Source).Inc()

	reading := readingFrom(rec, out.Cases.Count)
	reading.Timestamp = now
	if ts, err := h.Calendar.ParseInstant(rec.Timestamp); err == nil {
		reading.Timestamp = ts
	}

	out.Raw = h.engine.EvaluateHourly(reading)
	out.Decision = h.smoother.Apply(ctx, site.ID, bucket, out.Raw, reading, out.Cases.Count)
	if out.Decision.Downgraded() {
		h.Metrics.SmoothingDowngrades.Inc()
	}

	status := database.StatusRecord{
		Risk:        string(out.Decision.Adjusted),
		RawRisk:     string(out.Raw.Level),
		Score:       out.Raw.Score,
		Reason:      out.Raw.Reasons,
		LastUpdated: database.FormatTimestamp(now),
	}
	statusData, err := database.Encode(status)
	if err != nil {
		return out, err
	}
	if err := h.Store.Set(ctx, h.Paths.Status(site.ID), statusData); err != nil {
		return out, fmt.Errorf("failed to write status: %w", err)
	}
	h.Metrics.SiteRisk.WithLabelValues(site.ID).Set(float64(out.Decision.Adjusted.Rank()))

	meta, err := database.Encode(database.SiteMeta{
		Name:     site.Name,
		District: site.District,
		State:    site.State,
		Lat:      site.Lat,
		Lon:      site.Lon,
	})
	if err != nil {
		return out, err
	}
	if err := h.Store.Set(ctx, h.Paths.Site(site.ID), meta); err != nil {
		return out, fmt.Errorf("failed to write site meta: %w", err)
	}

	if h.observer != nil {
		if err := h.observer.Observe(ctx, site, status); err != nil {
			h.Logger.Warn("status observer failed", zap.String("site_id", site.ID), zap.Error(err))
		}
	}
	return out, nil
}

func (h *HourlyAggregator) existingRecord(ctx context.Context, path string) (database.HourlyRecord, bool, error) {
	var rec database.HourlyRecord
	doc, err := h.Store.Get(ctx, path)
	if errors.Is(err, database.ErrNotFound) {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, fmt.Errorf("failed to read hourly record: %w", err)
	}
	if err := doc.Decode(&rec); err != nil {
		return rec, false, err
	}
	return rec, true, nil
}

// compose builds a fresh record from a usable field sample or the generator.
func (h *HourlyAggregator) compose(ctx context.Context, site config.Site, date string, now time.Time, rain float64, requested generator.Bias) (database.HourlyRecord, generator.Bias) {
	stamp := database.FormatTimestamp(now)
	rec := database.HourlyRecord{Timestamp: stamp, RainfallMM: rain, CreatedAt: stamp}

	if sample, ok := h.fieldSample(ctx, site.ID, date); ok {
		if sample.PH != nil {
			rec.PH = *sample.PH
		}
		if sample.Turbidity != nil {
			rec.Turbidity = *sample.Turbidity
		}
		rec.EColi = sample.EColi != nil && *sample.EColi
		rec.Source = database.SourceFieldSample
		return rec, generator.BiasNone
	}

	bias := requested
	if bias == generator.BiasNone && h.demoBias {
		bias = generator.DecideBias(site.ID, now, rain)
	}

	var s generator.Sample
	if bias != generator.BiasNone {
		s = h.gen.Biased(bias, rain)
	} else {
		s = h.gen.Seasonal(now, rain)
	}
	rec.PH, rec.Turbidity, rec.EColi, rec.RainfallMM = s.PH, s.Turbidity, s.EColi, s.RainfallMM
	rec.Source = database.SourceGenerator
	rec.Bias = string(bias)
	return rec, bias
}

// fieldSample reads today's field sample. Read failures count as no sample.
func (h *HourlyAggregator) fieldSample(ctx context.Context, siteID, date string) (database.FieldSample, bool) {
	var s database.FieldSample
	doc, err := h.Store.Get(ctx, h.Paths.FieldSample(date, siteID))
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			h.Logger.Debug("field sample unavailable", zap.String("site_id", siteID), zap.Error(err))
		}
		return s, false
	}
	if err := doc.Decode(&s); err != nil {
		h.Logger.Debug("skipping unreadable field sample", zap.String("site_id", siteID), zap.Error(err))
		return s, false
	}
	return s, s.Usable()
}
