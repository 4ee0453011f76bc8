package aggregation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smukkama/water-risk/internal/database"
	"github.com/smukkama/water-risk/internal/observability"
	"github.com/smukkama/water-risk/internal/risk"
	"github.com/smukkama/water-risk/pkg/config"
)

// DailyAggregator performs the daily roll-up and purge
type DailyAggregator struct {
	Deps
	engine *risk.Engine
}

// NewDailyAggregator creates a new daily aggregator
func NewDailyAggregator(deps Deps) *DailyAggregator {
	deps = deps.withDefaults("daily")
	return &DailyAggregator{Deps: deps, engine: risk.NewEngine(deps.Calendar)}
}

// Run rolls up date (YYYY-MM-DD in the site timezone; empty means today) for
// every site. Each site's consumed hourly records are deleted in one batch
// after its daily record is written.
func (d *DailyAggregator) Run(ctx context.Context, date string) error {
	if d.Store == nil {
		return ErrNoStore
	}
	if date == "" {
		date = d.Calendar.Today()
	}
	start, end, err := d.Calendar.DayBounds(date)
	if err != nil {
		return err
	}

	logger := d.Logger.With(zap.String("run_id", uuid.NewString()), zap.String("date", date))
	started := d.Calendar.Now()

	if err := d.Store.Ping(ctx); err != nil {
		d.record(observability.OutcomeFailed, started)
		return fmt.Errorf("store unavailable: %w", err)
	}
	logger.Info("daily run started", zap.Int("sites", len(d.Sites)))

	var errs []error
	processed := 0
	for _, site := range d.Sites {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		rec, purged, err := d.runSite(ctx, site, date, start, end)
		if err != nil {
			logger.Error("daily site failed", zap.String("site_id", site.ID), zap.Error(err))
			d.Metrics.SiteFailures.WithLabelValues(observability.JobDaily).Inc()
			errs = append(errs, fmt.Errorf("site %s: %w", site.ID, err))
			continue
		}
		processed++
		logger.Info("daily site rolled up",
			zap.String("site_id", site.ID),
			zap.Int("hourly_count", rec.HourlyCount),
			zap.Int("purged", purged),
			zap.Int("daily_cases", rec.DailyCases),
			zap.String("risk", rec.FinalDailyRisk),
		)
	}

	outcome := observability.OutcomeSuccess
	if len(errs) > 0 {
		outcome = observability.OutcomePartial
	}
	d.record(outcome, started)
	logger.Info("daily run finished", zap.Int("processed", processed), zap.Int("failed", len(errs)))

	return errors.Join(errs...)
}

func (d *DailyAggregator) record(outcome string, started time.Time) {
	d.Metrics.JobRuns.WithLabelValues(observability.JobDaily, outcome).Inc()
	d.Metrics.JobDuration.WithLabelValues(observability.JobDaily).Observe(d.Calendar.Now().Sub(started).Seconds())
}

func (d *DailyAggregator) runSite(ctx context.Context, site config.Site, date string, start, end time.Time) (database.DailyRecord, int, error) {
	now := database.FormatTimestamp(d.Calendar.Now())
	recordPath := d.Paths.DailyRecord(site.ID, date)

	docs, err := d.Store.Query(ctx, database.NewQuery(d.Paths.Hourly(site.ID)).
		Where("timestamp", database.OpGte, database.FormatTimestamp(start)).
		Where("timestamp", database.OpLt, database.FormatTimestamp(end)))
	if err != nil {
		return database.DailyRecord{}, 0, fmt.Errorf("failed to read hourly records: %w", err)
	}

	if len(docs) == 0 {
		rec := database.DailyRecord{
			FinalDailyRisk: string(risk.Green),
			Reason:         []string{},
			CreatedAt:      now,
		}
		return rec, 0, d.write(ctx, recordPath, rec)
	}

	agg, err := aggregate(docs)
	if err != nil {
		return database.DailyRecord{}, 0, err
	}
	agg.DailyCases = d.dailyCases(ctx, site, date)

	assessment := d.engine.EvaluateDaily(agg)
	rec := database.DailyRecord{
		AvgPH:           agg.AvgPH,
		AvgTurbidity:    agg.AvgTurbidity,
		RainfallTotalMM: agg.RainfallTotalMM,
		EColiPresent:    agg.EColiPresent,
		DailyCases:      agg.DailyCases,
		FinalDailyRisk:  string(assessment.Level),
		Score:           assessment.Score,
		Reason:          assessment.Reasons,
		HourlyCount:     len(docs),
		CreatedAt:       now,
	}
	if err := d.write(ctx, recordPath, rec); err != nil {
		return rec, 0, err
	}

	if err := d.Store.Set(ctx, d.Paths.CaseCounter(date, site.ID), map[string]any{
		"count":     agg.DailyCases,
		"updatedAt": now,
	}); err != nil {
		d.Logger.Warn("failed to sync case counter", zap.String("site_id", site.ID), zap.Error(err))
	}

	paths := make([]string, len(docs))
	for i, doc := range docs {
		paths[i] = doc.Path
	}
	if err := d.Store.DeleteBatch(ctx, paths); err != nil {
		return rec, 0, fmt.Errorf("failed to purge hourly records: %w", err)
	}
	return rec, len(paths), nil
}

func (d *DailyAggregator) write(ctx context.Context, path string, rec database.DailyRecord) error {
	data, err := database.Encode(rec)
	if err != nil {
		return err
	}
	if err := d.Store.Set(ctx, path, data); err != nil {
		return fmt.Errorf("failed to write daily record: %w", err)
	}
	return nil
}

// dailyCases resolves the day's count, preferring the consolidated counter.
func (d *DailyAggregator) dailyCases(ctx context.Context, site config.Site, date string) int {
	res := d.Resolver.Resolve(ctx, site, date)
	d.Metrics.CaseSources.WithLabelValues(res.Source).Inc()
	return res.Count
}

// aggregate averages pH and turbidity, totals rainfall and ORs E. coli.
func aggregate(docs []database.Document) (risk.DailyAggregate, error) {
	var (
		agg            risk.DailyAggregate
		sumPH, sumTurb float64
	)
	for _, doc := range docs {
		var rec database.HourlyRecord
		if err := doc.Decode(&rec); err != nil {
			return agg, err
		}
		sumPH += rec.PH
		sumTurb += rec.Turbidity
		agg.RainfallTotalMM += rec.RainfallMM
		agg.EColiPresent = agg.EColiPresent || rec.EColi
	}
	n := float64(len(docs))
	agg.AvgPH = round2(sumPH / n)
	agg.AvgTurbidity = round2(sumTurb / n)
	agg.RainfallTotalMM = round2(agg.RainfallTotalMM)
	return agg, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
