// Package cases resolves how many illness cases were reported for a site on
// a date. The consolidated counter wins when present; otherwise report
// collections are searched in a fixed order across the layouts field apps
// have used.
package cases

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/smukkama/water-risk/internal/database"
	"github.com/smukkama/water-risk/pkg/config"
)

// Report fields used to match a site
const (
	FieldSiteID   = "villageId"
	FieldName     = "village"
	FieldDistrict = "district"
)

// Sources other than a report collection name
const (
	SourceCounter = "dailyCases"
	SourceNone    = "none"
)

// Result is a resolved count and where it came from.
type Result struct {
	Count  int    `json:"daily_cases"`
	Source string `json:"source"`
}

type Resolver struct {
	store       database.Store
	paths       database.Paths
	collections []string
	logger      *zap.Logger
}

func NewResolver(store database.Store, paths database.Paths, collections []string, logger *zap.Logger) *Resolver {
	return &Resolver{
		store:       store,
		paths:       paths,
		collections: collections,
		logger:      logger.With(zap.String("component", "case_resolver")),
	}
}

// Counter reads the consolidated count. found is false when no counter exists.
func (r *Resolver) Counter(ctx context.Context, siteID, date string) (count int, found bool, err error) {
	doc, err := r.store.Get(ctx, r.paths.CaseCounter(date, siteID))
	if errors.Is(err, database.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read case counter: %w", err)
	}

	var c database.CaseCounter
	if err := doc.Decode(&c); err != nil {
		return 0, false, err
	}
	return max(0, int(c.Count)), true, nil
}

// Resolve never fails. Unreachable sources are logged and skipped, and a
// site with no reports resolves to zero.
func (r *Resolver) Resolve(ctx context.Context, site config.Site, date string) Result {
	count, found, err := r.Counter(ctx, site.ID, date)
	switch {
	case err != nil:
		r.logger.Warn("case counter unavailable",
			zap.String("site_id", site.ID),
			zap.String("date", date),
			zap.Error(err),
		)
	case found:
		return Result{Count: count, Source: SourceCounter}
	}

	for _, col := range r.collections {
		n, err := r.fromCollection(ctx, col, site, date)
		if err != nil {
			r.logger.Warn("report collection unavailable",
				zap.String("site_id", site.ID),
				zap.String("collection", col),
				zap.Error(err),
			)
			continue
		}
		if n > 0 {
			return Result{Count: n, Source: col}
		}
	}

	return Result{Count: 0, Source: SourceNone}
}

// fromCollection searches one report collection. An error from the flat
// report queries abandons the collection; the date-partitioned probes are
// best effort.
func (r *Resolver) fromCollection(ctx context.Context, col string, site config.Site, date string) (int, error) {
	reports := database.NewQuery(r.paths.Reports(col))

	n, err := r.sum(ctx, reports.Where(FieldSiteID, database.OpEq, site.ID), date)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		byName, err := r.sum(ctx, reports.
			Where(FieldName, database.OpEq, site.Name).
			Where(FieldDistrict, database.OpEq, site.District), date)
		if err != nil {
			return 0, err
		}
		n += byName
	}
	if n > 0 {
		return n, nil
	}

	n += r.summary(ctx, col, site.ID, date)
	n += r.probe(ctx, database.NewQuery(r.paths.ReportSiteWorkers(col, date, site.ID)))

	workers := database.NewQuery(r.paths.ReportWorkers(col, date))
	byID, err := r.sum(ctx, workers.Where(FieldSiteID, database.OpEq, site.ID), "")
	if err != nil {
		r.logger.Debug("worker reports unavailable", zap.String("collection", col), zap.Error(err))
		return n, nil
	}
	n += byID
	if n == 0 {
		n += r.probe(ctx, workers.
			Where(FieldName, database.OpEq, site.Name).
			Where(FieldDistrict, database.OpEq, site.District))
	}
	return n, nil
}

// sum totals the reports matched by q. A non-empty date keeps only reports
// dated that day.
func (r *Resolver) sum(ctx context.Context, q database.Query, date string) (int, error) {
	docs, err := r.store.Query(ctx, q)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, doc := range docs {
		var rep Report
		if err := doc.Decode(&rep); err != nil {
			r.logger.Debug("skipping unreadable report", zap.String("path", doc.Path), zap.Error(err))
			continue
		}
		if date != "" && !rep.OnDate(date) {
			continue
		}
		total += rep.CaseCount()
	}
	return total, nil
}

func (r *Resolver) probe(ctx context.Context, q database.Query) int {
	n, err := r.sum(ctx, q, "")
	if err != nil {
		r.logger.Debug("report probe failed", zap.String("collection", q.Collection), zap.Error(err))
		return 0
	}
	return n
}

func (r *Resolver) summary(ctx context.Context, col, siteID, date string) int {
	doc, err := r.store.Get(ctx, r.paths.ReportSummary(col, date, siteID))
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			r.logger.Debug("report summary unavailable", zap.String("collection", col), zap.Error(err))
		}
		return 0
	}

	var rep Report
	if err := doc.Decode(&rep); err != nil {
		return 0
	}
	return rep.CaseCount()
}
