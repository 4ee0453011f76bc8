package aggregation

import (
	"context"
	"fmt"

	"github.com/smukkama/water-risk/internal/database"
	"github.com/smukkama/water-risk/internal/season"
	"github.com/smukkama/water-risk/pkg/config"
)

// SiteCount is the number of hourly records a site holds for a local date.
type SiteCount struct {
	SiteID string
	Count  int
}

// CountHourly counts each site's hourly records falling on date, using the
// same range the daily job consumes.
func CountHourly(ctx context.Context, store database.Store, paths database.Paths, cal season.Calendar, sites []config.Site, date string) ([]SiteCount, error) {
	if store == nil {
		return nil, ErrNoStore
	}
	start, end, err := cal.DayBounds(date)
	if err != nil {
		return nil, err
	}

	counts := make([]SiteCount, 0, len(sites))
	for _, site := range sites {
		docs, err := store.Query(ctx, database.NewQuery(paths.Hourly(site.ID)).
			Where("timestamp", database.OpGte, database.FormatTimestamp(start)).
			Where("timestamp", database.OpLt, database.FormatTimestamp(end)))
		if err != nil {
			return counts, fmt.Errorf("site %s: failed to count hourly records: %w", site.ID, err)
		}
		counts = append(counts, SiteCount{SiteID: site.ID, Count: len(docs)})
	}
	return counts, nil
}
