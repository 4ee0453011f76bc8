package aggregation

import (
	"context"
	"fmt"

	"github.com/smukkama/water-risk/internal/database"
	"github.com/smukkama/water-risk/internal/risk"
)

// StoreHistory reads smoothing history from a site's hourly collection.
type StoreHistory struct {
	store database.Store
	paths database.Paths
}

func NewStoreHistory(store database.Store, paths database.Paths) *StoreHistory {
	return &StoreHistory{store: store, paths: paths}
}

// RecentReadings returns up to limit hourly readings, newest timestamp first.
func (h *StoreHistory) RecentReadings(ctx context.Context, siteID string, limit int) ([]risk.HistoricReading, error) {
	docs, err := h.store.Query(ctx, database.NewQuery(h.paths.Hourly(siteID)).
		OrderDesc("timestamp").
		WithLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query hourly history: %w", err)
	}

	out := make([]risk.HistoricReading, 0, len(docs))
	for _, doc := range docs {
		var rec database.HourlyRecord
		if err := doc.Decode(&rec); err != nil {
			return nil, err
		}
		out = append(out, risk.HistoricReading{Bucket: doc.ID(), Reading: readingFrom(rec, 0)})
	}
	return out, nil
}

// readingFrom converts a stored record. fallbackCases applies when the
// record carries no case count.
func readingFrom(rec database.HourlyRecord, fallbackCases int) risk.Reading {
	cases := fallbackCases
	if rec.DailyCases != nil {
		cases = *rec.DailyCases
	}
	return risk.Reading{
		PH:         rec.PH,
		Turbidity:  rec.Turbidity,
		EColi:      rec.EColi,
		RainfallMM: rec.RainfallMM,
		DailyCases: cases,
	}
}
