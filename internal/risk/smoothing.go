package risk

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// WindowSize is the number of scores averaged by the smoother, current included.
const WindowSize = 5

// HistoricReading is a persisted hourly reading and the bucket it was stored under.
type HistoricReading struct {
	Bucket  string
	Reading Reading
}

// HistorySource returns a site's most recent hourly readings, newest first.
type HistorySource interface {
	RecentReadings(ctx context.Context, siteID string, limit int) ([]HistoricReading, error)
}

// Decision is the smoother's verdict for one hourly assessment.
type Decision struct {
	Raw       Level
	Adjusted  Level
	MeanScore float64
	Samples   int
}

func (d Decision) Downgraded() bool { return d.Adjusted != d.Raw }

// Smoother damps single noisy readings by averaging the current score with
// recent history. It only ever lowers a level.
type Smoother struct {
	engine  *Engine
	history HistorySource
	logger  *zap.Logger
}

func NewSmoother(engine *Engine, history HistorySource, logger *zap.Logger) *Smoother {
	return &Smoother{engine: engine, history: history, logger: logger}
}

// Apply smooths the current assessment for a site. bucket identifies the
// current hour so the freshly written record is not counted twice. A history
// read failure leaves the raw level in place.
func (s *Smoother) Apply(ctx context.Context, siteID, bucket string, current Assessment, reading Reading, resolvedCases int) Decision {
	raw := Decision{Raw: current.Level, Adjusted: current.Level, MeanScore: float64(current.Score), Samples: 1}

	history, err := s.history.RecentReadings(ctx, siteID, WindowSize)
	if err != nil {
		s.logger.Warn("smoothing history unavailable, using raw level",
			zap.String("site_id", siteID),
			zap.Error(err),
		)
		return raw
	}

	total := current.Score
	samples := 1
	for _, h := range history {
		if samples == WindowSize {
			break
		}
		if h.Bucket == bucket {
			continue
		}
		// History is scored without the evening bump.
		past := h.Reading
		past.Timestamp = time.Time{}
		total += s.engine.EvaluateHourly(past).Score
		samples++
	}

	mean := float64(total) / float64(samples)
	hasCases := resolvedCases > 0 || reading.DailyCases > 0
	return Decision{
		Raw:       current.Level,
		Adjusted:  Smooth(current.Level, mean, reading, hasCases),
		MeanScore: mean,
		Samples:   samples,
	}
}

// Smooth applies the downgrade rules to raw given the window mean. Reported
// cases disable smoothing entirely.
func Smooth(raw Level, mean float64, current Reading, hasCases bool) Level {
	if hasCases {
		return raw
	}

	adjusted := raw
	if adjusted == Red && mean < RedThreshold &&
		!current.EColi && current.Turbidity <= 5 && current.RainfallMM <= 20 {
		adjusted = Yellow
	}
	if adjusted == Yellow && mean <= 2 &&
		!current.EColi && current.Turbidity < 1 && current.RainfallMM < 5 {
		adjusted = Green
	}
	return adjusted
}
