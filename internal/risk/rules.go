// Package risk scores water readings into GREEN, YELLOW or RED and applies
// hysteresis to the hourly level using recent history.
//
// Scoring is additive. Each triggered rule contributes a fixed weight and
// appends its reason in evaluation order. Hourly and daily evaluation share
// the same thresholds (RED from 5, YELLOW from 3) but weigh rainfall and case
// counts differently.
package risk

import (
	"time"

	"github.com/smukkama/water-risk/internal/season"
)

// Level is a discrete contamination risk level.
type Level string

const (
	Green  Level = "GREEN"
	Yellow Level = "YELLOW"
	Red    Level = "RED"
)

// Score thresholds shared by hourly and daily evaluation.
const (
	RedThreshold    = 5
	YellowThreshold = 3
)

// Reason identifiers, in evaluation order.
const (
	ReasonPHOut            = "pH out of 6.5-8.5"
	ReasonPHSlight         = "pH slight deviation"
	ReasonTurbidityHigh    = "turbidity > 5"
	ReasonTurbidityMid     = "turbidity 1-5"
	ReasonEColi            = "E. coli present"
	ReasonRainHigh         = "rainfall > 20mm"
	ReasonRainMid          = "rainfall 5-20mm"
	ReasonCasesHigh        = "daily cases >= 10"
	ReasonCasesMid         = "daily cases 4-9"
	ReasonCasesLow         = "daily cases 1-3"
	ReasonMonsoonEvening   = "monsoon evening bump"
	ReasonAvgPHOut         = "avg pH out of 6.5-8.5"
	ReasonAvgPHSlight      = "avg pH slight deviation"
	ReasonAvgTurbidityHigh = "avg turbidity > 5"
	ReasonAvgTurbidityMid  = "avg turbidity 1-5"
	ReasonDailyRainHigh    = "rainfall > 50mm"
	ReasonDailyRainMid     = "rainfall 20-50mm"
)

// LevelForScore maps a score onto a Level.
func LevelForScore(score int) Level {
	switch {
	case score >= RedThreshold:
		return Red
	case score >= YellowThreshold:
		return Yellow
	default:
		return Green
	}
}

// Rank orders levels from GREEN (0) to RED (2). Unknown levels rank -1.
func (l Level) Rank() int {
	switch l {
	case Green:
		return 0
	case Yellow:
		return 1
	case Red:
		return 2
	default:
		return -1
	}
}

func (l Level) Valid() bool { return l.Rank() >= 0 }

// Reading is one hourly observation for a site.
type Reading struct {
	PH         float64
	Turbidity  float64
	EColi      bool
	RainfallMM float64
	DailyCases int
	// Timestamp enables the monsoon evening rule when set.
	Timestamp time.Time
}

// DailyAggregate is a day of readings rolled up for daily scoring.
type DailyAggregate struct {
	AvgPH           float64
	AvgTurbidity    float64
	EColiPresent    bool
	RainfallTotalMM float64
	DailyCases      int
}

// Assessment is the outcome of scoring a reading or aggregate.
type Assessment struct {
	Score   int
	Level   Level
	Reasons []string
}

type scorer struct {
	score   int
	reasons []string
}

func (s *scorer) add(points int, reason string) {
	s.score += points
	s.reasons = append(s.reasons, reason)
}

func (s *scorer) assessment() Assessment {
	reasons := s.reasons
	if reasons == nil {
		reasons = []string{}
	}
	return Assessment{Score: s.score, Level: LevelForScore(s.score), Reasons: reasons}
}

func phOutOfRange(ph float64) bool { return ph < 6.5 || ph > 8.5 }

// The slight bands lie outside 6.5-8.5, so the out-of-range rule claims them
// first. They are kept so the rule table reads as published.
func phSlight(ph float64) bool {
	return (ph >= 6.0 && ph <= 6.49) || (ph >= 8.51 && ph <= 9.0)
}

// Engine evaluates readings. The calendar supplies the timezone for the
// monsoon evening rule.
type Engine struct {
	cal season.Calendar
}

func NewEngine(cal season.Calendar) *Engine {
	return &Engine{cal: cal}
}

// EvaluateHourly scores a single reading.
func (e *Engine) EvaluateHourly(r Reading) Assessment {
	var s scorer

	if phOutOfRange(r.PH) {
		s.add(2, ReasonPHOut)
	} else if phSlight(r.PH) {
		s.add(1, ReasonPHSlight)
	}

	if r.Turbidity > 5 {
		s.add(2, ReasonTurbidityHigh)
	} else if r.Turbidity >= 1.0 {
		s.add(1, ReasonTurbidityMid)
	}

	if r.EColi {
		s.add(3, ReasonEColi)
	}

	if r.RainfallMM > 20 {
		s.add(2, ReasonRainHigh)
	} else if r.RainfallMM >= 5 {
		s.add(1, ReasonRainMid)
	}

	switch {
	case r.DailyCases >= 10:
		s.add(5, ReasonCasesHigh)
	case r.DailyCases >= 4:
		s.add(4, ReasonCasesMid)
	case r.DailyCases >= 1:
		s.add(3, ReasonCasesLow)
	}

	if !r.Timestamp.IsZero() && e.cal.IsMonsoonEvening(r.Timestamp) {
		s.add(1, ReasonMonsoonEvening)
	}

	return s.assessment()
}

// EvaluateDaily scores a daily aggregate. There is no evening rule.
func (e *Engine) EvaluateDaily(d DailyAggregate) Assessment {
	var s scorer

	if phOutOfRange(d.AvgPH) {
		s.add(2, ReasonAvgPHOut)
	} else if phSlight(d.AvgPH) {
		s.add(1, ReasonAvgPHSlight)
	}

	if d.AvgTurbidity > 5 {
		s.add(2, ReasonAvgTurbidityHigh)
	} else if d.AvgTurbidity >= 1.0 {
		s.add(1, ReasonAvgTurbidityMid)
	}

	if d.EColiPresent {
		s.add(3, ReasonEColi)
	}

	if d.RainfallTotalMM > 50 {
		s.add(2, ReasonDailyRainHigh)
	} else if d.RainfallTotalMM >= 20 {
		s.add(1, ReasonDailyRainMid)
	}

	switch {
	case d.DailyCases >= 10:
		s.add(3, ReasonCasesHigh)
	case d.DailyCases >= 4:
		s.add(2, ReasonCasesMid)
	case d.DailyCases >= 1:
		s.add(1, ReasonCasesLow)
	}

	return s.assessment()
}
