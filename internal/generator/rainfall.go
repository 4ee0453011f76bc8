package generator

import (
	"math"
	"time"
)

type rainProfile struct {
	prob  float64
	minMM float64
	maxMM float64
}

// Hourly rain chance and magnitude per month for the north-east hill belt.
// July and August are the wettest.
var rainProfiles = map[time.Month]rainProfile{
	time.January:   {0.10, 0.0, 2.0},
	time.February:  {0.10, 0.0, 2.0},
	time.March:     {0.12, 0.0, 3.0},
	time.April:     {0.28, 0.5, 8.0},
	time.May:       {0.32, 0.8, 10.0},
	time.June:      {0.45, 1.5, 20.0},
	time.July:      {0.68, 3.0, 35.0},
	time.August:    {0.68, 3.0, 35.0},
	time.September: {0.52, 2.0, 22.0},
	time.October:   {0.30, 0.5, 10.0},
	time.November:  {0.22, 0.3, 8.0},
	time.December:  {0.12, 0.0, 3.0},
}

const (
	maxRainProbability = 0.97
	afternoonBoost     = 1.25
	orographicBoost    = 1.12
	heavyTailChance    = 0.30
	heavyTailFactor    = 1.5
)

// RainProbability is the chance of any rain in the hour containing now at latitude lat.
func (g *Generator) RainProbability(now time.Time, lat float64) float64 {
	local := now.In(g.cal.Location())
	p := rainProfiles[local.Month()].prob

	if h := local.Hour(); h >= 14 && h <= 20 {
		p *= afternoonBoost
	}
	if lat >= 24 && lat <= 27.5 {
		p *= orographicBoost
	}
	return math.Min(maxRainProbability, p)
}

// Rainfall draws the hour's rainfall in millimetres. July to September
// sometimes draw from an extended heavy range.
func (g *Generator) Rainfall(now time.Time, lat float64) float64 {
	if g.rng.Float64() > g.RainProbability(now, lat) {
		return 0
	}

	local := now.In(g.cal.Location())
	profile := rainProfiles[local.Month()]
	upper := profile.maxMM
	if m := local.Month(); m >= time.July && m <= time.September && g.rng.Float64() < heavyTailChance {
		upper *= heavyTailFactor
	}
	return round2(g.uniform(profile.minMM, upper))
}
