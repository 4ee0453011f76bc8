// Package generator synthesises water readings for sites without a live
// sensor feed. Draws follow seasonal bucket models for pH, turbidity, rainfall
// and E. coli. A demo mode pushes readings toward a requested risk colour.
package generator

import (
	"math"
	"strings"
	"time"

	"github.com/smukkama/water-risk/internal/season"
)

// Rand is the randomness source. *math/rand/v2.Rand satisfies it.
type Rand interface {
	Float64() float64
}

// Sample is a synthetic reading before case counts are attached.
type Sample struct {
	PH         float64
	Turbidity  float64
	EColi      bool
	RainfallMM float64
}

// Bias selects the demo colour a biased sample is drawn toward.
type Bias string

const (
	BiasNone   Bias = ""
	BiasGreen  Bias = "green"
	BiasYellow Bias = "yellow"
	BiasRed    Bias = "red"
)

// ParseBias accepts green, yellow or red in any case.
func ParseBias(s string) (Bias, bool) {
	switch b := Bias(strings.ToLower(strings.TrimSpace(s))); b {
	case BiasGreen, BiasYellow, BiasRed:
		return b, true
	default:
		return BiasNone, false
	}
}

// MonsoonRainMultiplier scales the supplied rainfall when a seasonal sample
// is composed during the monsoon.
const MonsoonRainMultiplier = 1.4

// Generator draws samples from an injected randomness source.
type Generator struct {
	rng Rand
	cal season.Calendar
}

func New(rng Rand, cal season.Calendar) *Generator {
	return &Generator{rng: rng, cal: cal}
}

func (g *Generator) uniform(min, max float64) float64 {
	return min + g.rng.Float64()*(max-min)
}

func (g *Generator) coin() bool {
	return g.rng.Float64() < 0.5
}

// PH draws from the safe, slight and severe buckets. The monsoon moves 0.08
// of probability from safe to severe.
func (g *Generator) PH(sc season.Context) float64 {
	safe, slight := 0.85, 0.10
	if sc.IsMonsoon {
		safe -= 0.08
	}

	r := g.rng.Float64()
	switch {
	case r < safe:
		return round2(g.uniform(6.5, 8.5))
	case r < safe+slight:
		if g.coin() {
			return round2(g.uniform(6.0, 6.49))
		}
		return round2(g.uniform(8.51, 9.0))
	default:
		if g.coin() {
			return round2(g.uniform(4.5, 5.99))
		}
		return round2(g.uniform(9.01, 10.5))
	}
}

// Turbidity draws NTU from the clear, cloudy and turbid buckets.
func (g *Generator) Turbidity(sc season.Context) float64 {
	b1, b3 := 0.70, 0.10
	if sc.IsMonsoon {
		b1 -= 0.08
		b3 += 0.08
	}
	if sc.IsMonsoonEvening {
		const shift = 0.05
		b1 = math.Max(0, b1-shift)
		b3 = math.Min(0.99, b3+shift*0.6)
	}
	b2 := 1 - b1 - b3

	r := g.rng.Float64()
	switch {
	case r < b1:
		return round2(g.uniform(0.1, 1.0))
	case r < b1+b2:
		return round2(g.uniform(1.1, 5.0))
	default:
		return round2(g.uniform(5.1, 50.0))
	}
}

// EColiProbability is the additive chance of a positive E. coli test.
func EColiProbability(sc season.Context, ph, turbidity, rainfallMM float64) float64 {
	p := 0.01
	if sc.IsMonsoon {
		p += 0.03
	}
	if sc.IsMonsoonEvening {
		p += 0.05
	}
	if turbidity > 5 {
		p += 0.10
	}
	if rainfallMM > 10 {
		p += 0.05
	}
	if ph < 6.5 || ph > 8.5 {
		p += 0.02
	}
	return p
}

// Seasonal composes an unbiased sample for now. baseRainfallMM is scaled by
// MonsoonRainMultiplier during the monsoon and the scaled value is returned.
func (g *Generator) Seasonal(now time.Time, baseRainfallMM float64) Sample {
	sc := g.cal.At(now)

	rain := baseRainfallMM
	if sc.IsMonsoon {
		rain *= MonsoonRainMultiplier
	}
	rain = round2(rain)

	ph := g.PH(sc)
	turbidity := g.Turbidity(sc)
	ecoli := g.rng.Float64() < EColiProbability(sc, ph, turbidity, rain)

	return Sample{PH: ph, Turbidity: turbidity, EColi: ecoli, RainfallMM: rain}
}

// Biased draws a demo sample whose ranges push the score toward bias.
// Rainfall is passed through unchanged. Unknown biases draw green.
func (g *Generator) Biased(bias Bias, rainfallMM float64) Sample {
	var s Sample
	s.RainfallMM = rainfallMM

	switch bias {
	case BiasRed:
		s.Turbidity = round2(5.5 + g.rng.Float64()*20)
		if g.coin() {
			s.PH = round2(5.2 + g.rng.Float64()*0.7)
		} else {
			s.PH = round2(9.1 + g.rng.Float64()*1.0)
		}
		p := 0.25
		if s.Turbidity > 10 {
			p += 0.25
		}
		if rainfallMM > 10 {
			p += 0.1
		}
		s.EColi = g.rng.Float64() < p

	case BiasYellow:
		s.Turbidity = round2(1.2 + g.rng.Float64()*3.5)
		if g.rng.Float64() < 0.4 {
			if g.coin() {
				s.PH = round2(6.1 + g.rng.Float64()*0.3)
			} else {
				s.PH = round2(8.6 + g.rng.Float64()*0.3)
			}
		} else {
			s.PH = round2(6.6 + g.rng.Float64()*1.6)
		}
		p := 0.05
		if s.Turbidity > 3 {
			p += 0.08
		}
		if rainfallMM > 10 {
			p += 0.05
		}
		s.EColi = g.rng.Float64() < p

	default:
		s.Turbidity = round2(0.2 + g.rng.Float64()*0.7)
		s.PH = round2(6.7 + g.rng.Float64()*1.3)
		p := 0.01
		if rainfallMM > 10 {
			p += 0.03
		}
		s.EColi = g.rng.Float64() < p
	}

	return s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
