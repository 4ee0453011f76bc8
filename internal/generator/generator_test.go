package generator

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/water-risk/internal/season"
)

var ist = time.FixedZone("IST", 5*3600+1800)

// scripted replays fixed draws so bucket edges can be checked exactly.
type scripted struct {
	vals []float64
	i    int
}

func (s *scripted) Float64() float64 {
	v := s.vals[s.i%len(s.vals)]
	s.i++
	return v
}

func newScripted(vals ...float64) (*Generator, *scripted) {
	s := &scripted{vals: vals}
	return New(s, season.NewCalendar(ist, clockwork.NewFakeClock())), s
}

func seeded() *Generator {
	return New(rand.New(rand.NewPCG(7, 11)), season.NewCalendar(ist, clockwork.NewFakeClock()))
}

var (
	dry            = season.Context{Month: time.January, Hour: 10}
	monsoon        = season.Context{Month: time.July, Hour: 10, IsMonsoon: true}
	monsoonEvening = season.Context{Month: time.July, Hour: 19, IsMonsoon: true, IsMonsoonEvening: true}
)

func TestParseBias(t *testing.T) {
	for in, want := range map[string]Bias{"red": BiasRed, " Yellow ": BiasYellow, "GREEN": BiasGreen} {
		got, ok := ParseBias(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got)
	}
	_, ok := ParseBias("purple")
	assert.False(t, ok)
	_, ok = ParseBias("")
	assert.False(t, ok)
}

func TestPH_Buckets(t *testing.T) {
	tests := []struct {
		name  string
		sc    season.Context
		draws []float64
		want  float64
	}{
		{"dry safe", dry, []float64{0.84, 0.5}, 7.5},
		{"dry slight low", dry, []float64{0.86, 0.2, 0}, 6.0},
		{"dry severe high", dry, []float64{0.96, 0.7, 0}, 9.01},
		{"monsoon shrinks safe", monsoon, []float64{0.80, 0.9, 0}, 8.51},
		{"monsoon severe low", monsoon, []float64{0.90, 0.1, 0}, 4.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newScripted(tt.draws...)
			assert.InDelta(t, tt.want, g.PH(tt.sc), 1e-9)
		})
	}
}

func TestTurbidity_Buckets(t *testing.T) {
	tests := []struct {
		name  string
		sc    season.Context
		draws []float64
		want  float64
	}{
		{"dry clear", dry, []float64{0.69, 0}, 0.1},
		{"dry cloudy", dry, []float64{0.71, 0}, 1.1},
		{"dry turbid", dry, []float64{0.91, 0}, 5.1},
		{"monsoon moves clear mass", monsoon, []float64{0.63, 0}, 1.1},
		{"monsoon turbid", monsoon, []float64{0.83, 0}, 5.1},
		{"monsoon evening cloudy", monsoonEvening, []float64{0.58, 0}, 1.1},
		{"monsoon evening turbid", monsoonEvening, []float64{0.80, 0}, 5.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newScripted(tt.draws...)
			assert.InDelta(t, tt.want, g.Turbidity(tt.sc), 1e-9)
		})
	}
}

func TestEColiProbability(t *testing.T) {
	assert.InDelta(t, 0.01, EColiProbability(dry, 7, 0.5, 0), 1e-9)
	assert.InDelta(t, 0.04, EColiProbability(monsoon, 7, 0.5, 0), 1e-9)
	assert.InDelta(t, 0.26, EColiProbability(monsoonEvening, 9, 6, 11), 1e-9)
	assert.InDelta(t, 0.03, EColiProbability(dry, 6.4, 5, 10), 1e-9)
}

func TestSeasonal(t *testing.T) {
	// ph bucket, ph value, turbidity bucket, turbidity value, ecoli draw
	g, _ := newScripted(0.1, 0.5, 0.1, 0.5, 0.05)
	now := time.Date(2025, 7, 15, 10, 0, 0, 0, ist)

	s := g.Seasonal(now, 10)
	assert.InDelta(t, 7.5, s.PH, 1e-9)
	assert.InDelta(t, 0.55, s.Turbidity, 1e-9)
	assert.InDelta(t, 14.0, s.RainfallMM, 1e-9)
	assert.True(t, s.EColi, "0.05 < 0.01+0.03+0.05")

	g, _ = newScripted(0.1, 0.5, 0.1, 0.5, 0.05)
	s = g.Seasonal(time.Date(2025, 1, 15, 10, 0, 0, 0, ist), 10)
	assert.InDelta(t, 10.0, s.RainfallMM, 1e-9)
	assert.False(t, s.EColi, "0.05 >= 0.01")
}

func TestSeasonal_Ranges(t *testing.T) {
	g := seeded()
	for i := 0; i < 2000; i++ {
		now := time.Date(2025, time.Month(i%12+1), 1, i%24, 0, 0, 0, ist)
		s := g.Seasonal(now, 5)
		assert.True(t, s.PH >= 4.5 && s.PH <= 10.5, "pH %v", s.PH)
		assert.True(t, s.Turbidity >= 0.1 && s.Turbidity <= 50, "turbidity %v", s.Turbidity)
		assert.True(t, s.RainfallMM == 5 || s.RainfallMM == 7, "rain %v", s.RainfallMM)
	}
}

func TestBiased_Red(t *testing.T) {
	// turbidity, coin, pH, ecoli
	g, _ := newScripted(0.5, 0.2, 0.5, 0.55)
	s := g.Biased(BiasRed, 0)
	assert.InDelta(t, 15.5, s.Turbidity, 1e-9)
	assert.InDelta(t, 5.55, s.PH, 1e-9)
	assert.False(t, s.EColi, "0.55 >= 0.25+0.25")

	g, _ = newScripted(0.5, 0.2, 0.5, 0.55)
	s = g.Biased(BiasRed, 12)
	assert.True(t, s.EColi, "0.55 < 0.25+0.25+0.1")
	assert.InDelta(t, 12.0, s.RainfallMM, 1e-9)
}

func TestBiased_Ranges(t *testing.T) {
	g := seeded()
	for i := 0; i < 1000; i++ {
		red := g.Biased(BiasRed, 0)
		assert.Greater(t, red.Turbidity, 5.0)
		assert.True(t, red.PH < 6.5 || red.PH > 8.5, "red pH %v", red.PH)

		yellow := g.Biased(BiasYellow, 0)
		assert.True(t, yellow.Turbidity >= 1.2 && yellow.Turbidity <= 4.7, "yellow turbidity %v", yellow.Turbidity)
		assert.True(t, yellow.PH >= 6.1 && yellow.PH <= 8.9, "yellow pH %v", yellow.PH)

		green := g.Biased(BiasGreen, 0)
		assert.True(t, green.Turbidity >= 0.2 && green.Turbidity <= 0.9, "green turbidity %v", green.Turbidity)
		assert.True(t, green.PH >= 6.7 && green.PH <= 8.0, "green pH %v", green.PH)
	}

	// An unknown bias draws like green.
	unknown := g.Biased(Bias("blue"), 0)
	assert.Less(t, unknown.Turbidity, 1.0)
}

func TestRainProbability(t *testing.T) {
	g, _ := newScripted(0)

	assert.InDelta(t, 0.10, g.RainProbability(time.Date(2025, 1, 10, 3, 0, 0, 0, ist), 0), 1e-9)
	assert.InDelta(t, 0.68*1.25, g.RainProbability(time.Date(2025, 7, 10, 15, 0, 0, 0, ist), 30), 1e-9)
	assert.InDelta(t, 0.68*1.25*1.12, g.RainProbability(time.Date(2025, 7, 10, 15, 0, 0, 0, ist), 26.1), 1e-9)
	assert.InDelta(t, 0.45*1.12, g.RainProbability(time.Date(2025, 6, 10, 9, 0, 0, 0, ist), 24), 1e-9)

	// 08:30Z is 14:00 IST, so the afternoon boost follows the site timezone.
	assert.InDelta(t, 0.28*1.25, g.RainProbability(time.Date(2025, 4, 10, 8, 30, 0, 0, time.UTC), 10), 1e-9)
}

func TestRainfall(t *testing.T) {
	july := time.Date(2025, 7, 10, 9, 0, 0, 0, ist)

	g, _ := newScripted(0.99)
	assert.Zero(t, g.Rainfall(july, 26))

	g, _ = newScripted(0.05, 0.5)
	assert.InDelta(t, 1.0, g.Rainfall(time.Date(2025, 1, 10, 9, 0, 0, 0, ist), 26), 1e-9)

	// occurrence, no heavy tail, magnitude
	g, _ = newScripted(0.1, 0.5, 0.5)
	assert.InDelta(t, 19.0, g.Rainfall(july, 26), 1e-9)

	// occurrence, heavy tail, magnitude
	g, _ = newScripted(0.1, 0.1, 0.5)
	assert.InDelta(t, 27.75, g.Rainfall(july, 26), 1e-9)
}

func TestRainfall_Ranges(t *testing.T) {
	g := seeded()
	for i := 0; i < 3000; i++ {
		month := time.Month(i%12 + 1)
		mm := g.Rainfall(time.Date(2025, month, 1, i%24, 0, 0, 0, ist), 25)
		p := rainProfiles[month]
		require.GreaterOrEqual(t, mm, 0.0)
		limit := p.maxMM
		if month >= time.July && month <= time.September {
			limit *= heavyTailFactor
		}
		assert.LessOrEqual(t, mm, limit, "month %s", month)
	}
}
