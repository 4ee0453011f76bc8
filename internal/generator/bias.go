package generator

import (
	"time"
	"unicode/utf16"
)

const (
	fnvOffset32 = 2166136261
	fnvPrime32  = 16777619
)

// HashUnit maps key to a stable value in [0, 1).
//
// The key's UTF-16 code units are hashed with 32-bit FNV-1a, mixed with one
// xorshift round (<<13, >>17, <<5) and reduced as (h % 10000) / 10000.
// Reference values: "" = 0.5959, "a" = 0.9352,
// "site-1|2024060100" = 0.7926.
func HashUnit(key string) float64 {
	h := uint32(fnvOffset32)
	for _, unit := range utf16.Encode([]rune(key)) {
		h ^= uint32(unit)
		h *= fnvPrime32
	}
	h ^= h << 13
	h ^= h >> 17
	h ^= h << 5
	return float64(h%10000) / 10000
}

// BiasKey is the hash key for a site in the local hour containing t.
func BiasKey(siteID string, t time.Time) string {
	return siteID + "|" + t.Format("2006010215")
}

// ColourWeights returns normalised green, yellow and red weights for month
// after the rainfall nudge.
func ColourWeights(month time.Month, rainfallMM float64) (green, yellow, red float64) {
	switch month {
	case time.July, time.August:
		green, yellow, red = 0.45, 0.35, 0.20
	case time.June, time.September:
		green, yellow, red = 0.55, 0.30, 0.15
	case time.May, time.October, time.November:
		green, yellow, red = 0.65, 0.28, 0.07
	default:
		green, yellow, red = 0.78, 0.18, 0.04
	}

	switch {
	case rainfallMM >= 10:
		green, yellow, red = max(0, green-0.10), yellow+0.06, red+0.04
	case rainfallMM >= 3:
		green, yellow, red = max(0, green-0.05), yellow+0.04, red+0.01
	}

	sum := green + yellow + red
	return green / sum, yellow / sum, red / sum
}

// DecideBias picks a reproducible demo colour for a site and hour. local
// must already be in the site timezone.
func DecideBias(siteID string, local time.Time, rainfallMM float64) Bias {
	r := HashUnit(BiasKey(siteID, local))
	green, yellow, _ := ColourWeights(local.Month(), rainfallMM)

	switch {
	case r < green:
		return BiasGreen
	case r < green+yellow:
		return BiasYellow
	default:
		return BiasRed
	}
}
