package database

import (
	"time"
)

// TimestampLayout is used for every stored instant. UTC second precision
// keeps string comparison in time order.
const TimestampLayout = "2006-01-02T15:04:05Z"

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// HourBucket is the hourly record key for the UTC hour containing t, e.g. "2025-07-15T12Z".
func HourBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02T15") + "Z"
}

// Hourly record provenance
const (
	SourceManual      = "manual"
	SourceFieldSample = "asha"
	SourceGenerator   = "generator"
)

// HourlyRecord is one site reading for one hour bucket
type HourlyRecord struct {
	Timestamp  string  `json:"timestamp"`
	PH         float64 `json:"ph"`
	Turbidity  float64 `json:"turbidity"`
	EColi      bool    `json:"ecoli"`
	RainfallMM float64 `json:"rainfall_mm"`
	DailyCases *int    `json:"daily_cases,omitempty"`
	Source     string  `json:"source"`
	Bias       string  `json:"bias"`
	CreatedAt  string  `json:"createdAt,omitempty"`
}

// DailyRecord is the roll-up of one site's hourly records for a local date
type DailyRecord struct {
	AvgPH           float64  `json:"avg_ph"`
	AvgTurbidity    float64  `json:"avg_turbidity"`
	RainfallTotalMM float64  `json:"rainfall_total_mm"`
	EColiPresent    bool     `json:"ecoli_present"`
	DailyCases      int      `json:"daily_cases"`
	FinalDailyRisk  string   `json:"final_daily_risk"`
	Score           int      `json:"score"`
	Reason          []string `json:"reason"`
	HourlyCount     int      `json:"hourly_count"`
	CreatedAt       string   `json:"createdAt"`
}

// StatusRecord is the current displayed risk of a site
type StatusRecord struct {
	Risk        string   `json:"risk"`
	RawRisk     string   `json:"rawRisk"`
	Score       int      `json:"score"`
	Reason      []string `json:"reason"`
	LastUpdated string   `json:"lastUpdated"`
}

// CaseCounter is the consolidated illness count for a site and date
type CaseCounter struct {
	Count     float64 `json:"count"`
	UpdatedAt string  `json:"updatedAt,omitempty"`
}

// FieldSample is a water test submitted by a field health worker
type FieldSample struct {
	PH        *float64 `json:"ph,omitempty"`
	Turbidity *float64 `json:"turbidity,omitempty"`
	EColi     *bool    `json:"ecoli,omitempty"`
	WorkerID  string   `json:"workerId,omitempty"`
	UpdatedAt string   `json:"updatedAt,omitempty"`
}

// Usable reports whether the sample carries any sensor value.
func (s FieldSample) Usable() bool {
	return (s.PH != nil && *s.PH != 0) ||
		(s.Turbidity != nil && *s.Turbidity != 0) ||
		s.EColi != nil
}

// SiteMeta is the static identity written onto the site document
type SiteMeta struct {
	Name     string  `json:"name"`
	District string  `json:"district"`
	State    string  `json:"state"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
}
