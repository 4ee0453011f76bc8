package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Job names used as metric labels.
const (
	JobHourly = "hourly"
	JobDaily  = "daily"
)

// Run outcomes.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
)

// Metrics holds the Prometheus collectors for the risk jobs.
type Metrics struct {
	JobRuns      *prometheus.CounterVec   // labels: job, outcome={success,partial,failed}
	JobDuration  *prometheus.HistogramVec // labels: job
	SiteFailures *prometheus.CounterVec   // labels: job

	// SiteRisk is the displayed level per site: 0 GREEN, 1 YELLOW, 2 RED.
	SiteRisk            *prometheus.GaugeVec
	SmoothingDowngrades prometheus.Counter
	CaseSources         *prometheus.CounterVec // labels: source
	HourlySources       *prometheus.CounterVec // labels: source={manual,asha,generator}

	TransitionsPublished *prometheus.CounterVec // labels: outcome={success,error}
	SamplesWritten       prometheus.Counter
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	m.MustRegister(prometheus.DefaultRegisterer)
	return m
}

// MustRegister registers every collector with reg.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		m.JobRuns,
		m.JobDuration,
		m.SiteFailures,
		m.SiteRisk,
		m.SmoothingDowngrades,
		m.CaseSources,
		m.HourlySources,
		m.TransitionsPublished,
		m.SamplesWritten,
	)
}

// NewMetricsForTesting creates unregistered Metrics so tests can build as
// many as they like.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "water_risk",
			Name:      "job_runs_total",
			Help:      "Job runs by job and outcome.",
		}, []string{"job", "outcome"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "water_risk",
			Name:      "job_duration_seconds",
			Help:      "Wall time of a complete job run.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"job"}),
		SiteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "water_risk",
			Name:      "site_failures_total",
			Help:      "Sites that failed within a job run.",
		}, []string{"job"}),
		SiteRisk: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "water_risk",
			Name:      "site_risk_level",
			Help:      "Displayed risk per site (0 GREEN, 1 YELLOW, 2 RED).",
		}, []string{"site"}),
		SmoothingDowngrades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "water_risk",
			Name:      "smoothing_downgrades_total",
			Help:      "Hourly levels lowered by smoothing.",
		}),
		CaseSources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "water_risk",
			Name:      "case_resolutions_total",
			Help:      "Case count resolutions by winning source.",
		}, []string{"source"}),
		HourlySources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "water_risk",
			Name:      "hourly_records_total",
			Help:      "Hourly records written by provenance.",
		}, []string{"source"}),
		TransitionsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "water_risk",
			Name:      "risk_transitions_published_total",
			Help:      "Risk transition events handed to the broker.",
		}, []string{"outcome"}),
		SamplesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "water_risk",
			Name:      "field_samples_written_total",
			Help:      "Field samples persisted from the broker.",
		}),
	}
}
