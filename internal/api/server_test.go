package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smukkama/water-risk/internal/aggregation"
	"github.com/smukkama/water-risk/internal/alerting"
	"github.com/smukkama/water-risk/internal/cases"
	"github.com/smukkama/water-risk/internal/database"
	"github.com/smukkama/water-risk/internal/observability"
	"github.com/smukkama/water-risk/internal/season"
	"github.com/smukkama/water-risk/pkg/config"
)

var (
	ist     = time.FixedZone("IST", 5*3600+1800)
	paths   = database.NewPaths("appdata/main")
	sonapur = config.Site{ID: "assam_kamrup_sonapur", Name: "Sonapur", District: "Kamrup", State: "Assam", Lat: 26.1167, Lon: 91.9667}
	hojai   = config.Site{ID: "assam_nagaon_hojai", Name: "Hojai", District: "Hojai", State: "Assam", Lat: 26.0, Lon: 92.85}
)

// constRand never rains and always draws the top of a range.
type constRand float64

func (c constRand) Float64() float64 { return float64(c) }

type fixture struct {
	server *Server
	mem    *database.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := database.NewMemoryStore()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 7, 15, 5, 0, 0, 0, time.UTC))
	cal := season.NewCalendar(ist, clock)
	sites := []config.Site{sonapur, hojai}
	metrics := observability.NewMetricsForTesting()
	registry := prometheus.NewRegistry()
	metrics.MustRegister(registry)

	resolver := cases.NewResolver(mem, paths, []string{"ashaworkers_reports", "asha_reports", "reports"}, zap.NewNop())
	deps := aggregation.Deps{
		Store:    mem,
		Paths:    paths,
		Sites:    sites,
		Calendar: cal,
		Resolver: resolver,
		Metrics:  metrics,
	}
	tracker := alerting.NewTracker(alerting.NewMemoryStatusStore(), nil, clock, metrics, nil)

	return &fixture{
		server: NewServer(Deps{
			Store:    mem,
			Paths:    paths,
			Sites:    sites,
			Calendar: cal,
			Hourly:   aggregation.NewHourlyAggregator(deps, constRand(0.99), true, tracker),
			Daily:    aggregation.NewDailyAggregator(deps),
			Resolver: resolver,
			Tracker:  tracker,
			Gatherer: registry,
		}),
		mem: mem,
	}
}

type envelope struct {
	OK      bool              `json:"ok"`
	Error   string            `json:"error"`
	Results []siteResult      `json:"results"`
	Applied map[string]string `json:"applied"`
}

func (f *fixture) do(t *testing.T, method, target, body string) (int, envelope, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.server.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var env envelope
	var generic map[string]any
	require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	require.NoError(t, json.Unmarshal(raw, &generic))
	return resp.StatusCode, env, generic
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	code, env, body := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.OK)
	assert.Equal(t, "IST", body["timezone"])
	assert.Equal(t, "2025-07-15T05:00:00Z", body["time"])
}

func TestRunHourly(t *testing.T) {
	for _, method := range []string{http.MethodPost, http.MethodGet} {
		t.Run(method, func(t *testing.T) {
			f := newFixture(t)
			code, env, _ := f.do(t, method, "/run/hourly", "")
			require.Equal(t, http.StatusOK, code)
			assert.True(t, env.OK)
			require.Len(t, env.Results, 2)
			assert.Equal(t, sonapur.ID, env.Results[0].SiteID)
			assert.Equal(t, "2025-07-15T05Z", env.Results[0].Bucket)
			assert.Equal(t, database.SourceGenerator, env.Results[0].Source)
			assert.Equal(t, 1, f.mem.Len(paths.Hourly(hojai.ID)+"/"))
		})
	}
}

func TestDemoSeed(t *testing.T) {
	t.Run("query string", func(t *testing.T) {
		f := newFixture(t)
		code, env, _ := f.do(t, http.MethodGet, "/demo/seed?bias=assam_kamrup_sonapur:RED,,broken", "")
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, map[string]string{sonapur.ID: "red"}, env.Applied)
		require.Len(t, env.Results, 2)
		assert.Equal(t, "red", env.Results[0].Bias)
	})

	t.Run("json body", func(t *testing.T) {
		f := newFixture(t)
		code, env, _ := f.do(t, http.MethodPost, "/demo/seed", `{"biases":{"assam_nagaon_hojai":"green"}}`)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "green", env.Results[1].Bias)
	})

	tests := []struct {
		name string
		body string
	}{
		{"unknown site", `{"biases":{"nowhere":"red"}}`},
		{"unknown colour", `{"biases":{"assam_nagaon_hojai":"purple"}}`},
		{"malformed body", `{"biases":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			code, env, _ := f.do(t, http.MethodPost, "/demo/seed", tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.False(t, env.OK)
			assert.NotEmpty(t, env.Error)
			assert.Zero(t, f.mem.Len("appdata"))
		})
	}
}

func TestRunDaily(t *testing.T) {
	f := newFixture(t)
	_, _, _ = f.do(t, http.MethodPost, "/run/hourly", "")

	code, env, body := f.do(t, http.MethodPost, "/run/daily", `{"date":"2025-07-15"}`)
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Equal(t, "2025-07-15", body["date"])

	_, err := f.mem.Get(context.Background(), paths.DailyRecord(sonapur.ID, "2025-07-15"))
	assert.NoError(t, err)
	assert.Zero(t, f.mem.Len(paths.Hourly(sonapur.ID)+"/"))

	code, _, body = f.do(t, http.MethodGet, "/run/daily", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "2025-07-15", body["date"], "defaults to today")

	code, env, _ = f.do(t, http.MethodGet, "/run/daily?date=15-07-2025", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, env.OK)
}

func TestDebugCasesAndInspect(t *testing.T) {
	f := newFixture(t)

	code, _, body := f.do(t, http.MethodGet, "/debug/cases?vid=assam_nagaon_hojai&count=3", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "2025-07-15", body["today"])

	_, _, _ = f.do(t, http.MethodPost, "/run/hourly", "")

	code, _, body = f.do(t, http.MethodGet, "/debug/inspect?vid=assam_nagaon_hojai", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"daily_cases": 3.0, "source": cases.SourceCounter}, body["result"])
	status, ok := body["status"].(map[string]any)
	require.True(t, ok, "status is included after an hourly run")
	assert.Contains(t, status["reason"], "daily cases 1-3")
	assert.Contains(t, body, "lastPublished")

	code, _, _ = f.do(t, http.MethodGet, "/debug/cases?vid=assam_nagaon_hojai&count=-1", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestDebugSiteValidation(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/debug/inspect", "/debug/cases", "/debug/sample", "/debug/manual"} {
		code, env, _ := f.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, code, path)
		assert.Equal(t, "vid required", env.Error)

		code, _, _ = f.do(t, http.MethodGet, path+"?vid=nowhere", "")
		assert.Equal(t, http.StatusNotFound, code, path)
	}
}

func TestDebugSample(t *testing.T) {
	f := newFixture(t)

	code, _, _ := f.do(t, http.MethodGet, "/debug/sample?vid=assam_nagaon_hojai", "")
	assert.Equal(t, http.StatusBadRequest, code, "a sample needs a value")

	code, _, _ = f.do(t, http.MethodGet, "/debug/sample?vid=assam_nagaon_hojai&ph=abc", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _, _ = f.do(t, http.MethodGet, "/debug/sample?vid=assam_nagaon_hojai&ph=9.5&turbidity=6&ecoli=true", "")
	require.Equal(t, http.StatusOK, code)

	_, env, _ := f.do(t, http.MethodPost, "/run/hourly", "")
	require.Len(t, env.Results, 2)
	assert.Equal(t, database.SourceFieldSample, env.Results[1].Source)
	assert.Equal(t, "RED", env.Results[1].Risk)
}

func TestDebugManual(t *testing.T) {
	f := newFixture(t)
	_, _, _ = f.do(t, http.MethodGet, "/demo/seed?bias=assam_kamrup_sonapur:red", "")

	code, _, _ := f.do(t, http.MethodGet, "/debug/manual?vid=assam_kamrup_sonapur&ph=7.2&turbidity=0.3", "")
	require.Equal(t, http.StatusOK, code)

	doc, err := f.mem.Get(context.Background(), paths.HourlyRecord(sonapur.ID, "2025-07-15T05Z"))
	require.NoError(t, err)
	var rec database.HourlyRecord
	require.NoError(t, doc.Decode(&rec))
	assert.Equal(t, database.SourceManual, rec.Source)
	assert.Empty(t, rec.Bias, "the generated record is replaced, not merged")
	assert.Nil(t, rec.DailyCases)

	_, env, _ := f.do(t, http.MethodPost, "/run/hourly", "")
	require.Len(t, env.Results, 2)
	assert.Equal(t, database.SourceManual, env.Results[0].Source)
	assert.Equal(t, "GREEN", env.Results[0].Risk)
}

// setOnlyStore rejects deletes and counts writes.
type setOnlyStore struct {
	*database.MemoryStore
	sets int
}

func (s *setOnlyStore) Set(ctx context.Context, path string, data map[string]any) error {
	s.sets++
	return s.MemoryStore.Set(ctx, path, data)
}

func (s *setOnlyStore) DeleteBatch(context.Context, []string) error {
	return errors.New("delete not allowed")
}

func TestDebugManual_ReplacesRecordInOneWrite(t *testing.T) {
	f := newFixture(t)
	_, _, _ = f.do(t, http.MethodGet, "/demo/seed?bias=assam_kamrup_sonapur:red", "")

	store := &setOnlyStore{MemoryStore: f.mem}
	f.server.Store = store

	code, _, _ := f.do(t, http.MethodGet, "/debug/manual?vid=assam_kamrup_sonapur&ph=7.2&turbidity=0.3", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, store.sets)

	doc, err := f.mem.Get(context.Background(), paths.HourlyRecord(sonapur.ID, "2025-07-15T05Z"))
	require.NoError(t, err)
	assert.Equal(t, database.SourceManual, doc.Data["source"])
	assert.Equal(t, "", doc.Data["bias"])
	assert.Contains(t, doc.Data, "daily_cases")
	assert.Nil(t, doc.Data["daily_cases"])
	assert.Equal(t, 7.2, doc.Data["ph"])
	assert.Equal(t, 0.3, doc.Data["turbidity"])
	assert.Equal(t, false, doc.Data["ecoli"])
	assert.Equal(t, 0.0, doc.Data["rainfall_mm"])
}

func TestNotFound(t *testing.T) {
	f := newFixture(t)
	code, env, body := f.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, env.OK)
	assert.Equal(t, "/nope", body["path"])
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)
	_, _, _ = f.do(t, http.MethodPost, "/run/hourly", "")

	resp, err := f.server.App().Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), `water_risk_job_runs_total{job="hourly",outcome="success"} 1`)
}
