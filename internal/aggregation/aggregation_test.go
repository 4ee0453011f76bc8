package aggregation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smukkama/water-risk/internal/cases"
	"github.com/smukkama/water-risk/internal/database"
	"github.com/smukkama/water-risk/internal/observability"
	"github.com/smukkama/water-risk/internal/season"
	"github.com/smukkama/water-risk/pkg/config"
)

var (
	ist   = time.FixedZone("IST", 5*3600+1800)
	paths = database.NewPaths("appdata/main")

	sonapur = config.Site{ID: "assam_kamrup_sonapur", Name: "Sonapur", District: "Kamrup", State: "Assam", Lat: 26.1167, Lon: 91.9667}
	hojai   = config.Site{ID: "assam_nagaon_hojai", Name: "Hojai", District: "Hojai", State: "Assam", Lat: 26.0, Lon: 92.85}
	sites   = []config.Site{sonapur, hojai}
)

// constRand returns the same draw every time. 0.99 never rains and always
// lands in the last bucket of a seasonal draw.
type constRand float64

func (c constRand) Float64() float64 { return float64(c) }

// failingStore fails selected operations on paths under prefix.
type failingStore struct {
	*database.MemoryStore
	pingErr   error
	setPrefix string
	deleteErr error
}

var errBoom = errors.New("boom")

func (f *failingStore) Ping(ctx context.Context) error {
	if f.pingErr != nil {
		return f.pingErr
	}
	return f.MemoryStore.Ping(ctx)
}

func (f *failingStore) Set(ctx context.Context, path string, data map[string]any) error {
	if f.setPrefix != "" && strings.HasPrefix(path, f.setPrefix) {
		return errBoom
	}
	return f.MemoryStore.Set(ctx, path, data)
}

func (f *failingStore) DeleteBatch(ctx context.Context, paths []string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.MemoryStore.DeleteBatch(ctx, paths)
}

type fixture struct {
	store   database.Store
	mem     *database.MemoryStore
	clock   *clockwork.FakeClock
	metrics *observability.Metrics
	deps    Deps
}

func newFixture(t *testing.T, at time.Time, wrap func(*database.MemoryStore) database.Store) *fixture {
	t.Helper()
	mem := database.NewMemoryStore()
	var store database.Store = mem
	if wrap != nil {
		store = wrap(mem)
	}
	clock := clockwork.NewFakeClockAt(at)
	metrics := observability.NewMetricsForTesting()
	return &fixture{
		store:   store,
		mem:     mem,
		clock:   clock,
		metrics: metrics,
		deps: Deps{
			Store:    store,
			Paths:    paths,
			Sites:    sites,
			Calendar: season.NewCalendar(ist, clock),
			Resolver: cases.NewResolver(store, paths, []string{"ashaworkers_reports", "asha_reports", "reports"}, zap.NewNop()),
			Metrics:  metrics,
			Logger:   zap.NewNop(),
		},
	}
}

func (f *fixture) put(t *testing.T, path string, v any) {
	t.Helper()
	data, ok := v.(map[string]any)
	if !ok {
		var err error
		data, err = database.Encode(v)
		require.NoError(t, err)
	}
	require.NoError(t, f.mem.Set(context.Background(), path, data))
}

func (f *fixture) get(t *testing.T, path string, v any) {
	t.Helper()
	doc, err := f.mem.Get(context.Background(), path)
	require.NoError(t, err, path)
	require.NoError(t, doc.Decode(v))
}

type recordingObserver struct {
	mu       sync.Mutex
	statuses map[string]database.StatusRecord
	err      error
}

func (o *recordingObserver) Observe(_ context.Context, site config.Site, status database.StatusRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.statuses == nil {
		o.statuses = map[string]database.StatusRecord{}
	}
	o.statuses[site.ID] = status
	return o.err
}
