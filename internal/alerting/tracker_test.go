package alerting

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/water-risk/internal/database"
	"github.com/smukkama/water-risk/internal/observability"
	"github.com/smukkama/water-risk/internal/protocol"
	"github.com/smukkama/water-risk/pkg/config"
)

var site = config.Site{ID: "assam_nagaon_hojai", Name: "Hojai", District: "Hojai", State: "Assam"}

type recordingPublisher struct {
	events []*protocol.RiskEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, key string, value []byte) error {
	if p.err != nil {
		return p.err
	}
	event, err := protocol.DecodeRiskEvent(value)
	if err != nil {
		return err
	}
	if key != event.SiteID {
		return errors.New("event keyed by the wrong site")
	}
	p.events = append(p.events, event)
	return nil
}

func status(level string, score int) database.StatusRecord {
	return database.StatusRecord{Risk: level, RawRisk: level, Score: score, Reason: []string{}}
}

func TestTracker_Transitions(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 7, 15, 5, 0, 0, 0, time.UTC))
	pub := &recordingPublisher{}
	metrics := observability.NewMetricsForTesting()
	tracker := NewTracker(NewMemoryStatusStore(), pub, clock, metrics, nil)
	ctx := context.Background()

	steps := []struct {
		level    string
		wantType string // empty means no event
	}{
		{"GREEN", ""},
		{"YELLOW", protocol.RiskTypeChanged},
		{"YELLOW", ""},
		{"RED", protocol.RiskTypeEscalated},
		{"RED", ""},
		{"GREEN", protocol.RiskTypeRecovered},
	}

	published := 0
	for i, step := range steps {
		require.NoError(t, tracker.Observe(ctx, site, status(step.level, i)), "step %d", i)
		if step.wantType == "" {
			assert.Len(t, pub.events, published, "step %d", i)
		} else {
			published++
			require.Len(t, pub.events, published, "step %d", i)
			assert.Equal(t, step.wantType, pub.events[published-1].Type)
			assert.Equal(t, step.level, pub.events[published-1].To)
		}
		clock.Advance(time.Hour)
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.TransitionsPublished.WithLabelValues("success")))

	last, err := tracker.LastState(ctx, site.ID)
	require.NoError(t, err)
	assert.Equal(t, "GREEN", last.Risk)
	assert.Equal(t, time.Date(2025, 7, 15, 10, 0, 0, 0, time.UTC), last.Since)
}

func TestTracker_FirstRedEscalates(t *testing.T) {
	pub := &recordingPublisher{}
	tracker := NewTracker(NewMemoryStatusStore(), pub, clockwork.NewFakeClock(), nil, nil)

	require.NoError(t, tracker.Observe(context.Background(), site, status("RED", 7)))
	require.Len(t, pub.events, 1)
	assert.Equal(t, protocol.RiskTypeEscalated, pub.events[0].Type)
	assert.Equal(t, "GREEN", pub.events[0].From)
	assert.Equal(t, "Hojai", pub.events[0].SiteName)
}

func TestTracker_PublishFailureIsRetried(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	metrics := observability.NewMetricsForTesting()
	states := NewMemoryStatusStore()
	tracker := NewTracker(states, pub, clockwork.NewFakeClock(), metrics, nil)
	ctx := context.Background()

	assert.Error(t, tracker.Observe(ctx, site, status("RED", 6)))
	last, err := states.Get(ctx, site.ID)
	require.NoError(t, err)
	assert.Nil(t, last)

	pub.err = nil
	require.NoError(t, tracker.Observe(ctx, site, status("RED", 6)))
	assert.Len(t, pub.events, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TransitionsPublished.WithLabelValues("error")))
}

func TestTracker_WithoutPublisher(t *testing.T) {
	states := NewMemoryStatusStore()
	tracker := NewTracker(states, nil, clockwork.NewFakeClock(), nil, nil)

	require.NoError(t, tracker.Observe(context.Background(), site, status("YELLOW", 3)))
	last, err := states.Get(context.Background(), site.ID)
	require.NoError(t, err)
	assert.Equal(t, "YELLOW", last.Risk)
}

func TestRedisStatusStore_WrapsErrors(t *testing.T) {
	dialErr := errors.New("no route")
	client := redis.NewClient(&redis.Options{
		Addr:       "redis.invalid:6379",
		MaxRetries: -1,
		Dialer: func(context.Context, string, string) (net.Conn, error) {
			return nil, dialErr
		},
	})
	defer client.Close()
	store := NewRedisStatusStore(client, time.Hour)

	_, err := store.Get(context.Background(), site.ID)
	assert.ErrorContains(t, err, "failed to get state from Redis")
	assert.ErrorContains(t, err, "no route")

	err = store.Set(context.Background(), site.ID, &SiteState{Risk: "RED"})
	assert.ErrorContains(t, err, "failed to set state in Redis")
}
