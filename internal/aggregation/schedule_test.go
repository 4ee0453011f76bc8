package aggregation

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smukkama/water-risk/internal/timer"
)

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		name string
		expr string
		from time.Time
		want time.Time
	}{
		{
			name: "daily job later today",
			expr: "55 23 * * *",
			from: time.Date(2025, 7, 15, 10, 0, 0, 0, time.UTC),
			want: time.Date(2025, 7, 15, 18, 25, 0, 0, time.UTC),
		},
		{
			name: "daily job at its own activation moves to tomorrow",
			expr: "55 23 * * *",
			from: time.Date(2025, 7, 15, 18, 25, 0, 0, time.UTC),
			want: time.Date(2025, 7, 16, 18, 25, 0, 0, time.UTC),
		},
		{
			name: "hourly job on the local hour",
			expr: "0 * * * *",
			from: time.Date(2025, 7, 15, 5, 10, 0, 0, time.UTC),
			want: time.Date(2025, 7, 15, 5, 30, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseSchedule(tt.expr, ist)
			require.NoError(t, err)
			assert.Equal(t, tt.expr, s.String())
			assert.True(t, tt.want.Equal(s.Next(tt.from)), "got %s", s.Next(tt.from))
		})
	}
}

func TestParseSchedule_Invalid(t *testing.T) {
	_, err := ParseSchedule("every hour", ist)
	assert.Error(t, err)
}

func waitForTimer(t *testing.T, clock *clockwork.FakeClock) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
}

func TestScheduler_RunsAndReschedules(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 7, 15, 5, 10, 0, 0, time.UTC))
	timers := timer.NewTimerManager(1, clock, zap.NewNop())
	timers.Start()
	defer timers.Stop()

	schedule, err := ParseSchedule("0 * * * *", ist)
	require.NoError(t, err)

	ran := make(chan time.Time, 2)
	scheduler := NewScheduler(timers, clock, zap.NewNop())
	require.NoError(t, scheduler.Add(context.Background(), Job{
		Name:     "hourly",
		Schedule: schedule,
		Run: func(context.Context) error {
			ran <- clock.Now()
			return errBoom
		},
	}))

	next, ok := timers.NextRun("hourly")
	require.True(t, ok)
	assert.True(t, next.Equal(time.Date(2025, 7, 15, 5, 30, 0, 0, time.UTC)))

	waitForTimer(t, clock)
	clock.Advance(20 * time.Minute)

	select {
	case at := <-ran:
		assert.True(t, at.Equal(next))
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}

	// A failed run is still rescheduled.
	assert.Eventually(t, func() bool {
		n, ok := timers.NextRun("hourly")
		return ok && n.Equal(time.Date(2025, 7, 15, 6, 30, 0, 0, time.UTC))
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_StopsWithContext(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 7, 15, 5, 10, 0, 0, time.UTC))
	timers := timer.NewTimerManager(1, clock, zap.NewNop())
	timers.Start()
	defer timers.Stop()

	schedule, err := ParseSchedule("0 * * * *", ist)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ran := make(chan struct{}, 1)
	require.NoError(t, NewScheduler(timers, clock, zap.NewNop()).Add(ctx, Job{
		Name:     "hourly",
		Schedule: schedule,
		Run: func(context.Context) error {
			ran <- struct{}{}
			return nil
		},
	}))
	cancel()

	waitForTimer(t, clock)
	clock.Advance(20 * time.Minute)

	assert.Eventually(t, func() bool {
		return timers.Stats().ScheduledTasks == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, ran)
}
