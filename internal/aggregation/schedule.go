package aggregation

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/smukkama/water-risk/internal/timer"
)

// Schedule is a standard five-field cron expression evaluated in a fixed
// location.
type Schedule struct {
	expr  string
	sched cron.Schedule
	loc   *time.Location
}

func ParseSchedule(expr string, loc *time.Location) (Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return Schedule{expr: expr, sched: sched, loc: loc}, nil
}

// Next returns the first activation strictly after t.
func (s Schedule) Next(t time.Time) time.Time {
	return s.sched.Next(t.In(s.loc))
}

func (s Schedule) String() string { return s.expr }

// Job is a named task run on a schedule.
type Job struct {
	Name     string
	Schedule Schedule
	Run      func(ctx context.Context) error
}

// Scheduler drives jobs through the timer manager. After each run the job is
// rescheduled for its next activation.
type Scheduler struct {
	timers *timer.TimerManager
	clock  clockwork.Clock
	logger *zap.Logger
}

func NewScheduler(timers *timer.TimerManager, clock clockwork.Clock, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		timers: timers,
		clock:  clock,
		logger: logger.With(zap.String("component", "scheduler")),
	}
}

// Add schedules job's next activation. Runs stop being rescheduled once ctx
// is done.
func (s *Scheduler) Add(ctx context.Context, job Job) error {
	next := job.Schedule.Next(s.clock.Now())
	s.logger.Info("job scheduled",
		zap.String("job", job.Name),
		zap.String("schedule", job.Schedule.String()),
		zap.Time("next_run", next),
	)

	return s.timers.Schedule(job.Name, next, func() {
		if ctx.Err() != nil {
			return
		}
		started := s.clock.Now()
		if err := job.Run(ctx); err != nil {
			s.logger.Error("scheduled job failed", zap.String("job", job.Name), zap.Error(err))
		} else {
			s.logger.Info("scheduled job completed",
				zap.String("job", job.Name),
				zap.Duration("duration", s.clock.Since(started)),
			)
		}
		if ctx.Err() != nil {
			return
		}
		if err := s.Add(ctx, job); err != nil {
			s.logger.Warn("job not rescheduled", zap.String("job", job.Name), zap.Error(err))
		}
	})
}
