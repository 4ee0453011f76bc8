// Package alerting tracks each site's displayed risk level between hourly
// runs and publishes an event whenever it changes.
package alerting

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/smukkama/water-risk/internal/database"
	"github.com/smukkama/water-risk/internal/observability"
	"github.com/smukkama/water-risk/internal/protocol"
	"github.com/smukkama/water-risk/internal/risk"
	"github.com/smukkama/water-risk/pkg/config"
)

// EventPublisher delivers encoded transition events keyed by site id.
type EventPublisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Tracker compares each new status with the last published state
type Tracker struct {
	states    StatusStore
	publisher EventPublisher
	clock     clockwork.Clock
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewTracker creates a tracker. A nil publisher records transitions without
// publishing them.
func NewTracker(states StatusStore, publisher EventPublisher, clock clockwork.Clock, metrics *observability.Metrics, logger *zap.Logger) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		states:    states,
		publisher: publisher,
		clock:     clock,
		metrics:   metrics,
		logger:    logger.With(zap.String("component", "alerting")),
	}
}

// Observe records status for site. A site seen for the first time starts
// from GREEN, so a first RED status escalates. When publishing fails the
// stored state is left alone and the transition is retried on the next run.
func (t *Tracker) Observe(ctx context.Context, site config.Site, status database.StatusRecord) error {
	prev, err := t.states.Get(ctx, site.ID)
	if err != nil {
		return fmt.Errorf("failed to read last status: %w", err)
	}
	now := t.clock.Now()

	from := string(risk.Green)
	if prev != nil {
		from = prev.Risk
	}
	if from == status.Risk {
		state := &SiteState{Risk: status.Risk, Score: status.Score, Since: now, LastChecked: now}
		if prev != nil {
			state.Since = prev.Since
		}
		return t.states.Set(ctx, site.ID, state)
	}

	event := &protocol.RiskEvent{
		Type:       protocol.ClassifyTransition(from, status.Risk),
		SiteID:     site.ID,
		SiteName:   site.Name,
		District:   site.District,
		From:       from,
		To:         status.Risk,
		Score:      status.Score,
		Reasons:    status.Reason,
		OccurredAt: now,
	}
	if err := t.publish(ctx, event); err != nil {
		return err
	}

	t.logger.Info("risk transition",
		zap.String("site_id", site.ID),
		zap.String("type", event.Type),
		zap.String("from", from),
		zap.String("to", status.Risk),
	)
	return t.states.Set(ctx, site.ID, &SiteState{Risk: status.Risk, Score: status.Score, Since: now, LastChecked: now})
}

func (t *Tracker) publish(ctx context.Context, event *protocol.RiskEvent) error {
	if t.publisher == nil {
		return nil
	}
	data, err := protocol.EncodeRiskEvent(event)
	if err != nil {
		return err
	}
	if err := t.publisher.Publish(ctx, event.SiteID, data); err != nil {
		t.metrics.TransitionsPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to publish transition: %w", err)
	}
	t.metrics.TransitionsPublished.WithLabelValues("success").Inc()
	return nil
}

// LastState returns the last published state for siteID, or nil.
func (t *Tracker) LastState(ctx context.Context, siteID string) (*SiteState, error) {
	return t.states.Get(ctx, siteID)
}
