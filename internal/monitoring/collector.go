// Package monitoring snapshots the audit store's analytics and raises
// webhook alerts when service health degrades.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/idfuse/internal/model"
	"github.com/sells-group/idfuse/internal/store"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	Summary     *model.SummaryMetrics  `json:"summary"`
	Decisions   []model.DecisionCount  `json:"decisions"`
	Services    []model.ServiceMetrics `json:"services"`
	TopTimeouts []model.TimeoutRank    `json:"top_timeouts"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the audit store.
type Collector struct {
	store store.Store
}

// NewCollector creates a metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	if lookbackHours <= 0 {
		lookbackHours = 24
	}
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}
	since := snap.CollectedAt.Add(-time.Duration(lookbackHours) * time.Hour)

	summary, err := c.store.SummaryMetrics(ctx, since)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: summary metrics")
	}
	snap.Summary = summary

	decisions, err := c.store.DecisionMetrics(ctx, since)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: decision metrics")
	}
	snap.Decisions = decisions

	services, err := c.store.ServiceMetrics(ctx, since)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: service metrics")
	}
	snap.Services = services

	timeouts, err := c.store.TopTimeouts(ctx, since, 5)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: top timeouts")
	}
	snap.TopTimeouts = timeouts

	return snap, nil
}
