// Package store persists audit rows (access and service logs) and answers
// the analytics queries built on them.
package store

import (
	"context"
	"time"

	"github.com/sells-group/idfuse/internal/model"
)

// Store defines the persistence interface for audit logging and analytics.
type Store interface {
	// Audit writes
	InsertCallOutcome(ctx context.Context, o model.CallOutcome) error
	InsertAccessRecord(ctx context.Context, r model.AccessRecord) error

	// Analytics over a lookback window
	SummaryMetrics(ctx context.Context, since time.Time) (*model.SummaryMetrics, error)
	DecisionMetrics(ctx context.Context, since time.Time) ([]model.DecisionCount, error)
	ServiceMetrics(ctx context.Context, since time.Time) ([]model.ServiceMetrics, error)
	TopTimeouts(ctx context.Context, since time.Time, limit int) ([]model.TimeoutRank, error)
	HourlyVolume(ctx context.Context, since time.Time) ([]model.HourlyBucket, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// percentile returns the p-th percentile of an ascending-sorted slice using
// nearest-rank, or 0 for an empty slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p*float64(len(sorted))+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// round2 keeps latency aggregates readable in API responses.
func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
