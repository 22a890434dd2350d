// Package telemetry carries per-call and per-fusion events off the request
// path. Emission is fire-and-forget: a slow or failing sink must never
// block or fail an identify request.
package telemetry

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/idfuse/internal/model"
)

// Sink consumes telemetry events. Implementations may block or fail; the
// Emitter shields the request path from both.
type Sink interface {
	RecordCall(ctx context.Context, o model.CallOutcome) error
	RecordFusion(ctx context.Context, o model.FusionOutcome) error
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) RecordCall(context.Context, model.CallOutcome) error     { return nil }
func (NopSink) RecordFusion(context.Context, model.FusionOutcome) error { return nil }

// CallLogStore is the subset of the persistence layer the store sink needs.
type CallLogStore interface {
	InsertCallOutcome(ctx context.Context, o model.CallOutcome) error
}

// StoreSink persists per-call events as service log rows. Fusion events are
// not persisted here; the orchestrator writes the request-level access row
// with the full decision triple.
type StoreSink struct {
	store CallLogStore
}

// NewStoreSink creates a sink backed by the audit store.
func NewStoreSink(store CallLogStore) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) RecordCall(ctx context.Context, o model.CallOutcome) error {
	return s.store.InsertCallOutcome(ctx, o)
}

func (s *StoreSink) RecordFusion(_ context.Context, o model.FusionOutcome) error {
	zap.L().Debug("fusion outcome",
		zap.String("request_id", o.RequestID),
		zap.String("decision", string(o.Decision)),
		zap.Int("candidates", len(o.Candidates)),
	)
	return nil
}
