package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/idfuse/internal/model"
)

// DefaultBufferSize bounds the emitter queue when config gives no value.
const DefaultBufferSize = 256

// sinkTimeout caps how long the drain goroutine waits on the sink for a
// single event.
const sinkTimeout = 5 * time.Second

type event struct {
	call   *model.CallOutcome
	fusion *model.FusionOutcome
}

// Emitter decouples the request path from the telemetry sink with a bounded
// queue drained by a single goroutine. When the queue is full new events
// are dropped and counted rather than blocking the caller.
type Emitter struct {
	sink    Sink
	events  chan event
	dropped atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// NewEmitter starts an emitter draining into sink. A non-positive buffer
// falls back to DefaultBufferSize.
func NewEmitter(sink Sink, buffer int) *Emitter {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	e := &Emitter{
		sink:   sink,
		events: make(chan event, buffer),
		done:   make(chan struct{}),
	}
	go e.drain()
	return e
}

// EmitCall queues one per-call event. Never blocks.
func (e *Emitter) EmitCall(o model.CallOutcome) {
	status := "success"
	switch {
	case o.TimedOut:
		status = "timeout"
	case o.Err != "":
		status = "error"
	}
	backendCalls.WithLabelValues(o.Backend, status).Inc()
	backendLatency.WithLabelValues(o.Backend).Observe(o.LatencyMS / 1000)

	e.enqueue(event{call: &o})
}

// EmitFusion queues one per-request fusion event. Never blocks.
func (e *Emitter) EmitFusion(o model.FusionOutcome) {
	decisions.WithLabelValues(string(o.Decision)).Inc()

	e.enqueue(event{fusion: &o})
}

func (e *Emitter) enqueue(ev event) {
	select {
	case e.events <- ev:
	default:
		e.dropped.Add(1)
		droppedEvents.Inc()
	}
}

// Dropped reports how many events were discarded due to a full buffer.
func (e *Emitter) Dropped() int64 {
	return e.dropped.Load()
}

// Close stops accepting events and waits for the queue to drain.
func (e *Emitter) Close() {
	e.closeOnce.Do(func() {
		close(e.events)
		<-e.done
	})
}

func (e *Emitter) drain() {
	defer close(e.done)
	for ev := range e.events {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		var err error
		switch {
		case ev.call != nil:
			err = e.sink.RecordCall(ctx, *ev.call)
		case ev.fusion != nil:
			err = e.sink.RecordFusion(ctx, *ev.fusion)
		}
		cancel()
		if err != nil {
			// Best effort only; the request already moved on.
			zap.L().Warn("telemetry: sink write failed", zap.Error(err))
		}
	}
}
