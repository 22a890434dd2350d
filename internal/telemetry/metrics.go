package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	backendCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "idfuse_backend_calls_total",
		Help: "Outbound collaborator calls by backend and status.",
	}, []string{"backend", "status"})

	backendLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "idfuse_backend_latency_seconds",
		Help:    "Outbound call latency by backend.",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend"})

	decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "idfuse_decisions_total",
		Help: "Fusion decisions by outcome.",
	}, []string{"decision"})

	droppedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "idfuse_telemetry_dropped_total",
		Help: "Telemetry events dropped because the emitter buffer was full.",
	})
)
