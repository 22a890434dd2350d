package model

import "time"

// SummaryMetrics aggregates request-level audit rows over a window.
type SummaryMetrics struct {
	TotalRequests int     `json:"total_requests"`
	AvgLatencyMS  float64 `json:"avg_latency_ms"`
	P50LatencyMS  float64 `json:"p50_latency_ms"`
	P95LatencyMS  float64 `json:"p95_latency_ms"`
	ErrorRate     float64 `json:"error_rate"`
	QAUsageRate   float64 `json:"qa_usage_rate"`
}

// DecisionCount is one row of the decision breakdown.
type DecisionCount struct {
	Decision   Decision `json:"decision"`
	Count      int      `json:"count"`
	Percentage float64  `json:"percentage"`
}

// ServiceMetrics aggregates per-backend call logs over a window.
type ServiceMetrics struct {
	Service      string      `json:"service_name"`
	Type         ServiceType `json:"service_type"`
	TotalCalls   int         `json:"total_calls"`
	AvgLatencyMS float64     `json:"avg_latency_ms"`
	TimeoutCount int         `json:"timeout_count"`
	ErrorCount   int         `json:"error_count"`
	SuccessRate  float64     `json:"success_rate"`
}

// TimeoutRank is one row of the worst-timeout backend ranking.
type TimeoutRank struct {
	Service      string  `json:"service_name"`
	TotalCalls   int     `json:"total_calls"`
	Timeouts     int     `json:"timeouts"`
	TimeoutRate  float64 `json:"timeout_rate"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
}

// HourlyBucket is one hour of request volume for trend views.
type HourlyBucket struct {
	Hour         time.Time `json:"timestamp"`
	Requests     int       `json:"requests"`
	AvgLatencyMS float64   `json:"avg_latency_ms"`
}
