package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/idfuse/internal/config"
	"github.com/sells-group/idfuse/internal/model"
)

func alertCfg() config.MonitoringConfig {
	return config.MonitoringConfig{
		LookbackHours:         24,
		ErrorRateThreshold:    0.1,
		TimeoutRateThreshold:  0.25,
		P95LatencyThresholdMS: 5000,
	}
}

func TestEvaluateHealthySnapshot(t *testing.T) {
	a := NewAlerter(alertCfg())
	snap := &MetricsSnapshot{
		Summary:       &model.SummaryMetrics{TotalRequests: 100, ErrorRate: 0.01, P95LatencyMS: 800},
		TopTimeouts:   []model.TimeoutRank{{Service: "alice", TotalCalls: 100, Timeouts: 2, TimeoutRate: 0.02}},
		LookbackHours: 24,
	}
	assert.Empty(t, a.Evaluate(snap))
}

func TestEvaluateErrorRateAlert(t *testing.T) {
	a := NewAlerter(alertCfg())
	snap := &MetricsSnapshot{
		Summary:       &model.SummaryMetrics{TotalRequests: 50, ErrorRate: 0.3},
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertErrorRate, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "30.0%")
}

func TestEvaluateSkipsThinWindow(t *testing.T) {
	a := NewAlerter(alertCfg())
	snap := &MetricsSnapshot{
		Summary:       &model.SummaryMetrics{TotalRequests: 2, ErrorRate: 1.0},
		LookbackHours: 24,
	}
	assert.Empty(t, a.Evaluate(snap))
}

func TestEvaluateBackendTimeoutAlert(t *testing.T) {
	a := NewAlerter(alertCfg())
	snap := &MetricsSnapshot{
		TopTimeouts: []model.TimeoutRank{
			{Service: "carol", TotalCalls: 20, Timeouts: 10, TimeoutRate: 0.5},
			{Service: "alice", TotalCalls: 20, Timeouts: 1, TimeoutRate: 0.05},
		},
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertBackendTimeout, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "carol")
}

func TestEvaluateLatencyAlert(t *testing.T) {
	a := NewAlerter(alertCfg())
	snap := &MetricsSnapshot{
		Summary:       &model.SummaryMetrics{TotalRequests: 100, P95LatencyMS: 9000},
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertLatency, alerts[0].Type)
}

func TestSendAlerts(t *testing.T) {
	var received []Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var a Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&a))
		received = append(received, a)
	}))
	defer srv.Close()

	cfg := alertCfg()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg)

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertErrorRate, Severity: "high", Message: "m1"},
		{Type: AlertLatency, Severity: "medium", Message: "m2"},
	})
	assert.Equal(t, 2, sent)
	require.Len(t, received, 2)
	assert.Equal(t, AlertErrorRate, received[0].Type)
}

func TestSendAlertsNoWebhook(t *testing.T) {
	a := NewAlerter(alertCfg())
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertErrorRate}})
	assert.Zero(t, sent)
}

func TestSendAlertsWebhookFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := alertCfg()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg)

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertErrorRate}})
	assert.Zero(t, sent)
}
