package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/idfuse/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertErrorRate      AlertType = "error_rate"
	AlertBackendTimeout AlertType = "backend_timeout_rate"
	AlertLatency        AlertType = "p95_latency"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// minRequestsForAlerts keeps thin windows from tripping rate alerts.
const minRequestsForAlerts = 5

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if snap.Summary != nil && snap.Summary.TotalRequests >= minRequestsForAlerts {
		if a.cfg.ErrorRateThreshold > 0 && snap.Summary.ErrorRate > a.cfg.ErrorRateThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertErrorRate,
				Severity: "high",
				Message: fmt.Sprintf(
					"Request error rate %.1f%% exceeds threshold %.1f%% (%d requests in last %dh)",
					snap.Summary.ErrorRate*100, a.cfg.ErrorRateThreshold*100,
					snap.Summary.TotalRequests, snap.LookbackHours,
				),
				Details: map[string]any{
					"error_rate":     snap.Summary.ErrorRate,
					"threshold":      a.cfg.ErrorRateThreshold,
					"total_requests": snap.Summary.TotalRequests,
				},
				Timestamp: now,
			})
		}
		if a.cfg.P95LatencyThresholdMS > 0 && snap.Summary.P95LatencyMS > a.cfg.P95LatencyThresholdMS {
			alerts = append(alerts, Alert{
				Type:     AlertLatency,
				Severity: "medium",
				Message: fmt.Sprintf(
					"p95 latency %.0fms exceeds threshold %.0fms in last %dh",
					snap.Summary.P95LatencyMS, a.cfg.P95LatencyThresholdMS, snap.LookbackHours,
				),
				Details: map[string]any{
					"p95_latency_ms": snap.Summary.P95LatencyMS,
					"threshold_ms":   a.cfg.P95LatencyThresholdMS,
				},
				Timestamp: now,
			})
		}
	}

	if a.cfg.TimeoutRateThreshold > 0 {
		for _, tr := range snap.TopTimeouts {
			if tr.TotalCalls < minRequestsForAlerts || tr.TimeoutRate <= a.cfg.TimeoutRateThreshold {
				continue
			}
			alerts = append(alerts, Alert{
				Type:     AlertBackendTimeout,
				Severity: "high",
				Message: fmt.Sprintf(
					"Backend %q timeout rate %.1f%% exceeds threshold %.1f%% (%d/%d calls in last %dh)",
					tr.Service, tr.TimeoutRate*100, a.cfg.TimeoutRateThreshold*100,
					tr.Timeouts, tr.TotalCalls, snap.LookbackHours,
				),
				Details: map[string]any{
					"backend":      tr.Service,
					"timeout_rate": tr.TimeoutRate,
					"threshold":    a.cfg.TimeoutRateThreshold,
					"timeouts":     tr.Timeouts,
					"total_calls":  tr.TotalCalls,
				},
				Timestamp: now,
			})
		}
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
