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

	"github.com/sells-group/autoprice/internal/config"
	"github.com/sells-group/autoprice/internal/governance"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertExecutionFailureRate AlertType = "execution_failure_rate"
	AlertPendingBacklog       AlertType = "pending_backlog"
	AlertFrozenSegments       AlertType = "frozen_segments"
	AlertKillSwitch           AlertType = "kill_switch_engaged"
	AlertStrategyDrift        AlertType = "strategy_drift"
)

// minFinishedForRate avoids alerting on a handful of early failures.
const minFinishedForRate = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

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

	finished := snap.ChangesApplied + snap.ChangesFailed
	if finished >= minFinishedForRate && a.cfg.FailureRateThreshold > 0 && snap.FailureRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertExecutionFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Market execution failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.FailureRate*100, a.cfg.FailureRateThreshold*100,
				snap.ChangesFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailureRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.ChangesFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.PendingBacklogMax > 0 && snap.PendingBacklog > a.cfg.PendingBacklogMax {
		alerts = append(alerts, Alert{
			Type:     AlertPendingBacklog,
			Severity: "medium",
			Message:  fmt.Sprintf("%d recommendations pending (max %d)", snap.PendingBacklog, a.cfg.PendingBacklogMax),
			Details: map[string]any{
				"pending": snap.PendingBacklog,
				"max":     a.cfg.PendingBacklogMax,
			},
			Timestamp: now,
		})
	}

	if n := len(snap.FrozenSegments); n > 0 {
		alerts = append(alerts, Alert{
			Type:      AlertFrozenSegments,
			Severity:  "medium",
			Message:   fmt.Sprintf("%d segment(s) frozen at tier 0", n),
			Details:   map[string]any{"segments": snap.FrozenSegments},
			Timestamp: now,
		})
	}

	if snap.KillSwitches[governance.DomainPricing] {
		alerts = append(alerts, Alert{
			Type:      AlertKillSwitch,
			Severity:  "high",
			Message:   "Pricing kill switch is engaged; autonomous changes are held for review",
			Timestamp: now,
		})
	}

	for _, s := range snap.HighDrift {
		alerts = append(alerts, Alert{
			Type:     AlertStrategyDrift,
			Severity: "high",
			Message:  fmt.Sprintf("Strategy %s: %s (%s)", s.StrategyName, s.Code, s.Detail),
			Details: map[string]any{
				"strategy_id": s.StrategyID,
				"code":        s.Code,
			},
			Timestamp: now,
		})
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
