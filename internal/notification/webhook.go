package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// WebhookConfig holds webhook sink configuration.
type WebhookConfig struct {
	// URL is a webhook endpoint (Slack, Discord, or custom)
	URL string
	// Type determines the payload format: "slack", "discord", or "generic"
	Type string
	// MinFailures is the sync failure count below which no sync alert is sent
	MinFailures int
	// Timeout for HTTP requests
	Timeout time.Duration
}

// WebhookConfigFromEnv reads COSTSYNC_WEBHOOK_URL and COSTSYNC_WEBHOOK_TYPE.
// An unset URL yields a disabled sink.
func WebhookConfigFromEnv() WebhookConfig {
	cfg := WebhookConfig{
		URL:         os.Getenv("COSTSYNC_WEBHOOK_URL"),
		Type:        os.Getenv("COSTSYNC_WEBHOOK_TYPE"),
		MinFailures: 1,
		Timeout:     10 * time.Second,
	}

	if cfg.Type == "" {
		// Auto-detect from URL
		if strings.Contains(cfg.URL, "slack.com") {
			cfg.Type = "slack"
		} else if strings.Contains(cfg.URL, "discord.com") {
			cfg.Type = "discord"
		} else {
			cfg.Type = "generic"
		}
	}

	if v := os.Getenv("COSTSYNC_WEBHOOK_MIN_FAILURES"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			cfg.MinFailures = n
		}
	}

	return cfg
}

// WebhookSink posts events to a configured webhook.
type WebhookSink struct {
	cfg    WebhookConfig
	client *http.Client
}

func NewWebhookSink(cfg WebhookConfig) *WebhookSink {
	return &WebhookSink{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (w *WebhookSink) Send(ctx context.Context, ev Event) error {
	if w.cfg.URL == "" {
		return nil
	}
	if ev.Type == EventSyncCompleted && ev.FailedCount < w.cfg.MinFailures {
		return nil
	}

	var payload []byte
	var err error
	switch w.cfg.Type {
	case "slack":
		payload, err = w.buildSlackPayload(ev)
	case "discord":
		payload, err = w.buildDiscordPayload(ev)
	default:
		payload, err = w.buildGenericPayload(ev)
	}
	if err != nil {
		return fmt.Errorf("build payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", w.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (w *WebhookSink) buildSlackPayload(ev Event) ([]byte, error) {
	title, body := summarize(ev)

	emoji := ":warning:"
	if ev.Type == EventSyncCompleted && ev.FailedCount == ev.TotalCount && ev.TotalCount > 0 {
		emoji = ":x:"
	}

	payload := map[string]interface{}{
		"blocks": []map[string]interface{}{
			{
				"type": "header",
				"text": map[string]string{
					"type": "plain_text",
					"text": fmt.Sprintf("%s %s", emoji, title),
				},
			},
			{
				"type": "section",
				"text": map[string]string{
					"type": "mrkdwn",
					"text": body,
				},
			},
		},
	}
	return json.Marshal(payload)
}

func (w *WebhookSink) buildDiscordPayload(ev Event) ([]byte, error) {
	title, body := summarize(ev)

	color := 16776960 // Yellow
	if ev.Type == EventSyncCompleted && ev.FailedCount == ev.TotalCount && ev.TotalCount > 0 {
		color = 16711680 // Red
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       title,
				"description": body,
				"color":       color,
				"timestamp":   ev.Timestamp.Format(time.RFC3339),
			},
		},
	}
	return json.Marshal(payload)
}

func (w *WebhookSink) buildGenericPayload(ev Event) ([]byte, error) {
	payload := map[string]interface{}{
		"event_type": string(ev.Type),
		"tenant":     ev.Tenant,
		"timestamp":  ev.Timestamp.Format(time.RFC3339),
	}
	switch ev.Type {
	case EventSyncCompleted:
		payload["total_count"] = ev.TotalCount
		payload["success_count"] = ev.SuccessCount
		payload["failed_count"] = ev.FailedCount
		payload["duration_ms"] = ev.Duration.Milliseconds()
		payload["failures"] = ev.Failures
	case EventAnomaly:
		payload["provider"] = ev.Provider
		payload["account_id"] = ev.AccountID
		payload["anomalies"] = ev.Anomalies
	case EventWarning:
		payload["provider"] = ev.Provider
		payload["account_id"] = ev.AccountID
		payload["message"] = ev.Message
	}
	return json.Marshal(payload)
}

func summarize(ev Event) (title, body string) {
	switch ev.Type {
	case EventAnomaly:
		title = fmt.Sprintf("Cost anomaly: %s / %s", ev.Tenant, ev.Provider)
		var b strings.Builder
		for _, a := range ev.Anomalies {
			fmt.Fprintf(&b, "• *%s* on %s: $%.2f vs baseline $%.2f (%+.0f%%)\n",
				a.Service, a.Date.Format("2006-01-02"), a.ActualCost, a.BaselineCost, a.VariancePercent)
		}
		body = b.String()
	case EventWarning:
		title = fmt.Sprintf("Cost sync warning: %s / %s", ev.Tenant, ev.Provider)
		body = fmt.Sprintf("*%s*: %s\n", ev.AccountID, ev.Message)
	default:
		title = fmt.Sprintf("Cost sync: %s", ev.Tenant)
		var b strings.Builder
		fmt.Fprintf(&b, "*Status:* %d/%d failed, took %s\n",
			ev.FailedCount, ev.TotalCount, ev.Duration.Round(time.Millisecond))
		for _, f := range ev.Failures {
			fmt.Fprintf(&b, "• *%s* (%s): [%s] %s\n", f.AccountID, f.Provider, f.Kind, f.Error)
		}
		body = b.String()
	}
	return title, body
}
