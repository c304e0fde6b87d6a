package notification

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudbill/costsync/internal/costs"
)

func TestWebhookSinkGenericPayload(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
	}))
	defer srv.Close()

	sink := NewWebhookSink(WebhookConfig{URL: srv.URL, Type: "generic", MinFailures: 1, Timeout: time.Second})
	err := sink.Send(context.Background(), Event{
		Type:         EventSyncCompleted,
		Tenant:       "acme",
		Timestamp:    time.Now(),
		TotalCount:   3,
		SuccessCount: 2,
		FailedCount:  1,
		Failures:     []AccountFailure{{AccountID: "prod", Provider: "aws", Kind: "timeout", Error: "deadline exceeded"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "sync_completed", got["event_type"])
	assert.Equal(t, "acme", got["tenant"])
	assert.EqualValues(t, 1, got["failed_count"])
}

func TestWebhookSinkSkipsBelowFailureThreshold(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	sink := NewWebhookSink(WebhookConfig{URL: srv.URL, Type: "generic", MinFailures: 1, Timeout: time.Second})
	err := sink.Send(context.Background(), Event{Type: EventSyncCompleted, Tenant: "acme", FailedCount: 0})
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestWebhookSinkAnomalyAlwaysSent(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	sink := NewWebhookSink(WebhookConfig{URL: srv.URL, Type: "slack", MinFailures: 5, Timeout: time.Second})
	err := sink.Send(context.Background(), Event{
		Type:      EventAnomaly,
		Tenant:    "acme",
		Provider:  "aws",
		Anomalies: []costs.AnomalyBaseline{{Service: "EC2", ActualCost: 180, BaselineCost: 100, VariancePercent: 80}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWebhookSinkWarningPayload(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
	}))
	defer srv.Close()

	// MinFailures only gates sync summaries, never warnings.
	sink := NewWebhookSink(WebhookConfig{URL: srv.URL, Type: "generic", MinFailures: 5, Timeout: time.Second})
	err := sink.Send(context.Background(), Event{
		Type:      EventWarning,
		Tenant:    "acme",
		Provider:  "aws",
		AccountID: "prod",
		Timestamp: time.Now(),
		Message:   "baseline detail fetch failed for Amazon EC2; baselines degraded",
	})
	require.NoError(t, err)

	assert.Equal(t, "warning", got["event_type"])
	assert.Equal(t, "prod", got["account_id"])
	assert.Contains(t, got["message"], "baselines degraded")
}

func TestWebhookSinkReportsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := NewWebhookSink(WebhookConfig{URL: srv.URL, Type: "generic", MinFailures: 1, Timeout: time.Second})
	err := sink.Send(context.Background(), Event{Type: EventSyncCompleted, FailedCount: 2, TotalCount: 2})
	assert.Error(t, err)
}
