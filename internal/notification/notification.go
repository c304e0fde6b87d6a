// Package notification delivers sync and anomaly events to webhooks and
// email. Delivery failures are logged and counted but never fail a sync.
package notification

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudbill/costsync/internal/costs"
)

// EventType classifies an outgoing notification.
type EventType string

const (
	// EventSyncCompleted summarizes one tenant sync, including failures.
	EventSyncCompleted EventType = "sync_completed"
	// EventAnomaly reports baseline variance rows over the threshold.
	EventAnomaly EventType = "anomaly"
	// EventWarning reports a degraded step that did not fail the sync, such
	// as baseline detail fetches giving up for an account.
	EventWarning EventType = "warning"
)

// Event is one notification to deliver.
type Event struct {
	Type      EventType
	Tenant    string
	Timestamp time.Time

	// Sync summary, set for EventSyncCompleted.
	TotalCount   int
	SuccessCount int
	FailedCount  int
	Duration     time.Duration
	Failures     []AccountFailure

	// Anomaly rows, set for EventAnomaly.
	Provider  string
	AccountID string
	Anomalies []costs.AnomalyBaseline

	// Message describes the degradation, set for EventWarning.
	Message string
}

// AccountFailure describes one account that failed to sync.
type AccountFailure struct {
	AccountID string `json:"account_id"`
	Provider  string `json:"provider"`
	Kind      string `json:"kind"`
	Error     string `json:"error"`
}

// Sink delivers events somewhere.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// MultiSink fans out to several sinks, logging failures instead of
// returning them.
type MultiSink struct {
	sinks []Sink
	log   zerolog.Logger
}

func NewMultiSink(log zerolog.Logger, sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks, log: log}
}

func (m *MultiSink) Send(ctx context.Context, ev Event) error {
	for _, s := range m.sinks {
		if err := s.Send(ctx, ev); err != nil {
			m.log.Warn().
				Err(err).
				Str("tenant", ev.Tenant).
				Str("event", string(ev.Type)).
				Msg("notification delivery failed")
		}
	}
	return nil
}
