package providers

import "errors"

// Granularity describes the finest date resolution a provider's billing API
// can report.
type Granularity string

const (
	// GranularityDaily means the provider reports one cost figure per day.
	GranularityDaily Granularity = "daily"
	// GranularityInvoice means the provider only exposes whole invoices; the
	// adapter surfaces one point per invoice date and never interpolates days.
	GranularityInvoice Granularity = "invoice"
)

// Provider is the base interface for all cloud billing providers.
type Provider interface {
	// Key returns the unique identifier for the provider (e.g., "aws", "gcp").
	Key() string
	// Name returns the human-readable name of the provider.
	Name() string
	// Granularity returns the finest date resolution the provider reports.
	Granularity() Granularity
}

// Common errors shared across providers.
var (
	ErrProviderNotFound = errors.New("provider not found")
	ErrNoCredentials    = errors.New("missing credentials")
)
