// Package costs holds the normalized cost domain model shared by the
// pipeline: snapshots, daily points, anomaly baselines, and sync outcomes.
package costs

import (
	"time"

	"github.com/cloudbill/costsync/pkg/providers/cloudproviders"
)

const DateLayout = "2006-01-02"

// CostSnapshot is the normalized result of one provider-account fetch over
// one date range. CurrentMonth is always the sum of DailyData points falling
// in the snapshot month, never a provider-reported lifetime figure.
// LastMonth, Forecast, and ForecastConfidence are nil when unknown; they are
// never approximated from other fields.
type CostSnapshot struct {
	Tenant    string    `json:"tenant"`
	Provider  string    `json:"provider"`
	AccountID string    `json:"account_id"`
	Currency  string    `json:"currency"`
	FetchedAt time.Time `json:"fetched_at"`

	RangeStart time.Time `json:"range_start"`
	RangeEnd   time.Time `json:"range_end"`

	CurrentMonth       float64  `json:"current_month"`
	LastMonth          *float64 `json:"last_month,omitempty"`
	Forecast           *float64 `json:"forecast,omitempty"`
	ForecastConfidence *float64 `json:"forecast_confidence,omitempty"`
	Credits            float64  `json:"credits"`
	Savings            float64  `json:"savings"`

	Services  []ServiceCost    `json:"services"`
	DailyData []DailyCostPoint `json:"daily_data"`
}

// ServiceCost is the month-to-date cost of one service. Tax, fee, credit, and
// refund line items are filtered out before this is built.
type ServiceCost struct {
	Name          string  `json:"name"`
	Cost          float64 `json:"cost"`
	ChangePercent float64 `json:"change_percent"`
}

// DailyCostPoint is the cost for one calendar date. Cost is only negative
// when the source explicitly reported a credit.
type DailyCostPoint struct {
	Date time.Time `json:"date"`
	Cost float64   `json:"cost"`
}

// AnomalyBaseline is one (service, date) row of the rolling baseline:
// expected versus actual cost with the relative deviation.
type AnomalyBaseline struct {
	Service         string    `json:"service"`
	Date            time.Time `json:"date"`
	BaselineCost    float64   `json:"baseline_cost"`
	ActualCost      float64   `json:"actual_cost"`
	VariancePercent float64   `json:"variance_percent"`
}

// SyncOutcome is the per-account result of a sync: either a populated
// snapshot plus baseline updates, or a structured failure. One account's
// failure never invalidates another account's success.
type SyncOutcome struct {
	Tenant    string `json:"tenant"`
	AccountID string `json:"account_id"`
	Provider  string `json:"provider"`
	Success   bool   `json:"success"`

	Snapshot  *CostSnapshot     `json:"snapshot,omitempty"`
	Baselines []AnomalyBaseline `json:"baselines,omitempty"`

	ErrorKind cloudproviders.ErrorKind `json:"error_kind,omitempty"`
	Message   string                   `json:"message,omitempty"`

	Duration time.Duration `json:"duration_ns"`
}

// Failure builds a failed outcome from a classified error.
func Failure(tenant, accountID, provider string, err error) SyncOutcome {
	return SyncOutcome{
		Tenant:    tenant,
		AccountID: accountID,
		Provider:  provider,
		ErrorKind: cloudproviders.KindOf(err),
		Message:   err.Error(),
	}
}

// MonthStart returns midnight UTC on the first day of t's month.
func MonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// DaysInMonth returns the number of calendar days in t's month.
func DaysInMonth(t time.Time) int {
	return MonthStart(t).AddDate(0, 1, 0).Add(-time.Hour).Day()
}

// DaysElapsed returns how many days of t's month have elapsed, counting t's
// own day.
func DaysElapsed(t time.Time) int {
	return t.Day()
}

// DateOnly truncates t to midnight UTC.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Period formats t's month as the persistence period key, e.g. "2026-08".
func Period(t time.Time) string {
	return t.Format("2006-01")
}
