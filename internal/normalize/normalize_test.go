package normalize

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudbill/costsync/pkg/providers/cloudproviders"
)

func augustWindow() Window {
	return Window{
		Start: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC),
	}
}

func TestNormalizeStripsTaxLines(t *testing.T) {
	raw := &cloudproviders.RawCostData{
		ProviderKey: "aws",
		Lines: []cloudproviders.RawCostLine{
			{Date: "2026-08-10", Service: "Amazon EC2", Amount: 120},
			{Date: "2026-08-10", Service: "Tax - VAT", Amount: 50},
			{Date: "2026-08-10", Service: "AWS Support (Business)", Amount: 29, Kind: cloudproviders.LineKindSupport},
		},
	}

	snap, _ := Normalize(raw, "aws", augustWindow(), Options{})

	require.Len(t, snap.Services, 1)
	assert.Equal(t, "Amazon EC2", snap.Services[0].Name)
	for _, s := range snap.Services {
		assert.False(t, Denied(s.Name), "denylisted labels must never appear in services")
	}

	require.Len(t, snap.DailyData, 1)
	assert.InDelta(t, 120, snap.DailyData[0].Cost, 1e-9, "tax must not contribute to daily spend")
	assert.InDelta(t, 120, snap.CurrentMonth, 1e-9)
}

func TestNormalizeRejectsNonFiniteValues(t *testing.T) {
	raw := &cloudproviders.RawCostData{
		Lines: []cloudproviders.RawCostLine{
			{Date: "2026-08-10", Service: "Compute", Amount: math.NaN()},
			{Date: "2026-08-11", Service: "Compute", Amount: math.Inf(1)},
			{Date: "2026-08-12", Service: "Compute", Amount: 10},
		},
	}

	snap, issues := Normalize(raw, "gcp", augustWindow(), Options{})

	require.Len(t, snap.DailyData, 1, "NaN/Inf are rejected, not zero-filled")
	assert.InDelta(t, 10, snap.CurrentMonth, 1e-9)

	rejected := 0
	for _, is := range issues {
		if is.Kind == IssueRejectedValue {
			rejected++
		}
	}
	assert.Equal(t, 2, rejected)
}

func TestNormalizeRejectsOutOfRangeDates(t *testing.T) {
	raw := &cloudproviders.RawCostData{
		Lines: []cloudproviders.RawCostLine{
			{Date: "2026-07-31", Service: "Compute", Amount: 5},
			{Date: "not-a-date", Service: "Compute", Amount: 5},
			{Date: "2026-08-05", Service: "Compute", Amount: 5},
		},
	}

	snap, issues := Normalize(raw, "gcp", augustWindow(), Options{})

	require.Len(t, snap.DailyData, 1)
	assert.Equal(t, time.Date(2026, 8, 5, 0, 0, 0, 0, time.UTC), snap.DailyData[0].Date)

	var kinds []IssueKind
	for _, is := range issues {
		kinds = append(kinds, is.Kind)
	}
	assert.Equal(t, []IssueKind{IssueRejectedDate, IssueRejectedDate}, kinds)
}

func TestNormalizeCurrentMonthSumsDailyData(t *testing.T) {
	raw := &cloudproviders.RawCostData{
		Lines: []cloudproviders.RawCostLine{
			{Date: "2026-08-01", Service: "Compute", Amount: 100},
			{Date: "2026-08-02", Service: "Compute", Amount: 100},
			{Date: "2026-08-02", Service: "Storage", Amount: 25},
		},
	}

	snap, issues := Normalize(raw, "aws", augustWindow(), Options{})
	assert.Empty(t, issues)

	var sum float64
	for _, p := range snap.DailyData {
		sum += p.Cost
	}
	assert.InDelta(t, snap.CurrentMonth, sum, 1e-9)
	assert.Len(t, snap.DailyData, 2, "at most one point per calendar date")
}

func TestNormalizeCredits(t *testing.T) {
	raw := &cloudproviders.RawCostData{
		Lines: []cloudproviders.RawCostLine{
			{Date: "2026-08-10", Service: "Compute", Amount: 100},
			{Date: "2026-08-10", Service: "Promotional credit", Amount: -30, Kind: cloudproviders.LineKindCredit},
		},
	}

	snap, _ := Normalize(raw, "gcp", augustWindow(), Options{})

	assert.InDelta(t, 30, snap.Credits, 1e-9)
	assert.InDelta(t, 70, snap.CurrentMonth, 1e-9)
	assert.Len(t, snap.Services, 1, "credits never become service entries")
}

func TestNormalizeSavings(t *testing.T) {
	raw := &cloudproviders.RawCostData{
		Lines: []cloudproviders.RawCostLine{
			{Date: "2026-08-10", Service: "Amazon EC2", Amount: 100},
			{Date: "2026-08-10", Service: "Savings Plans for AWS Compute usage", Amount: -25, Kind: cloudproviders.LineKindSavings},
			{Date: "2026-08-11", Service: "Compute Savings Plan", Amount: -5},
		},
	}

	snap, _ := Normalize(raw, "aws", augustWindow(), Options{})

	assert.InDelta(t, 30, snap.Savings, 1e-9, "explicit and label-classified savings both accumulate")
	assert.Zero(t, snap.Credits, "savings are tracked apart from credits")
	assert.InDelta(t, 70, snap.CurrentMonth, 1e-9)
	require.Len(t, snap.Services, 1, "savings never become service entries")
	assert.Equal(t, "Amazon EC2", snap.Services[0].Name)
}

func TestNormalizeNegativeUsageFlagged(t *testing.T) {
	raw := &cloudproviders.RawCostData{
		Lines: []cloudproviders.RawCostLine{
			{Date: "2026-08-10", Service: "Compute", Amount: -12},
		},
	}

	snap, issues := Normalize(raw, "vultr", augustWindow(), Options{})

	require.Len(t, issues, 1)
	assert.Equal(t, IssueNegativeUsage, issues[0].Kind)
	assert.InDelta(t, 12, snap.Credits, 1e-9)
	assert.Empty(t, snap.Services)
}

func TestNormalizeTrimsAndCapsServiceNames(t *testing.T) {
	long := strings.Repeat("x", 250)
	raw := &cloudproviders.RawCostData{
		Lines: []cloudproviders.RawCostLine{
			{Date: "2026-08-10", Service: "  Compute  ", Amount: 10},
			{Date: "2026-08-10", Service: long, Amount: 10},
		},
	}

	snap, issues := Normalize(raw, "azure", augustWindow(), Options{})

	names := make(map[string]bool)
	for _, s := range snap.Services {
		names[s.Name] = true
		assert.LessOrEqual(t, len(s.Name), 200)
	}
	assert.True(t, names["Compute"])

	truncated := false
	for _, is := range issues {
		if is.Kind == IssueTruncatedName {
			truncated = true
		}
	}
	assert.True(t, truncated)
}

func TestNormalizeEmptyResponseIsValid(t *testing.T) {
	raw := &cloudproviders.RawCostData{ProviderKey: "heroku"}

	snap, issues := Normalize(raw, "heroku", augustWindow(), Options{})

	assert.Empty(t, issues)
	assert.Empty(t, snap.DailyData)
	assert.Zero(t, snap.CurrentMonth)
	assert.True(t, Usable(raw, snap), "zero cost rows is a valid upstream answer")
}

func TestNormalizeOutlierFlaggedNotDropped(t *testing.T) {
	raw := &cloudproviders.RawCostData{
		Lines: []cloudproviders.RawCostLine{
			{Date: "2026-08-10", Service: "Compute", Amount: 100},
			{Date: "2026-08-11", Service: "Compute", Amount: 5000},
		},
	}
	history := []float64{95, 100, 105, 98, 102, 101, 99}

	snap, issues := Normalize(raw, "aws", augustWindow(), Options{RecentDailyCosts: history})

	assert.Len(t, snap.DailyData, 2, "outliers are kept")
	found := false
	for _, is := range issues {
		if is.Kind == IssueOutlier {
			found = true
		}
	}
	assert.True(t, found)
}

func TestNormalizeChangePercent(t *testing.T) {
	raw := &cloudproviders.RawCostData{
		Lines: []cloudproviders.RawCostLine{
			{Date: "2026-08-10", Service: "Compute", Amount: 150},
		},
	}

	snap, _ := Normalize(raw, "aws", augustWindow(), Options{
		PreviousServiceCosts: map[string]float64{"Compute": 100},
	})

	require.Len(t, snap.Services, 1)
	assert.InDelta(t, 50, snap.Services[0].ChangePercent, 1e-9)
}

func TestUsableRejectsFullyDiscardedResponse(t *testing.T) {
	raw := &cloudproviders.RawCostData{
		Lines: []cloudproviders.RawCostLine{
			{Date: "garbage", Service: "Compute", Amount: 1},
			{Date: "also-garbage", Service: "Compute", Amount: 2},
		},
	}

	snap, issues := Normalize(raw, "aws", augustWindow(), Options{})
	assert.Len(t, issues, 2)
	assert.False(t, Usable(raw, snap))
}
