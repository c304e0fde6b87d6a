// Package normalize converts provider-native billing data into the shared
// CostSnapshot shape. Normalize is total: malformed input is reported through
// the returned issue list, never through a panic or error, and a best-effort
// snapshot is always returned.
package normalize

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/cloudbill/costsync/internal/costs"
	"github.com/cloudbill/costsync/pkg/providers/cloudproviders"
)

// Window is the date range the raw data was requested for. Lines outside it
// are rejected.
type Window struct {
	Start time.Time
	End   time.Time
}

// IssueKind classifies one normalization finding.
type IssueKind string

const (
	// IssueRejectedValue marks a line dropped for a non-finite or otherwise
	// unusable amount. Values are rejected, never coerced to zero.
	IssueRejectedValue IssueKind = "rejected_value"
	// IssueRejectedDate marks a line dropped for an unparsable or
	// out-of-range date.
	IssueRejectedDate IssueKind = "rejected_date"
	// IssueNegativeUsage marks a usage line with a negative amount that was
	// reclassified as a credit.
	IssueNegativeUsage IssueKind = "negative_usage"
	// IssueOutlier flags a daily value more than 3 standard deviations from
	// the account's recent history. Flagged, not dropped.
	IssueOutlier IssueKind = "outlier"
	// IssueTruncatedName marks a service name cut to the length cap.
	IssueTruncatedName IssueKind = "truncated_name"
)

// Issue describes one rejected or flagged datum.
type Issue struct {
	Kind    IssueKind `json:"kind"`
	Service string    `json:"service,omitempty"`
	Detail  string    `json:"detail"`
}

// Options carries optional context for normalization.
type Options struct {
	// PreviousServiceCosts maps service name to last period's cost, used to
	// fill ServiceCost.ChangePercent. Nil leaves the field zero.
	PreviousServiceCosts map[string]float64
	// RecentDailyCosts is the account's own recent daily history, used for
	// outlier flagging. Fewer than 5 points disables the check.
	RecentDailyCosts []float64
}

const maxServiceNameLen = 200

// denylist labels are matched case-insensitively as substrings. Tax, fee,
// support, credit, refund, and savings-plan line items never become
// ServiceCost entries.
var denylist = []string{"tax", "vat", "support", "refund", "credit", "fee", "savings plan"}

// Denied reports whether a line label matches the tax/fee/credit/refund
// denylist.
func Denied(label string) bool {
	l := strings.ToLower(label)
	for _, d := range denylist {
		if strings.Contains(l, d) {
			return true
		}
	}
	return false
}

// Normalize builds a CostSnapshot from raw provider data. providerID is the
// adapter key; window bounds date validation. The snapshot's CurrentMonth is
// the sum of daily points falling in the calendar month of window.End.
func Normalize(raw *cloudproviders.RawCostData, providerID string, window Window, opts Options) (*costs.CostSnapshot, []Issue) {
	snap := &costs.CostSnapshot{
		Provider:   providerID,
		Currency:   "USD",
		RangeStart: costs.DateOnly(window.Start),
		RangeEnd:   costs.DateOnly(window.End),
	}
	var issues []Issue
	if raw == nil {
		return snap, []Issue{{Kind: IssueRejectedValue, Detail: "nil provider response"}}
	}
	if raw.Currency != "" {
		snap.Currency = raw.Currency
	}

	dailyTotals := make(map[time.Time]float64)
	serviceTotals := make(map[string]float64)

	for _, line := range raw.Lines {
		name, issue := sanitizeName(line.Service)
		if issue != nil {
			issues = append(issues, *issue)
		}

		if math.IsNaN(line.Amount) || math.IsInf(line.Amount, 0) {
			issues = append(issues, Issue{
				Kind:    IssueRejectedValue,
				Service: name,
				Detail:  fmt.Sprintf("non-finite amount for %q on %s", name, line.Date),
			})
			continue
		}

		day, err := time.Parse(costs.DateLayout, line.Date)
		if err != nil {
			issues = append(issues, Issue{
				Kind:    IssueRejectedDate,
				Service: name,
				Detail:  fmt.Sprintf("unparsable date %q", line.Date),
			})
			continue
		}
		day = costs.DateOnly(day)
		if day.Before(snap.RangeStart) || day.After(snap.RangeEnd) {
			issues = append(issues, Issue{
				Kind:    IssueRejectedDate,
				Service: name,
				Detail:  fmt.Sprintf("date %s outside requested range", line.Date),
			})
			continue
		}

		kind := line.Kind
		if kind == "" || kind == cloudproviders.LineKindUsage {
			kind = classify(name)
		}

		switch kind {
		case cloudproviders.LineKindCredit, cloudproviders.LineKindRefund:
			snap.Credits += math.Abs(line.Amount)
			// Credits reduce the day's spend; this is the one place a daily
			// point may go negative.
			dailyTotals[day] -= math.Abs(line.Amount)
		case cloudproviders.LineKindSavings:
			// Commitment discounts reduce spend like credits but are tracked
			// separately.
			snap.Savings += math.Abs(line.Amount)
			dailyTotals[day] -= math.Abs(line.Amount)
		case cloudproviders.LineKindTax, cloudproviders.LineKindFee, cloudproviders.LineKindSupport:
			// Stripped entirely: not a service, not part of daily spend.
		default:
			amount := line.Amount
			if amount < 0 {
				issues = append(issues, Issue{
					Kind:    IssueNegativeUsage,
					Service: name,
					Detail:  fmt.Sprintf("negative usage amount %.4f treated as credit", amount),
				})
				snap.Credits += -amount
				dailyTotals[day] += amount
				continue
			}
			dailyTotals[day] += amount
			if name != "" {
				serviceTotals[name] += amount
			}
		}
	}

	snap.DailyData = buildDaily(dailyTotals)
	snap.Services = buildServices(serviceTotals, opts.PreviousServiceCosts)

	monthStart := costs.MonthStart(window.End)
	snap.CurrentMonth = lo.SumBy(snap.DailyData, func(p costs.DailyCostPoint) float64 {
		if p.Date.Before(monthStart) {
			return 0
		}
		return p.Cost
	})

	issues = append(issues, flagOutliers(snap.DailyData, opts.RecentDailyCosts)...)
	return snap, issues
}

// Usable reports whether normalization produced anything to work with. A raw
// response that had lines but yielded no daily data and no services was
// rejected wholesale.
func Usable(raw *cloudproviders.RawCostData, snap *costs.CostSnapshot) bool {
	if raw == nil {
		return false
	}
	if len(raw.Lines) == 0 {
		// Zero cost rows is a valid upstream answer.
		return true
	}
	return len(snap.DailyData) > 0 || len(snap.Services) > 0 || snap.Credits != 0
}

func sanitizeName(name string) (string, *Issue) {
	trimmed := strings.TrimSpace(name)
	if len(trimmed) <= maxServiceNameLen {
		return trimmed, nil
	}
	return trimmed[:maxServiceNameLen], &Issue{
		Kind:    IssueTruncatedName,
		Service: trimmed[:maxServiceNameLen],
		Detail:  fmt.Sprintf("service name truncated from %d chars", len(trimmed)),
	}
}

func classify(label string) cloudproviders.LineKind {
	l := strings.ToLower(label)
	switch {
	case strings.Contains(l, "savings plan"):
		return cloudproviders.LineKindSavings
	case strings.Contains(l, "refund"):
		return cloudproviders.LineKindRefund
	case strings.Contains(l, "credit"):
		return cloudproviders.LineKindCredit
	case strings.Contains(l, "tax") || strings.Contains(l, "vat"):
		return cloudproviders.LineKindTax
	case strings.Contains(l, "support"):
		return cloudproviders.LineKindSupport
	case strings.Contains(l, "fee"):
		return cloudproviders.LineKindFee
	}
	return cloudproviders.LineKindUsage
}

func buildDaily(totals map[time.Time]float64) []costs.DailyCostPoint {
	points := make([]costs.DailyCostPoint, 0, len(totals))
	for day, cost := range totals {
		points = append(points, costs.DailyCostPoint{Date: day, Cost: cost})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return points
}

func buildServices(totals, previous map[string]float64) []costs.ServiceCost {
	services := make([]costs.ServiceCost, 0, len(totals))
	for name, cost := range totals {
		sc := costs.ServiceCost{Name: name, Cost: cost}
		if prev, ok := previous[name]; ok && prev > 0 {
			sc.ChangePercent = (cost - prev) / prev * 100
		}
		services = append(services, sc)
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Cost > services[j].Cost })
	return services
}

// flagOutliers compares each daily point against the account's own recent
// history and flags values more than 3 standard deviations out.
func flagOutliers(points []costs.DailyCostPoint, history []float64) []Issue {
	if len(history) < 5 {
		return nil
	}
	mean := lo.Sum(history) / float64(len(history))
	variance := lo.SumBy(history, func(v float64) float64 {
		d := v - mean
		return d * d
	}) / float64(len(history))
	std := math.Sqrt(variance)
	if std == 0 {
		return nil
	}

	var issues []Issue
	for _, p := range points {
		if math.Abs(p.Cost-mean) > 3*std {
			issues = append(issues, Issue{
				Kind:   IssueOutlier,
				Detail: fmt.Sprintf("daily cost %.2f on %s deviates more than 3 stddev from recent mean %.2f", p.Cost, p.Date.Format(costs.DateLayout), mean),
			})
		}
	}
	return issues
}
