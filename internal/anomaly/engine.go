// Package anomaly maintains per-service spend baselines. Each sync feeds the
// engine fresh per-service daily actuals; the engine persists them, computes
// a trailing 30-day mean baseline per service, and writes variance rows for
// the last 7 days. Days without actuals get no variance row.
package anomaly

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/cloudbill/costsync/internal/costs"
	"github.com/cloudbill/costsync/internal/storage"
)

const (
	// baselineDays is the trailing window the mean is computed over.
	baselineDays = 30
	// varianceDays is how many recent days get variance rows per sync.
	varianceDays = 7
	// minHistoryPoints below which no baseline is computed for a service.
	minHistoryPoints = 5
	// DefaultVarianceThresholdPct flags a day when |variance| meets or
	// exceeds it.
	DefaultVarianceThresholdPct = 50.0
)

// Engine computes and persists anomaly baselines.
type Engine struct {
	store        storage.Storage
	log          zerolog.Logger
	now          func() time.Time
	ThresholdPct float64
}

func NewEngine(store storage.Storage, log zerolog.Logger) *Engine {
	return &Engine{
		store:        store,
		log:          log,
		now:          time.Now,
		ThresholdPct: DefaultVarianceThresholdPct,
	}
}

// UpdateBaselines persists the given per-service daily actuals, recomputes
// baselines from the stored trailing window, and upserts variance rows for
// the last 7 days. It returns the rows it wrote. A (service, day) pair gets
// a row only when the day has an actual cost and the service has at least
// minHistoryPoints of stored history; sparse services yield fewer rows, not
// fabricated zero-cost ones.
func (e *Engine) UpdateBaselines(ctx context.Context, tenant, provider, accountID string, details map[string][]costs.DailyCostPoint) ([]costs.AnomalyBaseline, error) {
	if err := e.saveActuals(ctx, tenant, provider, accountID, details); err != nil {
		return nil, err
	}

	now := costs.DateOnly(e.now())
	since := now.AddDate(0, 0, -(baselineDays + varianceDays))

	var out []costs.AnomalyBaseline
	var records []storage.BaselineRecord
	for service := range details {
		history, err := e.store.ListServiceDailyCosts(ctx, tenant, provider, accountID, service, since)
		if err != nil {
			return nil, err
		}
		byDate := make(map[time.Time]float64, len(history))
		for _, h := range history {
			byDate[costs.DateOnly(h.Date)] = h.Cost
		}

		for d := varianceDays - 1; d >= 0; d-- {
			day := now.AddDate(0, 0, -d)
			actual, ok := byDate[day]
			if !ok {
				// No actuals for this day; a missing row beats a fabricated
				// zero-cost anomaly.
				continue
			}
			baseline, enough := trailingMean(byDate, day)
			if !enough {
				continue
			}

			variance := 0.0
			if baseline > 0 {
				variance = (actual - baseline) / baseline * 100
			}
			row := costs.AnomalyBaseline{
				Service:         service,
				Date:            day,
				BaselineCost:    baseline,
				ActualCost:      actual,
				VariancePercent: variance,
			}
			out = append(out, row)
			records = append(records, storage.BaselineRecord{
				Tenant:          tenant,
				ProviderKey:     provider,
				AccountID:       accountID,
				Service:         service,
				Date:            day,
				BaselineCost:    baseline,
				ActualCost:      actual,
				VariancePercent: variance,
				ComputedAt:      e.now(),
			})
		}
	}

	if err := e.store.SaveBaselines(ctx, records); err != nil {
		return nil, err
	}

	e.log.Debug().
		Str("tenant", tenant).
		Str("provider", provider).
		Str("account", accountID).
		Int("rows", len(records)).
		Msg("baselines updated")
	return out, nil
}

// Anomalous filters rows whose absolute variance meets the threshold.
func (e *Engine) Anomalous(rows []costs.AnomalyBaseline) []costs.AnomalyBaseline {
	return lo.Filter(rows, func(r costs.AnomalyBaseline, _ int) bool {
		if r.VariancePercent < 0 {
			return -r.VariancePercent >= e.ThresholdPct
		}
		return r.VariancePercent >= e.ThresholdPct
	})
}

func (e *Engine) saveActuals(ctx context.Context, tenant, provider, accountID string, details map[string][]costs.DailyCostPoint) error {
	var recs []storage.ServiceDailyCostRecord
	for service, points := range details {
		for _, p := range points {
			recs = append(recs, storage.ServiceDailyCostRecord{
				Tenant:      tenant,
				ProviderKey: provider,
				AccountID:   accountID,
				Service:     service,
				Date:        costs.DateOnly(p.Date),
				Cost:        p.Cost,
			})
		}
	}
	return e.store.SaveServiceDailyCosts(ctx, recs)
}

// trailingMean averages the 30 days strictly before day. It reports false
// when fewer than minHistoryPoints days have data.
func trailingMean(byDate map[time.Time]float64, day time.Time) (float64, bool) {
	var sum float64
	var n int
	for d := 1; d <= baselineDays; d++ {
		if cost, ok := byDate[day.AddDate(0, 0, -d)]; ok {
			sum += cost
			n++
		}
	}
	if n < minHistoryPoints {
		return 0, false
	}
	return sum / float64(n), true
}
