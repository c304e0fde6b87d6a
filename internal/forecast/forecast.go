// Package forecast fills a snapshot's lastMonth and forecast fields. The
// forecast is an exponentially weighted linear regression over recent daily
// spend; lastMonth comes from one bounded backfill fetch and is left null if
// that fails. Unknown values stay null, never approximated.
package forecast

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudbill/costsync/internal/costs"
	"github.com/cloudbill/costsync/internal/normalize"
	"github.com/cloudbill/costsync/pkg/providers/cloudproviders"
)

const (
	// decay is the per-step weight ratio: point i of n gets 0.95^(n-1-i).
	decay = 0.95
	// maxPoints caps the regression input to the most recent 30 days.
	maxPoints = 30
	// minPoints below which the daily-average fallback is used.
	minPoints = 3
	// fallbackConfidence is the fixed confidence of the fallback estimate.
	fallbackConfidence = 15.0
)

// HistoryFetch retrieves raw billing data for an extra bounded range,
// typically the previous calendar month. The orchestrator supplies one that
// goes through the cache and resilience wrapper.
type HistoryFetch func(ctx context.Context, start, end time.Time) (*cloudproviders.RawCostData, error)

// Enhancer computes forecasts and backfills prior-month totals.
type Enhancer struct {
	log zerolog.Logger
	now func() time.Time
}

// NewEnhancer returns an Enhancer. The clock is taken at construction so a
// snapshot enhanced twice in one sync gets identical results.
func NewEnhancer(log zerolog.Logger) *Enhancer {
	return &Enhancer{log: log, now: time.Now}
}

// Enhance fills snap.LastMonth and snap.Forecast in place and returns snap.
// LastMonth backfill issues at most one additional fetch restricted to the
// previous calendar month; if it fails, LastMonth stays null.
func (e *Enhancer) Enhance(ctx context.Context, snap *costs.CostSnapshot, fetchPrev HistoryFetch) *costs.CostSnapshot {
	if snap == nil {
		return nil
	}

	if snap.LastMonth == nil && fetchPrev != nil {
		e.backfillLastMonth(ctx, snap, fetchPrev)
	}

	forecast, confidence := Project(snap.DailyData, snap.CurrentMonth, e.now())
	snap.Forecast = &forecast
	snap.ForecastConfidence = &confidence
	return snap
}

func (e *Enhancer) backfillLastMonth(ctx context.Context, snap *costs.CostSnapshot, fetchPrev HistoryFetch) {
	prevEnd := costs.MonthStart(e.now()).AddDate(0, 0, -1)
	prevStart := costs.MonthStart(prevEnd)

	raw, err := fetchPrev(ctx, prevStart, prevEnd)
	if err != nil {
		e.log.Warn().
			Err(err).
			Str("provider", snap.Provider).
			Str("account", snap.AccountID).
			Msg("last month backfill failed, leaving null")
		return
	}

	prev, _ := normalize.Normalize(raw, snap.Provider, normalize.Window{Start: prevStart, End: prevEnd}, normalize.Options{})
	total := prev.CurrentMonth
	snap.LastMonth = &total
}

// Project computes the end-of-month forecast and its confidence (0-100) from
// daily spend. It is a pure function of its inputs: identical dailyData and
// clock yield identical results.
func Project(daily []costs.DailyCostPoint, currentMonth float64, now time.Time) (float64, float64) {
	daysInMonth := costs.DaysInMonth(now)
	daysElapsed := costs.DaysElapsed(now)
	daysRemaining := daysInMonth - daysElapsed

	if daysRemaining <= 0 {
		return currentMonth, 100
	}

	points := daily
	if len(points) > maxPoints {
		points = points[len(points)-maxPoints:]
	}

	if len(points) < minPoints {
		if daysElapsed == 0 {
			return currentMonth, fallbackConfidence
		}
		return currentMonth / float64(daysElapsed) * float64(daysInMonth), fallbackConfidence
	}

	n := len(points)
	var sumW, sumWX, sumWY, sumWXY, sumWXX float64
	for i, p := range points {
		w := math.Pow(decay, float64(n-1-i))
		x := float64(i)
		sumW += w
		sumWX += w * x
		sumWY += w * p.Cost
		sumWXY += w * x * p.Cost
		sumWXX += w * x * x
	}

	denom := sumW*sumWXX - sumWX*sumWX
	var slope, intercept float64
	if denom != 0 {
		slope = (sumW*sumWXY - sumWX*sumWY) / denom
		intercept = (sumWY - slope*sumWX) / sumW
	} else {
		intercept = sumWY / sumW
	}

	var projectedRemaining float64
	for d := 1; d <= daysRemaining; d++ {
		idx := float64(n - 1 + d)
		projectedRemaining += math.Max(0, slope*idx+intercept)
	}
	forecast := currentMonth + projectedRemaining

	confidence := confidenceScore(points, slope, intercept, sumW, sumWY)

	// Sanity bounds: never negative, and runaway slopes are dampened
	// logarithmically toward 5x the month-to-date spend.
	if forecast < 0 {
		forecast = currentMonth
	}
	if ceiling := 5 * currentMonth; forecast > ceiling {
		forecast = ceiling + math.Log1p(forecast-ceiling)
	}

	return forecast, confidence
}

// confidenceScore is dataScore + fitScore + stabilityScore: how much data we
// have, how well the line fits it, and how stable daily spend is.
func confidenceScore(points []costs.DailyCostPoint, slope, intercept, sumW, sumWY float64) float64 {
	n := len(points)

	dataScore := math.Min(1, float64(n)/20) * 30

	weightedMean := sumWY / sumW
	var ssRes, ssTot float64
	for i, p := range points {
		w := math.Pow(decay, float64(n-1-i))
		fitted := slope*float64(i) + intercept
		ssRes += w * (p.Cost - fitted) * (p.Cost - fitted)
		ssTot += w * (p.Cost - weightedMean) * (p.Cost - weightedMean)
	}
	r2 := 1.0
	if ssTot > 0 {
		r2 = math.Max(0, math.Min(1, 1-ssRes/ssTot))
	}
	fitScore := r2 * 40

	var mean float64
	for _, p := range points {
		mean += p.Cost
	}
	mean /= float64(n)
	stabilityScore := 0.0
	if mean > 0 {
		var variance float64
		for _, p := range points {
			d := p.Cost - mean
			variance += d * d
		}
		variance /= float64(n)
		cov := math.Sqrt(variance) / mean
		stabilityScore = math.Max(0, 1-cov) * 30
	}

	return dataScore + fitScore + stabilityScore
}
