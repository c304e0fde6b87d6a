// Package syncer orchestrates tenant syncs: per account it resolves
// credentials, fetches raw billing data through the cache and resilience
// wrapper, normalizes, forecasts, persists, and feeds the anomaly engine.
// Accounts are isolated: one failure never aborts the others.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cloudbill/costsync/internal/anomaly"
	"github.com/cloudbill/costsync/internal/cache"
	"github.com/cloudbill/costsync/internal/costs"
	"github.com/cloudbill/costsync/internal/credentials"
	"github.com/cloudbill/costsync/internal/forecast"
	"github.com/cloudbill/costsync/internal/metrics"
	"github.com/cloudbill/costsync/internal/normalize"
	"github.com/cloudbill/costsync/internal/notification"
	"github.com/cloudbill/costsync/internal/resilience"
	"github.com/cloudbill/costsync/internal/storage"
	"github.com/cloudbill/costsync/pkg/providers"
	"github.com/cloudbill/costsync/pkg/providers/cloudproviders"
)

const (
	// historyDays is how far back each sync fetches daily data, enough to
	// feed the forecast regression and outlier detection.
	historyDays = 30
	// topServicesForDetail bounds the per-service detail fetches per account.
	topServicesForDetail = 10
)

// Options tunes one Orchestrator.
type Options struct {
	Workers        int
	AccountTimeout time.Duration
	CacheTTL       time.Duration
	VariancePct    float64
}

func defaultOptions() Options {
	return Options{
		Workers:        4,
		AccountTimeout: 5 * time.Minute,
		CacheTTL:       cache.DefaultTTL,
		VariancePct:    anomaly.DefaultVarianceThresholdPct,
	}
}

// Orchestrator runs tenant and account syncs.
type Orchestrator struct {
	store    storage.Storage
	creds    credentials.Store
	cache    *cache.Cache
	exec     *resilience.Executor
	breakers *resilience.BreakerSet
	enhancer *forecast.Enhancer
	baseline *anomaly.Engine
	notify   notification.Sink
	log      zerolog.Logger
	opts     Options
	policy   resilience.Policy
	now      func() time.Time
}

func New(store storage.Storage, creds credentials.Store, sink notification.Sink, log zerolog.Logger, opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = defaultOptions().Workers
	}
	if opts.AccountTimeout <= 0 {
		opts.AccountTimeout = defaultOptions().AccountTimeout
	}
	if opts.VariancePct <= 0 {
		opts.VariancePct = defaultOptions().VariancePct
	}

	engine := anomaly.NewEngine(store, log)
	engine.ThresholdPct = opts.VariancePct

	return &Orchestrator{
		store:    store,
		creds:    creds,
		cache:    cache.New(opts.CacheTTL),
		exec:     resilience.NewExecutor(log),
		breakers: resilience.NewBreakerSet(resilience.DefaultBreakerConfig(), log),
		enhancer: forecast.NewEnhancer(log),
		baseline: engine,
		notify:   sink,
		log:      log,
		opts:     opts,
		policy:   resilience.DefaultPolicy(),
		now:      time.Now,
	}
}

// RunTenantSync syncs the tenant's accounts, or only accountIDs when given.
// force bypasses the response cache. It always returns the per-account
// outcomes; the error covers orchestration failures only, never individual
// account failures.
func (o *Orchestrator) RunTenantSync(ctx context.Context, tenant string, accountIDs []string, force bool) ([]costs.SyncOutcome, error) {
	started := o.now()

	// Stale optimism from a previous run must not leak into this one.
	o.cache.InvalidateTenant(tenant)

	accounts, err := o.store.ListAccounts(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("list accounts for %s: %w", tenant, err)
	}
	accounts = selectAccounts(accounts, accountIDs)
	if len(accounts) == 0 {
		return nil, fmt.Errorf("tenant %s has no matching enabled accounts", tenant)
	}

	job := storage.SyncJob{
		ID:         uuid.New().String(),
		Tenant:     tenant,
		State:      storage.SyncStatePending,
		TotalCount: len(accounts),
		StartedAt:  started,
	}
	if err := o.store.CreateSyncJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create sync job: %w", err)
	}
	job.State = storage.SyncStateInProgress
	if err := o.store.UpdateSyncJob(ctx, job); err != nil {
		o.log.Warn().Err(err).Str("job", job.ID).Msg("sync job state update failed")
	}

	outcomes := make([]costs.SyncOutcome, len(accounts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)
	for i, account := range accounts {
		g.Go(func() error {
			outcomes[i] = o.syncAccount(gctx, tenant, account, force)
			return nil
		})
	}
	// Workers never return errors; Wait only propagates context cancellation.
	_ = g.Wait()

	for _, out := range outcomes {
		if out.Success {
			job.SuccessCount++
			metrics.SyncAccountsTotal.WithLabelValues(tenant, "success").Inc()
		} else {
			job.FailedCount++
			job.LastError = fmt.Sprintf("%s: [%s] %s", out.AccountID, out.ErrorKind, out.Message)
			metrics.SyncAccountsTotal.WithLabelValues(tenant, "failure").Inc()
		}
	}
	finished := o.now()
	job.State = storage.SyncStateCompleted
	job.FinishedAt = &finished
	if err := o.store.UpdateSyncJob(ctx, job); err != nil {
		o.log.Warn().Err(err).Str("job", job.ID).Msg("sync job completion update failed")
	}

	o.log.Info().
		Str("tenant", tenant).
		Str("job", job.ID).
		Int("total", job.TotalCount).
		Int("failed", job.FailedCount).
		Dur("took", finished.Sub(started)).
		Msg("tenant sync completed")

	o.sendSyncSummary(ctx, tenant, outcomes, finished.Sub(started))
	return outcomes, nil
}

// RunAccountSync syncs a single account by id.
func (o *Orchestrator) RunAccountSync(ctx context.Context, tenant, accountID string, force bool) (costs.SyncOutcome, error) {
	account, err := o.store.GetAccount(ctx, tenant, accountID)
	if err != nil {
		return costs.SyncOutcome{}, err
	}
	if account == nil {
		return costs.SyncOutcome{}, fmt.Errorf("account %s/%s not found", tenant, accountID)
	}
	o.cache.InvalidateTenant(tenant)
	return o.syncAccount(ctx, tenant, *account, force), nil
}

func (o *Orchestrator) syncAccount(ctx context.Context, tenant string, account storage.Account, force bool) costs.SyncOutcome {
	started := o.now()
	ctx, cancel := context.WithTimeout(ctx, o.opts.AccountTimeout)
	defer cancel()

	outcome := o.doSyncAccount(ctx, tenant, account, force)
	outcome.Duration = o.now().Sub(started)

	evt := o.log.Info()
	if !outcome.Success {
		evt = o.log.Warn().Str("kind", string(outcome.ErrorKind)).Str("error", outcome.Message)
	}
	evt.
		Str("tenant", tenant).
		Str("account", account.AccountID).
		Str("provider", account.ProviderKey).
		Bool("success", outcome.Success).
		Dur("took", outcome.Duration).
		Msg("account sync finished")
	return outcome
}

func (o *Orchestrator) doSyncAccount(ctx context.Context, tenant string, account storage.Account, force bool) costs.SyncOutcome {
	provider, ok := cloudproviders.Get(account.ProviderKey)
	if !ok {
		return costs.Failure(tenant, account.AccountID, account.ProviderKey, &cloudproviders.APIError{
			Provider: account.ProviderKey,
			Kind:     cloudproviders.ErrorKindInvalidRequest,
			Message:  "unknown provider",
			Err:      providers.ErrProviderNotFound,
		})
	}

	creds, err := o.creds.GetDecryptedCredentials(ctx, tenant, account.AccountID)
	if err != nil {
		return costs.Failure(tenant, account.AccountID, account.ProviderKey, &cloudproviders.APIError{
			Provider: account.ProviderKey,
			Kind:     cloudproviders.ErrorKindAuth,
			Message:  "credentials unavailable",
			Err:      err,
		})
	}

	now := o.now()
	end := costs.DateOnly(now)
	start := end.AddDate(0, 0, -historyDays)
	if ms := costs.MonthStart(now); ms.Before(start) {
		start = ms
	}

	raw, err := o.fetchRaw(ctx, tenant, provider, account.AccountID, creds, start, end, force)
	if err != nil {
		return costs.Failure(tenant, account.AccountID, account.ProviderKey, err)
	}

	opts := o.normalizeOptions(ctx, tenant, account)
	snap, issues := normalize.Normalize(raw, account.ProviderKey, normalize.Window{Start: start, End: end}, opts)
	for _, issue := range issues {
		o.log.Debug().
			Str("tenant", tenant).
			Str("account", account.AccountID).
			Str("kind", string(issue.Kind)).
			Str("service", issue.Service).
			Msg(issue.Detail)
	}
	if !normalize.Usable(raw, snap) {
		return costs.Failure(tenant, account.AccountID, account.ProviderKey, &cloudproviders.APIError{
			Provider: account.ProviderKey,
			Kind:     cloudproviders.ErrorKindValidationFailed,
			Message:  fmt.Sprintf("provider response rejected wholesale (%d issues)", len(issues)),
		})
	}

	snap.Tenant = tenant
	snap.AccountID = account.AccountID
	snap.FetchedAt = now

	o.enhancer.Enhance(ctx, snap, func(ctx context.Context, s, e time.Time) (*cloudproviders.RawCostData, error) {
		return o.fetchRaw(ctx, tenant, provider, account.AccountID, creds, s, e, false)
	})

	if err := o.persistSnapshot(ctx, tenant, account, snap); err != nil {
		return costs.Failure(tenant, account.AccountID, account.ProviderKey, &cloudproviders.APIError{
			Provider: account.ProviderKey,
			Kind:     cloudproviders.ErrorKindInternal,
			Message:  "persist snapshot",
			Err:      err,
		})
	}

	baselines := o.updateBaselines(ctx, tenant, account, provider, creds, snap, start, end)

	return costs.SyncOutcome{
		Tenant:    tenant,
		AccountID: account.AccountID,
		Provider:  account.ProviderKey,
		Success:   true,
		Snapshot:  snap,
		Baselines: baselines,
	}
}

// fetchRaw consults the response cache, then goes upstream through the
// resilience wrapper. force skips the cache read but still refreshes it.
func (o *Orchestrator) fetchRaw(ctx context.Context, tenant string, provider cloudproviders.CloudProvider, accountID string, creds cloudproviders.Credentials, start, end time.Time, force bool) (*cloudproviders.RawCostData, error) {
	key := cache.Key{Tenant: tenant, Provider: provider.Key(), AccountID: accountID, Start: start, End: end}
	if !force {
		if data, ok := o.cache.Get(key); ok {
			metrics.CacheHitsTotal.WithLabelValues(provider.Key()).Inc()
			return data, nil
		}
	}
	metrics.CacheMissesTotal.WithLabelValues(provider.Key()).Inc()

	var raw *cloudproviders.RawCostData
	breaker := o.breakers.For(tenant, provider.Key())
	err := o.exec.Execute(ctx, breaker, o.policy, func(ctx context.Context) error {
		metrics.ProviderRequestsTotal.WithLabelValues(provider.Key()).Inc()
		fetchStart := time.Now()
		var fetchErr error
		raw, fetchErr = provider.Fetch(ctx, creds, start, end)
		metrics.ProviderRequestDurationSeconds.WithLabelValues(provider.Key()).Observe(time.Since(fetchStart).Seconds())
		if fetchErr != nil {
			metrics.ProviderErrorsTotal.WithLabelValues(provider.Key(), string(cloudproviders.KindOf(fetchErr))).Inc()
		}
		return fetchErr
	})
	metrics.BreakerState.WithLabelValues(tenant, provider.Key()).Set(float64(breaker.State()))
	if err != nil {
		return nil, err
	}

	o.cache.Put(key, raw)
	return raw, nil
}

// normalizeOptions assembles per-account context: last period's service costs
// for change percentages and recent daily history for outlier flagging.
func (o *Orchestrator) normalizeOptions(ctx context.Context, tenant string, account storage.Account) normalize.Options {
	var opts normalize.Options

	prevPeriod := costs.Period(costs.MonthStart(o.now()).AddDate(0, 0, -1))
	if rec, err := o.store.GetSnapshot(ctx, tenant, account.ProviderKey, account.AccountID, prevPeriod); err == nil && rec != nil {
		var prev costs.CostSnapshot
		if json.Unmarshal(rec.Payload, &prev) == nil {
			opts.PreviousServiceCosts = make(map[string]float64, len(prev.Services))
			for _, s := range prev.Services {
				opts.PreviousServiceCosts[s.Name] = s.Cost
			}
		}
	}

	since := o.now().AddDate(0, 0, -historyDays)
	if recs, err := o.store.ListDailyCosts(ctx, tenant, account.ProviderKey, account.AccountID, since); err == nil {
		for _, r := range recs {
			opts.RecentDailyCosts = append(opts.RecentDailyCosts, r.Cost)
		}
	}
	return opts
}

func (o *Orchestrator) persistSnapshot(ctx context.Context, tenant string, account storage.Account, snap *costs.CostSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := o.store.SaveSnapshot(ctx, storage.SnapshotRecord{
		Tenant:      tenant,
		ProviderKey: account.ProviderKey,
		AccountID:   account.AccountID,
		Period:      costs.Period(snap.RangeEnd),
		Payload:     payload,
		FetchedAt:   snap.FetchedAt,
	}); err != nil {
		return err
	}

	daily := make([]storage.DailyCostRecord, 0, len(snap.DailyData))
	for _, p := range snap.DailyData {
		daily = append(daily, storage.DailyCostRecord{
			Tenant:      tenant,
			ProviderKey: account.ProviderKey,
			AccountID:   account.AccountID,
			Date:        p.Date,
			Cost:        p.Cost,
		})
	}
	return o.store.SaveDailyCosts(ctx, daily)
}

// updateBaselines fetches per-service detail for the account's top services
// and runs the anomaly engine. Detail failures degrade to fewer baselines,
// never to a failed sync.
func (o *Orchestrator) updateBaselines(ctx context.Context, tenant string, account storage.Account, provider cloudproviders.CloudProvider, creds cloudproviders.Credentials, snap *costs.CostSnapshot, start, end time.Time) []costs.AnomalyBaseline {
	if provider.Granularity() != providers.GranularityDaily {
		return nil
	}

	details := make(map[string][]costs.DailyCostPoint)
	breaker := o.breakers.For(tenant, provider.Key())
	var skipped []string
	for i, svc := range snap.Services {
		if i >= topServicesForDetail {
			break
		}
		var detail *cloudproviders.RawServiceDetail
		err := o.exec.Execute(ctx, breaker, o.policy, func(ctx context.Context) error {
			var fetchErr error
			detail, fetchErr = provider.FetchServiceDetail(ctx, creds, svc.Name, start, end)
			return fetchErr
		})
		if err != nil {
			o.log.Warn().
				Err(err).
				Str("tenant", tenant).
				Str("account", account.AccountID).
				Str("service", svc.Name).
				Msg("service detail fetch failed, skipping baseline")
			skipped = append(skipped, svc.Name)
			continue
		}
		details[svc.Name] = detailPoints(detail, start, end)
	}
	if len(skipped) > 0 {
		o.sendWarning(ctx, tenant, account,
			fmt.Sprintf("baseline detail fetch failed for %s; baselines degraded", strings.Join(skipped, ", ")))
	}
	if len(details) == 0 {
		return nil
	}

	rows, err := o.baseline.UpdateBaselines(ctx, tenant, account.ProviderKey, account.AccountID, details)
	if err != nil {
		o.log.Warn().
			Err(err).
			Str("tenant", tenant).
			Str("account", account.AccountID).
			Msg("baseline update failed")
		o.sendWarning(ctx, tenant, account, fmt.Sprintf("baseline update failed: %v", err))
		return nil
	}

	if flagged := o.baseline.Anomalous(rows); len(flagged) > 0 {
		metrics.AnomaliesFlaggedTotal.WithLabelValues(tenant, account.ProviderKey).Add(float64(len(flagged)))
		o.notify.Send(ctx, notification.Event{
			Type:      notification.EventAnomaly,
			Tenant:    tenant,
			Timestamp: o.now(),
			Provider:  account.ProviderKey,
			AccountID: account.AccountID,
			Anomalies: flagged,
		})
	}
	return rows
}

// sendWarning reports a degraded step for one account. Warnings never fail
// the sync.
func (o *Orchestrator) sendWarning(ctx context.Context, tenant string, account storage.Account, msg string) {
	o.notify.Send(ctx, notification.Event{
		Type:      notification.EventWarning,
		Tenant:    tenant,
		Timestamp: o.now(),
		Provider:  account.ProviderKey,
		AccountID: account.AccountID,
		Message:   msg,
	})
}

func (o *Orchestrator) sendSyncSummary(ctx context.Context, tenant string, outcomes []costs.SyncOutcome, took time.Duration) {
	ev := notification.Event{
		Type:       notification.EventSyncCompleted,
		Tenant:     tenant,
		Timestamp:  o.now(),
		TotalCount: len(outcomes),
		Duration:   took,
	}
	for _, out := range outcomes {
		if out.Success {
			ev.SuccessCount++
			continue
		}
		ev.FailedCount++
		ev.Failures = append(ev.Failures, notification.AccountFailure{
			AccountID: out.AccountID,
			Provider:  out.Provider,
			Kind:      string(out.ErrorKind),
			Error:     out.Message,
		})
	}
	o.notify.Send(ctx, ev)
}

func selectAccounts(accounts []storage.Account, ids []string) []storage.Account {
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var out []storage.Account
	for _, a := range accounts {
		if !a.Enabled {
			continue
		}
		if len(wanted) > 0 && !wanted[a.AccountID] {
			continue
		}
		out = append(out, a)
	}
	return out
}

// detailPoints converts a raw detail into clean daily points inside the
// window. Bad rows are dropped; the normalizer's stricter rules already ran
// on the account-level data.
func detailPoints(detail *cloudproviders.RawServiceDetail, start, end time.Time) []costs.DailyCostPoint {
	if detail == nil {
		return nil
	}
	var points []costs.DailyCostPoint
	for _, p := range detail.Points {
		day, err := time.Parse(costs.DateLayout, p.Date)
		if err != nil {
			continue
		}
		day = costs.DateOnly(day)
		if day.Before(start) || day.After(end) {
			continue
		}
		points = append(points, costs.DailyCostPoint{Date: day, Cost: p.Amount})
	}
	return points
}
