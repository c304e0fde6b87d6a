// Package worker runs the scheduled sync loop. A control ticker re-reads the
// interval setting from the database so operators can retune a running
// worker, and a storage advisory lock keeps multi-instance deployments from
// syncing the same tenants twice.
package worker

import (
	"context"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/cloudbill/costsync/internal/metrics"
	"github.com/cloudbill/costsync/internal/storage"
	"github.com/cloudbill/costsync/internal/syncer"
)

const (
	// intervalSettingKey is the DB setting that overrides the sync interval.
	// Accepts integer seconds or a standard cron expression.
	intervalSettingKey = "sync_interval"
	jobName            = "tenant_sync"
	lockKey            = int64(7340)
	controlTick        = 10 * time.Second
)

type Worker struct {
	store        storage.Storage
	orchestrator *syncer.Orchestrator
	log          zerolog.Logger
	interval     time.Duration
}

func New(store storage.Storage, orchestrator *syncer.Orchestrator, log zerolog.Logger, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Worker{
		store:        store,
		orchestrator: orchestrator,
		log:          log,
		interval:     interval,
	}
}

// Run blocks until ctx is cancelled, syncing every tenant on the configured
// interval. The first run happens immediately.
func (w *Worker) Run(ctx context.Context) error {
	setting := strconv.Itoa(int(w.interval.Seconds()))
	if val, err := w.store.GetSetting(ctx, intervalSettingKey); err == nil && val != "" {
		setting = val
	}

	ticker := time.NewTicker(controlTick)
	defer ticker.Stop()

	nextRun := time.Now()
	w.log.Info().Str("interval", setting).Msg("sync worker starting")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if val, err := w.store.GetSetting(ctx, intervalSettingKey); err == nil && val != "" && val != setting {
				w.log.Info().Str("from", setting).Str("to", val).Msg("sync interval updated")
				setting = val
				nextRun = nextRunTime(setting, time.Now(), w.interval)
			}
			if time.Now().Before(nextRun) {
				continue
			}

			started := time.Now()
			runErr := w.runOnce(ctx, started)
			metrics.UpdateJobMetrics(jobName, started, runErr)
			nextRun = nextRunTime(setting, time.Now(), w.interval)
		}
	}
}

// runOnce syncs all tenants under the advisory lock.
func (w *Worker) runOnce(ctx context.Context, started time.Time) error {
	if locker, ok := w.store.(storage.Locker); ok {
		held, err := locker.AcquireAdvisoryLock(ctx, lockKey)
		if err != nil {
			w.log.Error().Err(err).Msg("acquire advisory lock failed")
			return err
		}
		if !held {
			w.log.Info().Msg("advisory lock held by another worker, skipping run")
			return nil
		}
		defer func() {
			if _, err := locker.ReleaseAdvisoryLock(ctx, lockKey); err != nil {
				w.log.Warn().Err(err).Msg("release advisory lock failed")
			}
		}()
	}

	tenants, err := w.store.ListTenants(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("list tenants failed")
		return err
	}

	var firstErr error
	for _, tenant := range tenants {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := w.orchestrator.RunTenantSync(ctx, tenant, nil, false); err != nil {
			w.log.Error().Err(err).Str("tenant", tenant).Msg("tenant sync failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	w.updatePoolMetrics()
	w.log.Info().
		Int("tenants", len(tenants)).
		Dur("took", time.Since(started)).
		Msg("sync run finished")
	return firstErr
}

func (w *Worker) updatePoolMetrics() {
	if pg, ok := w.store.(*storage.PostgresPoolStorage); ok {
		stat := pg.PoolStat()
		metrics.UpdateDBPoolMetrics("postgrespool",
			float64(stat.TotalConns()),
			float64(stat.IdleConns()),
			float64(stat.AcquiredConns()))
	}
}

// nextRunTime interprets setting as integer seconds or a cron expression,
// falling back to the static interval.
func nextRunTime(setting string, from time.Time, fallback time.Duration) time.Time {
	if v, err := strconv.Atoi(setting); err == nil && v > 0 {
		return from.Add(time.Duration(v) * time.Second)
	}
	if sched, err := cron.ParseStandard(setting); err == nil {
		return sched.Next(from)
	}
	return from.Add(fallback)
}
