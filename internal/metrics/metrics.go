package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costsync_provider_requests_total",
			Help: "Total number of upstream billing API requests per provider",
		},
		[]string{"provider"},
	)

	ProviderRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "costsync_provider_request_duration_seconds",
			Help:    "Upstream billing API request duration in seconds per provider",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	ProviderErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costsync_provider_errors_total",
			Help: "Total number of failed upstream requests per provider and error kind",
		},
		[]string{"provider", "kind"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "costsync_breaker_state",
			Help: "Circuit breaker state per tenant/provider (0 closed, 1 open, 2 half-open)",
		},
		[]string{"tenant", "provider"},
	)

	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costsync_cache_hits_total",
			Help: "Response cache hits per provider",
		},
		[]string{"provider"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costsync_cache_misses_total",
			Help: "Response cache misses per provider",
		},
		[]string{"provider"},
	)

	SyncAccountsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costsync_sync_accounts_total",
			Help: "Synced accounts per tenant and outcome",
		},
		[]string{"tenant", "outcome"},
	)

	AnomaliesFlaggedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costsync_anomalies_flagged_total",
			Help: "Baseline variance rows exceeding the anomaly threshold per tenant",
		},
		[]string{"tenant", "provider"},
	)
)

var (
	DBPoolTotalConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "costsync_db_pool_total_conns",
			Help: "Total number of connections in the DB pool per driver",
		},
		[]string{"driver"},
	)

	DBPoolIdleConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "costsync_db_pool_idle_conns",
			Help: "Idle connections in the DB pool per driver",
		},
		[]string{"driver"},
	)

	DBPoolAcquiredConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "costsync_db_pool_acquired_conns",
			Help: "Currently acquired (in-use) connections per driver",
		},
		[]string{"driver"},
	)
)

func UpdateDBPoolMetrics(driver string, total, idle, acquired float64) {
	DBPoolTotalConns.WithLabelValues(driver).Set(total)
	DBPoolIdleConns.WithLabelValues(driver).Set(idle)
	DBPoolAcquiredConns.WithLabelValues(driver).Set(acquired)
}

var (
	ScheduledJobLastRun = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "costsync_job_last_run_timestamp",
			Help: "Unix timestamp of the last completed run for a job",
		},
		[]string{"job"},
	)

	ScheduledJobLastDurationSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "costsync_job_last_duration_seconds",
			Help: "Duration of the last completed run for a job",
		},
		[]string{"job"},
	)

	ScheduledJobFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costsync_job_failures_total",
			Help: "Total number of failed executions per job",
		},
		[]string{"job"},
	)
)

func UpdateJobMetrics(job string, startedAt time.Time, err error) {
	dur := time.Since(startedAt).Seconds()
	ScheduledJobLastDurationSeconds.WithLabelValues(job).Set(dur)
	ScheduledJobLastRun.WithLabelValues(job).Set(float64(time.Now().Unix()))
	if err != nil {
		ScheduledJobFailuresTotal.WithLabelValues(job).Inc()
	}
}
