package storage

import (
	"context"
	"time"
)

// Storage abstracts persistence for accounts, cost data, baselines,
// credentials, and sync jobs. Lookups return (nil, nil) when the row does
// not exist.
type Storage interface {
	// Tenants and accounts
	ListTenants(ctx context.Context) ([]string, error)
	ListAccounts(ctx context.Context, tenant string) ([]Account, error)
	GetAccount(ctx context.Context, tenant, accountID string) (*Account, error)
	UpsertAccount(ctx context.Context, a Account) error

	// Cost snapshots
	SaveSnapshot(ctx context.Context, rec SnapshotRecord) error
	GetSnapshot(ctx context.Context, tenant, provider, accountID, period string) (*SnapshotRecord, error)

	// Daily cost history
	SaveDailyCosts(ctx context.Context, recs []DailyCostRecord) error
	ListDailyCosts(ctx context.Context, tenant, provider, accountID string, since time.Time) ([]DailyCostRecord, error)

	// Per-service daily detail
	SaveServiceDailyCosts(ctx context.Context, recs []ServiceDailyCostRecord) error
	ListServiceDailyCosts(ctx context.Context, tenant, provider, accountID, service string, since time.Time) ([]ServiceDailyCostRecord, error)

	// Anomaly baselines
	SaveBaselines(ctx context.Context, recs []BaselineRecord) error
	ListBaselines(ctx context.Context, tenant, provider, accountID string, since time.Time) ([]BaselineRecord, error)

	// Credentials (sealed blobs; the credentials package handles sealing)
	GetCredential(ctx context.Context, tenant, accountID string) (*CredentialRecord, error)
	SaveCredential(ctx context.Context, rec CredentialRecord) error

	// Sync jobs
	CreateSyncJob(ctx context.Context, job SyncJob) error
	UpdateSyncJob(ctx context.Context, job SyncJob) error
	GetSyncJob(ctx context.Context, id string) (*SyncJob, error)

	// Settings
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error

	Ping(ctx context.Context) error
	Close() error
}

// Locker is implemented by backends that support cross-instance locks. The
// worker type-asserts for it; backends without real locks grant them
// unconditionally.
type Locker interface {
	AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error)
	ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error)
}
