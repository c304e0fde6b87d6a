package storage

import "time"

// Account is one credentialed connection of a tenant to a cloud provider.
type Account struct {
	ID            uint      `json:"-" gorm:"primaryKey;column:id"`
	Tenant        string    `json:"tenant" gorm:"column:tenant;uniqueIndex:idx_accounts_key,priority:1"`
	AccountID     string    `json:"account_id" gorm:"column:account_id;uniqueIndex:idx_accounts_key,priority:2"`
	ProviderKey   string    `json:"provider_key" gorm:"column:provider_key"`
	DisplayName   string    `json:"display_name" gorm:"column:display_name"`
	CredentialRef string    `json:"credential_ref" gorm:"column:credential_ref"`
	Enabled       bool      `json:"enabled" gorm:"column:enabled"`
	CreatedAt     time.Time `json:"created_at" gorm:"column:created_at"`
}

// SnapshotRecord stores one normalized CostSnapshot as a JSON payload,
// upserted on (tenant, provider, account, period) so re-syncs are idempotent.
type SnapshotRecord struct {
	ID          uint      `json:"-" gorm:"primaryKey;column:id"`
	Tenant      string    `json:"tenant" gorm:"column:tenant;uniqueIndex:idx_snapshots_key,priority:1"`
	ProviderKey string    `json:"provider_key" gorm:"column:provider_key;uniqueIndex:idx_snapshots_key,priority:2"`
	AccountID   string    `json:"account_id" gorm:"column:account_id;uniqueIndex:idx_snapshots_key,priority:3"`
	Period      string    `json:"period" gorm:"column:period;uniqueIndex:idx_snapshots_key,priority:4"`
	Payload     []byte    `json:"payload" gorm:"column:payload"`
	FetchedAt   time.Time `json:"fetched_at" gorm:"column:fetched_at"`
}

// DailyCostRecord is one account-level daily cost point, upserted on
// (tenant, provider, account, date).
type DailyCostRecord struct {
	ID          uint      `json:"-" gorm:"primaryKey;column:id"`
	Tenant      string    `json:"tenant" gorm:"column:tenant;uniqueIndex:idx_daily_key,priority:1"`
	ProviderKey string    `json:"provider_key" gorm:"column:provider_key;uniqueIndex:idx_daily_key,priority:2"`
	AccountID   string    `json:"account_id" gorm:"column:account_id;uniqueIndex:idx_daily_key,priority:3"`
	Date        time.Time `json:"date" gorm:"column:date;uniqueIndex:idx_daily_key,priority:4"`
	Cost        float64   `json:"cost" gorm:"column:cost"`
}

// ServiceDailyCostRecord is one per-service daily cost point. The anomaly
// engine reads its trailing window from these rows.
type ServiceDailyCostRecord struct {
	ID          uint      `json:"-" gorm:"primaryKey;column:id"`
	Tenant      string    `json:"tenant" gorm:"column:tenant;uniqueIndex:idx_svc_daily_key,priority:1"`
	ProviderKey string    `json:"provider_key" gorm:"column:provider_key;uniqueIndex:idx_svc_daily_key,priority:2"`
	AccountID   string    `json:"account_id" gorm:"column:account_id;uniqueIndex:idx_svc_daily_key,priority:3"`
	Service     string    `json:"service" gorm:"column:service;uniqueIndex:idx_svc_daily_key,priority:4"`
	Date        time.Time `json:"date" gorm:"column:date;uniqueIndex:idx_svc_daily_key,priority:5"`
	Cost        float64   `json:"cost" gorm:"column:cost"`
}

// BaselineRecord is one persisted anomaly baseline row, upserted on
// (tenant, provider, account, service, date). Older rows persist until
// superseded or expired by retention policy.
type BaselineRecord struct {
	ID              uint      `json:"-" gorm:"primaryKey;column:id"`
	Tenant          string    `json:"tenant" gorm:"column:tenant;uniqueIndex:idx_baselines_key,priority:1"`
	ProviderKey     string    `json:"provider_key" gorm:"column:provider_key;uniqueIndex:idx_baselines_key,priority:2"`
	AccountID       string    `json:"account_id" gorm:"column:account_id;uniqueIndex:idx_baselines_key,priority:3"`
	Service         string    `json:"service" gorm:"column:service;uniqueIndex:idx_baselines_key,priority:4"`
	Date            time.Time `json:"date" gorm:"column:date;uniqueIndex:idx_baselines_key,priority:5"`
	BaselineCost    float64   `json:"baseline_cost" gorm:"column:baseline_cost"`
	ActualCost      float64   `json:"actual_cost" gorm:"column:actual_cost"`
	VariancePercent float64   `json:"variance_percent" gorm:"column:variance_percent"`
	ComputedAt      time.Time `json:"computed_at" gorm:"column:computed_at"`
}

// CredentialRecord holds one account's sealed credential bundle.
type CredentialRecord struct {
	ID        string    `json:"id" gorm:"primaryKey;column:id"`
	Tenant    string    `json:"tenant" gorm:"column:tenant;uniqueIndex:idx_credentials_key,priority:1"`
	AccountID string    `json:"account_id" gorm:"column:account_id;uniqueIndex:idx_credentials_key,priority:2"`
	Blob      []byte    `json:"-" gorm:"column:blob"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at"`
}

// SyncJob tracks one tenant sync request through its state machine.
type SyncJob struct {
	ID           string     `json:"id" gorm:"primaryKey;column:id"`
	Tenant       string     `json:"tenant" gorm:"column:tenant"`
	State        string     `json:"state" gorm:"column:state"`
	TotalCount   int        `json:"total_count" gorm:"column:total_count"`
	SuccessCount int        `json:"success_count" gorm:"column:success_count"`
	FailedCount  int        `json:"failed_count" gorm:"column:failed_count"`
	StartedAt    time.Time  `json:"started_at" gorm:"column:started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty" gorm:"column:finished_at"`
	LastError    string     `json:"last_error,omitempty" gorm:"column:last_error"`
}

// Sync job states. COMPLETED is terminal and always reached.
const (
	SyncStatePending    = "PENDING"
	SyncStateInProgress = "IN_PROGRESS"
	SyncStateCompleted  = "COMPLETED"
)

// Setting is a key/value runtime override, e.g. the worker interval.
type Setting struct {
	Key       string    `gorm:"primaryKey;column:key"`
	Value     string    `gorm:"column:value"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}
