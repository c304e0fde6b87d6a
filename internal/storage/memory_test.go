package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMemoryWithAccountsPreloads(t *testing.T) {
	ctx := context.Background()
	a := Account{
		Tenant:      "acme",
		AccountID:   "prod",
		ProviderKey: "aws",
		DisplayName: "ACME Production",
		Enabled:     true,
	}

	m := NewMemoryWithAccounts([]Account{a})
	defer m.Close()

	list, err := m.ListAccounts(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "prod", list[0].AccountID)

	tenants, err := m.ListTenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme"}, tenants)
}

func TestMemoryListTenantsSkipsDisabled(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryWithAccounts([]Account{
		{Tenant: "acme", AccountID: "prod", Enabled: true},
		{Tenant: "globex", AccountID: "main", Enabled: false},
	})

	tenants, err := m.ListTenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme"}, tenants)
}

func TestMemorySnapshotUpsert(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	rec := SnapshotRecord{
		Tenant: "acme", ProviderKey: "aws", AccountID: "prod",
		Period: "2026-08", Payload: []byte(`{"currentMonth":100}`),
	}
	require.NoError(t, m.SaveSnapshot(ctx, rec))

	rec.Payload = []byte(`{"currentMonth":200}`)
	require.NoError(t, m.SaveSnapshot(ctx, rec))

	got, err := m.GetSnapshot(ctx, "acme", "aws", "prod", "2026-08")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.JSONEq(t, `{"currentMonth":200}`, string(got.Payload))

	missing, err := m.GetSnapshot(ctx, "acme", "aws", "prod", "2026-07")
	require.NoError(t, err)
	assert.Nil(t, missing, "missing rows return nil, not an error")
}

func TestMemoryDailyCostsWindow(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	day := func(d int) time.Time { return time.Date(2026, 8, d, 0, 0, 0, 0, time.UTC) }
	require.NoError(t, m.SaveDailyCosts(ctx, []DailyCostRecord{
		{Tenant: "acme", ProviderKey: "aws", AccountID: "prod", Date: day(1), Cost: 10},
		{Tenant: "acme", ProviderKey: "aws", AccountID: "prod", Date: day(5), Cost: 20},
		{Tenant: "acme", ProviderKey: "aws", AccountID: "prod", Date: day(9), Cost: 30},
	}))

	// Re-save same date overwrites.
	require.NoError(t, m.SaveDailyCosts(ctx, []DailyCostRecord{
		{Tenant: "acme", ProviderKey: "aws", AccountID: "prod", Date: day(5), Cost: 25},
	}))

	recs, err := m.ListDailyCosts(ctx, "acme", "aws", "prod", day(5))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 25.0, recs[0].Cost)
	assert.Equal(t, day(9), recs[1].Date)
}

func TestMemoryServiceDailyFilterByService(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	day := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, m.SaveServiceDailyCosts(ctx, []ServiceDailyCostRecord{
		{Tenant: "acme", ProviderKey: "aws", AccountID: "prod", Service: "EC2", Date: day, Cost: 50},
		{Tenant: "acme", ProviderKey: "aws", AccountID: "prod", Service: "S3", Date: day, Cost: 5},
	}))

	only, err := m.ListServiceDailyCosts(ctx, "acme", "aws", "prod", "EC2", day.AddDate(0, 0, -1))
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, "EC2", only[0].Service)

	all, err := m.ListServiceDailyCosts(ctx, "acme", "aws", "prod", "", day.AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemorySyncJobLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	job := SyncJob{ID: "j1", Tenant: "acme", State: SyncStatePending, TotalCount: 3}
	require.NoError(t, m.CreateSyncJob(ctx, job))

	job.State = SyncStateInProgress
	require.NoError(t, m.UpdateSyncJob(ctx, job))

	got, err := m.GetSyncJob(ctx, "j1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, SyncStateInProgress, got.State)
}

func TestMemorySettings(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	v, err := m.GetSetting(ctx, "worker_interval")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, m.SetSetting(ctx, "worker_interval", "30m"))
	v, err = m.GetSetting(ctx, "worker_interval")
	require.NoError(t, err)
	assert.Equal(t, "30m", v)
}
