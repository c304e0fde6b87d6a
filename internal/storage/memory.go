package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStorage is an in-memory Storage implementation, useful for tests and
// simple single-process deployments.
type MemoryStorage struct {
	mu          sync.RWMutex
	accounts    map[string]Account
	snapshots   map[string]SnapshotRecord
	daily       map[string]DailyCostRecord
	svcDaily    map[string]ServiceDailyCostRecord
	baselines   map[string]BaselineRecord
	credentials map[string]CredentialRecord
	jobs        map[string]SyncJob
	settings    map[string]string
}

// NewMemory returns an empty MemoryStorage.
func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		accounts:    make(map[string]Account),
		snapshots:   make(map[string]SnapshotRecord),
		daily:       make(map[string]DailyCostRecord),
		svcDaily:    make(map[string]ServiceDailyCostRecord),
		baselines:   make(map[string]BaselineRecord),
		credentials: make(map[string]CredentialRecord),
		jobs:        make(map[string]SyncJob),
		settings:    make(map[string]string),
	}
}

// NewMemoryWithAccounts returns a MemoryStorage seeded with the given
// accounts.
func NewMemoryWithAccounts(list []Account) *MemoryStorage {
	m := NewMemory()
	for _, a := range list {
		m.accounts[a.Tenant+"|"+a.AccountID] = a
	}
	return m
}

func (m *MemoryStorage) Close() error { return nil }

func (m *MemoryStorage) Ping(ctx context.Context) error { return nil }

func (m *MemoryStorage) ListTenants(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	var tenants []string
	for _, a := range m.accounts {
		if a.Enabled && !seen[a.Tenant] {
			seen[a.Tenant] = true
			tenants = append(tenants, a.Tenant)
		}
	}
	sort.Strings(tenants)
	return tenants, nil
}

func (m *MemoryStorage) ListAccounts(ctx context.Context, tenant string) ([]Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Account
	for _, a := range m.accounts {
		if a.Tenant == tenant {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

func (m *MemoryStorage) GetAccount(ctx context.Context, tenant, accountID string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[tenant+"|"+accountID]
	if !ok {
		return nil, nil
	}
	cp := a
	return &cp, nil
}

func (m *MemoryStorage) UpsertAccount(ctx context.Context, a Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	m.accounts[a.Tenant+"|"+a.AccountID] = a
	return nil
}

func (m *MemoryStorage) SaveSnapshot(ctx context.Context, rec SnapshotRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.FetchedAt.IsZero() {
		rec.FetchedAt = time.Now()
	}
	m.snapshots[rec.Tenant+"|"+rec.ProviderKey+"|"+rec.AccountID+"|"+rec.Period] = rec
	return nil
}

func (m *MemoryStorage) GetSnapshot(ctx context.Context, tenant, provider, accountID, period string) (*SnapshotRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.snapshots[tenant+"|"+provider+"|"+accountID+"|"+period]
	if !ok {
		return nil, nil
	}
	cp := rec
	return &cp, nil
}

func (m *MemoryStorage) SaveDailyCosts(ctx context.Context, recs []DailyCostRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recs {
		m.daily[r.Tenant+"|"+r.ProviderKey+"|"+r.AccountID+"|"+r.Date.Format("2006-01-02")] = r
	}
	return nil
}

func (m *MemoryStorage) ListDailyCosts(ctx context.Context, tenant, provider, accountID string, since time.Time) ([]DailyCostRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []DailyCostRecord
	for _, r := range m.daily {
		if r.Tenant == tenant && r.ProviderKey == provider && r.AccountID == accountID && !r.Date.Before(since) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *MemoryStorage) SaveServiceDailyCosts(ctx context.Context, recs []ServiceDailyCostRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recs {
		m.svcDaily[r.Tenant+"|"+r.ProviderKey+"|"+r.AccountID+"|"+r.Service+"|"+r.Date.Format("2006-01-02")] = r
	}
	return nil
}

func (m *MemoryStorage) ListServiceDailyCosts(ctx context.Context, tenant, provider, accountID, service string, since time.Time) ([]ServiceDailyCostRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ServiceDailyCostRecord
	for _, r := range m.svcDaily {
		if r.Tenant != tenant || r.ProviderKey != provider || r.AccountID != accountID || r.Date.Before(since) {
			continue
		}
		if service != "" && r.Service != service {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Service < out[j].Service
	})
	return out, nil
}

func (m *MemoryStorage) SaveBaselines(ctx context.Context, recs []BaselineRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recs {
		m.baselines[r.Tenant+"|"+r.ProviderKey+"|"+r.AccountID+"|"+r.Service+"|"+r.Date.Format("2006-01-02")] = r
	}
	return nil
}

func (m *MemoryStorage) ListBaselines(ctx context.Context, tenant, provider, accountID string, since time.Time) ([]BaselineRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []BaselineRecord
	for _, r := range m.baselines {
		if r.Tenant == tenant && r.ProviderKey == provider && r.AccountID == accountID && !r.Date.Before(since) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Service < out[j].Service
	})
	return out, nil
}

func (m *MemoryStorage) GetCredential(ctx context.Context, tenant, accountID string) (*CredentialRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.credentials[tenant+"|"+accountID]
	if !ok {
		return nil, nil
	}
	cp := rec
	return &cp, nil
}

func (m *MemoryStorage) SaveCredential(ctx context.Context, rec CredentialRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	m.credentials[rec.Tenant+"|"+rec.AccountID] = rec
	return nil
}

func (m *MemoryStorage) CreateSyncJob(ctx context.Context, job SyncJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return nil
}

func (m *MemoryStorage) UpdateSyncJob(ctx context.Context, job SyncJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return nil
}

func (m *MemoryStorage) GetSyncJob(ctx context.Context, id string) (*SyncJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := job
	return &cp, nil
}

func (m *MemoryStorage) GetSetting(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings[key], nil
}

func (m *MemoryStorage) SetSetting(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}

func (m *MemoryStorage) AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	return true, nil
}

func (m *MemoryStorage) ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	return true, nil
}
