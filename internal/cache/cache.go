// Package cache is a short-TTL in-memory store for raw provider responses,
// keyed by (tenant, provider, account, date range). It exists to avoid
// redundant upstream calls within one sync window; it stores pre-normalization
// data so normalization changes never require invalidation.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/cloudbill/costsync/pkg/providers/cloudproviders"
)

// DefaultTTL is how long a cached raw response stays fresh.
const DefaultTTL = 60 * time.Minute

// Key identifies one cached provider response.
type Key struct {
	Tenant    string
	Provider  string
	AccountID string
	Start     time.Time
	End       time.Time
}

func (k Key) String() string {
	return strings.Join([]string{
		k.Tenant,
		k.Provider,
		k.AccountID,
		k.Start.Format("2006-01-02"),
		k.End.Format("2006-01-02"),
	}, "|")
}

type entry struct {
	data      *cloudproviders.RawCostData
	expiresAt time.Time
}

// Cache is safe for concurrent use by the account workers of one sync.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
}

// New returns a Cache with the given default TTL; ttl <= 0 uses DefaultTTL.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// Get returns the cached raw response for key, or nil on miss or expiry.
func (c *Cache) Get(key Key) (*cloudproviders.RawCostData, bool) {
	c.mu.RLock()
	e, ok := c.entries[key.String()]
	c.mu.RUnlock()
	if !ok || c.now().After(e.expiresAt) {
		return nil, false
	}
	return e.data, true
}

// Put stores data under key with the default TTL.
func (c *Cache) Put(key Key, data *cloudproviders.RawCostData) {
	c.PutTTL(key, data, c.ttl)
}

// PutTTL stores data under key with an explicit TTL.
func (c *Cache) PutTTL(key Key, data *cloudproviders.RawCostData, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key.String()] = entry{data: data, expiresAt: c.now().Add(ttl)}
}

// InvalidatePrefix drops every entry whose key starts with prefix and
// returns the number removed.
func (c *Cache) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// InvalidateTenant drops every entry belonging to tenant. Called at the
// start of each sync so a sync never reads optimism left by a previous one.
func (c *Cache) InvalidateTenant(tenant string) int {
	return c.InvalidatePrefix(tenant + "|")
}

// Len returns the number of live entries (expired ones included until
// overwritten or invalidated; the cache is small and short-lived).
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
