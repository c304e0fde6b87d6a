package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudbill/costsync/pkg/providers/cloudproviders"
)

func testKey(tenant, account string) Key {
	return Key{
		Tenant:    tenant,
		Provider:  "aws",
		AccountID: account,
		Start:     time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC),
	}
}

func TestCachePutGet(t *testing.T) {
	c := New(time.Minute)
	key := testKey("t1", "acct-1")

	_, ok := c.Get(key)
	assert.False(t, ok)

	data := &cloudproviders.RawCostData{ProviderKey: "aws", Currency: "USD"}
	c.Put(key, data)

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Same(t, data, got)
}

func TestCacheExpiry(t *testing.T) {
	c := New(time.Minute)
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	key := testKey("t1", "acct-1")
	c.Put(key, &cloudproviders.RawCostData{ProviderKey: "aws"})

	now = now.Add(59 * time.Second)
	_, ok := c.Get(key)
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok = c.Get(key)
	assert.False(t, ok, "entry past its TTL must miss")
}

func TestCacheTenantInvalidation(t *testing.T) {
	c := New(time.Minute)
	c.Put(testKey("t1", "acct-1"), &cloudproviders.RawCostData{ProviderKey: "aws"})
	c.Put(testKey("t1", "acct-2"), &cloudproviders.RawCostData{ProviderKey: "aws"})
	c.Put(testKey("t2", "acct-1"), &cloudproviders.RawCostData{ProviderKey: "aws"})

	removed := c.InvalidateTenant("t1")
	assert.Equal(t, 2, removed)

	_, ok := c.Get(testKey("t1", "acct-1"))
	assert.False(t, ok)
	_, ok = c.Get(testKey("t2", "acct-1"))
	assert.True(t, ok, "other tenants' entries must survive")
}

func TestCacheKeyIncludesDateRange(t *testing.T) {
	c := New(time.Minute)
	key := testKey("t1", "acct-1")
	c.Put(key, &cloudproviders.RawCostData{ProviderKey: "aws"})

	other := key
	other.End = key.End.AddDate(0, 0, 1)
	_, ok := c.Get(other)
	assert.False(t, ok, "different date ranges are different entries")
}
