package syncer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudbill/costsync/internal/costs"
	"github.com/cloudbill/costsync/internal/notification"
	"github.com/cloudbill/costsync/internal/resilience"
	"github.com/cloudbill/costsync/internal/storage"
	"github.com/cloudbill/costsync/pkg/providers"
	"github.com/cloudbill/costsync/pkg/providers/cloudproviders"
)

// fakeProvider is a registry-registered adapter whose behavior tests swap
// out per run.
type fakeProvider struct {
	key      string
	mu       sync.Mutex
	fetchFn  func(creds cloudproviders.Credentials, start, end time.Time) (*cloudproviders.RawCostData, error)
	detailFn func(service string) (*cloudproviders.RawServiceDetail, error)
	calls    int
}

func (p *fakeProvider) Key() string                        { return p.key }
func (p *fakeProvider) Name() string                       { return "Fake " + p.key }
func (p *fakeProvider) Granularity() providers.Granularity { return providers.GranularityDaily }

func (p *fakeProvider) Fetch(ctx context.Context, creds cloudproviders.Credentials, start, end time.Time) (*cloudproviders.RawCostData, error) {
	p.mu.Lock()
	p.calls++
	fn := p.fetchFn
	p.mu.Unlock()
	return fn(creds, start, end)
}

func (p *fakeProvider) FetchServiceDetail(ctx context.Context, creds cloudproviders.Credentials, service string, start, end time.Time) (*cloudproviders.RawServiceDetail, error) {
	p.mu.Lock()
	fn := p.detailFn
	p.mu.Unlock()
	if fn == nil {
		return &cloudproviders.RawServiceDetail{Service: service}, nil
	}
	return fn(service)
}

var testProvider = &fakeProvider{key: "faketest"}

func init() {
	cloudproviders.Register(testProvider)
}

// steadyLines produces $100/day usage lines across the range.
func steadyLines(start, end time.Time) *cloudproviders.RawCostData {
	data := &cloudproviders.RawCostData{ProviderKey: "faketest", Currency: "USD"}
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		data.Lines = append(data.Lines, cloudproviders.RawCostLine{
			Date:    d.Format(costs.DateLayout),
			Service: "Compute",
			Amount:  100,
		})
	}
	return data
}

type credsByAccount map[string]cloudproviders.Credentials

func (c credsByAccount) GetDecryptedCredentials(ctx context.Context, tenant, accountID string) (cloudproviders.Credentials, error) {
	creds, ok := c[accountID]
	if !ok {
		return nil, providers.ErrNoCredentials
	}
	return creds, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []notification.Event
}

func (r *recordingSink) Send(ctx context.Context, ev notification.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) byType(t notification.EventType) []notification.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notification.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func newTestOrchestrator(t *testing.T, store storage.Storage, creds credsByAccount, sink notification.Sink) *Orchestrator {
	t.Helper()
	o := New(store, creds, sink, zerolog.Nop(), Options{Workers: 2, AccountTimeout: 5 * time.Second})
	// Keep retries instant so failure paths don't slow the suite down.
	o.policy = resilience.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Timeout: time.Second}
	return o
}

func seedAccounts(t *testing.T, ids ...string) (*storage.MemoryStorage, credsByAccount) {
	t.Helper()
	var accounts []storage.Account
	creds := make(credsByAccount)
	for _, id := range ids {
		accounts = append(accounts, storage.Account{
			Tenant: "acme", AccountID: id, ProviderKey: "faketest", Enabled: true,
		})
		creds[id] = cloudproviders.Credentials{"api_token": "tok-" + id}
	}
	return storage.NewMemoryWithAccounts(accounts), creds
}

func TestRunTenantSyncPartialFailure(t *testing.T) {
	store, creds := seedAccounts(t, "a1", "a2", "a3")
	sink := &recordingSink{}
	o := newTestOrchestrator(t, store, creds, sink)

	testProvider.mu.Lock()
	testProvider.fetchFn = func(c cloudproviders.Credentials, start, end time.Time) (*cloudproviders.RawCostData, error) {
		if c["api_token"] == "tok-a2" {
			return nil, &cloudproviders.APIError{
				Provider: "faketest",
				Kind:     cloudproviders.ErrorKindAuth,
				Message:  "key revoked",
			}
		}
		return steadyLines(start, end), nil
	}
	testProvider.mu.Unlock()

	outcomes, err := o.RunTenantSync(context.Background(), "acme", nil, false)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	byAccount := make(map[string]costs.SyncOutcome)
	for _, out := range outcomes {
		byAccount[out.AccountID] = out
	}

	assert.True(t, byAccount["a1"].Success)
	assert.True(t, byAccount["a3"].Success)
	assert.False(t, byAccount["a2"].Success, "one failing account must not abort the others")
	assert.Equal(t, cloudproviders.ErrorKindAuth, byAccount["a2"].ErrorKind)

	// Successes carry populated snapshots with a forecast.
	require.NotNil(t, byAccount["a1"].Snapshot)
	assert.Positive(t, byAccount["a1"].Snapshot.CurrentMonth)
	require.NotNil(t, byAccount["a1"].Snapshot.Forecast)

	// Snapshots persisted for the successes only.
	period := costs.Period(time.Now().UTC())
	rec, err := store.GetSnapshot(context.Background(), "acme", "faketest", "a1", period)
	require.NoError(t, err)
	assert.NotNil(t, rec)
	rec, err = store.GetSnapshot(context.Background(), "acme", "faketest", "a2", period)
	require.NoError(t, err)
	assert.Nil(t, rec)

	// One summary notification mentioning the failed account.
	summaries := sink.byType(notification.EventSyncCompleted)
	require.Len(t, summaries, 1)
	assert.Equal(t, 3, summaries[0].TotalCount)
	assert.Equal(t, 1, summaries[0].FailedCount)
	require.Len(t, summaries[0].Failures, 1)
	assert.Equal(t, "a2", summaries[0].Failures[0].AccountID)
}

func TestRunTenantSyncNoAccounts(t *testing.T) {
	store, creds := seedAccounts(t)
	o := newTestOrchestrator(t, store, creds, &recordingSink{})

	_, err := o.RunTenantSync(context.Background(), "acme", nil, false)
	assert.Error(t, err)
}

func TestRunAccountSyncMissingCredentials(t *testing.T) {
	store, _ := seedAccounts(t, "a1")
	o := newTestOrchestrator(t, store, credsByAccount{}, &recordingSink{})

	outcome, err := o.RunAccountSync(context.Background(), "acme", "a1", false)
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Equal(t, cloudproviders.ErrorKindAuth, outcome.ErrorKind)
}

func TestRunAccountSyncInvalidatesTenantCache(t *testing.T) {
	store, creds := seedAccounts(t, "a1")
	o := newTestOrchestrator(t, store, creds, &recordingSink{})

	testProvider.mu.Lock()
	testProvider.calls = 0
	testProvider.fetchFn = func(c cloudproviders.Credentials, start, end time.Time) (*cloudproviders.RawCostData, error) {
		return steadyLines(start, end), nil
	}
	testProvider.mu.Unlock()

	_, err := o.RunAccountSync(context.Background(), "acme", "a1", false)
	require.NoError(t, err)
	testProvider.mu.Lock()
	first := testProvider.calls
	testProvider.mu.Unlock()
	require.GreaterOrEqual(t, first, 1)

	// Second sync of the same account invalidates the tenant first, so it
	// fetches again rather than serving the cached response.
	_, err = o.RunAccountSync(context.Background(), "acme", "a1", false)
	require.NoError(t, err)
	testProvider.mu.Lock()
	second := testProvider.calls
	testProvider.mu.Unlock()
	assert.Greater(t, second, first)
}

func TestRunAccountSyncDetailFailureWarnsButSucceeds(t *testing.T) {
	store, creds := seedAccounts(t, "a1")
	sink := &recordingSink{}
	o := newTestOrchestrator(t, store, creds, sink)

	testProvider.mu.Lock()
	testProvider.fetchFn = func(c cloudproviders.Credentials, start, end time.Time) (*cloudproviders.RawCostData, error) {
		return steadyLines(start, end), nil
	}
	testProvider.detailFn = func(service string) (*cloudproviders.RawServiceDetail, error) {
		return nil, &cloudproviders.APIError{
			Provider: "faketest",
			Kind:     cloudproviders.ErrorKindUpstreamUnavailable,
			Message:  "detail endpoint down",
		}
	}
	testProvider.mu.Unlock()
	t.Cleanup(func() {
		testProvider.mu.Lock()
		testProvider.detailFn = nil
		testProvider.mu.Unlock()
	})

	outcome, err := o.RunAccountSync(context.Background(), "acme", "a1", false)
	require.NoError(t, err)
	assert.True(t, outcome.Success, "baseline degradation must not fail the sync")

	warnings := sink.byType(notification.EventWarning)
	require.Len(t, warnings, 1)
	assert.Equal(t, "a1", warnings[0].AccountID)
	assert.Contains(t, warnings[0].Message, "baselines degraded")
}

func TestRunTenantSyncSelectsRequestedAccounts(t *testing.T) {
	store, creds := seedAccounts(t, "a1", "a2")
	o := newTestOrchestrator(t, store, creds, &recordingSink{})

	testProvider.mu.Lock()
	testProvider.fetchFn = func(c cloudproviders.Credentials, start, end time.Time) (*cloudproviders.RawCostData, error) {
		return steadyLines(start, end), nil
	}
	testProvider.mu.Unlock()

	outcomes, err := o.RunTenantSync(context.Background(), "acme", []string{"a2"}, false)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "a2", outcomes[0].AccountID)
}

func TestSelectAccountsSkipsDisabled(t *testing.T) {
	accounts := []storage.Account{
		{AccountID: "on", Enabled: true},
		{AccountID: "off", Enabled: false},
	}
	out := selectAccounts(accounts, nil)
	require.Len(t, out, 1)
	assert.Equal(t, "on", out[0].AccountID)
}
