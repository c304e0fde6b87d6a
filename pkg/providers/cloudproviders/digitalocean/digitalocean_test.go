package digitalocean

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudbill/costsync/pkg/providers/cloudproviders"
)

func testProvider(srv *httptest.Server) *Provider {
	p := New()
	p.baseURL = srv.URL
	p.client = srv.Client()
	return p
}

func window() (time.Time, time.Time) {
	return time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
}

func TestFetchParsesBillingHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer dop_token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"billing_history": [
				{"description": "Droplet usage", "amount": "42.50", "date": "2026-08-10T00:00:00Z", "type": "Invoice"},
				{"description": "Payment (Visa)", "amount": "-42.50", "date": "2026-08-11T00:00:00Z", "type": "Payment"},
				{"description": "Promo credit", "amount": "-10.00", "date": "2026-08-12T00:00:00Z", "type": "Credit"},
				{"description": "Old invoice", "amount": "99.00", "date": "2026-06-01T00:00:00Z", "type": "Invoice"}
			]
		}`))
	}))
	defer srv.Close()

	start, end := window()
	raw, err := testProvider(srv).Fetch(context.Background(), cloudproviders.Credentials{"api_token": "dop_token"}, start, end)
	require.NoError(t, err)

	require.Len(t, raw.Lines, 2, "payments and out-of-range entries are skipped")
	assert.Equal(t, "2026-08-10", raw.Lines[0].Date)
	assert.InDelta(t, 42.50, raw.Lines[0].Amount, 1e-9)
	assert.Equal(t, cloudproviders.LineKindCredit, raw.Lines[1].Kind)
}

func TestFetchEmptyHistoryIsValid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"billing_history": []}`))
	}))
	defer srv.Close()

	start, end := window()
	raw, err := testProvider(srv).Fetch(context.Background(), cloudproviders.Credentials{"api_token": "t"}, start, end)
	require.NoError(t, err, "zero cost rows is a valid answer, not an error")
	assert.Empty(t, raw.Lines)
}

func TestFetchMapsUpstreamStatus(t *testing.T) {
	cases := []struct {
		status int
		kind   cloudproviders.ErrorKind
	}{
		{http.StatusUnauthorized, cloudproviders.ErrorKindAuth},
		{http.StatusTooManyRequests, cloudproviders.ErrorKindRateLimited},
		{http.StatusServiceUnavailable, cloudproviders.ErrorKindUpstreamUnavailable},
		{http.StatusBadRequest, cloudproviders.ErrorKindInvalidRequest},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tc.status)
		}))

		start, end := window()
		_, err := testProvider(srv).Fetch(context.Background(), cloudproviders.Credentials{"api_token": "t"}, start, end)
		require.Error(t, err)
		assert.Equal(t, tc.kind, cloudproviders.KindOf(err), "status %d", tc.status)
		srv.Close()
	}
}

func TestFetchRequiresToken(t *testing.T) {
	start, end := window()
	_, err := New().Fetch(context.Background(), cloudproviders.Credentials{}, start, end)
	require.Error(t, err)
	assert.Equal(t, cloudproviders.ErrorKindAuth, cloudproviders.KindOf(err))
}
