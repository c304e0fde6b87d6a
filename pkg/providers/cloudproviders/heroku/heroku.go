// Package heroku fetches invoices from the Heroku Platform API. Heroku bills
// monthly; the adapter surfaces one point per invoice period start.
package heroku

import (
	"context"
	"net/http"
	"time"

	"github.com/cloudbill/costsync/pkg/providers"
	"github.com/cloudbill/costsync/pkg/providers/cloudproviders"
)

const (
	providerKey = "heroku"
	dateLayout  = "2006-01-02"
)

// Provider implements cloudproviders.CloudProvider for Heroku.
type Provider struct {
	client  *http.Client
	baseURL string
}

func init() {
	cloudproviders.Register(New())
}

// New returns a Heroku invoice adapter.
func New() *Provider {
	return &Provider{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: "https://api.heroku.com",
	}
}

func (p *Provider) Key() string  { return providerKey }
func (p *Provider) Name() string { return "Heroku" }

func (p *Provider) Granularity() providers.Granularity { return providers.GranularityInvoice }

// Invoice totals are integer cents.
type invoice struct {
	PeriodStart  string `json:"period_start"`
	PeriodEnd    string `json:"period_end"`
	ChargesTotal int64  `json:"charges_total"`
	CreditsTotal int64  `json:"credits_total"`
	Total        int64  `json:"total"`
	State        int    `json:"state"`
}

// Fetch lists invoices whose period starts inside [start, end].
func (p *Provider) Fetch(ctx context.Context, creds cloudproviders.Credentials, start, end time.Time) (*cloudproviders.RawCostData, error) {
	if err := cloudproviders.RequireCreds(providerKey, creds, "api_key"); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/account/invoices", nil)
	if err != nil {
		return nil, &cloudproviders.APIError{Provider: providerKey, Kind: cloudproviders.ErrorKindInvalidRequest, Message: "build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+creds["api_key"])
	req.Header.Set("Accept", "application/vnd.heroku+json; version=3")

	var invoices []invoice
	if err := cloudproviders.DoJSON(p.client, providerKey, req, &invoices); err != nil {
		return nil, err
	}

	raw := &cloudproviders.RawCostData{ProviderKey: providerKey, Currency: "USD"}
	for _, inv := range invoices {
		t, err := time.Parse(dateLayout, inv.PeriodStart)
		if err != nil {
			t, err = time.Parse(time.RFC3339, inv.PeriodStart)
			if err != nil {
				continue
			}
		}
		if t.Before(start) || t.After(end) {
			continue
		}
		day := t.Format(dateLayout)
		raw.Lines = append(raw.Lines, cloudproviders.RawCostLine{
			Date:    day,
			Service: "Heroku platform",
			Amount:  float64(inv.ChargesTotal) / 100,
		})
		if inv.CreditsTotal != 0 {
			raw.Lines = append(raw.Lines, cloudproviders.RawCostLine{
				Date:    day,
				Service: "Heroku platform",
				Amount:  -float64(inv.CreditsTotal) / 100,
				Kind:    cloudproviders.LineKindCredit,
			})
		}
	}
	return raw, nil
}

// FetchServiceDetail returns an empty detail: Heroku invoices carry no
// per-service daily breakdown.
func (p *Provider) FetchServiceDetail(ctx context.Context, creds cloudproviders.Credentials, service string, start, end time.Time) (*cloudproviders.RawServiceDetail, error) {
	if err := cloudproviders.RequireCreds(providerKey, creds, "api_key"); err != nil {
		return nil, err
	}
	return &cloudproviders.RawServiceDetail{Service: service}, nil
}
