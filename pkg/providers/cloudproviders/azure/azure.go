// Package azure fetches billing data from the Azure Cost Management Query
// API. Tokens come from the AAD client-credentials flow; daily granularity
// grouped by service name.
package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/cloudbill/costsync/pkg/providers"
	"github.com/cloudbill/costsync/pkg/providers/cloudproviders"
)

const (
	providerKey = "azure"
	apiVersion  = "2023-03-01"
	dateLayout  = "2006-01-02"
)

// Provider implements cloudproviders.CloudProvider for Azure.
type Provider struct {
	client        *http.Client
	managementURL string
	loginURL      string
}

func init() {
	cloudproviders.Register(New())
}

// New returns an Azure Cost Management adapter.
func New() *Provider {
	return &Provider{
		client:        &http.Client{Timeout: 30 * time.Second},
		managementURL: "https://management.azure.com",
		loginURL:      "https://login.microsoftonline.com",
	}
}

func (p *Provider) Key() string  { return providerKey }
func (p *Provider) Name() string { return "Microsoft Azure" }

func (p *Provider) Granularity() providers.Granularity { return providers.GranularityDaily }

type queryRequest struct {
	Type       string     `json:"type"`
	Timeframe  string     `json:"timeframe"`
	TimePeriod timePeriod `json:"timePeriod"`
	Dataset    dataset    `json:"dataset"`
}

type timePeriod struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type dataset struct {
	Granularity string             `json:"granularity"`
	Aggregation map[string]aggDef  `json:"aggregation"`
	Grouping    []groupingDef      `json:"grouping,omitempty"`
	Filter      *dimensionFilterTo `json:"filter,omitempty"`
}

type aggDef struct {
	Name     string `json:"name"`
	Function string `json:"function"`
}

type groupingDef struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type dimensionFilterTo struct {
	Dimensions dimensionClause `json:"dimensions"`
}

type dimensionClause struct {
	Name     string   `json:"name"`
	Operator string   `json:"operator"`
	Values   []string `json:"values"`
}

// queryResponse rows are positional: [cost, dateNumber, (serviceName), currency].
type queryResponse struct {
	Properties struct {
		Columns []struct {
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"columns"`
		Rows [][]any `json:"rows"`
	} `json:"properties"`
}

// Fetch queries daily actual costs grouped by service for [start, end].
func (p *Provider) Fetch(ctx context.Context, creds cloudproviders.Credentials, start, end time.Time) (*cloudproviders.RawCostData, error) {
	body := queryRequest{
		Type:      "ActualCost",
		Timeframe: "Custom",
		TimePeriod: timePeriod{
			From: start.Format(dateLayout),
			To:   end.Format(dateLayout),
		},
		Dataset: dataset{
			Granularity: "Daily",
			Aggregation: map[string]aggDef{"totalCost": {Name: "Cost", Function: "Sum"}},
			Grouping:    []groupingDef{{Type: "Dimension", Name: "ServiceName"}},
		},
	}

	var resp queryResponse
	if err := p.query(ctx, creds, body, &resp); err != nil {
		return nil, err
	}

	raw := &cloudproviders.RawCostData{ProviderKey: providerKey, Currency: "USD"}
	cols := columnIndex(resp)
	for _, row := range resp.Properties.Rows {
		line, ok := rowToLine(row, cols)
		if !ok {
			continue
		}
		if c, ok := rowString(row, cols, "Currency"); ok {
			raw.Currency = c
		}
		raw.Lines = append(raw.Lines, line)
	}
	return raw, nil
}

// FetchServiceDetail queries daily costs filtered to one service.
func (p *Provider) FetchServiceDetail(ctx context.Context, creds cloudproviders.Credentials, service string, start, end time.Time) (*cloudproviders.RawServiceDetail, error) {
	body := queryRequest{
		Type:      "ActualCost",
		Timeframe: "Custom",
		TimePeriod: timePeriod{
			From: start.Format(dateLayout),
			To:   end.Format(dateLayout),
		},
		Dataset: dataset{
			Granularity: "Daily",
			Aggregation: map[string]aggDef{"totalCost": {Name: "Cost", Function: "Sum"}},
			Filter: &dimensionFilterTo{Dimensions: dimensionClause{
				Name: "ServiceName", Operator: "In", Values: []string{service},
			}},
		},
	}

	var resp queryResponse
	if err := p.query(ctx, creds, body, &resp); err != nil {
		return nil, err
	}

	detail := &cloudproviders.RawServiceDetail{Service: service}
	cols := columnIndex(resp)
	for _, row := range resp.Properties.Rows {
		line, ok := rowToLine(row, cols)
		if !ok {
			continue
		}
		line.Service = service
		detail.Points = append(detail.Points, line)
	}
	return detail, nil
}

func (p *Provider) query(ctx context.Context, creds cloudproviders.Credentials, body, out any) error {
	if err := cloudproviders.RequireCreds(providerKey, creds, "subscription_id", "tenant_id", "client_id", "client_secret"); err != nil {
		return err
	}

	conf := &clientcredentials.Config{
		ClientID:     creds["client_id"],
		ClientSecret: creds["client_secret"],
		TokenURL:     fmt.Sprintf("%s/%s/oauth2/v2.0/token", p.loginURL, creds["tenant_id"]),
		Scopes:       []string{"https://management.azure.com/.default"},
	}
	token, err := conf.Token(ctx)
	if err != nil {
		return &cloudproviders.APIError{Provider: providerKey, Kind: cloudproviders.ErrorKindAuth, Message: "token request failed", Err: err}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return &cloudproviders.APIError{Provider: providerKey, Kind: cloudproviders.ErrorKindInvalidRequest, Message: "encode query", Err: err}
	}

	url := fmt.Sprintf("%s/subscriptions/%s/providers/Microsoft.CostManagement/query?api-version=%s",
		p.managementURL, creds["subscription_id"], apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &cloudproviders.APIError{Provider: providerKey, Kind: cloudproviders.ErrorKindInvalidRequest, Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	token.SetAuthHeader(req)

	return cloudproviders.DoJSON(p.client, providerKey, req, out)
}

func columnIndex(resp queryResponse) map[string]int {
	cols := make(map[string]int, len(resp.Properties.Columns))
	for i, c := range resp.Properties.Columns {
		cols[c.Name] = i
	}
	return cols
}

// rowToLine converts one positional result row. Azure reports the usage date
// as a numeric yyyymmdd.
func rowToLine(row []any, cols map[string]int) (cloudproviders.RawCostLine, bool) {
	var line cloudproviders.RawCostLine

	costIdx, ok := cols["Cost"]
	if !ok || costIdx >= len(row) {
		return line, false
	}
	cost, ok := row[costIdx].(float64)
	if !ok {
		return line, false
	}

	dateIdx, ok := cols["UsageDate"]
	if !ok || dateIdx >= len(row) {
		return line, false
	}
	dateNum, ok := row[dateIdx].(float64)
	if !ok {
		return line, false
	}
	t, err := time.Parse("20060102", fmt.Sprintf("%08.0f", dateNum))
	if err != nil {
		return line, false
	}

	line.Date = t.Format(dateLayout)
	line.Amount = cost
	if svc, ok := rowString(row, cols, "ServiceName"); ok {
		line.Service = svc
	}
	return line, true
}

func rowString(row []any, cols map[string]int, name string) (string, bool) {
	idx, ok := cols[name]
	if !ok || idx < 0 || idx >= len(row) {
		return "", false
	}
	s, ok := row[idx].(string)
	return s, ok && s != ""
}
