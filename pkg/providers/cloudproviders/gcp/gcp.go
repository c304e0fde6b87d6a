// Package gcp fetches billing data from a GCP billing export table through
// the BigQuery jobs.query endpoint. GCP has no direct cost query API; the
// standard setup exports billing data to BigQuery and queries it there.
package gcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2/google"

	"github.com/cloudbill/costsync/pkg/providers"
	"github.com/cloudbill/costsync/pkg/providers/cloudproviders"
)

const (
	providerKey = "gcp"
	scope       = "https://www.googleapis.com/auth/bigquery.readonly"
	dateLayout  = "2006-01-02"
)

// Provider implements cloudproviders.CloudProvider for Google Cloud.
type Provider struct {
	client  *http.Client
	baseURL string
}

func init() {
	cloudproviders.Register(New())
}

// New returns a GCP billing-export adapter.
func New() *Provider {
	return &Provider{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: "https://bigquery.googleapis.com",
	}
}

func (p *Provider) Key() string  { return providerKey }
func (p *Provider) Name() string { return "Google Cloud Platform" }

func (p *Provider) Granularity() providers.Granularity { return providers.GranularityDaily }

type queryRequest struct {
	Query        string `json:"query"`
	UseLegacySQL bool   `json:"useLegacySql"`
	TimeoutMs    int    `json:"timeoutMs"`
}

type queryResponse struct {
	Rows []struct {
		F []struct {
			V any `json:"v"`
		} `json:"f"`
	} `json:"rows"`
	JobComplete bool `json:"jobComplete"`
}

// Fetch aggregates the billing export per (usage day, service). Credits are
// surfaced as separate negative lines so normalization can account for them
// without zeroing service costs.
func (p *Provider) Fetch(ctx context.Context, creds cloudproviders.Credentials, start, end time.Time) (*cloudproviders.RawCostData, error) {
	sql := fmt.Sprintf(`SELECT FORMAT_DATE('%%F', DATE(usage_start_time)) AS day,
service.description AS service,
SUM(cost) AS cost,
SUM((SELECT IFNULL(SUM(c.amount), 0) FROM UNNEST(credits) c)) AS credits
FROM %s
WHERE DATE(usage_start_time) BETWEEN '%s' AND '%s'
GROUP BY day, service ORDER BY day`,
		sanitizeTable(creds["billing_table"]), start.Format(dateLayout), end.Format(dateLayout))

	resp, err := p.query(ctx, creds, sql)
	if err != nil {
		return nil, err
	}

	raw := &cloudproviders.RawCostData{ProviderKey: providerKey, Currency: "USD"}
	for _, row := range resp.Rows {
		if len(row.F) < 4 {
			continue
		}
		day, _ := row.F[0].V.(string)
		service, _ := row.F[1].V.(string)
		cost, okCost := cellFloat(row.F[2].V)
		credit, okCredit := cellFloat(row.F[3].V)
		if day == "" || !okCost {
			continue
		}
		raw.Lines = append(raw.Lines, cloudproviders.RawCostLine{
			Date:    day,
			Service: service,
			Amount:  cost,
		})
		if okCredit && credit != 0 {
			raw.Lines = append(raw.Lines, cloudproviders.RawCostLine{
				Date:    day,
				Service: service,
				Amount:  credit,
				Kind:    cloudproviders.LineKindCredit,
			})
		}
	}
	return raw, nil
}

// FetchServiceDetail aggregates daily costs for a single service.
func (p *Provider) FetchServiceDetail(ctx context.Context, creds cloudproviders.Credentials, service string, start, end time.Time) (*cloudproviders.RawServiceDetail, error) {
	sql := fmt.Sprintf(`SELECT FORMAT_DATE('%%F', DATE(usage_start_time)) AS day,
SUM(cost) AS cost
FROM %s
WHERE DATE(usage_start_time) BETWEEN '%s' AND '%s'
AND service.description = '%s'
GROUP BY day ORDER BY day`,
		sanitizeTable(creds["billing_table"]), start.Format(dateLayout), end.Format(dateLayout),
		strings.ReplaceAll(service, "'", ""))

	resp, err := p.query(ctx, creds, sql)
	if err != nil {
		return nil, err
	}

	detail := &cloudproviders.RawServiceDetail{Service: service}
	for _, row := range resp.Rows {
		if len(row.F) < 2 {
			continue
		}
		day, _ := row.F[0].V.(string)
		cost, ok := cellFloat(row.F[1].V)
		if day == "" || !ok {
			continue
		}
		detail.Points = append(detail.Points, cloudproviders.RawCostLine{
			Date:    day,
			Service: service,
			Amount:  cost,
		})
	}
	return detail, nil
}

func (p *Provider) query(ctx context.Context, creds cloudproviders.Credentials, sql string) (*queryResponse, error) {
	if err := cloudproviders.RequireCreds(providerKey, creds, "project_id", "billing_table", "service_account_json"); err != nil {
		return nil, err
	}

	conf, err := google.JWTConfigFromJSON([]byte(creds["service_account_json"]), scope)
	if err != nil {
		return nil, &cloudproviders.APIError{Provider: providerKey, Kind: cloudproviders.ErrorKindAuth, Message: "invalid service account key", Err: err}
	}
	token, err := conf.TokenSource(ctx).Token()
	if err != nil {
		return nil, &cloudproviders.APIError{Provider: providerKey, Kind: cloudproviders.ErrorKindAuth, Message: "token request failed", Err: err}
	}

	payload, err := json.Marshal(queryRequest{Query: sql, TimeoutMs: 25000})
	if err != nil {
		return nil, &cloudproviders.APIError{Provider: providerKey, Kind: cloudproviders.ErrorKindInvalidRequest, Message: "encode query", Err: err}
	}

	url := fmt.Sprintf("%s/bigquery/v2/projects/%s/queries", p.baseURL, creds["project_id"])
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &cloudproviders.APIError{Provider: providerKey, Kind: cloudproviders.ErrorKindInvalidRequest, Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	token.SetAuthHeader(req)

	var resp queryResponse
	if err := cloudproviders.DoJSON(p.client, providerKey, req, &resp); err != nil {
		return nil, err
	}
	if !resp.JobComplete {
		return nil, &cloudproviders.APIError{Provider: providerKey, Kind: cloudproviders.ErrorKindUpstreamUnavailable, Message: "query did not complete within timeout"}
	}
	return &resp, nil
}

// cellFloat handles BigQuery's habit of returning numerics as JSON strings.
func cellFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	}
	return 0, false
}

// sanitizeTable backtick-quotes the export table reference and strips
// characters that could break out of the quoting.
func sanitizeTable(table string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '_' || r == '-':
			return r
		}
		return -1
	}, table)
	return "`" + clean + "`"
}
