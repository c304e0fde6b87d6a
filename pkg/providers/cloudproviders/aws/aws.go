// Package aws fetches billing data from the AWS Cost Explorer API
// (GetCostAndUsage). Daily granularity, grouped by service. Requests are
// signed with SigV4 directly; the full SDK would pull in far more than this
// single endpoint needs.
package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cloudbill/costsync/pkg/providers"
	"github.com/cloudbill/costsync/pkg/providers/cloudproviders"
)

const (
	providerKey = "aws"
	endpoint    = "https://ce.us-east-1.amazonaws.com/"
	target      = "AWSInsightsIndexService.GetCostAndUsage"
	dateLayout  = "2006-01-02"
)

// Provider implements cloudproviders.CloudProvider for AWS.
type Provider struct {
	client   *http.Client
	endpoint string
	now      func() time.Time
}

func init() {
	cloudproviders.Register(New())
}

// New returns an AWS Cost Explorer adapter.
func New() *Provider {
	return &Provider{
		client:   &http.Client{Timeout: 30 * time.Second},
		endpoint: endpoint,
		now:      time.Now,
	}
}

func (p *Provider) Key() string  { return providerKey }
func (p *Provider) Name() string { return "Amazon Web Services" }

func (p *Provider) Granularity() providers.Granularity { return providers.GranularityDaily }

type costQuery struct {
	TimePeriod  timePeriod  `json:"TimePeriod"`
	Granularity string      `json:"Granularity"`
	Metrics     []string    `json:"Metrics"`
	GroupBy     []groupBy   `json:"GroupBy,omitempty"`
	Filter      *costFilter `json:"Filter,omitempty"`
}

type timePeriod struct {
	Start string `json:"Start"`
	End   string `json:"End"`
}

type groupBy struct {
	Type string `json:"Type"`
	Key  string `json:"Key"`
}

type costFilter struct {
	Dimensions dimensionFilter `json:"Dimensions"`
}

type dimensionFilter struct {
	Key    string   `json:"Key"`
	Values []string `json:"Values"`
}

type costResponse struct {
	ResultsByTime []struct {
		TimePeriod timePeriod                   `json:"TimePeriod"`
		Total      map[string]metricValue       `json:"Total"`
		Groups     []struct {
			Keys    []string               `json:"Keys"`
			Metrics map[string]metricValue `json:"Metrics"`
		} `json:"Groups"`
	} `json:"ResultsByTime"`
}

type metricValue struct {
	Amount string `json:"Amount"`
	Unit   string `json:"Unit"`
}

// Fetch queries daily unblended costs grouped by service for [start, end].
func (p *Provider) Fetch(ctx context.Context, creds cloudproviders.Credentials, start, end time.Time) (*cloudproviders.RawCostData, error) {
	if err := cloudproviders.RequireCreds(providerKey, creds, "access_key_id", "secret_access_key"); err != nil {
		return nil, err
	}

	query := costQuery{
		// Cost Explorer treats End as exclusive.
		TimePeriod:  timePeriod{Start: start.Format(dateLayout), End: end.AddDate(0, 0, 1).Format(dateLayout)},
		Granularity: "DAILY",
		Metrics:     []string{"UnblendedCost"},
		GroupBy:     []groupBy{{Type: "DIMENSION", Key: "SERVICE"}},
	}

	var resp costResponse
	if err := p.do(ctx, creds, query, &resp); err != nil {
		return nil, err
	}

	raw := &cloudproviders.RawCostData{ProviderKey: providerKey, Currency: "USD"}
	for _, rt := range resp.ResultsByTime {
		for _, g := range rt.Groups {
			if len(g.Keys) == 0 {
				continue
			}
			amount, ok := parseAmount(g.Metrics["UnblendedCost"].Amount)
			if !ok {
				continue
			}
			if unit := g.Metrics["UnblendedCost"].Unit; unit != "" {
				raw.Currency = unit
			}
			raw.Lines = append(raw.Lines, cloudproviders.RawCostLine{
				Date:    rt.TimePeriod.Start,
				Service: g.Keys[0],
				Amount:  amount,
				Kind:    classifyService(g.Keys[0]),
			})
		}
	}
	return raw, nil
}

// FetchServiceDetail queries daily costs filtered to one service.
func (p *Provider) FetchServiceDetail(ctx context.Context, creds cloudproviders.Credentials, service string, start, end time.Time) (*cloudproviders.RawServiceDetail, error) {
	if err := cloudproviders.RequireCreds(providerKey, creds, "access_key_id", "secret_access_key"); err != nil {
		return nil, err
	}

	query := costQuery{
		TimePeriod:  timePeriod{Start: start.Format(dateLayout), End: end.AddDate(0, 0, 1).Format(dateLayout)},
		Granularity: "DAILY",
		Metrics:     []string{"UnblendedCost"},
		Filter:      &costFilter{Dimensions: dimensionFilter{Key: "SERVICE", Values: []string{service}}},
	}

	var resp costResponse
	if err := p.do(ctx, creds, query, &resp); err != nil {
		return nil, err
	}

	detail := &cloudproviders.RawServiceDetail{Service: service}
	for _, rt := range resp.ResultsByTime {
		amount, ok := parseAmount(rt.Total["UnblendedCost"].Amount)
		if !ok {
			continue
		}
		detail.Points = append(detail.Points, cloudproviders.RawCostLine{
			Date:    rt.TimePeriod.Start,
			Service: service,
			Amount:  amount,
		})
	}
	return detail, nil
}

func (p *Provider) do(ctx context.Context, creds cloudproviders.Credentials, query, out any) error {
	body, err := json.Marshal(query)
	if err != nil {
		return &cloudproviders.APIError{Provider: providerKey, Kind: cloudproviders.ErrorKindInvalidRequest, Message: "encode query", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return &cloudproviders.APIError{Provider: providerKey, Kind: cloudproviders.ErrorKindInvalidRequest, Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-amz-json-1.1")
	req.Header.Set("X-Amz-Target", target)
	signRequest(req, body, creds["access_key_id"], creds["secret_access_key"], "ce", "us-east-1", p.now())

	return cloudproviders.DoJSON(p.client, providerKey, req, out)
}

func parseAmount(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// classifyService tags the Cost Explorer pseudo-services that represent tax,
// support, and savings-plan charges so normalization can route them even when
// the label alone would be ambiguous.
func classifyService(name string) cloudproviders.LineKind {
	switch name {
	case "Tax":
		return cloudproviders.LineKindTax
	case "AWS Support (Business)", "AWS Support (Developer)", "AWS Support (Enterprise)":
		return cloudproviders.LineKindSupport
	}
	// SP negation rows come back under SERVICE dimension values like
	// "Savings Plans for AWS Compute usage".
	if strings.HasPrefix(name, "Savings Plans") {
		return cloudproviders.LineKindSavings
	}
	return cloudproviders.LineKindUsage
}
