package cloudproviders

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cloudbill/costsync/pkg/providers"
)

// Credentials is the opaque, provider-specific secret bundle. It is handed to
// an adapter decrypted for the duration of one call and must not be retained.
type Credentials map[string]string

// CloudProvider is the interface every billing adapter must implement.
// Implementations perform exactly one upstream exchange per call and map all
// provider-specific failures onto the ErrorKind taxonomy. An upstream
// returning zero cost rows is valid: adapters return empty Lines, never an
// error and never a default value.
type CloudProvider interface {
	providers.Provider

	// Fetch retrieves raw billing data for the date range [start, end].
	Fetch(ctx context.Context, creds Credentials, start, end time.Time) (*RawCostData, error)

	// FetchServiceDetail retrieves per-date costs for one service within the
	// range. Providers with invoice granularity return an empty detail.
	FetchServiceDetail(ctx context.Context, creds Credentials, service string, start, end time.Time) (*RawServiceDetail, error)
}

const maxErrorBody = 512

// DoJSON executes req, decodes a 2xx JSON body into out, and classifies
// everything else. Shared by all adapters so the error taxonomy stays
// uniform.
func DoJSON(client *http.Client, providerKey string, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return WrapTransport(providerKey, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return MapStatus(providerKey, resp.StatusCode, string(body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{
			Provider: providerKey,
			Kind:     ErrorKindInvalidRequest,
			Message:  fmt.Sprintf("malformed response: %v", err),
			Err:      err,
		}
	}
	return nil
}

// RequireCreds returns an AuthError unless every named key is present and
// non-empty in creds.
func RequireCreds(providerKey string, creds Credentials, keys ...string) error {
	for _, k := range keys {
		if creds[k] == "" {
			return &APIError{
				Provider: providerKey,
				Kind:     ErrorKindAuth,
				Message:  fmt.Sprintf("credential %q missing", k),
				Err:      providers.ErrNoCredentials,
			}
		}
	}
	return nil
}
