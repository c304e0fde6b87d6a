package credentials

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cloudbill/costsync/pkg/providers"
	"github.com/cloudbill/costsync/pkg/providers/cloudproviders"
)

// StaticStore serves credentials from a YAML file keyed by tenant and
// account. Meant for development and single-operator deployments; production
// uses the sealed store.
//
//	tenants:
//	  acme:
//	    prod-aws:
//	      access_key_id: AKIA...
//	      secret_access_key: ...
type StaticStore struct {
	tenants map[string]map[string]cloudproviders.Credentials
}

type staticFile struct {
	Tenants map[string]map[string]map[string]string `yaml:"tenants"`
}

// LoadStatic parses a YAML credentials file into a StaticStore.
func LoadStatic(path string) (*StaticStore, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("credentials file: %w", err)
	}
	var f staticFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("credentials file %s: %w", path, err)
	}

	s := &StaticStore{tenants: make(map[string]map[string]cloudproviders.Credentials)}
	for tenant, accounts := range f.Tenants {
		s.tenants[tenant] = make(map[string]cloudproviders.Credentials, len(accounts))
		for account, kv := range accounts {
			s.tenants[tenant][account] = cloudproviders.Credentials(kv)
		}
	}
	return s, nil
}

func (s *StaticStore) GetDecryptedCredentials(ctx context.Context, tenant, accountID string) (cloudproviders.Credentials, error) {
	accounts, ok := s.tenants[tenant]
	if !ok {
		return nil, providers.ErrNoCredentials
	}
	creds, ok := accounts[accountID]
	if !ok {
		return nil, providers.ErrNoCredentials
	}
	return creds, nil
}
