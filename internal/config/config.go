// Package config assembles runtime configuration from environment variables
// with an optional YAML tenants file layered on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cloudbill/costsync/internal/storage"
)

type Config struct {
	// Storage
	StorageDriver string
	StorageDSN    string

	// HTTP
	ListenAddr string

	// Worker
	WorkerInterval time.Duration
	WorkerCron     string
	SyncWorkers    int

	// Pipeline tuning
	CacheTTL           time.Duration
	AnomalyVariancePct float64
	AccountSyncTimeout time.Duration

	// Credentials
	CredentialsKey  string
	CredentialsFile string

	// Tenants seeded from the YAML file, if any.
	Accounts []storage.Account
}

// FromEnv builds a Config from environment variables, with sane defaults.
func FromEnv() Config {
	cfg := Config{
		StorageDriver:      envOr("COSTSYNC_STORAGE_DRIVER", "sqlite"),
		StorageDSN:         envOr("COSTSYNC_STORAGE_DSN", "costsync.db"),
		ListenAddr:         envOr("COSTSYNC_LISTEN_ADDR", ":8080"),
		WorkerCron:         os.Getenv("COSTSYNC_WORKER_CRON"),
		WorkerInterval:     envDuration("COSTSYNC_WORKER_INTERVAL", time.Hour),
		SyncWorkers:        envInt("COSTSYNC_SYNC_WORKERS", 4),
		CacheTTL:           envDuration("COSTSYNC_CACHE_TTL", 60*time.Minute),
		AnomalyVariancePct: envFloat("COSTSYNC_ANOMALY_VARIANCE_PCT", 50),
		AccountSyncTimeout: envDuration("COSTSYNC_ACCOUNT_SYNC_TIMEOUT", 5*time.Minute),
		CredentialsKey:     os.Getenv("COSTSYNC_CREDENTIALS_KEY"),
		CredentialsFile:    os.Getenv("COSTSYNC_CREDENTIALS_FILE"),
	}
	return cfg
}

// LoadTenantsFile reads a YAML account inventory and appends its accounts to
// the config. Used to seed deployments without going through the API.
//
//	tenants:
//	  acme:
//	    - account_id: prod
//	      provider: aws
//	      display_name: ACME Production
func (c *Config) LoadTenantsFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("tenants file: %w", err)
	}

	var f struct {
		Tenants map[string][]struct {
			AccountID   string `yaml:"account_id"`
			Provider    string `yaml:"provider"`
			DisplayName string `yaml:"display_name"`
			Disabled    bool   `yaml:"disabled"`
		} `yaml:"tenants"`
	}
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("tenants file %s: %w", path, err)
	}

	for tenant, accounts := range f.Tenants {
		for _, a := range accounts {
			c.Accounts = append(c.Accounts, storage.Account{
				Tenant:      tenant,
				AccountID:   a.AccountID,
				ProviderKey: a.Provider,
				DisplayName: a.DisplayName,
				Enabled:     !a.Disabled,
			})
		}
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
	}
	return def
}
