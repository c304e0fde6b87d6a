package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cloudbill/costsync/internal/api"
	"github.com/cloudbill/costsync/internal/config"
	"github.com/cloudbill/costsync/internal/credentials"
	"github.com/cloudbill/costsync/internal/migrate"
	"github.com/cloudbill/costsync/internal/notification"
	"github.com/cloudbill/costsync/internal/storage"
	"github.com/cloudbill/costsync/internal/syncer"
	"github.com/cloudbill/costsync/internal/worker"

	// Registered billing adapters.
	_ "github.com/cloudbill/costsync/pkg/providers/cloudproviders/aws"
	_ "github.com/cloudbill/costsync/pkg/providers/cloudproviders/azure"
	_ "github.com/cloudbill/costsync/pkg/providers/cloudproviders/digitalocean"
	_ "github.com/cloudbill/costsync/pkg/providers/cloudproviders/gcp"
	_ "github.com/cloudbill/costsync/pkg/providers/cloudproviders/heroku"
	_ "github.com/cloudbill/costsync/pkg/providers/cloudproviders/linode"
	_ "github.com/cloudbill/costsync/pkg/providers/cloudproviders/vultr"
)

func main() {
	log := newLogger()
	root := &cobra.Command{
		Use:           "costsync",
		Short:         "Multi-cloud cost ingestion and forecasting pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var tenantsFile string
	root.PersistentFlags().StringVar(&tenantsFile, "tenants-file", os.Getenv("COSTSYNC_TENANTS_FILE"), "YAML account inventory to seed on startup")

	root.AddCommand(serveCmd(log, &tenantsFile))
	root.AddCommand(syncCmd(log, &tenantsFile))
	root.AddCommand(workerCmd(log, &tenantsFile))
	root.AddCommand(migrateCmd(log))

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if raw := os.Getenv("COSTSYNC_LOG_LEVEL"); raw != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(raw)); err == nil {
			level = parsed
		}
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

// setup opens storage, seeds accounts, and wires the orchestrator stack.
func setup(ctx context.Context, log zerolog.Logger, tenantsFile string) (config.Config, storage.Storage, *syncer.Orchestrator, error) {
	cfg := config.FromEnv()
	if tenantsFile != "" {
		if err := cfg.LoadTenantsFile(tenantsFile); err != nil {
			return cfg, nil, nil, err
		}
	}

	store, err := storage.Open(ctx, storage.Config{
		Driver:   cfg.StorageDriver,
		DSN:      cfg.StorageDSN,
		Accounts: cfg.Accounts,
	}, log)
	if err != nil {
		return cfg, nil, nil, fmt.Errorf("open storage: %w", err)
	}
	for _, a := range cfg.Accounts {
		if err := store.UpsertAccount(ctx, a); err != nil {
			store.Close()
			return cfg, nil, nil, fmt.Errorf("seed account %s/%s: %w", a.Tenant, a.AccountID, err)
		}
	}

	creds, err := buildCredentialStore(cfg, store)
	if err != nil {
		store.Close()
		return cfg, nil, nil, err
	}

	sink := notification.NewMultiSink(log,
		notification.NewWebhookSink(notification.WebhookConfigFromEnv()),
		notification.NewEmailSinkFromEnv(),
	)

	orchestrator := syncer.New(store, creds, sink, log, syncer.Options{
		Workers:        cfg.SyncWorkers,
		AccountTimeout: cfg.AccountSyncTimeout,
		CacheTTL:       cfg.CacheTTL,
		VariancePct:    cfg.AnomalyVariancePct,
	})
	return cfg, store, orchestrator, nil
}

func buildCredentialStore(cfg config.Config, store storage.Storage) (credentials.Store, error) {
	if cfg.CredentialsKey != "" {
		return credentials.NewSealedStore(store, cfg.CredentialsKey)
	}
	if cfg.CredentialsFile != "" {
		return credentials.LoadStatic(cfg.CredentialsFile)
	}
	return nil, fmt.Errorf("set COSTSYNC_CREDENTIALS_KEY or COSTSYNC_CREDENTIALS_FILE")
}

func serveCmd(log zerolog.Logger, tenantsFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, store, orchestrator, err := setup(ctx, log, *tenantsFile)
			if err != nil {
				return err
			}
			defer store.Close()

			srv := &http.Server{
				Addr:    cfg.ListenAddr,
				Handler: api.NewMux(store, orchestrator, log),
			}
			go func() {
				<-ctx.Done()
				_ = srv.Shutdown(context.Background())
			}()

			log.Info().Str("addr", cfg.ListenAddr).Msg("costsync listening")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
}

func syncCmd(log zerolog.Logger, tenantsFile *string) *cobra.Command {
	var force bool
	var accounts []string
	cmd := &cobra.Command{
		Use:   "sync [tenant...]",
		Short: "Run one sync for the named tenants (default: all)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			_, store, orchestrator, err := setup(ctx, log, *tenantsFile)
			if err != nil {
				return err
			}
			defer store.Close()

			tenants := args
			if len(tenants) == 0 {
				tenants, err = store.ListTenants(ctx)
				if err != nil {
					return err
				}
			}
			if len(tenants) == 0 {
				return fmt.Errorf("no tenants configured")
			}

			var failed int
			for _, tenant := range tenants {
				outcomes, err := orchestrator.RunTenantSync(ctx, tenant, accounts, force)
				if err != nil {
					return err
				}
				for _, out := range outcomes {
					if !out.Success {
						failed++
					}
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d account(s) failed to sync", failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "bypass the response cache")
	cmd.Flags().StringSliceVar(&accounts, "account", nil, "limit to specific account ids")
	return cmd
}

func workerCmd(log zerolog.Logger, tenantsFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the scheduled sync worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, store, orchestrator, err := setup(ctx, log, *tenantsFile)
			if err != nil {
				return err
			}
			defer store.Close()

			// A cron expression from the environment becomes the stored
			// interval setting so the control loop picks it up.
			if cfg.WorkerCron != "" {
				if err := store.SetSetting(ctx, "sync_interval", cfg.WorkerCron); err != nil {
					return err
				}
			}

			w := worker.New(store, orchestrator, log, cfg.WorkerInterval)
			if err := w.Run(ctx); err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	}
}

func migrateCmd(log zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate [up|down|status]",
		Short: "Run schema migrations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			action := "up"
			if len(args) == 1 {
				action = args[0]
			}
			ctx := cmd.Context()
			switch action {
			case "up":
				return migrate.Up(ctx, cfg.StorageDriver, cfg.StorageDSN)
			case "down":
				return migrate.Down(ctx, cfg.StorageDriver, cfg.StorageDSN)
			case "status":
				return migrate.Status(ctx, cfg.StorageDriver, cfg.StorageDSN)
			default:
				return fmt.Errorf("unknown migrate action %q", action)
			}
		},
	}
	return cmd
}
