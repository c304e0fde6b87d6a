package storage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Config controls how the storage backend is opened.
type Config struct {
	Driver   string
	DSN      string
	Accounts []Account
}

// Open constructs a Storage based on the given configuration.
func Open(ctx context.Context, cfg Config, log zerolog.Logger) (Storage, error) {
	drv := cfg.Driver
	if drv == "" {
		drv = "memory"
	}
	switch drv {
	case "memory":
		log.Info().Msg("storage: using in-memory backend")
		if len(cfg.Accounts) > 0 {
			return NewMemoryWithAccounts(cfg.Accounts), nil
		}
		return NewMemory(), nil

	case "sqlite", "postgres":
		log.Info().Str("driver", drv).Msg("storage: using gorm backend")
		st, err := NewGormStorage(drv, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("storage migrate: %w", err)
		}
		return st, nil

	case "postgrespool":
		log.Info().Msg("storage: using postgres with pgx pool")
		st, err := OpenPostgresPool(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("storage migrate: %w", err)
		}
		return st, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", drv)
	}
}
