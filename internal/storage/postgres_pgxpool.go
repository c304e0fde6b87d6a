package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresPoolStorage layers a pgx connection pool over the gorm backend.
// Data access goes through gorm; advisory locks are taken on a dedicated
// pooled connection so the session holding the lock survives unrelated
// queries returning their connections to the pool.
type PostgresPoolStorage struct {
	*GormStorage
	pool *pgxpool.Pool

	mu    sync.Mutex
	locks map[int64]*pgxpool.Conn
}

func OpenPostgresPool(ctx context.Context, dsn string) (*PostgresPoolStorage, error) {
	if dsn == "" {
		dsn = "postgres://localhost:5432/costsync?sslmode=disable"
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	gs, err := NewGormStorage("postgres", dsn)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresPoolStorage{
		GormStorage: gs,
		pool:        pool,
		locks:       make(map[int64]*pgxpool.Conn),
	}, nil
}

func (s *PostgresPoolStorage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresPoolStorage) Close() error {
	s.mu.Lock()
	for key, conn := range s.locks {
		conn.Release()
		delete(s.locks, key)
	}
	s.mu.Unlock()
	s.pool.Close()
	return s.GormStorage.Close()
}

// AcquireAdvisoryLock takes pg_try_advisory_lock on a connection pinned for
// the lifetime of the lock.
func (s *PostgresPoolStorage) AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	s.mu.Lock()
	if _, held := s.locks[key]; held {
		s.mu.Unlock()
		return false, fmt.Errorf("advisory lock %d already held by this instance", key)
	}
	s.mu.Unlock()

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}

	var ok bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok); err != nil {
		conn.Release()
		return false, err
	}
	if !ok {
		conn.Release()
		return false, nil
	}

	s.mu.Lock()
	s.locks[key] = conn
	s.mu.Unlock()
	return true, nil
}

func (s *PostgresPoolStorage) ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	s.mu.Lock()
	conn, held := s.locks[key]
	delete(s.locks, key)
	s.mu.Unlock()
	if !held {
		return false, nil
	}
	defer conn.Release()

	var ok bool
	err := conn.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", key).Scan(&ok)
	return ok, err
}

// PoolStat exposes pool utilization for the metrics collector.
func (s *PostgresPoolStorage) PoolStat() *pgxpool.Stat {
	return s.pool.Stat()
}
