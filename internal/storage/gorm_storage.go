package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type GormStorage struct {
	db *gorm.DB
}

func NewGormStorage(driver, dsn string) (*GormStorage, error) {
	var gormDialector gorm.Dialector
	switch driver {
	case "postgres", "postgrespool":
		gormDialector = postgres.Open(dsn)
	case "sqlite":
		gormDialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := gorm.Open(gormDialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	return &GormStorage{db: db}, nil
}

func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.db.AutoMigrate(
		&Account{},
		&SnapshotRecord{},
		&DailyCostRecord{},
		&ServiceDailyCostRecord{},
		&BaselineRecord{},
		&CredentialRecord{},
		&SyncJob{},
		&Setting{},
	)
}

// Tenants and accounts

func (s *GormStorage) ListTenants(ctx context.Context) ([]string, error) {
	var tenants []string
	result := s.db.WithContext(ctx).Model(&Account{}).
		Where("enabled = ?", true).
		Distinct().
		Order("tenant").
		Pluck("tenant", &tenants)
	return tenants, result.Error
}

func (s *GormStorage) ListAccounts(ctx context.Context, tenant string) ([]Account, error) {
	var accounts []Account
	result := s.db.WithContext(ctx).Find(&accounts, "tenant = ?", tenant)
	return accounts, result.Error
}

func (s *GormStorage) GetAccount(ctx context.Context, tenant, accountID string) (*Account, error) {
	var a Account
	result := s.db.WithContext(ctx).First(&a, "tenant = ? AND account_id = ?", tenant, accountID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &a, nil
}

func (s *GormStorage) UpsertAccount(ctx context.Context, a Account) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant"}, {Name: "account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"provider_key", "display_name", "credential_ref", "enabled"}),
	}).Create(&a).Error
}

// Snapshots

func (s *GormStorage) SaveSnapshot(ctx context.Context, rec SnapshotRecord) error {
	if rec.FetchedAt.IsZero() {
		rec.FetchedAt = time.Now()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant"}, {Name: "provider_key"}, {Name: "account_id"}, {Name: "period"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "fetched_at"}),
	}).Create(&rec).Error
}

func (s *GormStorage) GetSnapshot(ctx context.Context, tenant, provider, accountID, period string) (*SnapshotRecord, error) {
	var rec SnapshotRecord
	result := s.db.WithContext(ctx).First(&rec,
		"tenant = ? AND provider_key = ? AND account_id = ? AND period = ?",
		tenant, provider, accountID, period)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &rec, nil
}

// Daily costs

func (s *GormStorage) SaveDailyCosts(ctx context.Context, recs []DailyCostRecord) error {
	if len(recs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant"}, {Name: "provider_key"}, {Name: "account_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"cost"}),
	}).Create(&recs).Error
}

func (s *GormStorage) ListDailyCosts(ctx context.Context, tenant, provider, accountID string, since time.Time) ([]DailyCostRecord, error) {
	var recs []DailyCostRecord
	result := s.db.WithContext(ctx).
		Where("tenant = ? AND provider_key = ? AND account_id = ? AND date >= ?", tenant, provider, accountID, since).
		Order("date").
		Find(&recs)
	return recs, result.Error
}

// Per-service daily costs

func (s *GormStorage) SaveServiceDailyCosts(ctx context.Context, recs []ServiceDailyCostRecord) error {
	if len(recs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant"}, {Name: "provider_key"}, {Name: "account_id"}, {Name: "service"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"cost"}),
	}).Create(&recs).Error
}

func (s *GormStorage) ListServiceDailyCosts(ctx context.Context, tenant, provider, accountID, service string, since time.Time) ([]ServiceDailyCostRecord, error) {
	var recs []ServiceDailyCostRecord
	q := s.db.WithContext(ctx).
		Where("tenant = ? AND provider_key = ? AND account_id = ? AND date >= ?", tenant, provider, accountID, since)
	if service != "" {
		q = q.Where("service = ?", service)
	}
	result := q.Order("date").Find(&recs)
	return recs, result.Error
}

// Baselines

func (s *GormStorage) SaveBaselines(ctx context.Context, recs []BaselineRecord) error {
	if len(recs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant"}, {Name: "provider_key"}, {Name: "account_id"}, {Name: "service"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"baseline_cost", "actual_cost", "variance_percent", "computed_at"}),
	}).Create(&recs).Error
}

func (s *GormStorage) ListBaselines(ctx context.Context, tenant, provider, accountID string, since time.Time) ([]BaselineRecord, error) {
	var recs []BaselineRecord
	result := s.db.WithContext(ctx).
		Where("tenant = ? AND provider_key = ? AND account_id = ? AND date >= ?", tenant, provider, accountID, since).
		Order("date").
		Find(&recs)
	return recs, result.Error
}

// Credentials

func (s *GormStorage) GetCredential(ctx context.Context, tenant, accountID string) (*CredentialRecord, error) {
	var rec CredentialRecord
	result := s.db.WithContext(ctx).First(&rec, "tenant = ? AND account_id = ?", tenant, accountID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &rec, nil
}

func (s *GormStorage) SaveCredential(ctx context.Context, rec CredentialRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&rec).Error
}

// Sync jobs

func (s *GormStorage) CreateSyncJob(ctx context.Context, job SyncJob) error {
	return s.db.WithContext(ctx).Create(&job).Error
}

func (s *GormStorage) UpdateSyncJob(ctx context.Context, job SyncJob) error {
	return s.db.WithContext(ctx).Save(&job).Error
}

func (s *GormStorage) GetSyncJob(ctx context.Context, id string) (*SyncJob, error) {
	var job SyncJob
	result := s.db.WithContext(ctx).First(&job, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &job, nil
}

// Settings

func (s *GormStorage) GetSetting(ctx context.Context, key string) (string, error) {
	var setting Setting
	result := s.db.WithContext(ctx).First(&setting, "key = ?", key)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", result.Error
	}
	return setting.Value, nil
}

func (s *GormStorage) SetSetting(ctx context.Context, key, value string) error {
	setting := Setting{Key: key, Value: value, UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		UpdateAll: true,
	}).Create(&setting).Error
}

// Close & Ping

func (s *GormStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStorage) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Advisory locks

func (s *GormStorage) AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	if s.db.Dialector.Name() == "postgres" {
		var ok bool
		err := s.db.WithContext(ctx).Raw("SELECT pg_try_advisory_lock(?)", key).Scan(&ok).Error
		return ok, err
	}
	// SQLite has no advisory locks; a single-instance deployment is assumed.
	return true, nil
}

func (s *GormStorage) ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	if s.db.Dialector.Name() == "postgres" {
		var ok bool
		err := s.db.WithContext(ctx).Raw("SELECT pg_advisory_unlock(?)", key).Scan(&ok).Error
		return ok, err
	}
	return true, nil
}
