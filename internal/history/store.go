package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mantleforge/internal/common"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrStoreUnavailable = errors.New("mint history store not configured")
	ErrRecordNotFound   = errors.New("mint record not found")
)

// GormStore keeps mint records in Postgres. A store opened without a DSN has
// no connection and every call returns ErrStoreUnavailable.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Open connects to Postgres and migrates the mint_records table.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*GormStore, error) {
	if strings.TrimSpace(dsn) == "" {
		if logger != nil {
			logger.Warn("DATABASE_URL not set; mint history is served from ledger events only")
		}
		return &GormStore{}, nil
	}

	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	store := NewGormStore(gdb)
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *GormStore) Available() bool {
	return s != nil && s.db != nil
}

func (s *GormStore) Migrate(ctx context.Context) error {
	if !s.Available() {
		return ErrStoreUnavailable
	}
	if err := s.db.WithContext(ctx).AutoMigrate(&MintRecordModel{}); err != nil {
		return fmt.Errorf("migrate mint_records: %w", err)
	}
	return nil
}

// Append inserts a record. Re-recording the same transaction is a no-op.
func (s *GormStore) Append(ctx context.Context, record common.MintRecord) error {
	if !s.Available() {
		return ErrStoreUnavailable
	}
	if record.TxHash == "" {
		return errors.New("tx_hash is required")
	}
	if record.Originator == "" {
		return errors.New("originator is required")
	}

	model := mintRecordModelFromDomain(record)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "tx_hash"}}, DoNothing: true}).
		Create(&model).Error
}

// ListByOriginator returns the newest records first.
func (s *GormStore) ListByOriginator(ctx context.Context, originator string, page Page) ([]common.MintRecord, error) {
	if !s.Available() {
		return nil, ErrStoreUnavailable
	}
	var models []MintRecordModel
	err := s.db.WithContext(ctx).
		Where("originator = ?", strings.ToLower(originator)).
		Order("created_at DESC").
		Limit(page.Limit).
		Offset(page.Offset).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return recordsFromModels(models), nil
}

// ListActive returns every active record that has a ledger asset id.
func (s *GormStore) ListActive(ctx context.Context) ([]common.MintRecord, error) {
	if !s.Available() {
		return nil, ErrStoreUnavailable
	}
	var models []MintRecordModel
	err := s.db.WithContext(ctx).
		Where("is_active = ? AND asset_id <> ''", true).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return recordsFromModels(models), nil
}

func (s *GormStore) UpdateRisk(ctx context.Context, assetID string, riskScore uint64) error {
	if !s.Available() {
		return ErrStoreUnavailable
	}
	result := s.db.WithContext(ctx).
		Model(&MintRecordModel{}).
		Where("asset_id = ?", assetID).
		Updates(map[string]any{
			"risk_score": riskScore,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: asset %s", ErrRecordNotFound, assetID)
	}
	return nil
}

func (s *GormStore) Close() error {
	if !s.Available() {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func recordsFromModels(models []MintRecordModel) []common.MintRecord {
	out := make([]common.MintRecord, 0, len(models))
	for _, model := range models {
		out = append(out, mintRecordFromModel(model))
	}
	return out
}
