package history

import (
	"time"

	"mantleforge/internal/common"
)

type MintRecordModel struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	RequestID   string `gorm:"index"`
	TxHash      string `gorm:"uniqueIndex;not null"`
	AssetID     string `gorm:"index"`
	Name        string `gorm:"not null"`
	Valuation   string `gorm:"type:text;not null"`
	RiskScore   uint64 `gorm:"not null"`
	DataHash    string
	Originator  string `gorm:"index;not null"`
	Minter      string
	RiskSource  string
	BlockNumber uint64
	IsActive    bool      `gorm:"index;not null"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time
}

func (MintRecordModel) TableName() string {
	return "mint_records"
}

func mintRecordModelFromDomain(record common.MintRecord) MintRecordModel {
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return MintRecordModel{
		RequestID:   record.RequestID,
		TxHash:      record.TxHash,
		AssetID:     record.AssetID,
		Name:        record.Name,
		Valuation:   record.Valuation,
		RiskScore:   record.RiskScore,
		DataHash:    record.DataHash,
		Originator:  record.Originator,
		Minter:      record.Minter,
		RiskSource:  record.RiskSource,
		BlockNumber: record.BlockNumber,
		IsActive:    record.IsActive,
		CreatedAt:   createdAt,
	}
}

func mintRecordFromModel(model MintRecordModel) common.MintRecord {
	return common.MintRecord{
		RequestID:   model.RequestID,
		TxHash:      model.TxHash,
		AssetID:     model.AssetID,
		Name:        model.Name,
		Valuation:   model.Valuation,
		RiskScore:   model.RiskScore,
		DataHash:    model.DataHash,
		Originator:  model.Originator,
		Minter:      model.Minter,
		RiskSource:  model.RiskSource,
		BlockNumber: model.BlockNumber,
		IsActive:    model.IsActive,
		Source:      SourceStore,
		CreatedAt:   model.CreatedAt.UTC(),
	}
}
