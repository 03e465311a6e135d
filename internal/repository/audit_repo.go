package repository

import (
	"context"

	"assetflow/internal/model"

	"gorm.io/gorm"
)

type AuditFilter struct {
	Action   string
	EntityID string
	Offset   int
	Limit    int
}

type AuditRepository interface {
	Log(ctx context.Context, entry *model.AuditLog) error
	List(ctx context.Context, f AuditFilter) ([]model.AuditLog, int64, error)
}

type auditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

// Log writes through the transaction in ctx, so the entry commits or rolls back with the change it records.
func (r *auditRepository) Log(ctx context.Context, entry *model.AuditLog) error {
	return GetDB(ctx, r.db).Omit("User").Create(entry).Error
}

func (r *auditRepository) List(ctx context.Context, f AuditFilter) ([]model.AuditLog, int64, error) {
	var logs []model.AuditLog
	var total int64

	query := GetDB(ctx, r.db).Model(&model.AuditLog{})
	if f.Action != "" {
		query = query.Where("action = ?", f.Action)
	}
	if f.EntityID != "" {
		query = query.Where("entity_id = ?", f.EntityID)
	}
	query = query.Session(&gorm.Session{})

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := query.Preload("User").Order("created_at desc, id desc").Offset(f.Offset).Limit(f.Limit).Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}
