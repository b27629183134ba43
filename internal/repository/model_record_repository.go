package repository

import (
	"context"
	"errors"
	"fmt"
	"skillchain_backend/internal/model"
	"skillchain_backend/internal/util"

	"gorm.io/gorm"
)

type ModelRecordRepository struct {
	DB *gorm.DB
}

func NewModelRecordRepository(db *gorm.DB) *ModelRecordRepository {
	return &ModelRecordRepository{DB: db}
}

// FindActive 返回某类型当前激活的模型，不存在时返回 util.ErrNoActiveModel
func (r *ModelRecordRepository) FindActive(ctx context.Context, modelType string) (*model.ModelRecord, error) {
	var rec model.ModelRecord
	err := r.DB.WithContext(ctx).
		Where("model_type = ? AND is_active = ?", modelType, true).
		Order("model_version desc").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrNoActiveModel
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Publish 停用旧记录并以下一个版本号写入新记录，保证同类型只有一条激活记录
func (r *ModelRecordRepository) Publish(ctx context.Context, rec *model.ModelRecord) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxVersion int
		if err := tx.Model(&model.ModelRecord{}).
			Where("model_type = ?", rec.ModelType).
			Select("COALESCE(MAX(model_version), 0)").
			Scan(&maxVersion).Error; err != nil {
			return fmt.Errorf("read model version: %w", err)
		}

		if err := tx.Model(&model.ModelRecord{}).
			Where("model_type = ? AND is_active = ?", rec.ModelType, true).
			Update("is_active", false).Error; err != nil {
			return fmt.Errorf("deactivate models: %w", err)
		}

		rec.ID = 0
		rec.ModelVersion = maxVersion + 1
		rec.IsActive = true
		return tx.Create(rec).Error
	})
}

func (r *ModelRecordRepository) ListVersions(ctx context.Context, modelType string) ([]model.ModelRecord, error) {
	var recs []model.ModelRecord
	err := r.DB.WithContext(ctx).
		Select("id", "model_type", "is_active", "model_version", "accuracy", "trained_at", "created_at").
		Where("model_type = ?", modelType).
		Order("model_version desc").
		Find(&recs).Error
	return recs, err
}
