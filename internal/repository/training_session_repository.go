package repository

import (
	"context"
	"skillchain_backend/internal/model"

	"gorm.io/gorm"
)

type TrainingSessionRepository struct {
	DB *gorm.DB
}

func NewTrainingSessionRepository(db *gorm.DB) *TrainingSessionRepository {
	return &TrainingSessionRepository{DB: db}
}

func (r *TrainingSessionRepository) Create(ctx context.Context, s *model.TrainingSession) error {
	return r.DB.WithContext(ctx).Create(s).Error
}

// FindRecent 最近的学习记录，按开始时间倒序
func (r *TrainingSessionRepository) FindRecent(ctx context.Context, userID uint, limit int) ([]model.TrainingSession, error) {
	var sessions []model.TrainingSession
	err := r.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("started_at desc, id desc").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

func (r *TrainingSessionRepository) CountByUser(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&model.TrainingSession{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}
