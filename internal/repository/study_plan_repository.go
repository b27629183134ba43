package repository

import (
	"context"
	"errors"
	"skillchain_backend/internal/model"
	"time"

	"gorm.io/gorm"
)

// StudyPlanRepository 学习计划条目与调整日志
type StudyPlanRepository struct {
	DB *gorm.DB
}

func NewStudyPlanRepository(db *gorm.DB) *StudyPlanRepository {
	return &StudyPlanRepository{DB: db}
}

// Transaction 在同一事务中执行 fn，fn 内必须使用传入的仓库
func (r *StudyPlanRepository) Transaction(ctx context.Context, fn func(repo *StudyPlanRepository) error) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&StudyPlanRepository{DB: tx})
	})
}

func (r *StudyPlanRepository) ListEntries(ctx context.Context, userID uint, from, to time.Time) ([]model.StudyPlanEntry, error) {
	var entries []model.StudyPlanEntry
	query := r.DB.WithContext(ctx).Where("user_id = ?", userID)
	if !from.IsZero() {
		query = query.Where("scheduled_at >= ?", from)
	}
	if !to.IsZero() {
		query = query.Where("scheduled_at < ?", to)
	}
	err := query.Order("scheduled_at asc, id asc").Find(&entries).Error
	return entries, err
}

func (r *StudyPlanRepository) FindEntry(ctx context.Context, userID, id uint) (*model.StudyPlanEntry, error) {
	var e model.StudyPlanEntry
	err := r.DB.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// DeletePendingFrom 物理删除 from 之后的待完成条目
func (r *StudyPlanRepository) DeletePendingFrom(ctx context.Context, userID uint, from time.Time) (int64, error) {
	res := r.DB.WithContext(ctx).Unscoped().
		Where("user_id = ? AND status = ? AND scheduled_at >= ?", userID, model.PlanEntryPending, from).
		Delete(&model.StudyPlanEntry{})
	return res.RowsAffected, res.Error
}

func (r *StudyPlanRepository) CreateEntries(ctx context.Context, entries []model.StudyPlanEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return r.DB.WithContext(ctx).CreateInBatches(&entries, 100).Error
}

func (r *StudyPlanRepository) CreateEntry(ctx context.Context, e *model.StudyPlanEntry) error {
	return r.DB.WithContext(ctx).Create(e).Error
}

func (r *StudyPlanRepository) SaveEntry(ctx context.Context, e *model.StudyPlanEntry) error {
	return r.DB.WithContext(ctx).Save(e).Error
}

// FindPendingForLesson 某课时在 [from, to) 内最早的待完成条目
func (r *StudyPlanRepository) FindPendingForLesson(ctx context.Context, userID, lessonID uint, from, to time.Time) (*model.StudyPlanEntry, error) {
	var e model.StudyPlanEntry
	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND lesson_id = ? AND status = ? AND scheduled_at >= ? AND scheduled_at < ?",
			userID, lessonID, model.PlanEntryPending, from, to).
		Order("scheduled_at asc, id asc").
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *StudyPlanRepository) HasReviewForSubmission(ctx context.Context, userID, submissionID uint) (bool, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&model.StudyPlanEntry{}).
		Where("user_id = ? AND review_of_submission = ?", userID, submissionID).
		Count(&count).Error
	return count > 0, err
}

// ListShiftable after 之后仍待执行的条目（待完成与复习）
func (r *StudyPlanRepository) ListShiftable(ctx context.Context, userID uint, after time.Time) ([]model.StudyPlanEntry, error) {
	var entries []model.StudyPlanEntry
	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND scheduled_at > ? AND status IN ?", userID, after,
			[]model.PlanEntryStatus{model.PlanEntryPending, model.PlanEntryReviewRetake}).
		Order("scheduled_at asc, id asc").
		Find(&entries).Error
	return entries, err
}

func (r *StudyPlanRepository) UpdateStatus(ctx context.Context, userID, id uint, status model.PlanEntryStatus) error {
	res := r.DB.WithContext(ctx).Model(&model.StudyPlanEntry{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// MarkLessonDone 课时完成后，其待完成与复习条目都标记为完成
func (r *StudyPlanRepository) MarkLessonDone(ctx context.Context, userID, lessonID uint) (int64, error) {
	res := r.DB.WithContext(ctx).Model(&model.StudyPlanEntry{}).
		Where("user_id = ? AND lesson_id = ? AND status IN ?", userID, lessonID,
			[]model.PlanEntryStatus{model.PlanEntryPending, model.PlanEntryReviewRetake}).
		Update("status", model.PlanEntryDone)
	return res.RowsAffected, res.Error
}

// MarkMissedBefore 所有学习者中早于 before 的待完成条目标记为错过
func (r *StudyPlanRepository) MarkMissedBefore(ctx context.Context, before time.Time) (int64, error) {
	res := r.DB.WithContext(ctx).Model(&model.StudyPlanEntry{}).
		Where("status = ? AND scheduled_at < ?", model.PlanEntryPending, before).
		Update("status", model.PlanEntryMissed)
	return res.RowsAffected, res.Error
}

func (r *StudyPlanRepository) CreateLogs(ctx context.Context, logs []model.AdaptationLogEntry) error {
	if len(logs) == 0 {
		return nil
	}
	return r.DB.WithContext(ctx).Create(&logs).Error
}

// ListLogs courseID 为 0 时返回学习者全部日志
func (r *StudyPlanRepository) ListLogs(ctx context.Context, userID, courseID uint, limit int) ([]model.AdaptationLogEntry, error) {
	var logs []model.AdaptationLogEntry
	query := r.DB.WithContext(ctx).Where("user_id = ?", userID)
	if courseID > 0 {
		query = query.Where("course_id = ?", courseID)
	}
	err := query.Order("timestamp desc, id desc").Limit(limit).Find(&logs).Error
	return logs, err
}
