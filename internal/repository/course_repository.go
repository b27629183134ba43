package repository

import (
	"context"
	"skillchain_backend/internal/model"
	"time"

	"gorm.io/gorm"
)

type CourseRepository struct {
	DB *gorm.DB
}

func NewCourseRepository(db *gorm.DB) *CourseRepository {
	return &CourseRepository{DB: db}
}

func (r *CourseRepository) FindByID(ctx context.Context, id uint) (*model.Course, error) {
	var c model.Course
	err := r.DB.WithContext(ctx).First(&c, id).Error
	return &c, err
}

// FindEnrolledCourses 按报名先后返回学习者的课程
func (r *CourseRepository) FindEnrolledCourses(ctx context.Context, userID uint) ([]model.Course, error) {
	var courses []model.Course
	err := r.DB.WithContext(ctx).
		Joins("JOIN enrollments ON enrollments.course_id = courses.id AND enrollments.deleted_at IS NULL").
		Where("enrollments.user_id = ?", userID).
		Order("enrollments.created_at asc, enrollments.id asc").
		Find(&courses).Error
	return courses, err
}

func (r *CourseRepository) IsEnrolled(ctx context.Context, userID, courseID uint) (bool, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&model.Enrollment{}).
		Where("user_id = ? AND course_id = ?", userID, courseID).
		Count(&count).Error
	return count > 0, err
}

// FindLessons 课程内按 模块顺序 -> 课时顺序 排列
func (r *CourseRepository) FindLessons(ctx context.Context, courseID uint) ([]model.Lesson, error) {
	var lessons []model.Lesson
	err := r.DB.WithContext(ctx).
		Joins("JOIN course_modules ON course_modules.id = lessons.module_id").
		Where("lessons.course_id = ?", courseID).
		Order("course_modules.sort_order asc, course_modules.id asc, lessons.sort_order asc, lessons.id asc").
		Find(&lessons).Error
	return lessons, err
}

func (r *CourseRepository) FindLessonByID(ctx context.Context, id uint) (*model.Lesson, error) {
	var l model.Lesson
	err := r.DB.WithContext(ctx).First(&l, id).Error
	return &l, err
}

// CompletedLessonIDs 学习者已完成课时集合
func (r *CourseRepository) CompletedLessonIDs(ctx context.Context, userID uint) (map[uint]bool, error) {
	var ids []uint
	err := r.DB.WithContext(ctx).Model(&model.LessonCompletion{}).
		Where("user_id = ?", userID).
		Pluck("lesson_id", &ids).Error
	if err != nil {
		return nil, err
	}
	done := make(map[uint]bool, len(ids))
	for _, id := range ids {
		done[id] = true
	}
	return done, nil
}

func (r *CourseRepository) CreateLessonCompletion(ctx context.Context, userID, lessonID uint, at time.Time) error {
	return r.DB.WithContext(ctx).Create(&model.LessonCompletion{
		UserID:      userID,
		LessonID:    lessonID,
		CompletedAt: at,
	}).Error
}
