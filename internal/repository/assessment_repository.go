package repository

import (
	"context"
	"skillchain_backend/internal/model"

	"gorm.io/gorm"
)

type AssessmentRepository struct {
	DB *gorm.DB
}

func NewAssessmentRepository(db *gorm.DB) *AssessmentRepository {
	return &AssessmentRepository{DB: db}
}

func (r *AssessmentRepository) CreateQuiz(ctx context.Context, q *model.Quiz) error {
	return r.DB.WithContext(ctx).Create(q).Error
}

func (r *AssessmentRepository) FindQuiz(ctx context.Context, id uint) (*model.Quiz, error) {
	var q model.Quiz
	err := r.DB.WithContext(ctx).First(&q, id).Error
	return &q, err
}

func (r *AssessmentRepository) CreateSubmission(ctx context.Context, s *model.QuizSubmission) error {
	return r.DB.WithContext(ctx).Create(s).Error
}

// RecentSubmissions 学习者在某课程下最近的测验提交，最新在前
func (r *AssessmentRepository) RecentSubmissions(ctx context.Context, userID, courseID uint, limit int) ([]model.QuizSubmission, error) {
	var subs []model.QuizSubmission
	err := r.DB.WithContext(ctx).
		Preload("Quiz").
		Joins("JOIN quizzes ON quizzes.id = quiz_submissions.quiz_id").
		Where("quiz_submissions.user_id = ? AND quizzes.course_id = ?", userID, courseID).
		Order("quiz_submissions.submitted_at desc, quiz_submissions.id desc").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}
