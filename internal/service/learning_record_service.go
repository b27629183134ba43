package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"skillchain_backend/internal/model"
	"skillchain_backend/internal/repository"
	"skillchain_backend/internal/util"
	"skillchain_backend/pkg/logger"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// LearningRecordService 调度核心的数据入口：问卷偏好、专注记录、测验提交、课时完成
type LearningRecordService struct {
	PreferenceRepo *repository.PreferenceRepository
	SessionRepo    *repository.TrainingSessionRepository
	CourseRepo     *repository.CourseRepository
	AssessmentRepo *repository.AssessmentRepository
	Plans          *StudyPlanService
	Adapter        *PlanAdapterService
	Now            func() time.Time
}

func NewLearningRecordService(prefRepo *repository.PreferenceRepository, sessionRepo *repository.TrainingSessionRepository,
	courseRepo *repository.CourseRepository, assessmentRepo *repository.AssessmentRepository,
	plans *StudyPlanService, adapter *PlanAdapterService) *LearningRecordService {
	return &LearningRecordService{
		PreferenceRepo: prefRepo,
		SessionRepo:    sessionRepo,
		CourseRepo:     courseRepo,
		AssessmentRepo: assessmentRepo,
		Plans:          plans,
		Adapter:        adapter,
		Now:            time.Now,
	}
}

type PreferenceInput struct {
	PreferredStudyTime string             `json:"preferredStudyTime" binding:"required,oneof=morning afternoon evening night routine weekend flexible"`
	FocusSpan          model.FocusSpan    `json:"focusSpan" binding:"required,oneof=short medium long"`
	Struggle           model.StruggleType `json:"struggle" binding:"required,oneof=distraction procrastination fatigue boredom"`
	WeeklyHours        float64            `json:"weeklyHours" binding:"gte=0,lte=80"`
	PreferredTimeOfDay string             `json:"preferredTimeOfDay" binding:"omitempty,oneof=routine weekend flexible"`
	AvailableDays      []string           `json:"availableDays"`
}

// GetPreference 没有问卷时返回默认偏好
func (s *LearningRecordService) GetPreference(ctx context.Context, userID uint) (*model.UserPreference, error) {
	pref, err := s.PreferenceRepo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if pref == nil {
		def := model.DefaultPreference()
		def.UserID = userID
		return &def, nil
	}
	return pref, nil
}

func (s *LearningRecordService) SavePreference(ctx context.Context, userID uint, in PreferenceInput) (*model.UserPreference, error) {
	days := make([]string, 0, len(in.AvailableDays))
	for _, d := range in.AvailableDays {
		wd, err := util.ParseWeekday(d)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", util.ErrInvalidInput, err)
		}
		days = append(days, wd.String())
	}
	raw, err := json.Marshal(days)
	if err != nil {
		return nil, err
	}

	timeOfDay := in.PreferredTimeOfDay
	if timeOfDay == "" {
		timeOfDay = model.TimeOfDayFlexible
	}
	pref := &model.UserPreference{
		UserID:             userID,
		PreferredStudyTime: in.PreferredStudyTime,
		FocusSpan:          in.FocusSpan,
		Struggle:           in.Struggle,
		WeeklyHours:        in.WeeklyHours,
		PreferredTimeOfDay: timeOfDay,
		AvailableDays:      datatypes.JSON(raw),
	}
	if err := s.PreferenceRepo.Upsert(ctx, pref); err != nil {
		return nil, fmt.Errorf("save preference: %w", err)
	}
	return s.PreferenceRepo.FindByUserID(ctx, userID)
}

type SessionInput struct {
	CourseID        uint              `json:"courseId"`
	StartedAt       time.Time         `json:"startedAt" binding:"required"`
	MethodUsed      model.FocusMethod `json:"methodUsed" binding:"required"`
	Completed       bool              `json:"completed"`
	DurationSeconds int               `json:"durationSeconds" binding:"gte=0"`
	TabSwitchCount  int               `json:"tabSwitchCount" binding:"gte=0"`
}

// RecordSession 追加一条专注记录，返回学习者的记录总数
func (s *LearningRecordService) RecordSession(ctx context.Context, userID uint, in SessionInput) (*model.TrainingSession, int64, error) {
	if model.MethodIndex(in.MethodUsed) < 0 {
		return nil, 0, fmt.Errorf("%w: unknown focus method %q", util.ErrInvalidInput, in.MethodUsed)
	}
	if in.CourseID != 0 {
		if err := s.requireEnrollment(ctx, userID, in.CourseID); err != nil {
			return nil, 0, err
		}
	}
	sess := &model.TrainingSession{
		UserID:          userID,
		CourseID:        in.CourseID,
		StartedAt:       in.StartedAt,
		MethodUsed:      in.MethodUsed,
		Completed:       in.Completed,
		DurationSeconds: in.DurationSeconds,
		TabSwitchCount:  in.TabSwitchCount,
	}
	if err := s.SessionRepo.Create(ctx, sess); err != nil {
		return nil, 0, fmt.Errorf("record session: %w", err)
	}
	total, err := s.SessionRepo.CountByUser(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return sess, total, nil
}

func (s *LearningRecordService) requireEnrollment(ctx context.Context, userID, courseID uint) error {
	ok, err := s.CourseRepo.IsEnrolled(ctx, userID, courseID)
	if err != nil {
		return err
	}
	if !ok {
		return util.ErrPermissionDenied
	}
	return nil
}

type QuizOutcome struct {
	Submission *model.QuizSubmission `json:"submission"`
	Adaptation *AdaptationResult     `json:"adaptation"`
}

// SubmitQuiz 保存测验成绩后触发计划调整，调整失败不影响提交
func (s *LearningRecordService) SubmitQuiz(ctx context.Context, userID, quizID uint, score int) (*QuizOutcome, error) {
	quiz, err := s.AssessmentRepo.FindQuiz(ctx, quizID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrQuizNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.requireEnrollment(ctx, userID, quiz.CourseID); err != nil {
		return nil, err
	}

	sub := &model.QuizSubmission{
		UserID:      userID,
		QuizID:      quiz.ID,
		Score:       score,
		SubmittedAt: s.Now(),
	}
	if err := s.AssessmentRepo.CreateSubmission(ctx, sub); err != nil {
		return nil, fmt.Errorf("save submission: %w", err)
	}
	logger.Log.Info("Quiz submitted",
		zap.Uint("userID", userID),
		zap.Uint("quizID", quizID),
		zap.Int("score", score))

	return &QuizOutcome{
		Submission: sub,
		Adaptation: s.Adapter.HandleQuizSubmitted(ctx, userID, quiz.CourseID),
	}, nil
}

// CompleteLesson 课时完成后关闭计划中对应条目，返回被关闭的条目数
func (s *LearningRecordService) CompleteLesson(ctx context.Context, userID, lessonID uint) (int64, error) {
	lesson, err := s.CourseRepo.FindLessonByID(ctx, lessonID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, util.ErrLessonNotFound
	}
	if err != nil {
		return 0, err
	}
	if err := s.requireEnrollment(ctx, userID, lesson.CourseID); err != nil {
		return 0, err
	}
	return s.Plans.MarkLessonCompleted(ctx, userID, lesson.ID)
}
