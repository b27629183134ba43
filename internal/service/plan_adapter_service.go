package service

import (
	"context"
	"fmt"
	"skillchain_backend/internal/model"
	"skillchain_backend/internal/repository"
	"skillchain_backend/internal/util"
	"skillchain_backend/pkg/logger"
	"skillchain_backend/pkg/monitoring"
	"skillchain_backend/pkg/tracing"
	"time"

	"go.uber.org/zap"
)

type PlanAdapterService struct {
	CourseRepo     *repository.CourseRepository
	AssessmentRepo *repository.AssessmentRepository
	PreferenceRepo *repository.PreferenceRepository
	PlanRepo       *repository.StudyPlanRepository
	Settings       *SchedulingSettings
	Now            func() time.Time
}

func NewPlanAdapterService(courseRepo *repository.CourseRepository, assessmentRepo *repository.AssessmentRepository,
	prefRepo *repository.PreferenceRepository, planRepo *repository.StudyPlanRepository, settings *SchedulingSettings) *PlanAdapterService {
	return &PlanAdapterService{
		CourseRepo:     courseRepo,
		AssessmentRepo: assessmentRepo,
		PreferenceRepo: prefRepo,
		PlanRepo:       planRepo,
		Settings:       settings,
		Now:            time.Now,
	}
}

// AdaptationResult Applied 为 false 时 Reason 说明为什么没有调整
type AdaptationResult struct {
	Applied   bool                      `json:"applied"`
	Reason    string                    `json:"reason"`
	Threshold int                       `json:"threshold"`
	Score     *int                      `json:"score,omitempty"`
	Review    *model.StudyPlanEntry     `json:"review,omitempty"`
	Shifted   []model.StudyPlanEntry    `json:"shifted,omitempty"`
	Log       *model.AdaptationLogEntry `json:"log,omitempty"`
}

func (s *PlanAdapterService) threshold(ctx context.Context, courseID uint) (int, error) {
	course, err := s.CourseRepo.FindByID(ctx, courseID)
	if err != nil {
		return 0, fmt.Errorf("load course %d: %w", courseID, err)
	}
	if course.PassingScore != nil {
		return *course.PassingScore, nil
	}
	return s.Settings.Get().DefaultPassingScore, nil
}

func (s *PlanAdapterService) calendar(ctx context.Context, userID uint) (dayCalendar, error) {
	pref, err := s.PreferenceRepo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load preference: %w", err)
	}
	if pref == nil {
		return dayCalendar{}, nil
	}
	return parseAvailableDays(pref.AvailableDays), nil
}

// AdaptToQuizResult 最近一次未通过的测验在当天对应课时之后插入复习，并把之后的条目顺延
func (s *PlanAdapterService) AdaptToQuizResult(ctx context.Context, userID, courseID uint) (res *AdaptationResult, err error) {
	ctx, span := tracing.StartUserSpan(ctx, "studyplan.AdaptToQuizResult", userID)
	defer func() { tracing.End(span, err) }()

	cfg := s.Settings.Get()
	threshold, err := s.threshold(ctx, courseID)
	if err != nil {
		return nil, err
	}
	res = &AdaptationResult{Threshold: threshold}

	subs, err := s.AssessmentRepo.RecentSubmissions(ctx, userID, courseID, cfg.SubmissionWindow)
	if err != nil {
		return nil, fmt.Errorf("load submissions: %w", err)
	}
	var failed *model.QuizSubmission
	for i := range subs {
		if subs[i].Score < threshold {
			failed = &subs[i]
			break
		}
	}
	if failed == nil {
		res.Reason = "no failed submission in recent window"
		return res, nil
	}
	score := failed.Score
	res.Score = &score

	if failed.Quiz == nil || failed.Quiz.LessonID == nil {
		res.Reason = "failed quiz is not linked to a lesson"
		return res, nil
	}
	lessonID := *failed.Quiz.LessonID

	already, err := s.PlanRepo.HasReviewForSubmission(ctx, userID, failed.ID)
	if err != nil {
		return nil, fmt.Errorf("check existing review: %w", err)
	}
	if already {
		res.Reason = "review already scheduled for this submission"
		return res, nil
	}

	today := util.StartOfDay(s.Now())
	slot, err := s.PlanRepo.FindPendingForLesson(ctx, userID, lessonID, today, today.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("find today's session: %w", err)
	}
	if slot == nil {
		res.Reason = "no pending session today for the failed lesson"
		return res, nil
	}

	cal, err := s.calendar(ctx, userID)
	if err != nil {
		return nil, err
	}
	existing, err := s.PlanRepo.ListEntries(ctx, userID, today, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	later, err := s.PlanRepo.ListShiftable(ctx, userID, slot.ScheduledAt)
	if err != nil {
		return nil, fmt.Errorf("load later entries: %w", err)
	}

	moving := make(map[uint]bool, len(later))
	for _, e := range later {
		moving[e.ID] = true
	}
	occupied := make(map[model.SlotKey]bool, len(existing))
	for _, e := range existing {
		if !moving[e.ID] {
			occupied[e.SlotKey()] = true
		}
	}

	offset := time.Duration(cfg.ReviewOffsetMinutes) * time.Minute
	review := model.StudyPlanEntry{
		UserID:             userID,
		CourseID:           courseID,
		LessonID:           lessonID,
		ScheduledAt:        slot.ScheduledAt.Add(offset),
		Status:             model.PlanEntryReviewRetake,
		Method:             slot.Method,
		ReviewOfSubmission: &failed.ID,
		Metadata: detailsJSON(map[string]interface{}{
			"score":        failed.Score,
			"threshold":    threshold,
			"submissionId": failed.ID,
			"quizId":       failed.QuizID,
		}),
	}
	for occupied[review.SlotKey()] {
		review.ScheduledAt = review.ScheduledAt.Add(offset)
	}
	occupied[review.SlotKey()] = true

	shifted := shiftEntries(later, occupied, cal)

	entry := model.AdaptationLogEntry{
		UserID:    userID,
		CourseID:  courseID,
		Timestamp: s.Now(),
		Action:    model.ActionReviewScheduled,
		Reason:    fmt.Sprintf("Scored %d on quiz %d (passing score %d); review scheduled for lesson %d", failed.Score, failed.QuizID, threshold, lessonID),
		Details: detailsJSON(map[string]interface{}{
			"lessonId":     lessonID,
			"score":        failed.Score,
			"threshold":    threshold,
			"submissionId": failed.ID,
			"reviewAt":     review.ScheduledAt,
			"shifted":      len(shifted),
		}),
	}

	err = s.PlanRepo.Transaction(ctx, func(repo *repository.StudyPlanRepository) error {
		if err := repo.CreateEntry(ctx, &review); err != nil {
			return fmt.Errorf("insert review entry: %w", err)
		}
		for i := range shifted {
			if err := repo.SaveEntry(ctx, &shifted[i]); err != nil {
				return fmt.Errorf("shift entry %d: %w", shifted[i].ID, err)
			}
		}
		return repo.CreateLogs(ctx, []model.AdaptationLogEntry{entry})
	})
	if err != nil {
		return nil, err
	}

	monitoring.PlanAdaptations.WithLabelValues(string(model.ActionReviewScheduled)).Inc()
	logger.Log.Info("Review session scheduled",
		zap.Uint("userID", userID),
		zap.Uint("courseID", courseID),
		zap.Uint("lessonID", lessonID),
		zap.Int("score", failed.Score),
		zap.Int("shifted", len(shifted)))

	res.Applied = true
	res.Reason = entry.Reason
	res.Review = &review
	res.Shifted = shifted
	res.Log = &entry
	return res, nil
}

// shiftEntries 每个条目顺延到下一个可学习日，时刻不变；与 occupied 冲突时继续顺延
func shiftEntries(entries []model.StudyPlanEntry, occupied map[model.SlotKey]bool, cal dayCalendar) []model.StudyPlanEntry {
	out := make([]model.StudyPlanEntry, 0, len(entries))
	for _, e := range entries {
		if e.OriginalScheduledAt == nil {
			orig := e.ScheduledAt
			e.OriginalScheduledAt = &orig
		}
		e.ScheduledAt = cal.next(e.ScheduledAt)
		for occupied[e.SlotKey()] {
			e.ScheduledAt = cal.next(e.ScheduledAt)
		}
		occupied[e.SlotKey()] = true
		out = append(out, e)
	}
	return out
}

// HandleQuizSubmitted 测验提交后的触发入口，错误只记录不返回
func (s *PlanAdapterService) HandleQuizSubmitted(ctx context.Context, userID, courseID uint) *AdaptationResult {
	res, err := s.AdaptToQuizResult(ctx, userID, courseID)
	if err != nil {
		logger.Log.Error("Plan adaptation failed",
			zap.Uint("userID", userID),
			zap.Uint("courseID", courseID),
			zap.Error(err))
		return &AdaptationResult{Reason: "plan adaptation failed"}
	}
	return res
}

type ShiftResult struct {
	Shifted []model.StudyPlanEntry    `json:"shifted"`
	Log     *model.AdaptationLogEntry `json:"log,omitempty"`
}

// ShiftPlan 学习者跳过某天：from 当天及之后的条目整体顺延，courseID 为 0 时不限课程
func (s *PlanAdapterService) ShiftPlan(ctx context.Context, userID, courseID uint, from time.Time, reason string) (res *ShiftResult, err error) {
	ctx, span := tracing.StartUserSpan(ctx, "studyplan.ShiftPlan", userID)
	defer func() { tracing.End(span, err) }()

	cal, err := s.calendar(ctx, userID)
	if err != nil {
		return nil, err
	}
	start := util.StartOfDay(from)
	candidates, err := s.PlanRepo.ListShiftable(ctx, userID, start.Add(-time.Nanosecond))
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	existing, err := s.PlanRepo.ListEntries(ctx, userID, start, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}

	var later []model.StudyPlanEntry
	moving := make(map[uint]bool)
	for _, e := range candidates {
		if courseID == 0 || e.CourseID == courseID {
			later = append(later, e)
			moving[e.ID] = true
		}
	}
	if len(later) == 0 {
		return &ShiftResult{}, nil
	}

	occupied := make(map[model.SlotKey]bool, len(existing))
	for _, e := range existing {
		if !moving[e.ID] {
			occupied[e.SlotKey()] = true
		}
	}
	shifted := shiftEntries(later, occupied, cal)

	if reason == "" {
		reason = "Learner skipped " + start.Format(util.DateFormat)
	}
	entry := model.AdaptationLogEntry{
		UserID:    userID,
		CourseID:  courseID,
		Timestamp: s.Now(),
		Action:    model.ActionShift,
		Reason:    reason,
		Details: detailsJSON(map[string]interface{}{
			"from":    start.Format(util.DateFormat),
			"shifted": len(shifted),
		}),
	}

	err = s.PlanRepo.Transaction(ctx, func(repo *repository.StudyPlanRepository) error {
		for i := range shifted {
			if err := repo.SaveEntry(ctx, &shifted[i]); err != nil {
				return fmt.Errorf("shift entry %d: %w", shifted[i].ID, err)
			}
		}
		return repo.CreateLogs(ctx, []model.AdaptationLogEntry{entry})
	})
	if err != nil {
		return nil, err
	}

	monitoring.PlanAdaptations.WithLabelValues(string(model.ActionShift)).Inc()
	return &ShiftResult{Shifted: shifted, Log: &entry}, nil
}
