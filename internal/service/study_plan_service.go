package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"skillchain_backend/internal/model"
	"skillchain_backend/internal/repository"
	"skillchain_backend/internal/util"
	"skillchain_backend/pkg/logger"
	"skillchain_backend/pkg/monitoring"
	"skillchain_backend/pkg/tracing"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const lastSlotHour = 23

// MethodAdvisor 为某个小时建议学习方法
type MethodAdvisor interface {
	RecommendMethod(ctx context.Context, userID uint, hour int) (model.FocusMethod, error)
}

type StudyPlanService struct {
	CourseRepo     *repository.CourseRepository
	PreferenceRepo *repository.PreferenceRepository
	PlanRepo       *repository.StudyPlanRepository
	Advisor        MethodAdvisor
	Settings       *SchedulingSettings
	Now            func() time.Time
}

func NewStudyPlanService(courseRepo *repository.CourseRepository, prefRepo *repository.PreferenceRepository,
	planRepo *repository.StudyPlanRepository, advisor MethodAdvisor, settings *SchedulingSettings) *StudyPlanService {
	return &StudyPlanService{
		CourseRepo:     courseRepo,
		PreferenceRepo: prefRepo,
		PlanRepo:       planRepo,
		Advisor:        advisor,
		Settings:       settings,
		Now:            time.Now,
	}
}

type GeneratedPlan struct {
	Entries     []model.StudyPlanEntry `json:"entries"`
	Target      int                    `json:"target"`
	WeeklyHours float64                `json:"weeklyHours"`
	LessonHours float64                `json:"lessonHours"`
	SlotHours   []int                  `json:"slotHours"`
	Removed     int64                  `json:"removed"`
}

type backlogItem struct {
	lesson   model.Lesson
	courseID uint
}

// backlog 已报名课程中未完成的课时，按 课程 -> 模块 -> 课时 排序
func (s *StudyPlanService) backlog(ctx context.Context, userID uint) ([]backlogItem, error) {
	courses, err := s.CourseRepo.FindEnrolledCourses(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load enrolled courses: %w", err)
	}
	if len(courses) == 0 {
		return nil, util.ErrNoEnrolledCourse
	}

	completed, err := s.CourseRepo.CompletedLessonIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load completed lessons: %w", err)
	}

	var items []backlogItem
	for _, c := range courses {
		lessons, err := s.CourseRepo.FindLessons(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("load lessons of course %d: %w", c.ID, err)
		}
		for _, l := range lessons {
			if !completed[l.ID] {
				items = append(items, backlogItem{lesson: l, courseID: c.ID})
			}
		}
	}
	if len(items) == 0 {
		return nil, &util.NoEligibleLessonError{UserID: userID}
	}
	return items, nil
}

// averageLessonHours 所有课时都声明时长时取平均值，否则使用默认值
func averageLessonHours(items []backlogItem, fallback float64) float64 {
	total := 0
	for _, it := range items {
		if it.lesson.DurationMinutes <= 0 {
			return fallback
		}
		total += it.lesson.DurationMinutes
	}
	return float64(total) / float64(len(items)) / 60
}

// dayPlan 某一天已经使用的小时与已安排的课时
type dayPlan struct {
	day     time.Time
	quota   int
	used    map[int]bool
	lessons map[uint]bool
}

// hourOrder 先用偏好时段，再按离最近偏好时段的距离使用当天其余小时
func hourOrder(slots []int) []int {
	order := append([]int(nil), slots...)
	preferred := make(map[int]bool, len(slots))
	for _, h := range slots {
		preferred[h] = true
	}
	var rest []int
	for h := 0; h <= lastSlotHour; h++ {
		if !preferred[h] {
			rest = append(rest, h)
		}
	}
	distance := func(h int) int {
		best := lastSlotHour + 1
		for _, p := range slots {
			d := h - p
			if d < 0 {
				d = -d
			}
			if d < best {
				best = d
			}
		}
		return best
	}
	sort.SliceStable(rest, func(i, j int) bool { return distance(rest[i]) < distance(rest[j]) })
	return append(order, rest...)
}

// candidate 按 order 找第一个未使用且 blocked 不拒绝的小时，当天全部用完时返回 false
func (d *dayPlan) candidate(order []int, blocked func(hour int) bool) (int, bool) {
	for _, h := range order {
		if !d.used[h] && !blocked(h) {
			return h, true
		}
	}
	return 0, false
}

// GeneratePlan 重新生成学习者未来一周的计划，替换今天起所有待完成条目
func (s *StudyPlanService) GeneratePlan(ctx context.Context, userID uint) (plan *GeneratedPlan, err error) {
	ctx, span := tracing.StartUserSpan(ctx, "studyplan.Generate", userID)
	defer func() { tracing.End(span, err) }()

	cfg := s.Settings.Get()
	items, err := s.backlog(ctx, userID)
	if err != nil {
		return nil, err
	}

	pref, err := s.PreferenceRepo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load preference: %w", err)
	}
	if pref == nil {
		p := model.DefaultPreference()
		pref = &p
	}
	weeklyHours := pref.WeeklyHours
	if weeklyHours <= 0 {
		weeklyHours = cfg.DefaultWeeklyHours
	}
	lessonHours := averageLessonHours(items, cfg.LessonHours)
	target := int(math.Ceil(weeklyHours / lessonHours))
	slots := slotHours(pref.PreferredTimeOfDay)
	order := hourOrder(slots)
	calendar := parseAvailableDays(pref.AvailableDays)

	today := util.StartOfDay(s.Now())
	survivors, err := s.PlanRepo.ListEntries(ctx, userID, today, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("load existing plan: %w", err)
	}
	taken := make(map[model.SlotKey]bool)
	lessonDays := make(map[string]bool)
	for _, e := range survivors {
		if e.Status == model.PlanEntryPending {
			continue
		}
		taken[e.SlotKey()] = true
		lessonDays[lessonDayKey(e.LessonID, e.ScheduledAt)] = true
	}

	days := calendar.window(today.AddDate(0, 0, 1))
	plans := make([]*dayPlan, len(days))
	for i, d := range days {
		plans[i] = &dayPlan{day: d, quota: target / len(days), used: map[int]bool{}, lessons: map[uint]bool{}}
		if i < target%len(days) {
			plans[i].quota++
		}
	}

	queue := items
	var entries []model.StudyPlanEntry
	for _, dp := range plans {
		for n := 0; n < dp.quota && len(queue) > 0; n++ {
			idx := -1
			for i, it := range queue {
				if !dp.lessons[it.lesson.ID] && !lessonDays[lessonDayKey(it.lesson.ID, dp.day)] {
					idx = i
					break
				}
			}
			if idx < 0 {
				break
			}
			it := queue[idx]
			queue = append(queue[:idx:idx], queue[idx+1:]...)

			hour, ok := dp.candidate(order, func(h int) bool {
				return taken[model.SlotKey{LessonID: it.lesson.ID, Minute: atHour(dp.day, h).Unix()}]
			})
			if !ok {
				return nil, &util.ScheduleConflictError{Day: dp.day, LessonID: it.lesson.ID, Hour: lastSlotHour + 1}
			}
			at := atHour(dp.day, hour)

			dp.used[hour] = true
			dp.lessons[it.lesson.ID] = true
			taken[model.SlotKey{LessonID: it.lesson.ID, Minute: at.Unix()}] = true
			entries = append(entries, model.StudyPlanEntry{
				UserID:      userID,
				CourseID:    it.courseID,
				LessonID:    it.lesson.ID,
				ScheduledAt: at,
				Status:      model.PlanEntryPending,
			})
		}
	}

	entries = dedupeEntries(entries, survivors)
	s.assignMethods(ctx, userID, entries)

	logs := regenerationLogs(userID, entries, s.Now(), map[string]interface{}{
		"weeklyHours": weeklyHours,
		"lessonHours": lessonHours,
		"target":      target,
		"timeOfDay":   pref.PreferredTimeOfDay,
	})

	var removed int64
	err = s.PlanRepo.Transaction(ctx, func(repo *repository.StudyPlanRepository) error {
		n, err := repo.DeletePendingFrom(ctx, userID, today)
		if err != nil {
			return fmt.Errorf("delete pending entries: %w", err)
		}
		removed = n
		if err := repo.CreateEntries(ctx, entries); err != nil {
			return fmt.Errorf("create entries: %w", err)
		}
		return repo.CreateLogs(ctx, logs)
	})
	if err != nil {
		return nil, err
	}

	monitoring.PlanEntriesGenerated.Add(float64(len(entries)))
	monitoring.PlanAdaptations.WithLabelValues(string(model.ActionPlanRegenerated)).Add(float64(len(logs)))
	logger.Log.Info("Study plan generated",
		zap.Uint("userID", userID),
		zap.Int("entries", len(entries)),
		zap.Int("target", target),
		zap.Int64("removed", removed))

	return &GeneratedPlan{
		Entries:     entries,
		Target:      target,
		WeeklyHours: weeklyHours,
		LessonHours: lessonHours,
		SlotHours:   slots,
		Removed:     removed,
	}, nil
}

func lessonDayKey(lessonID uint, t time.Time) string {
	return fmt.Sprintf("%d@%s", lessonID, t.Format(util.DateFormat))
}

// dedupeEntries 去掉与保留条目或彼此重复的 (课时, 分钟)
func dedupeEntries(entries, survivors []model.StudyPlanEntry) []model.StudyPlanEntry {
	seen := make(map[model.SlotKey]bool, len(entries)+len(survivors))
	for _, e := range survivors {
		if e.Status != model.PlanEntryPending {
			seen[e.SlotKey()] = true
		}
	}
	out := entries[:0]
	for _, e := range entries {
		k := e.SlotKey()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out
}

// assignMethods 按小时询问推荐方法，失败时使用番茄钟
func (s *StudyPlanService) assignMethods(ctx context.Context, userID uint, entries []model.StudyPlanEntry) {
	byHour := make(map[int]model.FocusMethod)
	for i := range entries {
		h := entries[i].ScheduledAt.Hour()
		m, ok := byHour[h]
		if !ok {
			m = model.MethodPomodoro
			if s.Advisor != nil {
				rec, err := s.Advisor.RecommendMethod(ctx, userID, h)
				if err != nil {
					logger.Log.Warn("Method recommendation failed", zap.Uint("userID", userID), zap.Int("hour", h), zap.Error(err))
				} else if model.MethodIndex(rec) >= 0 {
					m = rec
				}
			}
			byHour[h] = m
		}
		entries[i].Method = m
	}
}

func regenerationLogs(userID uint, entries []model.StudyPlanEntry, now time.Time, details map[string]interface{}) []model.AdaptationLogEntry {
	counts := make(map[uint]int)
	var order []uint
	for _, e := range entries {
		if _, ok := counts[e.CourseID]; !ok {
			order = append(order, e.CourseID)
		}
		counts[e.CourseID]++
	}

	logs := make([]model.AdaptationLogEntry, 0, len(order))
	for _, courseID := range order {
		d := map[string]interface{}{"entries": counts[courseID]}
		for k, v := range details {
			d[k] = v
		}
		logs = append(logs, model.AdaptationLogEntry{
			UserID:    userID,
			CourseID:  courseID,
			Timestamp: now,
			Action:    model.ActionPlanRegenerated,
			Reason:    fmt.Sprintf("Study plan regenerated with %d sessions", counts[courseID]),
			Details:   detailsJSON(d),
		})
	}
	return logs
}

func (s *StudyPlanService) GetPlan(ctx context.Context, userID uint, from, to time.Time) ([]model.StudyPlanEntry, error) {
	return s.PlanRepo.ListEntries(ctx, userID, from, to)
}

func (s *StudyPlanService) GetLog(ctx context.Context, userID, courseID uint, limit int) ([]model.AdaptationLogEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.PlanRepo.ListLogs(ctx, userID, courseID, limit)
}

// MarkLessonCompleted 记录课时完成并关闭其未完成的条目
func (s *StudyPlanService) MarkLessonCompleted(ctx context.Context, userID, lessonID uint) (int64, error) {
	if err := s.CourseRepo.CreateLessonCompletion(ctx, userID, lessonID, s.Now()); err != nil {
		return 0, fmt.Errorf("record lesson completion: %w", err)
	}
	return s.PlanRepo.MarkLessonDone(ctx, userID, lessonID)
}

// UpdateEntryStatus 进度协作方推进单个条目状态
func (s *StudyPlanService) UpdateEntryStatus(ctx context.Context, userID, entryID uint, status model.PlanEntryStatus) (*model.StudyPlanEntry, error) {
	entry, err := s.PlanRepo.FindEntry(ctx, userID, entryID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}

	switch status {
	case model.PlanEntryDone:
		if _, err := s.MarkLessonCompleted(ctx, userID, entry.LessonID); err != nil {
			return nil, err
		}
	case model.PlanEntryMissed:
		if err := s.PlanRepo.UpdateStatus(ctx, userID, entryID, status); err != nil {
			return nil, err
		}
	default:
		return nil, util.ErrInvalidStatus
	}
	return s.PlanRepo.FindEntry(ctx, userID, entryID)
}

// SweepMissed 把今天之前仍待完成的条目标记为错过；当天条目留给测验后的复习调整
func (s *StudyPlanService) SweepMissed(ctx context.Context) (int64, error) {
	return s.PlanRepo.MarkMissedBefore(ctx, util.StartOfDay(s.Now()))
}

// RunMissedSweeper 定时清扫，ctx 结束时退出
func (s *StudyPlanService) RunMissedSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SweepMissed(ctx)
			if err != nil {
				logger.Log.Error("Missed-session sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Log.Info("Marked sessions as missed", zap.Int64("count", n))
			}
		}
	}
}
