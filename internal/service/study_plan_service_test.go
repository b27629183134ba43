package service

import (
	"context"
	"errors"
	"skillchain_backend/internal/model"
	"skillchain_backend/internal/util"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPlanService(f *fixture, advisor MethodAdvisor) *StudyPlanService {
	s := NewStudyPlanService(f.courses, f.prefs, f.plans, advisor, f.settings)
	s.Now = fixedClock
	return s
}

func TestGeneratePlanDefaultPreference(t *testing.T) {
	f := newFixture(t)
	course, lessons := f.seedCourse(t, 1, 12, 30)
	advisor := &fixedAdvisor{method: model.MethodFlowtime}
	svc := newPlanService(f, advisor)

	plan, err := svc.GeneratePlan(context.Background(), 1)
	require.NoError(t, err)

	// 默认每周 5 小时、每课时 0.5 小时
	assert.Equal(t, 10, plan.Target)
	assert.Equal(t, []int{9, 14, 19}, plan.SlotHours)
	require.Len(t, plan.Entries, 10)

	tomorrow := util.StartOfDay(testNow).AddDate(0, 0, 1)
	assert.True(t, plan.Entries[0].ScheduledAt.Equal(tomorrow.Add(9*time.Hour)))
	assert.True(t, plan.Entries[1].ScheduledAt.Equal(tomorrow.Add(14*time.Hour)))

	perDay := map[string]int{}
	seen := map[uint]bool{}
	for i, e := range plan.Entries {
		assert.Equal(t, lessons[i].ID, e.LessonID, "lessons follow course order")
		assert.Equal(t, course.ID, e.CourseID)
		assert.Equal(t, model.PlanEntryPending, e.Status)
		assert.Equal(t, model.MethodFlowtime, e.Method)
		assert.True(t, e.ScheduledAt.After(testNow))
		assert.False(t, seen[e.LessonID], "lesson scheduled twice")
		seen[e.LessonID] = true
		perDay[e.ScheduledAt.Format(util.DateFormat)]++
	}
	// 10 个课时分到 7 天，余数给最早的 3 天
	assert.Equal(t, 2, perDay["2026-01-06"])
	assert.Equal(t, 2, perDay["2026-01-07"])
	assert.Equal(t, 2, perDay["2026-01-08"])
	assert.Equal(t, 1, perDay["2026-01-12"])

	// 每个小时只询问一次
	assert.Equal(t, 2, advisor.calls)

	assert.Len(t, f.allEntries(t, 1), 10)
	logs, err := svc.GetLog(context.Background(), 1, 0, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.ActionPlanRegenerated, logs[0].Action)
	assert.Equal(t, course.ID, logs[0].CourseID)
}

func TestGeneratePlanRespectsAvailableDays(t *testing.T) {
	f := newFixture(t)
	f.seedCourse(t, 1, 10, 30)
	f.savePreference(t, model.UserPreference{
		UserID:             1,
		PreferredStudyTime: "morning",
		FocusSpan:          model.FocusSpanShort,
		Struggle:           model.StruggleDistraction,
		WeeklyHours:        2,
		PreferredTimeOfDay: model.TimeOfDayRoutine,
		AvailableDays:      days("monday", "Wed"),
	})
	svc := newPlanService(f, nil)

	plan, err := svc.GeneratePlan(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 4, plan.Target)
	require.Len(t, plan.Entries, 4)

	for _, e := range plan.Entries {
		wd := e.ScheduledAt.Weekday()
		assert.True(t, wd == time.Monday || wd == time.Wednesday, "scheduled on %s", wd)
		assert.Contains(t, []int{8, 13}, e.ScheduledAt.Hour())
		assert.Equal(t, model.MethodPomodoro, e.Method)
	}
}

func TestGeneratePlanSpreadsWeeklyHoursEvenly(t *testing.T) {
	f := newFixture(t)
	f.seedCourse(t, 1, 25, 30)
	f.savePreference(t, model.UserPreference{
		UserID:             1,
		PreferredStudyTime: "evening",
		WeeklyHours:        10,
		PreferredTimeOfDay: model.TimeOfDayFlexible,
	})
	svc := newPlanService(f, nil)

	plan, err := svc.GeneratePlan(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 20, plan.Target)
	require.Len(t, plan.Entries, 20)

	perDay := map[string]int{}
	for _, e := range plan.Entries {
		perDay[e.ScheduledAt.Format(util.DateFormat)]++
	}
	require.Len(t, perDay, 7)
	lo, hi := 20, 0
	for _, n := range perDay {
		if n < lo {
			lo = n
		}
		if n > hi {
			hi = n
		}
	}
	assert.LessOrEqual(t, hi-lo, 1)
	assert.Equal(t, 3, perDay["2026-01-06"])
	assert.Equal(t, 2, perDay["2026-01-12"])
}

func TestGeneratePlanUsesRemainingHoursOfBusyDays(t *testing.T) {
	f := newFixture(t)
	f.seedCourse(t, 1, 20, 30)
	f.savePreference(t, model.UserPreference{
		UserID:             1,
		PreferredStudyTime: "evening",
		WeeklyHours:        10,
		PreferredTimeOfDay: model.TimeOfDayFlexible,
		AvailableDays:      days("Monday", "Wednesday"),
	})
	svc := newPlanService(f, nil)

	plan, err := svc.GeneratePlan(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, plan.Entries, 20)

	hours := map[string][]int{}
	for _, e := range plan.Entries {
		day := e.ScheduledAt.Format(util.DateFormat)
		hours[day] = append(hours[day], e.ScheduledAt.Hour())
	}
	require.Len(t, hours, 2)
	for day, hs := range hours {
		require.Len(t, hs, 10, day)
		// 先用偏好时段，再用离偏好时段最近的小时
		assert.Equal(t, []int{9, 14, 19, 8, 10, 13, 15, 18, 20, 7}, hs, day)
	}
}

func TestHourOrder(t *testing.T) {
	order := hourOrder([]int{8, 13})
	require.Len(t, order, 24)
	assert.Equal(t, []int{8, 13, 7, 9, 12, 14, 6, 10, 11, 15}, order[:10])

	seen := map[int]bool{}
	for _, h := range order {
		assert.False(t, seen[h], "hour %d repeated", h)
		seen[h] = true
	}
}

func TestGeneratePlanUsesLessonDurations(t *testing.T) {
	f := newFixture(t)
	f.seedCourse(t, 1, 8, 60)
	svc := newPlanService(f, nil)

	plan, err := svc.GeneratePlan(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, plan.LessonHours)
	assert.Equal(t, 5, plan.Target)
	assert.Len(t, plan.Entries, 5)
}

func TestGeneratePlanSkipsCompletedLessons(t *testing.T) {
	f := newFixture(t)
	_, lessons := f.seedCourse(t, 1, 4, 30)
	require.NoError(t, f.courses.CreateLessonCompletion(context.Background(), 1, lessons[0].ID, testNow))
	svc := newPlanService(f, nil)

	plan, err := svc.GeneratePlan(context.Background(), 1)
	require.NoError(t, err)
	// 积压只剩 3 个课时，不会重复安排
	require.Len(t, plan.Entries, 3)
	for _, e := range plan.Entries {
		assert.NotEqual(t, lessons[0].ID, e.LessonID)
	}
}

func TestGeneratePlanReplacesPendingEntries(t *testing.T) {
	f := newFixture(t)
	_, lessons := f.seedCourse(t, 1, 12, 30)
	svc := newPlanService(f, nil)
	ctx := context.Background()

	first, err := svc.GeneratePlan(ctx, 1)
	require.NoError(t, err)

	_, err = svc.UpdateEntryStatus(ctx, 1, first.Entries[0].ID, model.PlanEntryDone)
	require.NoError(t, err)

	second, err := svc.GeneratePlan(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 9, second.Removed)
	require.Len(t, second.Entries, 10)
	for _, e := range second.Entries {
		assert.NotEqual(t, lessons[0].ID, e.LessonID)
	}

	all := f.allEntries(t, 1)
	assert.Len(t, all, 11)
	keys := map[model.SlotKey]bool{}
	done := 0
	for _, e := range all {
		assert.False(t, keys[e.SlotKey()], "duplicate (lesson, minute)")
		keys[e.SlotKey()] = true
		if e.Status == model.PlanEntryDone {
			done++
		}
	}
	assert.Equal(t, 1, done)
}

func TestGeneratePlanErrors(t *testing.T) {
	t.Run("no enrolled course", func(t *testing.T) {
		f := newFixture(t)
		svc := newPlanService(f, nil)

		_, err := svc.GeneratePlan(context.Background(), 1)
		assert.ErrorIs(t, err, util.ErrNoEnrolledCourse)
		assert.Empty(t, f.allEntries(t, 1))
	})

	t.Run("every lesson completed", func(t *testing.T) {
		f := newFixture(t)
		_, lessons := f.seedCourse(t, 1, 2, 30)
		for _, l := range lessons {
			require.NoError(t, f.courses.CreateLessonCompletion(context.Background(), 1, l.ID, testNow))
		}
		svc := newPlanService(f, nil)

		_, err := svc.GeneratePlan(context.Background(), 1)
		var noLesson *util.NoEligibleLessonError
		assert.True(t, errors.As(err, &noLesson))
		assert.Empty(t, f.allEntries(t, 1))
	})

	t.Run("day runs out of hours", func(t *testing.T) {
		f := newFixture(t)
		f.seedCourse(t, 1, 30, 30)
		f.savePreference(t, model.UserPreference{
			UserID:             1,
			PreferredStudyTime: "evening",
			WeeklyHours:        15,
			PreferredTimeOfDay: model.TimeOfDayFlexible,
			AvailableDays:      days("Tuesday"),
		})
		pending := f.addEntry(t, model.StudyPlanEntry{UserID: 1, CourseID: 1, LessonID: 1, ScheduledAt: testNow.Add(2 * time.Hour)})
		svc := newPlanService(f, nil)

		_, err := svc.GeneratePlan(context.Background(), 1)
		var conflict *util.ScheduleConflictError
		require.True(t, errors.As(err, &conflict))
		// 30 个课时挤在一天，第 25 个没有空闲小时
		assert.Equal(t, 24, conflict.Hour)

		// 失败时不修改已有计划
		all := f.allEntries(t, 1)
		require.Len(t, all, 1)
		assert.Equal(t, pending.ID, all[0].ID)
	})
}

func TestGeneratePlanAdvisorFailureFallsBackToPomodoro(t *testing.T) {
	f := newFixture(t)
	f.seedCourse(t, 1, 3, 30)
	svc := newPlanService(f, &fixedAdvisor{err: errors.New("model offline")})

	plan, err := svc.GeneratePlan(context.Background(), 1)
	require.NoError(t, err)
	for _, e := range plan.Entries {
		assert.Equal(t, model.MethodPomodoro, e.Method)
	}
}

func TestDedupeEntries(t *testing.T) {
	at := time.Date(2026, 1, 6, 9, 0, 0, 0, time.UTC)
	survivors := []model.StudyPlanEntry{
		{LessonID: 1, ScheduledAt: at, Status: model.PlanEntryDone},
		{LessonID: 2, ScheduledAt: at, Status: model.PlanEntryPending},
	}
	entries := []model.StudyPlanEntry{
		{LessonID: 1, ScheduledAt: at.Add(20 * time.Second)},
		{LessonID: 2, ScheduledAt: at},
		{LessonID: 3, ScheduledAt: at},
		{LessonID: 3, ScheduledAt: at},
	}

	out := dedupeEntries(entries, survivors)
	require.Len(t, out, 2)
	assert.Equal(t, uint(2), out[0].LessonID)
	assert.Equal(t, uint(3), out[1].LessonID)
}

func TestUpdateEntryStatus(t *testing.T) {
	f := newFixture(t)
	_, lessons := f.seedCourse(t, 1, 2, 30)
	svc := newPlanService(f, nil)
	ctx := context.Background()

	e := f.addEntry(t, model.StudyPlanEntry{UserID: 1, CourseID: 1, LessonID: lessons[0].ID, ScheduledAt: testNow.Add(time.Hour)})
	review := f.addEntry(t, model.StudyPlanEntry{UserID: 1, CourseID: 1, LessonID: lessons[0].ID, ScheduledAt: testNow.Add(2 * time.Hour), Status: model.PlanEntryReviewRetake})
	other := f.addEntry(t, model.StudyPlanEntry{UserID: 1, CourseID: 1, LessonID: lessons[1].ID, ScheduledAt: testNow.Add(3 * time.Hour)})

	_, err := svc.UpdateEntryStatus(ctx, 1, e.ID, model.PlanEntryPending)
	assert.ErrorIs(t, err, util.ErrInvalidStatus)

	_, err = svc.UpdateEntryStatus(ctx, 1, 9999, model.PlanEntryDone)
	assert.ErrorIs(t, err, util.ErrEntryNotFound)

	// 其他学习者的条目不可见
	_, err = svc.UpdateEntryStatus(ctx, 2, e.ID, model.PlanEntryDone)
	assert.ErrorIs(t, err, util.ErrEntryNotFound)

	missed, err := svc.UpdateEntryStatus(ctx, 1, other.ID, model.PlanEntryMissed)
	require.NoError(t, err)
	assert.Equal(t, model.PlanEntryMissed, missed.Status)

	done, err := svc.UpdateEntryStatus(ctx, 1, e.ID, model.PlanEntryDone)
	require.NoError(t, err)
	assert.Equal(t, model.PlanEntryDone, done.Status)

	// 同一课时的复习条目一起完成
	reloaded, err := f.plans.FindEntry(ctx, 1, review.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PlanEntryDone, reloaded.Status)

	completed, err := f.courses.CompletedLessonIDs(ctx, 1)
	require.NoError(t, err)
	assert.True(t, completed[lessons[0].ID])
}

func TestSweepMissed(t *testing.T) {
	f := newFixture(t)
	svc := newPlanService(f, nil)
	ctx := context.Background()

	past := f.addEntry(t, model.StudyPlanEntry{UserID: 1, CourseID: 1, LessonID: 1, ScheduledAt: testNow.Add(-26 * time.Hour)})
	doneEntry := f.addEntry(t, model.StudyPlanEntry{UserID: 1, CourseID: 1, LessonID: 2, ScheduledAt: testNow.Add(-25 * time.Hour), Status: model.PlanEntryDone})
	future := f.addEntry(t, model.StudyPlanEntry{UserID: 1, CourseID: 1, LessonID: 3, ScheduledAt: testNow.Add(time.Hour)})
	// 当天已过开始时间的条目保持待完成
	earlierToday := f.addEntry(t, model.StudyPlanEntry{UserID: 1, CourseID: 1, LessonID: 4, ScheduledAt: testNow.Add(-time.Hour)})

	n, err := svc.SweepMissed(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	statuses := map[uint]model.PlanEntryStatus{}
	for _, e := range f.allEntries(t, 1) {
		statuses[e.ID] = e.Status
	}
	assert.Equal(t, model.PlanEntryMissed, statuses[past.ID])
	assert.Equal(t, model.PlanEntryDone, statuses[doneEntry.ID])
	assert.Equal(t, model.PlanEntryPending, statuses[future.ID])
	assert.Equal(t, model.PlanEntryPending, statuses[earlierToday.ID])
}

func TestRunMissedSweeperStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	svc := newPlanService(f, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.RunMissedSweeper(ctx, time.Hour)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
