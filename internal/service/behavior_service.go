package service

import (
	"context"
	"fmt"
	"math"
	"skillchain_backend/internal/model"
	"sort"
)

const peakHoursToTake = 3

// BehaviorService 学习行为统计，只读
type BehaviorService struct {
	Sessions SessionSource
	Settings *SchedulingSettings
}

func NewBehaviorService(sessions SessionSource, settings *SchedulingSettings) *BehaviorService {
	return &BehaviorService{Sessions: sessions, Settings: settings}
}

type BehaviorReport struct {
	UserID             uint                      `json:"userId"`
	TotalSessions      int                       `json:"totalSessions"`
	CompletedSessions  int                       `json:"completedSessions"`
	CompletionRate     float64                   `json:"completionRate"`
	TotalStudyMinutes  float64                   `json:"totalStudyTimeMinutes"`
	AvgSessionMinutes  float64                   `json:"avgSessionMinutes"`
	AvgTabSwitches     float64                   `json:"avgTabSwitches"`
	MethodDistribution map[model.FocusMethod]int `json:"methodDistribution"`
	PreferredMethod    model.FocusMethod         `json:"preferredMethod,omitempty"`
	PeakStudyHours     []int                     `json:"peakStudyHours"`
	FocusScore         float64                   `json:"focusScore"`
	Message            string                    `json:"message,omitempty"`
}

func (s *BehaviorService) Analyze(ctx context.Context, userID uint) (*BehaviorReport, error) {
	sessions, err := s.Sessions.FindRecent(ctx, userID, s.Settings.Get().HistoryWindow)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	report := &BehaviorReport{
		UserID:             userID,
		MethodDistribution: map[model.FocusMethod]int{},
		PeakStudyHours:     []int{},
	}
	if len(sessions) == 0 {
		report.Message = "No study data available"
		return report, nil
	}

	var seconds, tabs int
	hours := make(map[int]int)
	for _, sess := range sessions {
		if sess.Completed {
			report.CompletedSessions++
		}
		seconds += sess.DurationSeconds
		tabs += sess.TabSwitchCount
		report.MethodDistribution[sess.MethodUsed]++
		hours[sess.StartedAt.Hour()]++
	}

	n := float64(len(sessions))
	report.TotalSessions = len(sessions)
	report.CompletionRate = float64(report.CompletedSessions) / n
	report.TotalStudyMinutes = float64(seconds) / 60
	report.AvgSessionMinutes = float64(seconds) / n / 60
	report.AvgTabSwitches = float64(tabs) / n
	report.FocusScore = math.Max(0, 100-report.AvgTabSwitches*10)

	best := 0
	for _, m := range model.FocusMethods {
		if c := report.MethodDistribution[m]; c > best {
			best = c
			report.PreferredMethod = m
		}
	}

	type hourCount struct{ hour, count int }
	counts := make([]hourCount, 0, len(hours))
	for h, c := range hours {
		counts = append(counts, hourCount{h, c})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].count != counts[j].count {
			return counts[i].count > counts[j].count
		}
		return counts[i].hour < counts[j].hour
	})
	for i := 0; i < len(counts) && i < peakHoursToTake; i++ {
		report.PeakStudyHours = append(report.PeakStudyHours, counts[i].hour)
	}
	return report, nil
}
