package service

import (
	"skillchain_backend/internal/model"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeuristicScore(t *testing.T) {
	pref := model.DefaultPreference() // evening, short, distraction

	cases := []struct {
		name   string
		hour   int
		method model.FocusMethod
		want   float64
	}{
		{"all bonuses capped", 20, model.MethodPomodoro, 1},
		{"window and span", 20, model.MethodBlitz, 0.95},
		{"span only", 9, model.MethodBlitz, 0.75},
		{"window only", 19, model.MethodFlowtime, 0.8},
		{"nothing", 3, model.Method5217, 0.6},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, HeuristicScore(pref, tc.hour, tc.method), 1e-9)
		})
	}

	weekend := model.UserPreference{PreferredStudyTime: model.TimeOfDayWeekend, Struggle: model.StruggleBoredom}
	assert.InDelta(t, 0.9, HeuristicScore(weekend, 10, model.MethodFlowtime), 1e-9)
	assert.InDelta(t, 0.6, HeuristicScore(weekend, 18, model.MethodBlitz), 1e-9)
}

func TestBlendWeight(t *testing.T) {
	assert.Equal(t, 1.0, BlendWeight(0, 50))
	assert.InDelta(t, 0.5, BlendWeight(25, 50), 1e-9)
	assert.Equal(t, 0.0, BlendWeight(50, 50))
	assert.Equal(t, 0.0, BlendWeight(60, 50))
	assert.Equal(t, 0.0, BlendWeight(10, 0))

	assert.InDelta(t, 0.7, BlendScore(0.2, 0.7, 0, 50), 1e-9)
	assert.InDelta(t, 0.45, BlendScore(0.2, 0.7, 25, 50), 1e-9)
	assert.InDelta(t, 0.2, BlendScore(0.2, 0.7, 80, 50), 1e-9)
}

func TestBaselineSamples(t *testing.T) {
	samples := BaselineSamples(model.DefaultPreference())
	require.Len(t, samples, 24*len(model.FocusMethods))
	for _, s := range samples {
		assert.Len(t, s.Features, 2)
		assert.True(t, s.Label >= 0.6 && s.Label <= 1)
	}
	assert.Equal(t, FeatureVector(23, model.Method5217), samples[len(samples)-1].Features)
}

func TestSessionSamplesSkipsUnknownMethods(t *testing.T) {
	at := time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)
	samples := SessionSamples([]model.TrainingSession{
		{StartedAt: at, MethodUsed: model.MethodBlitz, Completed: true},
		{StartedAt: at, MethodUsed: "yoga"},
		{StartedAt: at, MethodUsed: model.MethodPomodoro},
	})
	require.Len(t, samples, 2)
	assert.Equal(t, []float64{1, 2}, samples[0].Features)
	assert.Equal(t, 1.0, samples[0].Label)
	assert.Equal(t, 0.0, samples[1].Label)
}

func sessionsAt(hour, total, completed int) []model.TrainingSession {
	out := make([]model.TrainingSession, 0, total)
	for i := 0; i < total; i++ {
		out = append(out, model.TrainingSession{
			StartedAt:  time.Date(2026, 1, 1+i, hour, 15, 0, 0, time.UTC),
			MethodUsed: model.MethodPomodoro,
			Completed:  i < completed,
		})
	}
	return out
}

func TestOptimalHours(t *testing.T) {
	t.Run("no history", func(t *testing.T) {
		assert.Equal(t, []int{9, 10, 11, 14, 15, 16}, OptimalHours(nil))
	})

	t.Run("hours below minimum are ignored", func(t *testing.T) {
		var sessions []model.TrainingSession
		sessions = append(sessions, sessionsAt(14, 3, 1)...)
		sessions = append(sessions, sessionsAt(9, 3, 3)...)
		sessions = append(sessions, sessionsAt(20, 2, 2)...)
		assert.Equal(t, []int{9, 14}, OptimalHours(sessions))
	})

	t.Run("top six by completion rate", func(t *testing.T) {
		var sessions []model.TrainingSession
		for h, done := range map[int]int{6: 0, 7: 1, 8: 2, 9: 3, 10: 3, 11: 2, 12: 1} {
			sessions = append(sessions, sessionsAt(h, 3, done)...)
		}
		// 6 点完成率最低被淘汰
		assert.Equal(t, []int{7, 8, 9, 10, 11, 12}, OptimalHours(sessions))
	})
}

func TestMethodSuccessRates(t *testing.T) {
	rates := methodSuccessRates(sessionsAt(9, 4, 3))
	assert.InDelta(t, 0.75, rates[model.MethodPomodoro], 1e-9)
	assert.Equal(t, defaultMethodScore, rates[model.MethodFlowtime])
}
