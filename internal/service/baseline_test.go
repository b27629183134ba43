package service

import (
	"context"
	"math"
	"skillchain_backend/internal/config"
	"skillchain_backend/internal/model"
	"skillchain_backend/internal/repository"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFitBaselineMatchesHeuristicOutsideWindow(t *testing.T) {
	pref := model.DefaultPreference() // evening, short, distraction
	net, err := fitBaseline(pref)
	require.NoError(t, err)

	for _, hour := range []int{0, 3, 12, 17, 23} {
		for _, m := range model.FocusMethods {
			assert.InDelta(t, HeuristicScore(pref, hour, m), net.Predict(FeatureVector(hour, m)), 1e-9, "hour %d method %s", hour, m)
		}
	}
	assert.True(t, keepsWindowOrder(net, pref))
}

func TestBaselineModelLearnsPreferredWindow(t *testing.T) {
	cases := []struct {
		studyTime string
		from, to  int
	}{
		{model.TimeOfDayRoutine, 6, 11},
		{"morning", 6, 11},
		{"afternoon", 12, 17},
		{"evening", 18, 22},
		{model.TimeOfDayWeekend, 10, 17},
	}
	for _, tc := range cases {
		t.Run(tc.studyTime, func(t *testing.T) {
			pref := &model.UserPreference{
				UserID:             1,
				PreferredStudyTime: tc.studyTime,
				FocusSpan:          model.FocusSpanShort,
				Struggle:           model.StruggleDistraction,
			}
			// 使用默认训练参数
			e := NewSchedulingEngine(1, &stubPrefs{pref: pref}, &stubSessions{}, &stubRecords{}, repository.NewMemoryModelCache(),
				NewSchedulingSettings(config.DefaultSchedulingConfig()))
			require.NoError(t, e.CreateBaselineModel(context.Background()))
			net, tier := e.snapshot()
			require.NotNil(t, net)
			assert.Equal(t, TierBaseline, tier)

			for _, m := range model.FocusMethods {
				minIn, maxOut := math.Inf(1), math.Inf(-1)
				for hour := 0; hour < 24; hour++ {
					p := net.Predict(FeatureVector(hour, m))
					assert.True(t, p > 0 && p < 1)
					if hour >= tc.from && hour <= tc.to {
						minIn = math.Min(minIn, p)
					} else {
						maxOut = math.Max(maxOut, p)
					}
				}
				assert.Greater(t, minIn, maxOut, "method %s", m)
			}
		})
	}
}

func TestFlexibleBaselineHasNoWindow(t *testing.T) {
	pref := model.DefaultPreference()
	pref.PreferredStudyTime = model.TimeOfDayFlexible
	net, _, err := trainBaseline(context.Background(), pref, 20, 0.01, 42)
	require.NoError(t, err)

	// 没有偏好时段时各小时同一方法的分数一致
	for _, m := range model.FocusMethods {
		first := net.Predict(FeatureVector(0, m))
		for hour := 1; hour < 24; hour++ {
			assert.InDelta(t, first, net.Predict(FeatureVector(hour, m)), 0.05)
		}
	}
}
