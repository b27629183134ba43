package service

import (
	"skillchain_backend/internal/model"
	"skillchain_backend/internal/predictor"
	"sort"
)

const (
	heuristicBase       = 0.6
	timeWindowBonus     = 0.2
	focusSpanBonus      = 0.15
	strugglePairBonus   = 0.1
	defaultMethodScore  = 0.5
	minSessionsPerHour  = 3
	optimalHoursToTake  = 6
	baselineHoursPerDay = 24
)

var defaultOptimalHours = []int{9, 10, 11, 14, 15, 16}

// FeatureVector 模型输入 [hour/23, methodIndex]
func FeatureVector(hour int, m model.FocusMethod) []float64 {
	return []float64{float64(hour) / 23, float64(model.MethodIndex(m))}
}

// timeWindow 偏好学习时段的起止小时（含两端），未知偏好没有时段
func timeWindow(preferred string) (from, to int, ok bool) {
	switch preferred {
	case "morning", model.TimeOfDayRoutine:
		return 6, 11, true
	case "afternoon":
		return 12, 17, true
	case "evening":
		return 18, 22, true
	case model.TimeOfDayWeekend:
		return 10, 17, true
	}
	return 0, 0, false
}

// inTimeWindow 小时是否落在偏好的学习时段
func inTimeWindow(preferred string, hour int) bool {
	from, to, ok := timeWindow(preferred)
	return ok && hour >= from && hour <= to
}

func strugglePairing(s model.StruggleType) model.FocusMethod {
	switch s {
	case model.StruggleDistraction:
		return model.MethodPomodoro
	case model.StruggleProcrastination:
		return model.MethodBlitz
	case model.StruggleFatigue:
		return model.Method5217
	case model.StruggleBoredom:
		return model.MethodFlowtime
	}
	return ""
}

// HeuristicScore 基于问卷偏好的规则分数，上限 1
func HeuristicScore(pref model.UserPreference, hour int, m model.FocusMethod) float64 {
	score := heuristicBase
	if inTimeWindow(pref.PreferredStudyTime, hour) {
		score += timeWindowBonus
	}
	if pref.FocusSpan != "" && m.DurationClass() == pref.FocusSpan {
		score += focusSpanBonus
	}
	if strugglePairing(pref.Struggle) == m {
		score += strugglePairBonus
	}
	if score > 1 {
		score = 1
	}
	return score
}

// BlendWeight 历史不足 trusted 条时规则分数所占权重 1 - n/trusted
func BlendWeight(n, trusted int) float64 {
	if trusted <= 0 || n >= trusted {
		return 0
	}
	if n < 0 {
		n = 0
	}
	return 1 - float64(n)/float64(trusted)
}

func BlendScore(raw, heuristic float64, n, trusted int) float64 {
	w := BlendWeight(n, trusted)
	return (1-w)*raw + w*heuristic
}

// BaselineSamples 24 小时 x 4 种方法的合成训练集，标签为规则分数
func BaselineSamples(pref model.UserPreference) []predictor.Sample {
	samples := make([]predictor.Sample, 0, baselineHoursPerDay*len(model.FocusMethods))
	for hour := 0; hour < baselineHoursPerDay; hour++ {
		for _, m := range model.FocusMethods {
			samples = append(samples, predictor.Sample{
				Features: FeatureVector(hour, m),
				Label:    HeuristicScore(pref, hour, m),
			})
		}
	}
	return samples
}

// SessionSamples 学习记录转训练样本，未知方法跳过
func SessionSamples(sessions []model.TrainingSession) []predictor.Sample {
	samples := make([]predictor.Sample, 0, len(sessions))
	for _, s := range sessions {
		if model.MethodIndex(s.MethodUsed) < 0 {
			continue
		}
		label := 0.0
		if s.Completed {
			label = 1
		}
		samples = append(samples, predictor.Sample{
			Features: FeatureVector(s.StartedAt.Hour(), s.MethodUsed),
			Label:    label,
		})
	}
	return samples
}

// OptimalHours 至少 3 条记录的小时中完成率最高的 6 个，升序返回
func OptimalHours(sessions []model.TrainingSession) []int {
	type stat struct{ total, completed int }
	stats := make(map[int]*stat)
	for _, s := range sessions {
		h := s.StartedAt.Hour()
		st, ok := stats[h]
		if !ok {
			st = &stat{}
			stats[h] = st
		}
		st.total++
		if s.Completed {
			st.completed++
		}
	}

	type hourRate struct {
		hour int
		rate float64
	}
	var rates []hourRate
	for h, st := range stats {
		if st.total >= minSessionsPerHour {
			rates = append(rates, hourRate{h, float64(st.completed) / float64(st.total)})
		}
	}
	if len(rates) == 0 {
		return append([]int(nil), defaultOptimalHours...)
	}

	sort.Slice(rates, func(i, j int) bool {
		if rates[i].rate != rates[j].rate {
			return rates[i].rate > rates[j].rate
		}
		return rates[i].hour < rates[j].hour
	})
	if len(rates) > optimalHoursToTake {
		rates = rates[:optimalHoursToTake]
	}
	hours := make([]int, 0, len(rates))
	for _, r := range rates {
		hours = append(hours, r.hour)
	}
	sort.Ints(hours)
	return hours
}

// methodSuccessRates 每种方法的历史完成率，没有记录时为 0.5
func methodSuccessRates(sessions []model.TrainingSession) map[model.FocusMethod]float64 {
	totals := make(map[model.FocusMethod]int)
	done := make(map[model.FocusMethod]int)
	for _, s := range sessions {
		totals[s.MethodUsed]++
		if s.Completed {
			done[s.MethodUsed]++
		}
	}
	rates := make(map[model.FocusMethod]float64, len(model.FocusMethods))
	for _, m := range model.FocusMethods {
		if totals[m] == 0 {
			rates[m] = defaultMethodScore
			continue
		}
		rates[m] = float64(done[m]) / float64(totals[m])
	}
	return rates
}
