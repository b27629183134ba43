package service

import (
	"math"
	"skillchain_backend/internal/model"
	"skillchain_backend/internal/predictor"
)

// 基线拟合时标签截断范围，避免 logit 无穷大
const (
	baselineLabelFloor = 0.01
	baselineLabelCeil  = 0.99
)

func logit(p float64) float64 {
	p = math.Max(baselineLabelFloor, math.Min(p, baselineLabelCeil))
	return math.Log(p / (1 - p))
}

// fitBaseline 直接求出基线网络的权重：
// 隐藏层 0-3 在整点小时上组成时段内为 1、时段外为 0 的梯形，
// 隐藏层 4-6 在方法编号 0..3 上组成分段线性函数，输出层把两者加到 logit 上。
// 时段外的预测值等于规则分数，时段内统一加上平均的 logit 增量。
func fitBaseline(pref model.UserPreference) (*predictor.Network, error) {
	topology := predictor.SchedulingTopology()
	hidden := topology[0].(predictor.Dense).Units

	methods := len(model.FocusMethods)
	outside := make([]float64, methods)
	var lift float64
	from, to, hasWindow := timeWindow(pref.PreferredStudyTime)
	outHour := 0
	if inTimeWindow(pref.PreferredStudyTime, outHour) {
		outHour = to + 1
	}
	for i, m := range model.FocusMethods {
		outside[i] = logit(HeuristicScore(pref, outHour, m))
		if hasWindow {
			lift += logit(HeuristicScore(pref, from, m)) - outside[i]
		}
	}
	lift /= float64(methods)

	kernel0 := make([]float64, predictor.FeatureDim*hidden)
	bias0 := make([]float64, hidden)
	kernel1 := make([]float64, hidden)

	// 特征 0 是 hour/23，乘 23 还原小时
	if hasWindow {
		edges := []float64{float64(from - 1), float64(from), float64(to), float64(to + 1)}
		signs := []float64{1, -1, -1, 1}
		for j, edge := range edges {
			kernel0[0*hidden+j] = 23
			bias0[j] = -edge
			kernel1[j] = lift * signs[j]
		}
	}

	// 特征 1 是方法编号，relu(x-k) 的斜率变化拟合各方法的 logit
	slope := func(k int) float64 { return outside[k+1] - outside[k] }
	for k := 0; k < methods-1; k++ {
		j := 4 + k
		kernel0[1*hidden+j] = 1
		bias0[j] = -float64(k)
		kernel1[j] = slope(k)
		if k > 0 {
			kernel1[j] -= slope(k - 1)
		}
	}

	arch := predictor.Architecture{}
	for _, l := range topology {
		arch.Layers = append(arch.Layers, l.Descriptor())
	}
	return predictor.BuildNetwork(arch, []predictor.Tensor{
		{Data: kernel0, Shape: []int{predictor.FeatureDim, hidden}},
		{Data: bias0, Shape: []int{hidden}},
		{Data: kernel1, Shape: []int{hidden, 1}},
		{Data: []float64{outside[0]}, Shape: []int{1}},
	})
}

// keepsWindowOrder 每种方法在偏好时段内的最低分都高于时段外的最高分
func keepsWindowOrder(net *predictor.Network, pref model.UserPreference) bool {
	from, to, ok := timeWindow(pref.PreferredStudyTime)
	if !ok {
		return true
	}
	for _, m := range model.FocusMethods {
		minIn, maxOut := math.Inf(1), math.Inf(-1)
		for hour := 0; hour < baselineHoursPerDay; hour++ {
			p := net.Predict(FeatureVector(hour, m))
			if hour >= from && hour <= to {
				minIn = math.Min(minIn, p)
			} else {
				maxOut = math.Max(maxOut, p)
			}
		}
		if minIn <= maxOut {
			return false
		}
	}
	return true
}
