package predictor

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"skillchain_backend/internal/util"
)

const bceClamp = 1e-7

// Sample 一条训练样本，Label 在 [0, 1] 内，合成数据可使用软标签
type Sample struct {
	Features []float64
	Label    float64
}

type TrainConfig struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	Seed         int64
	HoldoutRatio float64 // 0 表示在训练集上评估准确率
}

type TrainResult struct {
	Loss     float64
	Accuracy float64
	Samples  int
	Holdout  int
}

func bceLoss(p, y float64) float64 {
	p = math.Max(bceClamp, math.Min(p, 1-bceClamp))
	return -(y*math.Log(p) + (1-y)*math.Log(1-p))
}

// Train 用小批量 Adam 训练网络，原地更新权重；同一种子结果可复现
// 每个 epoch 开始前检查 ctx，出现 NaN 时返回 TrainingError 且不修改网络
func Train(ctx context.Context, net *Network, samples []Sample, cfg TrainConfig) (TrainResult, error) {
	if len(samples) == 0 {
		return TrainResult{}, &util.TrainingError{Reason: "no samples"}
	}
	for _, s := range samples {
		if len(s.Features) != net.InputDim() {
			return TrainResult{}, &util.TrainingError{Reason: "feature width does not match network input"}
		}
	}
	if cfg.Epochs <= 0 {
		cfg.Epochs = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = len(samples)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	order := rng.Perm(len(samples))

	holdoutN := int(float64(len(samples)) * cfg.HoldoutRatio)
	if holdoutN >= len(samples) {
		holdoutN = 0
	}
	trainIdx := order[holdoutN:]
	evalIdx := order[:holdoutN]
	if holdoutN == 0 {
		evalIdx = order
	}

	work := net.Clone()
	params := work.flatten()
	opt := newAdam(cfg.LearningRate, len(params))
	grads := make([]float64, len(params))

	var epochLoss float64
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return TrainResult{}, err
		}

		rng.Shuffle(len(trainIdx), func(i, j int) { trainIdx[i], trainIdx[j] = trainIdx[j], trainIdx[i] })

		epochLoss = 0
		for start := 0; start < len(trainIdx); start += cfg.BatchSize {
			end := start + cfg.BatchSize
			if end > len(trainIdx) {
				end = len(trainIdx)
			}
			for i := range grads {
				grads[i] = 0
			}
			for _, idx := range trainIdx[start:end] {
				epochLoss += work.accumulate(samples[idx], grads)
			}
			scale := 1 / float64(end-start)
			for i := range grads {
				grads[i] *= scale
			}
			opt.update(params, grads)
			work.unflatten(params)
		}
		epochLoss /= float64(len(trainIdx))

		if math.IsNaN(epochLoss) || math.IsInf(epochLoss, 0) {
			return TrainResult{}, &util.TrainingError{Reason: "loss diverged", Err: errors.New("non-finite loss")}
		}
	}

	net.kernels, net.biases = work.kernels, work.biases

	return TrainResult{
		Loss:     epochLoss,
		Accuracy: accuracy(net, samples, evalIdx),
		Samples:  len(trainIdx),
		Holdout:  holdoutN,
	}, nil
}

// accumulate 反向传播单条样本，把梯度累加到 grads，返回该样本的损失
func (n *Network) accumulate(s Sample, grads []float64) float64 {
	acts, pre := n.forward(s.Features)
	last := len(n.layers) - 1
	p := acts[last+1][0]

	delta := []float64{0}
	if n.layers[last].Activation == ActivationSigmoid {
		delta[0] = p - s.Label
	} else {
		pc := math.Max(bceClamp, math.Min(p, 1-bceClamp))
		delta[0] = (pc - s.Label) / (pc * (1 - pc)) * derivative(n.layers[last].Activation, pre[last][0], p)
	}

	offsets := n.offsets()
	for li := last; li >= 0; li-- {
		l := n.layers[li]
		in := acts[li]
		kOff := offsets[li]
		bOff := kOff + l.InputDim*l.Units
		for j := 0; j < l.Units; j++ {
			for i := 0; i < l.InputDim; i++ {
				grads[kOff+i*l.Units+j] += in[i] * delta[j]
			}
			grads[bOff+j] += delta[j]
		}
		if li == 0 {
			break
		}

		prev := n.layers[li-1]
		next := make([]float64, l.InputDim)
		for i := 0; i < l.InputDim; i++ {
			var sum float64
			for j := 0; j < l.Units; j++ {
				sum += n.kernels[li][i*l.Units+j] * delta[j]
			}
			next[i] = sum * derivative(prev.Activation, pre[li-1][i], acts[li][i])
		}
		delta = next
	}

	return bceLoss(p, s.Label)
}

func (n *Network) offsets() []int {
	out := make([]int, len(n.layers))
	off := 0
	for i, l := range n.layers {
		out[i] = off
		off += l.InputDim*l.Units + l.Units
	}
	return out
}

func accuracy(n *Network, samples []Sample, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	correct := 0
	for _, i := range idx {
		// 软标签按 0.5 二值化
		if (n.Predict(samples[i].Features) >= 0.5) == (samples[i].Label >= 0.5) {
			correct++
		}
	}
	return float64(correct) / float64(len(idx))
}

// Accuracy 全部样本上的准确率
func Accuracy(n *Network, samples []Sample) float64 {
	idx := make([]int, len(samples))
	for i := range idx {
		idx[i] = i
	}
	return accuracy(n, samples, idx)
}

// EvaluateLoss 平均 BCE 损失
func EvaluateLoss(n *Network, samples []Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var total float64
	for _, s := range samples {
		total += bceLoss(n.Predict(s.Features), s.Label)
	}
	return total / float64(len(samples))
}
