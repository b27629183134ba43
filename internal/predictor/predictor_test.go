package predictor

import (
	"context"
	"errors"
	"math/rand"
	"skillchain_backend/internal/util"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func separableSamples(n int, rng *rand.Rand) []Sample {
	out := make([]Sample, 0, n)
	for i := 0; i < n; i++ {
		var hour float64
		var label float64
		if i%2 == 0 {
			hour = rng.Float64() * 0.35
		} else {
			hour = 0.65 + rng.Float64()*0.35
			label = 1
		}
		method := float64(rng.Intn(4))
		out = append(out, Sample{Features: []float64{hour, method}, Label: label})
	}
	return out
}

func TestDecodeArchitecture(t *testing.T) {
	tests := []struct {
		name    string
		arch    Architecture
		wantErr bool
	}{
		{
			name: "scheduling topology",
			arch: Architecture{Layers: []LayerDescriptor{
				{Kind: "dense", Units: 8, InputShape: []int{2}, Activation: "relu"},
				{Kind: "dense", Units: 1, Activation: "sigmoid"},
			}},
		},
		{
			name:    "empty",
			arch:    Architecture{},
			wantErr: true,
		},
		{
			name: "unknown kind",
			arch: Architecture{Layers: []LayerDescriptor{
				{Kind: "conv2d", Units: 8, InputShape: []int{2}, Activation: "relu"},
			}},
			wantErr: true,
		},
		{
			name: "unknown activation",
			arch: Architecture{Layers: []LayerDescriptor{
				{Kind: "dense", Units: 8, InputShape: []int{2}, Activation: "softmax"},
			}},
			wantErr: true,
		},
		{
			name: "missing input shape",
			arch: Architecture{Layers: []LayerDescriptor{
				{Kind: "dense", Units: 1, Activation: "sigmoid"},
			}},
			wantErr: true,
		},
		{
			name: "inconsistent input shape",
			arch: Architecture{Layers: []LayerDescriptor{
				{Kind: "dense", Units: 8, InputShape: []int{2}, Activation: "relu"},
				{Kind: "dense", Units: 1, InputShape: []int{4}, Activation: "sigmoid"},
			}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			layers, err := DecodeArchitecture(tt.arch)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, util.ErrUnsupportedLayer))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, SchedulingTopology(), layers)
		})
	}
}

func TestBuildNetworkRestoresPredictions(t *testing.T) {
	net, err := NewNetwork(SchedulingTopology(), rand.New(rand.NewSource(7)))
	require.NoError(t, err)

	restored, err := BuildNetwork(net.Architecture(), net.Weights())
	require.NoError(t, err)

	for _, x := range [][]float64{{0, 0}, {0.5, 1}, {1, 3}} {
		assert.InDelta(t, net.Predict(x), restored.Predict(x), 1e-12)
	}
}

func TestSetWeightsRejectsShapeMismatch(t *testing.T) {
	net, err := NewNetwork(SchedulingTopology(), rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	before := net.Predict([]float64{0.3, 1})

	weights := net.Weights()
	weights[0].Shape = []int{3, 8}
	err = net.SetWeights(weights)
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrUnsupportedLayer)

	err = net.SetWeights(weights[:2])
	assert.ErrorIs(t, err, util.ErrUnsupportedLayer)

	assert.Equal(t, before, net.Predict([]float64{0.3, 1}))
}

func TestNewNetworkRequiresSingleOutput(t *testing.T) {
	_, err := NewNetwork([]Layer{Dense{Units: 2, InputDim: 2, Activation: ActivationSigmoid}}, rand.New(rand.NewSource(1)))
	assert.ErrorIs(t, err, util.ErrUnsupportedLayer)
}

func TestPredictIsProbability(t *testing.T) {
	net, err := NewNetwork(SchedulingTopology(), rand.New(rand.NewSource(3)))
	require.NoError(t, err)

	for h := 0; h < 24; h++ {
		for m := 0; m < 4; m++ {
			p := net.Predict([]float64{float64(h) / 23, float64(m)})
			assert.True(t, p > 0 && p < 1, "prediction %v out of range", p)
		}
	}
}

func TestTrainLearnsSeparableData(t *testing.T) {
	samples := separableSamples(120, rand.New(rand.NewSource(11)))
	net, err := NewNetwork(SchedulingTopology(), rand.New(rand.NewSource(42)))
	require.NoError(t, err)

	initial := EvaluateLoss(net, samples)
	res, err := Train(context.Background(), net, samples, TrainConfig{
		Epochs:       200,
		BatchSize:    16,
		LearningRate: 0.05,
		Seed:         42,
		HoldoutRatio: 0.2,
	})
	require.NoError(t, err)

	assert.Equal(t, 24, res.Holdout)
	assert.Equal(t, 96, res.Samples)
	assert.Less(t, EvaluateLoss(net, samples), initial)
	assert.GreaterOrEqual(t, res.Accuracy, 0.75)
}

func TestTrainIsDeterministic(t *testing.T) {
	samples := separableSamples(40, rand.New(rand.NewSource(5)))
	cfg := TrainConfig{Epochs: 20, BatchSize: 8, LearningRate: 0.01, Seed: 42, HoldoutRatio: 0.2}

	run := func() []Tensor {
		net, err := NewNetwork(SchedulingTopology(), rand.New(rand.NewSource(42)))
		require.NoError(t, err)
		_, err = Train(context.Background(), net, samples, cfg)
		require.NoError(t, err)
		return net.Weights()
	}

	assert.Equal(t, run(), run())
}

func TestTrainHonoursCancellation(t *testing.T) {
	samples := separableSamples(20, rand.New(rand.NewSource(5)))
	net, err := NewNetwork(SchedulingTopology(), rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	before := net.Weights()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = Train(ctx, net, samples, TrainConfig{Epochs: 5, BatchSize: 4, LearningRate: 0.01, Seed: 1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, before, net.Weights())
}

func TestTrainRejectsBadInput(t *testing.T) {
	net, err := NewNetwork(SchedulingTopology(), rand.New(rand.NewSource(42)))
	require.NoError(t, err)

	var trainErr *util.TrainingError
	_, err = Train(context.Background(), net, nil, TrainConfig{Epochs: 1})
	assert.ErrorAs(t, err, &trainErr)

	_, err = Train(context.Background(), net, []Sample{{Features: []float64{1}, Label: 1}}, TrainConfig{Epochs: 1})
	assert.ErrorAs(t, err, &trainErr)
}
