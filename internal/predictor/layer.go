// Package predictor 实现调度模型使用的小型全连接网络：层描述、前向推理、权重编解码与训练
package predictor

import (
	"fmt"
	"skillchain_backend/internal/util"
)

type Activation string

const (
	ActivationReLU    Activation = "relu"
	ActivationSigmoid Activation = "sigmoid"
	ActivationLinear  Activation = "linear"
)

func (a Activation) valid() bool {
	switch a {
	case ActivationReLU, ActivationSigmoid, ActivationLinear:
		return true
	}
	return false
}

const KindDense = "dense"

// LayerDescriptor 模型记录中 architecture.layers 的单项
type LayerDescriptor struct {
	Kind       string `json:"kind"`
	Units      int    `json:"units"`
	InputShape []int  `json:"input_shape,omitempty"`
	Activation string `json:"activation"`
}

type Architecture struct {
	Layers []LayerDescriptor `json:"layers"`
}

// Tensor 扁平存储的权重，按行优先
type Tensor struct {
	Data  []float64 `json:"data"`
	Shape []int     `json:"shape"`
}

func (t Tensor) size() int {
	if len(t.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Layer 封闭的层类型集合，目前只有 Dense
type Layer interface {
	Descriptor() LayerDescriptor
	isLayer()
}

type Dense struct {
	Units      int
	InputDim   int
	Activation Activation
}

func (Dense) isLayer() {}

func (d Dense) Descriptor() LayerDescriptor {
	return LayerDescriptor{
		Kind:       KindDense,
		Units:      d.Units,
		InputShape: []int{d.InputDim},
		Activation: string(d.Activation),
	}
}

// DecodeArchitecture 把持久化的层描述解码为 Layer，未知类型、激活函数或形状直接拒绝
func DecodeArchitecture(arch Architecture) ([]Layer, error) {
	if len(arch.Layers) == 0 {
		return nil, fmt.Errorf("%w: architecture has no layers", util.ErrUnsupportedLayer)
	}

	layers := make([]Layer, 0, len(arch.Layers))
	inputDim := 0
	for i, desc := range arch.Layers {
		if desc.Kind != KindDense {
			return nil, fmt.Errorf("%w: layer %d has kind %q", util.ErrUnsupportedLayer, i, desc.Kind)
		}
		act := Activation(desc.Activation)
		if !act.valid() {
			return nil, fmt.Errorf("%w: layer %d has activation %q", util.ErrUnsupportedLayer, i, desc.Activation)
		}
		if desc.Units <= 0 {
			return nil, fmt.Errorf("%w: layer %d has %d units", util.ErrUnsupportedLayer, i, desc.Units)
		}

		switch {
		case i == 0:
			if len(desc.InputShape) != 1 || desc.InputShape[0] <= 0 {
				return nil, fmt.Errorf("%w: first layer needs a one-dimensional input_shape, got %v", util.ErrUnsupportedLayer, desc.InputShape)
			}
			inputDim = desc.InputShape[0]
		case len(desc.InputShape) > 0:
			if len(desc.InputShape) != 1 || desc.InputShape[0] != inputDim {
				return nil, fmt.Errorf("%w: layer %d input_shape %v does not match previous units %d", util.ErrUnsupportedLayer, i, desc.InputShape, inputDim)
			}
		}

		layers = append(layers, Dense{Units: desc.Units, InputDim: inputDim, Activation: act})
		inputDim = desc.Units
	}
	return layers, nil
}

// SchedulingTopology 调度模型的固定结构：[hour, method] -> 8 relu -> 1 sigmoid
func SchedulingTopology() []Layer {
	return []Layer{
		Dense{Units: 8, InputDim: FeatureDim, Activation: ActivationReLU},
		Dense{Units: 1, InputDim: 8, Activation: ActivationSigmoid},
	}
}

// FeatureDim 调度模型输入维度
const FeatureDim = 2
