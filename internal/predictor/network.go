package predictor

import (
	"fmt"
	"math"
	"math/rand"
	"skillchain_backend/internal/util"
)

// Network 前馈全连接网络，输出层必须只有一个单元
type Network struct {
	layers  []Dense
	kernels [][]float64 // [in*units]，行优先
	biases  [][]float64
}

// NewNetwork 按 Xavier 均匀分布初始化权重
func NewNetwork(layers []Layer, rng *rand.Rand) (*Network, error) {
	dense, err := toDense(layers)
	if err != nil {
		return nil, err
	}

	n := &Network{layers: dense}
	for _, l := range dense {
		limit := math.Sqrt(6.0 / float64(l.InputDim+l.Units))
		k := make([]float64, l.InputDim*l.Units)
		for i := range k {
			k[i] = (rng.Float64()*2 - 1) * limit
		}
		n.kernels = append(n.kernels, k)
		n.biases = append(n.biases, make([]float64, l.Units))
	}
	return n, nil
}

func toDense(layers []Layer) ([]Dense, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("%w: network has no layers", util.ErrUnsupportedLayer)
	}
	dense := make([]Dense, 0, len(layers))
	for i, l := range layers {
		d, ok := l.(Dense)
		if !ok {
			return nil, fmt.Errorf("%w: layer %d is %T", util.ErrUnsupportedLayer, i, l)
		}
		if i > 0 && d.InputDim != dense[i-1].Units {
			return nil, fmt.Errorf("%w: layer %d expects %d inputs, previous layer has %d units", util.ErrUnsupportedLayer, i, d.InputDim, dense[i-1].Units)
		}
		dense = append(dense, d)
	}
	if dense[len(dense)-1].Units != 1 {
		return nil, fmt.Errorf("%w: output layer must have 1 unit, got %d", util.ErrUnsupportedLayer, dense[len(dense)-1].Units)
	}
	return dense, nil
}

// BuildNetwork 由持久化的结构与权重还原网络
func BuildNetwork(arch Architecture, weights []Tensor) (*Network, error) {
	layers, err := DecodeArchitecture(arch)
	if err != nil {
		return nil, err
	}
	dense, err := toDense(layers)
	if err != nil {
		return nil, err
	}
	n := &Network{layers: dense}
	if err := n.SetWeights(weights); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Network) InputDim() int {
	return n.layers[0].InputDim
}

func (n *Network) Architecture() Architecture {
	arch := Architecture{Layers: make([]LayerDescriptor, 0, len(n.layers))}
	for _, l := range n.layers {
		arch.Layers = append(arch.Layers, l.Descriptor())
	}
	return arch
}

// Weights 每层依次导出 kernel [in, units] 与 bias [units]
func (n *Network) Weights() []Tensor {
	out := make([]Tensor, 0, 2*len(n.layers))
	for i, l := range n.layers {
		out = append(out,
			Tensor{Data: append([]float64(nil), n.kernels[i]...), Shape: []int{l.InputDim, l.Units}},
			Tensor{Data: append([]float64(nil), n.biases[i]...), Shape: []int{l.Units}},
		)
	}
	return out
}

// SetWeights 校验形状后整体替换权重，失败时网络保持不变
func (n *Network) SetWeights(weights []Tensor) error {
	if len(weights) != 2*len(n.layers) {
		return fmt.Errorf("%w: expected %d weight tensors, got %d", util.ErrUnsupportedLayer, 2*len(n.layers), len(weights))
	}

	kernels := make([][]float64, len(n.layers))
	biases := make([][]float64, len(n.layers))
	for i, l := range n.layers {
		k, b := weights[2*i], weights[2*i+1]
		if len(k.Shape) != 2 || k.Shape[0] != l.InputDim || k.Shape[1] != l.Units || len(k.Data) != k.size() {
			return fmt.Errorf("%w: layer %d kernel shape %v does not match [%d %d]", util.ErrUnsupportedLayer, i, k.Shape, l.InputDim, l.Units)
		}
		if len(b.Shape) != 1 || b.Shape[0] != l.Units || len(b.Data) != b.size() {
			return fmt.Errorf("%w: layer %d bias shape %v does not match [%d]", util.ErrUnsupportedLayer, i, b.Shape, l.Units)
		}
		for _, v := range append(append([]float64(nil), k.Data...), b.Data...) {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: layer %d contains non-finite weights", util.ErrUnsupportedLayer, i)
			}
		}
		kernels[i] = append([]float64(nil), k.Data...)
		biases[i] = append([]float64(nil), b.Data...)
	}

	n.kernels = kernels
	n.biases = biases
	return nil
}

// Clone 深拷贝，训练在副本上进行
func (n *Network) Clone() *Network {
	c := &Network{layers: append([]Dense(nil), n.layers...)}
	for i := range n.layers {
		c.kernels = append(c.kernels, append([]float64(nil), n.kernels[i]...))
		c.biases = append(c.biases, append([]float64(nil), n.biases[i]...))
	}
	return c
}

// Predict 返回输出单元的值
func (n *Network) Predict(x []float64) float64 {
	acts, _ := n.forward(x)
	return acts[len(acts)-1][0]
}

// forward 返回每层激活值（acts[0] 为输入）与激活前的线性值
func (n *Network) forward(x []float64) (acts [][]float64, pre [][]float64) {
	acts = make([][]float64, len(n.layers)+1)
	pre = make([][]float64, len(n.layers))
	acts[0] = x
	for li, l := range n.layers {
		in := acts[li]
		z := make([]float64, l.Units)
		a := make([]float64, l.Units)
		k := n.kernels[li]
		for j := 0; j < l.Units; j++ {
			sum := n.biases[li][j]
			for i := 0; i < l.InputDim && i < len(in); i++ {
				sum += in[i] * k[i*l.Units+j]
			}
			z[j] = sum
			a[j] = activate(l.Activation, sum)
		}
		pre[li] = z
		acts[li+1] = a
	}
	return acts, pre
}

func activate(act Activation, z float64) float64 {
	switch act {
	case ActivationReLU:
		if z > 0 {
			return z
		}
		return 0
	case ActivationSigmoid:
		return 1 / (1 + math.Exp(-z))
	}
	return z
}

// derivative 以激活前的值 z 与激活后的值 a 计算导数
func derivative(act Activation, z, a float64) float64 {
	switch act {
	case ActivationReLU:
		if z > 0 {
			return 1
		}
		return 0
	case ActivationSigmoid:
		return a * (1 - a)
	}
	return 1
}

func (n *Network) paramCount() int {
	total := 0
	for _, l := range n.layers {
		total += l.InputDim*l.Units + l.Units
	}
	return total
}

// flatten 与 unflatten 的顺序与 Weights 一致
func (n *Network) flatten() []float64 {
	out := make([]float64, 0, n.paramCount())
	for i := range n.layers {
		out = append(out, n.kernels[i]...)
		out = append(out, n.biases[i]...)
	}
	return out
}

func (n *Network) unflatten(params []float64) {
	off := 0
	for i := range n.layers {
		off += copy(n.kernels[i], params[off:off+len(n.kernels[i])])
		off += copy(n.biases[i], params[off:off+len(n.biases[i])])
	}
}
