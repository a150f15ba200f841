package nn

import (
	"math"
	"strings"
)

// ActivationType defines the activation function used by a dense layer
type ActivationType int

const (
	ActivationSigmoid ActivationType = 0 // 1 / (1 + exp(-v))
	ActivationTanh    ActivationType = 1 // tanh(v)
	ActivationReLU    ActivationType = 2 // max(0, v)
	ActivationSoftmax ActivationType = 3 // normalized exponentials over the whole layer
	ActivationLinear  ActivationType = 4 // v
)

func (a ActivationType) String() string {
	switch a {
	case ActivationSigmoid:
		return "sigmoid"
	case ActivationTanh:
		return "tanh"
	case ActivationReLU:
		return "relu"
	case ActivationSoftmax:
		return "softmax"
	case ActivationLinear:
		return "linear"
	default:
		return "unknown"
	}
}

// ParseActivation converts a name such as "tanh" into an ActivationType.
// Unknown names map to ActivationLinear.
func ParseActivation(name string) ActivationType {
	switch strings.ToLower(name) {
	case "sigmoid":
		return ActivationSigmoid
	case "tanh":
		return ActivationTanh
	case "relu":
		return ActivationReLU
	case "softmax":
		return ActivationSoftmax
	default:
		return ActivationLinear
	}
}

// Sigmoid is the logistic function.
func Sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// SigmoidDerivative is d/dx sigmoid(x).
func SigmoidDerivative(x float64) float64 {
	s := Sigmoid(x)
	return s * (1.0 - s)
}

// Tanh is the hyperbolic tangent.
func Tanh(x float64) float64 {
	return math.Tanh(x)
}

// TanhDerivative is d/dx tanh(x).
func TanhDerivative(x float64) float64 {
	t := math.Tanh(x)
	return 1.0 - t*t
}

// ReLU returns max(0, x).
func ReLU(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

// ReLUDerivative is 1 for x > 0 and 0 otherwise.
func ReLUDerivative(x float64) float64 {
	if x > 0 {
		return 1
	}
	return 0
}

// Softmax returns a new slice holding the numerically stable softmax of v.
func Softmax(v []float64) []float64 {
	out := make([]float64, len(v))
	if len(v) == 0 {
		return out
	}
	maxVal := v[0]
	for _, x := range v[1:] {
		if x > maxVal {
			maxVal = x
		}
	}
	sum := 0.0
	for i, x := range v {
		out[i] = math.Exp(x - maxVal)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// SoftmaxBackward returns J^T·grad where J is the softmax Jacobian at output y:
// dx_i = y_i * (grad_i - sum_j grad_j*y_j).
func SoftmaxBackward(y, grad []float64) []float64 {
	dot := 0.0
	for i := range y {
		dot += grad[i] * y[i]
	}
	out := make([]float64, len(y))
	for i := range y {
		out[i] = y[i] * (grad[i] - dot)
	}
	return out
}

// activate applies an elementwise activation. Softmax is handled by the caller.
func activate(v float64, activation ActivationType) float64 {
	switch activation {
	case ActivationSigmoid:
		return Sigmoid(v)
	case ActivationTanh:
		return math.Tanh(v)
	case ActivationReLU:
		return ReLU(v)
	default:
		return v
	}
}

// derivativeFromOutput computes the activation derivative from the POST-activation value y.
func derivativeFromOutput(y float64, activation ActivationType) float64 {
	switch activation {
	case ActivationSigmoid:
		return y * (1.0 - y)
	case ActivationTanh:
		return 1.0 - y*y
	case ActivationReLU:
		if y > 0 {
			return 1.0
		}
		return 0
	default:
		return 1.0
	}
}
