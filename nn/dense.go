package nn

import (
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// denseInitRange bounds the uniform initialization of dense weights and biases.
const denseInitRange = 0.1

// DenseLayer is a fully connected layer: y = act(W·x + b).
// Weights are stored row-major as [NumOutputs][NumInputs].
type DenseLayer struct {
	NumOutputs int
	NumInputs  int
	Activation ActivationType

	Weights []float64
	Bias    []float64

	WeightGrad []float64
	BiasGrad   []float64

	lastInput  []float64
	lastPre    []float64
	lastOutput []float64
	hasForward bool
}

// NewDenseLayer initializes a dense layer with small uniform weights and biases.
func NewDenseLayer(outputs, inputs int, activation ActivationType, rng *rand.Rand) (*DenseLayer, error) {
	if outputs <= 0 || inputs <= 0 {
		return nil, errors.Wrapf(ErrInvalidDimensions, "dense layer %dx%d", outputs, inputs)
	}
	if rng == nil {
		rng = NewRand(0)
	}

	l := &DenseLayer{
		NumOutputs: outputs,
		NumInputs:  inputs,
		Activation: activation,
		Weights:    make([]float64, outputs*inputs),
		Bias:       make([]float64, outputs),
		WeightGrad: make([]float64, outputs*inputs),
		BiasGrad:   make([]float64, outputs),
		lastInput:  make([]float64, inputs),
		lastPre:    make([]float64, outputs),
		lastOutput: make([]float64, outputs),
	}
	uniformInit(l.Weights, denseInitRange, rng)
	uniformInit(l.Bias, denseInitRange, rng)
	return l, nil
}

// compute runs the layer without touching any cache and returns (pre, post).
func (l *DenseLayer) compute(input []float64) ([]float64, []float64) {
	w := mat.NewDense(l.NumOutputs, l.NumInputs, l.Weights)
	x := mat.NewVecDense(l.NumInputs, input)

	pre := make([]float64, l.NumOutputs)
	z := mat.NewVecDense(l.NumOutputs, pre)
	z.MulVec(w, x)
	floats.Add(pre, l.Bias)

	var post []float64
	if l.Activation == ActivationSoftmax {
		post = Softmax(pre)
	} else {
		post = make([]float64, l.NumOutputs)
		for i, v := range pre {
			post[i] = activate(v, l.Activation)
		}
	}
	return pre, post
}

// Forward computes the layer output and caches what Backward needs.
func (l *DenseLayer) Forward(input []float64) ([]float64, error) {
	if err := checkSize("dense forward input", len(input), l.NumInputs); err != nil {
		return nil, err
	}

	pre, post := l.compute(input)
	copy(l.lastInput, input)
	copy(l.lastPre, pre)
	copy(l.lastOutput, post)
	l.hasForward = true

	return post, nil
}

// Backward takes dL/dy for the most recent Forward, stores the weight and bias
// gradients on the layer and returns dL/dx. Parameters are not modified.
func (l *DenseLayer) Backward(gradOutput []float64) ([]float64, error) {
	if !l.hasForward {
		return nil, errors.Wrap(ErrNoForward, "dense backward")
	}
	if err := checkSize("dense backward gradient", len(gradOutput), l.NumOutputs); err != nil {
		return nil, err
	}

	// Gradient w.r.t. the pre-activation
	var delta []float64
	if l.Activation == ActivationSoftmax {
		delta = SoftmaxBackward(l.lastOutput, gradOutput)
	} else {
		delta = make([]float64, l.NumOutputs)
		for o, g := range gradOutput {
			delta[o] = g * derivativeFromOutput(l.lastOutput[o], l.Activation)
		}
	}

	copy(l.BiasGrad, delta)

	d := mat.NewVecDense(l.NumOutputs, delta)
	x := mat.NewVecDense(l.NumInputs, l.lastInput)
	mat.NewDense(l.NumOutputs, l.NumInputs, l.WeightGrad).Outer(1, d, x)

	w := mat.NewDense(l.NumOutputs, l.NumInputs, l.Weights)
	gradInput := make([]float64, l.NumInputs)
	mat.NewVecDense(l.NumInputs, gradInput).MulVec(w.T(), d)

	return gradInput, nil
}

// Params exposes the weight and bias tensors to an optimizer.
func (l *DenseLayer) Params() []*Param {
	return []*Param{
		{Name: "dense.weights", Value: l.Weights, Grad: l.WeightGrad},
		{Name: "dense.bias", Value: l.Bias, Grad: l.BiasGrad},
	}
}

// LastOutput returns a copy of the cached post-activation output.
func (l *DenseLayer) LastOutput() []float64 {
	out := make([]float64, len(l.lastOutput))
	copy(out, l.lastOutput)
	return out
}
