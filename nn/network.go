package nn

import (
	"math/rand"

	"github.com/pkg/errors"
)

// Projector computes the dense stage for a whole batch of inputs, typically on
// an accelerator. Results must match DenseLayer.Forward for each input.
type Projector interface {
	ProjectDense(layer *DenseLayer, inputs [][]float64) ([][]float64, error)
}

// Network is the hybrid model: a dense layer mapping input to hidden size
// followed by an LSTM layer whose hidden state is the network output.
type Network struct {
	InputSize  int
	HiddenSize int
	OutputSize int

	Dense *DenseLayer
	LSTM  *LSTMLayer

	hidden     []float64
	lastOutput []float64
	hasForward bool
}

type networkOptions struct {
	rng        *rand.Rand
	activation ActivationType
}

// Option configures NewNetwork.
type Option func(*networkOptions)

// WithSeed seeds the weight initialization for reproducible networks.
func WithSeed(seed int64) Option {
	return func(o *networkOptions) { o.rng = NewRand(seed) }
}

// WithRand uses an existing random source for weight initialization.
func WithRand(rng *rand.Rand) Option {
	return func(o *networkOptions) { o.rng = rng }
}

// WithDenseActivation sets the dense layer activation (default sigmoid).
func WithDenseActivation(act ActivationType) Option {
	return func(o *networkOptions) { o.activation = act }
}

// NewNetwork builds a Dense(input→hidden) → LSTM(hidden→hidden) network.
func NewNetwork(inputSize, hiddenSize, outputSize int, opts ...Option) (*Network, error) {
	if inputSize <= 0 || hiddenSize <= 0 || outputSize <= 0 {
		return nil, errors.Wrapf(ErrInvalidDimensions, "network %d/%d/%d", inputSize, hiddenSize, outputSize)
	}

	o := networkOptions{activation: ActivationSigmoid}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rng == nil {
		o.rng = NewRand(0)
	}

	dense, err := NewDenseLayer(hiddenSize, inputSize, o.activation, o.rng)
	if err != nil {
		return nil, err
	}
	lstm, err := NewLSTMLayer(hiddenSize, hiddenSize, o.rng)
	if err != nil {
		return nil, err
	}

	return &Network{
		InputSize:  inputSize,
		HiddenSize: hiddenSize,
		OutputSize: outputSize,
		Dense:      dense,
		LSTM:       lstm,
		hidden:     make([]float64, hiddenSize),
	}, nil
}

// Forward runs one step and advances the recurrent state. The output has
// OutputSize values: the new hidden state truncated or zero-padded.
func (n *Network) Forward(input []float64) ([]float64, error) {
	h, err := n.Dense.Forward(input)
	if err != nil {
		return nil, errors.Wrap(err, "network forward")
	}
	if _, err := n.LSTM.Forward(h, n.hidden); err != nil {
		return nil, errors.Wrap(err, "network forward")
	}

	n.lastOutput = fitLength(n.hidden, n.OutputSize)
	n.hasForward = true

	out := make([]float64, n.OutputSize)
	copy(out, n.lastOutput)
	return out, nil
}

// Backward computes the MSE loss of the most recent Forward against target
// and leaves gradients on every parameter. Parameters are not modified.
func (n *Network) Backward(target []float64) (float64, error) {
	if !n.hasForward {
		return 0, errors.Wrap(ErrNoForward, "network backward")
	}
	if err := checkSize("network target", len(target), n.OutputSize); err != nil {
		return 0, err
	}

	loss := MSELoss(n.lastOutput, target)

	// Padded output positions are constant and carry no gradient.
	gradHidden := make([]float64, n.HiddenSize)
	copy(gradHidden, MSEGradient(n.lastOutput, target))

	gradDense, err := n.LSTM.Backward(gradHidden)
	if err != nil {
		return 0, errors.Wrap(err, "network backward")
	}
	if _, err := n.Dense.Backward(gradDense); err != nil {
		return 0, errors.Wrap(err, "network backward")
	}
	return loss, nil
}

// Predict evaluates one step from the current recurrent state without
// changing any state or cache.
func (n *Network) Predict(input []float64) ([]float64, error) {
	if err := checkSize("network input", len(input), n.InputSize); err != nil {
		return nil, err
	}
	_, h := n.Dense.compute(input)
	out, err := n.LSTM.Peek(h)
	if err != nil {
		return nil, err
	}
	return fitLength(out, n.OutputSize), nil
}

// PredictBatch runs Predict for every input. If proj is non-nil it computes the
// dense stage for the whole batch.
func (n *Network) PredictBatch(inputs [][]float64, proj Projector) ([][]float64, error) {
	if proj == nil {
		outputs := make([][]float64, len(inputs))
		for i, in := range inputs {
			out, err := n.Predict(in)
			if err != nil {
				return nil, errors.Wrapf(err, "batch item %d", i)
			}
			outputs[i] = out
		}
		return outputs, nil
	}

	for i, in := range inputs {
		if err := checkSize("network input", len(in), n.InputSize); err != nil {
			return nil, errors.Wrapf(err, "batch item %d", i)
		}
	}
	hidden, err := proj.ProjectDense(n.Dense, inputs)
	if err != nil {
		return nil, errors.Wrap(err, "dense projection")
	}

	outputs := make([][]float64, len(inputs))
	for i, h := range hidden {
		out, err := n.LSTM.Peek(h)
		if err != nil {
			return nil, errors.Wrapf(err, "batch item %d", i)
		}
		outputs[i] = fitLength(out, n.OutputSize)
	}
	return outputs, nil
}

// ResetState zeroes the recurrent state and forgets the last forward pass.
func (n *Network) ResetState() {
	for i := range n.hidden {
		n.hidden[i] = 0
	}
	n.LSTM.ResetState()
	n.lastOutput = nil
	n.hasForward = false
}

// State returns copies of the recurrent hidden and cell state.
func (n *Network) State() (hidden, cell []float64) {
	return n.LSTM.State()
}

// SetState restores the recurrent hidden and cell state.
func (n *Network) SetState(hidden, cell []float64) error {
	if err := n.LSTM.SetState(hidden, cell); err != nil {
		return err
	}
	copy(n.hidden, hidden)
	return nil
}

// Params lists every parameter tensor: dense first, then the LSTM gates.
func (n *Network) Params() []*Param {
	return append(n.Dense.Params(), n.LSTM.Params()...)
}

// Param returns the parameter with the given name, or nil.
func (n *Network) Param(name string) *Param {
	for _, p := range n.Params() {
		if p.Name == name {
			return p
		}
	}
	return nil
}
