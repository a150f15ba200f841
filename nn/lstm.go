package nn

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// LSTMGate holds the parameters of one gate: W maps the input (hidden×input),
// U maps the previous hidden state (hidden×hidden), B is the bias.
type LSTMGate struct {
	W []float64
	U []float64
	B []float64

	WGrad []float64
	UGrad []float64
	BGrad []float64
}

func newLSTMGate(inputSize, hiddenSize int, limit, bias float64, rng *rand.Rand) LSTMGate {
	g := LSTMGate{
		W:     make([]float64, hiddenSize*inputSize),
		U:     make([]float64, hiddenSize*hiddenSize),
		B:     make([]float64, hiddenSize),
		WGrad: make([]float64, hiddenSize*inputSize),
		UGrad: make([]float64, hiddenSize*hiddenSize),
		BGrad: make([]float64, hiddenSize),
	}
	uniformInit(g.W, limit, rng)
	uniformInit(g.U, limit, rng)
	for i := range g.B {
		g.B[i] = bias
	}
	return g
}

// preActivation computes B[j] + W[j]·x + U[j]·h for every hidden unit j.
func (g *LSTMGate) preActivation(x, h []float64) []float64 {
	in, hid := len(x), len(h)
	out := make([]float64, hid)
	for j := range out {
		out[j] = g.B[j] + floats.Dot(g.W[j*in:(j+1)*in], x) + floats.Dot(g.U[j*hid:(j+1)*hid], h)
	}
	return out
}

// lstmStep is everything one time step produces, kept for the backward pass.
type lstmStep struct {
	x, hPrev, cPrev []float64
	f, i, o, g      []float64
	c, tanhC, h     []float64
}

// LSTMLayer is a single LSTM cell whose hidden and cell state persist across
// Forward calls, modelling one continuous sequence.
type LSTMLayer struct {
	InputSize  int
	HiddenSize int

	Forget LSTMGate
	Input  LSTMGate
	Output LSTMGate
	Cell   LSTMGate // candidate

	// Gradients w.r.t. the state that entered the most recent step
	PrevHiddenGrad []float64
	PrevCellGrad   []float64

	hidden []float64
	cell   []float64

	last       lstmStep
	hasForward bool
}

// NewLSTMLayer creates an LSTM layer with Xavier-scaled uniform weights, a
// forget-gate bias of 1.0 and zero state.
func NewLSTMLayer(inputSize, hiddenSize int, rng *rand.Rand) (*LSTMLayer, error) {
	if inputSize <= 0 || hiddenSize <= 0 {
		return nil, errors.Wrapf(ErrInvalidDimensions, "lstm layer in=%d hidden=%d", inputSize, hiddenSize)
	}
	if rng == nil {
		rng = NewRand(0)
	}

	limit := math.Sqrt(2.0 / float64(inputSize+hiddenSize))
	return &LSTMLayer{
		InputSize:      inputSize,
		HiddenSize:     hiddenSize,
		Forget:         newLSTMGate(inputSize, hiddenSize, limit, 1.0, rng),
		Input:          newLSTMGate(inputSize, hiddenSize, limit, 0, rng),
		Output:         newLSTMGate(inputSize, hiddenSize, limit, 0, rng),
		Cell:           newLSTMGate(inputSize, hiddenSize, limit, 0, rng),
		PrevHiddenGrad: make([]float64, hiddenSize),
		PrevCellGrad:   make([]float64, hiddenSize),
		hidden:         make([]float64, hiddenSize),
		cell:           make([]float64, hiddenSize),
	}, nil
}

// step evaluates one cell update. It reads but never writes layer state.
func (l *LSTMLayer) step(x, hPrev, cPrev []float64) lstmStep {
	s := lstmStep{
		x:     append([]float64(nil), x...),
		hPrev: append([]float64(nil), hPrev...),
		cPrev: append([]float64(nil), cPrev...),
		f:     l.Forget.preActivation(x, hPrev),
		i:     l.Input.preActivation(x, hPrev),
		o:     l.Output.preActivation(x, hPrev),
		g:     l.Cell.preActivation(x, hPrev),
		c:     make([]float64, l.HiddenSize),
		tanhC: make([]float64, l.HiddenSize),
		h:     make([]float64, l.HiddenSize),
	}
	for j := 0; j < l.HiddenSize; j++ {
		s.f[j] = Sigmoid(s.f[j])
		s.i[j] = Sigmoid(s.i[j])
		s.o[j] = Sigmoid(s.o[j])
		s.g[j] = math.Tanh(s.g[j])

		s.c[j] = s.f[j]*cPrev[j] + s.i[j]*s.g[j]
		s.tanhC[j] = math.Tanh(s.c[j])
		s.h[j] = s.o[j] * s.tanhC[j]
	}
	return s
}

// Forward advances the cell by one step. hidden is the caller's recurrent
// buffer: it is read as the previous hidden state and overwritten with the new
// one. The returned output is a copy of the new hidden state.
func (l *LSTMLayer) Forward(input, hidden []float64) ([]float64, error) {
	if err := checkSize("lstm forward input", len(input), l.InputSize); err != nil {
		return nil, err
	}
	if err := checkSize("lstm hidden buffer", len(hidden), l.HiddenSize); err != nil {
		return nil, err
	}

	s := l.step(input, hidden, l.cell)
	copy(l.cell, s.c)
	copy(l.hidden, s.h)
	copy(hidden, s.h)
	l.last = s
	l.hasForward = true

	out := make([]float64, l.HiddenSize)
	copy(out, s.h)
	return out, nil
}

// Peek evaluates one step from the current state without changing it.
func (l *LSTMLayer) Peek(input []float64) ([]float64, error) {
	if err := checkSize("lstm peek input", len(input), l.InputSize); err != nil {
		return nil, err
	}
	return l.step(input, l.hidden, l.cell).h, nil
}

// Backward back-propagates dL/dh of the most recent step through all four
// gates and the cell path. It overwrites every parameter gradient, fills
// PrevHiddenGrad and PrevCellGrad, and returns dL/dx.
func (l *LSTMLayer) Backward(gradOutput []float64) ([]float64, error) {
	if !l.hasForward {
		return nil, errors.Wrap(ErrNoForward, "lstm backward")
	}
	if err := checkSize("lstm backward gradient", len(gradOutput), l.HiddenSize); err != nil {
		return nil, err
	}

	s := &l.last
	in, hid := l.InputSize, l.HiddenSize

	gradInput := make([]float64, in)
	for k := range l.PrevHiddenGrad {
		l.PrevHiddenGrad[k] = 0
	}

	gates := []*LSTMGate{&l.Forget, &l.Input, &l.Output, &l.Cell}
	pre := make([]float64, len(gates))

	for j := 0; j < hid; j++ {
		dh := gradOutput[j]
		dc := dh * s.o[j] * (1 - s.tanhC[j]*s.tanhC[j])

		// Pre-activation error terms in gates order: forget, input, output, candidate
		pre[0] = dc * s.cPrev[j] * s.f[j] * (1 - s.f[j])
		pre[1] = dc * s.g[j] * s.i[j] * (1 - s.i[j])
		pre[2] = dh * s.tanhC[j] * s.o[j] * (1 - s.o[j])
		pre[3] = dc * s.i[j] * (1 - s.g[j]*s.g[j])

		l.PrevCellGrad[j] = dc * s.f[j]

		for gi, g := range gates {
			d := pre[gi]
			g.BGrad[j] = d

			wRow := g.W[j*in : (j+1)*in]
			wGrad := g.WGrad[j*in : (j+1)*in]
			for k := 0; k < in; k++ {
				wGrad[k] = d * s.x[k]
			}
			floats.AddScaled(gradInput, d, wRow)

			uRow := g.U[j*hid : (j+1)*hid]
			uGrad := g.UGrad[j*hid : (j+1)*hid]
			for k := 0; k < hid; k++ {
				uGrad[k] = d * s.hPrev[k]
			}
			floats.AddScaled(l.PrevHiddenGrad, d, uRow)
		}
	}

	return gradInput, nil
}

// ResetState zeroes the hidden and cell state.
func (l *LSTMLayer) ResetState() {
	for i := range l.hidden {
		l.hidden[i] = 0
		l.cell[i] = 0
	}
	l.hasForward = false
}

// State returns copies of the hidden and cell state.
func (l *LSTMLayer) State() (hidden, cell []float64) {
	hidden = append([]float64(nil), l.hidden...)
	cell = append([]float64(nil), l.cell...)
	return hidden, cell
}

// SetState replaces the hidden and cell state.
func (l *LSTMLayer) SetState(hidden, cell []float64) error {
	if err := checkSize("lstm hidden state", len(hidden), l.HiddenSize); err != nil {
		return err
	}
	if err := checkSize("lstm cell state", len(cell), l.HiddenSize); err != nil {
		return err
	}
	copy(l.hidden, hidden)
	copy(l.cell, cell)
	return nil
}

// Params exposes the twelve gate tensors in a fixed order.
func (l *LSTMLayer) Params() []*Param {
	named := []struct {
		suffix string
		gate   *LSTMGate
	}{
		{"f", &l.Forget},
		{"i", &l.Input},
		{"o", &l.Output},
		{"c", &l.Cell},
	}

	params := make([]*Param, 0, 12)
	for _, n := range named {
		params = append(params,
			&Param{Name: "lstm.W" + n.suffix, Value: n.gate.W, Grad: n.gate.WGrad},
			&Param{Name: "lstm.U" + n.suffix, Value: n.gate.U, Grad: n.gate.UGrad},
			&Param{Name: "lstm.B" + n.suffix, Value: n.gate.B, Grad: n.gate.BGrad},
		)
	}
	return params
}
