package nn

import (
	"math"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// OptimizerType selects a parameter update rule.
type OptimizerType int

const (
	OptimizerSGD     OptimizerType = 0
	OptimizerAdam    OptimizerType = 1
	OptimizerAdagrad OptimizerType = 2
	OptimizerRMSProp OptimizerType = 3
)

func (t OptimizerType) String() string {
	switch t {
	case OptimizerSGD:
		return "sgd"
	case OptimizerAdam:
		return "adam"
	case OptimizerAdagrad:
		return "adagrad"
	case OptimizerRMSProp:
		return "rmsprop"
	default:
		return "unknown"
	}
}

// ParseOptimizerType converts a config name such as "adam" into an OptimizerType.
func ParseOptimizerType(name string) (OptimizerType, error) {
	switch strings.ToLower(name) {
	case "sgd":
		return OptimizerSGD, nil
	case "adam", "adamw":
		return OptimizerAdam, nil
	case "adagrad":
		return OptimizerAdagrad, nil
	case "rmsprop":
		return OptimizerRMSProp, nil
	}
	return 0, errors.Wrapf(ErrUnknownOptimizer, "%q", name)
}

// OptimizerConfig holds the hyperparameters of every update rule. Each
// optimizer reads only the fields it needs.
type OptimizerConfig struct {
	Momentum    float64 `json:"momentum"`     // SGD
	Beta1       float64 `json:"beta1"`        // Adam
	Beta2       float64 `json:"beta2"`        // Adam
	Epsilon     float64 `json:"epsilon"`      // Adam, Adagrad, RMSProp
	Decay       float64 `json:"decay"`        // RMSProp
	WeightDecay float64 `json:"weight_decay"` // Adam (decoupled)
}

// DefaultOptimizerConfig returns the usual defaults.
func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{
		Momentum: 0.9,
		Beta1:    0.9,
		Beta2:    0.999,
		Epsilon:  1e-8,
		Decay:    0.99,
	}
}

// OptimizerState is a serializable snapshot of an optimizer: the shared step
// counter and every moment buffer, keyed "<moment>/<param name>".
type OptimizerState struct {
	Kind    OptimizerType
	Step    uint64
	Buffers map[string][]float64
}

// BufferNames returns the buffer keys in sorted order.
func (s OptimizerState) BufferNames() []string {
	names := make([]string, 0, len(s.Buffers))
	for k := range s.Buffers {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Optimizer interface defines the contract for all optimizers
type Optimizer interface {
	// Step applies the retained gradients of src to its parameters
	Step(src ParamSource, learningRate float64)

	// Reset clears moment buffers and the step counter
	Reset()

	StepCount() uint64

	// State returns a deep copy of the optimizer state for checkpoints
	State() OptimizerState

	// LoadState restores a snapshot produced by State
	LoadState(state OptimizerState) error

	Kind() OptimizerType
	Name() string
}

// NewOptimizer creates an optimizer of the given kind.
func NewOptimizer(kind OptimizerType, cfg OptimizerConfig) (Optimizer, error) {
	switch kind {
	case OptimizerSGD:
		return NewSGDOptimizer(cfg.Momentum), nil
	case OptimizerAdam:
		return NewAdamOptimizer(cfg.Beta1, cfg.Beta2, cfg.Epsilon, cfg.WeightDecay), nil
	case OptimizerAdagrad:
		return NewAdagradOptimizer(cfg.Epsilon), nil
	case OptimizerRMSProp:
		return NewRMSPropOptimizer(cfg.Decay, cfg.Epsilon), nil
	}
	return nil, errors.Wrapf(ErrUnknownOptimizer, "kind %d", int(kind))
}

// moments holds per-parameter buffers and the step counter shared by all
// optimizers.
type moments struct {
	kind    OptimizerType
	step    uint64
	buffers map[string][]float64
}

func newMoments(kind OptimizerType) moments {
	return moments{kind: kind, buffers: make(map[string][]float64)}
}

func (m *moments) buffer(moment, param string, n int) []float64 {
	key := moment + "/" + param
	b := m.buffers[key]
	if len(b) != n {
		b = make([]float64, n)
		m.buffers[key] = b
	}
	return b
}

func (m *moments) Reset() {
	m.step = 0
	m.buffers = make(map[string][]float64)
}

func (m *moments) StepCount() uint64 { return m.step }

func (m *moments) Kind() OptimizerType { return m.kind }

func (m *moments) Name() string { return m.kind.String() }

func (m *moments) State() OptimizerState {
	s := OptimizerState{Kind: m.kind, Step: m.step, Buffers: make(map[string][]float64, len(m.buffers))}
	for k, v := range m.buffers {
		s.Buffers[k] = append([]float64(nil), v...)
	}
	return s
}

func (m *moments) LoadState(s OptimizerState) error {
	if s.Kind != m.kind {
		return errors.Wrapf(ErrOptimizerState, "state is %s, optimizer is %s", s.Kind, m.kind)
	}
	m.step = s.Step
	m.buffers = make(map[string][]float64, len(s.Buffers))
	for k, v := range s.Buffers {
		m.buffers[k] = append([]float64(nil), v...)
	}
	return nil
}

// ============================================================================
// SGD Optimizer (Stochastic Gradient Descent with optional momentum)
// ============================================================================

type SGDOptimizer struct {
	moments
	momentum float64
}

func NewSGDOptimizer(momentum float64) *SGDOptimizer {
	return &SGDOptimizer{moments: newMoments(OptimizerSGD), momentum: momentum}
}

func (opt *SGDOptimizer) Step(src ParamSource, learningRate float64) {
	opt.step++
	for _, p := range src.Params() {
		if opt.momentum == 0 {
			// w = w - lr * grad
			for j, g := range p.Grad {
				p.Value[j] -= learningRate * g
			}
			continue
		}

		// v = momentum * v - lr * grad; w = w + v
		v := opt.buffer("velocity", p.Name, len(p.Value))
		for j, g := range p.Grad {
			v[j] = opt.momentum*v[j] - learningRate*g
			p.Value[j] += v[j]
		}
	}
}

// ============================================================================
// Adam Optimizer (decoupled weight decay when weightDecay > 0)
// ============================================================================

type AdamOptimizer struct {
	moments
	beta1       float64
	beta2       float64
	epsilon     float64
	weightDecay float64
}

func NewAdamOptimizer(beta1, beta2, epsilon, weightDecay float64) *AdamOptimizer {
	return &AdamOptimizer{
		moments:     newMoments(OptimizerAdam),
		beta1:       beta1,
		beta2:       beta2,
		epsilon:     epsilon,
		weightDecay: weightDecay,
	}
}

func (opt *AdamOptimizer) Step(src ParamSource, learningRate float64) {
	opt.step++
	t := float64(opt.step)
	bc1 := 1 - math.Pow(opt.beta1, t)
	bc2 := 1 - math.Pow(opt.beta2, t)

	for _, p := range src.Params() {
		m := opt.buffer("m", p.Name, len(p.Value))
		v := opt.buffer("v", p.Name, len(p.Value))

		for j, g := range p.Grad {
			m[j] = opt.beta1*m[j] + (1-opt.beta1)*g
			v[j] = opt.beta2*v[j] + (1-opt.beta2)*g*g

			mHat := m[j] / bc1
			vHat := v[j] / bc2

			if opt.weightDecay > 0 {
				p.Value[j] -= learningRate * opt.weightDecay * p.Value[j]
			}
			p.Value[j] -= learningRate * mHat / (math.Sqrt(vHat) + opt.epsilon)
		}
	}
}

// ============================================================================
// Adagrad Optimizer
// ============================================================================

type AdagradOptimizer struct {
	moments
	epsilon float64
}

func NewAdagradOptimizer(epsilon float64) *AdagradOptimizer {
	return &AdagradOptimizer{moments: newMoments(OptimizerAdagrad), epsilon: epsilon}
}

func (opt *AdagradOptimizer) Step(src ParamSource, learningRate float64) {
	opt.step++
	for _, p := range src.Params() {
		acc := opt.buffer("accum", p.Name, len(p.Value))
		for j, g := range p.Grad {
			acc[j] += g * g
			p.Value[j] -= learningRate * g / (math.Sqrt(acc[j]) + opt.epsilon)
		}
	}
}

// ============================================================================
// RMSprop Optimizer
// ============================================================================

type RMSPropOptimizer struct {
	moments
	decay   float64
	epsilon float64
}

func NewRMSPropOptimizer(decay, epsilon float64) *RMSPropOptimizer {
	return &RMSPropOptimizer{moments: newMoments(OptimizerRMSProp), decay: decay, epsilon: epsilon}
}

func (opt *RMSPropOptimizer) Step(src ParamSource, learningRate float64) {
	opt.step++
	for _, p := range src.Params() {
		sq := opt.buffer("sq", p.Name, len(p.Value))
		for j, g := range p.Grad {
			sq[j] = opt.decay*sq[j] + (1-opt.decay)*g*g
			p.Value[j] -= learningRate * g / (math.Sqrt(sq[j]) + opt.epsilon)
		}
	}
}
