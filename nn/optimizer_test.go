package nn

import (
	"math"
	"testing"

	"github.com/pkg/errors"
)

type singleParam struct{ p *Param }

func (s singleParam) Params() []*Param { return []*Param{s.p} }

func newSingleParam(value, grad float64) singleParam {
	return singleParam{&Param{Name: "w", Value: []float64{value}, Grad: []float64{grad}}}
}

func TestEveryOptimizerMutatesParameters(t *testing.T) {
	for _, kind := range []OptimizerType{OptimizerSGD, OptimizerAdam, OptimizerAdagrad, OptimizerRMSProp} {
		network, _ := NewNetwork(10, 5, 3, WithSeed(42))
		opt, err := NewOptimizer(kind, DefaultOptimizerConfig())
		if err != nil {
			t.Fatal(err)
		}

		network.Forward(scenarioInput())
		network.Backward([]float64{0.5, 0.5, 0.5})

		before := make(map[string][]float64)
		for _, p := range network.Params() {
			before[p.Name] = append([]float64(nil), p.Value...)
		}

		opt.Step(network, 0.1)
		if opt.StepCount() != 1 {
			t.Errorf("%v: Expected step count 1, got %d", kind, opt.StepCount())
		}

		for _, p := range network.Params() {
			for j, g := range p.Grad {
				if math.Abs(g) < 1e-12 {
					continue
				}
				if p.Value[j] == before[p.Name][j] {
					t.Errorf("%v: %s[%d] unchanged despite gradient %v", kind, p.Name, j, g)
				}
			}
		}
	}
}

func TestSGDMomentumRule(t *testing.T) {
	src := newSingleParam(1.0, 0.5)
	opt := NewSGDOptimizer(0.9)

	opt.Step(src, 0.1)
	if got := src.p.Value[0]; math.Abs(got-0.95) > 1e-12 {
		t.Errorf("Expected 0.95, got %v", got)
	}
	opt.Step(src, 0.1)
	if got := src.p.Value[0]; math.Abs(got-0.855) > 1e-12 {
		t.Errorf("Expected 0.855, got %v", got)
	}

	plain := newSingleParam(1.0, 0.5)
	NewSGDOptimizer(0).Step(plain, 0.1)
	if got := plain.p.Value[0]; math.Abs(got-0.95) > 1e-12 {
		t.Errorf("Expected 0.95 without momentum, got %v", got)
	}
}

func TestAdamFirstStep(t *testing.T) {
	// With bias correction the first step moves by ~lr regardless of gradient scale.
	for _, g := range []float64{1e-3, 2.0, -50} {
		src := newSingleParam(1.0, g)
		NewAdamOptimizer(0.9, 0.999, 1e-8, 0).Step(src, 0.1)
		want := 1.0 - 0.1*math.Copysign(1, g)
		if got := src.p.Value[0]; math.Abs(got-want) > 1e-4 {
			t.Errorf("g=%v: Expected %v, got %v", g, want, got)
		}
	}
}

func TestAdagradAccumulates(t *testing.T) {
	src := newSingleParam(0, 1)
	opt := NewAdagradOptimizer(1e-8)
	opt.Step(src, 0.1)
	first := -src.p.Value[0]
	opt.Step(src, 0.1)
	second := -src.p.Value[0] - first
	if second >= first {
		t.Errorf("Expected shrinking steps, got %v then %v", first, second)
	}
	if math.Abs(second-0.1/math.Sqrt(2)) > 1e-6 {
		t.Errorf("Expected %v, got %v", 0.1/math.Sqrt(2), second)
	}
}

func TestOptimizerStateRoundTrip(t *testing.T) {
	network, _ := NewNetwork(4, 3, 2, WithSeed(2))
	opt, _ := NewOptimizer(OptimizerAdam, DefaultOptimizerConfig())
	network.Forward([]float64{1, 2, 3, 4})
	network.Backward([]float64{0, 0})
	opt.Step(network, 0.01)

	state := opt.State()
	if state.Step != 1 || len(state.Buffers) != 2*len(network.Params()) {
		t.Fatalf("Expected step 1 and %d buffers, got %d and %d", 2*len(network.Params()), state.Step, len(state.Buffers))
	}

	restored, _ := NewOptimizer(OptimizerAdam, DefaultOptimizerConfig())
	if err := restored.LoadState(state); err != nil {
		t.Fatal(err)
	}
	if restored.StepCount() != 1 {
		t.Errorf("Expected restored step 1, got %d", restored.StepCount())
	}

	sgd, _ := NewOptimizer(OptimizerSGD, DefaultOptimizerConfig())
	if err := sgd.LoadState(state); !errors.Is(err, ErrOptimizerState) {
		t.Errorf("Expected ErrOptimizerState, got %v", err)
	}

	opt.Reset()
	if opt.StepCount() != 0 || len(opt.State().Buffers) != 0 {
		t.Errorf("Expected reset optimizer to be empty")
	}
}

func TestParseOptimizerType(t *testing.T) {
	for _, kind := range []OptimizerType{OptimizerSGD, OptimizerAdam, OptimizerAdagrad, OptimizerRMSProp} {
		got, err := ParseOptimizerType(kind.String())
		if err != nil || got != kind {
			t.Errorf("Expected %v, got %v (%v)", kind, got, err)
		}
	}
	if _, err := ParseOptimizerType("lbfgs"); !errors.Is(err, ErrUnknownOptimizer) {
		t.Errorf("Expected ErrUnknownOptimizer, got %v", err)
	}
}
