package nn

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

func TestNewLSTMLayer(t *testing.T) {
	if _, err := NewLSTMLayer(0, 4, nil); !errors.Is(err, ErrInvalidDimensions) {
		t.Errorf("Expected ErrInvalidDimensions, got %v", err)
	}

	l, err := NewLSTMLayer(3, 4, NewRand(2))
	if err != nil {
		t.Fatal(err)
	}
	if len(l.Params()) != 12 {
		t.Errorf("Expected 12 parameter tensors, got %d", len(l.Params()))
	}
	for _, b := range l.Forget.B {
		if b != 1.0 {
			t.Errorf("Expected forget bias 1.0, got %v", b)
		}
	}
	limit := math.Sqrt(2.0 / 7.0)
	for _, w := range l.Input.W {
		if math.Abs(w) > limit {
			t.Fatalf("Expected |w| <= %v, got %v", limit, w)
		}
	}
	h, c := l.State()
	if len(h) != 4 || len(c) != 4 {
		t.Errorf("Expected state length 4, got %d/%d", len(h), len(c))
	}
}

func TestLSTMStatePersists(t *testing.T) {
	l, _ := NewLSTMLayer(2, 3, NewRand(9))
	x := []float64{0.5, -0.5}
	hidden := make([]float64, 3)

	first, _ := l.Forward(x, hidden)
	for i := range first {
		if hidden[i] != first[i] {
			t.Fatalf("Expected hidden buffer to be updated in place")
		}
	}
	second, _ := l.Forward(x, hidden)
	if MaxAbsDiff(first, second) == 0 {
		t.Errorf("Expected recurrent state to change the second output")
	}

	l.ResetState()
	for i := range hidden {
		hidden[i] = 0
	}
	again, _ := l.Forward(x, hidden)
	if MaxAbsDiff(first, again) > 1e-15 {
		t.Errorf("Expected reset to reproduce the first output, got %v vs %v", again, first)
	}
}

func TestLSTMPeekDoesNotMutate(t *testing.T) {
	l, _ := NewLSTMLayer(2, 3, NewRand(4))
	hidden := make([]float64, 3)
	l.Forward([]float64{1, 0}, hidden)

	h0, c0 := l.State()
	peek, _ := l.Peek([]float64{0, 1})
	h1, c1 := l.State()
	if MaxAbsDiff(h0, h1) != 0 || MaxAbsDiff(c0, c1) != 0 {
		t.Errorf("Expected Peek to leave state untouched")
	}

	out, _ := l.Forward([]float64{0, 1}, hidden)
	if MaxAbsDiff(peek, out) > 1e-15 {
		t.Errorf("Expected Peek to predict the next Forward, got %v vs %v", peek, out)
	}
}

func TestLSTMBackwardBeforeForward(t *testing.T) {
	l, _ := NewLSTMLayer(2, 2, NewRand(1))
	if _, err := l.Backward([]float64{1, 1}); !errors.Is(err, ErrNoForward) {
		t.Errorf("Expected ErrNoForward, got %v", err)
	}
}

func lstmObjective(l *LSTMLayer, x, h, c, g []float64) float64 {
	s := l.step(x, h, c)
	return floats.Dot(g, s.h)
}

func TestLSTMGradientsMatchFiniteDifference(t *testing.T) {
	const eps = 1e-6
	const tol = 1e-6

	l, _ := NewLSTMLayer(3, 4, NewRand(21))
	hidden := make([]float64, 4)

	// Warm the state up so hPrev and cPrev are non-zero.
	l.Forward([]float64{0.4, -0.1, 0.9}, hidden)
	l.Forward([]float64{-0.3, 0.6, 0.2}, hidden)

	h0, c0 := l.State()
	x := []float64{0.7, 0.2, -0.5}
	g := []float64{0.3, -0.8, 0.5, 1.1}

	if _, err := l.Forward(x, hidden); err != nil {
		t.Fatal(err)
	}
	gradIn, err := l.Backward(g)
	if err != nil {
		t.Fatal(err)
	}

	perturb := func(v []float64, k int, fn func() float64) float64 {
		orig := v[k]
		v[k] = orig + eps
		lp := fn()
		v[k] = orig - eps
		lm := fn()
		v[k] = orig
		return (lp - lm) / (2 * eps)
	}
	objective := func() float64 { return lstmObjective(l, x, h0, c0, g) }

	for k := range x {
		if numeric := perturb(x, k, objective); math.Abs(numeric-gradIn[k]) > tol {
			t.Errorf("dx[%d]: Expected %v, got %v", k, numeric, gradIn[k])
		}
	}
	for k := range h0 {
		if numeric := perturb(h0, k, objective); math.Abs(numeric-l.PrevHiddenGrad[k]) > tol {
			t.Errorf("dh_prev[%d]: Expected %v, got %v", k, numeric, l.PrevHiddenGrad[k])
		}
		if numeric := perturb(c0, k, objective); math.Abs(numeric-l.PrevCellGrad[k]) > tol {
			t.Errorf("dc_prev[%d]: Expected %v, got %v", k, numeric, l.PrevCellGrad[k])
		}
	}
	for _, p := range l.Params() {
		for _, j := range []int{0, len(p.Value) / 2, len(p.Value) - 1} {
			if numeric := perturb(p.Value, j, objective); math.Abs(numeric-p.Grad[j]) > tol {
				t.Errorf("%s[%d]: Expected %v, got %v", p.Name, j, numeric, p.Grad[j])
			}
		}
	}
}

func TestLSTMSetState(t *testing.T) {
	l, _ := NewLSTMLayer(2, 2, NewRand(1))
	if err := l.SetState([]float64{1}, []float64{1, 2}); !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("Expected ErrSizeMismatch, got %v", err)
	}
	if err := l.SetState([]float64{0.1, 0.2}, []float64{0.3, 0.4}); err != nil {
		t.Fatal(err)
	}
	h, c := l.State()
	if h[1] != 0.2 || c[0] != 0.3 {
		t.Errorf("Expected restored state, got %v %v", h, c)
	}
}
