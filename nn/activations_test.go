package nn

import (
	"math"
	"testing"
)

func TestScalarActivations(t *testing.T) {
	tests := []struct {
		name string
		fn   func(float64) float64
		in   float64
		want float64
	}{
		{"sigmoid(0)", Sigmoid, 0, 0.5},
		{"sigmoid'(0)", SigmoidDerivative, 0, 0.25},
		{"tanh(0)", Tanh, 0, 0},
		{"tanh'(0)", TanhDerivative, 0, 1},
		{"relu(-2)", ReLU, -2, 0},
		{"relu(3)", ReLU, 3, 3},
		{"relu'(-2)", ReLUDerivative, -2, 0},
		{"relu'(3)", ReLUDerivative, 3, 1},
	}

	for _, tt := range tests {
		if got := tt.fn(tt.in); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("%s: Expected %v, got %v", tt.name, tt.want, got)
		}
	}
}

func TestDerivativeFromOutputMatchesPreActivation(t *testing.T) {
	for _, x := range []float64{-2, -0.5, 0.3, 1.7} {
		if got, want := derivativeFromOutput(Sigmoid(x), ActivationSigmoid), SigmoidDerivative(x); math.Abs(got-want) > 1e-12 {
			t.Errorf("sigmoid at %v: Expected %v, got %v", x, want, got)
		}
		if got, want := derivativeFromOutput(Tanh(x), ActivationTanh), TanhDerivative(x); math.Abs(got-want) > 1e-12 {
			t.Errorf("tanh at %v: Expected %v, got %v", x, want, got)
		}
	}
}

func TestSoftmax(t *testing.T) {
	out := Softmax([]float64{1, 2, 3, 1000})
	sum := 0.0
	for _, v := range out {
		if math.IsNaN(v) || v < 0 {
			t.Fatalf("Expected non-negative finite values, got %v", out)
		}
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("Expected softmax to sum to 1, got %v", sum)
	}
	if out[3] < 0.99 {
		t.Errorf("Expected dominant entry near 1, got %v", out[3])
	}
}

func TestSoftmaxBackwardMatchesFiniteDifference(t *testing.T) {
	x := []float64{0.2, -0.4, 1.1}
	g := []float64{0.3, -0.7, 0.5}
	y := Softmax(x)
	analytic := SoftmaxBackward(y, g)

	const eps = 1e-6
	for k := range x {
		xp := append([]float64(nil), x...)
		xm := append([]float64(nil), x...)
		xp[k] += eps
		xm[k] -= eps
		lp, lm := 0.0, 0.0
		for i, v := range Softmax(xp) {
			lp += g[i] * v
		}
		for i, v := range Softmax(xm) {
			lm += g[i] * v
		}
		numeric := (lp - lm) / (2 * eps)
		if math.Abs(numeric-analytic[k]) > 1e-6 {
			t.Errorf("dx[%d]: Expected %v, got %v", k, numeric, analytic[k])
		}
	}
}

func TestParseActivation(t *testing.T) {
	for _, a := range []ActivationType{ActivationSigmoid, ActivationTanh, ActivationReLU, ActivationSoftmax, ActivationLinear} {
		if got := ParseActivation(a.String()); got != a {
			t.Errorf("Expected %v, got %v", a, got)
		}
	}
	if got := ParseActivation("bogus"); got != ActivationLinear {
		t.Errorf("Expected linear for unknown name, got %v", got)
	}
}
