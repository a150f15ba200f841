package nn

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// MSELoss computes the mean squared error between output and target.
func MSELoss(output, target []float64) float64 {
	if len(output) == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < len(output) && i < len(target); i++ {
		diff := output[i] - target[i]
		sum += diff * diff
	}
	return sum / float64(len(output))
}

// MSEGradient computes dL/doutput for MSELoss: 2(output-target)/n.
func MSEGradient(output, target []float64) []float64 {
	grad := make([]float64, len(output))
	if len(output) == 0 {
		return grad
	}
	scale := 2.0 / float64(len(output))
	for i := 0; i < len(output) && i < len(target); i++ {
		grad[i] = (output[i] - target[i]) * scale
	}
	return grad
}

// GradientNorm returns the global L2 norm over every gradient of src.
func GradientNorm(src ParamSource) float64 {
	total := 0.0
	for _, p := range src.Params() {
		n := floats.Norm(p.Grad, 2)
		total += n * n
	}
	return math.Sqrt(total)
}

// ClipGradients rescales all gradients so their global norm is at most maxNorm.
// It returns the norm before clipping. maxNorm <= 0 disables clipping.
func ClipGradients(src ParamSource, maxNorm float64) float64 {
	norm := GradientNorm(src)
	if maxNorm <= 0 || norm <= maxNorm {
		return norm
	}

	scale := maxNorm / norm
	for _, p := range src.Params() {
		floats.Scale(scale, p.Grad)
	}
	return norm
}

// ApplyL2 shrinks every weight tensor by (1 - lambda). Biases are left alone.
func ApplyL2(src ParamSource, lambda float64) {
	if lambda <= 0 {
		return
	}
	for _, p := range src.Params() {
		if isBias(p.Name) {
			continue
		}
		floats.Scale(1-lambda, p.Value)
	}
}

func isBias(name string) bool {
	switch name {
	case "dense.bias", "lstm.Bf", "lstm.Bi", "lstm.Bo", "lstm.Bc":
		return true
	}
	return false
}
