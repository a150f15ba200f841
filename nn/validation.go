package nn

import (
	"math"

	"github.com/pkg/errors"
)

// DefaultHallucinationBound is the largest magnitude a prediction may have
// before it is treated as a hallucination.
const DefaultHallucinationBound = 10.0

// CheckFinite reports ErrHallucination if v holds NaN or ±Inf.
func CheckFinite(v []float64) error {
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return errors.Wrapf(ErrHallucination, "value %d is %v", i, x)
		}
	}
	return nil
}

// CheckPrediction reports ErrHallucination if v is not finite or any value
// exceeds bound in magnitude. bound <= 0 only checks finiteness.
func CheckPrediction(v []float64, bound float64) error {
	if err := CheckFinite(v); err != nil {
		return err
	}
	if bound <= 0 {
		return nil
	}
	for i, x := range v {
		if math.Abs(x) > bound {
			return errors.Wrapf(ErrHallucination, "value %d = %.4f exceeds %.1f", i, x, bound)
		}
	}
	return nil
}

// WithinTolerance reports whether every output dimension is within tol of the target.
func WithinTolerance(output, target []float64, tol float64) bool {
	if len(output) != len(target) {
		return false
	}
	for i := range output {
		if math.Abs(output[i]-target[i]) > tol {
			return false
		}
	}
	return true
}
