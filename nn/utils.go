package nn

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// MaxAbsDiff calculates the maximum absolute difference between two slices
func MaxAbsDiff(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	m := 0.0
	for i := 0; i < n; i++ {
		d := math.Abs(a[i] - b[i])
		if d > m {
			m = d
		}
	}
	return m
}

// ArgMax returns the index of the largest value, or -1 for an empty slice.
func ArgMax(v []float64) int {
	if len(v) == 0 {
		return -1
	}
	return floats.MaxIdx(v)
}

// fitLength returns v truncated or zero-padded to n values.
func fitLength(v []float64, n int) []float64 {
	out := make([]float64, n)
	copy(out, v)
	return out
}
