package nn

import (
	"math/rand"
	"time"
)

// Param is one parameter tensor together with the gradient left behind by the
// most recent backward pass of the layer that owns it.
type Param struct {
	Name  string
	Value []float64
	Grad  []float64
}

// ParamSource is anything that exposes its parameter tensors to an optimizer.
type ParamSource interface {
	Params() []*Param
}

// NewRand returns a random source seeded with seed. A seed of 0 uses the clock.
func NewRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

func uniformInit(w []float64, limit float64, rng *rand.Rand) {
	for i := range w {
		w[i] = (rng.Float64()*2 - 1) * limit
	}
}

// CountParams returns the total number of scalar parameters.
func CountParams(src ParamSource) int {
	total := 0
	for _, p := range src.Params() {
		total += len(p.Value)
	}
	return total
}
