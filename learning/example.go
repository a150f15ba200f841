// Package learning holds the pedagogical bookkeeping around training: staged
// curricula, spaced-repetition review scheduling, Pavlovian stimulus
// association and a synthetic puzzle generator.
package learning

import (
	"math"
	"time"

	"github.com/pkg/errors"
)

// Example is one training example together with its review history.
type Example struct {
	Input  []float64
	Target []float64

	// Difficulty in [0, 1]
	Difficulty float64

	Correct       bool
	Attempts      int
	CorrectStreak int

	LastReviewed time.Time
	NextReview   time.Time
}

// NewExample validates and copies input and target into a fresh example.
func NewExample(input, target []float64, difficulty float64) (Example, error) {
	ex := Example{
		Input:      cloneVec(input),
		Target:     cloneVec(target),
		Difficulty: difficulty,
	}
	if err := ex.Validate(); err != nil {
		return Example{}, err
	}
	return ex, nil
}

// Validate reports ErrInvalidParameter for an empty or non-finite input or
// target, or a difficulty outside [0, 1].
func (e Example) Validate() error {
	if len(e.Input) == 0 || len(e.Target) == 0 {
		return errors.Wrap(ErrInvalidParameter, "example needs input and target")
	}
	if math.IsNaN(e.Difficulty) || e.Difficulty < 0 || e.Difficulty > 1 {
		return errors.Wrapf(ErrInvalidParameter, "difficulty %.3f outside [0,1]", e.Difficulty)
	}
	if err := checkFinite("input", e.Input); err != nil {
		return err
	}
	return checkFinite("target", e.Target)
}

func checkFinite(name string, v []float64) error {
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return errors.Wrapf(ErrInvalidParameter, "%s[%d] is %v", name, i, x)
		}
	}
	return nil
}

// Clone returns a deep copy. Containers store clones so an example is never
// shared between them.
func (e Example) Clone() Example {
	e.Input = cloneVec(e.Input)
	e.Target = cloneVec(e.Target)
	return e
}
