package nn

import "github.com/pkg/errors"

// Sentinel errors returned (wrapped) by layers, networks and optimizers.
// Match them with errors.Is.
var (
	ErrInvalidDimensions = errors.New("invalid layer dimensions")
	ErrSizeMismatch      = errors.New("vector size mismatch")
	ErrNoForward         = errors.New("backward called before forward")
	ErrHallucination     = errors.New("non-finite or out-of-range prediction")
	ErrUnknownOptimizer  = errors.New("unknown optimizer type")
	ErrUnknownScheduler  = errors.New("unknown learning rate schedule")
	ErrOptimizerState    = errors.New("optimizer state does not match optimizer")
)

func checkSize(what string, got, want int) error {
	if got != want {
		return errors.Wrapf(ErrSizeMismatch, "%s: got %d, expected %d", what, got, want)
	}
	return nil
}
