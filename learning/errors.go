package learning

import "github.com/pkg/errors"

var (
	ErrLevelOutOfRange  = errors.New("difficulty level out of range")
	ErrIndexOutOfRange  = errors.New("example index out of range")
	ErrInvalidParameter = errors.New("invalid parameter")
)
