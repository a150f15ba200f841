package training

import "github.com/pkg/errors"

var (
	ErrStrategyDisabled = errors.New("training strategy disabled")
	ErrBadCheckpoint    = errors.New("invalid checkpoint")
	ErrInvalidConfig    = errors.New("invalid training config")
)
