package nn

import (
	"math"
	"strings"

	"github.com/pkg/errors"
)

// LRScheduler maps an optimizer step count to a learning rate.
type LRScheduler interface {
	LearningRate(step uint64) float64
	Name() string
}

// ScheduleConfig describes a learning-rate schedule by name, as read from a
// training config file.
type ScheduleConfig struct {
	Type        string  `json:"type"` // constant, linear, cosine, exponential, step
	BaseLR      float64 `json:"base_lr"`
	FinalLR     float64 `json:"final_lr"`
	TotalSteps  uint64  `json:"total_steps"`
	DecayRate   float64 `json:"decay_rate"`
	DecaySteps  uint64  `json:"decay_steps"`
	WarmupSteps uint64  `json:"warmup_steps"`
	Restart     bool    `json:"restart"`
}

// NewSchedulerFromConfig builds the schedule named by cfg.Type, wrapped in a
// linear warmup when cfg.WarmupSteps > 0. An empty type means constant.
func NewSchedulerFromConfig(cfg ScheduleConfig) (LRScheduler, error) {
	var s LRScheduler
	switch strings.ToLower(cfg.Type) {
	case "", "constant":
		s = ConstantScheduler(cfg.BaseLR)
	case "linear":
		if cfg.TotalSteps == 0 {
			return nil, errors.Wrap(ErrUnknownScheduler, "linear schedule needs total_steps")
		}
		s = &LinearDecayScheduler{InitialLR: cfg.BaseLR, FinalLR: cfg.FinalLR, TotalSteps: cfg.TotalSteps}
	case "cosine":
		if cfg.TotalSteps == 0 {
			return nil, errors.Wrap(ErrUnknownScheduler, "cosine schedule needs total_steps")
		}
		s = &CosineAnnealingScheduler{InitialLR: cfg.BaseLR, MinLR: cfg.FinalLR, Period: cfg.TotalSteps, Restart: cfg.Restart}
	case "exponential":
		if cfg.DecaySteps == 0 {
			return nil, errors.Wrap(ErrUnknownScheduler, "exponential schedule needs decay_steps")
		}
		s = &ExponentialDecayScheduler{InitialLR: cfg.BaseLR, DecayRate: cfg.DecayRate, DecaySteps: cfg.DecaySteps}
	case "step":
		if cfg.DecaySteps == 0 {
			return nil, errors.Wrap(ErrUnknownScheduler, "step schedule needs decay_steps")
		}
		s = &StepDecayScheduler{InitialLR: cfg.BaseLR, Factor: cfg.DecayRate, StepSize: cfg.DecaySteps}
	default:
		return nil, errors.Wrapf(ErrUnknownScheduler, "%q", cfg.Type)
	}

	if cfg.WarmupSteps > 0 {
		s = &WarmupScheduler{Steps: cfg.WarmupSteps, TargetLR: cfg.BaseLR, After: s}
	}
	return s, nil
}

// ConstantScheduler always returns the same rate.
type ConstantScheduler float64

func (s ConstantScheduler) LearningRate(uint64) float64 { return float64(s) }

func (s ConstantScheduler) Name() string { return "constant" }

// LinearDecayScheduler interpolates from InitialLR to FinalLR over TotalSteps.
type LinearDecayScheduler struct {
	InitialLR  float64
	FinalLR    float64
	TotalSteps uint64
}

func (s *LinearDecayScheduler) LearningRate(step uint64) float64 {
	if step >= s.TotalSteps {
		return s.FinalLR
	}
	progress := float64(step) / float64(s.TotalSteps)
	return s.InitialLR + (s.FinalLR-s.InitialLR)*progress
}

func (s *LinearDecayScheduler) Name() string { return "linear" }

// CosineAnnealingScheduler follows half a cosine from InitialLR down to MinLR
// over Period steps. With Restart the curve starts over every Period steps.
type CosineAnnealingScheduler struct {
	InitialLR float64
	MinLR     float64
	Period    uint64
	Restart   bool
}

func (s *CosineAnnealingScheduler) LearningRate(step uint64) float64 {
	if s.Restart {
		step %= s.Period
	} else if step >= s.Period {
		return s.MinLR
	}
	progress := float64(step) / float64(s.Period)
	return s.MinLR + (s.InitialLR-s.MinLR)*(1+math.Cos(math.Pi*progress))/2
}

func (s *CosineAnnealingScheduler) Name() string {
	if s.Restart {
		return "cosine-restarts"
	}
	return "cosine"
}

// ExponentialDecayScheduler returns InitialLR * DecayRate^(step/DecaySteps).
type ExponentialDecayScheduler struct {
	InitialLR  float64
	DecayRate  float64
	DecaySteps uint64
}

func (s *ExponentialDecayScheduler) LearningRate(step uint64) float64 {
	return s.InitialLR * math.Pow(s.DecayRate, float64(step)/float64(s.DecaySteps))
}

func (s *ExponentialDecayScheduler) Name() string { return "exponential" }

// StepDecayScheduler multiplies the rate by Factor every StepSize steps.
type StepDecayScheduler struct {
	InitialLR float64
	Factor    float64
	StepSize  uint64
}

func (s *StepDecayScheduler) LearningRate(step uint64) float64 {
	return s.InitialLR * math.Pow(s.Factor, float64(step/s.StepSize))
}

func (s *StepDecayScheduler) Name() string { return "step" }

// WarmupScheduler ramps linearly from 0 to TargetLR over Steps, then hands off
// to After with the step count shifted by Steps.
type WarmupScheduler struct {
	Steps    uint64
	TargetLR float64
	After    LRScheduler
}

func (s *WarmupScheduler) LearningRate(step uint64) float64 {
	if step < s.Steps {
		return s.TargetLR * float64(step+1) / float64(s.Steps)
	}
	if s.After == nil {
		return s.TargetLR
	}
	return s.After.LearningRate(step - s.Steps)
}

func (s *WarmupScheduler) Name() string {
	if s.After == nil {
		return "warmup"
	}
	return "warmup+" + s.After.Name()
}
