package training

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/openfluke/tutor/learning"
	"github.com/openfluke/tutor/nn"
)

// Config holds configuration for a training engine
type Config struct {
	// Optimizer settings
	Optimizer       string             `json:"optimizer"` // "sgd", "adam", "adagrad", "rmsprop"
	OptimizerParams nn.OptimizerConfig `json:"optimizer_params"`
	LearningRate    float64            `json:"learning_rate"`
	Schedule        nn.ScheduleConfig  `json:"schedule"` // base_lr defaults to learning_rate

	// Loop settings
	MaxEpochs              int     `json:"max_epochs"`
	EarlyStoppingThreshold float64 `json:"early_stopping_threshold"` // stop once epoch loss is below (0 = off)
	Patience               int     `json:"patience"`                 // epochs without improvement before stopping (0 = off)
	GradientClip           float64 `json:"gradient_clip"`            // global norm (0 = no clipping)
	L2Lambda               float64 `json:"l2_lambda"`                // weight shrink after every epoch (0 = off)

	// Strategies
	UseCurriculum       bool `json:"use_curriculum"`
	UseSpacedRepetition bool `json:"use_spaced_repetition"`
	UsePavlovian        bool `json:"use_pavlovian"`

	NumLevels          int     `json:"num_levels"`
	MasteryThreshold   float64 `json:"mastery_threshold"`
	LTMThreshold       int     `json:"ltm_threshold"`
	ReviewIntervalMins float64 `json:"review_interval_mins"`
	PavlovianRate      float64 `json:"pavlovian_rate"`
	PavlovianDecay     float64 `json:"pavlovian_decay"`

	// Evaluation
	CorrectTolerance   float64 `json:"correct_tolerance"`   // per-dimension |output-target| counted as correct
	HallucinationBound float64 `json:"hallucination_bound"` // |prediction| above this is rejected

	UseGPU bool  `json:"use_gpu"`
	Seed   int64 `json:"seed"`
}

// DefaultConfig returns the default training configuration
func DefaultConfig() Config {
	return Config{
		Optimizer:              "adam",
		OptimizerParams:        nn.DefaultOptimizerConfig(),
		LearningRate:           0.01,
		MaxEpochs:              100,
		EarlyStoppingThreshold: 0.001,
		Patience:               10,
		GradientClip:           5.0,
		UseCurriculum:          true,
		UseSpacedRepetition:    true,
		UsePavlovian:           true,
		NumLevels:              learning.NumLevels,
		MasteryThreshold:       learning.DefaultMasteryThreshold,
		LTMThreshold:           learning.DefaultLTMThreshold,
		ReviewIntervalMins:     learning.DefaultInitialInterval.Minutes(),
		PavlovianRate:          0.1,
		PavlovianDecay:         learning.DefaultDecayRate,
		CorrectTolerance:       0.1,
		HallucinationBound:     nn.DefaultHallucinationBound,
		Seed:                   42,
	}
}

// LoadConfig reads a JSON config file on top of DefaultConfig, so omitted
// fields keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, cfg.Validate()
}

// Validate checks ranges and names.
func (c Config) Validate() error {
	if _, err := nn.ParseOptimizerType(c.Optimizer); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	switch {
	case c.LearningRate <= 0:
		return errors.Wrapf(ErrInvalidConfig, "learning_rate %v must be positive", c.LearningRate)
	case c.MaxEpochs < 0:
		return errors.Wrapf(ErrInvalidConfig, "max_epochs %d", c.MaxEpochs)
	case c.Patience < 0:
		return errors.Wrapf(ErrInvalidConfig, "patience %d", c.Patience)
	case c.NumLevels <= 0 || c.NumLevels > learning.NumLevels:
		return errors.Wrapf(ErrInvalidConfig, "num_levels %d outside 1..%d", c.NumLevels, learning.NumLevels)
	case c.MasteryThreshold <= 0 || c.MasteryThreshold > 1:
		return errors.Wrapf(ErrInvalidConfig, "mastery_threshold %v", c.MasteryThreshold)
	case c.LTMThreshold <= 0:
		return errors.Wrapf(ErrInvalidConfig, "ltm_threshold %d", c.LTMThreshold)
	case c.ReviewIntervalMins <= 0:
		return errors.Wrapf(ErrInvalidConfig, "review_interval_mins %v", c.ReviewIntervalMins)
	case c.PavlovianRate <= 0 || c.PavlovianRate > 1:
		return errors.Wrapf(ErrInvalidConfig, "pavlovian_rate %v", c.PavlovianRate)
	case c.PavlovianDecay <= 0 || c.PavlovianDecay >= 1:
		return errors.Wrapf(ErrInvalidConfig, "pavlovian_decay %v", c.PavlovianDecay)
	case c.CorrectTolerance <= 0:
		return errors.Wrapf(ErrInvalidConfig, "correct_tolerance %v", c.CorrectTolerance)
	case c.GradientClip < 0 || c.L2Lambda < 0 || c.L2Lambda >= 1:
		return errors.Wrap(ErrInvalidConfig, "gradient_clip and l2_lambda must be non-negative, l2_lambda below 1")
	}
	return validateOptimizerParams(c.OptimizerParams)
}

func validateOptimizerParams(p nn.OptimizerConfig) error {
	switch {
	case !(p.Epsilon > 0):
		return errors.Wrapf(ErrInvalidConfig, "optimizer_params.epsilon %v must be positive", p.Epsilon)
	case !(p.Beta1 >= 0 && p.Beta1 < 1):
		return errors.Wrapf(ErrInvalidConfig, "optimizer_params.beta1 %v outside [0,1)", p.Beta1)
	case !(p.Beta2 >= 0 && p.Beta2 < 1):
		return errors.Wrapf(ErrInvalidConfig, "optimizer_params.beta2 %v outside [0,1)", p.Beta2)
	case !(p.Decay > 0 && p.Decay < 1):
		return errors.Wrapf(ErrInvalidConfig, "optimizer_params.decay %v outside (0,1)", p.Decay)
	case !(p.Momentum >= 0):
		return errors.Wrapf(ErrInvalidConfig, "optimizer_params.momentum %v is negative", p.Momentum)
	case !(p.WeightDecay >= 0):
		return errors.Wrapf(ErrInvalidConfig, "optimizer_params.weight_decay %v is negative", p.WeightDecay)
	}
	return nil
}

func (c Config) reviewInterval() time.Duration {
	return time.Duration(c.ReviewIntervalMins * float64(time.Minute))
}

func (c Config) schedule() nn.ScheduleConfig {
	s := c.Schedule
	if s.BaseLR == 0 {
		s.BaseLR = c.LearningRate
	}
	return s
}

// SaveConfig writes cfg as indented JSON.
func SaveConfig(path string, cfg Config) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}
	return errors.Wrap(os.WriteFile(path, raw, 0o644), "write config")
}
