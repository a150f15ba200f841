package learning

import (
	"math"
	"time"

	"github.com/pkg/errors"
)

const (
	// StimulusTolerance is the elementwise distance under which two stimulus
	// vectors are considered the same stimulus.
	StimulusTolerance = 0.01

	DefaultDecayRate = 0.01

	// DefaultConditionedThreshold is the |strength| above which a CS counts as conditioned.
	DefaultConditionedThreshold = 0.1
)

// LearnerKind labels the flavour of conditioning a learner models.
type LearnerKind int

const (
	Classical LearnerKind = iota
	RewardBased
	Instrumental
	Hybrid
)

func (k LearnerKind) String() string {
	switch k {
	case Classical:
		return "classical"
	case RewardBased:
		return "reward"
	case Instrumental:
		return "instrumental"
	case Hybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// Unconditioned is an unconditioned stimulus: a vector carrying a signed reward.
type Unconditioned struct {
	Vector []float64
	Reward float64
}

// Association links a conditioned stimulus to an unconditioned one.
type Association struct {
	CS          []float64
	US          Unconditioned
	Strength    float64 // in [-1, 1]
	Pairings    int
	LastPairing time.Time
}

func (a Association) clone() Association {
	a.CS = cloneVec(a.CS)
	a.US.Vector = cloneVec(a.US.Vector)
	return a
}

// PavlovianLearner maintains CS/US associations updated with the
// Rescorla-Wagner rule. Lookup is a linear scan with an elementwise tolerance,
// so nearly identical stimuli share one association.
type PavlovianLearner struct {
	kind         LearnerKind
	learningRate float64
	decayRate    float64
	threshold    float64
	associations []Association
	now          func() time.Time
}

// PavlovianOption configures NewPavlovianLearner.
type PavlovianOption func(*PavlovianLearner)

// WithDecayRate sets the extinction decay rate (default 0.01).
func WithDecayRate(rate float64) PavlovianOption {
	return func(p *PavlovianLearner) { p.decayRate = rate }
}

// WithPavlovianClock replaces time.Now.
func WithPavlovianClock(now func() time.Time) PavlovianOption {
	return func(p *PavlovianLearner) { p.now = now }
}

// NewPavlovianLearner creates a learner with the given Rescorla-Wagner rate.
func NewPavlovianLearner(kind LearnerKind, learningRate float64, opts ...PavlovianOption) (*PavlovianLearner, error) {
	p := &PavlovianLearner{
		kind:         kind,
		learningRate: learningRate,
		decayRate:    DefaultDecayRate,
		threshold:    DefaultConditionedThreshold,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.learningRate <= 0 || p.learningRate > 1 {
		return nil, errors.Wrapf(ErrInvalidParameter, "pavlovian learning rate %.4f outside (0,1]", p.learningRate)
	}
	if p.decayRate <= 0 || p.decayRate >= 1 {
		return nil, errors.Wrapf(ErrInvalidParameter, "decay rate %.4f outside (0,1)", p.decayRate)
	}
	return p, nil
}

func (p *PavlovianLearner) Kind() LearnerKind { return p.kind }

// Len returns the number of associations.
func (p *PavlovianLearner) Len() int { return len(p.associations) }

// Associations returns copies of every association.
func (p *PavlovianLearner) Associations() []Association {
	out := make([]Association, len(p.associations))
	for i, a := range p.associations {
		out[i] = a.clone()
	}
	return out
}

func matches(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > StimulusTolerance {
			return false
		}
	}
	return true
}

func (p *PavlovianLearner) find(cs []float64, us Unconditioned) int {
	for i := range p.associations {
		a := &p.associations[i]
		if matches(a.CS, cs) && matches(a.US.Vector, us.Vector) {
			return i
		}
	}
	return -1
}

// PairStimuli presents cs together with us and moves the association
// strength toward sign(us.Reward).
func (p *PavlovianLearner) PairStimuli(cs []float64, us Unconditioned) error {
	if len(cs) == 0 || len(us.Vector) == 0 {
		return errors.Wrap(ErrInvalidParameter, "empty stimulus")
	}
	if math.IsNaN(us.Reward) || math.IsInf(us.Reward, 0) {
		return errors.Wrapf(ErrInvalidParameter, "reward %v", us.Reward)
	}
	if err := checkFinite("conditioned stimulus", cs); err != nil {
		return err
	}
	if err := checkFinite("unconditioned stimulus", us.Vector); err != nil {
		return err
	}

	i := p.find(cs, us)
	if i < 0 {
		p.associations = appendDoubling(p.associations, Association{
			CS: cloneVec(cs),
			US: Unconditioned{Vector: cloneVec(us.Vector), Reward: us.Reward},
		})
		i = len(p.associations) - 1
	}

	a := &p.associations[i]
	lambda := sign(us.Reward)
	a.Strength = clamp(a.Strength+p.learningRate*(lambda-a.Strength), -1, 1)
	a.US.Reward = us.Reward
	a.Pairings++
	a.LastPairing = p.now()
	return nil
}

// AssociationStrength returns the strength of the cs/us association, if any.
func (p *PavlovianLearner) AssociationStrength(cs []float64, us Unconditioned) (float64, bool) {
	i := p.find(cs, us)
	if i < 0 {
		return 0, false
	}
	return p.associations[i].Strength, true
}

// Extinction presents cs alone: every matching association decays by
// (1 - decayRate).
func (p *PavlovianLearner) Extinction(cs []float64) {
	for i := range p.associations {
		a := &p.associations[i]
		if matches(a.CS, cs) {
			a.Strength *= 1 - p.decayRate
		}
	}
}

// Reward pairs cs with a positive-reward US built from the same vector.
func (p *PavlovianLearner) Reward(cs []float64, reward float64) error {
	return p.PairStimuli(cs, Unconditioned{Vector: cs, Reward: math.Abs(reward)})
}

// Punish pairs cs with a negative-reward US built from the same vector.
func (p *PavlovianLearner) Punish(cs []float64, punishment float64) error {
	return p.PairStimuli(cs, Unconditioned{Vector: cs, Reward: -math.Abs(punishment)})
}

// ReinforceAction rewards the stimulus formed by cs followed by action.
func (p *PavlovianLearner) ReinforceAction(cs, action []float64, reward float64) error {
	return p.Reward(concat(cs, action), reward)
}

// PunishAction punishes the stimulus formed by cs followed by action.
func (p *PavlovianLearner) PunishAction(cs, action []float64, punishment float64) error {
	return p.Punish(concat(cs, action), punishment)
}

// ExpectedReward returns strength × reward of the matching association with
// the largest |strength|, or 0 when nothing matches.
func (p *PavlovianLearner) ExpectedReward(cs []float64) float64 {
	best := -1
	for i := range p.associations {
		a := &p.associations[i]
		if !matches(a.CS, cs) {
			continue
		}
		if best < 0 || math.Abs(a.Strength) > math.Abs(p.associations[best].Strength) {
			best = i
		}
	}
	if best < 0 {
		return 0
	}
	a := p.associations[best]
	return a.Strength * a.US.Reward
}

// IsConditioned reports whether any association for cs is stronger than the
// conditioning threshold.
func (p *PavlovianLearner) IsConditioned(cs []float64) bool {
	for i := range p.associations {
		a := &p.associations[i]
		if matches(a.CS, cs) && math.Abs(a.Strength) >= p.threshold {
			return true
		}
	}
	return false
}

func concat(a, b []float64) []float64 {
	out := make([]float64, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
