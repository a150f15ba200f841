package learning

import (
	"github.com/pkg/errors"
)

// Level names the stages of a curriculum, easiest first.
type Level int

const (
	LevelPreschool Level = iota
	LevelKindergarten
	LevelElementary
	LevelMiddleSchool
	LevelHighSchool
	LevelUndergraduate
	LevelGraduate
	LevelMaster
	LevelGrandmaster
	LevelInfinite
)

// NumLevels is the number of named levels.
const NumLevels = int(LevelInfinite) + 1

// DefaultMasteryThreshold is the accuracy required to leave a level.
const DefaultMasteryThreshold = 0.85

func (l Level) String() string {
	switch l {
	case LevelPreschool:
		return "preschool"
	case LevelKindergarten:
		return "kindergarten"
	case LevelElementary:
		return "elementary"
	case LevelMiddleSchool:
		return "middle-school"
	case LevelHighSchool:
		return "high-school"
	case LevelUndergraduate:
		return "undergraduate"
	case LevelGraduate:
		return "graduate"
	case LevelMaster:
		return "master"
	case LevelGrandmaster:
		return "grandmaster"
	case LevelInfinite:
		return "infinite"
	default:
		return "unknown"
	}
}

// Difficulty maps a level onto [0, 1].
func (l Level) Difficulty() float64 {
	return float64(l) / float64(LevelInfinite)
}

// LevelForDifficulty maps a difficulty in [0, 1] back onto a level.
func LevelForDifficulty(d float64) Level {
	if d <= 0 {
		return LevelPreschool
	}
	if d >= 1 {
		return LevelInfinite
	}
	return Level(d*float64(LevelInfinite) + 1e-9)
}

// DifficultyLevel is one tier of a curriculum and its example pool.
type DifficultyLevel struct {
	Level            Level
	Examples         []Example
	MasteryThreshold float64
	Accuracy         float64
	ExamplesSeen     int
}

// LevelStats is a read-only summary of a DifficultyLevel.
type LevelStats struct {
	Level            Level
	Size             int
	MasteryThreshold float64
	Accuracy         float64
	ExamplesSeen     int
}

// Curriculum is an ordered, one-directional sequence of difficulty levels.
type Curriculum struct {
	levels  []DifficultyLevel
	current int
}

// NewCurriculum creates a curriculum with numLevels levels starting at the
// easiest one.
func NewCurriculum(numLevels int) (*Curriculum, error) {
	if numLevels <= 0 || numLevels > NumLevels {
		return nil, errors.Wrapf(ErrInvalidParameter, "level count %d outside 1..%d", numLevels, NumLevels)
	}

	c := &Curriculum{levels: make([]DifficultyLevel, numLevels)}
	for i := range c.levels {
		c.levels[i] = DifficultyLevel{
			Level:            Level(i),
			MasteryThreshold: DefaultMasteryThreshold,
		}
	}
	return c, nil
}

func (c *Curriculum) checkLevel(level int) error {
	if level < 0 || level >= len(c.levels) {
		return errors.Wrapf(ErrLevelOutOfRange, "level %d of %d", level, len(c.levels))
	}
	return nil
}

// AddExample stores a deep copy of ex in the pool of the given level.
func (c *Curriculum) AddExample(ex Example, level int) error {
	if err := c.checkLevel(level); err != nil {
		return err
	}
	if err := ex.Validate(); err != nil {
		return err
	}
	lvl := &c.levels[level]
	lvl.Examples = appendDoubling(lvl.Examples, ex.Clone())
	return nil
}

// CurrentLevel returns the index of the active level.
func (c *Curriculum) CurrentLevel() int { return c.current }

// NumLevels returns the number of levels.
func (c *Curriculum) NumLevels() int { return len(c.levels) }

// AtFinalLevel reports whether the active level is the last one.
func (c *Curriculum) AtFinalLevel() bool { return c.current == len(c.levels)-1 }

// CurrentExamples returns deep copies of the examples in the active level.
func (c *Curriculum) CurrentExamples() []Example {
	pool := c.levels[c.current].Examples
	out := make([]Example, len(pool))
	for i, ex := range pool {
		out[i] = ex.Clone()
	}
	return out
}

// CurrentSize returns the number of examples in the active level.
func (c *Curriculum) CurrentSize() int { return len(c.levels[c.current].Examples) }

// RecordSeen adds n to the examples-seen counter of the active level.
func (c *Curriculum) RecordSeen(n int) {
	c.levels[c.current].ExamplesSeen += n
}

// ShouldAdvance records accuracy on the active level and reports whether it
// reaches that level's mastery threshold with a harder level still ahead.
func (c *Curriculum) ShouldAdvance(accuracy float64) bool {
	lvl := &c.levels[c.current]
	lvl.Accuracy = accuracy
	return accuracy >= lvl.MasteryThreshold && !c.AtFinalLevel()
}

// AdvanceLevel moves to the next level, saturating at the last one. It
// reports whether the level changed.
func (c *Curriculum) AdvanceLevel() bool {
	if c.AtFinalLevel() {
		return false
	}
	c.current++
	return true
}

// SetMasteryThreshold overrides the mastery threshold of one level.
func (c *Curriculum) SetMasteryThreshold(level int, threshold float64) error {
	if err := c.checkLevel(level); err != nil {
		return err
	}
	if threshold <= 0 || threshold > 1 {
		return errors.Wrapf(ErrInvalidParameter, "mastery threshold %.3f outside (0,1]", threshold)
	}
	c.levels[level].MasteryThreshold = threshold
	return nil
}

// Level returns a summary of one level.
func (c *Curriculum) Level(level int) (LevelStats, error) {
	if err := c.checkLevel(level); err != nil {
		return LevelStats{}, err
	}
	l := c.levels[level]
	return LevelStats{
		Level:            l.Level,
		Size:             len(l.Examples),
		MasteryThreshold: l.MasteryThreshold,
		Accuracy:         l.Accuracy,
		ExamplesSeen:     l.ExamplesSeen,
	}, nil
}

// SetCurrentLevel jumps to a level directly. Used when restoring a checkpoint.
func (c *Curriculum) SetCurrentLevel(level int) error {
	if err := c.checkLevel(level); err != nil {
		return err
	}
	c.current = level
	return nil
}
