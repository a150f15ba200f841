package learning

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
)

// PuzzleGenerator synthesizes examples of graded difficulty. Targets follow a
// fixed hidden rule, target = 0.5 + 0.4·tanh(W·x), and harder levels activate
// more input features, so higher levels are genuinely harder to fit.
type PuzzleGenerator struct {
	inputSize  int
	targetSize int
	rule       []float64 // targetSize × inputSize
	rng        *rand.Rand
	count      int
}

// NewPuzzleGenerator creates a generator whose hidden rule and inputs are
// drawn from rng.
func NewPuzzleGenerator(inputSize, targetSize int, rng *rand.Rand) (*PuzzleGenerator, error) {
	if inputSize <= 0 || targetSize <= 0 {
		return nil, errors.Wrapf(ErrInvalidParameter, "puzzle sizes %d/%d", inputSize, targetSize)
	}
	if rng == nil {
		return nil, errors.Wrap(ErrInvalidParameter, "puzzle generator needs a random source")
	}

	g := &PuzzleGenerator{
		inputSize:  inputSize,
		targetSize: targetSize,
		rule:       make([]float64, targetSize*inputSize),
		rng:        rng,
	}
	for i := range g.rule {
		g.rule[i] = rng.NormFloat64()
	}
	return g, nil
}

// Count returns how many puzzles have been generated.
func (g *PuzzleGenerator) Count() int { return g.count }

// activeFeatures is the number of leading inputs a level uses.
func (g *PuzzleGenerator) activeFeatures(level Level) int {
	n := int(math.Ceil(float64(g.inputSize) * float64(level+1) / float64(NumLevels)))
	if n < 1 {
		n = 1
	}
	if n > g.inputSize {
		n = g.inputSize
	}
	return n
}

// Puzzle generates one example for the given level.
func (g *PuzzleGenerator) Puzzle(level Level) Example {
	if level < LevelPreschool {
		level = LevelPreschool
	}
	if level > LevelInfinite {
		level = LevelInfinite
	}

	active := g.activeFeatures(level)
	input := make([]float64, g.inputSize)
	for i := 0; i < active; i++ {
		input[i] = g.rng.Float64()*2 - 1
	}

	target := make([]float64, g.targetSize)
	for k := range target {
		row := g.rule[k*g.inputSize : (k+1)*g.inputSize]
		sum := 0.0
		for i := 0; i < active; i++ {
			sum += row[i] * input[i]
		}
		target[k] = 0.5 + 0.4*math.Tanh(sum/math.Sqrt(float64(active)))
	}

	g.count++
	return Example{Input: input, Target: target, Difficulty: level.Difficulty()}
}

// ProgressivePuzzle generates an example for a continuous difficulty in [0, 1].
func (g *PuzzleGenerator) ProgressivePuzzle(difficulty float64) Example {
	return g.Puzzle(LevelForDifficulty(difficulty))
}

// Populate adds perLevel puzzles to every level of c.
func (g *PuzzleGenerator) Populate(c *Curriculum, perLevel int) error {
	if perLevel <= 0 {
		return errors.Wrapf(ErrInvalidParameter, "puzzles per level %d", perLevel)
	}
	for level := 0; level < c.NumLevels(); level++ {
		for i := 0; i < perLevel; i++ {
			if err := c.AddExample(g.Puzzle(Level(level)), level); err != nil {
				return err
			}
		}
	}
	return nil
}
