package learning

import (
	"math/rand"
	"testing"
)

func TestPuzzleShapeAndDifficulty(t *testing.T) {
	g, err := NewPuzzleGenerator(10, 3, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatal(err)
	}

	for level := LevelPreschool; level <= LevelInfinite; level++ {
		ex := g.Puzzle(level)
		if len(ex.Input) != 10 || len(ex.Target) != 3 {
			t.Fatalf("Expected 10/3 sizes, got %d/%d", len(ex.Input), len(ex.Target))
		}
		if ex.Difficulty != level.Difficulty() {
			t.Errorf("Expected difficulty %v, got %v", level.Difficulty(), ex.Difficulty)
		}
		for _, v := range ex.Target {
			if v < 0.1 || v > 0.9 {
				t.Errorf("Expected target in [0.1, 0.9], got %v", v)
			}
		}
	}
	if g.Count() != NumLevels {
		t.Errorf("Expected %d puzzles, got %d", NumLevels, g.Count())
	}
}

func TestPuzzleEasyLevelsUseFewerFeatures(t *testing.T) {
	g, _ := NewPuzzleGenerator(10, 1, rand.New(rand.NewSource(2)))
	ex := g.Puzzle(LevelPreschool)
	for i := 1; i < 10; i++ {
		if ex.Input[i] != 0 {
			t.Errorf("Expected only the first feature active at preschool level, got %v", ex.Input)
			break
		}
	}
	if g.activeFeatures(LevelInfinite) != 10 {
		t.Errorf("Expected every feature active at the infinite level")
	}
}

func TestProgressivePuzzle(t *testing.T) {
	g, _ := NewPuzzleGenerator(4, 2, rand.New(rand.NewSource(3)))
	if ex := g.ProgressivePuzzle(0); ex.Difficulty != 0 {
		t.Errorf("Expected difficulty 0, got %v", ex.Difficulty)
	}
	if ex := g.ProgressivePuzzle(1.5); ex.Difficulty != 1 {
		t.Errorf("Expected difficulty 1, got %v", ex.Difficulty)
	}
}

func TestPopulateCurriculum(t *testing.T) {
	g, _ := NewPuzzleGenerator(4, 2, rand.New(rand.NewSource(4)))
	c, _ := NewCurriculum(3)
	if err := g.Populate(c, 5); err != nil {
		t.Fatal(err)
	}
	for level := 0; level < 3; level++ {
		stats, _ := c.Level(level)
		if stats.Size != 5 {
			t.Errorf("level %d: Expected 5 examples, got %d", level, stats.Size)
		}
	}
	if err := g.Populate(c, 0); err == nil {
		t.Errorf("Expected an error for zero puzzles per level")
	}
}
