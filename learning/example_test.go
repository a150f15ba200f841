package learning

import (
	"math"
	"testing"

	"github.com/pkg/errors"
)

func TestNewExampleValidation(t *testing.T) {
	cases := []struct {
		name       string
		input      []float64
		target     []float64
		difficulty float64
	}{
		{"empty input", nil, []float64{1}, 0.5},
		{"empty target", []float64{1}, nil, 0.5},
		{"difficulty low", []float64{1}, []float64{1}, -0.1},
		{"difficulty high", []float64{1}, []float64{1}, 1.1},
		{"difficulty nan", []float64{1}, []float64{1}, math.NaN()},
		{"input nan", []float64{math.NaN()}, []float64{1}, 0.5},
		{"target inf", []float64{1}, []float64{math.Inf(1), 0.5}, 0.5},
		{"target -inf", []float64{1}, []float64{math.Inf(-1)}, 0.5},
	}
	for _, tc := range cases {
		if _, err := NewExample(tc.input, tc.target, tc.difficulty); !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("%s: Expected ErrInvalidParameter, got %v", tc.name, err)
		}
	}

	ex, err := NewExample([]float64{0, 1}, []float64{0.5}, 1)
	if err != nil {
		t.Fatalf("Expected a valid example, got %v", err)
	}
	if ex.Difficulty != 1 || len(ex.Input) != 2 {
		t.Errorf("Expected fields copied, got %+v", ex)
	}
}

func TestContainersRejectInvalidExamples(t *testing.T) {
	bad := Example{Input: []float64{0.1, 0.2}, Target: []float64{math.NaN()}}

	c, err := NewCurriculum(2)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.AddExample(bad, 0); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("Curriculum: Expected ErrInvalidParameter, got %v", err)
	}
	if c.CurrentSize() != 0 {
		t.Errorf("Expected the curriculum level to stay empty, got %d", c.CurrentSize())
	}

	s, _ := newTestScheduler(t)
	if idx, err := s.AddExample(bad); !errors.Is(err, ErrInvalidParameter) || idx != -1 {
		t.Errorf("Scheduler: Expected ErrInvalidParameter and index -1, got %d, %v", idx, err)
	}
	if s.Len() != 0 {
		t.Errorf("Expected the scheduler to stay empty, got %d", s.Len())
	}
}
