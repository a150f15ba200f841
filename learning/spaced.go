package learning

import (
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultInitialInterval = time.Hour
	DefaultLTMThreshold    = 5

	// Intervals shorter than this are treated as unscheduled and fall back
	// to the initial interval when computing the next one.
	minPriorInterval = 6 * time.Minute
)

// Scheduler is a spaced-repetition review queue. Each correct answer pushes
// an example's next review further out; a wrong answer brings it back to the
// initial interval.
type Scheduler struct {
	examples        []Example
	initialInterval time.Duration
	ltmThreshold    int
	now             func() time.Time
}

// SchedulerOption configures NewScheduler.
type SchedulerOption func(*Scheduler)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// WithInitialInterval sets the first review delay (default one hour).
func WithInitialInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.initialInterval = d }
}

// WithLTMThreshold sets the streak at which an example counts as long-term memory.
func WithLTMThreshold(n int) SchedulerOption {
	return func(s *Scheduler) { s.ltmThreshold = n }
}

// NewScheduler creates an empty review queue.
func NewScheduler(opts ...SchedulerOption) (*Scheduler, error) {
	s := &Scheduler{
		initialInterval: DefaultInitialInterval,
		ltmThreshold:    DefaultLTMThreshold,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.initialInterval <= 0 {
		return nil, errors.Wrapf(ErrInvalidParameter, "initial interval %s", s.initialInterval)
	}
	if s.ltmThreshold <= 0 {
		return nil, errors.Wrapf(ErrInvalidParameter, "ltm threshold %d", s.ltmThreshold)
	}
	return s, nil
}

// AddExample stores a deep copy of ex, due one initial interval from now. It
// returns the index of the stored example.
func (s *Scheduler) AddExample(ex Example) (int, error) {
	if err := ex.Validate(); err != nil {
		return -1, err
	}
	now := s.now()
	stored := ex.Clone()
	stored.LastReviewed = now
	stored.NextReview = now.Add(s.initialInterval)
	s.examples = appendDoubling(s.examples, stored)
	return len(s.examples) - 1, nil
}

// Len returns the number of scheduled examples.
func (s *Scheduler) Len() int { return len(s.examples) }

// NextReview returns the index and a copy of the due example with the
// earliest review time. Ties go to the example added first. ok is false when
// nothing is due.
func (s *Scheduler) NextReview() (index int, ex Example, ok bool) {
	now := s.now()
	index = -1
	for i := range s.examples {
		due := s.examples[i].NextReview
		if due.After(now) {
			continue
		}
		if index < 0 || due.Before(s.examples[index].NextReview) {
			index = i
		}
	}
	if index < 0 {
		return -1, Example{}, false
	}
	return index, s.examples[index].Clone(), true
}

// UpdateExample records the outcome of a review and reschedules the example.
func (s *Scheduler) UpdateExample(index int, correct bool) error {
	if err := s.checkIndex(index); err != nil {
		return err
	}

	ex := &s.examples[index]
	now := s.now()
	prior := ex.NextReview.Sub(ex.LastReviewed)

	ex.Attempts++
	ex.Correct = correct
	ex.LastReviewed = now

	if !correct {
		ex.CorrectStreak = 0
		ex.NextReview = now.Add(s.initialInterval)
		return nil
	}

	ex.CorrectStreak++
	if prior < minPriorInterval {
		prior = s.initialInterval
	}
	ex.NextReview = now.Add(time.Duration(float64(prior) * intervalMultiplier(ex.CorrectStreak)))
	return nil
}

// intervalMultiplier is 2.5 for the first correct answer and grows by 0.5
// with every further one.
func intervalMultiplier(streak int) float64 {
	extra := streak - 1
	if extra < 0 {
		extra = 0
	}
	return 2.5 + float64(extra)*0.5
}

// IsInLTM reports whether the example's streak reached the LTM threshold.
func (s *Scheduler) IsInLTM(index int) (bool, error) {
	if err := s.checkIndex(index); err != nil {
		return false, err
	}
	return s.examples[index].CorrectStreak >= s.ltmThreshold, nil
}

// Example returns a copy of the example at index.
func (s *Scheduler) Example(index int) (Example, error) {
	if err := s.checkIndex(index); err != nil {
		return Example{}, err
	}
	return s.examples[index].Clone(), nil
}

// DueCount returns how many examples are due now.
func (s *Scheduler) DueCount() int {
	now := s.now()
	n := 0
	for i := range s.examples {
		if !s.examples[i].NextReview.After(now) {
			n++
		}
	}
	return n
}

// LTMCount returns how many examples are in long-term memory.
func (s *Scheduler) LTMCount() int {
	n := 0
	for i := range s.examples {
		if s.examples[i].CorrectStreak >= s.ltmThreshold {
			n++
		}
	}
	return n
}

func (s *Scheduler) checkIndex(index int) error {
	if index < 0 || index >= len(s.examples) {
		return errors.Wrapf(ErrIndexOutOfRange, "index %d of %d", index, len(s.examples))
	}
	return nil
}
