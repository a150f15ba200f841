// Package training drives the hybrid network with three pedagogical
// strategies: curriculum progression, spaced repetition and Pavlovian
// association. An Engine owns one network, its optimizer and the strategy
// state, and persists all of it in binary checkpoints.
package training

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/openfluke/tutor/learning"
	"github.com/openfluke/tutor/nn"
)

// Strategy names the source of the examples trained in one epoch.
type Strategy string

const (
	StrategyNone        Strategy = "none"
	StrategyCurriculum  Strategy = "curriculum"
	StrategySpaced      Strategy = "spaced"
	StrategyPavlovian   Strategy = "pavlovian"
	StrategyProgressive Strategy = "progressive"
)

// Stats is a snapshot of training progress.
type Stats struct {
	CurrentLoss        float64
	AverageLoss        float64
	Accuracy           float64
	Epoch              uint64
	ExamplesSeen       uint64
	CurrentLevel       int
	TrainingTime       time.Duration
	ValidationAccuracy float64
}

// EpochResult summarizes one call to a training strategy.
type EpochResult struct {
	Strategy       Strategy
	Examples       int
	Hallucinations int
	Loss           float64 // mean over trained examples
	Accuracy       float64
	Advanced       bool // curriculum moved up a level
}

// Engine is the training orchestrator. It is not safe for concurrent use.
type Engine struct {
	cfg Config

	network   *nn.Network
	optimizer nn.Optimizer
	schedule  nn.LRScheduler
	projector nn.Projector

	curriculum *learning.Curriculum
	spaced     *learning.Scheduler
	pavlovian  *learning.PavlovianLearner
	puzzles    *learning.PuzzleGenerator

	observers []Observer
	log       *logrus.Entry
	runID     uuid.UUID

	stats   Stats
	lossSum float64
}

type engineOptions struct {
	logger    *logrus.Logger
	observers []Observer
	projector nn.Projector
	clock     func() time.Time
}

// Option configures NewEngine.
type Option func(*engineOptions)

// WithLogger sets the logrus logger (default logrus.New()).
func WithLogger(logger *logrus.Logger) Option {
	return func(o *engineOptions) { o.logger = logger }
}

// WithObserver registers an observer for step and epoch events.
func WithObserver(obs Observer) Option {
	return func(o *engineOptions) { o.observers = append(o.observers, obs) }
}

// WithProjector sets the batch dense projector used by Evaluate.
func WithProjector(p nn.Projector) Option {
	return func(o *engineOptions) { o.projector = p }
}

// WithClock replaces time.Now for review scheduling and association timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) { o.clock = now }
}

// NewEngine creates an engine training network according to cfg.
func NewEngine(network *nn.Network, cfg Config, opts ...Option) (*Engine, error) {
	if network == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "nil network")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := engineOptions{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logrus.New()
	}

	kind, _ := nn.ParseOptimizerType(cfg.Optimizer)
	optimizer, err := nn.NewOptimizer(kind, cfg.OptimizerParams)
	if err != nil {
		return nil, err
	}
	schedule, err := nn.NewSchedulerFromConfig(cfg.schedule())
	if err != nil {
		return nil, errors.Wrap(ErrInvalidConfig, err.Error())
	}

	curriculum, err := learning.NewCurriculum(cfg.NumLevels)
	if err != nil {
		return nil, err
	}
	for level := 0; level < cfg.NumLevels; level++ {
		if err := curriculum.SetMasteryThreshold(level, cfg.MasteryThreshold); err != nil {
			return nil, err
		}
	}
	spaced, err := learning.NewScheduler(
		learning.WithClock(o.clock),
		learning.WithInitialInterval(cfg.reviewInterval()),
		learning.WithLTMThreshold(cfg.LTMThreshold),
	)
	if err != nil {
		return nil, err
	}
	pavlovian, err := learning.NewPavlovianLearner(learning.Hybrid, cfg.PavlovianRate,
		learning.WithDecayRate(cfg.PavlovianDecay),
		learning.WithPavlovianClock(o.clock),
	)
	if err != nil {
		return nil, err
	}
	puzzles, err := learning.NewPuzzleGenerator(network.InputSize, network.OutputSize, nn.NewRand(cfg.Seed))
	if err != nil {
		return nil, err
	}

	runID := uuid.New()
	return &Engine{
		cfg:        cfg,
		network:    network,
		optimizer:  optimizer,
		schedule:   schedule,
		projector:  o.projector,
		curriculum: curriculum,
		spaced:     spaced,
		pavlovian:  pavlovian,
		puzzles:    puzzles,
		observers:  o.observers,
		log:        o.logger.WithField("run_id", runID.String()),
		runID:      runID,
	}, nil
}

func (e *Engine) Network() *nn.Network                  { return e.network }
func (e *Engine) Optimizer() nn.Optimizer               { return e.optimizer }
func (e *Engine) Curriculum() *learning.Curriculum      { return e.curriculum }
func (e *Engine) Scheduler() *learning.Scheduler        { return e.spaced }
func (e *Engine) Pavlovian() *learning.PavlovianLearner { return e.pavlovian }
func (e *Engine) Puzzles() *learning.PuzzleGenerator    { return e.puzzles }
func (e *Engine) RunID() uuid.UUID                      { return e.runID }
func (e *Engine) Config() Config                        { return e.cfg }

// Stats returns a snapshot of the training statistics.
func (e *Engine) Stats() Stats { return e.stats }

// AddObserver registers an observer after construction.
func (e *Engine) AddObserver(obs Observer) {
	e.observers = append(e.observers, obs)
}

// step runs forward, builds the target from the output, then backward, clip
// and one optimizer update. Sizes are checked before Forward so a rejected
// step leaves the recurrent state untouched. A non-finite output, loss or
// gradient aborts before any update and clears the recurrent state it would
// otherwise leave behind.
func (e *Engine) step(strategy Strategy, input []float64, target func(out []float64) []float64) (float64, bool, error) {
	if err := e.checkLen("input", input, e.network.InputSize); err != nil {
		return 0, false, err
	}
	out, err := e.network.Forward(input)
	if err != nil {
		return 0, false, err
	}
	if err := nn.CheckFinite(out); err != nil {
		return 0, false, e.hallucinated(strategy, err)
	}

	want := target(out)
	if err := e.checkLen("target", want, e.network.OutputSize); err != nil {
		e.network.ResetState()
		return 0, false, err
	}
	loss, err := e.network.Backward(want)
	if err != nil {
		return 0, false, err
	}
	if norm := nn.GradientNorm(e.network); !isFinite(loss) || !isFinite(norm) {
		return 0, false, e.hallucinated(strategy, errors.Wrapf(nn.ErrHallucination, "loss %v, gradient norm %v", loss, norm))
	}

	nn.ClipGradients(e.network, e.cfg.GradientClip)
	lr := e.schedule.LearningRate(e.optimizer.StepCount())
	e.optimizer.Step(e.network, lr)

	correct := nn.WithinTolerance(out, want, e.cfg.CorrectTolerance)

	e.stats.CurrentLoss = loss
	e.stats.ExamplesSeen++
	e.lossSum += loss
	e.stats.AverageLoss = e.lossSum / float64(e.stats.ExamplesSeen)

	e.notifyStep(Event{
		Type:         "step",
		Strategy:     string(strategy),
		Step:         e.optimizer.StepCount(),
		Loss:         loss,
		LearningRate: lr,
		Correct:      correct,
	})
	return loss, correct, nil
}

func (e *Engine) hallucinated(strategy Strategy, err error) error {
	e.log.WithField("strategy", strategy).WithError(err).Warn("hallucinated step, skipping update")
	e.network.ResetState()
	return err
}

func (e *Engine) checkLen(name string, v []float64, want int) error {
	if len(v) != want {
		return errors.Wrapf(nn.ErrSizeMismatch, "%s has %d values, network expects %d", name, len(v), want)
	}
	return nil
}

func isFinite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }

func fixedTarget(t []float64) func([]float64) []float64 {
	return func([]float64) []float64 { return t }
}

// trainExample runs one supervised step and folds it into res. Hallucinations
// count as incorrect and are not fatal.
func (e *Engine) trainExample(res *EpochResult, ex learning.Example) (bool, error) {
	if err := e.checkLen("target", ex.Target, e.network.OutputSize); err != nil {
		return false, err
	}
	loss, correct, err := e.step(res.Strategy, ex.Input, fixedTarget(ex.Target))
	if errors.Is(err, nn.ErrHallucination) {
		res.Hallucinations++
		return false, nil
	}
	if err != nil {
		return false, err
	}
	res.Examples++
	res.Loss += loss
	if correct {
		res.Accuracy++
	}
	return correct, nil
}

func (r *EpochResult) finish() {
	total := r.Examples + r.Hallucinations
	if r.Examples > 0 {
		r.Loss /= float64(r.Examples)
	}
	if total > 0 {
		r.Accuracy /= float64(total)
	}
}

func (e *Engine) timed(start time.Time) {
	e.stats.TrainingTime += time.Since(start)
}

// TrainWithCurriculum sweeps every example of the current level once, then
// advances the curriculum if the sweep accuracy reaches mastery.
func (e *Engine) TrainWithCurriculum() (EpochResult, error) {
	res := EpochResult{Strategy: StrategyCurriculum}
	if !e.cfg.UseCurriculum {
		return res, errors.Wrap(ErrStrategyDisabled, "curriculum")
	}
	defer e.timed(time.Now())

	examples := e.curriculum.CurrentExamples()
	for i, ex := range examples {
		if _, err := e.trainExample(&res, ex); err != nil {
			return res, errors.Wrapf(err, "curriculum example %d", i)
		}
	}
	res.finish()
	if len(examples) == 0 {
		return res, nil
	}

	e.curriculum.RecordSeen(len(examples))
	e.stats.Accuracy = res.Accuracy

	if e.curriculum.ShouldAdvance(res.Accuracy) {
		from := e.curriculum.CurrentLevel()
		res.Advanced = e.curriculum.AdvanceLevel()
		e.log.WithFields(logrus.Fields{
			"from":     learning.Level(from).String(),
			"to":       learning.Level(e.curriculum.CurrentLevel()).String(),
			"accuracy": res.Accuracy,
		}).Info("curriculum level advanced")
	}
	e.stats.CurrentLevel = e.curriculum.CurrentLevel()
	return res, nil
}

// TrainWithPavlovian pairs cs with us, then trains the network on cs with the
// first output pulled toward the expected reward. The other outputs are
// targeted at their own current values and so carry no gradient.
func (e *Engine) TrainWithPavlovian(cs []float64, us learning.Unconditioned) (EpochResult, error) {
	res := EpochResult{Strategy: StrategyPavlovian}
	if !e.cfg.UsePavlovian {
		return res, errors.Wrap(ErrStrategyDisabled, "pavlovian")
	}
	defer e.timed(time.Now())

	if err := e.checkLen("conditioned stimulus", cs, e.network.InputSize); err != nil {
		return res, err
	}
	if err := e.pavlovian.PairStimuli(cs, us); err != nil {
		return res, err
	}
	expected := e.pavlovian.ExpectedReward(cs)

	loss, correct, err := e.step(StrategyPavlovian, cs, func(out []float64) []float64 {
		target := append([]float64(nil), out...)
		target[0] = expected
		return target
	})
	if errors.Is(err, nn.ErrHallucination) {
		res.Hallucinations = 1
		return res, err
	}
	if err != nil {
		return res, err
	}

	res.Examples = 1
	res.Loss = loss
	if correct {
		res.Accuracy = 1
	}
	return res, nil
}

// TrainWithSpacedRepetition trains the most overdue review example, if any,
// and records the outcome back into the scheduler.
func (e *Engine) TrainWithSpacedRepetition() (EpochResult, error) {
	res := EpochResult{Strategy: StrategySpaced}
	if !e.cfg.UseSpacedRepetition {
		return res, errors.Wrap(ErrStrategyDisabled, "spaced repetition")
	}
	defer e.timed(time.Now())

	if err := e.reviewNext(&res); err != nil && err != errNothingDue {
		return res, err
	}
	res.finish()
	return res, nil
}

// reviewNext trains the next due example. It returns errNothingDue when the
// queue has nothing to review.
func (e *Engine) reviewNext(res *EpochResult) error {
	index, ex, ok := e.spaced.NextReview()
	if !ok {
		return errNothingDue
	}
	correct, err := e.trainExample(res, ex)
	if err != nil {
		return errors.Wrapf(err, "review example %d", index)
	}
	return e.spaced.UpdateExample(index, correct)
}

var errNothingDue = errors.New("no review due")

// TrainEpoch runs one epoch with the first applicable strategy: the current
// curriculum level when curriculum learning is on and the level has examples,
// otherwise every due review example. With neither it only counts the epoch.
func (e *Engine) TrainEpoch() (EpochResult, error) {
	var (
		res EpochResult
		err error
	)

	switch {
	case e.cfg.UseCurriculum && e.curriculum.CurrentSize() > 0:
		res, err = e.TrainWithCurriculum()
	case e.cfg.UseSpacedRepetition:
		res, err = e.drainReviews()
	default:
		res = EpochResult{Strategy: StrategyNone}
	}
	if err != nil {
		return res, err
	}

	if e.cfg.L2Lambda > 0 && res.Examples > 0 {
		e.ApplyRegularization(e.cfg.L2Lambda)
	}

	e.stats.Epoch++
	e.notifyEpoch(Event{
		Type:     "epoch",
		Strategy: string(res.Strategy),
		Loss:     res.Loss,
		Accuracy: res.Accuracy,
	})
	return res, nil
}

func (e *Engine) drainReviews() (EpochResult, error) {
	res := EpochResult{Strategy: StrategySpaced}
	defer e.timed(time.Now())

	// Each review reschedules its example into the future, so at most Len()
	// examples are due in one pass.
	for i := 0; i < e.spaced.Len(); i++ {
		err := e.reviewNext(&res)
		if err == errNothingDue {
			break
		}
		if err != nil {
			return res, err
		}
	}
	res.finish()
	if res.Examples > 0 {
		e.stats.Accuracy = res.Accuracy
	}
	return res, nil
}

// TrainFull runs epochs until MaxEpochs, the loss drops below the early
// stopping threshold, Patience epochs pass without improvement, an epoch has
// nothing to train, or ctx is done.
func (e *Engine) TrainFull(ctx context.Context) (Stats, error) {
	best := 0.0
	stale := 0

	for epoch := 0; epoch < e.cfg.MaxEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return e.stats, err
		}

		res, err := e.TrainEpoch()
		if err != nil {
			return e.stats, errors.Wrapf(err, "epoch %d", e.stats.Epoch)
		}
		if res.Examples == 0 {
			e.log.WithField("epoch", e.stats.Epoch).Info("nothing left to train")
			break
		}

		if e.cfg.EarlyStoppingThreshold > 0 && res.Loss < e.cfg.EarlyStoppingThreshold {
			e.log.WithFields(logrus.Fields{
				"epoch": e.stats.Epoch,
				"loss":  res.Loss,
			}).Info("early stopping: loss below threshold")
			break
		}

		if epoch == 0 || res.Loss < best {
			best = res.Loss
			stale = 0
		} else {
			stale++
		}
		if e.cfg.Patience > 0 && stale >= e.cfg.Patience {
			e.log.WithFields(logrus.Fields{
				"epoch":     e.stats.Epoch,
				"best_loss": best,
			}).Info("early stopping: no improvement")
			break
		}
	}
	return e.stats, nil
}

// TrainProgressive trains steps generated puzzles whose difficulty ramps
// linearly from start to end.
func (e *Engine) TrainProgressive(ctx context.Context, start, end float64, steps int) (EpochResult, error) {
	res := EpochResult{Strategy: StrategyProgressive}
	if steps <= 0 {
		return res, errors.Wrapf(ErrInvalidConfig, "progressive steps %d", steps)
	}
	defer e.timed(time.Now())

	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			res.finish()
			return res, err
		}
		d := start
		if steps > 1 {
			d = start + (end-start)*float64(i)/float64(steps-1)
		}
		if _, err := e.trainExample(&res, e.puzzles.ProgressivePuzzle(d)); err != nil {
			return res, errors.Wrapf(err, "progressive step %d", i)
		}
	}
	res.finish()
	e.stats.Accuracy = res.Accuracy
	return res, nil
}

// predict runs a forward-only batch, on the projector when one is set.
// Projector failures fall back to the CPU.
func (e *Engine) predict(inputs [][]float64) ([][]float64, error) {
	if e.projector != nil {
		out, err := e.network.PredictBatch(inputs, e.projector)
		if err == nil {
			return out, nil
		}
		e.log.WithError(err).Warn("projector failed, falling back to CPU")
	}
	return e.network.PredictBatch(inputs, nil)
}

// Evaluate returns the fraction of inputs whose prediction is within the
// correctness tolerance of the target in every dimension. No network or
// optimizer state changes; only the validation accuracy statistic is set.
func (e *Engine) Evaluate(inputs, targets [][]float64) (float64, error) {
	if len(inputs) != len(targets) {
		return 0, errors.Wrapf(nn.ErrSizeMismatch, "%d inputs, %d targets", len(inputs), len(targets))
	}
	if len(inputs) == 0 {
		return 0, nil
	}

	outputs, err := e.predict(inputs)
	if err != nil {
		return 0, err
	}

	correct := 0
	for i, out := range outputs {
		if nn.WithinTolerance(out, targets[i], e.cfg.CorrectTolerance) {
			correct++
		}
	}
	acc := float64(correct) / float64(len(inputs))
	e.stats.ValidationAccuracy = acc
	return acc, nil
}

// ValidatePredictions checks that predictions for every input are finite and
// within the hallucination bound.
func (e *Engine) ValidatePredictions(inputs [][]float64) error {
	outputs, err := e.predict(inputs)
	if err != nil {
		return err
	}
	for i, out := range outputs {
		if err := nn.CheckPrediction(out, e.cfg.HallucinationBound); err != nil {
			return errors.Wrapf(err, "input %d", i)
		}
	}
	return nil
}

// ApplyRegularization shrinks every weight tensor by (1 - lambda).
func (e *Engine) ApplyRegularization(lambda float64) {
	nn.ApplyL2(e.network, lambda)
}

// Reset clears the recurrent state and the optimizer state together.
func (e *Engine) Reset() {
	e.network.ResetState()
	e.optimizer.Reset()
}

func (e *Engine) notifyStep(event Event) {
	if len(e.observers) == 0 {
		return
	}
	e.stamp(&event)
	for _, o := range e.observers {
		o.OnStep(event)
	}
}

func (e *Engine) notifyEpoch(event Event) {
	if len(e.observers) == 0 {
		return
	}
	e.stamp(&event)
	for _, o := range e.observers {
		o.OnEpoch(event)
	}
}

func (e *Engine) stamp(event *Event) {
	event.RunID = e.runID.String()
	event.Epoch = e.stats.Epoch
	event.Level = e.curriculum.CurrentLevel()
	event.Time = time.Now()
}
