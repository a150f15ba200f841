// Command tutor trains a hybrid Dense→LSTM network on generated puzzles using
// curriculum, spaced-repetition and Pavlovian strategies, then writes a
// checkpoint and a model bundle.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/openfluke/tutor/gpu"
	"github.com/openfluke/tutor/inference"
	"github.com/openfluke/tutor/learning"
	"github.com/openfluke/tutor/nn"
	"github.com/openfluke/tutor/training"
)

type flags struct {
	config      string
	writeConfig string

	inputSize  int
	hiddenSize int
	outputSize int
	activation string

	epochs      int
	optimizer   string
	perLevel    int
	reviews     int
	pairings    int
	progressive int
	holdout     int
	useGPU      bool

	checkpoint string
	resume     bool
	model      string

	httpObserver string
	wsObserver   string

	logLevel string
	logJSON  bool
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.config, "config", "", "JSON training config (defaults when empty)")
	flag.StringVar(&f.writeConfig, "write-config", "", "write the effective config to this path and exit")

	flag.IntVar(&f.inputSize, "input", 8, "network input size")
	flag.IntVar(&f.hiddenSize, "hidden", 16, "dense/LSTM hidden size")
	flag.IntVar(&f.outputSize, "output", 4, "network output size")
	flag.StringVar(&f.activation, "activation", "sigmoid", "dense activation: sigmoid, tanh, relu, softmax, linear")

	flag.IntVar(&f.epochs, "epochs", 0, "override max_epochs")
	flag.StringVar(&f.optimizer, "optimizer", "", "override optimizer: sgd, adam, adagrad, rmsprop")
	flag.IntVar(&f.perLevel, "puzzles", 20, "generated puzzles per curriculum level")
	flag.IntVar(&f.reviews, "reviews", 10, "generated examples added to the review queue")
	flag.IntVar(&f.pairings, "pairings", 10, "Pavlovian reward pairings before training")
	flag.IntVar(&f.progressive, "progressive", 0, "progressive warm-up steps before curriculum training")
	flag.IntVar(&f.holdout, "holdout", 50, "generated examples used for validation")
	flag.BoolVar(&f.useGPU, "gpu", false, "project the dense stage on WebGPU during evaluation")

	flag.StringVar(&f.checkpoint, "checkpoint", "tutor.ckpt", "checkpoint path (empty disables)")
	flag.BoolVar(&f.resume, "resume", false, "resume from -checkpoint when it exists")
	flag.StringVar(&f.model, "model", "", "also write a JSON model bundle here")

	flag.StringVar(&f.httpObserver, "observe-http", "", "POST training events to this URL")
	flag.StringVar(&f.wsObserver, "observe-ws", "", "stream training events to this websocket URL")

	flag.StringVar(&f.logLevel, "log-level", "info", "log level")
	flag.BoolVar(&f.logJSON, "log-json", false, "log as JSON")
	flag.Parse()
	return f
}

func newLogger(f flags) *logrus.Logger {
	log := logrus.New()
	if level, err := logrus.ParseLevel(f.logLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.WithError(err).Warn("unknown log level, using info")
	}
	if f.logJSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}

func loadConfig(f flags) (training.Config, error) {
	cfg := training.DefaultConfig()
	if f.config != "" {
		var err error
		if cfg, err = training.LoadConfig(f.config); err != nil {
			return cfg, err
		}
	}
	if f.epochs > 0 {
		cfg.MaxEpochs = f.epochs
	}
	if f.optimizer != "" {
		cfg.Optimizer = f.optimizer
	}
	if f.useGPU {
		cfg.UseGPU = true
	}
	return cfg, cfg.Validate()
}

func main() {
	f := parseFlags()
	log := newLogger(f)

	cfg, err := loadConfig(f)
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	if f.writeConfig != "" {
		if err := training.SaveConfig(f.writeConfig, cfg); err != nil {
			log.WithError(err).Fatal("write config")
		}
		log.WithField("path", f.writeConfig).Info("config written")
		return
	}

	opts := []training.Option{
		training.WithLogger(log),
		training.WithObserver(training.NewLogObserver(log)),
	}

	var projector nn.Projector
	if cfg.UseGPU {
		gpu.SetLogger(log)
		p, err := gpu.NewDenseProjector()
		if err != nil {
			log.WithError(err).Warn("GPU unavailable, evaluating on CPU")
		} else {
			defer p.Close()
			projector = p
			opts = append(opts, training.WithProjector(p))
		}
	}

	if f.httpObserver != "" {
		opts = append(opts, training.WithObserver(training.NewHTTPObserver(f.httpObserver)))
	}
	if f.wsObserver != "" {
		ws, err := training.DialWebSocketObserver(f.wsObserver, "http://localhost/", 256)
		if err != nil {
			log.WithError(err).Warn("websocket observer disabled")
		} else {
			defer ws.Close()
			opts = append(opts, training.WithObserver(ws))
		}
	}

	engine, err := buildEngine(f, cfg, opts)
	if err != nil {
		log.WithError(err).Fatal("build engine")
	}
	log.WithFields(logrus.Fields{
		"run_id":    engine.RunID().String(),
		"params":    nn.CountParams(engine.Network()),
		"optimizer": engine.Optimizer().Name(),
	}).Info("engine ready")

	if err := seed(engine, f); err != nil {
		log.WithError(err).Fatal("seed training data")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if f.progressive > 0 {
		res, err := engine.TrainProgressive(ctx, 0, 1, f.progressive)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Fatal("progressive training")
		}
		log.WithFields(logrus.Fields{
			"steps":    res.Examples,
			"loss":     res.Loss,
			"accuracy": res.Accuracy,
		}).Info("progressive warm-up done")
	}

	if _, err = engine.TrainFull(ctx); errors.Is(err, context.Canceled) {
		log.Warn("interrupted, saving progress")
	} else if err != nil {
		log.WithError(err).Fatal("training failed")
	}

	validate(engine, f, log)

	if f.checkpoint != "" {
		if err := engine.SaveCheckpoint(f.checkpoint); err != nil {
			log.WithError(err).Error("save checkpoint")
		}
	}
	if f.model != "" {
		infer := inference.NewEngine(engine.Network(), inference.WithLogger(log), inference.WithProjector(projector))
		if err := infer.SaveModel(f.model); err != nil {
			log.WithError(err).Error("save model")
		}
	}

	stats := engine.Stats()
	log.WithFields(logrus.Fields{
		"epochs":         stats.Epoch,
		"examples":       stats.ExamplesSeen,
		"level":          learning.Level(stats.CurrentLevel).String(),
		"average_loss":   stats.AverageLoss,
		"accuracy":       stats.Accuracy,
		"val_accuracy":   stats.ValidationAccuracy,
		"training_time":  stats.TrainingTime.String(),
		"curriculum_top": engine.Curriculum().AtFinalLevel(),
	}).Info("training finished")
}

func buildEngine(f flags, cfg training.Config, opts []training.Option) (*training.Engine, error) {
	if f.resume && f.checkpoint != "" {
		if _, err := os.Stat(f.checkpoint); err == nil {
			return training.NewFromCheckpoint(f.checkpoint, cfg, opts...)
		}
	}
	network, err := nn.NewNetwork(f.inputSize, f.hiddenSize, f.outputSize,
		nn.WithSeed(cfg.Seed),
		nn.WithDenseActivation(nn.ParseActivation(f.activation)),
	)
	if err != nil {
		return nil, err
	}
	return training.NewEngine(network, cfg, opts...)
}

// seed fills the curriculum and review queue with generated puzzles and
// conditions the Pavlovian learner on a few rewarded stimuli.
func seed(e *training.Engine, f flags) error {
	puzzles := e.Puzzles()
	if f.perLevel > 0 {
		if err := puzzles.Populate(e.Curriculum(), f.perLevel); err != nil {
			return err
		}
	}
	for i := 0; i < f.reviews; i++ {
		if _, err := e.Scheduler().AddExample(puzzles.ProgressivePuzzle(float64(i) / float64(f.reviews))); err != nil {
			return err
		}
	}

	if !e.Config().UsePavlovian {
		return nil
	}
	for i := 0; i < f.pairings; i++ {
		ex := puzzles.Puzzle(learning.LevelPreschool)
		// Reward stimuli whose first target is above the midpoint, punish the rest
		us := learning.Unconditioned{Vector: ex.Target, Reward: ex.Target[0] - 0.5}
		if _, err := e.TrainWithPavlovian(ex.Input, us); err != nil && !errors.Is(err, nn.ErrHallucination) {
			return err
		}
	}
	return nil
}

func validate(e *training.Engine, f flags, log *logrus.Logger) {
	if f.holdout <= 0 {
		return
	}
	inputs := make([][]float64, f.holdout)
	targets := make([][]float64, f.holdout)
	level := learning.Level(e.Curriculum().CurrentLevel())
	for i := range inputs {
		ex := e.Puzzles().Puzzle(level)
		inputs[i], targets[i] = ex.Input, ex.Target
	}

	acc, err := e.Evaluate(inputs, targets)
	if err != nil {
		log.WithError(err).Error("evaluate")
		return
	}
	if err := e.ValidatePredictions(inputs); err != nil {
		log.WithError(err).Warn("predictions failed validation")
	}
	log.WithFields(logrus.Fields{
		"level":    level.String(),
		"examples": f.holdout,
		"accuracy": acc,
	}).Info("holdout evaluation")
}
