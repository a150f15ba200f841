// Package inference is the read-only side of a trained network: scoring,
// ranking and confidence queries for search routines, plus model files.
//
// Nothing in this package changes network weights or recurrent state.
package inference

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/openfluke/tutor/nn"
)

const (
	// DefaultModelID names the model inside bundles written by SaveModel.
	DefaultModelID = "tutor"

	DefaultCandidateThreshold = 0.01
	DefaultMaxCandidates      = 20
)

var (
	ErrNotLoaded       = errors.New("no model loaded")
	ErrIndexOutOfRange = errors.New("output index out of range")
)

// Candidate is one output position and its score.
type Candidate struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Engine answers inference queries against one network.
type Engine struct {
	network   *nn.Network
	projector nn.Projector
	modelID   string
	log       *logrus.Entry
}

type options struct {
	projector nn.Projector
	logger    *logrus.Logger
	modelID   string
}

type Option func(*options)

// WithProjector computes the dense stage of BatchPredict on p, typically
// gpu.DenseProjector.
func WithProjector(p nn.Projector) Option {
	return func(o *options) { o.projector = p }
}

func WithLogger(logger *logrus.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithModelID overrides DefaultModelID for SaveModel and LoadModel.
func WithModelID(id string) Option {
	return func(o *options) { o.modelID = id }
}

// NewEngine wraps network, which may be nil until LoadModel is called.
func NewEngine(network *nn.Network, opts ...Option) *Engine {
	o := options{modelID: DefaultModelID}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logrus.New()
	}
	return &Engine{
		network:   network,
		projector: o.projector,
		modelID:   o.modelID,
		log:       o.logger.WithField("component", "inference"),
	}
}

// IsLoaded reports whether the engine has a network.
func (e *Engine) IsLoaded() bool { return e.network != nil }

// Network returns the current network, or nil.
func (e *Engine) Network() *nn.Network { return e.network }

// Predict returns the full output vector for input.
func (e *Engine) Predict(input []float64) ([]float64, error) {
	if e.network == nil {
		return nil, ErrNotLoaded
	}
	return e.network.Predict(input)
}

// Evaluate returns the first output, the scalar score of a position vector.
// It returns 0 when no model is loaded.
func (e *Engine) Evaluate(input []float64) (float64, error) {
	if e.network == nil {
		return 0, nil
	}
	out, err := e.network.Predict(input)
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

// BatchPredict predicts every input. With a projector the dense stage runs
// as one batch; if the projector fails the batch is recomputed on the CPU.
func (e *Engine) BatchPredict(inputs [][]float64) ([][]float64, error) {
	if e.network == nil {
		return nil, ErrNotLoaded
	}
	if e.projector != nil {
		out, err := e.network.PredictBatch(inputs, e.projector)
		if err == nil {
			return out, nil
		}
		e.log.WithError(err).Warn("projector failed, falling back to CPU")
	}
	return e.network.PredictBatch(inputs, nil)
}

// Best returns the highest scoring output position.
func (e *Engine) Best(input []float64) (Candidate, error) {
	out, err := e.Predict(input)
	if err != nil {
		return Candidate{}, err
	}
	i := nn.ArgMax(out)
	return Candidate{Index: i, Score: out[i]}, nil
}

// TopK returns up to k output positions scoring above threshold, best
// first. Equal scores keep output order.
func (e *Engine) TopK(input []float64, k int, threshold float64) ([]Candidate, error) {
	out, err := e.Predict(input)
	if err != nil {
		return nil, err
	}

	var cands []Candidate
	for i, v := range out {
		if v > threshold {
			cands = append(cands, Candidate{Index: i, Score: v})
		}
	}
	sort.SliceStable(cands, func(a, b int) bool {
		return cands[a].Score > cands[b].Score
	})
	if k >= 0 && len(cands) > k {
		cands = cands[:k]
	}
	return cands, nil
}

// Confidence returns the output at index for input. It returns 0 when no
// model is loaded.
func (e *Engine) Confidence(input []float64, index int) (float64, error) {
	if e.network == nil {
		return 0, nil
	}
	out, err := e.network.Predict(input)
	if err != nil {
		return 0, err
	}
	if index < 0 || index >= len(out) {
		return 0, errors.Wrapf(ErrIndexOutOfRange, "index %d of %d", index, len(out))
	}
	return out[index], nil
}

// DetectUncertainty reports whether the output distribution is too flat to
// act on: its variance is below threshold. Without a model it is always
// uncertain.
func (e *Engine) DetectUncertainty(input []float64, threshold float64) (bool, error) {
	if e.network == nil {
		return true, nil
	}
	out, err := e.network.Predict(input)
	if err != nil {
		return true, err
	}
	return Variance(out) < threshold, nil
}

// Variance is the population variance of v.
func Variance(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	_, variance := stat.PopMeanVariance(v, nil)
	return variance
}

// SaveModel writes the network as a JSON model bundle.
func (e *Engine) SaveModel(path string) error {
	if e.network == nil {
		return ErrNotLoaded
	}
	if err := e.network.SaveModel(path, e.modelID); err != nil {
		return errors.Wrapf(err, "save model %s", path)
	}
	e.log.WithFields(logrus.Fields{"path": path, "model": e.modelID}).Info("model saved")
	return nil
}

// LoadModel replaces the network with the one stored in a model bundle.
func (e *Engine) LoadModel(path string) error {
	network, err := nn.LoadModel(path, e.modelID)
	if err != nil {
		return errors.Wrapf(err, "load model %s", path)
	}
	e.network = network
	e.log.WithFields(logrus.Fields{
		"path":   path,
		"model":  e.modelID,
		"params": nn.CountParams(network),
	}).Info("model loaded")
	return nil
}
