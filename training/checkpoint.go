package training

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/openfluke/tutor/nn"
)

const (
	checkpointMagic   = "TUTR"
	checkpointVersion = uint32(1)

	// Upper bounds on length prefixes read from disk.
	maxTensorLen = 1 << 26
	maxNameLen   = 1 << 10
	maxTensors   = 1 << 12
)

// checkpoint is the decoded content of a checkpoint file.
type checkpoint struct {
	stats      Stats
	runID      uuid.UUID
	inputSize  int
	hiddenSize int
	outputSize int
	activation nn.ActivationType
	hidden     []float64
	cell       []float64
	params     map[string][]float64
	optimizer  nn.OptimizerState
}

// SaveCheckpoint writes network weights, recurrent state, optimizer state and
// training statistics to path. The file is written to a temporary file in the
// same directory and renamed into place.
func (e *Engine) SaveCheckpoint(path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*")
	if err != nil {
		return errors.Wrap(err, "create checkpoint")
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	bw := bufio.NewWriter(tmp)
	if err := e.writeCheckpoint(bw); err != nil {
		tmp.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write checkpoint")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close checkpoint")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, "rename checkpoint")
	}

	e.log.WithFields(logrus.Fields{
		"path":  path,
		"epoch": e.stats.Epoch,
	}).Info("checkpoint saved")
	return nil
}

func (e *Engine) writeCheckpoint(out io.Writer) error {
	w := &binWriter{w: out}

	w.bytes([]byte(checkpointMagic))
	w.u32(checkpointVersion)

	s := e.stats
	w.f64(s.CurrentLoss)
	w.f64(s.AverageLoss)
	w.f64(s.Accuracy)
	w.f64(s.TrainingTime.Seconds())
	w.f64(s.ValidationAccuracy)
	w.u64(s.Epoch)
	w.u64(s.ExamplesSeen)
	w.u64(uint64(e.curriculum.CurrentLevel()))

	id := e.runID
	w.bytes(id[:])

	n := e.network
	w.u32(uint32(n.InputSize))
	w.u32(uint32(n.HiddenSize))
	w.u32(uint32(n.OutputSize))
	w.u32(uint32(n.Dense.Activation))

	hidden, cell := n.State()
	w.vec(hidden)
	w.vec(cell)

	params := n.Params()
	w.u32(uint32(len(params)))
	for _, p := range params {
		w.name(p.Name)
		w.vec(p.Value)
	}

	opt := e.optimizer.State()
	w.u32(uint32(opt.Kind))
	w.u64(opt.Step)
	names := opt.BufferNames()
	w.u32(uint32(len(names)))
	for _, name := range names {
		w.name(name)
		w.vec(opt.Buffers[name])
	}

	return errors.Wrap(w.err, "write checkpoint")
}

// LoadCheckpoint restores a checkpoint written by SaveCheckpoint into this
// engine. The network dimensions and optimizer kind must match; on any error
// the engine is left unchanged.
func (e *Engine) LoadCheckpoint(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open checkpoint")
	}
	defer f.Close()

	ck, err := readCheckpoint(bufio.NewReader(f))
	if err != nil {
		return errors.Wrap(err, path)
	}
	if err := e.apply(ck); err != nil {
		return errors.Wrap(err, path)
	}

	e.log.WithFields(logrus.Fields{
		"path":  path,
		"epoch": e.stats.Epoch,
		"level": e.stats.CurrentLevel,
	}).Info("checkpoint loaded")
	return nil
}

// NewFromCheckpoint builds a network matching the checkpoint dimensions and
// an engine around it, then restores the checkpoint. The run ID is kept.
func NewFromCheckpoint(path string, cfg Config, opts ...Option) (*Engine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open checkpoint")
	}
	defer f.Close()

	ck, err := readCheckpoint(bufio.NewReader(f))
	if err != nil {
		return nil, errors.Wrap(err, path)
	}

	network, err := nn.NewNetwork(ck.inputSize, ck.hiddenSize, ck.outputSize,
		nn.WithSeed(cfg.Seed), nn.WithDenseActivation(ck.activation))
	if err != nil {
		return nil, errors.Wrap(ErrBadCheckpoint, err.Error())
	}
	e, err := NewEngine(network, cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := e.apply(ck); err != nil {
		return nil, errors.Wrap(err, path)
	}
	e.runID = ck.runID
	e.log = e.log.WithField("run_id", ck.runID.String())
	return e, nil
}

func (e *Engine) apply(ck *checkpoint) error {
	n := e.network
	if ck.inputSize != n.InputSize || ck.hiddenSize != n.HiddenSize || ck.outputSize != n.OutputSize {
		return errors.Wrapf(ErrBadCheckpoint, "checkpoint is %d/%d/%d, network is %d/%d/%d",
			ck.inputSize, ck.hiddenSize, ck.outputSize, n.InputSize, n.HiddenSize, n.OutputSize)
	}
	if ck.activation != n.Dense.Activation {
		return errors.Wrapf(ErrBadCheckpoint, "dense activation %s, network uses %s", ck.activation, n.Dense.Activation)
	}
	if ck.optimizer.Kind != e.optimizer.Kind() {
		return errors.Wrapf(ErrBadCheckpoint, "optimizer %s, engine uses %s", ck.optimizer.Kind, e.optimizer.Kind())
	}
	if ck.stats.CurrentLevel >= e.curriculum.NumLevels() {
		return errors.Wrapf(ErrBadCheckpoint, "level %d of %d", ck.stats.CurrentLevel, e.curriculum.NumLevels())
	}

	params := n.Params()
	if len(params) != len(ck.params) {
		return errors.Wrapf(ErrBadCheckpoint, "%d tensors, network has %d", len(ck.params), len(params))
	}
	for _, p := range params {
		v, ok := ck.params[p.Name]
		if !ok {
			return errors.Wrapf(ErrBadCheckpoint, "missing tensor %s", p.Name)
		}
		if len(v) != len(p.Value) {
			return errors.Wrapf(ErrBadCheckpoint, "tensor %s has %d values, want %d", p.Name, len(v), len(p.Value))
		}
	}
	if len(ck.hidden) != n.HiddenSize || len(ck.cell) != n.HiddenSize {
		return errors.Wrapf(ErrBadCheckpoint, "recurrent state %d/%d, want %d", len(ck.hidden), len(ck.cell), n.HiddenSize)
	}

	// Everything validated; mutate.
	for _, p := range params {
		copy(p.Value, ck.params[p.Name])
	}
	n.ResetState()
	if err := n.SetState(ck.hidden, ck.cell); err != nil {
		return err
	}
	if err := e.optimizer.LoadState(ck.optimizer); err != nil {
		return errors.Wrap(ErrBadCheckpoint, err.Error())
	}
	if err := e.curriculum.SetCurrentLevel(ck.stats.CurrentLevel); err != nil {
		return err
	}
	e.stats = ck.stats
	e.lossSum = ck.stats.AverageLoss * float64(ck.stats.ExamplesSeen)
	return nil
}

func readCheckpoint(in io.Reader) (*checkpoint, error) {
	r := &binReader{r: in}

	magic := make([]byte, len(checkpointMagic))
	r.bytes(magic)
	if r.err != nil {
		return nil, errors.Wrap(ErrBadCheckpoint, "truncated header")
	}
	if string(magic) != checkpointMagic {
		return nil, errors.Wrapf(ErrBadCheckpoint, "bad magic %q", magic)
	}
	if v := r.u32(); r.err == nil && v != checkpointVersion {
		return nil, errors.Wrapf(ErrBadCheckpoint, "unsupported version %d", v)
	}

	ck := &checkpoint{params: make(map[string][]float64)}
	s := &ck.stats
	s.CurrentLoss = r.f64()
	s.AverageLoss = r.f64()
	s.Accuracy = r.f64()
	s.TrainingTime = time.Duration(r.f64() * float64(time.Second))
	s.ValidationAccuracy = r.f64()
	s.Epoch = r.u64()
	s.ExamplesSeen = r.u64()
	s.CurrentLevel = int(r.u64())

	r.bytes(ck.runID[:])

	ck.inputSize = int(r.u32())
	ck.hiddenSize = int(r.u32())
	ck.outputSize = int(r.u32())
	ck.activation = nn.ActivationType(r.u32())

	ck.hidden = r.vec()
	ck.cell = r.vec()

	count := r.count(maxTensors)
	for i := 0; i < count && r.err == nil; i++ {
		name := r.name()
		ck.params[name] = r.vec()
	}

	ck.optimizer.Kind = nn.OptimizerType(r.u32())
	ck.optimizer.Step = r.u64()
	count = r.count(maxTensors)
	ck.optimizer.Buffers = make(map[string][]float64, count)
	for i := 0; i < count && r.err == nil; i++ {
		name := r.name()
		ck.optimizer.Buffers[name] = r.vec()
	}

	if r.err != nil {
		return nil, errors.Wrap(ErrBadCheckpoint, r.err.Error())
	}
	return ck, nil
}

// =============================================================================
// Little-endian helpers. The first error sticks and later calls are no-ops.
// =============================================================================

type binWriter struct {
	w   io.Writer
	buf [8]byte
	err error
}

func (w *binWriter) bytes(b []byte) {
	if w.err == nil {
		_, w.err = w.w.Write(b)
	}
}

func (w *binWriter) u16(v uint16) {
	binary.LittleEndian.PutUint16(w.buf[:2], v)
	w.bytes(w.buf[:2])
}

func (w *binWriter) u32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[:4], v)
	w.bytes(w.buf[:4])
}

func (w *binWriter) u64(v uint64) {
	binary.LittleEndian.PutUint64(w.buf[:8], v)
	w.bytes(w.buf[:8])
}

func (w *binWriter) f64(v float64) { w.u64(math.Float64bits(v)) }

func (w *binWriter) name(s string) {
	w.u16(uint16(len(s)))
	w.bytes([]byte(s))
}

func (w *binWriter) vec(v []float64) {
	w.u32(uint32(len(v)))
	for _, x := range v {
		w.f64(x)
	}
}

type binReader struct {
	r   io.Reader
	buf [8]byte
	err error
}

func (r *binReader) bytes(b []byte) {
	if r.err == nil {
		_, r.err = io.ReadFull(r.r, b)
	}
}

func (r *binReader) u16() uint16 {
	r.bytes(r.buf[:2])
	if r.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint16(r.buf[:2])
}

func (r *binReader) u32() uint32 {
	r.bytes(r.buf[:4])
	if r.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(r.buf[:4])
}

func (r *binReader) u64() uint64 {
	r.bytes(r.buf[:8])
	if r.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint64(r.buf[:8])
}

func (r *binReader) f64() float64 { return math.Float64frombits(r.u64()) }

func (r *binReader) count(limit int) int {
	n := int(r.u32())
	if r.err == nil && n > limit {
		r.err = errors.Errorf("length %d exceeds %d", n, limit)
		return 0
	}
	return n
}

func (r *binReader) name() string {
	n := int(r.u16())
	if r.err == nil && n > maxNameLen {
		r.err = errors.Errorf("name length %d", n)
	}
	if r.err != nil {
		return ""
	}
	b := make([]byte, n)
	r.bytes(b)
	return string(b)
}

func (r *binReader) vec() []float64 {
	n := r.count(maxTensorLen)
	if r.err != nil {
		return nil
	}
	v := make([]float64, n)
	for i := range v {
		v[i] = r.f64()
	}
	return v
}
