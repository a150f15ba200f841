package training

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"

	"github.com/openfluke/tutor/nn"
)

func trainedEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e := newTestEngine(t, cfg)
	for i := 0; i < 4; i++ {
		if err := e.Curriculum().AddExample(testExample(t, float64(i)/4), 0); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 2; i++ {
		if _, err := e.TrainEpoch(); err != nil {
			t.Fatal(err)
		}
	}
	return e
}

func TestCheckpointRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CorrectTolerance = 10 // advance a level so it is restored too
	src := trainedEngine(t, cfg)
	path := filepath.Join(t.TempDir(), "run.ckpt")

	if err := src.SaveCheckpoint(path); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	dst, err := NewFromCheckpoint(path, cfg, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewFromCheckpoint: %v", err)
	}

	if dst.RunID() != src.RunID() {
		t.Errorf("Expected run id %s, got %s", src.RunID(), dst.RunID())
	}
	a, b := src.Stats(), dst.Stats()
	if a.Epoch != b.Epoch || a.ExamplesSeen != b.ExamplesSeen || a.CurrentLevel != b.CurrentLevel {
		t.Errorf("Expected stats %+v, got %+v", a, b)
	}
	if a.CurrentLoss != b.CurrentLoss || a.AverageLoss != b.AverageLoss || a.Accuracy != b.Accuracy {
		t.Errorf("Expected loss stats %+v, got %+v", a, b)
	}
	if d := a.TrainingTime - b.TrainingTime; d > 1000 || d < -1000 {
		t.Errorf("Expected training time %v, got %v", a.TrainingTime, b.TrainingTime)
	}
	if dst.Curriculum().CurrentLevel() != src.Curriculum().CurrentLevel() {
		t.Errorf("Expected curriculum level %d, got %d", src.Curriculum().CurrentLevel(), dst.Curriculum().CurrentLevel())
	}
	if dst.Optimizer().StepCount() != src.Optimizer().StepCount() {
		t.Errorf("Expected step %d, got %d", src.Optimizer().StepCount(), dst.Optimizer().StepCount())
	}

	input := []float64{0.3, 0.1, 0.7, 0.2}
	want, _ := src.Network().Predict(input)
	got, _ := dst.Network().Predict(input)
	if nn.MaxAbsDiff(want, got) != 0 {
		t.Errorf("Expected identical predictions, got %v vs %v", want, got)
	}

	// Optimizer moments are restored, so the next update matches as well.
	ex := testExample(t, 0.9)
	for _, e := range []*Engine{src, dst} {
		res := EpochResult{Strategy: StrategyCurriculum}
		if _, err := e.trainExample(&res, ex); err != nil {
			t.Fatal(err)
		}
	}
	for i, p := range src.Network().Params() {
		q := dst.Network().Params()[i]
		if nn.MaxAbsDiff(p.Value, q.Value) != 0 {
			t.Fatalf("Expected %s to match after one more step", p.Name)
		}
	}
}

func TestLoadCheckpointIntoExistingEngine(t *testing.T) {
	src := trainedEngine(t, DefaultConfig())
	path := filepath.Join(t.TempDir(), "run.ckpt")
	if err := src.SaveCheckpoint(path); err != nil {
		t.Fatal(err)
	}

	dst := newTestEngine(t, DefaultConfig())
	if err := dst.LoadCheckpoint(path); err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	h1, c1 := src.Network().State()
	h2, c2 := dst.Network().State()
	if nn.MaxAbsDiff(h1, h2) != 0 || nn.MaxAbsDiff(c1, c2) != 0 {
		t.Errorf("Expected recurrent state restored")
	}
	if dst.Stats().Epoch != 2 {
		t.Errorf("Expected epoch 2, got %d", dst.Stats().Epoch)
	}
}

func TestCheckpointRejectsMismatch(t *testing.T) {
	src := trainedEngine(t, DefaultConfig())
	path := filepath.Join(t.TempDir(), "run.ckpt")
	if err := src.SaveCheckpoint(path); err != nil {
		t.Fatal(err)
	}

	network, _ := nn.NewNetwork(3, 6, 2, nn.WithSeed(1))
	other, err := NewEngine(network, DefaultConfig(), WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	before := append([]float64(nil), network.Dense.Weights...)
	if err := other.LoadCheckpoint(path); !errors.Is(err, ErrBadCheckpoint) {
		t.Errorf("Expected ErrBadCheckpoint for other dimensions, got %v", err)
	}
	if nn.MaxAbsDiff(before, network.Dense.Weights) != 0 {
		t.Errorf("Expected weights untouched after a rejected load")
	}

	cfg := DefaultConfig()
	cfg.Optimizer = "sgd"
	sgd := newTestEngine(t, cfg)
	if err := sgd.LoadCheckpoint(path); !errors.Is(err, ErrBadCheckpoint) {
		t.Errorf("Expected ErrBadCheckpoint for another optimizer, got %v", err)
	}
}

func TestCheckpointCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, DefaultConfig())

	bad := filepath.Join(dir, "bad.ckpt")
	os.WriteFile(bad, []byte("NOPE0000000000000000"), 0o644)
	if err := e.LoadCheckpoint(bad); !errors.Is(err, ErrBadCheckpoint) {
		t.Errorf("Expected ErrBadCheckpoint for bad magic, got %v", err)
	}

	good := filepath.Join(dir, "good.ckpt")
	if err := e.SaveCheckpoint(good); err != nil {
		t.Fatal(err)
	}
	raw, _ := os.ReadFile(good)

	truncated := filepath.Join(dir, "short.ckpt")
	os.WriteFile(truncated, raw[:len(raw)/2], 0o644)
	if err := e.LoadCheckpoint(truncated); !errors.Is(err, ErrBadCheckpoint) {
		t.Errorf("Expected ErrBadCheckpoint for a truncated file, got %v", err)
	}

	version := append([]byte(nil), raw...)
	version[4] = 99
	os.WriteFile(truncated, version, 0o644)
	if err := e.LoadCheckpoint(truncated); !errors.Is(err, ErrBadCheckpoint) {
		t.Errorf("Expected ErrBadCheckpoint for an unknown version, got %v", err)
	}

	if err := e.LoadCheckpoint(filepath.Join(dir, "missing.ckpt")); err == nil {
		t.Errorf("Expected an error for a missing file")
	}
}

func TestCheckpointLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, DefaultConfig())
	path := filepath.Join(dir, "run.ckpt")
	for i := 0; i < 2; i++ {
		if err := e.SaveCheckpoint(path); err != nil {
			t.Fatal(err)
		}
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("Expected only the checkpoint in %s, got %d entries", dir, len(entries))
	}
}

func TestBinaryHelpers(t *testing.T) {
	var buf bytes.Buffer
	w := &binWriter{w: &buf}
	w.name("lstm.Wf")
	w.vec([]float64{1.5, math.Inf(-1), -0})
	w.u64(math.MaxUint64)

	r := &binReader{r: &buf}
	if got := r.name(); got != "lstm.Wf" {
		t.Errorf("Expected name round trip, got %q", got)
	}
	v := r.vec()
	if len(v) != 3 || v[0] != 1.5 || !math.IsInf(v[1], -1) {
		t.Errorf("Expected vector round trip, got %v", v)
	}
	if r.u64() != math.MaxUint64 || r.err != nil {
		t.Errorf("Expected u64 round trip, err %v", r.err)
	}
	r.u32()
	if r.err == nil {
		t.Errorf("Expected an error reading past the end")
	}
}
