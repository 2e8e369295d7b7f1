package model

import (
	"encoding/gob"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/recyclegan/internal/autograd"
	"github.com/FlavioCFOliveira/recyclegan/internal/config"
	"github.com/FlavioCFOliveira/recyclegan/internal/networks"
	"github.com/FlavioCFOliveira/recyclegan/internal/tensor"
)

// smallConfig returns a model small enough to train in a unit test.
func smallConfig() config.Config {
	cfg := config.Default()
	cfg.ImgHeight = 8
	cfg.ImgWidth = 8
	cfg.Channels = 1
	cfg.NFeatures = 4
	cfg.NResidualBlocks = 1
	cfg.NDownsampling = 1
	cfg.DiscriminatorLayers = 1
	cfg.UseReplayBuffer = false
	cfg.Seed = 1
	return cfg
}

func newModel(t *testing.T, cfg config.Config) *CycleGAN {
	t.Helper()
	m, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

// images returns a batch of smooth patterns in [-1, 1].
func images(n int, phase float64) *tensor.Tensor {
	t := tensor.New(n, 1, 8, 8)
	for b := 0; b < n; b++ {
		for y := 0; y < 8; y++ {
			for x := 0; x < 8; x++ {
				t.Data[(b*8+y)*8+x] = math.Sin(phase + float64(b) + 0.7*float64(x) - 0.4*float64(y))
			}
		}
	}
	return t
}

func stateDicts(m *CycleGAN) map[string]networks.StateDict {
	out := make(map[string]networks.StateDict)
	for key, n := range m.networksByKey() {
		out[key] = n.StateDict()
	}
	return out
}

func equalStateDicts(a, b map[string]networks.StateDict) bool {
	for key, sd := range a {
		for name, v := range sd {
			w := b[key][name]
			if len(v) != len(w) {
				return false
			}
			for i := range v {
				if v[i] != w[i] {
					return false
				}
			}
		}
	}
	return true
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := smallConfig()
	cfg.NDownsampling = 4
	if _, err := New(cfg); !errors.Is(err, config.ErrConfig) {
		t.Errorf("New() error = %v, want config.ErrConfig", err)
	}
}

func TestForwardShapes(t *testing.T) {
	m := newModel(t, smallConfig())
	out, err := m.Forward(images(2, 0), images(3, 1))
	if err != nil {
		t.Fatal(err)
	}
	for name, pair := range map[string][2]*tensor.Tensor{
		"FakeB": {out.FakeB, images(2, 0)},
		"RecA":  {out.RecA, images(2, 0)},
		"FakeA": {out.FakeA, images(3, 0)},
		"RecB":  {out.RecB, images(3, 0)},
	} {
		if !pair[0].SameShape(pair[1]) {
			t.Errorf("%s shape %s, want %s", name, pair[0], pair[1])
		}
	}
}

func TestInputValidation(t *testing.T) {
	m := newModel(t, smallConfig())
	tests := []struct {
		name string
		a, b *tensor.Tensor
	}{
		{"nil", nil, images(1, 0)},
		{"channels", tensor.New(1, 3, 8, 8), images(1, 0)},
		{"size", images(1, 0), tensor.New(1, 1, 16, 16)},
		{"rank", tensor.New(64), images(1, 0)},
		{"empty", tensor.New(0, 1, 8, 8), images(1, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Optimize(tt.a, tt.b); !errors.Is(err, ErrInput) {
				t.Errorf("Optimize() error = %v, want ErrInput", err)
			}
		})
	}
}

func TestDiscriminatorLossesFiniteNonNegative(t *testing.T) {
	for _, vanilla := range []bool{false, true} {
		cfg := smallConfig()
		cfg.VanillaLoss = vanilla
		m := newModel(t, cfg)
		l, err := m.ComputeLoss(images(2, 0), images(2, 2))
		if err != nil {
			t.Fatal(err)
		}
		for name, v := range map[string]float64{"DA": l.DA, "DB": l.DB, "G": l.G} {
			if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
				t.Errorf("vanilla=%v: %s = %v, want finite and >= 0", vanilla, name, v)
			}
		}
	}
}

func TestComputeLossDoesNotMutate(t *testing.T) {
	m := newModel(t, smallConfig())
	before := stateDicts(m)
	optBefore := m.optG.State()

	a, b := images(2, 0), images(2, 1)
	first, err := m.ComputeLoss(a, b)
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.ComputeLoss(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("ComputeLoss not repeatable: %+v vs %+v", first, second)
	}
	if !equalStateDicts(before, stateDicts(m)) {
		t.Error("ComputeLoss changed network weights")
	}
	if m.optG.State().StepCount != optBefore.StepCount {
		t.Error("ComputeLoss stepped the optimizer")
	}
	if a.Data[0] != images(2, 0).Data[0] {
		t.Error("ComputeLoss modified its input")
	}
}

func TestOptimizeUpdatesAllNetworks(t *testing.T) {
	m := newModel(t, smallConfig())
	before := stateDicts(m)
	l, err := m.Optimize(images(1, 0), images(1, 1))
	if err != nil {
		t.Fatal(err)
	}
	if l.Skipped {
		t.Fatal("unscaled step reported as skipped")
	}
	after := stateDicts(m)
	for key := range before {
		if equalStateDicts(map[string]networks.StateDict{key: before[key]}, map[string]networks.StateDict{key: after[key]}) {
			t.Errorf("%s unchanged after Optimize", key)
		}
	}
	for key, o := range m.optimizersByKey() {
		if o.State().StepCount != 1 {
			t.Errorf("%s step count %d, want 1", key, o.State().StepCount)
		}
	}
}

// TestDiscriminatorLossDoesNotReachGenerators backpropagates a
// discriminator loss alone and checks that only that discriminator collects
// gradient.
func TestDiscriminatorLossDoesNotReachGenerators(t *testing.T) {
	m := newModel(t, smallConfig())
	p, err := m.forward(images(2, 0), images(2, 1))
	if err != nil {
		t.Fatal(err)
	}
	o := m.build(p, current, current, false)
	for _, optim := range m.optimizersByKey() {
		optim.ZeroGrad()
	}

	if err := autograd.Backward(o.dA); err != nil {
		t.Fatal(err)
	}
	for _, param := range m.optG.Params() {
		for i, g := range param.Grad {
			if g != 0 {
				t.Fatalf("generator param %s grad[%d] = %v, want 0", param.Name, i, g)
			}
		}
	}
	for _, param := range m.optDB.Params() {
		for i, g := range param.Grad {
			if g != 0 {
				t.Fatalf("dis_B param %s grad[%d] = %v, want 0", param.Name, i, g)
			}
		}
	}
	touched := false
	for _, param := range m.optDA.Params() {
		for _, g := range param.Grad {
			if g != 0 {
				touched = true
			}
		}
	}
	if !touched {
		t.Error("dis_A received no gradient from its own loss")
	}
}

// TestOptimizeReturnsPreUpdateLosses checks that Optimize reports the losses
// of the weights it started from.
func TestOptimizeReturnsPreUpdateLosses(t *testing.T) {
	m := newModel(t, smallConfig())
	a, b := images(2, 0), images(2, 1)
	want, err := m.ComputeLoss(a, b)
	if err != nil {
		t.Fatal(err)
	}
	got, err := m.Optimize(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("Optimize() = %+v, want %+v", got, want)
	}
}

func TestOptimizeDecreasesCycleLoss(t *testing.T) {
	if testing.Short() {
		t.Skip("training loop")
	}
	cfg := smallConfig()
	cfg.LR = 0.002
	m := newModel(t, cfg)
	a, b := images(1, 0), images(1, 1.5)

	initial, err := m.ComputeLoss(a, b)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 200; i++ {
		if _, err := m.Optimize(a, b); err != nil {
			t.Fatal(err)
		}
	}
	final, err := m.ComputeLoss(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if final.Cycle() >= 0.5*initial.Cycle() {
		t.Errorf("cycle loss %v -> %v, want at least halved", initial.Cycle(), final.Cycle())
	}
}

func TestOptimizeWithReplayPathLengthAndAMP(t *testing.T) {
	cfg := smallConfig()
	cfg.UseReplayBuffer = true
	cfg.ReplayBufferSize = 2
	cfg.PLPLossWeight = 1
	cfg.PLPStep = 2
	cfg.AMP = true
	m := newModel(t, cfg)

	for i := 0; i < 4; i++ {
		l, err := m.Optimize(images(2, float64(i)), images(2, float64(i)+0.5))
		if err != nil {
			t.Fatal(err)
		}
		if due := i%2 == 0; due != (l.PathLength > 0) {
			t.Errorf("iteration %d: path length %v, penalty due %v", i, l.PathLength, due)
		}
		if math.IsNaN(l.G) || math.IsNaN(l.DA) || math.IsNaN(l.DB) {
			t.Fatalf("iteration %d: NaN loss %+v", i, l)
		}
	}
	if m.poolA.Len() != 2 || m.poolB.Len() != 2 {
		t.Errorf("replay sizes %d/%d, want 2/2", m.poolA.Len(), m.poolB.Len())
	}
	if m.plpAtoB.Mean() == 0 {
		t.Error("path-length average not updated")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultCheckpoint)
	a, b := images(2, 0), images(2, 1)

	src := newModel(t, smallConfig())
	for i := 0; i < 2; i++ {
		if _, err := src.Optimize(a, b); err != nil {
			t.Fatal(err)
		}
	}
	src.EndEpoch()
	if err := src.Save(4, path); err != nil {
		t.Fatal(err)
	}

	cfg := smallConfig()
	cfg.Seed = 99
	dst := newModel(t, cfg)
	epoch, err := dst.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if epoch != 4 {
		t.Errorf("Load() epoch = %d, want 4", epoch)
	}

	want, _ := src.ComputeLoss(a, b)
	got, _ := dst.ComputeLoss(a, b)
	if got != want {
		t.Errorf("ComputeLoss after load = %+v, want %+v", got, want)
	}

	// Restored optimizer moments make the next update identical.
	wantStep, _ := src.Optimize(a, b)
	gotStep, _ := dst.Optimize(a, b)
	if gotStep != wantStep {
		t.Errorf("Optimize after load = %+v, want %+v", gotStep, wantStep)
	}
	if !equalStateDicts(stateDicts(src), stateDicts(dst)) {
		t.Error("weights diverged after one step from the same checkpoint")
	}
}

func TestSaveReplacesExistingCheckpoint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultCheckpoint)
	m := newModel(t, smallConfig())

	for _, epoch := range []int{1, 7} {
		if err := m.Save(epoch, path); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temporary file left behind: stat err = %v", err)
	}
	epoch, err := m.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if epoch != 7 {
		t.Errorf("Load() epoch = %d, want 7", epoch)
	}

	missing := filepath.Join(dir, "absent", DefaultCheckpoint)
	if err := m.Save(1, missing); err == nil {
		t.Error("Save into a missing directory succeeded")
	}
	if _, err := os.Stat(missing + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temporary file left behind after failure: stat err = %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	m := newModel(t, smallConfig())
	path := filepath.Join(t.TempDir(), "nope.pth")
	_, err := m.Load(path)
	if !errors.Is(err, ErrCheckpointNotFound) {
		t.Fatalf("Load() error = %v, want ErrCheckpointNotFound", err)
	}
	if !strings.Contains(err.Error(), path) {
		t.Errorf("error %q does not name the path", err)
	}
}

func TestLoadSchemaErrorsLeaveModelUntouched(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.pth")
	if err := newModel(t, smallConfig()).Save(1, good); err != nil {
		t.Fatal(err)
	}

	rewrite := func(t *testing.T, name string, mutate func(*Checkpoint)) string {
		t.Helper()
		ck, err := ReadCheckpoint(good)
		if err != nil {
			t.Fatal(err)
		}
		mutate(ck)
		path := filepath.Join(dir, name)
		f, err := os.Create(path)
		if err != nil {
			t.Fatal(err)
		}
		defer f.Close()
		if err := gob.NewEncoder(f).Encode(ck); err != nil {
			t.Fatal(err)
		}
		return path
	}

	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"missing optimizer key", func(t *testing.T) string {
			return rewrite(t, "a.pth", func(ck *Checkpoint) { delete(ck.Optimizers, KeyOptDB) })
		}},
		{"missing network key", func(t *testing.T) string {
			return rewrite(t, "b.pth", func(ck *Checkpoint) { delete(ck.Networks, KeyDisB) })
		}},
		{"unknown key", func(t *testing.T) string {
			return rewrite(t, "c.pth", func(ck *Checkpoint) { ck.Networks["dis_C_state_dict"] = networks.StateDict{} })
		}},
		{"wrong tensor size", func(t *testing.T) string {
			return rewrite(t, "d.pth", func(ck *Checkpoint) {
				sd := ck.Networks[KeyGenBtoA]
				for k := range sd {
					sd[k] = append(sd[k], 0)
					break
				}
			})
		}},
		{"wrong format", func(t *testing.T) string {
			return rewrite(t, "e.pth", func(ck *Checkpoint) { ck.Format = "other" })
		}},
		{"garbage", func(t *testing.T) string {
			path := filepath.Join(dir, "f.pth")
			if err := os.WriteFile(path, []byte("not a checkpoint"), 0o644); err != nil {
				t.Fatal(err)
			}
			return path
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := smallConfig()
			cfg.Seed = 7
			m := newModel(t, cfg)
			before := stateDicts(m)
			optBefore := m.optG.State()

			if _, err := m.Load(tt.path(t)); !errors.Is(err, ErrCheckpointSchema) {
				t.Fatalf("Load() error = %v, want ErrCheckpointSchema", err)
			}
			if !equalStateDicts(before, stateDicts(m)) {
				t.Error("failed Load modified network weights")
			}
			if m.optG.State().LearningRate != optBefore.LearningRate {
				t.Error("failed Load modified optimizer state")
			}
		})
	}
}

func TestLossesMap(t *testing.T) {
	l := Losses{G: 1, DA: 2, DB: 3}
	l.Add(Losses{G: 1, DA: 2, DB: 3})
	l.Scale(0.5)
	m := l.Map()
	if len(m) != len(LossNames) {
		t.Fatalf("Map() has %d keys, LossNames %d", len(m), len(LossNames))
	}
	for _, name := range LossNames {
		if _, ok := m[name]; !ok {
			t.Errorf("Map() missing %s", name)
		}
	}
	if m["loss_G"] != 1 || m["loss_D_A"] != 2 || m["loss_D_B"] != 3 {
		t.Errorf("Map() = %v", m)
	}
}
