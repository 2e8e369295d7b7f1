package cyclegan

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
)

func TestImages(t *testing.T) {
	if _, err := Images(make([]float64, 12), 1, 3, 2, 2); err != nil {
		t.Errorf("Images: %v", err)
	}
	if _, err := Images(make([]float64, 11), 1, 3, 2, 2); err == nil {
		t.Error("Images accepted 11 values for a 12-value shape")
	}
}

func TestConfigFromMap(t *testing.T) {
	cfg, err := ConfigFromMap(map[string]any{"num_epochs": 3})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.NumEpochs != 3 || cfg.BatchSize != DefaultConfig().BatchSize {
		t.Errorf("config = %+v", cfg)
	}
	if _, err := ConfigFromMap(map[string]any{"no_such_key": 1}); !errors.Is(err, ErrConfig) {
		t.Errorf("error = %v, want ErrConfig", err)
	}
}

func TestTrain(t *testing.T) {
	if testing.Short() {
		t.Skip("trains a network")
	}
	cfg := DefaultConfig()
	cfg.ImgHeight, cfg.ImgWidth, cfg.Channels = 8, 8, 1
	cfg.NFeatures = 4
	cfg.NResidualBlocks = 1
	cfg.NDownsampling = 1
	cfg.DiscriminatorLayers = 1
	cfg.NumEpochs = 1
	cfg.OutFolder = t.TempDir()

	values := make([]float64, 2*64)
	for i := range values {
		values[i] = float64(i%7)/3 - 1
	}
	a, _ := Images(values, 2, 1, 8, 8)
	b, _ := Images(append([]float64(nil), values...), 2, 1, 8, 8)

	m, err := Train(context.Background(), cfg, a, b)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(cfg.OutFolder, "cycle_gan_epoch_0.pth")); err != nil {
		t.Errorf("final checkpoint: %v", err)
	}
	out, err := m.Forward(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if !out.FakeB.SameShape(a) {
		t.Errorf("fake B shape %s, want %s", out.FakeB, a)
	}
}

func TestNewTrainerRejectsEmpty(t *testing.T) {
	cfg := DefaultConfig()
	empty, _ := Images(nil, 0, 3, 2, 2)
	one, _ := Images(make([]float64, 12), 1, 3, 2, 2)
	if _, err := NewTrainer(cfg, nil, empty, one); err == nil {
		t.Error("NewTrainer accepted an empty domain")
	}
}
