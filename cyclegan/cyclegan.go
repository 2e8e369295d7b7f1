// Package cyclegan is the public entry point: configuration, model and
// training driver of the unpaired image-to-image translator.
package cyclegan

import (
	"context"
	"log"

	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/recyclegan/internal/config"
	"github.com/FlavioCFOliveira/recyclegan/internal/data"
	"github.com/FlavioCFOliveira/recyclegan/internal/model"
	"github.com/FlavioCFOliveira/recyclegan/internal/tensor"
	"github.com/FlavioCFOliveira/recyclegan/internal/train"
)

// Re-export common types for easier access
type (
	Config         = config.Config
	Model          = model.CycleGAN
	TrainableModel = model.TrainableModel
	Losses         = model.Losses
	Outputs        = model.Outputs
	Checkpoint     = model.Checkpoint
	Trainer        = train.Trainer
	Callback       = train.Callback
	EpochStats     = train.EpochStats
	Tensor         = tensor.Tensor
)

// Errors
var (
	ErrConfig             = config.ErrConfig
	ErrInput              = model.ErrInput
	ErrCheckpointNotFound = model.ErrCheckpointNotFound
	ErrCheckpointSchema   = model.ErrCheckpointSchema
	ErrNoData             = train.ErrNoData
)

// Configuration
func DefaultConfig() Config {
	return config.Default()
}

func LoadConfig(path string) (Config, error) {
	return config.Load(path)
}

func ResolveConfig(cfg Config) (Config, error) {
	return config.Resolve(cfg)
}

func ConfigFromMap(m map[string]any) (Config, error) {
	return config.FromMap(m)
}

// Model creation
func New(cfg Config) (*Model, error) {
	return model.New(cfg)
}

// Images wraps data (N*C*H*W values in [-1, 1]) as an image batch.
func Images(values []float64, n, c, h, w int) (*Tensor, error) {
	return tensor.FromSlice(values, n, c, h, w)
}

// Callbacks
func Logger(interval int, l *log.Logger) Callback {
	return &train.Logger{Interval: interval, Log: l}
}

func CSVLogger(path string, resume bool) Callback {
	return train.NewCSVLogger(path, resume)
}

// NewTrainer pairs m with shuffled loaders over both image sets. The
// configuration's batch size and sample limit apply to both domains.
func NewTrainer(cfg Config, m TrainableModel, imagesA, imagesB *Tensor, callbacks ...Callback) (*Trainer, error) {
	seed := int64(cfg.Seed)
	la, err := data.NewSliceLoader(imagesA, cfg.BatchSize, cfg.NSamples, true, seed)
	if err != nil {
		return nil, errors.Wrap(err, "domain A")
	}
	lb, err := data.NewSliceLoader(imagesB, cfg.BatchSize, cfg.NSamples, true, seed+1)
	if err != nil {
		return nil, errors.Wrap(err, "domain B")
	}
	return &Trainer{
		Config:    cfg,
		Model:     m,
		LoaderA:   la,
		LoaderB:   lb,
		Callbacks: callbacks,
	}, nil
}

// Train builds a model from cfg and trains it on both image sets.
func Train(ctx context.Context, cfg Config, imagesA, imagesB *Tensor, callbacks ...Callback) (*Model, error) {
	m, err := New(cfg)
	if err != nil {
		return nil, err
	}
	t, err := NewTrainer(cfg, m, imagesA, imagesB, callbacks...)
	if err != nil {
		return nil, err
	}
	if err := t.Run(ctx); err != nil {
		return nil, err
	}
	return m, nil
}
