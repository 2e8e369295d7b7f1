// Package train runs the CycleGAN training loop: resuming, epochs, learning
// rate decay, checkpoints and progress callbacks.
package train

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/recyclegan/internal/config"
	"github.com/FlavioCFOliveira/recyclegan/internal/model"
	"github.com/FlavioCFOliveira/recyclegan/internal/tensor"
)

// ErrNoData is returned when a loader yields no batch for an epoch.
var ErrNoData = errors.New("train: no batches")

// Loader yields the image batches of one domain. Every call returns the
// batches of a full pass, so iteration restarts each epoch.
type Loader interface {
	Batches(epoch int) ([]*tensor.Tensor, error)
}

// Scheduled is implemented by models with a per-epoch learning-rate schedule.
type Scheduled interface {
	EndEpoch()
	LearningRate() float64
}

// CheckpointName returns the file name of the checkpoint written after epoch.
func CheckpointName(epoch int) string {
	return fmt.Sprintf("cycle_gan_epoch_%d.pth", epoch)
}

// Trainer drives a model over paired loaders.
type Trainer struct {
	Config    config.Config
	Model     model.TrainableModel
	LoaderA   Loader
	LoaderB   Loader
	Callbacks []Callback
	Log       *log.Logger
}

func (t *Trainer) logger() *log.Logger {
	if t.Log == nil {
		return log.Default()
	}
	return t.Log
}

// Run trains from the configured restart checkpoint (or from scratch) up to
// Config.NumEpochs. A set ParametersPath is applied first (config.Resolve).
// It writes the resolved hyperparameters to the output folder and a
// checkpoint every CheckpointInterval epochs and after the last one.
// Cancellation is checked between iterations.
func (t *Trainer) Run(ctx context.Context) error {
	cfg, err := config.Resolve(t.Config)
	if err != nil {
		return err
	}
	start := 0
	if cfg.RestartPath != "" {
		epoch, err := t.Model.Load(cfg.RestartPath)
		if err != nil {
			return errors.Wrap(err, "resume")
		}
		start = epoch + 1
		t.logger().Printf("[train] resumed from %s (epoch %d)", cfg.RestartPath, epoch)
	}

	if err := os.MkdirAll(cfg.OutFolder, 0o755); err != nil {
		return errors.Wrapf(err, "create output folder %s", cfg.OutFolder)
	}
	if err := cfg.Save(filepath.Join(cfg.OutFolder, config.FileName)); err != nil {
		return err
	}

	for _, c := range t.Callbacks {
		c.OnTrainBegin(cfg, start)
	}
	defer func() {
		for _, c := range t.Callbacks {
			c.OnTrainEnd()
		}
	}()

	for epoch := start; epoch < cfg.NumEpochs; epoch++ {
		if err := t.runEpoch(ctx, epoch); err != nil {
			return err
		}
		if (epoch+1)%cfg.CheckpointInterval == 0 || epoch == cfg.NumEpochs-1 {
			path := filepath.Join(cfg.OutFolder, CheckpointName(epoch))
			if err := t.Model.Save(epoch, path); err != nil {
				return errors.Wrapf(err, "epoch %d", epoch)
			}
			t.logger().Printf("[train] saved checkpoint %s", path)
		}
	}
	return nil
}

func (t *Trainer) runEpoch(ctx context.Context, epoch int) error {
	began := time.Now()
	for _, c := range t.Callbacks {
		c.OnEpochBegin(epoch)
	}

	batchesA, err := t.LoaderA.Batches(epoch)
	if err != nil {
		return errors.Wrapf(err, "epoch %d: domain A", epoch)
	}
	batchesB, err := t.LoaderB.Batches(epoch)
	if err != nil {
		return errors.Wrapf(err, "epoch %d: domain B", epoch)
	}
	// Domains are zipped; the shorter one ends the epoch.
	n := min(len(batchesA), len(batchesB))
	if n == 0 {
		return errors.Wrapf(ErrNoData, "epoch %d: %d batches in A, %d in B", epoch, len(batchesA), len(batchesB))
	}

	var sum model.Losses
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		l, err := t.Model.Optimize(batchesA[i], batchesB[i])
		if err != nil {
			return errors.Wrapf(err, "epoch %d batch %d", epoch, i)
		}
		sum.Add(l)
		for _, c := range t.Callbacks {
			c.OnBatchEnd(epoch, i, l)
		}
	}
	sum.Scale(1 / float64(n))

	stats := EpochStats{Epoch: epoch, Batches: n, Losses: sum, Duration: time.Since(began)}
	if s, ok := t.Model.(Scheduled); ok {
		stats.LearningRate = s.LearningRate()
		s.EndEpoch()
	}
	for _, c := range t.Callbacks {
		c.OnEpochEnd(stats)
	}
	return nil
}
