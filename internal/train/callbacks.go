package train

import (
	"log"
	"time"

	"github.com/FlavioCFOliveira/recyclegan/internal/config"
	"github.com/FlavioCFOliveira/recyclegan/internal/model"
)

// EpochStats summarizes one finished epoch.
type EpochStats struct {
	Epoch        int
	Batches      int
	Losses       model.Losses // averaged over the epoch's batches
	LearningRate float64
	Duration     time.Duration
}

// Callback defines the interface for training callbacks.
type Callback interface {
	OnTrainBegin(cfg config.Config, startEpoch int)
	OnTrainEnd()
	OnEpochBegin(epoch int)
	OnEpochEnd(stats EpochStats)
	OnBatchEnd(epoch, batch int, losses model.Losses)
}

// BaseCallback provides default empty implementations for Callback.
type BaseCallback struct{}

func (c BaseCallback) OnTrainBegin(cfg config.Config, startEpoch int)   {}
func (c BaseCallback) OnTrainEnd()                                      {}
func (c BaseCallback) OnEpochBegin(epoch int)                           {}
func (c BaseCallback) OnEpochEnd(stats EpochStats)                      {}
func (c BaseCallback) OnBatchEnd(epoch, batch int, losses model.Losses) {}

// Logger logs training progress.
type Logger struct {
	BaseCallback
	// Interval logs every Interval-th batch; 0 logs epochs only.
	Interval int
	Log      *log.Logger

	numEpochs int
}

func (c *Logger) logger() *log.Logger {
	if c.Log == nil {
		return log.Default()
	}
	return c.Log
}

func (c *Logger) OnTrainBegin(cfg config.Config, startEpoch int) {
	c.numEpochs = cfg.NumEpochs
	c.logger().Printf("[train] epochs %d..%d, batch size %d, images %dx%dx%d",
		startEpoch, cfg.NumEpochs-1, cfg.BatchSize, cfg.Channels, cfg.ImgHeight, cfg.ImgWidth)
}

func (c *Logger) OnBatchEnd(epoch, batch int, l model.Losses) {
	if c.Interval > 0 && (batch+1)%c.Interval == 0 {
		c.logger().Printf("[train] epoch %d batch %d: loss_G=%.4f loss_D_A=%.4f loss_D_B=%.4f",
			epoch, batch+1, l.G, l.DA, l.DB)
	}
}

func (c *Logger) OnEpochEnd(s EpochStats) {
	c.logger().Printf("[train] epoch %d/%d: loss_G=%.4f loss_D_A=%.4f loss_D_B=%.4f cycle=%.4f lr=%.2e (%d batches, %s)",
		s.Epoch+1, c.numEpochs, s.Losses.G, s.Losses.DA, s.Losses.DB, s.Losses.Cycle(),
		s.LearningRate, s.Batches, s.Duration.Round(time.Millisecond))
}

// History keeps every epoch's statistics in memory.
type History struct {
	BaseCallback
	Epochs []EpochStats
}

func (c *History) OnEpochEnd(s EpochStats) {
	c.Epochs = append(c.Epochs, s)
}
