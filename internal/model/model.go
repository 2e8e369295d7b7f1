// Package model implements the CycleGAN training step and its checkpoints.
package model

import (
	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/recyclegan/internal/tensor"
)

// ErrInput is returned when an image batch does not match the configured shape.
var ErrInput = errors.New("model: invalid input batch")

// TrainableModel is the contract shared by every model the training driver
// can run.
type TrainableModel interface {
	// Forward translates real images without touching any weight.
	Forward(realA, realB *tensor.Tensor) (Outputs, error)

	// ComputeLoss evaluates every loss term for the batch pair.
	ComputeLoss(realA, realB *tensor.Tensor) (Losses, error)

	// Optimize runs one training iteration and returns the losses it minimized.
	Optimize(realA, realB *tensor.Tensor) (Losses, error)

	// Save writes a checkpoint tagged with epoch to path, overwriting it.
	Save(epoch int, path string) error

	// Load restores a checkpoint and returns its epoch. Nothing is modified
	// when an error is returned.
	Load(path string) (int, error)
}

// Outputs are the four images of one forward pass.
type Outputs struct {
	FakeB *tensor.Tensor // G_AtoB(realA)
	FakeA *tensor.Tensor // G_BtoA(realB)
	RecA  *tensor.Tensor // G_BtoA(fakeB)
	RecB  *tensor.Tensor // G_AtoB(fakeA)
}

// Losses are the scalar loss values of one iteration.
type Losses struct {
	G  float64
	DA float64
	DB float64

	AdversarialAtoB float64
	AdversarialBtoA float64
	CycleA          float64
	CycleB          float64
	IdentityA       float64
	IdentityB       float64

	// PathLength is the weighted path-length penalty, zero on iterations
	// where it is not applied.
	PathLength float64

	// Skipped is set when loss scaling found an overflow and no update was applied.
	Skipped bool
}

// Cycle returns the sum of both cycle terms.
func (l Losses) Cycle() float64 {
	return l.CycleA + l.CycleB
}

// Add accumulates o into l.
func (l *Losses) Add(o Losses) {
	l.G += o.G
	l.DA += o.DA
	l.DB += o.DB
	l.AdversarialAtoB += o.AdversarialAtoB
	l.AdversarialBtoA += o.AdversarialBtoA
	l.CycleA += o.CycleA
	l.CycleB += o.CycleB
	l.IdentityA += o.IdentityA
	l.IdentityB += o.IdentityB
	l.PathLength += o.PathLength
}

// Scale multiplies every value by s.
func (l *Losses) Scale(s float64) {
	l.G *= s
	l.DA *= s
	l.DB *= s
	l.AdversarialAtoB *= s
	l.AdversarialBtoA *= s
	l.CycleA *= s
	l.CycleB *= s
	l.IdentityA *= s
	l.IdentityB *= s
	l.PathLength *= s
}

// Map returns the values keyed by their log names.
func (l Losses) Map() map[string]float64 {
	return map[string]float64{
		"loss_G":           l.G,
		"loss_D_A":         l.DA,
		"loss_D_B":         l.DB,
		"loss_G_AtoB":      l.AdversarialAtoB,
		"loss_G_BtoA":      l.AdversarialBtoA,
		"loss_cycle_A":     l.CycleA,
		"loss_cycle_B":     l.CycleB,
		"loss_identity_A":  l.IdentityA,
		"loss_identity_B":  l.IdentityB,
		"loss_path_length": l.PathLength,
	}
}

// LossNames lists the keys of Losses.Map in a stable order.
var LossNames = []string{
	"loss_G", "loss_D_A", "loss_D_B",
	"loss_G_AtoB", "loss_G_BtoA",
	"loss_cycle_A", "loss_cycle_B",
	"loss_identity_A", "loss_identity_B",
	"loss_path_length",
}
