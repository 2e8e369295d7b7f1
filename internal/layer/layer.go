// Package layer provides neural network layer implementations.
//
// Layers operate on (N, C, H, W) batches wrapped in autograd nodes. Every call to
// Forward records its own backward closure, so a layer may be applied several times
// in one step (a generator translates real images, fakes and identity inputs) and
// each application receives its own gradient.
package layer

import (
	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/recyclegan/internal/autograd"
)

// ErrConfig reports an invalid layer configuration.
var ErrConfig = errors.New("layer: invalid configuration")

// Layer is a neural network layer.
type Layer interface {
	Forward(x *autograd.Node) *autograd.Node
	Params() []*autograd.Param
	SetTraining(training bool)
}

// Buffered is implemented by layers that carry non-learnable state which must
// be checkpointed with the weights (running statistics).
type Buffered interface {
	Buffers() []*autograd.Param
}

// BuffersOf returns l's buffers, or nil when it has none.
func BuffersOf(l Layer) []*autograd.Param {
	if b, ok := l.(Buffered); ok {
		return b.Buffers()
	}
	return nil
}

func positive(what string, values ...int) error {
	for _, v := range values {
		if v <= 0 {
			return errors.Wrapf(ErrConfig, "%s must be positive, got %d", what, v)
		}
	}
	return nil
}
