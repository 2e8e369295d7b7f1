package layer

import (
	"github.com/FlavioCFOliveira/recyclegan/internal/activations"
	"github.com/FlavioCFOliveira/recyclegan/internal/autograd"
	"github.com/FlavioCFOliveira/recyclegan/internal/tensor"
)

// Activation applies an element-wise nonlinearity.
type Activation struct {
	fn activations.Activation
}

// NewActivation wraps fn as a layer.
func NewActivation(fn activations.Activation) *Activation {
	return &Activation{fn: fn}
}

// Forward applies the activation to every element.
func (a *Activation) Forward(x *autograd.Node) *autograd.Node {
	out := tensor.Like(x.Value)
	for i, v := range x.Value.Data {
		out.Data[i] = a.fn.Activate(v)
	}
	return autograd.Op(out, func(grad *tensor.Tensor) {
		gradIn := tensor.Like(x.Value)
		for i, v := range x.Value.Data {
			gradIn.Data[i] = grad.Data[i] * a.fn.Derivative(v)
		}
		x.Accumulate(gradIn)
	}, x)
}

func (a *Activation) Params() []*autograd.Param { return nil }
func (a *Activation) SetTraining(bool)           {}
