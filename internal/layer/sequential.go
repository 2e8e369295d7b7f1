package layer

import (
	"fmt"

	"github.com/FlavioCFOliveira/recyclegan/internal/autograd"
)

// Sequential chains layers. On construction every child parameter and buffer
// is renamed "<index>.<name>", so nested containers produce dotted paths such
// as "3.block.1.weight".
type Sequential struct {
	layers []Layer
}

// NewSequential creates a container running layers in order.
func NewSequential(layers ...Layer) *Sequential {
	for i, l := range layers {
		prefix(fmt.Sprint(i), l.Params())
		prefix(fmt.Sprint(i), BuffersOf(l))
	}
	return &Sequential{layers: layers}
}

func prefix(p string, params []*autograd.Param) {
	for _, param := range params {
		param.Name = p + "." + param.Name
	}
}

// Forward runs every layer in order.
func (s *Sequential) Forward(x *autograd.Node) *autograd.Node {
	for _, l := range s.layers {
		x = l.Forward(x)
	}
	return x
}

// Params returns the parameters of every layer in order.
func (s *Sequential) Params() []*autograd.Param {
	var params []*autograd.Param
	for _, l := range s.layers {
		params = append(params, l.Params()...)
	}
	return params
}

// Buffers returns the buffers of every layer in order.
func (s *Sequential) Buffers() []*autograd.Param {
	var buffers []*autograd.Param
	for _, l := range s.layers {
		buffers = append(buffers, BuffersOf(l)...)
	}
	return buffers
}

// SetTraining propagates the mode to every layer.
func (s *Sequential) SetTraining(training bool) {
	for _, l := range s.layers {
		l.SetTraining(training)
	}
}

// Layers returns the layers slice.
func (s *Sequential) Layers() []Layer {
	return s.layers
}

// Residual computes x + block(x). The block must preserve the input shape.
type Residual struct {
	block Layer
}

// NewResidual wraps block; its parameters are renamed "block.<name>".
func NewResidual(block Layer) *Residual {
	prefix("block", block.Params())
	prefix("block", BuffersOf(block))
	return &Residual{block: block}
}

// Forward adds the block output to its input.
func (r *Residual) Forward(x *autograd.Node) *autograd.Node {
	return autograd.Add(x, r.block.Forward(x))
}

func (r *Residual) Params() []*autograd.Param  { return r.block.Params() }
func (r *Residual) Buffers() []*autograd.Param { return BuffersOf(r.block) }
func (r *Residual) SetTraining(training bool)  { r.block.SetTraining(training) }
