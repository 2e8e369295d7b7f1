// Package networks builds the CycleGAN generator and discriminator from layers.
package networks

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/recyclegan/internal/autograd"
	"github.com/FlavioCFOliveira/recyclegan/internal/layer"
)

var (
	// ErrConfig reports an architecture that cannot be built for the requested image size.
	ErrConfig = errors.New("networks: invalid configuration")

	// ErrStateDict reports a state dict that does not match the network.
	ErrStateDict = errors.New("networks: state dict mismatch")
)

// Norm selects the normalization layer placed after convolutions.
type Norm string

const (
	NormInstance Norm = "instance"
	NormBatch    Norm = "batch"
	NormNone     Norm = "none"
)

// ParseNorm validates a norm name.
func ParseNorm(s string) (Norm, error) {
	switch n := Norm(s); n {
	case NormInstance, NormBatch, NormNone:
		return n, nil
	}
	return "", errors.Wrapf(ErrConfig, "unknown norm type %q (want instance, batch or none)", s)
}

// newNorm returns the normalization layer for features channels, or nil for NormNone.
func newNorm(n Norm, features int) (layer.Layer, error) {
	switch n {
	case NormInstance:
		return layer.NewInstanceNorm2D(features, false)
	case NormBatch:
		return layer.NewBatchNorm2D(features, 0.1)
	case NormNone:
		return nil, nil
	}
	return nil, errors.Wrapf(ErrConfig, "unknown norm type %q", n)
}

// StateDict maps dotted parameter and buffer names to their values.
type StateDict map[string][]float64

// Network is a trainable image-to-image or image-to-score network.
type Network interface {
	Forward(x *autograd.Node) *autograd.Node
	Params() []*autograd.Param
	SetTraining(training bool)
	StateDict() StateDict
	CheckStateDict(sd StateDict) error
	LoadStateDict(sd StateDict) error
}

// modules holds the named top-level parts of a network.
type modules struct {
	parts []layer.Layer
}

// add registers l under name, prefixing its parameter and buffer names.
func (m *modules) add(name string, l layer.Layer) layer.Layer {
	for _, p := range l.Params() {
		p.Name = name + "." + p.Name
	}
	for _, b := range layer.BuffersOf(l) {
		b.Name = name + "." + b.Name
	}
	m.parts = append(m.parts, l)
	return l
}

// Params returns the learnable parameters of every part.
func (m *modules) Params() []*autograd.Param {
	var params []*autograd.Param
	for _, l := range m.parts {
		params = append(params, l.Params()...)
	}
	return params
}

// Buffers returns the running statistics of every part.
func (m *modules) Buffers() []*autograd.Param {
	var buffers []*autograd.Param
	for _, l := range m.parts {
		buffers = append(buffers, layer.BuffersOf(l)...)
	}
	return buffers
}

// SetTraining switches every part between training and evaluation behaviour.
func (m *modules) SetTraining(training bool) {
	for _, l := range m.parts {
		l.SetTraining(training)
	}
}

func (m *modules) tensors() []*autograd.Param {
	return append(m.Params(), m.Buffers()...)
}

// StateDict returns a copy of every parameter and buffer.
func (m *modules) StateDict() StateDict {
	sd := make(StateDict)
	for _, p := range m.tensors() {
		sd[p.Name] = append([]float64(nil), p.Data...)
	}
	return sd
}

// LoadStateDict copies sd into the network. The dict must hold exactly the
// network's tensors with matching sizes; on error nothing is modified.
func (m *modules) LoadStateDict(sd StateDict) error {
	tensors := m.tensors()
	if err := m.CheckStateDict(sd); err != nil {
		return err
	}
	for _, p := range tensors {
		copy(p.Data, sd[p.Name])
	}
	return nil
}

// CheckStateDict validates sd without loading it.
func (m *modules) CheckStateDict(sd StateDict) error {
	tensors := m.tensors()
	known := make(map[string]bool, len(tensors))
	for _, p := range tensors {
		known[p.Name] = true
		v, ok := sd[p.Name]
		if !ok {
			return errors.Wrapf(ErrStateDict, "missing key %q", p.Name)
		}
		if len(v) != p.Size() {
			return errors.Wrapf(ErrStateDict, "%q has %d values, want %d", p.Name, len(v), p.Size())
		}
	}
	var unexpected []string
	for k := range sd {
		if !known[k] {
			unexpected = append(unexpected, k)
		}
	}
	if len(unexpected) > 0 {
		sort.Strings(unexpected)
		return errors.Wrapf(ErrStateDict, "unexpected keys %v", unexpected)
	}
	return nil
}

// NumParams returns the number of learnable scalars in n.
func NumParams(n Network) int {
	total := 0
	for _, p := range n.Params() {
		total += p.Size()
	}
	return total
}
