// Package tensor provides the dense float64 tensor used for image batches and activations.
package tensor

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// ErrShape is returned when a tensor is built or combined with an incompatible shape.
var ErrShape = errors.New("tensor: shape mismatch")

// Tensor is a dense row-major array.
// Image batches use the (N, C, H, W) layout; scalars have shape [1].
type Tensor struct {
	Shape []int
	Data  []float64
}

// New allocates a zero-filled tensor with the given shape.
func New(shape ...int) *Tensor {
	return &Tensor{
		Shape: append([]int(nil), shape...),
		Data:  make([]float64, numel(shape)),
	}
}

// Scalar returns a tensor of shape [1] holding v.
func Scalar(v float64) *Tensor {
	return &Tensor{Shape: []int{1}, Data: []float64{v}}
}

// FromSlice wraps data (without copying) into a tensor of the given shape.
func FromSlice(data []float64, shape ...int) (*Tensor, error) {
	if n := numel(shape); n != len(data) {
		return nil, errors.Wrapf(ErrShape, "%d values do not fill shape %v (%d)", len(data), shape, n)
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: data}, nil
}

// Like allocates a zero tensor with the same shape as t.
func Like(t *Tensor) *Tensor {
	return New(t.Shape...)
}

func numel(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Size returns the number of elements.
func (t *Tensor) Size() int {
	return len(t.Data)
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	c := &Tensor{
		Shape: append([]int(nil), t.Shape...),
		Data:  make([]float64, len(t.Data)),
	}
	copy(c.Data, t.Data)
	return c
}

// Dims returns the (N, C, H, W) dimensions of a rank-4 tensor.
// It panics for any other rank.
func (t *Tensor) Dims() (n, c, h, w int) {
	if len(t.Shape) != 4 {
		panic(fmt.Sprintf("tensor: Dims on rank-%d tensor %v", len(t.Shape), t.Shape))
	}
	return t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]
}

// SampleSize returns the number of elements in one batch entry.
func (t *Tensor) SampleSize() int {
	if len(t.Shape) == 0 || t.Shape[0] == 0 {
		return 0
	}
	return len(t.Data) / t.Shape[0]
}

// Sample returns a view (not a copy) of the i-th batch entry.
func (t *Tensor) Sample(i int) []float64 {
	s := t.SampleSize()
	return t.Data[i*s : (i+1)*s]
}

// Slice copies batch entries [from, to) into a new tensor.
func (t *Tensor) Slice(from, to int) *Tensor {
	s := t.SampleSize()
	shape := append([]int(nil), t.Shape...)
	shape[0] = to - from
	out := &Tensor{Shape: shape, Data: make([]float64, (to-from)*s)}
	copy(out.Data, t.Data[from*s:to*s])
	return out
}

// SameShape reports whether t and o have identical shapes.
func (t *Tensor) SameShape(o *Tensor) bool {
	if len(t.Shape) != len(o.Shape) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != o.Shape[i] {
			return false
		}
	}
	return true
}

// Item returns the value of a single-element tensor.
func (t *Tensor) Item() float64 {
	if len(t.Data) != 1 {
		panic(fmt.Sprintf("tensor: Item on tensor of shape %v", t.Shape))
	}
	return t.Data[0]
}

// AddInPlace accumulates o into t.
func (t *Tensor) AddInPlace(o *Tensor) {
	floats.Add(t.Data, o.Data)
}

// Fill sets every element to v.
func (t *Tensor) Fill(v float64) {
	for i := range t.Data {
		t.Data[i] = v
	}
}

// Mean returns the arithmetic mean of all elements.
func (t *Tensor) Mean() float64 {
	if len(t.Data) == 0 {
		return 0
	}
	return floats.Sum(t.Data) / float64(len(t.Data))
}

// IsFinite reports whether every element is a finite number.
func (t *Tensor) IsFinite() bool {
	for _, v := range t.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// String formats the shape, e.g. "(4, 3, 32, 32)".
func (t *Tensor) String() string {
	return ShapeString(t.Shape)
}

// ShapeString formats a shape tuple.
func ShapeString(shape []int) string {
	s := "("
	for i, d := range shape {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprint(d)
	}
	return s + ")"
}

// Stack concatenates single (C, H, W) images into one (N, C, H, W) batch.
func Stack(c, h, w int, samples ...[]float64) (*Tensor, error) {
	per := c * h * w
	out := New(len(samples), c, h, w)
	for i, s := range samples {
		if len(s) != per {
			return nil, errors.Wrapf(ErrShape, "sample %d has %d values, want %d", i, len(s), per)
		}
		copy(out.Data[i*per:], s)
	}
	return out, nil
}

// AbsMeanDiff returns mean(|a - b|) over all elements.
func AbsMeanDiff(a, b *Tensor) (float64, error) {
	if !a.SameShape(b) {
		return 0, errors.Wrapf(ErrShape, "%s vs %s", a, b)
	}
	if len(a.Data) == 0 {
		return 0, nil
	}
	return floats.Distance(a.Data, b.Data, 1) / float64(len(a.Data)), nil
}
