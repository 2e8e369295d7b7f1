package layer

import (
	"fmt"

	"github.com/FlavioCFOliveira/recyclegan/internal/autograd"
	"github.com/FlavioCFOliveira/recyclegan/internal/tensor"
)

// ReflectionPad2D pads each spatial border by mirroring the image without
// repeating the edge pixel.
type ReflectionPad2D struct {
	pad int
}

// NewReflectionPad2D creates a reflection padding of pad pixels on every side.
func NewReflectionPad2D(pad int) (*ReflectionPad2D, error) {
	if err := positive("ReflectionPad2D padding", pad); err != nil {
		return nil, err
	}
	return &ReflectionPad2D{pad: pad}, nil
}

func reflect(i, n int) int {
	if i < 0 {
		return -i
	}
	if i >= n {
		return 2*(n-1) - i
	}
	return i
}

// Forward pads x. The padding must be smaller than both spatial dimensions.
func (r *ReflectionPad2D) Forward(x *autograd.Node) *autograd.Node {
	batch, channels, h, w := x.Value.Dims()
	if r.pad >= h || r.pad >= w {
		panic(fmt.Sprintf("ReflectionPad2D: padding %d too large for %dx%d input", r.pad, h, w))
	}
	outH, outW := h+2*r.pad, w+2*r.pad
	out := tensor.New(batch, channels, outH, outW)

	// src[i] is the input index feeding output index i within one sample.
	src := make([]int, channels*outH*outW)
	for c := 0; c < channels; c++ {
		for oh := 0; oh < outH; oh++ {
			ih := reflect(oh-r.pad, h)
			for ow := 0; ow < outW; ow++ {
				iw := reflect(ow-r.pad, w)
				src[c*outH*outW+oh*outW+ow] = c*h*w + ih*w + iw
			}
		}
	}

	for n := 0; n < batch; n++ {
		in := x.Value.Sample(n)
		o := out.Sample(n)
		for i, s := range src {
			o[i] = in[s]
		}
	}

	return autograd.Op(out, func(grad *tensor.Tensor) {
		gradIn := tensor.Like(x.Value)
		for n := 0; n < batch; n++ {
			g := grad.Sample(n)
			gi := gradIn.Sample(n)
			for i, s := range src {
				gi[s] += g[i]
			}
		}
		x.Accumulate(gradIn)
	}, x)
}

func (r *ReflectionPad2D) Params() []*autograd.Param { return nil }
func (r *ReflectionPad2D) SetTraining(bool)           {}
