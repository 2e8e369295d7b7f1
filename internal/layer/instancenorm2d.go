package layer

import (
	"fmt"

	"github.com/FlavioCFOliveira/recyclegan/internal/autograd"
	"github.com/FlavioCFOliveira/recyclegan/internal/tensor"
)

// InstanceNorm2D normalizes every (sample, channel) plane independently.
// Statistics never depend on other images of the batch, so it behaves the same
// in training and evaluation.
type InstanceNorm2D struct {
	numFeatures int
	affine      bool
	gamma       *autograd.Param
	beta        *autograd.Param
}

// NewInstanceNorm2D creates an instance normalization over numFeatures channels.
func NewInstanceNorm2D(numFeatures int, affine bool) (*InstanceNorm2D, error) {
	if err := positive("InstanceNorm2D features", numFeatures); err != nil {
		return nil, err
	}
	l := &InstanceNorm2D{numFeatures: numFeatures, affine: affine}
	if affine {
		l.gamma = autograd.NewParam("weight", ones(numFeatures), numFeatures)
		l.beta = autograd.NewParam("bias", nil, numFeatures)
	}
	return l, nil
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

// Forward normalizes x per sample and channel.
func (l *InstanceNorm2D) Forward(x *autograd.Node) *autograd.Node {
	batch, channels, h, w := x.Value.Dims()
	if channels != l.numFeatures {
		panic(fmt.Sprintf("InstanceNorm2D: input has %d channels, layer expects %d", channels, l.numFeatures))
	}
	plane := h * w
	out := tensor.Like(x.Value)
	xhats := make([][]float64, batch*channels)
	stds := make([]float64, batch*channels)

	for n := 0; n < batch; n++ {
		for c := 0; c < channels; c++ {
			off := (n*channels + c) * plane
			xhat, _, _, std := standardize(x.Value.Data[off : off+plane])
			xhats[n*channels+c] = xhat
			stds[n*channels+c] = std
			for i, v := range xhat {
				if l.affine {
					v = l.gamma.Data[c]*v + l.beta.Data[c]
				}
				out.Data[off+i] = v
			}
		}
	}

	return autograd.Op(out, func(grad *tensor.Tensor) {
		gradIn := tensor.Like(x.Value)
		dxhat := make([]float64, plane)
		for n := 0; n < batch; n++ {
			for c := 0; c < channels; c++ {
				off := (n*channels + c) * plane
				g := grad.Data[off : off+plane]
				xhat := xhats[n*channels+c]
				for i := range g {
					dxhat[i] = g[i]
					if l.affine {
						l.gamma.Grad[c] += g[i] * xhat[i]
						l.beta.Grad[c] += g[i]
						dxhat[i] *= l.gamma.Data[c]
					}
				}
				copy(gradIn.Data[off:off+plane], standardizeBackward(dxhat, xhat, stds[n*channels+c]))
			}
		}
		x.Accumulate(gradIn)
	}, x)
}

// Params returns gamma and beta when the layer is affine.
func (l *InstanceNorm2D) Params() []*autograd.Param {
	if !l.affine {
		return nil
	}
	return []*autograd.Param{l.gamma, l.beta}
}

// SetTraining is a no-op.
func (l *InstanceNorm2D) SetTraining(bool) {}
