package layer

import (
	"fmt"
	"math"

	"github.com/FlavioCFOliveira/recyclegan/internal/autograd"
	"github.com/FlavioCFOliveira/recyclegan/internal/tensor"
)

// BatchNorm2D implements 2D batch normalization.
// Normalizes across batch and spatial dimensions, learns scale/shift per channel.
type BatchNorm2D struct {
	numFeatures int
	momentum    float64
	training    bool

	// Learnable parameters
	gamma *autograd.Param
	beta  *autograd.Param

	// Running statistics (for inference)
	runningMean *autograd.Param
	runningVar  *autograd.Param
}

// NewBatchNorm2D creates a new 2D batch normalization layer.
func NewBatchNorm2D(numFeatures int, momentum float64) (*BatchNorm2D, error) {
	if err := positive("BatchNorm2D features", numFeatures); err != nil {
		return nil, err
	}
	return &BatchNorm2D{
		numFeatures: numFeatures,
		momentum:    momentum,
		training:    true,
		gamma:       autograd.NewParam("weight", ones(numFeatures), numFeatures),
		beta:        autograd.NewParam("bias", nil, numFeatures),
		runningMean: autograd.NewParam("running_mean", nil, numFeatures),
		runningVar:  autograd.NewParam("running_var", ones(numFeatures), numFeatures),
	}, nil
}

// gather copies channel c of every sample into one contiguous slice.
func gather(x *tensor.Tensor, c int) []float64 {
	batch, channels, h, w := x.Dims()
	plane := h * w
	out := make([]float64, 0, batch*plane)
	for n := 0; n < batch; n++ {
		off := (n*channels + c) * plane
		out = append(out, x.Data[off:off+plane]...)
	}
	return out
}

// scatter is the inverse of gather.
func scatter(dst *tensor.Tensor, c int, values []float64) {
	batch, channels, h, w := dst.Dims()
	plane := h * w
	for n := 0; n < batch; n++ {
		off := (n*channels + c) * plane
		copy(dst.Data[off:off+plane], values[n*plane:(n+1)*plane])
	}
}

// Forward normalizes with batch statistics in training mode and running
// statistics otherwise. Training mode also updates the running statistics.
func (b *BatchNorm2D) Forward(x *autograd.Node) *autograd.Node {
	_, channels, _, _ := x.Value.Dims()
	if channels != b.numFeatures {
		panic(fmt.Sprintf("BatchNorm2D: input has %d channels, layer expects %d", channels, b.numFeatures))
	}
	out := tensor.Like(x.Value)
	xhats := make([][]float64, channels)
	stds := make([]float64, channels)

	for c := 0; c < channels; c++ {
		values := gather(x.Value, c)
		var xhat []float64
		if b.training {
			var mean, variance float64
			xhat, mean, variance, stds[c] = standardize(values)
			unbiased := variance
			if m := float64(len(values)); m > 1 {
				unbiased = variance * m / (m - 1)
			}
			b.runningMean.Data[c] = (1-b.momentum)*b.runningMean.Data[c] + b.momentum*mean
			b.runningVar.Data[c] = (1-b.momentum)*b.runningVar.Data[c] + b.momentum*unbiased
		} else {
			stds[c] = math.Sqrt(b.runningVar.Data[c] + normEps)
			xhat = make([]float64, len(values))
			for i, v := range values {
				xhat[i] = (v - b.runningMean.Data[c]) / stds[c]
			}
		}
		xhats[c] = xhat

		y := make([]float64, len(xhat))
		for i, v := range xhat {
			y[i] = b.gamma.Data[c]*v + b.beta.Data[c]
		}
		scatter(out, c, y)
	}

	training := b.training
	return autograd.Op(out, func(grad *tensor.Tensor) {
		gradIn := tensor.Like(x.Value)
		for c := 0; c < channels; c++ {
			g := gather(grad, c)
			xhat := xhats[c]
			dxhat := make([]float64, len(g))
			for i := range g {
				b.gamma.Grad[c] += g[i] * xhat[i]
				b.beta.Grad[c] += g[i]
				dxhat[i] = g[i] * b.gamma.Data[c]
			}
			if training {
				scatter(gradIn, c, standardizeBackward(dxhat, xhat, stds[c]))
				continue
			}
			for i := range dxhat {
				dxhat[i] /= stds[c]
			}
			scatter(gradIn, c, dxhat)
		}
		x.Accumulate(gradIn)
	}, x)
}

// Params returns gamma and beta.
func (b *BatchNorm2D) Params() []*autograd.Param {
	return []*autograd.Param{b.gamma, b.beta}
}

// Buffers returns the running mean and variance.
func (b *BatchNorm2D) Buffers() []*autograd.Param {
	return []*autograd.Param{b.runningMean, b.runningVar}
}

// SetTraining switches between batch and running statistics.
func (b *BatchNorm2D) SetTraining(training bool) {
	b.training = training
}
