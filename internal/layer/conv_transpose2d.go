package layer

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/recyclegan/internal/autograd"
	"github.com/FlavioCFOliveira/recyclegan/internal/tensor"
)

// ConvTranspose2D is the gradient of Conv2D with respect to its input, used by
// the generator decoder to double the spatial resolution.
type ConvTranspose2D struct {
	inChannels    int
	outChannels   int
	kernelSize    int
	stride        int
	padding       int
	outputPadding int

	// Weights: [inChannels, outChannels, kernelSize, kernelSize]
	weight *autograd.Param
	bias   *autograd.Param
}

// NewConvTranspose2D creates a transposed convolution.
func NewConvTranspose2D(inChannels, outChannels, kernelSize, stride, padding, outputPadding int, rng *RNG) (*ConvTranspose2D, error) {
	if err := positive("ConvTranspose2D channels, kernel and stride", inChannels, outChannels, kernelSize, stride); err != nil {
		return nil, err
	}
	if padding < 0 || outputPadding < 0 || outputPadding >= stride {
		return nil, errors.Wrapf(ErrConfig, "ConvTranspose2D padding %d / output padding %d invalid for stride %d",
			padding, outputPadding, stride)
	}

	n := inChannels * outChannels * kernelSize * kernelSize
	return &ConvTranspose2D{
		inChannels:    inChannels,
		outChannels:   outChannels,
		kernelSize:    kernelSize,
		stride:        stride,
		padding:       padding,
		outputPadding: outputPadding,
		weight:        autograd.NewParam("weight", rng.normalSlice(n, initStd), inChannels, outChannels, kernelSize, kernelSize),
		bias:          autograd.NewParam("bias", nil, outChannels),
	}, nil
}

// OutputSize returns (in-1)*stride - 2*padding + kernel + outputPadding per dimension.
func (c *ConvTranspose2D) OutputSize(inputHeight, inputWidth int) (int, int) {
	outH := (inputHeight-1)*c.stride - 2*c.padding + c.kernelSize + c.outputPadding
	outW := (inputWidth-1)*c.stride - 2*c.padding + c.kernelSize + c.outputPadding
	return outH, outW
}

// Forward scatters every input pixel through the kernel into the output.
func (c *ConvTranspose2D) Forward(x *autograd.Node) *autograd.Node {
	batch, channels, inH, inW := x.Value.Dims()
	if channels != c.inChannels {
		panic(fmt.Sprintf("ConvTranspose2D: input has %d channels, layer expects %d", channels, c.inChannels))
	}
	outH, outW := c.OutputSize(inH, inW)
	out := tensor.New(batch, c.outChannels, outH, outW)

	k := c.kernelSize
	weights := c.weight.Data
	kk := k * k
	icStride := c.outChannels * kk
	inSize := inH * inW
	outSize := outH * outW

	// visit calls fn for every (input index, weight index, output index) triple of one sample.
	visit := func(fn func(inIdx, wIdx, outIdx int)) {
		for ic := 0; ic < c.inChannels; ic++ {
			for ih := 0; ih < inH; ih++ {
				for iw := 0; iw < inW; iw++ {
					inIdx := ic*inSize + ih*inW + iw
					for oc := 0; oc < c.outChannels; oc++ {
						wBase := ic*icStride + oc*kk
						for kh := 0; kh < k; kh++ {
							oh := ih*c.stride - c.padding + kh
							if oh < 0 || oh >= outH {
								continue
							}
							for kw := 0; kw < k; kw++ {
								ow := iw*c.stride - c.padding + kw
								if ow < 0 || ow >= outW {
									continue
								}
								fn(inIdx, wBase+kh*k+kw, oc*outSize+oh*outW+ow)
							}
						}
					}
				}
			}
		}
	}

	for n := 0; n < batch; n++ {
		input := x.Value.Sample(n)
		output := out.Sample(n)
		visit(func(inIdx, wIdx, outIdx int) {
			output[outIdx] += input[inIdx] * weights[wIdx]
		})
		for oc := 0; oc < c.outChannels; oc++ {
			b := c.bias.Data[oc]
			for pos := oc * outSize; pos < (oc+1)*outSize; pos++ {
				output[pos] += b
			}
		}
	}

	return autograd.Op(out, func(grad *tensor.Tensor) {
		var gradIn *tensor.Tensor
		if !x.Constant() {
			gradIn = tensor.Like(x.Value)
		}
		gradW := c.weight.Grad
		for n := 0; n < batch; n++ {
			input := x.Value.Sample(n)
			g := grad.Sample(n)
			var gi []float64
			if gradIn != nil {
				gi = gradIn.Sample(n)
			}
			visit(func(inIdx, wIdx, outIdx int) {
				gv := g[outIdx]
				gradW[wIdx] += gv * input[inIdx]
				if gi != nil {
					gi[inIdx] += gv * weights[wIdx]
				}
			})
			for oc := 0; oc < c.outChannels; oc++ {
				for pos := oc * outSize; pos < (oc+1)*outSize; pos++ {
					c.bias.Grad[oc] += g[pos]
				}
			}
		}
		if gradIn != nil {
			x.Accumulate(gradIn)
		}
	}, x)
}

// Params returns the kernel and bias parameters.
func (c *ConvTranspose2D) Params() []*autograd.Param {
	return []*autograd.Param{c.weight, c.bias}
}

// SetTraining is a no-op.
func (c *ConvTranspose2D) SetTraining(bool) {}
