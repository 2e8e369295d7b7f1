package layer

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/recyclegan/internal/autograd"
	"github.com/FlavioCFOliveira/recyclegan/internal/tensor"
)

// Conv2D implements a 2D convolutional layer with zero padding.
// Uses direct convolution computation for correctness.
type Conv2D struct {
	inChannels  int
	outChannels int
	kernelSize  int
	stride      int
	padding     int

	// Weights: [outChannels, inChannels, kernelSize, kernelSize]
	weight *autograd.Param
	bias   *autograd.Param
}

// NewConv2D creates a new 2D convolutional layer.
// inChannels: number of input channels
// outChannels: number of output feature maps
// kernelSize: size of convolutional kernel (square)
// stride: stride for convolution
// padding: zero padding size
func NewConv2D(inChannels, outChannels, kernelSize, stride, padding int, rng *RNG) (*Conv2D, error) {
	if err := positive("Conv2D channels, kernel and stride", inChannels, outChannels, kernelSize, stride); err != nil {
		return nil, err
	}
	if padding < 0 {
		return nil, errors.Wrapf(ErrConfig, "Conv2D padding must be >= 0, got %d", padding)
	}

	n := outChannels * inChannels * kernelSize * kernelSize
	return &Conv2D{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernelSize:  kernelSize,
		stride:      stride,
		padding:     padding,
		weight:      autograd.NewParam("weight", rng.normalSlice(n, initStd), outChannels, inChannels, kernelSize, kernelSize),
		bias:        autograd.NewParam("bias", nil, outChannels),
	}, nil
}

// OutputSize calculates the output spatial dimensions
func (c *Conv2D) OutputSize(inputHeight, inputWidth int) (int, int) {
	// Output size: (input + 2*padding - kernel) / stride + 1
	outH := (inputHeight+2*c.padding-c.kernelSize)/c.stride + 1
	outW := (inputWidth+2*c.padding-c.kernelSize)/c.stride + 1
	return outH, outW
}

// Forward convolves every image of the batch.
// Input layout: [N, inChannels, H, W]; output layout: [N, outChannels, outH, outW]
func (c *Conv2D) Forward(x *autograd.Node) *autograd.Node {
	batch, channels, inputHeight, inputWidth := x.Value.Dims()
	if channels != c.inChannels {
		panic(fmt.Sprintf("Conv2D: input has %d channels, layer expects %d", channels, c.inChannels))
	}
	outH, outW := c.OutputSize(inputHeight, inputWidth)
	out := tensor.New(batch, c.outChannels, outH, outW)

	kernelSize := c.kernelSize
	stride := c.stride
	padding := c.padding
	weights := c.weight.Data
	icWeightStride := kernelSize * kernelSize
	ocWeightStride := c.inChannels * icWeightStride
	outSize := outH * outW

	for n := 0; n < batch; n++ {
		input := x.Value.Sample(n)
		output := out.Sample(n)

		for oc := 0; oc < c.outChannels; oc++ {
			ocWeightBase := oc * ocWeightStride
			ocOutBase := oc * outSize

			for ic := 0; ic < c.inChannels; ic++ {
				icWeightBase := ocWeightBase + ic*icWeightStride
				inputChannelOffset := ic * inputHeight * inputWidth

				for kh := 0; kh < kernelSize; kh++ {
					khWeightBase := icWeightBase + kh*kernelSize
					for kw := 0; kw < kernelSize; kw++ {
						wVal := weights[khWeightBase+kw]

						for oh := 0; oh < outH; oh++ {
							inH := oh*stride + kh - padding
							if inH < 0 || inH >= inputHeight {
								continue
							}
							inHOffset := inputChannelOffset + inH*inputWidth
							ohOffset := ocOutBase + oh*outW
							for ow := 0; ow < outW; ow++ {
								inW := ow*stride + kw - padding
								if inW >= 0 && inW < inputWidth {
									output[ohOffset+ow] += wVal * input[inHOffset+inW]
								}
							}
						}
					}
				}
			}

			biasVal := c.bias.Data[oc]
			for pos := ocOutBase; pos < ocOutBase+outSize; pos++ {
				output[pos] += biasVal
			}
		}
	}

	return autograd.Op(out, func(grad *tensor.Tensor) {
		var gradIn *tensor.Tensor
		if !x.Constant() {
			gradIn = tensor.Like(x.Value)
		}
		gradW := c.weight.Grad
		gradB := c.bias.Grad

		for n := 0; n < batch; n++ {
			input := x.Value.Sample(n)
			g := grad.Sample(n)
			var gi []float64
			if gradIn != nil {
				gi = gradIn.Sample(n)
			}

			for oc := 0; oc < c.outChannels; oc++ {
				ocWeightBase := oc * ocWeightStride
				ocOutBase := oc * outSize

				for oh := 0; oh < outH; oh++ {
					for ow := 0; ow < outW; ow++ {
						gv := g[ocOutBase+oh*outW+ow]
						if gv == 0 {
							continue
						}
						gradB[oc] += gv

						for ic := 0; ic < c.inChannels; ic++ {
							icWeightBase := ocWeightBase + ic*icWeightStride
							inputChannelOffset := ic * inputHeight * inputWidth

							for kh := 0; kh < kernelSize; kh++ {
								inH := oh*stride + kh - padding
								if inH < 0 || inH >= inputHeight {
									continue
								}
								inHOffset := inputChannelOffset + inH*inputWidth
								khWeightBase := icWeightBase + kh*kernelSize

								for kw := 0; kw < kernelSize; kw++ {
									inW := ow*stride + kw - padding
									if inW < 0 || inW >= inputWidth {
										continue
									}
									inputIdx := inHOffset + inW
									weightIdx := khWeightBase + kw
									gradW[weightIdx] += gv * input[inputIdx]
									if gi != nil {
										gi[inputIdx] += gv * weights[weightIdx]
									}
								}
							}
						}
					}
				}
			}
		}

		if gradIn != nil {
			x.Accumulate(gradIn)
		}
	}, x)
}

// Params returns the kernel and bias parameters.
func (c *Conv2D) Params() []*autograd.Param {
	return []*autograd.Param{c.weight, c.bias}
}

// SetTraining is a no-op: convolution behaves the same in both modes.
func (c *Conv2D) SetTraining(bool) {}

// InChannels returns the number of input channels.
func (c *Conv2D) InChannels() int {
	return c.inChannels
}

// OutChannels returns the number of output channels.
func (c *Conv2D) OutChannels() int {
	return c.outChannels
}
