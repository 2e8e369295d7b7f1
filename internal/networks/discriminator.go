package networks

import (
	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/recyclegan/internal/activations"
	"github.com/FlavioCFOliveira/recyclegan/internal/autograd"
	"github.com/FlavioCFOliveira/recyclegan/internal/layer"
)

// DefaultLayers is the number of stride-2 stages of the standard 70x70 PatchGAN.
const DefaultLayers = 3

const (
	discKernel  = 4
	discSlope   = 0.2
	maxFeatMult = 8
)

// DiscriminatorConfig describes a PatchGAN discriminator.
type DiscriminatorConfig struct {
	InChannels int
	Features   int
	Layers     int
	Norm       Norm
}

// PatchSize returns the spatial size of the score map for an input of the given size.
func (c DiscriminatorConfig) PatchSize(height, width int) (int, int) {
	out := func(n, stride int) int { return (n+2-discKernel)/stride + 1 }
	for i := 0; i < c.Layers; i++ {
		height, width = out(height, 2), out(width, 2)
	}
	for i := 0; i < 2; i++ {
		height, width = out(height, 1), out(width, 1)
	}
	return height, width
}

// Validate checks the configuration against the image size it will be applied to.
func (c DiscriminatorConfig) Validate(height, width int) error {
	if c.InChannels <= 0 || c.Features <= 0 || c.Layers <= 0 {
		return errors.Wrapf(ErrConfig, "discriminator channels (%d), features (%d) and layers (%d) must be positive",
			c.InChannels, c.Features, c.Layers)
	}
	if _, err := ParseNorm(string(c.Norm)); err != nil {
		return err
	}
	if ph, pw := c.PatchSize(height, width); ph < 1 || pw < 1 {
		return errors.Wrapf(ErrConfig, "image %dx%d too small for a %d-layer discriminator", height, width, c.Layers)
	}
	return nil
}

// Discriminator scores overlapping image patches as real or fake. The output
// is a (N, 1, h, w) map of logits.
type Discriminator struct {
	modules
	cfg   DiscriminatorConfig
	model layer.Layer
}

// NewDiscriminator builds
//
//	conv4/2 lrelu -> (Layers-1) x conv4/2 norm lrelu -> conv4/1 norm lrelu -> conv4/1
//
// with feature width doubling per stage up to 8x Features.
func NewDiscriminator(cfg DiscriminatorConfig, rng *layer.RNG) (*Discriminator, error) {
	lrelu := activations.NewLeakyReLU(discSlope)

	first, err := layer.NewConv2D(cfg.InChannels, cfg.Features, discKernel, 2, 1, rng)
	if err != nil {
		return nil, err
	}
	stages := []layer.Layer{block(first, layer.NewActivation(lrelu))}

	mult := 1
	for n := 1; n <= cfg.Layers; n++ {
		prev := mult
		mult = min(1<<n, maxFeatMult)
		stride := 2
		if n == cfg.Layers {
			stride = 1
		}
		conv, err := layer.NewConv2D(cfg.Features*prev, cfg.Features*mult, discKernel, stride, 1, rng)
		if err != nil {
			return nil, err
		}
		stage, err := convBlock(conv, cfg.Norm, cfg.Features*mult, lrelu)
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}

	last, err := layer.NewConv2D(cfg.Features*mult, 1, discKernel, 1, 1, rng)
	if err != nil {
		return nil, err
	}
	stages = append(stages, last)

	d := &Discriminator{cfg: cfg}
	d.model = d.add("model", layer.NewSequential(stages...))
	return d, nil
}

// Forward scores a batch of images.
func (d *Discriminator) Forward(x *autograd.Node) *autograd.Node {
	return d.model.Forward(x)
}

// Config returns the configuration the discriminator was built from.
func (d *Discriminator) Config() DiscriminatorConfig {
	return d.cfg
}
