package networks

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/recyclegan/internal/activations"
	"github.com/FlavioCFOliveira/recyclegan/internal/autograd"
	"github.com/FlavioCFOliveira/recyclegan/internal/layer"
)

// GeneratorConfig describes a ResNet image-to-image generator.
type GeneratorConfig struct {
	InChannels     int
	OutChannels    int
	Features       int
	ResidualBlocks int
	Downsampling   int
	Norm           Norm
	// AddSkip sums every decoder stage with the encoder feature map of the
	// same resolution.
	AddSkip bool
}

// Validate checks the configuration against the image size it will be applied to.
func (c GeneratorConfig) Validate(height, width int) error {
	if c.InChannels <= 0 || c.OutChannels <= 0 || c.Features <= 0 {
		return errors.Wrapf(ErrConfig, "generator channels and features must be positive (in=%d out=%d features=%d)",
			c.InChannels, c.OutChannels, c.Features)
	}
	if c.ResidualBlocks < 0 || c.Downsampling < 0 {
		return errors.Wrapf(ErrConfig, "generator residual blocks (%d) and downsampling (%d) must be >= 0",
			c.ResidualBlocks, c.Downsampling)
	}
	if _, err := ParseNorm(string(c.Norm)); err != nil {
		return err
	}
	factor := 1 << c.Downsampling
	if height%factor != 0 || width%factor != 0 {
		return errors.Wrapf(ErrConfig, "image %dx%d is not divisible by 2^%d", height, width, c.Downsampling)
	}
	// The 7x7 stem and head reflect-pad by 3; residual blocks reflect-pad by 1
	// at the bottleneck resolution.
	if height <= 3 || width <= 3 {
		return errors.Wrapf(ErrConfig, "image %dx%d too small for the 7x7 stem", height, width)
	}
	if c.ResidualBlocks > 0 && (height/factor < 2 || width/factor < 2) {
		return errors.Wrapf(ErrConfig, "bottleneck %dx%d too small for residual blocks",
			height/factor, width/factor)
	}
	return nil
}

// Generator maps images of one domain to the other.
type Generator struct {
	modules
	cfg GeneratorConfig

	stem     layer.Layer
	down     []layer.Layer
	residual layer.Layer
	up       []layer.Layer
	head     layer.Layer
}

// block chains the non-nil layers into a Sequential.
func block(layers ...layer.Layer) layer.Layer {
	var kept []layer.Layer
	for _, l := range layers {
		if l != nil {
			kept = append(kept, l)
		}
	}
	return layer.NewSequential(kept...)
}

// convBlock is conv, optional norm, activation.
func convBlock(conv layer.Layer, norm Norm, features int, act activations.Activation) (layer.Layer, error) {
	n, err := newNorm(norm, features)
	if err != nil {
		return nil, err
	}
	return block(conv, n, layer.NewActivation(act)), nil
}

// NewGenerator builds the generator:
//
//	reflect-pad(3) conv7 -> Downsampling x conv3/2 -> ResidualBlocks x residual
//	-> Downsampling x transposed conv3/2 -> reflect-pad(3) conv7 -> tanh
//
// Feature width doubles at every downsampling stage and halves on the way back.
func NewGenerator(cfg GeneratorConfig, rng *layer.RNG) (*Generator, error) {
	g := &Generator{cfg: cfg}
	f := cfg.Features

	pad3, err := layer.NewReflectionPad2D(3)
	if err != nil {
		return nil, err
	}
	conv, err := layer.NewConv2D(cfg.InChannels, f, 7, 1, 0, rng)
	if err != nil {
		return nil, err
	}
	stem, err := convBlock(conv, cfg.Norm, f, activations.ReLU{})
	if err != nil {
		return nil, err
	}
	g.stem = g.add("stem", block(pad3, stem))

	for i := 0; i < cfg.Downsampling; i++ {
		in := f << i
		conv, err := layer.NewConv2D(in, 2*in, 3, 2, 1, rng)
		if err != nil {
			return nil, err
		}
		down, err := convBlock(conv, cfg.Norm, 2*in, activations.ReLU{})
		if err != nil {
			return nil, err
		}
		g.down = append(g.down, g.add(fmt.Sprintf("down.%d", i), down))
	}

	bottleneck := f << cfg.Downsampling
	var blocks []layer.Layer
	for i := 0; i < cfg.ResidualBlocks; i++ {
		res, err := residualBlock(bottleneck, cfg.Norm, rng)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, res)
	}
	g.residual = g.add("residual", layer.NewSequential(blocks...))

	for i := 0; i < cfg.Downsampling; i++ {
		in := f << (cfg.Downsampling - i)
		conv, err := layer.NewConvTranspose2D(in, in/2, 3, 2, 1, 1, rng)
		if err != nil {
			return nil, err
		}
		up, err := convBlock(conv, cfg.Norm, in/2, activations.ReLU{})
		if err != nil {
			return nil, err
		}
		g.up = append(g.up, g.add(fmt.Sprintf("up.%d", i), up))
	}

	pad3, err = layer.NewReflectionPad2D(3)
	if err != nil {
		return nil, err
	}
	conv, err = layer.NewConv2D(f, cfg.OutChannels, 7, 1, 0, rng)
	if err != nil {
		return nil, err
	}
	g.head = g.add("head", block(pad3, conv, layer.NewActivation(activations.Tanh{})))
	return g, nil
}

func residualBlock(features int, norm Norm, rng *layer.RNG) (layer.Layer, error) {
	var parts []layer.Layer
	for i := 0; i < 2; i++ {
		pad, err := layer.NewReflectionPad2D(1)
		if err != nil {
			return nil, err
		}
		conv, err := layer.NewConv2D(features, features, 3, 1, 0, rng)
		if err != nil {
			return nil, err
		}
		n, err := newNorm(norm, features)
		if err != nil {
			return nil, err
		}
		parts = append(parts, pad, conv, n)
		if i == 0 {
			parts = append(parts, layer.NewActivation(activations.ReLU{}))
		}
	}
	return layer.NewResidual(block(parts...)), nil
}

// Forward translates a batch of images.
func (g *Generator) Forward(x *autograd.Node) *autograd.Node {
	h := g.stem.Forward(x)
	skips := []*autograd.Node{h}
	for _, d := range g.down {
		h = d.Forward(h)
		skips = append(skips, h)
	}
	h = g.residual.Forward(h)
	for i, u := range g.up {
		h = u.Forward(h)
		if g.cfg.AddSkip {
			h = autograd.Add(h, skips[len(g.down)-1-i])
		}
	}
	return g.head.Forward(h)
}

// Config returns the configuration the generator was built from.
func (g *Generator) Config() GeneratorConfig {
	return g.cfg
}
