package networks

import (
	"math"
	"testing"

	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/recyclegan/internal/autograd"
	"github.com/FlavioCFOliveira/recyclegan/internal/layer"
	"github.com/FlavioCFOliveira/recyclegan/internal/tensor"
)

func randomBatch(rng *layer.RNG, shape ...int) *tensor.Tensor {
	t := tensor.New(shape...)
	for i := range t.Data {
		t.Data[i] = rng.RandFloat()*2 - 1
	}
	return t
}

func TestGeneratorPreservesShape(t *testing.T) {
	tests := []struct {
		name string
		cfg  GeneratorConfig
	}{
		{"instance", GeneratorConfig{InChannels: 3, OutChannels: 3, Features: 2, ResidualBlocks: 1, Downsampling: 2, Norm: NormInstance}},
		{"batch", GeneratorConfig{InChannels: 3, OutChannels: 3, Features: 2, ResidualBlocks: 2, Downsampling: 1, Norm: NormBatch}},
		{"none skip", GeneratorConfig{InChannels: 1, OutChannels: 2, Features: 3, ResidualBlocks: 0, Downsampling: 2, Norm: NormNone, AddSkip: true}},
		{"no downsampling", GeneratorConfig{InChannels: 2, OutChannels: 2, Features: 2, ResidualBlocks: 1, Downsampling: 0, Norm: NormInstance, AddSkip: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(8, 8); err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			rng := layer.NewRNG(1)
			g, err := NewGenerator(tt.cfg, rng)
			if err != nil {
				t.Fatal(err)
			}
			out := g.Forward(autograd.Leaf(randomBatch(rng, 2, tt.cfg.InChannels, 8, 8)))
			want := []int{2, tt.cfg.OutChannels, 8, 8}
			if !out.Value.SameShape(&tensor.Tensor{Shape: want}) {
				t.Fatalf("output shape %v, want %v", out.Value.Shape, want)
			}
			for _, v := range out.Value.Data {
				if v < -1 || v > 1 {
					t.Fatalf("output %v outside tanh range", v)
				}
			}
		})
	}
}

func TestGeneratorValidate(t *testing.T) {
	base := GeneratorConfig{InChannels: 3, OutChannels: 3, Features: 4, ResidualBlocks: 2, Downsampling: 2, Norm: NormInstance}
	tests := []struct {
		name   string
		mutate func(*GeneratorConfig)
		h, w   int
	}{
		{"not divisible", func(*GeneratorConfig) {}, 10, 8},
		{"bad norm", func(c *GeneratorConfig) { c.Norm = "group" }, 8, 8},
		{"no features", func(c *GeneratorConfig) { c.Features = 0 }, 8, 8},
		{"bottleneck too small", func(c *GeneratorConfig) { c.Downsampling = 3 }, 8, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			if err := cfg.Validate(tt.h, tt.w); !errors.Is(err, ErrConfig) {
				t.Errorf("Validate() error = %v, want ErrConfig", err)
			}
		})
	}
}

func TestDiscriminatorPatchMap(t *testing.T) {
	tests := []struct {
		layers, size, patch int
	}{
		{1, 8, 2},
		{2, 16, 2},
		{3, 32, 2},
		{3, 256, 30},
	}
	for _, tt := range tests {
		cfg := DiscriminatorConfig{InChannels: 3, Features: 2, Layers: tt.layers, Norm: NormInstance}
		if h, w := cfg.PatchSize(tt.size, tt.size); h != tt.patch || w != tt.patch {
			t.Errorf("layers=%d size=%d: PatchSize = %dx%d, want %d", tt.layers, tt.size, h, w, tt.patch)
		}
	}

	cfg := DiscriminatorConfig{InChannels: 3, Features: 2, Layers: 2, Norm: NormBatch}
	rng := layer.NewRNG(2)
	d, err := NewDiscriminator(cfg, rng)
	if err != nil {
		t.Fatal(err)
	}
	out := d.Forward(autograd.Leaf(randomBatch(rng, 3, 3, 16, 16)))
	want := []int{3, 1, 2, 2}
	if !out.Value.SameShape(&tensor.Tensor{Shape: want}) {
		t.Errorf("output shape %v, want %v", out.Value.Shape, want)
	}
}

func TestDiscriminatorValidate(t *testing.T) {
	cfg := DiscriminatorConfig{InChannels: 3, Features: 2, Layers: 3, Norm: NormInstance}
	if err := cfg.Validate(8, 8); !errors.Is(err, ErrConfig) {
		t.Errorf("Validate(8, 8) error = %v, want ErrConfig", err)
	}
	if err := cfg.Validate(32, 32); err != nil {
		t.Errorf("Validate(32, 32) error = %v", err)
	}
}

func TestStateDictRoundTrip(t *testing.T) {
	cfg := GeneratorConfig{InChannels: 1, OutChannels: 1, Features: 2, ResidualBlocks: 1, Downsampling: 1, Norm: NormBatch}
	a, err := NewGenerator(cfg, layer.NewRNG(1))
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewGenerator(cfg, layer.NewRNG(2))
	if err != nil {
		t.Fatal(err)
	}
	sd := a.StateDict()
	if _, ok := sd["residual.0.block.2.running_mean"]; !ok {
		t.Errorf("batch norm buffers missing from state dict: %v", keys(sd))
	}
	if err := b.LoadStateDict(sd); err != nil {
		t.Fatal(err)
	}

	x := randomBatch(layer.NewRNG(3), 2, 1, 8, 8)
	a.SetTraining(false)
	b.SetTraining(false)
	ya := a.Forward(autograd.Leaf(x)).Value
	yb := b.Forward(autograd.Leaf(x)).Value
	for i := range ya.Data {
		if ya.Data[i] != yb.Data[i] {
			t.Fatalf("output %d differs after LoadStateDict: %v vs %v", i, ya.Data[i], yb.Data[i])
		}
	}
}

func keys(sd StateDict) []string {
	var out []string
	for k := range sd {
		out = append(out, k)
	}
	return out
}

func TestLoadStateDictRejectsMismatch(t *testing.T) {
	cfg := DiscriminatorConfig{InChannels: 1, Features: 2, Layers: 1, Norm: NormInstance}
	d, err := NewDiscriminator(cfg, layer.NewRNG(1))
	if err != nil {
		t.Fatal(err)
	}
	before := d.StateDict()

	tests := []struct {
		name   string
		mutate func(StateDict)
	}{
		{"missing", func(sd StateDict) { delete(sd, "model.0.0.weight") }},
		{"extra", func(sd StateDict) { sd["model.9.weight"] = []float64{1} }},
		{"wrong size", func(sd StateDict) { sd["model.0.0.bias"] = []float64{1, 2, 3} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sd := d.StateDict()
			for k := range sd {
				for i := range sd[k] {
					sd[k][i] = 7
				}
			}
			tt.mutate(sd)
			if err := d.LoadStateDict(sd); !errors.Is(err, ErrStateDict) {
				t.Fatalf("LoadStateDict() error = %v, want ErrStateDict", err)
			}
			after := d.StateDict()
			for k, v := range before {
				for i := range v {
					if after[k][i] != v[i] {
						t.Fatalf("%s modified by failed load", k)
					}
				}
			}
		})
	}
}

// TestGeneratorGradient compares the backward pass with central differences
// for a few weights of a small generator.
func TestGeneratorGradient(t *testing.T) {
	cfg := GeneratorConfig{InChannels: 1, OutChannels: 1, Features: 2, ResidualBlocks: 1, Downsampling: 1, Norm: NormInstance, AddSkip: true}
	g, err := NewGenerator(cfg, layer.NewRNG(5))
	if err != nil {
		t.Fatal(err)
	}
	x := randomBatch(layer.NewRNG(6), 1, 1, 8, 8)

	objective := func() *autograd.Node {
		out := g.Forward(autograd.Leaf(x))
		// sum of squares keeps the gradient away from zero
		return autograd.Op(tensor.Scalar(sumSquares(out.Value.Data)), func(grad *tensor.Tensor) {
			d := tensor.Like(out.Value)
			for i, v := range out.Value.Data {
				d.Data[i] = 2 * v * grad.Item()
			}
			out.Accumulate(d)
		}, out)
	}

	root := objective()
	if err := autograd.Backward(root); err != nil {
		t.Fatal(err)
	}

	const h = 1e-6
	for _, p := range g.Params() {
		for _, i := range []int{0, p.Size() / 2} {
			analytic := p.Grad[i]
			orig := p.Data[i]
			p.Data[i] = orig + h
			fp := objective().Item()
			p.Data[i] = orig - h
			fm := objective().Item()
			p.Data[i] = orig
			numeric := (fp - fm) / (2 * h)
			if math.Abs(numeric-analytic) > 1e-4*math.Max(1, math.Abs(numeric)) {
				t.Errorf("%s[%d]: analytic %v, numeric %v", p.Name, i, analytic, numeric)
			}
		}
	}
}

func sumSquares(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	return s
}
