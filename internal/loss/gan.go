package loss

import (
	"github.com/FlavioCFOliveira/recyclegan/internal/autograd"
)

// Default weights of the CycleGAN generator objective.
const (
	DefaultCycleWeight    = 10.0
	DefaultIdentityWeight = 5.0
)

// GANLoss compares a discriminator score map against a constant label map of
// 1 (real) or 0 (fake). The least-squares form is the default.
type GANLoss struct {
	Vanilla bool
}

func (g GANLoss) criterion() Loss {
	if g.Vanilla {
		return BCEWithLogitsLoss{}
	}
	return MSE{}
}

// Forward returns the adversarial loss of pred against the real or fake label.
func (g GANLoss) Forward(pred *autograd.Node, targetIsReal bool) *autograd.Node {
	label := 0.0
	if targetIsReal {
		label = 1.0
	}
	target := make([]float64, pred.Value.Size())
	for i := range target {
		target[i] = label
	}
	return Apply(g.criterion(), pred, target)
}

// CycleGANLoss assembles the terms of the CycleGAN objective. It holds no
// state; every method is a pure function of its arguments.
type CycleGANLoss struct {
	GAN            GANLoss
	CycleWeight    float64
	IdentityWeight float64
}

// NewCycleGANLoss returns the loss with the default weights.
func NewCycleGANLoss(vanilla bool) CycleGANLoss {
	return CycleGANLoss{
		GAN:            GANLoss{Vanilla: vanilla},
		CycleWeight:    DefaultCycleWeight,
		IdentityWeight: DefaultIdentityWeight,
	}
}

// Identity is the L1 distance between G(y) and y for a generator mapping into y's domain.
func (c CycleGANLoss) Identity(same, real *autograd.Node) *autograd.Node {
	return Apply(L1Loss{}, same, real.Value.Data)
}

// Cycle is the L1 distance between a reconstruction and the original image.
func (c CycleGANLoss) Cycle(reconstructed, real *autograd.Node) *autograd.Node {
	return Apply(L1Loss{}, reconstructed, real.Value.Data)
}

// Adversarial is the generator's loss for a discriminator score on its output.
func (c CycleGANLoss) Adversarial(score *autograd.Node) *autograd.Node {
	return c.GAN.Forward(score, true)
}

// GeneratorTerms are the six per-direction terms of the generator objective.
type GeneratorTerms struct {
	AdversarialAtoB *autograd.Node
	AdversarialBtoA *autograd.Node
	CycleA          *autograd.Node
	CycleB          *autograd.Node
	IdentityA       *autograd.Node
	IdentityB       *autograd.Node
}

// Generator combines the terms into adv + cycleW*cycle + idW*identity.
func (c CycleGANLoss) Generator(t GeneratorTerms) *autograd.Node {
	return autograd.Add(
		t.AdversarialAtoB,
		t.AdversarialBtoA,
		autograd.Scale(autograd.Add(t.CycleA, t.CycleB), c.CycleWeight),
		autograd.Scale(autograd.Add(t.IdentityA, t.IdentityB), c.IdentityWeight),
	)
}

// Discriminator returns 0.5 * (loss(real, 1) + loss(fake, 0)). The fake score
// must come from a detached generator output.
func (c CycleGANLoss) Discriminator(realScore, fakeScore *autograd.Node) *autograd.Node {
	return autograd.Scale(autograd.Add(
		c.GAN.Forward(realScore, true),
		c.GAN.Forward(fakeScore, false),
	), 0.5)
}
