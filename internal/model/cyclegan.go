package model

import (
	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/recyclegan/internal/autograd"
	"github.com/FlavioCFOliveira/recyclegan/internal/config"
	"github.com/FlavioCFOliveira/recyclegan/internal/layer"
	"github.com/FlavioCFOliveira/recyclegan/internal/loss"
	"github.com/FlavioCFOliveira/recyclegan/internal/networks"
	"github.com/FlavioCFOliveira/recyclegan/internal/opt"
	"github.com/FlavioCFOliveira/recyclegan/internal/replay"
	"github.com/FlavioCFOliveira/recyclegan/internal/tensor"
)

// DefaultCheckpoint is the file name used when no checkpoint path is given.
const DefaultCheckpoint = "cycle_gan_model.pth"

// CycleGAN owns two generators, two discriminators and their optimizers.
// Methods must not be called concurrently.
type CycleGAN struct {
	cfg config.Config
	rng *layer.RNG

	genAtoB *networks.Generator
	genBtoA *networks.Generator
	disA    *networks.Discriminator
	disB    *networks.Discriminator

	optG  *opt.Adam
	optDA *opt.Adam
	optDB *opt.Adam
	sched *opt.StepLR

	scaler  *opt.GradScaler
	loss    loss.CycleGANLoss
	plpAtoB *loss.PathLength
	plpBtoA *loss.PathLength
	poolA   *replay.Buffer
	poolB   *replay.Buffer

	iteration int
}

var _ TrainableModel = (*CycleGAN)(nil)

// New builds a freshly initialised model. The configuration is resolved
// (see config.Resolve) and validated first.
func New(cfg config.Config) (*CycleGAN, error) {
	cfg, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}
	rng := layer.NewRNG(uint64(cfg.Seed))
	m := &CycleGAN{cfg: cfg, rng: rng}

	if m.genAtoB, err = networks.NewGenerator(cfg.Generator(), rng); err != nil {
		return nil, errors.Wrap(err, "gen_AtoB")
	}
	if m.genBtoA, err = networks.NewGenerator(cfg.Generator(), rng); err != nil {
		return nil, errors.Wrap(err, "gen_BtoA")
	}
	if m.disA, err = networks.NewDiscriminator(cfg.Discriminator(), rng); err != nil {
		return nil, errors.Wrap(err, "dis_A")
	}
	if m.disB, err = networks.NewDiscriminator(cfg.Discriminator(), rng); err != nil {
		return nil, errors.Wrap(err, "dis_B")
	}

	genParams := append(append([]*autograd.Param(nil), m.genAtoB.Params()...), m.genBtoA.Params()...)
	m.optG = opt.NewAdam(genParams, cfg.LR, cfg.Beta1, cfg.Beta2)
	m.optDA = opt.NewAdam(m.disA.Params(), cfg.LR, cfg.Beta1, cfg.Beta2)
	m.optDB = opt.NewAdam(m.disB.Params(), cfg.LR, cfg.Beta1, cfg.Beta2)
	m.sched = opt.NewStepLR(cfg.StepSize, cfg.Gamma, m.optG, m.optDA, m.optDB)
	m.scaler = opt.NewGradScaler(cfg.AMP)

	m.loss = loss.CycleGANLoss{
		GAN:            loss.GANLoss{Vanilla: cfg.VanillaLoss},
		CycleWeight:    cfg.CycleLossWeight,
		IdentityWeight: cfg.IDLossWeight,
	}
	m.plpAtoB = &loss.PathLength{Weight: cfg.PLPLossWeight, Every: cfg.PLPStep, Beta: cfg.PLPBeta}
	m.plpBtoA = &loss.PathLength{Weight: cfg.PLPLossWeight, Every: cfg.PLPStep, Beta: cfg.PLPBeta}
	m.poolA = replay.New(cfg.ReplayCapacity(), rng)
	m.poolB = replay.New(cfg.ReplayCapacity(), rng)
	return m, nil
}

// Config returns the configuration the model was built with.
func (m *CycleGAN) Config() config.Config {
	return m.cfg
}

// SetTraining switches every network between training and evaluation mode.
func (m *CycleGAN) SetTraining(training bool) {
	m.genAtoB.SetTraining(training)
	m.genBtoA.SetTraining(training)
	m.disA.SetTraining(training)
	m.disB.SetTraining(training)
}

// EndEpoch advances the learning-rate schedule of all three optimizers.
func (m *CycleGAN) EndEpoch() {
	m.sched.Step()
}

// LearningRate returns the current learning rate.
func (m *CycleGAN) LearningRate() float64 {
	return m.sched.GetLR()
}

// NumParams returns the number of learnable scalars per network.
func (m *CycleGAN) NumParams() map[string]int {
	return map[string]int{
		"gen_AtoB": networks.NumParams(m.genAtoB),
		"gen_BtoA": networks.NumParams(m.genBtoA),
		"dis_A":    networks.NumParams(m.disA),
		"dis_B":    networks.NumParams(m.disB),
	}
}

func (m *CycleGAN) checkInput(name string, t *tensor.Tensor) error {
	if t == nil {
		return errors.Wrapf(ErrInput, "%s is nil", name)
	}
	if len(t.Shape) != 4 || t.Shape[0] == 0 {
		return errors.Wrapf(ErrInput, "%s has shape %s, want (N, C, H, W)", name, t)
	}
	if t.Shape[1] != m.cfg.Channels || t.Shape[2] != m.cfg.ImgHeight || t.Shape[3] != m.cfg.ImgWidth {
		return errors.Wrapf(ErrInput, "%s has shape %s, want (N, %d, %d, %d)",
			name, t, m.cfg.Channels, m.cfg.ImgHeight, m.cfg.ImgWidth)
	}
	return nil
}

// pass holds the graph of one forward pass.
type pass struct {
	realA, realB             *autograd.Node
	fakeB, fakeA, recA, recB *autograd.Node
}

func (m *CycleGAN) forward(realA, realB *tensor.Tensor) (pass, error) {
	if err := m.checkInput("realA", realA); err != nil {
		return pass{}, err
	}
	if err := m.checkInput("realB", realB); err != nil {
		return pass{}, err
	}
	p := pass{realA: autograd.Leaf(realA), realB: autograd.Leaf(realB)}
	p.fakeB = m.genAtoB.Forward(p.realA)
	p.fakeA = m.genBtoA.Forward(p.realB)
	p.recA = m.genBtoA.Forward(p.fakeB)
	p.recB = m.genAtoB.Forward(p.fakeA)
	return p, nil
}

// Forward returns fakes and reconstructions for both domains.
func (m *CycleGAN) Forward(realA, realB *tensor.Tensor) (Outputs, error) {
	p, err := m.forward(realA, realB)
	if err != nil {
		return Outputs{}, err
	}
	return Outputs{FakeB: p.fakeB.Value, FakeA: p.fakeA.Value, RecA: p.recA.Value, RecB: p.recB.Value}, nil
}

// objective is the loss graph of one iteration.
type objective struct {
	g, dA, dB *autograd.Node
	terms     loss.GeneratorTerms
	plp       *autograd.Node

	lengthAtoB, lengthBtoA float64
}

// build computes every loss over p. fakesA and fakesB select the fake images
// shown to the discriminators; withPLP adds the path-length penalty.
func (m *CycleGAN) build(p pass, fakesA, fakesB func(*tensor.Tensor) *tensor.Tensor, withPLP bool) objective {
	var o objective
	o.terms = loss.GeneratorTerms{
		AdversarialAtoB: m.loss.Adversarial(m.disB.Forward(p.fakeB)),
		AdversarialBtoA: m.loss.Adversarial(m.disA.Forward(p.fakeA)),
		CycleA:          m.loss.Cycle(p.recA, p.realA),
		CycleB:          m.loss.Cycle(p.recB, p.realB),
		IdentityA:       m.loss.Identity(m.genBtoA.Forward(p.realA), p.realA),
		IdentityB:       m.loss.Identity(m.genAtoB.Forward(p.realB), p.realB),
	}
	o.g = m.loss.Generator(o.terms)

	if withPLP {
		var penaltyAtoB, penaltyBtoA *autograd.Node
		penaltyAtoB, o.lengthAtoB = m.plpAtoB.Penalty(p.fakeB, m.genAtoB.Forward(m.perturb(p.realA)), loss.PathLengthSigma)
		penaltyBtoA, o.lengthBtoA = m.plpBtoA.Penalty(p.fakeA, m.genBtoA.Forward(m.perturb(p.realB)), loss.PathLengthSigma)
		o.plp = autograd.Add(penaltyAtoB, penaltyBtoA)
		o.g = autograd.Add(o.g, o.plp)
	}

	// Discriminators see detached fakes so no gradient reaches the generators.
	fakeA := autograd.Leaf(fakesA(p.fakeA.Detach().Value))
	fakeB := autograd.Leaf(fakesB(p.fakeB.Detach().Value))
	o.dA = m.loss.Discriminator(m.disA.Forward(p.realA), m.disA.Forward(fakeA))
	o.dB = m.loss.Discriminator(m.disB.Forward(p.realB), m.disB.Forward(fakeB))
	return o
}

// perturb returns x + sigma*n with n ~ N(0, 1).
func (m *CycleGAN) perturb(x *autograd.Node) *autograd.Node {
	out := x.Value.Clone()
	for i := range out.Data {
		out.Data[i] += m.rng.Normal(0, loss.PathLengthSigma)
	}
	return autograd.Leaf(out)
}

// current shows the discriminators the fakes of this pass.
func current(t *tensor.Tensor) *tensor.Tensor { return t }

func (o objective) losses() Losses {
	l := Losses{
		G:               o.g.Item(),
		DA:              o.dA.Item(),
		DB:              o.dB.Item(),
		AdversarialAtoB: o.terms.AdversarialAtoB.Item(),
		AdversarialBtoA: o.terms.AdversarialBtoA.Item(),
		CycleA:          o.terms.CycleA.Item(),
		CycleB:          o.terms.CycleB.Item(),
		IdentityA:       o.terms.IdentityA.Item(),
		IdentityB:       o.terms.IdentityB.Item(),
	}
	if o.plp != nil {
		l.PathLength = o.plp.Item()
	}
	return l
}

// ComputeLoss evaluates the generator and discriminator losses for the batch
// pair. It changes no weight, optimizer state or replay buffer; the
// discriminators see the current fakes and the path-length penalty is left out.
func (m *CycleGAN) ComputeLoss(realA, realB *tensor.Tensor) (Losses, error) {
	p, err := m.forward(realA, realB)
	if err != nil {
		return Losses{}, err
	}
	return m.build(p, current, current, false).losses(), nil
}

// Optimize runs one iteration: forward, losses, then the generator update
// followed by discriminator A and discriminator B. Discriminator losses use
// the fakes of this iteration's forward pass.
func (m *CycleGAN) Optimize(realA, realB *tensor.Tensor) (Losses, error) {
	p, err := m.forward(realA, realB)
	if err != nil {
		return Losses{}, err
	}
	withPLP := m.plpAtoB.Due(m.iteration)
	o := m.build(p, m.poolA.Query, m.poolB.Query, withPLP)
	l := o.losses()

	scale := m.scaler.Scale()
	stepped := true
	for _, u := range []struct {
		name  string
		optim *opt.Adam
		loss  *autograd.Node
	}{
		{"generators", m.optG, o.g},
		{"discriminator A", m.optDA, o.dA},
		{"discriminator B", m.optDB, o.dB},
	} {
		u.optim.ZeroGrad()
		if err := autograd.BackwardScaled(u.loss, scale); err != nil {
			return Losses{}, errors.Wrapf(err, "backward %s", u.name)
		}
		if !m.scaler.Step(u.optim) {
			stepped = false
		}
	}
	m.scaler.Update()
	l.Skipped = !stepped

	if withPLP {
		m.plpAtoB.Observe(o.lengthAtoB)
		m.plpBtoA.Observe(o.lengthBtoA)
	}
	m.iteration++
	return l, nil
}
