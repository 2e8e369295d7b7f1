package loss

import (
	"math"

	"github.com/FlavioCFOliveira/recyclegan/internal/autograd"
	"github.com/FlavioCFOliveira/recyclegan/internal/tensor"
)

// PathLengthSigma is the standard deviation of the input perturbation used to
// estimate the generator's local path length.
const PathLengthSigma = 0.05

// PathLength is the path-length regularizer. It tracks an exponential moving
// average of the observed length and penalizes deviation from it.
type PathLength struct {
	Weight float64
	Every  int
	Beta   float64

	mean float64
}

// Enabled reports whether the regularizer contributes at all.
func (p *PathLength) Enabled() bool {
	return p.Weight > 0 && p.Every > 0
}

// Due reports whether the penalty applies on the given (0-based) iteration.
func (p *PathLength) Due(iteration int) bool {
	return p.Enabled() && iteration%p.Every == 0
}

// Mean returns the current moving average.
func (p *PathLength) Mean() float64 {
	return p.mean
}

// SetMean restores the moving average from a checkpoint.
func (p *PathLength) SetMean(m float64) {
	p.mean = m
}

// Observe folds a measured length into the moving average.
func (p *PathLength) Observe(length float64) {
	p.mean = p.Beta*p.mean + (1-p.Beta)*length
}

// Penalty compares G(x) (base) with G(x + sigma*n) (perturbed). It returns the
// weighted penalty node and the batch-mean path length; it does not update the
// moving average.
func (p *PathLength) Penalty(base, perturbed *autograd.Node, sigma float64) (*autograd.Node, float64) {
	diff := autograd.Sub(perturbed, base)
	batch, _, h, w := diff.Value.Dims()
	pixels := float64(h * w)

	lengths := make([]float64, batch)
	var value, meanLength float64
	for n := 0; n < batch; n++ {
		var sum float64
		for _, d := range diff.Value.Sample(n) {
			sum += d * d
		}
		lengths[n] = math.Sqrt(sum/pixels) / sigma
		dev := lengths[n] - p.mean
		value += dev * dev
		meanLength += lengths[n]
	}
	value /= float64(batch)
	meanLength /= float64(batch)

	ema := p.mean
	penalty := autograd.Op(tensor.Scalar(value), func(g *tensor.Tensor) {
		grad := tensor.Like(diff.Value)
		for n := 0; n < batch; n++ {
			if lengths[n] == 0 {
				continue
			}
			// d/dd_i (L - ema)^2 / N with L = sqrt(sum(d^2)/HW)/sigma
			coef := g.Item() * 2 * (lengths[n] - ema) / float64(batch) / (sigma * sigma * pixels * lengths[n])
			out := grad.Sample(n)
			for i, d := range diff.Value.Sample(n) {
				out[i] = coef * d
			}
		}
		diff.Accumulate(grad)
	}, diff)
	return autograd.Scale(penalty, p.Weight), meanLength
}
