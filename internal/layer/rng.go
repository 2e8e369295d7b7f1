package layer

import "math/rand"

// RNG is the deterministic source used for weight initialisation.
type RNG struct {
	r *rand.Rand
}

// NewRNG creates a generator seeded with seed.
func NewRNG(seed uint64) *RNG {
	return &RNG{r: rand.New(rand.NewSource(int64(seed)))}
}

// RandFloat returns a uniform value in [0, 1).
func (g *RNG) RandFloat() float64 {
	return g.r.Float64()
}

// Normal returns a sample of N(mean, std²).
func (g *RNG) Normal(mean, std float64) float64 {
	return mean + std*g.r.NormFloat64()
}

// Intn returns a uniform integer in [0, n).
func (g *RNG) Intn(n int) int {
	return g.r.Intn(n)
}

// initStd is the standard deviation of the N(0, 0.02) CycleGAN initialisation.
const initStd = 0.02

func (g *RNG) normalSlice(n int, std float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = g.Normal(0, std)
	}
	return out
}
