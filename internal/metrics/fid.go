// Package metrics compares image populations for post-hoc evaluation.
//
// The Fréchet distance is computed over pixel features (block-averaged
// images) rather than Inception activations, so values are comparable
// between runs of this module only.
package metrics

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/FlavioCFOliveira/recyclegan/internal/tensor"
)

// ErrPopulation reports populations that cannot be compared.
var ErrPopulation = errors.New("metrics: invalid population")

// Stats are the first two moments of a feature population.
type Stats struct {
	Mean []float64
	Cov  *mat.SymDense
}

// Statistics computes the mean and covariance of features, one row per sample.
func Statistics(features *mat.Dense) (Stats, error) {
	n, d := features.Dims()
	if n < 2 {
		return Stats{}, errors.Wrapf(ErrPopulation, "need at least 2 samples, got %d", n)
	}
	mean := make([]float64, d)
	col := make([]float64, n)
	for j := 0; j < d; j++ {
		mat.Col(col, j, features)
		mean[j] = stat.Mean(col, nil)
	}
	cov := mat.NewSymDense(d, nil)
	stat.CovarianceMatrix(cov, features, nil)
	return Stats{Mean: mean, Cov: cov}, nil
}

// FrechetDistance returns ||m1 - m2||^2 + Tr(S1 + S2 - 2 (S1 S2)^(1/2)).
func FrechetDistance(a, b Stats) (float64, error) {
	if len(a.Mean) != len(b.Mean) {
		return 0, errors.Wrapf(ErrPopulation, "feature sizes differ: %d vs %d", len(a.Mean), len(b.Mean))
	}
	diff := make([]float64, len(a.Mean))
	floats.SubTo(diff, a.Mean, b.Mean)
	meanTerm := floats.Dot(diff, diff)

	// Tr((S1 S2)^(1/2)) = Tr((S1^(1/2) S2 S1^(1/2))^(1/2)), whose argument is symmetric.
	rootA, err := sqrtm(a.Cov)
	if err != nil {
		return 0, err
	}
	var tmp, prod mat.Dense
	tmp.Mul(rootA, b.Cov)
	prod.Mul(&tmp, rootA)
	d, _ := prod.Dims()
	sym := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			sym.SetSym(i, j, 0.5*(prod.At(i, j)+prod.At(j, i)))
		}
	}
	values, err := eigenvalues(sym)
	if err != nil {
		return 0, err
	}
	var traceRoot float64
	for _, v := range values {
		traceRoot += math.Sqrt(math.Max(v, 0))
	}

	fid := meanTerm + mat.Trace(a.Cov) + mat.Trace(b.Cov) - 2*traceRoot
	return math.Max(fid, 0), nil
}

func eigenvalues(s *mat.SymDense) ([]float64, error) {
	var eig mat.EigenSym
	if ok := eig.Factorize(s, false); !ok {
		return nil, errors.Wrap(ErrPopulation, "eigendecomposition failed")
	}
	return eig.Values(nil), nil
}

// sqrtm returns the principal square root of a symmetric positive
// semi-definite matrix. Negative eigenvalues from rounding are clamped to 0.
func sqrtm(s *mat.SymDense) (*mat.Dense, error) {
	var eig mat.EigenSym
	if ok := eig.Factorize(s, true); !ok {
		return nil, errors.Wrap(ErrPopulation, "eigendecomposition failed")
	}
	values := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	n := len(values)
	root := make([]float64, n)
	for i, v := range values {
		root[i] = math.Sqrt(math.Max(v, 0))
	}
	var scaled, out mat.Dense
	scaled.Mul(&vecs, mat.NewDiagDense(n, root))
	out.Mul(&scaled, vecs.T())
	return &out, nil
}

// PixelFeatures averages every channel of every image over pool x pool
// blocks, giving C*(H/pool)*(W/pool) features per image.
func PixelFeatures(images *tensor.Tensor, pool int) (*mat.Dense, error) {
	if len(images.Shape) != 4 {
		return nil, errors.Wrapf(ErrPopulation, "images have shape %s, want (N, C, H, W)", images)
	}
	n, c, h, w := images.Dims()
	if pool <= 0 || h%pool != 0 || w%pool != 0 {
		return nil, errors.Wrapf(ErrPopulation, "pool %d does not divide %dx%d", pool, h, w)
	}
	ph, pw := h/pool, w/pool
	features := mat.NewDense(n, c*ph*pw, nil)
	norm := 1 / float64(pool*pool)
	for i := 0; i < n; i++ {
		img := images.Sample(i)
		row := features.RawRowView(i)
		for ch := 0; ch < c; ch++ {
			plane := img[ch*h*w : (ch+1)*h*w]
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					row[(ch*ph+y/pool)*pw+x/pool] += plane[y*w+x] * norm
				}
			}
		}
	}
	return features, nil
}

// FID compares two image populations through their pixel features.
func FID(a, b *tensor.Tensor, pool int) (float64, error) {
	fa, err := PixelFeatures(a, pool)
	if err != nil {
		return 0, err
	}
	fb, err := PixelFeatures(b, pool)
	if err != nil {
		return 0, err
	}
	sa, err := Statistics(fa)
	if err != nil {
		return 0, err
	}
	sb, err := Statistics(fb)
	if err != nil {
		return 0, err
	}
	return FrechetDistance(sa, sb)
}
