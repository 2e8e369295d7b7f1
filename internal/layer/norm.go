package layer

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

const normEps = 1e-5

// standardize returns (x - mean) / sqrt(var + eps) for one normalization group,
// along with the mean, biased variance and std used.
func standardize(x []float64) (xhat []float64, mean, variance, std float64) {
	mean, variance = stat.PopMeanVariance(x, nil)
	std = math.Sqrt(variance + normEps)
	xhat = make([]float64, len(x))
	for i, v := range x {
		xhat[i] = (v - mean) / std
	}
	return xhat, mean, variance, std
}

// standardizeBackward maps dL/dxhat of one group to dL/dx:
// (dxhat - mean(dxhat) - xhat*mean(dxhat*xhat)) / std.
func standardizeBackward(dxhat, xhat []float64, std float64) []float64 {
	m := float64(len(dxhat))
	var sumG, sumGX float64
	for i, g := range dxhat {
		sumG += g
		sumGX += g * xhat[i]
	}
	meanG, meanGX := sumG/m, sumGX/m
	dx := make([]float64, len(dxhat))
	for i, g := range dxhat {
		dx[i] = (g - meanG - xhat[i]*meanGX) / std
	}
	return dx
}
