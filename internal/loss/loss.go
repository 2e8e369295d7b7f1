// Package loss provides the distance functions of the CycleGAN objective and
// lifts them into the autograd graph.
package loss

import (
	"fmt"
	"math"
)

// Loss is a loss function with derivative.
type Loss interface {
	// Forward computes the loss between predicted and true values.
	Forward(yPred, yTrue []float64) float64

	// Backward computes the gradient of the loss w.r.t. prediction.
	Backward(yPred, yTrue []float64) []float64
}

func checkLen(name string, yPred, yTrue []float64) {
	if len(yPred) != len(yTrue) {
		panic(fmt.Sprintf("%s: prediction (%d) and target (%d) must have same length", name, len(yPred), len(yTrue)))
	}
}

// MSE (Mean Squared Error) loss, the least-squares GAN comparison.
type MSE struct{}

// Forward computes mean squared error: (1/n) * sum((y_pred - y_true)^2)
func (m MSE) Forward(yPred, yTrue []float64) float64 {
	checkLen("MSE", yPred, yTrue)
	var sum float64
	for i := range yPred {
		diff := yPred[i] - yTrue[i]
		sum += diff * diff
	}
	return sum / float64(len(yPred))
}

// Backward computes gradient: dL/dy_pred = (2/n) * (y_pred - y_true)
func (m MSE) Backward(yPred, yTrue []float64) []float64 {
	checkLen("MSE", yPred, yTrue)
	grad := make([]float64, len(yPred))
	factor := 2.0 / float64(len(yPred))
	for i := range yPred {
		grad[i] = factor * (yPred[i] - yTrue[i])
	}
	return grad
}

// L1Loss (Mean Absolute Error) loss, used for cycle and identity terms.
type L1Loss struct{}

// Forward computes mean absolute error: (1/n) * sum(|y_pred - y_true|)
func (l L1Loss) Forward(yPred, yTrue []float64) float64 {
	checkLen("L1Loss", yPred, yTrue)
	var sum float64
	for i := range yPred {
		sum += math.Abs(yPred[i] - yTrue[i])
	}
	return sum / float64(len(yPred))
}

// Backward computes gradient for L1 loss: dL/dy_pred = (1/n) * sign(y_pred - y_true)
func (l L1Loss) Backward(yPred, yTrue []float64) []float64 {
	checkLen("L1Loss", yPred, yTrue)
	grad := make([]float64, len(yPred))
	factor := 1.0 / float64(len(yPred))
	for i := range yPred {
		diff := yPred[i] - yTrue[i]
		switch {
		case diff > 0:
			grad[i] = factor
		case diff < 0:
			grad[i] = -factor
		}
	}
	return grad
}

// BCEWithLogitsLoss combines BCE loss with sigmoid for numerical stability.
// It is the vanilla GAN comparison; discriminators emit raw logits.
type BCEWithLogitsLoss struct{}

// Forward computes BCE loss with sigmoid applied internally for stability.
func (b BCEWithLogitsLoss) Forward(yPred, yTrue []float64) float64 {
	checkLen("BCEWithLogitsLoss", yPred, yTrue)
	var sum float64
	for i := range yPred {
		// Loss = max(x, 0) - x*y + log(1 + exp(-|x|))
		x := yPred[i]
		sum += math.Max(x, 0) - x*yTrue[i] + math.Log1p(math.Exp(-math.Abs(x)))
	}
	return sum / float64(len(yPred))
}

// Backward computes gradient for BCEWithLogitsLoss: (sigmoid(x) - y) / n
func (b BCEWithLogitsLoss) Backward(yPred, yTrue []float64) []float64 {
	checkLen("BCEWithLogitsLoss", yPred, yTrue)
	grad := make([]float64, len(yPred))
	for i := range yPred {
		sigmoid := 1.0 / (1.0 + math.Exp(-yPred[i]))
		grad[i] = (sigmoid - yTrue[i]) / float64(len(yPred))
	}
	return grad
}
