package loss

import (
	"github.com/FlavioCFOliveira/recyclegan/internal/autograd"
	"github.com/FlavioCFOliveira/recyclegan/internal/tensor"
)

// Apply evaluates l(pred, target) as a scalar graph node. The target is a
// constant; gradients flow only into pred.
func Apply(l Loss, pred *autograd.Node, target []float64) *autograd.Node {
	value := l.Forward(pred.Value.Data, target)
	return autograd.Op(tensor.Scalar(value), func(g *tensor.Tensor) {
		grad := l.Backward(pred.Value.Data, target)
		scale := g.Item()
		for i := range grad {
			grad[i] *= scale
		}
		pred.Accumulate(&tensor.Tensor{Shape: pred.Value.Shape, Data: grad})
	}, pred)
}
