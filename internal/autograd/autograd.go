// Package autograd records the operations of one training step and propagates
// gradients back to the parameters that produced them.
package autograd

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/FlavioCFOliveira/recyclegan/internal/tensor"
)

// ErrNotScalar is returned by Backward when the root is not a single value.
var ErrNotScalar = errors.New("autograd: backward root must be a scalar")

// Param is a learnable weight tensor. Grad accumulates across Backward calls
// until ZeroGrad is called by the owning optimizer.
type Param struct {
	Name  string
	Shape []int
	Data  []float64
	Grad  []float64
}

// NewParam allocates a parameter of the given shape initialised with data
// (zeros when data is nil).
func NewParam(name string, data []float64, shape ...int) *Param {
	n := 1
	for _, d := range shape {
		n *= d
	}
	if data == nil {
		data = make([]float64, n)
	}
	return &Param{
		Name:  name,
		Shape: append([]int(nil), shape...),
		Data:  data,
		Grad:  make([]float64, n),
	}
}

// Size returns the number of scalar weights.
func (p *Param) Size() int {
	return len(p.Data)
}

// ZeroGrad clears the accumulated gradient.
func (p *Param) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// BackwardFunc receives dL/dValue of its node. It must push gradients into the
// node's parents with Accumulate and into any parameters it read.
type BackwardFunc func(grad *tensor.Tensor)

// Node is a value in the computation graph of a single step.
type Node struct {
	Value *tensor.Tensor

	grad     *tensor.Tensor
	parents  []*Node
	backward BackwardFunc
	constant bool
}

// Leaf wraps a tensor that no gradient flows into (network inputs, labels).
func Leaf(t *tensor.Tensor) *Node {
	return &Node{Value: t, constant: true}
}

// Op records the result of an operation over parents.
func Op(value *tensor.Tensor, backward BackwardFunc, parents ...*Node) *Node {
	return &Node{Value: value, parents: parents, backward: backward}
}

// Detach returns a constant leaf holding a copy of the node's value.
// Gradients computed through the copy never reach the graph that produced n.
func (n *Node) Detach() *Node {
	return Leaf(n.Value.Clone())
}

// Constant reports whether gradients are dropped at this node.
func (n *Node) Constant() bool {
	return n.constant
}

// Grad returns the gradient accumulated during the last Backward, or nil.
func (n *Node) Grad() *tensor.Tensor {
	return n.grad
}

// Accumulate adds g into the node's gradient. It is a no-op on constant nodes.
func (n *Node) Accumulate(g *tensor.Tensor) {
	if n.constant {
		return
	}
	if n.grad == nil {
		n.grad = tensor.Like(n.Value)
	}
	n.grad.AddInPlace(g)
}

// Item returns the scalar value of the node.
func (n *Node) Item() float64 {
	return n.Value.Item()
}

// Backward propagates dRoot/dRoot = 1 through the graph.
func Backward(root *Node) error {
	return BackwardScaled(root, 1)
}

// BackwardScaled propagates a seed of scale instead of 1. Mixed-precision
// loss scaling uses it to keep small gradients representable.
func BackwardScaled(root *Node, scale float64) error {
	if root.Value.Size() != 1 {
		return errors.Wrapf(ErrNotScalar, "got shape %s", root.Value)
	}
	order := topoSort(root)
	for _, n := range order {
		n.grad = nil
	}
	seed := tensor.Like(root.Value)
	seed.Data[0] = scale
	root.Accumulate(seed)

	for i := len(order) - 1; i >= 0; i-- {
		n := order[i]
		if n.backward == nil || n.grad == nil {
			continue
		}
		n.backward(n.grad)
	}
	return nil
}

// topoSort returns every non-constant node reachable from root, parents first.
func topoSort(root *Node) []*Node {
	var order []*Node
	visited := make(map[*Node]bool)
	var visit func(n *Node)
	visit = func(n *Node) {
		if visited[n] || n.constant {
			return
		}
		visited[n] = true
		for _, p := range n.parents {
			visit(p)
		}
		order = append(order, n)
	}
	visit(root)
	return order
}

// Add sums same-shaped nodes element-wise.
func Add(nodes ...*Node) *Node {
	out := nodes[0].Value.Clone()
	for _, n := range nodes[1:] {
		floats.Add(out.Data, n.Value.Data)
	}
	return Op(out, func(g *tensor.Tensor) {
		for _, n := range nodes {
			n.Accumulate(g)
		}
	}, nodes...)
}

// Sub computes a - b element-wise.
func Sub(a, b *Node) *Node {
	out := a.Value.Clone()
	floats.Sub(out.Data, b.Value.Data)
	return Op(out, func(g *tensor.Tensor) {
		a.Accumulate(g)
		neg := g.Clone()
		floats.Scale(-1, neg.Data)
		b.Accumulate(neg)
	}, a, b)
}

// Scale multiplies every element of n by s.
func Scale(n *Node, s float64) *Node {
	out := n.Value.Clone()
	floats.Scale(s, out.Data)
	return Op(out, func(g *tensor.Tensor) {
		scaled := g.Clone()
		floats.Scale(s, scaled.Data)
		n.Accumulate(scaled)
	}, n)
}

// Square computes n*n for a scalar node.
func Square(n *Node) *Node {
	v := n.Item()
	return Op(tensor.Scalar(v*v), func(g *tensor.Tensor) {
		n.Accumulate(tensor.Scalar(2 * v * g.Item()))
	}, n)
}
