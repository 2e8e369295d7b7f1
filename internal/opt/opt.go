// Package opt provides the optimizers, learning-rate schedulers and loss
// scaling used by the CycleGAN training step.
package opt

import (
	"math"

	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/recyclegan/internal/autograd"
)

// ErrState is returned when a saved optimizer state does not fit the
// parameter group it is restored into.
var ErrState = errors.New("opt: incompatible optimizer state")

// Optimizer updates one fixed group of parameters from their accumulated gradients.
type Optimizer interface {
	// ZeroGrad clears the gradients of every parameter in the group.
	ZeroGrad()

	// Step applies one update using the current gradients.
	Step()

	// Params returns the parameter group.
	Params() []*autograd.Param

	LearningRate() float64
	SetLearningRate(lr float64)

	// State returns a deep copy of the optimizer's internal state.
	State() State

	// SetState restores a state previously returned by State. Nothing is
	// modified when an error is returned.
	SetState(State) error
}

// State is the serializable form of an optimizer.
type State struct {
	Type         string
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	StepCount    int

	// Moment estimates in parameter-group order.
	Params []ParamState
}

// ParamState holds the first (M) and second (V) moment estimates of one parameter.
type ParamState struct {
	Name string
	M    []float64
	V    []float64
}

// Adam optimizer with bias-corrected moment estimates.
type Adam struct {
	params []*autograd.Param

	lr      float64
	beta1   float64 // Exponential decay rate for first moment
	beta2   float64 // Exponential decay rate for second moment
	epsilon float64 // Small constant for numerical stability

	step int
	m    [][]float64
	v    [][]float64
}

// NewAdam creates an Adam optimizer over params.
func NewAdam(params []*autograd.Param, lr, beta1, beta2 float64) *Adam {
	a := &Adam{
		params:  params,
		lr:      lr,
		beta1:   beta1,
		beta2:   beta2,
		epsilon: 1e-8,
		m:       make([][]float64, len(params)),
		v:       make([][]float64, len(params)),
	}
	for i, p := range params {
		a.m[i] = make([]float64, p.Size())
		a.v[i] = make([]float64, p.Size())
	}
	return a
}

// ZeroGrad clears every parameter gradient.
func (a *Adam) ZeroGrad() {
	for _, p := range a.params {
		p.ZeroGrad()
	}
}

// Step updates params in-place.
func (a *Adam) Step() {
	a.step++
	bc1 := 1 - math.Pow(a.beta1, float64(a.step))
	bc2 := 1 - math.Pow(a.beta2, float64(a.step))
	for i, p := range a.params {
		m, v := a.m[i], a.v[i]
		for j, g := range p.Grad {
			m[j] = a.beta1*m[j] + (1-a.beta1)*g
			v[j] = a.beta2*v[j] + (1-a.beta2)*g*g
			p.Data[j] -= a.lr * (m[j] / bc1) / (math.Sqrt(v[j]/bc2) + a.epsilon)
		}
	}
}

// LearningRate returns the current step size.
func (a *Adam) LearningRate() float64 {
	return a.lr
}

// SetLearningRate changes the step size used by subsequent steps.
func (a *Adam) SetLearningRate(lr float64) {
	a.lr = lr
}

// Params returns the parameter group.
func (a *Adam) Params() []*autograd.Param {
	return a.params
}

// State returns a deep copy of the moments and hyperparameters.
func (a *Adam) State() State {
	s := State{
		Type:         "Adam",
		LearningRate: a.lr,
		Beta1:        a.beta1,
		Beta2:        a.beta2,
		Epsilon:      a.epsilon,
		StepCount:    a.step,
		Params:       make([]ParamState, len(a.params)),
	}
	for i, p := range a.params {
		s.Params[i] = ParamState{
			Name: p.Name,
			M:    append([]float64(nil), a.m[i]...),
			V:    append([]float64(nil), a.v[i]...),
		}
	}
	return s
}

// CheckState reports whether s can be restored into this optimizer.
func (a *Adam) CheckState(s State) error {
	if s.Type != "Adam" {
		return errors.Wrapf(ErrState, "type %q, want Adam", s.Type)
	}
	if s.StepCount < 0 {
		return errors.Wrapf(ErrState, "negative step count %d", s.StepCount)
	}
	if len(s.Params) != len(a.params) {
		return errors.Wrapf(ErrState, "state has %d parameters, group has %d", len(s.Params), len(a.params))
	}
	for i, p := range a.params {
		ps := s.Params[i]
		if ps.Name != p.Name {
			return errors.Wrapf(ErrState, "parameter %d is %q, want %q", i, ps.Name, p.Name)
		}
		if len(ps.M) != p.Size() || len(ps.V) != p.Size() {
			return errors.Wrapf(ErrState, "moments for %q have %d/%d values, want %d",
				p.Name, len(ps.M), len(ps.V), p.Size())
		}
	}
	return nil
}

// SetState validates s against the parameter group and then applies it.
func (a *Adam) SetState(s State) error {
	if err := a.CheckState(s); err != nil {
		return err
	}
	a.lr, a.beta1, a.beta2, a.epsilon = s.LearningRate, s.Beta1, s.Beta2, s.Epsilon
	a.step = s.StepCount
	for i, ps := range s.Params {
		copy(a.m[i], ps.M)
		copy(a.v[i], ps.V)
	}
	return nil
}
