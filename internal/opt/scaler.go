package opt

import "math"

// GradScaler implements dynamic loss scaling. The loss is multiplied by Scale
// before backward; Step divides the gradients back and skips the update when
// any of them overflowed. Update adjusts the scale once per iteration.
type GradScaler struct {
	enabled        bool
	scale          float64
	growthFactor   float64
	backoffFactor  float64
	growthInterval int
	growthTracker  int
	overflow       bool
}

// ScalerState is the serializable form of a GradScaler.
type ScalerState struct {
	Scale         float64
	GrowthTracker int
}

// NewGradScaler returns a scaler. A disabled scaler has a constant scale of 1
// and never skips a step.
func NewGradScaler(enabled bool) *GradScaler {
	s := &GradScaler{
		enabled:        enabled,
		scale:          1,
		growthFactor:   2,
		backoffFactor:  0.5,
		growthInterval: 2000,
	}
	if enabled {
		s.scale = 65536
	}
	return s
}

// Enabled reports whether scaling is active.
func (s *GradScaler) Enabled() bool {
	return s.enabled
}

// Scale returns the current loss scale.
func (s *GradScaler) Scale() float64 {
	return s.scale
}

// unscale divides the gradients of o by the scale. It returns false when any
// gradient is NaN or infinite.
func (s *GradScaler) unscale(o Optimizer) bool {
	inv := 1 / s.scale
	finite := true
	for _, p := range o.Params() {
		for i, g := range p.Grad {
			g *= inv
			if math.IsNaN(g) || math.IsInf(g, 0) {
				finite = false
			}
			p.Grad[i] = g
		}
	}
	return finite
}

// Step unscales the gradients of o and applies it unless an overflow was
// found. It returns whether the optimizer stepped.
func (s *GradScaler) Step(o Optimizer) bool {
	if !s.enabled {
		o.Step()
		return true
	}
	if !s.unscale(o) {
		s.overflow = true
		return false
	}
	o.Step()
	return true
}

// Update backs the scale off after an overflow and grows it after
// growthInterval consecutive clean iterations.
func (s *GradScaler) Update() {
	if !s.enabled {
		return
	}
	if s.overflow {
		s.scale *= s.backoffFactor
		s.growthTracker = 0
		s.overflow = false
		return
	}
	s.growthTracker++
	if s.growthTracker == s.growthInterval {
		s.scale *= s.growthFactor
		s.growthTracker = 0
	}
}

// State returns the scale and growth progress.
func (s *GradScaler) State() ScalerState {
	return ScalerState{Scale: s.scale, GrowthTracker: s.growthTracker}
}

// SetState restores a previously saved state. A non-positive scale is ignored.
func (s *GradScaler) SetState(st ScalerState) {
	if st.Scale > 0 {
		s.scale = st.Scale
	}
	s.growthTracker = st.GrowthTracker
}
