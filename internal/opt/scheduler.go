package opt

// Scheduler defines the interface for learning rate schedulers.
type Scheduler interface {
	Step()
	GetLR() float64
}

// StepLR decays the learning rate of each optimizer by gamma every stepSize epochs.
type StepLR struct {
	optimizers []Optimizer
	stepSize   int
	gamma      float64
	lastEpoch  int
}

// NewStepLR schedules every optimizer in optimizers together. A stepSize of
// zero or less disables decay.
func NewStepLR(stepSize int, gamma float64, optimizers ...Optimizer) *StepLR {
	return &StepLR{
		optimizers: optimizers,
		stepSize:   stepSize,
		gamma:      gamma,
	}
}

// Step advances one epoch.
func (s *StepLR) Step() {
	s.lastEpoch++
	if s.stepSize <= 0 || s.lastEpoch%s.stepSize != 0 {
		return
	}
	for _, o := range s.optimizers {
		o.SetLearningRate(o.LearningRate() * s.gamma)
	}
}

// LastEpoch returns the number of Step calls so far.
func (s *StepLR) LastEpoch() int {
	return s.lastEpoch
}

// SetLastEpoch fast-forwards the schedule when training resumes. The
// optimizers' learning rates are restored with their own state.
func (s *StepLR) SetLastEpoch(epoch int) {
	s.lastEpoch = epoch
}

// GetLR returns the learning rate of the first optimizer.
func (s *StepLR) GetLR() float64 {
	if len(s.optimizers) == 0 {
		return 0
	}
	return s.optimizers[0].LearningRate()
}
