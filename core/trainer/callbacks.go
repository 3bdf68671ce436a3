package trainer

import (
	"math"

	"github.com/YuminosukeSato/gocmt/pkg/errors"
)

// ErrStopTraining can be returned by a Callback to end training early.
// Train then restores the best parameters and returns without error.
var ErrStopTraining = errors.New("training stopped by callback")

// IterationInfo is the read-only view of the optimizer handed to callbacks.
type IterationInfo struct {
	// Iteration is the number of completed optimizer iterations.
	Iteration int

	// Epoch is the number of completed passes over the data (stochastic mode).
	Epoch int

	// Objective is the current training objective in bits per output
	// component (negative log-likelihood).
	Objective float64

	// Validation is the most recent validation score (mean log-likelihood in
	// bits per output component), NaN when no validation data is used.
	Validation float64

	// ValidationIteration is the iteration at which Validation was computed,
	// -1 when no validation data is used. Scores are only recomputed every
	// ValIter iterations, so it may lag behind Iteration.
	ValidationIteration int

	// Parameters is a copy of the current parameter vector.
	Parameters []float64
}

// HasValidation reports whether a validation score is available.
func (info IterationInfo) HasValidation() bool {
	return !math.IsNaN(info.Validation)
}

// Callback observes training progress. Any error other than ErrStopTraining
// aborts Train with that error.
type Callback interface {
	OnIteration(info IterationInfo) error
}

// CallbackFunc adapts an ordinary function to the Callback interface.
type CallbackFunc func(info IterationInfo) error

// OnIteration calls f(info).
func (f CallbackFunc) OnIteration(info IterationInfo) error {
	return f(info)
}

// Trace records objective and validation history. Each validation score is
// recorded once, at the iteration it was computed.
type Trace struct {
	Iterations []int
	Objectives []float64

	ValidationIterations []int
	Validation           []float64
}

// NewTrace creates an empty Trace.
func NewTrace() *Trace {
	return &Trace{}
}

// OnIteration implements Callback.
func (t *Trace) OnIteration(info IterationInfo) error {
	t.Iterations = append(t.Iterations, info.Iteration)
	t.Objectives = append(t.Objectives, info.Objective)
	if info.HasValidation() && info.ValidationIteration >= 0 {
		if n := len(t.ValidationIterations); n == 0 || t.ValidationIterations[n-1] != info.ValidationIteration {
			t.ValidationIterations = append(t.ValidationIterations, info.ValidationIteration)
			t.Validation = append(t.Validation, info.Validation)
		}
	}
	return nil
}

// Len returns the number of recorded iterations.
func (t *Trace) Len() int {
	return len(t.Iterations)
}

// MultiCallback calls every callback in order and stops at the first error.
type MultiCallback []Callback

// OnIteration implements Callback.
func (m MultiCallback) OnIteration(info IterationInfo) error {
	for _, cb := range m {
		if err := cb.OnIteration(info); err != nil {
			return err
		}
	}
	return nil
}
