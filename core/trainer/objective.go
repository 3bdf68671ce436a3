package trainer

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/YuminosukeSato/gocmt/core/model"
	"github.com/YuminosukeSato/gocmt/core/parallel"
	"github.com/YuminosukeSato/gocmt/pkg/errors"
)

// objective evaluates the negative mean log-likelihood of a data set in bits
// per output component, together with its gradient.
//
// The last evaluation is cached so that the Func and Grad calls gonum makes
// at the same point share one pass over the data.
type objective struct {
	model     model.Trainable
	X, Y      *mat.Dense
	norm      float64
	chunkSize int
	numGrad   bool
	fdStep    float64

	cachedX    []float64
	cachedF    float64
	cachedGrad []float64
	cachedErr  error

	// fatal holds the first error that is not a numerical instability.
	fatal error
}

func newObjective(m model.Trainable, X, Y *mat.Dense, chunkSize int, numGrad bool, fdStep float64) *objective {
	n, _ := X.Dims()
	return &objective{
		model:     m,
		X:         X,
		Y:         Y,
		norm:      float64(n*m.DimOut()) * math.Ln2,
		chunkSize: chunkSize,
		numGrad:   numGrad,
		fdStep:    fdStep,
	}
}

// sum returns the summed negative log-likelihood in nats and, when grad is
// non-nil, stores its gradient in grad. Chunks are reduced in index order.
func (o *objective) sum(theta, grad []float64) (float64, error) {
	n, dimIn := o.X.Dims()
	_, dimOut := o.Y.Dims()
	numChunks := parallel.NumChunks(n, o.chunkSize)

	values := make([]float64, numChunks)
	var grads [][]float64
	if grad != nil {
		grads = make([][]float64, numChunks)
	}

	err := parallel.ParallelizeChunks(n, o.chunkSize, func(c, start, end int) error {
		xs := o.X.Slice(start, end, 0, dimIn).(*mat.Dense)
		ys := o.Y.Slice(start, end, 0, dimOut).(*mat.Dense)
		var g []float64
		if grad != nil {
			g = make([]float64, len(theta))
			grads[c] = g
		}
		v, err := o.model.ParameterGradient(theta, xs, ys, g)
		values[c] = v
		return err
	})
	if err != nil {
		return 0, err
	}

	total := 0.0
	if grad != nil {
		for i := range grad {
			grad[i] = 0
		}
	}
	for c := range values {
		total += values[c]
		if grad != nil {
			floats.Add(grad, grads[c])
		}
	}
	return total, nil
}

// value returns the objective at theta.
func (o *objective) value(theta []float64) (float64, error) {
	f, _, err := o.evaluate(theta, false)
	return f, err
}

// evaluate returns the objective at theta and, if wantGrad, its gradient.
// The returned gradient must not be modified.
func (o *objective) evaluate(theta []float64, wantGrad bool) (float64, []float64, error) {
	if o.cachedX != nil && floats.Equal(theta, o.cachedX) && (!wantGrad || o.cachedGrad != nil || o.cachedErr != nil) {
		return o.cachedF, o.cachedGrad, o.cachedErr
	}

	var grad []float64
	if wantGrad && !o.numGrad {
		grad = make([]float64, len(theta))
	}
	total, err := o.sum(theta, grad)
	f := total / o.norm
	if err == nil {
		err = errors.CheckScalar("objective", f, -1)
	}
	if err == nil && grad != nil {
		floats.Scale(1/o.norm, grad)
		err = errors.CheckNumericalStability("gradient", grad, -1)
	}
	if err == nil && wantGrad && o.numGrad {
		grad = o.numericalGradient(theta)
	}
	if err != nil {
		f, grad = math.Inf(1), nil
	}

	o.cachedX = append(o.cachedX[:0], theta...)
	o.cachedF, o.cachedGrad, o.cachedErr = f, grad, err
	return f, grad, err
}

// numericalGradient estimates the gradient by central differences.
func (o *objective) numericalGradient(theta []float64) []float64 {
	f := func(x []float64) float64 {
		total, err := o.sum(x, nil)
		if err != nil {
			return math.Inf(1)
		}
		return total / o.norm
	}
	return fd.Gradient(nil, f, theta, &fd.Settings{
		Formula: fd.Central,
		Step:    o.fdStep,
	})
}

// problem adapts the objective to gonum/optimize. Numerically unstable trial
// points evaluate to +Inf so the line search shortens the step; any other
// error is kept in fatal and reported by the recorder.
func (o *objective) problem() optimize.Problem {
	return optimize.Problem{
		Func: func(x []float64) float64 {
			f, _, err := o.evaluate(x, false)
			if err != nil {
				o.noteError(err)
				return math.Inf(1)
			}
			return f
		},
		Grad: func(grad, x []float64) {
			_, g, err := o.evaluate(x, true)
			if err != nil {
				o.noteError(err)
				for i := range grad {
					grad[i] = 0
				}
				return
			}
			copy(grad, g)
		},
	}
}

func (o *objective) noteError(err error) {
	if o.fatal == nil && !errors.IsNumericalInstability(err) {
		o.fatal = err
	}
}
