package trainer

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gocmt/pkg/errors"
)

// linearGaussian is y ~ N(w·x + b, 1), the smallest useful Trainable.
type linearGaussian struct {
	dimIn int
	theta []float64

	// unstable marks parameter vectors that should fail numerically.
	unstable func(theta []float64) bool
	// gradScale != 1 corrupts the analytic gradient.
	gradScale float64
}

func newLinearGaussian(dimIn int) *linearGaussian {
	return &linearGaussian{dimIn: dimIn, theta: make([]float64, dimIn+1), gradScale: 1}
}

func (m *linearGaussian) Name() string       { return "linearGaussian" }
func (m *linearGaussian) DimIn() int         { return m.dimIn }
func (m *linearGaussian) DimOut() int        { return 1 }
func (m *linearGaussian) NumParameters() int { return m.dimIn + 1 }

func (m *linearGaussian) Initialize(_, _ mat.Matrix) error {
	m.theta = make([]float64, m.dimIn+1)
	return nil
}

func (m *linearGaussian) Parameters() []float64 {
	return append([]float64(nil), m.theta...)
}

func (m *linearGaussian) SetParameters(theta []float64) error {
	if len(theta) != m.NumParameters() {
		return errors.NewParameterLengthError(m.Name(), m.NumParameters(), len(theta))
	}
	m.theta = append([]float64(nil), theta...)
	return nil
}

func (m *linearGaussian) mean(theta []float64, x []float64) float64 {
	mu := theta[m.dimIn]
	for j, v := range x {
		mu += theta[j] * v
	}
	return mu
}

func (m *linearGaussian) LogLikelihood(X, Y mat.Matrix) (*mat.VecDense, error) {
	n, _ := X.Dims()
	out := mat.NewVecDense(n, nil)
	x := make([]float64, m.dimIn)
	for i := 0; i < n; i++ {
		mat.Row(x, i, X)
		r := Y.At(i, 0) - m.mean(m.theta, x)
		out.SetVec(i, -0.5*r*r-0.5*math.Log(2*math.Pi))
	}
	return out, nil
}

func (m *linearGaussian) Sample(X mat.Matrix) (*mat.Dense, error) {
	n, _ := X.Dims()
	out := mat.NewDense(n, 1, nil)
	x := make([]float64, m.dimIn)
	for i := 0; i < n; i++ {
		mat.Row(x, i, X)
		out.Set(i, 0, m.mean(m.theta, x))
	}
	return out, nil
}

func (m *linearGaussian) ParameterGradient(theta []float64, X, Y *mat.Dense, grad []float64) (float64, error) {
	if len(theta) != m.NumParameters() {
		return 0, errors.NewParameterLengthError(m.Name(), m.NumParameters(), len(theta))
	}
	if m.unstable != nil && m.unstable(theta) {
		return 0, errors.NewNumericalInstabilityError("linearGaussian", theta, -1)
	}
	n, _ := X.Dims()
	nll := 0.0
	for i := 0; i < n; i++ {
		x := X.RawRowView(i)
		r := Y.At(i, 0) - m.mean(theta, x)
		nll += 0.5*r*r + 0.5*math.Log(2*math.Pi)
		if grad != nil {
			for j, v := range x {
				grad[j] -= m.gradScale * r * v
			}
			grad[m.dimIn] -= m.gradScale * r
		}
	}
	return nll, nil
}

// linearData draws y = 2x + 0.5 + noise.
func linearData(n int, noise float64, seed uint64) (*mat.Dense, *mat.Dense) {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	X := mat.NewDense(n, 1, nil)
	Y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		x := rng.NormFloat64()
		X.Set(i, 0, x)
		Y.Set(i, 0, 2*x+0.5+noise*rng.NormFloat64())
	}
	return X, Y
}

// rosenbrock ignores the data and exposes the Rosenbrock function scaled by
// the number of rows, so the optimizer needs many iterations.
type rosenbrock struct {
	theta []float64
}

func newRosenbrock() *rosenbrock { return &rosenbrock{theta: []float64{-1.2, 1}} }

func (m *rosenbrock) DimIn() int         { return 1 }
func (m *rosenbrock) DimOut() int        { return 1 }
func (m *rosenbrock) NumParameters() int { return 2 }

func (m *rosenbrock) Initialize(_, _ mat.Matrix) error { return nil }
func (m *rosenbrock) Parameters() []float64            { return append([]float64(nil), m.theta...) }

func (m *rosenbrock) SetParameters(theta []float64) error {
	if len(theta) != 2 {
		return errors.NewParameterLengthError("rosenbrock", 2, len(theta))
	}
	m.theta = append([]float64(nil), theta...)
	return nil
}

func (m *rosenbrock) LogLikelihood(X, _ mat.Matrix) (*mat.VecDense, error) {
	n, _ := X.Dims()
	return mat.NewVecDense(n, nil), nil
}

func (m *rosenbrock) Sample(X mat.Matrix) (*mat.Dense, error) {
	n, _ := X.Dims()
	return mat.NewDense(n, 1, nil), nil
}

func (m *rosenbrock) ParameterGradient(theta []float64, X, _ *mat.Dense, grad []float64) (float64, error) {
	n, _ := X.Dims()
	a, b := theta[0], theta[1]
	f := (1-a)*(1-a) + 100*(b-a*a)*(b-a*a)
	if grad != nil {
		grad[0] += float64(n) * (-2*(1-a) - 400*a*(b-a*a))
		grad[1] += float64(n) * 200 * (b - a*a)
	}
	return float64(n) * f, nil
}

// plateau trains on the chained Rosenbrock function of its parameters.
// Rows whose input is 1 are validation rows: each evaluation on them returns
// the next entry of script (the last one repeats), independent of theta.
type plateau struct {
	theta  []float64
	script []float64
	calls  int
}

func newPlateau(dim int, script ...float64) *plateau {
	theta := make([]float64, dim)
	for i := range theta {
		theta[i] = -1.2
		if i%2 == 1 {
			theta[i] = 1
		}
	}
	return &plateau{theta: theta, script: script}
}

func (m *plateau) DimIn() int         { return 1 }
func (m *plateau) DimOut() int        { return 1 }
func (m *plateau) NumParameters() int { return len(m.theta) }

func (m *plateau) Initialize(_, _ mat.Matrix) error { return nil }
func (m *plateau) Parameters() []float64            { return append([]float64(nil), m.theta...) }

func (m *plateau) SetParameters(theta []float64) error {
	if len(theta) != len(m.theta) {
		return errors.NewParameterLengthError("plateau", len(m.theta), len(theta))
	}
	m.theta = append([]float64(nil), theta...)
	return nil
}

func (m *plateau) LogLikelihood(X, _ mat.Matrix) (*mat.VecDense, error) {
	n, _ := X.Dims()
	return mat.NewVecDense(n, nil), nil
}

func (m *plateau) Sample(X mat.Matrix) (*mat.Dense, error) {
	n, _ := X.Dims()
	return mat.NewDense(n, 1, nil), nil
}

func (m *plateau) ParameterGradient(theta []float64, X, _ *mat.Dense, grad []float64) (float64, error) {
	n, _ := X.Dims()
	if n > 0 && X.At(0, 0) == 1 {
		v := m.script[min(m.calls, len(m.script)-1)]
		m.calls++
		return float64(n) * v, nil
	}
	f := 0.0
	for i := 0; i+1 < len(theta); i++ {
		a, b := theta[i], theta[i+1]
		f += (1-a)*(1-a) + 100*(b-a*a)*(b-a*a)
		if grad != nil {
			grad[i] += float64(n) * (-2*(1-a) - 400*a*(b-a*a))
			grad[i+1] += float64(n) * 200 * (b - a*a)
		}
	}
	return float64(n) * f, nil
}

// plateauData returns n rows marked for training or validation.
func plateauData(n int, validation bool) (*mat.Dense, *mat.Dense) {
	X := mat.NewDense(n, 1, nil)
	if validation {
		for i := 0; i < n; i++ {
			X.Set(i, 0, 1)
		}
	}
	return X, mat.NewDense(n, 1, nil)
}
