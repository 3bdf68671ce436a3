package glm

import (
	"bytes"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gocmt/core/model"
	"github.com/YuminosukeSato/gocmt/core/trainer"
	"github.com/YuminosukeSato/gocmt/pkg/errors"
	pkglog "github.com/YuminosukeSato/gocmt/pkg/log"
)

var _ model.Trainable = (*GLM)(nil)

// glmData draws Gaussian inputs and outputs from the GLM (w, b).
func glmData(n int, seed uint64, w []float64, b float64, g Nonlinearity, d UnivariateDistribution) (*mat.Dense, *mat.Dense) {
	rng := rand.New(rand.NewPCG(seed, 3))
	X := mat.NewDense(n, len(w), nil)
	Y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		t := b
		for j, wj := range w {
			x := rng.NormFloat64()
			X.Set(i, j, x)
			t += wj * x
		}
		Y.Set(i, 0, d.Sample(g.Apply(t), rng))
	}
	return X, Y
}

func quietLogger() pkglog.Logger {
	l, _ := pkglog.NewTestLogger(pkglog.LevelWarn)
	return l
}

func TestGLMParameters(t *testing.T) {
	m, err := NewGLM(3, NewLogisticFunction(), Bernoulli{})
	require.NoError(t, err)
	assert.Equal(t, 4, m.NumParameters())
	assert.Equal(t, []float64{0, 0, 0, 0}, m.Parameters())

	require.NoError(t, m.SetParameters([]float64{1, 2, 3, -1}))
	assert.Equal(t, []float64{1, 2, 3}, m.Weights())
	assert.Equal(t, -1.0, m.Bias())

	var lenErr *errors.ParameterLengthError
	assert.True(t, errors.As(m.SetParameters([]float64{1, 2, 3}), &lenErr))
	assert.Equal(t, []float64{1, 2, 3, -1}, m.Parameters())
}

func TestNewGLMValidation(t *testing.T) {
	tests := []struct {
		name  string
		dimIn int
		g     Nonlinearity
		d     UnivariateDistribution
	}{
		{"zero inputs", 0, ExponentialFunction{}, Poisson{}},
		{"missing nonlinearity", 2, nil, Poisson{}},
		{"missing distribution", 2, ExponentialFunction{}, nil},
		{"epsilon one", 2, LogisticFunction{Epsilon: 1}, Bernoulli{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGLM(tt.dimIn, tt.g, tt.d)
			var valErr *errors.ValidationError
			assert.True(t, errors.As(err, &valErr))
		})
	}
}

func TestGLMGradient(t *testing.T) {
	tests := []struct {
		name string
		g    Nonlinearity
		d    UnivariateDistribution
		w    []float64
		b    float64
	}{
		{"logistic bernoulli", LogisticFunction{Epsilon: 1e-3}, Bernoulli{}, []float64{1, -0.5, 0.3}, 0.2},
		{"exponential poisson", ExponentialFunction{}, Poisson{}, []float64{0.3, -0.2, 0.1}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			X, Y := glmData(80, 1, tt.w, tt.b, tt.g, tt.d)
			m, err := NewGLM(3, tt.g, tt.d)
			require.NoError(t, err)
			require.NoError(t, m.SetParameters([]float64{0.1, 0.2, -0.3, 0.05}))

			diff, err := m.CheckGradient(X, Y, 1e-6, trainer.DefaultConfig())
			require.NoError(t, err)
			assert.Less(t, diff, 1e-4)
		})
	}
}

func TestGLMInitialize(t *testing.T) {
	t.Run("bernoulli", func(t *testing.T) {
		m, err := NewGLM(1, NewLogisticFunction(), Bernoulli{}, WithLogger(quietLogger()))
		require.NoError(t, err)
		X := mat.NewDense(10, 1, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
		Y := mat.NewDense(10, 1, []float64{1, 0, 0, 1, 0, 0, 1, 0, 0, 0})
		require.NoError(t, m.Initialize(X, Y))
		assert.Equal(t, []float64{0}, m.Weights())
		assert.InDelta(t, math.Log(0.3/0.7), m.Bias(), 1e-8)
	})

	t.Run("poisson", func(t *testing.T) {
		m, err := NewGLM(2, ExponentialFunction{}, Poisson{}, WithLogger(quietLogger()))
		require.NoError(t, err)
		require.NoError(t, m.SetWeights([]float64{1, 1}))
		X := mat.NewDense(4, 2, nil)
		Y := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
		require.NoError(t, m.Initialize(X, Y))
		assert.Equal(t, []float64{0, 0}, m.Weights())
		assert.InDelta(t, math.Log(2.5), m.Bias(), 1e-8)
	})

	t.Run("target outside the range", func(t *testing.T) {
		m, err := NewGLM(1, ExponentialFunction{}, Poisson{}, WithLogger(quietLogger()))
		require.NoError(t, err)
		require.NoError(t, m.Initialize(mat.NewDense(2, 1, nil), mat.NewDense(2, 1, nil)))
		assert.InDelta(t, -bracketLimit, m.Bias(), 1e-8)
	})
}

func TestGLMTrainRecoversParameters(t *testing.T) {
	tests := []struct {
		name string
		g    Nonlinearity
		d    UnivariateDistribution
		w    []float64
		b    float64
		n    int
		tol  float64
	}{
		{"logistic bernoulli", NewLogisticFunction(), Bernoulli{}, []float64{1.5, -2}, 0.5, 4000, 0.25},
		{"exponential poisson", ExponentialFunction{}, Poisson{}, []float64{0.5, -0.3}, 1, 2000, 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			X, Y := glmData(tt.n, 2, tt.w, tt.b, tt.g, tt.d)
			m, err := NewGLM(2, tt.g, tt.d, WithSeed(1), WithLogger(quietLogger()))
			require.NoError(t, err)
			require.NoError(t, m.Initialize(X, Y))

			before, err := m.LogLikelihood(X, Y)
			require.NoError(t, err)
			_, err = m.Train(X, Y, trainer.DefaultConfig())
			require.NoError(t, err)

			after, err := m.LogLikelihood(X, Y)
			require.NoError(t, err)
			assert.Greater(t, mat.Sum(after), mat.Sum(before))
			assert.InDeltaSlice(t, tt.w, m.Weights(), tt.tol)
			assert.InDelta(t, tt.b, m.Bias(), tt.tol)
		})
	}
}

func TestGLMRejectsOutputsOutsideSupport(t *testing.T) {
	X := mat.NewDense(2, 1, []float64{0, 1})
	tests := []struct {
		name string
		d    UnivariateDistribution
		g    Nonlinearity
		y    []float64
	}{
		{"bernoulli two", Bernoulli{}, NewLogisticFunction(), []float64{0, 2}},
		{"poisson negative", Poisson{}, ExponentialFunction{}, []float64{-1, 0}},
		{"poisson fraction", Poisson{}, ExponentialFunction{}, []float64{1.5, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewGLM(1, tt.g, tt.d)
			require.NoError(t, err)
			_, err = m.LogLikelihood(X, mat.NewDense(2, 1, tt.y))
			var valErr *errors.ValidationError
			assert.True(t, errors.As(err, &valErr), "got %v", err)
		})
	}

	m, err := NewGLM(1, ExponentialFunction{}, Poisson{})
	require.NoError(t, err)
	_, err = m.LogLikelihood(X, mat.NewDense(2, 2, nil))
	var dimErr *errors.DimensionError
	assert.True(t, errors.As(err, &dimErr))
}

func TestGLMLogLikelihood(t *testing.T) {
	m, err := NewGLM(2, ExponentialFunction{}, Poisson{})
	require.NoError(t, err)
	require.NoError(t, m.SetParameters([]float64{0.5, -1, 0.2}))

	X := mat.NewDense(1, 2, []float64{1, 0.3})
	Y := mat.NewDense(1, 1, []float64{3})
	ll, err := m.LogLikelihood(X, Y)
	require.NoError(t, err)

	lambda := math.Exp(0.5 - 0.3 + 0.2)
	lg, _ := math.Lgamma(4)
	assert.InDelta(t, 3*math.Log(lambda)-lambda-lg, ll.AtVec(0), 1e-12)
}

func TestGLMSample(t *testing.T) {
	m, err := NewGLM(1, ExponentialFunction{}, Poisson{}, WithSeed(4))
	require.NoError(t, err)
	m.SetBias(math.Log(4))

	n := 20000
	S, err := m.Sample(mat.NewDense(n, 1, nil))
	require.NoError(t, err)
	assert.InDelta(t, 4, mat.Sum(S)/float64(n), 0.05)
	for i := 0; i < n; i++ {
		v := S.At(i, 0)
		require.Equal(t, math.Trunc(v), v)
	}
}

func TestGLMState(t *testing.T) {
	m, err := NewGLM(2, LogisticFunction{Epsilon: 0.01}, Bernoulli{})
	require.NoError(t, err)
	require.NoError(t, m.SetParameters([]float64{0.5, -1, 0.25}))

	var buf bytes.Buffer
	require.NoError(t, model.SaveState(m.State(), &buf))
	s, err := model.LoadState(&buf)
	require.NoError(t, err)

	restored, err := NewGLMFromState(s)
	require.NoError(t, err)
	assert.Equal(t, m.Parameters(), restored.Parameters())
	assert.Equal(t, LogisticFunction{Epsilon: 0.01}, restored.Nonlinearity())
	assert.Equal(t, Bernoulli{}, restored.Distribution())

	s.Attributes["distribution"] = "gamma"
	_, err = NewGLMFromState(s)
	var valErr *errors.ValidationError
	assert.True(t, errors.As(err, &valErr))
}
