// Package glm implements generalized linear models with a single output,
//
//	p(y|x) = D(y; g(wᵀx + b))
//
// for a strictly increasing nonlinearity g and a univariate distribution D
// parametrized by its mean.
package glm

import (
	"strconv"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gocmt/core/model"
	"github.com/YuminosukeSato/gocmt/core/trainer"
	"github.com/YuminosukeSato/gocmt/pkg/errors"
	"github.com/YuminosukeSato/gocmt/pkg/log"
)

// GLM is a generalized linear model. Its parameter vector is the weights w
// followed by the bias b.
type GLM struct {
	dimIn        int
	nonlinearity Nonlinearity
	distribution UnivariateDistribution

	weights []float64
	bias    float64

	cfg settings
}

// NewGLM creates a GLM with zero weights and bias.
func NewGLM(dimIn int, g Nonlinearity, d UnivariateDistribution, opts ...Option) (*GLM, error) {
	if dimIn <= 0 {
		return nil, errors.NewValidationError("dimIn", "must be positive", dimIn)
	}
	if g == nil || d == nil {
		return nil, errors.NewValidationError("glm", "nonlinearity and distribution are required", nil)
	}
	if f, ok := g.(LogisticFunction); ok && (f.Epsilon < 0 || f.Epsilon >= 1) {
		return nil, errors.NewValidationError("epsilon", "must be in [0, 1)", f.Epsilon)
	}
	return &GLM{
		dimIn:        dimIn,
		nonlinearity: g,
		distribution: d,
		weights:      make([]float64, dimIn),
		cfg:          newSettings(opts),
	}, nil
}

func (m *GLM) Name() string { return "GLM" }

func (m *GLM) DimIn() int { return m.dimIn }

// DimOut is always 1.
func (m *GLM) DimOut() int { return 1 }

func (m *GLM) Nonlinearity() Nonlinearity { return m.nonlinearity }

func (m *GLM) Distribution() UnivariateDistribution { return m.distribution }

// Weights returns a copy of w.
func (m *GLM) Weights() []float64 { return append([]float64(nil), m.weights...) }

func (m *GLM) Bias() float64 { return m.bias }

// SetWeights replaces w.
func (m *GLM) SetWeights(w []float64) error {
	if len(w) != m.dimIn {
		return errors.NewDimensionError("GLM.SetWeights", m.dimIn, len(w), 1)
	}
	m.weights = append([]float64(nil), w...)
	return nil
}

func (m *GLM) SetBias(b float64) { m.bias = b }

func (m *GLM) NumParameters() int { return m.dimIn + 1 }

func (m *GLM) Parameters() []float64 {
	theta := make([]float64, m.NumParameters())
	p := model.NewPacker(theta)
	p.Floats(m.weights)
	p.Scalar(m.bias)
	return theta
}

func (m *GLM) unpack(theta []float64) ([]float64, float64, error) {
	u, err := model.NewUnpacker(m.Name(), theta, m.NumParameters())
	if err != nil {
		return nil, 0, err
	}
	return u.Floats(m.dimIn), u.Scalar(), nil
}

func (m *GLM) SetParameters(theta []float64) error {
	w, b, err := m.unpack(theta)
	if err != nil {
		return err
	}
	m.weights, m.bias = w, b
	return nil
}

func (m *GLM) checkData(op string, X, Y mat.Matrix) (int, error) {
	n, err := model.CheckData(op, m, X, Y)
	if err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		if err := m.distribution.Check(Y.At(i, 0)); err != nil {
			return 0, errors.Wrap(err, op)
		}
	}
	return n, nil
}

// ParameterGradient returns the summed negative log-likelihood of the rows
// under theta and adds its gradient into grad when grad is non-nil.
func (m *GLM) ParameterGradient(theta []float64, X, Y *mat.Dense, grad []float64) (float64, error) {
	const op = "GLM.ParameterGradient"
	w, b, err := m.unpack(theta)
	if err != nil {
		return 0, err
	}
	if grad != nil && len(grad) != len(theta) {
		return 0, errors.NewParameterLengthError(m.Name(), len(theta), len(grad))
	}
	n, err := m.checkData(op, X, Y)
	if err != nil {
		return 0, err
	}

	var gw []float64
	gb := 0.0
	if grad != nil {
		gw = make([]float64, m.dimIn)
	}
	nll := 0.0
	for i := 0; i < n; i++ {
		x, y := X.RawRowView(i), Y.At(i, 0)
		t := floats.Dot(w, x) + b
		mean := m.nonlinearity.Apply(t)
		nll -= m.distribution.LogLikelihood(y, mean)
		if gw != nil {
			// 連鎖律: ∂/∂t = D'(mean)·g'(t)
			r := -m.distribution.Gradient(y, mean) * m.nonlinearity.Derivative(t)
			floats.AddScaled(gw, r, x)
			gb += r
		}
	}
	if err := errors.CheckScalar(op, nll, -1); err != nil {
		return 0, err
	}
	if gw != nil {
		if err := errors.CheckNumericalStability(op, append(gw, gb), -1); err != nil {
			return 0, err
		}
		floats.Add(grad[:m.dimIn], gw)
		grad[m.dimIn] += gb
	}
	return nll, nil
}

// LogLikelihood returns log p(y|x) in nats for every row.
func (m *GLM) LogLikelihood(X, Y mat.Matrix) (*mat.VecDense, error) {
	const op = "GLM.LogLikelihood"
	n, err := m.checkData(op, X, Y)
	if err != nil {
		return nil, err
	}
	mean, err := m.Predict(X)
	if err != nil {
		return nil, err
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = m.distribution.LogLikelihood(Y.At(i, 0), mean.AtVec(i))
	}
	if err := errors.CheckNumericalStability(op, out, -1); err != nil {
		return nil, err
	}
	return mat.NewVecDense(n, out), nil
}

// Predict returns the mean g(wᵀx + b) for every row.
func (m *GLM) Predict(X mat.Matrix) (*mat.VecDense, error) {
	n, err := model.CheckInputs("GLM.Predict", m.dimIn, X)
	if err != nil {
		return nil, err
	}
	xd := model.AsDense(X)
	out := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		out.SetVec(i, m.nonlinearity.Apply(floats.Dot(m.weights, xd.RawRowView(i))+m.bias))
	}
	return out, nil
}

// Sample draws one output per input row.
func (m *GLM) Sample(X mat.Matrix) (*mat.Dense, error) {
	mean, err := m.Predict(X)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(mean.Len(), 1, nil)
	for i := 0; i < mean.Len(); i++ {
		out.Set(i, 0, m.distribution.Sample(mean.AtVec(i), m.cfg.rng))
	}
	return out, nil
}

// Initialize sets w = 0 and chooses b so that g(b) matches the mean output.
func (m *GLM) Initialize(X, Y mat.Matrix) error {
	n, err := m.checkData("GLM.Initialize", X, Y)
	if err != nil {
		return err
	}
	target := mat.Sum(Y) / float64(n)
	m.weights = make([]float64, m.dimIn)
	m.bias = invert(m.nonlinearity, target)

	m.cfg.logger.Debug("model initialized",
		log.ModelNameKey, m.Name(),
		log.OperationKey, log.OperationInitialize,
		log.SamplesKey, n,
		"bias", m.bias,
	)
	return nil
}

// State returns the persistent state of the model.
func (m *GLM) State() *model.State {
	attrs := map[string]string{
		"nonlinearity": m.nonlinearity.Name(),
		"distribution": m.distribution.Name(),
	}
	if f, ok := m.nonlinearity.(LogisticFunction); ok {
		attrs["epsilon"] = strconv.FormatFloat(f.Epsilon, 'g', -1, 64)
	}
	return &model.State{
		Kind:       m.Name(),
		DimIn:      m.dimIn,
		DimOut:     1,
		Attributes: attrs,
		Parameters: m.Parameters(),
	}
}

// NewGLMFromState rebuilds a model saved with State.
func NewGLMFromState(s *model.State, opts ...Option) (*GLM, error) {
	if err := s.Expect("GLM"); err != nil {
		return nil, err
	}
	var g Nonlinearity
	switch name := s.Attributes["nonlinearity"]; name {
	case "logistic":
		eps, err := strconv.ParseFloat(s.Attributes["epsilon"], 64)
		if err != nil {
			return nil, errors.Wrap(err, "epsilon")
		}
		g = LogisticFunction{Epsilon: eps}
	case "exponential":
		g = ExponentialFunction{}
	default:
		return nil, errors.NewValidationError("nonlinearity", "unknown nonlinearity", name)
	}
	var d UnivariateDistribution
	switch name := s.Attributes["distribution"]; name {
	case "bernoulli":
		d = Bernoulli{}
	case "poisson":
		d = Poisson{}
	default:
		return nil, errors.NewValidationError("distribution", "unknown distribution", name)
	}
	m, err := NewGLM(s.DimIn, g, d, opts...)
	if err != nil {
		return nil, err
	}
	if err := m.SetParameters(s.Parameters); err != nil {
		return nil, err
	}
	return m, nil
}

// Train fits the model to (X, Y).
func (m *GLM) Train(X, Y mat.Matrix, cfg trainer.Config, opts ...trainer.Option) (bool, error) {
	return trainer.Train(m, X, Y, cfg, m.cfg.trainerOptions(opts)...)
}

// TrainWithValidation fits the model with early stopping on (Xval, Yval).
func (m *GLM) TrainWithValidation(X, Y, Xval, Yval mat.Matrix, cfg trainer.Config, opts ...trainer.Option) (bool, error) {
	return trainer.TrainWithValidation(m, X, Y, Xval, Yval, cfg, m.cfg.trainerOptions(opts)...)
}

func (m *GLM) CheckGradient(X, Y mat.Matrix, epsilon float64, cfg trainer.Config) (float64, error) {
	return trainer.CheckGradient(m, X, Y, epsilon, cfg, m.cfg.trainerOptions(nil)...)
}

func (m *GLM) CheckPerformance(X, Y mat.Matrix, repetitions int, cfg trainer.Config) (time.Duration, error) {
	return trainer.CheckPerformance(m, X, Y, repetitions, cfg, m.cfg.trainerOptions(nil)...)
}

func (m *GLM) FisherInformation(X, Y mat.Matrix, cfg trainer.Config) (*mat.SymDense, error) {
	return trainer.FisherInformation(m, X, Y, cfg, m.cfg.trainerOptions(nil)...)
}
