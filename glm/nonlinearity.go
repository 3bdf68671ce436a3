package glm

import (
	"math"
)

// Nonlinearity maps the linear predictor wᵀx + b to the mean of the output
// distribution. Implementations must be strictly increasing.
type Nonlinearity interface {
	Name() string
	Apply(t float64) float64
	Derivative(t float64) float64
}

// DefaultEpsilon keeps the logistic function away from 0 and 1.
const DefaultEpsilon = 1e-12

// LogisticFunction is g(t) = ε/2 + (1 − ε) σ(t). Epsilon bounds the mean
// away from 0 and 1 so that the Bernoulli log-likelihood stays finite.
type LogisticFunction struct {
	Epsilon float64
}

// NewLogisticFunction returns a logistic function with DefaultEpsilon.
func NewLogisticFunction() LogisticFunction {
	return LogisticFunction{Epsilon: DefaultEpsilon}
}

func (LogisticFunction) Name() string { return "logistic" }

func (f LogisticFunction) Apply(t float64) float64 {
	return f.Epsilon/2 + (1-f.Epsilon)*sigmoid(t)
}

func (f LogisticFunction) Derivative(t float64) float64 {
	s := sigmoid(t)
	return (1 - f.Epsilon) * s * (1 - s)
}

// ExponentialFunction is g(t) = eᵗ, the canonical choice for Poisson
// outputs.
type ExponentialFunction struct{}

func (ExponentialFunction) Name() string { return "exponential" }

func (ExponentialFunction) Apply(t float64) float64 { return math.Exp(t) }

func (ExponentialFunction) Derivative(t float64) float64 { return math.Exp(t) }

func sigmoid(t float64) float64 {
	if t >= 0 {
		return 1 / (1 + math.Exp(-t))
	}
	e := math.Exp(t)
	return e / (1 + e)
}

// bracketLimit bounds the bisection in invert.
const bracketLimit = 64.0

// invert solves g(t) = target by bisection. Targets outside the range of g
// end at the nearest end of [−bracketLimit, bracketLimit].
func invert(g Nonlinearity, target float64) float64 {
	lo, hi := -1.0, 1.0
	for g.Apply(lo) > target && lo > -bracketLimit {
		lo *= 2
	}
	for g.Apply(hi) < target && hi < bracketLimit {
		hi *= 2
	}
	for i := 0; i < 200 && hi-lo > 1e-12; i++ {
		mid := 0.5 * (lo + hi)
		if g.Apply(mid) < target {
			lo = mid
		} else {
			hi = mid
		}
	}
	return 0.5 * (lo + hi)
}
