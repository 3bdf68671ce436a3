package glm

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/YuminosukeSato/gocmt/pkg/errors"
)

// UnivariateDistribution is the output distribution of a GLM, parametrized
// by its mean.
type UnivariateDistribution interface {
	Name() string

	// LogLikelihood returns log D(y; mean) in nats.
	LogLikelihood(y, mean float64) float64

	// Gradient returns ∂/∂mean log D(y; mean).
	Gradient(y, mean float64) float64

	// Sample draws one value with the given mean.
	Sample(mean float64, rng *rand.Rand) float64

	// Check rejects values outside the support.
	Check(y float64) error
}

// Bernoulli distribution over {0, 1}.
type Bernoulli struct{}

func (Bernoulli) Name() string { return "bernoulli" }

func (Bernoulli) LogLikelihood(y, mean float64) float64 {
	return distuv.Bernoulli{P: mean}.LogProb(y)
}

func (Bernoulli) Gradient(y, mean float64) float64 {
	if y == 1 {
		return 1 / mean
	}
	return -1 / (1 - mean)
}

func (Bernoulli) Sample(mean float64, rng *rand.Rand) float64 {
	return distuv.Bernoulli{P: mean, Src: rng}.Rand()
}

func (Bernoulli) Check(y float64) error {
	if y != 0 && y != 1 {
		return errors.NewValidationError("y", "Bernoulli outputs must be 0 or 1", y)
	}
	return nil
}

// Poisson distribution over the non-negative integers.
type Poisson struct{}

func (Poisson) Name() string { return "poisson" }

func (Poisson) LogLikelihood(y, mean float64) float64 {
	return distuv.Poisson{Lambda: mean}.LogProb(y)
}

func (Poisson) Gradient(y, mean float64) float64 {
	return y/mean - 1
}

func (Poisson) Sample(mean float64, rng *rand.Rand) float64 {
	return distuv.Poisson{Lambda: mean, Src: rng}.Rand()
}

func (Poisson) Check(y float64) error {
	if y < 0 || y != math.Trunc(y) || math.IsInf(y, 0) {
		return errors.NewValidationError("y", "Poisson outputs must be non-negative integers", y)
	}
	return nil
}
