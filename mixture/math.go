package mixture

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gocmt/pkg/errors"
)

var log2Pi = math.Log(2 * math.Pi)

// normalize overwrites logw with the normalized weights exp(logw - lse) and
// returns lse.
func normalize(logw []float64) float64 {
	lse := floats.LogSumExp(logw)
	for i, v := range logw {
		logw[i] = math.Exp(v - lse)
	}
	return lse
}

// draw samples an index from the normalized weights p.
func draw(rng *rand.Rand, p []float64) int {
	u := rng.Float64()
	acc := 0.0
	for i, v := range p {
		acc += v
		if u < acc {
			return i
		}
	}
	return len(p) - 1
}

// logDiag returns Σ log L_ii. A diagonal entry that is not strictly positive
// is reported as a numerical instability.
func logDiag(op string, L *mat.TriDense) (float64, error) {
	n, _ := L.Dims()
	sum := 0.0
	for i := 0; i < n; i++ {
		d := L.At(i, i)
		if !(d > 0) || math.IsInf(d, 0) {
			return 0, errors.NewNumericalInstabilityError(op, []float64{d}, -1)
		}
		sum += math.Log(d)
	}
	return sum, nil
}

// solveLowerT solves Lᵀ v = b for lower triangular L by back substitution.
func solveLowerT(L *mat.TriDense, b []float64) []float64 {
	n := len(b)
	v := make([]float64, n)
	for j := n - 1; j >= 0; j-- {
		s := b[j]
		for k := j + 1; k < n; k++ {
			s -= L.At(k, j) * v[k]
		}
		v[j] = s / L.At(j, j)
	}
	return v
}

// sigmoid is the logistic function, evaluated without overflow.
func sigmoid(t float64) float64 {
	if t >= 0 {
		return 1 / (1 + math.Exp(-t))
	}
	e := math.Exp(t)
	return e / (1 + e)
}

// logSigmoid returns log σ(t) without overflow.
func logSigmoid(t float64) float64 {
	if t >= 0 {
		return -math.Log1p(math.Exp(-t))
	}
	return t - math.Log1p(math.Exp(t))
}

func randNormal(rng *rand.Rand, r, c int, std float64) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = std * rng.NormFloat64()
	}
	return mat.NewDense(r, c, data)
}

func checkDims(op string, m mat.Matrix, r, c int) error {
	if m == nil {
		return errors.Wrap(errors.ErrEmptyData, op)
	}
	mr, mc := m.Dims()
	if mr != r {
		return errors.NewDimensionError(op, r, mr, 0)
	}
	if mc != c {
		return errors.NewDimensionError(op, c, mc, 1)
	}
	return nil
}
