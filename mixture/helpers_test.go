package mixture

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// mixtureData draws 3-D Gaussian inputs and 2-D outputs from one of two
// linear experts chosen by the sign of the first input.
func mixtureData(n int, seed uint64) (*mat.Dense, *mat.Dense) {
	rng := rand.New(rand.NewPCG(seed, 99))
	experts := []*mat.Dense{
		mat.NewDense(2, 3, []float64{1, -0.5, 0.2, 0.3, 0.8, -1}),
		mat.NewDense(2, 3, []float64{-1, 0.4, 0, 0.5, -0.2, 0.7}),
	}
	X := mat.NewDense(n, 3, nil)
	Y := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < 3; j++ {
			X.Set(i, j, rng.NormFloat64())
		}
		A := experts[0]
		if X.At(i, 0) < 0 {
			A = experts[1]
		}
		for k := 0; k < 2; k++ {
			Y.Set(i, k, mat.Dot(A.RowView(k), X.RowView(i))+0.5*rng.NormFloat64())
		}
	}
	return X, Y
}

// linearGaussianData draws y = 2x + N(0, 0.1²).
func linearGaussianData(n int, seed uint64) (*mat.Dense, *mat.Dense) {
	rng := rand.New(rand.NewPCG(seed, 5))
	X := mat.NewDense(n, 1, nil)
	Y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		x := rng.NormFloat64()
		X.Set(i, 0, x)
		Y.Set(i, 0, 2*x+0.1*rng.NormFloat64())
	}
	return X, Y
}

// binaryData draws 2-D inputs and 3 binary outputs whose probabilities
// depend on the inputs.
func binaryData(n int, seed uint64) (*mat.Dense, *mat.Dense) {
	rng := rand.New(rand.NewPCG(seed, 17))
	X := mat.NewDense(n, 2, nil)
	Y := mat.NewDense(n, 3, nil)
	for i := 0; i < n; i++ {
		x0, x1 := rng.NormFloat64(), rng.NormFloat64()
		X.Set(i, 0, x0)
		X.Set(i, 1, x1)
		logits := []float64{2 * x0, -x1 + 0.5, x0 * x1}
		for k, t := range logits {
			if rng.Float64() < sigmoid(t) {
				Y.Set(i, k, 1)
			}
		}
	}
	return X, Y
}

func meanOf(v mat.Vector) float64 {
	return mat.Sum(v) / float64(v.Len())
}
