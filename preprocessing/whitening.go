package preprocessing

import (
	"gonum.org/v1/gonum/mat"
)

// WhiteningPreconditioner decorrelates inputs and outputs separately using
// the symmetric whitening matrix Σ^-½ of each covariance. There is no
// predictor.
type WhiteningPreconditioner struct {
	*affineMap
}

// NewWhiteningPreconditioner estimates means and covariances from a sample.
// A covariance that is not positive definite yields a
// NumericalInstabilityError.
func NewWhiteningPreconditioner(X, Y mat.Matrix) (*WhiteningPreconditioner, error) {
	a, err := fitMap("WhiteningPreconditioner", X, Y, symmetricInput, false)
	if err != nil {
		return nil, err
	}
	return &WhiteningPreconditioner{a}, nil
}

// WhiteningTransform is a WhiteningPreconditioner that can also map outputs
// on their own.
type WhiteningTransform struct {
	*affineMap
}

// NewWhiteningTransform estimates a whitening transform from a sample.
func NewWhiteningTransform(X, Y mat.Matrix) (*WhiteningTransform, error) {
	a, err := fitMap("WhiteningTransform", X, Y, symmetricInput, false)
	if err != nil {
		return nil, err
	}
	return &WhiteningTransform{a}, nil
}

// ForwardOutput transforms outputs without the matching inputs.
func (t *WhiteningTransform) ForwardOutput(Y mat.Matrix) (*mat.Dense, error) {
	return t.forwardOutput("WhiteningTransform.ForwardOutput", Y)
}

// InverseOutput maps transformed outputs back without the matching inputs.
func (t *WhiteningTransform) InverseOutput(Yp mat.Matrix) (*mat.Dense, error) {
	return t.inverseOutput("WhiteningTransform.InverseOutput", Yp)
}
