package preprocessing

import (
	"gonum.org/v1/gonum/mat"
)

// AffinePreconditioner whitens the inputs, removes the part of the outputs
// linearly predictable from the whitened inputs and whitens the residuals.
type AffinePreconditioner struct {
	*affineMap
}

// NewAffinePreconditioner creates a preconditioner from explicit parameters.
// preIn (dimIn×dimIn) and preOut (dimOut×dimOut) must be invertible;
// predictor (dimOut×dimIn) acts on the transformed inputs and may be nil.
//
// 使用例:
//
//	p, err := preprocessing.NewAffinePreconditioner(meanIn, meanOut, preIn, preOut, predictor)
//	Xp, Yp, err := p.Forward(X, Y)
func NewAffinePreconditioner(meanIn, meanOut []float64, preIn, preOut, predictor mat.Matrix) (*AffinePreconditioner, error) {
	a, err := newExplicitMap("AffinePreconditioner", meanIn, meanOut, preIn, preOut, predictor)
	if err != nil {
		return nil, err
	}
	return &AffinePreconditioner{a}, nil
}

// FitAffinePreconditioner estimates an AffinePreconditioner from a training
// sample: symmetric whitening of the inputs, least-squares predictor of the
// outputs from the whitened inputs, symmetric whitening of the residuals.
func FitAffinePreconditioner(X, Y mat.Matrix) (*AffinePreconditioner, error) {
	a, err := fitMap("AffinePreconditioner", X, Y, symmetricInput, true)
	if err != nil {
		return nil, err
	}
	return &AffinePreconditioner{a}, nil
}

// AffineTransform applies an explicit affine map without a predictor and can
// also map outputs on their own.
type AffineTransform struct {
	*affineMap
}

// NewAffineTransform creates a transform from explicit means and matrices.
func NewAffineTransform(meanIn, meanOut []float64, preIn, preOut mat.Matrix) (*AffineTransform, error) {
	a, err := newExplicitMap("AffineTransform", meanIn, meanOut, preIn, preOut, nil)
	if err != nil {
		return nil, err
	}
	return &AffineTransform{a}, nil
}

// ForwardOutput transforms outputs without the matching inputs.
func (t *AffineTransform) ForwardOutput(Y mat.Matrix) (*mat.Dense, error) {
	return t.forwardOutput("AffineTransform.ForwardOutput", Y)
}

// InverseOutput maps transformed outputs back without the matching inputs.
func (t *AffineTransform) InverseOutput(Yp mat.Matrix) (*mat.Dense, error) {
	return t.inverseOutput("AffineTransform.InverseOutput", Yp)
}
