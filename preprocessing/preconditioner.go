// Package preprocessing provides invertible, density-correcting transforms
// applied to input/output pairs before a conditional model is fitted.
//
// Every preconditioner maps (x, y) to (x', y') with
//
//	x' = preIn (x - meanIn)
//	y' = preOut (y - meanOut - P x')
//
// and reports the log-determinant of that map, so that
//
//	log p(y | x) = log p'(y' | x') + OutputLogJacobian
//
// holds for a conditional density fitted in the transformed space.
package preprocessing

import (
	"gonum.org/v1/gonum/mat"
)

// Preconditioner is an affine transform of input/output pairs.
//
// Inputs are N×DimIn and outputs N×DimOut. Forward returns N×DimInPre and
// N×DimOutPre matrices.
type Preconditioner interface {
	DimIn() int
	DimInPre() int
	DimOut() int
	DimOutPre() int

	Forward(X, Y mat.Matrix) (*mat.Dense, *mat.Dense, error)
	Inverse(Xp, Yp mat.Matrix) (*mat.Dense, *mat.Dense, error)

	// LogJacobian returns log|det| of the joint map (x, y) -> (x', y') for
	// every row.
	LogJacobian(X, Y mat.Matrix) (*mat.VecDense, error)

	// OutputLogJacobian returns log|det| of y -> y' for fixed x, which is the
	// correction a conditional density needs.
	OutputLogJacobian(X, Y mat.Matrix) (*mat.VecDense, error)
}

var (
	_ Preconditioner = (*AffinePreconditioner)(nil)
	_ Preconditioner = (*WhiteningPreconditioner)(nil)
	_ Preconditioner = (*PCAPreconditioner)(nil)
	_ Preconditioner = (*AffineTransform)(nil)
	_ Preconditioner = (*WhiteningTransform)(nil)
	_ Preconditioner = (*PCATransform)(nil)
)
