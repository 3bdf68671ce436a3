package preprocessing

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/gocmt/core/model"
	"github.com/YuminosukeSato/gocmt/pkg/errors"
)

// affineMap holds the shared state and math of all preconditioners.
// It is never modified after construction.
type affineMap struct {
	name string

	meanIn  *mat.VecDense // dimIn
	meanOut *mat.VecDense // dimOut

	preIn     *mat.Dense // dimInPre×dimIn
	preInInv  *mat.Dense // dimIn×dimInPre
	preOut    *mat.Dense // dimOut×dimOut
	preOutInv *mat.Dense

	// predictor maps whitened inputs to the output mean (dimOut×dimInPre).
	// nil means zero.
	predictor *mat.Dense

	logJacIn  float64
	logJacOut float64
}

// DimIn returns the input dimensionality before the transform.
func (a *affineMap) DimIn() int { return a.meanIn.Len() }

// DimInPre returns the input dimensionality after the transform.
func (a *affineMap) DimInPre() int {
	r, _ := a.preIn.Dims()
	return r
}

// DimOut returns the output dimensionality before the transform.
func (a *affineMap) DimOut() int { return a.meanOut.Len() }

// DimOutPre returns the output dimensionality after the transform.
func (a *affineMap) DimOutPre() int {
	r, _ := a.preOut.Dims()
	return r
}

// MeanIn returns a copy of the input mean.
func (a *affineMap) MeanIn() *mat.VecDense { return mat.VecDenseCopyOf(a.meanIn) }

// MeanOut returns a copy of the output mean.
func (a *affineMap) MeanOut() *mat.VecDense { return mat.VecDenseCopyOf(a.meanOut) }

// PreIn returns a copy of the input transform.
func (a *affineMap) PreIn() *mat.Dense { return mat.DenseCopyOf(a.preIn) }

// PreInInv returns a copy of the (pseudo-)inverse input transform.
func (a *affineMap) PreInInv() *mat.Dense { return mat.DenseCopyOf(a.preInInv) }

// PreOut returns a copy of the output transform.
func (a *affineMap) PreOut() *mat.Dense { return mat.DenseCopyOf(a.preOut) }

// PreOutInv returns a copy of the inverse output transform.
func (a *affineMap) PreOutInv() *mat.Dense { return mat.DenseCopyOf(a.preOutInv) }

// Predictor returns a copy of the predictor, a zero matrix if there is none.
func (a *affineMap) Predictor() *mat.Dense {
	if a.predictor == nil {
		return mat.NewDense(a.DimOut(), a.DimInPre(), nil)
	}
	return mat.DenseCopyOf(a.predictor)
}

// Forward maps inputs and outputs into the preconditioned space.
func (a *affineMap) Forward(X, Y mat.Matrix) (*mat.Dense, *mat.Dense, error) {
	if err := a.checkPair(a.name+".Forward", X, a.DimIn(), Y, a.DimOut()); err != nil {
		return nil, nil, err
	}
	xp := a.forwardInput(X)

	yc := centerRows(Y, a.meanOut)
	if a.predictor != nil {
		var pred mat.Dense
		pred.Mul(xp, a.predictor.T())
		yc.Sub(yc, &pred)
	}
	var yp mat.Dense
	yp.Mul(yc, a.preOut.T())
	return xp, &yp, nil
}

// Inverse maps preconditioned inputs and outputs back. For transforms that
// discard input directions the input reconstruction is a projection.
func (a *affineMap) Inverse(Xp, Yp mat.Matrix) (*mat.Dense, *mat.Dense, error) {
	if err := a.checkPair(a.name+".Inverse", Xp, a.DimInPre(), Yp, a.DimOutPre()); err != nil {
		return nil, nil, err
	}
	X := a.inverseInput(Xp)

	var Y mat.Dense
	Y.Mul(Yp, a.preOutInv.T())
	if a.predictor != nil {
		var pred mat.Dense
		pred.Mul(Xp, a.predictor.T())
		Y.Add(&Y, &pred)
	}
	addRows(&Y, a.meanOut)
	return X, &Y, nil
}

// LogJacobian returns log|det preIn| + log|det preOut| for every row.
func (a *affineMap) LogJacobian(X, Y mat.Matrix) (*mat.VecDense, error) {
	if err := a.checkPair(a.name+".LogJacobian", X, a.DimIn(), Y, a.DimOut()); err != nil {
		return nil, err
	}
	n, _ := X.Dims()
	return constVec(n, a.logJacIn+a.logJacOut), nil
}

// OutputLogJacobian returns log|det preOut| for every row.
func (a *affineMap) OutputLogJacobian(X, Y mat.Matrix) (*mat.VecDense, error) {
	if err := a.checkPair(a.name+".OutputLogJacobian", X, a.DimIn(), Y, a.DimOut()); err != nil {
		return nil, err
	}
	n, _ := X.Dims()
	return constVec(n, a.logJacOut), nil
}

func (a *affineMap) forwardInput(X mat.Matrix) *mat.Dense {
	xc := centerRows(X, a.meanIn)
	var xp mat.Dense
	xp.Mul(xc, a.preIn.T())
	return &xp
}

func (a *affineMap) inverseInput(Xp mat.Matrix) *mat.Dense {
	var X mat.Dense
	X.Mul(Xp, a.preInInv.T())
	addRows(&X, a.meanIn)
	return &X
}

// forwardOutput transforms outputs alone, ignoring the predictor.
func (a *affineMap) forwardOutput(op string, Y mat.Matrix) (*mat.Dense, error) {
	if _, err := model.CheckInputs(op, a.DimOut(), Y); err != nil {
		return nil, err
	}
	yc := centerRows(Y, a.meanOut)
	var yp mat.Dense
	yp.Mul(yc, a.preOut.T())
	return &yp, nil
}

func (a *affineMap) inverseOutput(op string, Yp mat.Matrix) (*mat.Dense, error) {
	if _, err := model.CheckInputs(op, a.DimOutPre(), Yp); err != nil {
		return nil, err
	}
	var Y mat.Dense
	Y.Mul(Yp, a.preOutInv.T())
	addRows(&Y, a.meanOut)
	return &Y, nil
}

func (a *affineMap) checkPair(op string, X mat.Matrix, dimX int, Y mat.Matrix, dimY int) error {
	n, err := model.CheckInputs(op, dimX, X)
	if err != nil {
		return err
	}
	m, err := model.CheckInputs(op, dimY, Y)
	if err != nil {
		return err
	}
	if m != n {
		return errors.NewDimensionError(op, n, m, 0)
	}
	return nil
}

// newExplicitMap builds a map from user supplied matrices. preIn and preOut
// must be square and invertible.
func newExplicitMap(name string, meanIn, meanOut []float64, preIn, preOut, predictor mat.Matrix) (*affineMap, error) {
	dimIn, dimOut := len(meanIn), len(meanOut)
	if dimIn == 0 || dimOut == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, name)
	}
	if r, c := preIn.Dims(); r != dimIn || c != dimIn {
		return nil, errors.NewDimensionError(name+".preIn", dimIn, c, 1)
	}
	if r, c := preOut.Dims(); r != dimOut || c != dimOut {
		return nil, errors.NewDimensionError(name+".preOut", dimOut, c, 1)
	}

	a := &affineMap{
		name:    name,
		meanIn:  mat.NewVecDense(dimIn, append([]float64(nil), meanIn...)),
		meanOut: mat.NewVecDense(dimOut, append([]float64(nil), meanOut...)),
		preIn:   mat.DenseCopyOf(preIn),
		preOut:  mat.DenseCopyOf(preOut),
	}
	if predictor != nil {
		if r, c := predictor.Dims(); r != dimOut || c != dimIn {
			return nil, errors.NewDimensionError(name+".predictor", dimIn, c, 1)
		}
		a.predictor = mat.DenseCopyOf(predictor)
	}

	var err error
	if a.preInInv, a.logJacIn, err = invertWithLogDet(name+".preIn", a.preIn); err != nil {
		return nil, err
	}
	if a.preOutInv, a.logJacOut, err = invertWithLogDet(name+".preOut", a.preOut); err != nil {
		return nil, err
	}
	return a, nil
}

func invertWithLogDet(op string, m *mat.Dense) (*mat.Dense, float64, error) {
	logDet, sign := mat.LogDet(m)
	if sign == 0 || math.IsInf(logDet, 0) || math.IsNaN(logDet) {
		return nil, 0, errors.NewModelError(op, "matrix is singular", errors.ErrSingularMatrix)
	}
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		// mat.Condition is only a warning about accuracy
		if _, ok := err.(mat.Condition); !ok {
			return nil, 0, errors.NewModelError(op, "matrix is singular", errors.Wrap(errors.ErrSingularMatrix, err.Error()))
		}
	}
	return &inv, logDet, nil
}

// whitening is the eigen-decomposition of a covariance matrix.
type whitening struct {
	values  []float64  // ascending
	vectors *mat.Dense // columns are eigenvectors
}

func decompose(op string, cov *mat.SymDense) (*whitening, error) {
	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return nil, errors.NewModelError(op, "eigen decomposition failed", errors.ErrSingularMatrix)
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)
	return &whitening{values: values, vectors: &vectors}, nil
}

// symmetric returns V diag(λ^-½) Vᵀ, its inverse and log|det| of the
// whitening matrix. All eigenvalues must be positive.
func (w *whitening) symmetric(op string) (*mat.Dense, *mat.Dense, float64, error) {
	if err := checkEigenvalues(op, w.values); err != nil {
		return nil, nil, 0, err
	}
	n := len(w.values)
	invSqrt := make([]float64, n)
	sqrt := make([]float64, n)
	logDet := 0.0
	for i, v := range w.values {
		sqrt[i] = math.Sqrt(v)
		invSqrt[i] = 1 / sqrt[i]
		logDet -= 0.5 * math.Log(v)
	}

	var pre, preInv, tmp mat.Dense
	tmp.Mul(w.vectors, mat.NewDiagDense(n, invSqrt))
	pre.Mul(&tmp, w.vectors.T())
	tmp.Reset()
	tmp.Mul(w.vectors, mat.NewDiagDense(n, sqrt))
	preInv.Mul(&tmp, w.vectors.T())
	return &pre, &preInv, logDet, nil
}

// checkEigenvalues rejects covariances that are not positive definite,
// including eigenvalues that vanish relative to the largest one.
func checkEigenvalues(op string, values []float64) error {
	if err := errors.CheckPositive(op, values, -1); err != nil {
		return err
	}
	largest := values[len(values)-1]
	for _, v := range values {
		if v <= largest*1e-14 {
			return errors.NewNumericalInstabilityError(op, []float64{v}, -1)
		}
	}
	return nil
}

// columnMeans returns the mean of every column.
func columnMeans(X mat.Matrix) *mat.VecDense {
	_, c := X.Dims()
	means := mat.NewVecDense(c, nil)
	for j := 0; j < c; j++ {
		means.SetVec(j, stat.Mean(mat.Col(nil, j, X), nil))
	}
	return means
}

// covariance returns the unbiased sample covariance of the rows of X.
func covariance(X mat.Matrix) *mat.SymDense {
	_, c := X.Dims()
	cov := mat.NewSymDense(c, nil)
	stat.CovarianceMatrix(cov, X, nil)
	return cov
}

func centerRows(X mat.Matrix, mean *mat.VecDense) *mat.Dense {
	out := mat.DenseCopyOf(X)
	r, c := out.Dims()
	for i := 0; i < r; i++ {
		row := out.RawRowView(i)
		for j := 0; j < c; j++ {
			row[j] -= mean.AtVec(j)
		}
	}
	return out
}

func addRows(X *mat.Dense, mean *mat.VecDense) {
	r, c := X.Dims()
	for i := 0; i < r; i++ {
		row := X.RawRowView(i)
		for j := 0; j < c; j++ {
			row[j] += mean.AtVec(j)
		}
	}
}

func constVec(n int, v float64) *mat.VecDense {
	out := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		out.SetVec(i, v)
	}
	return out
}
