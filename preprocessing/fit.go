package preprocessing

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gocmt/pkg/errors"
	"github.com/YuminosukeSato/gocmt/pkg/log"
)

// inputReducer turns the eigen-decomposition of the input covariance into
// the input transform, its inverse and its log-determinant.
type inputReducer func(op string, w *whitening) (pre, preInv *mat.Dense, logDet float64, err error)

func symmetricInput(op string, w *whitening) (*mat.Dense, *mat.Dense, float64, error) {
	return w.symmetric(op)
}

// fitMap estimates an affine map from a training sample. With
// withPredictor the outputs are regressed on the whitened inputs and the
// residuals are whitened; otherwise the outputs are whitened directly.
func fitMap(name string, X, Y mat.Matrix, reduce inputReducer, withPredictor bool) (*affineMap, error) {
	if X == nil || Y == nil {
		return nil, errors.Wrap(errors.ErrEmptyData, name)
	}
	n, dimIn := X.Dims()
	m, dimOut := Y.Dims()
	if n != m {
		return nil, errors.NewDimensionError(name, n, m, 0)
	}
	if n < 2 || dimIn == 0 || dimOut == 0 {
		return nil, errors.NewModelError(name, "at least two samples are required", errors.ErrEmptyData)
	}

	a := &affineMap{
		name:    name,
		meanIn:  columnMeans(X),
		meanOut: columnMeans(Y),
	}

	wIn, err := decompose(name+".input", covariance(X))
	if err != nil {
		return nil, err
	}
	if a.preIn, a.preInInv, a.logJacIn, err = reduce(name+".input", wIn); err != nil {
		return nil, err
	}

	yc := centerRows(Y, a.meanOut)
	if withPredictor {
		xp := a.forwardInput(X)
		// Cov(x') is the identity, so the least-squares predictor is Cov(y, x').
		var p mat.Dense
		p.Mul(yc.T(), xp)
		p.Scale(1/float64(n-1), &p)
		a.predictor = &p

		var pred mat.Dense
		pred.Mul(xp, p.T())
		yc.Sub(yc, &pred)
	}

	wOut, err := decompose(name+".output", covariance(yc))
	if err != nil {
		return nil, err
	}
	if a.preOut, a.preOutInv, a.logJacOut, err = wOut.symmetric(name + ".output"); err != nil {
		return nil, err
	}

	log.GetLogger().Debug("preconditioner fitted",
		log.ModelNameKey, name,
		log.OperationKey, log.OperationFit,
		log.PhaseKey, log.PhasePreprocessing,
		log.SamplesKey, n,
		log.DimInKey, dimIn,
		log.DimOutKey, dimOut,
		"dim_in_pre", a.DimInPre(),
	)
	return a, nil
}
