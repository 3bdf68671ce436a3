package mixture

import (
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gocmt/core/model"
	"github.com/YuminosukeSato/gocmt/core/trainer"
	"github.com/YuminosukeSato/gocmt/linear"
	"github.com/YuminosukeSato/gocmt/pkg/errors"
	"github.com/YuminosukeSato/gocmt/pkg/log"
)

const (
	// initRidge regularizes the least-squares predictors of Initialize.
	initRidge = 1e-6

	// initJitter is added to residual covariances, relative to their mean
	// variance.
	initJitter = 1e-6
)

// Initialize sets a data-dependent starting point:
//
//  1. a global least-squares predictor is removed from the outputs,
//  2. the residuals are clustered with mini-batch k-means,
//  3. each cluster gets its own predictor, the Cholesky factor of its
//     residual precision and a prior proportional to its size.
//
// Scales are spread around zero, weights and features are small random
// values drawn from the model's generator.
func (m *MCGSM) Initialize(X, Y mat.Matrix) error {
	const op = "MCGSM.Initialize"
	n, err := model.CheckData(op, m, X, Y)
	if err != nil {
		return err
	}
	if n < m.numComponents {
		return errors.NewValidationError("numComponents", "exceeds the number of samples", m.numComponents)
	}

	global, err := linear.FitLeastSquares(X, Y, linear.WithFitIntercept(false), linear.WithRidge(initRidge))
	if err != nil {
		return errors.Wrap(err, op)
	}
	residuals, err := global.Residuals(X, Y)
	if err != nil {
		return errors.Wrap(err, op)
	}
	globalL, err := precisionFactor(op, residuals)
	if err != nil {
		return err
	}

	km := NewMiniBatchKMeans(m.numComponents, m.cfg.rng, WithKMeansLogger(m.cfg.logger))
	if err := km.Fit(residuals); err != nil {
		return errors.Wrap(err, op)
	}
	members := make([][]int, m.numComponents)
	for i, l := range km.Labels() {
		members[l] = append(members[l], i)
	}

	p := m.randomParams()
	spread := scaleSpread(m.numScales)
	for c, rows := range members {
		A, L := global.Coef, globalL
		if len(rows) > max(m.dimIn, m.dimOut) {
			ls, err := linear.FitLeastSquares(X, Y, linear.WithFitIntercept(false), linear.WithRidge(initRidge), linear.WithRows(rows))
			if err == nil {
				if r, err := clusterResiduals(ls, X, Y, rows); err == nil {
					if Lc, err := precisionFactor(op, r); err == nil {
						A, L = ls.Coef, Lc
					}
				}
			}
		}
		p.predictors[c] = mat.DenseCopyOf(A)
		p.cholesky[c] = mat.NewTriDense(m.dimOut, mat.Lower, nil)
		p.cholesky[c].Copy(L)

		// 空のクラスタにも確率が残るよう平滑化する
		logFreq := math.Log(float64(len(rows)+1) / float64(n+m.numComponents))
		for s := 0; s < m.numScales; s++ {
			p.priors.Set(c, s, logFreq-math.Log(float64(m.numScales)))
			p.scales.Set(c, s, spread[s])
		}
	}
	m.params = p

	m.cfg.logger.Debug("model initialized",
		log.ModelNameKey, m.Name(),
		log.OperationKey, log.OperationInitialize,
		log.SamplesKey, n,
		"cluster_sizes", km.Counts(),
	)
	return nil
}

// clusterResiduals returns the residuals of the selected rows.
func clusterResiduals(ls *linear.LeastSquares, X, Y mat.Matrix, rows []int) (*mat.Dense, error) {
	_, dimIn := X.Dims()
	_, dimOut := Y.Dims()
	xs := mat.NewDense(len(rows), dimIn, nil)
	ys := mat.NewDense(len(rows), dimOut, nil)
	for k, i := range rows {
		for j := 0; j < dimIn; j++ {
			xs.Set(k, j, X.At(i, j))
		}
		for j := 0; j < dimOut; j++ {
			ys.Set(k, j, Y.At(i, j))
		}
	}
	return ls.Residuals(xs, ys)
}

// precisionFactor returns the lower Cholesky factor L of the inverse of the
// (jittered) second moment of the residual rows: L Lᵀ = Σ⁻¹.
func precisionFactor(op string, residuals *mat.Dense) (*mat.TriDense, error) {
	n, d := residuals.Dims()
	cov := mat.NewSymDense(d, nil)
	cov.SymOuterK(1/float64(n), residuals.T())

	jitter := 0.0
	for j := 0; j < d; j++ {
		jitter += cov.At(j, j)
	}
	jitter = initJitter*jitter/float64(d) + 1e-12
	for j := 0; j < d; j++ {
		cov.SetSym(j, j, cov.At(j, j)+jitter)
	}

	var chol mat.Cholesky
	if !chol.Factorize(cov) {
		return nil, errors.NewNumericalInstabilityError(op+".covariance", mat.Col(nil, 0, cov), -1)
	}
	var prec mat.SymDense
	if err := chol.InverseTo(&prec); err != nil {
		return nil, errors.NewNumericalInstabilityError(op+".precision", mat.Col(nil, 0, cov), -1)
	}
	if !chol.Factorize(&prec) {
		return nil, errors.NewNumericalInstabilityError(op+".precision", mat.Col(nil, 0, &prec), -1)
	}
	L := mat.NewTriDense(d, mat.Lower, nil)
	chol.LTo(L)
	return L, nil
}

// Train fits the model to (X, Y). It returns true when the optimizer
// converged, false when it stopped early; the model then holds the best
// parameters found.
func (m *MCGSM) Train(X, Y mat.Matrix, cfg trainer.Config, opts ...trainer.Option) (bool, error) {
	return trainer.Train(m, X, Y, cfg, m.cfg.trainerOptions(opts)...)
}

// TrainWithValidation fits the model with early stopping on (Xval, Yval).
func (m *MCGSM) TrainWithValidation(X, Y, Xval, Yval mat.Matrix, cfg trainer.Config, opts ...trainer.Option) (bool, error) {
	return trainer.TrainWithValidation(m, X, Y, Xval, Yval, cfg, m.cfg.trainerOptions(opts)...)
}

// CheckGradient returns the distance between the analytic gradient and a
// central difference estimate with step epsilon.
func (m *MCGSM) CheckGradient(X, Y mat.Matrix, epsilon float64, cfg trainer.Config) (float64, error) {
	return trainer.CheckGradient(m, X, Y, epsilon, cfg, m.cfg.trainerOptions(nil)...)
}

// CheckPerformance returns the mean time of one objective and gradient
// evaluation.
func (m *MCGSM) CheckPerformance(X, Y mat.Matrix, repetitions int, cfg trainer.Config) (time.Duration, error) {
	return trainer.CheckPerformance(m, X, Y, repetitions, cfg, m.cfg.trainerOptions(nil)...)
}

// FisherInformation returns the mean outer product of the per-sample score
// vectors at the current parameters.
func (m *MCGSM) FisherInformation(X, Y mat.Matrix, cfg trainer.Config) (*mat.SymDense, error) {
	return trainer.FisherInformation(m, X, Y, cfg, m.cfg.trainerOptions(nil)...)
}
