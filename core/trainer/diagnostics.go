package trainer

import (
	"math"
	"time"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gocmt/core/model"
	"github.com/YuminosukeSato/gocmt/core/parallel"
	"github.com/YuminosukeSato/gocmt/pkg/errors"
	"github.com/YuminosukeSato/gocmt/pkg/log"
)

// CheckGradient compares the analytic gradient of the training objective at
// the current parameters with a central difference estimate using step
// epsilon (DefaultGradientStep when epsilon <= 0). It returns the Euclidean
// norm of the difference. The model is not modified.
func CheckGradient(m model.Trainable, X, Y mat.Matrix, epsilon float64, cfg Config, opts ...Option) (float64, error) {
	o, err := New(m, cfg, opts...)
	if err != nil {
		return 0, err
	}
	if _, err := model.CheckData("CheckGradient", m, X, Y); err != nil {
		return 0, err
	}
	if epsilon <= 0 {
		epsilon = DefaultGradientStep
	}

	obj := newObjective(m, model.AsDense(X), model.AsDense(Y), o.chunkSize, false, epsilon)
	theta := m.Parameters()

	_, analytic, err := obj.evaluate(theta, true)
	if err != nil {
		return 0, err
	}
	var fdErr error
	numeric := fd.Gradient(nil, func(x []float64) float64 {
		total, err := obj.sum(x, nil)
		if err != nil {
			if fdErr == nil {
				fdErr = err
			}
			return math.NaN()
		}
		return total / obj.norm
	}, theta, &fd.Settings{Formula: fd.Central, Step: epsilon})
	if fdErr != nil {
		return 0, errors.Wrap(fdErr, "finite difference gradient")
	}

	diff := floats.Distance(analytic, numeric, 2)
	if cfg.Verbosity >= 1 {
		o.logger.Info("gradient check",
			log.OperationKey, log.OperationCheckGradient,
			log.ParametersKey, len(theta),
			log.GradientNormKey, floats.Norm(analytic, 2),
			"difference", diff,
		)
	}
	return diff, nil
}

// VerifyGradient runs CheckGradient and returns a GradientCheckError when the
// difference exceeds tol.
func VerifyGradient(m model.Trainable, X, Y mat.Matrix, epsilon, tol float64, cfg Config, opts ...Option) error {
	diff, err := CheckGradient(m, X, Y, epsilon, cfg, opts...)
	if err != nil {
		return err
	}
	if !(diff <= tol) {
		return errors.NewGradientCheckError(model.NameOf(m), diff, tol)
	}
	return nil
}

// CheckPerformance measures the mean wall time of one objective and
// gradient evaluation over repetitions runs.
func CheckPerformance(m model.Trainable, X, Y mat.Matrix, repetitions int, cfg Config, opts ...Option) (time.Duration, error) {
	o, err := New(m, cfg, opts...)
	if err != nil {
		return 0, err
	}
	if repetitions <= 0 {
		return 0, errors.NewValidationError("repetitions", "must be positive", repetitions)
	}
	if _, err := model.CheckData("CheckPerformance", m, X, Y); err != nil {
		return 0, err
	}

	obj := newObjective(m, model.AsDense(X), model.AsDense(Y), o.chunkSize, cfg.NumGrad, o.fdStep)
	theta := m.Parameters()

	start := time.Now()
	for r := 0; r < repetitions; r++ {
		// 毎回キャッシュを無効化して実際の評価時間を測る
		obj.cachedX = nil
		if _, _, err := obj.evaluate(theta, true); err != nil {
			return 0, err
		}
	}
	mean := time.Since(start) / time.Duration(repetitions)

	if cfg.Verbosity >= 1 {
		o.logger.Info("performance check",
			log.OperationKey, log.OperationCheckPerformance,
			log.DurationMsKey, float64(mean.Microseconds())/1000,
		)
	}
	return mean, nil
}

// FisherInformation estimates the Fisher information matrix at the current
// parameters as the mean outer product of the per-sample score vectors
// (gradients of log p(y|x) with respect to the parameters).
func FisherInformation(m model.Trainable, X, Y mat.Matrix, cfg Config, opts ...Option) (*mat.SymDense, error) {
	o, err := New(m, cfg, opts...)
	if err != nil {
		return nil, err
	}
	n, err := model.CheckData("FisherInformation", m, X, Y)
	if err != nil {
		return nil, err
	}
	xd, yd := model.AsDense(X), model.AsDense(Y)
	theta := m.Parameters()
	p := len(theta)
	dimIn, dimOut := m.DimIn(), m.DimOut()

	partial := make([]*mat.SymDense, parallel.NumChunks(n, o.chunkSize))
	err = parallel.ParallelizeChunks(n, o.chunkSize, func(c, start, end int) error {
		acc := mat.NewSymDense(p, nil)
		score := make([]float64, p)
		for i := start; i < end; i++ {
			for k := range score {
				score[k] = 0
			}
			xs := xd.Slice(i, i+1, 0, dimIn).(*mat.Dense)
			ys := yd.Slice(i, i+1, 0, dimOut).(*mat.Dense)
			if _, err := m.ParameterGradient(theta, xs, ys, score); err != nil {
				return err
			}
			// ParameterGradient returns the gradient of the negative log-likelihood;
			// the sign cancels in the outer product.
			acc.SymRankOne(acc, 1, mat.NewVecDense(p, score))
		}
		partial[c] = acc
		return nil
	})
	if err != nil {
		return nil, err
	}

	fisher := mat.NewSymDense(p, nil)
	for _, acc := range partial {
		fisher.AddSym(fisher, acc)
	}
	fisher.ScaleSym(1/float64(n), fisher)

	if cfg.Verbosity >= 1 {
		o.logger.Info("fisher information",
			log.OperationKey, log.OperationFisherInformation,
			log.SamplesKey, n,
			log.ParametersKey, p,
		)
	}
	return fisher, nil
}
