// Package metrics scores conditional models and point predictions.
package metrics

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gocmt/core/model"
	"github.com/YuminosukeSato/gocmt/pkg/errors"
	"github.com/YuminosukeSato/gocmt/preprocessing"
)

// Evaluate returns the negative mean log-likelihood of (X, Y) in bits per
// output component. Lower is better.
//
// When pre is not nil the model is assumed to have been fitted to
// pre.Forward(X, Y), and the log-Jacobian of the output transform is added
// back so that the score refers to the original outputs.
func Evaluate(m model.ConditionalDistribution, X, Y mat.Matrix, pre preprocessing.Preconditioner) (float64, error) {
	const op = "Evaluate"
	n, dimOut := Y.Dims()
	if n == 0 {
		return 0, errors.Wrap(errors.ErrEmptyData, op)
	}

	var ll *mat.VecDense
	if pre == nil {
		var err error
		if ll, err = m.LogLikelihood(X, Y); err != nil {
			return 0, err
		}
	} else {
		Xp, Yp, err := pre.Forward(X, Y)
		if err != nil {
			return 0, err
		}
		if ll, err = m.LogLikelihood(Xp, Yp); err != nil {
			return 0, err
		}
		logJ, err := pre.OutputLogJacobian(X, Y)
		if err != nil {
			return 0, err
		}
		ll.AddVec(ll, logJ)
	}

	score := -mat.Sum(ll) / float64(n*dimOut) / math.Ln2
	if err := errors.CheckScalar(op, score, -1); err != nil {
		return 0, err
	}
	return score, nil
}
