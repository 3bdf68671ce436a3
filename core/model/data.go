package model

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gocmt/pkg/errors"
)

// CheckInputs validates that X has dimIn columns and at least one row, and
// returns the number of rows.
func CheckInputs(op string, dimIn int, X mat.Matrix) (int, error) {
	if X == nil {
		return 0, errors.Wrap(errors.ErrEmptyData, op)
	}
	n, c := X.Dims()
	if n == 0 {
		return 0, errors.Wrap(errors.ErrEmptyData, op)
	}
	if c != dimIn {
		return 0, errors.NewDimensionError(op, dimIn, c, 1)
	}
	return n, nil
}

// CheckData validates a pair of input and output matrices against the
// dimensions of d and returns the number of rows.
func CheckData(op string, d ConditionalDistribution, X, Y mat.Matrix) (int, error) {
	n, err := CheckInputs(op, d.DimIn(), X)
	if err != nil {
		return 0, err
	}
	m, err := CheckInputs(op, d.DimOut(), Y)
	if err != nil {
		return 0, err
	}
	if m != n {
		return 0, errors.NewDimensionError(op, n, m, 0)
	}
	return n, nil
}

// AsDense returns m as a *mat.Dense, copying only when needed.
func AsDense(m mat.Matrix) *mat.Dense {
	if d, ok := m.(*mat.Dense); ok {
		return d
	}
	return mat.DenseCopyOf(m)
}
