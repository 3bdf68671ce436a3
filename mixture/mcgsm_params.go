package mixture

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gocmt/core/model"
	"github.com/YuminosukeSato/gocmt/pkg/errors"
)

// Priors returns a copy of the log prior weights η (C×S).
func (m *MCGSM) Priors() *mat.Dense { return mat.DenseCopyOf(m.params.priors) }

// Scales returns a copy of the log-precision scales α (C×S).
func (m *MCGSM) Scales() *mat.Dense { return mat.DenseCopyOf(m.params.scales) }

// Weights returns a copy of the feature weights β (C×F).
func (m *MCGSM) Weights() *mat.Dense { return mat.DenseCopyOf(m.params.weights) }

// Features returns a copy of the feature matrix B (dimIn×F), one feature
// per column.
func (m *MCGSM) Features() *mat.Dense { return mat.DenseCopyOf(m.params.features) }

// CholeskyFactors returns copies of the lower triangular factors L_c of the
// residual precision matrices.
func (m *MCGSM) CholeskyFactors() []*mat.TriDense {
	out := make([]*mat.TriDense, len(m.params.cholesky))
	for c, L := range m.params.cholesky {
		out[c] = mat.NewTriDense(m.dimOut, mat.Lower, nil)
		out[c].Copy(L)
	}
	return out
}

// Predictors returns copies of the predictors A_c (dimOut×dimIn).
func (m *MCGSM) Predictors() []*mat.Dense {
	out := make([]*mat.Dense, len(m.params.predictors))
	for c, A := range m.params.predictors {
		out[c] = mat.DenseCopyOf(A)
	}
	return out
}

// SetPriors replaces η.
func (m *MCGSM) SetPriors(priors mat.Matrix) error {
	if err := checkDims("MCGSM.SetPriors", priors, m.numComponents, m.numScales); err != nil {
		return err
	}
	m.params.priors = mat.DenseCopyOf(priors)
	return nil
}

// SetScales replaces α.
func (m *MCGSM) SetScales(scales mat.Matrix) error {
	if err := checkDims("MCGSM.SetScales", scales, m.numComponents, m.numScales); err != nil {
		return err
	}
	m.params.scales = mat.DenseCopyOf(scales)
	return nil
}

// SetWeights replaces β.
func (m *MCGSM) SetWeights(weights mat.Matrix) error {
	if err := checkDims("MCGSM.SetWeights", weights, m.numComponents, m.numFeatures); err != nil {
		return err
	}
	m.params.weights = mat.DenseCopyOf(weights)
	return nil
}

// SetFeatures replaces B.
func (m *MCGSM) SetFeatures(features mat.Matrix) error {
	if err := checkDims("MCGSM.SetFeatures", features, m.dimIn, m.numFeatures); err != nil {
		return err
	}
	m.params.features = mat.DenseCopyOf(features)
	return nil
}

// SetCholeskyFactors replaces every L_c. Only the lower triangles are used
// and every diagonal entry must be positive.
func (m *MCGSM) SetCholeskyFactors(factors []mat.Matrix) error {
	const op = "MCGSM.SetCholeskyFactors"
	if len(factors) != m.numComponents {
		return errors.NewDimensionError(op, m.numComponents, len(factors), 0)
	}
	out := make([]*mat.TriDense, len(factors))
	for c, f := range factors {
		if err := checkDims(op, f, m.dimOut, m.dimOut); err != nil {
			return err
		}
		L := mat.NewTriDense(m.dimOut, mat.Lower, nil)
		for j := 0; j < m.dimOut; j++ {
			for k := 0; k <= j; k++ {
				L.SetTri(j, k, f.At(j, k))
			}
		}
		if _, err := logDiag(op, L); err != nil {
			return err
		}
		out[c] = L
	}
	m.params.cholesky = out
	return nil
}

// SetPredictors replaces every A_c.
func (m *MCGSM) SetPredictors(predictors []mat.Matrix) error {
	const op = "MCGSM.SetPredictors"
	if len(predictors) != m.numComponents {
		return errors.NewDimensionError(op, m.numComponents, len(predictors), 0)
	}
	out := make([]*mat.Dense, len(predictors))
	for c, A := range predictors {
		if err := checkDims(op, A, m.dimOut, m.dimIn); err != nil {
			return err
		}
		out[c] = mat.DenseCopyOf(A)
	}
	m.params.predictors = out
	return nil
}

// State returns the persistent state of the model.
func (m *MCGSM) State() *model.State {
	return &model.State{
		Kind:   m.Name(),
		DimIn:  m.dimIn,
		DimOut: m.dimOut,
		Hyperparameters: map[string]int{
			"numComponents": m.numComponents,
			"numScales":     m.numScales,
			"numFeatures":   m.numFeatures,
		},
		Parameters: m.Parameters(),
	}
}

// NewMCGSMFromState rebuilds a model saved with State. Options other than
// the hyperparameters (seed, logger) apply as in NewMCGSM.
func NewMCGSMFromState(s *model.State, opts ...Option) (*MCGSM, error) {
	if err := s.Expect("MCGSM"); err != nil {
		return nil, err
	}
	hyper := make([]int, 3)
	for i, name := range []string{"numComponents", "numScales", "numFeatures"} {
		v, err := s.Hyperparameter(name)
		if err != nil {
			return nil, err
		}
		hyper[i] = v
	}
	opts = append(opts, WithComponents(hyper[0]), WithScales(hyper[1]), WithFeatures(hyper[2]))
	m, err := NewMCGSM(s.DimIn, s.DimOut, opts...)
	if err != nil {
		return nil, err
	}
	if err := m.SetParameters(s.Parameters); err != nil {
		return nil, err
	}
	return m, nil
}
