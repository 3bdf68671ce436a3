package preprocessing

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gocmt/pkg/errors"
)

// DefaultVarianceExplained is the percentage of input variance kept by PCA
// when neither a threshold nor a component count is given.
const DefaultVarianceExplained = 99.0

type pcaConfig struct {
	threshold         float64
	numPCs            int
	varianceExplained float64
}

// PCAOption configures how many input directions PCA keeps.
type PCAOption func(*pcaConfig)

// WithEigenvalueThreshold keeps the directions whose eigenvalue exceeds t.
func WithEigenvalueThreshold(t float64) PCAOption {
	return func(c *pcaConfig) {
		c.threshold = t
	}
}

// WithNumPCs keeps the k directions with the largest eigenvalues. Takes
// precedence over the other options.
func WithNumPCs(k int) PCAOption {
	return func(c *pcaConfig) {
		c.numPCs = k
	}
}

// WithVarianceExplained keeps the smallest number of leading directions that
// explain at least pct percent of the input variance.
func WithVarianceExplained(pct float64) PCAOption {
	return func(c *pcaConfig) {
		c.varianceExplained = pct
	}
}

// pcaReduction selects the retained eigen-directions.
type pcaReduction struct {
	cfg       pcaConfig
	kept      []float64 // descending
	discarded float64
}

func (p *pcaReduction) reduce(op string, w *whitening) (*mat.Dense, *mat.Dense, float64, error) {
	dim := len(w.values)
	total := floats.Sum(w.values)

	// 固有値は昇順なので末尾から取る
	k := 0
	switch {
	case p.cfg.numPCs > 0:
		if p.cfg.numPCs > dim {
			return nil, nil, 0, errors.NewValidationError("numPCs", "exceeds input dimensionality", p.cfg.numPCs)
		}
		k = p.cfg.numPCs
	case p.cfg.threshold > 0:
		for _, v := range w.values {
			if v > p.cfg.threshold {
				k++
			}
		}
	default:
		target := p.cfg.varianceExplained / 100 * total
		acc := 0.0
		for i := dim - 1; i >= 0 && acc < target; i-- {
			acc += w.values[i]
			k++
		}
	}
	if k == 0 {
		return nil, nil, 0, errors.NewNumericalInstabilityError(op, w.values, -1)
	}

	p.kept = make([]float64, k)
	for i := 0; i < k; i++ {
		p.kept[i] = w.values[dim-1-i]
	}
	if err := checkEigenvalues(op, reversed(p.kept)); err != nil {
		return nil, nil, 0, err
	}
	p.discarded = math.Max(total-floats.Sum(p.kept), 0)

	// preIn = diag(λ^-½) V_kᵀ, preInInv = V_k diag(λ^½)
	pre := mat.NewDense(k, dim, nil)
	preInv := mat.NewDense(dim, k, nil)
	logDet := 0.0
	for i := 0; i < k; i++ {
		col := dim - 1 - i
		s := math.Sqrt(p.kept[i])
		for j := 0; j < dim; j++ {
			v := w.vectors.At(j, col)
			pre.Set(i, j, v/s)
			preInv.Set(j, i, v*s)
		}
		logDet -= 0.5 * math.Log(p.kept[i])
	}
	return pre, preInv, logDet, nil
}

func reversed(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[len(x)-1-i] = v
	}
	return out
}

func fitPCA(name string, X, Y mat.Matrix, opts []PCAOption) (*affineMap, *pcaReduction, error) {
	red := &pcaReduction{cfg: pcaConfig{varianceExplained: DefaultVarianceExplained}}
	for _, opt := range opts {
		opt(&red.cfg)
	}
	if red.cfg.numPCs < 0 {
		return nil, nil, errors.NewValidationError("numPCs", "must be non-negative", red.cfg.numPCs)
	}
	if red.cfg.numPCs == 0 && red.cfg.threshold <= 0 && !(red.cfg.varianceExplained > 0 && red.cfg.varianceExplained <= 100) {
		return nil, nil, errors.NewValidationError("varianceExplained", "must be in (0, 100]", red.cfg.varianceExplained)
	}
	a, err := fitMap(name, X, Y, red.reduce, false)
	if err != nil {
		return nil, nil, err
	}
	return a, red, nil
}

// PCAPreconditioner whitens the inputs in the subspace of their leading
// principal components, reducing DimInPre below DimIn, and whitens the
// outputs.
//
// Inverse can only reconstruct the projection of the inputs onto the kept
// subspace; the lost variance is reported by DiscardedVariance. LogJacobian
// uses the pseudo-determinant of the retained block.
type PCAPreconditioner struct {
	*affineMap
	eigenvalues []float64
	discarded   float64
}

// NewPCAPreconditioner estimates a PCAPreconditioner from a sample.
//
//	p, err := preprocessing.NewPCAPreconditioner(X, Y, preprocessing.WithEigenvalueThreshold(0.01))
func NewPCAPreconditioner(X, Y mat.Matrix, opts ...PCAOption) (*PCAPreconditioner, error) {
	a, red, err := fitPCA("PCAPreconditioner", X, Y, opts)
	if err != nil {
		return nil, err
	}
	return &PCAPreconditioner{affineMap: a, eigenvalues: red.kept, discarded: red.discarded}, nil
}

// Eigenvalues returns the retained input eigenvalues in descending order.
func (p *PCAPreconditioner) Eigenvalues() []float64 {
	return append([]float64(nil), p.eigenvalues...)
}

// DiscardedVariance returns the input variance lost by the projection.
func (p *PCAPreconditioner) DiscardedVariance() float64 {
	return p.discarded
}

// PCATransform is a PCAPreconditioner that can also map outputs on their
// own.
type PCATransform struct {
	*affineMap
	eigenvalues []float64
	discarded   float64
}

// NewPCATransform estimates a PCATransform from a sample.
func NewPCATransform(X, Y mat.Matrix, opts ...PCAOption) (*PCATransform, error) {
	a, red, err := fitPCA("PCATransform", X, Y, opts)
	if err != nil {
		return nil, err
	}
	return &PCATransform{affineMap: a, eigenvalues: red.kept, discarded: red.discarded}, nil
}

// Eigenvalues returns the retained input eigenvalues in descending order.
func (p *PCATransform) Eigenvalues() []float64 {
	return append([]float64(nil), p.eigenvalues...)
}

// DiscardedVariance returns the input variance lost by the projection.
func (p *PCATransform) DiscardedVariance() float64 {
	return p.discarded
}

// ForwardOutput transforms outputs without the matching inputs.
func (p *PCATransform) ForwardOutput(Y mat.Matrix) (*mat.Dense, error) {
	return p.forwardOutput("PCATransform.ForwardOutput", Y)
}

// InverseOutput maps transformed outputs back without the matching inputs.
func (p *PCATransform) InverseOutput(Yp mat.Matrix) (*mat.Dense, error) {
	return p.inverseOutput("PCATransform.InverseOutput", Yp)
}
