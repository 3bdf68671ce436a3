package preprocessing

import (
	"encoding/gob"
	"io"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gocmt/pkg/errors"
)

// record is the serialized form of every preconditioner.
type record struct {
	Kind string

	DimIn, DimInPre, DimOut int

	MeanIn, MeanOut     []float64
	PreIn, PreInInv     []float64
	PreOut, PreOutInv   []float64
	Predictor           []float64
	LogJacIn, LogJacOut float64

	Eigenvalues []float64
	Discarded   float64
}

func (a *affineMap) record() record {
	r := record{
		Kind:      a.name,
		DimIn:     a.DimIn(),
		DimInPre:  a.DimInPre(),
		DimOut:    a.DimOut(),
		MeanIn:    a.meanIn.RawVector().Data,
		MeanOut:   a.meanOut.RawVector().Data,
		PreIn:     flatten(a.preIn),
		PreInInv:  flatten(a.preInInv),
		PreOut:    flatten(a.preOut),
		PreOutInv: flatten(a.preOutInv),
		LogJacIn:  a.logJacIn,
		LogJacOut: a.logJacOut,
	}
	if a.predictor != nil {
		r.Predictor = flatten(a.predictor)
	}
	return r
}

func (r record) affineMap() (*affineMap, error) {
	in, inPre, out := r.DimIn, r.DimInPre, r.DimOut
	if in <= 0 || inPre <= 0 || out <= 0 ||
		len(r.MeanIn) != in || len(r.MeanOut) != out ||
		len(r.PreIn) != inPre*in || len(r.PreInInv) != in*inPre ||
		len(r.PreOut) != out*out || len(r.PreOutInv) != out*out ||
		(r.Predictor != nil && len(r.Predictor) != out*inPre) {
		return nil, errors.NewValidationError("preconditioner", "corrupt record", r.Kind)
	}
	a := &affineMap{
		name:      r.Kind,
		meanIn:    mat.NewVecDense(in, r.MeanIn),
		meanOut:   mat.NewVecDense(out, r.MeanOut),
		preIn:     mat.NewDense(inPre, in, r.PreIn),
		preInInv:  mat.NewDense(in, inPre, r.PreInInv),
		preOut:    mat.NewDense(out, out, r.PreOut),
		preOutInv: mat.NewDense(out, out, r.PreOutInv),
		logJacIn:  r.LogJacIn,
		logJacOut: r.LogJacOut,
	}
	if r.Predictor != nil {
		a.predictor = mat.NewDense(out, inPre, r.Predictor)
	}
	return a, nil
}

func flatten(m *mat.Dense) []float64 {
	r, c := m.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		out = append(out, m.RawRowView(i)...)
	}
	return out
}

// SavePreconditioner writes p in gob format. The fixed transform state is
// stored exactly, so a loaded preconditioner reproduces Forward bit for bit.
func SavePreconditioner(w io.Writer, p Preconditioner) error {
	var r record
	switch v := p.(type) {
	case *AffinePreconditioner:
		r = v.record()
	case *AffineTransform:
		r = v.record()
	case *WhiteningPreconditioner:
		r = v.record()
	case *WhiteningTransform:
		r = v.record()
	case *PCAPreconditioner:
		r = v.record()
		r.Eigenvalues, r.Discarded = v.eigenvalues, v.discarded
	case *PCATransform:
		r = v.record()
		r.Eigenvalues, r.Discarded = v.eigenvalues, v.discarded
	default:
		return errors.NewValidationError("preconditioner", "unsupported type", p)
	}
	if err := gob.NewEncoder(w).Encode(r); err != nil {
		return errors.Wrap(err, "failed to encode preconditioner")
	}
	return nil
}

// LoadPreconditioner reads a preconditioner written by SavePreconditioner.
func LoadPreconditioner(rd io.Reader) (Preconditioner, error) {
	var r record
	if err := gob.NewDecoder(rd).Decode(&r); err != nil {
		return nil, errors.Wrap(err, "failed to decode preconditioner")
	}
	a, err := r.affineMap()
	if err != nil {
		return nil, err
	}
	switch r.Kind {
	case "AffinePreconditioner":
		return &AffinePreconditioner{a}, nil
	case "AffineTransform":
		return &AffineTransform{a}, nil
	case "WhiteningPreconditioner":
		return &WhiteningPreconditioner{a}, nil
	case "WhiteningTransform":
		return &WhiteningTransform{a}, nil
	case "PCAPreconditioner":
		return &PCAPreconditioner{affineMap: a, eigenvalues: r.Eigenvalues, discarded: r.Discarded}, nil
	case "PCATransform":
		return &PCATransform{affineMap: a, eigenvalues: r.Eigenvalues, discarded: r.Discarded}, nil
	default:
		return nil, errors.NewValidationError("kind", "unknown preconditioner", r.Kind)
	}
}
