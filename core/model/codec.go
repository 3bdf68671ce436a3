package model

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gocmt/pkg/errors"
)

// LowerTriSize returns the number of entries in the lower triangle of an
// n×n matrix, diagonal included.
func LowerTriSize(n int) int {
	return n * (n + 1) / 2
}

// Packer writes parameter blocks into a flat vector in call order.
// Matrices are written row-major.
type Packer struct {
	buf []float64
}

// NewPacker returns a Packer writing into dst. dst must be large enough for
// every block that will be written.
func NewPacker(dst []float64) *Packer {
	return &Packer{buf: dst[:0]}
}

// Floats appends x.
func (p *Packer) Floats(x []float64) {
	p.buf = append(p.buf, x...)
}

// Scalar appends a single value.
func (p *Packer) Scalar(x float64) {
	p.buf = append(p.buf, x)
}

// Dense appends m row by row.
func (p *Packer) Dense(m mat.Matrix) {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			p.buf = append(p.buf, m.At(i, j))
		}
	}
}

// Vec appends the elements of v.
func (p *Packer) Vec(v mat.Vector) {
	for i := 0; i < v.Len(); i++ {
		p.buf = append(p.buf, v.AtVec(i))
	}
}

// LowerTri appends the lower triangle of t row by row.
func (p *Packer) LowerTri(t mat.Matrix) {
	n, _ := t.Dims()
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			p.buf = append(p.buf, t.At(i, j))
		}
	}
}

// Len returns the number of values written so far.
func (p *Packer) Len() int {
	return len(p.buf)
}

// Unpacker reads parameter blocks from a flat vector in the order they were
// packed. Every returned block is a fresh copy.
type Unpacker struct {
	theta []float64
	pos   int
}

// NewUnpacker reads from theta, which must have exactly expected entries.
func NewUnpacker(modelName string, theta []float64, expected int) (*Unpacker, error) {
	if len(theta) != expected {
		return nil, errors.NewParameterLengthError(modelName, expected, len(theta))
	}
	return &Unpacker{theta: theta}, nil
}

func (u *Unpacker) next(n int) []float64 {
	out := make([]float64, n)
	copy(out, u.theta[u.pos:u.pos+n])
	u.pos += n
	return out
}

// Floats reads n values.
func (u *Unpacker) Floats(n int) []float64 {
	return u.next(n)
}

// Scalar reads one value.
func (u *Unpacker) Scalar() float64 {
	v := u.theta[u.pos]
	u.pos++
	return v
}

// Dense reads an r×c matrix.
func (u *Unpacker) Dense(r, c int) *mat.Dense {
	return mat.NewDense(r, c, u.next(r*c))
}

// Vec reads a vector of length n.
func (u *Unpacker) Vec(n int) *mat.VecDense {
	return mat.NewVecDense(n, u.next(n))
}

// LowerTri reads the lower triangle of an n×n matrix.
func (u *Unpacker) LowerTri(n int) *mat.TriDense {
	t := mat.NewTriDense(n, mat.Lower, nil)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			t.SetTri(i, j, u.theta[u.pos])
			u.pos++
		}
	}
	return t
}

// Offset returns the number of values consumed so far.
func (u *Unpacker) Offset() int {
	return u.pos
}
