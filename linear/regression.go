// Package linear はマルチ出力の最小二乗回帰を提供します。
// 混合モデルの初期化で、出力を入力から線形に予測する部分を取り除くために使われます。
package linear

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gocmt/core/parallel"
	"github.com/YuminosukeSato/gocmt/metrics"
	"github.com/YuminosukeSato/gocmt/pkg/errors"
)

// parallelThreshold この値以下の行数では逐次処理を使用
const parallelThreshold = 1000

// LeastSquares は Y ≈ X Coefᵀ + Intercept のフィット結果
type LeastSquares struct {
	Coef      *mat.Dense    // dimOut×dimIn
	Intercept *mat.VecDense // dimOut, zero without intercept
}

// FitLeastSquares solves the (optionally ridge-regularized) normal equations
//
//	(XᵀX + λI) W = XᵀY
//
// for all outputs at once using a Cholesky factorization.
//
// 使用例:
//
//	ls, err := linear.FitLeastSquares(X, Y, linear.WithRidge(1e-6))
//	R, err := ls.Residuals(X, Y)
func FitLeastSquares(X, Y mat.Matrix, opts ...Option) (*LeastSquares, error) {
	cfg := config{fitIntercept: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ridge < 0 {
		return nil, errors.NewValidationError("ridge", "must be non-negative", cfg.ridge)
	}

	r, c := X.Dims()
	ry, dimOut := Y.Dims()
	if r == 0 || c == 0 || dimOut == 0 {
		return nil, errors.NewModelError("FitLeastSquares", "empty data", errors.ErrEmptyData)
	}
	if ry != r {
		return nil, errors.NewDimensionError("FitLeastSquares", r, ry, 0)
	}

	rows := cfg.rows
	if rows == nil {
		rows = make([]int, r)
		for i := range rows {
			rows[i] = i
		}
	}
	n := len(rows)
	if n == 0 {
		return nil, errors.NewModelError("FitLeastSquares", "no rows selected", errors.ErrEmptyData)
	}
	for _, i := range rows {
		if i < 0 || i >= r {
			return nil, errors.NewValidationError("rows", "index out of range", i)
		}
	}

	// 切片項のために X に 1 の列を追加
	offset := 0
	if cfg.fitIntercept {
		offset = 1
	}
	p := c + offset
	design := mat.NewDense(n, p, nil)
	target := mat.NewDense(n, dimOut, nil)
	parallel.ParallelizeWithThreshold(n, parallelThreshold, func(start, end int) {
		for k := start; k < end; k++ {
			i := rows[k]
			if offset == 1 {
				design.Set(k, 0, 1)
			}
			for j := 0; j < c; j++ {
				design.Set(k, j+offset, X.At(i, j))
			}
			for j := 0; j < dimOut; j++ {
				target.Set(k, j, Y.At(i, j))
			}
		}
	})

	gram := mat.NewSymDense(p, nil)
	gram.SymOuterK(1, design.T())
	for j := offset; j < p; j++ {
		gram.SetSym(j, j, gram.At(j, j)+cfg.ridge)
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(gram); !ok {
		return nil, errors.NewModelError("FitLeastSquares", "singular matrix", errors.ErrSingularMatrix)
	}

	var xty, w mat.Dense
	xty.Mul(design.T(), target)
	if err := chol.SolveTo(&w, &xty); err != nil {
		return nil, errors.NewModelError("FitLeastSquares", "singular matrix", errors.Wrap(errors.ErrSingularMatrix, err.Error()))
	}
	if err := errors.CheckMatrix("FitLeastSquares", &w, p, dimOut, -1); err != nil {
		return nil, err
	}

	// 切片と重みを分離
	ls := &LeastSquares{
		Coef:      mat.NewDense(dimOut, c, nil),
		Intercept: mat.NewVecDense(dimOut, nil),
	}
	for k := 0; k < dimOut; k++ {
		if offset == 1 {
			ls.Intercept.SetVec(k, w.At(0, k))
		}
		for j := 0; j < c; j++ {
			ls.Coef.Set(k, j, w.At(j+offset, k))
		}
	}
	return ls, nil
}

// DimIn returns the number of input features.
func (ls *LeastSquares) DimIn() int {
	_, c := ls.Coef.Dims()
	return c
}

// DimOut returns the number of outputs.
func (ls *LeastSquares) DimOut() int {
	r, _ := ls.Coef.Dims()
	return r
}

// Predict は入力データに対する予測を行う
func (ls *LeastSquares) Predict(X mat.Matrix) (*mat.Dense, error) {
	r, c := X.Dims()
	if c != ls.DimIn() {
		return nil, errors.NewDimensionError("LeastSquares.Predict", ls.DimIn(), c, 1)
	}
	pred := mat.NewDense(r, ls.DimOut(), nil)
	pred.Mul(X, ls.Coef.T())
	for i := 0; i < r; i++ {
		row := pred.RawRowView(i)
		for k := range row {
			row[k] += ls.Intercept.AtVec(k)
		}
	}
	return pred, nil
}

// Residuals returns Y minus the prediction from X.
func (ls *LeastSquares) Residuals(X, Y mat.Matrix) (*mat.Dense, error) {
	pred, err := ls.Predict(X)
	if err != nil {
		return nil, err
	}
	r, _ := pred.Dims()
	ry, cy := Y.Dims()
	if ry != r {
		return nil, errors.NewDimensionError("LeastSquares.Residuals", r, ry, 0)
	}
	if cy != ls.DimOut() {
		return nil, errors.NewDimensionError("LeastSquares.Residuals", ls.DimOut(), cy, 1)
	}
	var res mat.Dense
	res.Sub(Y, pred)
	return &res, nil
}

// Score は出力ごとの決定係数（R²）の平均を計算する
func (ls *LeastSquares) Score(X, Y mat.Matrix) (float64, error) {
	pred, err := ls.Predict(X)
	if err != nil {
		return 0, err
	}
	ry, cy := Y.Dims()
	if cy != ls.DimOut() {
		return 0, errors.NewDimensionError("LeastSquares.Score", ls.DimOut(), cy, 1)
	}

	total := 0.0
	for k := 0; k < cy; k++ {
		r2, err := metrics.R2Score(mat.NewVecDense(ry, mat.Col(nil, k, Y)), pred.ColView(k))
		if err != nil {
			return 0, errors.Wrapf(err, "output %d", k)
		}
		total += r2
	}
	return total / float64(cy), nil
}
