// Package mixture implements mixtures of conditional experts: the mixture of
// conditional Gaussian scale mixtures (MCGSM) for continuous outputs and the
// mixture of conditional Boltzmann machines (MCBM) for binary outputs.
//
// Both models implement model.Trainable and are fitted by core/trainer.
//
//	m, err := mixture.NewMCGSM(dimIn, dimOut, mixture.WithComponents(4), mixture.WithSeed(1))
//	err = m.Initialize(X, Y)
//	converged, err := m.Train(X, Y, trainer.DefaultConfig())
package mixture

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gocmt/core/model"
	"github.com/YuminosukeSato/gocmt/core/parallel"
	"github.com/YuminosukeSato/gocmt/pkg/errors"
)

// MCGSM models p(y|x) as a mixture over components c and scales s of
// Gaussians with mean A_c x and precision e^{α_cs} L_c L_cᵀ. The gate is
//
//	log p(c,s|x) ∝ η_cs − ½ e^{α_cs} Σ_i β_ci (b_iᵀx)²
//
// Inputs are N×dimIn and outputs N×dimOut, one sample per row.
type MCGSM struct {
	dimIn         int
	dimOut        int
	numComponents int
	numScales     int
	numFeatures   int

	params *mcgsmParams
	cfg    settings
}

type mcgsmParams struct {
	priors     *mat.Dense      // C×S
	scales     *mat.Dense      // C×S
	weights    *mat.Dense      // C×F
	features   *mat.Dense      // dimIn×F
	cholesky   []*mat.TriDense // C of dimOut×dimOut, lower
	predictors []*mat.Dense    // C of dimOut×dimIn
}

// NewMCGSM creates an MCGSM with small random parameters. Call Initialize to
// obtain a data-dependent starting point before training.
func NewMCGSM(dimIn, dimOut int, opts ...Option) (*MCGSM, error) {
	cfg := newSettings(opts)
	if cfg.features < 0 {
		cfg.features = dimIn
	}
	if err := validateHyper(dimIn, dimOut, cfg.components, cfg.features); err != nil {
		return nil, err
	}
	if cfg.scales <= 0 {
		return nil, errors.NewValidationError("numScales", "must be positive", cfg.scales)
	}
	m := &MCGSM{
		dimIn:         dimIn,
		dimOut:        dimOut,
		numComponents: cfg.components,
		numScales:     cfg.scales,
		numFeatures:   cfg.features,
		cfg:           cfg,
	}
	m.params = m.randomParams()
	return m, nil
}

func validateHyper(dimIn, dimOut, components, features int) error {
	switch {
	case dimIn <= 0:
		return errors.NewValidationError("dimIn", "must be positive", dimIn)
	case dimOut <= 0:
		return errors.NewValidationError("dimOut", "must be positive", dimOut)
	case components <= 0:
		return errors.NewValidationError("numComponents", "must be positive", components)
	case features <= 0:
		return errors.NewValidationError("numFeatures", "must be positive", features)
	}
	return nil
}

// Name returns "MCGSM".
func (m *MCGSM) Name() string { return "MCGSM" }

// DimIn returns the input dimensionality.
func (m *MCGSM) DimIn() int { return m.dimIn }

// DimOut returns the output dimensionality.
func (m *MCGSM) DimOut() int { return m.dimOut }

// NumComponents returns C.
func (m *MCGSM) NumComponents() int { return m.numComponents }

// NumScales returns S.
func (m *MCGSM) NumScales() int { return m.numScales }

// NumFeatures returns F.
func (m *MCGSM) NumFeatures() int { return m.numFeatures }

// scaleSpread places S log-scales evenly in [-1, 1].
func scaleSpread(S int) []float64 {
	out := make([]float64, S)
	if S == 1 {
		return out
	}
	for s := range out {
		out[s] = -1 + 2*float64(s)/float64(S-1)
	}
	return out
}

func (m *MCGSM) randomParams() *mcgsmParams {
	C, S, F := m.numComponents, m.numScales, m.numFeatures
	rng := m.cfg.rng
	p := &mcgsmParams{
		priors:   mat.NewDense(C, S, nil),
		scales:   mat.NewDense(C, S, nil),
		weights:  randNormal(rng, C, F, 0.1),
		features: randNormal(rng, m.dimIn, F, 1/math.Sqrt(float64(m.dimIn))),
	}
	spread := scaleSpread(S)
	for c := 0; c < C; c++ {
		p.scales.SetRow(c, spread)
		w := p.weights.RawRowView(c)
		for i := range w {
			w[i] = math.Abs(w[i])
		}
		L := mat.NewTriDense(m.dimOut, mat.Lower, nil)
		for j := 0; j < m.dimOut; j++ {
			L.SetTri(j, j, 1)
		}
		p.cholesky = append(p.cholesky, L)
		p.predictors = append(p.predictors, randNormal(rng, m.dimOut, m.dimIn, 0.1/math.Sqrt(float64(m.dimIn))))
	}
	return p
}

func (m *MCGSM) zeroParams() *mcgsmParams {
	C, S, F := m.numComponents, m.numScales, m.numFeatures
	p := &mcgsmParams{
		priors:   mat.NewDense(C, S, nil),
		scales:   mat.NewDense(C, S, nil),
		weights:  mat.NewDense(C, F, nil),
		features: mat.NewDense(m.dimIn, F, nil),
	}
	for c := 0; c < C; c++ {
		p.cholesky = append(p.cholesky, mat.NewTriDense(m.dimOut, mat.Lower, nil))
		p.predictors = append(p.predictors, mat.NewDense(m.dimOut, m.dimIn, nil))
	}
	return p
}

// NumParameters returns 2CS + CF + dimIn·F + C·dimOut(dimOut+1)/2 + C·dimOut·dimIn.
func (m *MCGSM) NumParameters() int {
	C, S, F := m.numComponents, m.numScales, m.numFeatures
	return 2*C*S + C*F + m.dimIn*F + C*model.LowerTriSize(m.dimOut) + C*m.dimOut*m.dimIn
}

func (p *mcgsmParams) pack(dst []float64) {
	pk := model.NewPacker(dst)
	pk.Dense(p.priors)
	pk.Dense(p.scales)
	pk.Dense(p.weights)
	pk.Dense(p.features)
	for _, L := range p.cholesky {
		pk.LowerTri(L)
	}
	for _, A := range p.predictors {
		pk.Dense(A)
	}
}

// Parameters returns the parameter vector: priors, scales, weights,
// features, the lower triangle of every Cholesky factor and every predictor,
// each matrix row-major.
func (m *MCGSM) Parameters() []float64 {
	theta := make([]float64, m.NumParameters())
	m.params.pack(theta)
	return theta
}

func (m *MCGSM) unpack(theta []float64) (*mcgsmParams, error) {
	u, err := model.NewUnpacker(m.Name(), theta, m.NumParameters())
	if err != nil {
		return nil, err
	}
	C, S, F := m.numComponents, m.numScales, m.numFeatures
	p := &mcgsmParams{
		priors:   u.Dense(C, S),
		scales:   u.Dense(C, S),
		weights:  u.Dense(C, F),
		features: u.Dense(m.dimIn, F),
	}
	for c := 0; c < C; c++ {
		p.cholesky = append(p.cholesky, u.LowerTri(m.dimOut))
	}
	for c := 0; c < C; c++ {
		p.predictors = append(p.predictors, u.Dense(m.dimOut, m.dimIn))
	}
	return p, nil
}

// SetParameters replaces all parameters.
func (m *MCGSM) SetParameters(theta []float64) error {
	p, err := m.unpack(theta)
	if err != nil {
		return err
	}
	m.params = p
	return nil
}

// mcgsmEval caches the quantities shared by all rows of one evaluation.
type mcgsmEval struct {
	m      *MCGSM
	p      *mcgsmParams
	q      []float64 // e^α, C×S row-major
	logDet []float64 // Σ log diag L_c
}

func (m *MCGSM) prepare(op string, p *mcgsmParams) (*mcgsmEval, error) {
	e := &mcgsmEval{m: m, p: p, logDet: make([]float64, m.numComponents)}
	e.q = append([]float64(nil), p.scales.RawMatrix().Data...)
	for i, a := range e.q {
		e.q[i] = math.Exp(a)
	}
	if err := errors.CheckNumericalStability(op, e.q, -1); err != nil {
		return nil, err
	}
	for c, L := range p.cholesky {
		ld, err := logDiag(op, L)
		if err != nil {
			return nil, err
		}
		e.logDet[c] = ld
	}
	return e, nil
}

// mcgsmScratch is per-goroutine working memory for one row.
type mcgsmScratch struct {
	f        []float64   // b_iᵀx
	u        []float64   // Σ_i β_ci f_i²
	logPrior []float64   // C·S
	logJoint []float64   // C·S
	d        [][]float64 // y − A_c x
	z        [][]float64 // L_cᵀ d_c
	zz       []float64   // ‖z_c‖²
	coef     []float64   // F
}

func (m *MCGSM) newScratch() *mcgsmScratch {
	C := m.numComponents
	s := &mcgsmScratch{
		f:        make([]float64, m.numFeatures),
		u:        make([]float64, C),
		logPrior: make([]float64, C*m.numScales),
		logJoint: make([]float64, C*m.numScales),
		zz:       make([]float64, C),
		coef:     make([]float64, m.numFeatures),
	}
	for c := 0; c < C; c++ {
		s.d = append(s.d, make([]float64, m.dimOut))
		s.z = append(s.z, make([]float64, m.dimOut))
	}
	return s
}

// row fills the unnormalized log-weights of the gate and, when y is not
// nil, the joint log-densities of every (c, s).
func (e *mcgsmEval) row(x, y []float64, sc *mcgsmScratch) {
	m, p := e.m, e.p
	C, S, F, D := m.numComponents, m.numScales, m.numFeatures, m.dimOut

	for i := 0; i < F; i++ {
		sc.f[i] = 0
	}
	for j, xj := range x {
		floats.AddScaled(sc.f, xj, p.features.RawRowView(j))
	}
	for c := 0; c < C; c++ {
		w := p.weights.RawRowView(c)
		u := 0.0
		for i, fi := range sc.f {
			u += w[i] * fi * fi
		}
		sc.u[c] = u
	}

	for c := 0; c < C; c++ {
		if y != nil {
			A, L := p.predictors[c], p.cholesky[c]
			d, z := sc.d[c], sc.z[c]
			for k := 0; k < D; k++ {
				d[k] = y[k] - floats.Dot(A.RawRowView(k), x)
			}
			zz := 0.0
			for k := 0; k < D; k++ {
				v := 0.0
				for j := k; j < D; j++ {
					v += L.At(j, k) * d[j]
				}
				z[k] = v
				zz += v * v
			}
			sc.zz[c] = zz
		}
		eta := p.priors.RawRowView(c)
		alpha := p.scales.RawRowView(c)
		for s := 0; s < S; s++ {
			idx := c*S + s
			q := e.q[idx]
			lp := eta[s] - 0.5*q*sc.u[c]
			sc.logPrior[idx] = lp
			if y != nil {
				sc.logJoint[idx] = lp + 0.5*float64(D)*(alpha[s]-log2Pi) + e.logDet[c] - 0.5*q*sc.zz[c]
			}
		}
	}
}

// accumulate adds the gradient of −log p(y|x) to g. sc.logPrior and
// sc.logJoint must already hold the normalized gate and posterior.
func (e *mcgsmEval) accumulate(g *mcgsmParams, x []float64, sc *mcgsmScratch, featCoef []float64) {
	m, p := e.m, e.p
	C, S, D := m.numComponents, m.numScales, m.dimOut

	for i := range featCoef {
		featCoef[i] = 0
	}
	for c := 0; c < C; c++ {
		var r, P, Q float64
		gEta := g.priors.RawRowView(c)
		gAlpha := g.scales.RawRowView(c)
		for s := 0; s < S; s++ {
			idx := c*S + s
			q := e.q[idx]
			prior, post := sc.logPrior[idx], sc.logJoint[idx]
			gcs := prior - post
			gEta[s] += gcs
			gAlpha[s] += -0.5*gcs*q*sc.u[c] - post*(0.5*float64(D)-0.5*q*sc.zz[c])
			r += gcs * q
			P += post
			Q += post * q
		}

		beta := p.weights.RawRowView(c)
		gBeta := g.weights.RawRowView(c)
		for i, fi := range sc.f {
			gBeta[i] -= 0.5 * r * fi * fi
			featCoef[i] += beta[i] * r
		}

		L, gL := p.cholesky[c], g.cholesky[c]
		d, z := sc.d[c], sc.z[c]
		for j := 0; j < D; j++ {
			for k := 0; k <= j; k++ {
				v := Q * d[j] * z[k]
				if j == k {
					v -= P / L.At(j, j)
				}
				gL.SetTri(j, k, gL.At(j, k)+v)
			}
		}

		gA := g.predictors[c]
		for j := 0; j < D; j++ {
			lz := 0.0
			for k := 0; k <= j; k++ {
				lz += L.At(j, k) * z[k]
			}
			floats.AddScaled(gA.RawRowView(j), -Q*lz, x)
		}
	}

	for j, xj := range x {
		row := g.features.RawRowView(j)
		for i, fi := range sc.f {
			row[i] -= xj * fi * featCoef[i]
		}
	}
}

// ParameterGradient returns the summed negative log-likelihood of the rows
// under theta and adds its gradient into grad when grad is non-nil.
func (m *MCGSM) ParameterGradient(theta []float64, X, Y *mat.Dense, grad []float64) (float64, error) {
	const op = "MCGSM.ParameterGradient"
	p, err := m.unpack(theta)
	if err != nil {
		return 0, err
	}
	if grad != nil && len(grad) != len(theta) {
		return 0, errors.NewParameterLengthError(m.Name(), len(theta), len(grad))
	}
	n, err := model.CheckData(op, m, X, Y)
	if err != nil {
		return 0, err
	}
	e, err := m.prepare(op, p)
	if err != nil {
		return 0, err
	}

	var g *mcgsmParams
	if grad != nil {
		g = m.zeroParams()
	}
	sc := m.newScratch()
	featCoef := make([]float64, m.numFeatures)
	nll := 0.0
	for i := 0; i < n; i++ {
		x, y := X.RawRowView(i), Y.RawRowView(i)
		e.row(x, y, sc)
		nll += normalize(sc.logPrior) - normalize(sc.logJoint)
		if g != nil {
			e.accumulate(g, x, sc, featCoef)
		}
	}
	if err := errors.CheckScalar(op, nll, -1); err != nil {
		return 0, err
	}
	if g != nil {
		buf := make([]float64, len(theta))
		g.pack(buf)
		if err := errors.CheckNumericalStability(op, buf, -1); err != nil {
			return 0, err
		}
		floats.Add(grad, buf)
	}
	return nll, nil
}

// dataGradient writes the gradients of log p(y|x) with respect to x and y
// into dx and dy. sc must hold the normalized gate and posterior.
func (e *mcgsmEval) dataGradient(x []float64, sc *mcgsmScratch, dx, dy []float64) {
	m, p := e.m, e.p
	C, S, D := m.numComponents, m.numScales, m.dimOut

	for i := range sc.coef {
		sc.coef[i] = 0
	}
	for c := 0; c < C; c++ {
		var r, Q float64
		for s := 0; s < S; s++ {
			idx := c*S + s
			q := e.q[idx]
			r += (sc.logPrior[idx] - sc.logJoint[idx]) * q
			Q += sc.logJoint[idx] * q
		}
		floats.AddScaled(sc.coef, r, p.weights.RawRowView(c))

		// −∂/∂y ½‖L_cᵀ(y − A_c x)‖² = −L_c z_c
		L, A, z := p.cholesky[c], p.predictors[c], sc.z[c]
		for j := 0; j < D; j++ {
			lz := 0.0
			for k := 0; k <= j; k++ {
				lz += L.At(j, k) * z[k]
			}
			dy[j] -= Q * lz
			floats.AddScaled(dx, Q*lz, A.RawRowView(j))
		}
	}

	// gate: Σ_i (Σ_c β_ci r_c) f_i b_i
	for i, fi := range sc.f {
		sc.coef[i] *= fi
	}
	for j := range dx {
		dx[j] += floats.Dot(p.features.RawRowView(j), sc.coef)
	}
}

// DataGradient returns the gradients of log p(y|x) with respect to the
// inputs (N×dimIn) and the outputs (N×dimOut) at the current parameters.
func (m *MCGSM) DataGradient(X, Y mat.Matrix) (dX, dY *mat.Dense, err error) {
	const op = "MCGSM.DataGradient"
	n, err := model.CheckData(op, m, X, Y)
	if err != nil {
		return nil, nil, err
	}
	e, err := m.prepare(op, m.params)
	if err != nil {
		return nil, nil, err
	}
	xd, yd := model.AsDense(X), model.AsDense(Y)
	dX = mat.NewDense(n, m.dimIn, nil)
	dY = mat.NewDense(n, m.dimOut, nil)
	err = m.forRows(n, func(i int, sc *mcgsmScratch) {
		x := xd.RawRowView(i)
		e.row(x, yd.RawRowView(i), sc)
		normalize(sc.logPrior)
		normalize(sc.logJoint)
		e.dataGradient(x, sc, dX.RawRowView(i), dY.RawRowView(i))
	})
	if err != nil {
		return nil, nil, err
	}
	if err := errors.CheckMatrix(op, dX, n, m.dimIn, -1); err != nil {
		return nil, nil, err
	}
	if err := errors.CheckMatrix(op, dY, n, m.dimOut, -1); err != nil {
		return nil, nil, err
	}
	return dX, dY, nil
}

// forRows evaluates fn on every row in parallel chunks, each chunk with its
// own scratch space.
func (m *MCGSM) forRows(n int, fn func(i int, sc *mcgsmScratch)) error {
	return parallel.ParallelizeChunks(n, parallel.DefaultChunkSize, func(_, start, end int) error {
		sc := m.newScratch()
		for i := start; i < end; i++ {
			fn(i, sc)
		}
		return nil
	})
}

// LogLikelihood returns log p(y|x) in nats for every row.
func (m *MCGSM) LogLikelihood(X, Y mat.Matrix) (*mat.VecDense, error) {
	const op = "MCGSM.LogLikelihood"
	n, err := model.CheckData(op, m, X, Y)
	if err != nil {
		return nil, err
	}
	e, err := m.prepare(op, m.params)
	if err != nil {
		return nil, err
	}
	xd, yd := model.AsDense(X), model.AsDense(Y)
	out := make([]float64, n)
	err = m.forRows(n, func(i int, sc *mcgsmScratch) {
		e.row(xd.RawRowView(i), yd.RawRowView(i), sc)
		out[i] = floats.LogSumExp(sc.logJoint) - floats.LogSumExp(sc.logPrior)
	})
	if err != nil {
		return nil, err
	}
	if err := errors.CheckNumericalStability(op, out, -1); err != nil {
		return nil, err
	}
	return mat.NewVecDense(n, out), nil
}

// Posterior returns p(c, s | x, y) for every row; column c·S+s holds the
// pair (c, s).
func (m *MCGSM) Posterior(X, Y mat.Matrix) (*mat.Dense, error) {
	const op = "MCGSM.Posterior"
	n, err := model.CheckData(op, m, X, Y)
	if err != nil {
		return nil, err
	}
	e, err := m.prepare(op, m.params)
	if err != nil {
		return nil, err
	}
	xd, yd := model.AsDense(X), model.AsDense(Y)
	out := mat.NewDense(n, m.numComponents*m.numScales, nil)
	err = m.forRows(n, func(i int, sc *mcgsmScratch) {
		e.row(xd.RawRowView(i), yd.RawRowView(i), sc)
		normalize(sc.logJoint)
		out.SetRow(i, sc.logJoint)
	})
	if err != nil {
		return nil, err
	}
	if err := errors.CheckMatrix(op, out, n, m.numComponents*m.numScales, -1); err != nil {
		return nil, err
	}
	return out, nil
}

// PriorDistribution returns the gate p(c, s | x) for every row, laid out
// like Posterior.
func (m *MCGSM) PriorDistribution(X mat.Matrix) (*mat.Dense, error) {
	const op = "MCGSM.PriorDistribution"
	n, err := model.CheckInputs(op, m.dimIn, X)
	if err != nil {
		return nil, err
	}
	e, err := m.prepare(op, m.params)
	if err != nil {
		return nil, err
	}
	xd := model.AsDense(X)
	out := mat.NewDense(n, m.numComponents*m.numScales, nil)
	err = m.forRows(n, func(i int, sc *mcgsmScratch) {
		e.row(xd.RawRowView(i), nil, sc)
		normalize(sc.logPrior)
		out.SetRow(i, sc.logPrior)
	})
	if err != nil {
		return nil, err
	}
	if err := errors.CheckMatrix(op, out, n, m.numComponents*m.numScales, -1); err != nil {
		return nil, err
	}
	return out, nil
}

// gaussian draws y ~ N(A_c x, (e^{α_cs} L_c L_cᵀ)⁻¹).
func (e *mcgsmEval) gaussian(c, idx int, x, y []float64) {
	m, p := e.m, e.p
	noise := make([]float64, m.dimOut)
	for k := range noise {
		noise[k] = m.cfg.rng.NormFloat64()
	}
	v := solveLowerT(p.cholesky[c], noise)
	scale := 1 / math.Sqrt(e.q[idx])
	A := p.predictors[c]
	for k := range y {
		y[k] = floats.Dot(A.RawRowView(k), x) + scale*v[k]
	}
}

// Sample draws one output per input row: a pair (c, s) from the gate, then
// y from the matching Gaussian.
func (m *MCGSM) Sample(X mat.Matrix) (*mat.Dense, error) {
	const op = "MCGSM.Sample"
	n, err := model.CheckInputs(op, m.dimIn, X)
	if err != nil {
		return nil, err
	}
	e, err := m.prepare(op, m.params)
	if err != nil {
		return nil, err
	}
	xd := model.AsDense(X)
	out := mat.NewDense(n, m.dimOut, nil)
	sc := m.newScratch()
	for i := 0; i < n; i++ {
		x := xd.RawRowView(i)
		e.row(x, nil, sc)
		normalize(sc.logPrior)
		idx := draw(m.cfg.rng, sc.logPrior)
		e.gaussian(idx/m.numScales, idx, x, out.RawRowView(i))
	}
	if err := errors.CheckMatrix(op, out, n, m.dimOut, -1); err != nil {
		return nil, err
	}
	return out, nil
}

// PosteriorSample is the result of SamplePosterior.
type PosteriorSample struct {
	Components []int
	Scales     []int
	Y          *mat.Dense
}

// SamplePosterior draws a pair (c, s) from p(c, s | x, y) for every row and
// then a new output from the Gaussian of that pair.
func (m *MCGSM) SamplePosterior(X, Y mat.Matrix) (*PosteriorSample, error) {
	const op = "MCGSM.SamplePosterior"
	n, err := model.CheckData(op, m, X, Y)
	if err != nil {
		return nil, err
	}
	e, err := m.prepare(op, m.params)
	if err != nil {
		return nil, err
	}
	xd, yd := model.AsDense(X), model.AsDense(Y)
	res := &PosteriorSample{
		Components: make([]int, n),
		Scales:     make([]int, n),
		Y:          mat.NewDense(n, m.dimOut, nil),
	}
	sc := m.newScratch()
	for i := 0; i < n; i++ {
		x := xd.RawRowView(i)
		e.row(x, yd.RawRowView(i), sc)
		normalize(sc.logJoint)
		if err := errors.CheckNumericalStability(op, sc.logJoint, -1); err != nil {
			return nil, err
		}
		idx := draw(m.cfg.rng, sc.logJoint)
		res.Components[i], res.Scales[i] = idx/m.numScales, idx%m.numScales
		e.gaussian(res.Components[i], idx, x, res.Y.RawRowView(i))
	}
	return res, nil
}
