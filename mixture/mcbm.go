package mixture

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gocmt/core/model"
	"github.com/YuminosukeSato/gocmt/core/parallel"
	"github.com/YuminosukeSato/gocmt/core/trainer"
	"github.com/YuminosukeSato/gocmt/pkg/errors"
	"github.com/YuminosukeSato/gocmt/pkg/log"
)

// MCBM is a mixture of conditional Boltzmann machines for binary outputs.
// Given component c the outputs are independent Bernoulli variables,
//
//	p(y|x,c) = Π_k σ(a_ckᵀx + v_ck)^y_k (1 − σ(a_ckᵀx + v_ck))^(1−y_k)
//
// and the gate is log p(c|x) ∝ η_c + Σ_i β_ci (b_iᵀx)² + w_cᵀx.
type MCBM struct {
	dimIn         int
	dimOut        int
	numComponents int
	numFeatures   int

	params *mcbmParams
	cfg    settings
}

type mcbmParams struct {
	priors     []float64    // C
	weights    *mat.Dense   // C×F
	features   *mat.Dense   // dimIn×F
	predictors []*mat.Dense // C of dimOut×dimIn
	inputBias  *mat.Dense   // dimIn×C
	outputBias *mat.Dense   // C×dimOut
}

// NewMCBM creates an MCBM with small random parameters.
func NewMCBM(dimIn, dimOut int, opts ...Option) (*MCBM, error) {
	cfg := newSettings(opts)
	if cfg.features < 0 {
		cfg.features = dimIn
	}
	if err := validateHyper(dimIn, dimOut, cfg.components, cfg.features); err != nil {
		return nil, err
	}
	m := &MCBM{
		dimIn:         dimIn,
		dimOut:        dimOut,
		numComponents: cfg.components,
		numFeatures:   cfg.features,
		cfg:           cfg,
	}
	m.params = m.randomParams()
	return m, nil
}

// Name returns "MCBM".
func (m *MCBM) Name() string { return "MCBM" }

// DimIn returns the input dimensionality.
func (m *MCBM) DimIn() int { return m.dimIn }

// DimOut returns the output dimensionality.
func (m *MCBM) DimOut() int { return m.dimOut }

// NumComponents returns C.
func (m *MCBM) NumComponents() int { return m.numComponents }

// NumFeatures returns F.
func (m *MCBM) NumFeatures() int { return m.numFeatures }

func (m *MCBM) randomParams() *mcbmParams {
	C, F := m.numComponents, m.numFeatures
	rng := m.cfg.rng
	p := &mcbmParams{
		priors:     make([]float64, C),
		weights:    randNormal(rng, C, F, 0.01),
		features:   randNormal(rng, m.dimIn, F, 1/math.Sqrt(float64(m.dimIn))),
		inputBias:  randNormal(rng, m.dimIn, C, 0.01),
		outputBias: mat.NewDense(C, m.dimOut, nil),
	}
	for c := 0; c < C; c++ {
		p.predictors = append(p.predictors, randNormal(rng, m.dimOut, m.dimIn, 0.01))
	}
	return p
}

func (m *MCBM) zeroParams() *mcbmParams {
	C, F := m.numComponents, m.numFeatures
	p := &mcbmParams{
		priors:     make([]float64, C),
		weights:    mat.NewDense(C, F, nil),
		features:   mat.NewDense(m.dimIn, F, nil),
		inputBias:  mat.NewDense(m.dimIn, C, nil),
		outputBias: mat.NewDense(C, m.dimOut, nil),
	}
	for c := 0; c < C; c++ {
		p.predictors = append(p.predictors, mat.NewDense(m.dimOut, m.dimIn, nil))
	}
	return p
}

// NumParameters returns C + CF + dimIn·F + C·dimOut·dimIn + dimIn·C + C·dimOut.
func (m *MCBM) NumParameters() int {
	C, F := m.numComponents, m.numFeatures
	return C + C*F + m.dimIn*F + C*m.dimOut*m.dimIn + m.dimIn*C + C*m.dimOut
}

func (p *mcbmParams) pack(dst []float64) {
	pk := model.NewPacker(dst)
	pk.Floats(p.priors)
	pk.Dense(p.weights)
	pk.Dense(p.features)
	for _, A := range p.predictors {
		pk.Dense(A)
	}
	pk.Dense(p.inputBias)
	pk.Dense(p.outputBias)
}

// Parameters returns priors, weights, features, predictors, input biases
// and output biases, each matrix row-major.
func (m *MCBM) Parameters() []float64 {
	theta := make([]float64, m.NumParameters())
	m.params.pack(theta)
	return theta
}

func (m *MCBM) unpack(theta []float64) (*mcbmParams, error) {
	u, err := model.NewUnpacker(m.Name(), theta, m.NumParameters())
	if err != nil {
		return nil, err
	}
	C, F := m.numComponents, m.numFeatures
	p := &mcbmParams{
		priors:   u.Floats(C),
		weights:  u.Dense(C, F),
		features: u.Dense(m.dimIn, F),
	}
	for c := 0; c < C; c++ {
		p.predictors = append(p.predictors, u.Dense(m.dimOut, m.dimIn))
	}
	p.inputBias = u.Dense(m.dimIn, C)
	p.outputBias = u.Dense(C, m.dimOut)
	return p, nil
}

// SetParameters replaces all parameters.
func (m *MCBM) SetParameters(theta []float64) error {
	p, err := m.unpack(theta)
	if err != nil {
		return err
	}
	m.params = p
	return nil
}

type mcbmScratch struct {
	f        []float64   // b_iᵀx
	logPrior []float64   // C
	logJoint []float64   // C
	prob     [][]float64 // σ(a_ckᵀx + v_ck)
}

func (m *MCBM) newScratch() *mcbmScratch {
	s := &mcbmScratch{
		f:        make([]float64, m.numFeatures),
		logPrior: make([]float64, m.numComponents),
		logJoint: make([]float64, m.numComponents),
	}
	for c := 0; c < m.numComponents; c++ {
		s.prob = append(s.prob, make([]float64, m.dimOut))
	}
	return s
}

// row fills the gate log-weights and, when y is not nil, the joint
// log-probabilities and the Bernoulli means of every component.
func (m *MCBM) row(p *mcbmParams, x, y []float64, sc *mcbmScratch) {
	for i := range sc.f {
		sc.f[i] = 0
	}
	for j, xj := range x {
		floats.AddScaled(sc.f, xj, p.features.RawRowView(j))
	}
	for c := 0; c < m.numComponents; c++ {
		w := p.weights.RawRowView(c)
		lp := p.priors[c]
		for i, fi := range sc.f {
			lp += w[i] * fi * fi
		}
		for j, xj := range x {
			lp += p.inputBias.At(j, c) * xj
		}
		sc.logPrior[c] = lp

		if y == nil {
			continue
		}
		A := p.predictors[c]
		v := p.outputBias.RawRowView(c)
		lj := lp
		for k := 0; k < m.dimOut; k++ {
			t := floats.Dot(A.RawRowView(k), x) + v[k]
			sc.prob[c][k] = sigmoid(t)
			lj += y[k]*logSigmoid(t) + (1-y[k])*logSigmoid(-t)
		}
		sc.logJoint[c] = lj
	}
}

// accumulate adds the gradient of −log p(y|x) given the normalized gate
// and posterior in sc.
func (m *MCBM) accumulate(p, g *mcbmParams, x, y []float64, sc *mcbmScratch, featCoef []float64) {
	for i := range featCoef {
		featCoef[i] = 0
	}
	for c := 0; c < m.numComponents; c++ {
		prior, post := sc.logPrior[c], sc.logJoint[c]
		gc := prior - post
		g.priors[c] += gc

		beta := p.weights.RawRowView(c)
		gBeta := g.weights.RawRowView(c)
		for i, fi := range sc.f {
			gBeta[i] += gc * fi * fi
			featCoef[i] += 2 * gc * beta[i]
		}
		for j, xj := range x {
			g.inputBias.Set(j, c, g.inputBias.At(j, c)+gc*xj)
		}

		gA := g.predictors[c]
		gv := g.outputBias.RawRowView(c)
		for k := 0; k < m.dimOut; k++ {
			r := -post * (y[k] - sc.prob[c][k])
			gv[k] += r
			floats.AddScaled(gA.RawRowView(k), r, x)
		}
	}
	for j, xj := range x {
		row := g.features.RawRowView(j)
		for i, fi := range sc.f {
			row[i] += xj * fi * featCoef[i]
		}
	}
}

// checkBinary rejects outputs that are not 0 or 1.
func checkBinary(op string, Y mat.Matrix) error {
	r, c := Y.Dims()
	for i := 0; i < r; i++ {
		for k := 0; k < c; k++ {
			if v := Y.At(i, k); v != 0 && v != 1 {
				return errors.NewValidationError(op+".Y", "outputs must be 0 or 1", v)
			}
		}
	}
	return nil
}

func (m *MCBM) checkData(op string, X, Y mat.Matrix) (int, error) {
	n, err := model.CheckData(op, m, X, Y)
	if err != nil {
		return 0, err
	}
	if err := checkBinary(op, Y); err != nil {
		return 0, err
	}
	return n, nil
}

// ParameterGradient returns the summed negative log-likelihood of the rows
// under theta and adds its gradient into grad when grad is non-nil.
func (m *MCBM) ParameterGradient(theta []float64, X, Y *mat.Dense, grad []float64) (float64, error) {
	const op = "MCBM.ParameterGradient"
	p, err := m.unpack(theta)
	if err != nil {
		return 0, err
	}
	if grad != nil && len(grad) != len(theta) {
		return 0, errors.NewParameterLengthError(m.Name(), len(theta), len(grad))
	}
	n, err := m.checkData(op, X, Y)
	if err != nil {
		return 0, err
	}

	var g *mcbmParams
	if grad != nil {
		g = m.zeroParams()
	}
	sc := m.newScratch()
	featCoef := make([]float64, m.numFeatures)
	nll := 0.0
	for i := 0; i < n; i++ {
		x, y := X.RawRowView(i), Y.RawRowView(i)
		m.row(p, x, y, sc)
		nll += normalize(sc.logPrior) - normalize(sc.logJoint)
		if g != nil {
			m.accumulate(p, g, x, y, sc, featCoef)
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

func (m *MCBM) forRows(n int, fn func(i int, sc *mcbmScratch)) error {
	return parallel.ParallelizeChunks(n, parallel.DefaultChunkSize, func(_, start, end int) error {
		sc := m.newScratch()
		for i := start; i < end; i++ {
			fn(i, sc)
		}
		return nil
	})
}

// LogLikelihood returns log p(y|x) in nats for every row.
func (m *MCBM) LogLikelihood(X, Y mat.Matrix) (*mat.VecDense, error) {
	const op = "MCBM.LogLikelihood"
	n, err := m.checkData(op, X, Y)
	if err != nil {
		return nil, err
	}
	xd, yd := model.AsDense(X), model.AsDense(Y)
	p := m.params
	out := make([]float64, n)
	err = m.forRows(n, func(i int, sc *mcbmScratch) {
		m.row(p, xd.RawRowView(i), yd.RawRowView(i), sc)
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

// Posterior returns p(c | x, y) for every row (N×C).
func (m *MCBM) Posterior(X, Y mat.Matrix) (*mat.Dense, error) {
	const op = "MCBM.Posterior"
	n, err := m.checkData(op, X, Y)
	if err != nil {
		return nil, err
	}
	xd, yd := model.AsDense(X), model.AsDense(Y)
	p := m.params
	out := mat.NewDense(n, m.numComponents, nil)
	err = m.forRows(n, func(i int, sc *mcbmScratch) {
		m.row(p, xd.RawRowView(i), yd.RawRowView(i), sc)
		normalize(sc.logJoint)
		out.SetRow(i, sc.logJoint)
	})
	if err != nil {
		return nil, err
	}
	if err := errors.CheckMatrix(op, out, n, m.numComponents, -1); err != nil {
		return nil, err
	}
	return out, nil
}

// PriorDistribution returns the gate p(c | x) for every row (N×C).
func (m *MCBM) PriorDistribution(X mat.Matrix) (*mat.Dense, error) {
	const op = "MCBM.PriorDistribution"
	n, err := model.CheckInputs(op, m.dimIn, X)
	if err != nil {
		return nil, err
	}
	xd := model.AsDense(X)
	p := m.params
	out := mat.NewDense(n, m.numComponents, nil)
	err = m.forRows(n, func(i int, sc *mcbmScratch) {
		m.row(p, xd.RawRowView(i), nil, sc)
		normalize(sc.logPrior)
		out.SetRow(i, sc.logPrior)
	})
	if err != nil {
		return nil, err
	}
	if err := errors.CheckMatrix(op, out, n, m.numComponents, -1); err != nil {
		return nil, err
	}
	return out, nil
}

// Sample draws a component from the gate and then binary outputs from it.
func (m *MCBM) Sample(X mat.Matrix) (*mat.Dense, error) {
	const op = "MCBM.Sample"
	n, err := model.CheckInputs(op, m.dimIn, X)
	if err != nil {
		return nil, err
	}
	xd := model.AsDense(X)
	p := m.params
	rng := m.cfg.rng
	out := mat.NewDense(n, m.dimOut, nil)
	sc := m.newScratch()
	for i := 0; i < n; i++ {
		x := xd.RawRowView(i)
		m.row(p, x, nil, sc)
		normalize(sc.logPrior)
		if err := errors.CheckNumericalStability(op, sc.logPrior, -1); err != nil {
			return nil, err
		}
		c := draw(rng, sc.logPrior)
		A := p.predictors[c]
		v := p.outputBias.RawRowView(c)
		for k := 0; k < m.dimOut; k++ {
			if rng.Float64() < sigmoid(floats.Dot(A.RawRowView(k), x)+v[k]) {
				out.Set(i, k, 1)
			}
		}
	}
	return out, nil
}

// Initialize clusters the inputs with mini-batch k-means. Priors follow the
// cluster sizes, the input biases make the gate prefer the nearest
// centroid and the output biases match the mean output of each cluster.
func (m *MCBM) Initialize(X, Y mat.Matrix) error {
	const op = "MCBM.Initialize"
	n, err := m.checkData(op, X, Y)
	if err != nil {
		return err
	}
	km := NewMiniBatchKMeans(m.numComponents, m.cfg.rng, WithKMeansLogger(m.cfg.logger))
	if err := km.Fit(X); err != nil {
		return errors.Wrap(err, op)
	}
	labels := km.Labels()
	centers := km.ClusterCenters()
	counts := km.Counts()

	ones := mat.NewDense(m.numComponents, m.dimOut, nil)
	for i, c := range labels {
		for k := 0; k < m.dimOut; k++ {
			ones.Set(c, k, ones.At(c, k)+Y.At(i, k))
		}
	}

	p := m.randomParams()
	for c := 0; c < m.numComponents; c++ {
		// log p(c|x) ≈ log π_c − ½‖x − μ_c‖² up to terms shared by all c
		mu := centers[c]
		p.priors[c] = math.Log(float64(counts[c]+1)/float64(n+m.numComponents)) - 0.5*floats.Dot(mu, mu)
		for j, v := range mu {
			p.inputBias.Set(j, c, v)
		}
		for k := 0; k < m.dimOut; k++ {
			mean := (ones.At(c, k) + 0.5) / (float64(counts[c]) + 1)
			p.outputBias.Set(c, k, math.Log(mean/(1-mean)))
		}
	}
	m.params = p

	m.cfg.logger.Debug("model initialized",
		log.ModelNameKey, m.Name(),
		log.OperationKey, log.OperationInitialize,
		log.SamplesKey, n,
		"cluster_sizes", counts,
	)
	return nil
}

// Priors returns a copy of η.
func (m *MCBM) Priors() []float64 { return append([]float64(nil), m.params.priors...) }

// Weights returns a copy of β (C×F).
func (m *MCBM) Weights() *mat.Dense { return mat.DenseCopyOf(m.params.weights) }

// Features returns a copy of B (dimIn×F).
func (m *MCBM) Features() *mat.Dense { return mat.DenseCopyOf(m.params.features) }

// InputBias returns a copy of W (dimIn×C).
func (m *MCBM) InputBias() *mat.Dense { return mat.DenseCopyOf(m.params.inputBias) }

// OutputBias returns a copy of v (C×dimOut).
func (m *MCBM) OutputBias() *mat.Dense { return mat.DenseCopyOf(m.params.outputBias) }

// Predictors returns copies of the predictors (dimOut×dimIn each).
func (m *MCBM) Predictors() []*mat.Dense {
	out := make([]*mat.Dense, len(m.params.predictors))
	for c, A := range m.params.predictors {
		out[c] = mat.DenseCopyOf(A)
	}
	return out
}

// SetPriors replaces η.
func (m *MCBM) SetPriors(priors []float64) error {
	if len(priors) != m.numComponents {
		return errors.NewDimensionError("MCBM.SetPriors", m.numComponents, len(priors), 0)
	}
	m.params.priors = append([]float64(nil), priors...)
	return nil
}

// SetWeights replaces β.
func (m *MCBM) SetWeights(weights mat.Matrix) error {
	if err := checkDims("MCBM.SetWeights", weights, m.numComponents, m.numFeatures); err != nil {
		return err
	}
	m.params.weights = mat.DenseCopyOf(weights)
	return nil
}

// SetFeatures replaces B.
func (m *MCBM) SetFeatures(features mat.Matrix) error {
	if err := checkDims("MCBM.SetFeatures", features, m.dimIn, m.numFeatures); err != nil {
		return err
	}
	m.params.features = mat.DenseCopyOf(features)
	return nil
}

// SetInputBias replaces W.
func (m *MCBM) SetInputBias(w mat.Matrix) error {
	if err := checkDims("MCBM.SetInputBias", w, m.dimIn, m.numComponents); err != nil {
		return err
	}
	m.params.inputBias = mat.DenseCopyOf(w)
	return nil
}

// SetOutputBias replaces v.
func (m *MCBM) SetOutputBias(v mat.Matrix) error {
	if err := checkDims("MCBM.SetOutputBias", v, m.numComponents, m.dimOut); err != nil {
		return err
	}
	m.params.outputBias = mat.DenseCopyOf(v)
	return nil
}

// SetPredictors replaces every predictor.
func (m *MCBM) SetPredictors(predictors []mat.Matrix) error {
	const op = "MCBM.SetPredictors"
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
func (m *MCBM) State() *model.State {
	return &model.State{
		Kind:   m.Name(),
		DimIn:  m.dimIn,
		DimOut: m.dimOut,
		Hyperparameters: map[string]int{
			"numComponents": m.numComponents,
			"numFeatures":   m.numFeatures,
		},
		Parameters: m.Parameters(),
	}
}

// NewMCBMFromState rebuilds a model saved with State.
func NewMCBMFromState(s *model.State, opts ...Option) (*MCBM, error) {
	if err := s.Expect("MCBM"); err != nil {
		return nil, err
	}
	c, err := s.Hyperparameter("numComponents")
	if err != nil {
		return nil, err
	}
	f, err := s.Hyperparameter("numFeatures")
	if err != nil {
		return nil, err
	}
	m, err := NewMCBM(s.DimIn, s.DimOut, append(opts, WithComponents(c), WithFeatures(f))...)
	if err != nil {
		return nil, err
	}
	if err := m.SetParameters(s.Parameters); err != nil {
		return nil, err
	}
	return m, nil
}

// Train fits the model to (X, Y).
func (m *MCBM) Train(X, Y mat.Matrix, cfg trainer.Config, opts ...trainer.Option) (bool, error) {
	return trainer.Train(m, X, Y, cfg, m.cfg.trainerOptions(opts)...)
}

// TrainWithValidation fits the model with early stopping on (Xval, Yval).
func (m *MCBM) TrainWithValidation(X, Y, Xval, Yval mat.Matrix, cfg trainer.Config, opts ...trainer.Option) (bool, error) {
	return trainer.TrainWithValidation(m, X, Y, Xval, Yval, cfg, m.cfg.trainerOptions(opts)...)
}

// CheckGradient compares the analytic gradient with central differences.
func (m *MCBM) CheckGradient(X, Y mat.Matrix, epsilon float64, cfg trainer.Config) (float64, error) {
	return trainer.CheckGradient(m, X, Y, epsilon, cfg, m.cfg.trainerOptions(nil)...)
}

// CheckPerformance times one objective and gradient evaluation.
func (m *MCBM) CheckPerformance(X, Y mat.Matrix, repetitions int, cfg trainer.Config) (time.Duration, error) {
	return trainer.CheckPerformance(m, X, Y, repetitions, cfg, m.cfg.trainerOptions(nil)...)
}

// FisherInformation returns the mean outer product of the score vectors.
func (m *MCBM) FisherInformation(X, Y mat.Matrix, cfg trainer.Config) (*mat.SymDense, error) {
	return trainer.FisherInformation(m, X, Y, cfg, m.cfg.trainerOptions(nil)...)
}
