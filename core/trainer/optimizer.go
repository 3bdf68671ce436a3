// Package trainer fits model.Trainable implementations by maximum
// likelihood.
//
// The optimizer wraps gonum's L-BFGS with a Wolfe line search and adds
// what the models need on top of it: data-parallel objective evaluation,
// stochastic mini-batches, validation-based early stopping, callbacks and
// gradient diagnostics.
//
//	ok, err := trainer.Train(m, X, Y, trainer.DefaultConfig(),
//	    trainer.WithRand(rng), trainer.WithLogger(logger))
package trainer

import (
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/YuminosukeSato/gocmt/core/model"
	"github.com/YuminosukeSato/gocmt/core/parallel"
	"github.com/YuminosukeSato/gocmt/pkg/errors"
	"github.com/YuminosukeSato/gocmt/pkg/log"
)

const (
	// DefaultHistory is the number of correction pairs kept by L-BFGS.
	DefaultHistory = 20

	// DefaultGradientStep is the central difference step used for NumGrad.
	DefaultGradientStep = 1e-5
)

var (
	errIterationLimit = errors.New("iteration limit reached")
	errValidationStop = errors.New("validation score stopped improving")
	errBatchDone      = errors.New("batch step done")
)

// Optimizer drives a model.Trainable to a (local) maximum of the
// log-likelihood.
type Optimizer struct {
	model     model.Trainable
	cfg       Config
	logger    log.Logger
	rng       *rand.Rand
	history   int
	chunkSize int
	fdStep    float64
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithLogger sets the logger. Defaults to log.GetLogger().
func WithLogger(logger log.Logger) Option {
	return func(o *Optimizer) {
		o.logger = logger
	}
}

// WithRand sets the generator used to shuffle mini-batches.
func WithRand(rng *rand.Rand) Option {
	return func(o *Optimizer) {
		o.rng = rng
	}
}

// WithSeed seeds a fresh generator for mini-batch shuffling.
func WithSeed(seed uint64) Option {
	return func(o *Optimizer) {
		o.rng = rand.New(rand.NewPCG(seed, seed))
	}
}

// WithHistory sets the L-BFGS memory.
func WithHistory(m int) Option {
	return func(o *Optimizer) {
		o.history = m
	}
}

// WithChunkSize sets the number of samples evaluated per worker task.
// Results are identical for any chunk size up to rounding.
func WithChunkSize(n int) Option {
	return func(o *Optimizer) {
		o.chunkSize = n
	}
}

// WithGradientStep sets the finite difference step used when NumGrad is on.
func WithGradientStep(h float64) Option {
	return func(o *Optimizer) {
		o.fdStep = h
	}
}

// New creates an optimizer for m. The configuration is validated up front.
func New(m model.Trainable, cfg Config, opts ...Option) (*Optimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &Optimizer{
		model:     m,
		cfg:       cfg,
		history:   DefaultHistory,
		chunkSize: parallel.DefaultChunkSize,
		fdStep:    DefaultGradientStep,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = log.GetLogger()
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewPCG(0, 0))
	}
	if o.history <= 0 {
		return nil, errors.NewValidationError("history", "must be positive", o.history)
	}
	if o.fdStep <= 0 {
		return nil, errors.NewValidationError("gradientStep", "must be positive", o.fdStep)
	}
	o.logger = o.logger.With(log.ComponentKey, "trainer", log.ModelNameKey, model.NameOf(m))
	return o, nil
}

// Train fits the model to (X, Y). See TrainWithValidation.
func Train(m model.Trainable, X, Y mat.Matrix, cfg Config, opts ...Option) (bool, error) {
	o, err := New(m, cfg, opts...)
	if err != nil {
		return false, err
	}
	return o.Train(X, Y)
}

// TrainWithValidation fits the model to (X, Y) with early stopping on
// (Xval, Yval).
func TrainWithValidation(m model.Trainable, X, Y, Xval, Yval mat.Matrix, cfg Config, opts ...Option) (bool, error) {
	o, err := New(m, cfg, opts...)
	if err != nil {
		return false, err
	}
	return o.TrainWithValidation(X, Y, Xval, Yval)
}

// Train fits the model to (X, Y) without validation data.
func (o *Optimizer) Train(X, Y mat.Matrix) (bool, error) {
	return o.TrainWithValidation(X, Y, nil, nil)
}

// TrainWithValidation runs the optimizer and leaves the model at the best
// parameters found. It returns true when the relative change of the
// objective fell below Threshold (or no step along the gradient decreases
// it any more), false when training ended because of MaxIter or early
// stopping.
//
// If the model is numerically unstable at its current parameters, the error
// is returned and the model is left unchanged.
func (o *Optimizer) TrainWithValidation(X, Y, Xval, Yval mat.Matrix) (bool, error) {
	n, err := model.CheckData("Train", o.model, X, Y)
	if err != nil {
		return false, err
	}
	xd, yd := model.AsDense(X), model.AsDense(Y)

	s := &state{
		opt:        o,
		logger:     o.logger,
		theta:      o.model.Parameters(),
		validation: math.NaN(),
		lastCheck:  -1,
		start:      time.Now(),
	}
	s.train = newObjective(o.model, xd, yd, o.chunkSize, o.cfg.NumGrad, o.fdStep)

	if Xval != nil || Yval != nil {
		if _, err := model.CheckData("TrainWithValidation", o.model, Xval, Yval); err != nil {
			return false, err
		}
		s.val = newObjective(o.model, model.AsDense(Xval), model.AsDense(Yval), o.chunkSize, false, o.fdStep)
		s.stopper = newEarlyStopping(o.cfg.ValLookAhead)
	}

	f0, err := s.train.value(s.theta)
	if err != nil {
		return false, errors.Wrap(err, "objective at starting point")
	}
	s.objective = f0

	if o.cfg.Verbosity >= 1 {
		s.logger.Info("training started",
			log.OperationKey, log.OperationTrain,
			log.SamplesKey, n,
			log.ParametersKey, len(s.theta),
			log.BatchSizeKey, o.cfg.BatchSize,
			log.LossKey, f0,
		)
	}

	if s.val != nil {
		s.checkValidation()
	}

	var converged bool
	if o.cfg.BatchSize > 0 && o.cfg.BatchSize < n {
		converged, err = s.runStochastic(xd, yd)
	} else {
		converged, err = s.runFullBatch()
	}
	if err != nil {
		return false, err
	}

	final := s.theta
	if s.val != nil {
		if s.lastCheck != s.iteration {
			s.checkValidation()
		}
		if best := s.stopper.best(); best != nil {
			final = best
		}
	}
	if err := o.model.SetParameters(final); err != nil {
		return false, err
	}

	if o.cfg.Verbosity >= 1 {
		fields := []any{
			log.OperationKey, log.OperationTrain,
			log.IterationKey, s.iteration,
			log.LossKey, s.objective,
			log.StatusKey, s.status,
			log.DurationMsKey, time.Since(s.start).Milliseconds(),
		}
		if s.val != nil {
			fields = append(fields, log.ValidationKey, s.stopper.bestScore)
		}
		s.logger.Info("training finished", fields...)
	}
	return converged, nil
}

// state is owned by a single training call.
type state struct {
	opt    *Optimizer
	logger log.Logger

	train *objective
	val   *objective

	theta     []float64
	objective float64
	iteration int
	epoch     int
	status    string

	validation float64
	lastCheck  int
	stopper    *earlyStopping

	// fatal is an error raised by a callback.
	fatal error
	start time.Time
}

// method returns a fresh L-BFGS. Bisection enforces the strong Wolfe
// conditions, which keep the curvature pairs positive, and treats +Inf trial
// values as an upper bound on the step.
func (s *state) method() *optimize.LBFGS {
	return &optimize.LBFGS{
		Linesearcher: &optimize.Bisection{},
		Store:        s.opt.history,
	}
}

// linesearchFailed reports whether Minimize ended because no acceptable step
// was found along the current search direction.
func linesearchFailed(err error) bool {
	return errors.Is(err, optimize.ErrLinesearcherFailure) ||
		errors.Is(err, optimize.ErrNoProgress) ||
		errors.Is(err, optimize.ErrNonDescentDirection) ||
		errors.Is(err, optimize.ErrLinesearcherBound)
}

// runFullBatch runs L-BFGS over all samples. A failed line search restarts
// the optimizer from the last accepted parameters with an empty history;
// training only ends there when not even the first (gradient) step of a
// fresh run makes progress.
func (s *state) runFullBatch() (bool, error) {
	if s.opt.cfg.MaxIter == 0 {
		return s.iterationLimit(), nil
	}
	for restarts := 0; ; restarts++ {
		rec := &recorder{s: s, obj: s.train, start: append([]float64(nil), s.theta...)}
		settings := &optimize.Settings{
			Converger: &optimize.FunctionConverge{
				Relative:   s.opt.cfg.Threshold,
				Iterations: 1,
			},
			Recorder: rec,
		}

		result, err := optimize.Minimize(s.train.problem(), rec.start, settings, s.method())
		if linesearchFailed(err) && s.fatal == nil && s.train.fatal == nil {
			if rec.steps > 0 {
				if s.opt.cfg.Verbosity >= 2 {
					s.logger.Debug("restarting optimizer", err,
						log.IterationKey, s.iteration,
						"restarts", restarts+1,
					)
				}
				continue
			}
			// 勾配方向にも進めない: 数値精度の範囲で停留点
			s.status = "NoProgress"
			if s.opt.cfg.Verbosity >= 1 {
				s.logger.Info("no further decrease along the gradient", log.IterationKey, s.iteration)
			}
			return true, nil
		}
		if stop, done, ferr := s.classify(err, s.train); done {
			return stop, ferr
		}
		return s.finishFullBatch(result)
	}
}

func (s *state) finishFullBatch(result *optimize.Result) (bool, error) {
	// the recorder is not called for the iterate that terminates the run
	if !floats.Equal(result.X, s.theta) && !math.IsInf(result.F, 0) && !math.IsNaN(result.F) {
		copy(s.theta, result.X)
		s.objective = result.F
		s.iteration++
	}

	switch result.Status {
	case optimize.GradientThreshold, optimize.FunctionConvergence, optimize.Success,
		optimize.MethodConverge, optimize.StepConvergence, optimize.FunctionThreshold:
		s.status = result.Status.String()
		return true, nil
	case optimize.IterationLimit:
		return s.iterationLimit(), nil
	default:
		s.status = result.Status.String()
		return false, nil
	}
}

// runStochastic runs one L-BFGS step per mini-batch. Samples are reshuffled
// every epoch; training converges when the mean batch objective of two
// consecutive epochs changes by less than Threshold (relative).
//
// Every batch starts from an empty L-BFGS history, so a batch step is a
// line search along the batch gradient. Curvature pairs from different
// batches belong to different objectives. A batch whose line search fails
// leaves the parameters unchanged and still counts as an iteration.
func (s *state) runStochastic(X, Y *mat.Dense) (bool, error) {
	cfg := s.opt.cfg
	n, _ := X.Dims()
	if cfg.MaxIter == 0 {
		return s.iterationLimit(), nil
	}

	prevMean := math.NaN()
	for {
		perm := s.opt.rng.Perm(n)
		epochSum, batches := 0.0, 0

		for start := 0; start < n; start += cfg.BatchSize {
			end := min(start+cfg.BatchSize, n)
			xb, yb := gatherRows(X, perm[start:end]), gatherRows(Y, perm[start:end])
			obj := newObjective(s.opt.model, xb, yb, s.opt.chunkSize, cfg.NumGrad, s.opt.fdStep)

			fb, err := obj.value(s.theta)
			if err != nil {
				if !errors.IsNumericalInstability(err) {
					return false, err
				}
				s.logger.Warn("batch objective is not finite, stopping", err, log.IterationKey, s.iteration)
				s.status = "NumericalInstability"
				return false, nil
			}

			rec := &recorder{s: s, obj: obj, start: append([]float64(nil), s.theta...), limit: 1}
			_, err = optimize.Minimize(obj.problem(), rec.start, &optimize.Settings{Recorder: rec}, s.method())
			if !errors.Is(err, errBatchDone) && !(linesearchFailed(err) && s.fatal == nil && obj.fatal == nil) {
				if stop, done, ferr := s.classify(err, obj); done {
					return stop, ferr
				}
			}
			if rec.steps == 0 {
				// converged or no acceptable step at the batch's starting point
				if err := s.accept(s.theta, fb); err != nil {
					if stop, done, ferr := s.classify(err, obj); done {
						return stop, ferr
					}
				}
			}
			epochSum += s.objective
			batches++
		}
		s.epoch++

		mean := epochSum / float64(batches)
		if cfg.Verbosity >= 2 {
			s.logger.Debug("epoch finished", log.EpochKey, s.epoch, log.LossKey, mean)
		}
		if !math.IsNaN(prevMean) && math.Abs(prevMean-mean) <= cfg.Threshold*math.Max(math.Abs(prevMean), math.Abs(mean)) {
			s.status = "EpochConvergence"
			return true, nil
		}
		prevMean = mean
	}
}

// classify maps the error returned by Minimize to the outcome of training.
// done is false only when err is nil.
func (s *state) classify(err error, obj *objective) (converged, done bool, fatal error) {
	switch {
	case err == nil:
		return false, false, nil
	case s.fatal != nil:
		return false, true, s.fatal
	case obj.fatal != nil:
		return false, true, obj.fatal
	case errors.Is(err, errIterationLimit):
		return s.iterationLimit(), true, nil
	case errors.Is(err, errValidationStop):
		s.status = "EarlyStopping"
		if s.opt.cfg.Verbosity >= 1 {
			s.logger.Info("validation score stopped improving",
				log.IterationKey, s.iteration,
				log.ValidationKey, s.stopper.bestScore,
				"best_iteration", s.stopper.bestIteration,
			)
		}
		return false, true, nil
	case errors.Is(err, ErrStopTraining):
		s.status = "Callback"
		return false, true, nil
	default:
		return false, true, errors.Wrap(err, "optimizer")
	}
}

func (s *state) iterationLimit() bool {
	s.status = "IterationLimit"
	errors.Warn(errors.NewConvergenceWarning("L-BFGS", s.iteration, ""))
	return false
}

// accept adopts an iterate after a completed optimizer step and runs the
// periodic validation and callback hooks.
func (s *state) accept(x []float64, f float64) error {
	cfg := s.opt.cfg
	s.iteration++
	copy(s.theta, x)
	s.objective = f

	if cfg.Verbosity >= 2 {
		s.logger.Debug("iteration", log.IterationKey, s.iteration, log.LossKey, f)
	}

	stop := false
	if s.val != nil && s.iteration%cfg.ValIter == 0 {
		stop = s.checkValidation()
	}

	if cfg.Callback != nil && s.iteration%cfg.CbIter == 0 {
		info := IterationInfo{
			Iteration:           s.iteration,
			Epoch:               s.epoch,
			Objective:           f,
			Validation:          s.validation,
			ValidationIteration: s.lastCheck,
			Parameters:          append([]float64(nil), s.theta...),
		}
		if err := cfg.Callback.OnIteration(info); err != nil {
			if errors.Is(err, ErrStopTraining) {
				return err
			}
			s.fatal = errors.Wrap(err, "callback")
			return s.fatal
		}
	}

	if stop {
		return errValidationStop
	}
	if s.iteration >= cfg.MaxIter {
		return errIterationLimit
	}
	return nil
}

// checkValidation evaluates the validation score at the current parameters
// and reports whether early stopping triggers.
func (s *state) checkValidation() bool {
	f, err := s.val.value(s.theta)
	score := -f
	if err != nil {
		score = math.Inf(-1)
		s.logger.Warn("validation objective is not finite", err, log.IterationKey, s.iteration)
	}
	s.validation = score
	s.lastCheck = s.iteration

	stop := s.stopper.update(s.iteration, score, s.theta)
	if s.opt.cfg.Verbosity >= 2 {
		s.logger.Debug("validation",
			log.PhaseKey, log.PhaseValidation,
			log.IterationKey, s.iteration,
			log.ValidationKey, score,
		)
	}
	return stop
}

// recorder observes gonum's operations and hands every completed major
// iteration to the training state.
type recorder struct {
	s     *state
	obj   *objective
	start []float64
	limit int

	seenStart bool
	steps     int
}

func (r *recorder) Init() error { return nil }

func (r *recorder) Record(loc *optimize.Location, op optimize.Operation, _ *optimize.Stats) error {
	if r.obj.fatal != nil {
		return r.obj.fatal
	}
	if op != optimize.MajorIteration {
		return nil
	}
	// 初期点も MajorIteration として通知される
	if !r.seenStart {
		r.seenStart = true
		if floats.Equal(loc.X, r.start) {
			return nil
		}
	}
	r.steps++
	if err := r.s.accept(loc.X, loc.F); err != nil {
		return err
	}
	if r.limit > 0 && r.steps >= r.limit {
		return errBatchDone
	}
	return nil
}

func gatherRows(m *mat.Dense, rows []int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(len(rows), c, nil)
	for i, r := range rows {
		out.SetRow(i, m.RawRowView(r))
	}
	return out
}
