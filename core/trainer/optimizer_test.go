package trainer

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/YuminosukeSato/gocmt/pkg/errors"
	"github.com/YuminosukeSato/gocmt/pkg/log"
)

func TestTrainLinearGaussian(t *testing.T) {
	X, Y := linearData(500, 0.1, 1)
	m := newLinearGaussian(1)

	converged, err := Train(m, X, Y, DefaultConfig())
	require.NoError(t, err)
	assert.True(t, converged)

	theta := m.Parameters()
	assert.InDelta(t, 2.0, theta[0], 0.05)
	assert.InDelta(t, 0.5, theta[1], 0.05)
}

func TestTrainRejectsBadInput(t *testing.T) {
	m := newLinearGaussian(2)
	X, Y := linearData(10, 0.1, 1)

	_, err := Train(m, X, Y, DefaultConfig())
	var dimErr *errors.DimensionError
	assert.True(t, errors.As(err, &dimErr))

	cfg := DefaultConfig()
	cfg.Threshold = -1
	_, err = Train(newLinearGaussian(1), X, Y, cfg)
	var valErr *errors.ValidationError
	assert.True(t, errors.As(err, &valErr))
}

func TestTrainUnstableStartLeavesModelUnchanged(t *testing.T) {
	X, Y := linearData(50, 0.1, 2)
	m := newLinearGaussian(1)
	require.NoError(t, m.SetParameters([]float64{0.3, -0.1}))
	m.unstable = func([]float64) bool { return true }

	converged, err := Train(m, X, Y, DefaultConfig())
	require.Error(t, err)
	assert.False(t, converged)
	assert.True(t, errors.IsNumericalInstability(err))
	assert.Equal(t, []float64{0.3, -0.1}, m.Parameters())
}

func TestTrainRejectsUnstableTrialPoints(t *testing.T) {
	X, Y := linearData(200, 0.1, 3)
	m := newLinearGaussian(1)
	// The optimum is at w = 2; overshooting steps hit the unstable region.
	m.unstable = func(theta []float64) bool { return math.Abs(theta[0]) > 2.5 }

	_, err := Train(m, X, Y, DefaultConfig())
	require.NoError(t, err)
	theta := m.Parameters()
	assert.LessOrEqual(t, math.Abs(theta[0]), 2.5)
	assert.InDelta(t, 2.0, theta[0], 0.05)
}

func TestTrainIterationLimit(t *testing.T) {
	previous := log.GetLogger()
	defer log.SetLogger(previous)
	testLogger, _ := log.NewTestLogger(log.LevelDebug)
	log.SetLogger(testLogger)

	m := newRosenbrock()
	X, Y := linearData(10, 0, 1)
	cfg := DefaultConfig()
	cfg.MaxIter = 3

	converged, err := Train(m, X, Y, cfg)
	require.NoError(t, err)
	assert.False(t, converged)
	assert.True(t, testLogger.ContainsMessage("failed to converge after 3 iterations"))
	assert.NotEqual(t, []float64{-1.2, 1}, m.Parameters())
}

func TestTrainRosenbrockConverges(t *testing.T) {
	m := newRosenbrock()
	X, Y := linearData(4, 0, 1)
	cfg := DefaultConfig()
	cfg.Threshold = 1e-14

	_, err := Train(m, X, Y, cfg)
	require.NoError(t, err)
	theta := m.Parameters()
	assert.InDelta(t, 1.0, theta[0], 1e-3)
	assert.InDelta(t, 1.0, theta[1], 1e-3)
}

func TestTrainRosenbrockWithValidation(t *testing.T) {
	m := newRosenbrock()
	X, Y := linearData(4, 0, 1)
	cfg := DefaultConfig()
	cfg.Threshold = 1e-14

	_, err := TrainWithValidation(m, X, Y, X, Y, cfg)
	require.NoError(t, err)
	theta := m.Parameters()
	assert.InDelta(t, 1.0, theta[0], 1e-3)
	assert.InDelta(t, 1.0, theta[1], 1e-3)
}

func TestTrainWithoutDescentLeavesParameters(t *testing.T) {
	X, Y := linearData(200, 0.1, 12)
	m := newLinearGaussian(1)
	require.NoError(t, m.SetParameters([]float64{0.3, -0.1}))
	// the reported gradient points uphill, so no step can be accepted
	m.gradScale = -1

	_, err := Train(m, X, Y, DefaultConfig())
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.3, -0.1}, m.Parameters(), 1e-6)
}

func TestLinesearchFailed(t *testing.T) {
	assert.True(t, linesearchFailed(optimize.ErrLinesearcherFailure))
	assert.True(t, linesearchFailed(errors.Wrap(optimize.ErrNonDescentDirection, "lbfgs")))
	assert.True(t, linesearchFailed(optimize.ErrNoProgress))
	assert.False(t, linesearchFailed(errIterationLimit))
	assert.False(t, linesearchFailed(ErrStopTraining))
	assert.False(t, linesearchFailed(nil))
}

func TestCallbackCadence(t *testing.T) {
	m := newRosenbrock()
	X, Y := linearData(4, 0, 1)

	var seen []int
	cfg := DefaultConfig()
	cfg.MaxIter = 10
	cfg.CbIter = 2
	cfg.Callback = CallbackFunc(func(info IterationInfo) error {
		seen = append(seen, info.Iteration)
		assert.Len(t, info.Parameters, 2)
		assert.False(t, info.HasValidation())
		info.Parameters[0] = 1000 // must not leak into the optimizer
		return nil
	})

	_, err := Train(m, X, Y, cfg)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 6, 8, 10}, seen)
	assert.Less(t, math.Abs(m.Parameters()[0]), 10.0)
}

func TestCallbackStopsTraining(t *testing.T) {
	m := newRosenbrock()
	X, Y := linearData(4, 0, 1)

	var atStop []float64
	cfg := DefaultConfig()
	cfg.CbIter = 1
	cfg.Callback = CallbackFunc(func(info IterationInfo) error {
		if info.Iteration == 3 {
			atStop = info.Parameters
			return ErrStopTraining
		}
		return nil
	})

	converged, err := Train(m, X, Y, cfg)
	require.NoError(t, err)
	assert.False(t, converged)
	assert.Equal(t, atStop, m.Parameters())
}

func TestCallbackErrorAbortsTraining(t *testing.T) {
	errCustom := errors.New("disk full")
	cfg := DefaultConfig()
	cfg.CbIter = 1
	cfg.Callback = CallbackFunc(func(IterationInfo) error { return errCustom })

	X, Y := linearData(4, 0, 1)
	_, err := Train(newRosenbrock(), X, Y, cfg)
	assert.True(t, errors.Is(err, errCustom))
}

func TestTrainWithValidationRestoresBest(t *testing.T) {
	X, Y := linearData(300, 1.0, 4)
	Xval, Yval := linearData(100, 1.0, 5)

	var scores []float64
	cfg := DefaultConfig()
	cfg.ValIter = 1
	cfg.CbIter = 1
	cfg.ValLookAhead = 3
	cfg.Callback = CallbackFunc(func(info IterationInfo) error {
		require.True(t, info.HasValidation())
		scores = append(scores, info.Validation)
		return nil
	})

	m := newLinearGaussian(1)
	_, err := TrainWithValidation(m, X, Y, Xval, Yval, cfg)
	require.NoError(t, err)
	require.NotEmpty(t, scores)

	best := math.Inf(-1)
	for _, s := range scores {
		best = math.Max(best, s)
	}

	// validation score of the restored parameters in bits per component
	ll, err := m.LogLikelihood(Xval, Yval)
	require.NoError(t, err)
	final := mat.Sum(ll) / (100 * math.Ln2)
	assert.GreaterOrEqual(t, final, best-1e-9)
}

func TestTrainWithValidationStopsOnPlateau(t *testing.T) {
	X, Y := plateauData(4, false)
	Xval, Yval := plateauData(2, true)
	// validation checks run at iterations 0, 5, 10, ...; the score improves
	// up to iteration 10 and stays flat afterwards
	m := newPlateau(20, 3, 2, 1, 1)

	var last int
	var atBest []float64
	cfg := DefaultConfig()
	cfg.Threshold = 1e-14
	cfg.ValIter = 5
	cfg.ValLookAhead = 3
	cfg.CbIter = 1
	cfg.Callback = CallbackFunc(func(info IterationInfo) error {
		last = info.Iteration
		if info.Iteration == 10 {
			atBest = info.Parameters
		}
		return nil
	})

	converged, err := TrainWithValidation(m, X, Y, Xval, Yval, cfg)
	require.NoError(t, err)
	assert.False(t, converged)
	assert.Equal(t, 25, last)
	assert.Equal(t, 6, m.calls)
	require.NotNil(t, atBest)
	assert.Equal(t, atBest, m.Parameters())
}

func TestTrainWithValidationDimensionCheck(t *testing.T) {
	X, Y := linearData(20, 0.1, 1)
	_, err := TrainWithValidation(newLinearGaussian(1), X, Y, mat.NewDense(3, 2, nil), mat.NewDense(3, 1, nil), DefaultConfig())
	var dimErr *errors.DimensionError
	assert.True(t, errors.As(err, &dimErr))
}

func TestTrainStochastic(t *testing.T) {
	X, Y := linearData(400, 0.1, 6)
	cfg := DefaultConfig()
	cfg.BatchSize = 50
	cfg.MaxIter = 400
	cfg.Threshold = 1e-6

	run := func() []float64 {
		m := newLinearGaussian(1)
		_, err := Train(m, X, Y, cfg, WithSeed(11))
		require.NoError(t, err)
		return m.Parameters()
	}

	first := run()
	assert.InDelta(t, 2.0, first[0], 0.1)
	assert.InDelta(t, 0.5, first[1], 0.1)

	// Same seed, model and data give bit-identical parameters.
	assert.Equal(t, first, run())
}

func TestTrainNumericalGradient(t *testing.T) {
	X, Y := linearData(200, 0.1, 7)
	cfg := DefaultConfig()
	cfg.NumGrad = true

	m := newLinearGaussian(1)
	// A wrong analytic gradient does not matter when NumGrad is set.
	m.gradScale = -3
	_, err := Train(m, X, Y, cfg)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, m.Parameters()[0], 0.05)
}

func TestTrainChunkSizeDoesNotChangeResult(t *testing.T) {
	X, Y := linearData(1000, 0.3, 8)

	m1 := newLinearGaussian(1)
	_, err := Train(m1, X, Y, DefaultConfig(), WithChunkSize(1000))
	require.NoError(t, err)

	m2 := newLinearGaussian(1)
	_, err = Train(m2, X, Y, DefaultConfig(), WithChunkSize(37))
	require.NoError(t, err)

	assert.InDeltaSlice(t, m1.Parameters(), m2.Parameters(), 1e-6)
}

func TestTrainLogsAtVerbosity(t *testing.T) {
	testLogger, _ := log.NewTestLogger(log.LevelDebug)
	X, Y := linearData(100, 0.1, 9)
	cfg := DefaultConfig()
	cfg.Verbosity = 2

	_, err := Train(newLinearGaussian(1), X, Y, cfg, WithLogger(testLogger))
	require.NoError(t, err)
	assert.True(t, testLogger.ContainsMessage("training started"))
	assert.True(t, testLogger.ContainsMessage("training finished"))
	assert.Greater(t, testLogger.CountMessages("iteration"), 0)
	assert.True(t, testLogger.ContainsField(log.ComponentKey, "trainer"))

	quiet, _ := log.NewTestLogger(log.LevelDebug)
	cfg.Verbosity = 0
	_, err = Train(newLinearGaussian(1), X, Y, cfg, WithLogger(quiet))
	require.NoError(t, err)
	entries, _ := quiet.GetLogEntries()
	assert.Empty(t, entries)
}

func TestTraceRecordsEachValidationOnce(t *testing.T) {
	trace := NewTrace()
	for it := 1; it <= 6; it++ {
		require.NoError(t, trace.OnIteration(IterationInfo{
			Iteration:           it,
			Objective:           -float64(it),
			Validation:          float64(it / 3),
			ValidationIteration: it / 3 * 3,
		}))
	}
	require.NoError(t, trace.OnIteration(IterationInfo{Iteration: 7, Validation: math.NaN(), ValidationIteration: -1}))

	assert.Equal(t, 7, trace.Len())
	assert.Equal(t, []int{0, 3, 6}, trace.ValidationIterations)
	assert.Equal(t, []float64{0, 1, 2}, trace.Validation)
}

func TestTraceWithSparseValidation(t *testing.T) {
	X, Y := linearData(200, 0.5, 13)
	Xval, Yval := linearData(50, 0.5, 14)

	trace := NewTrace()
	cfg := DefaultConfig()
	cfg.CbIter = 1
	cfg.ValIter = 3
	cfg.Callback = trace

	_, err := TrainWithValidation(newLinearGaussian(1), X, Y, Xval, Yval, cfg)
	require.NoError(t, err)
	require.NotEmpty(t, trace.ValidationIterations)
	for i, it := range trace.ValidationIterations {
		assert.Zero(t, it%3, "validation recorded at iteration %d", it)
		if i > 0 {
			assert.Greater(t, it, trace.ValidationIterations[i-1])
		}
	}
	assert.Len(t, trace.Validation, len(trace.ValidationIterations))
}

func TestPlotTrace(t *testing.T) {
	X, Y := linearData(200, 0.5, 10)
	Xval, Yval := linearData(50, 0.5, 11)

	trace := NewTrace()
	cfg := DefaultConfig()
	cfg.CbIter = 1
	cfg.ValIter = 1
	cfg.Callback = trace

	_, err := TrainWithValidation(newLinearGaussian(1), X, Y, Xval, Yval, cfg)
	require.NoError(t, err)
	require.Greater(t, trace.Len(), 0)
	assert.Equal(t, trace.Len(), len(trace.Validation))

	path := filepath.Join(t.TempDir(), "trace.png")
	require.NoError(t, PlotTrace(trace, path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	assert.Error(t, PlotTrace(NewTrace(), path))
}
