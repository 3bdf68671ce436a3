package errors

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewModelError(t *testing.T) {
	tests := []struct {
		name     string
		op       string
		kind     string
		err      error
		wantMsg  string
		hasStack bool
	}{
		{
			name:     "with original error",
			op:       "Train",
			kind:     "invalid input",
			err:      fmt.Errorf("test error"),
			wantMsg:  "gocmt: Train: invalid input: test error",
			hasStack: true,
		},
		{
			name:     "without original error",
			op:       "Sample",
			kind:     "empty data",
			err:      nil,
			wantMsg:  "gocmt: Sample: empty data",
			hasStack: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewModelError(tt.op, tt.kind, tt.err)

			if err.Error() != tt.wantMsg {
				t.Errorf("Error() = %v, want %v", err.Error(), tt.wantMsg)
			}

			// スタックトレースの存在確認
			if tt.hasStack {
				formatted := fmt.Sprintf("%+v", err)
				if !strings.Contains(formatted, "errors_test.go") {
					t.Error("Expected stack trace to contain test file name")
				}
			}

			var modelErr *ModelError
			if !As(err, &modelErr) {
				t.Error("Error should be castable to *ModelError")
			}
		})
	}
}

func TestNewDimensionError(t *testing.T) {
	err := NewDimensionError("MCGSM.LogLikelihood", 3, 2, 1)

	want := "gocmt: MCGSM.LogLikelihood: dimension mismatch on axis 1 (features). Expected 3, got 2"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}

	var dimErr *DimensionError
	if !As(err, &dimErr) {
		t.Fatal("Error should be castable to *DimensionError")
	}
	if dimErr.Expected != 3 || dimErr.Got != 2 {
		t.Errorf("unexpected fields: %+v", dimErr)
	}
}

func TestNewParameterLengthError(t *testing.T) {
	err := NewParameterLengthError("GLM", 4, 5)

	var lenErr *ParameterLengthError
	if !As(err, &lenErr) {
		t.Fatal("Error should be castable to *ParameterLengthError")
	}
	if lenErr.Expected != 4 || lenErr.Got != 5 {
		t.Errorf("unexpected fields: %+v", lenErr)
	}
	if !strings.Contains(err.Error(), "invalid parameter vector length") {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestNewGradientCheckError(t *testing.T) {
	err := NewGradientCheckError("MCGSM", 1e-2, 1e-4)

	var gradErr *GradientCheckError
	if !As(err, &gradErr) {
		t.Fatal("Error should be castable to *GradientCheckError")
	}
	if gradErr.Difference != 1e-2 {
		t.Errorf("Difference = %v, want 1e-2", gradErr.Difference)
	}
}

func TestNumericalInstability(t *testing.T) {
	if err := CheckScalar("loglikelihood", 1.5, 0); err != nil {
		t.Errorf("finite value flagged: %v", err)
	}

	err := CheckNumericalStability("gradient", []float64{1, math.NaN(), 2}, 7)
	if err == nil {
		t.Fatal("expected NaN to be detected")
	}
	if !IsNumericalInstability(err) {
		t.Error("IsNumericalInstability should report true")
	}

	var numErr *NumericalInstabilityError
	if !As(err, &numErr) {
		t.Fatal("Error should be castable to *NumericalInstabilityError")
	}
	if numErr.Iteration != 7 {
		t.Errorf("Iteration = %d, want 7", numErr.Iteration)
	}

	if err := CheckPositive("cholesky", []float64{1, 0}, -1); err == nil {
		t.Error("zero diagonal should be rejected")
	}
	if IsNumericalInstability(New("plain")) {
		t.Error("plain error must not be reported as instability")
	}
}

func TestNewConvergenceWarning(t *testing.T) {
	w := NewConvergenceWarning("L-BFGS", 100, "")
	if !strings.Contains(w.Error(), "failed to converge after 100 iterations") {
		t.Errorf("unexpected message: %s", w.Error())
	}

	var got []error
	SetWarningHandler(func(w error) { got = append(got, w) })
	defer SetWarningHandler(func(w error) {})

	Warn(w)
	if len(got) != 1 {
		t.Fatalf("expected one warning, got %d", len(got))
	}
}

func TestWarnRoutesToZerolog(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	SetZerologWarnFunc(func(w error) {
		if m, ok := w.(zerolog.LogObjectMarshaler); ok {
			logger.Warn().EmbedObject(m).Msg(w.Error())
			return
		}
		logger.Warn().Msg(w.Error())
	})
	defer SetZerologWarnFunc(nil)

	Warn(NewConvergenceWarning("L-BFGS", 3, "maxIter reached"))

	if !strings.Contains(buf.String(), `"type":"ConvergenceWarning"`) {
		t.Errorf("structured warning missing: %s", buf.String())
	}
}

func TestWrapAndIs(t *testing.T) {
	wrapped := Wrap(ErrSingularMatrix, "whitening input covariance")
	if !Is(wrapped, ErrSingularMatrix) {
		t.Error("wrapped error should match ErrSingularMatrix")
	}
	if !strings.Contains(wrapped.Error(), "whitening input covariance") {
		t.Errorf("unexpected message: %s", wrapped.Error())
	}

	wrappedf := Wrapf(ErrEmptyData, "chunk %d", 3)
	if !Is(wrappedf, ErrEmptyData) {
		t.Error("Wrapf should keep the cause")
	}
}

func TestSafeExecute(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		if err := SafeExecute("noop", func() error { return nil }); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("function error", func(t *testing.T) {
		want := New("boom")
		if err := SafeExecute("op", func() error { return want }); !Is(err, want) {
			t.Errorf("got %v, want %v", err, want)
		}
	})

	t.Run("panic", func(t *testing.T) {
		err := SafeExecute("chunk 2", func() error {
			var s []float64
			_ = s[3]
			return nil
		})
		var panicErr *PanicError
		if !As(err, &panicErr) {
			t.Fatalf("expected *PanicError, got %T", err)
		}
		if panicErr.Operation != "chunk 2" {
			t.Errorf("Operation = %q", panicErr.Operation)
		}
		if !strings.Contains(panicErr.StackTrace, "goroutine") {
			t.Error("stack trace should be captured")
		}
	})

	t.Run("panic with error value", func(t *testing.T) {
		cause := New("bad shape")
		err := SafeExecute("op", func() error { panic(cause) })
		if !Is(err, cause) {
			t.Error("panic error value should be unwrappable")
		}
	})
}
