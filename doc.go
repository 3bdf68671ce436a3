// Package gocmt is a conditional modeling toolkit: trainable models of
// p(y | x) for continuous and binary outputs, with the preprocessing needed to
// fit them well.
//
// # Quick Start
//
//	package main
//
//	import (
//	    "fmt"
//	    "log"
//
//	    "github.com/YuminosukeSato/gocmt/core/trainer"
//	    "github.com/YuminosukeSato/gocmt/metrics"
//	    "github.com/YuminosukeSato/gocmt/mixture"
//	    "github.com/YuminosukeSato/gocmt/preprocessing"
//	)
//
//	func main() {
//	    // X is N×dimIn, Y is N×dimOut, one sample per row
//	    pre, err := preprocessing.NewWhiteningPreconditioner(X, Y)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    Xp, Yp, err := pre.Forward(X, Y)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    model, err := mixture.NewMCGSM(pre.DimInPre(), pre.DimOutPre(),
//	        mixture.WithComponents(4), mixture.WithSeed(1))
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    if err := model.Initialize(Xp, Yp); err != nil {
//	        log.Fatal(err)
//	    }
//	    if _, err := model.Train(Xp, Yp, trainer.DefaultConfig()); err != nil {
//	        log.Fatal(err)
//	    }
//
//	    bits, err := metrics.Evaluate(model, Xtest, Ytest, pre)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Printf("%.3f bits per component\n", bits)
//	}
//
// # Packages
//
//   - core/model: the Trainable contract, parameter-vector codec and model state
//   - core/trainer: L-BFGS training with mini-batches, early stopping, callbacks and gradient diagnostics
//   - core/parallel: chunked data-parallel evaluation
//   - mixture: MCGSM for continuous outputs, MCBM for binary outputs, mini-batch k-means
//   - glm: generalized linear models (logistic/Bernoulli, exponential/Poisson)
//   - preprocessing: affine, whitening and PCA preconditioners with log-Jacobians
//   - linear: multi-output least squares used for initialization
//   - metrics: log-likelihood in bits, MSE, RMSE, R²
//   - pkg/errors, pkg/log: structured errors and zerolog-backed logging
//
// # Error Handling
//
// Every error carries a stack trace (cockroachdb/errors). Match on the typed
// errors with errors.As:
//
//	var dimErr *errors.DimensionError
//	if errors.As(err, &dimErr) {
//	    // wrong number of rows or columns
//	}
//
// Training that stops at MaxIter reports a ConvergenceWarning through the
// default logger and returns false; the model keeps the best parameters found.
//
// # Reproducibility
//
// All randomness comes from the *rand.Rand passed with WithRand or created by
// WithSeed. Objective evaluation is split into fixed-size chunks reduced in
// order, so two seeded runs give identical parameters on any machine.
package gocmt
