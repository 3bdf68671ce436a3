// Package model defines the contract shared by every trainable conditional
// model, the flat parameter-vector codec and model state persistence.
package model

import (
	"gonum.org/v1/gonum/mat"
)

// ConditionalDistribution is a conditional density p(y | x).
//
// Inputs X are N×DimIn and outputs Y are N×DimOut, one sample per row.
type ConditionalDistribution interface {
	DimIn() int
	DimOut() int

	// LogLikelihood returns log p(y_n | x_n) in nats for every row.
	LogLikelihood(X, Y mat.Matrix) (*mat.VecDense, error)

	// Sample draws one output per input row.
	Sample(X mat.Matrix) (*mat.Dense, error)
}

// Trainable is a conditional distribution whose parameters can be flattened
// into a vector and optimized by gradient methods.
//
// ParameterGradient must not modify the receiver: it unpacks theta on its own
// and may be called concurrently on disjoint row ranges.
type Trainable interface {
	ConditionalDistribution

	// Initialize sets the parameters to a data-dependent starting point.
	Initialize(X, Y mat.Matrix) error

	// NumParameters returns the length of the parameter vector.
	NumParameters() int

	// Parameters returns a copy of the current parameter vector.
	Parameters() []float64

	// SetParameters replaces all parameters. A vector of the wrong length is
	// rejected and leaves the model unchanged.
	SetParameters(theta []float64) error

	// ParameterGradient returns the summed negative log-likelihood of the rows
	// of (X, Y) under theta. When grad is non-nil the gradient with respect to
	// theta is added into it.
	ParameterGradient(theta []float64, X, Y *mat.Dense, grad []float64) (float64, error)
}

// Named is implemented by models that report a name in logs and errors.
type Named interface {
	Name() string
}

// NameOf returns the model name, or "model" when it does not implement Named.
func NameOf(v any) string {
	if n, ok := v.(Named); ok {
		return n.Name()
	}
	return "model"
}
