// Standard attribute keys.
//
// Keys follow a hierarchical naming convention ("model.name", "data.samples")
// so that records emitted by the optimizer, the models and the
// preconditioners can be filtered uniformly.

package log

// Model and Operation Context
const (
	// ModelNameKey identifies the type of model.
	// Examples: "MCGSM", "MCBM", "GLM", "WhiteningPreconditioner"
	ModelNameKey = "model.name"

	// OperationKey specifies the operation being performed.
	OperationKey = "ml.operation"

	// ComponentKey identifies which package is performing the operation.
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of model lifecycle.
	PhaseKey = "ml.phase"
)

// Data Shape
const (
	// SamplesKey indicates the number of samples (rows) in the dataset.
	SamplesKey = "data.samples"

	// DimInKey and DimOutKey record input and output dimensionality.
	DimInKey  = "data.dim_in"
	DimOutKey = "data.dim_out"

	// BatchSizeKey indicates the size of mini-batches.
	BatchSizeKey = "data.batch_size"

	// ParametersKey records the length of a parameter vector.
	ParametersKey = "model.parameters"
)

// Performance Metrics
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// LossKey records the training objective (negative mean log-likelihood).
	LossKey = "metrics.loss"

	// ValidationKey records the validation mean log-likelihood.
	ValidationKey = "metrics.validation"

	// GradientNormKey records the Euclidean norm of the gradient.
	GradientNormKey = "metrics.gradient_norm"

	// IterationKey records the current iteration number.
	IterationKey = "training.iteration"

	// EpochKey records the current pass over the training data.
	EpochKey = "training.epoch"

	// StatusKey records the termination status of an optimization.
	StatusKey = "training.status"
)

// Error Context
const (
	// ErrorTypeKey categorizes the type of error encountered.
	ErrorTypeKey = "error.type"

	// StacktraceKey contains stack trace information for debugging.
	StacktraceKey = "error.stacktrace"
)

// Configuration
const (
	// RandomSeedKey records the random seed for reproducibility.
	RandomSeedKey = "config.random_seed"

	// ThresholdKey records the convergence threshold.
	ThresholdKey = "config.threshold"
)

// Standard attribute values.
const (
	OperationInitialize        = "initialize"
	OperationTrain             = "train"
	OperationCheckGradient     = "check_gradient"
	OperationCheckPerformance  = "check_performance"
	OperationFisherInformation = "fisher_information"
	OperationFit               = "fit"

	PhaseTraining      = "training"
	PhaseValidation    = "validation"
	PhasePreprocessing = "preprocessing"
)
