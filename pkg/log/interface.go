// Package log provides a structured logging interface for gocmt training and
// evaluation.
//
// The interface is slog-compatible so the backend can be swapped; the default
// backend is zerolog (see NewZerologLogger). Optimizers and models take a
// Logger through their options and fall back to GetLogger().
//
// Example usage:
//
//	logger := log.GetLogger().With(
//	    log.ModelNameKey, "MCGSM",
//	    log.OperationKey, log.OperationTrain,
//	)
//	logger.Info("training started",
//	    log.SamplesKey, 1000,
//	    log.ParametersKey, 74,
//	)
package log

import (
	"context"
)

// Logger defines a structured logging interface compatible with Go's log/slog.
//
// Fields are alternating key/value pairs. If the first field passed to Error
// is an error value, implementations attach it (and its stack trace when the
// error carries one) to the record.
type Logger interface {
	// Debug logs detailed diagnostic information, such as per-iteration
	// objective values.
	Debug(msg string, fields ...any)

	// Info logs general operational information.
	Info(msg string, fields ...any)

	// Warn logs potentially problematic situations, such as a rejected
	// optimizer step.
	Warn(msg string, fields ...any)

	// Error logs error conditions.
	Error(msg string, fields ...any)

	// With returns a new Logger with the given fields pre-populated.
	With(fields ...any) Logger

	// Enabled reports whether the logger emits records at the given level.
	// Use it to skip computing expensive fields.
	Enabled(ctx context.Context, level Level) bool
}

// Level represents a logging level, compatible with slog.Level.
type Level int

// Standard logging levels, values are compatible with slog.Level.
const (
	LevelDebug Level = -4 // Detailed diagnostic information
	LevelInfo  Level = 0  // General operational information
	LevelWarn  Level = 4  // Warning conditions
	LevelError Level = 8  // Error conditions
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
