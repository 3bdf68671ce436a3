package trainer

import (
	"math"
	"sort"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/YuminosukeSato/gocmt/pkg/errors"
)

// Config controls one training run. It is passed by value and never
// modified by the optimizer.
type Config struct {
	// Verbosity: 0 silent, 1 start and finish summaries, 2 or more logs every
	// iteration. Never changes the numerics.
	Verbosity int

	// MaxIter is the maximum number of optimizer iterations.
	MaxIter int

	// Threshold is the relative change of the objective below which training
	// counts as converged.
	Threshold float64

	// NumGrad replaces the analytic gradient by central differences.
	NumGrad bool

	// BatchSize > 0 and smaller than the number of samples enables stochastic
	// mini-batch training. 0 uses the full data set.
	BatchSize int

	// CbIter is the number of iterations between Callback invocations.
	CbIter int

	// Callback is invoked every CbIter iterations. May be nil.
	Callback Callback

	// ValIter is the number of iterations between validation checks.
	ValIter int

	// ValLookAhead is the number of consecutive non-improving validation
	// checks after which training stops.
	ValLookAhead int
}

// DefaultConfig returns the default training configuration.
func DefaultConfig() Config {
	return Config{
		Verbosity:    0,
		MaxIter:      1000,
		Threshold:    1e-9,
		NumGrad:      false,
		BatchSize:    0,
		CbIter:       25,
		ValIter:      5,
		ValLookAhead: 20,
	}
}

// Validate checks the configuration for values the optimizer cannot use.
func (c Config) Validate() error {
	switch {
	case c.Verbosity < 0:
		return errors.NewValidationError("verbosity", "must be non-negative", c.Verbosity)
	case c.MaxIter < 0:
		return errors.NewValidationError("maxIter", "must be non-negative", c.MaxIter)
	case !(c.Threshold > 0) || math.IsInf(c.Threshold, 0):
		return errors.NewValidationError("threshold", "must be positive and finite", c.Threshold)
	case c.BatchSize < 0:
		return errors.NewValidationError("batchSize", "must be non-negative", c.BatchSize)
	case c.CbIter <= 0:
		return errors.NewValidationError("cbIter", "must be positive", c.CbIter)
	case c.ValIter <= 0:
		return errors.NewValidationError("valIter", "must be positive", c.ValIter)
	case c.ValLookAhead <= 0:
		return errors.NewValidationError("valLookAhead", "must be positive", c.ValLookAhead)
	}
	return nil
}

// ParseConfig builds a Config from a loosely typed record, as received from
// a host-language binding. Keys that are missing keep their defaults;
// unknown keys are rejected.
//
//	cfg, err := trainer.ParseConfig(map[string]any{"maxIter": 200, "numGrad": 0})
func ParseConfig(params map[string]any) (Config, error) {
	cfg := DefaultConfig()

	// キー順を固定してエラーを決定的にする
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := params[key]
		var err error
		switch key {
		case "verbosity":
			cfg.Verbosity, err = toInt(key, value)
		case "maxIter":
			cfg.MaxIter, err = toInt(key, value)
		case "threshold":
			cfg.Threshold, err = toFloat(key, value)
		case "numGrad":
			cfg.NumGrad, err = toBool(key, value)
		case "batchSize":
			cfg.BatchSize, err = toInt(key, value)
		case "cbIter":
			cfg.CbIter, err = toInt(key, value)
		case "valIter":
			cfg.ValIter, err = toInt(key, value)
		case "valLookAhead":
			cfg.ValLookAhead, err = toInt(key, value)
		case "callback":
			cb, ok := value.(Callback)
			if !ok && value != nil {
				err = errors.NewValidationError(key, "must implement trainer.Callback", value)
			}
			cfg.Callback = cb
		default:
			err = errors.NewValidationError(key, "unknown configuration key", value)
		}
		if err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ConfigFromStruct parses a protobuf Struct with the same keys as
// ParseConfig. Numbers arrive as doubles and must be integral where an
// integer is expected.
func ConfigFromStruct(s *structpb.Struct) (Config, error) {
	if s == nil {
		return DefaultConfig(), nil
	}
	return ParseConfig(s.AsMap())
}

// ToStruct encodes the numeric fields of c as a protobuf Struct.
func (c Config) ToStruct() (*structpb.Struct, error) {
	numGrad := 0
	if c.NumGrad {
		numGrad = 1
	}
	s, err := structpb.NewStruct(map[string]any{
		"verbosity":    c.Verbosity,
		"maxIter":      c.MaxIter,
		"threshold":    c.Threshold,
		"numGrad":      numGrad,
		"batchSize":    c.BatchSize,
		"cbIter":       c.CbIter,
		"valIter":      c.ValIter,
		"valLookAhead": c.ValLookAhead,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode config")
	}
	return s, nil
}

func toInt(key string, value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, errors.NewValidationError(key, "must be an integer", value)
		}
		return int(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, errors.NewValidationError(key, "must be an integer", value)
	}
}

func toFloat(key string, value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, errors.NewValidationError(key, "must be a number", value)
	}
}

func toBool(key string, value any) (bool, error) {
	if b, ok := value.(bool); ok {
		return b, nil
	}
	n, err := toInt(key, value)
	if err != nil {
		return false, err
	}
	switch n {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, errors.NewValidationError(key, "must be 0 or 1", value)
	}
}
