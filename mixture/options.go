package mixture

import (
	"math/rand/v2"

	"github.com/YuminosukeSato/gocmt/core/trainer"
	"github.com/YuminosukeSato/gocmt/pkg/log"
)

// Default hyperparameters.
const (
	DefaultComponents = 8
	DefaultScales     = 6
)

type settings struct {
	components int
	scales     int
	features   int // -1: dimIn
	rng        *rand.Rand
	logger     log.Logger
}

func newSettings(opts []Option) settings {
	s := settings{
		components: DefaultComponents,
		scales:     DefaultScales,
		features:   -1,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(0, 0))
	}
	if s.logger == nil {
		s.logger = log.GetLogger()
	}
	return s
}

// Option configures an MCGSM or MCBM.
type Option func(*settings)

// WithComponents sets the number of mixture components C.
func WithComponents(c int) Option {
	return func(s *settings) {
		s.components = c
	}
}

// WithScales sets the number of scales S per component. MCBM ignores it.
func WithScales(n int) Option {
	return func(s *settings) {
		s.scales = n
	}
}

// WithFeatures sets the number of quadratic features F. Defaults to dimIn.
func WithFeatures(f int) Option {
	return func(s *settings) {
		s.features = f
	}
}

// WithSeed seeds the model's random number generator.
func WithSeed(seed uint64) Option {
	return func(s *settings) {
		s.rng = rand.New(rand.NewPCG(seed, seed))
	}
}

// WithRand sets the model's random number generator.
func WithRand(rng *rand.Rand) Option {
	return func(s *settings) {
		s.rng = rng
	}
}

// WithLogger sets the logger used by the model and its training runs.
func WithLogger(logger log.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// trainerOptions passes the model's generator and logger on to the
// optimizer, in front of any caller supplied options.
func (s *settings) trainerOptions(opts []trainer.Option) []trainer.Option {
	return append([]trainer.Option{trainer.WithRand(s.rng), trainer.WithLogger(s.logger)}, opts...)
}
