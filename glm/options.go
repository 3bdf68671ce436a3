package glm

import (
	"math/rand/v2"

	"github.com/YuminosukeSato/gocmt/core/trainer"
	"github.com/YuminosukeSato/gocmt/pkg/log"
)

type settings struct {
	rng    *rand.Rand
	logger log.Logger
}

// Option configures a GLM.
type Option func(*settings)

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

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

func newSettings(opts []Option) settings {
	var s settings
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

func (s *settings) trainerOptions(opts []trainer.Option) []trainer.Option {
	return append([]trainer.Option{trainer.WithRand(s.rng), trainer.WithLogger(s.logger)}, opts...)
}
