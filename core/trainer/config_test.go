package trainer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/YuminosukeSato/gocmt/pkg/errors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 0, cfg.Verbosity)
	assert.Equal(t, 1000, cfg.MaxIter)
	assert.Equal(t, 1e-9, cfg.Threshold)
	assert.False(t, cfg.NumGrad)
	assert.Equal(t, 0, cfg.BatchSize)
	assert.Equal(t, 25, cfg.CbIter)
	assert.Equal(t, 5, cfg.ValIter)
	assert.Equal(t, 20, cfg.ValLookAhead)
	assert.Nil(t, cfg.Callback)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		param  string
	}{
		{"negative verbosity", func(c *Config) { c.Verbosity = -1 }, "verbosity"},
		{"negative maxIter", func(c *Config) { c.MaxIter = -5 }, "maxIter"},
		{"zero threshold", func(c *Config) { c.Threshold = 0 }, "threshold"},
		{"negative batch", func(c *Config) { c.BatchSize = -1 }, "batchSize"},
		{"zero cbIter", func(c *Config) { c.CbIter = 0 }, "cbIter"},
		{"zero valIter", func(c *Config) { c.ValIter = 0 }, "valIter"},
		{"zero lookahead", func(c *Config) { c.ValLookAhead = 0 }, "valLookAhead"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			var valErr *errors.ValidationError
			require.True(t, errors.As(err, &valErr), "got %v", err)
			assert.Equal(t, tt.param, valErr.ParamName)
		})
	}
}

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]any
		check   func(t *testing.T, cfg Config)
		wantErr bool
	}{
		{
			name:   "empty keeps defaults",
			params: map[string]any{},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, DefaultConfig(), cfg)
			},
		},
		{
			name: "all keys",
			params: map[string]any{
				"verbosity": 2, "maxIter": 50, "threshold": 1e-6, "numGrad": 1,
				"batchSize": 64, "cbIter": 10, "valIter": 2, "valLookAhead": 3,
			},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, Config{
					Verbosity: 2, MaxIter: 50, Threshold: 1e-6, NumGrad: true,
					BatchSize: 64, CbIter: 10, ValIter: 2, ValLookAhead: 3,
				}, cfg)
			},
		},
		{
			name:   "integral doubles",
			params: map[string]any{"maxIter": 20.0, "numGrad": false},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, 20, cfg.MaxIter)
				assert.False(t, cfg.NumGrad)
			},
		},
		{
			name:   "callback",
			params: map[string]any{"callback": NewTrace()},
			check: func(t *testing.T, cfg Config) {
				assert.NotNil(t, cfg.Callback)
			},
		},
		{name: "unknown key", params: map[string]any{"learningRate": 0.1}, wantErr: true},
		{name: "fractional int", params: map[string]any{"maxIter": 2.5}, wantErr: true},
		{name: "numGrad out of range", params: map[string]any{"numGrad": 2}, wantErr: true},
		{name: "string value", params: map[string]any{"threshold": "small"}, wantErr: true},
		{name: "invalid after parse", params: map[string]any{"cbIter": 0}, wantErr: true},
		{name: "bad callback", params: map[string]any{"callback": 3}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseConfig(tt.params)
			if tt.wantErr {
				var valErr *errors.ValidationError
				require.True(t, errors.As(err, &valErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestConfigFromStruct(t *testing.T) {
	s, err := structpb.NewStruct(map[string]any{
		"maxIter":      300,
		"threshold":    1e-5,
		"numGrad":      0,
		"valLookAhead": 7,
	})
	require.NoError(t, err)

	cfg, err := ConfigFromStruct(s)
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.MaxIter)
	assert.Equal(t, 1e-5, cfg.Threshold)
	assert.Equal(t, 7, cfg.ValLookAhead)
	assert.Equal(t, 25, cfg.CbIter)

	back, err := cfg.ToStruct()
	require.NoError(t, err)
	again, err := ConfigFromStruct(back)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)

	def, err := ConfigFromStruct(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), def)

	bad, _ := structpb.NewStruct(map[string]any{"momentum": 0.9})
	_, err = ConfigFromStruct(bad)
	assert.Error(t, err)
}
