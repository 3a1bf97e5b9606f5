package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rderrors "github.com/rdscope/rdscope-go/internal/errors"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateRejectsBadSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero top_k", func(c *Config) { c.Analysis.TopK = 0 }},
		{"negative min_confidence", func(c *Config) { c.Analysis.MinConfidence = -1 }},
		{"min_confidence above 100", func(c *Config) { c.Analysis.MinConfidence = 101 }},
		{"zero workers", func(c *Config) { c.Analysis.Workers = 0 }},
		{"zero window_days", func(c *Config) { c.Analysis.WindowDays = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, rderrors.IsType(err, rderrors.ErrorTypeConfig))
			assert.True(t, rderrors.IsFatal(err))
		})
	}
}
