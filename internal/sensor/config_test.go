package sensor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sparse-speed/internal/sparse"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, SamplingModeA, cfg.SamplingMode)
	assert.Equal(t, 512, cfg.NumSubsweeps)
	assert.Equal(t, 2, cfg.ExpectedDepths())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"sensor", func(c *Config) { c.Sensor = 0 }},
		{"inverted range", func(c *Config) { c.RangeStart, c.RangeEnd = 0.5, 0.3 }},
		{"negative start", func(c *Config) { c.RangeStart = -0.1 }},
		{"stepsize", func(c *Config) { c.StepSize = 0 }},
		{"sampling mode", func(c *Config) { c.SamplingMode = "C" }},
		{"too few subsweeps", func(c *Config) { c.NumSubsweeps = 2 }},
		{"too many subsweeps", func(c *Config) { c.NumSubsweeps = 1 << 16 }},
		{"gain", func(c *Config) { c.Gain = 1.5 }},
		{"hwaas", func(c *Config) { c.HWAverageSamples = 64 }},
		{"sweep rate", func(c *Config) { c.SweepRate = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestExpectedDepths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RangeStart, cfg.RangeEnd, cfg.StepSize = 0.2, 0.8, 1
	assert.Equal(t, 11, cfg.ExpectedDepths())
	cfg.StepSize = 2
	assert.Equal(t, 6, cfg.ExpectedDepths())
}

func TestConfigCommands(t *testing.T) {
	cmds := DefaultConfig().Commands()
	assert.Contains(t, cmds, "CFG range=0.300:0.480")
	assert.Contains(t, cmds, "CFG subsweeps=512")
	assert.Contains(t, cmds, "CFG sampling_mode=A")
	assert.Contains(t, cmds, "CFG stitching=true")
	for _, c := range cmds {
		assert.NotContains(t, c, "\n")
	}
}

func TestSessionInfoProcessorSession(t *testing.T) {
	cfg := DefaultConfig()
	info := SessionInfo{SubsweepRate: 6000, DataLength: 2 * 512}

	sp, err := info.ProcessorSession(cfg)
	require.NoError(t, err)
	assert.Equal(t, sparse.SessionParams{SubsweepRate: 6000, NumSubsweeps: 512, NumDepths: 2}, sp)
	assert.InDelta(t, 6000.0/512, sp.UpdateRate(), 1e-9)

	_, err = SessionInfo{SubsweepRate: 6000, DataLength: 1000}.ProcessorSession(cfg)
	assert.Error(t, err)

	_, err = SessionInfo{DataLength: 1024}.ProcessorSession(cfg)
	assert.True(t, errors.Is(err, ErrSessionNotReady))
}
