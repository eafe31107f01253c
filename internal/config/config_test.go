package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 20.0, cfg.Threshold.ClicksDropPct)
	assert.Equal(t, 10.0, cfg.Threshold.MinClickVolume)
	assert.Equal(t, 90, cfg.Trend.WindowDays)
	assert.Equal(t, 0.7, cfg.Trend.MinR2)
	assert.Equal(t, 0.8, cfg.Similarity.Threshold)
	assert.Equal(t, 10*time.Second, cfg.Forecast.Timeout)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	yaml := `
threshold:
  clicks_drop_pct: 30
  conversions_drop_pct: 25
  impression_surge_pct: 40
  click_growth_floor_pct: 5
  min_click_volume: 20
trend:
  window_days: 60
  min_points: 14
  min_slope_pct: 1.0
  min_r2: 0.8
detectors:
  forecast: false
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30.0, cfg.Threshold.ClicksDropPct)
	assert.Equal(t, 20.0, cfg.Threshold.MinClickVolume)
	assert.Equal(t, 60, cfg.Trend.WindowDays)
	assert.Equal(t, 0.8, cfg.Trend.MinR2)

	// Untouched sections keep defaults.
	assert.Equal(t, 0.8, cfg.Similarity.Threshold)
	assert.Equal(t, 7, cfg.Diagnosis.EventWindowDays)

	assert.False(t, cfg.DetectorEnabled("forecast"))
	assert.True(t, cfg.DetectorEnabled("threshold"))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *EngineConfig)
	}{
		{"zero clicks drop", func(c *EngineConfig) { c.Threshold.ClicksDropPct = 0 }},
		{"negative min volume", func(c *EngineConfig) { c.Threshold.MinClickVolume = -1 }},
		{"zero trend window", func(c *EngineConfig) { c.Trend.WindowDays = 0 }},
		{"r2 above 1", func(c *EngineConfig) { c.Trend.MinR2 = 1.5 }},
		{"similarity above 1", func(c *EngineConfig) { c.Similarity.Threshold = 1.2 }},
		{"zero shared queries", func(c *EngineConfig) { c.Similarity.MinSharedQueries = 0 }},
		{"zero forecast timeout", func(c *EngineConfig) { c.Forecast.Timeout = 0 }},
		{"zero event window", func(c *EngineConfig) { c.Diagnosis.EventWindowDays = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
