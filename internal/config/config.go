// Package config holds the engine configuration: detection thresholds,
// lookback windows, and per-detector enablement. The configuration is
// loaded once, validated, and passed by value into the orchestrator and
// every detector call -- there is no mutable global state.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineConfig is the root configuration for a detection run.
type EngineConfig struct {
	// Detectors maps detector names to enablement. Detectors absent from
	// the map default to enabled.
	Detectors map[string]bool `yaml:"detectors"`

	Threshold  ThresholdConfig  `yaml:"threshold"`
	Forecast   ForecastConfig   `yaml:"forecast"`
	Trend      TrendConfig      `yaml:"trend"`
	Similarity SimilarityConfig `yaml:"similarity"`
	Quality    QualityConfig    `yaml:"quality"`
	Diagnosis  DiagnosisConfig  `yaml:"diagnosis"`
}

// ThresholdConfig controls the threshold/anomaly detector.
type ThresholdConfig struct {
	// ClicksDropPct is the WoW click drop (in percent, positive number)
	// that flags a risk. Default 20.
	ClicksDropPct float64 `yaml:"clicks_drop_pct"`

	// ConversionsDropPct is the WoW conversion drop that, combined with a
	// click drop, escalates the risk to high severity. Default 20.
	ConversionsDropPct float64 `yaml:"conversions_drop_pct"`

	// ImpressionSurgePct is the WoW impression growth that flags an
	// opportunity when clicks fail to follow. Default 30.
	ImpressionSurgePct float64 `yaml:"impression_surge_pct"`

	// ClickGrowthFloorPct marks "no corresponding click growth": an
	// impression surge is an opportunity only when click WoW growth stays
	// below this. Default 5.
	ClickGrowthFloorPct float64 `yaml:"click_growth_floor_pct"`

	// MinClickVolume excludes rows below this prior click volume from
	// anomaly consideration. Low-traffic entities produce high
	// relative-percentage noise. Default 10.
	MinClickVolume float64 `yaml:"min_click_volume"`
}

// ForecastConfig controls the forecast-deviation detector.
type ForecastConfig struct {
	// DeviationMarginPct is how far outside the forecast interval
	// (relative to the expected value) the actual must fall before a
	// finding is raised. Default 10.
	DeviationMarginPct float64 `yaml:"deviation_margin_pct"`

	// Timeout bounds each external forecast call. Default 10s.
	Timeout time.Duration `yaml:"timeout"`

	// RequestsPerSecond rate-limits the external forecast service.
	// Default 20.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// TrendConfig controls the trend/regression detector.
type TrendConfig struct {
	// WindowDays is the regression window. Default 90.
	WindowDays int `yaml:"window_days"`

	// MinPoints is the minimum number of observations in the window
	// before a regression is attempted. Default 30.
	MinPoints int `yaml:"min_points"`

	// MinSlopePct is the minimum fitted daily slope, as a percentage of
	// the window mean, for a trend to be reported. Default 0.5.
	MinSlopePct float64 `yaml:"min_slope_pct"`

	// MinR2 is the goodness-of-fit gate. Slopes with R^2 below this are
	// noise and rejected regardless of magnitude. Default 0.7.
	MinR2 float64 `yaml:"min_r2"`
}

// SimilarityConfig controls the cannibalization detector.
type SimilarityConfig struct {
	// Threshold is the minimum cosine similarity between two pages'
	// content embeddings. Default 0.8.
	Threshold float64 `yaml:"threshold"`

	// MinSharedQueries is the minimum number of shared high-volume
	// queries for a pair to be considered. Default 3.
	MinSharedQueries int `yaml:"min_shared_queries"`

	// MinQueryClicks is the click floor for a query to count as
	// high-volume. Default 10.
	MinQueryClicks float64 `yaml:"min_query_clicks"`
}

// QualityConfig controls the content-quality rules detector.
type QualityConfig struct {
	// MinQualityScore flags pages scored below this [0,100]. Default 40.
	MinQualityScore float64 `yaml:"min_quality_score"`

	// LCPBudgetMillis, CLSBudget and INPBudgetMillis are the Core Web
	// Vitals "poor" boundaries. Defaults 4000, 0.25, 500.
	LCPBudgetMillis float64 `yaml:"lcp_budget_millis"`
	CLSBudget       float64 `yaml:"cls_budget"`
	INPBudgetMillis float64 `yaml:"inp_budget_millis"`
}

// DiagnosisConfig controls the causal-correlation detector.
type DiagnosisConfig struct {
	// EventWindowDays bounds the search for trigger events around a
	// risk's detection date. Default 7.
	EventWindowDays int `yaml:"event_window_days"`
}

// Default returns the documented default configuration.
func Default() EngineConfig {
	return EngineConfig{
		Detectors: map[string]bool{},
		Threshold: ThresholdConfig{
			ClicksDropPct:       20,
			ConversionsDropPct:  20,
			ImpressionSurgePct:  30,
			ClickGrowthFloorPct: 5,
			MinClickVolume:      10,
		},
		Forecast: ForecastConfig{
			DeviationMarginPct: 10,
			Timeout:            10 * time.Second,
			RequestsPerSecond:  20,
		},
		Trend: TrendConfig{
			WindowDays:  90,
			MinPoints:   30,
			MinSlopePct: 0.5,
			MinR2:       0.7,
		},
		Similarity: SimilarityConfig{
			Threshold:        0.8,
			MinSharedQueries: 3,
			MinQueryClicks:   10,
		},
		Quality: QualityConfig{
			MinQualityScore: 40,
			LCPBudgetMillis: 4000,
			CLSBudget:       0.25,
			INPBudgetMillis: 500,
		},
		Diagnosis: DiagnosisConfig{
			EventWindowDays: 7,
		},
	}
}

// Load reads a YAML config file, applying defaults for any omitted
// section. Load expects the path to exist; callers wanting built-in
// defaults without a file should use Default directly.
func Load(path string) (EngineConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks configured values for internal consistency.
func (c EngineConfig) Validate() error {
	if c.Threshold.ClicksDropPct <= 0 {
		return fmt.Errorf("threshold.clicks_drop_pct must be positive (got %.1f)", c.Threshold.ClicksDropPct)
	}
	if c.Threshold.ConversionsDropPct <= 0 {
		return fmt.Errorf("threshold.conversions_drop_pct must be positive (got %.1f)", c.Threshold.ConversionsDropPct)
	}
	if c.Threshold.MinClickVolume < 0 {
		return fmt.Errorf("threshold.min_click_volume cannot be negative (got %.1f)", c.Threshold.MinClickVolume)
	}
	if c.Trend.WindowDays <= 0 {
		return fmt.Errorf("trend.window_days must be positive (got %d)", c.Trend.WindowDays)
	}
	if c.Trend.MinR2 < 0 || c.Trend.MinR2 > 1 {
		return fmt.Errorf("trend.min_r2 must be in [0,1] (got %.2f)", c.Trend.MinR2)
	}
	if c.Similarity.Threshold < 0 || c.Similarity.Threshold > 1 {
		return fmt.Errorf("similarity.threshold must be in [0,1] (got %.2f)", c.Similarity.Threshold)
	}
	if c.Similarity.MinSharedQueries < 1 {
		return fmt.Errorf("similarity.min_shared_queries must be at least 1 (got %d)", c.Similarity.MinSharedQueries)
	}
	if c.Forecast.Timeout <= 0 {
		return fmt.Errorf("forecast.timeout must be positive (got %s)", c.Forecast.Timeout)
	}
	if c.Diagnosis.EventWindowDays <= 0 {
		return fmt.Errorf("diagnosis.event_window_days must be positive (got %d)", c.Diagnosis.EventWindowDays)
	}
	return nil
}

// DetectorEnabled reports whether the named detector should run.
// Detectors not mentioned in the config are enabled.
func (c EngineConfig) DetectorEnabled(name string) bool {
	enabled, ok := c.Detectors[name]
	if !ok {
		return true
	}
	return enabled
}
