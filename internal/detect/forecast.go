package detect

import (
	"context"
	"fmt"
	"math"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/rankwatch/insight/internal/config"
	"github.com/rankwatch/insight/internal/scoring"
	"github.com/rankwatch/insight/internal/types"
)

// forecastWindowDays is the history window the external model is fit on.
const forecastWindowDays = 28

// Forecast is the external model's output for one entity-metric pair.
// The engine treats it as a black box: how the interval was computed is
// the forecasting service's business.
type Forecast struct {
	Expected   float64
	LowerBound float64
	UpperBound float64
}

// ForecastProvider is the boundary to the external forecasting service.
type ForecastProvider interface {
	Forecast(ctx context.Context, scope string, entityType types.EntityType, entityID, metric string) (Forecast, error)
}

// ForecastDetector flags rows whose actual value falls outside the
// forecast interval by more than the configured margin. Deviation is
// measured against the expected value rather than the prior raw value,
// which absorbs seasonality that naive WoW comparison misreads.
type ForecastDetector struct {
	provider ForecastProvider
	limiter  *rate.Limiter
}

// NewForecastDetector creates a forecast-deviation detector backed by the
// given provider. External calls are rate-limited and bounded by the
// configured timeout.
func NewForecastDetector(provider ForecastProvider, cfg config.ForecastConfig) *ForecastDetector {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 20
	}
	return &ForecastDetector{
		provider: provider,
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Name implements Detector.
func (d *ForecastDetector) Name() string {
	return NameForecast
}

// forecastMetrics are the metrics checked against the model.
var forecastMetrics = []string{"clicks", "impressions"}

// Detect implements Detector. A timeout or failure from the external
// service degrades to "no finding for this row": the row is skipped and
// logged, the run continues.
func (d *ForecastDetector) Detect(ctx context.Context, snap Snapshot, cfg config.EngineConfig) ([]types.CandidateFinding, error) {
	if d.provider == nil {
		return nil, fmt.Errorf("forecast provider is required")
	}

	var candidates []types.CandidateFinding

	for _, row := range snap.Rows {
		// Both metrics can breach on one row. They would share an
		// identity, so only the highest-severity breach per category
		// survives.
		best := make(map[types.Category]types.CandidateFinding)

		for _, metric := range forecastMetrics {
			actual := row.Clicks.Current
			if metric == "impressions" {
				actual = row.Impressions.Current
			}

			fc, ok := d.fetch(ctx, snap.Scope, row, metric, cfg.Forecast)
			if !ok {
				continue
			}

			c, ok := d.evaluate(row, metric, actual, fc, cfg.Forecast)
			if !ok {
				continue
			}
			if prev, exists := best[c.Category]; !exists || c.Severity.Rank() > prev.Severity.Rank() {
				best[c.Category] = c
			}
		}

		for _, category := range []types.Category{types.CategoryRisk, types.CategoryOpportunity} {
			if c, ok := best[category]; ok {
				candidates = append(candidates, c)
			}
		}
	}

	return candidates, nil
}

// fetch calls the external service with the configured rate limit and
// timeout. Any failure is insufficient data for this row.
func (d *ForecastDetector) fetch(ctx context.Context, scope string, row types.MetricRow, metric string, cfg config.ForecastConfig) (Forecast, bool) {
	if err := d.limiter.Wait(ctx); err != nil {
		return Forecast{}, false
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	fc, err := d.provider.Forecast(callCtx, scope, row.EntityType, row.EntityID, metric)
	if err != nil {
		log.Debug("forecast call failed, skipping row",
			"scope", scope, "entity", row.EntityID, "metric", metric, "error", err)
		return Forecast{}, false
	}
	return fc, true
}

func (d *ForecastDetector) evaluate(row types.MetricRow, metric string, actual float64, fc Forecast, cfg config.ForecastConfig) (types.CandidateFinding, bool) {
	// A degenerate interval or zero expectation cannot be evaluated.
	if fc.Expected == 0 || fc.UpperBound < fc.LowerBound {
		return types.CandidateFinding{}, false
	}

	margin := math.Abs(fc.Expected) * cfg.DeviationMarginPct / 100.0

	var breached bool
	switch {
	case actual < fc.LowerBound-margin, actual > fc.UpperBound+margin:
		breached = true
	}
	if !breached {
		return types.CandidateFinding{}, false
	}

	deviationPct := (actual - fc.Expected) / fc.Expected * 100.0
	severity, confidence := scoring.ScoreDeviation(deviationPct)

	category := types.CategoryRisk
	direction := "below"
	if actual > fc.UpperBound {
		category = types.CategoryOpportunity
		direction = "above"
	}

	return types.CandidateFinding{
		Scope:      row.Scope,
		EntityType: row.EntityType,
		EntityID:   row.EntityID,
		Category:   category,
		Source:     NameForecast,
		WindowDays: forecastWindowDays,
		Severity:   severity,
		Confidence: confidence,
		Title: fmt.Sprintf("%s %.0f%% %s forecast for %s",
			metric, math.Abs(deviationPct), direction, row.EntityID),
		Metrics: map[string]any{
			"metric":        metric,
			"actual":        actual,
			"expected":      fc.Expected,
			"lower_bound":   fc.LowerBound,
			"upper_bound":   fc.UpperBound,
			"deviation_pct": deviationPct,
		},
	}, true
}
