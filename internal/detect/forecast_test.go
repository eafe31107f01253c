package detect

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rankwatch/insight/internal/config"
	"github.com/rankwatch/insight/internal/types"
)

// stubForecastProvider returns canned forecasts keyed by entity|metric.
type stubForecastProvider struct {
	forecasts map[string]Forecast
	err       error
	calls     int
}

func (s *stubForecastProvider) Forecast(ctx context.Context, scope string, entityType types.EntityType, entityID, metric string) (Forecast, error) {
	s.calls++
	if s.err != nil {
		return Forecast{}, s.err
	}
	fc, ok := s.forecasts[entityID+"|"+metric]
	if !ok {
		return Forecast{}, errors.New("no forecast")
	}
	return fc, nil
}

func TestForecastBelowInterval(t *testing.T) {
	provider := &stubForecastProvider{forecasts: map[string]Forecast{
		"/blog/x|clicks": {Expected: 100, LowerBound: 80, UpperBound: 120},
	}}
	d := NewForecastDetector(provider, config.Default().Forecast)

	row := pageRow("/blog/x", types.MetricValue{Current: 60})
	out, err := d.Detect(context.Background(), Snapshot{Scope: row.Scope, Rows: []types.MetricRow{row}}, config.Default())
	require.NoError(t, err)
	require.Len(t, out, 1)

	c := out[0]
	assert.Equal(t, types.CategoryRisk, c.Category)
	assert.Equal(t, NameForecast, c.Source)
	// Deviation is relative to expected, not the prior raw value.
	assert.InDelta(t, -40.0, c.Metrics["deviation_pct"], 0.01)
	assert.Equal(t, types.SeverityHigh, c.Severity)
}

func TestForecastAboveIntervalIsOpportunity(t *testing.T) {
	provider := &stubForecastProvider{forecasts: map[string]Forecast{
		"/blog/x|clicks": {Expected: 100, LowerBound: 80, UpperBound: 120},
	}}
	d := NewForecastDetector(provider, config.Default().Forecast)

	row := pageRow("/blog/x", types.MetricValue{Current: 160})
	out, err := d.Detect(context.Background(), Snapshot{Scope: row.Scope, Rows: []types.MetricRow{row}}, config.Default())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, types.CategoryOpportunity, out[0].Category)
}

func TestForecastWithinMarginNoFinding(t *testing.T) {
	// Actual is outside the interval but within the configured margin of
	// the expected value: not enough of a breach to flag.
	provider := &stubForecastProvider{forecasts: map[string]Forecast{
		"/blog/x|clicks": {Expected: 100, LowerBound: 80, UpperBound: 120},
	}}
	d := NewForecastDetector(provider, config.Default().Forecast)

	row := pageRow("/blog/x", types.MetricValue{Current: 75})
	out, err := d.Detect(context.Background(), Snapshot{Scope: row.Scope, Rows: []types.MetricRow{row}}, config.Default())
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestForecastProviderFailureDegrades(t *testing.T) {
	// A failing external service means no findings, not a failed run.
	provider := &stubForecastProvider{err: errors.New("service timeout")}
	d := NewForecastDetector(provider, config.Default().Forecast)

	row := pageRow("/blog/x", types.MetricValue{Current: 10})
	out, err := d.Detect(context.Background(), Snapshot{Scope: row.Scope, Rows: []types.MetricRow{row}}, config.Default())
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Positive(t, provider.calls)
}

func TestForecastZeroExpectedSkipped(t *testing.T) {
	provider := &stubForecastProvider{forecasts: map[string]Forecast{
		"/blog/x|clicks": {Expected: 0, LowerBound: -10, UpperBound: 10},
	}}
	d := NewForecastDetector(provider, config.Default().Forecast)

	row := pageRow("/blog/x", types.MetricValue{Current: 500})
	out, err := d.Detect(context.Background(), Snapshot{Scope: row.Scope, Rows: []types.MetricRow{row}}, config.Default())
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestForecastOneFindingPerCategoryPerRow(t *testing.T) {
	// Clicks and impressions breach the same way: same identity, so one
	// finding survives.
	provider := &stubForecastProvider{forecasts: map[string]Forecast{
		"/blog/x|clicks":      {Expected: 100, LowerBound: 80, UpperBound: 120},
		"/blog/x|impressions": {Expected: 1000, LowerBound: 800, UpperBound: 1200},
	}}
	d := NewForecastDetector(provider, config.Default().Forecast)

	row := pageRow("/blog/x", types.MetricValue{Current: 40})
	row.Impressions = types.MetricValue{Current: 500}
	out, err := d.Detect(context.Background(), Snapshot{Scope: row.Scope, Rows: []types.MetricRow{row}}, config.Default())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, types.CategoryRisk, out[0].Category)
}
