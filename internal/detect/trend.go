package detect

import (
	"context"
	"fmt"
	"math"

	"github.com/rankwatch/insight/internal/config"
	"github.com/rankwatch/insight/internal/metrics"
	"github.com/rankwatch/insight/internal/scoring"
	"github.com/rankwatch/insight/internal/types"
)

// TrendDetector fits a linear regression of a metric against day-index
// over a fixed window and flags sustained slopes. The R-squared gate
// rejects noisy low-confidence slopes regardless of magnitude.
type TrendDetector struct {
	reader metrics.Reader
}

// NewTrendDetector creates a trend/regression detector backed by the
// metric store reader.
func NewTrendDetector(reader metrics.Reader) *TrendDetector {
	return &TrendDetector{reader: reader}
}

// Name implements Detector.
func (d *TrendDetector) Name() string {
	return NameTrend
}

// Detect implements Detector.
func (d *TrendDetector) Detect(ctx context.Context, snap Snapshot, cfg config.EngineConfig) ([]types.CandidateFinding, error) {
	if d.reader == nil {
		return nil, fmt.Errorf("metric reader is required")
	}

	var candidates []types.CandidateFinding

	for _, row := range snap.Rows {
		points, err := d.reader.History(ctx, snap.Scope, row.EntityType, row.EntityID, metrics.MetricClicks, cfg.Trend.WindowDays)
		if err != nil {
			return nil, fmt.Errorf("fetching history for %s: %w", row.EntityID, err)
		}
		if len(points) < cfg.Trend.MinPoints {
			continue
		}

		fit, ok := fitLinear(points)
		if !ok {
			continue
		}

		// Slope as percent of the window mean per day, so a 10-click/day
		// decline on a small page and a 1000-click/day decline on a huge
		// one compare on the same scale.
		if fit.mean == 0 {
			continue
		}
		slopePct := fit.slope / fit.mean * 100.0

		if math.Abs(slopePct) < cfg.Trend.MinSlopePct || fit.r2 < cfg.Trend.MinR2 {
			continue
		}

		severity, confidence := scoring.ScoreTrend(slopePct, fit.r2)

		direction := "declining"
		if fit.slope > 0 {
			direction = "growing"
		}

		candidates = append(candidates, types.CandidateFinding{
			Scope:      row.Scope,
			EntityType: row.EntityType,
			EntityID:   row.EntityID,
			Category:   types.CategoryTrend,
			Source:     NameTrend,
			WindowDays: cfg.Trend.WindowDays,
			Severity:   severity,
			Confidence: confidence,
			Title: fmt.Sprintf("Clicks %s %.1f%%/day over %d days for %s",
				direction, math.Abs(slopePct), cfg.Trend.WindowDays, row.EntityID),
			Metrics: map[string]any{
				"slope":             fit.slope,
				"slope_pct_per_day": slopePct,
				"r2":                fit.r2,
				"window_days":       cfg.Trend.WindowDays,
				"points":            len(points),
			},
		})
	}

	return candidates, nil
}

// linearFit holds ordinary-least-squares results for one series.
type linearFit struct {
	slope float64 // units per day
	r2    float64
	mean  float64
}

// fitLinear regresses value against day-index. The x axis is days since
// the first observation, so gaps in the series cost the fit rather than
// silently compressing time. Returns false when the series is degenerate
// (single day, or no x variance).
func fitLinear(points []metrics.DailyPoint) (linearFit, bool) {
	n := float64(len(points))
	if len(points) < 2 {
		return linearFit{}, false
	}

	start := points[0].Date
	var sumX, sumY, sumXY, sumXX float64
	for _, p := range points {
		x := p.Date.Sub(start).Hours() / 24.0
		sumX += x
		sumY += p.Value
		sumXY += x * p.Value
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return linearFit{}, false
	}

	slope := (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n
	meanY := sumY / n

	// R^2 = 1 - SSres/SStot. A flat series has SStot == 0: the fit is
	// perfect but meaningless, so reject it.
	var ssRes, ssTot float64
	for _, p := range points {
		x := p.Date.Sub(start).Hours() / 24.0
		predicted := intercept + slope*x
		ssRes += (p.Value - predicted) * (p.Value - predicted)
		ssTot += (p.Value - meanY) * (p.Value - meanY)
	}
	if ssTot == 0 {
		return linearFit{}, false
	}

	return linearFit{
		slope: slope,
		r2:    1 - ssRes/ssTot,
		mean:  meanY,
	}, true
}
