package detect

import (
	"context"
	"fmt"

	"github.com/rankwatch/insight/internal/config"
	"github.com/rankwatch/insight/internal/scoring"
	"github.com/rankwatch/insight/internal/types"
)

// thresholdWindowDays is the comparison window for WoW rules.
const thresholdWindowDays = 7

// ThresholdDetector compares each row's period-over-period percentage
// changes against configured thresholds: click drops become risks,
// impression surges without click growth become opportunities.
type ThresholdDetector struct{}

// NewThresholdDetector creates a threshold/anomaly detector.
func NewThresholdDetector() *ThresholdDetector {
	return &ThresholdDetector{}
}

// Name implements Detector.
func (d *ThresholdDetector) Name() string {
	return NameThreshold
}

// Detect implements Detector.
//
// Per-row evaluation order matters: when more than one rule matches the
// same row, only the highest-severity rule emits a finding. Risk rules
// are evaluated before the opportunity rule so a surge on a degrading
// page does not mask the degradation.
func (d *ThresholdDetector) Detect(ctx context.Context, snap Snapshot, cfg config.EngineConfig) ([]types.CandidateFinding, error) {
	var candidates []types.CandidateFinding

	for _, row := range snap.Rows {
		if c, ok := d.evaluateRow(row, cfg.Threshold); ok {
			candidates = append(candidates, c)
		}
	}

	return candidates, nil
}

// evaluateRow applies the rule table to one row and returns at most one
// candidate. Rows with a nil or zero prior never reach percentage math:
// WoWChange reports insufficient data and the row is skipped.
func (d *ThresholdDetector) evaluateRow(row types.MetricRow, cfg config.ThresholdConfig) (types.CandidateFinding, bool) {
	clicksWoW, clicksOK := row.Clicks.WoWChange()

	// Volume gate: tiny traffic bases make percentage changes noise,
	// not signal.
	if row.Clicks.Prev7d != nil && *row.Clicks.Prev7d < cfg.MinClickVolume {
		return types.CandidateFinding{}, false
	}

	conversionsWoW, conversionsOK := row.Conversions.WoWChange()

	// Risk: clicks down past the threshold. Correlated conversion
	// degradation escalates severity inside ScoreDrop.
	if clicksOK && clicksWoW <= -cfg.ClicksDropPct {
		severity, confidence := scoring.ScoreDrop(clicksWoW, conversionsWoW, conversionsOK, cfg)

		evidence := map[string]any{
			"clicks_current": row.Clicks.Current,
			"clicks_prev_7d": *row.Clicks.Prev7d,
			"clicks_wow_pct": clicksWoW,
		}
		title := fmt.Sprintf("Clicks down %.0f%% WoW for %s", -clicksWoW, row.EntityID)
		if conversionsOK {
			evidence["conversions_wow_pct"] = conversionsWoW
			if severity == types.SeverityHigh {
				title = fmt.Sprintf("Clicks down %.0f%% and conversions down %.0f%% WoW for %s",
					-clicksWoW, -conversionsWoW, row.EntityID)
			}
		}

		return types.CandidateFinding{
			Scope:      row.Scope,
			EntityType: row.EntityType,
			EntityID:   row.EntityID,
			Category:   types.CategoryRisk,
			Source:     NameThreshold,
			WindowDays: thresholdWindowDays,
			Severity:   severity,
			Confidence: confidence,
			Title:      title,
			Metrics:    evidence,
		}, true
	}

	// Opportunity: impressions surge while clicks fail to follow.
	imprWoW, imprOK := row.Impressions.WoWChange()
	if imprOK && imprWoW >= cfg.ImpressionSurgePct &&
		(!clicksOK || clicksWoW < cfg.ClickGrowthFloorPct) {
		severity, confidence := scoring.ScoreSurge()

		evidence := map[string]any{
			"impressions_current": row.Impressions.Current,
			"impressions_wow_pct": imprWoW,
		}
		if clicksOK {
			evidence["clicks_wow_pct"] = clicksWoW
		}

		return types.CandidateFinding{
			Scope:      row.Scope,
			EntityType: row.EntityType,
			EntityID:   row.EntityID,
			Category:   types.CategoryOpportunity,
			Source:     NameThreshold,
			WindowDays: thresholdWindowDays,
			Severity:   severity,
			Confidence: confidence,
			Title:      fmt.Sprintf("Impressions up %.0f%% WoW without click growth for %s", imprWoW, row.EntityID),
			Metrics:    evidence,
		}, true
	}

	return types.CandidateFinding{}, false
}
