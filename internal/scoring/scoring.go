// Package scoring maps raw metric deltas to severity, confidence, and
// priority values. Every function here is pure: given the same inputs it
// returns the same outputs, with no store or detector dependencies, so
// the threshold tables stay unit-testable in isolation.
package scoring

import (
	"math"

	"github.com/rankwatch/insight/internal/config"
	"github.com/rankwatch/insight/internal/types"
)

// Confidence constants per rule. These are detector self-assessments of
// rule reliability, not statistical confidence intervals.
const (
	// ConfidenceCorrelatedDrop applies when clicks and conversions
	// degrade together. Correlated degradation across independent
	// metrics is stronger evidence than either alone.
	ConfidenceCorrelatedDrop = 0.9

	// ConfidenceSingleDrop applies to a click drop on its own.
	ConfidenceSingleDrop = 0.7

	// ConfidenceSurge applies to impression surges without click growth.
	ConfidenceSurge = 0.6

	// ConfidenceDeviation applies to forecast interval breaches.
	ConfidenceDeviation = 0.75

	// ConfidenceQualityRule applies to content-quality rule hits.
	ConfidenceQualityRule = 0.65
)

// ScoreDrop scores a week-over-week click drop, optionally correlated
// with a conversion drop. Drops are passed as signed percentages (a 60%
// decline is -60). conversionsOK is false when the row has insufficient
// conversion history; the conversion signal is then ignored rather than
// treated as zero.
func ScoreDrop(clicksWoWPct float64, conversionsWoWPct float64, conversionsOK bool, cfg config.ThresholdConfig) (types.Severity, float64) {
	if conversionsOK &&
		clicksWoWPct <= -cfg.ClicksDropPct &&
		conversionsWoWPct <= -cfg.ConversionsDropPct {
		return types.SeverityHigh, ConfidenceCorrelatedDrop
	}
	return types.SeverityMedium, ConfidenceSingleDrop
}

// ScoreSurge scores an impression surge with no corresponding click
// growth. Always medium: the upside is real but unproven.
func ScoreSurge() (types.Severity, float64) {
	return types.SeverityMedium, ConfidenceSurge
}

// ScoreDeviation scores a forecast interval breach. deviationPct is the
// breach relative to the expected value (not the prior raw value).
func ScoreDeviation(deviationPct float64) (types.Severity, float64) {
	if math.Abs(deviationPct) >= 25 {
		return types.SeverityHigh, ConfidenceDeviation
	}
	return types.SeverityMedium, ConfidenceDeviation
}

// ScoreTrend scores a fitted regression. slopePctPerDay is the daily
// slope as a percentage of the window mean; r2 is the coefficient of
// determination. Confidence is computed from model fit rather than a
// fixed constant: a tighter fit is a more trustworthy slope.
func ScoreTrend(slopePctPerDay, r2 float64) (types.Severity, float64) {
	confidence := math.Min(0.95, r2)

	abs := math.Abs(slopePctPerDay)
	switch {
	case abs >= 2.0:
		return types.SeverityHigh, confidence
	case abs >= 1.0:
		return types.SeverityMedium, confidence
	default:
		return types.SeverityLow, confidence
	}
}

// Priority computes an actionability rank (0 = most urgent, 4 = least)
// from category, severity, and confidence. Low-confidence findings are
// demoted one level so that noisy rules do not crowd the top of the
// review queue.
func Priority(category types.Category, severity types.Severity, confidence float64) int {
	var priority int

	switch category {
	case types.CategoryRisk:
		switch severity {
		case types.SeverityHigh:
			priority = 0
		case types.SeverityMedium:
			priority = 1
		default:
			priority = 2
		}
	case types.CategoryOpportunity:
		switch severity {
		case types.SeverityHigh:
			priority = 1
		case types.SeverityMedium:
			priority = 2
		default:
			priority = 3
		}
	case types.CategoryDiagnosis:
		priority = 2
	default: // trend
		priority = 3
	}

	if confidence < 0.5 {
		priority++
	}
	if priority > 4 {
		priority = 4
	}
	return priority
}
