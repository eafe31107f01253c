package detect

import (
	"context"
	"fmt"

	"github.com/rankwatch/insight/internal/config"
	"github.com/rankwatch/insight/internal/scoring"
	"github.com/rankwatch/insight/internal/types"
)

// qualityWindowDays marks point-in-time rules with no lookback window.
const qualityWindowDays = 1

// QualityDetector applies content-quality rules to pages: externally
// scored content quality below the configured floor, and Core Web Vitals
// past their "poor" budgets. Scores and CWV values are opaque inputs
// from external services; rows missing them are simply skipped.
type QualityDetector struct{}

// NewQualityDetector creates a content-quality rules detector.
func NewQualityDetector() *QualityDetector {
	return &QualityDetector{}
}

// Name implements Detector.
func (d *QualityDetector) Name() string {
	return NameQuality
}

// Detect implements Detector.
func (d *QualityDetector) Detect(ctx context.Context, snap Snapshot, cfg config.EngineConfig) ([]types.CandidateFinding, error) {
	var candidates []types.CandidateFinding

	for _, row := range snap.Rows {
		if row.EntityType != types.EntityPage {
			continue
		}
		if c, ok := d.evaluateRow(row, cfg.Quality); ok {
			candidates = append(candidates, c)
		}
	}

	return candidates, nil
}

// qualityRule is one matched rule with its severity, used to pick the
// winning rule per row.
type qualityRule struct {
	category types.Category
	severity types.Severity
	title    string
	evidence map[string]any
}

// evaluateRow applies the rule table to one row and keeps the
// highest-severity match. CWV failures are risks (the page is actively
// penalized); a low quality score is an opportunity (the page could earn
// more than it does).
func (d *QualityDetector) evaluateRow(row types.MetricRow, cfg config.QualityConfig) (types.CandidateFinding, bool) {
	var matched []qualityRule

	if row.LCPMillis != nil && *row.LCPMillis > cfg.LCPBudgetMillis {
		severity := types.SeverityMedium
		if *row.LCPMillis > cfg.LCPBudgetMillis*1.5 {
			severity = types.SeverityHigh
		}
		matched = append(matched, qualityRule{
			category: types.CategoryRisk,
			severity: severity,
			title:    fmt.Sprintf("LCP %.0fms exceeds %.0fms budget for %s", *row.LCPMillis, cfg.LCPBudgetMillis, row.EntityID),
			evidence: map[string]any{"lcp_millis": *row.LCPMillis, "lcp_budget_millis": cfg.LCPBudgetMillis},
		})
	}

	if row.CLS != nil && *row.CLS > cfg.CLSBudget {
		matched = append(matched, qualityRule{
			category: types.CategoryRisk,
			severity: types.SeverityMedium,
			title:    fmt.Sprintf("CLS %.2f exceeds %.2f budget for %s", *row.CLS, cfg.CLSBudget, row.EntityID),
			evidence: map[string]any{"cls": *row.CLS, "cls_budget": cfg.CLSBudget},
		})
	}

	if row.INPMillis != nil && *row.INPMillis > cfg.INPBudgetMillis {
		matched = append(matched, qualityRule{
			category: types.CategoryRisk,
			severity: types.SeverityMedium,
			title:    fmt.Sprintf("INP %.0fms exceeds %.0fms budget for %s", *row.INPMillis, cfg.INPBudgetMillis, row.EntityID),
			evidence: map[string]any{"inp_millis": *row.INPMillis, "inp_budget_millis": cfg.INPBudgetMillis},
		})
	}

	if row.QualityScore != nil && *row.QualityScore < cfg.MinQualityScore {
		matched = append(matched, qualityRule{
			category: types.CategoryOpportunity,
			severity: types.SeverityMedium,
			title:    fmt.Sprintf("Content quality score %.0f below %.0f floor for %s", *row.QualityScore, cfg.MinQualityScore, row.EntityID),
			evidence: map[string]any{"quality_score": *row.QualityScore, "min_quality_score": cfg.MinQualityScore},
		})
	}

	if len(matched) == 0 {
		return types.CandidateFinding{}, false
	}

	// Highest severity wins; earlier rules win ties so evaluation order
	// is part of the documented rule table.
	best := matched[0]
	for _, rule := range matched[1:] {
		if rule.severity.Rank() > best.severity.Rank() {
			best = rule
		}
	}

	return types.CandidateFinding{
		Scope:      row.Scope,
		EntityType: row.EntityType,
		EntityID:   row.EntityID,
		Category:   best.category,
		Source:     NameQuality,
		WindowDays: qualityWindowDays,
		Severity:   best.severity,
		Confidence: scoring.ConfidenceQualityRule,
		Title:      best.title,
		Metrics:    best.evidence,
	}, true
}
