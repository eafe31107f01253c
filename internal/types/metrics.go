package types

import "time"

// MetricValue carries a current-period value together with its trailing
// comparison values. Comparison fields are nil when fewer than 7 or 28
// days of prior history exist. Nil means "insufficient data" and is a
// distinct condition from "no change" -- callers must never treat it as
// zero.
type MetricValue struct {
	Current float64  `json:"current"`
	Prev7d  *float64 `json:"prev_7d,omitempty"`
	Prev28d *float64 `json:"prev_28d,omitempty"`
	Avg7d   *float64 `json:"avg_7d,omitempty"`
	Avg28d  *float64 `json:"avg_28d,omitempty"`
}

// WoWChange returns the week-over-week percentage change and true, or
// (0, false) when the 7-day-ago value is missing or zero. Guarding the
// zero prior here keeps division-by-zero handling in one place instead
// of scattered across detectors.
func (m MetricValue) WoWChange() (float64, bool) {
	return pctChange(m.Current, m.Prev7d)
}

// MoMChange returns the 28-day percentage change and true, or (0, false)
// when the 28-day-ago value is missing or zero.
func (m MetricValue) MoMChange() (float64, bool) {
	return pctChange(m.Current, m.Prev28d)
}

func pctChange(current float64, prior *float64) (float64, bool) {
	if prior == nil || *prior == 0 {
		return 0, false
	}
	return (current - *prior) / *prior * 100.0, true
}

// MetricRow is one row of the unified per-entity, per-day performance
// view, produced by the external ingestion/aggregation layer. The engine
// reads it, never writes it.
type MetricRow struct {
	Scope      string     `json:"scope"`
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Date       time.Time  `json:"date"`

	Clicks      MetricValue `json:"clicks"`
	Impressions MetricValue `json:"impressions"`
	Position    MetricValue `json:"position"`
	Conversions MetricValue `json:"conversions"`

	// Optional quality signals from external scoring services.
	QualityScore *float64 `json:"quality_score,omitempty"` // [0,100]
	LCPMillis    *float64 `json:"lcp_millis,omitempty"`
	CLS          *float64 `json:"cls,omitempty"`
	INPMillis    *float64 `json:"inp_millis,omitempty"`
}

// CandidateFinding is a detector's in-memory output before scoring and
// persistence. The orchestrator derives the durable identity from the
// descriptive fields and submits the result to the repository.
type CandidateFinding struct {
	Scope           string         `json:"scope"`
	EntityType      EntityType     `json:"entity_type"`
	EntityID        string         `json:"entity_id"`
	Category        Category       `json:"category"`
	Source          string         `json:"source"`
	WindowDays      int            `json:"window_days"`
	Severity        Severity       `json:"severity"`
	Confidence      float64        `json:"confidence"`
	Title           string         `json:"title"`
	Description     string         `json:"description,omitempty"`
	Metrics         map[string]any `json:"metrics,omitempty"`
	LinkedFindingID string         `json:"linked_finding_id,omitempty"`
}
