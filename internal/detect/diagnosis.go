package detect

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rankwatch/insight/internal/config"
	"github.com/rankwatch/insight/internal/types"
)

// TriggerEvent is a candidate cause for a detected risk: a content
// change, a known external event (algorithm update, outage), or a
// technical degradation signal. All trigger events come from external
// systems; the engine only correlates them in time.
type TriggerEvent struct {
	Type        string    // e.g. "content_change", "algorithm_update", "deploy"
	Description string
	OccurredAt  time.Time
}

// EventSource is the boundary to the external systems that record
// trigger events.
type EventSource interface {
	Events(ctx context.Context, scope, entityID string, from, to time.Time) ([]TriggerEvent, error)
}

// FindingSource gives the diagnosis detector read access to existing
// findings. This is deliberately narrower than the full repository:
// diagnosis may read findings but can never touch their status.
type FindingSource interface {
	Query(ctx context.Context, filter types.FindingFilter) ([]*types.Finding, error)
}

// DiagnosisDetector is a second pass over already-detected risks: for
// each risk still in status "new", it searches a bounded window around
// the risk's detection date for trigger events and, when a plausible
// correlation exists, emits a diagnosis finding linked back to the risk.
// It is the only detector permitted to read existing findings.
type DiagnosisDetector struct {
	findings FindingSource
	events   EventSource
}

// NewDiagnosisDetector creates a causal-correlation detector.
func NewDiagnosisDetector(findings FindingSource, events EventSource) *DiagnosisDetector {
	return &DiagnosisDetector{findings: findings, events: events}
}

// Name implements Detector.
func (d *DiagnosisDetector) Name() string {
	return NameDiagnosis
}

// Detect implements Detector.
func (d *DiagnosisDetector) Detect(ctx context.Context, snap Snapshot, cfg config.EngineConfig) ([]types.CandidateFinding, error) {
	if d.findings == nil || d.events == nil {
		return nil, fmt.Errorf("finding source and event source are required")
	}

	status := types.StatusNew
	category := types.CategoryRisk
	risks, err := d.findings.Query(ctx, types.FindingFilter{
		Scope:    &snap.Scope,
		Category: &category,
		Status:   &status,
	})
	if err != nil {
		return nil, fmt.Errorf("querying open risks: %w", err)
	}

	var candidates []types.CandidateFinding

	for _, risk := range risks {
		window := time.Duration(cfg.Diagnosis.EventWindowDays) * 24 * time.Hour
		from := risk.UpdatedAt.Add(-window)
		to := risk.UpdatedAt.Add(window)

		events, err := d.events.Events(ctx, snap.Scope, risk.EntityID, from, to)
		if err != nil {
			// An unavailable event source is insufficient data for this
			// risk, not a detector failure.
			continue
		}
		if len(events) == 0 {
			continue
		}

		trigger := closestEvent(events, risk.UpdatedAt)
		gapDays := math.Abs(trigger.OccurredAt.Sub(risk.UpdatedAt).Hours()) / 24.0

		candidates = append(candidates, types.CandidateFinding{
			Scope:           risk.Scope,
			EntityType:      risk.EntityType,
			EntityID:        risk.EntityID,
			Category:        types.CategoryDiagnosis,
			Source:          NameDiagnosis,
			WindowDays:      cfg.Diagnosis.EventWindowDays,
			Severity:        risk.Severity,
			Confidence:      correlationConfidence(len(events)),
			Title:           fmt.Sprintf("Likely cause of %q: %s", risk.Title, trigger.Description),
			LinkedFindingID: risk.ID,
			Metrics: map[string]any{
				"trigger_type":     trigger.Type,
				"trigger_date":     trigger.OccurredAt.Format("2006-01-02"),
				"gap_days":         gapDays,
				"events_in_window": len(events),
			},
		})
	}

	return candidates, nil
}

// closestEvent returns the event nearest the detection date.
func closestEvent(events []TriggerEvent, around time.Time) TriggerEvent {
	best := events[0]
	bestGap := math.Abs(best.OccurredAt.Sub(around).Hours())
	for _, e := range events[1:] {
		gap := math.Abs(e.OccurredAt.Sub(around).Hours())
		if gap < bestGap {
			best = e
			bestGap = gap
		}
	}
	return best
}

// correlationConfidence grows with the number of independent signals that
// agree, capped well below certainty: temporal correlation is suggestive,
// never proof.
func correlationConfidence(eventCount int) float64 {
	n := eventCount
	if n > 3 {
		n = 3
	}
	return 0.5 + 0.1*float64(n)
}
