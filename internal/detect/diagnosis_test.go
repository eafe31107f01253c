package detect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rankwatch/insight/internal/config"
	"github.com/rankwatch/insight/internal/types"
)

// stubFindings serves a fixed finding list and records the filter used.
type stubFindings struct {
	findings []*types.Finding
	filter   types.FindingFilter
}

func (s *stubFindings) Query(ctx context.Context, filter types.FindingFilter) ([]*types.Finding, error) {
	s.filter = filter
	return s.findings, nil
}

// stubEvents serves fixed trigger events per entity.
type stubEvents struct {
	events map[string][]TriggerEvent
	err    error
}

func (s *stubEvents) Events(ctx context.Context, scope, entityID string, from, to time.Time) ([]TriggerEvent, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.events[entityID], nil
}

func openRisk(id, entityID string, detectedAt time.Time) *types.Finding {
	return &types.Finding{
		ID:         id,
		Scope:      "sc-domain:example.com",
		EntityType: types.EntityPage,
		EntityID:   entityID,
		Category:   types.CategoryRisk,
		Source:     NameThreshold,
		WindowDays: 7,
		Severity:   types.SeverityHigh,
		Confidence: 0.9,
		Title:      "Clicks down 60% WoW for " + entityID,
		Status:     types.StatusNew,
		CreatedAt:  detectedAt,
		UpdatedAt:  detectedAt,
	}
}

func TestDiagnosisLinksTriggerToRisk(t *testing.T) {
	detected := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	risk := openRisk("risk-1", "/blog/x", detected)

	findings := &stubFindings{findings: []*types.Finding{risk}}
	events := &stubEvents{events: map[string][]TriggerEvent{
		"/blog/x": {
			{Type: "content_change", Description: "title tag rewritten", OccurredAt: detected.AddDate(0, 0, -2)},
		},
	}}

	d := NewDiagnosisDetector(findings, events)
	out, err := d.Detect(context.Background(), Snapshot{Scope: "sc-domain:example.com"}, config.Default())
	require.NoError(t, err)
	require.Len(t, out, 1)

	c := out[0]
	assert.Equal(t, types.CategoryDiagnosis, c.Category)
	assert.Equal(t, "risk-1", c.LinkedFindingID)
	assert.Equal(t, "content_change", c.Metrics["trigger_type"])
	assert.InDelta(t, 2.0, c.Metrics["gap_days"], 0.01)

	// Only open risks are considered.
	require.NotNil(t, findings.filter.Status)
	assert.Equal(t, types.StatusNew, *findings.filter.Status)
	require.NotNil(t, findings.filter.Category)
	assert.Equal(t, types.CategoryRisk, *findings.filter.Category)
}

func TestDiagnosisPicksClosestEvent(t *testing.T) {
	detected := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	risk := openRisk("risk-1", "/blog/x", detected)

	findings := &stubFindings{findings: []*types.Finding{risk}}
	events := &stubEvents{events: map[string][]TriggerEvent{
		"/blog/x": {
			{Type: "deploy", Description: "site deploy", OccurredAt: detected.AddDate(0, 0, -6)},
			{Type: "content_change", Description: "body rewritten", OccurredAt: detected.AddDate(0, 0, -1)},
			{Type: "algorithm_update", Description: "core update", OccurredAt: detected.AddDate(0, 0, 4)},
		},
	}}

	d := NewDiagnosisDetector(findings, events)
	out, err := d.Detect(context.Background(), Snapshot{Scope: "sc-domain:example.com"}, config.Default())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "content_change", out[0].Metrics["trigger_type"])
	// Three agreeing signals raise confidence to the cap.
	assert.InDelta(t, 0.8, out[0].Confidence, 0.001)
}

func TestDiagnosisNoEventsNoFinding(t *testing.T) {
	risk := openRisk("risk-1", "/blog/x", time.Now())
	findings := &stubFindings{findings: []*types.Finding{risk}}
	events := &stubEvents{events: map[string][]TriggerEvent{}}

	d := NewDiagnosisDetector(findings, events)
	out, err := d.Detect(context.Background(), Snapshot{Scope: "sc-domain:example.com"}, config.Default())
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDiagnosisEventSourceFailureDegrades(t *testing.T) {
	risk := openRisk("risk-1", "/blog/x", time.Now())
	findings := &stubFindings{findings: []*types.Finding{risk}}
	events := &stubEvents{err: errors.New("events service unavailable")}

	d := NewDiagnosisDetector(findings, events)
	out, err := d.Detect(context.Background(), Snapshot{Scope: "sc-domain:example.com"}, config.Default())
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCorrelationConfidence(t *testing.T) {
	assert.InDelta(t, 0.6, correlationConfidence(1), 0.001)
	assert.InDelta(t, 0.7, correlationConfidence(2), 0.001)
	assert.InDelta(t, 0.8, correlationConfidence(3), 0.001)
	assert.InDelta(t, 0.8, correlationConfidence(10), 0.001)
}
