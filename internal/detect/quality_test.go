package detect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rankwatch/insight/internal/config"
	"github.com/rankwatch/insight/internal/types"
)

func TestQualityLowScoreIsOpportunity(t *testing.T) {
	row := pageRow("/thin-content", types.MetricValue{Current: 50})
	row.QualityScore = fp(25)

	d := NewQualityDetector()
	out, err := d.Detect(context.Background(), Snapshot{Scope: row.Scope, Rows: []types.MetricRow{row}}, config.Default())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, types.CategoryOpportunity, out[0].Category)
	assert.Equal(t, NameQuality, out[0].Source)
}

func TestQualityPoorLCPIsRisk(t *testing.T) {
	row := pageRow("/slow", types.MetricValue{Current: 50})
	row.LCPMillis = fp(4500)

	d := NewQualityDetector()
	out, err := d.Detect(context.Background(), Snapshot{Scope: row.Scope, Rows: []types.MetricRow{row}}, config.Default())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, types.CategoryRisk, out[0].Category)
	assert.Equal(t, types.SeverityMedium, out[0].Severity)
}

func TestQualityVeryPoorLCPEscalates(t *testing.T) {
	row := pageRow("/very-slow", types.MetricValue{Current: 50})
	row.LCPMillis = fp(7000) // past 1.5x the 4000ms budget

	d := NewQualityDetector()
	out, err := d.Detect(context.Background(), Snapshot{Scope: row.Scope, Rows: []types.MetricRow{row}}, config.Default())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, types.SeverityHigh, out[0].Severity)
}

func TestQualityHighestSeverityWins(t *testing.T) {
	// Very poor LCP (high) and low quality score (medium) on one row:
	// one finding, the LCP risk.
	row := pageRow("/struggling", types.MetricValue{Current: 50})
	row.LCPMillis = fp(7000)
	row.QualityScore = fp(20)

	d := NewQualityDetector()
	out, err := d.Detect(context.Background(), Snapshot{Scope: row.Scope, Rows: []types.MetricRow{row}}, config.Default())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, types.CategoryRisk, out[0].Category)
	assert.Equal(t, types.SeverityHigh, out[0].Severity)
}

func TestQualityMissingSignalsSkipped(t *testing.T) {
	// No quality score, no CWV: nothing to evaluate, nothing to flag.
	row := pageRow("/plain", types.MetricValue{Current: 50})

	d := NewQualityDetector()
	out, err := d.Detect(context.Background(), Snapshot{Scope: row.Scope, Rows: []types.MetricRow{row}}, config.Default())
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestQualitySkipsNonPageEntities(t *testing.T) {
	row := types.MetricRow{
		Scope:        "sc-domain:example.com",
		EntityType:   types.EntityQuery,
		EntityID:     "best widgets",
		QualityScore: fp(10),
	}

	d := NewQualityDetector()
	out, err := d.Detect(context.Background(), Snapshot{Scope: row.Scope, Rows: []types.MetricRow{row}}, config.Default())
	require.NoError(t, err)
	assert.Empty(t, out)
}
