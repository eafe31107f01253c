// Package detect contains the detector strategies. Each detector is an
// independent, stateless analysis unit implementing one detection family.
// Detectors read metrics, never findings (the diagnosis detector is the
// documented exception: diagnosis is a second pass over already-detected
// risks), and never mutate a finding's status.
package detect

import (
	"context"

	"github.com/rankwatch/insight/internal/config"
	"github.com/rankwatch/insight/internal/types"
)

// Snapshot is the read-only input handed to each detector for one scope:
// the latest day's metric rows with trailing comparisons attached.
type Snapshot struct {
	Scope string
	Rows  []types.MetricRow
}

// Detector is the strategy contract. Detect must be deterministic given
// the same snapshot and configuration, and pure with respect to the
// metric store. A row a detector cannot evaluate (missing comparisons,
// failed external call) is skipped, never turned into a zero-valued
// finding.
type Detector interface {
	// Name returns the unique identifier for this detector. It becomes
	// the source field of every finding the detector produces and is
	// part of finding identity.
	Name() string

	// Detect analyzes the snapshot and returns candidate findings.
	Detect(ctx context.Context, snap Snapshot, cfg config.EngineConfig) ([]types.CandidateFinding, error)
}

// Detector names. These feed finding identity, so renaming one would
// orphan every finding it previously produced.
const (
	NameThreshold  = "threshold"
	NameForecast   = "forecast"
	NameTrend      = "trend"
	NameSimilarity = "similarity"
	NameQuality    = "quality"
	NameDiagnosis  = "diagnosis"
)
