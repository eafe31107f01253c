package identity

import (
	"encoding/hex"
	"testing"

	"github.com/rankwatch/insight/internal/types"
)

func TestMakeIDDeterministic(t *testing.T) {
	a := MakeID("sc-domain:example.com", types.EntityPage, "/blog/x", types.CategoryRisk, "threshold", 7)
	b := MakeID("sc-domain:example.com", types.EntityPage, "/blog/x", types.CategoryRisk, "threshold", 7)
	if a != b {
		t.Errorf("same identity tuple produced different IDs: %s vs %s", a, b)
	}
}

func TestMakeIDIsHexSHA256(t *testing.T) {
	id := MakeID("scope", types.EntityPage, "/x", types.CategoryRisk, "threshold", 7)
	if len(id) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(id))
	}
	if _, err := hex.DecodeString(id); err != nil {
		t.Errorf("ID is not valid hex: %v", err)
	}
}

func TestMakeIDDistinguishesEveryField(t *testing.T) {
	base := MakeID("scope", types.EntityPage, "/x", types.CategoryRisk, "threshold", 7)

	variants := map[string]string{
		"scope":       MakeID("other", types.EntityPage, "/x", types.CategoryRisk, "threshold", 7),
		"entity type": MakeID("scope", types.EntityQuery, "/x", types.CategoryRisk, "threshold", 7),
		"entity id":   MakeID("scope", types.EntityPage, "/y", types.CategoryRisk, "threshold", 7),
		"category":    MakeID("scope", types.EntityPage, "/x", types.CategoryOpportunity, "threshold", 7),
		"source":      MakeID("scope", types.EntityPage, "/x", types.CategoryRisk, "forecast", 7),
		"window":      MakeID("scope", types.EntityPage, "/x", types.CategoryRisk, "threshold", 28),
	}

	for field, id := range variants {
		if id == base {
			t.Errorf("changing %s did not change the ID", field)
		}
	}
}

// Adjacent fields must not be confusable: "a"+"bc" vs "ab"+"c".
func TestMakeIDFieldBoundaries(t *testing.T) {
	a := MakeID("a", types.EntityPage, "bc", types.CategoryRisk, "threshold", 7)
	b := MakeID("ab", types.EntityPage, "c", types.CategoryRisk, "threshold", 7)
	if a == b {
		t.Error("field boundary collision between shifted scope/entity values")
	}
}

// Identity must be invariant to metric noise: two candidates differing
// only in metrics, severity, or confidence map to the same ID.
func TestForCandidateIgnoresVolatileFields(t *testing.T) {
	first := &types.CandidateFinding{
		Scope:      "sc-domain:example.com",
		EntityType: types.EntityPage,
		EntityID:   "/blog/x",
		Category:   types.CategoryRisk,
		Source:     "threshold",
		WindowDays: 7,
		Severity:   types.SeverityMedium,
		Confidence: 0.7,
		Metrics:    map[string]any{"clicks_wow_pct": -25.0},
	}
	second := &types.CandidateFinding{
		Scope:      "sc-domain:example.com",
		EntityType: types.EntityPage,
		EntityID:   "/blog/x",
		Category:   types.CategoryRisk,
		Source:     "threshold",
		WindowDays: 7,
		Severity:   types.SeverityHigh,
		Confidence: 0.9,
		Metrics:    map[string]any{"clicks_wow_pct": -61.4, "conversions_wow_pct": -70.0},
	}

	if ForCandidate(first) != ForCandidate(second) {
		t.Error("candidates with the same identity but different evidence produced different IDs")
	}
}
