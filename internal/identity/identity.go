// Package identity derives stable finding identifiers.
//
// A finding's identity is the tuple (scope, entity type, entity ID,
// category, source detector, window days) -- the semantic "same underlying
// condition" key. Volatile fields (timestamps, metric values, severity,
// confidence) are never part of the hash input, so re-detecting a condition
// with different numbers on a different day produces the same ID and the
// repository's upsert lands on the existing row.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/rankwatch/insight/internal/types"
)

// fieldSeparator joins identity fields before hashing. The ASCII unit
// separator cannot appear in scope or entity identifiers, so "a"+"bc"
// and "ab"+"c" hash differently.
const fieldSeparator = "\x1f"

// MakeID returns the hex-encoded SHA-256 of the identity tuple.
//
// The field order is fixed and documented so that independent
// implementations produce byte-identical IDs:
//
//	scope, entityType, entityID, category, source, windowDays
func MakeID(scope string, entityType types.EntityType, entityID string, category types.Category, source string, windowDays int) string {
	input := strings.Join([]string{
		scope,
		string(entityType),
		entityID,
		string(category),
		source,
		fmt.Sprintf("%d", windowDays),
	}, fieldSeparator)

	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// ForCandidate derives the identity for a candidate finding.
func ForCandidate(c *types.CandidateFinding) string {
	return MakeID(c.Scope, c.EntityType, c.EntityID, c.Category, c.Source, c.WindowDays)
}
