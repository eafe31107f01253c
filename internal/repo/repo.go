// Package repo is the persistence boundary for findings. Backends are
// interchangeable: SQLite for single-node deployments, Postgres for
// shared ones. Both implement the same idempotent upsert-by-identity
// contract, so the engine never knows which one it is talking to.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/rankwatch/insight/internal/types"
)

var (
	// ErrNotFound is returned when a finding ID does not exist.
	ErrNotFound = errors.New("finding not found")

	// ErrInvalidTransition is returned when a manual status change is not
	// an edge of the lifecycle state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Repository defines the storage contract for findings.
type Repository interface {
	// Upsert inserts the finding or, if its identity already exists,
	// refreshes the evidence fields (severity, confidence, title,
	// description, metrics) and updated_at. Status is left untouched
	// unless the stored finding is in a terminal status, in which case
	// re-detection re-opens it to `new` and clears resolved_at,
	// preserving created_at. Returns true when a new row was inserted.
	Upsert(ctx context.Context, f *types.Finding) (inserted bool, err error)

	// Get fetches a finding by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*types.Finding, error)

	// Query returns findings matching the filter, newest first.
	Query(ctx context.Context, filter types.FindingFilter) ([]*types.Finding, error)

	// TransitionStatus applies a manual lifecycle transition, recording
	// the actor in the audit trail, and returns the updated finding.
	// Returns ErrNotFound for unknown IDs and ErrInvalidTransition for
	// edges outside the state machine.
	TransitionStatus(ctx context.Context, id string, next types.Status, actor string) (*types.Finding, error)

	// ChangedSince returns findings created or updated at/after the
	// given instant, for incremental consumers polling the store.
	ChangedSince(ctx context.Context, since time.Time) ([]*types.Finding, error)

	// Statistics returns aggregate finding counts.
	Statistics(ctx context.Context) (*types.Statistics, error)

	// Close releases the backend's resources.
	Close() error
}

// Audit event types recorded by backends on every mutation.
const (
	EventCreated       = "created"
	EventRedetected    = "re-detected"
	EventReopened      = "reopened"
	EventStatusChanged = "status_changed"
)

// FindingEvent is one audit trail entry for a finding.
type FindingEvent struct {
	ID        int64     `json:"id"`
	FindingID string    `json:"finding_id"`
	EventType string    `json:"event_type"`
	Actor     string    `json:"actor"`
	OldValue  string    `json:"old_value,omitempty"`
	NewValue  string    `json:"new_value,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
