package types

import (
	"fmt"
	"strings"
	"time"
)

// Finding represents one detected condition with a lifecycle.
// Findings are deduplicated by identity: re-detecting the same underlying
// condition on a later run updates the existing row in place, it never
// inserts a second one. Identity is derived from the descriptive tuple
// (Scope, EntityType, EntityID, Category, Source, WindowDays) and never
// from metric values, so the same condition maps to the same ID even when
// the numbers differ between runs.
type Finding struct {
	ID              string         `json:"id"`
	Scope           string         `json:"scope"`                       // property/business unit, e.g. "sc-domain:example.com"
	EntityType      EntityType     `json:"entity_type"`                 // page, query, property, directory
	EntityID        string         `json:"entity_id"`                   // e.g. "/blog/x"
	Category        Category       `json:"category"`                    // immutable after creation
	Source          string         `json:"source"`                      // originating detector name
	WindowDays      int            `json:"window_days"`                 // lookback window, part of identity
	Severity        Severity       `json:"severity"`
	Confidence      float64        `json:"confidence"`                  // detector self-assessed reliability, [0,1]
	Title           string         `json:"title"`
	Description     string         `json:"description,omitempty"`
	Metrics         map[string]any `json:"metrics,omitempty"`           // numeric evidence snapshot, kept for audit
	Status          Status         `json:"status"`
	LinkedFindingID string         `json:"linked_finding_id,omitempty"` // diagnosis -> risk back-reference
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
}

// Validate checks if the finding has valid field values
func (f *Finding) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("id is required")
	}
	if f.Scope == "" {
		return fmt.Errorf("scope is required")
	}
	if f.EntityID == "" {
		return fmt.Errorf("entity_id is required")
	}
	if !f.EntityType.IsValid() {
		return fmt.Errorf("invalid entity type: %s", f.EntityType)
	}
	if !f.Category.IsValid() {
		return fmt.Errorf("invalid category: %s", f.Category)
	}
	if !f.Severity.IsValid() {
		return fmt.Errorf("invalid severity: %s", f.Severity)
	}
	if !f.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", f.Status)
	}
	if f.Source == "" {
		return fmt.Errorf("source detector is required")
	}
	if f.WindowDays <= 0 {
		return fmt.Errorf("window_days must be positive (got %d)", f.WindowDays)
	}
	if f.Confidence < 0.0 || f.Confidence > 1.0 {
		return fmt.Errorf("confidence must be between 0.0 and 1.0 (got %.2f)", f.Confidence)
	}
	if len(strings.TrimSpace(f.Title)) == 0 {
		return fmt.Errorf("title is required")
	}
	if f.LinkedFindingID != "" && f.Category != CategoryDiagnosis {
		return fmt.Errorf("linked_finding_id is only valid on diagnosis findings")
	}
	return nil
}

// EntityType is the entity-grouping dimension a finding belongs to
type EntityType string

const (
	EntityPage      EntityType = "page"
	EntityQuery     EntityType = "query"
	EntityProperty  EntityType = "property"
	EntityDirectory EntityType = "directory"
)

// IsValid checks if the entity type value is valid
func (e EntityType) IsValid() bool {
	switch e {
	case EntityPage, EntityQuery, EntityProperty, EntityDirectory:
		return true
	}
	return false
}

// Category classifies the kind of finding. Fixed at creation.
type Category string

const (
	CategoryRisk        Category = "risk"
	CategoryOpportunity Category = "opportunity"
	CategoryDiagnosis   Category = "diagnosis"
	CategoryTrend       Category = "trend"
)

// IsValid checks if the category value is valid
func (c Category) IsValid() bool {
	switch c {
	case CategoryRisk, CategoryOpportunity, CategoryDiagnosis, CategoryTrend:
		return true
	}
	return false
}

// Severity is assigned by the originating detector from documented
// thresholds and is never recomputed from historical severity.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// IsValid checks if the severity value is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// Rank returns an ordinal for severity comparison (higher = worse).
// Used by detectors to suppress lower-severity rules for a row when a
// higher-severity rule already matched.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Status is the lifecycle state of a finding
type Status string

const (
	StatusNew           Status = "new"
	StatusInvestigating Status = "investigating"
	StatusDiagnosed     Status = "diagnosed"
	StatusActioned      Status = "actioned"
	StatusResolved      Status = "resolved"
	StatusCancelled     Status = "cancelled"
)

// IsValid checks if the status value is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusNew, StatusInvestigating, StatusDiagnosed, StatusActioned,
		StatusResolved, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the status is terminal. Only re-detection,
// never manual action, transitions a finding out of a terminal status.
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusCancelled
}

// manualTransitions is the set of legal manual status edges:
//
//	new -> investigating -> diagnosed -> actioned -> resolved
//	any pre-terminal state -> cancelled
//
// The resolved -> new edge exists only for re-detection and is handled
// inside the repository's upsert, never via TransitionStatus.
var manualTransitions = map[Status][]Status{
	StatusNew:           {StatusInvestigating, StatusCancelled},
	StatusInvestigating: {StatusDiagnosed, StatusCancelled},
	StatusDiagnosed:     {StatusActioned, StatusCancelled},
	StatusActioned:      {StatusResolved, StatusCancelled},
}

// CanTransitionTo reports whether a manual transition from s to next is a
// legal edge in the lifecycle state machine.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range manualTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// FindingFilter is used to filter finding queries
type FindingFilter struct {
	Scope      *string
	EntityType *EntityType
	EntityID   *string
	Category   *Category
	Severity   *Severity
	Status     *Status
	Since      *time.Time // created or updated at/after this instant
	Limit      int
}

// Statistics provides aggregate finding counts for dashboards
type Statistics struct {
	TotalFindings int              `json:"total_findings"`
	ByCategory    map[Category]int `json:"by_category"`
	BySeverity    map[Severity]int `json:"by_severity"`
	ByStatus      map[Status]int   `json:"by_status"`
}
