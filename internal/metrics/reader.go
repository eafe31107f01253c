// Package metrics provides read-only access to the unified per-entity,
// per-day performance view. The view itself is produced and maintained by
// the external ingestion/aggregation layer; the engine only ever reads it.
package metrics

import (
	"context"
	"time"

	"github.com/rankwatch/insight/internal/types"
)

// Reader is the boundary to the metric store. All methods are read-only.
type Reader interface {
	// Scopes lists the known scope entities (properties/business units).
	Scopes(ctx context.Context) ([]string, error)

	// LatestRows returns the most recent day's rows for a scope, with
	// trailing comparison fields populated where enough history exists.
	LatestRows(ctx context.Context, scope string) ([]types.MetricRow, error)

	// History returns the daily series of one metric for one entity over
	// the trailing window, oldest first. Days without data are absent
	// from the result, not zero-filled.
	History(ctx context.Context, scope string, entityType types.EntityType, entityID, metric string, windowDays int) ([]DailyPoint, error)

	// PageQueries returns, for each page in the scope, the queries it
	// received clicks from over the trailing 28 days. Used to find pages
	// competing for the same query set.
	PageQueries(ctx context.Context, scope string) ([]PageQueries, error)
}

// DailyPoint is one observation in a metric's daily series.
type DailyPoint struct {
	Date  time.Time
	Value float64
}

// PageQueries maps one page to its click-weighted query set.
type PageQueries struct {
	Page    string
	Queries map[string]float64 // query -> clicks over the window
}

// Metric names accepted by History.
const (
	MetricClicks      = "clicks"
	MetricImpressions = "impressions"
	MetricPosition    = "position"
	MetricConversions = "conversions"
)
