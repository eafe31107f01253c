package metrics

import (
	"context"
	"fmt"
	"sort"

	"github.com/rankwatch/insight/internal/types"
)

// MemoryReader is an in-memory Reader for tests and local experiments.
type MemoryReader struct {
	Rows   []types.MetricRow
	Series map[string][]DailyPoint  // key: scope|entityType|entityID|metric
	Pages  map[string][]PageQueries // key: scope
}

// NewMemoryReader creates an empty in-memory reader.
func NewMemoryReader() *MemoryReader {
	return &MemoryReader{
		Series: make(map[string][]DailyPoint),
		Pages:  make(map[string][]PageQueries),
	}
}

// AddSeries registers a daily series for History lookups.
func (m *MemoryReader) AddSeries(scope string, entityType types.EntityType, entityID, metric string, points []DailyPoint) {
	m.Series[seriesKey(scope, entityType, entityID, metric)] = points
}

func seriesKey(scope string, entityType types.EntityType, entityID, metric string) string {
	return fmt.Sprintf("%s|%s|%s|%s", scope, entityType, entityID, metric)
}

// Scopes implements Reader.
func (m *MemoryReader) Scopes(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var scopes []string
	for _, row := range m.Rows {
		if _, ok := seen[row.Scope]; !ok {
			seen[row.Scope] = struct{}{}
			scopes = append(scopes, row.Scope)
		}
	}
	sort.Strings(scopes)
	return scopes, nil
}

// LatestRows implements Reader.
func (m *MemoryReader) LatestRows(ctx context.Context, scope string) ([]types.MetricRow, error) {
	var rows []types.MetricRow
	for _, row := range m.Rows {
		if row.Scope == scope {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// History implements Reader.
func (m *MemoryReader) History(ctx context.Context, scope string, entityType types.EntityType, entityID, metric string, windowDays int) ([]DailyPoint, error) {
	points := m.Series[seriesKey(scope, entityType, entityID, metric)]
	if len(points) > windowDays {
		points = points[len(points)-windowDays:]
	}
	return points, nil
}

// PageQueries implements Reader.
func (m *MemoryReader) PageQueries(ctx context.Context, scope string) ([]PageQueries, error) {
	return m.Pages[scope], nil
}
