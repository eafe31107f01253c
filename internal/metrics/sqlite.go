package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rankwatch/insight/internal/types"
)

// SQLiteReader reads the metric view from a SQLite database maintained by
// the ingestion layer. The reader opens the file read-only; the engine has
// no write path into the metric store.
//
// Expected tables (created by ingestion, not by this package):
//
//	metric_daily(scope, entity_type, entity_id, date,
//	             <metric>, <metric>_prev7, <metric>_prev28,
//	             <metric>_avg7, <metric>_avg28  for clicks/impressions/position/conversions,
//	             quality_score, lcp_millis, cls, inp_millis)
//	page_query_clicks(scope, page, query, clicks_28d)
type SQLiteReader struct {
	db *sql.DB
}

// NewSQLiteReader opens the metric database read-only.
func NewSQLiteReader(path string) (*SQLiteReader, error) {
	db, err := sql.Open("sqlite3", path+"?mode=ro&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open metric database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping metric database: %w", err)
	}
	return &SQLiteReader{db: db}, nil
}

// Close closes the database connection.
func (r *SQLiteReader) Close() error {
	return r.db.Close()
}

// Scopes implements Reader.
func (r *SQLiteReader) Scopes(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT scope FROM metric_daily ORDER BY scope`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scopes: %w", err)
	}
	defer rows.Close()

	var scopes []string
	for rows.Next() {
		var scope string
		if err := rows.Scan(&scope); err != nil {
			return nil, fmt.Errorf("failed to scan scope: %w", err)
		}
		scopes = append(scopes, scope)
	}
	return scopes, rows.Err()
}

// LatestRows implements Reader.
func (r *SQLiteReader) LatestRows(ctx context.Context, scope string) ([]types.MetricRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT entity_type, entity_id, date,
		       clicks, clicks_prev7, clicks_prev28, clicks_avg7, clicks_avg28,
		       impressions, impressions_prev7, impressions_prev28, impressions_avg7, impressions_avg28,
		       position, position_prev7, position_prev28, position_avg7, position_avg28,
		       conversions, conversions_prev7, conversions_prev28, conversions_avg7, conversions_avg28,
		       quality_score, lcp_millis, cls, inp_millis
		FROM metric_daily
		WHERE scope = ?
		  AND date = (SELECT MAX(date) FROM metric_daily WHERE scope = ?)
	`, scope, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest rows: %w", err)
	}
	defer rows.Close()

	var result []types.MetricRow
	for rows.Next() {
		row, err := scanMetricRow(rows, scope)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func scanMetricRow(rows *sql.Rows, scope string) (types.MetricRow, error) {
	var (
		row        types.MetricRow
		entityType string
		date       time.Time

		clicks      metricCols
		impressions metricCols
		position    metricCols
		conversions metricCols

		quality, lcp, cls, inp sql.NullFloat64
	)

	err := rows.Scan(
		&entityType, &row.EntityID, &date,
		&clicks.current, &clicks.prev7, &clicks.prev28, &clicks.avg7, &clicks.avg28,
		&impressions.current, &impressions.prev7, &impressions.prev28, &impressions.avg7, &impressions.avg28,
		&position.current, &position.prev7, &position.prev28, &position.avg7, &position.avg28,
		&conversions.current, &conversions.prev7, &conversions.prev28, &conversions.avg7, &conversions.avg28,
		&quality, &lcp, &cls, &inp,
	)
	if err != nil {
		return row, fmt.Errorf("failed to scan metric row: %w", err)
	}

	row.Scope = scope
	row.EntityType = types.EntityType(entityType)
	row.Date = date
	row.Clicks = clicks.toValue()
	row.Impressions = impressions.toValue()
	row.Position = position.toValue()
	row.Conversions = conversions.toValue()
	row.QualityScore = nullToPtr(quality)
	row.LCPMillis = nullToPtr(lcp)
	row.CLS = nullToPtr(cls)
	row.INPMillis = nullToPtr(inp)
	return row, nil
}

// metricCols groups one metric's scan targets. NULL trailing values stay
// nil pointers: insufficient history, not zero.
type metricCols struct {
	current                    float64
	prev7, prev28, avg7, avg28 sql.NullFloat64
}

func (c metricCols) toValue() types.MetricValue {
	return types.MetricValue{
		Current: c.current,
		Prev7d:  nullToPtr(c.prev7),
		Prev28d: nullToPtr(c.prev28),
		Avg7d:   nullToPtr(c.avg7),
		Avg28d:  nullToPtr(c.avg28),
	}
}

func nullToPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// validMetric guards the column name interpolated into History's query.
var validMetric = map[string]bool{
	MetricClicks:      true,
	MetricImpressions: true,
	MetricPosition:    true,
	MetricConversions: true,
}

// History implements Reader.
func (r *SQLiteReader) History(ctx context.Context, scope string, entityType types.EntityType, entityID, metric string, windowDays int) ([]DailyPoint, error) {
	if !validMetric[metric] {
		return nil, fmt.Errorf("unknown metric: %s", metric)
	}

	query := fmt.Sprintf(`
		SELECT date, %s
		FROM metric_daily
		WHERE scope = ? AND entity_type = ? AND entity_id = ?
		  AND date >= date((SELECT MAX(date) FROM metric_daily WHERE scope = ?), ?)
		ORDER BY date ASC
	`, metric)

	offset := fmt.Sprintf("-%d days", windowDays)
	rows, err := r.db.QueryContext(ctx, query, scope, string(entityType), entityID, scope, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var points []DailyPoint
	for rows.Next() {
		var p DailyPoint
		if err := rows.Scan(&p.Date, &p.Value); err != nil {
			return nil, fmt.Errorf("failed to scan history point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// PageQueries implements Reader.
func (r *SQLiteReader) PageQueries(ctx context.Context, scope string) ([]PageQueries, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT page, query, clicks_28d
		FROM page_query_clicks
		WHERE scope = ?
		ORDER BY page
	`, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to query page queries: %w", err)
	}
	defer rows.Close()

	byPage := make(map[string]map[string]float64)
	var order []string
	for rows.Next() {
		var page, query string
		var clicks float64
		if err := rows.Scan(&page, &query, &clicks); err != nil {
			return nil, fmt.Errorf("failed to scan page query row: %w", err)
		}
		if _, ok := byPage[page]; !ok {
			byPage[page] = make(map[string]float64)
			order = append(order, page)
		}
		byPage[page][query] = clicks
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]PageQueries, 0, len(order))
	for _, page := range order {
		result = append(result, PageQueries{Page: page, Queries: byPage[page]})
	}
	return result, nil
}
