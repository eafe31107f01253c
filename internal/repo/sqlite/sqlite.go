// Package sqlite implements the findings repository on SQLite. It is
// the default backend for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rankwatch/insight/internal/repo"
	"github.com/rankwatch/insight/internal/types"
)

// SQLiteRepo implements repo.Repository using SQLite.
type SQLiteRepo struct {
	db *sql.DB
}

var _ repo.Repository = (*SQLiteRepo)(nil)

// New opens (creating if necessary) the findings database at path.
// Special value ":memory:" creates an in-memory database for tests.
func New(path string) (*SQLiteRepo, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// WAL mode so readers (the metric view, the CLI) don't block the
	// engine's write transactions.
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteRepo{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteRepo) Close() error {
	return s.db.Close()
}

// Upsert inserts or refreshes a finding keyed by its identity hash.
//
// The whole operation runs in a single IMMEDIATE transaction so that
// concurrent writers are serialized: BEGIN IMMEDIATE acquires the
// RESERVED lock up front, and database/sql's BeginTx cannot express
// that mode, so we pin a connection and drive the transaction with raw
// SQL the same way the engine's other write paths do.
func (s *SQLiteRepo) Upsert(ctx context.Context, f *types.Finding) (bool, error) {
	if err := f.Validate(); err != nil {
		return false, fmt.Errorf("validation failed: %w", err)
	}

	metricsJSON, err := json.Marshal(f.Metrics)
	if err != nil {
		return false, fmt.Errorf("failed to marshal metrics: %w", err)
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return false, fmt.Errorf("failed to begin immediate transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			// Background context so rollback still runs when ctx is canceled.
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	// A diagnosis must point at a finding that actually exists; a dangling
	// back-reference would send an operator chasing nothing.
	if f.LinkedFindingID != "" {
		var linkedCategory string
		err := conn.QueryRowContext(ctx,
			"SELECT category FROM findings WHERE id = ?", f.LinkedFindingID,
		).Scan(&linkedCategory)
		if err == sql.ErrNoRows {
			return false, fmt.Errorf("linked finding %s: %w", f.LinkedFindingID, repo.ErrNotFound)
		}
		if err != nil {
			return false, fmt.Errorf("failed to check linked finding: %w", err)
		}
		cat := types.Category(linkedCategory)
		if cat != types.CategoryRisk && cat != types.CategoryOpportunity {
			return false, fmt.Errorf("linked finding %s has category %s, want risk or opportunity", f.LinkedFindingID, linkedCategory)
		}
	}

	// Read the prior status so we can report inserted vs re-detected and
	// record the right audit event. The IMMEDIATE lock above makes this
	// read-then-write race-free.
	var priorStatus sql.NullString
	err = conn.QueryRowContext(ctx, "SELECT status FROM findings WHERE id = ?", f.ID).Scan(&priorStatus)
	if err != nil && err != sql.ErrNoRows {
		return false, fmt.Errorf("failed to read prior status: %w", err)
	}
	inserted := err == sql.ErrNoRows

	now := time.Now().UTC()
	if inserted {
		f.CreatedAt = now
	}
	f.UpdatedAt = now

	// Re-detection refreshes evidence but never touches status, with one
	// documented exception: a terminal finding whose condition recurs is
	// re-opened to `new`, since the recurrence is itself meaningful.
	_, err = conn.ExecContext(ctx, `
		INSERT INTO findings (
			id, scope, entity_type, entity_id, category, source, window_days,
			severity, confidence, title, description, metrics, status,
			linked_finding_id, created_at, updated_at, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT(id) DO UPDATE SET
			severity = excluded.severity,
			confidence = excluded.confidence,
			title = excluded.title,
			description = excluded.description,
			metrics = excluded.metrics,
			updated_at = excluded.updated_at,
			status = CASE WHEN findings.status IN ('resolved', 'cancelled')
			              THEN 'new' ELSE findings.status END,
			resolved_at = CASE WHEN findings.status IN ('resolved', 'cancelled')
			              THEN NULL ELSE findings.resolved_at END
	`,
		f.ID, f.Scope, f.EntityType, f.EntityID, f.Category, f.Source,
		f.WindowDays, f.Severity, f.Confidence, f.Title, f.Description,
		string(metricsJSON), f.Status, nullable(f.LinkedFindingID),
		f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert finding: %w", err)
	}

	eventType := repo.EventCreated
	var oldValue any
	switch {
	case inserted:
	case priorStatus.Valid && types.Status(priorStatus.String).IsTerminal():
		eventType = repo.EventReopened
		oldValue = priorStatus.String
	default:
		eventType = repo.EventRedetected
		oldValue = priorStatus.String
	}
	_, err = conn.ExecContext(ctx, `
		INSERT INTO finding_events (finding_id, event_type, actor, old_value, new_value, created_at)
		VALUES (?, ?, 'engine', ?, ?, ?)
	`, f.ID, eventType, oldValue, string(metricsJSON), now)
	if err != nil {
		return false, fmt.Errorf("failed to record event: %w", err)
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	return inserted, nil
}

// Get retrieves a finding by ID.
func (s *SQLiteRepo) Get(ctx context.Context, id string) (*types.Finding, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, scope, entity_type, entity_id, category, source, window_days,
		       severity, confidence, title, description, metrics, status,
		       linked_finding_id, created_at, updated_at, resolved_at
		FROM findings
		WHERE id = ?
	`, id)

	f, err := scanFinding(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("finding %s: %w", id, repo.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get finding: %w", err)
	}
	return f, nil
}

// Query returns findings matching the filter, most recently updated first.
func (s *SQLiteRepo) Query(ctx context.Context, filter types.FindingFilter) ([]*types.Finding, error) {
	var conditions []string
	var args []any

	if filter.Scope != nil {
		conditions = append(conditions, "scope = ?")
		args = append(args, *filter.Scope)
	}
	if filter.EntityType != nil {
		conditions = append(conditions, "entity_type = ?")
		args = append(args, *filter.EntityType)
	}
	if filter.EntityID != nil {
		conditions = append(conditions, "entity_id = ?")
		args = append(args, *filter.EntityID)
	}
	if filter.Category != nil {
		conditions = append(conditions, "category = ?")
		args = append(args, *filter.Category)
	}
	if filter.Severity != nil {
		conditions = append(conditions, "severity = ?")
		args = append(args, *filter.Severity)
	}
	if filter.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, *filter.Status)
	}
	if filter.Since != nil {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, filter.Since.UTC())
	}

	query := `
		SELECT id, scope, entity_type, entity_id, category, source, window_days,
		       severity, confidence, title, description, metrics, status,
		       linked_finding_id, created_at, updated_at, resolved_at
		FROM findings`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY updated_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer rows.Close()

	var findings []*types.Finding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

// TransitionStatus applies a manual lifecycle transition with an audit
// record. Re-opening is not a manual transition: re-detection through
// Upsert is the only way out of a terminal status.
func (s *SQLiteRepo) TransitionStatus(ctx context.Context, id string, next types.Status, actor string) (*types.Finding, error) {
	if !next.IsValid() {
		return nil, fmt.Errorf("status %q: %w", next, repo.ErrInvalidTransition)
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return nil, fmt.Errorf("failed to begin immediate transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	var current types.Status
	err = conn.QueryRowContext(ctx, "SELECT status FROM findings WHERE id = ?", id).Scan(&current)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("finding %s: %w", id, repo.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read status: %w", err)
	}

	if !current.CanTransitionTo(next) {
		return nil, fmt.Errorf("%s -> %s: %w", current, next, repo.ErrInvalidTransition)
	}

	now := time.Now().UTC()
	var resolvedAt any
	if next == types.StatusResolved {
		resolvedAt = now
	}
	_, err = conn.ExecContext(ctx, `
		UPDATE findings SET status = ?, updated_at = ?, resolved_at = ? WHERE id = ?
	`, next, now, resolvedAt, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update status: %w", err)
	}

	_, err = conn.ExecContext(ctx, `
		INSERT INTO finding_events (finding_id, event_type, actor, old_value, new_value, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, repo.EventStatusChanged, actor, string(current), string(next), now)
	if err != nil {
		return nil, fmt.Errorf("failed to record event: %w", err)
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	return s.Get(ctx, id)
}

// ChangedSince returns findings touched at or after the given instant.
func (s *SQLiteRepo) ChangedSince(ctx context.Context, since time.Time) ([]*types.Finding, error) {
	t := since
	return s.Query(ctx, types.FindingFilter{Since: &t})
}

// Events returns the audit trail for a finding, oldest first.
func (s *SQLiteRepo) Events(ctx context.Context, findingID string) ([]*repo.FindingEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, finding_id, event_type, actor, old_value, new_value, created_at
		FROM finding_events
		WHERE finding_id = ?
		ORDER BY id ASC
	`, findingID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*repo.FindingEvent
	for rows.Next() {
		var e repo.FindingEvent
		var oldValue, newValue sql.NullString
		if err := rows.Scan(&e.ID, &e.FindingID, &e.EventType, &e.Actor,
			&oldValue, &newValue, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.OldValue = oldValue.String
		e.NewValue = newValue.String
		events = append(events, &e)
	}
	return events, rows.Err()
}

// Statistics returns aggregate finding counts.
func (s *SQLiteRepo) Statistics(ctx context.Context) (*types.Statistics, error) {
	stats := &types.Statistics{
		ByCategory: make(map[types.Category]int),
		BySeverity: make(map[types.Severity]int),
		ByStatus:   make(map[types.Status]int),
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM findings").Scan(&stats.TotalFindings); err != nil {
		return nil, fmt.Errorf("failed to count findings: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT category, severity, status, COUNT(*) FROM findings GROUP BY category, severity, status")
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate findings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var category types.Category
		var severity types.Severity
		var status types.Status
		var count int
		if err := rows.Scan(&category, &severity, &status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate row: %w", err)
		}
		stats.ByCategory[category] += count
		stats.BySeverity[severity] += count
		stats.ByStatus[status] += count
	}
	return stats, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for scanFinding.
type scanner interface {
	Scan(dest ...any) error
}

func scanFinding(row scanner) (*types.Finding, error) {
	var f types.Finding
	var metricsJSON string
	var linkedID sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(
		&f.ID, &f.Scope, &f.EntityType, &f.EntityID, &f.Category, &f.Source,
		&f.WindowDays, &f.Severity, &f.Confidence, &f.Title, &f.Description,
		&metricsJSON, &f.Status, &linkedID, &f.CreatedAt, &f.UpdatedAt,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	if metricsJSON != "" && metricsJSON != "{}" {
		if err := json.Unmarshal([]byte(metricsJSON), &f.Metrics); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
		}
	}
	f.LinkedFindingID = linkedID.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		f.ResolvedAt = &t
	}
	return &f, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
