// Package postgres implements the findings repository on PostgreSQL,
// for deployments where several engine instances share one store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rankwatch/insight/internal/repo"
	"github.com/rankwatch/insight/internal/types"
)

// PostgresRepo implements repo.Repository using PostgreSQL.
type PostgresRepo struct {
	pool *pgxpool.Pool
}

var _ repo.Repository = (*PostgresRepo)(nil)

// Config holds PostgreSQL connection configuration.
type Config struct {
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	HealthCheck     time.Duration
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            5432,
		Database:        "insight",
		User:            "insight",
		SSLMode:         "prefer",
		MaxConns:        25,
		MinConns:        5,
		MaxConnLifetime: 1 * time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		HealthCheck:     1 * time.Minute,
	}
}

// New creates a PostgreSQL repository with connection pooling.
func New(ctx context.Context, cfg *Config) (*PostgresRepo, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = cfg.HealthCheck

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &PostgresRepo{pool: pool}, nil
}

// Close closes the connection pool.
func (p *PostgresRepo) Close() error {
	p.pool.Close()
	return nil
}

// Upsert inserts or refreshes a finding keyed by its identity hash. The
// read-then-write runs in one transaction with the conflicting row
// locked, so concurrent engine instances serialize per finding instead
// of per store.
func (p *PostgresRepo) Upsert(ctx context.Context, f *types.Finding) (bool, error) {
	if err := f.Validate(); err != nil {
		return false, fmt.Errorf("validation failed: %w", err)
	}

	metricsJSON, err := json.Marshal(f.Metrics)
	if err != nil {
		return false, fmt.Errorf("failed to marshal metrics: %w", err)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(context.Background())

	if f.LinkedFindingID != "" {
		var linkedCategory string
		err := tx.QueryRow(ctx,
			"SELECT category FROM findings WHERE id = $1", f.LinkedFindingID,
		).Scan(&linkedCategory)
		if errors.Is(err, pgx.ErrNoRows) {
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

	var priorStatus string
	err = tx.QueryRow(ctx,
		"SELECT status FROM findings WHERE id = $1 FOR UPDATE", f.ID,
	).Scan(&priorStatus)
	inserted := errors.Is(err, pgx.ErrNoRows)
	if err != nil && !inserted {
		return false, fmt.Errorf("failed to read prior status: %w", err)
	}

	now := time.Now().UTC()
	if inserted {
		f.CreatedAt = now
	}
	f.UpdatedAt = now

	_, err = tx.Exec(ctx, `
		INSERT INTO findings (
			id, scope, entity_type, entity_id, category, source, window_days,
			severity, confidence, title, description, metrics, status,
			linked_finding_id, created_at, updated_at, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NULL)
		ON CONFLICT (id) DO UPDATE SET
			severity = EXCLUDED.severity,
			confidence = EXCLUDED.confidence,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			metrics = EXCLUDED.metrics,
			updated_at = EXCLUDED.updated_at,
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
	case types.Status(priorStatus).IsTerminal():
		eventType = repo.EventReopened
		oldValue = priorStatus
	default:
		eventType = repo.EventRedetected
		oldValue = priorStatus
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO finding_events (finding_id, event_type, actor, old_value, new_value, created_at)
		VALUES ($1, $2, 'engine', $3, $4, $5)
	`, f.ID, eventType, oldValue, string(metricsJSON), now)
	if err != nil {
		return false, fmt.Errorf("failed to record event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return inserted, nil
}

// Get retrieves a finding by ID.
func (p *PostgresRepo) Get(ctx context.Context, id string) (*types.Finding, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, scope, entity_type, entity_id, category, source, window_days,
		       severity, confidence, title, description, metrics, status,
		       linked_finding_id, created_at, updated_at, resolved_at
		FROM findings
		WHERE id = $1
	`, id)

	f, err := scanFinding(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("finding %s: %w", id, repo.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get finding: %w", err)
	}
	return f, nil
}

// Query returns findings matching the filter, most recently updated first.
func (p *PostgresRepo) Query(ctx context.Context, filter types.FindingFilter) ([]*types.Finding, error) {
	var conditions []string
	var args []any

	add := func(clause string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	if filter.Scope != nil {
		add("scope = $%d", *filter.Scope)
	}
	if filter.EntityType != nil {
		add("entity_type = $%d", *filter.EntityType)
	}
	if filter.EntityID != nil {
		add("entity_id = $%d", *filter.EntityID)
	}
	if filter.Category != nil {
		add("category = $%d", *filter.Category)
	}
	if filter.Severity != nil {
		add("severity = $%d", *filter.Severity)
	}
	if filter.Status != nil {
		add("status = $%d", *filter.Status)
	}
	if filter.Since != nil {
		add("updated_at >= $%d", filter.Since.UTC())
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
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.pool.Query(ctx, query, args...)
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
// record.
func (p *PostgresRepo) TransitionStatus(ctx context.Context, id string, next types.Status, actor string) (*types.Finding, error) {
	if !next.IsValid() {
		return nil, fmt.Errorf("status %q: %w", next, repo.ErrInvalidTransition)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(context.Background())

	var current string
	err = tx.QueryRow(ctx, "SELECT status FROM findings WHERE id = $1 FOR UPDATE", id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("finding %s: %w", id, repo.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read status: %w", err)
	}

	if !types.Status(current).CanTransitionTo(next) {
		return nil, fmt.Errorf("%s -> %s: %w", current, next, repo.ErrInvalidTransition)
	}

	now := time.Now().UTC()
	var resolvedAt any
	if next == types.StatusResolved {
		resolvedAt = now
	}
	_, err = tx.Exec(ctx,
		"UPDATE findings SET status = $1, updated_at = $2, resolved_at = $3 WHERE id = $4",
		next, now, resolvedAt, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update status: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO finding_events (finding_id, event_type, actor, old_value, new_value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, repo.EventStatusChanged, actor, current, string(next), now)
	if err != nil {
		return nil, fmt.Errorf("failed to record event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return p.Get(ctx, id)
}

// ChangedSince returns findings touched at or after the given instant.
func (p *PostgresRepo) ChangedSince(ctx context.Context, since time.Time) ([]*types.Finding, error) {
	t := since
	return p.Query(ctx, types.FindingFilter{Since: &t})
}

// Statistics returns aggregate finding counts.
func (p *PostgresRepo) Statistics(ctx context.Context) (*types.Statistics, error) {
	stats := &types.Statistics{
		ByCategory: make(map[types.Category]int),
		BySeverity: make(map[types.Severity]int),
		ByStatus:   make(map[types.Status]int),
	}

	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM findings").Scan(&stats.TotalFindings); err != nil {
		return nil, fmt.Errorf("failed to count findings: %w", err)
	}

	rows, err := p.pool.Query(ctx, "SELECT category, severity, status, COUNT(*) FROM findings GROUP BY category, severity, status")
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate findings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var category, severity, status string
		var count int
		if err := rows.Scan(&category, &severity, &status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate row: %w", err)
		}
		stats.ByCategory[types.Category(category)] += count
		stats.BySeverity[types.Severity(severity)] += count
		stats.ByStatus[types.Status(status)] += count
	}
	return stats, rows.Err()
}

func scanFinding(row pgx.Row) (*types.Finding, error) {
	var f types.Finding
	var metricsJSON []byte
	var linkedID *string
	var resolvedAt *time.Time

	err := row.Scan(
		&f.ID, &f.Scope, &f.EntityType, &f.EntityID, &f.Category, &f.Source,
		&f.WindowDays, &f.Severity, &f.Confidence, &f.Title, &f.Description,
		&metricsJSON, &f.Status, &linkedID, &f.CreatedAt, &f.UpdatedAt,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(metricsJSON) > 0 && string(metricsJSON) != "{}" {
		if err := json.Unmarshal(metricsJSON, &f.Metrics); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
		}
	}
	if linkedID != nil {
		f.LinkedFindingID = *linkedID
	}
	f.ResolvedAt = resolvedAt
	return &f, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
