package postgres

const schema = `
-- Findings table, keyed by the deterministic identity hash
CREATE TABLE IF NOT EXISTS findings (
    id TEXT PRIMARY KEY,
    scope TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    category TEXT NOT NULL,
    source TEXT NOT NULL,
    window_days INTEGER NOT NULL,
    severity TEXT NOT NULL,
    confidence DOUBLE PRECISION NOT NULL CHECK (confidence >= 0.0 AND confidence <= 1.0),
    title TEXT NOT NULL CHECK (length(title) <= 500),
    description TEXT NOT NULL DEFAULT '',
    metrics JSONB NOT NULL DEFAULT '{}',
    status TEXT NOT NULL DEFAULT 'new',
    linked_finding_id TEXT REFERENCES findings(id),
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    resolved_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_findings_scope_status ON findings(scope, status);
CREATE INDEX IF NOT EXISTS idx_findings_category_severity ON findings(category, severity);
CREATE INDEX IF NOT EXISTS idx_findings_entity ON findings(entity_type, entity_id);
CREATE INDEX IF NOT EXISTS idx_findings_updated_at ON findings(updated_at);

-- Audit trail: one row per mutation, never deleted
CREATE TABLE IF NOT EXISTS finding_events (
    id BIGSERIAL PRIMARY KEY,
    finding_id TEXT NOT NULL REFERENCES findings(id),
    event_type TEXT NOT NULL,
    actor TEXT NOT NULL,
    old_value TEXT,
    new_value TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_finding_events_finding ON finding_events(finding_id);
CREATE INDEX IF NOT EXISTS idx_finding_events_created_at ON finding_events(created_at);
`
