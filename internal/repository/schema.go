package repository

// Schema definitions for Kestrel.
// Compatible with both SQLite and PostgreSQL.

const schemaBaselines = `
CREATE TABLE IF NOT EXISTS baseline_profiles (
    subject_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    dimensions TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (subject_id, tenant_id)
);
`

const schemaMetricSamples = `
CREATE TABLE IF NOT EXISTS metric_samples (
    tenant_id TEXT NOT NULL,
    subject_id TEXT NOT NULL,
    dimension TEXT NOT NULL,
    value REAL NOT NULL,
    observed_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_metric_samples_lookup
    ON metric_samples(tenant_id, subject_id, dimension, observed_at);
`

const schemaEvents = `
CREATE TABLE IF NOT EXISTS event_records (
    event_id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    subject_ref TEXT NOT NULL,
    kind TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    location_ref TEXT,
    confidence REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_event_records_lookup
    ON event_records(tenant_id, subject_ref, kind, timestamp);
`

const schemaScores = `
CREATE TABLE IF NOT EXISTS composite_scores (
    subject_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    score_id TEXT NOT NULL,
    total REAL NOT NULL,
    risk_level TEXT NOT NULL,
    contributing TEXT NOT NULL,
    contributions TEXT,
    bonus_applied INTEGER NOT NULL DEFAULT 0,
    agreeing_sources TEXT,
    computed_at TIMESTAMP NOT NULL,
    PRIMARY KEY (subject_id, tenant_id)
);
`

const schemaPackages = `
CREATE TABLE IF NOT EXISTS investigation_packages (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    subject_id TEXT NOT NULL,
    composite_total REAL NOT NULL,
    risk_level TEXT NOT NULL,
    severity_label TEXT NOT NULL,
    top_signals TEXT NOT NULL,
    bonus_applied INTEGER NOT NULL DEFAULT 0,
    agreeing_sources TEXT,
    patterns TEXT,
    generated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_packages_subject
    ON investigation_packages(tenant_id, subject_id);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    subject_id TEXT NOT NULL,
    risk_level TEXT NOT NULL,
    score REAL NOT NULL,
    throttled INTEGER NOT NULL DEFAULT 0,
    package_id TEXT,
    triggered_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_subject
    ON alerts(tenant_id, subject_id, triggered_at);
`

const schemaThrottle = `
CREATE TABLE IF NOT EXISTS throttle_states (
    subject_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    last_alert_at TIMESTAMP,
    alerts_in_window INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (subject_id, tenant_id)
);
`

const schemaIndicators = `
CREATE TABLE IF NOT EXISTS indicator_configs (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 1.0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_indicator_configs_tenant
    ON indicator_configs(tenant_id, enabled);
`

// AllSchemas returns every schema statement in creation order.
func AllSchemas() []string {
	return []string{
		schemaBaselines,
		schemaMetricSamples,
		schemaEvents,
		schemaScores,
		schemaPackages,
		schemaAlerts,
		schemaThrottle,
		schemaIndicators,
	}
}
