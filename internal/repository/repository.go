// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/loss-prevention/kestrel/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveBaseline stores a baseline profile with tenant isolation.
func (r *SQLRepository) SaveBaseline(ctx context.Context, tenantID string, profile *domain.BaselineProfile) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	dimensions, err := json.Marshal(profile.Dimensions)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO baseline_profiles (subject_id, tenant_id, dimensions, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(subject_id, tenant_id) DO UPDATE SET
			dimensions = excluded.dimensions,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		profile.SubjectID, tenantID, string(dimensions), profile.UpdatedAt,
	)
	return err
}

// GetBaseline retrieves a baseline profile with tenant isolation.
func (r *SQLRepository) GetBaseline(ctx context.Context, tenantID string, subjectID string) (*domain.BaselineProfile, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	query := `
		SELECT subject_id, tenant_id, dimensions, updated_at
		FROM baseline_profiles
		WHERE tenant_id = ? AND subject_id = ?
	`

	var p domain.BaselineProfile
	var dimensions string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, subjectID).Scan(
		&p.SubjectID, &p.TenantID, &dimensions, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(dimensions), &p.Dimensions); err != nil {
		return nil, fmt.Errorf("failed to parse baseline dimensions: %w", err)
	}

	return &p, nil
}

// SaveMetricSample stores one metric observation.
func (r *SQLRepository) SaveMetricSample(ctx context.Context, tenantID string, sample *domain.MetricSample) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	query := `
		INSERT INTO metric_samples (tenant_id, subject_id, dimension, value, observed_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tenantID, sample.SubjectID, sample.Dimension, sample.Value, sample.ObservedAt,
	)
	return err
}

// GetMetricSamples retrieves samples for one dimension since a cutoff.
func (r *SQLRepository) GetMetricSamples(ctx context.Context, tenantID string, subjectID string, dimension string, since time.Time) ([]domain.MetricSample, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	query := `
		SELECT subject_id, dimension, value, observed_at
		FROM metric_samples
		WHERE tenant_id = ? AND subject_id = ? AND dimension = ? AND observed_at >= ?
		ORDER BY observed_at ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, subjectID, dimension, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []domain.MetricSample
	for rows.Next() {
		var s domain.MetricSample
		if err := rows.Scan(&s.SubjectID, &s.Dimension, &s.Value, &s.ObservedAt); err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}

	return samples, rows.Err()
}

// SaveEvent stores an event record.
func (r *SQLRepository) SaveEvent(ctx context.Context, tenantID string, event *domain.EventRecord) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	query := `
		INSERT INTO event_records (event_id, tenant_id, subject_ref, kind, timestamp, location_ref, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		event.EventID, tenantID, event.SubjectRef, string(event.Kind),
		event.Timestamp, event.LocationRef, event.Confidence,
	)
	return err
}

// GetEventsByKind retrieves a subject's events of one kind in a time range.
func (r *SQLRepository) GetEventsByKind(ctx context.Context, tenantID string, subjectID string, kind domain.EventKind, from, to time.Time) ([]domain.EventRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	query := `
		SELECT event_id, subject_ref, kind, timestamp, location_ref, confidence
		FROM event_records
		WHERE tenant_id = ? AND subject_ref = ? AND kind = ?
		  AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, subjectID, string(kind), from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.EventRecord
	for rows.Next() {
		var e domain.EventRecord
		var k string
		var location sql.NullString
		if err := rows.Scan(&e.EventID, &e.SubjectRef, &k, &e.Timestamp, &location, &e.Confidence); err != nil {
			return nil, err
		}
		e.Kind = domain.EventKind(k)
		e.LocationRef = location.String
		events = append(events, e)
	}

	return events, rows.Err()
}

// SaveCompositeScore stores the latest score for a subject. Last write
// wins per (subject, tenant); earlier runs are superseded, never merged.
func (r *SQLRepository) SaveCompositeScore(ctx context.Context, tenantID string, score *domain.CompositeScore) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	contributing, _ := json.Marshal(score.Contributing)
	contributions, _ := json.Marshal(score.Contributions)
	agreeing, _ := json.Marshal(score.AgreeingSources)

	bonus := 0
	if score.CorrelationBonusApplied {
		bonus = 1
	}

	query := `
		INSERT INTO composite_scores (
			subject_id, tenant_id, score_id, total, risk_level,
			contributing, contributions, bonus_applied, agreeing_sources, computed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(subject_id, tenant_id) DO UPDATE SET
			score_id = excluded.score_id,
			total = excluded.total,
			risk_level = excluded.risk_level,
			contributing = excluded.contributing,
			contributions = excluded.contributions,
			bonus_applied = excluded.bonus_applied,
			agreeing_sources = excluded.agreeing_sources,
			computed_at = excluded.computed_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		score.SubjectID, tenantID, score.ID, score.Total, string(score.RiskLevel),
		string(contributing), string(contributions), bonus, string(agreeing), score.ComputedAt,
	)
	return err
}

// GetCompositeScore retrieves the latest score for a subject.
func (r *SQLRepository) GetCompositeScore(ctx context.Context, tenantID string, subjectID string) (*domain.CompositeScore, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	query := `
		SELECT subject_id, tenant_id, score_id, total, risk_level,
		       contributing, contributions, bonus_applied, agreeing_sources, computed_at
		FROM composite_scores
		WHERE tenant_id = ? AND subject_id = ?
	`

	var s domain.CompositeScore
	var riskLevel, contributing, contributions, agreeing string
	var bonus int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, subjectID).Scan(
		&s.SubjectID, &s.TenantID, &s.ID, &s.Total, &riskLevel,
		&contributing, &contributions, &bonus, &agreeing, &s.ComputedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	s.RiskLevel = domain.RiskLevel(riskLevel)
	s.CorrelationBonusApplied = bonus == 1
	json.Unmarshal([]byte(contributing), &s.Contributing)
	json.Unmarshal([]byte(contributions), &s.Contributions)
	json.Unmarshal([]byte(agreeing), &s.AgreeingSources)

	return &s, nil
}

// SavePackage stores an investigation package with tenant isolation.
func (r *SQLRepository) SavePackage(ctx context.Context, tenantID string, pkg *domain.InvestigationPackage) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	topSignals, _ := json.Marshal(pkg.TopSignals)
	agreeing, _ := json.Marshal(pkg.AgreeingSources)
	patterns, _ := json.Marshal(pkg.Patterns)

	bonus := 0
	if pkg.CorrelationBonusApplied {
		bonus = 1
	}

	query := `
		INSERT INTO investigation_packages (
			id, tenant_id, subject_id, composite_total, risk_level, severity_label,
			top_signals, bonus_applied, agreeing_sources, patterns, generated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		pkg.ID, tenantID, pkg.SubjectID, pkg.CompositeTotal, string(pkg.RiskLevel), pkg.SeverityLabel,
		string(topSignals), bonus, string(agreeing), string(patterns), pkg.GeneratedAt,
	)
	return err
}

// GetPackage retrieves an investigation package by ID.
func (r *SQLRepository) GetPackage(ctx context.Context, tenantID string, packageID string) (*domain.InvestigationPackage, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	query := `
		SELECT id, tenant_id, subject_id, composite_total, risk_level, severity_label,
		       top_signals, bonus_applied, agreeing_sources, patterns, generated_at
		FROM investigation_packages
		WHERE tenant_id = ? AND id = ?
	`

	var p domain.InvestigationPackage
	var riskLevel, topSignals, agreeing, patterns string
	var bonus int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, packageID).Scan(
		&p.ID, &p.TenantID, &p.SubjectID, &p.CompositeTotal, &riskLevel, &p.SeverityLabel,
		&topSignals, &bonus, &agreeing, &patterns, &p.GeneratedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.RiskLevel = domain.RiskLevel(riskLevel)
	p.CorrelationBonusApplied = bonus == 1
	json.Unmarshal([]byte(topSignals), &p.TopSignals)
	json.Unmarshal([]byte(agreeing), &p.AgreeingSources)
	json.Unmarshal([]byte(patterns), &p.Patterns)

	return &p, nil
}

// SaveAlert stores an alert record.
func (r *SQLRepository) SaveAlert(ctx context.Context, tenantID string, alert *domain.Alert) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	throttled := 0
	if alert.Throttled {
		throttled = 1
	}

	query := `
		INSERT INTO alerts (id, tenant_id, subject_id, risk_level, score, throttled, package_id, triggered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		alert.ID, tenantID, alert.SubjectID, string(alert.RiskLevel),
		alert.Score, throttled, alert.PackageID, alert.TriggeredAt,
	)
	return err
}

// ListAlerts retrieves a subject's alerts since a cutoff.
func (r *SQLRepository) ListAlerts(ctx context.Context, tenantID string, subjectID string, since time.Time) ([]domain.Alert, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	query := `
		SELECT id, subject_id, risk_level, score, throttled, package_id, triggered_at
		FROM alerts
		WHERE tenant_id = ? AND subject_id = ? AND triggered_at >= ?
		ORDER BY triggered_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, subjectID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []domain.Alert
	for rows.Next() {
		var a domain.Alert
		var riskLevel string
		var throttled int
		var packageID sql.NullString
		if err := rows.Scan(&a.ID, &a.SubjectID, &riskLevel, &a.Score, &throttled, &packageID, &a.TriggeredAt); err != nil {
			return nil, err
		}
		a.TenantID = tenantID
		a.RiskLevel = domain.RiskLevel(riskLevel)
		a.Throttled = throttled == 1
		a.PackageID = packageID.String
		alerts = append(alerts, a)
	}

	return alerts, rows.Err()
}

// GetThrottleState retrieves the per-subject cooldown record. Subjects
// that never alerted get a zero state, not an error.
func (r *SQLRepository) GetThrottleState(ctx context.Context, tenantID string, subjectID string) (*domain.ThrottleState, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	query := `
		SELECT subject_id, last_alert_at, alerts_in_window
		FROM throttle_states
		WHERE tenant_id = ? AND subject_id = ?
	`

	var s domain.ThrottleState
	var lastAlert sql.NullTime

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, subjectID).Scan(
		&s.SubjectID, &lastAlert, &s.AlertsInWindow,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.ThrottleState{SubjectID: subjectID, TenantID: tenantID}, nil
	}
	if err != nil {
		return nil, err
	}

	s.TenantID = tenantID
	if lastAlert.Valid {
		s.LastAlertAt = lastAlert.Time
	}
	return &s, nil
}

// AcquireAlertSlot atomically claims the subject's alert slot. The upsert
// only fires its UPDATE when the cooldown has elapsed, so the rows-affected
// count is the check-and-set: exactly one of N concurrent callers wins.
func (r *SQLRepository) AcquireAlertSlot(ctx context.Context, tenantID string, subjectID string, now time.Time, window time.Duration) (bool, *domain.ThrottleState, error) {
	if tenantID == "" {
		return false, nil, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}
	if window <= 0 {
		return false, nil, fmt.Errorf("%w: window must be > 0", domain.ErrValidation)
	}

	cutoff := now.Add(-window)

	query := `
		INSERT INTO throttle_states (subject_id, tenant_id, last_alert_at, alerts_in_window)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(subject_id, tenant_id) DO UPDATE SET
			last_alert_at = excluded.last_alert_at,
			alerts_in_window = throttle_states.alerts_in_window + 1
		WHERE throttle_states.last_alert_at IS NULL
		   OR throttle_states.last_alert_at <= ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), subjectID, tenantID, now, cutoff)
	if err != nil {
		return false, nil, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, nil, err
	}

	state, stateErr := r.GetThrottleState(ctx, tenantID, subjectID)
	if stateErr != nil {
		return affected > 0, nil, stateErr
	}
	return affected > 0, state, nil
}

// SaveIndicator stores an indicator configuration with tenant isolation.
func (r *SQLRepository) SaveIndicator(ctx context.Context, tenantID string, cfg *domain.IndicatorConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	enabled := 0
	if cfg.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO indicator_configs (
			id, tenant_id, name, description, version, expression, weight, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			weight = excluded.weight,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		cfg.ID, tenantID, cfg.Name, cfg.Description,
		cfg.Version, cfg.Expression, cfg.Weight, enabled,
		now, now,
	)
	return err
}

// ListIndicators retrieves all active indicator configurations for a tenant.
func (r *SQLRepository) ListIndicators(ctx context.Context, tenantID string) ([]*domain.IndicatorConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, weight, enabled
		FROM indicator_configs
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.IndicatorConfig
	for rows.Next() {
		var cfg domain.IndicatorConfig
		var description sql.NullString
		var enabled int
		if err := rows.Scan(
			&cfg.ID, &cfg.TenantID, &cfg.Name, &description,
			&cfg.Version, &cfg.Expression, &cfg.Weight, &enabled,
		); err != nil {
			return nil, err
		}
		cfg.Description = description.String
		cfg.Enabled = enabled == 1
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}

// ListSubjects returns every subject with a baseline for a tenant.
func (r *SQLRepository) ListSubjects(ctx context.Context, tenantID string) ([]string, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}

	query := `
		SELECT subject_id FROM baseline_profiles
		WHERE tenant_id = ?
		ORDER BY subject_id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subjects []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		subjects = append(subjects, id)
	}

	return subjects, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
