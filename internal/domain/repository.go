package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Baseline operations
	SaveBaseline(ctx context.Context, tenantID string, profile *BaselineProfile) error
	GetBaseline(ctx context.Context, tenantID string, subjectID string) (*BaselineProfile, error)

	// Metric samples feeding baseline learning
	SaveMetricSample(ctx context.Context, tenantID string, sample *MetricSample) error
	GetMetricSamples(ctx context.Context, tenantID string, subjectID string, dimension string, since time.Time) ([]MetricSample, error)

	// Event streams for correlation
	SaveEvent(ctx context.Context, tenantID string, event *EventRecord) error
	GetEventsByKind(ctx context.Context, tenantID string, subjectID string, kind EventKind, from, to time.Time) ([]EventRecord, error)

	// Composite scores (last write per subject wins)
	SaveCompositeScore(ctx context.Context, tenantID string, score *CompositeScore) error
	GetCompositeScore(ctx context.Context, tenantID string, subjectID string) (*CompositeScore, error)

	// Investigation packages
	SavePackage(ctx context.Context, tenantID string, pkg *InvestigationPackage) error
	GetPackage(ctx context.Context, tenantID string, packageID string) (*InvestigationPackage, error)

	// Alerts
	SaveAlert(ctx context.Context, tenantID string, alert *Alert) error
	ListAlerts(ctx context.Context, tenantID string, subjectID string, since time.Time) ([]Alert, error)

	// Throttle state. AcquireAlertSlot is the atomic check-and-set: it
	// transitions the subject to cooling-down and returns true only when the
	// cooldown window has elapsed, even under concurrent callers.
	GetThrottleState(ctx context.Context, tenantID string, subjectID string) (*ThrottleState, error)
	AcquireAlertSlot(ctx context.Context, tenantID string, subjectID string, now time.Time, window time.Duration) (bool, *ThrottleState, error)

	// Indicator configuration
	SaveIndicator(ctx context.Context, tenantID string, cfg *IndicatorConfig) error
	ListIndicators(ctx context.Context, tenantID string) ([]*IndicatorConfig, error)

	// Subjects known to the sweep
	ListSubjects(ctx context.Context, tenantID string) ([]string, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
