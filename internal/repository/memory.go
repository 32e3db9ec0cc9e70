package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/loss-prevention/kestrel/internal/domain"
)

// MemoryRepository is an in-memory domain.Repository used by tests and
// ephemeral deployments. Throttle acquisition holds the same atomic
// check-and-set contract as the SQL implementation, here via a single
// mutex over the state map.
type MemoryRepository struct {
	mu sync.Mutex

	baselines  map[string]*domain.BaselineProfile
	samples    map[string][]domain.MetricSample
	events     map[string][]domain.EventRecord
	scores     map[string]*domain.CompositeScore
	packages   map[string]*domain.InvestigationPackage
	alerts     map[string][]domain.Alert
	throttle   map[string]*domain.ThrottleState
	indicators map[string][]*domain.IndicatorConfig
	subjects   map[string]map[string]struct{}
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{
		baselines:  make(map[string]*domain.BaselineProfile),
		samples:    make(map[string][]domain.MetricSample),
		events:     make(map[string][]domain.EventRecord),
		scores:     make(map[string]*domain.CompositeScore),
		packages:   make(map[string]*domain.InvestigationPackage),
		alerts:     make(map[string][]domain.Alert),
		throttle:   make(map[string]*domain.ThrottleState),
		indicators: make(map[string][]*domain.IndicatorConfig),
		subjects:   make(map[string]map[string]struct{}),
	}
}

func key(tenantID, id string) string {
	return tenantID + ":" + id
}

func (r *MemoryRepository) trackSubject(tenantID, subjectID string) {
	if r.subjects[tenantID] == nil {
		r.subjects[tenantID] = make(map[string]struct{})
	}
	r.subjects[tenantID][subjectID] = struct{}{}
}

// SaveBaseline stores a baseline profile.
func (r *MemoryRepository) SaveBaseline(ctx context.Context, tenantID string, profile *domain.BaselineProfile) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *profile
	r.baselines[key(tenantID, profile.SubjectID)] = &cp
	r.trackSubject(tenantID, profile.SubjectID)
	return nil
}

// GetBaseline retrieves a baseline profile.
func (r *MemoryRepository) GetBaseline(ctx context.Context, tenantID string, subjectID string) (*domain.BaselineProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.baselines[key(tenantID, subjectID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// SaveMetricSample appends a metric sample.
func (r *MemoryRepository) SaveMetricSample(ctx context.Context, tenantID string, sample *domain.MetricSample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(tenantID, sample.SubjectID)
	r.samples[k] = append(r.samples[k], *sample)
	r.trackSubject(tenantID, sample.SubjectID)
	return nil
}

// GetMetricSamples returns samples for one dimension since a cutoff.
func (r *MemoryRepository) GetMetricSamples(ctx context.Context, tenantID string, subjectID string, dimension string, since time.Time) ([]domain.MetricSample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.MetricSample
	for _, s := range r.samples[key(tenantID, subjectID)] {
		if s.Dimension == dimension && !s.ObservedAt.Before(since) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ObservedAt.Before(out[j].ObservedAt) })
	return out, nil
}

// SaveEvent appends an event record.
func (r *MemoryRepository) SaveEvent(ctx context.Context, tenantID string, event *domain.EventRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(tenantID, event.SubjectRef)
	r.events[k] = append(r.events[k], *event)
	r.trackSubject(tenantID, event.SubjectRef)
	return nil
}

// GetEventsByKind returns a subject's events of one kind in a time range.
func (r *MemoryRepository) GetEventsByKind(ctx context.Context, tenantID string, subjectID string, kind domain.EventKind, from, to time.Time) ([]domain.EventRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.EventRecord
	for _, e := range r.events[key(tenantID, subjectID)] {
		if e.Kind == kind && !e.Timestamp.Before(from) && !e.Timestamp.After(to) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// SaveCompositeScore stores the latest score for a subject (last write wins).
func (r *MemoryRepository) SaveCompositeScore(ctx context.Context, tenantID string, score *domain.CompositeScore) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *score
	r.scores[key(tenantID, score.SubjectID)] = &cp
	r.trackSubject(tenantID, score.SubjectID)
	return nil
}

// GetCompositeScore retrieves the latest score for a subject.
func (r *MemoryRepository) GetCompositeScore(ctx context.Context, tenantID string, subjectID string) (*domain.CompositeScore, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scores[key(tenantID, subjectID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// SavePackage stores an investigation package.
func (r *MemoryRepository) SavePackage(ctx context.Context, tenantID string, pkg *domain.InvestigationPackage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *pkg
	r.packages[key(tenantID, pkg.ID)] = &cp
	return nil
}

// GetPackage retrieves an investigation package by ID.
func (r *MemoryRepository) GetPackage(ctx context.Context, tenantID string, packageID string) (*domain.InvestigationPackage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.packages[key(tenantID, packageID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// SaveAlert appends an alert record.
func (r *MemoryRepository) SaveAlert(ctx context.Context, tenantID string, alert *domain.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(tenantID, alert.SubjectID)
	r.alerts[k] = append(r.alerts[k], *alert)
	return nil
}

// ListAlerts returns a subject's alerts since a cutoff.
func (r *MemoryRepository) ListAlerts(ctx context.Context, tenantID string, subjectID string, since time.Time) ([]domain.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Alert
	for _, a := range r.alerts[key(tenantID, subjectID)] {
		if !a.TriggeredAt.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

// GetThrottleState returns the current throttle state, or a zero state for
// subjects that never alerted.
func (r *MemoryRepository) GetThrottleState(ctx context.Context, tenantID string, subjectID string) (*domain.ThrottleState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.throttle[key(tenantID, subjectID)]
	if !ok {
		return &domain.ThrottleState{SubjectID: subjectID, TenantID: tenantID}, nil
	}
	cp := *s
	return &cp, nil
}

// AcquireAlertSlot atomically claims the subject's alert slot when the
// cooldown window has elapsed. The check and the transition happen under
// one lock, so concurrent callers serialize per the contract.
func (r *MemoryRepository) AcquireAlertSlot(ctx context.Context, tenantID string, subjectID string, now time.Time, window time.Duration) (bool, *domain.ThrottleState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(tenantID, subjectID)
	state, ok := r.throttle[k]
	if !ok {
		state = &domain.ThrottleState{SubjectID: subjectID, TenantID: tenantID}
		r.throttle[k] = state
	}

	if state.CoolingDown(now, window) {
		cp := *state
		return false, &cp, nil
	}

	state.LastAlertAt = now
	state.AlertsInWindow = 1
	cp := *state
	return true, &cp, nil
}

// SaveIndicator stores or replaces an indicator configuration.
func (r *MemoryRepository) SaveIndicator(ctx context.Context, tenantID string, cfg *domain.IndicatorConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *cfg
	list := r.indicators[tenantID]
	for i, existing := range list {
		if existing.ID == cfg.ID {
			list[i] = &cp
			return nil
		}
	}
	r.indicators[tenantID] = append(list, &cp)
	return nil
}

// ListIndicators returns all enabled indicators for a tenant.
func (r *MemoryRepository) ListIndicators(ctx context.Context, tenantID string) ([]*domain.IndicatorConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.IndicatorConfig
	for _, cfg := range r.indicators[tenantID] {
		if cfg.Enabled {
			cp := *cfg
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ListSubjects returns every subject seen by this repository for a tenant.
func (r *MemoryRepository) ListSubjects(ctx context.Context, tenantID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.subjects[tenantID]))
	for id := range r.subjects[tenantID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Ping always succeeds.
func (r *MemoryRepository) Ping(ctx context.Context) error { return nil }

// Close clears all state.
func (r *MemoryRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.baselines = make(map[string]*domain.BaselineProfile)
	r.samples = make(map[string][]domain.MetricSample)
	r.events = make(map[string][]domain.EventRecord)
	r.scores = make(map[string]*domain.CompositeScore)
	r.packages = make(map[string]*domain.InvestigationPackage)
	r.alerts = make(map[string][]domain.Alert)
	r.throttle = make(map[string]*domain.ThrottleState)
	r.indicators = make(map[string][]*domain.IndicatorConfig)
	r.subjects = make(map[string]map[string]struct{})
	return nil
}
