package baseline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/loss-prevention/kestrel/internal/domain"
)

// Store loads baseline profiles through the cache and relearns them from
// stored metric samples. Profiles are consumed read-only by scoring;
// expired dimensions are filtered out at load so stale baselines can never
// feed a deviation signal.
type Store struct {
	repo  domain.Repository
	cache domain.Cache

	// LearnWindow is how far back rebuilds read samples.
	LearnWindow time.Duration

	// Validity is how long a rebuilt dimension stays usable.
	Validity time.Duration

	// MinSamples is the floor below which a dimension is not learned.
	MinSamples int

	// CacheTTL bounds staleness of the cached profile.
	CacheTTL time.Duration
}

// NewStore creates a baseline store with production defaults: 30-day learn
// window, 7-day validity.
func NewStore(repo domain.Repository, cache domain.Cache) *Store {
	return &Store{
		repo:        repo,
		cache:       cache,
		LearnWindow: 30 * 24 * time.Hour,
		Validity:    7 * 24 * time.Hour,
		MinSamples:  10,
		CacheTTL:    5 * time.Minute,
	}
}

// Load returns the subject's baseline profile with expired dimensions
// removed. A missing profile or a profile with no live dimensions returns
// ErrInsufficientData.
func (s *Store) Load(ctx context.Context, tenantID, subjectID string) (*domain.BaselineProfile, error) {
	if tenantID == "" || subjectID == "" {
		return nil, fmt.Errorf("%w: tenantID and subjectID are required", domain.ErrValidation)
	}

	profile, err := s.lookup(ctx, tenantID, subjectID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	live := make(map[string]domain.BaselineDimension, len(profile.Dimensions))
	for name, dim := range profile.Dimensions {
		if dim.Expired(now) || dim.SampleCount < s.MinSamples {
			continue
		}
		live[name] = dim
	}
	if len(live) == 0 {
		return nil, fmt.Errorf("%w: no live baseline dimensions for subject %s", domain.ErrInsufficientData, subjectID)
	}

	return &domain.BaselineProfile{
		SubjectID:  profile.SubjectID,
		TenantID:   profile.TenantID,
		Dimensions: live,
		UpdatedAt:  profile.UpdatedAt,
	}, nil
}

func (s *Store) lookup(ctx context.Context, tenantID, subjectID string) (*domain.BaselineProfile, error) {
	if s.cache != nil {
		cached, err := s.cache.GetBaseline(ctx, tenantID, subjectID)
		if err == nil && cached != nil {
			return cached, nil
		}
	}

	profile, err := s.repo.GetBaseline(ctx, tenantID, subjectID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		_ = s.cache.SetBaseline(ctx, tenantID, subjectID, profile, s.CacheTTL)
	}
	return profile, nil
}

// Rebuild relearns every dimension of a subject's baseline from stored
// metric samples and persists the result. Dimensions without enough
// samples are dropped, not zeroed.
func (s *Store) Rebuild(ctx context.Context, tenantID, subjectID string, dimensions []string) (*domain.BaselineProfile, error) {
	if tenantID == "" || subjectID == "" {
		return nil, fmt.Errorf("%w: tenantID and subjectID are required", domain.ErrValidation)
	}
	if len(dimensions) == 0 {
		return nil, fmt.Errorf("%w: at least one dimension is required", domain.ErrValidation)
	}

	now := time.Now().UTC()
	since := now.Add(-s.LearnWindow)

	profile := &domain.BaselineProfile{
		SubjectID:  subjectID,
		TenantID:   tenantID,
		Dimensions: make(map[string]domain.BaselineDimension),
		UpdatedAt:  now,
	}

	for _, name := range dimensions {
		samples, err := s.repo.GetMetricSamples(ctx, tenantID, subjectID, name, since)
		if err != nil {
			return nil, fmt.Errorf("load samples for %s: %w", name, err)
		}
		if len(samples) < s.MinSamples {
			continue
		}

		mean, stddev := meanStdDev(samples)
		profile.Dimensions[name] = domain.BaselineDimension{
			Mean:        mean,
			StdDev:      stddev,
			SampleCount: len(samples),
			LearnedAt:   now,
			ValidUntil:  now.Add(s.Validity),
		}
	}

	if len(profile.Dimensions) == 0 {
		return nil, fmt.Errorf("%w: no dimension reached %d samples", domain.ErrInsufficientData, s.MinSamples)
	}

	if err := s.repo.SaveBaseline(ctx, tenantID, profile); err != nil {
		return nil, fmt.Errorf("%w: save baseline: %v", domain.ErrPersistence, err)
	}
	if s.cache != nil {
		_ = s.cache.SetBaseline(ctx, tenantID, subjectID, profile, s.CacheTTL)
	}

	return profile, nil
}

// meanStdDev computes the sample mean and population standard deviation.
func meanStdDev(samples []domain.MetricSample) (float64, float64) {
	n := float64(len(samples))

	var sum float64
	for _, s := range samples {
		sum += s.Value
	}
	mean := sum / n

	var sq float64
	for _, s := range samples {
		d := s.Value - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / n)
}
