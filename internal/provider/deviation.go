package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/loss-prevention/kestrel/internal/baseline"
	"github.com/loss-prevention/kestrel/internal/domain"
)

// DeviationProvider compares a subject's recent metrics against its learned
// baseline and reports the worst deviation as the behavior signal.
type DeviationProvider struct {
	store  *baseline.Store
	scorer *baseline.Scorer
	repo   domain.Repository

	// Weight the resulting signal carries into fusion.
	Weight float64

	// CurrentWindow is how far back "current" metric values are averaged.
	CurrentWindow time.Duration

	// SigmaCeiling maps sigma onto [0,1]; deviations at or beyond it score 1.
	SigmaCeiling float64
}

// NewDeviation creates the behavior deviation provider.
func NewDeviation(store *baseline.Store, scorer *baseline.Scorer, repo domain.Repository, weight float64) *DeviationProvider {
	return &DeviationProvider{
		store:         store,
		scorer:        scorer,
		repo:          repo,
		Weight:        weight,
		CurrentWindow: 24 * time.Hour,
		SigmaCeiling:  4.0,
	}
}

func (p *DeviationProvider) Source() domain.SignalSource {
	return domain.SourceBehavior
}

// ProduceSignal scores every live baseline dimension and keeps the worst.
// Dimensions with no recent samples are skipped; a subject with no scorable
// dimension at all yields ErrInsufficientData.
func (p *DeviationProvider) ProduceSignal(ctx context.Context, tenantID, subjectID string) (*domain.Signal, error) {
	profile, err := p.store.Load(ctx, tenantID, subjectID)
	if err != nil {
		return nil, err
	}

	since := time.Now().UTC().Add(-p.CurrentWindow)

	var worst *domain.DeviationEvidence
	for name, dim := range profile.Dimensions {
		samples, err := p.repo.GetMetricSamples(ctx, tenantID, subjectID, name, since)
		if err != nil {
			return nil, fmt.Errorf("%w: load current samples for %s: %v", domain.ErrPersistence, name, err)
		}
		if len(samples) == 0 {
			continue
		}

		current := meanValue(samples)
		result, err := p.scorer.Score(current, dim)
		if err != nil {
			// Thin dimension: unavailable, not zero
			continue
		}

		if worst == nil || result.Sigma > worst.Sigma {
			worst = &domain.DeviationEvidence{
				Dimension: name,
				Current:   current,
				Mean:      dim.Mean,
				StdDev:    dim.StdDev,
				Sigma:     result.Sigma,
				Severity:  result.Severity,
			}
		}
	}

	if worst == nil {
		return nil, fmt.Errorf("%w: no scorable dimension for subject %s", domain.ErrInsufficientData, subjectID)
	}

	return &domain.Signal{
		Source:     domain.SourceBehavior,
		SubjectID:  subjectID,
		Score:      baseline.NormalizeSigma(worst.Sigma, p.SigmaCeiling),
		Confidence: sampleConfidence(profile.Dimensions[worst.Dimension].SampleCount),
		Weight:     p.Weight,
		Evidence: &domain.Evidence{
			Kind:      domain.EvidenceDeviation,
			Deviation: worst,
		},
		ObservedAt: time.Now().UTC(),
	}, nil
}

func meanValue(samples []domain.MetricSample) float64 {
	var sum float64
	for _, s := range samples {
		sum += s.Value
	}
	return sum / float64(len(samples))
}

// sampleConfidence grows with baseline depth, saturating at 30 samples.
func sampleConfidence(count int) float64 {
	c := float64(count) / 30.0
	if c > 1 {
		return 1
	}
	return c
}
