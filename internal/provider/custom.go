package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/loss-prevention/kestrel/internal/domain"
	"github.com/loss-prevention/kestrel/internal/indicator"
)

// IndicatorProvider evaluates operator-defined CEL indicators against a
// subject's current metrics and reports the strongest hit as the
// custom-rule signal.
type IndicatorProvider struct {
	engine *indicator.Engine
	repo   domain.Repository

	Weight float64

	// Dimensions are the metric streams exposed to expressions.
	Dimensions []string

	// CurrentWindow is how far back "current" metric values are averaged.
	CurrentWindow time.Duration
}

// DefaultDimensions are the metric streams indicators see out of the box.
var DefaultDimensions = []string{
	"void_count",
	"refund_total",
	"discount_total",
	"no_sale_count",
	"transaction_count",
}

// NewIndicator creates the custom-rule provider.
func NewIndicator(engine *indicator.Engine, repo domain.Repository, weight float64) *IndicatorProvider {
	return &IndicatorProvider{
		engine:        engine,
		repo:          repo,
		Weight:        weight,
		Dimensions:    DefaultDimensions,
		CurrentWindow: 24 * time.Hour,
	}
}

func (p *IndicatorProvider) Source() domain.SignalSource {
	return domain.SourceCustomRule
}

// ProduceSignal evaluates the loaded indicator set. No loaded indicators,
// or no metrics to feed them, means the signal is unavailable.
func (p *IndicatorProvider) ProduceSignal(ctx context.Context, tenantID, subjectID string) (*domain.Signal, error) {
	if p.engine.Count() == 0 {
		return nil, fmt.Errorf("%w: no indicators loaded", domain.ErrInsufficientData)
	}

	now := time.Now().UTC()
	since := now.Add(-p.CurrentWindow)

	metrics := make(map[string]float64)
	for _, dim := range p.Dimensions {
		samples, err := p.repo.GetMetricSamples(ctx, tenantID, subjectID, dim, since)
		if err != nil {
			return nil, fmt.Errorf("%w: load %s samples: %v", domain.ErrPersistence, dim, err)
		}
		if len(samples) > 0 {
			metrics[dim] = meanValue(samples)
		}
	}
	if len(metrics) == 0 {
		return nil, fmt.Errorf("%w: no metrics for subject %s", domain.ErrInsufficientData, subjectID)
	}

	baselineMeans := make(map[string]float64)
	if profile, err := p.repo.GetBaseline(ctx, tenantID, subjectID); err == nil {
		for name, dim := range profile.Dimensions {
			baselineMeans[name] = dim.Mean
		}
	}

	results, err := p.engine.EvaluateAll(ctx, &indicator.EvaluateInput{
		TenantID:  tenantID,
		SubjectID: subjectID,
		Metrics:   metrics,
		Baseline:  baselineMeans,
		Hour:      now.Hour(),
		Weekday:   int(now.Weekday()),
	})
	if err != nil {
		return nil, err
	}

	configs := make(map[string]*domain.IndicatorConfig)
	for _, cfg := range p.engine.Loaded() {
		configs[cfg.ID] = cfg
	}

	var best *domain.IndicatorResult
	var bestWeighted float64
	for i := range results {
		r := &results[i]
		if r.Err != "" || r.Score == 0 {
			continue
		}
		weighted := r.Score
		if cfg, ok := configs[r.IndicatorID]; ok && cfg.Weight > 0 {
			weighted = clamp01(r.Score * cfg.Weight)
		}
		if best == nil || weighted > bestWeighted {
			best = r
			bestWeighted = weighted
		}
	}

	if best == nil {
		// Every indicator evaluated clean: a confirmed no-risk signal,
		// distinct from "could not evaluate".
		return &domain.Signal{
			Source:     domain.SourceCustomRule,
			SubjectID:  subjectID,
			Score:      0,
			Confidence: 1,
			Weight:     p.Weight,
			ObservedAt: now,
		}, nil
	}

	name := best.IndicatorID
	if cfg, ok := configs[best.IndicatorID]; ok {
		name = cfg.Name
	}

	return &domain.Signal{
		Source:     domain.SourceCustomRule,
		SubjectID:  subjectID,
		Score:      bestWeighted,
		Confidence: 1,
		Weight:     p.Weight,
		Evidence: &domain.Evidence{
			Kind: domain.EvidenceIndicator,
			Indicator: &domain.IndicatorEvidence{
				IndicatorID: best.IndicatorID,
				Name:        name,
				RawValue:    best.Score,
				Reason:      best.Reason,
			},
		},
		ObservedAt: now,
	}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
