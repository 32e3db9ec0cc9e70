package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/loss-prevention/kestrel/internal/domain"
	"github.com/loss-prevention/kestrel/internal/trend"
)

// ForecastProvider fits a trend over a subject's historical risk samples
// and reports the projected value as the forecast signal.
type ForecastProvider struct {
	projector *trend.Projector
	repo      domain.Repository

	Weight float64

	// Dimension is the metric stream the trend is fitted over.
	Dimension string

	// HistoryWindow bounds how far back samples are read.
	HistoryWindow time.Duration

	// Horizon is how many periods ahead the projection looks.
	Horizon int

	// AlertThreshold feeds the time-to-threshold estimate in evidence.
	AlertThreshold float64
}

// NewForecast creates the trend forecast provider. The projector must be
// configured to clamp into [0,1] since its output feeds fusion directly.
func NewForecast(projector *trend.Projector, repo domain.Repository, weight float64) *ForecastProvider {
	return &ForecastProvider{
		projector:      projector,
		repo:           repo,
		Weight:         weight,
		Dimension:      "risk_score",
		HistoryWindow:  14 * 24 * time.Hour,
		Horizon:        7,
		AlertThreshold: 0.70,
	}
}

func (p *ForecastProvider) Source() domain.SignalSource {
	return domain.SourceForecast
}

// ProduceSignal projects the subject's risk trend. Fewer than two history
// points is insufficient history, never a confident flat projection.
func (p *ForecastProvider) ProduceSignal(ctx context.Context, tenantID, subjectID string) (*domain.Signal, error) {
	now := time.Now().UTC()
	since := now.Add(-p.HistoryWindow)

	samples, err := p.repo.GetMetricSamples(ctx, tenantID, subjectID, p.Dimension, since)
	if err != nil {
		return nil, fmt.Errorf("%w: load %s history: %v", domain.ErrPersistence, p.Dimension, err)
	}

	history := make([]trend.Point, len(samples))
	for i, s := range samples {
		history[i] = trend.Point{Index: i, Value: s.Value}
	}

	projection, err := p.projector.Project(history, p.Horizon)
	if err != nil {
		return nil, err
	}

	evidence := &domain.TrendEvidence{
		Slope:          projection.Slope,
		ProjectedValue: projection.ProjectedValue,
		Horizon:        projection.Horizon,
		HistoryPoints:  projection.HistoryPoints,
	}
	current := samples[len(samples)-1].Value
	if eta, ok := projection.ETAToThreshold(current, p.AlertThreshold); ok {
		evidence.ETAToThreshold = &eta
	}

	return &domain.Signal{
		Source:     domain.SourceForecast,
		SubjectID:  subjectID,
		Score:      projection.ProjectedValue,
		Confidence: historyConfidence(len(history)),
		Weight:     p.Weight,
		Evidence: &domain.Evidence{
			Kind:  domain.EvidenceTrend,
			Trend: evidence,
		},
		ObservedAt: now,
	}, nil
}

// historyConfidence grows with history depth, saturating at 14 points.
func historyConfidence(points int) float64 {
	c := float64(points) / 14.0
	if c > 1 {
		return 1
	}
	return c
}
