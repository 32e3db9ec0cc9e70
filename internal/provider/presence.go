package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/loss-prevention/kestrel/internal/correlate"
	"github.com/loss-prevention/kestrel/internal/domain"
)

// Per-classification severities for the presence score. A ghost
// transaction (no camera counterpart at all) is near-maximal.
const (
	ghostSeverity    = 0.9
	multiSeverity    = 0.6
	lowConfSeverity  = 0.4
	presenceConfScan = 0.9
)

// PresenceProvider correlates a subject's transactions against camera
// detections and scores the fraction of unwitnessed activity.
type PresenceProvider struct {
	correlator *correlate.Correlator
	repo       domain.Repository

	Weight float64

	// Lookback bounds how far back event streams are read.
	Lookback time.Duration
}

// NewPresence creates the presence correlation provider.
func NewPresence(correlator *correlate.Correlator, repo domain.Repository, weight float64) *PresenceProvider {
	return &PresenceProvider{
		correlator: correlator,
		repo:       repo,
		Weight:     weight,
		Lookback:   24 * time.Hour,
	}
}

func (p *PresenceProvider) Source() domain.SignalSource {
	return domain.SourcePresence
}

// ProduceSignal correlates every recent transaction against the camera
// stream. No recent transactions means there is nothing to correlate:
// ErrInsufficientData, not a clean zero.
func (p *PresenceProvider) ProduceSignal(ctx context.Context, tenantID, subjectID string) (*domain.Signal, error) {
	now := time.Now().UTC()
	from := now.Add(-p.Lookback)

	anchors, err := p.repo.GetEventsByKind(ctx, tenantID, subjectID, domain.EventTransaction, from, now)
	if err != nil {
		return nil, fmt.Errorf("%w: load transactions: %v", domain.ErrPersistence, err)
	}
	if len(anchors) == 0 {
		return nil, fmt.Errorf("%w: no transactions in window for subject %s", domain.ErrInsufficientData, subjectID)
	}

	candidates, err := p.repo.GetEventsByKind(ctx, tenantID, subjectID, domain.EventCameraDetection, from, now)
	if err != nil {
		return nil, fmt.Errorf("%w: load camera detections: %v", domain.ErrPersistence, err)
	}

	results, err := p.correlator.CorrelateStream(anchors, candidates)
	if err != nil {
		return nil, err
	}

	var total float64
	ghosts, matched := 0, 0
	for _, r := range results {
		switch r.Classification {
		case domain.ClassGhost:
			ghosts++
			total += ghostSeverity
		case domain.ClassMultiCandidate:
			total += multiSeverity
		case domain.ClassLowConfidence:
			total += lowConfSeverity
		case domain.ClassMatched:
			matched++
		}
	}
	score := total / float64(len(results))

	return &domain.Signal{
		Source:     domain.SourcePresence,
		SubjectID:  subjectID,
		Score:      score,
		Confidence: presenceConfScan,
		Weight:     p.Weight,
		Evidence: &domain.Evidence{
			Kind: domain.EvidenceCorrelation,
			Correlation: &domain.CorrelationEvidence{
				Results:      results,
				GhostCount:   ghosts,
				MatchedCount: matched,
				Window:       p.correlator.Window(),
			},
		},
		ObservedAt: now,
	}, nil
}
