package provider

import (
	"context"
	"time"

	"github.com/loss-prevention/kestrel/internal/domain"
	"github.com/loss-prevention/kestrel/internal/inference"
)

// VisionProvider submits a behavioral scan to the async inference pipeline
// and waits for the result under a deadline. A stalled pipeline degrades
// this one signal to absent; it never blocks the subject's fusion.
type VisionProvider struct {
	pipe domain.InferencePipeline

	Weight       float64
	PollInterval time.Duration
	Deadline     time.Duration
}

// NewVision creates the vision inference provider.
func NewVision(pipe domain.InferencePipeline, weight float64, pollInterval, deadline time.Duration) *VisionProvider {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	return &VisionProvider{
		pipe:         pipe,
		Weight:       weight,
		PollInterval: pollInterval,
		Deadline:     deadline,
	}
}

func (p *VisionProvider) Source() domain.SignalSource {
	return domain.SourceVision
}

func (p *VisionProvider) ProduceSignal(ctx context.Context, tenantID, subjectID string) (*domain.Signal, error) {
	start := time.Now()

	result, err := inference.Await(ctx, p.pipe, &domain.InferenceRequest{
		SubjectID: subjectID,
		TenantID:  tenantID,
		Kind:      "behavioral_scan",
	}, p.PollInterval, p.Deadline)
	if err != nil {
		return nil, err
	}

	return &domain.Signal{
		Source:     domain.SourceVision,
		SubjectID:  subjectID,
		Score:      result.Probability,
		Confidence: result.Confidence,
		Weight:     p.Weight,
		Evidence: &domain.Evidence{
			Kind: domain.EvidenceInference,
			Inference: &domain.InferenceEvidence{
				Handle:      result.Handle,
				Label:       result.Label,
				Probability: result.Probability,
				Elapsed:     time.Since(start),
			},
		},
		ObservedAt: time.Now().UTC(),
	}, nil
}
