// Package provider contains the signal providers that feed fusion. Each
// provider turns one raw data domain into a normalized Signal, internally
// using the correlator, deviation scorer, trend projector, or inference
// pipeline as needed.
package provider

import (
	"context"

	"github.com/loss-prevention/kestrel/internal/domain"
)

// Provider produces one source's signal for a subject. A provider that
// cannot compute a score returns an error (ErrInsufficientData, ErrTimeout)
// and the subject's fusion proceeds without it; absence is never reported
// as a zero score.
type Provider interface {
	Source() domain.SignalSource
	ProduceSignal(ctx context.Context, tenantID, subjectID string) (*domain.Signal, error)
}
