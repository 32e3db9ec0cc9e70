// Package throttle gates alert emission with a per-subject cooldown.
package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/loss-prevention/kestrel/internal/domain"
)

// Policy holds throttle settings.
type Policy struct {
	// Window is the minimum interval between two alerts for one subject.
	Window time.Duration

	// MinRiskLevel is the lowest composite risk level that may alert at
	// all. Scores below it never consume the cooldown slot.
	MinRiskLevel domain.RiskLevel
}

// DefaultPolicy mirrors the production 5-minute cooldown, alerting from
// HIGH upward.
func DefaultPolicy() Policy {
	return Policy{
		Window:       5 * time.Minute,
		MinRiskLevel: domain.RiskHigh,
	}
}

// Gate decides whether an alert may fire for a subject. The decision and
// the state transition happen in one atomic repository operation, so two
// concurrent evaluations of the same subject cannot both pass. While a
// subject is cooling down every call is suppressed, even CRITICAL scores;
// the caller must record the suppression, never drop it silently.
type Gate struct {
	repo    domain.Repository
	counter domain.Cache
	policy  Policy
}

// NewGate creates a throttle gate.
func NewGate(repo domain.Repository, policy Policy) (*Gate, error) {
	if policy.Window <= 0 {
		return nil, fmt.Errorf("%w: throttle window must be > 0, got %v", domain.ErrValidation, policy.Window)
	}
	if policy.MinRiskLevel == "" {
		policy.MinRiskLevel = domain.RiskHigh
	}
	return &Gate{repo: repo, policy: policy}, nil
}

// WithCounter attaches a cache-backed counter tracking alert-worthy
// evaluations per subject inside the window. Backed by redis the count is
// shared across instances. The counter is advisory: a cache outage never
// blocks the decision.
func (g *Gate) WithCounter(c domain.Cache) *Gate {
	g.counter = c
	return g
}

// ShouldAlert evaluates the composite score against the per-subject
// cooldown. It returns the decision together with the state observed at
// decision time.
func (g *Gate) ShouldAlert(ctx context.Context, tenantID string, composite *domain.CompositeScore) (*domain.AlertDecision, error) {
	if composite == nil || composite.SubjectID == "" {
		return nil, fmt.Errorf("%w: composite score with subjectId is required", domain.ErrValidation)
	}

	decision := &domain.AlertDecision{RiskLevel: composite.RiskLevel}

	if !levelAtLeast(composite.RiskLevel, g.policy.MinRiskLevel) {
		// Below the alerting floor: no alert, but also no throttling, the
		// cooldown slot stays free for a real alert.
		return decision, nil
	}

	if g.counter != nil {
		if n, err := g.counter.IncrementCounter(ctx, tenantID, "alerts:"+composite.SubjectID, g.policy.Window); err == nil {
			decision.AlertsInWindow = int(n)
		}
	}

	now := time.Now().UTC()
	acquired, state, err := g.repo.AcquireAlertSlot(ctx, tenantID, composite.SubjectID, now, g.policy.Window)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire alert slot for %s: %v", domain.ErrPersistence, composite.SubjectID, err)
	}

	if !acquired {
		decision.Throttled = true
		if state != nil {
			decision.NextFree = state.LastAlertAt.Add(g.policy.Window)
		}
		return decision, nil
	}

	decision.Allow = true
	return decision, nil
}

// rank orders risk levels for the alerting floor comparison.
func rank(level domain.RiskLevel) int {
	switch level {
	case domain.RiskCritical:
		return 3
	case domain.RiskHigh:
		return 2
	case domain.RiskMedium:
		return 1
	default:
		return 0
	}
}

func levelAtLeast(level, min domain.RiskLevel) bool {
	return rank(level) >= rank(min)
}
