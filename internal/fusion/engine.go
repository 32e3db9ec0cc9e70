// Package fusion combines per-source risk signals into one composite score.
package fusion

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/loss-prevention/kestrel/internal/domain"
)

// Config holds fusion settings. The correlation-bonus condition and the
// default weights are hand-tuned production values preserved as
// configuration, not derived.
type Config struct {
	// HighRiskThreshold is the per-signal score at which a source counts as
	// agreeing on high risk.
	HighRiskThreshold float64

	// MinAgreeingSources is how many sources must agree before the bonus
	// applies.
	MinAgreeingSources int

	// CorrelationBonus is added to the composite when enough independent
	// sources agree, capped so the total never exceeds 1.
	CorrelationBonus float64

	// RiskTable is the descending risk ladder. Nil means the default
	// CRITICAL 0.85 / HIGH 0.70 / MEDIUM 0.50 ladder.
	RiskTable *domain.ThresholdTable
}

// DefaultConfig returns the production fusion defaults.
func DefaultConfig() Config {
	return Config{
		HighRiskThreshold:  0.70,
		MinAgreeingSources: 3,
		CorrelationBonus:   0.10,
	}
}

// Engine fuses validated signals into a composite score. Fuse is pure
// given its inputs; persisting the result is the caller's side effect.
type Engine struct {
	cfg Config
}

// New creates a fusion engine.
func New(cfg Config) (*Engine, error) {
	if cfg.HighRiskThreshold < 0 || cfg.HighRiskThreshold > 1 {
		return nil, fmt.Errorf("%w: highRiskThreshold %.3f outside [0,1]", domain.ErrValidation, cfg.HighRiskThreshold)
	}
	if cfg.MinAgreeingSources < 1 {
		return nil, fmt.Errorf("%w: minAgreeingSources must be >= 1", domain.ErrValidation)
	}
	if cfg.CorrelationBonus < 0 || cfg.CorrelationBonus > 1 {
		return nil, fmt.Errorf("%w: correlationBonus %.3f outside [0,1]", domain.ErrValidation, cfg.CorrelationBonus)
	}
	if cfg.RiskTable == nil {
		cfg.RiskTable = domain.DefaultRiskTable()
	}
	return &Engine{cfg: cfg}, nil
}

// Fuse combines the contributing signals for one subject.
//
// Only signals actually present contribute: a provider that could not
// compute a score must be absent from the list, not present with score 0 —
// a missing signal is not a confirmed "no risk". Zero signals is a
// legitimate outcome (brand-new subject) and yields LOW, never an error.
func (e *Engine) Fuse(subjectID string, signals []domain.Signal) (*domain.CompositeScore, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("%w: subjectID is required", domain.ErrValidation)
	}
	for i := range signals {
		if err := signals[i].Validate(); err != nil {
			return nil, fmt.Errorf("signal %d (%s): %w", i, signals[i].Source, err)
		}
	}

	score := &domain.CompositeScore{
		ID:         uuid.New().String(),
		SubjectID:  subjectID,
		ComputedAt: time.Now().UTC(),
	}

	var raw, activeWeight float64
	contributions := make([]domain.Contribution, 0, len(signals))
	var agreeing []domain.SignalSource

	for _, sig := range signals {
		contribution := sig.Score * sig.Weight
		raw += contribution
		activeWeight += sig.Weight

		contributions = append(contributions, domain.Contribution{
			Source:       sig.Source,
			Score:        sig.Score,
			Weight:       sig.Weight,
			Contribution: contribution,
		})

		if sig.Score >= e.cfg.HighRiskThreshold {
			agreeing = append(agreeing, sig.Source)
		}
	}

	total := 0.0
	if activeWeight > 0 {
		total = raw / activeWeight
	}

	if len(agreeing) >= e.cfg.MinAgreeingSources {
		total += e.cfg.CorrelationBonus
		if total > 1 {
			total = 1
		}
		score.CorrelationBonusApplied = true
		score.AgreeingSources = agreeing
	}

	// Deterministic output regardless of input order.
	sort.Slice(contributions, func(i, j int) bool {
		return contributions[i].Source < contributions[j].Source
	})
	sort.Slice(score.AgreeingSources, func(i, j int) bool {
		return score.AgreeingSources[i] < score.AgreeingSources[j]
	})
	contributing := make([]domain.Signal, len(signals))
	copy(contributing, signals)
	sort.Slice(contributing, func(i, j int) bool {
		return contributing[i].Source < contributing[j].Source
	})

	score.Total = total
	score.RiskLevel = domain.RiskLevel(e.cfg.RiskTable.Classify(total))
	score.Contributing = contributing
	score.Contributions = contributions

	return score, nil
}
