// Package dossier assembles investigation packages from fused scores.
package dossier

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/loss-prevention/kestrel/internal/domain"
)

// Config holds package assembly settings.
type Config struct {
	// TopN caps how many ranked signals the package carries.
	TopN int

	// HighThreshold is the per-signal score from which a source counts as
	// strongly implicating for pattern detection.
	HighThreshold float64
}

// DefaultConfig returns the production assembly settings.
func DefaultConfig() Config {
	return Config{
		TopN:          5,
		HighThreshold: 0.70,
	}
}

// Builder turns a composite score and its per-source evidence into a
// ranked, human-readable investigation package. It is a presentation
// transform; no new scoring happens here.
type Builder struct {
	cfg Config
}

// New creates a builder.
func New(cfg Config) (*Builder, error) {
	if cfg.TopN <= 0 {
		return nil, fmt.Errorf("%w: topN must be > 0, got %d", domain.ErrValidation, cfg.TopN)
	}
	if cfg.HighThreshold <= 0 || cfg.HighThreshold > 1 {
		return nil, fmt.Errorf("%w: highThreshold must be in (0,1], got %v", domain.ErrValidation, cfg.HighThreshold)
	}
	return &Builder{cfg: cfg}, nil
}

// Build assembles the package. Signals are ranked by their contribution to
// the composite (score * weight), not raw score, so the package foregrounds
// what actually drove the number.
func (b *Builder) Build(subjectID string, composite *domain.CompositeScore, evidence map[domain.SignalSource]*domain.Evidence) (*domain.InvestigationPackage, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("%w: subjectID is required", domain.ErrValidation)
	}
	if composite == nil {
		return nil, fmt.Errorf("%w: composite score is required", domain.ErrValidation)
	}

	ranked := make([]domain.RankedSignal, 0, len(composite.Contributions))
	for _, c := range composite.Contributions {
		rs := domain.RankedSignal{
			Source:       c.Source,
			Score:        c.Score,
			Weight:       c.Weight,
			Contribution: c.Contribution,
			Summary:      summarize(c, evidence[c.Source]),
		}
		if ev, ok := evidence[c.Source]; ok {
			rs.Evidence = ev
		}
		ranked = append(ranked, rs)
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Contribution != ranked[j].Contribution {
			return ranked[i].Contribution > ranked[j].Contribution
		}
		return ranked[i].Source < ranked[j].Source
	})
	if len(ranked) > b.cfg.TopN {
		ranked = ranked[:b.cfg.TopN]
	}
	for i := range ranked {
		ranked[i].Rank = i + 1
	}

	agreeing := make([]domain.SignalSource, len(composite.AgreeingSources))
	copy(agreeing, composite.AgreeingSources)

	pkg := &domain.InvestigationPackage{
		ID:                      uuid.New().String(),
		TenantID:                composite.TenantID,
		SubjectID:               subjectID,
		CompositeTotal:          composite.Total,
		RiskLevel:               composite.RiskLevel,
		SeverityLabel:           severityLabel(composite.RiskLevel),
		TopSignals:              ranked,
		CorrelationBonusApplied: composite.CorrelationBonusApplied,
		AgreeingSources:         agreeing,
		Patterns:                b.detectPatterns(composite),
		GeneratedAt:             time.Now().UTC(),
	}

	return pkg, nil
}

// detectPatterns names recognized cross-source agreements. Scores come
// from the already-computed contributions; nothing is re-derived.
func (b *Builder) detectPatterns(composite *domain.CompositeScore) []domain.CorrelationPattern {
	scores := make(map[domain.SignalSource]float64, len(composite.Contributions))
	for _, c := range composite.Contributions {
		scores[c.Source] = c.Score
	}

	high := func(src domain.SignalSource) bool {
		s, ok := scores[src]
		return ok && s >= b.cfg.HighThreshold
	}

	var patterns []domain.CorrelationPattern

	if high(domain.SourceVision) && high(domain.SourceBehavior) {
		patterns = append(patterns, domain.CorrelationPattern{
			Pattern:     "vision_behavior_agreement",
			Severity:    domain.RiskHigh,
			Sources:     []domain.SignalSource{domain.SourceVision, domain.SourceBehavior},
			Description: "Camera inference and behavioral deviation both flag the same subject",
		})
	}

	if high(domain.SourceVision) && high(domain.SourceCommunication) {
		patterns = append(patterns, domain.CorrelationPattern{
			Pattern:     "concealment_communication",
			Severity:    domain.RiskCritical,
			Sources:     []domain.SignalSource{domain.SourceVision, domain.SourceCommunication},
			Description: "Concealment behaviors detected while discussing suspicious topics",
		})
	}

	if high(domain.SourcePresence) && high(domain.SourceBehavior) {
		patterns = append(patterns, domain.CorrelationPattern{
			Pattern:     "ghost_activity_behavioral_change",
			Severity:    domain.RiskHigh,
			Sources:     []domain.SignalSource{domain.SourcePresence, domain.SourceBehavior},
			Description: "Unwitnessed register activity coincides with abnormal behavioral patterns",
		})
	}

	if high(domain.SourceTransaction) && high(domain.SourcePresence) && high(domain.SourceCommunication) {
		patterns = append(patterns, domain.CorrelationPattern{
			Pattern:     "triple_threat_correlation",
			Severity:    domain.RiskCritical,
			Sources:     []domain.SignalSource{domain.SourceTransaction, domain.SourcePresence, domain.SourceCommunication},
			Description: "Transaction analytics, presence gaps, and suspicious communications all indicate fraud",
		})
	}

	return patterns
}

// severityLabel renders the risk level as the plain-language line shown at
// the top of the package.
func severityLabel(level domain.RiskLevel) string {
	switch level {
	case domain.RiskCritical:
		return "Critical risk - immediate investigation required"
	case domain.RiskHigh:
		return "High risk - review within 24 hours"
	case domain.RiskMedium:
		return "Medium risk - monitor and schedule review"
	default:
		return "Low risk - no action required"
	}
}

// summarize produces the one-line description for a ranked signal from its
// typed evidence; sources without evidence fall back to a generic line.
func summarize(c domain.Contribution, ev *domain.Evidence) string {
	if ev != nil {
		switch ev.Kind {
		case domain.EvidenceCorrelation:
			if ce := ev.Correlation; ce != nil {
				return fmt.Sprintf("%d of %d events had no camera counterpart within %s",
					ce.GhostCount, ce.GhostCount+ce.MatchedCount, ce.Window)
			}
		case domain.EvidenceDeviation:
			if de := ev.Deviation; de != nil {
				return fmt.Sprintf("%s at %.1f sigma above baseline (%s)", de.Dimension, de.Sigma, de.Severity)
			}
		case domain.EvidenceTrend:
			if te := ev.Trend; te != nil {
				if te.ETAToThreshold != nil {
					return fmt.Sprintf("risk trending up, projected to cross threshold in %d periods", *te.ETAToThreshold)
				}
				return fmt.Sprintf("risk trend slope %.3f over %d periods", te.Slope, te.HistoryPoints)
			}
		case domain.EvidenceInference:
			if ie := ev.Inference; ie != nil {
				return fmt.Sprintf("vision pipeline flagged %q at %.0f%% probability", ie.Label, ie.Probability*100)
			}
		case domain.EvidenceIndicator:
			if xe := ev.Indicator; xe != nil {
				return fmt.Sprintf("custom indicator %q fired", xe.Name)
			}
		}
	}
	return fmt.Sprintf("%s scored %.2f", c.Source, c.Score)
}
