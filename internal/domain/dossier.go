package domain

import "time"

// RankedSignal is one entry in an investigation package, ordered by its
// contribution to the composite score rather than raw score, so the package
// foregrounds what actually drove the number.
type RankedSignal struct {
	Rank         int          `json:"rank"`
	Source       SignalSource `json:"source"`
	Score        float64      `json:"score"`
	Weight       float64      `json:"weight"`
	Contribution float64      `json:"contribution"`
	Summary      string       `json:"summary"`
	Evidence     *Evidence    `json:"evidence,omitempty"`
}

// CorrelationPattern names a recognized cross-source agreement, e.g. the
// vision and behavior engines flagging the same shift.
type CorrelationPattern struct {
	Pattern     string         `json:"pattern"`
	Severity    RiskLevel      `json:"severity"`
	Sources     []SignalSource `json:"sources"`
	Description string         `json:"description"`
}

// InvestigationPackage is the ranked, human-readable evidence bundle built
// for subjects that crossed an alert threshold. Purely a presentation
// transform over already-computed data; no new scoring happens here.
type InvestigationPackage struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenantId,omitempty"`
	SubjectID string `json:"subjectId"`

	CompositeTotal float64   `json:"compositeTotal"`
	RiskLevel      RiskLevel `json:"riskLevel"`
	SeverityLabel  string    `json:"severityLabel"` // plain-language severity

	TopSignals              []RankedSignal       `json:"topSignals"`
	CorrelationBonusApplied bool                 `json:"correlationBonusApplied"`
	AgreeingSources         []SignalSource       `json:"agreeingSources,omitempty"`
	Patterns                []CorrelationPattern `json:"patterns,omitempty"`

	GeneratedAt time.Time `json:"generatedAt"`
}
