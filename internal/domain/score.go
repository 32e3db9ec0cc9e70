package domain

import (
	"fmt"
	"sort"
	"time"
)

// RiskLevel is the banded severity of a composite score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// ThresholdBand maps a lower bound to a label. Bands are matched highest
// threshold first; the first bound the value meets-or-exceeds wins.
type ThresholdBand struct {
	Threshold float64 `json:"threshold"`
	Label     string  `json:"label"`
}

// ThresholdTable is an ordered severity ladder shared by the deviation
// scorer and the fusion engine, replacing the per-engine switch ladders the
// original system repeated at every call site.
type ThresholdTable struct {
	bands        []ThresholdBand
	defaultLabel string
}

// NewThresholdTable builds a table from bands and a fallback label for
// values below every threshold. Bands may be given in any order.
func NewThresholdTable(bands []ThresholdBand, defaultLabel string) (*ThresholdTable, error) {
	if len(bands) == 0 {
		return nil, fmt.Errorf("%w: threshold table needs at least one band", ErrValidation)
	}
	sorted := make([]ThresholdBand, len(bands))
	copy(sorted, bands)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Threshold > sorted[j].Threshold
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Threshold == sorted[i-1].Threshold {
			return nil, fmt.Errorf("%w: duplicate threshold %.3f", ErrValidation, sorted[i].Threshold)
		}
	}
	return &ThresholdTable{bands: sorted, defaultLabel: defaultLabel}, nil
}

// Classify returns the label of the highest band the value meets, or the
// default label when the value is below all thresholds.
func (t *ThresholdTable) Classify(value float64) string {
	for _, b := range t.bands {
		if value >= b.Threshold {
			return b.Label
		}
	}
	return t.defaultLabel
}

// Bands returns a copy of the ordered bands, highest threshold first.
func (t *ThresholdTable) Bands() []ThresholdBand {
	out := make([]ThresholdBand, len(t.bands))
	copy(out, t.bands)
	return out
}

// DefaultRiskTable returns the composite risk ladder.
func DefaultRiskTable() *ThresholdTable {
	t, _ := NewThresholdTable([]ThresholdBand{
		{Threshold: 0.85, Label: string(RiskCritical)},
		{Threshold: 0.70, Label: string(RiskHigh)},
		{Threshold: 0.50, Label: string(RiskMedium)},
	}, string(RiskLow))
	return t
}

// Contribution records how a single signal moved the composite score.
type Contribution struct {
	Source       SignalSource `json:"source"`
	Score        float64      `json:"score"`
	Weight       float64      `json:"weight"`
	Contribution float64      `json:"contribution"` // score * weight
}

// CompositeScore is the fused risk judgment for a subject at a point in
// time. One logical instance per (subject, analysis run); later runs
// supersede earlier ones, last write wins.
type CompositeScore struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId,omitempty"`
	SubjectID string    `json:"subjectId"`
	Total     float64   `json:"total"` // [0,1]
	RiskLevel RiskLevel `json:"riskLevel"`

	Contributing  []Signal       `json:"contributing"`
	Contributions []Contribution `json:"contributions,omitempty"`

	CorrelationBonusApplied bool           `json:"correlationBonusApplied"`
	AgreeingSources         []SignalSource `json:"agreeingSources,omitempty"`

	ComputedAt time.Time `json:"computedAt"`
}
