package domain

import "time"

// EvidenceKind tags the variant populated inside an Evidence value.
type EvidenceKind string

const (
	EvidenceCorrelation EvidenceKind = "correlation"
	EvidenceDeviation   EvidenceKind = "deviation"
	EvidenceTrend       EvidenceKind = "trend"
	EvidenceInference   EvidenceKind = "inference"
	EvidenceIndicator   EvidenceKind = "indicator"
)

// Evidence is a typed variant per signal source, replacing the opaque JSON
// blobs the original system passed around. Exactly one variant is non-nil,
// named by Kind.
type Evidence struct {
	Kind EvidenceKind `json:"kind"`

	Correlation *CorrelationEvidence `json:"correlation,omitempty"`
	Deviation   *DeviationEvidence   `json:"deviation,omitempty"`
	Trend       *TrendEvidence       `json:"trend,omitempty"`
	Inference   *InferenceEvidence   `json:"inference,omitempty"`
	Indicator   *IndicatorEvidence   `json:"indicator,omitempty"`
}

// CorrelationEvidence summarizes event-stream mismatches behind a presence
// signal.
type CorrelationEvidence struct {
	Results      []CorrelationResult `json:"results"`
	GhostCount   int                 `json:"ghostCount"`
	MatchedCount int                 `json:"matchedCount"`
	Window       time.Duration       `json:"window"`
}

// DeviationEvidence records the baseline comparison behind a deviation
// signal.
type DeviationEvidence struct {
	Dimension string  `json:"dimension"`
	Current   float64 `json:"current"`
	Mean      float64 `json:"mean"`
	StdDev    float64 `json:"stdDev"`
	Sigma     float64 `json:"sigma"`
	Severity  string  `json:"severity"`
}

// TrendEvidence records the fitted trend behind a forecast signal.
type TrendEvidence struct {
	Slope          float64 `json:"slope"`
	ProjectedValue float64 `json:"projectedValue"`
	Horizon        int     `json:"horizon"`
	HistoryPoints  int     `json:"historyPoints"`
	ETAToThreshold *int    `json:"etaToThreshold,omitempty"`
}

// InferenceEvidence records the async pipeline result behind a vision
// signal.
type InferenceEvidence struct {
	Handle      string        `json:"handle"`
	Label       string        `json:"label"`
	Probability float64       `json:"probability"`
	Elapsed     time.Duration `json:"elapsed"`
}

// IndicatorEvidence records which custom indicator expression fired.
type IndicatorEvidence struct {
	IndicatorID string  `json:"indicatorId"`
	Name        string  `json:"name"`
	RawValue    float64 `json:"rawValue"`
	Reason      string  `json:"reason,omitempty"`
}
