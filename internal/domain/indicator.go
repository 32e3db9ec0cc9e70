package domain

import "time"

// IndicatorConfig defines an operator-written custom risk indicator.
// The expression is a CEL formula over per-subject metrics that evaluates
// to a score; the result becomes a custom_rule Signal.
type IndicatorConfig struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`

	// CEL expression evaluated against subject metrics
	Expression string `json:"expression"`

	// Weight of the resulting signal in fusion
	Weight float64 `json:"weight"`

	// Whether indicator is active
	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// IndicatorResult is the outcome of evaluating a single indicator for a
// subject.
type IndicatorResult struct {
	IndicatorID string  `json:"indicatorId"`
	SubjectID   string  `json:"subjectId"`
	Score       float64 `json:"score"`
	Reason      string  `json:"reason,omitempty"`
	Err         string  `json:"error,omitempty"`
}
