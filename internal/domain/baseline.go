package domain

import "time"

// BaselineDimension holds the learned normal range for one metric.
type BaselineDimension struct {
	Mean        float64   `json:"mean"`
	StdDev      float64   `json:"stdDev"`
	SampleCount int       `json:"sampleCount"`
	LearnedAt   time.Time `json:"learnedAt"`
	ValidUntil  time.Time `json:"validUntil"`
}

// Expired reports whether the dimension must be relearned before use.
func (d BaselineDimension) Expired(now time.Time) bool {
	return !d.ValidUntil.IsZero() && now.After(d.ValidUntil)
}

// BaselineProfile is a subject's learned normal ranges, one per metric
// dimension. Created by the learning process; consumed read-only by the
// deviation scorer. An expired or thin dimension makes that dimension's
// signal unavailable, never a synthetic zero.
type BaselineProfile struct {
	SubjectID  string                       `json:"subjectId"`
	TenantID   string                       `json:"tenantId,omitempty"`
	Dimensions map[string]BaselineDimension `json:"dimensions"`
	UpdatedAt  time.Time                    `json:"updatedAt"`
}

// Dimension returns the named dimension and whether it exists.
func (p *BaselineProfile) Dimension(name string) (BaselineDimension, bool) {
	d, ok := p.Dimensions[name]
	return d, ok
}

// MetricSample is one raw observation used to (re)learn a baseline dimension.
type MetricSample struct {
	SubjectID  string    `json:"subjectId"`
	Dimension  string    `json:"dimension"`
	Value      float64   `json:"value"`
	ObservedAt time.Time `json:"observedAt"`
}
