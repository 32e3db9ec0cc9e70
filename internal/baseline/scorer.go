// Package baseline provides learned-baseline storage and deviation scoring.
package baseline

import (
	"fmt"
	"math"

	"github.com/loss-prevention/kestrel/internal/domain"
)

// Deviation severity labels.
const (
	SeverityNormal   = "NORMAL"
	SeverityMinor    = "MINOR"
	SeverityModerate = "MODERATE"
	SeverityMajor    = "MAJOR"
	SeverityCritical = "CRITICAL"
)

// DeviationResult expresses how far a current value sits from its learned
// baseline, in standard deviations.
type DeviationResult struct {
	Sigma    float64 `json:"sigma"`
	Severity string  `json:"severity"`
}

// Scorer converts (current, mean, stddev) into a sigma and a banded
// severity. The band table is shared configuration, not a per-call-site
// switch ladder.
type Scorer struct {
	bands      *domain.ThresholdTable
	minSamples int
}

// ScorerConfig holds deviation scorer settings.
type ScorerConfig struct {
	// Bands maps sigma thresholds to severity labels. Nil means the default
	// 1/2/3/4-sigma ladder.
	Bands *domain.ThresholdTable

	// MinSamples is the baseline sample floor; thinner baselines yield
	// ErrInsufficientData instead of a numeric sigma.
	MinSamples int
}

// DefaultSigmaBands returns the default sigma severity ladder.
func DefaultSigmaBands() *domain.ThresholdTable {
	t, _ := domain.NewThresholdTable([]domain.ThresholdBand{
		{Threshold: 1.0, Label: SeverityMinor},
		{Threshold: 2.0, Label: SeverityModerate},
		{Threshold: 3.0, Label: SeverityMajor},
		{Threshold: 4.0, Label: SeverityCritical},
	}, SeverityNormal)
	return t
}

// NewScorer creates a deviation scorer.
func NewScorer(cfg ScorerConfig) *Scorer {
	bands := cfg.Bands
	if bands == nil {
		bands = DefaultSigmaBands()
	}
	minSamples := cfg.MinSamples
	if minSamples <= 0 {
		minSamples = 10
	}
	return &Scorer{bands: bands, minSamples: minSamples}
}

// Score computes the deviation of current from the dimension's baseline.
//
// stddev == 0 is handled explicitly: a current value equal to the mean is
// sigma 0; anything else is +Inf and maximal severity. Division by zero
// never propagates as NaN. A dimension with fewer than MinSamples samples
// returns ErrInsufficientData; callers treat that as signal unavailable,
// not as normal.
func (s *Scorer) Score(current float64, dim domain.BaselineDimension) (*DeviationResult, error) {
	if math.IsNaN(current) || math.IsInf(current, 0) {
		return nil, fmt.Errorf("%w: current value is not finite", domain.ErrValidation)
	}
	if dim.StdDev < 0 {
		return nil, fmt.Errorf("%w: stddev must be >= 0, got %.3f", domain.ErrValidation, dim.StdDev)
	}
	if dim.SampleCount < s.minSamples {
		return nil, fmt.Errorf("%w: baseline has %d samples, need %d", domain.ErrInsufficientData, dim.SampleCount, s.minSamples)
	}

	var sigma float64
	switch {
	case dim.StdDev > 0:
		sigma = math.Abs(current-dim.Mean) / dim.StdDev
	case current == dim.Mean:
		sigma = 0
	default:
		sigma = math.Inf(1)
	}

	severity := s.bands.Classify(sigma)
	if math.IsInf(sigma, 1) {
		// Highest band regardless of table contents.
		severity = s.bands.Bands()[0].Label
	}

	return &DeviationResult{Sigma: sigma, Severity: severity}, nil
}

// NormalizeSigma maps a sigma onto [0,1] for signal construction, saturating
// at the given ceiling (e.g. 4 sigma -> 1.0).
func NormalizeSigma(sigma, ceiling float64) float64 {
	if ceiling <= 0 {
		ceiling = 4.0
	}
	if math.IsInf(sigma, 1) || sigma >= ceiling {
		return 1.0
	}
	if sigma < 0 {
		return 0
	}
	return sigma / ceiling
}
