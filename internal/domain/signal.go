// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"fmt"
	"time"
)

// SignalSource identifies the engine that produced a signal.
type SignalSource string

const (
	// SourceTransaction covers transaction analytics (discounts, refunds, voids).
	SourceTransaction SignalSource = "transaction_analytics"

	// SourcePresence covers camera/transaction presence correlation.
	SourcePresence SignalSource = "presence_correlation"

	// SourceCommunication covers staff communication analysis.
	SourceCommunication SignalSource = "communication_analysis"

	// SourceBehavior covers behavioral-baseline deviation.
	SourceBehavior SignalSource = "behavior_deviation"

	// SourceForecast covers predictive risk trend forecasting.
	SourceForecast SignalSource = "trend_forecast"

	// SourceVision covers the async vision inference pipeline.
	SourceVision SignalSource = "vision_inference"

	// SourceCustomRule covers operator-defined indicator expressions.
	SourceCustomRule SignalSource = "custom_rule"
)

// KnownSources lists every valid signal source.
var KnownSources = []SignalSource{
	SourceTransaction,
	SourcePresence,
	SourceCommunication,
	SourceBehavior,
	SourceForecast,
	SourceVision,
	SourceCustomRule,
}

// Valid reports whether the source is a known signal source.
func (s SignalSource) Valid() bool {
	for _, k := range KnownSources {
		if s == k {
			return true
		}
	}
	return false
}

// Signal is a single source's normalized risk assessment for a subject.
// Immutable once created; providers must map raw units (sigma deviations,
// correlation percentages) into [0,1] before constructing one.
type Signal struct {
	Source     SignalSource `json:"source"`
	SubjectID  string       `json:"subjectId"`
	Score      float64      `json:"score"`      // normalized [0,1]
	Confidence float64      `json:"confidence"` // [0,1]
	Weight     float64      `json:"weight"`
	Evidence   *Evidence    `json:"evidence,omitempty"`
	ObservedAt time.Time    `json:"observedAt"`
}

// Validate checks that the signal fields are in range.
func (s *Signal) Validate() error {
	if !s.Source.Valid() {
		return fmt.Errorf("%w: unknown signal source %q", ErrValidation, s.Source)
	}
	if s.SubjectID == "" {
		return fmt.Errorf("%w: subjectId is required", ErrValidation)
	}
	if s.Score < 0 || s.Score > 1 {
		return fmt.Errorf("%w: score %.3f outside [0,1]", ErrValidation, s.Score)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("%w: confidence %.3f outside [0,1]", ErrValidation, s.Confidence)
	}
	if s.Weight < 0 {
		return fmt.Errorf("%w: weight must be >= 0", ErrValidation)
	}
	return nil
}

// SourceWeights maps each signal source to its fusion weight.
// Defaults mirror the hand-tuned production weights; they are policy,
// not derivation.
type SourceWeights map[SignalSource]float64

// DefaultSourceWeights returns the default per-source fusion weights.
func DefaultSourceWeights() SourceWeights {
	return SourceWeights{
		SourceForecast:      0.25,
		SourceVision:        0.25,
		SourceCommunication: 0.20,
		SourceTransaction:   0.15,
		SourceBehavior:      0.15,
		SourcePresence:      0.20,
		SourceCustomRule:    0.10,
	}
}

// Validate rejects weight tables that reference unknown sources or carry
// negative weights, so a misconfigured source fails at load time instead of
// silently contributing zero weight.
func (w SourceWeights) Validate() error {
	for src, weight := range w {
		if !src.Valid() {
			return fmt.Errorf("%w: weight configured for unknown source %q", ErrValidation, src)
		}
		if weight < 0 {
			return fmt.Errorf("%w: weight for %s must be >= 0", ErrValidation, src)
		}
	}
	return nil
}
