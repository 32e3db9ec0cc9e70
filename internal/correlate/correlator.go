// Package correlate matches asynchronous event streams in time.
package correlate

import (
	"fmt"
	"time"

	"github.com/loss-prevention/kestrel/internal/domain"
)

// Config holds correlator settings.
type Config struct {
	// Window is the tolerance around the anchor timestamp.
	Window time.Duration

	// MinConfidence is the floor below which a best match is flagged
	// LOW_CONFIDENCE.
	MinConfidence float64

	// MultiCandidateWindow is the stricter sub-window used for the
	// MULTI_CANDIDATE check. Zero means half of Window.
	MultiCandidateWindow time.Duration
}

// DefaultConfig mirrors the production till-camera tolerances: ±30 seconds
// around a transaction, detections below 0.75 confidence distrusted.
func DefaultConfig() Config {
	return Config{
		Window:        30 * time.Second,
		MinConfidence: 0.75,
	}
}

// Correlator matches an anchor event against a candidate stream within a
// tolerance window. It is a pure function over its inputs: no I/O, no
// side effects, deterministic, which is what makes it testable without a
// database.
type Correlator struct {
	cfg Config
}

// New creates a correlator. The config is validated once here so Correlate
// never silently classifies on bad input.
func New(cfg Config) (*Correlator, error) {
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("%w: window must be > 0, got %v", domain.ErrValidation, cfg.Window)
	}
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		return nil, fmt.Errorf("%w: minConfidence %.3f outside [0,1]", domain.ErrValidation, cfg.MinConfidence)
	}
	if cfg.MultiCandidateWindow < 0 {
		return nil, fmt.Errorf("%w: multiCandidateWindow must be >= 0", domain.ErrValidation)
	}
	if cfg.MultiCandidateWindow == 0 {
		cfg.MultiCandidateWindow = cfg.Window / 2
	}
	return &Correlator{cfg: cfg}, nil
}

// Window returns the configured tolerance window.
func (c *Correlator) Window() time.Duration {
	return c.cfg.Window
}

// Correlate matches the anchor against candidates within the window.
//
// Classification, in priority order:
//  1. no in-window candidates        -> GHOST
//  2. best match below MinConfidence -> LOW_CONFIDENCE
//  3. >1 candidate in the sub-window -> MULTI_CANDIDATE
//  4. otherwise                      -> MATCHED
//
// Candidates outside the window are discarded here even if the caller
// pre-filtered, so unfiltered input cannot widen the match.
func (c *Correlator) Correlate(anchor domain.EventRecord, candidates []domain.EventRecord) (*domain.CorrelationResult, error) {
	if anchor.Timestamp.IsZero() {
		return nil, fmt.Errorf("%w: anchor %s has no timestamp", domain.ErrValidation, anchor.EventID)
	}

	inWindow := make([]domain.EventRecord, 0, len(candidates))
	for _, cand := range candidates {
		if cand.Timestamp.IsZero() {
			return nil, fmt.Errorf("%w: candidate %s has no timestamp", domain.ErrValidation, cand.EventID)
		}
		if absDelta(anchor.Timestamp, cand.Timestamp) <= c.cfg.Window {
			inWindow = append(inWindow, cand)
		}
	}

	result := &domain.CorrelationResult{
		Anchor:             anchor,
		CandidatesInWindow: len(inWindow),
	}

	if len(inWindow) == 0 {
		result.Classification = domain.ClassGhost
		return result, nil
	}

	// Best match: smallest absolute delta, ties broken by confidence.
	// Candidate sets are bounded by window size times event rate, so a
	// linear scan beats any search structure here.
	best := inWindow[0]
	bestDelta := absDelta(anchor.Timestamp, best.Timestamp)
	for _, cand := range inWindow[1:] {
		delta := absDelta(anchor.Timestamp, cand.Timestamp)
		if delta < bestDelta || (delta == bestDelta && cand.Confidence > best.Confidence) {
			best = cand
			bestDelta = delta
		}
	}

	result.Matched = &best
	result.TimeDelta = best.Timestamp.Sub(anchor.Timestamp)

	if best.Confidence < c.cfg.MinConfidence {
		result.Classification = domain.ClassLowConfidence
		return result, nil
	}

	if c.countInSubWindow(anchor, inWindow) > 1 {
		result.Classification = domain.ClassMultiCandidate
		return result, nil
	}

	result.Classification = domain.ClassMatched
	return result, nil
}

// CorrelateStream runs Correlate for every anchor in a stream.
func (c *Correlator) CorrelateStream(anchors, candidates []domain.EventRecord) ([]domain.CorrelationResult, error) {
	results := make([]domain.CorrelationResult, 0, len(anchors))
	for _, anchor := range anchors {
		r, err := c.Correlate(anchor, candidates)
		if err != nil {
			return nil, err
		}
		results = append(results, *r)
	}
	return results, nil
}

func (c *Correlator) countInSubWindow(anchor domain.EventRecord, candidates []domain.EventRecord) int {
	n := 0
	for _, cand := range candidates {
		if absDelta(anchor.Timestamp, cand.Timestamp) <= c.cfg.MultiCandidateWindow {
			n++
		}
	}
	return n
}

func absDelta(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		return -d
	}
	return d
}
