package correlate

import (
	"errors"
	"testing"
	"time"

	"github.com/loss-prevention/kestrel/internal/domain"
)

func event(id string, ts time.Time, confidence float64) domain.EventRecord {
	return domain.EventRecord{
		EventID:    id,
		SubjectRef: "staff-001",
		Kind:       domain.EventCameraDetection,
		Timestamp:  ts,
		Confidence: confidence,
	}
}

func TestCorrelator_BestMatch(t *testing.T) {
	c, err := New(Config{Window: 30 * time.Second, MinConfidence: 0.75})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	base := time.Unix(1000, 0)
	anchor := event("tx-1", base, 1.0)
	candidates := []domain.EventRecord{
		event("cam-a", time.Unix(970, 0), 0.95),
		event("cam-b", time.Unix(1005, 0), 0.80),
		event("cam-c", time.Unix(1050, 0), 0.99), // outside window
	}

	result, err := c.Correlate(anchor, candidates)
	if err != nil {
		t.Fatalf("Correlate failed: %v", err)
	}

	if result.Classification != domain.ClassMatched {
		t.Errorf("expected MATCHED, got %s", result.Classification)
	}
	if result.Matched == nil || result.Matched.EventID != "cam-b" {
		t.Errorf("expected best match cam-b (delta=5s), got %+v", result.Matched)
	}
	if result.TimeDelta != 5*time.Second {
		t.Errorf("expected delta 5s, got %v", result.TimeDelta)
	}
	if result.CandidatesInWindow != 2 {
		t.Errorf("expected 2 in-window candidates, got %d", result.CandidatesInWindow)
	}
}

func TestCorrelator_Ghost(t *testing.T) {
	c, _ := New(DefaultConfig())

	anchor := event("tx-1", time.Unix(1000, 0), 1.0)

	result, err := c.Correlate(anchor, nil)
	if err != nil {
		t.Fatalf("Correlate failed: %v", err)
	}
	if result.Classification != domain.ClassGhost {
		t.Errorf("expected GHOST for empty candidates, got %s", result.Classification)
	}
	if result.Matched != nil {
		t.Errorf("expected no match, got %+v", result.Matched)
	}
}

func TestCorrelator_GhostWhenAllOutOfWindow(t *testing.T) {
	c, _ := New(DefaultConfig())

	anchor := event("tx-1", time.Unix(1000, 0), 1.0)
	candidates := []domain.EventRecord{
		event("cam-a", time.Unix(500, 0), 0.99),
		event("cam-b", time.Unix(2000, 0), 0.99),
	}

	result, err := c.Correlate(anchor, candidates)
	if err != nil {
		t.Fatalf("Correlate failed: %v", err)
	}
	if result.Classification != domain.ClassGhost {
		t.Errorf("expected GHOST when correlator discards out-of-window input, got %s", result.Classification)
	}
}

func TestCorrelator_LowConfidence(t *testing.T) {
	c, _ := New(Config{Window: 30 * time.Second, MinConfidence: 0.75})

	anchor := event("tx-1", time.Unix(1000, 0), 1.0)
	candidates := []domain.EventRecord{
		event("cam-a", time.Unix(1002, 0), 0.40),
	}

	result, err := c.Correlate(anchor, candidates)
	if err != nil {
		t.Fatalf("Correlate failed: %v", err)
	}
	if result.Classification != domain.ClassLowConfidence {
		t.Errorf("expected LOW_CONFIDENCE, got %s", result.Classification)
	}
	if result.Matched == nil || result.Matched.EventID != "cam-a" {
		t.Errorf("low-confidence result should still carry best match")
	}
}

func TestCorrelator_MultiCandidate(t *testing.T) {
	c, _ := New(Config{Window: 30 * time.Second, MinConfidence: 0.75})

	anchor := event("tx-1", time.Unix(1000, 0), 1.0)
	candidates := []domain.EventRecord{
		event("cam-a", time.Unix(998, 0), 0.90),
		event("cam-b", time.Unix(1004, 0), 0.85), // both inside the 15s sub-window
	}

	result, err := c.Correlate(anchor, candidates)
	if err != nil {
		t.Fatalf("Correlate failed: %v", err)
	}
	if result.Classification != domain.ClassMultiCandidate {
		t.Errorf("expected MULTI_CANDIDATE, got %s", result.Classification)
	}
}

func TestCorrelator_TieBrokenByConfidence(t *testing.T) {
	c, _ := New(Config{Window: 60 * time.Second, MinConfidence: 0.5, MultiCandidateWindow: time.Second})

	anchor := event("tx-1", time.Unix(1000, 0), 1.0)
	candidates := []domain.EventRecord{
		event("cam-early", time.Unix(980, 0), 0.60),
		event("cam-late", time.Unix(1020, 0), 0.95), // same |delta|, higher confidence
	}

	result, err := c.Correlate(anchor, candidates)
	if err != nil {
		t.Fatalf("Correlate failed: %v", err)
	}
	if result.Matched == nil || result.Matched.EventID != "cam-late" {
		t.Errorf("expected tie broken by confidence, got %+v", result.Matched)
	}
}

func TestCorrelator_InvalidInput(t *testing.T) {
	t.Run("ZeroWindow", func(t *testing.T) {
		if _, err := New(Config{Window: 0, MinConfidence: 0.75}); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected validation error for zero window, got %v", err)
		}
	})

	t.Run("NegativeWindow", func(t *testing.T) {
		if _, err := New(Config{Window: -time.Second, MinConfidence: 0.75}); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected validation error for negative window, got %v", err)
		}
	})

	t.Run("ConfidenceOutOfRange", func(t *testing.T) {
		if _, err := New(Config{Window: time.Second, MinConfidence: 1.5}); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected validation error for confidence > 1, got %v", err)
		}
	})

	t.Run("MalformedAnchorTimestamp", func(t *testing.T) {
		c, _ := New(DefaultConfig())
		anchor := domain.EventRecord{EventID: "tx-1"}
		if _, err := c.Correlate(anchor, nil); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected validation error for zero anchor timestamp, got %v", err)
		}
	})

	t.Run("MalformedCandidateTimestamp", func(t *testing.T) {
		c, _ := New(DefaultConfig())
		anchor := event("tx-1", time.Unix(1000, 0), 1.0)
		candidates := []domain.EventRecord{{EventID: "cam-x", Confidence: 0.9}}
		if _, err := c.Correlate(anchor, candidates); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected validation error for zero candidate timestamp, got %v", err)
		}
	})
}

func TestCorrelator_Stream(t *testing.T) {
	c, _ := New(DefaultConfig())

	anchors := []domain.EventRecord{
		event("tx-1", time.Unix(1000, 0), 1.0),
		event("tx-2", time.Unix(5000, 0), 1.0),
	}
	candidates := []domain.EventRecord{
		event("cam-a", time.Unix(1003, 0), 0.90),
	}

	results, err := c.CorrelateStream(anchors, candidates)
	if err != nil {
		t.Fatalf("CorrelateStream failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Classification != domain.ClassMatched {
		t.Errorf("tx-1 should match, got %s", results[0].Classification)
	}
	if results[1].Classification != domain.ClassGhost {
		t.Errorf("tx-2 has no nearby detection, expected GHOST, got %s", results[1].Classification)
	}
}
