package indicator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/loss-prevention/kestrel/internal/domain"
)

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine(5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.Count() != 0 {
		t.Errorf("expected 0 indicators, got %d", engine.Count())
	}
}

func TestLoadIndicator(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	cfg := &domain.IndicatorConfig{
		ID:         "ind-001",
		Name:       "high-void-count",
		Version:    "1.0.0",
		Expression: `metrics["void_count"] > 5.0`,
		Weight:     1.0,
		Enabled:    true,
	}

	if err := engine.Load(cfg); err != nil {
		t.Fatalf("failed to load indicator: %v", err)
	}
	if engine.Count() != 1 {
		t.Errorf("expected 1 indicator, got %d", engine.Count())
	}
}

func TestLoadInvalidExpression(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	cfg := &domain.IndicatorConfig{
		ID:         "ind-bad",
		Name:       "broken",
		Expression: "this is not valid CEL !!!",
		Enabled:    true,
	}

	err := engine.Load(cfg)
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for invalid CEL, got %v", err)
	}
}

func TestLoadWrongOutputType(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	cfg := &domain.IndicatorConfig{
		ID:         "ind-string",
		Name:       "string-result",
		Expression: `"not a score"`,
		Enabled:    true,
	}

	if err := engine.Load(cfg); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for string output, got %v", err)
	}
}

func TestEvaluateBooleanIndicator(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	cfg := &domain.IndicatorConfig{
		ID:         "ind-voids",
		Name:       "excessive-voids",
		Expression: `metrics["void_count"] > 5.0`,
		Weight:     1.0,
		Enabled:    true,
	}
	engine.Load(cfg)

	ctx := context.Background()

	results, err := engine.EvaluateAll(ctx, &EvaluateInput{
		TenantID:  "tenant-001",
		SubjectID: "emp-001",
		Metrics:   map[string]float64{"void_count": 3},
	})
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Score != 0.0 {
		t.Errorf("expected score 0.0 below threshold, got %.2f", results[0].Score)
	}

	results, _ = engine.EvaluateAll(ctx, &EvaluateInput{
		TenantID:  "tenant-001",
		SubjectID: "emp-001",
		Metrics:   map[string]float64{"void_count": 8},
	})
	if results[0].Score != 1.0 {
		t.Errorf("expected score 1.0 above threshold, got %.2f", results[0].Score)
	}
	if results[0].Reason != "excessive-voids" {
		t.Errorf("expected reason to name the indicator, got %q", results[0].Reason)
	}
}

func TestEvaluateNumericIndicator(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	cfg := &domain.IndicatorConfig{
		ID:         "ind-graded",
		Name:       "late-night-refunds",
		Expression: `hour >= 22 && metrics["refund_total"] > baseline["refund_total"] * 2.0 ? 0.8 : 0.0`,
		Weight:     1.0,
		Enabled:    true,
	}
	engine.Load(cfg)

	results, err := engine.EvaluateAll(context.Background(), &EvaluateInput{
		TenantID:  "tenant-001",
		SubjectID: "emp-002",
		Metrics:   map[string]float64{"refund_total": 500},
		Baseline:  map[string]float64{"refund_total": 100},
		Hour:      23,
	})
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if results[0].Score != 0.8 {
		t.Errorf("expected graded score 0.8, got %.2f", results[0].Score)
	}
}

func TestEvaluateClampsOutOfRange(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	engine.Load(&domain.IndicatorConfig{
		ID:         "ind-overdriven",
		Name:       "overdriven",
		Expression: `metrics["x"] * 10.0`,
		Enabled:    true,
	})

	results, err := engine.EvaluateAll(context.Background(), &EvaluateInput{
		SubjectID: "emp-003",
		Metrics:   map[string]float64{"x": 5},
	})
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if results[0].Score != 1.0 {
		t.Errorf("expected score clamped to 1.0, got %.2f", results[0].Score)
	}
}

func TestEvaluateRuntimeErrorIsolated(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	// Missing key access fails at runtime, not compile time
	engine.Load(&domain.IndicatorConfig{
		ID:         "ind-missing-key",
		Name:       "missing-key",
		Expression: `metrics["never_present"] > 1.0`,
		Enabled:    true,
	})

	results, err := engine.EvaluateAll(context.Background(), &EvaluateInput{
		SubjectID: "emp-004",
		Metrics:   map[string]float64{},
	})
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if results[0].Err == "" {
		t.Error("expected per-indicator error to be recorded")
	}
	if results[0].Score != 0 {
		t.Errorf("failed indicator must not contribute a score, got %.2f", results[0].Score)
	}
}

func TestReloadSwapsAtomically(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	engine.Load(&domain.IndicatorConfig{
		ID: "ind-old", Name: "old", Expression: "1.0", Enabled: true,
	})

	next := []*domain.IndicatorConfig{
		{ID: "ind-new-1", Name: "new-1", Expression: "0.5", Enabled: true},
		{ID: "ind-new-2", Name: "new-2", Expression: "0.0", Enabled: true},
		{ID: "ind-disabled", Name: "off", Expression: "1.0", Enabled: false},
	}
	if err := engine.Reload(next); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	if engine.Count() != 2 {
		t.Errorf("expected 2 indicators after reload, got %d", engine.Count())
	}
	for _, cfg := range engine.Loaded() {
		if cfg.ID == "ind-old" {
			t.Error("old indicator should be gone after reload")
		}
	}
}

func TestReloadRejectsBadSetWholesale(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	engine.Load(&domain.IndicatorConfig{
		ID: "ind-keep", Name: "keep", Expression: "1.0", Enabled: true,
	})

	bad := []*domain.IndicatorConfig{
		{ID: "ind-ok", Name: "ok", Expression: "0.5", Enabled: true},
		{ID: "ind-broken", Name: "broken", Expression: "!!!", Enabled: true},
	}
	if err := engine.Reload(bad); err == nil {
		t.Fatal("expected Reload to fail on broken expression")
	}

	// Failed reload must leave the previous set intact
	if engine.Count() != 1 {
		t.Errorf("expected previous set preserved, got %d indicators", engine.Count())
	}
}

func TestEvaluateConcurrent(t *testing.T) {
	engine, _ := NewEngine(4)
	defer engine.Close()

	for i := 0; i < 10; i++ {
		engine.Load(&domain.IndicatorConfig{
			ID:         fmt.Sprintf("ind-%02d", i),
			Name:       fmt.Sprintf("indicator-%02d", i),
			Expression: `metrics["v"] > 0.5`,
			Enabled:    true,
		})
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := engine.EvaluateAll(context.Background(), &EvaluateInput{
				SubjectID: "emp-005",
				Metrics:   map[string]float64{"v": 0.9},
			})
			if err != nil {
				t.Errorf("evaluation failed: %v", err)
				return
			}
			if len(results) != 10 {
				t.Errorf("expected 10 results, got %d", len(results))
			}
		}()
	}
	wg.Wait()
}

func TestValidateDoesNotLoad(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	cfg := &domain.IndicatorConfig{
		ID: "ind-check", Name: "check", Expression: "0.3", Enabled: true,
	}
	if err := engine.Validate(cfg); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if engine.Count() != 0 {
		t.Errorf("Validate must not load, got %d indicators", engine.Count())
	}
}
