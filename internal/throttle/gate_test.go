package throttle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/loss-prevention/kestrel/internal/cache"
	"github.com/loss-prevention/kestrel/internal/domain"
	"github.com/loss-prevention/kestrel/internal/repository"
)

func newTestGate(t *testing.T, policy Policy) (*Gate, *repository.MemoryRepository) {
	t.Helper()
	repo := repository.NewMemory()
	t.Cleanup(func() { repo.Close() })

	gate, err := NewGate(repo, policy)
	if err != nil {
		t.Fatalf("NewGate failed: %v", err)
	}
	return gate, repo
}

func score(subjectID string, level domain.RiskLevel) *domain.CompositeScore {
	return &domain.CompositeScore{
		ID:         "score-" + subjectID,
		SubjectID:  subjectID,
		Total:      0.9,
		RiskLevel:  level,
		ComputedAt: time.Now().UTC(),
	}
}

func TestGateFirstAlertAllowed(t *testing.T) {
	gate, _ := newTestGate(t, Policy{Window: 100 * time.Millisecond, MinRiskLevel: domain.RiskHigh})
	ctx := context.Background()

	decision, err := gate.ShouldAlert(ctx, "tenant-001", score("emp-001", domain.RiskCritical))
	if err != nil {
		t.Fatalf("ShouldAlert failed: %v", err)
	}
	if !decision.Allow {
		t.Error("first high-risk score should alert")
	}
	if decision.Throttled {
		t.Error("first alert should not be marked throttled")
	}
}

func TestGateCooldownSuppresses(t *testing.T) {
	gate, _ := newTestGate(t, Policy{Window: time.Hour, MinRiskLevel: domain.RiskHigh})
	ctx := context.Background()

	first, err := gate.ShouldAlert(ctx, "tenant-001", score("emp-002", domain.RiskCritical))
	if err != nil {
		t.Fatalf("ShouldAlert failed: %v", err)
	}
	if !first.Allow {
		t.Fatal("first alert should pass")
	}

	// Second evaluation inside the window is suppressed even at CRITICAL.
	second, err := gate.ShouldAlert(ctx, "tenant-001", score("emp-002", domain.RiskCritical))
	if err != nil {
		t.Fatalf("ShouldAlert failed: %v", err)
	}
	if second.Allow {
		t.Error("alert inside cooldown should be suppressed")
	}
	if !second.Throttled {
		t.Error("suppressed alert should be flagged Throttled")
	}
	if second.NextFree.IsZero() {
		t.Error("throttled decision should carry NextFree")
	}
}

func TestGateAllowsAfterWindow(t *testing.T) {
	gate, _ := newTestGate(t, Policy{Window: 30 * time.Millisecond, MinRiskLevel: domain.RiskHigh})
	ctx := context.Background()

	first, err := gate.ShouldAlert(ctx, "tenant-001", score("emp-003", domain.RiskHigh))
	if err != nil || !first.Allow {
		t.Fatalf("first alert: allow=%v err=%v", first != nil && first.Allow, err)
	}

	time.Sleep(50 * time.Millisecond)

	third, err := gate.ShouldAlert(ctx, "tenant-001", score("emp-003", domain.RiskHigh))
	if err != nil {
		t.Fatalf("ShouldAlert failed: %v", err)
	}
	if !third.Allow {
		t.Error("alert after window elapsed should pass")
	}
}

func TestGateBelowFloorNeverConsumesSlot(t *testing.T) {
	gate, repo := newTestGate(t, Policy{Window: time.Hour, MinRiskLevel: domain.RiskHigh})
	ctx := context.Background()

	decision, err := gate.ShouldAlert(ctx, "tenant-001", score("emp-004", domain.RiskMedium))
	if err != nil {
		t.Fatalf("ShouldAlert failed: %v", err)
	}
	if decision.Allow || decision.Throttled {
		t.Errorf("MEDIUM score should neither alert nor throttle: %+v", decision)
	}

	// The slot must still be free for a real alert afterwards.
	state, err := repo.GetThrottleState(ctx, "tenant-001", "emp-004")
	if err != nil {
		t.Fatalf("GetThrottleState failed: %v", err)
	}
	if !state.LastAlertAt.IsZero() {
		t.Error("below-floor evaluation must not consume the cooldown slot")
	}
}

func TestGateSubjectsIndependent(t *testing.T) {
	gate, _ := newTestGate(t, Policy{Window: time.Hour, MinRiskLevel: domain.RiskHigh})
	ctx := context.Background()

	if d, _ := gate.ShouldAlert(ctx, "tenant-001", score("emp-005", domain.RiskHigh)); !d.Allow {
		t.Fatal("first subject should alert")
	}
	if d, _ := gate.ShouldAlert(ctx, "tenant-001", score("emp-006", domain.RiskHigh)); !d.Allow {
		t.Error("cooldown on one subject must not suppress another")
	}
}

func TestGateConcurrentSingleWinner(t *testing.T) {
	gate, _ := newTestGate(t, Policy{Window: time.Hour, MinRiskLevel: domain.RiskHigh})
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := gate.ShouldAlert(ctx, "tenant-001", score("emp-007", domain.RiskCritical))
			if err != nil {
				t.Errorf("ShouldAlert failed: %v", err)
				return
			}
			if decision.Allow {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 1 {
		t.Errorf("expected exactly 1 allowed alert under contention, got %d", allowed)
	}
}

func TestGateAlertCounter(t *testing.T) {
	gate, _ := newTestGate(t, Policy{Window: time.Hour, MinRiskLevel: domain.RiskHigh})
	counter := cache.NewLRUCache(100)
	t.Cleanup(func() { counter.Close() })
	gate = gate.WithCounter(counter)
	ctx := context.Background()

	first, err := gate.ShouldAlert(ctx, "tenant-001", score("emp-008", domain.RiskCritical))
	if err != nil {
		t.Fatalf("ShouldAlert failed: %v", err)
	}
	if !first.Allow || first.AlertsInWindow != 1 {
		t.Errorf("first alert: allow=%v alertsInWindow=%d, want allow with count 1", first.Allow, first.AlertsInWindow)
	}

	// Suppressed attempts still count toward alert pressure.
	second, err := gate.ShouldAlert(ctx, "tenant-001", score("emp-008", domain.RiskCritical))
	if err != nil {
		t.Fatalf("ShouldAlert failed: %v", err)
	}
	if !second.Throttled || second.AlertsInWindow != 2 {
		t.Errorf("suppressed alert: throttled=%v alertsInWindow=%d, want throttled with count 2", second.Throttled, second.AlertsInWindow)
	}

	// Below the floor no counter is touched.
	low, err := gate.ShouldAlert(ctx, "tenant-001", score("emp-008", domain.RiskMedium))
	if err != nil {
		t.Fatalf("ShouldAlert failed: %v", err)
	}
	if low.AlertsInWindow != 0 {
		t.Errorf("below-floor evaluation must not count as alert pressure, got %d", low.AlertsInWindow)
	}
}

func TestGateValidation(t *testing.T) {
	repo := repository.NewMemory()
	defer repo.Close()

	if _, err := NewGate(repo, Policy{Window: 0}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for zero window, got %v", err)
	}

	gate, err := NewGate(repo, DefaultPolicy())
	if err != nil {
		t.Fatalf("NewGate failed: %v", err)
	}
	if _, err := gate.ShouldAlert(context.Background(), "tenant-001", nil); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for nil score, got %v", err)
	}
}
