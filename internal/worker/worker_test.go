package worker

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loss-prevention/kestrel/internal/analysis"
	"github.com/loss-prevention/kestrel/internal/bus"
	"github.com/loss-prevention/kestrel/internal/domain"
	"github.com/loss-prevention/kestrel/internal/dossier"
	"github.com/loss-prevention/kestrel/internal/fusion"
	"github.com/loss-prevention/kestrel/internal/provider"
	"github.com/loss-prevention/kestrel/internal/repository"
	"github.com/loss-prevention/kestrel/internal/throttle"
)

type fixedProvider struct {
	score float64
}

func (p *fixedProvider) Source() domain.SignalSource { return domain.SourceBehavior }

func (p *fixedProvider) ProduceSignal(ctx context.Context, tenantID, subjectID string) (*domain.Signal, error) {
	return &domain.Signal{
		Source:     domain.SourceBehavior,
		SubjectID:  subjectID,
		Score:      p.score,
		Confidence: 0.9,
		Weight:     1.0,
		ObservedAt: time.Now().UTC(),
	}, nil
}

func newTestAnalyzer(t *testing.T, eventBus domain.EventBus, score float64) (*analysis.Analyzer, *repository.MemoryRepository) {
	t.Helper()

	repo := repository.NewMemory()

	fusionEngine, err := fusion.New(fusion.DefaultConfig())
	if err != nil {
		t.Fatalf("fusion.New failed: %v", err)
	}
	gate, err := throttle.NewGate(repo, throttle.Policy{Window: time.Hour, MinRiskLevel: domain.RiskHigh})
	if err != nil {
		t.Fatalf("throttle.NewGate failed: %v", err)
	}
	builder, err := dossier.New(dossier.DefaultConfig())
	if err != nil {
		t.Fatalf("dossier.New failed: %v", err)
	}

	providers := []provider.Provider{&fixedProvider{score: score}}
	return analysis.New(providers, fusionEngine, gate, builder, repo, eventBus), repo
}

func seedSubject(t *testing.T, repo *repository.MemoryRepository, tenantID, subjectID string) {
	t.Helper()
	err := repo.SaveBaseline(context.Background(), tenantID, &domain.BaselineProfile{
		SubjectID: subjectID,
		TenantID:  tenantID,
		Dimensions: map[string]domain.BaselineDimension{
			"void_count": {Mean: 2, StdDev: 1, SampleCount: 30},
		},
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("SaveBaseline failed: %v", err)
	}
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	t.Run("StartAndStop", func(t *testing.T) {
		analyzer, _ := newTestAnalyzer(t, eventBus, 0.9)
		w := NewWorker(eventBus, analyzer, 2)

		cfg := Config{
			TenantIDs:    []string{"tenant-001"},
			SweepWorkers: 1,
		}

		if err := w.Start(cfg); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = w.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessSweep", func(t *testing.T) {
		analyzer, repo := newTestAnalyzer(t, eventBus, 0.9)
		seedSubject(t, repo, "tenant-sweep", "emp-001")
		seedSubject(t, repo, "tenant-sweep", "emp-002")

		w := NewWorker(eventBus, analyzer, 2)
		cfg := Config{
			TenantIDs: []string{"tenant-sweep"},
		}
		w.Start(cfg)
		defer w.Stop()

		var scoresReceived atomic.Int32
		var lastScore atomic.Pointer[domain.CompositeScore]

		eventBus.Subscribe(context.Background(), "tenant-sweep", domain.TopicScoreComputed, func(ctx context.Context, msg *domain.Message) error {
			var score domain.CompositeScore
			if err := json.Unmarshal(msg.Payload, &score); err != nil {
				return err
			}
			lastScore.Store(&score)
			scoresReceived.Add(1)
			return nil
		})

		// Allow subscriptions to be active
		time.Sleep(50 * time.Millisecond)

		sweepMsg := SweepMessage{
			TenantID: "tenant-sweep",
			TraceID:  "trace-001",
		}
		payload, _ := json.Marshal(sweepMsg)
		if err := eventBus.Publish(context.Background(), "tenant-sweep", domain.TopicSweepRequested, payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		// Wait for processing
		time.Sleep(200 * time.Millisecond)

		if got := scoresReceived.Load(); got != 2 {
			t.Errorf("expected 2 scores published, got %d", got)
		}
		if score := lastScore.Load(); score != nil {
			if score.TenantID != "tenant-sweep" {
				t.Errorf("expected tenantID 'tenant-sweep', got '%s'", score.TenantID)
			}
			if score.Total <= 0 {
				t.Errorf("expected positive composite score, got %.2f", score.Total)
			}
		}
	})

	t.Run("AlertPublished", func(t *testing.T) {
		analyzer, repo := newTestAnalyzer(t, eventBus, 0.95)
		seedSubject(t, repo, "tenant-alert", "emp-hot")

		w := NewWorker(eventBus, analyzer, 1)
		cfg := Config{
			TenantIDs: []string{"tenant-alert"},
		}
		w.Start(cfg)
		defer w.Stop()

		var alertReceived atomic.Bool

		eventBus.Subscribe(context.Background(), "tenant-alert", domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			alertReceived.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		eventBus.Publish(context.Background(), "tenant-alert", domain.TopicSweepRequested, nil)

		time.Sleep(200 * time.Millisecond)

		if !alertReceived.Load() {
			t.Error("expected alert to be published for high-risk subject")
		}
	})

	t.Run("EmptyPayloadUsesSubscribedTenant", func(t *testing.T) {
		analyzer, repo := newTestAnalyzer(t, eventBus, 0.3)
		seedSubject(t, repo, "tenant-empty", "emp-001")

		w := NewWorker(eventBus, analyzer, 1)
		w.Start(Config{TenantIDs: []string{"tenant-empty"}})
		defer w.Stop()

		var scoreReceived atomic.Bool
		eventBus.Subscribe(context.Background(), "tenant-empty", domain.TopicScoreComputed, func(ctx context.Context, msg *domain.Message) error {
			scoreReceived.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		eventBus.Publish(context.Background(), "tenant-empty", domain.TopicSweepRequested, nil)

		time.Sleep(200 * time.Millisecond)

		if !scoreReceived.Load() {
			t.Error("expected score to be published for nil-payload sweep request")
		}
	})

	t.Run("MultiTenant", func(t *testing.T) {
		analyzer, _ := newTestAnalyzer(t, eventBus, 0.5)
		w := NewWorker(eventBus, analyzer, 1)

		cfg := Config{
			TenantIDs: []string{"tenant-a", "tenant-b"},
		}
		w.Start(cfg)
		defer w.Stop()

		stats := w.GetStats()
		if stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("GlobalWorker", func(t *testing.T) {
		analyzer, _ := newTestAnalyzer(t, eventBus, 0.5)
		w := NewWorker(eventBus, analyzer, 1)

		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}
		if stats.Topics[0] != domain.TopicSweepRequested {
			t.Errorf("expected topic %s, got %s", domain.TopicSweepRequested, stats.Topics[0])
		}
	})
}
