package fusion

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/loss-prevention/kestrel/internal/domain"
)

func sig(source domain.SignalSource, score, weight float64) domain.Signal {
	return domain.Signal{
		Source:     source,
		SubjectID:  "staff-001",
		Score:      score,
		Confidence: 0.9,
		Weight:     weight,
		ObservedAt: time.Now().UTC(),
	}
}

func TestEngine_Fuse(t *testing.T) {
	engine, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// Three available sources; a fourth provider was unavailable and is
	// simply absent from the list.
	signals := []domain.Signal{
		sig(domain.SourceForecast, 0.8, 0.25),
		sig(domain.SourceVision, 0.75, 0.25),
		sig(domain.SourceCommunication, 0.6, 0.2),
	}

	score, err := engine.Fuse("staff-001", signals)
	if err != nil {
		t.Fatalf("Fuse failed: %v", err)
	}

	// raw = 0.2 + 0.1875 + 0.12 = 0.5075; active weight = 0.70
	if math.Abs(score.Total-0.725) > 1e-9 {
		t.Errorf("total = %v, want 0.725", score.Total)
	}
	if score.RiskLevel != domain.RiskHigh {
		t.Errorf("risk level = %s, want HIGH", score.RiskLevel)
	}
	// Only two signals reach 0.70; the bonus needs three.
	if score.CorrelationBonusApplied {
		t.Error("bonus should not apply with only 2 agreeing sources")
	}
	if len(score.Contributing) != 3 {
		t.Errorf("expected 3 contributing signals, got %d", len(score.Contributing))
	}
}

func TestEngine_CorrelationBonus(t *testing.T) {
	engine, _ := New(DefaultConfig())

	agreeing := []domain.Signal{
		sig(domain.SourceForecast, 0.8, 0.25),
		sig(domain.SourceVision, 0.75, 0.25),
		sig(domain.SourceCommunication, 0.72, 0.2),
	}

	score, err := engine.Fuse("staff-001", agreeing)
	if err != nil {
		t.Fatalf("Fuse failed: %v", err)
	}
	if !score.CorrelationBonusApplied {
		t.Fatal("expected bonus with 3 sources >= 0.70")
	}

	// weighted mean 0.76214... + 0.10
	want := (0.8*0.25+0.75*0.25+0.72*0.2)/0.7 + 0.10
	if math.Abs(score.Total-want) > 1e-9 {
		t.Errorf("total = %v, want %v", score.Total, want)
	}
	if len(score.AgreeingSources) != 3 {
		t.Errorf("expected 3 agreeing sources recorded, got %d", len(score.AgreeingSources))
	}

	// Removing one agreeing signal drops below the count and removes the bonus.
	score2, err := engine.Fuse("staff-001", agreeing[:2])
	if err != nil {
		t.Fatalf("Fuse failed: %v", err)
	}
	if score2.CorrelationBonusApplied {
		t.Error("bonus must disappear when agreement drops below the minimum")
	}
}

func TestEngine_BonusCappedAtOne(t *testing.T) {
	engine, _ := New(DefaultConfig())

	signals := []domain.Signal{
		sig(domain.SourceForecast, 1.0, 0.3),
		sig(domain.SourceVision, 1.0, 0.3),
		sig(domain.SourceBehavior, 0.98, 0.3),
	}

	score, err := engine.Fuse("staff-001", signals)
	if err != nil {
		t.Fatalf("Fuse failed: %v", err)
	}
	if score.Total > 1.0 {
		t.Errorf("total %v exceeds 1.0", score.Total)
	}
	if score.RiskLevel != domain.RiskCritical {
		t.Errorf("risk level = %s, want CRITICAL", score.RiskLevel)
	}
}

func TestEngine_ZeroSignals(t *testing.T) {
	engine, _ := New(DefaultConfig())

	score, err := engine.Fuse("staff-new", nil)
	if err != nil {
		t.Fatalf("zero signals is a legitimate outcome, got error: %v", err)
	}
	if score.Total != 0 {
		t.Errorf("total = %v, want 0", score.Total)
	}
	if score.RiskLevel != domain.RiskLow {
		t.Errorf("risk level = %s, want LOW", score.RiskLevel)
	}
	if score.CorrelationBonusApplied {
		t.Error("no bonus without signals")
	}
}

func TestEngine_OrderIndependent(t *testing.T) {
	engine, _ := New(DefaultConfig())

	signals := []domain.Signal{
		sig(domain.SourceForecast, 0.9, 0.25),
		sig(domain.SourceVision, 0.8, 0.25),
		sig(domain.SourceCommunication, 0.75, 0.2),
		sig(domain.SourceBehavior, 0.3, 0.15),
		sig(domain.SourcePresence, 0.5, 0.2),
	}

	want, err := engine.Fuse("staff-001", signals)
	if err != nil {
		t.Fatalf("Fuse failed: %v", err)
	}

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := make([]domain.Signal, len(signals))
		copy(shuffled, signals)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})

		got, err := engine.Fuse("staff-001", shuffled)
		if err != nil {
			t.Fatalf("Fuse failed: %v", err)
		}
		if math.Abs(got.Total-want.Total) > 1e-12 {
			t.Fatalf("permutation changed total: %v vs %v", got.Total, want.Total)
		}
		if got.RiskLevel != want.RiskLevel || got.CorrelationBonusApplied != want.CorrelationBonusApplied {
			t.Fatal("permutation changed classification")
		}
		for j := range got.Contributions {
			if got.Contributions[j] != want.Contributions[j] {
				t.Fatalf("permutation changed contribution order: %+v vs %+v", got.Contributions[j], want.Contributions[j])
			}
		}
	}
}

func TestEngine_NormalizedRange(t *testing.T) {
	engine, _ := New(DefaultConfig())
	rng := rand.New(rand.NewSource(7))

	sources := domain.KnownSources
	for i := 0; i < 200; i++ {
		n := rng.Intn(len(sources)) + 1
		signals := make([]domain.Signal, 0, n)
		for j := 0; j < n; j++ {
			signals = append(signals, sig(sources[j], rng.Float64(), rng.Float64()*2))
		}

		score, err := engine.Fuse("staff-001", signals)
		if err != nil {
			t.Fatalf("Fuse failed: %v", err)
		}
		if score.Total < 0 || score.Total > 1 {
			t.Fatalf("total %v outside [0,1] for %d signals", score.Total, n)
		}
	}
}

func TestEngine_RejectsInvalidSignals(t *testing.T) {
	engine, _ := New(DefaultConfig())

	bad := sig(domain.SourceForecast, 1.4, 0.25) // score out of range
	if _, err := engine.Fuse("staff-001", []domain.Signal{bad}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected validation error for out-of-range score, got %v", err)
	}

	unknown := sig("made_up_source", 0.5, 0.25)
	if _, err := engine.Fuse("staff-001", []domain.Signal{unknown}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected validation error for unknown source, got %v", err)
	}
}

func TestNew_ValidatesConfig(t *testing.T) {
	cases := []Config{
		{HighRiskThreshold: 1.5, MinAgreeingSources: 3, CorrelationBonus: 0.1},
		{HighRiskThreshold: 0.7, MinAgreeingSources: 0, CorrelationBonus: 0.1},
		{HighRiskThreshold: 0.7, MinAgreeingSources: 3, CorrelationBonus: -0.1},
	}
	for i, cfg := range cases {
		if _, err := New(cfg); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("case %d: expected validation error, got %v", i, err)
		}
	}
}
