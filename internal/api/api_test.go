package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loss-prevention/kestrel/internal/analysis"
	"github.com/loss-prevention/kestrel/internal/baseline"
	"github.com/loss-prevention/kestrel/internal/cache"
	"github.com/loss-prevention/kestrel/internal/domain"
	"github.com/loss-prevention/kestrel/internal/dossier"
	"github.com/loss-prevention/kestrel/internal/fusion"
	"github.com/loss-prevention/kestrel/internal/indicator"
	"github.com/loss-prevention/kestrel/internal/provider"
	"github.com/loss-prevention/kestrel/internal/repository"
	"github.com/loss-prevention/kestrel/internal/throttle"
)

type staticProvider struct {
	score float64
}

func (p *staticProvider) Source() domain.SignalSource { return domain.SourceBehavior }

func (p *staticProvider) ProduceSignal(ctx context.Context, tenantID, subjectID string) (*domain.Signal, error) {
	return &domain.Signal{
		Source:     domain.SourceBehavior,
		SubjectID:  subjectID,
		Score:      p.score,
		Confidence: 0.9,
		Weight:     1.0,
		ObservedAt: time.Now().UTC(),
	}, nil
}

// createTestServer creates a server wired against in-memory components.
func createTestServer(t *testing.T, providerScore float64) (*Server, *repository.MemoryRepository) {
	t.Helper()

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	repo := repository.NewMemory()
	lru := cache.NewLRUCache(100)

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
	indicators, err := indicator.NewEngine(4)
	if err != nil {
		t.Fatalf("indicator.NewEngine failed: %v", err)
	}

	providers := []provider.Provider{&staticProvider{score: providerScore}}
	analyzer := analysis.New(providers, fusionEngine, gate, builder, repo, nil)
	baselines := baseline.NewStore(repo, lru)

	return NewServer(cfg, repo, lru, nil, analyzer, baselines, indicators, "test-v1", 2), repo
}

func TestAnalyzeEndpoint(t *testing.T) {
	server, _ := createTestServer(t, 0.9)

	t.Run("SuccessfulAnalysis", func(t *testing.T) {
		reqBody := AnalyzeRequest{SubjectID: "emp-001"}

		body, _ := json.Marshal(reqBody)
		req := httptest.NewRequest(http.MethodPost, "/analyze", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp AnalyzeResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.Score == nil {
			t.Fatal("expected score in response")
		}
		if resp.Score.SubjectID != "emp-001" {
			t.Errorf("expected subjectId emp-001, got %s", resp.Score.SubjectID)
		}
		if resp.Score.RiskLevel != domain.RiskCritical {
			t.Errorf("expected CRITICAL risk, got %s", resp.Score.RiskLevel)
		}
		if resp.Decision == nil || !resp.Decision.Allow {
			t.Error("expected alert to be allowed on first analysis")
		}
		if resp.Package == nil {
			t.Error("expected investigation package for allowed alert")
		}
		if resp.Metadata.Version != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp.Metadata.Version)
		}
		if resp.Metadata.TraceID == "" {
			t.Error("expected traceId in metadata")
		}
	})

	t.Run("ExtraSignalsFused", func(t *testing.T) {
		reqBody := AnalyzeRequest{
			SubjectID: "emp-extra",
			Signals: []domain.Signal{
				{
					Source:     domain.SourceTransaction,
					SubjectID:  "emp-extra",
					Score:      0.8,
					Confidence: 0.9,
					Weight:     1.0,
					ObservedAt: time.Now().UTC(),
				},
			},
		}

		body, _ := json.Marshal(reqBody)
		req := httptest.NewRequest(http.MethodPost, "/analyze", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp AnalyzeResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if len(resp.Score.Contributing) != 2 {
			t.Errorf("expected 2 contributing signals, got %d", len(resp.Score.Contributing))
		}
	})

	t.Run("MissingTenantID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/analyze", bytes.NewBufferString("{}"))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingSubjectID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/analyze", bytes.NewBufferString("{}"))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/analyze", bytes.NewBufferString("not-json"))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestSweepEndpoint(t *testing.T) {
	server, repo := createTestServer(t, 0.6)
	ctx := context.Background()

	// Seed two known subjects
	for _, id := range []string{"emp-001", "emp-002"} {
		repo.SaveBaseline(ctx, "tenant-001", &domain.BaselineProfile{
			SubjectID: id,
			TenantID:  "tenant-001",
			Dimensions: map[string]domain.BaselineDimension{
				"void_count": {Mean: 2, StdDev: 1, SampleCount: 30},
			},
			UpdatedAt: time.Now().UTC(),
		})
	}

	t.Run("InlineSweep", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/sweep", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var summary analysis.SweepSummary
		if err := json.Unmarshal(rr.Body.Bytes(), &summary); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if summary.Subjects != 2 {
			t.Errorf("expected 2 subjects, got %d", summary.Subjects)
		}
		if summary.Analyzed != 2 {
			t.Errorf("expected 2 analyzed, got %d", summary.Analyzed)
		}
	})

	t.Run("ScoreRetrievableAfterSweep", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/scores/emp-001", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var score domain.CompositeScore
		if err := json.Unmarshal(rr.Body.Bytes(), &score); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if score.SubjectID != "emp-001" {
			t.Errorf("expected subjectId emp-001, got %s", score.SubjectID)
		}
	})
}

func TestScoreAndPackageEndpoints(t *testing.T) {
	server, _ := createTestServer(t, 0.9)

	t.Run("UnknownScore", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/scores/nobody", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("PackageRoundTrip", func(t *testing.T) {
		// Analyze to produce a package
		body, _ := json.Marshal(AnalyzeRequest{SubjectID: "emp-pkg"})
		req := httptest.NewRequest(http.MethodPost, "/analyze", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		var resp AnalyzeResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse analyze response: %v", err)
		}
		if resp.Package == nil {
			t.Fatal("expected package from analysis")
		}

		req = httptest.NewRequest(http.MethodGet, "/packages/"+resp.Package.ID, nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr = httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var pkg domain.InvestigationPackage
		if err := json.Unmarshal(rr.Body.Bytes(), &pkg); err != nil {
			t.Fatalf("failed to parse package: %v", err)
		}
		if pkg.SubjectID != "emp-pkg" {
			t.Errorf("expected subjectId emp-pkg, got %s", pkg.SubjectID)
		}
	})

	t.Run("UnknownPackage", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/packages/does-not-exist", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("AlertsListed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/alerts/emp-pkg", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Alerts []domain.Alert `json:"alerts"`
			Count  int            `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Count != 1 {
			t.Errorf("expected 1 alert, got %d", resp.Count)
		}
	})
}

func TestBaselineEndpoints(t *testing.T) {
	server, repo := createTestServer(t, 0.3)
	ctx := context.Background()
	now := time.Now().UTC()

	// Seed samples for rebuild
	for i := 0; i < 20; i++ {
		repo.SaveMetricSample(ctx, "tenant-001", &domain.MetricSample{
			SubjectID:  "emp-001",
			Dimension:  "void_count",
			Value:      float64(2 + i%3),
			ObservedAt: now.Add(-time.Duration(i) * time.Hour),
		})
	}

	t.Run("RebuildFromSamples", func(t *testing.T) {
		body, _ := json.Marshal(RebuildBaselineRequest{Dimensions: []string{"void_count"}})
		req := httptest.NewRequest(http.MethodPost, "/baselines/emp-001/rebuild", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var profile domain.BaselineProfile
		if err := json.Unmarshal(rr.Body.Bytes(), &profile); err != nil {
			t.Fatalf("failed to parse profile: %v", err)
		}
		if _, ok := profile.Dimensions["void_count"]; !ok {
			t.Error("expected void_count dimension in rebuilt profile")
		}
	})

	t.Run("GetAfterRebuild", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/baselines/emp-001", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("RebuildWithoutSamples", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/baselines/emp-empty/rebuild", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected status 422, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("GetUnknownBaseline", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/baselines/nobody", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestIndicatorEndpoints(t *testing.T) {
	server, _ := createTestServer(t, 0.3)

	t.Run("CreateIndicator", func(t *testing.T) {
		reqBody := CreateIndicatorRequest{
			ID:         "ind-void-spike",
			Name:       "Void Spike",
			Expression: `metrics["void_count"] > baseline["void_count"] * 3.0`,
			Weight:     0.8,
			Enabled:    true,
		}

		body, _ := json.Marshal(reqBody)
		req := httptest.NewRequest(http.MethodPost, "/indicators", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("CreateInvalidExpression", func(t *testing.T) {
		reqBody := CreateIndicatorRequest{
			ID:         "ind-bad",
			Name:       "Broken",
			Expression: `metrics[`,
			Weight:     0.5,
			Enabled:    true,
		}

		body, _ := json.Marshal(reqBody)
		req := httptest.NewRequest(http.MethodPost, "/indicators", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ReloadAndList", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/indicators/reload", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		req = httptest.NewRequest(http.MethodGet, "/indicators", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr = httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		var resp struct {
			Indicators []*domain.IndicatorConfig `json:"indicators"`
			Count      int                       `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Count != 1 {
			t.Errorf("expected 1 indicator after reload, got %d", resp.Count)
		}
	})

	t.Run("GetIndicator", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/indicators/ind-void-spike", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("GetUnknownIndicator", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/indicators/nope", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestHealthEndpoints(t *testing.T) {
	server, _ := createTestServer(t, 0.3)

	t.Run("Health", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected healthy, got %s", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp["version"])
		}
	})

	t.Run("Ready", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("TraceHeadersSet", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Header().Get(RequestIDHeader) == "" {
			t.Error("expected X-Request-ID response header")
		}
		if rr.Header().Get(TraceIDHeader) == "" {
			t.Error("expected X-Trace-ID response header")
		}
	})
}
