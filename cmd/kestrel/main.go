// Kestrel - Signal fusion and correlation for staff fraud detection.
// Copyright (c) 2025 Kestrel Authors
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/loss-prevention/kestrel/internal/analysis"
	"github.com/loss-prevention/kestrel/internal/api"
	"github.com/loss-prevention/kestrel/internal/baseline"
	"github.com/loss-prevention/kestrel/internal/bus"
	"github.com/loss-prevention/kestrel/internal/cache"
	"github.com/loss-prevention/kestrel/internal/correlate"
	"github.com/loss-prevention/kestrel/internal/domain"
	"github.com/loss-prevention/kestrel/internal/dossier"
	"github.com/loss-prevention/kestrel/internal/fusion"
	"github.com/loss-prevention/kestrel/internal/indicator"
	"github.com/loss-prevention/kestrel/internal/inference"
	"github.com/loss-prevention/kestrel/internal/provider"
	"github.com/loss-prevention/kestrel/internal/repository"
	"github.com/loss-prevention/kestrel/internal/throttle"
	"github.com/loss-prevention/kestrel/internal/trend"
	"github.com/loss-prevention/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"inference", cfg.Inference.Mode,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize baseline store + deviation scorer
	baselines := baseline.NewStore(repo, cacheImpl)
	scorer := baseline.NewScorer(baseline.ScorerConfig{})

	// Initialize temporal correlator
	correlator, err := correlate.New(correlate.DefaultConfig())
	if err != nil {
		slog.Error("failed to initialize correlator", "error", err)
		os.Exit(1)
	}

	// Initialize trend projector
	projector, err := trend.NewProjector(0, 1)
	if err != nil {
		slog.Error("failed to initialize trend projector", "error", err)
		os.Exit(1)
	}

	// Initialize inference pipeline (fake in Community, HTTP in Pro)
	pipe, err := inference.New(cfg.Inference)
	if err != nil {
		slog.Error("failed to initialize inference pipeline", "error", err)
		os.Exit(1)
	}

	// Initialize custom indicator engine and load indicators from database
	indicators, err := indicator.NewEngine(100)
	if err != nil {
		slog.Error("failed to initialize indicator engine", "error", err)
		os.Exit(1)
	}
	if err := loadIndicatorsFromDatabase(ctx, repo, indicators); err != nil {
		slog.Error("failed to load indicators", "error", err)
		os.Exit(1)
	}
	slog.Info("indicator engine initialized", "indicator_count", indicators.Count())

	// Resolve per-source fusion weights
	weights := domain.DefaultSourceWeights()
	for src, w := range cfg.Analysis.SourceWeights {
		weights[src] = w
	}
	if err := weights.Validate(); err != nil {
		slog.Error("invalid source weights", "error", err)
		os.Exit(1)
	}

	// Assemble the built-in signal providers
	pollInterval := time.Duration(cfg.Inference.PollIntervalSecs) * time.Second
	deadline := time.Duration(cfg.Inference.DeadlineSecs) * time.Second
	providers := []provider.Provider{
		provider.NewDeviation(baselines, scorer, repo, weights[domain.SourceBehavior]),
		provider.NewPresence(correlator, repo, weights[domain.SourcePresence]),
		provider.NewForecast(projector, repo, weights[domain.SourceForecast]),
		provider.NewVision(pipe, weights[domain.SourceVision], pollInterval, deadline),
		provider.NewIndicator(indicators, repo, weights[domain.SourceCustomRule]),
	}

	// Initialize fusion engine
	fusionEngine, err := fusion.New(fusion.DefaultConfig())
	if err != nil {
		slog.Error("failed to initialize fusion engine", "error", err)
		os.Exit(1)
	}

	// Initialize alert throttle gate
	gate, err := throttle.NewGate(repo, throttle.Policy{
		Window:       time.Duration(cfg.Analysis.ThrottleWindowSecs) * time.Second,
		MinRiskLevel: domain.RiskHigh,
	})
	if err != nil {
		slog.Error("failed to initialize throttle gate", "error", err)
		os.Exit(1)
	}
	gate = gate.WithCounter(cacheImpl)

	// Initialize investigation package builder
	builder, err := dossier.New(dossier.DefaultConfig())
	if err != nil {
		slog.Error("failed to initialize package builder", "error", err)
		os.Exit(1)
	}

	// Assemble the analyzer
	analyzer := analysis.New(providers, fusionEngine, gate, builder, repo, busImpl)
	analyzer.ProviderTimeout = time.Duration(cfg.Analysis.ProviderTimeoutSecs) * time.Second
	slog.Info("analyzer initialized",
		"providers", len(providers),
		"provider_timeout_secs", cfg.Analysis.ProviderTimeoutSecs,
		"throttle_window_secs", cfg.Analysis.ThrottleWindowSecs,
	)

	// Initialize async sweep Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, analyzer, cfg.Analysis.SweepWorkers)

		var tenantIDs []string
		if envTenants := os.Getenv("KESTREL_TENANTS"); envTenants != "" {
			for _, id := range strings.Split(envTenants, ",") {
				if id = strings.TrimSpace(id); id != "" {
					tenantIDs = append(tenantIDs, id)
				}
			}
		}

		workerCfg := worker.Config{
			TenantIDs:    tenantIDs,
			SweepWorkers: cfg.Analysis.SweepWorkers,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, analyzer, baselines, indicators, Version, cfg.Analysis.SweepWorkers)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// GlobalTenantID is used for indicators that apply to all tenants.
const GlobalTenantID = "*"

// loadIndicatorsFromDatabase loads custom indicators into the engine.
// All indicators must be configured via POST /indicators - no hardcoded defaults.
func loadIndicatorsFromDatabase(ctx context.Context, repo domain.Repository, engine *indicator.Engine) error {
	configs, err := repo.ListIndicators(ctx, GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list indicators from database", "error", err)
		return nil // Start with an empty set - they can be added via API
	}

	if len(configs) > 0 {
		slog.Info("loading indicators from database", "count", len(configs))
		return engine.LoadAll(configs)
	}

	slog.Info("no indicators in database - configure via POST /indicators")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               KESTREL                     ║")
	fmt.Println("  ║    Signal Fusion & Correlation Engine     ║")
	fmt.Println("  ║      Small signals, seen together.        ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /analyze                         - Analyze one subject now")
	fmt.Println("    POST /sweep                           - Run or enqueue a batch sweep")
	fmt.Println("    GET  /scores/{subjectID}              - Latest composite score")
	fmt.Println("    GET  /packages/{id}                   - Investigation package")
	fmt.Println("    GET  /alerts/{subjectID}              - Recent alerts")
	fmt.Println("    GET  /baselines/{subjectID}           - Baseline profile")
	fmt.Println("    POST /baselines/{subjectID}/rebuild   - Relearn baseline from samples")
	fmt.Println("    GET  /indicators                      - List custom indicators")
	fmt.Println("    POST /indicators                      - Create a custom indicator")
	fmt.Println("    POST /indicators/reload               - Hot-reload indicators")
	fmt.Println("    GET  /health                          - Health check")
	fmt.Println()
}
