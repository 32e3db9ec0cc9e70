// Package worker provides async sweep processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/loss-prevention/kestrel/internal/analysis"
	"github.com/loss-prevention/kestrel/internal/domain"
)

// Worker runs batch sweeps in response to EventBus requests.
type Worker struct {
	bus      domain.EventBus
	analyzer *analysis.Analyzer
	workers  int

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to serve (empty = all via the global subscription)
	TenantIDs []string

	// SweepWorkers is the per-subject parallelism of each sweep
	SweepWorkers int
}

// NewWorker creates a new async sweep worker.
func NewWorker(bus domain.EventBus, analyzer *analysis.Analyzer, sweepWorkers int) *Worker {
	if sweepWorkers <= 0 {
		sweepWorkers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		analyzer: analyzer,
		workers:  sweepWorkers,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins serving sweep requests for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if cfg.SweepWorkers > 0 {
		w.workers = cfg.SweepWorkers
	}

	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that serves all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	// Subscribe using a special "global" tenant ID
	// In production, you'd want to subscribe with wildcards or JetStream
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicSweepRequested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts a worker for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicSweepRequested, func(ctx context.Context, msg *domain.Message) error {
		return w.runSweep(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicSweepRequested,
	)

	return nil
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.runSweep(ctx, msg.TenantID, msg)
}

// SweepMessage is the message payload for a sweep request.
type SweepMessage struct {
	TenantID string `json:"tenantId"`
	TraceID  string `json:"traceId,omitempty"`
	Workers  int    `json:"workers,omitempty"`
}

// runSweep analyzes every known subject for the tenant.
func (w *Worker) runSweep(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var sweepMsg SweepMessage
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &sweepMsg); err != nil {
			slog.Error("failed to parse sweep message",
				"message_id", msg.ID,
				"error", err,
			)
			return err
		}
	}

	// Use message tenant if provided
	if sweepMsg.TenantID != "" {
		tenantID = sweepMsg.TenantID
	}

	traceID := sweepMsg.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	workers := sweepMsg.Workers
	if workers <= 0 {
		workers = w.workers
	}

	slog.Debug("starting sweep",
		"tenant_id", tenantID,
		"trace_id", traceID,
		"workers", workers,
	)

	summary, err := w.analyzer.Sweep(ctx, tenantID, workers)
	if err != nil {
		slog.Error("sweep failed",
			"tenant_id", tenantID,
			"trace_id", traceID,
			"error", err,
		)
		return err
	}

	slog.Info("sweep completed",
		"tenant_id", tenantID,
		"trace_id", traceID,
		"subjects", summary.Subjects,
		"alerted", summary.Alerted,
		"throttled", summary.Throttled,
		"failed", summary.Failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
