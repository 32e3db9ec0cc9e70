// Package analysis composes providers, fusion, throttling and package
// assembly into the per-subject pipeline.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/loss-prevention/kestrel/internal/domain"
	"github.com/loss-prevention/kestrel/internal/dossier"
	"github.com/loss-prevention/kestrel/internal/fusion"
	"github.com/loss-prevention/kestrel/internal/provider"
	"github.com/loss-prevention/kestrel/internal/throttle"
)

var tracer = otel.Tracer("kestrel-analysis")

// Analyzer runs the full per-subject pipeline: gather signals from the
// providers in parallel, fuse, gate the alert, and assemble the
// investigation package when one fires.
type Analyzer struct {
	providers []provider.Provider
	fusion    *fusion.Engine
	gate      *throttle.Gate
	builder   *dossier.Builder
	repo      domain.Repository
	bus       domain.EventBus

	// ProviderTimeout bounds each provider; one exceeding it degrades to
	// absent for that run.
	ProviderTimeout time.Duration
}

// New creates an analyzer. The bus may be nil; results are then not
// published.
func New(providers []provider.Provider, fusionEngine *fusion.Engine, gate *throttle.Gate, builder *dossier.Builder, repo domain.Repository, bus domain.EventBus) *Analyzer {
	return &Analyzer{
		providers:       providers,
		fusion:          fusionEngine,
		gate:            gate,
		builder:         builder,
		repo:            repo,
		bus:             bus,
		ProviderTimeout: 10 * time.Second,
	}
}

// Result is the outcome of one subject analysis.
type Result struct {
	Score    *domain.CompositeScore         `json:"score"`
	Package  *domain.InvestigationPackage   `json:"package,omitempty"`
	Decision *domain.AlertDecision          `json:"decision"`
	Failed   map[domain.SignalSource]string `json:"failedSources,omitempty"`
}

// AnalyzeSubject runs the pipeline for one subject. Extra signals from
// external collaborators (transaction analytics, communication analysis)
// are fused alongside provider output.
//
// A persistence failure after fusion is reported as ErrPersistence but the
// computed Result is still returned, so the caller can retry the write or
// alert without recomputation.
func (a *Analyzer) AnalyzeSubject(ctx context.Context, tenantID, subjectID string, extra []domain.Signal) (*Result, error) {
	if tenantID == "" || subjectID == "" {
		return nil, fmt.Errorf("%w: tenantID and subjectID are required", domain.ErrValidation)
	}

	ctx, span := tracer.Start(ctx, "analysis.AnalyzeSubject")
	span.SetAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("subject.id", subjectID),
	)
	defer span.End()

	signals, failed := a.gatherSignals(ctx, tenantID, subjectID)

	// A cancelled sweep discards partial signals, never partially fuses.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i := range extra {
		if err := extra[i].Validate(); err != nil {
			return nil, err
		}
		signals = append(signals, extra[i])
	}

	composite, err := a.fusion.Fuse(subjectID, signals)
	if err != nil {
		return nil, err
	}
	composite.TenantID = tenantID

	decision, err := a.gate.ShouldAlert(ctx, tenantID, composite)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Score:    composite,
		Decision: decision,
		Failed:   failed,
	}

	if decision.Allow {
		evidence := make(map[domain.SignalSource]*domain.Evidence)
		for _, s := range signals {
			if s.Evidence != nil {
				evidence[s.Source] = s.Evidence
			}
		}
		pkg, err := a.builder.Build(subjectID, composite, evidence)
		if err != nil {
			return nil, err
		}
		result.Package = pkg
	} else if decision.Throttled {
		slog.Info("alert throttled",
			"tenant_id", tenantID,
			"subject_id", subjectID,
			"risk_level", composite.RiskLevel,
			"next_free", decision.NextFree,
		)
	}

	if err := a.persist(ctx, tenantID, result); err != nil {
		return result, err
	}

	a.publish(ctx, tenantID, result)

	return result, nil
}

// gatherSignals runs every provider in parallel under the per-provider
// timeout. A failing provider never aborts the others; its absence is
// recorded and fusion proceeds with what remains.
func (a *Analyzer) gatherSignals(ctx context.Context, tenantID, subjectID string) ([]domain.Signal, map[domain.SignalSource]string) {
	type outcome struct {
		source domain.SignalSource
		signal *domain.Signal
		err    error
	}

	outcomes := make([]outcome, len(a.providers))
	var wg sync.WaitGroup

	for i, p := range a.providers {
		wg.Add(1)
		go func(idx int, p provider.Provider) {
			defer wg.Done()

			pctx, cancel := context.WithTimeout(ctx, a.ProviderTimeout)
			defer cancel()

			signal, err := p.ProduceSignal(pctx, tenantID, subjectID)
			outcomes[idx] = outcome{source: p.Source(), signal: signal, err: err}
		}(i, p)
	}

	wg.Wait()

	var signals []domain.Signal
	failed := make(map[domain.SignalSource]string)

	for _, o := range outcomes {
		switch {
		case o.err == nil:
			signals = append(signals, *o.signal)
		case errors.Is(o.err, domain.ErrInsufficientData):
			slog.Debug("signal unavailable",
				"tenant_id", tenantID,
				"subject_id", subjectID,
				"source", o.source,
				"reason", o.err.Error(),
			)
			failed[o.source] = o.err.Error()
		default:
			slog.Warn("signal provider failed",
				"tenant_id", tenantID,
				"subject_id", subjectID,
				"source", o.source,
				"error", o.err,
			)
			failed[o.source] = o.err.Error()
		}
	}

	if len(failed) == 0 {
		failed = nil
	}
	return signals, failed
}

func (a *Analyzer) persist(ctx context.Context, tenantID string, result *Result) error {
	if err := a.repo.SaveCompositeScore(ctx, tenantID, result.Score); err != nil {
		return fmt.Errorf("%w: save composite score: %v", domain.ErrPersistence, err)
	}

	if result.Package != nil {
		if err := a.repo.SavePackage(ctx, tenantID, result.Package); err != nil {
			return fmt.Errorf("%w: save investigation package: %v", domain.ErrPersistence, err)
		}
	}

	if result.Decision.Allow || result.Decision.Throttled {
		alert := &domain.Alert{
			ID:          result.Score.ID,
			TenantID:    tenantID,
			SubjectID:   result.Score.SubjectID,
			RiskLevel:   result.Score.RiskLevel,
			Score:       result.Score.Total,
			Throttled:   result.Decision.Throttled,
			TriggeredAt: time.Now().UTC(),
		}
		if result.Package != nil {
			alert.PackageID = result.Package.ID
		}
		if err := a.repo.SaveAlert(ctx, tenantID, alert); err != nil {
			return fmt.Errorf("%w: save alert: %v", domain.ErrPersistence, err)
		}
	}

	return nil
}

func (a *Analyzer) publish(ctx context.Context, tenantID string, result *Result) {
	if a.bus == nil {
		return
	}

	payload, err := json.Marshal(result.Score)
	if err != nil {
		return
	}
	if err := a.bus.Publish(ctx, tenantID, domain.TopicScoreComputed, payload); err != nil {
		slog.Warn("failed to publish score", "tenant_id", tenantID, "error", err)
	}

	switch {
	case result.Decision.Allow:
		if body, err := json.Marshal(result.Package); err == nil {
			if err := a.bus.Publish(ctx, tenantID, domain.TopicAlert, body); err != nil {
				slog.Warn("failed to publish alert", "tenant_id", tenantID, "error", err)
			}
		}
	case result.Decision.Throttled:
		if err := a.bus.Publish(ctx, tenantID, domain.TopicAlertThrottled, payload); err != nil {
			slog.Warn("failed to publish throttled alert", "tenant_id", tenantID, "error", err)
		}
	}
}
