package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/loss-prevention/kestrel/internal/analysis"
	"github.com/loss-prevention/kestrel/internal/baseline"
	"github.com/loss-prevention/kestrel/internal/domain"
	"github.com/loss-prevention/kestrel/internal/indicator"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	analyzer   *analysis.Analyzer
	baselines  *baseline.Store
	indicators *indicator.Engine
	version    string

	// sweepWorkers is the per-subject parallelism of inline sweeps.
	sweepWorkers int
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, analyzer *analysis.Analyzer, baselines *baseline.Store, indicators *indicator.Engine, version string, sweepWorkers int) *Handler {
	if sweepWorkers <= 0 {
		sweepWorkers = 1
	}
	return &Handler{
		repo:         repo,
		cache:        cache,
		bus:          bus,
		analyzer:     analyzer,
		baselines:    baselines,
		indicators:   indicators,
		version:      version,
		sweepWorkers: sweepWorkers,
	}
}

// AnalyzeRequest is the request body for POST /analyze.
type AnalyzeRequest struct {
	SubjectID string `json:"subjectId"`

	// Signals from external collaborators (transaction analytics,
	// communication analysis) fused alongside built-in providers.
	Signals []domain.Signal `json:"signals,omitempty"`
}

// AnalyzeResponse is the response for POST /analyze.
type AnalyzeResponse struct {
	Score    *domain.CompositeScore         `json:"score"`
	Decision *domain.AlertDecision          `json:"decision"`
	Package  *domain.InvestigationPackage   `json:"package,omitempty"`
	Failed   map[domain.SignalSource]string `json:"failedSources,omitempty"`
	Metadata struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Analyze handles POST /analyze requests.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.SubjectID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "subjectId is required",
		})
		return
	}

	result, err := h.analyzer.AnalyzeSubject(ctx, tenantID, req.SubjectID, req.Signals)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrValidation):
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		case errors.Is(err, domain.ErrPersistence) && result != nil:
			// Score was computed; the write failed. Report the result
			// and let the caller decide whether to retry.
			slog.Error("analysis persisted with errors",
				"subject_id", req.SubjectID,
				"error", err,
			)
		default:
			slog.Error("analysis failed",
				"subject_id", req.SubjectID,
				"error", err,
			)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "analysis failed",
			})
			return
		}
	}

	resp := AnalyzeResponse{
		Score:    result.Score,
		Decision: result.Decision,
		Package:  result.Package,
		Failed:   result.Failed,
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// SweepRequest is the request body for POST /sweep.
type SweepRequest struct {
	Workers int `json:"workers,omitempty"`
}

// Sweep handles POST /sweep requests. With an event bus attached the sweep
// is enqueued for the async worker; otherwise it runs inline.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req SweepRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
	}

	workers := req.Workers
	if workers <= 0 {
		workers = h.sweepWorkers
	}

	if h.bus != nil {
		payload, _ := json.Marshal(map[string]any{
			"tenantId": tenantID,
			"traceId":  traceID,
			"workers":  workers,
		})
		if err := h.bus.Publish(ctx, tenantID, domain.TopicSweepRequested, payload); err != nil {
			slog.Error("failed to enqueue sweep", "tenant_id", tenantID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to enqueue sweep",
			})
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":  "enqueued",
			"traceId": traceID,
		})
		return
	}

	summary, err := h.analyzer.Sweep(ctx, tenantID, workers)
	if err != nil {
		slog.Error("sweep failed", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "sweep failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetScore retrieves the latest composite score for a subject.
func (h *Handler) GetScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	subjectID := chi.URLParam(r, "subjectID")

	if subjectID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "subject id is required",
		})
		return
	}

	score, err := h.repo.GetCompositeScore(ctx, tenantID, subjectID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Error("failed to get score", "subject_id", subjectID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "score not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, score)
}

// GetPackage retrieves an investigation package by ID.
func (h *Handler) GetPackage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	packageID := chi.URLParam(r, "id")

	if packageID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "package id is required",
		})
		return
	}

	pkg, err := h.repo.GetPackage(ctx, tenantID, packageID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Error("failed to get package", "id", packageID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "package not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, pkg)
}

// ListSubjectAlerts returns recent alerts for a subject.
func (h *Handler) ListSubjectAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	subjectID := chi.URLParam(r, "subjectID")

	if subjectID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "subject id is required",
		})
		return
	}

	since := time.Now().UTC().Add(-30 * 24 * time.Hour)
	alerts, err := h.repo.ListAlerts(ctx, tenantID, subjectID, since)
	if err != nil {
		slog.Error("failed to list alerts", "subject_id", subjectID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list alerts",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// GetBaseline retrieves the live baseline profile for a subject.
func (h *Handler) GetBaseline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	subjectID := chi.URLParam(r, "subjectID")

	if subjectID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "subject id is required",
		})
		return
	}

	profile, err := h.baselines.Load(ctx, tenantID, subjectID)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientData) || errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "no live baseline for subject",
			})
			return
		}
		slog.Error("failed to load baseline", "subject_id", subjectID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load baseline",
		})
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

// RebuildBaselineRequest is the request body for POST /baselines/{subjectID}/rebuild.
type RebuildBaselineRequest struct {
	Dimensions []string `json:"dimensions,omitempty"`
}

// RebuildBaseline relearns a subject's baseline from stored metric samples.
func (h *Handler) RebuildBaseline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	subjectID := chi.URLParam(r, "subjectID")

	if subjectID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "subject id is required",
		})
		return
	}

	var req RebuildBaselineRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
	}

	profile, err := h.baselines.Rebuild(ctx, tenantID, subjectID, req.Dimensions)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientData) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error": "not enough samples to learn a baseline",
			})
			return
		}
		slog.Error("failed to rebuild baseline", "subject_id", subjectID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to rebuild baseline",
		})
		return
	}

	slog.Info("baseline rebuilt",
		"tenant_id", tenantID,
		"subject_id", subjectID,
		"dimensions", len(profile.Dimensions),
	)
	writeJSON(w, http.StatusOK, profile)
}

// ListIndicators returns all loaded custom indicators.
// Indicators are loaded from the database at startup and can be reloaded
// via POST /indicators/reload.
func (h *Handler) ListIndicators(w http.ResponseWriter, r *http.Request) {
	loaded := h.indicators.Loaded()

	writeJSON(w, http.StatusOK, map[string]any{
		"indicators": loaded,
		"count":      len(loaded),
		"source":     "database",
	})
}

// GetIndicator retrieves an indicator by ID from the loaded engine set.
func (h *Handler) GetIndicator(w http.ResponseWriter, r *http.Request) {
	indicatorID := chi.URLParam(r, "id")

	if indicatorID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "indicator id is required",
		})
		return
	}

	for _, ind := range h.indicators.Loaded() {
		if ind.ID == indicatorID {
			writeJSON(w, http.StatusOK, ind)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "indicator not found",
	})
}

// CreateIndicatorRequest is the request body for creating an indicator.
type CreateIndicatorRequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Expression  string  `json:"expression"`
	Weight      float64 `json:"weight"`
	Enabled     bool    `json:"enabled"`
}

// CreateIndicator creates a new indicator and saves it to the database.
// After saving, call POST /indicators/reload to hot-reload into the engine.
func (h *Handler) CreateIndicator(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CreateIndicatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}
	if req.Weight < 0 || req.Weight > 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "weight must be between 0 and 1",
		})
		return
	}

	cfg := &domain.IndicatorConfig{
		ID:          req.ID,
		TenantID:    tenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Weight:      req.Weight,
		Enabled:     req.Enabled,
	}

	// Validate the CEL expression before persisting
	if err := h.indicators.Validate(cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if err := h.repo.SaveIndicator(ctx, tenantID, cfg); err != nil {
		slog.Error("failed to save indicator", "id", cfg.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save indicator",
		})
		return
	}

	slog.Info("indicator created", "id", cfg.ID, "name", cfg.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"indicator": cfg,
		"message":   "Indicator created. Call POST /indicators/reload to apply changes.",
	})
}

// ReloadIndicators reloads all indicators from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadIndicators(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	configs, err := h.repo.ListIndicators(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list indicators from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load indicators from database",
		})
		return
	}

	if err := h.indicators.Reload(configs); err != nil {
		slog.Error("failed to reload indicators into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload indicators: " + err.Error(),
		})
		return
	}

	slog.Info("indicators reloaded from database", "count", len(configs))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "indicators reloaded successfully",
		"count":   len(configs),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
