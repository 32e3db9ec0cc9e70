// Package indicator provides the CEL-Go based custom indicator engine.
package indicator

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/loss-prevention/kestrel/internal/domain"
)

// Engine compiles and evaluates operator-defined indicator expressions.
// Expressions see per-subject metrics and evaluate to a score in [0,1];
// booleans map to 0/1 so simple predicates work without arithmetic.
type Engine struct {
	mu         sync.RWMutex
	env        *cel.Env
	compiled   map[string]*CompiledIndicator
	maxWorkers int
}

// CompiledIndicator holds a pre-compiled CEL program.
type CompiledIndicator struct {
	Config  *domain.IndicatorConfig
	Program cel.Program
}

// NewEngine creates a new indicator engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// Create CEL environment with per-subject variables
	env, err := cel.NewEnv(
		cel.Variable("metrics", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("baseline", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("subject_id", cel.StringType),
		cel.Variable("tenant_id", cel.StringType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("weekday", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:        env,
		compiled:   make(map[string]*CompiledIndicator),
		maxWorkers: maxWorkers,
	}, nil
}

// Validate compiles an indicator without mutating the loaded set.
func (e *Engine) Validate(cfg *domain.IndicatorConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: indicator config is required", domain.ErrValidation)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compile(cfg)
	return err
}

// Load compiles and loads one indicator into the engine.
func (e *Engine) Load(cfg *domain.IndicatorConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compile(cfg)
	if err != nil {
		return err
	}

	e.compiled[cfg.ID] = compiled
	return nil
}

// LoadAll compiles and loads multiple indicators, skipping disabled ones.
func (e *Engine) LoadAll(configs []*domain.IndicatorConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.Load(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// Reload swaps the loaded set atomically. This enables hot-reloading of
// indicators from the database without serving a half-replaced set.
func (e *Engine) Reload(configs []*domain.IndicatorConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]*CompiledIndicator)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compile(cfg)
		if err != nil {
			return err
		}
		next[cfg.ID] = compiled
	}

	e.compiled = next
	return nil
}

// EvaluateInput holds the per-subject data indicator expressions see.
type EvaluateInput struct {
	TenantID  string
	SubjectID string

	// Metrics are current observed values keyed by dimension.
	Metrics map[string]float64

	// Baseline carries learned means keyed by dimension, for expressions
	// comparing current against normal.
	Baseline map[string]float64

	Hour    int
	Weekday int
}

// EvaluateAll evaluates every loaded indicator in parallel.
func (e *Engine) EvaluateAll(ctx context.Context, input *EvaluateInput) ([]domain.IndicatorResult, error) {
	if input == nil || input.SubjectID == "" {
		return nil, fmt.Errorf("%w: evaluate input with subjectId is required", domain.ErrValidation)
	}

	e.mu.RLock()
	indicators := make([]*CompiledIndicator, 0, len(e.compiled))
	for _, ind := range e.compiled {
		indicators = append(indicators, ind)
	}
	e.mu.RUnlock()

	if len(indicators) == 0 {
		return nil, nil
	}

	metrics := input.Metrics
	if metrics == nil {
		metrics = map[string]float64{}
	}
	baseline := input.Baseline
	if baseline == nil {
		baseline = map[string]float64{}
	}

	activation := map[string]any{
		"metrics":    metrics,
		"baseline":   baseline,
		"subject_id": input.SubjectID,
		"tenant_id":  input.TenantID,
		"hour":       int64(input.Hour),
		"weekday":    int64(input.Weekday),
	}

	results := make([]domain.IndicatorResult, len(indicators))
	var wg sync.WaitGroup

	sem := make(chan struct{}, e.maxWorkers)

	for i, ind := range indicators {
		wg.Add(1)
		go func(idx int, ind *CompiledIndicator) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = e.evaluate(ind, activation, input)
		}(i, ind)
	}

	wg.Wait()

	return results, nil
}

func (e *Engine) evaluate(ind *CompiledIndicator, activation map[string]any, input *EvaluateInput) domain.IndicatorResult {
	result := domain.IndicatorResult{
		IndicatorID: ind.Config.ID,
		SubjectID:   input.SubjectID,
	}

	out, _, err := ind.Program.Eval(activation)
	if err != nil {
		result.Err = fmt.Sprintf("evaluation error: %v", err)
		return result
	}

	result.Score = clamp(toScore(out))
	if result.Score > 0 {
		result.Reason = ind.Config.Name
	}
	return result
}

// Count returns the number of loaded indicators.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// Loaded returns the currently loaded indicator configurations.
func (e *Engine) Loaded() []*domain.IndicatorConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	configs := make([]*domain.IndicatorConfig, 0, len(e.compiled))
	for _, ind := range e.compiled {
		configs = append(configs, ind.Config)
	}
	return configs
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = make(map[string]*CompiledIndicator)
	return nil
}

func (e *Engine) compile(cfg *domain.IndicatorConfig) (*CompiledIndicator, error) {
	if cfg.Expression == "" {
		return nil, fmt.Errorf("%w: indicator %s has no expression", domain.ErrValidation, cfg.ID)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: failed to compile indicator %s: %v", domain.ErrValidation, cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("%w: indicator %s must return bool, int, or double, got %s", domain.ErrValidation, cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for indicator %s: %w", cfg.ID, err)
	}

	return &CompiledIndicator{
		Config:  cfg,
		Program: program,
	}, nil
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
