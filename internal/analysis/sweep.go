package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loss-prevention/kestrel/internal/domain"
)

// SweepSummary reports the outcome of one batch sweep.
type SweepSummary struct {
	TenantID  string        `json:"tenantId"`
	Subjects  int           `json:"subjects"`
	Analyzed  int           `json:"analyzed"`
	Alerted   int           `json:"alerted"`
	Throttled int           `json:"throttled"`
	Failed    int           `json:"failed"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Sweep analyzes every known subject of a tenant. Subjects run on
// independent workers; nothing is shared between them except the
// per-subject throttle state, which the repository serializes. Cancelling
// the context aborts the sweep; in-flight subjects are discarded.
func (a *Analyzer) Sweep(ctx context.Context, tenantID string, workers int) (*SweepSummary, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrValidation)
	}
	if workers <= 0 {
		workers = 8
	}

	start := time.Now()

	subjects, err := a.repo.ListSubjects(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: list subjects: %v", domain.ErrPersistence, err)
	}

	summary := &SweepSummary{TenantID: tenantID, Subjects: len(subjects)}
	if len(subjects) == 0 {
		summary.Elapsed = time.Since(start)
		return summary, nil
	}

	jobs := make(chan string)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for subjectID := range jobs {
				result, err := a.AnalyzeSubject(ctx, tenantID, subjectID, nil)

				mu.Lock()
				switch {
				case err != nil && result == nil:
					summary.Failed++
				default:
					summary.Analyzed++
					if result.Decision.Allow {
						summary.Alerted++
					}
					if result.Decision.Throttled {
						summary.Throttled++
					}
					if err != nil {
						// Persistence failed but the score was computed;
						// count it analyzed and failed both.
						summary.Failed++
					}
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for _, subjectID := range subjects {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- subjectID:
		}
	}
	close(jobs)
	wg.Wait()

	summary.Elapsed = time.Since(start)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slog.Info("sweep complete",
		"tenant_id", tenantID,
		"subjects", summary.Subjects,
		"analyzed", summary.Analyzed,
		"alerted", summary.Alerted,
		"throttled", summary.Throttled,
		"failed", summary.Failed,
		"elapsed_ms", summary.Elapsed.Milliseconds(),
	)

	return summary, nil
}
