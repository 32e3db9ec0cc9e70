package inference

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loss-prevention/kestrel/internal/domain"
)

// FakePipeline is the in-process pipeline used in Community tier and
// tests. Jobs complete after a fixed number of polls with a score derived
// deterministically from the subject id, so identical sweeps produce
// identical signals.
type FakePipeline struct {
	mu   sync.Mutex
	jobs map[string]*fakeJob

	// PollsUntilDone is how many polls a job needs before completing.
	PollsUntilDone int
}

type fakeJob struct {
	subjectID string
	polls     int
}

// NewFake creates an in-process pipeline.
func NewFake() *FakePipeline {
	return &FakePipeline{
		jobs:           make(map[string]*fakeJob),
		PollsUntilDone: 1,
	}
}

// Submit registers a job and returns its handle.
func (p *FakePipeline) Submit(ctx context.Context, req *domain.InferenceRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req == nil || req.SubjectID == "" {
		return "", fmt.Errorf("%w: inference request with subjectId is required", domain.ErrValidation)
	}

	handle := uuid.New().String()

	p.mu.Lock()
	p.jobs[handle] = &fakeJob{subjectID: req.SubjectID}
	p.mu.Unlock()

	return handle, nil
}

// Poll advances the job and reports completion.
func (p *FakePipeline) Poll(ctx context.Context, handle string) (*domain.InferencePoll, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	job, ok := p.jobs[handle]
	if !ok {
		return nil, fmt.Errorf("%w: unknown inference handle %s", domain.ErrNotFound, handle)
	}

	job.polls++
	if job.polls < p.PollsUntilDone {
		return &domain.InferencePoll{Done: false}, nil
	}

	delete(p.jobs, handle)

	prob := scoreFor(job.subjectID)
	label := "normal_behavior"
	if prob >= 0.70 {
		label = "concealment_suspected"
	}

	return &domain.InferencePoll{
		Done: true,
		Result: &domain.InferenceResult{
			Handle:      handle,
			Label:       label,
			Probability: prob,
			Confidence:  0.90,
			CompletedAt: time.Now().UTC(),
		},
	}, nil
}

// Close discards pending jobs.
func (p *FakePipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = make(map[string]*fakeJob)
	return nil
}

// scoreFor maps a subject id onto a stable pseudo-probability in [0,1).
func scoreFor(subjectID string) float64 {
	h := fnv.New32a()
	h.Write([]byte(subjectID))
	return float64(h.Sum32()%1000) / 1000.0
}
