// Package inference provides clients for the async vision inference
// pipeline. The engine treats the pipeline purely as a bounded, pollable
// async source; it never blocks fusion past its deadline.
package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/loss-prevention/kestrel/internal/domain"
)

// New creates an inference pipeline based on configuration.
func New(cfg domain.InferenceConfig) (domain.InferencePipeline, error) {
	switch cfg.Mode {
	case "fake", "":
		return NewFake(), nil
	case "http":
		return NewHTTP(cfg)
	default:
		return nil, fmt.Errorf("unsupported inference mode: %s", cfg.Mode)
	}
}

// Await drives the submit/poll loop to completion under a deadline. A
// pipeline that has not finished when the deadline expires yields
// ErrTimeout; the caller degrades its signal to absent.
func Await(ctx context.Context, pipe domain.InferencePipeline, req *domain.InferenceRequest, pollInterval, deadline time.Duration) (*domain.InferenceResult, error) {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if deadline <= 0 {
		deadline = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	handle, err := pipe.Submit(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: inference submit: %v", domain.ErrTimeout, err)
		}
		return nil, fmt.Errorf("inference submit: %w", err)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		poll, err := pipe.Poll(ctx, handle)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: inference poll for %s", domain.ErrTimeout, handle)
			}
			return nil, fmt.Errorf("inference poll: %w", err)
		}
		if poll.Done {
			return poll.Result, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: inference job %s did not finish in %s", domain.ErrTimeout, handle, deadline)
		case <-ticker.C:
		}
	}
}
