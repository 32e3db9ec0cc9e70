package domain

import (
	"context"
	"time"
)

// InferenceRequest asks the external pipeline to analyze a subject. The
// core does not know or care that the payload is video; it only needs a
// bounded, pollable async source.
type InferenceRequest struct {
	SubjectID string            `json:"subjectId"`
	TenantID  string            `json:"tenantId,omitempty"`
	Kind      string            `json:"kind"` // e.g. "behavioral_scan"
	Params    map[string]string `json:"params,omitempty"`
}

// InferenceResult is the terminal output of one inference job.
type InferenceResult struct {
	Handle      string    `json:"handle"`
	Label       string    `json:"label"`
	Probability float64   `json:"probability"` // [0,1]
	Confidence  float64   `json:"confidence"`  // [0,1]
	CompletedAt time.Time `json:"completedAt"`
}

// InferencePoll is one poll observation of an in-flight job.
type InferencePoll struct {
	Done   bool             `json:"done"`
	Result *InferenceResult `json:"result,omitempty"`
}

// InferencePipeline is the submit/poll contract for the async inference
// service. Implementations must honor context cancellation; a stalled
// pipeline degrades the vision signal to absent after the caller's
// deadline, it never blocks fusion.
type InferencePipeline interface {
	Submit(ctx context.Context, req *InferenceRequest) (handle string, err error)
	Poll(ctx context.Context, handle string) (*InferencePoll, error)
	Close() error
}
