package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loss-prevention/kestrel/internal/domain"
)

// HTTPPipeline talks to a remote inference service over its job API:
// POST /v1/jobs to submit, GET /v1/jobs/{handle} to poll.
type HTTPPipeline struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTP creates an HTTP pipeline client.
func NewHTTP(cfg domain.InferenceConfig) (*HTTPPipeline, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: inference base URL is required in http mode", domain.ErrValidation)
	}

	return &HTTPPipeline{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}, nil
}

type submitResponse struct {
	Handle string `json:"handle"`
}

type pollResponse struct {
	Done   bool `json:"done"`
	Result *struct {
		Label       string    `json:"label"`
		Probability float64   `json:"probability"`
		Confidence  float64   `json:"confidence"`
		CompletedAt time.Time `json:"completedAt"`
	} `json:"result,omitempty"`
}

// Submit posts a job and returns the service-assigned handle.
func (p *HTTPPipeline) Submit(ctx context.Context, req *domain.InferenceRequest) (string, error) {
	if req == nil || req.SubjectID == "" {
		return "", fmt.Errorf("%w: inference request with subjectId is required", domain.ErrValidation)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/jobs", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("inference submit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("inference submit: unexpected status %d", resp.StatusCode)
	}

	var sr submitResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&sr); err != nil {
		return "", fmt.Errorf("inference submit: decode response: %w", err)
	}
	if sr.Handle == "" {
		return "", fmt.Errorf("inference submit: service returned no handle")
	}

	return sr.Handle, nil
}

// Poll fetches the job status.
func (p *HTTPPipeline) Poll(ctx context.Context, handle string) (*domain.InferencePoll, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/jobs/"+handle, nil)
	if err != nil {
		return nil, err
	}
	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("inference poll: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: inference job %s", domain.ErrNotFound, handle)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference poll: unexpected status %d", resp.StatusCode)
	}

	var pr pollResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&pr); err != nil {
		return nil, fmt.Errorf("inference poll: decode response: %w", err)
	}

	poll := &domain.InferencePoll{Done: pr.Done}
	if pr.Done && pr.Result != nil {
		poll.Result = &domain.InferenceResult{
			Handle:      handle,
			Label:       pr.Result.Label,
			Probability: pr.Result.Probability,
			Confidence:  pr.Result.Confidence,
			CompletedAt: pr.Result.CompletedAt,
		}
	}
	return poll, nil
}

// Close is a no-op; the HTTP client holds no persistent resources beyond
// its connection pool.
func (p *HTTPPipeline) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

func (p *HTTPPipeline) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}
