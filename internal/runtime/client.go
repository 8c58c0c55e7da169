// Package runtime implements the Worker Runtime (C7): a single-job-per-
// process loop parameterized by {worker id, worker type} that polls the
// coordinator over HTTP, claims work, dispatches to the matching adapter,
// and reports the outcome.
package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"dispatchd/internal/jobs"
	"dispatchd/internal/workers"
)

// CoordinatorClient is the runtime's one connection for commands — HTTP
// calls against the coordinator's own API, the same contract producers
// use.
type CoordinatorClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewCoordinatorClient(baseURL, apiKey string) *CoordinatorClient {
	return &CoordinatorClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *CoordinatorClient) GetWorker(ctx context.Context, id int64) (*workers.Worker, error) {
	var out struct {
		Worker *workers.Worker `json:"worker"`
	}
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/workers/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return out.Worker, nil
}

func (c *CoordinatorClient) SetWorkerStatus(ctx context.Context, id int64, status workers.Status) error {
	body := workers.UpdateStatusRequest{Status: status}
	return c.doJSON(ctx, http.MethodPatch, fmt.Sprintf("/api/workers/%d", id), body, nil)
}

// ClaimNext calls the coordinator's "next pending by type" endpoint and
// returns nil, nil when no job is available.
func (c *CoordinatorClient) ClaimNext(ctx context.Context, jobType string, workerID int64) (*jobs.Job, error) {
	var out struct {
		Job *jobs.Job `json:"job"`
	}
	path := fmt.Sprintf("/api/jobs/next/%s?workerId=%d", jobType, workerID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Job, nil
}

func (c *CoordinatorClient) SetJobStatus(ctx context.Context, id int64, status jobs.Status, workerID *int64, result json.RawMessage) error {
	body := jobs.UpdateStatusRequest{Status: status, WorkerID: workerID, Result: result}
	return c.doJSON(ctx, http.MethodPatch, fmt.Sprintf("/api/jobs/%d", id), body, nil)
}

func (c *CoordinatorClient) doJSON(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coordinator request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("coordinator returned %d: %s", resp.StatusCode, string(data))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
