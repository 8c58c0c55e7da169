// Package messaging implements the Messaging Adapter (C9): a primary
// HTTP gateway with a bearer-credentialed external fallback, serialized
// per base URL. The per-endpoint serialization is adapted from az-wap's
// per-chat worker shard — here there is one dedicated goroutine and job
// queue per base URL instead of a fixed shard pool, since the contract
// needs a strict tail chain per endpoint rather than a bounded pool
// shared across many keys.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SendRequest is the producer-facing payload for a WHATSAPP job.
type SendRequest struct {
	Number  string `json:"number,omitempty"`
	GroupID string `json:"groupId,omitempty"`
	Message string `json:"message"`
	BaseURL string `json:"baseUrl,omitempty"`
	DelayMs int    `json:"delayMs,omitempty"`
}

type SendResult struct {
	Status       string `json:"status"`
	UsedFallback bool   `json:"usedFallback"`
}

// endpointQueue is the per-base-URL tail chain: a single worker
// goroutine drains jobs strictly in submission order so sends to the
// same endpoint are never concurrent.
type endpointQueue struct {
	jobs        chan func()
	initialized bool
}

// Adapter holds one endpointQueue per base URL plus the secondary
// fallback gateway's credentials.
type Adapter struct {
	mu        sync.Mutex
	queues    map[string]*endpointQueue
	httpClient *http.Client

	defaultBaseURL string
	defaultDelay   time.Duration

	fallbackURL   string
	fallbackToken string

	logger *zap.Logger
}

func NewAdapter(defaultBaseURL string, defaultDelay time.Duration, fallbackURL, fallbackToken string, logger *zap.Logger) *Adapter {
	return &Adapter{
		queues:         make(map[string]*endpointQueue),
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		defaultBaseURL: defaultBaseURL,
		defaultDelay:   defaultDelay,
		fallbackURL:    fallbackURL,
		fallbackToken:  fallbackToken,
		logger:         logger,
	}
}

// Send appends a new link to the target base URL's chain and blocks
// until that link has run, returning its result.
func (a *Adapter) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	baseURL := req.BaseURL
	if baseURL == "" {
		baseURL = a.defaultBaseURL
	}

	q := a.queueFor(baseURL)

	resultCh := make(chan *SendResult, 1)
	errCh := make(chan error, 1)

	job := func() {
		result, err := a.runSend(ctx, baseURL, req)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- result
	}

	select {
	case q.jobs <- job:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case result := <-resultCh:
		return result, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Adapter) queueFor(baseURL string) *endpointQueue {
	a.mu.Lock()
	defer a.mu.Unlock()

	q, ok := a.queues[baseURL]
	if ok {
		return q
	}

	q = &endpointQueue{jobs: make(chan func(), 64)}
	a.queues[baseURL] = q
	go a.drain(q)
	return q
}

func (a *Adapter) drain(q *endpointQueue) {
	for job := range q.jobs {
		job()
	}
}

// runSend implements the per-link body of §4.7: initialize, validate,
// delay, send, fall back on failure.
func (a *Adapter) runSend(ctx context.Context, baseURL string, req SendRequest) (*SendResult, error) {
	if err := a.ensureInitialized(ctx, baseURL); err != nil {
		return nil, fmt.Errorf("initialize endpoint %s: %w", baseURL, err)
	}

	if req.Number == "" && req.GroupID == "" {
		return nil, fmt.Errorf("either number or groupId is required")
	}
	if req.Message == "" {
		return nil, fmt.Errorf("message is required")
	}

	delay := time.Duration(req.DelayMs) * time.Millisecond
	if req.DelayMs == 0 {
		delay = a.defaultDelay
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	path := "/send-message"
	if req.GroupID != "" {
		path = "/send-group-message"
	}

	if err := a.postPrimary(ctx, baseURL, path, req); err == nil {
		return &SendResult{Status: "sent"}, nil
	} else {
		a.logger.Warn("primary messaging gateway failed, falling back", zap.String("base_url", baseURL), zap.Error(err))
		if fallbackErr := a.postFallback(ctx, req); fallbackErr != nil {
			return nil, fmt.Errorf("primary failed (%v) and fallback failed (%w)", err, fallbackErr)
		}
		return &SendResult{Status: "sent", UsedFallback: true}, nil
	}
}

func (a *Adapter) ensureInitialized(ctx context.Context, baseURL string) error {
	a.mu.Lock()
	q := a.queues[baseURL]
	if q.initialized {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	status, err := a.probeStatus(ctx, baseURL)
	if err != nil {
		return err
	}
	if status != "ready" && status != "connecting" {
		return fmt.Errorf("endpoint %s not ready (status=%s)", baseURL, status)
	}

	a.mu.Lock()
	q.initialized = true
	a.mu.Unlock()
	return nil
}

func (a *Adapter) probeStatus(ctx context.Context, baseURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/status", nil)
	if err != nil {
		return "", err
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode status response: %w", err)
	}
	return out.Status, nil
}

func (a *Adapter) postPrimary(ctx context.Context, baseURL, path string, req SendRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(data))
	}
	return nil
}

func (a *Adapter) postFallback(ctx context.Context, req SendRequest) error {
	if a.fallbackURL == "" {
		return fmt.Errorf("no fallback gateway configured")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.fallbackURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.fallbackToken)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("fallback gateway returned %d: %s", resp.StatusCode, string(data))
	}
	return nil
}
