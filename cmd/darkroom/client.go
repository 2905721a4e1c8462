package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"darkroom/internal/daemon"
	"darkroom/internal/jobs"
	"darkroom/internal/orchestrator"
)

// apiClient talks to a running darkroom daemon over its HTTP API.
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func newAPIClient(base, token string) *apiClient {
	return &apiClient{
		base:  base,
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

// errNotFound marks a 404 from the daemon so callers can distinguish a
// missing job from a transport failure.
var errNotFound = errors.New("not found")

func (c *apiClient) Submit(ctx context.Context, req daemon.SubmitRequest) (*daemon.SubmitResponse, error) {
	var resp daemon.SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) ListJobs(ctx context.Context, statuses []string, subject string) ([]daemon.JobView, error) {
	query := url.Values{}
	for _, status := range statuses {
		query.Add("status", status)
	}
	if subject != "" {
		query.Set("subject", subject)
	}
	path := "/api/jobs"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var resp struct {
		Jobs []daemon.JobView `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

func (c *apiClient) GetJob(ctx context.Context, jobID string) (*daemon.JobView, error) {
	var view daemon.JobView
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(jobID), nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (c *apiClient) CancelJob(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodDelete, "/api/jobs/"+url.PathEscape(jobID), nil, nil)
}

func (c *apiClient) RetryJob(ctx context.Context, jobID string) (*daemon.JobView, error) {
	var view daemon.JobView
	if err := c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(jobID)+"/retry", nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (c *apiClient) ReleaseJob(ctx context.Context, jobID string) (*daemon.JobView, error) {
	var view daemon.JobView
	if err := c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(jobID)+"/release", nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (c *apiClient) Status(ctx context.Context) (orchestrator.Status, error) {
	var status orchestrator.Status
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &status)
	return status, err
}

// Health fetches the database diagnostic. An unhealthy daemon answers 503
// with the same body, so the payload is decoded regardless of status code.
func (c *apiClient) Health(ctx context.Context) (jobs.DatabaseHealth, error) {
	var health jobs.DatabaseHealth
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/health", nil)
	if err != nil {
		return health, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return health, wrapConnectError(err, c.base)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return health, fmt.Errorf("decode response: %w", err)
	}
	return health, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return wrapConnectError(err, c.base)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var envelope struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(data, &envelope)

	message := envelope.Error
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", errNotFound, message)
	}
	return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, message)
}

func wrapConnectError(err error, base string) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("connect to daemon at %s: connection refused; start it with `darkroom daemon`", base)
	}
	return fmt.Errorf("connect to daemon at %s: %w", base, err)
}
