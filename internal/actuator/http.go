package actuator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"darkroom/internal/config"
	"darkroom/internal/services"
)

const component = "actuator"

// HTTPClient implements Client against the develop engine's REST bridge.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient builds a client from configuration. The HTTP timeout
// covers checkpoint and rollback calls; dispatch deadlines come from the
// caller's context because edits can legitimately run for minutes.
func NewHTTPClient(cfg config.Actuator) *HTTPClient {
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		client: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		},
	}
}

type errorEnvelope struct {
	Error          string `json:"error"`
	Classification string `json:"classification"`
}

type checkpointResponse struct {
	Handle string `json:"handle"`
}

// Checkpoint snapshots the subject's develop state.
func (c *HTTPClient) Checkpoint(ctx context.Context, jobID, subject string) (string, error) {
	payload := map[string]string{"job_id": jobID, "subject": subject}
	var resp checkpointResponse
	if err := c.post(ctx, "/v1/checkpoint", payload, &resp); err != nil {
		return "", services.Wrap(nil, component, "checkpoint", "snapshot develop state", err)
	}
	if resp.Handle == "" {
		return "", services.Wrap(services.ErrTransient, component, "checkpoint", "engine returned empty handle", nil)
	}
	return resp.Handle, nil
}

// Dispatch runs the edit and waits for the outcome.
func (c *HTTPClient) Dispatch(ctx context.Context, req DispatchRequest) (DispatchResult, error) {
	var result DispatchResult
	if err := c.post(ctx, "/v1/develop", req, &result); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return DispatchResult{}, services.Wrap(services.ErrTimeout, component, "dispatch", "develop deadline exceeded", err)
		}
		return DispatchResult{}, services.Wrap(nil, component, "dispatch", "develop request failed", err)
	}
	return result, nil
}

// Rollback restores a checkpoint.
func (c *HTTPClient) Rollback(ctx context.Context, handle string) error {
	payload := map[string]string{"handle": handle}
	if err := c.post(ctx, "/v1/rollback", payload, nil); err != nil {
		return services.Wrap(nil, component, "rollback", "restore checkpoint", err)
	}
	return nil
}

// Ping checks engine reachability.
func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/health", nil)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, component, "ping", "build request", err)
	}
	c.authorize(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, component, "ping", "engine unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return services.Wrap(services.ErrTransient, component, "ping", fmt.Sprintf("engine returned %d", resp.StatusCode), nil)
	}
	return nil
}

func (c *HTTPClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s", services.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %s", services.ErrTransient, err)
	}
	return nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// decodeError maps the engine's error envelope onto the shared taxonomy.
// Unknown classifications and malformed envelopes default to transient so
// a flaky engine never dead-letters work outright.
func (c *HTTPClient) decodeError(resp *http.Response) error {
	var envelope errorEnvelope
	_ = json.NewDecoder(resp.Body).Decode(&envelope)

	message := envelope.Error
	if message == "" {
		message = fmt.Sprintf("engine returned %d", resp.StatusCode)
	}

	marker := services.ErrTransient
	switch envelope.Classification {
	case "resource":
		marker = services.ErrResource
	case "fatal":
		marker = services.ErrFatal
	case "transient":
		marker = services.ErrTransient
	default:
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusInsufficientStorage {
			marker = services.ErrResource
		} else if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			marker = services.ErrFatal
		}
	}
	return fmt.Errorf("%w: %s", marker, message)
}
