package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"darkroom/internal/config"
)

const userAgent = "Darkroom-Go/0.1.0"

// Service defines the notification surface exposed to the orchestrator.
type Service interface {
	NotifyJobCompleted(ctx context.Context, subject, resultPath string) error
	NotifyJobDeadLettered(ctx context.Context, subject, reason string) error
	NotifyGovernorPaused(ctx context.Context, reason string) error
	NotifyGovernorResumed(ctx context.Context) error
	NotifyDaemonStarted(ctx context.Context, recovered int) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no topic is configured, a noop implementation is returned.
func NewService(cfg config.Notifications) Service {
	topic := strings.TrimSpace(cfg.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:   topic,
		client:     &http.Client{Timeout: timeout},
		completion: cfg.Completion,
		deadLetter: cfg.DeadLetter,
		governor:   cfg.Governor,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint   string
	client     *http.Client
	completion bool
	deadLetter bool
	governor   bool
}

func (n *ntfyService) NotifyJobCompleted(ctx context.Context, subject, resultPath string) error {
	if !n.completion {
		return nil
	}
	subject = strings.TrimSpace(subject)
	message := fmt.Sprintf("Develop complete: %s", subject)
	if resultPath = strings.TrimSpace(resultPath); resultPath != "" {
		message = fmt.Sprintf("%s\nResult: %s", message, resultPath)
	}
	return n.send(ctx, payload{
		title:   "Darkroom - Complete",
		message: message,
		tags:    []string{"darkroom", "job", "completed"},
	})
}

func (n *ntfyService) NotifyJobDeadLettered(ctx context.Context, subject, reason string) error {
	if !n.deadLetter {
		return nil
	}
	subject = strings.TrimSpace(subject)
	message := fmt.Sprintf("Job dead-lettered: %s", subject)
	if reason = strings.TrimSpace(reason); reason != "" {
		message = fmt.Sprintf("%s\nReason: %s", message, reason)
	}
	return n.send(ctx, payload{
		title:    "Darkroom - Dead Letter",
		message:  message,
		tags:     []string{"darkroom", "job", "dead-letter"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyGovernorPaused(ctx context.Context, reason string) error {
	if !n.governor {
		return nil
	}
	return n.send(ctx, payload{
		title:    "Darkroom - Admission Paused",
		message:  fmt.Sprintf("Job admission paused: %s", strings.TrimSpace(reason)),
		tags:     []string{"darkroom", "governor", "paused"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyGovernorResumed(ctx context.Context) error {
	if !n.governor {
		return nil
	}
	return n.send(ctx, payload{
		title:   "Darkroom - Admission Resumed",
		message: "Host recovered; job admission resumed",
		tags:    []string{"darkroom", "governor", "resumed"},
	})
}

func (n *ntfyService) NotifyDaemonStarted(ctx context.Context, recovered int) error {
	message := "Daemon started"
	if recovered > 0 {
		message = fmt.Sprintf("Daemon started; %d interrupted jobs recovered", recovered)
	}
	return n.send(ctx, payload{
		title:   "Darkroom - Started",
		message: message,
		tags:    []string{"darkroom", "daemon", "started"},
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "Darkroom - Test",
		message:  "Notification system test",
		tags:     []string{"darkroom", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyJobCompleted(context.Context, string, string) error    { return nil }
func (noopService) NotifyJobDeadLettered(context.Context, string, string) error { return nil }
func (noopService) NotifyGovernorPaused(context.Context, string) error          { return nil }
func (noopService) NotifyGovernorResumed(context.Context) error                 { return nil }
func (noopService) NotifyDaemonStarted(context.Context, int) error              { return nil }
func (noopService) TestNotification(context.Context) error                      { return nil }
