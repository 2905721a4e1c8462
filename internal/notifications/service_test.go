package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"darkroom/internal/config"
	"darkroom/internal/notifications"
)

type captured struct {
	title    string
	priority string
	body     string
}

func newTestService(t *testing.T, cfg config.Notifications) (notifications.Service, func() []captured) {
	t.Helper()
	var (
		mu       sync.Mutex
		requests []captured
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		requests = append(requests, captured{
			title:    r.Header.Get("Title"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		mu.Unlock()
	}))
	t.Cleanup(server.Close)

	cfg.NtfyTopic = server.URL
	cfg.RequestTimeout = 5
	svc := notifications.NewService(cfg)
	return svc, func() []captured {
		mu.Lock()
		defer mu.Unlock()
		out := make([]captured, len(requests))
		copy(out, requests)
		return out
	}
}

func TestNoopWithoutTopic(t *testing.T) {
	svc := notifications.NewService(config.Notifications{})
	if err := svc.NotifyJobCompleted(context.Background(), "/photos/a.raw", "/out/a.jpg"); err != nil {
		t.Fatalf("noop must never fail: %v", err)
	}
}

func TestDeadLetterSendsHighPriority(t *testing.T) {
	svc, requests := newTestService(t, config.Notifications{DeadLetter: true})
	if err := svc.NotifyJobDeadLettered(context.Background(), "/photos/a.raw", "corrupt source"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	got := requests()
	if len(got) != 1 {
		t.Fatalf("expected one request, got %d", len(got))
	}
	if got[0].priority != "high" {
		t.Fatalf("expected high priority, got %q", got[0].priority)
	}
	if got[0].title != "Darkroom - Dead Letter" {
		t.Fatalf("unexpected title %q", got[0].title)
	}
}

func TestTogglesSuppressCategories(t *testing.T) {
	svc, requests := newTestService(t, config.Notifications{
		Completion: false,
		DeadLetter: false,
		Governor:   false,
	})
	ctx := context.Background()
	if err := svc.NotifyJobCompleted(ctx, "/photos/a.raw", ""); err != nil {
		t.Fatalf("completion: %v", err)
	}
	if err := svc.NotifyJobDeadLettered(ctx, "/photos/a.raw", ""); err != nil {
		t.Fatalf("dead letter: %v", err)
	}
	if err := svc.NotifyGovernorPaused(ctx, "thermal limit exceeded"); err != nil {
		t.Fatalf("governor: %v", err)
	}
	if got := requests(); len(got) != 0 {
		t.Fatalf("expected suppressed notifications, got %d", len(got))
	}
}

func TestServerErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic unavailable", http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	svc := notifications.NewService(config.Notifications{NtfyTopic: server.URL, RequestTimeout: 5})
	if err := svc.TestNotification(context.Background()); err == nil {
		t.Fatal("expected error from failing ntfy endpoint")
	}
}
