package services_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"darkroom/internal/services"
)

func TestClassifyFollowsMarkers(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want services.Kind
	}{
		{"fatal", services.Wrap(services.ErrFatal, "actuator", "dispatch", "rejected", nil), services.KindFatal},
		{"validation", services.Wrap(services.ErrValidation, "submit", "decode", "bad payload", nil), services.KindFatal},
		{"resource", services.Wrap(services.ErrResource, "actuator", "dispatch", "accelerator oom", nil), services.KindResource},
		{"timeout", services.Wrap(services.ErrTimeout, "actuator", "dispatch", "deadline", nil), services.KindTransient},
		{"deadline", fmt.Errorf("dispatch: %w", context.DeadlineExceeded), services.KindTransient},
		{"unknown", errors.New("connection reset"), services.KindTransient},
	}
	for _, tc := range cases {
		if got := services.Classify(tc.err); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	err := services.Wrap(services.ErrResource, "governor", "admit", "memory check", cause)
	if !errors.Is(err, services.ErrResource) {
		t.Fatal("expected marker to survive wrapping")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to survive wrapping")
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", errors.New("x"))
	if services.Classify(err) != services.KindTransient {
		t.Fatal("expected nil marker to default to transient")
	}
}

func TestContextCarriers(t *testing.T) {
	ctx := services.WithJobID(context.Background(), "job-1")
	ctx = services.WithStage(ctx, "dispatch")
	ctx = services.WithRequestID(ctx, "req-9")

	if id, ok := services.JobIDFromContext(ctx); !ok || id != "job-1" {
		t.Fatalf("job id not carried: %q %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "dispatch" {
		t.Fatalf("stage not carried: %q %v", stage, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-9" {
		t.Fatalf("request id not carried: %q %v", rid, ok)
	}
	if _, ok := services.JobIDFromContext(context.Background()); ok {
		t.Fatal("expected empty context to carry nothing")
	}
}
