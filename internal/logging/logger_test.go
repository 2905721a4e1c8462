package logging_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"darkroom/internal/logging"
	"darkroom/internal/services"
)

func TestConsoleFormatIncludesComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "debug", Format: "console", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logging.NewComponentLogger(logger, "scheduler").Info("job selected",
		logging.String(logging.FieldJobID, "job-1"),
		logging.Float64("score", 3.5),
	)

	line := buf.String()
	if !strings.Contains(line, "INFO scheduler: job selected") {
		t.Fatalf("unexpected console line: %q", line)
	}
	if !strings.Contains(line, "job_id=job-1") || !strings.Contains(line, "score=3.5") {
		t.Fatalf("expected fields in line: %q", line)
	}
}

func TestJSONFormatLowercasesLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Warn("governor paused")

	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) {
		t.Fatalf("expected lowercase level in json output: %q", out)
	}
	if !strings.Contains(out, `"msg":"governor paused"`) {
		t.Fatalf("expected msg key in json output: %q", out)
	}
}

func TestUnsupportedFormatRejected(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWithContextAddsJobFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "debug", Format: "console", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := services.WithJobID(context.Background(), "job-7")
	ctx = services.WithStage(ctx, "dispatch")
	logging.WithContext(ctx, logger).Info("working")

	line := buf.String()
	if !strings.Contains(line, "job_id=job-7") || !strings.Contains(line, "stage=dispatch") {
		t.Fatalf("expected context fields in line: %q", line)
	}
}
