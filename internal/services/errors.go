package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers for failure classification. Components wrap errors with one
// of these so the retry manager can decide between backoff, resource-gated
// retry, and dead-letter without string matching.
var (
	ErrTransient     = errors.New("transient failure")
	ErrResource      = errors.New("resource exhaustion")
	ErrFatal         = errors.New("fatal failure")
	ErrTimeout       = errors.New("timeout")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
)

// Kind is the coarse failure classification consumed by retry decisions.
type Kind string

const (
	// KindTransient covers network, timeout, and busy conditions that are
	// expected to clear on their own.
	KindTransient Kind = "transient"
	// KindResource covers insufficient compute or accelerator memory; retried
	// only once the governor reports capacity again.
	KindResource Kind = "resource"
	// KindFatal covers malformed payloads and conditions the actuator declares
	// non-retryable; the job dead-letters immediately.
	KindFatal Kind = "fatal"
)

// Wrap tags err with a classification marker and stage/operation context.
// A nil marker defaults to ErrTransient.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps an error chain to its failure kind. Unrecognized errors are
// treated as transient: an unknown outcome must never dead-letter a job that
// a retry could still complete.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindTransient
	case errors.Is(err, ErrFatal), errors.Is(err, ErrValidation), errors.Is(err, ErrConfiguration):
		return KindFatal
	case errors.Is(err, ErrResource):
		return KindResource
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	default:
		return KindTransient
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
