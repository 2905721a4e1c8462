// Package notifications pushes job lifecycle events to ntfy. Without a
// configured topic every call is a no-op, so callers never need to guard
// notification sends.
package notifications
