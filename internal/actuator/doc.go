// Package actuator talks to the external develop engine over HTTP. The
// engine owns the pixels; darkroom only sends it work. Every failure the
// engine reports carries a classification (transient, resource, fatal)
// which this package maps onto the shared error taxonomy so the retry
// path can act on it without parsing messages.
package actuator
