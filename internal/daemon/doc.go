// Package daemon runs the long-lived darkroom process: single-instance
// locking, the orchestrator engine, and the HTTP API the CLI talks to.
package daemon
