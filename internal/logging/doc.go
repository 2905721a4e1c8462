// Package logging configures log/slog output for the daemon and CLI.
//
// Two formats are supported: a compact console format for interactive use and
// JSON for ingestion. Standardized field keys keep job identifiers, stages,
// and failure hints queryable across components.
package logging
