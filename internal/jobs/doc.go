// Package jobs persists edit jobs in SQLite and owns every status
// transition. All writes funnel through the store so the status machine
// (pending, processing, completed, failed, dead_letter) stays consistent
// even with concurrent workers and the HTTP API touching the same rows.
package jobs
