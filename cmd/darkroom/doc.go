// Package main hosts the darkroom CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into HTTP
// calls against the daemon API, plus configuration scaffolding and the
// foreground daemon process itself. It centralizes configuration
// resolution and API endpoint discovery so subcommands can focus on user
// experience instead of wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
