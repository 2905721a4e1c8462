// Package config loads, validates, and defaults darkroom's TOML
// configuration. Paths are expanded (including ~) and required directories
// are created on demand so the daemon can start from a fresh install.
package config
