// Package main is the apprun command: it realizes one application from a
// schema file or a command line and keeps it running until it exits or
// the command is interrupted.
//
// Architecture:
//
//	apprun → Builder → Strategy (local | isolated | remote) → unit
//	       ↘ Console (system | null)
//
// Configuration:
//   - Environment variables (APPRUN_*, LOG_LEVEL, LOG_DEV)
//   - CLI flags (override env vars)
//   - Schema files in YAML, TOML or JSON
//
// Usage:
//
//	# Run a local process with prefixed output
//	./apprun -name echo /bin/echo hello
//
//	# Run a schema file in the isolated runtime and expose metrics
//	./apprun -f app.yaml -strategy isolated -metrics :9090
//
// Signals:
//   - SIGINT, SIGTERM: destroy the application and exit
//
// The exit status mirrors the application's.
package main
