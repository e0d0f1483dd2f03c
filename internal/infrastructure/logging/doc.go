// Package logging provides structured logging using uber/zap.
//
// Two modes are available:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Every component in this module accepts an optional *Logger. A nil logger
// is replaced with a no-op logger via OrNop, so callers never need to guard.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("Application realized", zap.String("name", "echo"), zap.Int64("id", 4242))
//	logger.Warn("Interceptor failed", zap.Error(err))
package logging
