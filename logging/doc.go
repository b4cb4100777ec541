// Package logging provides a minimal logging interface and adapters for the
// underwriter.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn,
// Error) that the engine, stages and coordinator use for observability.
// Arguments are slog-style alternating key/value pairs. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - ZapAdapter wrapping a zap sugared logger
//   - UnderwriterLogger with workflow/component context and domain helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	coordinator := workflow.New(eng, acq, assess, func(o *workflow.Options) { o.Logger = logger })
package logging
