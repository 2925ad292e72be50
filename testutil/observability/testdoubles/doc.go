// Package testdoubles provides spies for the observability interfaces of the stream store engines
// and the repository:
//   - MetricsCollectorSpy: captures metric calls, including the context-aware variants
//   - TracingCollectorSpy: captures started and finished spans
//   - ContextualLoggerSpy: captures context-aware log calls
//   - LogHandlerSpy: a slog.Handler that captures records, for code that takes a *slog.Logger
package testdoubles
