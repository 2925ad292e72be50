package eventstore

import (
	"context"
	"time"
)

// Span statuses passed to TracingCollector.FinishSpan by the engines and the repository.
// A rejected commit is finished with SpanStatusConflict or SpanStatusDuplicate instead of SpanStatusError,
// so that backends can tell a lost race from a broken store.
const (
	SpanStatusSuccess   = "success"
	SpanStatusError     = "error"
	SpanStatusConflict  = "conflict"
	SpanStatusDuplicate = "duplicate"
)

// Logger receives the engines' and the repository's log output: executed SQL at debug,
// commits and rejected commits (conflicts, duplicates) at debug or info, store failures at error.
// *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MetricsCollector receives durations of stream reads and commits, counts of failed and rejected
// commits, and the number of events read or committed. Labels carry the operation and the status.
type MetricsCollector interface {
	RecordDuration(metric string, duration time.Duration, labels map[string]string)
	IncrementCounter(metric string, labels map[string]string)
	RecordValue(metric string, value float64, labels map[string]string)
}

// ContextualMetricsCollector is used instead of MetricsCollector when a collector implements it,
// so that measurements can be correlated with the span in the context.
type ContextualMetricsCollector interface {
	MetricsCollector
	RecordDurationContext(ctx context.Context, metric string, duration time.Duration, labels map[string]string)
	IncrementCounterContext(ctx context.Context, metric string, labels map[string]string)
	RecordValueContext(ctx context.Context, metric string, value float64, labels map[string]string)
}

// SpanContext is a span started by a TracingCollector.
type SpanContext interface {
	SetStatus(status string)
	AddAttribute(key, value string)
}

// TracingCollector wraps every stream read and commit, and every repository load, add and save, in a span.
// The span attributes name the stream key; FinishSpan gets one of the SpanStatus values.
// oteladapters.TracingCollector implements it on OpenTelemetry.
type TracingCollector interface {
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, SpanContext)
	FinishSpan(spanCtx SpanContext, status string, attrs map[string]string)
}

// ContextualLogger is used instead of Logger when configured, so log records can carry the trace
// and span ids of the operation that wrote them.
type ContextualLogger interface {
	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
}
