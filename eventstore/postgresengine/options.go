package postgresengine

import (
	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore"
	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore/internal/instrumentation"
)

type config struct {
	eventTableName string
	observers      instrumentation.Options
}

// Option defines a functional option for configuring EventStore.
type Option func(*config) error

// WithTableName sets the table name for the EventStore.
func WithTableName(tableName string) Option {
	return func(c *config) error {
		if tableName == "" {
			return eventstore.ErrEmptyEventsTableName
		}

		c.eventTableName = tableName

		return nil
	}
}

// WithLogger sets the logger for the EventStore.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Debug level: SQL queries with execution timing (development use)
// Info level: Event counts, durations, concurrency conflicts (production-safe)
// Warn level: Non-critical issues like cleanup failures
// Error level: Critical failures that cause operation failures.
func WithLogger(logger eventstore.Logger) Option {
	return func(c *config) error {
		c.observers.Logger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the EventStore.
// It receives read/commit durations, event counts, concurrency conflicts, duplicate commits and database errors.
func WithMetrics(collector eventstore.MetricsCollector) Option {
	return func(c *config) error {
		c.observers.Metrics = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the EventStore.
// It receives one span per read, existence check and commit.
func WithTracing(collector eventstore.TracingCollector) Option {
	return func(c *config) error {
		c.observers.Tracing = collector
		return nil
	}
}

// WithContextualLogger sets the contextual logger for the EventStore.
// It receives the same messages as the logger together with the context, so trace correlation works.
func WithContextualLogger(logger eventstore.ContextualLogger) Option {
	return func(c *config) error {
		c.observers.ContextualLogger = logger
		return nil
	}
}
