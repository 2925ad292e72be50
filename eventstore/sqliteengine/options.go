package sqliteengine

import (
	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore"
	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore/internal/instrumentation"
)

type config struct {
	tableName string
	observers instrumentation.Options
}

// Option defines a functional option for configuring EventStore.
type Option func(*config) error

// WithTableName sets the table name for the EventStore.
func WithTableName(tableName string) Option {
	return func(c *config) error {
		if tableName == "" {
			return eventstore.ErrEmptyEventsTableName
		}

		c.tableName = tableName

		return nil
	}
}

// WithLogger sets the logger for the EventStore.
// SQL statements are logged at debug level, commits and conflicts at info level.
func WithLogger(logger eventstore.Logger) Option {
	return func(c *config) error {
		c.observers.Logger = logger
		return nil
	}
}

// WithContextualLogger sets a context-aware logger, which gets the same messages as the logger.
func WithContextualLogger(logger eventstore.ContextualLogger) Option {
	return func(c *config) error {
		c.observers.ContextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the EventStore.
func WithMetrics(collector eventstore.MetricsCollector) Option {
	return func(c *config) error {
		c.observers.Metrics = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the EventStore.
func WithTracing(collector eventstore.TracingCollector) Option {
	return func(c *config) error {
		c.observers.Tracing = collector
		return nil
	}
}
