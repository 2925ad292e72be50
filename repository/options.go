package repository

import (
	"errors"

	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore"
)

type config struct {
	bucket     string
	namer      StreamNamer
	entityType string
	logger     eventstore.Logger
	metrics    eventstore.MetricsCollector
	tracing    eventstore.TracingCollector
}

// Option defines a functional option for configuring a Repository.
type Option func(*config) error

// WithBucket sets the bucket of all streams written by the Repository. The default is eventstore.DefaultBucket.
func WithBucket(bucket string) Option {
	return func(c *config) error {
		if bucket == "" {
			return eventstore.ErrEmptyBucket
		}

		c.bucket = bucket

		return nil
	}
}

// WithNamer replaces CanonicalNamer.
func WithNamer(namer StreamNamer) Option {
	return func(c *config) error {
		if namer == nil {
			return errors.Join(ErrValidation, errors.New("namer must not be nil"))
		}

		c.namer = namer

		return nil
	}
}

// WithEntityType overrides the entity type name passed to the namer, e.g. to keep stream names stable after a package move.
func WithEntityType(entityType string) Option {
	return func(c *config) error {
		if entityType == "" {
			return errors.Join(ErrValidation, errors.New("entity type must not be empty"))
		}

		c.entityType = entityType

		return nil
	}
}

// WithLogger sets the logger for the Repository.
// Info level: conflicts and duplicate commits. Debug level: loads and commits.
func WithLogger(logger eventstore.Logger) Option {
	return func(c *config) error {
		c.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the Repository.
func WithMetrics(collector eventstore.MetricsCollector) Option {
	return func(c *config) error {
		c.metrics = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the Repository.
func WithTracing(collector eventstore.TracingCollector) Option {
	return func(c *config) error {
		c.tracing = collector
		return nil
	}
}
