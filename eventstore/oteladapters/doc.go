// Package oteladapters implements the observability interfaces of the eventstore package on OpenTelemetry.
//
// The adapters plug into the stream store engines and the repository:
//
//	meter := otel.Meter("counter-service")
//	tracer := otel.Tracer("counter-service")
//
//	store, _ := postgresengine.NewEventStoreFromPGXPool(
//		pool,
//		postgresengine.WithMetrics(oteladapters.NewMetricsCollector(meter)),
//		postgresengine.WithTracing(oteladapters.NewTracingCollector(tracer)),
//		postgresengine.WithContextualLogger(oteladapters.NewSlogBridgeLogger("counter-service")),
//	)
package oteladapters
