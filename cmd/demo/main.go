// Command demo runs the counter and reminder examples against the stream store, command transport
// and timeout transport selected by ESE_* environment variables.
//
// Without any variables it uses the in-memory store, an in-process watermill channel for saga
// commands and in-process timers for saga timeouts:
//
//	go run ./cmd/demo -threshold 40 -reminder-delay 200ms
//
// With ESE_STORE=sqlite or ESE_STORE=postgres the events are written to a database,
// ESE_KAFKA_BROKERS sends saga commands to Kafka and ESE_REDIS_ADDR keeps timeouts in Redis.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/AntonStoeckl/eventsourced-entities-go/codec"
	"github.com/AntonStoeckl/eventsourced-entities-go/eventsourcing"
	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore"
	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore/oteladapters"
	"github.com/AntonStoeckl/eventsourced-entities-go/example/counter"
	"github.com/AntonStoeckl/eventsourced-entities-go/example/reminder"
	"github.com/AntonStoeckl/eventsourced-entities-go/repository"
	"github.com/AntonStoeckl/eventsourced-entities-go/shell"
	"github.com/AntonStoeckl/eventsourced-entities-go/shell/config"
)

const instrumentationName = "github.com/AntonStoeckl/eventsourced-entities-go/cmd/demo"

type flags struct {
	threshold     int
	reminderDelay time.Duration
	wait          time.Duration
}

func parseFlags() flags {
	f := flags{}

	flag.IntVar(&f.threshold, "threshold", 40, "counter value that triggers a reminder")
	flag.DurationVar(&f.reminderDelay, "reminder-delay", 200*time.Millisecond, "delay between reaching the threshold and notifying the owner")
	flag.DurationVar(&f.wait, "wait", 10*time.Second, "how long to wait for the owner notification")
	flag.Parse()

	return f
}

func main() {
	f := parseFlags()

	settings, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, settings, f); err != nil {
		slog.Error("demo failed", "error", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, settings config.Settings, f flags) error {
	level, err := settings.SlogLevel()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	providers, err := config.NewObservabilityProviders(ctx, settings.ServiceName, nil, nil)
	if err != nil {
		return err
	}
	defer func() { _ = providers.Shutdown() }()

	obs := observability{
		logger:           logger,
		contextualLogger: oteladapters.NewSlogBridgeLoggerWithHandler(logger.Handler()),
		metrics:          oteladapters.NewMetricsCollector(otel.Meter(instrumentationName)),
		tracing:          oteladapters.NewTracingCollector(otel.Tracer(instrumentationName)),
	}

	store, releaseStore, err := openStore(ctx, settings, obs)
	if err != nil {
		return err
	}
	defer releaseStore()

	registry := codec.NewRegistry()
	if err = reminder.RegisterEvents(registry); err != nil {
		return err
	}

	repositoryOptions := []repository.Option{
		repository.WithBucket(settings.Bucket),
		repository.WithLogger(logger),
		repository.WithMetrics(obs.metrics),
		repository.WithTracing(obs.tracing),
	}

	commands, err := newCommandTransport(ctx, settings, logger)
	if err != nil {
		return err
	}
	defer commands.close()

	timeouts := newTimeoutTransport(settings, registry, logger)
	defer timeouts.close()

	counters, err := counter.NewRepository(store, registry, repositoryOptions...)
	if err != nil {
		return err
	}

	reminders, err := reminder.NewRepository(
		store,
		registry,
		reminder.Policy{Threshold: f.threshold, Delay: f.reminderDelay},
		[]eventsourcing.SagaOption{
			eventsourcing.WithCommandSender(commands.sender),
			eventsourcing.WithTimeoutRequester(timeouts.requester),
			eventsourcing.WithSagaLogger(logger),
		},
		repositoryOptions...,
	)
	if err != nil {
		return err
	}

	retryOptions := []shell.RetryOption{
		shell.WithMaxAttempts(settings.RetryMaxAttempts),
		shell.WithLogger(logger),
	}
	reactor := reminder.NewReactor(reminders, logger, retryOptions...)

	go timeouts.run(ctx, reactor.Deliver)

	id, err := runCounterScenario(ctx, counters, logger)
	if err != nil {
		return err
	}

	if err = runCommandScenario(ctx, counters, retryOptions, logger); err != nil {
		return err
	}

	if err = feedReminder(ctx, store, counters, registry, reactor, id); err != nil {
		return err
	}

	return awaitNotification(ctx, commands, f.wait, logger)
}

// runCounterScenario creates a counter at 8, increases it by 5 and 27, persists all three
// changes in one commit and loads the counter again.
func runCounterScenario(ctx context.Context, counters *counter.Repository, logger *slog.Logger) (counter.ID, error) {
	id := counter.NewID()

	c, err := counter.Create(id, 8, time.Now())
	if err != nil {
		return "", err
	}

	if err = c.Increase(5, time.Now()); err != nil {
		return "", err
	}

	if err = c.Increase(27, time.Now()); err != nil {
		return "", err
	}

	logger.InfoContext(ctx, "counter before persist",
		"counter_id", id.String(), "value", c.Value(), "version", c.Version(), "pending", len(c.PendingChanges()))

	if err = counters.Add(ctx, c, "scenario-"+id.String()); err != nil {
		return "", err
	}

	logger.InfoContext(ctx, "counter after persist",
		"counter_id", id.String(), "value", c.Value(), "version", c.Version(), "pending", len(c.PendingChanges()))

	loaded, err := counters.OfIdentity(ctx, id)
	if err != nil {
		return "", err
	}

	logger.InfoContext(ctx, "counter loaded", "counter_id", id.String(), "value", loaded.Value(), "version", loaded.Version())

	if loaded.Value() != 40 || loaded.Version() != 1 {
		return "", fmt.Errorf("unexpected counter state: value %d, version %d", loaded.Value(), loaded.Version())
	}

	return id, nil
}

// runCommandScenario drives a second counter through the command handler, one commit per command.
func runCommandScenario(
	ctx context.Context,
	counters *counter.Repository,
	retryOptions []shell.RetryOption,
	logger *slog.Logger,
) error {

	handler := counter.NewCommandHandler(counters, counter.WithLogger(logger), counter.WithRetryOptions(retryOptions...))
	id := counter.NewID()

	if err := handler.HandleCreate(ctx, counter.CreateCounter{CommandID: "create-" + id.String(), CounterID: id, Initial: 3}); err != nil {
		return err
	}

	increase := counter.IncreaseCounter{CommandID: "increase-" + id.String(), CounterID: id, By: 4}
	if err := handler.HandleIncrease(ctx, increase); err != nil {
		return err
	}

	// delivered twice, committed once
	if err := handler.HandleIncrease(ctx, increase); err != nil {
		return err
	}

	loaded, err := counters.OfIdentity(ctx, id)
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "counter after commands", "counter_id", id.String(), "value", loaded.Value(), "version", loaded.Version())

	return nil
}

// feedReminder hands the stored events of a counter to its reminder.
func feedReminder(
	ctx context.Context,
	store eventstore.StreamStore,
	counters *counter.Repository,
	registry *codec.Registry,
	reactor *reminder.Reactor,
	id counter.ID,
) error {

	key, err := counters.StreamKey(id)
	if err != nil {
		return err
	}

	stream, err := store.OpenStreamForReading(ctx, key)
	if err != nil {
		return err
	}

	events, err := registry.DecodeAll(stream.Events)
	if err != nil {
		return err
	}

	for _, event := range events {
		if err = reactor.React(ctx, event); err != nil {
			return err
		}
	}

	return nil
}

func awaitNotification(ctx context.Context, commands commandTransport, wait time.Duration, logger *slog.Logger) error {
	if commands.notifications == nil {
		logger.InfoContext(ctx, "owner notifications go to kafka, not waiting for them")
		return nil
	}

	select {
	case payload := <-commands.notifications:
		logger.InfoContext(ctx, "owner notified", "command", payload)
		return nil
	case <-time.After(wait):
		return fmt.Errorf("no owner notification within %s", wait)
	case <-ctx.Done():
		return ctx.Err()
	}
}
