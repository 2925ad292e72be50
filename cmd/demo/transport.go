package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"

	"github.com/AntonStoeckl/eventsourced-entities-go/codec"
	"github.com/AntonStoeckl/eventsourced-entities-go/eventsourcing"
	"github.com/AntonStoeckl/eventsourced-entities-go/example/reminder"
	"github.com/AntonStoeckl/eventsourced-entities-go/sagatransport"
	"github.com/AntonStoeckl/eventsourced-entities-go/sagatransport/kafkasender"
	"github.com/AntonStoeckl/eventsourced-entities-go/sagatransport/redistimeouts"
	"github.com/AntonStoeckl/eventsourced-entities-go/sagatransport/watermillsender"
	"github.com/AntonStoeckl/eventsourced-entities-go/shell/config"
)

// commandTransport sends saga commands. notifications reports NotifyOwner commands that came
// back through the in-process watermill channel; it stays nil when commands go to Kafka.
type commandTransport struct {
	sender        eventsourcing.CommandSender
	notifications <-chan string
	close         func()
}

func newCommandTransport(ctx context.Context, settings config.Settings, logger *slog.Logger) (commandTransport, error) {
	if settings.UsesKafka() {
		writer := kafkasender.NewWriter(settings.KafkaBrokers, settings.KafkaCommandTopic)

		return commandTransport{
			sender: kafkasender.New(writer, kafkasender.WithLogger(logger)),
			close:  func() { _ = writer.Close() },
		}, nil
	}

	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NewSlogLogger(logger))

	sender, err := watermillsender.New(pubSub, watermillsender.WithLogger(logger))
	if err != nil {
		return commandTransport{}, err
	}

	messages, err := pubSub.Subscribe(ctx, watermillsender.DefaultTopicPrefix+reminder.NotifyOwner{}.CommandType())
	if err != nil {
		return commandTransport{}, err
	}

	notifications := make(chan string, 1)

	go func() {
		defer close(notifications)

		for msg := range messages {
			notifications <- string(msg.Payload)
			msg.Ack()
		}
	}()

	return commandTransport{
		sender:        sender,
		notifications: notifications,
		close:         func() { _ = pubSub.Close() },
	}, nil
}

// timeoutTransport schedules saga timeouts and delivers them to deliver once due.
type timeoutTransport struct {
	requester eventsourcing.TimeoutRequester
	run       func(ctx context.Context, deliver redistimeouts.DeliverFunc)
	close     func()
}

func newTimeoutTransport(settings config.Settings, registry *codec.Registry, logger *slog.Logger) timeoutTransport {
	if settings.UsesRedis() {
		client := redis.NewClient(&redis.Options{Addr: settings.RedisAddr})
		options := []redistimeouts.Option{
			redistimeouts.WithKey(settings.TimeoutsKey),
			redistimeouts.WithLogger(logger),
		}

		return timeoutTransport{
			requester: redistimeouts.NewRequester(client, registry, options...),
			run: func(ctx context.Context, deliver redistimeouts.DeliverFunc) {
				poller := redistimeouts.NewPoller(client, registry, deliver, options...)
				if err := poller.Run(ctx, settings.TimeoutPollInterval); err != nil {
					logger.ErrorContext(ctx, "timeout poller stopped", "error", err.Error())
				}
			},
			close: func() { _ = client.Close() },
		}
	}

	local := &inProcessTimeouts{due: make(chan dueTimeout, 16)}

	return timeoutTransport{
		requester: local,
		run:       local.run,
		close:     local.stop,
	}
}

type dueTimeout struct {
	sagaID eventsourcing.SagaID
	event  eventsourcing.Event
}

// inProcessTimeouts keeps timeouts in timers; they are lost when the process ends.
type inProcessTimeouts struct {
	mu     sync.Mutex
	timers []*time.Timer
	due    chan dueTimeout
}

func (t *inProcessTimeouts) RequestTimeout(
	_ context.Context,
	sagaID eventsourcing.SagaID,
	event eventsourcing.Event,
	delay time.Duration,
) error {

	if event == nil {
		return sagatransport.ErrRequestingTimeoutFailed
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.timers = append(t.timers, time.AfterFunc(delay, func() {
		t.due <- dueTimeout{sagaID: sagaID, event: event}
	}))

	return nil
}

func (t *inProcessTimeouts) run(ctx context.Context, deliver redistimeouts.DeliverFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case timeout := <-t.due:
			if err := deliver(ctx, timeout.sagaID, timeout.event); err != nil {
				slog.ErrorContext(ctx, "timeout delivery failed", "saga_id", timeout.sagaID.String(), "error", err.Error())
			}
		}
	}
}

func (t *inProcessTimeouts) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, timer := range t.timers {
		timer.Stop()
	}
}
