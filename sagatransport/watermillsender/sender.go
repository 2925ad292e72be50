// Package watermillsender implements eventsourcing.CommandSender on a watermill CQRS command bus.
//
// Any watermill publisher can carry the commands, e.g. gochannel in a single process or
// watermill-kafka between services. Commands are published as JSON to the topic
// "<prefix><CommandType>".
package watermillsender

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/components/cqrs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/AntonStoeckl/eventsourced-entities-go/codec"
	"github.com/AntonStoeckl/eventsourced-entities-go/eventsourcing"
	"github.com/AntonStoeckl/eventsourced-entities-go/sagatransport"
)

// DefaultTopicPrefix is prepended to the command type to build the topic.
const DefaultTopicPrefix = "commands."

type config struct {
	topicPrefix string
	logger      *slog.Logger
}

// Option defines a functional option for configuring a CommandSender.
type Option func(*config)

// WithTopicPrefix replaces DefaultTopicPrefix.
func WithTopicPrefix(prefix string) Option {
	return func(c *config) {
		c.topicPrefix = prefix
	}
}

// WithLogger routes the command bus logs to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// CommandSender publishes saga commands through a cqrs.CommandBus.
type CommandSender struct {
	bus *cqrs.CommandBus
}

// New creates a CommandSender on publisher.
func New(publisher message.Publisher, options ...Option) (*CommandSender, error) {
	cfg := config{topicPrefix: DefaultTopicPrefix}
	for _, option := range options {
		option(&cfg)
	}

	var logger watermill.LoggerAdapter = watermill.NopLogger{}
	if cfg.logger != nil {
		logger = watermill.NewSlogLogger(cfg.logger)
	}

	bus, err := cqrs.NewCommandBusWithConfig(publisher, cqrs.CommandBusConfig{
		GeneratePublishTopic: func(params cqrs.CommandBusGeneratePublishTopicParams) (string, error) {
			return cfg.topicPrefix + params.CommandName, nil
		},
		OnSend: func(params cqrs.CommandBusOnSendParams) error {
			params.Message.Metadata.Set(sagatransport.HeaderCommandType, params.CommandName)

			metadata := codec.MetadataFromContext(params.Message.Context())
			if metadata.CorrelationID != "" {
				params.Message.Metadata.Set(sagatransport.HeaderCorrelationID, metadata.CorrelationID)
			}

			if metadata.MessageID != "" {
				params.Message.Metadata.Set(sagatransport.HeaderCausationID, metadata.MessageID)
			}

			return nil
		},
		Marshaler: cqrs.JSONMarshaler{
			NewUUID:      uuid.NewString,
			GenerateName: commandName,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, errors.Join(sagatransport.ErrSendingCommandFailed, err)
	}

	return &CommandSender{bus: bus}, nil
}

// Send publishes cmd.
func (s *CommandSender) Send(ctx context.Context, cmd eventsourcing.Command) error {
	if cmd == nil {
		return errors.Join(sagatransport.ErrSendingCommandFailed, eventsourcing.ErrValidation)
	}

	if err := s.bus.Send(ctx, cmd); err != nil {
		return errors.Join(sagatransport.ErrSendingCommandFailed, err)
	}

	return nil
}

func commandName(v any) string {
	if cmd, ok := v.(eventsourcing.Command); ok {
		return cmd.CommandType()
	}

	return cqrs.FullyQualifiedStructName(v)
}

var _ eventsourcing.CommandSender = (*CommandSender)(nil)
