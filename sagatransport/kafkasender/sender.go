// Package kafkasender implements eventsourcing.CommandSender on a segmentio/kafka-go writer.
//
// Commands are written as JSON values. The message key is the command's routing key if it
// implements RoutingKeyer, otherwise the command type, so commands of one kind stay ordered.
package kafkasender

import (
	"context"
	"errors"

	jsoniter "github.com/json-iterator/go"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/AntonStoeckl/eventsourced-entities-go/codec"
	"github.com/AntonStoeckl/eventsourced-entities-go/eventsourcing"
	"github.com/AntonStoeckl/eventsourced-entities-go/sagatransport"
)

const (
	logMsgCommandSent = "saga command written to kafka"
	logMsgSendFailed  = "writing saga command to kafka failed"
	logAttrCommand    = "command_type"
	logAttrKey        = "key"
	logAttrError      = "error"
)

// MessageWriter is the part of *kafkago.Writer the sender needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
}

// RoutingKeyer is implemented by commands that want to choose their partition key.
type RoutingKeyer interface {
	RoutingKey() string
}

// Logger interface for the sender's output.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

// Option defines a functional option for configuring a CommandSender.
type Option func(*CommandSender)

// WithLogger sets the logger for the CommandSender.
func WithLogger(logger Logger) Option {
	return func(s *CommandSender) {
		s.logger = logger
	}
}

// CommandSender writes saga commands to Kafka.
type CommandSender struct {
	writer MessageWriter
	logger Logger
}

// New creates a CommandSender on writer, usually a *kafkago.Writer from NewWriter.
func New(writer MessageWriter, options ...Option) *CommandSender {
	s := &CommandSender{writer: writer}
	for _, option := range options {
		option(s)
	}

	return s
}

// NewWriter creates a Kafka writer for a specific topic.
func NewWriter(brokers []string, topic string) *kafkago.Writer {
	return &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
}

// Send writes cmd synchronously, it returns once the broker acknowledged the message.
func (s *CommandSender) Send(ctx context.Context, cmd eventsourcing.Command) error {
	if cmd == nil {
		return errors.Join(sagatransport.ErrSendingCommandFailed, eventsourcing.ErrValidation)
	}

	msg, err := messageFor(ctx, cmd)
	if err != nil {
		return err
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		if s.logger != nil {
			s.logger.Error(logMsgSendFailed, logAttrCommand, cmd.CommandType(), logAttrError, err.Error())
		}

		return errors.Join(sagatransport.ErrSendingCommandFailed, err)
	}

	if s.logger != nil {
		s.logger.Debug(logMsgCommandSent, logAttrCommand, cmd.CommandType(), logAttrKey, string(msg.Key))
	}

	return nil
}

func messageFor(ctx context.Context, cmd eventsourcing.Command) (kafkago.Message, error) {
	value, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(cmd)
	if err != nil {
		return kafkago.Message{}, errors.Join(sagatransport.ErrSendingCommandFailed, err)
	}

	key := cmd.CommandType()
	if keyer, ok := cmd.(RoutingKeyer); ok && keyer.RoutingKey() != "" {
		key = keyer.RoutingKey()
	}

	headers := []kafkago.Header{{Key: sagatransport.HeaderCommandType, Value: []byte(cmd.CommandType())}}

	metadata := codec.MetadataFromContext(ctx)
	if metadata.CorrelationID != "" {
		headers = append(headers, kafkago.Header{Key: sagatransport.HeaderCorrelationID, Value: []byte(metadata.CorrelationID)})
	}

	if metadata.MessageID != "" {
		headers = append(headers, kafkago.Header{Key: sagatransport.HeaderCausationID, Value: []byte(metadata.MessageID)})
	}

	return kafkago.Message{
		Key:     []byte(key),
		Value:   value,
		Headers: headers,
	}, nil
}

var _ eventsourcing.CommandSender = (*CommandSender)(nil)
