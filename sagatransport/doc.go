// Package sagatransport contains the collaborators sagas use to reach the outside world.
//
//   - kafkasender: eventsourcing.CommandSender writing commands to a Kafka topic
//   - watermillsender: eventsourcing.CommandSender publishing through a watermill CQRS command bus
//   - redistimeouts: eventsourcing.TimeoutRequester keeping due timeouts in a Redis sorted set
package sagatransport

import "errors"

var (
	// ErrSendingCommandFailed is returned when a command cannot be handed to the transport.
	ErrSendingCommandFailed = errors.New("sending command failed")

	// ErrRequestingTimeoutFailed is returned when a timeout cannot be scheduled.
	ErrRequestingTimeoutFailed = errors.New("requesting timeout failed")

	// ErrDeliveringTimeoutFailed is returned when a due timeout cannot be read back.
	ErrDeliveringTimeoutFailed = errors.New("delivering timeout failed")
)

const (
	// HeaderCommandType carries the command type of an outbound command message.
	HeaderCommandType = "command-type"

	// HeaderCorrelationID carries the correlation id of the message that caused the command.
	HeaderCorrelationID = "correlation-id"

	// HeaderCausationID carries the id of the message that caused the command.
	HeaderCausationID = "causation-id"
)
