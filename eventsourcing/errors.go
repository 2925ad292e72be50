package eventsourcing

import (
	"errors"

	"github.com/AntonStoeckl/eventsourced-entities-go/eventsourcing/dispatch"
)

var (
	// ErrHandlerNotFound is returned when an event cannot be routed to a handler of the aggregate or saga.
	ErrHandlerNotFound = dispatch.ErrHandlerNotFound

	// ErrInvalidReplayState is returned when Load is called on an instance that is not fresh.
	ErrInvalidReplayState = errors.New("load requires a fresh instance with version 0 and no pending changes")

	// ErrMissingCollaborator is returned when a saga issues a command or a timeout without the matching collaborator.
	ErrMissingCollaborator = errors.New("saga collaborator is not configured")

	// ErrValidation is returned for nil or otherwise invalid arguments.
	ErrValidation = errors.New("validation failed")

	// ErrNilBus is returned when Persist is called without a bus.
	ErrNilBus = errors.Join(ErrValidation, errors.New("bus must not be nil"))

	// ErrNilEvent is returned when a nil event is applied, handled or loaded.
	ErrNilEvent = errors.Join(ErrValidation, errors.New("event must not be nil"))

	// ErrNilEventID is returned when a saga handles an event without identity or such an event is encoded.
	// Build events with NewEventBase.
	ErrNilEventID = errors.Join(ErrValidation, errors.New("event id must not be the nil UUID"))
)
