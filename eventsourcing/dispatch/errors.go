package dispatch

import "errors"

var (
	// ErrHandlerNotFound is returned when neither an explicit nor a convention handler exists for an event type
	// and the table is configured to fail on unknown events (the default).
	ErrHandlerNotFound = errors.New("no handler found for event type")

	// ErrHandlerAlreadyRegistered is returned when a second explicit handler is registered for the same event type.
	ErrHandlerAlreadyRegistered = errors.New("a handler is already registered for this event type")

	// ErrInvalidRegistration is returned when a registration lacks an event type or a handler.
	ErrInvalidRegistration = errors.New("invalid handler registration")

	// ErrAmbiguousHandler is returned when more than one convention method at the same embedding depth accepts the event type.
	ErrAmbiguousHandler = errors.New("ambiguous convention handlers for event type")

	// ErrNilEvent is returned when a nil event is routed.
	ErrNilEvent = errors.New("event must not be nil")

	// ErrNilReceiver is returned when a convention lookup is attempted without a receiver.
	ErrNilReceiver = errors.New("receiver must not be nil")
)
