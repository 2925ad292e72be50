package eventsourcing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/eventsourced-entities-go/eventsourcing/dispatch"
)

const (
	logMsgDuplicateEvent    = "saga skipped already handled event"
	logMsgCommandSuppressed = "saga command suppressed during replay"
	logMsgTimeoutSuppressed = "saga timeout request suppressed during replay"
	logAttrSagaID           = "saga_id"
	logAttrEventID          = "event_id"
	logAttrEventType        = "event_type"
	logAttrCommandType      = "command_type"
	logAttrTimeoutDelayMS   = "delay_ms"
)

// Logger interface for debug output of the saga engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SagaID identifies a saga instance and its stream.
type SagaID string

// NewSagaID creates a random time-ordered SagaID.
func NewSagaID() SagaID {
	return SagaID(uuid.Must(uuid.NewV7()).String())
}

func (id SagaID) String() string {
	return string(id)
}

// Command is an outbound message issued by a saga.
type Command interface {
	CommandType() string
}

// CommandSender delivers commands issued by sagas.
type CommandSender interface {
	Send(ctx context.Context, cmd Command) error
}

// TimeoutRequester schedules the redelivery of event to the saga after delay.
type TimeoutRequester interface {
	RequestTimeout(ctx context.Context, sagaID SagaID, event Event, delay time.Duration) error
}

type sagaOptions struct {
	sender   CommandSender
	timeouts TimeoutRequester
	logger   Logger
}

// SagaOption defines a functional option for configuring a Saga.
type SagaOption func(*sagaOptions)

// WithCommandSender sets the collaborator used by SendCommand.
func WithCommandSender(sender CommandSender) SagaOption {
	return func(o *sagaOptions) {
		o.sender = sender
	}
}

// WithTimeoutRequester sets the collaborator used by RequestTimeout.
func WithTimeoutRequester(requester TimeoutRequester) SagaOption {
	return func(o *sagaOptions) {
		o.timeouts = requester
	}
}

// WithSagaLogger sets the logger for the Saga.
// Debug level: skipped duplicate events and side effects suppressed during replay.
func WithSagaLogger(logger Logger) SagaOption {
	return func(o *sagaOptions) {
		o.logger = logger
	}
}

// Saga is embedded by process managers. R is the saga type the handlers are bound to.
//
// Every event identity is handled at most once. Events handled outside a replay become pending
// changes, so persisting a saga stores the events it has reacted to.
//
// The zero value is not usable; construct it with NewSaga.
type Saga[R any] struct {
	engine  engine[R]
	id      SagaID
	handled map[uuid.UUID]struct{}
	opts    sagaOptions
}

// NewSaga binds receiver to the handlers of table.
func NewSaga[R any](id SagaID, receiver R, table *dispatch.Table[R], opts ...SagaOption) Saga[R] {
	s := Saga[R]{
		engine:  newEngine(receiver, table),
		id:      id,
		handled: make(map[uuid.UUID]struct{}),
	}

	for _, opt := range opts {
		opt(&s.opts)
	}

	return s
}

// ID returns the identity of the saga.
func (s *Saga[R]) ID() SagaID {
	return s.id
}

// Handle routes event to the saga's handler unless an event with the same identity was handled before.
// Outside a replay the event is also recorded as a pending change.
func (s *Saga[R]) Handle(ctx context.Context, event Event) error {
	if event == nil {
		return ErrNilEvent
	}

	eventID := event.EventID()
	if eventID == uuid.Nil {
		return ErrNilEventID
	}

	if s.Handled(eventID) {
		s.logDebug(logMsgDuplicateEvent, logAttrEventID, eventID.String(), logAttrEventType, event.EventType())
		return nil
	}

	if s.handled == nil {
		s.handled = make(map[uuid.UUID]struct{})
	}

	s.handled[eventID] = struct{}{}

	if !s.engine.replaying {
		s.engine.record(event)
	}

	return s.engine.route(ctx, event)
}

// Load rebuilds the saga from the events it handled before. Side effects requested by the handlers
// while loading are suppressed. It fails with ErrInvalidReplayState unless the instance is fresh.
func (s *Saga[R]) Load(ctx context.Context, version uint64, events []Event) error {
	if len(s.handled) > 0 {
		return ErrInvalidReplayState
	}

	return s.engine.replay(ctx, version, events, s.Handle)
}

// Persist hands all pending changes to bus in the order they were handled, clears them
// and increases the version by one. Without pending changes it does nothing.
func (s *Saga[R]) Persist(bus Bus) error {
	return s.engine.persist(bus)
}

// SendCommand delivers cmd through the configured CommandSender.
// During a replay the command is not sent because it was sent when the event was handled first.
func (s *Saga[R]) SendCommand(ctx context.Context, cmd Command) error {
	if cmd == nil {
		return errors.Join(ErrValidation, errors.New("command must not be nil"))
	}

	if s.engine.replaying {
		s.logDebug(logMsgCommandSuppressed, logAttrCommandType, cmd.CommandType())
		return nil
	}

	if s.opts.sender == nil {
		return errors.Join(ErrMissingCollaborator, errors.New("no command sender configured"))
	}

	return s.opts.sender.Send(ctx, cmd)
}

// RequestTimeout asks the configured TimeoutRequester to redeliver event to this saga after delay.
// During a replay the request is not issued because it was issued when the event was handled first.
func (s *Saga[R]) RequestTimeout(ctx context.Context, event Event, delay time.Duration) error {
	if event == nil {
		return ErrNilEvent
	}

	if delay < 0 {
		return errors.Join(ErrValidation, errors.New("timeout delay must not be negative"))
	}

	if s.engine.replaying {
		s.logDebug(logMsgTimeoutSuppressed, logAttrEventType, event.EventType(), logAttrTimeoutDelayMS, delay.Milliseconds())
		return nil
	}

	if s.opts.timeouts == nil {
		return errors.Join(ErrMissingCollaborator, errors.New("no timeout requester configured"))
	}

	return s.opts.timeouts.RequestTimeout(ctx, s.id, event, delay)
}

// Handled reports whether an event with the given identity was handled by this instance.
func (s *Saga[R]) Handled(eventID uuid.UUID) bool {
	_, ok := s.handled[eventID]
	return ok
}

// Replaying reports whether the saga is currently loading historic events.
func (s *Saga[R]) Replaying() bool {
	return s.engine.replaying
}

// Version returns the number of commits the instance is based on.
func (s *Saga[R]) Version() uint64 {
	return s.engine.version
}

// PendingChanges returns a copy of the events handled since the last Persist.
func (s *Saga[R]) PendingChanges() []Event {
	return s.engine.pendingChanges()
}

// HasPendingChanges reports whether there is anything to persist.
func (s *Saga[R]) HasPendingChanges() bool {
	return len(s.engine.changes) > 0
}

func (s *Saga[R]) logDebug(msg string, args ...any) {
	if s.opts.logger != nil {
		s.opts.logger.Debug(msg, append([]any{logAttrSagaID, s.id.String()}, args...)...)
	}
}
