package dispatch

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
)

const (
	logMsgConventionResolved   = "convention handler resolved"
	logMsgConventionUnresolved = "no convention handler for event type"
	logAttrReceiverType        = "receiver_type"
	logAttrEventType           = "event_type"
	logAttrMethod              = "method"
	logAttrError               = "error"
)

type handlerFunc[R any] func(ctx context.Context, receiver R, event any) error

// Table maps concrete event types to handlers of a receiver type R.
//
// A Table is safe for concurrent use. Registration is expected to happen before routing starts,
// typically in an init function, but it is guarded anyway.
type Table[R any] struct {
	opts options

	mu       sync.RWMutex
	handlers map[reflect.Type]handlerFunc[R]

	populateMu sync.Mutex
	cache      sync.Map // conventionKey -> conventionResult
}

// NewTable creates an empty Table for receivers of type R.
func NewTable[R any](opts ...Option) *Table[R] {
	t := &Table[R]{
		handlers: make(map[reflect.Type]handlerFunc[R]),
	}

	for _, opt := range opts {
		opt(&t.opts)
	}

	return t
}

// On registers handler as the explicit handler for events of type E.
func On[R, E any](t *Table[R], handler func(R, E) error) error {
	if handler == nil {
		return errors.Join(ErrInvalidRegistration, errors.New("handler is nil"))
	}

	return t.register(reflect.TypeFor[E](), func(_ context.Context, receiver R, event any) error {
		return handler(receiver, event.(E))
	})
}

// OnContext registers a context-aware handler as the explicit handler for events of type E.
// The receiver comes first so that method expressions like (*Saga).whenX fit.
func OnContext[R, E any](t *Table[R], handler func(R, context.Context, E) error) error {
	if handler == nil {
		return errors.Join(ErrInvalidRegistration, errors.New("handler is nil"))
	}

	return t.register(reflect.TypeFor[E](), func(ctx context.Context, receiver R, event any) error {
		return handler(receiver, ctx, event.(E))
	})
}

// MustOn is like On but panics if the registration fails. It is meant for package initialization.
func MustOn[R, E any](t *Table[R], handler func(R, E) error) {
	if err := On(t, handler); err != nil {
		panic(err)
	}
}

// MustOnContext is like OnContext but panics if the registration fails.
func MustOnContext[R, E any](t *Table[R], handler func(R, context.Context, E) error) {
	if err := OnContext(t, handler); err != nil {
		panic(err)
	}
}

func (t *Table[R]) register(eventType reflect.Type, handler handlerFunc[R]) error {
	if eventType == nil || eventType.Kind() == reflect.Interface {
		return errors.Join(ErrInvalidRegistration, fmt.Errorf("event type must be concrete, got %v", eventType))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.handlers[eventType]; exists {
		return errors.Join(ErrHandlerAlreadyRegistered, fmt.Errorf("event type %s", eventType))
	}

	t.handlers[eventType] = handler

	return nil
}

// Route resolves the handler for the runtime type of event and invokes it on receiver.
// Explicit handlers take precedence over convention handlers.
//
// If no handler exists, Route fails with ErrHandlerNotFound unless the table was created
// with WithIgnoreUnknownEvents, in which case it returns nil without effect.
func (t *Table[R]) Route(ctx context.Context, receiver R, event any) error {
	if event == nil {
		return ErrNilEvent
	}

	eventType := reflect.TypeOf(event)

	t.mu.RLock()
	handler, ok := t.handlers[eventType]
	t.mu.RUnlock()

	if ok {
		return handler(ctx, receiver, event)
	}

	if t.opts.conventions {
		convention, err := t.resolveConvention(receiver, eventType)
		if err != nil {
			return err
		}

		if convention != nil {
			return convention.invoke(ctx, receiver, event)
		}
	}

	if t.opts.ignoreUnknown {
		return nil
	}

	return errors.Join(ErrHandlerNotFound, fmt.Errorf("event type %s", eventType))
}

// Handles reports whether Route would find a handler for event on receiver.
func (t *Table[R]) Handles(receiver R, event any) bool {
	if event == nil {
		return false
	}

	eventType := reflect.TypeOf(event)

	t.mu.RLock()
	_, ok := t.handlers[eventType]
	t.mu.RUnlock()

	if ok {
		return true
	}

	if !t.opts.conventions {
		return false
	}

	convention, err := t.resolveConvention(receiver, eventType)

	return err == nil && convention != nil
}

type conventionKey struct {
	receiver reflect.Type
	prefix   string
	event    reflect.Type
}

type conventionResult struct {
	handler *conventionHandler
	err     error
}

// resolveConvention returns the memoized convention handler, or nil if the receiver has none.
// Steady-state lookups only read the cache; populateMu serializes first-time population.
func (t *Table[R]) resolveConvention(receiver R, eventType reflect.Type) (*conventionHandler, error) {
	receiverValue := reflect.ValueOf(receiver)
	if !receiverValue.IsValid() || isNilPointer(receiverValue) {
		return nil, ErrNilReceiver
	}

	key := conventionKey{receiver: receiverValue.Type(), prefix: t.opts.prefix, event: eventType}

	if cached, ok := t.cache.Load(key); ok {
		result := cached.(conventionResult)
		return result.handler, result.err
	}

	t.populateMu.Lock()
	defer t.populateMu.Unlock()

	if cached, ok := t.cache.Load(key); ok {
		result := cached.(conventionResult)
		return result.handler, result.err
	}

	handler, err := findConventionHandler(key.receiver, key.prefix, key.event)
	t.cache.Store(key, conventionResult{handler: handler, err: err})
	t.logResolution(key, handler, err)

	return handler, err
}

func (t *Table[R]) logResolution(key conventionKey, handler *conventionHandler, err error) {
	if t.opts.logger == nil {
		return
	}

	switch {
	case err != nil:
		t.opts.logger.Warn(logMsgConventionUnresolved,
			logAttrReceiverType, key.receiver.String(), logAttrEventType, key.event.String(), logAttrError, err.Error())
	case handler == nil:
		t.opts.logger.Debug(logMsgConventionUnresolved,
			logAttrReceiverType, key.receiver.String(), logAttrEventType, key.event.String())
	default:
		t.opts.logger.Debug(logMsgConventionResolved,
			logAttrReceiverType, key.receiver.String(), logAttrEventType, key.event.String(), logAttrMethod, handler.name)
	}
}

func isNilPointer(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	default:
		return false
	}
}
