package codec

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/eventsourced-entities-go/eventsourcing"
	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore"
)

var (
	// ErrUnknownEventType is returned when decoding an event type that was never registered.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrInvalidEventType is returned when registering a type that cannot be decoded into.
	ErrInvalidEventType = errors.New("invalid event type")

	// ErrEventTypeAlreadyRegistered is returned when two Go types claim the same event type name.
	ErrEventTypeAlreadyRegistered = errors.New("event type already registered")

	// ErrMappingToStorableEventFailed is returned when an event cannot be encoded.
	ErrMappingToStorableEventFailed = errors.New("mapping to storable event failed")

	// ErrMappingToDomainEventFailed is returned when a StorableEvent cannot be decoded.
	ErrMappingToDomainEventFailed = errors.New("mapping to domain event failed")
)

// json is compatible with encoding/json, so struct tags and time.Time behave as usual.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Registry knows the Go type behind every event type name. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]reflect.Type)}
}

// Register makes E decodable under the name returned by its EventType method.
// E must be a non-pointer type whose zero value reports its name.
// Registering the same type twice is allowed.
func Register[E eventsourcing.Event](r *Registry) error {
	eventType := reflect.TypeFor[E]()

	if eventType.Kind() == reflect.Pointer || eventType.Kind() == reflect.Interface {
		return errors.Join(ErrInvalidEventType, fmt.Errorf("%s must not be a pointer or interface", eventType))
	}

	var zero E

	name := zero.EventType()
	if name == "" {
		return errors.Join(ErrInvalidEventType, fmt.Errorf("%s reports an empty event type", eventType))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if known, exists := r.types[name]; exists && known != eventType {
		return errors.Join(ErrEventTypeAlreadyRegistered, fmt.Errorf("%s is registered for %s", name, known))
	}

	r.types[name] = eventType

	return nil
}

// MustRegister is like Register but panics on error. It is meant for package initialization.
func MustRegister[E eventsourcing.Event](r *Registry) {
	if err := Register[E](r); err != nil {
		panic(err)
	}
}

// Knows reports whether eventType was registered.
func (r *Registry) Knows(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.types[eventType]

	return ok
}

// Encode converts event and metadata to a StorableEvent.
// The occurrence time is taken from the event if it implements eventsourcing.Timestamped.
func (r *Registry) Encode(event eventsourcing.Event, metadata Metadata) (eventstore.StorableEvent, error) {
	if event == nil {
		return eventstore.StorableEvent{}, errors.Join(ErrMappingToStorableEventFailed, eventsourcing.ErrNilEvent)
	}

	if !r.Knows(event.EventType()) {
		return eventstore.StorableEvent{}, errors.Join(ErrMappingToStorableEventFailed, ErrUnknownEventType, errors.New(event.EventType()))
	}

	if event.EventID() == uuid.Nil {
		return eventstore.StorableEvent{}, errors.Join(ErrMappingToStorableEventFailed, eventsourcing.ErrNilEventID)
	}

	payloadJSON, err := json.Marshal(event)
	if err != nil {
		return eventstore.StorableEvent{}, errors.Join(ErrMappingToStorableEventFailed, err)
	}

	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return eventstore.StorableEvent{}, errors.Join(ErrMappingToStorableEventFailed, err)
	}

	occurredAt := time.Now().UTC()
	if timestamped, ok := event.(eventsourcing.Timestamped); ok && !timestamped.OccurredAt().IsZero() {
		occurredAt = timestamped.OccurredAt()
	}

	storableEvent, err := eventstore.BuildStorableEvent(event.EventType(), occurredAt, payloadJSON, metadataJSON)
	if err != nil {
		return eventstore.StorableEvent{}, errors.Join(ErrMappingToStorableEventFailed, err)
	}

	return storableEvent, nil
}

// Decode converts a StorableEvent back to the registered event type, as a value, not a pointer.
func (r *Registry) Decode(storableEvent eventstore.StorableEvent) (eventsourcing.Event, error) {
	r.mu.RLock()
	eventType, ok := r.types[storableEvent.EventType]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.Join(ErrMappingToDomainEventFailed, ErrUnknownEventType, errors.New(storableEvent.EventType))
	}

	target := reflect.New(eventType)

	if err := json.Unmarshal(storableEvent.PayloadJSON, target.Interface()); err != nil {
		return nil, errors.Join(ErrMappingToDomainEventFailed, err)
	}

	event, ok := target.Elem().Interface().(eventsourcing.Event)
	if !ok {
		return nil, errors.Join(ErrMappingToDomainEventFailed, ErrInvalidEventType)
	}

	return event, nil
}

// DecodeAll converts multiple StorableEvents, keeping their order.
func (r *Registry) DecodeAll(storableEvents eventstore.StorableEvents) ([]eventsourcing.Event, error) {
	events := make([]eventsourcing.Event, 0, len(storableEvents))

	for _, storableEvent := range storableEvents {
		event, err := r.Decode(storableEvent)
		if err != nil {
			return nil, err
		}

		events = append(events, event)
	}

	return events, nil
}
