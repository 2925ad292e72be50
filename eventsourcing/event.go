package eventsourcing

import (
	"time"

	"github.com/google/uuid"
)

// Event is an immutable fact with a stable identity.
// EventType must return a constant name for the concrete type, it is used for serialization.
type Event interface {
	EventID() uuid.UUID
	EventType() string
}

// Timestamped is implemented by events that know when they occurred.
type Timestamped interface {
	OccurredAt() time.Time
}

// EventBase is meant to be embedded into concrete event types.
// It provides the identity and the occurrence timestamp.
type EventBase struct {
	ID uuid.UUID `json:"eventId"`
	At time.Time `json:"occurredAt"`
}

// NewEventBase creates an EventBase with a time-ordered UUIDv7 identity.
func NewEventBase(occurredAt time.Time) EventBase {
	return EventBase{
		ID: uuid.Must(uuid.NewV7()),
		At: occurredAt.UTC(),
	}
}

// EventID returns the identity of the event.
func (b EventBase) EventID() uuid.UUID {
	return b.ID
}

// OccurredAt returns when the event occurred.
func (b EventBase) OccurredAt() time.Time {
	return b.At
}
