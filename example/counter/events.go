package counter

import (
	"time"

	"github.com/AntonStoeckl/eventsourced-entities-go/codec"
	"github.com/AntonStoeckl/eventsourced-entities-go/eventsourcing"
)

const (
	CreatedEventType   = "CounterCreated"
	IncreasedEventType = "CounterIncreased"
	DecreasedEventType = "CounterDecreased"
)

// Created is the first event of every counter stream.
type Created struct {
	eventsourcing.EventBase
	CounterID string `json:"counterId"`
	Initial   int    `json:"initial"`
}

// EventType returns the event type name.
func (Created) EventType() string { return CreatedEventType }

// Increased records that the value went up.
type Increased struct {
	eventsourcing.EventBase
	CounterID string `json:"counterId"`
	By        int    `json:"by"`
}

// EventType returns the event type name.
func (Increased) EventType() string { return IncreasedEventType }

// Decreased records that the value went down.
type Decreased struct {
	eventsourcing.EventBase
	CounterID string `json:"counterId"`
	By        int    `json:"by"`
}

// EventType returns the event type name.
func (Decreased) EventType() string { return DecreasedEventType }

// BuildCreated creates a Created event.
func BuildCreated(id ID, initial int, occurredAt time.Time) Created {
	return Created{EventBase: eventsourcing.NewEventBase(occurredAt), CounterID: id.String(), Initial: initial}
}

// BuildIncreased creates an Increased event.
func BuildIncreased(id ID, by int, occurredAt time.Time) Increased {
	return Increased{EventBase: eventsourcing.NewEventBase(occurredAt), CounterID: id.String(), By: by}
}

// BuildDecreased creates a Decreased event.
func BuildDecreased(id ID, by int, occurredAt time.Time) Decreased {
	return Decreased{EventBase: eventsourcing.NewEventBase(occurredAt), CounterID: id.String(), By: by}
}

// RegisterEvents makes the counter events known to registry.
func RegisterEvents(registry *codec.Registry) error {
	if err := codec.Register[Created](registry); err != nil {
		return err
	}

	if err := codec.Register[Increased](registry); err != nil {
		return err
	}

	return codec.Register[Decreased](registry)
}
