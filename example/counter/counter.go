package counter

import (
	"errors"
	"fmt"
	"time"

	"github.com/AntonStoeckl/eventsourced-entities-go/eventsourcing"
	"github.com/AntonStoeckl/eventsourced-entities-go/eventsourcing/dispatch"
)

var (
	// ErrInvalidAmount is returned when a counter should change by a non-positive amount.
	ErrInvalidAmount = errors.Join(eventsourcing.ErrValidation, errors.New("amount must be positive"))

	// ErrNotCreated is returned when an operation runs on a counter that was never created.
	ErrNotCreated = errors.New("counter was not created")

	// ErrAlreadyCreated is returned when Create runs on a counter that already exists.
	ErrAlreadyCreated = errors.New("counter was already created")

	// ErrBelowZero is returned when a decrease would make the value negative.
	ErrBelowZero = errors.New("counter must not drop below zero")
)

var routes = dispatch.NewTable[*Counter](dispatch.WithConventionHandlers("When"))

// Counter is an event-sourced aggregate holding a non-negative value.
type Counter struct {
	eventsourcing.Root[*Counter]

	id      ID
	value   int
	created bool
}

// New returns a fresh counter. It is the factory the repository uses before replaying a stream.
func New(id ID) *Counter {
	c := &Counter{id: id}
	c.Root = eventsourcing.NewRoot(c, routes)

	return c
}

// Create returns a new counter holding initial, with one pending change.
func Create(id ID, initial int, now time.Time) (*Counter, error) {
	c := New(id)
	if err := c.Create(initial, now); err != nil {
		return nil, err
	}

	return c, nil
}

// ID returns the identity of the counter.
func (c *Counter) ID() ID {
	return c.id
}

// Value returns the current value.
func (c *Counter) Value() int {
	return c.value
}

// Create starts the life of a fresh counter.
func (c *Counter) Create(initial int, now time.Time) error {
	if c.created {
		return ErrAlreadyCreated
	}

	if initial < 0 {
		return fmt.Errorf("%w: initial value %d", ErrBelowZero, initial)
	}

	return c.Apply(BuildCreated(c.id, initial, now))
}

// Increase raises the value by by.
func (c *Counter) Increase(by int, now time.Time) error {
	if err := c.guard(by); err != nil {
		return err
	}

	return c.Apply(BuildIncreased(c.id, by, now))
}

// Decrease lowers the value by by.
func (c *Counter) Decrease(by int, now time.Time) error {
	if err := c.guard(by); err != nil {
		return err
	}

	if c.value-by < 0 {
		return fmt.Errorf("%w: %d - %d", ErrBelowZero, c.value, by)
	}

	return c.Apply(BuildDecreased(c.id, by, now))
}

func (c *Counter) guard(by int) error {
	if !c.created {
		return ErrNotCreated
	}

	if by <= 0 {
		return ErrInvalidAmount
	}

	return nil
}

// WhenCreated applies Created.
func (c *Counter) WhenCreated(e Created) {
	c.created = true
	c.value = e.Initial
}

// WhenIncreased applies Increased.
func (c *Counter) WhenIncreased(e Increased) {
	c.value += e.By
}

// WhenDecreased applies Decreased.
func (c *Counter) WhenDecreased(e Decreased) {
	c.value -= e.By
}
