package reminder

import (
	"context"
	"errors"
	"time"

	"github.com/AntonStoeckl/eventsourced-entities-go/codec"
	"github.com/AntonStoeckl/eventsourced-entities-go/eventsourcing"
	"github.com/AntonStoeckl/eventsourced-entities-go/eventsourcing/dispatch"
	"github.com/AntonStoeckl/eventsourced-entities-go/example/counter"
)

const (
	DueEventType         = "ReminderDue"
	sagaIDPrefix         = "reminder-"
	defaultThreshold     = 40
	defaultReminderDelay = time.Minute
)

// ErrInvalidPolicy is returned for a Policy with a non-positive threshold or a negative delay.
var ErrInvalidPolicy = errors.Join(eventsourcing.ErrValidation, errors.New("invalid reminder policy"))

// Due is the timeout event a Reminder schedules for itself.
type Due struct {
	eventsourcing.EventBase
	CounterID string `json:"counterId"`
	Total     int    `json:"total"`
}

// EventType returns the event type name.
func (Due) EventType() string { return DueEventType }

// NotifyOwner tells the owner of a counter that it reached the threshold.
type NotifyOwner struct {
	CounterID string `json:"counterId"`
	Total     int    `json:"total"`
}

// CommandType returns the command type name.
func (NotifyOwner) CommandType() string { return "NotifyOwner" }

// RoutingKey keeps all commands for one counter in order.
func (c NotifyOwner) RoutingKey() string { return c.CounterID }

// Policy decides when a reminder fires.
type Policy struct {
	Threshold int
	Delay     time.Duration
}

// DefaultPolicy fires one minute after a counter reached 40.
func DefaultPolicy() Policy {
	return Policy{Threshold: defaultThreshold, Delay: defaultReminderDelay}
}

// Validate reports a policy that can never fire.
func (p Policy) Validate() error {
	if p.Threshold <= 0 || p.Delay < 0 {
		return ErrInvalidPolicy
	}

	return nil
}

// SagaIDFor returns the identity of the reminder following counterID.
func SagaIDFor(counterID string) eventsourcing.SagaID {
	return eventsourcing.SagaID(sagaIDPrefix + counterID)
}

var routes = dispatch.NewTable[*Reminder](dispatch.WithIgnoreUnknownEvents())

func init() {
	dispatch.MustOn(routes, (*Reminder).whenCreated)
	dispatch.MustOnContext(routes, (*Reminder).whenIncreased)
	dispatch.MustOn(routes, (*Reminder).whenDecreased)
	dispatch.MustOnContext(routes, (*Reminder).whenDue)
}

// Reminder is the saga following one counter.
type Reminder struct {
	eventsourcing.Saga[*Reminder]

	policy    Policy
	counterID string
	total     int
	scheduled bool
	notified  int
}

// New returns a fresh reminder.
func New(id eventsourcing.SagaID, policy Policy, options ...eventsourcing.SagaOption) *Reminder {
	r := &Reminder{policy: policy}
	r.Saga = eventsourcing.NewSaga(id, r, routes, options...)

	return r
}

// NewFactory returns the factory the repository uses to build fresh reminders.
func NewFactory(policy Policy, options ...eventsourcing.SagaOption) func(eventsourcing.SagaID) *Reminder {
	return func(id eventsourcing.SagaID) *Reminder {
		return New(id, policy, options...)
	}
}

// Total returns the counter value as far as the reminder knows it.
func (r *Reminder) Total() int {
	return r.total
}

// Scheduled reports whether a timeout is outstanding.
func (r *Reminder) Scheduled() bool {
	return r.scheduled
}

// Notifications returns how often the owner was notified.
func (r *Reminder) Notifications() int {
	return r.notified
}

func (r *Reminder) whenCreated(e counter.Created) error {
	r.counterID = e.CounterID
	r.total = e.Initial

	return nil
}

func (r *Reminder) whenIncreased(ctx context.Context, e counter.Increased) error {
	r.counterID = e.CounterID
	r.total += e.By

	if r.scheduled || r.total < r.policy.Threshold {
		return nil
	}

	r.scheduled = true

	due := Due{
		EventBase: eventsourcing.NewEventBase(e.OccurredAt().Add(r.policy.Delay)),
		CounterID: r.counterID,
		Total:     r.total,
	}

	return r.RequestTimeout(ctx, due, r.policy.Delay)
}

func (r *Reminder) whenDecreased(e counter.Decreased) error {
	r.total -= e.By

	return nil
}

func (r *Reminder) whenDue(ctx context.Context, _ Due) error {
	r.scheduled = false

	if r.total < r.policy.Threshold {
		return nil
	}

	r.notified++

	return r.SendCommand(ctx, NotifyOwner{CounterID: r.counterID, Total: r.total})
}

// RegisterEvents makes every event a reminder stream can contain known to registry.
func RegisterEvents(registry *codec.Registry) error {
	if err := counter.RegisterEvents(registry); err != nil {
		return err
	}

	return codec.Register[Due](registry)
}
