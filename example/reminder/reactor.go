package reminder

import (
	"context"
	"errors"
	"log/slog"

	"github.com/AntonStoeckl/eventsourced-entities-go/eventsourcing"
	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore"
	"github.com/AntonStoeckl/eventsourced-entities-go/example/counter"
	"github.com/AntonStoeckl/eventsourced-entities-go/repository"
	"github.com/AntonStoeckl/eventsourced-entities-go/shell"
)

// ErrUnroutableEvent is returned by React for events that do not belong to a counter.
var ErrUnroutableEvent = errors.Join(eventsourcing.ErrValidation, errors.New("event cannot be routed to a reminder"))

// Repository stores reminders.
type Repository = repository.Repository[*Reminder, eventsourcing.SagaID]

// NewRepository creates a reminder repository on store. Reminders built by the repository use
// policy and the saga options, typically the command sender and the timeout requester.
func NewRepository(
	store eventstore.StreamStore,
	eventCodec repository.Codec,
	policy Policy,
	sagaOptions []eventsourcing.SagaOption,
	options ...repository.Option,
) (*Repository, error) {

	if err := policy.Validate(); err != nil {
		return nil, err
	}

	options = append([]repository.Option{repository.WithEntityType("Reminder")}, options...)

	return repository.New[*Reminder, eventsourcing.SagaID](store, eventCodec, NewFactory(policy, sagaOptions...), options...)
}

// Reactor feeds events into reminders and stores them.
//
// Side effects are issued before the reminder is saved. When the save conflicts, the whole
// attempt runs again on a freshly loaded reminder, so a command or timeout request can be issued
// more than once. Receivers must tolerate that.
type Reactor struct {
	repo         *Repository
	retryOptions []shell.RetryOption
	logger       *slog.Logger
}

// NewReactor creates a Reactor.
func NewReactor(repo *Repository, logger *slog.Logger, retryOptions ...shell.RetryOption) *Reactor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Reactor{repo: repo, retryOptions: retryOptions, logger: logger}
}

// React hands a counter event to the reminder of that counter, starting the reminder if needed.
func (r *Reactor) React(ctx context.Context, event eventsourcing.Event) error {
	counterID, ok := counterIDOf(event)
	if !ok {
		return ErrUnroutableEvent
	}

	return r.Deliver(ctx, SagaIDFor(counterID), event)
}

// Deliver hands event to the reminder sagaID. Its signature fits a timeout poller.
func (r *Reactor) Deliver(ctx context.Context, sagaID eventsourcing.SagaID, event eventsourcing.Event) error {
	if event == nil {
		return eventsourcing.ErrNilEvent
	}

	commitID := event.EventID().String()

	_, err := shell.RetryOnConflict(ctx, func(ctx context.Context) error {
		saga, found, err := r.repo.Find(ctx, sagaID)
		if err != nil {
			return err
		}

		if !found {
			saga = r.repo.New(sagaID)
		}

		if err = saga.Handle(ctx, event); err != nil {
			return err
		}

		return r.repo.Save(ctx, saga, commitID)
	}, r.retryOptions...)

	if errors.Is(err, eventstore.ErrDuplicateCommit) {
		r.logger.DebugContext(ctx, "reminder already handled event", "saga_id", sagaID.String(), "event_id", commitID)
		return nil
	}

	return err
}

func counterIDOf(event eventsourcing.Event) (string, bool) {
	switch e := event.(type) {
	case counter.Created:
		return e.CounterID, e.CounterID != ""
	case counter.Increased:
		return e.CounterID, e.CounterID != ""
	case counter.Decreased:
		return e.CounterID, e.CounterID != ""
	case Due:
		return e.CounterID, e.CounterID != ""
	default:
		return "", false
	}
}
