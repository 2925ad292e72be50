package eventsourcing

import (
	"context"
	"errors"

	"github.com/AntonStoeckl/eventsourced-entities-go/eventsourcing/dispatch"
)

var errNoDispatchTable = errors.Join(ErrValidation, errors.New("instance was not constructed with a dispatch table"))

// engine is the state machine shared by Root and Saga.
// The pending changes are an append-only buffer that only persist clears.
type engine[R any] struct {
	receiver  R
	table     *dispatch.Table[R]
	version   uint64
	changes   []Event
	replaying bool
	loaded    bool // set by the first replay, also when it fails
}

func newEngine[R any](receiver R, table *dispatch.Table[R]) engine[R] {
	return engine[R]{receiver: receiver, table: table}
}

func (e *engine[R]) fresh() bool {
	return e.version == 0 && len(e.changes) == 0 && !e.loaded
}

func (e *engine[R]) record(event Event) {
	e.changes = append(e.changes, event)
}

func (e *engine[R]) route(ctx context.Context, event Event) error {
	if e.table == nil {
		return errNoDispatchTable
	}

	return e.table.Route(ctx, e.receiver, event)
}

// replay feeds historic events through apply in list order with the replay flag set
// and sets the version afterward. It requires a fresh instance. A failed replay leaves partial state
// behind, so the instance is no longer fresh afterward and must be discarded.
func (e *engine[R]) replay(
	ctx context.Context,
	version uint64,
	events []Event,
	apply func(context.Context, Event) error,
) error {

	if !e.fresh() {
		return ErrInvalidReplayState
	}

	e.loaded = true
	e.replaying = true
	defer func() { e.replaying = false }()

	for _, event := range events {
		if event == nil {
			return ErrNilEvent
		}

		if err := apply(ctx, event); err != nil {
			return err
		}
	}

	e.version = version

	return nil
}

// persist stores the pending changes in order. Without pending changes the bus is not called and the
// version stays the same. A failing bus leaves changes and version untouched.
func (e *engine[R]) persist(bus Bus) error {
	if bus == nil {
		return ErrNilBus
	}

	if len(e.changes) == 0 {
		return nil
	}

	for _, event := range e.changes {
		if err := bus.Store(event); err != nil {
			return err
		}
	}

	clear(e.changes)
	e.changes = e.changes[:0]
	e.version++

	return nil
}

func (e *engine[R]) pendingChanges() []Event {
	changes := make([]Event, len(e.changes))
	copy(changes, e.changes)

	return changes
}
