package eventsourcing

import (
	"context"

	"github.com/AntonStoeckl/eventsourced-entities-go/eventsourcing/dispatch"
)

// Root is embedded by event-sourced aggregates. R is the aggregate type the handlers are bound to.
//
// The zero value is not usable; construct it with NewRoot.
type Root[R any] struct {
	engine engine[R]
}

// NewRoot binds receiver to the handlers of table.
func NewRoot[R any](receiver R, table *dispatch.Table[R]) Root[R] {
	return Root[R]{engine: newEngine(receiver, table)}
}

// Apply records event as a pending change and routes it to the aggregate's handler.
// If the handler fails, the event stays recorded and the instance must be discarded.
func (r *Root[R]) Apply(event Event) error {
	if event == nil {
		return ErrNilEvent
	}

	r.engine.record(event)

	return r.engine.route(context.Background(), event)
}

// Load rebuilds the state from the historic events of a stream at the given version.
// It fails with ErrInvalidReplayState unless the instance is fresh.
func (r *Root[R]) Load(ctx context.Context, version uint64, events []Event) error {
	return r.engine.replay(ctx, version, events, r.engine.route)
}

// Persist hands all pending changes to bus in the order they were applied, clears them
// and increases the version by one. Without pending changes it does nothing.
func (r *Root[R]) Persist(bus Bus) error {
	return r.engine.persist(bus)
}

// Version returns the number of commits the instance is based on.
func (r *Root[R]) Version() uint64 {
	return r.engine.version
}

// PendingChanges returns a copy of the events applied since the last Persist.
func (r *Root[R]) PendingChanges() []Event {
	return r.engine.pendingChanges()
}

// HasPendingChanges reports whether there is anything to persist.
func (r *Root[R]) HasPendingChanges() bool {
	return len(r.engine.changes) > 0
}
