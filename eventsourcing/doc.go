// Package eventsourcing provides the runtime for event-sourced aggregates and sagas.
//
// An aggregate embeds Root and rebuilds its state by replaying its historic events through a dispatch.Table.
// New events are recorded with Apply, which appends them to the pending changes and immediately routes
// them to the aggregate's own handlers. Persist hands the pending changes to a Bus in production order and
// advances the version by exactly one commit.
//
// A saga embeds Saga. It reacts to events from other aggregates via Handle, which is idempotent per
// event identity, and reaches the outside world through a CommandSender and a TimeoutRequester.
//
// Both share one state machine: version, ordered pending changes and a replay flag that is set while
// historic events are loaded. Instances are single-writer; conflicting writers are detected by the
// optimistic concurrency check of the stream store, never by locks in this package.
//
// Common usage pattern:
//
//	type Counter struct {
//		eventsourcing.Root[*Counter]
//		id    CounterID
//		value int
//	}
//
//	var counterRoutes = dispatch.NewTable[*Counter]()
//
//	func NewCounter(id CounterID) *Counter {
//		c := &Counter{id: id}
//		c.Root = eventsourcing.NewRoot(c, counterRoutes)
//		return c
//	}
//
//	err := counter.Apply(Increased{By: 5})
//	err = counter.Persist(bus)
package eventsourcing
