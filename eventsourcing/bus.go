package eventsourcing

// Bus receives the pending changes of an aggregate or saga during Persist, one event at a time and in order.
type Bus interface {
	Store(event Event) error
}

// BusFunc adapts an ordinary function to the Bus interface.
type BusFunc func(event Event) error

// Store calls f(event).
func (f BusFunc) Store(event Event) error {
	return f(event)
}
