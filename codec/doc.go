// Package codec maps domain events to eventstore.StorableEvent and back.
//
// Events are registered by their EventType name. Decoding yields the exact runtime type that
// was registered, which is what the dispatch tables of aggregates and sagas route on.
package codec
