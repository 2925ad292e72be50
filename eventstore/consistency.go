package eventstore

import "context"

// ConsistencyLevel tells an engine where a stream may be read from.
// Commits and the version checks that guard them always use the primary.
type ConsistencyLevel int

const (
	// StrongConsistency reads streams from the primary. A repository that loads an instance,
	// decides and saves needs the version it saw to be the current one, otherwise the commit fails
	// with ErrConcurrencyConflict. It is the level of every context that carries none.
	StrongConsistency ConsistencyLevel = iota

	// EventualConsistency lets an engine read streams from a replica if it has one.
	// A replica may lag behind, so the loaded version can be stale.
	EventualConsistency
)

type consistencyKey struct{}

// WithStrongConsistency returns a context whose stream reads go to the primary,
// also when an outer caller asked for eventual consistency.
func WithStrongConsistency(ctx context.Context) context.Context {
	return context.WithValue(ctx, consistencyKey{}, StrongConsistency)
}

// WithEventualConsistency returns a context whose stream reads may go to a replica.
// Use it for lookups that only display or check existence:
//
//	ctx = eventstore.WithEventualConsistency(ctx)
//	exists, err := store.ExistsStream(ctx, key)
func WithEventualConsistency(ctx context.Context) context.Context {
	return context.WithValue(ctx, consistencyKey{}, EventualConsistency)
}

// GetConsistencyLevel returns the level carried by ctx, StrongConsistency if there is none.
func GetConsistencyLevel(ctx context.Context) ConsistencyLevel {
	if level, ok := ctx.Value(consistencyKey{}).(ConsistencyLevel); ok {
		return level
	}

	return StrongConsistency
}

// ReadsFromReplica reports whether a stream read with ctx may be served by a replica.
func ReadsFromReplica(ctx context.Context) bool {
	return GetConsistencyLevel(ctx) == EventualConsistency
}

// String returns "strong", "eventual" or "unknown", as logged by the engines.
func (c ConsistencyLevel) String() string {
	switch c {
	case StrongConsistency:
		return "strong"
	case EventualConsistency:
		return "eventual"
	default:
		return "unknown"
	}
}
