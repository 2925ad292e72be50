// Package repository loads and stores event-sourced aggregates and sagas through an eventstore.StreamStore.
//
// Every instance lives in its own stream. The stream name is derived from the entity type and the
// identity by a StreamNamer; the default is CanonicalNamer.
//
// The repository never retries. ErrConcurrencyConflict and ErrDuplicateCommit from the store are
// returned unmodified, and the instance must be discarded and reloaded afterward.
// See shell.RetryOnConflict for a reload-and-retry loop.
package repository
