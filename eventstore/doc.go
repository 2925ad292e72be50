// Package eventstore defines the stream store boundary used by repositories of event-sourced
// aggregates and sagas, together with the types shared by all engine implementations.
//
// A stream is identified by a StreamKey (bucket and stream name). Its version is the number of
// commits it has; each commit is an atomic batch of StorableEvents tagged with a caller-supplied
// commit id. Writers state the version they based their decision on, and the engines enforce it
// as compare-and-swap, returning ErrConcurrencyConflict when someone else committed in between.
// Re-committing an id that is already part of the stream returns ErrDuplicateCommit.
//
// Key types:
//   - StreamStore: opens streams for reading and writing, creates new ones
//   - WritableStream: buffers appended events and commits them in one batch
//   - StorableEvent: the scalar DTO that is persisted
//
// Common usage pattern:
//
//	key := eventstore.NewStreamKey(eventstore.DefaultBucket, "Counter:42")
//
//	stream, err := store.OpenStreamForReading(ctx, key)
//	if err != nil {
//		// handle error
//	}
//
//	writable, err := store.OpenStreamForWriting(ctx, key, stream.Version)
//	_ = writable.Append(storableEvent)
//	err = writable.Commit(ctx, commitID)
//	if errors.Is(err, eventstore.ErrConcurrencyConflict) {
//		// reload and retry
//	}
//
// Engines live in the subpackages postgresengine, sqliteengine and memoryengine.
package eventstore
