// Package postgresengine provides a PostgreSQL implementation of eventstore.StreamStore.
//
// Every event row carries its bucket, stream, the version of the stream after its commit, the commit id
// and its position inside the commit. A commit is a single INSERT ... SELECT statement guarded by the
// current stream version, so it either writes all events of the commit or none.
//
// Key features:
//   - Multiple database adapter support (PGX, SQL, SQLX)
//   - Optional replica pool for eventually consistent reads (see eventstore.WithEventualConsistency)
//   - Duplicate commit detection
//   - Configurable table name, logging, metrics and tracing
//
// Usage examples:
//
//	db, _ := pgxpool.New(context.Background(), dsn)
//	store, _ := postgresengine.NewEventStoreFromPGXPool(db, postgresengine.WithLogger(logger))
//	_ = store.Migrate(ctx)
//
//	stream, _ := store.OpenStreamForWriting(ctx, key, 3)
//	_ = stream.Append(event)
//	err := stream.Commit(ctx, commitID)
package postgresengine
