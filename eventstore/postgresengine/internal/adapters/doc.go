// Package adapters provides the database adapters of the PostgreSQL stream store.
//
// pgxpool.Pool, sql.DB and sqlx.DB are supported behind the common DBAdapter interface.
// Reads carrying eventstore.EventualConsistency in their context go to the replica pool if one is configured,
// everything else goes to the primary.
package adapters
