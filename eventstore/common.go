package eventstore

import (
	"errors"
)

// DefaultBucket is the bucket streams live in unless the caller chooses another one.
const DefaultBucket = "DEFAULT"

var (
	// ErrConcurrencyConflict is returned when a stream was written by someone else since it was read.
	// It is recoverable by reloading, reapplying and retrying.
	ErrConcurrencyConflict = errors.New("concurrency conflict, the stream version does not match the expected version")

	// ErrDuplicateCommit is returned when a commit id was already committed to the stream.
	// Retrying with the same commit id will fail again.
	ErrDuplicateCommit = errors.New("duplicate commit, the commit id was already committed to the stream")

	// ErrStreamNotFound is returned when a stream that must exist has no commits.
	ErrStreamNotFound = errors.New("stream not found")

	// ErrStreamAlreadyExists is returned when a stream that must be new already has commits.
	ErrStreamAlreadyExists = errors.New("stream already exists")

	// ErrEmptyStreamName is returned when a stream key has no stream name.
	ErrEmptyStreamName = errors.New("stream name must not be empty")

	// ErrEmptyBucket is returned when a stream key has no bucket.
	ErrEmptyBucket = errors.New("bucket must not be empty")

	// ErrEmptyCommitID is returned when a commit is attempted without a commit id.
	ErrEmptyCommitID = errors.New("commit id must not be empty")

	// ErrNothingToCommit is returned when a commit is attempted without appended events.
	ErrNothingToCommit = errors.New("no events were appended to the stream")

	// ErrStreamAlreadyCommitted is returned when a writable stream is used after its commit.
	ErrStreamAlreadyCommitted = errors.New("writable stream was already committed")

	// ErrNilDatabaseConnection is returned when an engine is constructed without a database connection.
	ErrNilDatabaseConnection = errors.New("database connection must not be nil")

	// ErrEmptyEventsTableName is returned when an empty table name is configured.
	ErrEmptyEventsTableName = errors.New("events table name must not be empty")

	// ErrQueryingEventsFailed is returned when reading a stream from the database fails.
	ErrQueryingEventsFailed = errors.New("querying events failed")

	// ErrScanningDBRowFailed is returned when a database row cannot be scanned.
	ErrScanningDBRowFailed = errors.New("scanning db row failed")

	// ErrBuildingStorableEventFailed is returned when a database row does not form a valid StorableEvent.
	ErrBuildingStorableEventFailed = errors.New("building storable event failed")

	// ErrBuildingQueryFailed is returned when an SQL statement cannot be built.
	ErrBuildingQueryFailed = errors.New("building query failed")

	// ErrAppendingEventFailed is returned when writing a commit to the database fails.
	ErrAppendingEventFailed = errors.New("appending events failed")

	// ErrGettingRowsAffectedFailed is returned when the affected row count of a commit is unavailable.
	ErrGettingRowsAffectedFailed = errors.New("getting rows affected failed")
)
