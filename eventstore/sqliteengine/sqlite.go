// Package sqliteengine implements eventstore.StreamStore on SQLite through modernc.org/sqlite.
//
// Each commit runs in its own transaction: it reads the current stream version, checks the commit id
// and inserts all events of the commit. The unique constraints of the schema catch writers that race
// past the version check on another connection.
package sqliteengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3" // dialect registration
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore"
	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore/internal/instrumentation"
)

const (
	defaultEventTableName = "events"
	driverName            = "sqlite"
	dialectSQLite         = "sqlite3"

	colSequenceNumber = "sequence_number"
	colBucketID       = "bucket_id"
	colStreamID       = "stream_id"
	colStreamVersion  = "stream_version"
	colCommitID       = "commit_id"
	colCommitSequence = "commit_sequence"
	colEventType      = "event_type"
	colOccurredAt     = "occurred_at"
	colPayload        = "payload"
	colMetadata       = "metadata"
	aliasVersion      = "version"
	aliasCount        = "cnt"

	logMsgBuildQueryFailed         = "failed to build query"
	logMsgDBQueryFailed            = "database query execution failed"
	logMsgScanRowFailed            = "failed to scan database row"
	logMsgBuildStorableEventFailed = "failed to build storable event from database row"
	logMsgDBExecFailed             = "database execution failed during commit"
	logMsgRollbackFailed           = "failed to roll back transaction"
	logMsgCloseRowsFailed          = "failed to close database rows"
	logMsgStreamRead               = "stream read"
	logMsgCommitted                = "commit"
	logMsgConcurrencyConflict      = "concurrency conflict detected"
	logMsgDuplicateCommit          = "duplicate commit detected"
	logActionRead                  = "read"
	logActionVersion               = "version"
	logActionDuplicate             = "duplicate check"
	logActionCommit                = "commit"
	logAttrStream                  = "stream"
	logAttrCommitID                = "commit_id"
	logAttrEventCount              = "event_count"
	logAttrEventType               = "event_type"
	logAttrVersion                 = "version"
	logAttrExpectedVersion         = "expected_version"
	logAttrActualVersion           = "actual_version"
	logAttrDurationMS              = "duration_ms"
)

// ErrMigrationFailed is returned when the schema cannot be created.
var ErrMigrationFailed = errors.New("sqlite schema migration failed")

// EventStore is a stream store on a SQLite database.
type EventStore struct {
	db        *sql.DB
	tableName string
	ins       *instrumentation.Instruments
}

// NewEventStore creates an EventStore on an open database handle. It does not create the schema, see Migrate.
func NewEventStore(db *sql.DB, options ...Option) (*EventStore, error) {
	if db == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	cfg := config{tableName: defaultEventTableName}
	for _, option := range options {
		if err := option(&cfg); err != nil {
			return nil, err
		}
	}

	return &EventStore{
		db:        db,
		tableName: cfg.tableName,
		ins:       instrumentation.New(cfg.observers),
	}, nil
}

// Open opens the SQLite database at path, creates the schema and returns the EventStore.
// The special path ":memory:" opens a private in-memory database on a single connection.
func Open(ctx context.Context, path string, options ...Option) (*EventStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}

	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	es, err := NewEventStore(db, options...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	if err = es.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return es, nil
}

// Close closes the underlying database handle.
func (es *EventStore) Close() error {
	if es == nil || es.db == nil {
		return nil
	}

	return es.db.Close()
}

func (es *EventStore) builder() goqu.DialectWrapper {
	return goqu.Dialect(dialectSQLite)
}

// OpenStreamForReading returns all events of the stream ordered by their global sequence number.
func (es *EventStore) OpenStreamForReading(ctx context.Context, key eventstore.StreamKey) (eventstore.ReadableStream, error) {
	if err := precheck(ctx, key); err != nil {
		return eventstore.ReadableStream{}, err
	}

	observation, ctx := es.ins.StartRead(ctx, key)

	stream, err := es.readStream(ctx, key)
	if err != nil {
		observation.Failure(err)
		return eventstore.ReadableStream{}, err
	}

	observation.Success(len(stream.Events), stream.Version)

	return stream, nil
}

func (es *EventStore) readStream(ctx context.Context, key eventstore.StreamKey) (eventstore.ReadableStream, error) {
	sqlQuery, args, toSQLErr := es.builder().
		From(es.tableName).
		Prepared(true).
		Select(colEventType, colOccurredAt, colPayload, colMetadata, colStreamVersion).
		Where(goqu.Ex{colBucketID: key.Bucket, colStreamID: key.Name}).
		Order(goqu.I(colSequenceNumber).Asc()).
		ToSQL()
	if toSQLErr != nil {
		es.ins.LogError(ctx, logMsgBuildQueryFailed, toSQLErr)
		return eventstore.ReadableStream{}, errors.Join(eventstore.ErrBuildingQueryFailed, toSQLErr)
	}

	start := time.Now()
	rows, queryErr := es.db.QueryContext(ctx, sqlQuery, args...)
	es.ins.LogSQL(ctx, sqlQuery, logActionRead, time.Since(start))

	if queryErr != nil {
		es.ins.LogError(ctx, logMsgDBQueryFailed, queryErr, logAttrStream, key.String())
		return eventstore.ReadableStream{}, errors.Join(eventstore.ErrQueryingEventsFailed, queryErr)
	}
	defer es.closeRows(ctx, rows)

	stream := eventstore.ReadableStream{Key: key, Events: make(eventstore.StorableEvents, 0)}

	for rows.Next() {
		var (
			eventType  string
			occurredAt int64
			payload    []byte
			metadata   []byte
			version    int64
		)

		if scanErr := rows.Scan(&eventType, &occurredAt, &payload, &metadata, &version); scanErr != nil {
			es.ins.LogError(ctx, logMsgScanRowFailed, scanErr)
			return eventstore.ReadableStream{}, errors.Join(eventstore.ErrScanningDBRowFailed, scanErr)
		}

		event, buildErr := eventstore.BuildStorableEvent(eventType, time.Unix(0, occurredAt).UTC(), payload, metadata)
		if buildErr != nil {
			es.ins.LogError(ctx, logMsgBuildStorableEventFailed, buildErr, logAttrEventType, eventType)
			return eventstore.ReadableStream{}, errors.Join(eventstore.ErrBuildingStorableEventFailed, buildErr)
		}

		stream.Events = append(stream.Events, event)
		stream.Version = uint64(version)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		es.ins.LogError(ctx, logMsgDBQueryFailed, rowsErr, logAttrStream, key.String())
		return eventstore.ReadableStream{}, errors.Join(eventstore.ErrQueryingEventsFailed, rowsErr)
	}

	if len(stream.Events) == 0 {
		return eventstore.ReadableStream{}, eventstore.ErrStreamNotFound
	}

	es.ins.LogOperation(ctx, logMsgStreamRead, logAttrStream, key.String(), logAttrEventCount, len(stream.Events))

	return stream, nil
}

// CreateStream returns a writable stream whose commit fails with ErrStreamAlreadyExists if the stream has commits by then.
func (es *EventStore) CreateStream(ctx context.Context, key eventstore.StreamKey) (*eventstore.WritableStream, error) {
	if err := precheck(ctx, key); err != nil {
		return nil, err
	}

	return eventstore.NewCreatableStream(es, key), nil
}

// OpenStreamForWriting checks the current version of the stream and returns a writable stream at expectedVersion.
func (es *EventStore) OpenStreamForWriting(
	ctx context.Context,
	key eventstore.StreamKey,
	expectedVersion uint64,
) (*eventstore.WritableStream, error) {

	if err := precheck(ctx, key); err != nil {
		return nil, err
	}

	version, err := es.currentVersion(ctx, es.db, key)
	if err != nil {
		return nil, err
	}

	if version == 0 {
		return nil, eventstore.ErrStreamNotFound
	}

	if version != expectedVersion {
		return nil, eventstore.ErrConcurrencyConflict
	}

	return eventstore.NewWritableStream(es, key, expectedVersion), nil
}

// ExistsStream reports whether the stream has at least one commit.
func (es *EventStore) ExistsStream(ctx context.Context, key eventstore.StreamKey) (bool, error) {
	if err := precheck(ctx, key); err != nil {
		return false, err
	}

	observation, ctx := es.ins.StartExists(ctx, key)

	version, err := es.currentVersion(ctx, es.db, key)
	if err != nil {
		observation.Failure(err)
		return false, err
	}

	observation.Success(0, version)

	return version > 0, nil
}

// CommitStream writes the commit in one transaction if the stream is still at the expected version.
func (es *EventStore) CommitStream(ctx context.Context, commit eventstore.Commit) error {
	if err := precheck(ctx, commit.Key); err != nil {
		return err
	}

	observation, ctx := es.ins.StartCommit(ctx, commit)

	start := time.Now()
	if err := es.commit(ctx, commit); err != nil {
		observation.Failure(err)
		return err
	}

	observation.Success(len(commit.Events), commit.NewVersion())

	es.ins.LogOperation(
		ctx,
		logMsgCommitted,
		logAttrStream, commit.Key.String(),
		logAttrCommitID, commit.CommitID,
		logAttrEventCount, len(commit.Events),
		logAttrVersion, commit.NewVersion(),
		logAttrDurationMS, instrumentation.ToMilliseconds(time.Since(start)),
	)

	return nil
}

func (es *EventStore) commit(ctx context.Context, commit eventstore.Commit) (err error) {
	tx, beginErr := es.db.BeginTx(ctx, nil)
	if beginErr != nil {
		es.ins.LogError(ctx, logMsgDBExecFailed, beginErr)
		return errors.Join(eventstore.ErrAppendingEventFailed, beginErr)
	}

	defer func() {
		if err == nil {
			return
		}

		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			es.ins.LogWarn(ctx, logMsgRollbackFailed, rollbackErr)
		}
	}()

	duplicate, err := es.commitExists(ctx, tx, commit)
	if err != nil {
		return err
	}

	if duplicate {
		es.ins.LogOperation(ctx, logMsgDuplicateCommit, logAttrStream, commit.Key.String(), logAttrCommitID, commit.CommitID)
		return eventstore.ErrDuplicateCommit
	}

	version, err := es.currentVersion(ctx, tx, commit.Key)
	if err != nil {
		return err
	}

	if version != commit.ExpectedVersion {
		es.ins.LogOperation(
			ctx,
			logMsgConcurrencyConflict,
			logAttrStream, commit.Key.String(),
			logAttrExpectedVersion, commit.ExpectedVersion,
			logAttrActualVersion, version,
		)

		return conflictError(commit)
	}

	if err = es.insertCommit(ctx, tx, commit); err != nil {
		return err
	}

	if commitErr := tx.Commit(); commitErr != nil {
		es.ins.LogError(ctx, logMsgDBExecFailed, commitErr)
		return mapWriteError(commit, commitErr)
	}

	return nil
}

func (es *EventStore) insertCommit(ctx context.Context, tx *sql.Tx, commit eventstore.Commit) error {
	records := make([]any, 0, len(commit.Events))
	for i, event := range commit.Events {
		records = append(records, goqu.Record{
			colBucketID:       commit.Key.Bucket,
			colStreamID:       commit.Key.Name,
			colStreamVersion:  commit.NewVersion(),
			colCommitID:       commit.CommitID,
			colCommitSequence: i,
			colEventType:      event.EventType,
			colOccurredAt:     event.OccurredAt.UTC().UnixNano(),
			colPayload:        string(event.PayloadJSON),
			colMetadata:       string(event.MetadataJSON),
		})
	}

	sqlQuery, args, toSQLErr := es.builder().
		Insert(es.tableName).
		Prepared(true).
		Rows(records...).
		ToSQL()
	if toSQLErr != nil {
		es.ins.LogError(ctx, logMsgBuildQueryFailed, toSQLErr, logAttrEventCount, len(commit.Events))
		return errors.Join(eventstore.ErrBuildingQueryFailed, toSQLErr)
	}

	start := time.Now()
	result, execErr := tx.ExecContext(ctx, sqlQuery, args...)
	es.ins.LogSQL(ctx, sqlQuery, logActionCommit, time.Since(start))

	if execErr != nil {
		es.ins.LogError(ctx, logMsgDBExecFailed, execErr, logAttrStream, commit.Key.String())
		return mapWriteError(commit, execErr)
	}

	rowsAffected, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return errors.Join(eventstore.ErrGettingRowsAffectedFailed, rowsErr)
	}

	if rowsAffected != int64(len(commit.Events)) {
		return conflictError(commit)
	}

	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (es *EventStore) currentVersion(ctx context.Context, db queryer, key eventstore.StreamKey) (uint64, error) {
	sqlQuery, args, toSQLErr := es.builder().
		From(es.tableName).
		Prepared(true).
		Select(goqu.COALESCE(goqu.MAX(colStreamVersion), 0).As(aliasVersion)).
		Where(goqu.Ex{colBucketID: key.Bucket, colStreamID: key.Name}).
		ToSQL()
	if toSQLErr != nil {
		es.ins.LogError(ctx, logMsgBuildQueryFailed, toSQLErr)
		return 0, errors.Join(eventstore.ErrBuildingQueryFailed, toSQLErr)
	}

	var version int64

	start := time.Now()
	scanErr := db.QueryRowContext(ctx, sqlQuery, args...).Scan(&version)
	es.ins.LogSQL(ctx, sqlQuery, logActionVersion, time.Since(start))

	if scanErr != nil {
		es.ins.LogError(ctx, logMsgDBQueryFailed, scanErr, logAttrStream, key.String())
		return 0, errors.Join(eventstore.ErrQueryingEventsFailed, scanErr)
	}

	return uint64(version), nil
}

func (es *EventStore) commitExists(ctx context.Context, db queryer, commit eventstore.Commit) (bool, error) {
	sqlQuery, args, toSQLErr := es.builder().
		From(es.tableName).
		Prepared(true).
		Select(goqu.COUNT(goqu.Star()).As(aliasCount)).
		Where(goqu.Ex{colBucketID: commit.Key.Bucket, colStreamID: commit.Key.Name, colCommitID: commit.CommitID}).
		ToSQL()
	if toSQLErr != nil {
		es.ins.LogError(ctx, logMsgBuildQueryFailed, toSQLErr)
		return false, errors.Join(eventstore.ErrBuildingQueryFailed, toSQLErr)
	}

	var count int64

	start := time.Now()
	scanErr := db.QueryRowContext(ctx, sqlQuery, args...).Scan(&count)
	es.ins.LogSQL(ctx, sqlQuery, logActionDuplicate, time.Since(start))

	if scanErr != nil {
		es.ins.LogError(ctx, logMsgDBQueryFailed, scanErr, logAttrStream, commit.Key.String())
		return false, errors.Join(eventstore.ErrQueryingEventsFailed, scanErr)
	}

	return count > 0, nil
}

func (es *EventStore) closeRows(ctx context.Context, rows *sql.Rows) {
	if closeErr := rows.Close(); closeErr != nil {
		es.ins.LogWarn(ctx, logMsgCloseRowsFailed, closeErr)
	}
}

func precheck(ctx context.Context, key eventstore.StreamKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return key.Validate()
}

func conflictError(commit eventstore.Commit) error {
	if commit.MustCreate {
		return eventstore.ErrStreamAlreadyExists
	}

	return eventstore.ErrConcurrencyConflict
}

// mapWriteError turns unique constraint violations of a racing writer into the stream store errors.
func mapWriteError(commit eventstore.Commit, err error) error {
	if isConstraintError(err) {
		if strings.Contains(strings.ToLower(err.Error()), colCommitID) {
			return eventstore.ErrDuplicateCommit
		}

		return conflictError(commit)
	}

	return errors.Join(eventstore.ErrAppendingEventFailed, err)
}

func isConstraintError(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}

	switch sqliteErr.Code() {
	case sqlite3lib.SQLITE_CONSTRAINT, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE, sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	default:
		return false
	}
}

var _ eventstore.StreamStore = (*EventStore)(nil)
var _ eventstore.Committer = (*EventStore)(nil)
