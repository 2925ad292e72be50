package postgresengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // driver import
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore"
	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore/internal/instrumentation"
	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore/postgresengine/internal/adapters"
)

const (
	defaultEventTableName          = "events"
	logMsgBuildSelectQueryFailed   = "failed to build select query"
	logMsgBuildInsertQueryFailed   = "failed to build insert query"
	logMsgDBQueryFailed            = "database query execution failed"
	logMsgCloseRowsFailed          = "failed to close database rows"
	logMsgScanRowFailed            = "failed to scan database row"
	logMsgBuildStorableEventFailed = "failed to build storable event from database row"
	logMsgDBExecFailed             = "database execution failed during commit"
	logMsgRowsAffectedFailed       = "failed to get rows affected count"
	logMsgStreamRead               = "stream read"
	logMsgCommitted                = "commit"
	logMsgConcurrencyConflict      = "concurrency conflict detected"
	logMsgDuplicateCommit          = "duplicate commit detected"
	logAttrStream                  = "stream"
	logAttrCommitID                = "commit_id"
	logAttrEventType               = "event_type"
	logAttrEventCount              = "event_count"
	logAttrVersion                 = "version"
	logAttrDurationMS              = "duration_ms"
	logAttrExpectedVersion         = "expected_version"
	logAttrRowsAffected            = "rows_affected"
	logAttrConsistency             = "consistency"
	logActionRead                  = "read"
	logActionVersion               = "version"
	logActionDuplicate             = "duplicate check"
	logActionCommit                = "commit"
	colSequenceNumber              = "sequence_number"
	colBucketID                    = "bucket_id"
	colStreamID                    = "stream_id"
	colStreamVersion               = "stream_version"
	colCommitID                    = "commit_id"
	colCommitSequence              = "commit_sequence"
	colEventType                   = "event_type"
	colOccurredAt                  = "occurred_at"
	colPayload                     = "payload"
	colMetadata                    = "metadata"
	cteContext                     = "context"
	cteDuplicates                  = "duplicates"
	cteVals                        = "vals"
	dialectPostgres                = "postgres"
	aliasMaxVersion                = "max_version"
	aliasDuplicateCount            = "duplicate_count"
	castText                       = "?::text"
	castBigint                     = "?::bigint"
	castInteger                    = "?::integer"
	castTimestamp                  = "?::timestamp with time zone"
	castJsonb                      = "?::jsonb"
	pgUniqueViolation              = "23505"
)

type sqlQueryString = string

var insertColumns = []string{
	colBucketID, colStreamID, colStreamVersion, colCommitID, colCommitSequence,
	colEventType, colOccurredAt, colPayload, colMetadata,
}

// EventStore is a stream store on PostgreSQL.
// It works with any of the supported database connection types through a database adapter.
type EventStore struct {
	db             adapters.DBAdapter
	eventTableName string
	ins            *instrumentation.Instruments
}

// NewEventStoreFromPGXPool creates a new EventStore using a pgx Pool with optional configuration.
func NewEventStoreFromPGXPool(db *pgxpool.Pool, options ...Option) (*EventStore, error) {
	if db == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	return newEventStore(adapters.NewPGXAdapter(db), options...)
}

// NewEventStoreFromPGXPoolAndReplica creates a new EventStore using a primary and a replica pgx Pool.
// Reads whose context carries eventstore.EventualConsistency go to the replica.
func NewEventStoreFromPGXPoolAndReplica(primary *pgxpool.Pool, replica *pgxpool.Pool, options ...Option) (*EventStore, error) {
	if primary == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	if replica == nil {
		return newEventStore(adapters.NewPGXAdapter(primary), options...)
	}

	return newEventStore(adapters.NewPGXAdapterWithReplica(primary, replica), options...)
}

// NewEventStoreFromSQLDB creates a new EventStore using a sql.DB with optional configuration.
func NewEventStoreFromSQLDB(db *sql.DB, options ...Option) (*EventStore, error) {
	if db == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	return newEventStore(adapters.NewSQLAdapter(db, nil), options...)
}

// NewEventStoreFromSQLDBAndReplica is NewEventStoreFromSQLDB with a replica for eventually consistent reads.
func NewEventStoreFromSQLDBAndReplica(primary *sql.DB, replica *sql.DB, options ...Option) (*EventStore, error) {
	if primary == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	return newEventStore(adapters.NewSQLAdapter(primary, replica), options...)
}

// NewEventStoreFromSQLX creates a new EventStore using a sqlx.DB with optional configuration.
func NewEventStoreFromSQLX(db *sqlx.DB, options ...Option) (*EventStore, error) {
	if db == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	return newEventStore(adapters.NewSQLXAdapter(db, nil), options...)
}

// NewEventStoreFromSQLXAndReplica is NewEventStoreFromSQLX with a replica for eventually consistent reads.
func NewEventStoreFromSQLXAndReplica(primary *sqlx.DB, replica *sqlx.DB, options ...Option) (*EventStore, error) {
	if primary == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	return newEventStore(adapters.NewSQLXAdapter(primary, replica), options...)
}

func newEventStore(db adapters.DBAdapter, options ...Option) (*EventStore, error) {
	cfg := config{eventTableName: defaultEventTableName}

	for _, option := range options {
		if err := option(&cfg); err != nil {
			return nil, err
		}
	}

	return &EventStore{
		db:             db,
		eventTableName: cfg.eventTableName,
		ins:            instrumentation.New(cfg.observers),
	}, nil
}

// OpenStreamForReading returns all events of the stream ordered by their global sequence number.
//
// The read goes to the primary unless the context asks for eventual consistency and a replica is configured.
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
	sqlQuery, buildErr := es.buildSelectStreamQuery(key)
	if buildErr != nil {
		es.ins.LogError(ctx, logMsgBuildSelectQueryFailed, buildErr)
		return eventstore.ReadableStream{}, buildErr
	}

	rows, duration, queryErr := es.executeQuery(ctx, sqlQuery, logActionRead, key)
	if queryErr != nil {
		return eventstore.ReadableStream{}, queryErr
	}
	defer es.closeRows(ctx, rows)

	stream := eventstore.ReadableStream{Key: key, Events: make(eventstore.StorableEvents, 0)}

	for rows.Next() {
		var (
			eventType  string
			occurredAt time.Time
			payload    []byte
			metadata   []byte
			version    int64
		)

		if scanErr := rows.Scan(&eventType, &occurredAt, &payload, &metadata, &version); scanErr != nil {
			es.ins.LogError(ctx, logMsgScanRowFailed, scanErr)
			return eventstore.ReadableStream{}, errors.Join(eventstore.ErrScanningDBRowFailed, scanErr)
		}

		event, buildStorableErr := eventstore.BuildStorableEvent(eventType, occurredAt, payload, metadata)
		if buildStorableErr != nil {
			es.ins.LogError(ctx, logMsgBuildStorableEventFailed, buildStorableErr, logAttrEventType, eventType)
			return eventstore.ReadableStream{}, errors.Join(eventstore.ErrBuildingStorableEventFailed, buildStorableErr)
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

	es.ins.LogOperation(
		ctx,
		logMsgStreamRead,
		logAttrStream, key.String(),
		logAttrEventCount, len(stream.Events),
		logAttrConsistency, eventstore.GetConsistencyLevel(ctx).String(),
		logAttrDurationMS, instrumentation.ToMilliseconds(duration),
	)

	return stream, nil
}

// CreateStream returns a writable stream whose commit fails with ErrStreamAlreadyExists if the stream has commits by then.
func (es *EventStore) CreateStream(ctx context.Context, key eventstore.StreamKey) (*eventstore.WritableStream, error) {
	if err := precheck(ctx, key); err != nil {
		return nil, err
	}

	return eventstore.NewCreatableStream(es, key), nil
}

// OpenStreamForWriting checks the current version of the stream on the primary and returns a writable stream.
func (es *EventStore) OpenStreamForWriting(
	ctx context.Context,
	key eventstore.StreamKey,
	expectedVersion uint64,
) (*eventstore.WritableStream, error) {

	if err := precheck(ctx, key); err != nil {
		return nil, err
	}

	version, err := es.currentVersion(eventstore.WithStrongConsistency(ctx), key)
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

	version, err := es.currentVersion(ctx, key)
	if err != nil {
		observation.Failure(err)
		return false, err
	}

	observation.Success(0, version)

	return version > 0, nil
}

// CommitStream appends all events of the commit atomically if the stream is still at the expected version
// and the commit id is not yet part of the stream.
func (es *EventStore) CommitStream(ctx context.Context, commit eventstore.Commit) error {
	if err := precheck(ctx, commit.Key); err != nil {
		return err
	}

	observation, ctx := es.ins.StartCommit(ctx, commit)

	duration, err := es.commit(ctx, commit)
	if err != nil {
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
		logAttrDurationMS, instrumentation.ToMilliseconds(duration),
	)

	return nil
}

func (es *EventStore) commit(ctx context.Context, commit eventstore.Commit) (time.Duration, error) {
	sqlQuery, buildErr := es.buildInsertCommitQuery(commit)
	if buildErr != nil {
		es.ins.LogError(ctx, logMsgBuildInsertQueryFailed, buildErr, logAttrEventCount, len(commit.Events))
		return 0, buildErr
	}

	start := time.Now()
	result, execErr := es.db.Exec(ctx, sqlQuery)
	duration := time.Since(start)
	es.ins.LogSQL(ctx, sqlQuery, logActionCommit, duration)

	if execErr != nil {
		es.ins.LogError(ctx, logMsgDBExecFailed, execErr, logAttrStream, commit.Key.String())
		return duration, mapWriteError(commit, execErr)
	}

	rowsAffected, rowsAffectedErr := result.RowsAffected()
	if rowsAffectedErr != nil {
		es.ins.LogError(ctx, logMsgRowsAffectedFailed, rowsAffectedErr)
		return duration, errors.Join(eventstore.ErrGettingRowsAffectedFailed, rowsAffectedErr)
	}

	if rowsAffected == int64(len(commit.Events)) {
		return duration, nil
	}

	return duration, es.explainRejectedCommit(ctx, commit, rowsAffected)
}

// explainRejectedCommit tells a duplicate commit apart from a version mismatch after the guarded insert wrote nothing.
func (es *EventStore) explainRejectedCommit(ctx context.Context, commit eventstore.Commit, rowsAffected int64) error {
	ctx = eventstore.WithStrongConsistency(ctx)

	duplicate, err := es.commitExists(ctx, commit)
	if err != nil {
		return err
	}

	if duplicate {
		es.ins.LogOperation(ctx, logMsgDuplicateCommit, logAttrStream, commit.Key.String(), logAttrCommitID, commit.CommitID)
		return eventstore.ErrDuplicateCommit
	}

	es.ins.LogOperation(
		ctx,
		logMsgConcurrencyConflict,
		logAttrStream, commit.Key.String(),
		logAttrExpectedVersion, commit.ExpectedVersion,
		logAttrRowsAffected, rowsAffected,
	)

	return conflictError(commit)
}

func (es *EventStore) currentVersion(ctx context.Context, key eventstore.StreamKey) (uint64, error) {
	sqlQuery, buildErr := es.buildVersionQuery(key)
	if buildErr != nil {
		es.ins.LogError(ctx, logMsgBuildSelectQueryFailed, buildErr)
		return 0, buildErr
	}

	version, err := es.queryScalar(ctx, sqlQuery, logActionVersion, key)
	if err != nil {
		return 0, err
	}

	return uint64(version), nil
}

func (es *EventStore) commitExists(ctx context.Context, commit eventstore.Commit) (bool, error) {
	sqlQuery, buildErr := es.buildDuplicateCommitQuery(commit)
	if buildErr != nil {
		es.ins.LogError(ctx, logMsgBuildSelectQueryFailed, buildErr)
		return false, buildErr
	}

	count, err := es.queryScalar(ctx, sqlQuery, logActionDuplicate, commit.Key)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

func (es *EventStore) queryScalar(ctx context.Context, sqlQuery string, action string, key eventstore.StreamKey) (int64, error) {
	rows, _, queryErr := es.executeQuery(ctx, sqlQuery, action, key)
	if queryErr != nil {
		return 0, queryErr
	}
	defer es.closeRows(ctx, rows)

	var value int64

	if rows.Next() {
		if scanErr := rows.Scan(&value); scanErr != nil {
			es.ins.LogError(ctx, logMsgScanRowFailed, scanErr)
			return 0, errors.Join(eventstore.ErrScanningDBRowFailed, scanErr)
		}
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		es.ins.LogError(ctx, logMsgDBQueryFailed, rowsErr, logAttrStream, key.String())
		return 0, errors.Join(eventstore.ErrQueryingEventsFailed, rowsErr)
	}

	return value, nil
}

// executeQuery executes the SQL query and returns rows with timing information.
func (es *EventStore) executeQuery(
	ctx context.Context,
	sqlQuery string,
	action string,
	key eventstore.StreamKey,
) (adapters.DBRows, time.Duration, error) {

	start := time.Now()
	rows, queryErr := es.db.Query(ctx, sqlQuery)
	duration := time.Since(start)
	es.ins.LogSQL(ctx, sqlQuery, action, duration)

	if queryErr != nil {
		es.ins.LogError(ctx, logMsgDBQueryFailed, queryErr, logAttrStream, key.String())
		return nil, duration, errors.Join(eventstore.ErrQueryingEventsFailed, queryErr)
	}

	return rows, duration, nil
}

// closeRows safely closes database rows and logs any errors.
func (es *EventStore) closeRows(ctx context.Context, rows adapters.DBRows) {
	if closeErr := rows.Close(); closeErr != nil {
		es.ins.LogWarn(ctx, logMsgCloseRowsFailed, closeErr)
	}
}

func (es *EventStore) streamCondition(key eventstore.StreamKey) goqu.Ex {
	return goqu.Ex{colBucketID: key.Bucket, colStreamID: key.Name}
}

func (es *EventStore) buildSelectStreamQuery(key eventstore.StreamKey) (sqlQueryString, error) {
	sqlQuery, _, toSQLErr := goqu.Dialect(dialectPostgres).
		From(es.eventTableName).
		Select(colEventType, colOccurredAt, colPayload, colMetadata, colStreamVersion).
		Where(es.streamCondition(key)).
		Order(goqu.I(colSequenceNumber).Asc()).
		ToSQL()
	if toSQLErr != nil {
		return "", errors.Join(eventstore.ErrBuildingQueryFailed, toSQLErr)
	}

	return sqlQuery, nil
}

func (es *EventStore) buildVersionQuery(key eventstore.StreamKey) (sqlQueryString, error) {
	sqlQuery, _, toSQLErr := goqu.Dialect(dialectPostgres).
		From(es.eventTableName).
		Select(goqu.COALESCE(goqu.MAX(colStreamVersion), 0).As(aliasMaxVersion)).
		Where(es.streamCondition(key)).
		ToSQL()
	if toSQLErr != nil {
		return "", errors.Join(eventstore.ErrBuildingQueryFailed, toSQLErr)
	}

	return sqlQuery, nil
}

func (es *EventStore) buildDuplicateCommitQuery(commit eventstore.Commit) (sqlQueryString, error) {
	sqlQuery, _, toSQLErr := goqu.Dialect(dialectPostgres).
		From(es.eventTableName).
		Select(goqu.COUNT(goqu.Star()).As(aliasDuplicateCount)).
		Where(es.streamCondition(commit.Key), goqu.C(colCommitID).Eq(commit.CommitID)).
		ToSQL()
	if toSQLErr != nil {
		return "", errors.Join(eventstore.ErrBuildingQueryFailed, toSQLErr)
	}

	return sqlQuery, nil
}

// buildInsertCommitQuery builds one INSERT ... SELECT for all events of the commit.
// It inserts nothing unless the stream is at the expected version and does not contain the commit id yet.
func (es *EventStore) buildInsertCommitQuery(commit eventstore.Commit) (sqlQueryString, error) {
	if len(commit.Events) == 0 {
		return "", errors.Join(eventstore.ErrBuildingQueryFailed, eventstore.ErrNothingToCommit)
	}

	builder := goqu.Dialect(dialectPostgres)

	contextStmt := builder.
		From(es.eventTableName).
		Select(goqu.COALESCE(goqu.MAX(colStreamVersion), 0).As(aliasMaxVersion)).
		Where(es.streamCondition(commit.Key))

	duplicatesStmt := builder.
		From(es.eventTableName).
		Select(goqu.COUNT(goqu.Star()).As(aliasDuplicateCount)).
		Where(es.streamCondition(commit.Key), goqu.C(colCommitID).Eq(commit.CommitID))

	// one SELECT per event, combined with UNION ALL
	var valuesStmt *goqu.SelectDataset
	for i, event := range commit.Events {
		eventStmt := builder.Select(
			goqu.L(castText, commit.Key.Bucket).As(colBucketID),
			goqu.L(castText, commit.Key.Name).As(colStreamID),
			goqu.L(castBigint, commit.NewVersion()).As(colStreamVersion),
			goqu.L(castText, commit.CommitID).As(colCommitID),
			goqu.L(castInteger, i).As(colCommitSequence),
			goqu.L(castText, event.EventType).As(colEventType),
			goqu.L(castTimestamp, event.OccurredAt).As(colOccurredAt),
			goqu.L(castJsonb, string(event.PayloadJSON)).As(colPayload),
			goqu.L(castJsonb, string(event.MetadataJSON)).As(colMetadata),
		)

		if valuesStmt == nil {
			valuesStmt = eventStmt
			continue
		}

		valuesStmt = valuesStmt.UnionAll(eventStmt)
	}

	valsColumns := make([]any, 0, len(insertColumns))
	for _, column := range insertColumns {
		valsColumns = append(valsColumns, fmt.Sprintf("%s.%s", cteVals, column))
	}

	insertColumnsAny := make([]any, 0, len(insertColumns))
	for _, column := range insertColumns {
		insertColumnsAny = append(insertColumnsAny, column)
	}

	insertStmt := builder.
		Insert(es.eventTableName).
		Cols(insertColumnsAny...).
		With(cteContext, contextStmt).
		With(cteDuplicates, duplicatesStmt).
		With(cteVals, valuesStmt).
		FromQuery(
			builder.From(cteContext, cteDuplicates, cteVals).
				Select(valsColumns...).
				Where(
					goqu.C(aliasMaxVersion).Eq(commit.ExpectedVersion),
					goqu.C(aliasDuplicateCount).Eq(0),
				),
		)

	sqlQuery, _, toSQLErr := insertStmt.ToSQL()
	if toSQLErr != nil {
		return "", errors.Join(eventstore.ErrBuildingQueryFailed, toSQLErr)
	}

	return sqlQuery, nil
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

// mapWriteError turns unique violations of a writer that raced past the version guard into the stream store errors.
func mapWriteError(commit eventstore.Commit, err error) error {
	constraint, isUniqueViolation := uniqueViolation(err)
	if !isUniqueViolation {
		return errors.Join(eventstore.ErrAppendingEventFailed, err)
	}

	if strings.Contains(constraint, colCommitID) {
		return eventstore.ErrDuplicateCommit
	}

	return conflictError(commit)
}

func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return pgErr.ConstraintName, true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation {
		return pqErr.Constraint, true
	}

	return "", false
}

var _ eventstore.StreamStore = (*EventStore)(nil)
var _ eventstore.Committer = (*EventStore)(nil)
