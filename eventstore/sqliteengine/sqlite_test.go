package sqliteengine_test

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore"
	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore/internal/instrumentation"
	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore/sqliteengine"
	"github.com/AntonStoeckl/eventsourced-entities-go/testutil/observability/testdoubles"
)

func openStore(t *testing.T, options ...sqliteengine.Option) *sqliteengine.EventStore {
	t.Helper()

	es, err := sqliteengine.Open(context.Background(), ":memory:", options...)
	require.NoError(t, err)

	t.Cleanup(func() { _ = es.Close() })

	return es
}

func storableEvent(t *testing.T, eventType string, payload string) eventstore.StorableEvent {
	t.Helper()

	event, err := eventstore.BuildStorableEvent(
		eventType,
		time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC),
		[]byte(payload),
		[]byte(`{"correlationId":"abc"}`),
	)
	require.NoError(t, err)

	return event
}

func createStream(t *testing.T, es *sqliteengine.EventStore, key eventstore.StreamKey, commitID string, events ...eventstore.StorableEvent) {
	t.Helper()

	stream, err := es.CreateStream(context.Background(), key)
	require.NoError(t, err)

	for _, event := range events {
		require.NoError(t, stream.Append(event))
	}

	require.NoError(t, stream.Commit(context.Background(), commitID))
}

func Test_CreateStream_Then_OpenStreamForReading_RoundTripsTheEvents(t *testing.T) {
	// arrange
	es := openStore(t)
	key := eventstore.NewStreamKey("", "Counter:1")
	created := storableEvent(t, "CounterCreated", `{"initial":8}`)
	increased := storableEvent(t, "CounterIncreased", `{"by":5}`)

	// act
	createStream(t, es, key, "c1", created, increased)
	stream, err := es.OpenStreamForReading(context.Background(), key)

	// assert
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stream.Version)
	require.Len(t, stream.Events, 2)
	assert.Equal(t, "CounterCreated", stream.Events[0].EventType)
	assert.JSONEq(t, `{"initial":8}`, string(stream.Events[0].PayloadJSON))
	assert.JSONEq(t, `{"correlationId":"abc"}`, string(stream.Events[0].MetadataJSON))
	assert.True(t, created.OccurredAt.Equal(stream.Events[0].OccurredAt))
	assert.Equal(t, "CounterIncreased", stream.Events[1].EventType)
}

func Test_OpenStreamForReading_When_StreamDoesNotExist_ItFails(t *testing.T) {
	es := openStore(t)

	_, err := es.OpenStreamForReading(context.Background(), eventstore.NewStreamKey("", "Counter:404"))

	assert.ErrorIs(t, err, eventstore.ErrStreamNotFound)
}

func Test_ExistsStream(t *testing.T) {
	es := openStore(t)
	key := eventstore.NewStreamKey("", "Counter:1")

	before, err := es.ExistsStream(context.Background(), key)
	require.NoError(t, err)
	createStream(t, es, key, "c1", storableEvent(t, "CounterCreated", `{}`))
	after, err := es.ExistsStream(context.Background(), key)
	require.NoError(t, err)
	otherBucket, err := es.ExistsStream(context.Background(), eventstore.NewStreamKey("other", "Counter:1"))
	require.NoError(t, err)

	assert.False(t, before)
	assert.True(t, after)
	assert.False(t, otherBucket)
}

func Test_OpenStreamForWriting_Then_Commit_IncrementsVersion(t *testing.T) {
	// arrange
	es := openStore(t)
	key := eventstore.NewStreamKey("", "Counter:1")
	createStream(t, es, key, "c1", storableEvent(t, "CounterCreated", `{}`))

	stream, err := es.OpenStreamForWriting(context.Background(), key, 1)
	require.NoError(t, err)
	require.NoError(t, stream.Append(storableEvent(t, "CounterIncreased", `{"by":5}`)))
	require.NoError(t, stream.Append(storableEvent(t, "CounterIncreased", `{"by":27}`)))

	// act
	err = stream.Commit(context.Background(), "c2")

	// assert
	require.NoError(t, err)
	read, err := es.OpenStreamForReading(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), read.Version)
	assert.Len(t, read.Events, 3)
}

func Test_OpenStreamForWriting_When_StreamIsMissingOrStale_ItFails(t *testing.T) {
	es := openStore(t)
	key := eventstore.NewStreamKey("", "Counter:1")
	createStream(t, es, key, "c1", storableEvent(t, "CounterCreated", `{}`))

	_, staleErr := es.OpenStreamForWriting(context.Background(), key, 0)
	_, missingErr := es.OpenStreamForWriting(context.Background(), eventstore.NewStreamKey("", "Counter:2"), 1)

	assert.ErrorIs(t, staleErr, eventstore.ErrConcurrencyConflict)
	assert.ErrorIs(t, missingErr, eventstore.ErrStreamNotFound)
}

func Test_CreateStream_When_StreamAlreadyExists_CommitFails(t *testing.T) {
	// arrange
	es := openStore(t)
	key := eventstore.NewStreamKey("", "Counter:1")
	createStream(t, es, key, "c1", storableEvent(t, "CounterCreated", `{}`))

	stream, err := es.CreateStream(context.Background(), key)
	require.NoError(t, err)
	require.NoError(t, stream.Append(storableEvent(t, "CounterCreated", `{}`)))

	// act
	err = stream.Commit(context.Background(), "c2")

	// assert
	assert.ErrorIs(t, err, eventstore.ErrStreamAlreadyExists)
}

func Test_Commit_When_AnotherWriterCommittedFirst_ItFailsWithConcurrencyConflict(t *testing.T) {
	// arrange
	es := openStore(t)
	key := eventstore.NewStreamKey("", "Counter:1")
	createStream(t, es, key, "c1", storableEvent(t, "CounterCreated", `{}`))

	first := eventstore.NewWritableStream(es, key, 1)
	second := eventstore.NewWritableStream(es, key, 1)
	require.NoError(t, first.Append(storableEvent(t, "CounterIncreased", `{"by":1}`)))
	require.NoError(t, second.Append(storableEvent(t, "CounterIncreased", `{"by":2}`)))

	// act
	firstErr := first.Commit(context.Background(), "c2")
	secondErr := second.Commit(context.Background(), "c3")

	// assert
	assert.NoError(t, firstErr)
	assert.ErrorIs(t, secondErr, eventstore.ErrConcurrencyConflict)
	read, err := es.OpenStreamForReading(context.Background(), key)
	require.NoError(t, err)
	assert.Len(t, read.Events, 2)
}

func Test_Commit_When_CommitIDWasAlreadyUsed_ItFailsWithDuplicateCommit(t *testing.T) {
	// arrange
	es := openStore(t)
	key := eventstore.NewStreamKey("", "Counter:1")
	createStream(t, es, key, "c1", storableEvent(t, "CounterCreated", `{}`))

	replayed := eventstore.NewWritableStream(es, key, 0)
	require.NoError(t, replayed.Append(storableEvent(t, "CounterCreated", `{}`)))

	// act
	err := replayed.Commit(context.Background(), "c1")

	// assert
	assert.ErrorIs(t, err, eventstore.ErrDuplicateCommit)
}

func Test_Commit_When_ManyWritersRace_ExactlyOneWins(t *testing.T) {
	// arrange
	es := openStore(t)
	key := eventstore.NewStreamKey("", "Counter:1")
	createStream(t, es, key, "c1", storableEvent(t, "CounterCreated", `{}`))

	const writers = 10
	var wins atomic.Int32
	var wg sync.WaitGroup

	// act
	for i := range writers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			stream := eventstore.NewWritableStream(es, key, 1)
			_ = stream.Append(storableEvent(t, "CounterIncreased", `{"by":1}`))

			if stream.Commit(context.Background(), fmt.Sprintf("race-%d", i)) == nil {
				wins.Add(1)
			}
		}()
	}

	wg.Wait()

	// assert
	assert.Equal(t, int32(1), wins.Load())
}

func Test_NewEventStore_Validation(t *testing.T) {
	_, nilErr := sqliteengine.NewEventStore(nil)
	_, tableErr := sqliteengine.NewEventStore(&sql.DB{}, sqliteengine.WithTableName(""))

	assert.ErrorIs(t, nilErr, eventstore.ErrNilDatabaseConnection)
	assert.ErrorIs(t, tableErr, eventstore.ErrEmptyEventsTableName)
}

func Test_WithTableName_UsesTheGivenTable(t *testing.T) {
	// arrange
	es := openStore(t, sqliteengine.WithTableName("counter_events"))
	key := eventstore.NewStreamKey("", "Counter:1")

	// act
	createStream(t, es, key, "c1", storableEvent(t, "CounterCreated", `{}`))
	exists, err := es.ExistsStream(context.Background(), key)

	// assert
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Contains(t, sqliteengine.Schema("counter_events")[0], "CREATE TABLE IF NOT EXISTS counter_events")
}

func Test_Observability_IsWiredIntoCommitAndRead(t *testing.T) {
	// arrange
	logger, logSpy := testdoubles.NewLogger()
	metrics := testdoubles.NewMetricsCollectorSpy()
	tracing := testdoubles.NewTracingCollectorSpy()
	es := openStore(
		t,
		sqliteengine.WithLogger(logger),
		sqliteengine.WithMetrics(metrics),
		sqliteengine.WithTracing(tracing),
	)
	key := eventstore.NewStreamKey("", "Counter:1")

	// act
	createStream(t, es, key, "c1", storableEvent(t, "CounterCreated", `{}`))
	_, readErr := es.OpenStreamForReading(context.Background(), key)
	stale := eventstore.NewWritableStream(es, key, 0)
	require.NoError(t, stale.Append(storableEvent(t, "CounterIncreased", `{}`)))
	conflictErr := stale.Commit(context.Background(), "c2")

	// assert
	require.NoError(t, readErr)
	assert.ErrorIs(t, conflictErr, eventstore.ErrConcurrencyConflict)
	assert.True(t, logSpy.HasLogWithAttr(slog.LevelDebug, "executed sql for: commit", "query"))
	assert.True(t, logSpy.HasLog(slog.LevelInfo, "concurrency conflict detected"))
	assert.True(t, metrics.Has(instrumentation.MetricEventsCommitted, nil))
	assert.True(t, metrics.Has(instrumentation.MetricConcurrencyConflicts, nil))
	_, found := tracing.SpanNamed(instrumentation.SpanNameRead)
	assert.True(t, found)
}
