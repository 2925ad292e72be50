package repository_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/eventsourced-entities-go/codec"
	"github.com/AntonStoeckl/eventsourced-entities-go/eventsourcing"
	"github.com/AntonStoeckl/eventsourced-entities-go/eventsourcing/dispatch"
	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore"
	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore/memoryengine"
	"github.com/AntonStoeckl/eventsourced-entities-go/repository"
	"github.com/AntonStoeckl/eventsourced-entities-go/testutil/observability/testdoubles"
)

type tallyID string

func (id tallyID) String() string { return string(id) }

type tallyCreated struct {
	eventsourcing.EventBase
	Initial int `json:"initial"`
}

func (tallyCreated) EventType() string { return "TallyCreated" }

type tallyIncreased struct {
	eventsourcing.EventBase
	By int `json:"by"`
}

func (tallyIncreased) EventType() string { return "TallyIncreased" }

type tally struct {
	eventsourcing.Root[*tally]
	id    tallyID
	value int
}

var tallyRoutes = dispatch.NewTable[*tally]()

func init() {
	dispatch.MustOn(tallyRoutes, func(t *tally, e tallyCreated) error {
		t.value = e.Initial
		return nil
	})
	dispatch.MustOn(tallyRoutes, func(t *tally, e tallyIncreased) error {
		t.value += e.By
		return nil
	})
}

func newTally(id tallyID) *tally {
	t := &tally{id: id}
	t.Root = eventsourcing.NewRoot(t, tallyRoutes)

	return t
}

func (t *tally) ID() tallyID { return t.id }

func (t *tally) create(initial int) {
	_ = t.Apply(tallyCreated{EventBase: eventsourcing.NewEventBase(time.Now()), Initial: initial})
}

func (t *tally) increase(by int) {
	_ = t.Apply(tallyIncreased{EventBase: eventsourcing.NewEventBase(time.Now()), By: by})
}

func newRegistry() *codec.Registry {
	registry := codec.NewRegistry()
	codec.MustRegister[tallyCreated](registry)
	codec.MustRegister[tallyIncreased](registry)

	return registry
}

func newRepository(
	t *testing.T,
	store eventstore.StreamStore,
	options ...repository.Option,
) *repository.Repository[*tally, tallyID] {

	t.Helper()

	repo, err := repository.New[*tally, tallyID](store, newRegistry(), newTally, options...)
	require.NoError(t, err)

	return repo
}

func Test_Add_Then_OfIdentity_RebuildsTheCounter(t *testing.T) {
	// arrange
	ctx := context.Background()
	repo := newRepository(t, memoryengine.NewEventStore())
	counter := newTally("t-1")
	counter.create(8)
	counter.increase(5)
	counter.increase(27)

	require.Equal(t, 40, counter.value)
	require.Equal(t, uint64(0), counter.Version())
	require.Len(t, counter.PendingChanges(), 3)

	// act
	err := repo.Add(ctx, counter, "c1")
	loaded, loadErr := repo.OfIdentity(ctx, "t-1")

	// assert
	require.NoError(t, err)
	assert.Equal(t, uint64(1), counter.Version())
	assert.False(t, counter.HasPendingChanges())
	require.NoError(t, loadErr)
	assert.Equal(t, 40, loaded.value)
	assert.Equal(t, uint64(1), loaded.Version())
	assert.False(t, loaded.HasPendingChanges())
}

func Test_Save_AppendsANewCommit(t *testing.T) {
	// arrange
	ctx := context.Background()
	repo := newRepository(t, memoryengine.NewEventStore())
	counter := newTally("t-1")
	counter.create(1)
	require.NoError(t, repo.Add(ctx, counter, "c1"))

	loaded, err := repo.OfIdentity(ctx, "t-1")
	require.NoError(t, err)
	loaded.increase(2)

	// act
	err = repo.Save(ctx, loaded, "c2")

	// assert
	require.NoError(t, err)
	assert.Equal(t, uint64(2), loaded.Version())
	reloaded, err := repo.OfIdentity(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, 3, reloaded.value)
	assert.Equal(t, uint64(2), reloaded.Version())
}

func Test_Save_When_AnotherInstanceCommittedFirst_ItFailsWithoutAppending(t *testing.T) {
	// arrange
	ctx := context.Background()
	repo := newRepository(t, memoryengine.NewEventStore())
	counter := newTally("t-1")
	counter.create(1)
	require.NoError(t, repo.Add(ctx, counter, "c1"))

	first, err := repo.OfIdentity(ctx, "t-1")
	require.NoError(t, err)
	second, err := repo.OfIdentity(ctx, "t-1")
	require.NoError(t, err)
	first.increase(10)
	second.increase(100)

	// act
	firstErr := repo.Save(ctx, first, "c2")
	secondErr := repo.Save(ctx, second, "c3")

	// assert
	require.NoError(t, firstErr)
	assert.ErrorIs(t, secondErr, eventstore.ErrConcurrencyConflict)
	reloaded, err := repo.OfIdentity(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, 11, reloaded.value)
	assert.Equal(t, uint64(2), reloaded.Version())
}

func Test_Save_When_CommitIDWasUsedBefore_ItFailsWithDuplicateCommit(t *testing.T) {
	// arrange
	ctx := context.Background()
	repo := newRepository(t, memoryengine.NewEventStore())
	counter := newTally("t-1")
	counter.create(1)
	require.NoError(t, repo.Add(ctx, counter, "c1"))
	counter.increase(1)

	// act
	err := repo.Save(ctx, counter, "c1")

	// assert
	assert.ErrorIs(t, err, eventstore.ErrDuplicateCommit)
}

func Test_Add_When_StreamExists_ItFails(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t, memoryengine.NewEventStore())
	first := newTally("t-1")
	first.create(1)
	second := newTally("t-1")
	second.create(2)
	require.NoError(t, repo.Add(ctx, first, "c1"))

	err := repo.Add(ctx, second, "c2")

	assert.ErrorIs(t, err, eventstore.ErrStreamAlreadyExists)
}

func Test_Save_When_InstanceIsFresh_ItCreatesTheStream(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t, memoryengine.NewEventStore())
	counter := newTally("t-1")
	counter.create(4)

	err := repo.Save(ctx, counter, "c1")

	require.NoError(t, err)
	exists, err := repo.Exists(ctx, "t-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func Test_OfIdentity_Find_Exists_When_NothingWasStored(t *testing.T) {
	// arrange
	ctx := context.Background()
	repo := newRepository(t, memoryengine.NewEventStore())

	// act
	_, ofIdentityErr := repo.OfIdentity(ctx, "t-404")
	found, ok, findErr := repo.Find(ctx, "t-404")
	exists, existsErr := repo.Exists(ctx, "t-404")

	// assert
	assert.ErrorIs(t, ofIdentityErr, eventstore.ErrStreamNotFound)
	require.NoError(t, findErr)
	assert.False(t, ok)
	assert.Nil(t, found)
	require.NoError(t, existsErr)
	assert.False(t, exists)
}

func Test_Find_When_Stored_ItReturnsTheInstance(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t, memoryengine.NewEventStore())
	counter := newTally("t-1")
	counter.create(7)
	require.NoError(t, repo.Add(ctx, counter, "c1"))

	found, ok, err := repo.Find(ctx, "t-1")

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 7, found.value)
}

func Test_Validation(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t, memoryengine.NewEventStore())
	withChanges := newTally("t-1")
	withChanges.create(1)
	withoutID := newTally("")
	withoutID.create(1)

	tests := []struct {
		name     string
		err      error
		expected error
	}{
		{name: "add nil", err: repo.Add(ctx, nil, "c1"), expected: repository.ErrNilObject},
		{name: "save nil", err: repo.Save(ctx, nil, "c1"), expected: repository.ErrNilObject},
		{name: "empty commit id", err: repo.Add(ctx, withChanges, ""), expected: repository.ErrEmptyCommitID},
		{name: "add without changes", err: repo.Add(ctx, newTally("t-2"), "c1"), expected: repository.ErrNothingToAdd},
		{name: "empty identity", err: repo.Add(ctx, withoutID, "c1"), expected: repository.ErrEmptyIdentity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.expected)
			assert.ErrorIs(t, tt.err, repository.ErrValidation)
		})
	}
}

func Test_Save_When_NothingChanged_ItIsANoOp(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t, memoryengine.NewEventStore())
	counter := newTally("t-1")

	err := repo.Save(ctx, counter, "c1")

	require.NoError(t, err)
	exists, err := repo.Exists(ctx, "t-1")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, uint64(0), counter.Version())
}

func Test_New_Validation(t *testing.T) {
	_, nilStoreErr := repository.New[*tally, tallyID](nil, newRegistry(), newTally)
	_, nilCodecErr := repository.New[*tally, tallyID](memoryengine.NewEventStore(), nil, newTally)
	_, nilFactoryErr := repository.New[*tally, tallyID](memoryengine.NewEventStore(), newRegistry(), nil)
	_, emptyBucketErr := repository.New[*tally, tallyID](memoryengine.NewEventStore(), newRegistry(), newTally, repository.WithBucket(""))
	_, nilNamerErr := repository.New[*tally, tallyID](memoryengine.NewEventStore(), newRegistry(), newTally, repository.WithNamer(nil))

	assert.ErrorIs(t, nilStoreErr, repository.ErrNilCollaborator)
	assert.ErrorIs(t, nilCodecErr, repository.ErrNilCollaborator)
	assert.ErrorIs(t, nilFactoryErr, repository.ErrNilCollaborator)
	assert.ErrorIs(t, emptyBucketErr, eventstore.ErrEmptyBucket)
	assert.ErrorIs(t, nilNamerErr, repository.ErrValidation)
}

func Test_StreamKey_UsesTheCanonicalNameAndTheBucket(t *testing.T) {
	repo := newRepository(t, memoryengine.NewEventStore(), repository.WithBucket("tenant-a"))

	key, err := repo.StreamKey("t-1")

	require.NoError(t, err)
	assert.Equal(t, "tenant-a", key.Bucket)
	assert.Equal(t, "github.com/AntonStoeckl/eventsourced-entities-go/repository_test.tally:t-1", key.Name)
}

func Test_WithBucket_IsolatesRepositories(t *testing.T) {
	ctx := context.Background()
	store := memoryengine.NewEventStore()
	tenantA := newRepository(t, store, repository.WithBucket("tenant-a"))
	tenantB := newRepository(t, store, repository.WithBucket("tenant-b"))
	counter := newTally("t-1")
	counter.create(1)
	require.NoError(t, tenantA.Add(ctx, counter, "c1"))

	existsInA, errA := tenantA.Exists(ctx, "t-1")
	existsInB, errB := tenantB.Exists(ctx, "t-1")

	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.True(t, existsInA)
	assert.False(t, existsInB)
}

func Test_Add_StoresMetadataFromTheContext(t *testing.T) {
	// arrange
	store := memoryengine.NewEventStore()
	repo := newRepository(t, store, repository.WithEntityType("Tally"))
	counter := newTally("t-1")
	counter.create(1)
	eventID := counter.PendingChanges()[0].EventID().String()
	ctx := codec.WithMetadata(context.Background(), codec.Metadata{MessageID: "cmd-1", CorrelationID: "corr-1"})

	// act
	err := repo.Add(ctx, counter, "c1")

	// assert
	require.NoError(t, err)
	stream, err := store.OpenStreamForReading(context.Background(), eventstore.NewStreamKey("", "Tally:t-1"))
	require.NoError(t, err)
	require.Len(t, stream.Events, 1)
	metadata, err := codec.MetadataFrom(stream.Events[0])
	require.NoError(t, err)
	assert.Equal(t, codec.Metadata{MessageID: eventID, CausationID: "cmd-1", CorrelationID: "corr-1"}, metadata)
}

type failingCodec struct {
	*codec.Registry
}

func (failingCodec) Encode(eventsourcing.Event, codec.Metadata) (eventstore.StorableEvent, error) {
	return eventstore.StorableEvent{}, errors.New("encoding failed")
}

func Test_Add_When_EncodingFails_NothingIsCommitted(t *testing.T) {
	ctx := context.Background()
	store := memoryengine.NewEventStore()
	repo, err := repository.New[*tally, tallyID](store, failingCodec{newRegistry()}, newTally)
	require.NoError(t, err)
	counter := newTally("t-1")
	counter.create(1)

	err = repo.Add(ctx, counter, "c1")

	assert.EqualError(t, err, "encoding failed")
	assert.True(t, counter.HasPendingChanges())
	exists, err := repo.Exists(ctx, "t-1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func Test_Observability_IsWiredIntoLoadAndSave(t *testing.T) {
	// arrange
	ctx := context.Background()
	logger, logSpy := testdoubles.NewLogger()
	metrics := testdoubles.NewMetricsCollectorSpy()
	tracing := testdoubles.NewTracingCollectorSpy()
	repo := newRepository(
		t,
		memoryengine.NewEventStore(),
		repository.WithLogger(logger),
		repository.WithMetrics(metrics),
		repository.WithTracing(tracing),
	)
	counter := newTally("t-1")
	counter.create(1)
	require.NoError(t, repo.Add(ctx, counter, "c1"))
	stale := newTally("t-1")
	stale.create(1)

	// act
	_, loadErr := repo.OfIdentity(ctx, "t-1")
	addErr := repo.Add(ctx, stale, "c2")

	// assert
	require.NoError(t, loadErr)
	assert.ErrorIs(t, addErr, eventstore.ErrStreamAlreadyExists)
	assert.True(t, logSpy.HasLogWithAttr(slog.LevelDebug, "repository committed", "commit_id"))
	assert.True(t, logSpy.HasLog(slog.LevelDebug, "repository loaded"))
	assert.True(t, logSpy.HasLog(slog.LevelInfo, "repository commit rejected"))
	assert.True(t, metrics.Has("repository_operation_duration_seconds", map[string]string{"operation": "load", "status": "success"}))
	assert.True(t, metrics.Has("repository_operation_errors_total", map[string]string{"operation": "add", "error_kind": "stream_already_exists"}))

	span, found := tracing.SpanNamed("repository.load")
	require.True(t, found)
	assert.True(t, span.Finished)
	assert.Equal(t, "success", span.FinishStatus)

	var addStatuses []string
	for _, s := range tracing.Spans() {
		if s.Name == "repository.add" {
			addStatuses = append(addStatuses, s.FinishStatus)
		}
	}
	assert.Equal(t, []string{"success", "conflict"}, addStatuses)
}

func Test_Find_When_NothingWasStored_ItIsNotObservedAsAFailure(t *testing.T) {
	// arrange
	ctx := context.Background()
	logger, logSpy := testdoubles.NewLogger()
	metrics := testdoubles.NewMetricsCollectorSpy()
	tracing := testdoubles.NewTracingCollectorSpy()
	repo := newRepository(
		t,
		memoryengine.NewEventStore(),
		repository.WithLogger(logger),
		repository.WithMetrics(metrics),
		repository.WithTracing(tracing),
	)

	// act
	_, found, err := repo.Find(ctx, "t-1")

	// assert
	require.NoError(t, err)
	assert.False(t, found)
	assert.True(t, logSpy.HasLog(slog.LevelDebug, "repository found nothing"))
	assert.False(t, logSpy.HasLog(slog.LevelError, "repository operation failed"))
	assert.True(t, metrics.Has("repository_operation_duration_seconds", map[string]string{"operation": "find", "status": "not_found"}))
	assert.False(t, metrics.Has("repository_operation_errors_total", map[string]string{"operation": "find"}))

	span, spanFound := tracing.SpanNamed("repository.find")
	require.True(t, spanFound)
	assert.Equal(t, "success", span.FinishStatus)
	assert.Equal(t, "false", span.FinishAttrs["found"])
}
