package codec_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/eventsourced-entities-go/codec"
	"github.com/AntonStoeckl/eventsourced-entities-go/eventsourcing"
	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore"
)

type counterIncreased struct {
	eventsourcing.EventBase
	By int `json:"by"`
}

func (counterIncreased) EventType() string { return "CounterIncreased" }

type otherIncreased struct {
	eventsourcing.EventBase
}

func (otherIncreased) EventType() string { return "CounterIncreased" }

type untyped struct {
	eventsourcing.EventBase
}

func (untyped) EventType() string { return "" }

type pointerEvent struct {
	eventsourcing.EventBase
}

func (*pointerEvent) EventType() string { return "PointerEvent" }

func givenRegistry(t *testing.T) *codec.Registry {
	t.Helper()

	registry := codec.NewRegistry()
	require.NoError(t, codec.Register[counterIncreased](registry))

	return registry
}

func Test_EncodeThenDecode_YieldsTheSameValueType(t *testing.T) {
	// arrange
	registry := givenRegistry(t)
	occurredAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	event := counterIncreased{EventBase: eventsourcing.NewEventBase(occurredAt), By: 5}
	metadata := codec.BuildMetadata(uuid.New(), uuid.New(), uuid.New())

	// act
	storable, encodeErr := registry.Encode(event, metadata)
	decoded, decodeErr := registry.Decode(storable)

	// assert
	require.NoError(t, encodeErr)
	require.NoError(t, decodeErr)
	assert.Equal(t, "CounterIncreased", storable.EventType)
	assert.True(t, occurredAt.Equal(storable.OccurredAt))
	assert.JSONEq(t, `{"eventId":"`+event.ID.String()+`","occurredAt":"2026-03-01T12:00:00Z","by":5}`, string(storable.PayloadJSON))
	require.IsType(t, counterIncreased{}, decoded)
	assert.Equal(t, event.ID, decoded.EventID())
	assert.Equal(t, 5, decoded.(counterIncreased).By)

	readMetadata, err := codec.MetadataFrom(storable)
	require.NoError(t, err)
	assert.Equal(t, metadata, readMetadata)
}

func Test_Decode_When_EventTypeIsUnknown_ItFails(t *testing.T) {
	registry := givenRegistry(t)
	storable, err := eventstore.BuildStorableEventWithEmptyMetadata("CounterRenamed", time.Now(), []byte(`{}`))
	require.NoError(t, err)

	_, err = registry.Decode(storable)

	assert.ErrorIs(t, err, codec.ErrUnknownEventType)
	assert.ErrorIs(t, err, codec.ErrMappingToDomainEventFailed)
}

func Test_Decode_When_PayloadDoesNotFitTheType_ItFails(t *testing.T) {
	registry := givenRegistry(t)
	storable, err := eventstore.BuildStorableEventWithEmptyMetadata("CounterIncreased", time.Now(), []byte(`{"by":"five"}`))
	require.NoError(t, err)

	_, err = registry.Decode(storable)

	assert.ErrorIs(t, err, codec.ErrMappingToDomainEventFailed)
}

func Test_Encode_When_EventTypeIsUnknown_ItFails(t *testing.T) {
	registry := codec.NewRegistry()

	_, err := registry.Encode(counterIncreased{}, codec.Metadata{})

	assert.ErrorIs(t, err, codec.ErrUnknownEventType)
}

func Test_Encode_When_EventHasNoIdentity_ItFails(t *testing.T) {
	registry := givenRegistry(t)

	_, err := registry.Encode(counterIncreased{By: 3}, codec.Metadata{})

	assert.ErrorIs(t, err, codec.ErrMappingToStorableEventFailed)
	assert.ErrorIs(t, err, eventsourcing.ErrNilEventID)
}

func Test_Encode_When_EventIsNil_ItFails(t *testing.T) {
	registry := givenRegistry(t)

	_, err := registry.Encode(nil, codec.Metadata{})

	assert.ErrorIs(t, err, eventsourcing.ErrValidation)
}

func Test_Register_Validation(t *testing.T) {
	registry := givenRegistry(t)

	assert.NoError(t, codec.Register[counterIncreased](registry))
	assert.ErrorIs(t, codec.Register[otherIncreased](registry), codec.ErrEventTypeAlreadyRegistered)
	assert.ErrorIs(t, codec.Register[untyped](registry), codec.ErrInvalidEventType)
	assert.ErrorIs(t, codec.Register[*pointerEvent](registry), codec.ErrInvalidEventType)
	assert.Panics(t, func() { codec.MustRegister[untyped](registry) })
}

func Test_DecodeAll_KeepsTheOrder(t *testing.T) {
	// arrange
	registry := givenRegistry(t)
	storables := make(eventstore.StorableEvents, 0, 3)

	for _, by := range []int{8, 5, 27} {
		storable, err := registry.Encode(counterIncreased{EventBase: eventsourcing.NewEventBase(time.Now()), By: by}, codec.Metadata{})
		require.NoError(t, err)
		storables = append(storables, storable)
	}

	// act
	events, err := registry.DecodeAll(storables)

	// assert
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, 8, events[0].(counterIncreased).By)
	assert.Equal(t, 5, events[1].(counterIncreased).By)
	assert.Equal(t, 27, events[2].(counterIncreased).By)
}

func Test_Metadata_CausedBy_InheritsTheCorrelation(t *testing.T) {
	first := codec.Metadata{MessageID: "m1"}

	second := first.CausedBy(uuid.MustParse("00000000-0000-0000-0000-000000000002"))
	third := second.CausedBy(uuid.MustParse("00000000-0000-0000-0000-000000000003"))

	assert.Equal(t, "m1", second.CausationID)
	assert.Equal(t, "m1", second.CorrelationID)
	assert.Equal(t, second.MessageID, third.CausationID)
	assert.Equal(t, "m1", third.CorrelationID)
}

func Test_Metadata_TravelsInTheContext(t *testing.T) {
	metadata := codec.Metadata{MessageID: "m1", CorrelationID: "c1"}

	ctx := codec.WithMetadata(context.Background(), metadata)

	assert.Equal(t, metadata, codec.MetadataFromContext(ctx))
	assert.Equal(t, codec.Metadata{}, codec.MetadataFromContext(context.Background()))
}
