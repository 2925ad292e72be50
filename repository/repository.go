package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/AntonStoeckl/eventsourced-entities-go/codec"
	"github.com/AntonStoeckl/eventsourced-entities-go/eventsourcing"
	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore"
)

// Entity is what the repository needs from an aggregate or saga.
// Types embedding eventsourcing.Root or eventsourcing.Saga only have to add ID.
type Entity[ID fmt.Stringer] interface {
	ID() ID
	Version() uint64
	HasPendingChanges() bool
	Load(ctx context.Context, version uint64, events []eventsourcing.Event) error
	Persist(bus eventsourcing.Bus) error
}

// Codec converts between domain events and storable events, *codec.Registry implements it.
type Codec interface {
	Encode(event eventsourcing.Event, metadata codec.Metadata) (eventstore.StorableEvent, error)
	DecodeAll(storableEvents eventstore.StorableEvents) ([]eventsourcing.Event, error)
}

// Factory creates a fresh instance with the given identity, version 0 and no pending changes.
type Factory[T any, ID fmt.Stringer] func(id ID) T

// Repository loads and stores instances of T.
type Repository[T Entity[ID], ID fmt.Stringer] struct {
	store    eventstore.StreamStore
	codec    Codec
	factory  Factory[T, ID]
	bucket   string
	namer    StreamNamer
	typeName string
	observer *observer
}

// New creates a Repository for T backed by store.
func New[T Entity[ID], ID fmt.Stringer](
	store eventstore.StreamStore,
	eventCodec Codec,
	factory Factory[T, ID],
	options ...Option,
) (*Repository[T, ID], error) {

	if isNil(store) || isNil(eventCodec) || factory == nil {
		return nil, ErrNilCollaborator
	}

	cfg := config{
		bucket:     eventstore.DefaultBucket,
		namer:      CanonicalNamer{},
		entityType: EntityTypeOf[T](),
	}

	for _, option := range options {
		if err := option(&cfg); err != nil {
			return nil, err
		}
	}

	return &Repository[T, ID]{
		store:    store,
		codec:    eventCodec,
		factory:  factory,
		bucket:   cfg.bucket,
		namer:    cfg.namer,
		typeName: cfg.entityType,
		observer: &observer{
			logger:     cfg.logger,
			metrics:    cfg.metrics,
			tracing:    cfg.tracing,
			entityType: cfg.entityType,
		},
	}, nil
}

// StreamKey returns the key of the stream that holds the instance with identity id.
func (r *Repository[T, ID]) StreamKey(id ID) (eventstore.StreamKey, error) {
	name, err := r.namer.StreamName(r.typeName, id)
	if err != nil {
		return eventstore.StreamKey{}, err
	}

	key := eventstore.NewStreamKey(r.bucket, name)
	if err := key.Validate(); err != nil {
		return eventstore.StreamKey{}, errors.Join(ErrValidation, err)
	}

	return key, nil
}

// New returns a fresh instance with identity id, built by the factory.
func (r *Repository[T, ID]) New(id ID) T {
	return r.factory(id)
}

// OfIdentity loads the instance with identity id.
// It fails with eventstore.ErrStreamNotFound if nothing was stored for id.
func (r *Repository[T, ID]) OfIdentity(ctx context.Context, id ID) (T, error) {
	return r.observedLoad(ctx, operationLoad, id)
}

// Find is like OfIdentity but reports a missing stream as found == false instead of an error.
// A missing stream is not observed as a failure.
func (r *Repository[T, ID]) Find(ctx context.Context, id ID) (obj T, found bool, err error) {
	obj, err = r.observedLoad(ctx, operationFind, id)

	switch {
	case errors.Is(err, eventstore.ErrStreamNotFound):
		return obj, false, nil
	case err != nil:
		return obj, false, err
	default:
		return obj, true, nil
	}
}

// Exists reports whether anything was stored for id.
func (r *Repository[T, ID]) Exists(ctx context.Context, id ID) (bool, error) {
	key, err := r.StreamKey(id)
	if err != nil {
		return false, err
	}

	return r.store.ExistsStream(ctx, key)
}

// Add stores a new instance in a new stream.
// It fails with eventstore.ErrStreamAlreadyExists if the stream exists and with ErrNothingToAdd
// if obj has no pending changes.
func (r *Repository[T, ID]) Add(ctx context.Context, obj T, commitID string) error {
	if err := validate(obj, commitID); err != nil {
		return err
	}

	if !obj.HasPendingChanges() {
		return ErrNothingToAdd
	}

	key, err := r.StreamKey(obj.ID())
	if err != nil {
		return err
	}

	obs, ctx := r.observer.start(ctx, operationAdd, key)

	stream, err := r.store.CreateStream(ctx, key)
	if err != nil {
		obs.failure(err)
		return err
	}

	return r.commit(ctx, obs, obj, stream, commitID)
}

// Save stores the pending changes of an instance that was loaded by OfIdentity or stored by Add.
// The commit only succeeds if nobody else committed to the stream since, otherwise it fails with
// eventstore.ErrConcurrencyConflict. Without pending changes Save does nothing.
// Saving a fresh instance (version 0) behaves like Add.
func (r *Repository[T, ID]) Save(ctx context.Context, obj T, commitID string) error {
	if err := validate(obj, commitID); err != nil {
		return err
	}

	if !obj.HasPendingChanges() {
		return nil
	}

	if obj.Version() == 0 {
		return r.Add(ctx, obj, commitID)
	}

	key, err := r.StreamKey(obj.ID())
	if err != nil {
		return err
	}

	obs, ctx := r.observer.start(ctx, operationSave, key)

	stream, err := r.store.OpenStreamForWriting(ctx, key, obj.Version())
	if err != nil {
		obs.failure(err)
		return err
	}

	return r.commit(ctx, obs, obj, stream, commitID)
}

func (r *Repository[T, ID]) observedLoad(ctx context.Context, operation string, id ID) (T, error) {
	var zero T

	key, err := r.StreamKey(id)
	if err != nil {
		return zero, err
	}

	obs, ctx := r.observer.start(ctx, operation, key)

	obj, eventCount, err := r.load(ctx, id, key)

	switch {
	case operation == operationFind && errors.Is(err, eventstore.ErrStreamNotFound):
		obs.notFound()
		return zero, err
	case err != nil:
		obs.failure(err)
		return zero, err
	}

	obs.success(obj.Version(), eventCount, "")

	return obj, nil
}

func (r *Repository[T, ID]) load(ctx context.Context, id ID, key eventstore.StreamKey) (T, int, error) {
	var zero T

	stream, err := r.store.OpenStreamForReading(ctx, key)
	if err != nil {
		return zero, 0, err
	}

	events, err := r.codec.DecodeAll(stream.Events)
	if err != nil {
		return zero, 0, err
	}

	obj := r.factory(id)
	if err := obj.Load(ctx, stream.Version, events); err != nil {
		return zero, 0, err
	}

	return obj, len(events), nil
}

// commit moves the pending changes of obj into stream and commits it.
// Persist has already advanced obj when the commit fails, so obj must be discarded then.
func (r *Repository[T, ID]) commit(
	ctx context.Context,
	obs *observation,
	obj T,
	stream *eventstore.WritableStream,
	commitID string,
) error {

	cause := codec.MetadataFromContext(ctx)

	err := obj.Persist(eventsourcing.BusFunc(func(event eventsourcing.Event) error {
		storableEvent, err := r.codec.Encode(event, metadataFor(cause, event))
		if err != nil {
			return err
		}

		return stream.Append(storableEvent)
	}))
	if err != nil {
		obs.failure(err)
		return err
	}

	if err := stream.Commit(ctx, commitID); err != nil {
		obs.failure(err)
		return err
	}

	obs.success(obj.Version(), stream.Len(), commitID)

	return nil
}

// metadataFor identifies the stored message by the event id, caused by the message in the context if there is one.
func metadataFor(cause codec.Metadata, event eventsourcing.Event) codec.Metadata {
	if cause.MessageID == "" {
		return codec.Metadata{MessageID: event.EventID().String()}
	}

	return cause.CausedBy(event.EventID())
}

func validate(obj any, commitID string) error {
	if isNil(obj) {
		return ErrNilObject
	}

	if commitID == "" {
		return ErrEmptyCommitID
	}

	return nil
}
