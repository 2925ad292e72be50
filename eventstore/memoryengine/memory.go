// Package memoryengine provides an in-process implementation of eventstore.StreamStore.
//
// It has the same commit semantics as the database engines (compare-and-swap on the stream
// version, duplicate commit detection) and is meant for tests, demos and single-process tools.
// Nothing is persisted beyond the lifetime of the EventStore value.
package memoryengine

import (
	"context"
	"sync"

	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore"
)

const (
	logMsgCommitted           = "eventstore operation: commit"
	logMsgConcurrencyConflict = "eventstore operation: concurrency conflict detected"
	logMsgDuplicateCommit     = "eventstore operation: duplicate commit detected"
	logAttrStream             = "stream"
	logAttrCommitID           = "commit_id"
	logAttrEventCount         = "event_count"
	logAttrExpectedVersion    = "expected_version"
	logAttrActualVersion      = "actual_version"
)

type storedCommit struct {
	id     string
	events eventstore.StorableEvents
}

// EventStore keeps streams in a map guarded by a mutex.
type EventStore struct {
	mu      sync.RWMutex
	streams map[eventstore.StreamKey][]storedCommit
	logger  eventstore.Logger
}

// Option defines a functional option for configuring EventStore.
type Option func(*EventStore)

// WithLogger sets the logger for the EventStore.
func WithLogger(logger eventstore.Logger) Option {
	return func(es *EventStore) {
		es.logger = logger
	}
}

// NewEventStore creates an empty EventStore.
func NewEventStore(options ...Option) *EventStore {
	es := &EventStore{
		streams: make(map[eventstore.StreamKey][]storedCommit),
	}

	for _, option := range options {
		option(es)
	}

	return es
}

// OpenStreamForReading returns all events of the stream in commit order.
func (es *EventStore) OpenStreamForReading(ctx context.Context, key eventstore.StreamKey) (eventstore.ReadableStream, error) {
	if err := es.precheck(ctx, key); err != nil {
		return eventstore.ReadableStream{}, err
	}

	es.mu.RLock()
	defer es.mu.RUnlock()

	commits, ok := es.streams[key]
	if !ok {
		return eventstore.ReadableStream{}, eventstore.ErrStreamNotFound
	}

	events := make(eventstore.StorableEvents, 0)
	for _, commit := range commits {
		events = append(events, commit.events...)
	}

	return eventstore.ReadableStream{
		Key:     key,
		Version: uint64(len(commits)),
		Events:  events,
	}, nil
}

// CreateStream returns a writable stream that can only be committed while the stream has no commits.
func (es *EventStore) CreateStream(ctx context.Context, key eventstore.StreamKey) (*eventstore.WritableStream, error) {
	if err := es.precheck(ctx, key); err != nil {
		return nil, err
	}

	return eventstore.NewCreatableStream(es, key), nil
}

// OpenStreamForWriting returns a writable stream for an existing stream at expectedVersion.
func (es *EventStore) OpenStreamForWriting(
	ctx context.Context,
	key eventstore.StreamKey,
	expectedVersion uint64,
) (*eventstore.WritableStream, error) {

	if err := es.precheck(ctx, key); err != nil {
		return nil, err
	}

	es.mu.RLock()
	commits, ok := es.streams[key]
	es.mu.RUnlock()

	if !ok {
		return nil, eventstore.ErrStreamNotFound
	}

	if uint64(len(commits)) != expectedVersion {
		return nil, eventstore.ErrConcurrencyConflict
	}

	return eventstore.NewWritableStream(es, key, expectedVersion), nil
}

// ExistsStream reports whether the stream has at least one commit.
func (es *EventStore) ExistsStream(ctx context.Context, key eventstore.StreamKey) (bool, error) {
	if err := es.precheck(ctx, key); err != nil {
		return false, err
	}

	es.mu.RLock()
	defer es.mu.RUnlock()

	_, ok := es.streams[key]

	return ok, nil
}

// CommitStream appends the commit atomically if the stream is still at the expected version.
func (es *EventStore) CommitStream(ctx context.Context, commit eventstore.Commit) error {
	if err := es.precheck(ctx, commit.Key); err != nil {
		return err
	}

	es.mu.Lock()
	defer es.mu.Unlock()

	commits := es.streams[commit.Key]

	for _, existing := range commits {
		if existing.id == commit.CommitID {
			es.logInfo(logMsgDuplicateCommit, logAttrStream, commit.Key.String(), logAttrCommitID, commit.CommitID)
			return eventstore.ErrDuplicateCommit
		}
	}

	actualVersion := uint64(len(commits))
	if actualVersion != commit.ExpectedVersion {
		es.logInfo(
			logMsgConcurrencyConflict,
			logAttrStream, commit.Key.String(),
			logAttrExpectedVersion, commit.ExpectedVersion,
			logAttrActualVersion, actualVersion,
		)

		if commit.MustCreate {
			return eventstore.ErrStreamAlreadyExists
		}

		return eventstore.ErrConcurrencyConflict
	}

	events := make(eventstore.StorableEvents, len(commit.Events))
	copy(events, commit.Events)

	es.streams[commit.Key] = append(commits, storedCommit{id: commit.CommitID, events: events})

	es.logDebug(
		logMsgCommitted,
		logAttrStream, commit.Key.String(),
		logAttrCommitID, commit.CommitID,
		logAttrEventCount, len(events),
	)

	return nil
}

func (es *EventStore) precheck(ctx context.Context, key eventstore.StreamKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return key.Validate()
}

func (es *EventStore) logDebug(msg string, args ...any) {
	if es.logger != nil {
		es.logger.Debug(msg, args...)
	}
}

func (es *EventStore) logInfo(msg string, args ...any) {
	if es.logger != nil {
		es.logger.Info(msg, args...)
	}
}

var _ eventstore.StreamStore = (*EventStore)(nil)
var _ eventstore.Committer = (*EventStore)(nil)
