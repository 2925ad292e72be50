package eventstore

import (
	"context"
	"errors"
)

// StreamKey identifies a stream: a bucket (a namespace, e.g. per bounded context) and a stream name.
type StreamKey struct {
	Bucket string
	Name   string
}

// NewStreamKey builds a StreamKey, an empty bucket selects DefaultBucket.
func NewStreamKey(bucket, name string) StreamKey {
	if bucket == "" {
		bucket = DefaultBucket
	}

	return StreamKey{Bucket: bucket, Name: name}
}

// Validate checks that both parts of the key are set.
func (k StreamKey) Validate() error {
	if k.Bucket == "" {
		return ErrEmptyBucket
	}

	if k.Name == "" {
		return ErrEmptyStreamName
	}

	return nil
}

func (k StreamKey) String() string {
	return k.Bucket + "/" + k.Name
}

// ReadableStream is a stream read at a point in time.
// Version is the number of commits, Events are all events of all commits in order.
type ReadableStream struct {
	Key     StreamKey
	Version uint64
	Events  StorableEvents
}

// StreamStore is the persistence boundary for event streams.
//
// A stream is an append-only, identity-keyed log whose version is the number of commits it has.
// A commit is an atomic batch append tagged with a caller-supplied commit id.
type StreamStore interface {
	// OpenStreamForReading returns all events of the stream, ErrStreamNotFound if it has no commits.
	OpenStreamForReading(ctx context.Context, key StreamKey) (ReadableStream, error)

	// CreateStream returns a writable stream whose commit fails with ErrStreamAlreadyExists
	// if the stream has commits by then.
	CreateStream(ctx context.Context, key StreamKey) (*WritableStream, error)

	// OpenStreamForWriting returns a writable stream whose commit fails with ErrConcurrencyConflict
	// unless the stream is still at expectedVersion. It fails early with ErrStreamNotFound or
	// ErrConcurrencyConflict if that is already known.
	OpenStreamForWriting(ctx context.Context, key StreamKey, expectedVersion uint64) (*WritableStream, error)

	// ExistsStream reports whether the stream has at least one commit.
	ExistsStream(ctx context.Context, key StreamKey) (bool, error)
}

// Commit is one atomic batch append to a stream.
type Commit struct {
	Key             StreamKey
	ExpectedVersion uint64
	CommitID        string
	Events          StorableEvents

	// MustCreate makes a stream with commits fail with ErrStreamAlreadyExists instead of ErrConcurrencyConflict.
	MustCreate bool
}

// NewVersion is the version of the stream after the commit.
func (c Commit) NewVersion() uint64 {
	return c.ExpectedVersion + 1
}

// Committer is implemented by the engines. It must write all events of a commit or none and
// enforce the expected version as compare-and-swap. A commit id that was already committed to the
// stream fails with ErrDuplicateCommit, which takes precedence over a version mismatch.
type Committer interface {
	CommitStream(ctx context.Context, commit Commit) error
}

// WritableStream buffers appended events until they are committed in one batch.
// It is not safe for concurrent use and can be committed once.
type WritableStream struct {
	key             StreamKey
	expectedVersion uint64
	mustCreate      bool
	committer       Committer
	pending         StorableEvents
	committed       bool
}

// NewWritableStream creates a writable stream for an existing stream at expectedVersion.
func NewWritableStream(committer Committer, key StreamKey, expectedVersion uint64) *WritableStream {
	return &WritableStream{
		key:             key,
		expectedVersion: expectedVersion,
		committer:       committer,
	}
}

// NewCreatableStream creates a writable stream for a stream that must not exist yet.
func NewCreatableStream(committer Committer, key StreamKey) *WritableStream {
	return &WritableStream{
		key:        key,
		mustCreate: true,
		committer:  committer,
	}
}

// Key returns the key of the stream.
func (s *WritableStream) Key() StreamKey {
	return s.key
}

// ExpectedVersion returns the version the commit is checked against.
func (s *WritableStream) ExpectedVersion() uint64 {
	return s.expectedVersion
}

// Len returns the number of appended and not yet committed events.
func (s *WritableStream) Len() int {
	return len(s.pending)
}

// Append buffers event for the next commit.
func (s *WritableStream) Append(event StorableEvent) error {
	if s.committed {
		return ErrStreamAlreadyCommitted
	}

	if event.EventType == "" {
		return ErrEmptyEventType
	}

	s.pending = append(s.pending, event)

	return nil
}

// Commit writes all appended events atomically under commitID.
func (s *WritableStream) Commit(ctx context.Context, commitID string) error {
	if s.committed {
		return ErrStreamAlreadyCommitted
	}

	if commitID == "" {
		return ErrEmptyCommitID
	}

	if len(s.pending) == 0 {
		return ErrNothingToCommit
	}

	if s.committer == nil {
		return errors.New("writable stream has no committer")
	}

	err := s.committer.CommitStream(ctx, Commit{
		Key:             s.key,
		ExpectedVersion: s.expectedVersion,
		CommitID:        commitID,
		Events:          s.pending,
		MustCreate:      s.mustCreate,
	})
	if err != nil {
		return err
	}

	s.committed = true

	return nil
}
