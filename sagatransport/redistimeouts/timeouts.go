// Package redistimeouts implements eventsourcing.TimeoutRequester on a Redis sorted set.
//
// A Requester adds every timeout as a member scored with its due time in unix milliseconds.
// A Poller takes due members off the set and hands the event back to the saga. Several pollers
// may share a set: a member is only delivered by the poller whose ZREM removed it.
package redistimeouts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"github.com/AntonStoeckl/eventsourced-entities-go/codec"
	"github.com/AntonStoeckl/eventsourced-entities-go/eventsourcing"
	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore"
	"github.com/AntonStoeckl/eventsourced-entities-go/sagatransport"
)

const (
	// DefaultKey is the sorted set used when WithKey is not given.
	DefaultKey = "saga:timeouts"

	defaultBatchSize  = 100
	defaultRetryDelay = 5 * time.Second
)

// Client is the part of *redis.Client (or redis.UniversalClient) the package needs.
type Client interface {
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
}

// EventCodec encodes the timeout events, *codec.Registry implements it.
type EventCodec interface {
	Encode(event eventsourcing.Event, metadata codec.Metadata) (eventstore.StorableEvent, error)
	Decode(storableEvent eventstore.StorableEvent) (eventsourcing.Event, error)
}

// Logger interface for the poller's output.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type config struct {
	key        string
	batchSize  int64
	retryDelay time.Duration
	logger     Logger
	now        func() time.Time
}

// Option defines a functional option for a Requester or a Poller.
type Option func(*config)

// WithKey replaces DefaultKey. Requester and Poller must use the same key.
func WithKey(key string) Option {
	return func(c *config) {
		c.key = key
	}
}

// WithBatchSize limits how many due timeouts one Poll takes.
func WithBatchSize(size int64) Option {
	return func(c *config) {
		if size > 0 {
			c.batchSize = size
		}
	}
}

// WithRetryDelay sets after how long a timeout whose delivery failed is due again.
func WithRetryDelay(delay time.Duration) Option {
	return func(c *config) {
		c.retryDelay = delay
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

func newConfig(options []Option) config {
	cfg := config{
		key:        DefaultKey,
		batchSize:  defaultBatchSize,
		retryDelay: defaultRetryDelay,
		now:        time.Now,
	}

	for _, option := range options {
		option(&cfg)
	}

	return cfg
}

// entry is the JSON member stored in the sorted set. ID keeps equal timeouts distinct.
type entry struct {
	ID           string              `json:"id"`
	SagaID       string              `json:"sagaId"`
	EventType    string              `json:"eventType"`
	OccurredAt   time.Time           `json:"occurredAt"`
	PayloadJSON  jsoniter.RawMessage `json:"payload"`
	MetadataJSON jsoniter.RawMessage `json:"metadata"`
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Requester schedules saga timeouts.
type Requester struct {
	client Client
	codec  EventCodec
	cfg    config
}

// NewRequester creates a Requester.
func NewRequester(client Client, eventCodec EventCodec, options ...Option) *Requester {
	return &Requester{client: client, codec: eventCodec, cfg: newConfig(options)}
}

// RequestTimeout schedules event to be handed back to the saga sagaID after delay.
func (r *Requester) RequestTimeout(ctx context.Context, sagaID eventsourcing.SagaID, event eventsourcing.Event, delay time.Duration) error {
	storableEvent, err := r.codec.Encode(event, codec.MetadataFromContext(ctx))
	if err != nil {
		return errors.Join(sagatransport.ErrRequestingTimeoutFailed, err)
	}

	member, err := json.Marshal(entry{
		ID:           uuid.NewString(),
		SagaID:       sagaID.String(),
		EventType:    storableEvent.EventType,
		OccurredAt:   storableEvent.OccurredAt,
		PayloadJSON:  storableEvent.PayloadJSON,
		MetadataJSON: storableEvent.MetadataJSON,
	})
	if err != nil {
		return errors.Join(sagatransport.ErrRequestingTimeoutFailed, err)
	}

	due := r.cfg.now().Add(delay)

	if err := r.client.ZAdd(ctx, r.cfg.key, redis.Z{Score: score(due), Member: string(member)}).Err(); err != nil {
		return errors.Join(sagatransport.ErrRequestingTimeoutFailed, err)
	}

	return nil
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

var _ eventsourcing.TimeoutRequester = (*Requester)(nil)
