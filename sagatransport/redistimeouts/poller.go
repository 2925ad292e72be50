package redistimeouts

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AntonStoeckl/eventsourced-entities-go/eventsourcing"
	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore"
	"github.com/AntonStoeckl/eventsourced-entities-go/sagatransport"
)

const (
	logMsgDelivered        = "saga timeout delivered"
	logMsgDeliveryFailed   = "saga timeout delivery failed, rescheduled"
	logMsgUndecodable      = "saga timeout dropped, it cannot be decoded"
	logMsgRescheduleFailed = "saga timeout could not be rescheduled"
	logMsgPollFailed       = "saga timeout poll failed"
	logAttrSagaID          = "saga_id"
	logAttrEventType       = "event_type"
	logAttrError           = "error"
)

// DeliverFunc hands a due timeout back to its saga.
type DeliverFunc func(ctx context.Context, sagaID eventsourcing.SagaID, event eventsourcing.Event) error

// Poller delivers due timeouts.
type Poller struct {
	client  Client
	codec   EventCodec
	deliver DeliverFunc
	cfg     config
}

// NewPoller creates a Poller.
func NewPoller(client Client, eventCodec EventCodec, deliver DeliverFunc, options ...Option) *Poller {
	return &Poller{client: client, codec: eventCodec, deliver: deliver, cfg: newConfig(options)}
}

// Poll delivers the timeouts that are due now and returns how many were delivered.
// A failed delivery is rescheduled after the retry delay; a member that cannot be decoded is dropped.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	members, err := p.client.ZRangeByScore(ctx, p.cfg.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(p.cfg.now().UnixMilli(), 10),
		Count: p.cfg.batchSize,
	}).Result()
	if err != nil {
		return 0, errors.Join(sagatransport.ErrDeliveringTimeoutFailed, err)
	}

	delivered := 0

	for _, member := range members {
		removed, err := p.client.ZRem(ctx, p.cfg.key, member).Result()
		if err != nil {
			return delivered, errors.Join(sagatransport.ErrDeliveringTimeoutFailed, err)
		}

		if removed == 0 {
			continue // claimed by another poller
		}

		if p.deliverMember(ctx, member) {
			delivered++
		}
	}

	return delivered, nil
}

// Run polls every interval until ctx is done.
func (p *Poller) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
				p.logError(logMsgPollFailed, logAttrError, err.Error())
			}
		}
	}
}

func (p *Poller) deliverMember(ctx context.Context, member string) bool {
	var e entry
	if err := json.Unmarshal([]byte(member), &e); err != nil {
		p.logError(logMsgUndecodable, logAttrError, err.Error())
		return false
	}

	event, err := p.codec.Decode(eventstore.StorableEvent{
		EventType:    e.EventType,
		OccurredAt:   e.OccurredAt,
		PayloadJSON:  e.PayloadJSON,
		MetadataJSON: e.MetadataJSON,
	})
	if err != nil {
		p.logError(logMsgUndecodable, logAttrSagaID, e.SagaID, logAttrEventType, e.EventType, logAttrError, err.Error())
		return false
	}

	if err := p.deliver(ctx, eventsourcing.SagaID(e.SagaID), event); err != nil {
		if p.cfg.logger != nil {
			p.cfg.logger.Warn(logMsgDeliveryFailed, logAttrSagaID, e.SagaID, logAttrEventType, e.EventType, logAttrError, err.Error())
		}

		due := score(p.cfg.now().Add(p.cfg.retryDelay))
		if err := p.client.ZAdd(ctx, p.cfg.key, redis.Z{Score: due, Member: member}).Err(); err != nil {
			p.logError(logMsgRescheduleFailed, logAttrSagaID, e.SagaID, logAttrError, err.Error())
		}

		return false
	}

	if p.cfg.logger != nil {
		p.cfg.logger.Debug(logMsgDelivered, logAttrSagaID, e.SagaID, logAttrEventType, e.EventType)
	}

	return true
}

func (p *Poller) logError(msg string, args ...any) {
	if p.cfg.logger != nil {
		p.cfg.logger.Error(msg, args...)
	}
}
