package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore"
)

const (
	operationLoad = "load"
	operationFind = "find"
	operationAdd  = "add"
	operationSave = "save"

	metricOperationDuration = "repository_operation_duration_seconds"
	metricOperationErrors   = "repository_operation_errors_total"

	spanNamePrefix = "repository."

	labelOperation  = "operation"
	labelEntityType = "entity_type"
	labelStatus     = "status"
	labelErrorKind  = "error_kind"

	statusSuccess  = eventstore.SpanStatusSuccess
	statusError    = eventstore.SpanStatusError
	statusNotFound = "not_found"

	errorKindConflict  = "concurrency_conflict"
	errorKindDuplicate = "duplicate_commit"
	errorKindNotFound  = "stream_not_found"
	errorKindExists    = "stream_already_exists"
	errorKindOther     = "other"

	logMsgLoaded      = "repository loaded"
	logMsgNotFound    = "repository found nothing"
	logMsgCommitted   = "repository committed"
	logMsgConflict    = "repository commit rejected"
	logMsgFailed      = "repository operation failed"
	logAttrStream     = "stream"
	logAttrVersion    = "version"
	logAttrEventCount = "event_count"
	logAttrCommitID   = "commit_id"
	logAttrOperation  = "operation"
	logAttrFound      = "found"
	logAttrError      = "error"
)

type observer struct {
	logger     eventstore.Logger
	metrics    eventstore.MetricsCollector
	tracing    eventstore.TracingCollector
	entityType string
}

type observation struct {
	o         *observer
	operation string
	stream    string
	start     time.Time
	span      eventstore.SpanContext
}

func (o *observer) start(ctx context.Context, operation string, key eventstore.StreamKey) (*observation, context.Context) {
	obs := &observation{o: o, operation: operation, stream: key.String(), start: time.Now()}

	if o.tracing != nil {
		ctx, obs.span = o.tracing.StartSpan(ctx, spanNamePrefix+operation, map[string]string{
			labelOperation:  operation,
			labelEntityType: o.entityType,
			logAttrStream:   obs.stream,
		})
	}

	return obs, ctx
}

func (obs *observation) success(version uint64, eventCount int, commitID string) {
	obs.record(statusSuccess, nil)

	if obs.o.logger != nil {
		if obs.operation == operationLoad || obs.operation == operationFind {
			obs.o.logger.Debug(logMsgLoaded, logAttrStream, obs.stream, logAttrVersion, version, logAttrEventCount, eventCount)
		} else {
			obs.o.logger.Debug(
				logMsgCommitted,
				logAttrStream, obs.stream,
				logAttrVersion, version,
				logAttrEventCount, eventCount,
				logAttrCommitID, commitID,
			)
		}
	}

	obs.finish(statusSuccess, map[string]string{
		logAttrVersion:    strconv.FormatUint(version, 10),
		logAttrEventCount: strconv.Itoa(eventCount),
	})
}

// notFound finishes an optional lookup that found no stream. It is not counted as an error.
func (obs *observation) notFound() {
	obs.record(statusNotFound, nil)

	if obs.o.logger != nil {
		obs.o.logger.Debug(logMsgNotFound, logAttrStream, obs.stream)
	}

	obs.finish(statusSuccess, map[string]string{logAttrFound: "false"})
}

func (obs *observation) failure(err error) {
	kind := errorKind(err)

	obs.record(statusError, map[string]string{labelErrorKind: kind})

	if obs.o.logger != nil {
		switch kind {
		case errorKindConflict, errorKindDuplicate, errorKindExists:
			obs.o.logger.Info(logMsgConflict, logAttrOperation, obs.operation, logAttrStream, obs.stream, logAttrError, err.Error())
		case errorKindNotFound:
		default:
			obs.o.logger.Error(logMsgFailed, logAttrOperation, obs.operation, logAttrStream, obs.stream, logAttrError, err.Error())
		}
	}

	obs.finish(spanStatus(kind), map[string]string{labelErrorKind: kind})
}

func (obs *observation) record(status string, extra map[string]string) {
	if obs.o.metrics == nil {
		return
	}

	labels := map[string]string{
		labelOperation:  obs.operation,
		labelEntityType: obs.o.entityType,
		labelStatus:     status,
	}

	obs.o.metrics.RecordDuration(metricOperationDuration, time.Since(obs.start), labels)

	if status == statusError {
		for key, value := range extra {
			labels[key] = value
		}

		obs.o.metrics.IncrementCounter(metricOperationErrors, labels)
	}
}

func (obs *observation) finish(status string, attrs map[string]string) {
	if obs.span == nil || obs.o.tracing == nil {
		return
	}

	obs.o.tracing.FinishSpan(obs.span, status, attrs)
}

func spanStatus(kind string) string {
	switch kind {
	case errorKindConflict, errorKindExists:
		return eventstore.SpanStatusConflict
	case errorKindDuplicate:
		return eventstore.SpanStatusDuplicate
	default:
		return statusError
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, eventstore.ErrConcurrencyConflict):
		return errorKindConflict
	case errors.Is(err, eventstore.ErrDuplicateCommit):
		return errorKindDuplicate
	case errors.Is(err, eventstore.ErrStreamNotFound):
		return errorKindNotFound
	case errors.Is(err, eventstore.ErrStreamAlreadyExists):
		return errorKindExists
	default:
		return errorKindOther
	}
}
