// Package instrumentation bundles the logging, metrics and tracing hooks shared by the stream store engines.
//
// All collectors are optional. A nil collector is skipped, so engines can call the hooks unconditionally.
package instrumentation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore"
)

const (
	OperationRead   = "read"
	OperationCommit = "commit"
	OperationExists = "exists"

	MetricReadDuration         = "eventstore_read_duration_seconds"
	MetricCommitDuration       = "eventstore_commit_duration_seconds"
	MetricExistsDuration       = "eventstore_exists_duration_seconds"
	MetricEventsRead           = "eventstore_events_read_total"
	MetricEventsCommitted      = "eventstore_events_committed_total"
	MetricConcurrencyConflicts = "eventstore_concurrency_conflicts_total"
	MetricDuplicateCommits     = "eventstore_duplicate_commits_total"
	MetricDatabaseErrors       = "eventstore_database_errors_total"

	SpanNameRead   = "eventstore.read"
	SpanNameCommit = "eventstore.commit"
	SpanNameExists = "eventstore.exists"

	SpanAttrOperation       = "operation"
	SpanAttrStream          = "stream"
	SpanAttrEventCount      = "event_count"
	SpanAttrEventType       = "event_type"
	SpanAttrCommitID        = "commit_id"
	SpanAttrExpectedVersion = "expected_version"
	SpanAttrVersion         = "version"
	SpanAttrDurationMS      = "duration_ms"
	SpanAttrErrorType       = "error_type"

	LabelStatus       = "status"
	LabelConflictType = "conflict_type"

	StatusSuccess = eventstore.SpanStatusSuccess
	StatusError   = eventstore.SpanStatusError

	ErrorTypeBuildQuery          = "build_query"
	ErrorTypeDatabaseQuery       = "database_query"
	ErrorTypeRowScan             = "row_scan"
	ErrorTypeBuildStorableEvent  = "build_storable_event"
	ErrorTypeDatabaseExec        = "database_exec"
	ErrorTypeRowsAffected        = "rows_affected"
	ErrorTypeConcurrencyConflict = "concurrency_conflict"
	ErrorTypeDuplicateCommit     = "duplicate_commit"
	ErrorTypeStreamNotFound      = "stream_not_found"
	ErrorTypeStreamAlreadyExists = "stream_already_exists"
	ErrorTypeCanceled            = "canceled"
	ErrorTypeValidation          = "validation"
	ErrorTypeUnknown             = "unknown"

	logMsgSQLExecuted = "executed sql for: "
	logMsgOperation   = "eventstore operation: "
	logAttrError      = "error"
	logAttrQuery      = "query"
	logAttrDurationMS = "duration_ms"
)

// Options selects the collectors. Each one may be nil.
type Options struct {
	Logger           eventstore.Logger
	ContextualLogger eventstore.ContextualLogger
	Metrics          eventstore.MetricsCollector
	Tracing          eventstore.TracingCollector
}

// Instruments emits logs, metrics and spans for stream store operations.
type Instruments struct {
	opts Options
	now  func() time.Time
}

// New creates Instruments for the given collectors.
func New(opts Options) *Instruments {
	return &Instruments{opts: opts, now: time.Now}
}

// Logger returns the plain logger, which may be nil.
func (i *Instruments) Logger() eventstore.Logger {
	return i.opts.Logger
}

// LogSQL logs an executed SQL statement with its duration at debug level.
func (i *Instruments) LogSQL(ctx context.Context, sqlQuery string, action string, duration time.Duration) {
	if i.opts.Logger != nil {
		i.opts.Logger.Debug(logMsgSQLExecuted+action, logAttrDurationMS, ToMilliseconds(duration), logAttrQuery, sqlQuery)
	}

	if i.opts.ContextualLogger != nil {
		i.opts.ContextualLogger.DebugContext(ctx, logMsgSQLExecuted+action, logAttrDurationMS, ToMilliseconds(duration), logAttrQuery, sqlQuery)
	}
}

// LogOperation logs operational information at info level.
func (i *Instruments) LogOperation(ctx context.Context, action string, args ...any) {
	if i.opts.Logger != nil {
		i.opts.Logger.Info(logMsgOperation+action, args...)
	}

	if i.opts.ContextualLogger != nil {
		i.opts.ContextualLogger.InfoContext(ctx, logMsgOperation+action, args...)
	}
}

// LogWarn logs a non-critical problem.
func (i *Instruments) LogWarn(ctx context.Context, message string, err error, args ...any) {
	allArgs := append([]any{logAttrError, err.Error()}, args...)

	if i.opts.Logger != nil {
		i.opts.Logger.Warn(message, allArgs...)
	}

	if i.opts.ContextualLogger != nil {
		i.opts.ContextualLogger.WarnContext(ctx, message, allArgs...)
	}
}

// LogError logs a failure that makes the operation fail.
func (i *Instruments) LogError(ctx context.Context, message string, err error, args ...any) {
	allArgs := append([]any{logAttrError, err.Error()}, args...)

	if i.opts.Logger != nil {
		i.opts.Logger.Error(message, allArgs...)
	}

	if i.opts.ContextualLogger != nil {
		i.opts.ContextualLogger.ErrorContext(ctx, message, allArgs...)
	}
}

// ToMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func ToMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}

// ErrorType classifies err for metric labels and span attributes.
func ErrorType(err error) string {
	switch {
	case errors.Is(err, eventstore.ErrConcurrencyConflict):
		return ErrorTypeConcurrencyConflict
	case errors.Is(err, eventstore.ErrDuplicateCommit):
		return ErrorTypeDuplicateCommit
	case errors.Is(err, eventstore.ErrStreamNotFound):
		return ErrorTypeStreamNotFound
	case errors.Is(err, eventstore.ErrStreamAlreadyExists):
		return ErrorTypeStreamAlreadyExists
	case errors.Is(err, eventstore.ErrBuildingQueryFailed):
		return ErrorTypeBuildQuery
	case errors.Is(err, eventstore.ErrQueryingEventsFailed):
		return ErrorTypeDatabaseQuery
	case errors.Is(err, eventstore.ErrScanningDBRowFailed):
		return ErrorTypeRowScan
	case errors.Is(err, eventstore.ErrBuildingStorableEventFailed):
		return ErrorTypeBuildStorableEvent
	case errors.Is(err, eventstore.ErrAppendingEventFailed):
		return ErrorTypeDatabaseExec
	case errors.Is(err, eventstore.ErrGettingRowsAffectedFailed):
		return ErrorTypeRowsAffected
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeCanceled
	case errors.Is(err, eventstore.ErrEmptyBucket), errors.Is(err, eventstore.ErrEmptyStreamName),
		errors.Is(err, eventstore.ErrEmptyCommitID), errors.Is(err, eventstore.ErrNothingToCommit):
		return ErrorTypeValidation
	default:
		return ErrorTypeUnknown
	}
}

// Observation tracks one stream store operation from start to finish.
type Observation struct {
	ins       *Instruments
	ctx       context.Context
	span      eventstore.SpanContext
	operation string
	metric    string
	start     time.Time
}

// StartRead starts observing a stream read.
func (i *Instruments) StartRead(ctx context.Context, key eventstore.StreamKey) (*Observation, context.Context) {
	return i.start(ctx, OperationRead, SpanNameRead, MetricReadDuration, map[string]string{
		SpanAttrOperation: OperationRead,
		SpanAttrStream:    key.String(),
	})
}

// StartExists starts observing a stream existence check.
func (i *Instruments) StartExists(ctx context.Context, key eventstore.StreamKey) (*Observation, context.Context) {
	return i.start(ctx, OperationExists, SpanNameExists, MetricExistsDuration, map[string]string{
		SpanAttrOperation: OperationExists,
		SpanAttrStream:    key.String(),
	})
}

// StartCommit starts observing a commit.
func (i *Instruments) StartCommit(ctx context.Context, commit eventstore.Commit) (*Observation, context.Context) {
	attrs := map[string]string{
		SpanAttrOperation:       OperationCommit,
		SpanAttrStream:          commit.Key.String(),
		SpanAttrCommitID:        commit.CommitID,
		SpanAttrEventCount:      fmt.Sprintf("%d", len(commit.Events)),
		SpanAttrExpectedVersion: fmt.Sprintf("%d", commit.ExpectedVersion),
	}

	if len(commit.Events) > 0 {
		attrs[SpanAttrEventType] = commit.Events[0].EventType
	}

	return i.start(ctx, OperationCommit, SpanNameCommit, MetricCommitDuration, attrs)
}

func (i *Instruments) start(
	ctx context.Context,
	operation string,
	spanName string,
	metric string,
	attrs map[string]string,
) (*Observation, context.Context) {

	o := &Observation{
		ins:       i,
		operation: operation,
		metric:    metric,
		start:     i.now(),
	}

	if i.opts.Tracing != nil {
		ctx, o.span = i.opts.Tracing.StartSpan(ctx, spanName, attrs)
	}

	o.ctx = ctx

	return o, ctx
}

// Success finishes the observation of a successful operation.
// eventCount is the number of events read or committed, version the resulting stream version.
func (o *Observation) Success(eventCount int, version uint64) {
	duration := o.ins.now().Sub(o.start)

	o.ins.recordDuration(o.ctx, o.metric, duration, o.operation, StatusSuccess)

	switch o.operation {
	case OperationRead:
		o.ins.recordValue(o.ctx, MetricEventsRead, float64(eventCount), o.operation, StatusSuccess)
	case OperationCommit:
		o.ins.recordValue(o.ctx, MetricEventsCommitted, float64(eventCount), o.operation, StatusSuccess)
	}

	attrs := map[string]string{
		SpanAttrEventCount: fmt.Sprintf("%d", eventCount),
		SpanAttrVersion:    fmt.Sprintf("%d", version),
		SpanAttrDurationMS: fmt.Sprintf("%.2f", ToMilliseconds(duration)),
	}

	o.finishSpan(StatusSuccess, attrs)
}

// Failure finishes the observation of a failed operation, classifying err.
func (o *Observation) Failure(err error) {
	duration := o.ins.now().Sub(o.start)
	errorType := ErrorType(err)

	o.ins.recordDuration(o.ctx, o.metric, duration, o.operation, StatusError)

	switch errorType {
	case ErrorTypeConcurrencyConflict, ErrorTypeStreamAlreadyExists:
		o.ins.incrementCounter(o.ctx, MetricConcurrencyConflicts, map[string]string{
			SpanAttrOperation: o.operation,
			LabelConflictType: errorType,
		})
	case ErrorTypeDuplicateCommit:
		o.ins.incrementCounter(o.ctx, MetricDuplicateCommits, map[string]string{
			SpanAttrOperation: o.operation,
		})
	case ErrorTypeStreamNotFound, ErrorTypeValidation, ErrorTypeCanceled:
		// expected outcomes, not database errors
	default:
		o.ins.incrementCounter(o.ctx, MetricDatabaseErrors, map[string]string{
			SpanAttrOperation: o.operation,
			LabelStatus:       StatusError,
			SpanAttrErrorType: errorType,
		})
	}

	o.finishSpan(SpanStatus(errorType), map[string]string{
		SpanAttrErrorType:  errorType,
		SpanAttrDurationMS: fmt.Sprintf("%.2f", ToMilliseconds(duration)),
	})
}

// SpanStatus returns the status a failed operation's span is finished with.
func SpanStatus(errorType string) string {
	switch errorType {
	case ErrorTypeConcurrencyConflict, ErrorTypeStreamAlreadyExists:
		return eventstore.SpanStatusConflict
	case ErrorTypeDuplicateCommit:
		return eventstore.SpanStatusDuplicate
	default:
		return StatusError
	}
}

func (o *Observation) finishSpan(status string, attrs map[string]string) {
	if o.span == nil || o.ins.opts.Tracing == nil {
		return
	}

	o.span.SetStatus(status)
	for key, value := range attrs {
		o.span.AddAttribute(key, value)
	}

	o.ins.opts.Tracing.FinishSpan(o.span, status, attrs)
}

func (i *Instruments) recordDuration(ctx context.Context, metric string, duration time.Duration, operation, status string) {
	if i.opts.Metrics == nil {
		return
	}

	labels := map[string]string{SpanAttrOperation: operation, LabelStatus: status}

	if contextual, ok := i.opts.Metrics.(eventstore.ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(ctx, metric, duration, labels)
		return
	}

	i.opts.Metrics.RecordDuration(metric, duration, labels)
}

func (i *Instruments) recordValue(ctx context.Context, metric string, value float64, operation, status string) {
	if i.opts.Metrics == nil {
		return
	}

	labels := map[string]string{SpanAttrOperation: operation, LabelStatus: status}

	if contextual, ok := i.opts.Metrics.(eventstore.ContextualMetricsCollector); ok {
		contextual.RecordValueContext(ctx, metric, value, labels)
		return
	}

	i.opts.Metrics.RecordValue(metric, value, labels)
}

func (i *Instruments) incrementCounter(ctx context.Context, metric string, labels map[string]string) {
	if i.opts.Metrics == nil {
		return
	}

	if contextual, ok := i.opts.Metrics.(eventstore.ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, metric, labels)
		return
	}

	i.opts.Metrics.IncrementCounter(metric, labels)
}
