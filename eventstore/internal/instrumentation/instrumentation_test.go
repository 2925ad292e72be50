package instrumentation_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore"
	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore/internal/instrumentation"
	"github.com/AntonStoeckl/eventsourced-entities-go/testutil/observability/testdoubles"
)

func someCommit() eventstore.Commit {
	return eventstore.Commit{
		Key:             eventstore.NewStreamKey("", "Counter:1"),
		ExpectedVersion: 2,
		CommitID:        "c3",
		Events:          eventstore.StorableEvents{{EventType: "CounterIncreased"}},
	}
}

func Test_Observation_When_NoCollectorsAreConfigured_NothingPanics(t *testing.T) {
	ins := instrumentation.New(instrumentation.Options{})

	observation, _ := ins.StartCommit(context.Background(), someCommit())

	assert.NotPanics(t, func() {
		observation.Success(1, 3)
		observation.Failure(eventstore.ErrConcurrencyConflict)
		ins.LogSQL(context.Background(), "SELECT 1", "read", time.Millisecond)
		ins.LogOperation(context.Background(), "commit")
		ins.LogError(context.Background(), "failed", errors.New("boom"))
	})
}

func Test_Observation_Success_RecordsMetricsAndSpan(t *testing.T) {
	// arrange
	metrics := testdoubles.NewMetricsCollectorSpy()
	tracing := testdoubles.NewTracingCollectorSpy()
	ins := instrumentation.New(instrumentation.Options{Metrics: metrics, Tracing: tracing})

	// act
	observation, _ := ins.StartCommit(context.Background(), someCommit())
	observation.Success(1, 3)

	// assert
	assert.True(t, metrics.Has(instrumentation.MetricCommitDuration, map[string]string{
		instrumentation.SpanAttrOperation: instrumentation.OperationCommit,
		instrumentation.LabelStatus:       instrumentation.StatusSuccess,
	}))
	record, found := metrics.Find(instrumentation.MetricEventsCommitted, nil)
	require.True(t, found)
	assert.Equal(t, float64(1), record.Value)
	assert.True(t, record.HasContext)

	span, found := tracing.SpanNamed(instrumentation.SpanNameCommit)
	require.True(t, found)
	assert.Equal(t, "DEFAULT/Counter:1", span.StartAttributes[instrumentation.SpanAttrStream])
	assert.Equal(t, "2", span.StartAttributes[instrumentation.SpanAttrExpectedVersion])
	assert.True(t, span.Finished)
	assert.Equal(t, instrumentation.StatusSuccess, span.FinishStatus)
	assert.Equal(t, "3", span.Span.Attributes()[instrumentation.SpanAttrVersion])
}

func Test_Observation_Failure_ClassifiesTheError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		metric string
		status string
	}{
		{name: "concurrency conflict", err: eventstore.ErrConcurrencyConflict, metric: instrumentation.MetricConcurrencyConflicts, status: eventstore.SpanStatusConflict},
		{name: "stream already exists", err: eventstore.ErrStreamAlreadyExists, metric: instrumentation.MetricConcurrencyConflicts, status: eventstore.SpanStatusConflict},
		{name: "duplicate commit", err: eventstore.ErrDuplicateCommit, metric: instrumentation.MetricDuplicateCommits, status: eventstore.SpanStatusDuplicate},
		{name: "database error", err: errors.Join(eventstore.ErrAppendingEventFailed, errors.New("boom")), metric: instrumentation.MetricDatabaseErrors, status: eventstore.SpanStatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := testdoubles.NewMetricsCollectorSpy()
			tracing := testdoubles.NewTracingCollectorSpy()
			ins := instrumentation.New(instrumentation.Options{Metrics: metrics, Tracing: tracing})

			observation, _ := ins.StartCommit(context.Background(), someCommit())
			observation.Failure(tt.err)

			assert.True(t, metrics.Has(tt.metric, nil))
			span, found := tracing.SpanNamed(instrumentation.SpanNameCommit)
			require.True(t, found)
			assert.Equal(t, tt.status, span.FinishStatus)
			assert.Equal(t, instrumentation.ErrorType(tt.err), span.FinishAttrs[instrumentation.SpanAttrErrorType])
		})
	}
}

func Test_Observation_Failure_When_StreamNotFound_NoDatabaseErrorIsCounted(t *testing.T) {
	metrics := testdoubles.NewMetricsCollectorSpy()
	ins := instrumentation.New(instrumentation.Options{Metrics: metrics})

	observation, _ := ins.StartRead(context.Background(), eventstore.NewStreamKey("", "Counter:1"))
	observation.Failure(eventstore.ErrStreamNotFound)

	assert.False(t, metrics.Has(instrumentation.MetricDatabaseErrors, nil))
	assert.True(t, metrics.Has(instrumentation.MetricReadDuration, map[string]string{
		instrumentation.LabelStatus: instrumentation.StatusError,
	}))
}

func Test_ErrorType(t *testing.T) {
	assert.Equal(t, instrumentation.ErrorTypeConcurrencyConflict, instrumentation.ErrorType(eventstore.ErrConcurrencyConflict))
	assert.Equal(t, instrumentation.ErrorTypeCanceled, instrumentation.ErrorType(context.Canceled))
	assert.Equal(t, instrumentation.ErrorTypeValidation, instrumentation.ErrorType(eventstore.ErrEmptyCommitID))
	assert.Equal(t, instrumentation.ErrorTypeUnknown, instrumentation.ErrorType(errors.New("something")))
}

func Test_Logging_GoesToBothLoggers(t *testing.T) {
	// arrange
	logger, logSpy := testdoubles.NewLogger()
	contextual := testdoubles.NewContextualLoggerSpy()
	ins := instrumentation.New(instrumentation.Options{Logger: logger, ContextualLogger: contextual})

	// act
	ins.LogSQL(context.Background(), "SELECT 1", "read", 1500*time.Microsecond)
	ins.LogOperation(context.Background(), "commit", "event_count", 2)
	ins.LogError(context.Background(), "commit failed", errors.New("boom"))

	// assert
	assert.True(t, logSpy.HasLogWithAttr(slog.LevelDebug, "executed sql for: read", "query"))
	assert.True(t, logSpy.HasLogWithAttr(slog.LevelInfo, "eventstore operation: commit", "event_count"))
	assert.True(t, logSpy.HasLogWithAttr(slog.LevelError, "commit failed", "error"))
	assert.True(t, contextual.HasMessage("debug", "executed sql for: read"))
	assert.True(t, contextual.HasMessage("error", "commit failed"))
}

func Test_ToMilliseconds(t *testing.T) {
	assert.Equal(t, 1.5, instrumentation.ToMilliseconds(1500*time.Microsecond))
}
