package oteladapters_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore/oteladapters"
)

func newMeteredCollector() (*oteladapters.MetricsCollector, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	return oteladapters.NewMetricsCollector(provider.Meter("test")), reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	byName := make(map[string]metricdata.Metrics)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			byName[m.Name] = m
		}
	}

	return byName
}

func Test_MetricsCollector_RecordDuration_RecordsSecondsInAHistogram(t *testing.T) {
	// arrange
	collector, reader := newMeteredCollector()

	// act
	collector.RecordDuration("eventstore_commit_duration_seconds", 250*time.Millisecond, map[string]string{"status": "success"})
	collector.RecordDurationContext(context.Background(), "eventstore_commit_duration_seconds", time.Second, map[string]string{"status": "success"})

	// assert
	metrics := collect(t, reader)
	histogram, ok := metrics["eventstore_commit_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, histogram.DataPoints, 1)
	assert.Equal(t, uint64(2), histogram.DataPoints[0].Count)
	assert.InDelta(t, 1.25, histogram.DataPoints[0].Sum, 0.0001)
	status, found := histogram.DataPoints[0].Attributes.Value("status")
	assert.True(t, found)
	assert.Equal(t, "success", status.AsString())
}

func Test_MetricsCollector_IncrementCounter_SeparatesByLabels(t *testing.T) {
	// arrange
	collector, reader := newMeteredCollector()

	// act
	collector.IncrementCounter("eventstore_concurrency_conflicts_total", map[string]string{"conflict_type": "version"})
	collector.IncrementCounter("eventstore_concurrency_conflicts_total", map[string]string{"conflict_type": "version"})
	collector.IncrementCounterContext(context.Background(), "eventstore_concurrency_conflicts_total", map[string]string{"conflict_type": "exists"})

	// assert
	metrics := collect(t, reader)
	sum, ok := metrics["eventstore_concurrency_conflicts_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 2)

	total := int64(0)
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}

	assert.Equal(t, int64(3), total)
}

func Test_MetricsCollector_RecordValue_KeepsTheLastValue(t *testing.T) {
	// arrange
	collector, reader := newMeteredCollector()

	// act
	collector.RecordValue("eventstore_events_committed_total", 3, nil)
	collector.RecordValueContext(context.Background(), "eventstore_events_committed_total", 7, nil)

	// assert
	metrics := collect(t, reader)
	gauge, ok := metrics["eventstore_events_committed_total"].Data.(metricdata.Gauge[float64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.InDelta(t, 7.0, gauge.DataPoints[0].Value, 0.0001)
}

func Test_MetricsCollector_IsSafeForConcurrentUse(t *testing.T) {
	// arrange
	collector, reader := newMeteredCollector()
	var wg sync.WaitGroup

	// act
	for range 50 {
		wg.Add(1)

		go func() {
			defer wg.Done()
			collector.IncrementCounter("parallel_total", nil)
		}()
	}

	wg.Wait()

	// assert
	sum, ok := collect(t, reader)["parallel_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(50), sum.DataPoints[0].Value)
}
