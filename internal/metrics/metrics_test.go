package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestMetricsRecordTaskActivity(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := New(mp)
	require.NoError(t, err)

	ctx := context.Background()
	m.TaskStarted(ctx)
	m.TaskStarted(ctx)
	m.TaskCompleted(ctx, "finished")
	m.TaskCompleted(ctx, "error")
	m.TaskCompleted(ctx, "finished")
	m.CredentialRevoked(ctx)
	m.IncRequestsTotal(ctx, "GET", "/api/v1/stats", 200)
	m.ObserveRequestDuration(ctx, "GET", "/api/v1/stats", 15*time.Millisecond)

	data := collect(t, reader)

	started, ok := data["tasks_started_total"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, started.DataPoints, 1)
	assert.Equal(t, int64(2), started.DataPoints[0].Value)

	completed, ok := data["tasks_completed_total"].(metricdata.Sum[int64])
	require.True(t, ok)
	byStatus := make(map[string]int64)
	for _, dp := range completed.DataPoints {
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		byStatus[status.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"finished": 2, "error": 1}, byStatus)

	revoked, ok := data["credentials_revoked_total"].(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Equal(t, int64(1), revoked.DataPoints[0].Value)

	duration, ok := data["request_duration_seconds"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, duration.DataPoints, 1)
	assert.Equal(t, uint64(1), duration.DataPoints[0].Count)
}
