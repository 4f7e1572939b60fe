package mcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func newTestMetrics(t *testing.T) (*Metrics, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m := &Metrics{
		meter:  mp.Meter(instrumentationName),
		logger: zap.NewNop(),
	}
	m.init()
	return m, reader
}

func TestRecordInvocation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordInvocation(ctx, "context_store", 100*time.Millisecond, nil)
	m.RecordInvocation(ctx, "context_store", 50*time.Millisecond, errors.New("invalid scope"))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.NotEmpty(t, rm.ScopeMetrics)

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			names[metric.Name] = true
		}
	}
	assert.True(t, names["semanticd.mcp.tool.invocations_total"])
	assert.True(t, names["semanticd.mcp.tool.duration_seconds"])
	assert.True(t, names["semanticd.mcp.tool.errors_total"])
}

func TestActiveRequestsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.IncrementActive(ctx, "context_retrieve")
	m.IncrementActive(ctx, "context_retrieve")
	m.DecrementActive(ctx, "context_retrieve")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "semanticd.mcp.tool.active_requests" {
				continue
			}
			found = true
			sum, ok := met.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			require.Len(t, sum.DataPoints, 1)
			assert.Equal(t, int64(1), sum.DataPoints[0].Value)
		}
	}
	assert.True(t, found)
}

func TestCategorizeError(t *testing.T) {
	assert.Equal(t, "", categorizeError(nil))
	assert.Equal(t, "scope_error", categorizeError(errors.New("missing scope in context")))
	assert.Equal(t, "policy_denied", categorizeError(errors.New("action denied by policy")))
	assert.Equal(t, "validation_error", categorizeError(errors.New("confidence invalid")))
	assert.Equal(t, "not_found", categorizeError(errors.New("decision not found")))
	assert.Equal(t, "timeout", categorizeError(errors.New("context deadline exceeded")))
	assert.Equal(t, "storage_error", categorizeError(errors.New("embedding generation failed")))
	assert.Equal(t, "internal_error", categorizeError(errors.New("boom")))
}
