package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMeterProvider() (*sdkmetric.MeterProvider, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)), reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumByAttr(t *testing.T, m metricdata.Metrics, key string) map[string]int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)

	out := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key(key))
		out[v.AsString()] += dp.Value
	}
	return out
}

func TestValidationMetrics_RecordValidation(t *testing.T) {
	provider, reader := newTestMeterProvider()
	metrics, err := NewValidationMetrics(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	metrics.RecordValidation(ctx, "valid", time.Millisecond, 3, 0)
	metrics.RecordValidation(ctx, "valid", time.Millisecond, 3, 0)
	metrics.RecordValidation(ctx, "CORPUS_OVERLAP", time.Millisecond, 3, 2)
	metrics.RecordSkipped(ctx, 4)
	metrics.RecordSkipped(ctx, 0)

	got := collect(t, reader)

	outcomes := sumByAttr(t, got["polygon_validations_total"], "outcome")
	assert.Equal(t, int64(2), outcomes["valid"])
	assert.Equal(t, int64(1), outcomes["CORPUS_OVERLAP"])

	skipped, ok := got["polygon_corpus_skipped_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, skipped.DataPoints, 1)
	assert.Equal(t, int64(4), skipped.DataPoints[0].Value)

	conflicts, ok := got["polygon_validation_conflicts"].Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, conflicts.DataPoints, 1)
	assert.Equal(t, uint64(1), conflicts.DataPoints[0].Count)
}

func TestNilMetricsAreNoops(t *testing.T) {
	var v *ValidationMetrics
	var s *StoreMetrics

	assert.NotPanics(t, func() {
		v.RecordValidation(context.Background(), "valid", time.Second, 1, 0)
		v.RecordSkipped(context.Background(), 1)
		s.RecordOperation(context.Background(), "get", time.Second, errors.New("boom"))
	})
}

func TestStoreMetrics_RecordOperation(t *testing.T) {
	provider, reader := newTestMeterProvider()
	metrics, err := NewStoreMetrics(provider.Meter("test"), "redis")
	require.NoError(t, err)

	ctx := context.Background()
	metrics.RecordOperation(ctx, "get", time.Millisecond, nil)
	metrics.RecordOperation(ctx, "put", time.Millisecond, errors.New("down"))

	got := collect(t, reader)

	ops := sumByAttr(t, got["store_redis_operations_total"], "operation")
	assert.Equal(t, int64(1), ops["get"])
	assert.Equal(t, int64(1), ops["put"])

	errs := sumByAttr(t, got["store_redis_errors_total"], "operation")
	assert.Equal(t, map[string]int64{"put": 1}, errs)
}

func TestMetricsMiddleware(t *testing.T) {
	provider, reader := newTestMeterProvider()
	metrics, err := NewHTTPMetrics(provider.Meter("test"))
	require.NoError(t, err)

	handler := MetricsMiddleware(metrics, func(*http.Request) string { return "/v1/polygons/{id}" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}),
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/polygons/abc", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	got := collect(t, reader)

	routes := sumByAttr(t, got["http_requests_total"], "route")
	assert.Equal(t, map[string]int64{"/v1/polygons/{id}": 1}, routes)

	classes := sumByAttr(t, got["http_requests_total"], "status_class")
	assert.Equal(t, map[string]int64{"4xx": 1}, classes)
}

func TestStatusClass(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{200, "2xx"},
		{204, "2xx"},
		{301, "3xx"},
		{409, "4xx"},
		{422, "4xx"},
		{503, "5xx"},
		{100, "unknown"},
	}

	for _, tt := range tests {
		if got := statusClass(tt.status); got != tt.want {
			t.Errorf("statusClass(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}
