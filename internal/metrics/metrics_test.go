package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.AddRecordsRead(3)
	m.IncAnomaly("type_mismatch", 1)
	m.ObserveBatch("completed", 10, time.Second)
	m.SetHighestContiguous(42)
	require.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := New("")
	m.AddRecordsRead(5)
	m.IncAnomaly("cap_exceeded", 15)
	m.IncAnomaly("type_mismatch", 1)
	m.AddDocuments("indexed", 7)
	m.ObserveBatch("failed", 7, 20*time.Millisecond)

	require.Equal(t, 5.0, testutil.ToFloat64(m.RecordsRead))
	require.Equal(t, 16.0, testutil.ToFloat64(m.ValuesDropped))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Anomalies.WithLabelValues("cap_exceeded")))
	require.Equal(t, 7.0, testutil.ToFloat64(m.Documents.WithLabelValues("indexed")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Batches.WithLabelValues("failed")))
}

func TestSeparateRunsDoNotCollide(t *testing.T) {
	// Each run owns a registry, so constructing twice must not panic.
	a := New("bulkmigrate")
	b := New("bulkmigrate")
	a.AddRecordsRead(1)
	require.Equal(t, 0.0, testutil.ToFloat64(b.RecordsRead))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New("")
	m.SetHighestContiguous(4317)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "bulkmigrate_highest_contiguous_index 4317")
}
