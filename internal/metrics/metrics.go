// Package metrics provides Prometheus metrics for the migration.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for one migration run. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Record metrics
	RecordsRead    prometheus.Counter
	RecordsSkipped prometheus.Counter
	Anomalies      *prometheus.CounterVec
	ValuesDropped  prometheus.Counter

	// Document metrics
	Documents *prometheus.CounterVec

	// Batch metrics
	Batches            *prometheus.CounterVec
	BatchWriteDuration prometheus.Histogram
	BatchSize          prometheus.Histogram
	RetryAttempts      *prometheus.CounterVec

	// Pipeline metrics
	QueueDepth        prometheus.Gauge
	InFlightBatches   prometheus.Gauge
	HighestContiguous prometheus.Gauge
	CheckpointWrites  *prometheus.CounterVec
}

// New registers the migration collectors on a fresh registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "bulkmigrate"
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RecordsRead: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_read_total",
			Help:      "Total number of source records parsed",
		}),
		RecordsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_skipped_total",
			Help:      "Total number of malformed source records skipped",
		}),
		Anomalies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Total number of logged anomalies by kind",
		}, []string{"kind"}),
		ValuesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "property_values_dropped_total",
			Help:      "Total number of extracted property values dropped",
		}),
		Documents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_total",
			Help:      "Total number of documents by final write outcome",
		}, []string{"outcome"}),
		Batches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Total number of batches by result",
		}, []string{"result"}),
		BatchWriteDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_write_duration_seconds",
			Help:      "Time to write one batch including retries",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		}),
		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_documents",
			Help:      "Number of documents per batch",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 12), // 10 to ~20k
		}),
		RetryAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Total number of bulk request retries by cause",
		}, []string{"cause"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current number of batches waiting for a writer",
		}),
		InFlightBatches: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "in_flight_batches",
			Help:      "Number of batches currently being written",
		}),
		HighestContiguous: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "highest_contiguous_index",
			Help:      "Source index below which every batch has completed",
		}),
		CheckpointWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_writes_total",
			Help:      "Total number of checkpoint writes by result",
		}, []string{"result"}),
	}
}

// Registry exposes the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs an HTTP server for Prometheus scraping until ctx is done.
func (m *Metrics) Serve(ctx context.Context, address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// AddRecordsRead adds to the records read counter.
func (m *Metrics) AddRecordsRead(n int) {
	if m == nil {
		return
	}
	m.RecordsRead.Add(float64(n))
}

// IncRecordsSkipped increments the skipped records counter.
func (m *Metrics) IncRecordsSkipped() {
	if m == nil {
		return
	}
	m.RecordsSkipped.Inc()
}

// IncAnomaly counts one anomaly and the property values it dropped.
func (m *Metrics) IncAnomaly(kind string, dropped int) {
	if m == nil {
		return
	}
	m.Anomalies.WithLabelValues(kind).Inc()
	if dropped > 0 {
		m.ValuesDropped.Add(float64(dropped))
	}
}

// AddDocuments adds n documents with the given outcome.
func (m *Metrics) AddDocuments(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Documents.WithLabelValues(outcome).Add(float64(n))
}

// ObserveBatch records one finished batch.
func (m *Metrics) ObserveBatch(result string, docs int, d time.Duration) {
	if m == nil {
		return
	}
	m.Batches.WithLabelValues(result).Inc()
	m.BatchSize.Observe(float64(docs))
	m.BatchWriteDuration.Observe(d.Seconds())
}

// IncRetryAttempts increments the retry counter for a cause.
func (m *Metrics) IncRetryAttempts(cause string) {
	if m == nil {
		return
	}
	m.RetryAttempts.WithLabelValues(cause).Inc()
}

// SetQueueDepth sets the current queue depth.
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}

// AddInFlight adjusts the in-flight batch gauge.
func (m *Metrics) AddInFlight(delta int) {
	if m == nil {
		return
	}
	m.InFlightBatches.Add(float64(delta))
}

// SetHighestContiguous sets the contiguous completion marker.
func (m *Metrics) SetHighestContiguous(idx int64) {
	if m == nil {
		return
	}
	m.HighestContiguous.Set(float64(idx))
}

// IncCheckpointWrites counts a checkpoint write attempt.
func (m *Metrics) IncCheckpointWrites(result string) {
	if m == nil {
		return
	}
	m.CheckpointWrites.WithLabelValues(result).Inc()
}
