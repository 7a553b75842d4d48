package etl

import (
	"log/slog"
	"sync"

	"github.com/BartekS5/bulkmigrate/internal/metrics"
)

// AnomalyKind classifies a recovered data problem.
type AnomalyKind string

const (
	AnomalyRecordMalformed   AnomalyKind = "record_malformed"
	AnomalyPayloadUnparsable AnomalyKind = "payload_unparsable"
	AnomalyNestedValue       AnomalyKind = "nested_value"
	AnomalyTypeMismatch      AnomalyKind = "type_mismatch"
	AnomalyMixedDuplicate    AnomalyKind = "mixed_duplicate"
	AnomalyCapExceeded       AnomalyKind = "cap_exceeded"
	AnomalyMissingIdentifier AnomalyKind = "missing_identifier"
	AnomalyPromotionFailed   AnomalyKind = "promotion_failed"
	AnomalyDocumentRejected  AnomalyKind = "document_rejected"
)

// Anomaly is one attributable log entry.
type Anomaly struct {
	Kind       AnomalyKind
	Index      int64
	DocumentID string
	Key        string
	Detail     string
	// Dropped is the number of property values lost.
	Dropped int
}

// AnomalyLog is the shared, concurrency-safe sink for anomalies. Entries go
// to the structured log and are counted per kind.
type AnomalyLog struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	counts  map[AnomalyKind]int64
	dropped int64
}

// NewAnomalyLog returns a log writing to log; m may be nil.
func NewAnomalyLog(log *slog.Logger, m *metrics.Metrics) *AnomalyLog {
	if log == nil {
		log = slog.Default()
	}
	return &AnomalyLog{
		log:     log.With("component", "anomalies"),
		metrics: m,
		counts:  make(map[AnomalyKind]int64),
	}
}

// Record logs and counts an anomaly.
func (l *AnomalyLog) Record(a Anomaly) {
	l.mu.Lock()
	l.counts[a.Kind]++
	l.dropped += int64(a.Dropped)
	l.mu.Unlock()

	l.metrics.IncAnomaly(string(a.Kind), a.Dropped)

	attrs := []any{"kind", string(a.Kind), "record_index", a.Index}
	if a.DocumentID != "" {
		attrs = append(attrs, "doc_id", a.DocumentID)
	}
	if a.Key != "" {
		attrs = append(attrs, "key", a.Key)
	}
	if a.Dropped > 0 {
		attrs = append(attrs, "dropped", a.Dropped)
	}
	if a.Detail != "" {
		attrs = append(attrs, "detail", a.Detail)
	}
	l.log.Warn("anomaly", attrs...)
}

// Count returns how many anomalies of a kind were recorded.
func (l *AnomalyLog) Count(kind AnomalyKind) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[kind]
}

// Counts returns a copy of the per-kind counters.
func (l *AnomalyLog) Counts() map[string]int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int64, len(l.counts))
	for k, v := range l.counts {
		out[string(k)] = v
	}
	return out
}

// Dropped returns the total number of property values dropped.
func (l *AnomalyLog) Dropped() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}
