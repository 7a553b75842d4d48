package etl

import (
	"log/slog"
	"time"

	"github.com/BartekS5/bulkmigrate/internal/checkpoint"
)

// Summary reports what a run did.
type Summary struct {
	RunID             string
	State             State
	SourceID          string
	ResumedFrom       int64
	TotalRecords      *int64
	HighestContiguous int64

	RecordsRead    int64
	SkippedRecords int64

	DocumentsIndexed  int64
	DocumentsRejected int64
	DocumentsFailed   int64

	SuccessfulBatches int64
	FailedBatches     int64
	AbandonedBatches  int64

	// CheckpointFailedBatches is the failed batch count across all runs.
	CheckpointFailedBatches int64
	Complete                bool

	DroppedValues int64
	Anomalies     map[string]int64
	Duration      time.Duration
}

func (s *Summary) apply(cp *checkpoint.Checkpoint, anomalies *AnomalyLog) {
	s.TotalRecords = cp.TotalRecords
	s.HighestContiguous = cp.ResumeOffset()
	s.CheckpointFailedBatches = cp.FailedBatchCount
	s.Complete = cp.Completed
	if anomalies != nil {
		s.Anomalies = anomalies.Counts()
		s.DroppedValues = anomalies.Dropped()
	}
}

// LogValue implements slog.LogValuer.
func (s *Summary) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("run_id", s.RunID),
		slog.String("state", s.State.String()),
		slog.Int64("resumed_from", s.ResumedFrom),
		slog.Int64("highest_contiguous", s.HighestContiguous),
		slog.Int64("records_read", s.RecordsRead),
		slog.Int64("skipped_records", s.SkippedRecords),
		slog.Int64("indexed", s.DocumentsIndexed),
		slog.Int64("rejected", s.DocumentsRejected),
		slog.Int64("failed", s.DocumentsFailed),
		slog.Int64("successful_batches", s.SuccessfulBatches),
		slog.Int64("failed_batches", s.FailedBatches),
		slog.Int64("abandoned_batches", s.AbandonedBatches),
		slog.Int64("dropped_values", s.DroppedValues),
		slog.Bool("complete", s.Complete),
		slog.Duration("duration", s.Duration),
	}
	if s.TotalRecords != nil {
		attrs = append(attrs, slog.Int64("total_records", *s.TotalRecords))
	}
	for kind, n := range s.Anomalies {
		attrs = append(attrs, slog.Int64("anomaly_"+kind, n))
	}
	return slog.GroupValue(attrs...)
}
