// Package checkpoint persists migration progress so an interrupted run can
// resume without re-walking completed records.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrNoCheckpoint is returned when no checkpoint exists.
	ErrNoCheckpoint = errors.New("no checkpoint found")
)

// Range is a half-open source index range [start, end).
type Range [2]int64

func (r Range) Start() int64 { return r[0] }
func (r Range) End() int64   { return r[1] }

// Checkpoint is the only state that outlives a run.
type Checkpoint struct {
	SourceIdentifier string `json:"source_identifier"`
	RunID            string `json:"run_id,omitempty"`
	// TotalRecords is unknown (nil) until the source has been read to the end.
	TotalRecords *int64 `json:"total_records"`
	// HighestContiguous is the first source index not yet known to be done;
	// every index below it belongs to a completed batch. Resume starts here.
	HighestContiguous int64 `json:"highest_contiguous_completed_index"`
	// CompletedRanges holds completed ranges beyond HighestContiguous,
	// sorted and merged.
	CompletedRanges   []Range           `json:"completed_ranges"`
	FailedBatchCount  int64             `json:"failed_batch_count"`
	SuccessfulBatches int64             `json:"successful_batches"`
	ProcessedRecords  int64             `json:"processed_records"`
	PropertyTypes     map[string]string `json:"property_types,omitempty"`
	Completed         bool              `json:"completed"`
	LastUpdated       time.Time         `json:"last_updated"`
}

// New returns an empty checkpoint for a source.
func New(sourceID string) *Checkpoint {
	return &Checkpoint{
		SourceIdentifier: sourceID,
		CompletedRanges:  []Range{},
	}
}

// ResumeOffset is the source index the next run starts reading from.
func (c *Checkpoint) ResumeOffset() int64 {
	return c.HighestContiguous
}

// MarkCompleted records [start, end) as done, merging it into the range set
// and advancing the contiguous marker when a gap closes. It reports whether
// the marker moved.
func (c *Checkpoint) MarkCompleted(start, end int64) bool {
	if end <= start || end <= c.HighestContiguous {
		return false
	}
	if start < c.HighestContiguous {
		start = c.HighestContiguous
	}

	ranges := append(c.CompletedRanges, Range{start, end})
	sort.Slice(ranges, func(i, j int) bool { return ranges[i][0] < ranges[j][0] })

	merged := ranges[:0]
	for _, r := range ranges {
		if n := len(merged); n > 0 && r[0] <= merged[n-1][1] {
			if r[1] > merged[n-1][1] {
				merged[n-1][1] = r[1]
			}
			continue
		}
		merged = append(merged, r)
	}

	before := c.HighestContiguous
	for len(merged) > 0 && merged[0][0] <= c.HighestContiguous {
		if merged[0][1] > c.HighestContiguous {
			c.HighestContiguous = merged[0][1]
		}
		merged = merged[1:]
	}
	c.CompletedRanges = append([]Range{}, merged...)
	return c.HighestContiguous != before
}

// SetTotal records the total number of source records once known.
func (c *Checkpoint) SetTotal(total int64) {
	c.TotalRecords = &total
}

// IsComplete reports whether every source record belongs to a completed batch.
func (c *Checkpoint) IsComplete() bool {
	return c.TotalRecords != nil && c.HighestContiguous >= *c.TotalRecords
}

// Marshal encodes the checkpoint in its persisted JSON layout.
func Marshal(cp *Checkpoint) ([]byte, error) {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a persisted checkpoint.
func Unmarshal(data []byte) (*Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	if cp.CompletedRanges == nil {
		cp.CompletedRanges = []Range{}
	}
	return &cp, nil
}

// Manager handles checkpoint persistence and retrieval for one source.
type Manager interface {
	// Load reads the checkpoint, returning ErrNoCheckpoint when none exists.
	Load(ctx context.Context) (*Checkpoint, error)

	// Save persists the checkpoint, replacing any previous one atomically.
	Save(ctx context.Context, cp *Checkpoint) error

	// Clear removes the checkpoint. Clearing a missing checkpoint is not an error.
	Clear(ctx context.Context) error

	// Close releases any connection held by the manager.
	Close() error
}
