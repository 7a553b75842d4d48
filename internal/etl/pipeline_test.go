package etl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BartekS5/bulkmigrate/internal/checkpoint"
	"github.com/BartekS5/bulkmigrate/pkg/models"
	"github.com/stretchr/testify/require"
)

// memoryStore keeps a serialized checkpoint so the pipeline never shares
// memory with what was "persisted".
type memoryStore struct {
	mu        sync.Mutex
	data      []byte
	saves     int
	failSaves bool
	// failNext fails only the next n saves.
	failNext int
}

func (s *memoryStore) Load(ctx context.Context) (*checkpoint.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, checkpoint.ErrNoCheckpoint
	}
	return checkpoint.Unmarshal(s.data)
}

func (s *memoryStore) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.failSaves {
		return errors.New("disk full")
	}
	if s.failNext > 0 {
		s.failNext--
		return errors.New("disk full")
	}
	data, err := checkpoint.Marshal(cp)
	if err != nil {
		return err
	}
	s.data = data
	return nil
}

func (s *memoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	return nil
}

func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) checkpoint(t *testing.T) *checkpoint.Checkpoint {
	t.Helper()
	cp, err := s.Load(context.Background())
	require.NoError(t, err)
	return cp
}

func writeOrders(t *testing.T, n int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("token_id,raw_metadata\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%d,\"{\"\"tier\"\":%d}\"\n", i, i%5)
	}
	return writeFile(t, "orders.csv", b.String())
}

type pipelineSetup struct {
	batchSize int
	workers   int
	queueSize int
	attempts  int
	interval  int
	// resumedAt receives the offset the source was opened at.
	resumedAt *int64
	// wrapSource, when set, wraps the opened source.
	wrapSource   func(RecordSource) RecordSource
	drainTimeout time.Duration
}

func newTestPipeline(t *testing.T, path string, sink Sink, store checkpoint.Manager, setup pipelineSetup) *Pipeline {
	t.Helper()
	if setup.batchSize == 0 {
		setup.batchSize = 4
	}
	if setup.workers == 0 {
		setup.workers = 3
	}
	if setup.attempts == 0 {
		setup.attempts = 2
	}
	if setup.interval == 0 {
		setup.interval = 2
	}
	if setup.drainTimeout == 0 {
		setup.drainTimeout = time.Second
	}

	anomalies := NewAnomalyLog(nil, nil)
	tr := NewTransformer(TransformerOptions{
		IDColumn:      "token_id",
		PayloadColumn: "raw_metadata",
	}, NewTypeRegistry(), anomalies)
	pool := NewWriterPool(sink, WriterOptions{
		Workers:        setup.workers,
		MaxAttempts:    setup.attempts,
		Backoff:        time.Millisecond,
		BackoffMax:     2 * time.Millisecond,
		RequestTimeout: 5 * time.Second,
	}, NewValidator(512), anomalies, nil)

	opener := CSVOpener(path, SourceOptions{Delimiter: ',', IDColumn: "token_id", PayloadColumn: "raw_metadata"}, anomalies, nil)
	if setup.resumedAt != nil {
		inner := opener
		opener = func(ctx context.Context, resumeFrom int64) (RecordSource, error) {
			*setup.resumedAt = resumeFrom
			return inner(ctx, resumeFrom)
		}
	}
	if setup.wrapSource != nil {
		inner := opener
		opener = func(ctx context.Context, resumeFrom int64) (RecordSource, error) {
			src, err := inner(ctx, resumeFrom)
			if err != nil {
				return nil, err
			}
			return setup.wrapSource(src), nil
		}
	}

	return NewPipeline(PipelineOptions{
		SourceID:           path,
		BatchSize:          setup.batchSize,
		QueueSize:          setup.queueSize,
		CheckpointInterval: setup.interval,
		DrainTimeout:       setup.drainTimeout,
		PingTimeout:        time.Second,
	}, opener, tr, pool, store)
}

func TestPipelineMigratesEverything(t *testing.T) {
	path := writeOrders(t, 25)
	sink := newMemorySink()
	store := &memoryStore{}

	p := newTestPipeline(t, path, sink, store, pipelineSetup{})
	sum, err := p.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, StateCompleted, sum.State)
	require.Equal(t, StateCompleted, p.State())
	require.True(t, sum.Complete)
	require.Equal(t, int64(25), sum.RecordsRead)
	require.Equal(t, int64(25), sum.DocumentsIndexed)
	require.Equal(t, int64(7), sum.SuccessfulBatches)
	require.Equal(t, 25, sink.count())
	require.Equal(t, map[string]any{"tier": int64(3)}, sink.doc("8")["properties"])

	cp := store.checkpoint(t)
	require.True(t, cp.Completed)
	require.Equal(t, int64(25), *cp.TotalRecords)
	require.Equal(t, int64(25), cp.HighestContiguous)
	require.Empty(t, cp.CompletedRanges)
	require.Equal(t, p.RunID(), cp.RunID)
	require.Equal(t, map[string]string{"tier": "integer"}, cp.PropertyTypes)
}

func TestPipelineIsIdempotent(t *testing.T) {
	path := writeOrders(t, 30)
	sink := newMemorySink()

	for i := 0; i < 2; i++ {
		store := &memoryStore{}
		_, err := newTestPipeline(t, path, sink, store, pipelineSetup{}).Run(context.Background())
		require.NoError(t, err)
	}
	require.Equal(t, 30, sink.count())
	require.Equal(t, 60, sink.sent)

	// A completed checkpoint short-circuits the next run.
	store := &memoryStore{}
	_, err := newTestPipeline(t, path, sink, store, pipelineSetup{}).Run(context.Background())
	require.NoError(t, err)
	requests := sink.requests()

	sum, err := newTestPipeline(t, path, sink, store, pipelineSetup{}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateCompleted, sum.State)
	require.True(t, sum.Complete)
	require.Equal(t, requests, sink.requests())
	require.Equal(t, 30, sink.count())
}

func TestPipelineResumesAtFirstGap(t *testing.T) {
	path := writeOrders(t, 10000)
	sink := newMemorySink()
	sink.failIDs["4317"] = true
	store := &memoryStore{}

	setup := pipelineSetup{batchSize: 1, workers: 4, attempts: 1, interval: 50}
	sum, err := newTestPipeline(t, path, sink, store, setup).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateCompleted, sum.State)
	require.False(t, sum.Complete)
	require.Equal(t, int64(1), sum.FailedBatches)
	require.Equal(t, int64(9999), sum.DocumentsIndexed)

	cp := store.checkpoint(t)
	require.Equal(t, int64(4317), cp.ResumeOffset())
	require.Equal(t, []checkpoint.Range{{4318, 10000}}, cp.CompletedRanges)
	require.Equal(t, int64(1), cp.FailedBatchCount)
	require.False(t, cp.Completed)

	delete(sink.failIDs, "4317")
	var resumedAt int64
	setup.resumedAt = &resumedAt
	sum, err = newTestPipeline(t, path, sink, store, setup).Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, int64(4317), resumedAt)
	require.Equal(t, int64(4317), sum.ResumedFrom)
	require.True(t, sum.Complete)
	require.Equal(t, 10000, sink.count())

	cp = store.checkpoint(t)
	require.True(t, cp.Completed)
	require.Equal(t, int64(10000), cp.HighestContiguous)
	require.Equal(t, int64(10000), *cp.TotalRecords)
}

func TestPipelineInterruptDrainsInFlight(t *testing.T) {
	path := writeOrders(t, 10)
	sink := newMemorySink()
	sink.release = make(chan struct{})
	sink.started = make(chan struct{}, 1)
	store := &memoryStore{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sink.started
		cancel()
		close(sink.release)
	}()

	setup := pipelineSetup{batchSize: 2, workers: 1, queueSize: 1}
	sum, err := newTestPipeline(t, path, sink, store, setup).Run(ctx)
	require.NoError(t, err)
	require.Equal(t, StateInterrupted, sum.State)
	require.False(t, sum.Complete)
	require.Equal(t, int64(1), sum.SuccessfulBatches)
	require.Zero(t, sum.FailedBatches)
	require.Equal(t, 2, sink.count())

	cp := store.checkpoint(t)
	require.Equal(t, int64(2), cp.ResumeOffset())
	require.Nil(t, cp.TotalRecords)
	require.Zero(t, cp.FailedBatchCount)

	sink.release, sink.started = nil, nil
	sum, err = newTestPipeline(t, path, sink, store, setup).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), sum.ResumedFrom)
	require.True(t, sum.Complete)
	require.Equal(t, 10, sink.count())
}

func TestPipelineCheckpointFailureIsFatal(t *testing.T) {
	path := writeOrders(t, 40)
	sink := newMemorySink()
	store := &memoryStore{failSaves: true}

	sum, err := newTestPipeline(t, path, sink, store, pipelineSetup{interval: 1}).Run(context.Background())
	require.ErrorIs(t, err, ErrCheckpointPersist)
	require.Equal(t, StateFailed, sum.State)
	// One retry for the first periodic write, one retry for the final write.
	require.Equal(t, 4, store.saves)
}

func TestPipelineCheckpointRetrySucceeds(t *testing.T) {
	path := writeOrders(t, 40)
	sink := newMemorySink()
	store := &memoryStore{failNext: 1}

	sum, err := newTestPipeline(t, path, sink, store, pipelineSetup{interval: 1}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateCompleted, sum.State)
	require.True(t, sum.Complete)
	// Ten periodic writes, the retried one and the final write.
	require.Equal(t, 12, store.saves)
	require.True(t, store.checkpoint(t).Completed)
}

func TestPipelineDrainDeadlineAbandonsInFlight(t *testing.T) {
	path := writeOrders(t, 6)
	sink := newMemorySink()
	sink.release = make(chan struct{})
	sink.started = make(chan struct{}, 1)
	store := &memoryStore{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sink.started
		cancel()
	}()

	setup := pipelineSetup{batchSize: 2, workers: 1, queueSize: 1, drainTimeout: 20 * time.Millisecond}
	sum, err := newTestPipeline(t, path, sink, store, setup).Run(ctx)
	require.NoError(t, err)
	require.Equal(t, StateInterrupted, sum.State)
	require.Zero(t, sum.FailedBatches)
	require.GreaterOrEqual(t, sum.AbandonedBatches, int64(1))
	require.Zero(t, sink.count())

	cp := store.checkpoint(t)
	require.Zero(t, cp.FailedBatchCount)
	require.Zero(t, cp.ResumeOffset())
}

// eofSignal closes eof once the wrapped source is exhausted.
type eofSignal struct {
	RecordSource
	eof  chan struct{}
	once sync.Once
}

func (s *eofSignal) Next() (models.RawRecord, error) {
	rec, err := s.RecordSource.Next()
	if errors.Is(err, io.EOF) {
		s.once.Do(func() { close(s.eof) })
	}
	return rec, err
}

func TestPipelineInterruptAfterLastBatchCompletes(t *testing.T) {
	path := writeOrders(t, 4)
	sink := newMemorySink()
	sink.release = make(chan struct{})
	sink.started = make(chan struct{}, 1)
	store := &memoryStore{}

	eof := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-eof
		<-sink.started
		cancel()
		close(sink.release)
	}()

	setup := pipelineSetup{
		batchSize: 4,
		workers:   1,
		wrapSource: func(src RecordSource) RecordSource {
			return &eofSignal{RecordSource: src, eof: eof}
		},
	}
	sum, err := newTestPipeline(t, path, sink, store, setup).Run(ctx)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, sum.State)
	require.True(t, sum.Complete)
	require.Equal(t, 4, sink.count())
	require.True(t, store.checkpoint(t).Completed)
}

func TestPipelineSinkUnreachable(t *testing.T) {
	path := writeOrders(t, 3)
	sink := newMemorySink()
	sink.pingErr = errors.New("dial tcp 127.0.0.1:9200: connect: connection refused")
	store := &memoryStore{}

	sum, err := newTestPipeline(t, path, sink, store, pipelineSetup{}).Run(context.Background())
	require.ErrorIs(t, err, ErrSinkUnreachable)
	require.Equal(t, StateFailed, sum.State)
	require.Zero(t, store.saves)
}

func TestPipelineSourceUnreadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.csv")
	sink := newMemorySink()

	sum, err := newTestPipeline(t, path, sink, &memoryStore{}, pipelineSetup{}).Run(context.Background())
	require.ErrorIs(t, err, ErrSourceUnreadable)
	require.Equal(t, StateFailed, sum.State)
}

func TestPipelineIgnoresCheckpointOfOtherSource(t *testing.T) {
	path := writeOrders(t, 6)
	sink := newMemorySink()
	store := &memoryStore{}

	other := checkpoint.New("other.csv")
	other.MarkCompleted(0, 4)
	require.NoError(t, store.Save(context.Background(), other))

	sum, err := newTestPipeline(t, path, sink, store, pipelineSetup{}).Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, sum.ResumedFrom)
	require.Equal(t, 6, sink.count())
	require.Equal(t, path, store.checkpoint(t).SourceIdentifier)
}

func TestPipelineRestoresPropertyTypes(t *testing.T) {
	path := writeOrders(t, 5)
	sink := newMemorySink()
	store := &memoryStore{}

	cp := checkpoint.New(path)
	cp.PropertyTypes = map[string]string{"tier": "string"}
	require.NoError(t, store.Save(context.Background(), cp))

	sum, err := newTestPipeline(t, path, sink, store, pipelineSetup{}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(5), sum.Anomalies[string(AnomalyTypeMismatch)])
	require.NotContains(t, sink.doc("1"), "properties")
	require.Equal(t, "string", store.checkpoint(t).PropertyTypes["tier"])
}

func TestPipelineSkipsMalformedRows(t *testing.T) {
	content := "token_id,raw_metadata\n1,{}\n2\n3,{}\n4,\"{\"\"a\"\":true}\"\n"
	path := writeFile(t, "orders.csv", content)
	sink := newMemorySink()
	store := &memoryStore{}

	sum, err := newTestPipeline(t, path, sink, store, pipelineSetup{batchSize: 2}).Run(context.Background())
	require.NoError(t, err)
	require.True(t, sum.Complete)
	require.Equal(t, int64(1), sum.SkippedRecords)
	require.Equal(t, int64(3), sum.RecordsRead)
	require.Equal(t, 3, sink.count())
	require.Equal(t, int64(4), *store.checkpoint(t).TotalRecords)
}

func TestPipelineEmptySource(t *testing.T) {
	path := writeFile(t, "orders.csv", "token_id,raw_metadata\n")
	sink := newMemorySink()
	store := &memoryStore{}

	sum, err := newTestPipeline(t, path, sink, store, pipelineSetup{}).Run(context.Background())
	require.NoError(t, err)
	require.True(t, sum.Complete)
	require.Zero(t, sink.requests())
	require.Equal(t, int64(0), *store.checkpoint(t).TotalRecords)
}
