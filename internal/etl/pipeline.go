package etl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/BartekS5/bulkmigrate/internal/checkpoint"
	"github.com/BartekS5/bulkmigrate/internal/metrics"
	"github.com/BartekS5/bulkmigrate/pkg/logger"
	"github.com/BartekS5/bulkmigrate/pkg/models"
	"github.com/google/uuid"
)

// State is the pipeline's lifecycle state.
type State int32

const (
	StateInitializing State = iota
	StateResuming
	StateRunning
	StateDraining
	StateCompleted
	StateInterrupted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateResuming:
		return "resuming"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateCompleted:
		return "completed"
	case StateInterrupted:
		return "interrupted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PipelineOptions configures the coordinator.
type PipelineOptions struct {
	SourceID           string
	BatchSize          int
	QueueSize          int
	CheckpointInterval int
	DrainTimeout       time.Duration
	PingTimeout        time.Duration
}

// Pipeline drives one migration run: source, transformer and batcher on a
// single producer goroutine, the writer pool, and checkpoint bookkeeping.
// The checkpoint is only touched by the goroutine running Run.
type Pipeline struct {
	opts        PipelineOptions
	open        SourceOpener
	transformer *Transformer
	writers     *WriterPool
	store       checkpoint.Manager
	metrics     *metrics.Metrics
	runID       string
	log         *slog.Logger
	state       atomic.Int32
}

func NewPipeline(opts PipelineOptions, open SourceOpener, transformer *Transformer, writers *WriterPool, store checkpoint.Manager) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = writers.Workers()
	}
	if opts.CheckpointInterval <= 0 {
		opts.CheckpointInterval = 10
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 10 * time.Second
	}
	runID := uuid.NewString()
	return &Pipeline{
		opts:        opts,
		open:        open,
		transformer: transformer,
		writers:     writers,
		store:       store,
		metrics:     writers.metrics,
		runID:       runID,
		log:         logger.Component("pipeline").With("run_id", runID, "source", opts.SourceID),
	}
}

// RunID identifies this run in logs and in the checkpoint.
func (p *Pipeline) RunID() string { return p.runID }

// State returns the current lifecycle state.
func (p *Pipeline) State() State { return State(p.state.Load()) }

func (p *Pipeline) setState(s State, sum *Summary) {
	prev := State(p.state.Swap(int32(s)))
	sum.State = s
	if prev != s {
		p.log.Info("pipeline state", "from", prev.String(), "to", s.String())
	}
}

// Run executes the migration. Cancelling ctx interrupts it gracefully:
// production stops, in-flight batches get DrainTimeout to finish and the
// checkpoint is written. The summary is returned even on error. Only an
// unreachable sink, an unreadable source and a checkpoint that cannot be
// persisted produce an error.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	sum := &Summary{RunID: p.runID, SourceID: p.opts.SourceID}
	defer func() { sum.Duration = time.Since(start) }()

	// 1. Initializing
	p.setState(StateInitializing, sum)
	pingCtx, cancel := context.WithTimeout(ctx, p.opts.PingTimeout)
	err := p.writers.Sink().Ping(pingCtx)
	cancel()
	if err != nil {
		p.setState(StateFailed, sum)
		return sum, fmt.Errorf("%w: %v", ErrSinkUnreachable, err)
	}

	// 2. Resuming
	p.setState(StateResuming, sum)
	cp, err := p.loadCheckpoint(ctx)
	if err != nil {
		p.setState(StateFailed, sum)
		return sum, err
	}
	sum.ResumedFrom = cp.ResumeOffset()
	if cp.Completed {
		p.log.Info("checkpoint marks this source as fully migrated; nothing to do",
			"resume_from", cp.ResumeOffset())
		sum.apply(cp, p.transformer.Anomalies())
		p.setState(StateCompleted, sum)
		return sum, nil
	}
	if n := p.transformer.Registry().Seed(cp.PropertyTypes); n > 0 {
		p.log.Info("restored property types", "keys", n)
	}
	cp.RunID = p.runID

	src, err := p.open(ctx, cp.ResumeOffset())
	if err != nil {
		p.setState(StateFailed, sum)
		return sum, err
	}
	defer src.Close()

	// 3. Running
	p.setState(StateRunning, sum)
	p.log.Info("migration started", "resume_from", cp.ResumeOffset(),
		"batch_size", p.opts.BatchSize, "workers", p.writers.Workers())

	err = p.execute(ctx, src, cp, sum)
	sum.apply(cp, p.transformer.Anomalies())
	sum.SkippedRecords = src.Skipped()
	if err != nil {
		p.setState(StateFailed, sum)
		return sum, err
	}
	// An interrupt that lands after the last batch completed changes nothing.
	if ctx.Err() != nil && !cp.Completed {
		p.setState(StateInterrupted, sum)
	} else {
		p.setState(StateCompleted, sum)
		if !cp.Completed {
			p.log.Warn("source exhausted with failed batches; rerun to retry them",
				"failed_batches", sum.FailedBatches, "resume_from", cp.ResumeOffset())
		}
	}
	sum.Duration = time.Since(start)
	p.log.Info("migration summary", "summary", sum)
	return sum, nil
}

func (p *Pipeline) loadCheckpoint(ctx context.Context) (*checkpoint.Checkpoint, error) {
	cp, err := p.store.Load(ctx)
	switch {
	case errors.Is(err, checkpoint.ErrNoCheckpoint):
		p.log.Info("no checkpoint found, starting fresh")
		return checkpoint.New(p.opts.SourceID), nil
	case err != nil:
		return nil, fmt.Errorf("load checkpoint: %w", err)
	case cp.SourceIdentifier != p.opts.SourceID:
		p.log.Warn("checkpoint belongs to a different source, starting fresh",
			"checkpoint_source", cp.SourceIdentifier)
		return checkpoint.New(p.opts.SourceID), nil
	}
	p.log.Info("resuming from checkpoint",
		"resume_from", cp.ResumeOffset(), "completed_ranges", len(cp.CompletedRanges),
		"failed_batches", cp.FailedBatchCount, "previous_run", cp.RunID)
	return cp, nil
}

type produceResult struct {
	exhausted bool
	total     int64
	read      int64
	err       error
}

// execute runs the producer and the writer pool and applies their results to
// the checkpoint until both are done.
func (p *Pipeline) execute(ctx context.Context, src RecordSource, cp *checkpoint.Checkpoint, sum *Summary) error {
	runCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)
	drainCtx, shutdownComplete := p.setupDrainContext(runCtx)
	defer close(shutdownComplete)

	queue := make(chan models.Batch, p.opts.QueueSize)
	results := make(chan BatchResult, p.writers.Workers())
	produced := make(chan produceResult, 1)

	go func(out chan<- models.Batch, done chan<- produceResult) {
		done <- p.produce(runCtx, src, cp.ResumeOffset(), out)
	}(queue, produced)
	go func(in <-chan models.Batch, out chan<- BatchResult) {
		p.writers.Run(runCtx, drainCtx, in, out)
		close(out)
	}(queue, results)

	var (
		fatal     error
		prod      *produceResult
		sinceSave int
		resultsIn = (<-chan BatchResult)(results)
		prodIn    = (<-chan produceResult)(produced)
		stop      = runCtx.Done()
	)
	for resultsIn != nil {
		select {
		case pr := <-prodIn:
			prod, prodIn = &pr, nil
			if pr.err != nil {
				fatal = pr.err
				abort(pr.err)
			} else if pr.exhausted {
				p.setState(StateDraining, sum)
			}

		case res, ok := <-resultsIn:
			if !ok {
				resultsIn = nil
				continue
			}
			p.apply(cp, res, sum)
			if res.Abandoned {
				continue
			}
			sinceSave++
			if sinceSave >= p.opts.CheckpointInterval && fatal == nil {
				sinceSave = 0
				if err := p.persist(cp); err != nil {
					fatal = err
					abort(err)
				}
			}

		case <-stop:
			stop = nil
			if fatal == nil {
				p.setState(StateInterrupted, sum)
				p.log.Warn("interrupted, draining in-flight batches", "grace", p.opts.DrainTimeout)
			}
		}
	}
	if prod == nil {
		pr := <-prodIn
		prod = &pr
		if pr.err != nil && fatal == nil {
			fatal = pr.err
		}
	}

	sum.RecordsRead = prod.read
	if prod.exhausted {
		cp.SetTotal(prod.total)
	}
	cp.Completed = cp.IsComplete()

	if err := p.persist(cp); err != nil {
		if fatal == nil {
			fatal = err
		} else {
			p.log.Error("final checkpoint write failed", "error", err)
		}
	}
	return fatal
}

// produce reads, transforms and batches records onto queue, blocking when
// the queue is full. It stops at the first cancellation.
func (p *Pipeline) produce(ctx context.Context, src RecordSource, start int64, queue chan<- models.Batch) (res produceResult) {
	defer close(queue)
	batcher := NewBatcher(p.opts.BatchSize, start)

	for {
		if ctx.Err() != nil {
			return res
		}
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() == nil {
				res.err = err
			}
			return res
		}
		res.read++
		p.metrics.AddRecordsRead(1)

		doc := p.transformer.Transform(rec)
		if batch, ok := batcher.Add(doc); ok {
			if !p.enqueue(ctx, queue, batch) {
				return res
			}
		}
	}

	if batch, ok := batcher.Flush(src.Position()); ok {
		if !p.enqueue(ctx, queue, batch) {
			return res
		}
	}
	res.exhausted = true
	res.total = src.Position()
	return res
}

func (p *Pipeline) enqueue(ctx context.Context, queue chan<- models.Batch, batch models.Batch) bool {
	select {
	case queue <- batch:
		p.metrics.SetQueueDepth(len(queue))
		return true
	case <-ctx.Done():
		return false
	}
}

// apply folds one batch result into the checkpoint and the summary.
func (p *Pipeline) apply(cp *checkpoint.Checkpoint, res BatchResult, sum *Summary) {
	if res.Abandoned {
		sum.AbandonedBatches++
		return
	}

	indexed := res.Count(OutcomeIndexed)
	rejected := res.Count(OutcomeRejected)
	failed := res.Count(OutcomeTransportFailed)
	sum.DocumentsIndexed += int64(indexed)
	sum.DocumentsRejected += int64(rejected)
	sum.DocumentsFailed += int64(failed)

	if res.Failed() {
		cp.FailedBatchCount++
		sum.FailedBatches++
		p.log.Error("batch failed after retries",
			"batch", res.Seq, "start", res.Start, "end", res.End,
			"attempts", res.Attempts, "failed_documents", failed, "error", res.Err)
		return
	}

	cp.MarkCompleted(res.Start, res.End)
	cp.SuccessfulBatches++
	cp.ProcessedRecords += int64(indexed + rejected)
	sum.SuccessfulBatches++
	p.metrics.SetHighestContiguous(cp.ResumeOffset())
}

// persist saves the checkpoint, retrying once before giving up. It uses a
// context detached from cancellation so the final write after an interrupt
// still happens.
func (p *Pipeline) persist(cp *checkpoint.Checkpoint) error {
	cp.LastUpdated = time.Now().UTC()
	cp.PropertyTypes = p.transformer.Registry().Snapshot()

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = p.store.Save(ctx, cp)
		cancel()
		if err == nil {
			p.metrics.IncCheckpointWrites("ok")
			p.log.Debug("checkpoint saved", "resume_from", cp.ResumeOffset(), "completed_ranges", len(cp.CompletedRanges))
			return nil
		}
		p.metrics.IncCheckpointWrites("error")
		p.log.Warn("checkpoint write failed", "attempt", attempt+1, "error", err)
	}
	return fmt.Errorf("%w: %v", ErrCheckpointPersist, err)
}

// setupDrainContext returns a context for in-flight writes. It outlives ctx
// by at most DrainTimeout, then is cancelled with a cause. Closing the
// returned channel releases it once the pipeline is done.
func (p *Pipeline) setupDrainContext(ctx context.Context) (context.Context, chan struct{}) {
	drainCtx, drainCancel := context.WithCancelCause(context.WithoutCancel(ctx))
	shutdownComplete := make(chan struct{})
	timeout := p.opts.DrainTimeout

	go func() {
		select {
		case <-ctx.Done():
			if timeout <= 0 {
				drainCancel(context.Cause(ctx))
				return
			}
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			select {
			case <-timer.C:
				drainCancel(fmt.Errorf("drain timeout expired after %v", timeout))
			case <-shutdownComplete:
				drainCancel(nil)
			}
		case <-shutdownComplete:
			drainCancel(nil)
		}
	}()
	return drainCtx, shutdownComplete
}
