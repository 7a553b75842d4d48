package etl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BartekS5/bulkmigrate/internal/metrics"
	"github.com/BartekS5/bulkmigrate/pkg/logger"
	"github.com/BartekS5/bulkmigrate/pkg/models"
	"golang.org/x/sync/errgroup"
)

// Outcome is the final state of one document in a batch.
type Outcome int

const (
	OutcomeIndexed Outcome = iota + 1
	OutcomeRejected
	OutcomeTransportFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIndexed:
		return "indexed"
	case OutcomeRejected:
		return "rejected"
	case OutcomeTransportFailed:
		return "transport_failed"
	default:
		return "pending"
	}
}

// DocumentOutcome is the write result for one document.
type DocumentOutcome struct {
	ID      string
	Index   int64
	Outcome Outcome
	Reason  string
}

// BatchResult is reported to the pipeline for every batch taken off the queue.
type BatchResult struct {
	Seq       int64
	Start     int64
	End       int64
	Documents []DocumentOutcome
	Attempts  int
	Duration  time.Duration
	// Err is the last transport error when the batch failed.
	Err error
	// Abandoned batches were dequeued after cancellation, or cut off when the
	// drain deadline expired. They leave a gap but do not count as failed.
	Abandoned bool
}

// Failed reports whether any document ran out of transport retries.
func (r BatchResult) Failed() bool {
	return r.Count(OutcomeTransportFailed) > 0
}

// Count returns the number of documents with outcome o.
func (r BatchResult) Count(o Outcome) int {
	n := 0
	for _, d := range r.Documents {
		if d.Outcome == o {
			n++
		}
	}
	return n
}

// WriterOptions configures the writer pool.
type WriterOptions struct {
	Workers        int
	MaxAttempts    int
	Backoff        time.Duration
	BackoffMax     time.Duration
	RequestTimeout time.Duration
}

// WriterPool sends batches to the sink with bounded concurrency.
type WriterPool struct {
	sink      Sink
	opts      WriterOptions
	validator *Validator
	anomalies *AnomalyLog
	metrics   *metrics.Metrics
	log       *slog.Logger
}

func NewWriterPool(sink Sink, opts WriterOptions, validator *Validator, anomalies *AnomalyLog, m *metrics.Metrics) *WriterPool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	return &WriterPool{
		sink:      sink,
		opts:      opts,
		validator: validator,
		anomalies: anomalies,
		metrics:   m,
		log:       logger.Component("writer"),
	}
}

// Sink returns the sink the pool writes to.
func (p *WriterPool) Sink() Sink { return p.sink }

// Workers returns the number of concurrent writers.
func (p *WriterPool) Workers() int { return p.opts.Workers }

// Run starts the workers and blocks until queue is closed and drained.
// Cancelling ctx stops workers from starting new batches; batches already
// being written continue on drainCtx. Every dequeued batch produces exactly
// one result.
func (p *WriterPool) Run(ctx, drainCtx context.Context, queue <-chan models.Batch, results chan<- BatchResult) {
	var g errgroup.Group
	for w := 0; w < p.opts.Workers; w++ {
		log := logger.WorkerLogger("writer", w)
		g.Go(func() error {
			for batch := range queue {
				p.metrics.SetQueueDepth(len(queue))
				if ctx.Err() != nil {
					results <- BatchResult{Seq: batch.Seq, Start: batch.Start, End: batch.End, Abandoned: true}
					continue
				}
				p.metrics.AddInFlight(1)
				res := p.Write(drainCtx, batch)
				p.metrics.AddInFlight(-1)
				if res.Failed() && drainCtx.Err() != nil {
					// Cut off by the drain deadline, not by retry exhaustion.
					res.Abandoned = true
				}
				log.Debug("batch written",
					"batch", batch.Seq, "start", batch.Start, "end", batch.End,
					"indexed", res.Count(OutcomeIndexed), "rejected", res.Count(OutcomeRejected),
					"failed", res.Count(OutcomeTransportFailed), "attempts", res.Attempts)
				results <- res
			}
			return nil
		})
	}
	g.Wait()
}

// Write sends one batch, retrying whole-request transport failures and
// per-item not-attempted results with exponential backoff. Only items
// without a final outcome are resent.
func (p *WriterPool) Write(ctx context.Context, batch models.Batch) BatchResult {
	start := time.Now()
	res := BatchResult{Seq: batch.Seq, Start: batch.Start, End: batch.End}
	outcomes := make([]DocumentOutcome, len(batch.Documents))
	items := make([]BulkItem, len(batch.Documents))
	pending := make([]int, 0, len(batch.Documents))

	for i := range batch.Documents {
		doc := &batch.Documents[i]
		outcomes[i] = DocumentOutcome{ID: doc.ID, Index: doc.Index}
		if err := p.validator.ValidateDocument(doc); err != nil {
			p.reject(&outcomes[i], err.Error())
			continue
		}
		items[i] = BulkItem{ID: doc.ID, Body: doc.Body()}
		pending = append(pending, i)
	}

	var (
		lastErr error
		cause   string
	)
	for attempt := 0; len(pending) > 0 && attempt < p.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			p.metrics.IncRetryAttempts(cause)
			p.log.Warn("retrying batch",
				"batch", batch.Seq, "start", batch.Start, "end", batch.End,
				"attempt", attempt+1, "items", len(pending), "cause", cause, "error", lastErr)
			if err := p.sleep(ctx, attempt); err != nil {
				lastErr = err
				break
			}
		}
		res.Attempts++

		send := make([]BulkItem, len(pending))
		for j, i := range pending {
			send[j] = items[i]
		}

		reqCtx, cancel := context.WithTimeout(ctx, p.opts.RequestTimeout)
		itemResults, err := p.sink.BulkUpsert(reqCtx, send)
		cancel()
		if err == nil && len(itemResults) != len(send) {
			err = fmt.Errorf("sink returned %d results for %d items", len(itemResults), len(send))
		}
		if err != nil {
			lastErr, cause = err, "transport"
			if IsPermanent(err) || ctx.Err() != nil {
				break
			}
			continue
		}

		var retry []int
		for j, r := range itemResults {
			i := pending[j]
			switch r.Status {
			case ItemIndexed:
				outcomes[i].Outcome = OutcomeIndexed
			case ItemRejected:
				p.reject(&outcomes[i], r.Reason)
			default:
				outcomes[i].Reason = r.Reason
				retry = append(retry, i)
			}
		}
		if len(retry) > 0 {
			lastErr, cause = fmt.Errorf("%d items not attempted by sink", len(retry)), "not_attempted"
		}
		pending = retry
	}

	for _, i := range pending {
		outcomes[i].Outcome = OutcomeTransportFailed
		if lastErr != nil {
			outcomes[i].Reason = lastErr.Error()
		}
	}
	if len(pending) > 0 {
		res.Err = lastErr
	}

	res.Documents = outcomes
	res.Duration = time.Since(start)

	p.metrics.AddDocuments(OutcomeIndexed.String(), res.Count(OutcomeIndexed))
	p.metrics.AddDocuments(OutcomeRejected.String(), res.Count(OutcomeRejected))
	p.metrics.AddDocuments(OutcomeTransportFailed.String(), res.Count(OutcomeTransportFailed))
	result := "completed"
	if res.Failed() {
		result = "failed"
	}
	p.metrics.ObserveBatch(result, len(batch.Documents), res.Duration)
	return res
}

func (p *WriterPool) reject(o *DocumentOutcome, reason string) {
	o.Outcome = OutcomeRejected
	o.Reason = reason
	if p.anomalies != nil {
		p.anomalies.Record(Anomaly{Kind: AnomalyDocumentRejected, Index: o.Index, DocumentID: o.ID, Detail: reason})
	}
}

// sleep waits backoff * 2^(attempt-1), capped, returning early on cancellation.
func (p *WriterPool) sleep(ctx context.Context, attempt int) error {
	d := p.opts.Backoff << (attempt - 1)
	if p.opts.BackoffMax > 0 && (d > p.opts.BackoffMax || d <= 0) {
		d = p.opts.BackoffMax
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
