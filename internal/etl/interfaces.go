package etl

import (
	"context"
	"errors"

	"github.com/BartekS5/bulkmigrate/pkg/models"
)

var (
	// ErrSourceUnreadable is fatal: the source cannot be opened or read.
	ErrSourceUnreadable = errors.New("source unreadable")
	// ErrRecordMalformed marks a single row that could not be parsed; the row is skipped.
	ErrRecordMalformed = errors.New("record malformed")
	// ErrSinkUnreachable is fatal when the sink does not answer at startup.
	ErrSinkUnreachable = errors.New("sink unreachable")
	// ErrCheckpointPersist is fatal: the checkpoint could not be saved after a retry.
	ErrCheckpointPersist = errors.New("checkpoint persist failed")
)

// RecordSource yields raw records in source order.
type RecordSource interface {
	// Next returns the next well-formed record, or io.EOF when exhausted.
	Next() (models.RawRecord, error)
	// Position is the sequence index of the next record to be read.
	Position() int64
	// Skipped counts malformed records skipped so far.
	Skipped() int64
	Close() error
}

// SourceOpener opens a source positioned at resumeFrom.
type SourceOpener func(ctx context.Context, resumeFrom int64) (RecordSource, error)

// BulkItem is one document addressed by its stable identifier.
type BulkItem struct {
	ID   string
	Body map[string]any
}

// ItemStatus is the per-item result reported by a sink.
type ItemStatus int

const (
	ItemIndexed ItemStatus = iota + 1
	ItemRejected
	ItemNotAttempted
)

// ItemResult reports what happened to one BulkItem.
type ItemResult struct {
	Status ItemStatus
	Reason string
}

// Sink accepts batches of upserts keyed by document identifier.
type Sink interface {
	// Ping checks the sink is reachable.
	Ping(ctx context.Context) error
	// BulkUpsert writes items and returns one result per item, in order.
	// An error means the whole request failed and nothing can be assumed
	// about any item; wrap it with Permanent when retrying cannot help.
	BulkUpsert(ctx context.Context, items []BulkItem) ([]ItemResult, error)
	Close(ctx context.Context) error
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a whole-request sink error as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
