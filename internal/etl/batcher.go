package etl

import "github.com/BartekS5/bulkmigrate/pkg/models"

// Batcher groups documents into batches of a fixed size. Batch ranges are
// contiguous: each batch starts where the previous one ended, so indices of
// skipped records are covered by the batch that follows them.
type Batcher struct {
	size  int
	start int64
	seq   int64
	docs  []models.Document
}

// NewBatcher returns a batcher whose first batch starts at source index start.
func NewBatcher(size int, start int64) *Batcher {
	if size <= 0 {
		size = 1
	}
	return &Batcher{size: size, start: start}
}

// Add appends doc and returns a full batch when the size is reached.
func (b *Batcher) Add(doc models.Document) (models.Batch, bool) {
	b.docs = append(b.docs, doc)
	if len(b.docs) < b.size {
		return models.Batch{}, false
	}
	return b.emit(doc.Index + 1), true
}

// Flush emits the remaining documents with a range ending at end, the
// source position after exhaustion. The batch may hold no documents when
// only skipped records remain, so their indices still get completed.
func (b *Batcher) Flush(end int64) (models.Batch, bool) {
	if len(b.docs) == 0 && end <= b.start {
		return models.Batch{}, false
	}
	if n := len(b.docs); n > 0 && end <= b.docs[n-1].Index {
		end = b.docs[n-1].Index + 1
	}
	return b.emit(end), true
}

// Pending returns the number of buffered documents.
func (b *Batcher) Pending() int {
	return len(b.docs)
}

func (b *Batcher) emit(end int64) models.Batch {
	batch := models.Batch{
		Seq:       b.seq,
		Start:     b.start,
		End:       end,
		Documents: b.docs,
	}
	b.seq++
	b.start = end
	b.docs = make([]models.Document, 0, b.size)
	return batch
}
