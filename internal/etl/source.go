package etl

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/BartekS5/bulkmigrate/internal/metrics"
	"github.com/BartekS5/bulkmigrate/pkg/models"
)

// SourceOptions describes the layout of a delimited source.
type SourceOptions struct {
	Delimiter     rune
	IDColumn      string
	PayloadColumn string
}

// CSVSource streams records from a delimited file with a header row.
type CSVSource struct {
	location  string
	closers   []io.Closer
	reader    *csv.Reader
	header    *models.Header
	pos       int64
	skipped   int64
	anomalies *AnomalyLog
	metrics   *metrics.Metrics
}

// OpenSource opens location and positions the cursor at resumeFrom by
// re-parsing and discarding the records before it. Byte offsets are never
// used: quoted fields may span lines, so only a parse can find record
// boundaries.
func OpenSource(ctx context.Context, location string, opts SourceOptions, resumeFrom int64, anomalies *AnomalyLog, m *metrics.Metrics) (*CSVSource, error) {
	r, closers, err := openMedium(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnreadable, location, err)
	}

	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}

	names, err := reader.Read()
	if err != nil {
		closeAll(closers)
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s: missing header row", ErrSourceUnreadable, location)
		}
		return nil, fmt.Errorf("%w: %s: read header: %v", ErrSourceUnreadable, location, err)
	}
	if len(names) > 0 {
		names[0] = strings.TrimPrefix(names[0], "\ufeff")
	}
	header := models.NewHeader(names)
	for _, col := range []string{opts.IDColumn, opts.PayloadColumn} {
		if !header.Has(col) {
			closeAll(closers)
			return nil, fmt.Errorf("%w: %s: required column %q not in header", ErrSourceUnreadable, location, col)
		}
	}
	reader.FieldsPerRecord = len(names)

	s := &CSVSource{
		location:  location,
		closers:   closers,
		reader:    reader,
		header:    header,
		anomalies: anomalies,
		metrics:   m,
	}

	for s.pos < resumeFrom {
		_, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var pe *csv.ParseError
		if err != nil && !errors.As(err, &pe) {
			s.Close()
			return nil, fmt.Errorf("%w: %s: skip to record %d: %v", ErrSourceUnreadable, location, resumeFrom, err)
		}
		s.pos++
	}
	if s.pos < resumeFrom {
		slog.Warn("source ended before the resume offset", "source", location, "resume_from", resumeFrom, "records", s.pos)
	}
	return s, nil
}

// Next returns the next well-formed record. Malformed rows are skipped,
// counted and logged; they still consume a sequence index.
func (s *CSVSource) Next() (models.RawRecord, error) {
	for {
		values, err := s.reader.Read()
		if errors.Is(err, io.EOF) {
			return models.RawRecord{}, io.EOF
		}
		idx := s.pos
		if err != nil {
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				return models.RawRecord{}, fmt.Errorf("%w: %s at record %d: %v", ErrSourceUnreadable, s.location, idx, err)
			}
			s.pos++
			s.skipped++
			s.metrics.IncRecordsSkipped()
			if s.anomalies != nil {
				s.anomalies.Record(Anomaly{
					Kind:   AnomalyRecordMalformed,
					Index:  idx,
					Detail: fmt.Sprintf("%v: line %d: %v", ErrRecordMalformed, pe.StartLine, pe.Err),
				})
			}
			continue
		}
		s.pos++
		return models.RawRecord{Index: idx, Header: s.header, Values: values}, nil
	}
}

func (s *CSVSource) Position() int64 { return s.pos }

func (s *CSVSource) Skipped() int64 { return s.skipped }

func (s *CSVSource) Header() *models.Header { return s.header }

func (s *CSVSource) Close() error {
	err := closeAll(s.closers)
	s.closers = nil
	return err
}

// CSVOpener binds OpenSource to a location for the pipeline.
func CSVOpener(location string, opts SourceOptions, anomalies *AnomalyLog, m *metrics.Metrics) SourceOpener {
	return func(ctx context.Context, resumeFrom int64) (RecordSource, error) {
		return OpenSource(ctx, location, opts, resumeFrom, anomalies, m)
	}
}
