package etl

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

const sampleCSV = "\ufefftoken_id,name,raw_metadata\n" +
	"1,One,\"{\"\"tier\"\":1}\"\n" +
	"2,Two\n" +
	"3,\"Three\nlines\",\"{}\"\n" +
	"4,Four,\n"

var sampleOpts = SourceOptions{Delimiter: ',', IDColumn: "token_id", PayloadColumn: "raw_metadata"}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func readAll(t *testing.T, src RecordSource) []int64 {
	t.Helper()
	var indices []int64
	for {
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			return indices
		}
		require.NoError(t, err)
		indices = append(indices, rec.Index)
	}
}

func TestSourceSkipsMalformedRecords(t *testing.T) {
	path := writeFile(t, "orders.csv", sampleCSV)
	anomalies := NewAnomalyLog(nil, nil)

	src, err := OpenSource(context.Background(), path, sampleOpts, 0, anomalies, nil)
	require.NoError(t, err)
	defer src.Close()

	rec, err := src.Next()
	require.NoError(t, err)
	require.Equal(t, int64(0), rec.Index)
	require.Equal(t, "1", rec.Value("token_id"))
	require.Equal(t, `{"tier":1}`, rec.Value("raw_metadata"))

	require.Equal(t, []int64{2, 3}, readAll(t, src))
	require.Equal(t, int64(4), src.Position())
	require.Equal(t, int64(1), src.Skipped())
	require.Equal(t, int64(1), anomalies.Count(AnomalyRecordMalformed))
}

func TestSourceResumesByIndex(t *testing.T) {
	path := writeFile(t, "orders.csv", sampleCSV)

	src, err := OpenSource(context.Background(), path, sampleOpts, 2, nil, nil)
	require.NoError(t, err)
	defer src.Close()

	rec, err := src.Next()
	require.NoError(t, err)
	require.Equal(t, int64(2), rec.Index)
	require.Equal(t, "Three\nlines", rec.Value("name"))
}

func TestSourceResumePastEnd(t *testing.T) {
	path := writeFile(t, "orders.csv", sampleCSV)

	src, err := OpenSource(context.Background(), path, sampleOpts, 50, nil, nil)
	require.NoError(t, err)
	defer src.Close()

	_, err = src.Next()
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, int64(4), src.Position())
}

func TestSourceRequiresColumns(t *testing.T) {
	path := writeFile(t, "orders.csv", "id,name\n1,x\n")

	_, err := OpenSource(context.Background(), path, sampleOpts, 0, nil, nil)
	require.ErrorIs(t, err, ErrSourceUnreadable)
	require.Contains(t, err.Error(), "token_id")
}

func TestSourceUnreadable(t *testing.T) {
	_, err := OpenSource(context.Background(), filepath.Join(t.TempDir(), "missing.csv"), sampleOpts, 0, nil, nil)
	require.ErrorIs(t, err, ErrSourceUnreadable)

	empty := writeFile(t, "empty.csv", "")
	_, err = OpenSource(context.Background(), empty, sampleOpts, 0, nil, nil)
	require.ErrorIs(t, err, ErrSourceUnreadable)
}

func TestSourceGzipObjectURL(t *testing.T) {
	dir := t.TempDir()
	f, err := os.Create(filepath.Join(dir, "orders.csv.gz"))
	require.NoError(t, err)
	zw := gzip.NewWriter(f)
	_, err = zw.Write([]byte(sampleCSV))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	src, err := OpenSource(context.Background(), "file://"+filepath.ToSlash(dir)+"/orders.csv.gz", sampleOpts, 0, nil, nil)
	require.NoError(t, err)
	defer src.Close()

	require.Equal(t, []int64{0, 2, 3}, readAll(t, src))
}

func TestSplitObjectURL(t *testing.T) {
	bucket, key, err := splitObjectURL("s3://exports/2024/orders.csv.gz?region=eu-west-1")
	require.NoError(t, err)
	require.Equal(t, "s3://exports?region=eu-west-1", bucket)
	require.Equal(t, "2024/orders.csv.gz", key)

	_, _, err = splitObjectURL("ftp://host/orders.csv")
	require.Error(t, err)

	_, _, err = splitObjectURL("gs://bucket-only")
	require.Error(t, err)
}
