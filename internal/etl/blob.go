package etl

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
)

// openMedium opens a source location: a local path, or a file://, s3:// or
// gs:// object URL. Compressed objects are decoded by extension.
func openMedium(ctx context.Context, location string) (io.Reader, []io.Closer, error) {
	var (
		raw     io.Reader
		closers []io.Closer
	)

	if !strings.Contains(location, "://") {
		f, err := os.Open(location)
		if err != nil {
			return nil, nil, err
		}
		raw, closers = f, []io.Closer{f}
	} else {
		bucketURL, key, err := splitObjectURL(location)
		if err != nil {
			return nil, nil, err
		}
		bucket, err := blob.OpenBucket(ctx, bucketURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
		}
		r, err := bucket.NewReader(ctx, key, nil)
		if err != nil {
			bucket.Close()
			return nil, nil, fmt.Errorf("open object %s: %w", key, err)
		}
		// Close the reader before the bucket.
		raw, closers = r, []io.Closer{r, bucket}
	}

	switch strings.ToLower(path.Ext(objectName(location))) {
	case ".gz", ".gzip":
		zr, err := gzip.NewReader(raw)
		if err != nil {
			closeAll(closers)
			return nil, nil, fmt.Errorf("open gzip stream: %w", err)
		}
		return zr, append([]io.Closer{zr}, closers...), nil
	case ".zst", ".zstd":
		zr, err := zstd.NewReader(raw, zstd.WithDecoderConcurrency(1))
		if err != nil {
			closeAll(closers)
			return nil, nil, fmt.Errorf("open zstd stream: %w", err)
		}
		return zr, append([]io.Closer{zr.IOReadCloser()}, closers...), nil
	default:
		return raw, closers, nil
	}
}

// splitObjectURL turns s3://bucket/dir/file.csv?region=x into the bucket URL
// s3://bucket?region=x and the key dir/file.csv. For file:// URLs the bucket
// is the containing directory.
func splitObjectURL(location string) (string, string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", fmt.Errorf("parse source URL: %w", err)
	}
	switch u.Scheme {
	case "file":
		dir, key := path.Split(u.Path)
		if key == "" {
			return "", "", fmt.Errorf("source URL %q names a directory", location)
		}
		return "file://" + strings.TrimSuffix(dir, "/"), key, nil
	case "s3", "gs":
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return "", "", fmt.Errorf("source URL %q must name a bucket and an object", location)
		}
		bucketURL := u.Scheme + "://" + u.Host
		if u.RawQuery != "" {
			bucketURL += "?" + u.RawQuery
		}
		return bucketURL, key, nil
	default:
		return "", "", fmt.Errorf("unsupported source URL scheme %q", u.Scheme)
	}
}

func objectName(location string) string {
	if i := strings.IndexAny(location, "?#"); i >= 0 && strings.Contains(location, "://") {
		location = location[:i]
	}
	return location
}

func closeAll(closers []io.Closer) error {
	var first error
	for _, c := range closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
